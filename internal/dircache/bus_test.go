package dircache

import (
	"testing"
	"time"
)

type fakeResolver struct {
	mounts map[string][]string
}

func (f *fakeResolver) MountsForStorageConfig(id string) []string {
	return f.mounts[id]
}

func TestBusFSTargetInvalidatesAncestors(t *testing.T) {
	cache := New(100, time.Minute, 0.2)
	cache.Set("m1", "/a/b", []byte("x"), 0)
	cache.Set("m1", "/a", []byte("x"), 0)

	bus := NewBus(cache, nil, nil)
	bus.Publish(InvalidateEvent{Target: TargetFS, MountID: "m1", Paths: []string{"/a/b/c"}})

	if _, ok := cache.Get("m1", "/a/b"); ok {
		t.Fatalf("expected /a/b invalidated")
	}
	if _, ok := cache.Get("m1", "/a"); ok {
		t.Fatalf("expected /a invalidated")
	}
}

func TestBusFSTargetEmptyPathsClearsMount(t *testing.T) {
	cache := New(100, time.Minute, 0.2)
	cache.Set("m1", "/a", []byte("x"), 0)
	cache.Set("m2", "/a", []byte("x"), 0)

	bus := NewBus(cache, nil, nil)
	bus.Publish(InvalidateEvent{Target: TargetFS, MountID: "m1"})

	if _, ok := cache.Get("m1", "/a"); ok {
		t.Fatalf("expected m1 cleared")
	}
	if _, ok := cache.Get("m2", "/a"); !ok {
		t.Fatalf("expected m2 untouched")
	}
}

func TestBusStorageConfigFanOut(t *testing.T) {
	cache := New(100, time.Minute, 0.2)
	cache.Set("m1", "/a", []byte("x"), 0)
	cache.Set("m2", "/a", []byte("x"), 0)

	bus := NewBus(cache, &fakeResolver{mounts: map[string][]string{"cfg1": {"m1", "m2"}}}, nil)
	bus.Publish(InvalidateEvent{StorageConfigID: "cfg1", Paths: []string{"/a"}})

	if _, ok := cache.Get("m1", "/a"); ok {
		t.Fatalf("expected m1 invalidated via storage config fan-out")
	}
	if _, ok := cache.Get("m2", "/a"); ok {
		t.Fatalf("expected m2 invalidated via storage config fan-out")
	}
}

func TestBusInvalidateAll(t *testing.T) {
	cache := New(100, time.Minute, 0.2)
	cache.Set("m1", "/a", []byte("x"), 0)
	bus := NewBus(cache, nil, nil)
	bus.Publish(InvalidateEvent{InvalidateAll: true})

	if _, ok := cache.Get("m1", "/a"); ok {
		t.Fatalf("expected all cleared")
	}
}

func TestBusListenerPanicDoesNotBlockPeers(t *testing.T) {
	cache := New(100, time.Minute, 0.2)
	bus := NewBus(cache, nil, nil)

	var secondCalled bool
	bus.Subscribe(func(ev InvalidateEvent) { panic("boom") })
	bus.Subscribe(func(ev InvalidateEvent) { secondCalled = true })

	bus.Publish(InvalidateEvent{Target: TargetFS, MountID: "m1"})

	if !secondCalled {
		t.Fatalf("expected second listener to still run after first panicked")
	}
}

func TestBusSubscriberCap(t *testing.T) {
	cache := New(100, time.Minute, 0.2)
	bus := NewBus(cache, nil, nil)
	ok := true
	for i := 0; i < MaxSubscribers; i++ {
		ok = bus.Subscribe(func(ev InvalidateEvent) {})
	}
	if !ok {
		t.Fatalf("expected subscriptions up to the cap to succeed")
	}
	if bus.Subscribe(func(ev InvalidateEvent) {}) {
		t.Fatalf("expected subscription beyond the cap to fail")
	}
}

func TestBusBumpMountsVersion(t *testing.T) {
	cache := New(100, time.Minute, 0.2)
	bus := NewBus(cache, nil, nil)
	if bus.MountsVersion() != 0 {
		t.Fatalf("expected version to start at 0")
	}
	bus.Publish(InvalidateEvent{BumpMountsVersion: true})
	if bus.MountsVersion() != 1 {
		t.Fatalf("expected version to bump to 1")
	}
}
