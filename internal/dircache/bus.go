package dircache

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Target selects which cache family an invalidation event targets.
type Target string

const (
	TargetFS      Target = "fs"
	TargetPreview Target = "preview"
)

// MaxSubscribers is the subscriber cap from spec §4.B.
const MaxSubscribers = 50

// InvalidateEvent is the payload published on the cache.invalidate
// channel, spec §4.B.
type InvalidateEvent struct {
	Target            Target
	MountID           string
	Paths             []string
	StorageConfigID   string
	Reason            string
	InvalidateAll     bool
	BumpMountsVersion bool
}

// Listener receives invalidation events. A panicking or erroring
// listener must never block its peers (spec §4.B failure semantics).
type Listener func(InvalidateEvent)

// MountResolver is the narrow collaborator the bus needs to expand a
// storageConfigId into the mounts bound to it (spec §4.B).
type MountResolver interface {
	MountsForStorageConfig(storageConfigID string) []string
}

// Bus is the single process-wide pub/sub used to broadcast
// invalidation events to the directory cache and any other dependent
// cache (search cache, signed-link cache, preview settings cache).
type Bus struct {
	mu            sync.RWMutex
	listeners     []Listener
	cache         *Cache
	resolver      MountResolver
	mountsVersion int64
	log           *logrus.Entry

	// panicWarnLimiter throttles the panic-warning log line so a
	// listener that panics on every event (e.g. a stuck search-cache
	// subscriber) cannot flood the log; it never drops the panic
	// recovery itself, only how often notify logs about it.
	panicWarnLimiter *rate.Limiter
}

// NewBus wires a Bus to the directory Cache it invalidates directly.
// resolver may be nil until the Mount Resolver is constructed; it is
// consulted lazily at publish time.
func NewBus(cache *Cache, resolver MountResolver, log *logrus.Entry) *Bus {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Bus{cache: cache, resolver: resolver, log: log, panicWarnLimiter: rate.NewLimiter(rate.Every(time.Second), 1)}
}

// SetResolver wires the Mount Resolver after construction, breaking
// the initialization cycle between the cache bus and the resolver
// (the resolver needs the bus to clear its driver memo; the bus needs
// the resolver to expand storageConfigId into mounts).
func (b *Bus) SetResolver(r MountResolver) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resolver = r
}

// Subscribe registers a listener, returning false if the subscriber
// cap has been reached.
func (b *Bus) Subscribe(l Listener) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.listeners) >= MaxSubscribers {
		return false
	}
	b.listeners = append(b.listeners, l)
	return true
}

// MountsVersion returns the monotonic epoch bumped by
// bumpMountsVersion events.
func (b *Bus) MountsVersion() int64 {
	return atomic.LoadInt64(&b.mountsVersion)
}

// Publish delivers ev to the directory cache and every listener,
// spec §4.B semantics.
func (b *Bus) Publish(ev InvalidateEvent) {
	if ev.InvalidateAll {
		b.cache.InvalidateAll()
		b.notify(ev)
		return
	}

	switch ev.Target {
	case TargetFS:
		b.applyFS(ev)
	case TargetPreview:
		// handled entirely by listeners (preview settings cache is a
		// collaborator outside this component)
	}

	if ev.StorageConfigID != "" && b.resolver != nil {
		for _, mountID := range b.resolver.MountsForStorageConfig(ev.StorageConfigID) {
			b.applyFS(InvalidateEvent{Target: TargetFS, MountID: mountID, Paths: ev.Paths})
		}
	}

	if ev.BumpMountsVersion {
		atomic.AddInt64(&b.mountsVersion, 1)
	}

	b.notify(ev)
}

func (b *Bus) applyFS(ev InvalidateEvent) {
	if ev.MountID == "" {
		return
	}
	if len(ev.Paths) == 0 {
		b.cache.InvalidateMount(ev.MountID)
		return
	}
	for _, p := range ev.Paths {
		b.cache.InvalidatePathAndAncestors(ev.MountID, p)
	}
}

// notify fans ev out to every subscriber, catching panics so one bad
// listener never blocks its peers. Events from one producer are
// delivered in issue order to each listener because Publish is
// called synchronously by that producer and each listener is invoked
// in subscription order on the same goroutine.
func (b *Bus) notify(ev InvalidateEvent) {
	b.mu.RLock()
	listeners := make([]Listener, len(b.listeners))
	copy(listeners, b.listeners)
	b.mu.RUnlock()

	for _, l := range listeners {
		b.safeCall(l, ev)
	}
}

func (b *Bus) safeCall(l Listener, ev InvalidateEvent) {
	defer func() {
		if r := recover(); r != nil && b.panicWarnLimiter.Allow() {
			b.log.WithField("panic", r).Warn("cache bus listener panicked, dropping")
		}
	}()
	l(ev)
}
