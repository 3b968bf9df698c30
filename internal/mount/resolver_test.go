package mount

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/zFlqwovo/CloudPaste-sub005/internal/dircache"
	"github.com/zFlqwovo/CloudPaste-sub005/internal/model"
	"github.com/zFlqwovo/CloudPaste-sub005/internal/perm"
	"github.com/zFlqwovo/CloudPaste-sub005/internal/storage"
	"github.com/zFlqwovo/CloudPaste-sub005/internal/storage/drivers/local"
)

type fakeStore struct {
	mounts  []model.StorageMount
	configs map[string]*model.StorageConfig
	acl     map[string]bool // "<principalID>:<storageConfigID>" -> admitted
}

func (s *fakeStore) ActiveMounts(ctx context.Context) ([]model.StorageMount, error) {
	return s.mounts, nil
}

func (s *fakeStore) StorageConfig(ctx context.Context, id string) (*model.StorageConfig, error) {
	return s.configs[id], nil
}

func (s *fakeStore) ACLAdmits(ctx context.Context, principal perm.Principal, storageConfigID string) (bool, error) {
	return s.acl[principal.ID+":"+storageConfigID], nil
}

func (s *fakeStore) FsMetaFor(ctx context.Context, virtualPath string) (*model.FsMeta, error) {
	return nil, nil
}

func newStoreWithLocalMount(t *testing.T, mountPath string) (*fakeStore, *storage.Factory) {
	t.Helper()
	cfgBlob, _ := json.Marshal(local.Config{RootDir: t.TempDir()})
	factory := storage.NewFactory()
	local.Register(factory)

	store := &fakeStore{
		configs: map[string]*model.StorageConfig{
			"cfg-1": {ID: "cfg-1", Kind: model.DriverLocal, ConfigBlob: cfgBlob, IsPublic: true},
		},
		mounts: []model.StorageMount{
			{ID: "mount-1", StorageConfigID: "cfg-1", MountPath: mountPath, IsActive: true, SortOrder: 0, CreatedAt: time.Unix(0, 0)},
		},
		acl: map[string]bool{},
	}
	return store, factory
}

func TestResolveFindsLongestPrefixMount(t *testing.T) {
	store, factory := newStoreWithLocalMount(t, "/docs")
	r := New(store, factory, nil)

	resolved, err := r.Resolve(context.Background(), "/docs/sub/file.txt", perm.NewAdminPrincipal("admin-1"))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.Mount.ID != "mount-1" || resolved.SubPath != "/sub/file.txt" {
		t.Fatalf("unexpected resolution: %+v", resolved)
	}
}

func TestResolveTieBreaksOnSortOrderThenCreatedAt(t *testing.T) {
	cfgBlob, _ := json.Marshal(local.Config{RootDir: t.TempDir()})
	factory := storage.NewFactory()
	local.Register(factory)

	store := &fakeStore{
		configs: map[string]*model.StorageConfig{
			"cfg-a": {ID: "cfg-a", Kind: model.DriverLocal, ConfigBlob: cfgBlob, IsPublic: true},
			"cfg-b": {ID: "cfg-b", Kind: model.DriverLocal, ConfigBlob: cfgBlob, IsPublic: true},
		},
		mounts: []model.StorageMount{
			{ID: "mount-a", StorageConfigID: "cfg-a", MountPath: "/docs", IsActive: true, SortOrder: 5, CreatedAt: time.Unix(100, 0)},
			{ID: "mount-b", StorageConfigID: "cfg-b", MountPath: "/docs", IsActive: true, SortOrder: 1, CreatedAt: time.Unix(200, 0)},
		},
	}
	r := New(store, factory, nil)

	resolved, err := r.Resolve(context.Background(), "/docs/file.txt", perm.NewAdminPrincipal("admin-1"))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.Mount.ID != "mount-b" {
		t.Fatalf("expected lower sort_order mount-b to win, got %s", resolved.Mount.ID)
	}
}

func TestResolveRejectsPrivateConfigWithoutACL(t *testing.T) {
	cfgBlob, _ := json.Marshal(local.Config{RootDir: t.TempDir()})
	factory := storage.NewFactory()
	local.Register(factory)

	store := &fakeStore{
		configs: map[string]*model.StorageConfig{
			"cfg-1": {ID: "cfg-1", Kind: model.DriverLocal, ConfigBlob: cfgBlob, IsPublic: false},
		},
		mounts: []model.StorageMount{
			{ID: "mount-1", StorageConfigID: "cfg-1", MountPath: "/docs", IsActive: true},
		},
		acl: map[string]bool{},
	}
	r := New(store, factory, nil)

	apiKeyPrincipal := perm.NewAPIKeyPrincipal("key-1", perm.MountView, "/", "GENERAL")
	if _, err := r.Resolve(context.Background(), "/docs/file.txt", apiKeyPrincipal); err == nil {
		t.Fatalf("expected ACL rejection for private storage config")
	}
}

func TestResolveAdmitsACLGrantedAPIKey(t *testing.T) {
	store, factory := newStoreWithLocalMount(t, "/docs")
	store.configs["cfg-1"].IsPublic = false
	store.acl["key-1:cfg-1"] = true
	r := New(store, factory, nil)

	apiKeyPrincipal := perm.NewAPIKeyPrincipal("key-1", perm.MountView, "/", "GENERAL")
	if _, err := r.Resolve(context.Background(), "/docs/file.txt", apiKeyPrincipal); err != nil {
		t.Fatalf("expected ACL-admitted key to resolve, got %v", err)
	}
}

func TestResolveMemoizesDriverPerStorageConfig(t *testing.T) {
	store, factory := newStoreWithLocalMount(t, "/docs")
	r := New(store, factory, nil)

	r1, err := r.Resolve(context.Background(), "/docs/a.txt", perm.NewAdminPrincipal("admin-1"))
	if err != nil {
		t.Fatal(err)
	}
	r2, err := r.Resolve(context.Background(), "/docs/b.txt", perm.NewAdminPrincipal("admin-1"))
	if err != nil {
		t.Fatal(err)
	}
	if r1.Driver != r2.Driver {
		t.Fatalf("expected memoized driver instance to be reused")
	}
}

func TestResolveNoMountReturnsNotFound(t *testing.T) {
	store, factory := newStoreWithLocalMount(t, "/docs")
	r := New(store, factory, nil)

	if _, err := r.Resolve(context.Background(), "/other/file.txt", perm.NewAdminPrincipal("admin-1")); err == nil {
		t.Fatalf("expected not-found error for an uncovered path")
	}
}

func TestResolveAncestorOfMountsReturnsVirtualDirectoryError(t *testing.T) {
	cfgBlob, _ := json.Marshal(local.Config{RootDir: t.TempDir()})
	factory := storage.NewFactory()
	local.Register(factory)

	store := &fakeStore{
		configs: map[string]*model.StorageConfig{
			"cfg-1": {ID: "cfg-1", Kind: model.DriverLocal, ConfigBlob: cfgBlob, IsPublic: true},
			"cfg-2": {ID: "cfg-2", Kind: model.DriverLocal, ConfigBlob: cfgBlob, IsPublic: true},
		},
		mounts: []model.StorageMount{
			{ID: "m1", StorageConfigID: "cfg-1", MountPath: "/team/docs", IsActive: true},
			{ID: "m2", StorageConfigID: "cfg-2", MountPath: "/team/media", IsActive: true},
		},
		acl: map[string]bool{},
	}
	r := New(store, factory, nil)

	_, err := r.Resolve(context.Background(), "/team", perm.NewAdminPrincipal("admin-1"))
	var verr *VirtualDirectoryError
	if !errors.As(err, &verr) {
		t.Fatalf("expected a *VirtualDirectoryError, got %v", err)
	}
	if !verr.Listing.IsVirtual || len(verr.Listing.Items) != 2 {
		t.Fatalf("unexpected synthesized listing: %+v", verr.Listing)
	}
}

func TestVirtualDirectorySynthesizesChildSegments(t *testing.T) {
	mounts := []model.StorageMount{
		{ID: "m1", MountPath: "/team/docs", IsActive: true},
		{ID: "m2", MountPath: "/team/media", IsActive: true},
	}
	listing := VirtualDirectory(mounts, "/team")
	if !listing.IsVirtual || len(listing.Items) != 2 {
		t.Fatalf("unexpected virtual listing: %+v", listing)
	}
}

func TestInvalidateStorageConfigDropsMemo(t *testing.T) {
	store, factory := newStoreWithLocalMount(t, "/docs")
	r := New(store, factory, nil)
	_, _ = r.Resolve(context.Background(), "/docs/a.txt", perm.NewAdminPrincipal("admin-1"))

	r.InvalidateStorageConfig("cfg-1")
	if _, ok := r.memo["cfg-1"]; ok {
		t.Fatalf("expected memo entry to be cleared")
	}
}

func TestWireInvalidationDropsMemoOnStorageConfigEvent(t *testing.T) {
	store, factory := newStoreWithLocalMount(t, "/docs")
	r := New(store, factory, nil)
	_, _ = r.Resolve(context.Background(), "/docs/a.txt", perm.NewAdminPrincipal("admin-1"))

	cache := dircache.New(dircache.DefaultMaxEntries, dircache.DefaultTTL, dircache.DefaultPrunePercentage)
	bus := dircache.NewBus(cache, r, nil)
	WireInvalidation(r, bus)

	bus.Publish(dircache.InvalidateEvent{StorageConfigID: "cfg-1"})

	if _, ok := r.memo["cfg-1"]; ok {
		t.Fatalf("expected WireInvalidation's subscriber to clear the memo on a storage-config event")
	}
}
