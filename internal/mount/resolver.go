// Package mount implements the Mount Resolver: mapping a virtual path
// onto (driver instance, mount record, sub-path), with drivers
// memoized per storage_config_id the way the teacher's fs/cache
// package memoizes an fs.Fs per canonical path string (see its
// GetFn/Get functions and the mockNewFs-driven cache_test.go).
package mount

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/zFlqwovo/CloudPaste-sub005/internal/apperr"
	"github.com/zFlqwovo/CloudPaste-sub005/internal/dircache"
	"github.com/zFlqwovo/CloudPaste-sub005/internal/model"
	"github.com/zFlqwovo/CloudPaste-sub005/internal/perm"
	"github.com/zFlqwovo/CloudPaste-sub005/internal/secret"
	"github.com/zFlqwovo/CloudPaste-sub005/internal/storage"
)

// Store is the narrow persistence collaborator the Resolver needs;
// concrete implementations live behind a database package out of this
// component's scope.
type Store interface {
	ActiveMounts(ctx context.Context) ([]model.StorageMount, error)
	StorageConfig(ctx context.Context, id string) (*model.StorageConfig, error)
	ACLAdmits(ctx context.Context, principal perm.Principal, storageConfigID string) (bool, error)
	FsMetaFor(ctx context.Context, virtualPath string) (*model.FsMeta, error)
}

// Resolved is what Resolve returns, spec §4.D.
type Resolved struct {
	Driver  storage.Driver
	Mount   model.StorageMount
	SubPath string
}

// Resolver implements dircache.MountResolver and the Mount Resolver's
// Resolve operation.
type Resolver struct {
	store   Store
	factory *storage.Factory
	box     *secret.Box

	mu   sync.Mutex
	memo map[string]storage.Driver // storage_config_id -> driver
}

// New builds a Resolver over store, using factory to materialize
// drivers and box to decrypt each StorageConfig's secret fields.
func New(store Store, factory *storage.Factory, box *secret.Box) *Resolver {
	return &Resolver{
		store:   store,
		factory: factory,
		box:     box,
		memo:    make(map[string]storage.Driver),
	}
}

// MountsForStorageConfig satisfies dircache.MountResolver: it reports
// every active mount currently bound to storageConfigID, so the Cache
// Bus can fan a config-scoped invalidation out to the mounts it backs.
func (r *Resolver) MountsForStorageConfig(storageConfigID string) []string {
	ctx := context.Background()
	mounts, err := r.store.ActiveMounts(ctx)
	if err != nil {
		return nil
	}
	var ids []string
	for _, m := range mounts {
		if m.StorageConfigID == storageConfigID {
			ids = append(ids, m.ID)
		}
	}
	return ids
}

// InvalidateStorageConfig drops the memoized driver for id, forcing
// the next Resolve to rebuild it from a fresh StorageConfig read.
// Wired to the Cache Bus's storageConfigId-scoped events.
func (r *Resolver) InvalidateStorageConfig(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.memo, id)
}

// WireInvalidation subscribes the Resolver to bus so that any event
// naming a StorageConfigID drops that config's memoized driver,
// closing the loop the Cache Bus's own SetResolver half opens: the
// bus asks the resolver which mounts a config backs, and the resolver
// asks the bus to tell it when that config changed.
func WireInvalidation(r *Resolver, bus *dircache.Bus) {
	bus.Subscribe(func(ev dircache.InvalidateEvent) {
		if ev.StorageConfigID != "" {
			r.InvalidateStorageConfig(ev.StorageConfigID)
		}
	})
}

// Resolve finds the active mount owning virtualPath and returns its
// driver, mount record and the sub-path within that mount, per spec
// §4.D's longest-mount-path-prefix algorithm.
func (r *Resolver) Resolve(ctx context.Context, virtualPath string, principal perm.Principal) (*Resolved, error) {
	clean := normalize(virtualPath)
	mounts, err := r.store.ActiveMounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("mount: loading active mounts: %w", err)
	}

	best, ok := longestPrefixMatch(mounts, clean)
	if !ok {
		if virtual := VirtualDirectory(mounts, clean); len(virtual.Items) > 0 {
			return nil, &VirtualDirectoryError{Listing: virtual}
		}
		return nil, apperr.NotFound("MOUNT.NOT_FOUND", fmt.Sprintf("no mount covers path %q", virtualPath))
	}

	cfg, err := r.store.StorageConfig(ctx, best.StorageConfigID)
	if err != nil {
		return nil, fmt.Errorf("mount: loading storage config %q: %w", best.StorageConfigID, err)
	}

	if principal.Kind == perm.KindAPIKey && !cfg.IsPublic {
		admitted, err := r.store.ACLAdmits(ctx, principal, cfg.ID)
		if err != nil {
			return nil, fmt.Errorf("mount: checking ACL for %q: %w", cfg.ID, err)
		}
		if !admitted {
			return nil, apperr.Authorization("MOUNT.FORBIDDEN", "this API key has no access to the storage backing this mount")
		}
	}

	driver, err := r.driverFor(cfg)
	if err != nil {
		return nil, err
	}

	sub := strings.TrimPrefix(clean, normalize(best.MountPath))
	sub = "/" + strings.TrimPrefix(sub, "/")

	return &Resolved{Driver: driver, Mount: best, SubPath: sub}, nil
}

// driverFor returns the memoized driver for cfg, constructing and
// caching one on first use.
func (r *Resolver) driverFor(cfg *model.StorageConfig) (storage.Driver, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if d, ok := r.memo[cfg.ID]; ok {
		return d, nil
	}

	configBlob := cfg.ConfigBlob
	if r.box != nil {
		if decrypted, err := r.box.Open(string(cfg.ConfigBlob)); err == nil {
			configBlob = decrypted
		}
		// A config blob that isn't one of our sealed envelopes (e.g.
		// plaintext in a dev environment) is passed through as-is.
	}

	driver, err := r.factory.Build(cfg.Kind, configBlob)
	if err != nil {
		return nil, fmt.Errorf("mount: building %s driver for config %q: %w", cfg.Kind, cfg.ID, err)
	}
	r.memo[cfg.ID] = driver
	return driver, nil
}

// longestPrefixMatch implements spec §4.D's tie-break rule: among
// active mounts whose mount_path is an ancestor-or-equal of target,
// prefer the longest mount_path, then lower sort_order, then earlier
// created_at.
func longestPrefixMatch(mounts []model.StorageMount, target string) (model.StorageMount, bool) {
	var candidates []model.StorageMount
	for _, m := range mounts {
		if !m.IsActive {
			continue
		}
		mp := normalize(m.MountPath)
		if isAncestorOrEqual(mp, target) {
			candidates = append(candidates, m)
		}
	}
	if len(candidates) == 0 {
		return model.StorageMount{}, false
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		li, lj := len(normalize(candidates[i].MountPath)), len(normalize(candidates[j].MountPath))
		if li != lj {
			return li > lj
		}
		if candidates[i].SortOrder != candidates[j].SortOrder {
			return candidates[i].SortOrder < candidates[j].SortOrder
		}
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})
	return candidates[0], true
}

// VirtualDirectoryError is what Resolve returns for a virtualPath that
// no mount covers directly but that is a strict ancestor of one or
// more mount_paths, spec §4.D's synthesized-listing case. Listing is
// the directory the caller should return instead of treating this as
// a miss.
type VirtualDirectoryError struct {
	Listing *storage.Listing
}

func (e *VirtualDirectoryError) Error() string {
	return fmt.Sprintf("mount: %q is a virtual ancestor directory, not a mount", e.Listing.Path)
}

// VirtualDirectory synthesizes the listing for a path that is an
// ancestor of one or more mount_paths but not itself a mount: its
// children are the next path segment of each such mount, deduplicated.
func VirtualDirectory(mounts []model.StorageMount, target string) *storage.Listing {
	clean := normalize(target)
	seen := map[string]bool{}
	var items []storage.FileInfo
	for _, m := range mounts {
		if !m.IsActive {
			continue
		}
		mp := normalize(m.MountPath)
		if mp == clean || !isAncestorOrEqual(clean, mp) {
			continue
		}
		rest := strings.TrimPrefix(strings.TrimPrefix(mp, clean), "/")
		if rest == "" {
			continue
		}
		segment := rest
		if idx := strings.Index(rest, "/"); idx >= 0 {
			segment = rest[:idx]
		}
		if seen[segment] {
			continue
		}
		seen[segment] = true
		items = append(items, storage.FileInfo{Name: segment, IsDirectory: true})
	}
	return &storage.Listing{Path: clean, Type: "directory", IsVirtual: true, IsRoot: clean == "/", Items: items}
}

func isAncestorOrEqual(ancestor, target string) bool {
	if ancestor == "/" {
		return true
	}
	if ancestor == target {
		return true
	}
	return strings.HasPrefix(target, ancestor+"/")
}

func normalize(p string) string {
	if p == "" {
		return "/"
	}
	cleaned := path.Clean("/" + p)
	return cleaned
}
