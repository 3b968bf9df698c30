// Package fsfacade implements the Filesystem Facade of spec §4.F:
// composing the Mount Resolver, a storage Driver, and the Cache Bus
// behind one narrow operation set, with directory listings cached and
// every mutation followed by a cache-invalidation publish. Grounded
// on the teacher's fs/operations package's shape (thin orchestration
// atop an fs.Fs, one function per verb) though that package ships
// only as tests in the retrieval pack; the wiring pattern here follows
// what fs/cache_test.go and fs/rc/jobs/job_test.go reveal of how the
// teacher composes cache + resolver + execution.
package fsfacade

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/zFlqwovo/CloudPaste-sub005/internal/apperr"
	"github.com/zFlqwovo/CloudPaste-sub005/internal/dircache"
	"github.com/zFlqwovo/CloudPaste-sub005/internal/model"
	"github.com/zFlqwovo/CloudPaste-sub005/internal/mount"
	"github.com/zFlqwovo/CloudPaste-sub005/internal/perm"
	"github.com/zFlqwovo/CloudPaste-sub005/internal/storage"
)

// MetaStore resolves the fs_meta overlay inherited at a given path.
type MetaStore interface {
	FsMetaFor(ctx context.Context, virtualPath string) (*model.FsMeta, error)
}

// Facade composes a Resolver, a directory Cache, a Cache Bus, an
// fs_meta overlay source, and the policy Table into the single
// operation surface callers use. Every method authorizes the caller
// against the relevant policy and audits the decision before it ever
// touches the resolver or a driver, spec §4.A step 2-7.
type Facade struct {
	resolver *mount.Resolver
	cache    *dircache.Cache
	bus      *dircache.Bus
	meta     MetaStore
	policies perm.Table
	log      *logrus.Entry
}

// New builds a Facade from its collaborators. policies defaults to
// perm.NewTable() when nil; log defaults to the standard logger.
func New(resolver *mount.Resolver, cache *dircache.Cache, bus *dircache.Bus, meta MetaStore, policies perm.Table, log *logrus.Entry) *Facade {
	if policies == nil {
		policies = perm.NewTable()
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Facade{resolver: resolver, cache: cache, bus: bus, meta: meta, policies: policies, log: log}
}

// authorize evaluates policyID against principal and targetPaths,
// audits the decision (spec §4.A step 7), and translates a denial into
// the matching apperr kind. A policy id absent from the table allows
// unconditionally, since that policy simply isn't enforced here.
func (f *Facade) authorize(principal perm.Principal, policyID, method string, targetPaths ...string) error {
	policy := f.policies[policyID]
	if policy == nil {
		return nil
	}
	decision := perm.Authorize(principal, policy, targetPaths)
	status := http.StatusOK
	if !decision.Allowed {
		if decision.Reason == perm.ReasonUnauthenticated {
			status = http.StatusUnauthorized
		} else {
			status = http.StatusForbidden
		}
	}
	perm.Audit(f.log, principal, decision, method, strings.Join(targetPaths, ","), status)
	if !decision.Allowed {
		if decision.Reason == perm.ReasonUnauthenticated {
			return apperr.Authentication("AUTH.REQUIRED", decision.Message)
		}
		return apperr.Authorization("AUTH.DENIED", decision.Message)
	}
	return nil
}

func requireReader(d storage.Driver) (storage.Reader, error) {
	r, ok := d.(storage.Reader)
	if !ok {
		return nil, storage.ErrNotImplemented(string(d.Kind()), "read")
	}
	return r, nil
}

func requireWriter(d storage.Driver) (storage.Writer, error) {
	w, ok := d.(storage.Writer)
	if !ok {
		return nil, storage.ErrNotImplemented(string(d.Kind()), "write")
	}
	return w, nil
}

func requireAtomic(d storage.Driver) (storage.Atomic, error) {
	a, ok := d.(storage.Atomic)
	if !ok {
		return nil, storage.ErrNotImplemented(string(d.Kind()), "atomic rename/copy")
	}
	return a, nil
}

// ListDirectory consults the directory cache under the mount's TTL
// before calling the driver, then applies the fs_meta overlay nearest
// to virtualPath: hide-regex filtering only. The overlay's header and
// footer markdown are not attached to the returned listing.
func (f *Facade) ListDirectory(ctx context.Context, virtualPath string, principal perm.Principal, opts storage.ListOptions) (*storage.Listing, error) {
	if err := f.authorize(principal, "fs.read", "ListDirectory", virtualPath); err != nil {
		return nil, err
	}
	resolved, err := f.resolver.Resolve(ctx, virtualPath, principal)
	if err != nil {
		var verr *mount.VirtualDirectoryError
		if errors.As(err, &verr) {
			return verr.Listing, nil
		}
		return nil, err
	}
	reader, err := requireReader(resolved.Driver)
	if err != nil {
		return nil, err
	}

	if cached, ok := f.cache.Get(resolved.Mount.ID, resolved.SubPath); ok {
		var listing storage.Listing
		if err := json.Unmarshal(cached, &listing); err == nil {
			return &listing, nil
		}
	}

	listing, err := reader.ListDirectory(ctx, resolved.SubPath, opts)
	if err != nil {
		return nil, err
	}
	if err := f.applyMetaOverlay(ctx, virtualPath, listing); err != nil {
		return nil, err
	}

	if encoded, err := json.Marshal(listing); err == nil {
		f.cache.Set(resolved.Mount.ID, resolved.SubPath, encoded, resolved.Mount.CacheTTL)
	}
	return listing, nil
}

// applyMetaOverlay hides entries matching the nearest ancestor's
// hide_regex. It does not copy header/footer markdown onto the listing.
func (f *Facade) applyMetaOverlay(ctx context.Context, virtualPath string, listing *storage.Listing) error {
	if f.meta == nil {
		return nil
	}
	meta, err := f.meta.FsMetaFor(ctx, virtualPath)
	if err != nil || meta == nil {
		return nil
	}
	if len(meta.HideRegex) > 0 {
		filtered := listing.Items[:0]
		for _, item := range listing.Items {
			if !matchesAny(meta.HideRegex, item.Name) {
				filtered = append(filtered, item)
			}
		}
		listing.Items = filtered
	}
	return nil
}

func matchesAny(patterns []string, name string) bool {
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			continue
		}
		if re.MatchString(name) {
			return true
		}
	}
	return false
}

// GetFileInfo resolves the mount and delegates to the driver.
func (f *Facade) GetFileInfo(ctx context.Context, virtualPath string, principal perm.Principal, opts storage.GetOptions) (*storage.FileInfo, error) {
	if err := f.authorize(principal, "fs.read", "GetFileInfo", virtualPath); err != nil {
		return nil, err
	}
	resolved, err := f.resolver.Resolve(ctx, virtualPath, principal)
	if err != nil {
		return nil, err
	}
	reader, err := requireReader(resolved.Driver)
	if err != nil {
		return nil, err
	}
	return reader.GetFileInfo(ctx, resolved.SubPath, opts)
}

// DownloadFile resolves the mount and returns the driver's
// StreamDescriptor; the caller runs it through internal/stream.
func (f *Facade) DownloadFile(ctx context.Context, virtualPath string, principal perm.Principal, opts storage.DownloadOptions) (*storage.StreamDescriptor, error) {
	if err := f.authorize(principal, "fs.read", "DownloadFile", virtualPath); err != nil {
		return nil, err
	}
	resolved, err := f.resolver.Resolve(ctx, virtualPath, principal)
	if err != nil {
		return nil, err
	}
	reader, err := requireReader(resolved.Driver)
	if err != nil {
		return nil, err
	}
	return reader.DownloadFile(ctx, resolved.SubPath, opts)
}

// UploadFile writes through the driver and invalidates the parent
// path chain of virtualPath.
func (f *Facade) UploadFile(ctx context.Context, virtualPath string, source io.Reader, principal perm.Principal, opts storage.UploadOptions) error {
	if err := f.authorize(principal, "fs.upload", "UploadFile", virtualPath); err != nil {
		return err
	}
	resolved, err := f.resolver.Resolve(ctx, virtualPath, principal)
	if err != nil {
		return err
	}
	writer, err := requireWriter(resolved.Driver)
	if err != nil {
		return err
	}
	if err := writer.UploadFile(ctx, resolved.SubPath, source, opts); err != nil {
		return err
	}
	f.invalidateAncestorChain(resolved.Mount.ID, resolved.SubPath, "upload")
	return nil
}

// CreateDirectory creates a directory through the driver and
// invalidates the parent path chain.
func (f *Facade) CreateDirectory(ctx context.Context, virtualPath string, principal perm.Principal, opts storage.Options) error {
	if err := f.authorize(principal, "fs.upload", "CreateDirectory", virtualPath); err != nil {
		return err
	}
	resolved, err := f.resolver.Resolve(ctx, virtualPath, principal)
	if err != nil {
		return err
	}
	writer, err := requireWriter(resolved.Driver)
	if err != nil {
		return err
	}
	if err := writer.CreateDirectory(ctx, resolved.SubPath, opts); err != nil {
		return err
	}
	f.invalidateAncestorChain(resolved.Mount.ID, resolved.SubPath, "mkdir")
	return nil
}

// RenameItem requires ATOMIC on a same-storage rename and invalidates
// both the source and target ancestor chains.
func (f *Facade) RenameItem(ctx context.Context, oldVirtual, newVirtual string, principal perm.Principal, opts storage.Options) error {
	if err := f.authorize(principal, "fs.rename", "RenameItem", oldVirtual, newVirtual); err != nil {
		return err
	}
	oldResolved, err := f.resolver.Resolve(ctx, oldVirtual, principal)
	if err != nil {
		return err
	}
	newResolved, err := f.resolver.Resolve(ctx, newVirtual, principal)
	if err != nil {
		return err
	}
	if oldResolved.Mount.ID != newResolved.Mount.ID {
		return storage.ErrNotImplemented(string(oldResolved.Driver.Kind()), "cross-storage rename")
	}
	atomic, err := requireAtomic(oldResolved.Driver)
	if err != nil {
		return err
	}
	if err := atomic.RenameItem(ctx, oldResolved.SubPath, newResolved.SubPath, opts); err != nil {
		return err
	}
	f.invalidateAncestorChain(oldResolved.Mount.ID, oldResolved.SubPath, "rename")
	f.invalidateAncestorChain(newResolved.Mount.ID, newResolved.SubPath, "rename")
	return nil
}

// CopyItem requires ATOMIC when source and target share a mount;
// cross-storage copies are planned via handleCrossStorageCopy and
// executed by the Task Orchestrator, not here.
func (f *Facade) CopyItem(ctx context.Context, srcVirtual, tgtVirtual string, principal perm.Principal, opts storage.CopyOptions) (*storage.CopyResult, error) {
	if err := f.authorize(principal, "fs.copy", "CopyItem", srcVirtual, tgtVirtual); err != nil {
		return nil, err
	}
	srcResolved, err := f.resolver.Resolve(ctx, srcVirtual, principal)
	if err != nil {
		return nil, err
	}
	tgtResolved, err := f.resolver.Resolve(ctx, tgtVirtual, principal)
	if err != nil {
		return nil, err
	}
	if srcResolved.Mount.ID != tgtResolved.Mount.ID {
		atomic, ok := srcResolved.Driver.(storage.Atomic)
		if !ok {
			return nil, storage.ErrNotImplemented(string(srcResolved.Driver.Kind()), "cross-storage copy planning")
		}
		plan, err := atomic.HandleCrossStorageCopy(ctx, srcResolved.SubPath, tgtResolved.SubPath, opts)
		if err != nil {
			return nil, err
		}
		return &storage.CopyResult{Status: storage.CopySuccess, ContentLength: plan.SourceSize}, nil
	}
	atomic, err := requireAtomic(srcResolved.Driver)
	if err != nil {
		return nil, err
	}
	res, err := atomic.CopyItem(ctx, srcResolved.SubPath, tgtResolved.SubPath, opts)
	if err != nil {
		return nil, err
	}
	f.invalidateAncestorChain(srcResolved.Mount.ID, srcResolved.SubPath, "copy")
	f.invalidateAncestorChain(tgtResolved.Mount.ID, tgtResolved.SubPath, "copy")
	return res, nil
}

// BatchRemoveItems removes every path in a single mount and publishes
// one invalidation event for the whole list.
func (f *Facade) BatchRemoveItems(ctx context.Context, virtualPaths []string, principal perm.Principal, opts storage.Options) (*storage.BatchRemoveResult, error) {
	if len(virtualPaths) == 0 {
		return &storage.BatchRemoveResult{}, nil
	}
	if err := f.authorize(principal, "fs.delete", "BatchRemoveItems", virtualPaths...); err != nil {
		return nil, err
	}
	first, err := f.resolver.Resolve(ctx, virtualPaths[0], principal)
	if err != nil {
		return nil, err
	}
	writer, err := requireWriter(first.Driver)
	if err != nil {
		return nil, err
	}

	subPaths := make([]string, 0, len(virtualPaths))
	for _, vp := range virtualPaths {
		resolved, err := f.resolver.Resolve(ctx, vp, principal)
		if err != nil {
			return nil, err
		}
		subPaths = append(subPaths, resolved.SubPath)
	}

	result, err := writer.BatchRemoveItems(ctx, subPaths, opts)
	if err != nil {
		return nil, err
	}
	f.bus.Publish(dircache.InvalidateEvent{Target: dircache.TargetFS, MountID: first.Mount.ID, Paths: subPaths, Reason: "batch_remove"})
	return result, nil
}

// BatchCopyItems iterates items, delegating each to CopyItem so
// cross-storage items are planned via handleCrossStorageCopy and
// same-storage items copy atomically. Directory sources get a
// trailing slash auto-appended on the target.
func (f *Facade) BatchCopyItems(ctx context.Context, items []storage.CopyItemSpec, principal perm.Principal, opts storage.CopyOptions) (*storage.BatchCopyResult, error) {
	out := &storage.BatchCopyResult{}
	for _, item := range items {
		target := item.TargetPath
		if info, err := f.GetFileInfo(ctx, item.SourcePath, principal, storage.GetOptions{}); err == nil && info.IsDirectory && !strings.HasSuffix(target, "/") {
			target += "/"
		}
		res, err := f.CopyItem(ctx, item.SourcePath, target, principal, opts)
		if err != nil {
			out.Results = append(out.Results, storage.CopyResult{Status: storage.CopyFailed, Error: err.Error()})
			continue
		}
		out.Results = append(out.Results, *res)
	}
	return out, nil
}

// invalidateAncestorChain publishes a best-effort fs-target
// invalidation event for subPath's ancestor chain within mountID.
func (f *Facade) invalidateAncestorChain(mountID, subPath, reason string) {
	f.bus.Publish(dircache.InvalidateEvent{Target: dircache.TargetFS, MountID: mountID, Paths: []string{subPath}, Reason: reason})
}
