package task

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/zFlqwovo/CloudPaste-sub005/internal/perm"
	"github.com/zFlqwovo/CloudPaste-sub005/internal/storage"
)

type fakeFS struct {
	infos    map[string]*storage.FileInfo
	mu       sync.Mutex
	attempts map[string]int
	copyFn   func(src, tgt string, attempt int) (*storage.CopyResult, error)
}

func (f *fakeFS) GetFileInfo(ctx context.Context, virtualPath string, principal perm.Principal, opts storage.GetOptions) (*storage.FileInfo, error) {
	if info, ok := f.infos[virtualPath]; ok {
		return info, nil
	}
	return &storage.FileInfo{}, nil
}

func (f *fakeFS) CopyItem(ctx context.Context, src, tgt string, principal perm.Principal, opts storage.CopyOptions) (*storage.CopyResult, error) {
	f.mu.Lock()
	f.attempts[src]++
	attempt := f.attempts[src]
	f.mu.Unlock()
	result, err := f.copyFn(src, tgt, attempt)
	if err == nil && opts.OnProgress != nil {
		opts.OnProgress(result.ContentLength)
	}
	return result, err
}

type fakeExecContext struct {
	fs        FileSystem
	mu        sync.Mutex
	stats     Stats
	cancelled bool
}

func newFakeExecContext(fs FileSystem) *fakeExecContext {
	return &fakeExecContext{fs: fs}
}

func (e *fakeExecContext) IsCancelled(ctx context.Context, jobID string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cancelled, nil
}

func (e *fakeExecContext) UpdateProgress(ctx context.Context, jobID string, partial Stats) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stats = mergeStats(e.stats, partial)
	return nil
}

func (e *fakeExecContext) FileSystem() FileSystem    { return e.fs }
func (e *fakeExecContext) Env() map[string]string    { return map[string]string{} }
func (e *fakeExecContext) Principal() perm.Principal { return perm.NewAdminPrincipal("job-runner") }

func TestCopyHandlerValidateRejectsEmptyItems(t *testing.T) {
	h := NewCopyHandler(false)
	payload, _ := json.Marshal(CopyPayload{})
	if err := h.Validate(payload); err == nil {
		t.Fatalf("expected empty items to be rejected")
	}
}

// TestCopyHandlerRetriesThenSucceeds reproduces spec scenario 5: a
// single 10 MiB item whose first attempt fails with ECONNRESET and
// whose second attempt succeeds.
func TestCopyHandlerRetriesThenSucceeds(t *testing.T) {
	const size = 10 * 1024 * 1024
	fs := &fakeFS{
		infos:    map[string]*storage.FileInfo{"/a.bin": {Size: size}},
		attempts: map[string]int{},
		copyFn: func(src, tgt string, attempt int) (*storage.CopyResult, error) {
			if attempt == 1 {
				return nil, errors.New("read tcp: ECONNRESET")
			}
			return &storage.CopyResult{Status: storage.CopySuccess, ContentLength: size}, nil
		},
	}
	ec := newFakeExecContext(fs)

	payload, _ := json.Marshal(CopyPayload{
		Items:   []CopyItemSpec{{SourcePath: "/a.bin", TargetPath: "/b.bin"}},
		Options: CopyOptions{RetryPolicy: &RetryPolicy{Limit: 3, Delay: 0, Backoff: BackoffExponential}},
	})
	job := &Record{ID: "copy-test", TaskType: "copy", Payload: payload}

	h := NewCopyHandler(false)
	if err := h.Execute(context.Background(), job, ec); err != nil {
		t.Fatalf("execute: %v", err)
	}

	ec.mu.Lock()
	defer ec.mu.Unlock()
	if ec.stats.SuccessCount != 1 {
		t.Fatalf("expected successCount=1, got %+v", ec.stats)
	}
	item := ec.stats.ItemResults["0"]
	if item.Status != "success" {
		t.Fatalf("expected item 0 to succeed, got %+v", item)
	}
	if item.RetryCount != 1 {
		t.Fatalf("expected retryCount=1, got %d", item.RetryCount)
	}
	if item.BytesTransferred != size {
		t.Fatalf("expected bytesTransferred=%d, got %d", size, item.BytesTransferred)
	}
}

func TestCopyHandlerTerminalErrorStopsRetrying(t *testing.T) {
	fs := &fakeFS{
		infos:    map[string]*storage.FileInfo{"/a.bin": {Size: 10}},
		attempts: map[string]int{},
		copyFn: func(src, tgt string, attempt int) (*storage.CopyResult, error) {
			return nil, WithHTTPStatus(errors.New("forbidden"), 403)
		},
	}
	ec := newFakeExecContext(fs)
	payload, _ := json.Marshal(CopyPayload{
		Items:   []CopyItemSpec{{SourcePath: "/a.bin", TargetPath: "/b.bin"}},
		Options: CopyOptions{RetryPolicy: &RetryPolicy{Limit: 3, Delay: 0}},
	})
	job := &Record{ID: "copy-test-2", TaskType: "copy", Payload: payload}

	h := NewCopyHandler(false)
	if err := h.Execute(context.Background(), job, ec); err != nil {
		t.Fatalf("execute: %v", err)
	}

	ec.mu.Lock()
	defer ec.mu.Unlock()
	if fs.attempts["/a.bin"] != 1 {
		t.Fatalf("expected exactly 1 attempt for a terminal error, got %d", fs.attempts["/a.bin"])
	}
	if ec.stats.FailedCount != 1 {
		t.Fatalf("expected failedCount=1, got %+v", ec.stats)
	}
}

// TestCopyHandlerMultiItemStatsAccumulate reproduces a job with more
// than one item and asserts spec §8's invariant
// successCount+failedCount+skippedCount == processedItems holds
// against the store-level merge, not just the in-handler totals.
func TestCopyHandlerMultiItemStatsAccumulate(t *testing.T) {
	fs := &fakeFS{
		infos:    map[string]*storage.FileInfo{"/a": {Size: 10}, "/b": {Size: 10}, "/c": {Size: 10}},
		attempts: map[string]int{},
		copyFn: func(src, tgt string, attempt int) (*storage.CopyResult, error) {
			if src == "/b" {
				return nil, WithHTTPStatus(errors.New("forbidden"), 403)
			}
			return &storage.CopyResult{Status: storage.CopySuccess, ContentLength: 10}, nil
		},
	}
	ec := newFakeExecContext(fs)
	payload, _ := json.Marshal(CopyPayload{Items: []CopyItemSpec{
		{SourcePath: "/a", TargetPath: "/a2"},
		{SourcePath: "/b", TargetPath: "/b2"},
		{SourcePath: "/c", TargetPath: "/c2"},
	}})
	job := &Record{ID: "copy-test-multi", TaskType: "copy", Payload: payload}

	h := NewCopyHandler(false)
	if err := h.Execute(context.Background(), job, ec); err != nil {
		t.Fatalf("execute: %v", err)
	}

	ec.mu.Lock()
	defer ec.mu.Unlock()
	if ec.stats.ProcessedItems != 3 {
		t.Fatalf("expected processedItems=3, got %+v", ec.stats)
	}
	if ec.stats.SuccessCount != 2 || ec.stats.FailedCount != 1 {
		t.Fatalf("expected successCount=2 failedCount=1, got %+v", ec.stats)
	}
	if got, want := ec.stats.SuccessCount+ec.stats.FailedCount+ec.stats.SkippedCount, ec.stats.ProcessedItems; got != want {
		t.Fatalf("invariant successCount+failedCount+skippedCount==processedItems violated: %d != %d", got, want)
	}
}

func TestCopyHandlerSkipsCancelledItems(t *testing.T) {
	fs := &fakeFS{infos: map[string]*storage.FileInfo{}, attempts: map[string]int{},
		copyFn: func(src, tgt string, attempt int) (*storage.CopyResult, error) {
			return &storage.CopyResult{Status: storage.CopySuccess}, nil
		}}
	ec := newFakeExecContext(fs)
	ec.cancelled = true

	payload, _ := json.Marshal(CopyPayload{Items: []CopyItemSpec{{SourcePath: "/a", TargetPath: "/b"}}})
	job := &Record{ID: "copy-test-3", TaskType: "copy", Payload: payload}

	h := NewCopyHandler(false)
	if err := h.Execute(context.Background(), job, ec); err != nil {
		t.Fatal(err)
	}
	if fs.attempts["/a"] != 0 {
		t.Fatalf("expected cancellation to prevent any copy attempt, got %d", fs.attempts["/a"])
	}
}
