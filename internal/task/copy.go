package task

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zFlqwovo/CloudPaste-sub005/internal/storage"
)

// CopyItemSpec is one entry of a copy job's payload, spec §4.G copy
// handler.
type CopyItemSpec struct {
	SourcePath string `json:"sourcePath"`
	TargetPath string `json:"targetPath"`
}

// CopyOptions is the copy handler's payload options, spec §4.G.
type CopyOptions struct {
	SkipExisting   bool         `json:"skipExisting,omitempty"`
	MaxConcurrency int          `json:"maxConcurrency,omitempty"`
	RetryPolicy    *RetryPolicy `json:"retryPolicy,omitempty"`
}

// CopyPayload is the copy handler's full payload shape.
type CopyPayload struct {
	Items   []CopyItemSpec `json:"items"`
	Options CopyOptions    `json:"options"`
}

// restrictedPrescanConcurrency / defaultPrescanConcurrency are the two
// heuristics spec §4.G step 2 and §9 name as tunable; this deployment
// has no edge-runtime backend so RestrictedRuntime is never actually
// flipped true, but both constants are kept so the handler's behavior
// matches the spec exactly if a caller does flip it.
const (
	restrictedPrescanConcurrency = 6
	defaultPrescanConcurrency    = 10
	restrictedProgressStep       = 5 * 1024 * 1024 // 5 MiB floor, spec §4.G step 3
	defaultProgressInterval      = 500 * time.Millisecond
)

// CopyHandler implements the copy task type, spec §4.G "Copy handler".
// Grounded on the teacher's level3/raid3 backends' errgroup.WithContext
// fan-out pattern for the parallel size pre-scan.
type CopyHandler struct {
	restrictedRuntime bool
}

// NewCopyHandler builds the copy handler. restrictedRuntime switches
// the two §9 heuristics to their edge-runtime variant.
func NewCopyHandler(restrictedRuntime bool) *CopyHandler {
	return &CopyHandler{restrictedRuntime: restrictedRuntime}
}

func (h *CopyHandler) TaskType() string { return "copy" }

func (h *CopyHandler) Validate(payload []byte) error {
	var p CopyPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("copy: invalid payload json: %w", err)
	}
	if len(p.Items) == 0 {
		return fmt.Errorf("copy: items must be non-empty")
	}
	for i, item := range p.Items {
		if strings.TrimSpace(item.SourcePath) == "" || strings.TrimSpace(item.TargetPath) == "" {
			return fmt.Errorf("copy: item %d has an empty sourcePath or targetPath", i)
		}
	}
	return nil
}

func (h *CopyHandler) CreateStatsTemplate(payload []byte) (Stats, error) {
	var p CopyPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return Stats{}, err
	}
	results := make(map[string]ItemResult, len(p.Items))
	for i := range p.Items {
		results[strconv.Itoa(i)] = ItemResult{Status: "pending"}
	}
	return Stats{TotalItems: len(p.Items), ItemResults: results}, nil
}

func (h *CopyHandler) Execute(ctx context.Context, job *Record, ec ExecutionContext) error {
	var payload CopyPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("copy: invalid payload json: %w", err)
	}

	policy := DefaultRetryPolicy()
	if payload.Options.RetryPolicy != nil {
		policy = *payload.Options.RetryPolicy
	}

	sizes := h.prescan(ctx, ec, payload.Items)
	var totalBytes int64
	results := make(map[string]ItemResult, len(payload.Items))
	for i, item := range payload.Items {
		size := sizes[i]
		totalBytes += size
		results[strconv.Itoa(i)] = ItemResult{Status: "pending", FileSize: size}
	}
	stats := Stats{TotalItems: len(payload.Items), TotalBytes: totalBytes, ItemResults: results}
	if err := ec.UpdateProgress(ctx, job.ID, stats); err != nil {
		return err
	}

	fs := ec.FileSystem()
	principal := ec.Principal()
	var committedBytes int64

	for i, item := range payload.Items {
		cancelled, err := ec.IsCancelled(ctx, job.ID)
		if err != nil {
			return err
		}
		if cancelled {
			break
		}

		key := strconv.Itoa(i)
		progressStep := sizes[i] / 5
		if progressStep < restrictedProgressStep {
			progressStep = restrictedProgressStep
		}
		throttle := newProgressThrottler(h.restrictedRuntime, progressStep, defaultProgressInterval, func(bytes int64) {
			_ = ec.UpdateProgress(ctx, job.ID, Stats{BytesTransferred: committedBytes + bytes})
		})

		var lastErr error
		var retryCount int
		outcome := "failed"
		var transferred int64

		for attempt := 0; attempt <= policy.Limit; attempt++ {
			if attempt > 0 {
				retryCount = attempt
				time.Sleep(policy.sleepDuration(attempt))
			}

			result, err := fs.CopyItem(ctx, item.SourcePath, item.TargetPath, principal, storage.CopyOptions{
				SkipExisting: payload.Options.SkipExisting,
				OnProgress: func(bytesTransferred int64) {
					throttle.report(bytesTransferred)
				},
			})
			if err == nil {
				switch result.Status {
				case storage.CopySkipped:
					outcome = "skipped"
				default:
					outcome = "success"
					transferred = result.ContentLength
				}
				lastErr = nil
				break
			}

			lastErr = err
			if !classify(err) || attempt == policy.Limit {
				outcome = "failed"
				break
			}
		}

		ir := ItemResult{Status: outcome, FileSize: sizes[i], RetryCount: retryCount}
		if lastErr != nil {
			ir.Error = lastErr.Error()
		}
		if outcome == "success" {
			ir.BytesTransferred = transferred
		}

		partial := Stats{ProcessedItems: 1, ItemResults: map[string]ItemResult{key: ir}}
		switch outcome {
		case "success":
			partial.SuccessCount = 1
			committedBytes += transferred
			partial.BytesTransferred = committedBytes
		case "skipped":
			partial.SkippedCount = 1
		default:
			partial.FailedCount = 1
		}
		if err := ec.UpdateProgress(ctx, job.ID, partial); err != nil {
			return err
		}
	}

	return nil
}

// prescan sizes every item in parallel, spec §4.G step 2: concurrency
// 6 in a restricted runtime, 10 otherwise; entries with a trailing
// "/" (directories) are skipped and reported as size 0.
func (h *CopyHandler) prescan(ctx context.Context, ec ExecutionContext, items []CopyItemSpec) map[int]int64 {
	concurrency := defaultPrescanConcurrency
	if h.restrictedRuntime {
		concurrency = restrictedPrescanConcurrency
	}

	sizes := make(map[int]int64, len(items))
	var mu sync.Mutex
	g, gCtx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, concurrency)

	for i, item := range items {
		i, item := i, item
		if strings.HasSuffix(item.SourcePath, "/") {
			sizes[i] = 0
			continue
		}
		g.Go(func() error {
			sem <- struct{}{}
			defer func() { <-sem }()
			info, err := ec.FileSystem().GetFileInfo(gCtx, item.SourcePath, ec.Principal(), storage.GetOptions{})
			if err != nil {
				// sizing failures don't abort the job; the item
				// itself will surface the real error during copy.
				return nil
			}
			mu.Lock()
			sizes[i] = info.Size
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return sizes
}

// progressThrottler implements spec §4.G step 4b's onProgress
// throttling: byte-step crossings in a restricted runtime, a fixed
// wall-clock interval otherwise.
type progressThrottler struct {
	restricted   bool
	step         int64
	interval     time.Duration
	emit         func(int64)
	mu           sync.Mutex
	lastBytes    int64
	lastEmitTime time.Time
}

func newProgressThrottler(restricted bool, step int64, interval time.Duration, emit func(int64)) *progressThrottler {
	return &progressThrottler{restricted: restricted, step: step, interval: interval, emit: emit}
}

func (t *progressThrottler) report(bytes int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	if t.restricted {
		if bytes-t.lastBytes < t.step {
			return
		}
	} else if now.Sub(t.lastEmitTime) < t.interval {
		return
	}
	t.lastBytes = bytes
	t.lastEmitTime = now
	t.emit(bytes)
}
