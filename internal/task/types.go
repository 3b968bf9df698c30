// Package task implements the Task Orchestrator of spec §4.G: a
// durable job engine persisted to a relational table, with a worker
// pool that claims pending jobs via an immediate-transaction lock and
// runs them through a small Handler registry. Grounded on the
// teacher's fs/rc/jobs package (Job/Jobs lifecycle, ID/Stop/Duration
// shape — shipped only as tests in the retrieval pack, fs/rc/jobs/job_test.go)
// and on backend/sqlite/sqlite_utils.go for the database/sql+sqlite3
// persistence style.
package task

import (
	"context"
	"time"

	"github.com/zFlqwovo/CloudPaste-sub005/internal/perm"
)

// Status is the lifecycle state of a TaskRecord, spec §4.G step 4.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusPartial   Status = "partial"
	StatusCancelled Status = "cancelled"
)

// terminal reports whether s is a state the worker pool will never
// touch again.
func (s Status) terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusPartial, StatusCancelled:
		return true
	}
	return false
}

// ItemResult is the outcome of one payload item, spec §4.G / §8.
type ItemResult struct {
	Status           string `json:"status"`
	FileSize         int64  `json:"fileSize,omitempty"`
	RetryCount       int    `json:"retryCount,omitempty"`
	BytesTransferred int64  `json:"bytesTransferred,omitempty"`
	Error            string `json:"error,omitempty"`
}

// Stats is the aggregate progress record merged by updateProgress and
// used to derive the final status, spec §4.G step 4 and §8.
type Stats struct {
	TotalItems            int                   `json:"totalItems"`
	ProcessedItems        int                   `json:"processedItems"`
	SuccessCount          int                   `json:"successCount"`
	FailedCount           int                   `json:"failedCount"`
	SkippedCount          int                   `json:"skippedCount"`
	TotalBytes            int64                 `json:"totalBytes"`
	BytesTransferred      int64                 `json:"bytesTransferred"`
	ItemResults           map[string]ItemResult `json:"itemResults,omitempty"`
}

// Record is a durable job row, spec §4.G / §6 tasks table.
type Record struct {
	ID          string
	TaskType    string
	UserID      string
	UserType    string
	Status      Status
	Payload     []byte
	Stats       Stats
	Error       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	StartedAt   *time.Time
	FinishedAt  *time.Time
}

// ListFilter narrows listJobs, spec §4.G step 7.
type ListFilter struct {
	Status   Status
	TaskType string
	UserID   string
	Limit    int
	Offset   int
}

// ExecutionContext is what a Handler runs under, spec §4.G step 3.
type ExecutionContext interface {
	IsCancelled(ctx context.Context, jobID string) (bool, error)
	UpdateProgress(ctx context.Context, jobID string, partial Stats) error
	FileSystem() FileSystem
	Env() map[string]string
	// Principal is the identity the handler executes operations as,
	// resolved from the job's stored userId/userType.
	Principal() perm.Principal
}

// Handler is a registered task type, spec §4.G.
type Handler interface {
	TaskType() string
	Validate(payload []byte) error
	CreateStatsTemplate(payload []byte) (Stats, error)
	Execute(ctx context.Context, job *Record, ec ExecutionContext) error
}

// Options configures the Task Orchestrator, spec §6 environment vars
// and §4.G step 2's worker pool size.
type Options struct {
	// WorkerPoolSize is clamped to [1,10], default 2.
	WorkerPoolSize int
	// RestrictedRuntime is not read by the Orchestrator or the copy
	// handler. The two §4.G/§9 heuristics (pre-scan concurrency,
	// progress-throttle granularity) are switched by the
	// restrictedRuntime argument of NewCopyHandler instead.
	RestrictedRuntime bool
}

func (o Options) poolSize() int {
	n := o.WorkerPoolSize
	if n < 1 {
		n = 2
	}
	if n > 10 {
		n = 10
	}
	return n
}
