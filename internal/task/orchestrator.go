package task

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/zFlqwovo/CloudPaste-sub005/internal/apperr"
	"github.com/zFlqwovo/CloudPaste-sub005/internal/perm"
)

// PrincipalResolver builds the Principal a handler executes under
// from the job's stored userId/userType, spec §4.G createJob params.
type PrincipalResolver func(userID, userType string) perm.Principal

// DefaultPrincipalResolver treats userType "admin" as an admin
// principal and anything else as a guest, mirroring the two kinds a
// background job is realistically run as.
func DefaultPrincipalResolver(userID, userType string) perm.Principal {
	if userType == "admin" {
		return perm.NewAdminPrincipal(userID)
	}
	return perm.NewGuestPrincipal()
}

// Orchestrator is the Task Orchestrator of spec §4.G: job lifecycle
// plus an in-process worker pool claiming jobs from Store. Grounded
// on the teacher's fs/rc/jobs.Jobs shape (a registry + pool acting on
// a shared table), generalized from in-memory to the durable Store
// spec §4.G requires.
type Orchestrator struct {
	store     Store
	registry  *Registry
	fs        FileSystem
	resolve   PrincipalResolver
	opts      Options
	log       *logrus.Entry

	wg     sync.WaitGroup
	cancel context.CancelFunc

	activeWorkers prometheus.Gauge
	jobsProcessed *prometheus.CounterVec
	jobDuration   prometheus.Histogram
}

// NewOrchestrator wires the pieces. registerer may be nil to skip
// Prometheus registration (tests construct many Orchestrators and a
// global registry would collide on repeated MustRegister).
func NewOrchestrator(store Store, fs FileSystem, opts Options, resolve PrincipalResolver, log *logrus.Entry, registerer prometheus.Registerer) *Orchestrator {
	if resolve == nil {
		resolve = DefaultPrincipalResolver
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	o := &Orchestrator{
		store:    store,
		registry: NewRegistry(),
		fs:       fs,
		resolve:  resolve,
		opts:     opts,
		log:      log,
		activeWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cloudpasted", Subsystem: "task", Name: "active_workers",
			Help: "Number of task orchestrator worker goroutines currently running a job.",
		}),
		jobsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cloudpasted", Subsystem: "task", Name: "jobs_total",
			Help: "Jobs processed by the task orchestrator, partitioned by final status.",
		}, []string{"status", "task_type"}),
		jobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "cloudpasted", Subsystem: "task", Name: "job_duration_seconds",
			Help:    "Wall-clock duration of a claimed job from claim to terminal status.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	if registerer != nil {
		registerer.MustRegister(o.activeWorkers, o.jobsProcessed, o.jobDuration)
	}
	return o
}

// Register adds a Handler to the registry.
func (o *Orchestrator) Register(h Handler) {
	o.registry.Register(h)
}

// CreateJob implements spec §4.G step 1.
func (o *Orchestrator) CreateJob(ctx context.Context, taskType string, payload []byte, userID, userType string) (*Record, error) {
	handler, ok := o.registry.Get(taskType)
	if !ok {
		return nil, apperr.Validation("TASK.UNKNOWN_TYPE", errUnknownTaskType.Error())
	}
	if err := handler.Validate(payload); err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, "TASK.INVALID_PAYLOAD", "invalid task payload", err)
	}
	stats, err := handler.CreateStatsTemplate(payload)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, "TASK.INVALID_PAYLOAD", "could not build stats template", err)
	}
	now := time.Now().UTC()
	rec := &Record{
		ID:        NewJobID(taskType),
		TaskType:  taskType,
		UserID:    userID,
		UserType:  userType,
		Status:    StatusPending,
		Payload:   payload,
		Stats:     stats,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := o.store.InsertJob(ctx, rec); err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "TASK.CREATE_FAILED", "could not persist task", err)
	}
	return rec, nil
}

// CancelJob implements spec §4.G step 5.
func (o *Orchestrator) CancelJob(ctx context.Context, jobID string) error {
	if err := o.store.CancelJob(ctx, jobID); err != nil {
		return apperr.Wrap(apperr.KindConflict, "TASK.CANCEL_FAILED", "job is not cancellable", err)
	}
	return nil
}

// DeleteJob implements spec §4.G step 6.
func (o *Orchestrator) DeleteJob(ctx context.Context, jobID string) error {
	if err := o.store.DeleteJob(ctx, jobID); err != nil {
		return apperr.Wrap(apperr.KindConflict, "TASK.DELETE_FAILED", "job is not in a terminal state", err)
	}
	return nil
}

// GetJob returns one job by id.
func (o *Orchestrator) GetJob(ctx context.Context, jobID string) (*Record, error) {
	return o.store.GetJob(ctx, jobID)
}

// ListJobs implements spec §4.G step 7.
func (o *Orchestrator) ListJobs(ctx context.Context, filter ListFilter) ([]Record, error) {
	return o.store.ListJobs(ctx, filter)
}

// Start performs crash recovery (spec §4.G step 8) and launches the
// worker pool. It returns immediately; call Stop (or cancel ctx) to
// drain workers.
func (o *Orchestrator) Start(ctx context.Context) error {
	if _, err := o.store.ResetOrphaned(ctx); err != nil {
		return apperr.Wrap(apperr.KindInternal, "TASK.RECOVERY_FAILED", "crash recovery failed", err)
	}
	workerCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	for i := 0; i < o.opts.poolSize(); i++ {
		o.wg.Add(1)
		go o.workerLoop(workerCtx)
	}
	return nil
}

// Stop signals every worker to finish its current job and exit, then
// blocks until they have.
func (o *Orchestrator) Stop() {
	if o.cancel != nil {
		o.cancel()
	}
	o.wg.Wait()
}

func (o *Orchestrator) workerLoop(ctx context.Context) {
	defer o.wg.Done()
	backoff := newPollBackoff()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := o.store.ClaimNext(ctx)
		if err != nil {
			o.log.WithError(err).Warn("task orchestrator: claim failed")
			time.Sleep(backoff.next())
			continue
		}
		if job == nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff.next()):
			}
			continue
		}
		backoff.reset()
		o.runJob(ctx, job)
	}
}

func (o *Orchestrator) runJob(ctx context.Context, job *Record) {
	o.activeWorkers.Inc()
	defer o.activeWorkers.Dec()
	start := time.Now()

	handler, ok := o.registry.Get(job.TaskType)
	if !ok {
		o.finish(ctx, job, StatusFailed, errUnknownTaskType.Error(), job.Stats)
		o.jobDuration.Observe(time.Since(start).Seconds())
		return
	}

	ec := &execContext{
		o:         o,
		principal: o.resolve(job.UserID, job.UserType),
	}
	err := o.execute(ctx, handler, job, ec)

	current, getErr := o.store.GetJob(ctx, job.ID)
	if getErr == nil && current != nil && current.Status == StatusCancelled {
		o.jobsProcessed.WithLabelValues(string(StatusCancelled), job.TaskType).Inc()
		o.jobDuration.Observe(time.Since(start).Seconds())
		return
	}

	stats := job.Stats
	if current != nil {
		stats = current.Stats
	}
	final := deriveFinalStatus(err, stats)
	errMsg := ""
	if err != nil {
		errMsg = err.Error()
	}
	o.finish(ctx, job, final, errMsg, stats)
	o.jobsProcessed.WithLabelValues(string(final), job.TaskType).Inc()
	o.jobDuration.Observe(time.Since(start).Seconds())
}

// execute runs handler.Execute behind a recover so a handler panic
// (e.g. a registered handler whose collaborator turned out nil) fails
// the one job instead of crashing the worker and, with it, every other
// job the process is running.
func (o *Orchestrator) execute(ctx context.Context, handler Handler, job *Record, ec ExecutionContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			o.log.WithField("panic", r).WithField("job_id", job.ID).WithField("task_type", job.TaskType).Error("task orchestrator: handler panicked")
			err = fmt.Errorf("task: handler %s panicked: %v", job.TaskType, r)
		}
	}()
	return handler.Execute(ctx, job, ec)
}

func (o *Orchestrator) finish(ctx context.Context, job *Record, status Status, errMsg string, stats Stats) {
	if err := o.store.Finish(ctx, job.ID, status, errMsg, stats); err != nil {
		o.log.WithError(err).WithField("job_id", job.ID).Error("task orchestrator: failed to persist final status")
	}
}

// deriveFinalStatus implements spec §4.G step 4's status derivation.
func deriveFinalStatus(err error, stats Stats) Status {
	if err != nil {
		return StatusFailed
	}
	if stats.FailedCount == 0 {
		return StatusCompleted
	}
	if stats.SuccessCount == 0 {
		return StatusFailed
	}
	return StatusPartial
}

// execContext is the ExecutionContext a Handler runs under.
type execContext struct {
	o         *Orchestrator
	principal perm.Principal
}

func (e *execContext) IsCancelled(ctx context.Context, jobID string) (bool, error) {
	rec, err := e.o.store.GetJob(ctx, jobID)
	if err != nil {
		return false, err
	}
	if rec == nil {
		return false, nil
	}
	return rec.Status == StatusCancelled, nil
}

func (e *execContext) UpdateProgress(ctx context.Context, jobID string, partial Stats) error {
	return e.o.store.UpdateProgress(ctx, jobID, partial)
}

func (e *execContext) Env() map[string]string {
	return map[string]string{}
}

func (e *execContext) FileSystem() FileSystem {
	return e.o.fs
}

func (e *execContext) Principal() perm.Principal {
	return e.principal
}
