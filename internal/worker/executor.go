package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	infralogger "github.com/pglemos/ml-bling-sync/infrastructure/logger"
	"github.com/pglemos/ml-bling-sync/internal/circuitbreaker"
	"github.com/pglemos/ml-bling-sync/internal/connector"
	"github.com/pglemos/ml-bling-sync/internal/database"
	"github.com/pglemos/ml-bling-sync/internal/domain"
	"github.com/pglemos/ml-bling-sync/internal/observability"
	"github.com/pglemos/ml-bling-sync/internal/queue"
	"github.com/pglemos/ml-bling-sync/internal/retry"
)

// Progress checkpoints reported around the connector call. Connector
// progress is mapped into the span between syncing and persisting.
const (
	progressStarting   = 10
	progressSyncing    = 20
	progressPersisting = 80
	progressDone       = 100

	finishTimeout = 10 * time.Second

	// outcomeUnrecorded labels runs whose terminal write failed.
	outcomeUnrecorded = "unrecorded"
)

// JobStore is the job persistence the executor needs.
type JobStore interface {
	GetByID(ctx context.Context, id string) (*domain.SyncJob, error)
	MarkRunning(ctx context.Context, id, taskID string, startedAt time.Time) error
	UpdateProgress(ctx context.Context, id string, progress int) error
	Complete(ctx context.Context, id string, result *domain.SyncResult, completedAt time.Time) error
	Fail(ctx context.Context, id, message string, completedAt time.Time) error
}

// IntegrationSource resolves integrations.
type IntegrationSource interface {
	Get(ctx context.Context, id string) (*domain.Integration, error)
}

// TaskTracker exposes dispatch-level task state.
type TaskTracker interface {
	IsRevoked(ctx context.Context, jobID string) (bool, error)
	SetTaskStatus(ctx context.Context, taskID, jobID string, state queue.TaskState, progress int, info map[string]any) error
}

// EventSink receives live job updates.
type EventSink interface {
	JobStatus(ctx context.Context, tenantID string, job *domain.SyncJob)
	JobProgress(ctx context.Context, tenantID, jobID string, progress int)
	JobFinished(ctx context.Context, tenantID string, job *domain.SyncJob)
}

// BreakerSource hands out circuit breakers by name.
type BreakerSource interface {
	Get(name string) *circuitbreaker.Breaker
}

// ExecutorDeps wires an Executor.
type ExecutorDeps struct {
	Jobs         JobStore
	Integrations IntegrationSource
	Tasks        TaskTracker
	Breakers     BreakerSource
	Connectors   *connector.Registry
	Events       EventSink
	Retry        retry.Policy
	Metrics      *observability.Metrics
	Tracer       *observability.Tracer
	Logger       infralogger.Logger
}

// Executor runs one sync job: it claims the job, calls the connector
// through the integration's breaker and the retry policy, and records the
// outcome. Execution errors end in the job row, never in the caller.
type Executor struct {
	deps ExecutorDeps
	log  infralogger.Logger
	jlog *observability.Logger
	now  func() time.Time
}

// NewExecutor creates an executor.
func NewExecutor(deps ExecutorDeps) *Executor {
	if deps.Tracer == nil {
		deps.Tracer = observability.NewTracer()
	}
	log := deps.Logger.With(infralogger.String("component", "job_executor"))
	return &Executor{
		deps: deps,
		log:  log,
		jlog: observability.NewLogger(log),
		now:  time.Now,
	}
}

// run tracks one execution.
type run struct {
	task     *queue.Task
	job      *domain.SyncJob
	tenantID string
	started  time.Time
	progress int
}

// Execute processes one dispatched task. The returned error is for pool
// statistics only; the job's outcome is already persisted.
func (e *Executor) Execute(ctx context.Context, task *queue.Task) error {
	revoked, err := e.deps.Tasks.IsRevoked(ctx, task.JobID)
	if err != nil {
		e.log.Warn("Failed to read cancel flag", infralogger.String("job_id", task.JobID), infralogger.Error(err))
	}
	if revoked {
		e.jlog.JobCancelled(task.JobID, "revocation")
		return nil
	}

	job, err := e.deps.Jobs.GetByID(ctx, task.JobID)
	if err != nil {
		e.log.Warn("Dropping task for unknown job", infralogger.String("job_id", task.JobID), infralogger.Error(err))
		return nil
	}
	if job.Status != domain.JobStatusQueued {
		e.log.Debug("Skipping task for job that is not queued",
			infralogger.String("job_id", job.ID),
			infralogger.String("status", string(job.Status)),
		)
		return nil
	}

	ctx, span := e.deps.Tracer.JobExecutionSpan(ctx, job.ID, job.IntegrationID, string(job.SyncType))
	defer span.End()

	r := &run{task: task, job: job, started: e.now().UTC()}
	if err = e.deps.Jobs.MarkRunning(ctx, job.ID, task.ID, r.started); err != nil {
		if errors.Is(err, database.ErrStaleTransition) {
			e.log.Debug("Job already claimed", infralogger.String("job_id", job.ID))
			return nil
		}
		observability.RecordError(span, err)
		return err
	}
	job.Status = domain.JobStatusRunning
	job.StartedAt = &r.started
	job.TaskID = &task.ID

	e.deps.Metrics.RecordJobStarted()
	e.jlog.JobStarted(job.ID, job.IntegrationID, string(job.SyncType), task.ID)
	e.setTask(ctx, r, queue.TaskStarted, nil)

	result, err := e.sync(ctx, r)
	observability.AddJobAttributes(span, job.ID, string(job.Status), r.progress)
	if err != nil {
		observability.RecordError(span, err)
		e.finishFailed(ctx, r, err)
		return err
	}
	observability.SetOK(span)
	e.finishCompleted(ctx, r, result)
	return nil
}

func (e *Executor) sync(ctx context.Context, r *run) (*domain.SyncResult, error) {
	job := r.job
	integration, err := e.deps.Integrations.Get(ctx, job.IntegrationID)
	if err != nil {
		return nil, fmt.Errorf("resolve integration: %w", err)
	}
	r.tenantID = integration.TenantID
	e.deps.Events.JobStatus(ctx, r.tenantID, job)
	e.reportProgress(ctx, r, progressStarting, map[string]any{"stage": "starting"})

	conn, err := e.deps.Connectors.Get(integration.Type)
	if err != nil {
		return nil, err
	}

	req := connector.Request{
		JobID:           job.ID,
		IntegrationID:   job.IntegrationID,
		TenantID:        integration.TenantID,
		IntegrationType: integration.Type,
		SyncType:        job.SyncType,
		Options:         job.Options,
	}
	onProgress := func(p int, info map[string]any) {
		p = max(0, min(p, progressDone))
		e.reportProgress(ctx, r, progressSyncing+p*(progressPersisting-progressSyncing)/progressDone, info)
	}

	policy := e.deps.Retry
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		e.deps.Metrics.RecordRetryAttempt("retry")
		e.jlog.JobRetrying(job.ID, attempt, delay, err)
	}

	var result *domain.SyncResult
	op := func(ctx context.Context) error {
		res, syncErr := conn.Sync(ctx, req, onProgress)
		if syncErr != nil {
			return syncErr
		}
		result = res
		return nil
	}

	e.reportProgress(ctx, r, progressSyncing, map[string]any{"stage": "syncing"})
	breaker := e.deps.Breakers.Get(integration.BreakerName())
	if err = breaker.Call(ctx, retry.Wrap(policy, op)); err != nil {
		return nil, err
	}
	if result == nil {
		result = &domain.SyncResult{}
	}
	e.reportProgress(ctx, r, progressPersisting, map[string]any{"stage": "persisting"})
	return result, nil
}

func (e *Executor) reportProgress(ctx context.Context, r *run, progress int, info map[string]any) {
	if progress <= r.progress {
		return
	}
	if err := e.deps.Jobs.UpdateProgress(ctx, r.job.ID, progress); err != nil {
		if !errors.Is(err, database.ErrStaleTransition) {
			e.log.Warn("Failed to record progress", infralogger.String("job_id", r.job.ID), infralogger.Error(err))
		}
		return
	}
	r.progress = progress
	r.job.Progress = progress
	e.setTask(ctx, r, queue.TaskProgress, info)
	e.deps.Events.JobProgress(ctx, r.tenantID, r.job.ID, progress)
}

func (e *Executor) setTask(ctx context.Context, r *run, state queue.TaskState, info map[string]any) {
	if err := e.deps.Tasks.SetTaskStatus(ctx, r.task.ID, r.job.ID, state, r.progress, info); err != nil {
		e.log.Debug("Failed to record task status", infralogger.String("task_id", r.task.ID), infralogger.Error(err))
	}
}

func (e *Executor) finishCompleted(ctx context.Context, r *run, result *domain.SyncResult) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
	defer cancel()

	completed := e.now().UTC()
	if err := e.deps.Jobs.Complete(ctx, r.job.ID, result, completed); err != nil {
		if errors.Is(err, database.ErrStaleTransition) {
			e.finishRevoked(ctx, r)
			return
		}
		e.log.Error("Failed to record job completion", infralogger.String("job_id", r.job.ID), infralogger.Error(err))
		e.deps.Metrics.RecordJobFinished(outcomeUnrecorded, string(r.job.SyncType), e.now().Sub(r.started).Seconds())
		return
	}

	r.progress = progressDone
	r.job.Status = domain.JobStatusCompleted
	r.job.Progress = progressDone
	r.job.Result = result
	r.job.CompletedAt = &completed

	duration := completed.Sub(r.started)
	e.deps.Metrics.RecordJobFinished(string(domain.JobStatusCompleted), string(r.job.SyncType), duration.Seconds())
	e.jlog.JobCompleted(r.job.ID, duration, result.ItemsProcessed, result.ItemsFailed)
	e.setTask(ctx, r, queue.TaskSuccess, map[string]any{
		"items_processed": result.ItemsProcessed,
		"items_failed":    result.ItemsFailed,
	})
	e.deps.Events.JobStatus(ctx, r.tenantID, r.job)
	e.deps.Events.JobFinished(ctx, r.tenantID, r.job)
}

func (e *Executor) finishFailed(ctx context.Context, r *run, cause error) {
	if errors.Is(context.Cause(ctx), ErrJobRevoked) {
		e.finishRevoked(context.WithoutCancel(ctx), r)
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
	defer cancel()

	completed := e.now().UTC()
	msg := cause.Error()
	if err := e.deps.Jobs.Fail(ctx, r.job.ID, msg, completed); err != nil {
		if errors.Is(err, database.ErrStaleTransition) {
			e.finishRevoked(ctx, r)
			return
		}
		e.log.Error("Failed to record job failure", infralogger.String("job_id", r.job.ID), infralogger.Error(err))
		e.deps.Metrics.RecordJobFinished(outcomeUnrecorded, string(r.job.SyncType), e.now().Sub(r.started).Seconds())
		return
	}

	r.job.Status = domain.JobStatusFailed
	r.job.ErrorMessage = &msg
	r.job.CompletedAt = &completed

	duration := completed.Sub(r.started)
	e.deps.Metrics.RecordJobFinished(string(domain.JobStatusFailed), string(r.job.SyncType), duration.Seconds())
	e.jlog.JobFailed(r.job.ID, domain.NewExecutionFailedError(cause), duration)
	e.setTask(ctx, r, queue.TaskFailure, map[string]any{"error": msg})
	e.deps.Events.JobStatus(ctx, r.tenantID, r.job)
	e.deps.Events.JobFinished(ctx, r.tenantID, r.job)
}

// finishRevoked confirms a cancellation that raced the execution. The job
// row is already terminal, so only dispatch state and metrics change.
func (e *Executor) finishRevoked(ctx context.Context, r *run) {
	r.job.Status = domain.JobStatusCancelled
	e.deps.Metrics.RecordJobFinished(string(domain.JobStatusCancelled), string(r.job.SyncType), e.now().Sub(r.started).Seconds())
	e.jlog.JobCancelled(r.job.ID, "revocation")
	e.setTask(ctx, r, queue.TaskRevoked, nil)
}
