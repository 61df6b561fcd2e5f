package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	infralogger "github.com/pglemos/ml-bling-sync/infrastructure/logger"
	"github.com/pglemos/ml-bling-sync/internal/circuitbreaker"
	"github.com/pglemos/ml-bling-sync/internal/database"
	"github.com/pglemos/ml-bling-sync/internal/domain"
	"github.com/pglemos/ml-bling-sync/internal/observability"
	"github.com/pglemos/ml-bling-sync/internal/queue"
	"github.com/pglemos/ml-bling-sync/internal/ratelimit"
)

// JobStore is the job persistence the orchestrator needs.
type JobStore interface {
	Create(ctx context.Context, job *domain.SyncJob) error
	GetByID(ctx context.Context, id string) (*domain.SyncJob, error)
	Delete(ctx context.Context, id string) error
	SetTaskID(ctx context.Context, id, taskID string) error
	Cancel(ctx context.Context, id string, completedAt time.Time) (bool, error)
	CountByStatus(ctx context.Context) (map[domain.JobStatus]int, error)
	ListDueQueued(ctx context.Context, now time.Time, limit int) ([]*domain.SyncJob, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// IntegrationStore resolves integrations.
type IntegrationStore interface {
	Get(ctx context.Context, id string) (*domain.Integration, error)
	ListActive(ctx context.Context) ([]*domain.Integration, error)
}

// Dispatcher hands jobs to the worker pool.
type Dispatcher interface {
	Dispatch(ctx context.Context, task *queue.Task) (string, error)
	Defer(ctx context.Context, task *queue.Task, at time.Time) error
	DispatchDue(ctx context.Context, limit int) ([]queue.DispatchedTask, error)
	Revoke(ctx context.Context, jobID, taskID string, priority domain.Priority) (bool, error)
	TaskStatus(ctx context.Context, taskID string) (*queue.TaskStatus, error)
	QueueDepths(ctx context.Context) (map[domain.Priority]int64, error)
	ScheduledCount(ctx context.Context) (int64, error)
}

// BreakerSource hands out circuit breakers by name.
type BreakerSource interface {
	Get(name string) *circuitbreaker.Breaker
}

// QuotaChecker consumes admission quota for a tenant.
type QuotaChecker interface {
	CheckAdmission(ctx context.Context, tenantID string, plan domain.Plan) ratelimit.Decision
}

// EventSink receives live job updates.
type EventSink interface {
	JobStatus(ctx context.Context, tenantID string, job *domain.SyncJob)
}

// Deps wires an Orchestrator.
type Deps struct {
	Jobs         JobStore
	Integrations IntegrationStore
	Dispatcher   Dispatcher
	Breakers     BreakerSource
	Quota        QuotaChecker
	Events       EventSink
	Metrics      *observability.Metrics
	Tracer       *observability.Tracer
	Logger       infralogger.Logger
}

// Orchestrator is the entry point for queuing and controlling sync jobs.
type Orchestrator struct {
	cfg  Config
	deps Deps
	log  infralogger.Logger
	jlog *observability.Logger
	now  func() time.Time
}

// New creates an orchestrator.
func New(cfg Config, deps Deps) *Orchestrator {
	cfg.SetDefaults()
	if deps.Tracer == nil {
		deps.Tracer = observability.NewTracer()
	}
	log := deps.Logger.With(infralogger.String("component", "orchestrator"))
	return &Orchestrator{
		cfg:  cfg,
		deps: deps,
		log:  log,
		jlog: observability.NewLogger(log),
		now:  time.Now,
	}
}

// Admit runs admission control for an integration: the circuit breaker is
// consulted first so an unavailable integration never consumes quota, then
// the tenant's rate limit. Neither check fails closed on a store outage.
func (o *Orchestrator) Admit(ctx context.Context, integration *domain.Integration) Admission {
	breaker := o.deps.Breakers.Get(integration.BreakerName())
	if err := breaker.Allow(ctx); err != nil {
		return circuitRejection(integration.ID, err)
	}

	d := o.deps.Quota.CheckAdmission(ctx, integration.TenantID, integration.Plan)
	if !d.Allowed {
		return quotaRejection(integration.TenantID, d.Limit, d.RetryAfter)
	}
	return Admission{Outcome: Admitted, Degraded: d.Degraded}
}

// QueueSync admits and persists a job, then dispatches it now or defers it
// to its scheduled time. Rejected admissions create no job.
func (o *Orchestrator) QueueSync(ctx context.Context, req domain.SyncRequest) (*domain.SyncJob, error) {
	ctx, span := o.deps.Tracer.QueueSyncSpan(ctx, req.IntegrationID, string(req.SyncType), string(req.Priority))
	defer span.End()

	job, err := o.queueSync(ctx, req)
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}
	observability.AddJobAttributes(span, job.ID, string(job.Status), job.Progress)
	observability.SetOK(span)
	return job, nil
}

func (o *Orchestrator) queueSync(ctx context.Context, req domain.SyncRequest) (*domain.SyncJob, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	integration, err := o.deps.Integrations.Get(ctx, req.IntegrationID)
	if err != nil {
		return nil, err
	}
	if !integration.IsActive() {
		return nil, domain.NewValidationError("integration %s is not active (status %q)", integration.ID, integration.Status)
	}

	admission := o.Admit(ctx, integration)
	if !admission.Admitted() {
		o.deps.Metrics.RecordAdmissionRejection(admission.Outcome.String())
		o.jlog.AdmissionRejected(integration.ID, admission.Outcome.String(), admission.RetryAfter)
		return nil, admission.Err()
	}

	now := o.now().UTC()
	scheduledAt := now
	if req.ScheduledAt != nil && req.ScheduledAt.After(now) {
		scheduledAt = req.ScheduledAt.UTC()
	}

	job := &domain.SyncJob{
		ID:            uuid.NewString(),
		IntegrationID: integration.ID,
		SyncType:      req.SyncType,
		Status:        domain.JobStatusQueued,
		Priority:      req.Priority,
		Options:       req.Options,
		ScheduledAt:   scheduledAt,
	}
	if req.UserID != "" {
		job.UserID = &req.UserID
	}

	if err = o.deps.Jobs.Create(ctx, job); err != nil {
		return nil, err
	}

	if err = o.dispatch(ctx, job, now); err != nil {
		if delErr := o.deps.Jobs.Delete(context.WithoutCancel(ctx), job.ID); delErr != nil {
			o.log.Error("Failed to remove undispatched job",
				infralogger.String("job_id", job.ID),
				infralogger.Error(delErr),
			)
		}
		return nil, fmt.Errorf("dispatch job: %w", err)
	}

	o.deps.Metrics.RecordJobQueued(string(job.SyncType), string(job.Priority))
	o.jlog.JobQueued(job.ID, job.IntegrationID, string(job.SyncType), string(job.Priority), job.ScheduledAt)
	o.deps.Events.JobStatus(ctx, integration.TenantID, job)
	return job, nil
}

// dispatch sends the job to the pool, or defers it when scheduled later.
func (o *Orchestrator) dispatch(ctx context.Context, job *domain.SyncJob, now time.Time) error {
	task := queue.NewTask(job)
	if job.ScheduledAt.After(now) {
		return o.deps.Dispatcher.Defer(ctx, task, job.ScheduledAt)
	}

	taskID, err := o.deps.Dispatcher.Dispatch(ctx, task)
	if err != nil {
		return err
	}
	o.recordTaskID(ctx, job, taskID)
	return nil
}

// recordTaskID stores the dispatch handle. A worker that already claimed
// the job recorded the handle itself, so a stale transition is fine.
func (o *Orchestrator) recordTaskID(ctx context.Context, job *domain.SyncJob, taskID string) {
	job.TaskID = &taskID
	err := o.deps.Jobs.SetTaskID(ctx, job.ID, taskID)
	if err != nil && !errors.Is(err, database.ErrStaleTransition) {
		o.log.Warn("Failed to record task id",
			infralogger.String("job_id", job.ID),
			infralogger.String("task_id", taskID),
			infralogger.Error(err),
		)
	}
}

// StatusSnapshot is a job with the advisory state reported by its task.
type StatusSnapshot struct {
	*domain.SyncJob
	Task *queue.TaskStatus `json:"task,omitempty"`
}

// GetSyncStatus returns the job row merged with its live task status. The
// row is authoritative; the task status is attached when available.
func (o *Orchestrator) GetSyncStatus(ctx context.Context, jobID string) (*StatusSnapshot, error) {
	job, err := o.deps.Jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}

	snap := &StatusSnapshot{SyncJob: job}
	if job.TaskID == nil {
		return snap, nil
	}

	task, err := o.deps.Dispatcher.TaskStatus(ctx, *job.TaskID)
	switch {
	case err == nil:
		snap.Task = task
		if job.Status == domain.JobStatusRunning && task.Progress > job.Progress {
			snap.Progress = task.Progress
		}
	case !errors.Is(err, queue.ErrTaskNotFound):
		o.log.Debug("Task status unavailable", infralogger.String("job_id", jobID), infralogger.Error(err))
	}
	return snap, nil
}

// CancelSync cancels a queued or running job. It revokes the dispatch,
// waits a bounded time for a running worker to confirm, then marks the job
// cancelled regardless. It returns false if the job was already terminal.
func (o *Orchestrator) CancelSync(ctx context.Context, jobID, cancelledBy string) (bool, error) {
	job, err := o.deps.Jobs.GetByID(ctx, jobID)
	if err != nil {
		return false, err
	}
	if !domain.CanCancelJob(job.Status) {
		return false, nil
	}

	taskID := ""
	if job.TaskID != nil {
		taskID = *job.TaskID
	}
	confirmed, err := o.deps.Dispatcher.Revoke(ctx, job.ID, taskID, job.Priority)
	if err != nil {
		o.log.Warn("Failed to revoke task",
			infralogger.String("job_id", job.ID),
			infralogger.Error(err),
			infralogger.Degraded(),
		)
	}
	if !confirmed && err == nil {
		o.awaitRevocation(ctx, taskID)
	}

	completed := o.now().UTC()
	ok, err := o.deps.Jobs.Cancel(ctx, job.ID, completed)
	if err != nil || !ok {
		return false, err
	}

	job.Status = domain.JobStatusCancelled
	job.CompletedAt = &completed
	o.jlog.JobCancelled(job.ID, cancelledBy)
	if integration, getErr := o.deps.Integrations.Get(ctx, job.IntegrationID); getErr == nil {
		o.deps.Events.JobStatus(ctx, integration.TenantID, job)
	}
	return true, nil
}

// awaitRevocation polls the task status until the worker confirms, the task
// ends on its own, or the cancel wait elapses.
func (o *Orchestrator) awaitRevocation(ctx context.Context, taskID string) {
	deadline := time.NewTimer(o.cfg.CancelWait)
	defer deadline.Stop()
	ticker := time.NewTicker(o.cfg.CancelPoll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			o.log.Warn("Worker did not confirm revocation in time", infralogger.String("task_id", taskID))
			return
		case <-ticker.C:
			st, err := o.deps.Dispatcher.TaskStatus(ctx, taskID)
			if err != nil {
				continue
			}
			switch st.State {
			case queue.TaskRevoked, queue.TaskSuccess, queue.TaskFailure:
				return
			case queue.TaskPending, queue.TaskStarted, queue.TaskProgress:
			}
		}
	}
}

// QueueStats aggregates job counts and live queue depth.
type QueueStats struct {
	ByStatus    map[domain.JobStatus]int  `json:"by_status"`
	Total       int                       `json:"total"`
	QueueDepths map[domain.Priority]int64 `json:"queue_depths"`
	Scheduled   int64                     `json:"scheduled"`
	Degraded    bool                      `json:"degraded,omitempty"`
}

// GetQueueStats returns job counts by status plus live queue depths. Queue
// depth is best effort; counts come from the job store.
func (o *Orchestrator) GetQueueStats(ctx context.Context) (*QueueStats, error) {
	counts, err := o.deps.Jobs.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}

	stats := &QueueStats{ByStatus: counts, QueueDepths: map[domain.Priority]int64{}}
	for _, n := range counts {
		stats.Total += n
	}

	depths, err := o.deps.Dispatcher.QueueDepths(ctx)
	if err != nil {
		o.log.Warn("Queue depth unavailable", infralogger.Error(err), infralogger.Degraded())
		stats.Degraded = true
	} else {
		stats.QueueDepths = depths
		for p, d := range depths {
			o.deps.Metrics.RecordQueueDepth(string(p), d)
		}
	}

	if stats.Scheduled, err = o.deps.Dispatcher.ScheduledCount(ctx); err != nil {
		stats.Degraded = true
	}
	return stats, nil
}
