package dashboard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	infralogger "github.com/pglemos/ml-bling-sync/infrastructure/logger"
	"github.com/pglemos/ml-bling-sync/internal/domain"
	"github.com/pglemos/ml-bling-sync/internal/observability"
)

var (
	// ErrReplayCancelled is the cause attached to a cancelled replay execution.
	ErrReplayCancelled = errors.New("replay cancelled")
	// ErrManagerStopped is the cause attached to executions cut off by Shutdown.
	ErrManagerStopped = errors.New("replay manager stopped")
)

// JobReader reads sync jobs.
type JobReader interface {
	GetByID(ctx context.Context, id string) (*domain.SyncJob, error)
}

// IntegrationReader resolves integrations.
type IntegrationReader interface {
	Get(ctx context.Context, id string) (*domain.Integration, error)
}

// SyncQueuer queues and cancels sync jobs.
type SyncQueuer interface {
	QueueSync(ctx context.Context, req domain.SyncRequest) (*domain.SyncJob, error)
	CancelSync(ctx context.Context, jobID, cancelledBy string) (bool, error)
}

// ReplayEvents receives replay state changes.
type ReplayEvents interface {
	ReplayStatus(ctx context.Context, r *domain.ReplayRequest)
}

// ReplayDeps wires a ReplayManager.
type ReplayDeps struct {
	Jobs         JobReader
	Integrations IntegrationReader
	Queue        SyncQueuer
	Store        *ReplayStore
	Events       ReplayEvents
	Metrics      *observability.Metrics
	Tracer       *observability.Tracer
	Logger       infralogger.Logger
}

type execution struct {
	cancel context.CancelCauseFunc
	done   chan struct{}
}

// ReplayManager creates and runs replays. Each execution is a goroutine the
// manager owns: CancelReplay stops one, Shutdown stops and joins all.
type ReplayManager struct {
	cfg  ReplayConfig
	deps ReplayDeps
	log  infralogger.Logger
	now  func() time.Time

	// mu serializes status transitions made by this instance.
	mu     sync.Mutex
	active map[string]*execution

	baseCtx context.Context
	stop    context.CancelCauseFunc
	wg      sync.WaitGroup
}

// NewReplayManager creates a replay manager.
func NewReplayManager(cfg ReplayConfig, deps ReplayDeps) *ReplayManager {
	cfg.SetDefaults()
	if deps.Tracer == nil {
		deps.Tracer = observability.NewTracer()
	}
	base, stop := context.WithCancelCause(context.Background())
	return &ReplayManager{
		cfg:     cfg,
		deps:    deps,
		log:     deps.Logger.With(infralogger.String("component", "replay")),
		now:     time.Now,
		active:  make(map[string]*execution),
		baseCtx: base,
		stop:    stop,
	}
}

// CreateReplay records a pending replay of a finished job. Only Completed
// and Failed jobs can be replayed.
func (m *ReplayManager) CreateReplay(ctx context.Context, originalJobID, requestedBy string, override *domain.SyncOptions) (*domain.ReplayRequest, error) {
	job, err := m.deps.Jobs.GetByID(ctx, originalJobID)
	if err != nil {
		return nil, err
	}
	if !domain.CanReplayJob(job.Status) {
		return nil, domain.NewInvalidStateError("job %s cannot be replayed in status %s", job.ID, job.Status)
	}
	if override != nil {
		if err = job.Options.Merge(override).Validate(); err != nil {
			return nil, err
		}
	}

	integration, err := m.deps.Integrations.Get(ctx, job.IntegrationID)
	if err != nil {
		return nil, err
	}

	r := &domain.ReplayRequest{
		ID:             uuid.NewString(),
		OriginalJobID:  job.ID,
		TenantID:       integration.TenantID,
		IntegrationID:  integration.ID,
		ConnectorType:  integration.Type,
		SyncType:       job.SyncType,
		Status:         domain.ReplayStatusPending,
		CreatedBy:      requestedBy,
		ConfigOverride: override,
		CreatedAt:      m.now().UTC(),
	}
	if err = m.deps.Store.Create(ctx, r); err != nil {
		return nil, err
	}

	m.deps.Metrics.RecordReplay(string(r.Status))
	m.deps.Events.ReplayStatus(ctx, r)
	m.log.Info("Replay created",
		infralogger.String("replay_id", r.ID),
		infralogger.String("original_job_id", job.ID),
		infralogger.String("created_by", requestedBy),
	)
	return r, nil
}

// ExecuteReplay starts a pending replay. The replay is stored as Running
// before its job is queued, so a retried request cannot spawn a second job.
// The job is queued before this returns, so admission rejections fail the
// replay immediately and are returned; the wait for the job's outcome
// happens in the background.
func (m *ReplayManager) ExecuteReplay(ctx context.Context, replayID string) (*domain.ReplayRequest, error) {
	if m.baseCtx.Err() != nil {
		return nil, context.Cause(m.baseCtx)
	}

	r, err := m.deps.Store.Get(ctx, replayID)
	if err != nil {
		return nil, err
	}
	if err = domain.ValidateReplayTransition(r.Status, domain.ReplayStatusRunning); err != nil {
		return nil, err
	}
	original, err := m.deps.Jobs.GetByID(ctx, r.OriginalJobID)
	if err != nil {
		return nil, err
	}

	execCtx, exec, err := m.claim(r.ID)
	if err != nil {
		return nil, err
	}

	started := m.now().UTC()
	r.Status = domain.ReplayStatusRunning
	r.StartedAt = &started
	if err = m.save(ctx, r); err != nil {
		m.release(r.ID, exec)
		return nil, err
	}

	var job *domain.SyncJob
	var queueErr error
	if !cancelledByUser(execCtx) {
		job, queueErr = m.deps.Queue.QueueSync(ctx, domain.SyncRequest{
			IntegrationID: r.IntegrationID,
			SyncType:      r.SyncType,
			Priority:      original.Priority,
			Options:       original.Options.Merge(r.ConfigOverride),
			UserID:        r.CreatedBy,
		})
	}

	m.mu.Lock()
	cancelled := cancelledByUser(execCtx)
	switch {
	case cancelled:
		// CancelReplay recorded the outcome but had no job id to stop.
	case queueErr != nil:
		m.finishLocked(context.WithoutCancel(ctx), r, domain.ReplayStatusFailed, queueErr.Error())
	default:
		r.NewJobID = job.ID
		if err = m.save(ctx, r); err != nil {
			m.log.Warn("Replay job id not recorded",
				infralogger.String("replay_id", r.ID),
				infralogger.String("new_job_id", job.ID),
				infralogger.Error(err),
			)
		}
	}
	m.mu.Unlock()

	if cancelled {
		m.release(r.ID, exec)
		if job != nil {
			m.cancelJob(context.WithoutCancel(ctx), r.ID, job.ID, r.CreatedBy)
		}
		return m.deps.Store.Get(ctx, r.ID)
	}
	if queueErr != nil {
		m.release(r.ID, exec)
		return r.Clone(), queueErr
	}

	go m.await(execCtx, exec, r.Clone())

	m.log.Info("Replay started",
		infralogger.String("replay_id", r.ID),
		infralogger.String("new_job_id", job.ID),
	)
	return r.Clone(), nil
}

// claim registers an execution for a replay. Registration happens under mu
// so Shutdown never races a late wg.Add.
func (m *ReplayManager) claim(replayID string) (context.Context, *execution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.baseCtx.Err() != nil {
		return nil, nil, context.Cause(m.baseCtx)
	}
	if _, busy := m.active[replayID]; busy {
		return nil, nil, domain.NewInvalidStateError("replay %s is already executing", replayID)
	}

	execCtx, cancel := context.WithCancelCause(m.baseCtx)
	exec := &execution{cancel: cancel, done: make(chan struct{})}
	m.active[replayID] = exec
	m.wg.Add(1)
	return execCtx, exec, nil
}

// release ends an execution that never reached await.
func (m *ReplayManager) release(replayID string, exec *execution) {
	m.mu.Lock()
	delete(m.active, replayID)
	m.mu.Unlock()

	exec.cancel(nil)
	close(exec.done)
	m.wg.Done()
}

func cancelledByUser(ctx context.Context) bool {
	return errors.Is(context.Cause(ctx), ErrReplayCancelled)
}

func (m *ReplayManager) cancelJob(ctx context.Context, replayID, jobID, cancelledBy string) {
	if _, err := m.deps.Queue.CancelSync(ctx, jobID, cancelledBy); err != nil {
		m.log.Warn("Failed to cancel replayed job",
			infralogger.String("replay_id", replayID),
			infralogger.String("job_id", jobID),
			infralogger.Error(err),
		)
	}
}

// await polls the replayed job until it is terminal, the execution is
// cancelled, or MaxWait elapses.
func (m *ReplayManager) await(ctx context.Context, exec *execution, r *domain.ReplayRequest) {
	defer m.wg.Done()
	defer close(exec.done)
	defer func() {
		m.mu.Lock()
		delete(m.active, r.ID)
		m.mu.Unlock()
	}()

	ctx, span := m.deps.Tracer.ReplaySpan(ctx, r.ID, r.OriginalJobID)
	defer span.End()

	status, message := m.waitForJob(ctx, r.NewJobID)
	if status == "" {
		// Cancelled by CancelReplay, which already recorded the outcome.
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	current, err := m.deps.Store.Get(context.WithoutCancel(ctx), r.ID)
	if err != nil {
		m.log.Warn("Replay record unavailable at completion",
			infralogger.String("replay_id", r.ID),
			infralogger.Error(err),
		)
		current = r
	}
	if current.Status != domain.ReplayStatusRunning {
		return
	}
	m.finishLocked(context.WithoutCancel(ctx), current, status, message)

	if status == domain.ReplayStatusCompleted {
		observability.SetOK(span)
	} else {
		observability.RecordError(span, errors.New(message))
	}
}

// waitForJob returns the replay outcome for the job, or an empty status if
// the execution was cancelled by CancelReplay.
func (m *ReplayManager) waitForJob(ctx context.Context, jobID string) (domain.ReplayStatus, string) {
	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()
	deadline := time.NewTimer(m.cfg.MaxWait)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			if errors.Is(context.Cause(ctx), ErrReplayCancelled) {
				return "", ""
			}
			return domain.ReplayStatusFailed, "replay interrupted by shutdown"
		case <-deadline.C:
			return domain.ReplayStatusFailed, fmt.Sprintf("job %s did not finish within %s", jobID, m.cfg.MaxWait)
		case <-ticker.C:
			job, err := m.deps.Jobs.GetByID(ctx, jobID)
			if err != nil {
				if domain.KindOf(err) == domain.KindNotFound {
					return domain.ReplayStatusFailed, fmt.Sprintf("job %s no longer exists", jobID)
				}
				m.log.Debug("Replay poll failed", infralogger.String("job_id", jobID), infralogger.Error(err))
				continue
			}
			switch job.Status {
			case domain.JobStatusCompleted:
				return domain.ReplayStatusCompleted, ""
			case domain.JobStatusFailed:
				msg := "replayed job failed"
				if job.ErrorMessage != nil {
					msg = *job.ErrorMessage
				}
				return domain.ReplayStatusFailed, msg
			case domain.JobStatusCancelled:
				return domain.ReplayStatusFailed, "replayed job was cancelled"
			case domain.JobStatusQueued, domain.JobStatusRunning:
			}
		}
	}
}

// CancelReplay cancels a running replay and its job. It returns false if the
// replay is not running.
func (m *ReplayManager) CancelReplay(ctx context.Context, replayID, cancelledBy string) (bool, error) {
	m.mu.Lock()
	r, err := m.deps.Store.Get(ctx, replayID)
	if err != nil {
		m.mu.Unlock()
		return false, err
	}
	if r.Status != domain.ReplayStatusRunning {
		m.mu.Unlock()
		return false, nil
	}

	exec := m.active[r.ID]
	m.finishLocked(ctx, r, domain.ReplayStatusCancelled, "")
	m.mu.Unlock()

	if exec != nil {
		exec.cancel(ErrReplayCancelled)
		<-exec.done
	}

	if r.NewJobID != "" {
		m.cancelJob(ctx, r.ID, r.NewJobID, cancelledBy)
	}
	return true, nil
}

// finishLocked moves r to a terminal status. Callers hold mu.
func (m *ReplayManager) finishLocked(ctx context.Context, r *domain.ReplayRequest, status domain.ReplayStatus, message string) {
	completed := m.now().UTC()
	r.Status = status
	r.ErrorMessage = message
	r.CompletedAt = &completed

	if err := m.save(ctx, r); err != nil {
		m.log.Error("Failed to record replay outcome",
			infralogger.String("replay_id", r.ID),
			infralogger.String("status", string(status)),
			infralogger.Error(err),
		)
	}

	fields := []infralogger.Field{
		infralogger.String("replay_id", r.ID),
		infralogger.String("status", string(status)),
	}
	if message != "" {
		fields = append(fields, infralogger.String("error", message))
	}
	m.log.Info("Replay finished", fields...)
}

func (m *ReplayManager) save(ctx context.Context, r *domain.ReplayRequest) error {
	if err := m.deps.Store.Save(ctx, r); err != nil {
		return err
	}
	m.deps.Metrics.RecordReplay(string(r.Status))
	m.deps.Events.ReplayStatus(ctx, r)
	return nil
}

// GetReplayStatus returns a replay.
func (m *ReplayManager) GetReplayStatus(ctx context.Context, replayID string) (*domain.ReplayRequest, error) {
	return m.deps.Store.Get(ctx, replayID)
}

// GetReplayHistory returns replays newest first, optionally for one tenant.
func (m *ReplayManager) GetReplayHistory(ctx context.Context, tenantID string, limit int) ([]*domain.ReplayRequest, error) {
	if limit <= 0 {
		limit = m.cfg.HistoryLimit
	}
	return m.deps.Store.List(ctx, tenantID, limit)
}

// ReplayStats summarizes replays created in a window.
type ReplayStats struct {
	Total       int     `json:"total_replays"`
	Pending     int     `json:"pending_replays"`
	Running     int     `json:"running_replays"`
	Completed   int     `json:"completed_replays"`
	Failed      int     `json:"failed_replays"`
	Cancelled   int     `json:"cancelled_replays"`
	SuccessRate float64 `json:"success_rate"`
	Active      int     `json:"active_replays"`
}

// Stats counts replays created inside the window. Active counts the
// executions owned by this instance.
func (m *ReplayManager) Stats(ctx context.Context, w Window) (ReplayStats, error) {
	replays, err := m.deps.Store.Between(ctx, w.Start, w.End)
	if err != nil {
		return ReplayStats{}, err
	}

	var s ReplayStats
	for _, r := range replays {
		s.Total++
		switch r.Status {
		case domain.ReplayStatusPending:
			s.Pending++
		case domain.ReplayStatusRunning:
			s.Running++
		case domain.ReplayStatusCompleted:
			s.Completed++
		case domain.ReplayStatusFailed:
			s.Failed++
		case domain.ReplayStatusCancelled:
			s.Cancelled++
		}
	}
	s.SuccessRate = ratio(s.Completed, s.Total)

	m.mu.Lock()
	s.Active = len(m.active)
	m.mu.Unlock()
	return s, nil
}

// CountsByJob returns the replay count of each job.
func (m *ReplayManager) CountsByJob(ctx context.Context, jobIDs []string) (map[string]int, error) {
	return m.deps.Store.CountsByJob(ctx, jobIDs)
}

// Shutdown stops accepting executions, cancels running ones, and waits for
// them to record their outcome or for ctx to end.
func (m *ReplayManager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.stop(ErrManagerStopped)
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("replay shutdown: %w", ctx.Err())
	}
}
