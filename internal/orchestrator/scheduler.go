package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	infralogger "github.com/pglemos/ml-bling-sync/infrastructure/logger"
	"github.com/pglemos/ml-bling-sync/internal/coordination"
	"github.com/pglemos/ml-bling-sync/internal/database"
	"github.com/pglemos/ml-bling-sync/internal/domain"
	"github.com/pglemos/ml-bling-sync/internal/queue"
)

// Periodic sync defaults.
const (
	syncAllLimit  = 50
	syncAllOffset = 0
)

// Scheduler runs the periodic tasks: the full sync sweep, the retention
// sweep, deferred dispatch, and recovery of queued jobs that never got a
// dispatch handle. Each tick runs on at most one instance.
type Scheduler struct {
	cfg    SchedulerConfig
	orch   *Orchestrator
	client redis.UniversalClient
	prefix string
	log    infralogger.Logger
	now    func() time.Time
}

// NewScheduler creates a scheduler. prefix namespaces the leadership locks.
func NewScheduler(cfg SchedulerConfig, orch *Orchestrator, client redis.UniversalClient, prefix string, log infralogger.Logger) *Scheduler {
	cfg.SetDefaults()
	return &Scheduler{
		cfg:    cfg,
		orch:   orch,
		client: client,
		prefix: prefix,
		log:    log.With(infralogger.String("component", "scheduler")),
		now:    time.Now,
	}
}

func (s *Scheduler) lockKey(task string) string {
	return fmt.Sprintf("%s:lock:%s", s.prefix, task)
}

// Run blocks until ctx is cancelled. Cron entries that are mid-run when ctx
// ends are waited for before Run returns.
func (s *Scheduler) Run(ctx context.Context) error {
	c := cron.New()
	if _, err := c.AddFunc(s.cfg.SyncAllSpec, func() { s.runLocked(ctx, "sync_all", s.syncAll) }); err != nil {
		return fmt.Errorf("schedule sync_all %q: %w", s.cfg.SyncAllSpec, err)
	}
	if _, err := c.AddFunc(s.cfg.CleanupSpec, func() { s.runLocked(ctx, "cleanup", s.cleanup) }); err != nil {
		return fmt.Errorf("schedule cleanup %q: %w", s.cfg.CleanupSpec, err)
	}

	c.Start()
	s.log.Info("Scheduler started",
		infralogger.String("sync_all_spec", s.cfg.SyncAllSpec),
		infralogger.String("cleanup_spec", s.cfg.CleanupSpec),
		infralogger.Duration("dispatch_interval", s.cfg.DispatchInterval),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.every(gctx, s.cfg.DispatchInterval, "dispatch_due", s.dispatchDue)
		return nil
	})
	g.Go(func() error {
		s.every(gctx, s.cfg.RecoveryInterval, "recovery", s.recoverTick)
		return nil
	})
	err := g.Wait()

	<-c.Stop().Done()
	s.log.Info("Scheduler stopped")
	return err
}

func (s *Scheduler) every(ctx context.Context, interval time.Duration, name string, fn func(context.Context) error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runLocked(ctx, name, fn)
		}
	}
}

// runLocked runs fn under the task's leadership lock, skipping the tick if
// another instance holds it.
func (s *Scheduler) runLocked(ctx context.Context, name string, fn func(context.Context) error) {
	if ctx.Err() != nil {
		return
	}
	ran, err := coordination.TryWithLock(ctx, s.client, s.lockKey(name), s.cfg.LockTTL, fn)
	if err != nil && !errors.Is(err, context.Canceled) {
		s.log.Error("Periodic task failed",
			infralogger.String("task", name),
			infralogger.Bool("ran", ran),
			infralogger.Error(err),
		)
	}
}

func (s *Scheduler) syncAll(ctx context.Context) error {
	_, err := s.SyncAllIntegrations(ctx)
	return err
}

func (s *Scheduler) cleanup(ctx context.Context) error {
	_, err := s.CleanupOldSyncJobs(ctx)
	return err
}

func (s *Scheduler) dispatchDue(ctx context.Context) error {
	_, err := s.DispatchDue(ctx)
	return err
}

func (s *Scheduler) recoverTick(ctx context.Context) error {
	_, err := s.RecoverUndispatched(ctx)
	return err
}

// SweepResult summarizes a SyncAllIntegrations run.
type SweepResult struct {
	Integrations int `json:"integrations"`
	Queued       int `json:"queued"`
	Rejected     int `json:"rejected"`
	Failed       int `json:"failed"`
}

// SyncAllIntegrations queues a low-priority products sync for every active
// integration. Admission rejections are counted, not treated as failures.
func (s *Scheduler) SyncAllIntegrations(ctx context.Context) (SweepResult, error) {
	integrations, err := s.orch.deps.Integrations.ListActive(ctx)
	if err != nil {
		return SweepResult{}, fmt.Errorf("list active integrations: %w", err)
	}

	res := SweepResult{Integrations: len(integrations)}
	for _, integration := range integrations {
		_, qErr := s.orch.QueueSync(ctx, domain.SyncRequest{
			IntegrationID: integration.ID,
			SyncType:      domain.SyncTypeProducts,
			Priority:      domain.PriorityLow,
			Options:       domain.SyncOptions{Limit: syncAllLimit, Offset: syncAllOffset},
		})
		switch kind := domain.KindOf(qErr); {
		case qErr == nil:
			res.Queued++
		case kind == domain.KindQuotaExceeded || kind == domain.KindIntegrationUnavailable:
			res.Rejected++
		default:
			res.Failed++
			s.log.Warn("Periodic sync not queued",
				infralogger.String("integration_id", integration.ID),
				infralogger.Error(qErr),
			)
		}
	}

	s.log.Info("Periodic sync sweep finished",
		infralogger.Int("integrations", res.Integrations),
		infralogger.Int("queued", res.Queued),
		infralogger.Int("rejected", res.Rejected),
		infralogger.Int("failed", res.Failed),
	)
	return res, nil
}

// CleanupOldSyncJobs deletes jobs older than the retention period.
func (s *Scheduler) CleanupOldSyncJobs(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.cfg.Retention)
	n, err := s.orch.deps.Jobs.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete old jobs: %w", err)
	}
	s.log.Info("Old sync jobs cleaned up",
		infralogger.Int64("deleted", n),
		infralogger.Time("cutoff", cutoff),
	)
	return n, nil
}

// DispatchDue moves due deferred jobs onto the queue and records their
// task ids.
func (s *Scheduler) DispatchDue(ctx context.Context) (int, error) {
	dispatched, err := s.orch.deps.Dispatcher.DispatchDue(ctx, s.cfg.DispatchBatch)
	for _, d := range dispatched {
		setErr := s.orch.deps.Jobs.SetTaskID(ctx, d.JobID, d.TaskID)
		if setErr != nil && !errors.Is(setErr, database.ErrStaleTransition) {
			s.log.Warn("Failed to record task id",
				infralogger.String("job_id", d.JobID),
				infralogger.String("task_id", d.TaskID),
				infralogger.Error(setErr),
			)
		}
		s.orch.deps.Metrics.RecordScheduledDispatch()
	}
	if len(dispatched) > 0 {
		s.log.Debug("Dispatched deferred jobs", infralogger.Int("count", len(dispatched)))
	}
	return len(dispatched), err
}

// RecoverUndispatched re-dispatches queued jobs that have been due for
// longer than the recovery grace without a task id. These are jobs whose
// process died between persisting the row and dispatching it.
func (s *Scheduler) RecoverUndispatched(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.cfg.RecoveryGrace)
	jobs, err := s.orch.deps.Jobs.ListDueQueued(ctx, cutoff, s.cfg.DispatchBatch)
	if err != nil {
		return 0, fmt.Errorf("list undispatched jobs: %w", err)
	}

	recovered := 0
	var errs []error
	for _, job := range jobs {
		taskID, dErr := s.orch.deps.Dispatcher.Dispatch(ctx, queue.NewTask(job))
		if dErr != nil {
			errs = append(errs, fmt.Errorf("job %s: %w", job.ID, dErr))
			continue
		}
		s.orch.recordTaskID(ctx, job, taskID)
		recovered++
	}
	if recovered > 0 {
		s.log.Warn("Recovered undispatched jobs", infralogger.Int("count", recovered))
	}
	return recovered, errors.Join(errs...)
}
