package worker

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	infralogger "github.com/pglemos/ml-bling-sync/infrastructure/logger"
	"github.com/pglemos/ml-bling-sync/internal/observability"
	"github.com/pglemos/ml-bling-sync/internal/queue"
)

const readErrorBackoff = time.Second

// Consumer reads deliveries from the dispatch queue.
type Consumer interface {
	Initialize(ctx context.Context) error
	Read(ctx context.Context) ([]*queue.Delivery, error)
	Acknowledge(ctx context.Context, d *queue.Delivery) error
}

// RevocationSource delivers cancelled job ids.
type RevocationSource interface {
	ListenRevocations(ctx context.Context, fn func(jobID string)) error
}

// Runner feeds queue deliveries into the pool and forwards revocations to
// running jobs.
type Runner struct {
	cfg         Config
	consumer    Consumer
	revocations RevocationSource
	executor    *Executor
	pool        *Pool
	metrics     *observability.Metrics
	log         infralogger.Logger
}

// NewRunner builds a runner and its pool.
func NewRunner(
	cfg Config,
	consumer Consumer,
	revocations RevocationSource,
	executor *Executor,
	metrics *observability.Metrics,
	log infralogger.Logger,
) (*Runner, error) {
	cfg.SetDefaults()
	r := &Runner{
		cfg:         cfg,
		consumer:    consumer,
		revocations: revocations,
		executor:    executor,
		metrics:     metrics,
		log:         log.With(infralogger.String("component", "worker_runner")),
	}
	pool, err := NewPool(cfg, r.handle, log)
	if err != nil {
		return nil, err
	}
	r.pool = pool
	return r, nil
}

// Pool returns the runner's pool.
func (r *Runner) Pool() *Pool {
	return r.pool
}

// handle executes a delivery and acknowledges it whatever the outcome,
// since the outcome is recorded on the job.
func (r *Runner) handle(ctx context.Context, d *queue.Delivery) error {
	err := r.executor.Execute(ctx, d.Task)
	if ackErr := r.consumer.Acknowledge(context.WithoutCancel(ctx), d); ackErr != nil {
		r.log.Warn("Failed to acknowledge task",
			infralogger.String("task_id", d.Task.ID),
			infralogger.Error(ackErr),
		)
	}
	return err
}

// Run consumes until ctx is done, then drains the pool.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.consumer.Initialize(ctx); err != nil {
		return err
	}
	if err := r.pool.Start(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := r.revocations.ListenRevocations(gctx, func(jobID string) {
			if r.pool.Cancel(jobID) {
				r.log.Info("Cancelling running job", infralogger.String("job_id", jobID))
			}
		})
		if err != nil {
			r.log.Warn("Revocation listener stopped; running jobs only stop on timeout",
				infralogger.Error(err), infralogger.Degraded())
		}
		return nil
	})
	g.Go(func() error { return r.consume(gctx) })
	g.Go(func() error { return r.publishStats(gctx) })

	runErr := g.Wait()

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.DrainTimeout)
	defer cancel()
	if err := r.pool.Stop(stopCtx); err != nil && !errors.Is(err, ErrPoolNotRunning) {
		r.log.Warn("Worker pool stop failed", infralogger.Error(err))
	}
	return runErr
}

func (r *Runner) consume(ctx context.Context) error {
	for ctx.Err() == nil {
		deliveries, err := r.consumer.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			r.log.Error("Failed to read tasks", infralogger.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(readErrorBackoff):
			}
			continue
		}

		for _, d := range deliveries {
			if err = r.pool.Submit(ctx, d); err != nil {
				// Unsubmitted deliveries stay pending and are reclaimed later.
				if ctx.Err() != nil {
					return nil
				}
				if errors.Is(err, ErrJobAlreadyRunning) {
					r.log.Debug("Skipping redelivery of a running job",
						infralogger.String("task_id", d.Task.ID),
						infralogger.String("job_id", d.Task.JobID),
					)
					continue
				}
				r.log.Warn("Failed to submit task", infralogger.String("task_id", d.Task.ID), infralogger.Error(err))
			}
		}
	}
	return nil
}

func (r *Runner) publishStats(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.StatsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			stats := r.pool.Stats()
			r.metrics.SetWorkerPoolMetrics(stats.PoolSize, stats.BusyWorkers, stats.IdleWorkers)
		}
	}
}
