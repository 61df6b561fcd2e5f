package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	infralogger "github.com/pglemos/ml-bling-sync/infrastructure/logger"
	"github.com/pglemos/ml-bling-sync/internal/queue"
)

// PoolState represents the current state of the pool.
type PoolState int32

const (
	// PoolStateStopped means the pool is not running.
	PoolStateStopped PoolState = iota

	// PoolStateRunning means the pool is accepting jobs.
	PoolStateRunning

	// PoolStateDraining means the pool is shutting down gracefully.
	PoolStateDraining
)

// String returns the string representation of a pool state.
func (s PoolState) String() string {
	switch s {
	case PoolStateStopped:
		return "stopped"
	case PoolStateRunning:
		return "running"
	case PoolStateDraining:
		return "draining"
	default:
		return "unknown"
	}
}

var (
	// ErrPoolNotRunning is returned when submitting to a pool that is not running.
	ErrPoolNotRunning = errors.New("pool is not running")

	// ErrJobRevoked is the cancellation cause of a job revoked by an operator.
	ErrJobRevoked = errors.New("job revoked")

	// ErrPoolStopping is the cancellation cause of jobs cut off by shutdown.
	ErrPoolStopping = errors.New("worker pool stopping")

	// ErrJobAlreadyRunning is returned for a redelivery of a job this pool is
	// still running. The delivery stays pending; the running attempt acks it.
	ErrJobAlreadyRunning = errors.New("job already running on this worker")
)

// Handler processes one delivery. The returned error only feeds pool stats.
type Handler func(ctx context.Context, d *queue.Delivery) error

// Pool runs deliveries on a bounded set of slots. Jobs run on a context
// owned by the pool, so they outlive the read loop and are cancelled only
// by revocation, their timeout, or an expired drain.
type Pool struct {
	config  Config
	handler Handler
	logger  infralogger.Logger
	state   atomic.Int32
	slots   []*slot
	free    chan *slot
	wg      sync.WaitGroup
	stopCh  chan struct{}

	baseCtx    context.Context
	cancelBase context.CancelCauseFunc

	mu      sync.Mutex
	running map[string]context.CancelCauseFunc

	totalJobsProcessed atomic.Int64
	totalJobsSucceeded atomic.Int64
	totalJobsFailed    atomic.Int64
}

// NewPool creates a new worker pool.
func NewPool(cfg Config, handler Handler, logger infralogger.Logger) (*Pool, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if handler == nil {
		return nil, errors.New("handler cannot be nil")
	}

	p := &Pool{
		config:  cfg,
		handler: handler,
		logger:  logger.With(infralogger.String("component", "worker_pool")),
		slots:   make([]*slot, cfg.PoolSize),
		free:    make(chan *slot, cfg.PoolSize),
		stopCh:  make(chan struct{}),
		running: make(map[string]context.CancelCauseFunc),
	}
	for i := range cfg.PoolSize {
		p.slots[i] = newSlot(i)
		p.free <- p.slots[i]
	}
	p.state.Store(int32(PoolStateStopped))
	return p, nil
}

// Start starts the pool. Job contexts inherit values but not cancellation
// from ctx.
func (p *Pool) Start(ctx context.Context) error {
	if !p.state.CompareAndSwap(int32(PoolStateStopped), int32(PoolStateRunning)) {
		return errors.New("pool is already running")
	}
	p.baseCtx, p.cancelBase = context.WithCancelCause(context.WithoutCancel(ctx))

	p.logger.Info("Worker pool started", infralogger.Int("pool_size", p.config.PoolSize))
	return nil
}

// Stop stops accepting work and waits for running jobs up to the drain
// timeout or ctx, whichever comes first. Jobs still running afterwards are
// cancelled and awaited.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.state.CompareAndSwap(int32(PoolStateRunning), int32(PoolStateDraining)) {
		p.mu.Unlock()
		return ErrPoolNotRunning
	}
	close(p.stopCh)
	p.mu.Unlock()
	p.logger.Info("Worker pool draining")

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	drain := time.NewTimer(p.config.DrainTimeout)
	defer drain.Stop()

	select {
	case <-done:
		p.logger.Info("Worker pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("Worker pool stop timed out, cancelling jobs")
	case <-drain.C:
		p.logger.Warn("Worker pool drain timeout exceeded, cancelling jobs")
	}

	p.cancelBase(ErrPoolStopping)
	<-done
	p.state.Store(int32(PoolStateStopped))
	return nil
}

// Submit runs a delivery on a free slot, blocking while all slots are busy.
func (p *Pool) Submit(ctx context.Context, d *queue.Delivery) error {
	if p.State() != PoolStateRunning {
		return ErrPoolNotRunning
	}
	jobID := d.Task.JobID
	if p.isRunning(jobID) {
		return ErrJobAlreadyRunning
	}

	var s *slot
	select {
	case s = <-p.free:
	case <-ctx.Done():
		return ctx.Err()
	case <-p.stopCh:
		return ErrPoolNotRunning
	}

	jobCtx, cancel := context.WithCancelCause(p.baseCtx)
	jobCtx, cancelTimeout := context.WithTimeout(jobCtx, p.config.JobTimeout)

	// Registration and wg.Add happen under mu so Stop never races a late Add.
	p.mu.Lock()
	if p.State() != PoolStateRunning {
		p.mu.Unlock()
		cancelTimeout()
		cancel(nil)
		p.free <- s
		return ErrPoolNotRunning
	}
	if _, dup := p.running[jobID]; dup {
		p.mu.Unlock()
		cancelTimeout()
		cancel(nil)
		p.free <- s
		return ErrJobAlreadyRunning
	}
	p.running[jobID] = cancel
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer func() {
			cancelTimeout()
			cancel(nil)
			p.untrack(jobID)
			p.free <- s
			p.wg.Done()
		}()

		s.begin(jobID, time.Now())
		err := p.handler(jobCtx, d)
		s.end(err, time.Now())

		p.totalJobsProcessed.Add(1)
		if err != nil {
			p.totalJobsFailed.Add(1)
		} else {
			p.totalJobsSucceeded.Add(1)
		}
	}()
	return nil
}

func (p *Pool) isRunning(jobID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.running[jobID]
	return ok
}

func (p *Pool) untrack(jobID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.running, jobID)
}

// Cancel revokes a running job. It reports whether the job was running here.
func (p *Pool) Cancel(jobID string) bool {
	p.mu.Lock()
	cancel, ok := p.running[jobID]
	p.mu.Unlock()
	if ok {
		cancel(ErrJobRevoked)
	}
	return ok
}

// State returns the current pool state.
func (p *Pool) State() PoolState {
	return PoolState(p.state.Load())
}

// Size returns the pool size.
func (p *Pool) Size() int {
	return p.config.PoolSize
}

// BusyCount returns the number of busy slots.
func (p *Pool) BusyCount() int {
	count := 0
	for _, s := range p.slots {
		if s.busy() {
			count++
		}
	}
	return count
}

// Stats returns pool statistics.
func (p *Pool) Stats() PoolStats {
	slotStats := make([]SlotStats, len(p.slots))
	for i, s := range p.slots {
		slotStats[i] = s.stats()
	}
	busy := p.BusyCount()

	return PoolStats{
		State:         p.State().String(),
		PoolSize:      p.config.PoolSize,
		BusyWorkers:   busy,
		IdleWorkers:   p.config.PoolSize - busy,
		JobsProcessed: p.totalJobsProcessed.Load(),
		JobsSucceeded: p.totalJobsSucceeded.Load(),
		JobsFailed:    p.totalJobsFailed.Load(),
		Slots:         slotStats,
	}
}

// PoolStats holds statistics for the pool.
type PoolStats struct {
	State         string      `json:"state"`
	PoolSize      int         `json:"pool_size"`
	BusyWorkers   int         `json:"busy_workers"`
	IdleWorkers   int         `json:"idle_workers"`
	JobsProcessed int64       `json:"jobs_processed"`
	JobsSucceeded int64       `json:"jobs_succeeded"`
	JobsFailed    int64       `json:"jobs_failed"`
	Slots         []SlotStats `json:"slots"`
}

// SuccessRate returns the success rate as a percentage.
func (s PoolStats) SuccessRate() float64 {
	if s.JobsProcessed == 0 {
		return 0
	}
	return float64(s.JobsSucceeded) / float64(s.JobsProcessed) * percentageMultiplier
}

// Utilization returns the pool utilization as a percentage.
func (s PoolStats) Utilization() float64 {
	if s.PoolSize == 0 {
		return 0
	}
	return float64(s.BusyWorkers) / float64(s.PoolSize) * percentageMultiplier
}
