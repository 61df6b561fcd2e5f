package circuitbreaker

import (
	"context"
	"time"

	infralogger "github.com/pglemos/ml-bling-sync/infrastructure/logger"
	"github.com/pglemos/ml-bling-sync/internal/observability"
)

// Op is a protected call.
type Op = func(ctx context.Context) error

type transition struct {
	from, to State
	failures int
}

// Breaker guards one named resource. All state is read and written through
// the Store under a per-name lock.
type Breaker struct {
	name    string
	cfg     Config
	store   Store
	log     infralogger.Logger
	events  *observability.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

func newBreaker(name string, cfg Config, store Store, log infralogger.Logger, metrics *observability.Metrics, now func() time.Time) *Breaker {
	log = log.With(infralogger.String("breaker", name))
	return &Breaker{
		name:    name,
		cfg:     cfg,
		store:   store,
		log:     log,
		events:  observability.NewLogger(log),
		metrics: metrics,
		now:     now,
	}
}

// Name returns the resource name.
func (b *Breaker) Name() string {
	return b.name
}

// Allow reports whether a call would currently be admitted. It never mutates
// state. An unreadable store counts as closed.
func (b *Breaker) Allow(ctx context.Context) error {
	r, err := b.store.Load(ctx, b.name)
	if err != nil {
		b.degraded("Breaker state unreadable, assuming closed", err)
		return nil
	}
	if r == nil || r.State != StateOpen {
		return nil
	}
	if wait := r.retryAfter(b.cfg, b.now()); wait > 0 {
		return &OpenError{Name: b.name, RetryAfter: wait}
	}
	return nil
}

// Call runs op under the breaker. While the circuit is open and the recovery
// timeout has not elapsed it returns *OpenError without invoking op. Otherwise
// op runs under the call timeout and its result is recorded. op's own error
// is returned unchanged.
func (b *Breaker) Call(ctx context.Context, op Op) error {
	if err := b.before(ctx); err != nil {
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, b.cfg.CallTimeout)
	err := op(callCtx)
	cancel()

	// A caller that gave up says nothing about the resource.
	if err != nil && ctx.Err() != nil {
		return err
	}

	b.after(context.WithoutCancel(ctx), err)
	return err
}

func (b *Breaker) before(ctx context.Context) error {
	var rejection error
	var changed *transition

	lockErr := b.store.WithLock(ctx, b.name, func(ctx context.Context) error {
		r, err := b.store.Load(ctx, b.name)
		if err != nil {
			b.degraded("Breaker state unreadable, assuming closed", err)
			return nil
		}
		now := b.now()
		if r == nil {
			r = NewRecord(now)
		}
		r.TotalRequests++

		if r.State == StateOpen {
			if wait := r.retryAfter(b.cfg, now); wait > 0 {
				rejection = &OpenError{Name: b.name, RetryAfter: wait}
			} else {
				changed = b.transition(r, StateHalfOpen, now)
			}
		}

		if err = b.store.Save(ctx, b.name, r); err != nil {
			b.degraded("Breaker state not saved", err)
		}
		return nil
	})
	if lockErr != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b.degraded("Breaker lock unavailable, assuming closed", lockErr)
		return nil
	}

	b.report(changed)
	return rejection
}

func (b *Breaker) after(ctx context.Context, callErr error) {
	var changed *transition

	lockErr := b.store.WithLock(ctx, b.name, func(ctx context.Context) error {
		r, err := b.store.Load(ctx, b.name)
		if err != nil {
			return err
		}
		now := b.now()
		if r == nil {
			r = NewRecord(now)
		}

		if callErr == nil {
			changed = b.recordSuccess(r, now)
		} else {
			changed = b.recordFailure(r, now)
		}
		return b.store.Save(ctx, b.name, r)
	})
	if lockErr != nil {
		b.degraded("Breaker result not recorded", lockErr)
		return
	}

	b.report(changed)
}

func (b *Breaker) recordSuccess(r *Record, now time.Time) *transition {
	r.SuccessCount++
	r.TotalSuccesses++
	r.LastSuccessTime = &now

	if r.State == StateHalfOpen && r.SuccessCount >= b.cfg.SuccessThreshold {
		return b.transition(r, StateClosed, now)
	}
	return nil
}

func (b *Breaker) recordFailure(r *Record, now time.Time) *transition {
	r.FailureCount++
	r.TotalFailures++
	r.LastFailureTime = &now

	switch r.State {
	case StateClosed:
		if r.FailureCount >= b.cfg.FailureThreshold {
			return b.transition(r, StateOpen, now)
		}
	case StateHalfOpen:
		return b.transition(r, StateOpen, now)
	case StateOpen:
		// Late result from a call admitted before the circuit opened.
	}
	return nil
}

// transition moves r to state to. opened_at is set only when entering Open;
// failure_count resets only when entering Closed.
func (b *Breaker) transition(r *Record, to State, now time.Time) *transition {
	t := &transition{from: r.State, to: to, failures: r.FailureCount}
	r.State = to
	r.LastStateChange = now

	switch to {
	case StateOpen:
		r.OpenedAt = &now
		r.SuccessCount = 0
	case StateHalfOpen:
		r.SuccessCount = 0
	case StateClosed:
		r.FailureCount = 0
		r.SuccessCount = 0
		r.OpenedAt = nil
	}
	return t
}

// Stats returns a snapshot of the persisted state.
func (b *Breaker) Stats(ctx context.Context) (Stats, error) {
	r, err := b.store.Load(ctx, b.name)
	if err != nil {
		return Stats{}, err
	}
	now := b.now()
	if r == nil {
		r = NewRecord(now)
	}
	return newStats(b.name, r, b.cfg, now), nil
}

// Reset forces the breaker closed and clears its counters.
func (b *Breaker) Reset(ctx context.Context) error {
	var from State
	err := b.store.WithLock(ctx, b.name, func(ctx context.Context) error {
		r, loadErr := b.store.Load(ctx, b.name)
		if loadErr == nil && r != nil {
			from = r.State
		}
		return b.store.Save(ctx, b.name, NewRecord(b.now()))
	})
	if err != nil {
		return err
	}

	b.log.Info("Circuit breaker manually reset")
	if from != "" && from != StateClosed {
		b.report(&transition{from: from, to: StateClosed})
	}
	return nil
}

func (b *Breaker) report(t *transition) {
	if t == nil {
		return
	}
	b.metrics.RecordBreakerTransition(b.name, string(t.to), t.to.gauge())

	switch t.to {
	case StateOpen:
		b.events.CircuitBreakerOpened(b.name, t.failures)
	case StateHalfOpen:
		b.events.CircuitBreakerHalfOpen(b.name)
	case StateClosed:
		b.events.CircuitBreakerClosed(b.name)
	}
}

func (b *Breaker) degraded(msg string, err error) {
	b.log.Warn(msg, infralogger.Error(err), infralogger.Degraded())
}
