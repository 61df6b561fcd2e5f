// Package retry runs operations with exponential backoff and jitter for
// transient failures.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/pglemos/ml-bling-sync/internal/domain"
)

// Op is a retryable unit of work.
type Op func(ctx context.Context) error

// Policy configures retry behavior.
type Policy struct {
	// MaxAttempts is the maximum number of attempts including the first.
	MaxAttempts     int           `yaml:"max_attempts"`
	BaseDelay       time.Duration `yaml:"base_delay"`
	MaxDelay        time.Duration `yaml:"max_delay"`
	ExponentialBase float64       `yaml:"exponential_base"`
	Jitter          bool          `yaml:"jitter"`

	// IsRetryable classifies failures. Nil means DefaultIsRetryable.
	IsRetryable func(error) bool `yaml:"-"`
	// OnRetry is called before each backoff sleep with the failed attempt number.
	OnRetry func(attempt int, delay time.Duration, err error) `yaml:"-"`
}

// DefaultPolicy returns 3 attempts, 1s base, 60s cap, base 2 with jitter.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     3,
		BaseDelay:       time.Second,
		MaxDelay:        60 * time.Second,
		ExponentialBase: 2.0,
		Jitter:          true,
	}
}

// SetDefaults fills zero values from DefaultPolicy. Jitter is left as set.
func (p *Policy) SetDefaults() {
	d := DefaultPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = d.BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = d.MaxDelay
	}
	if p.ExponentialBase < 1 {
		p.ExponentialBase = d.ExponentialBase
	}
}

// Delay returns the sleep after failed attempt n (1-based):
// min(base * exp^(n-1), max), scaled into [0.5, 1.0] by rnd when jitter is on.
// rnd must be in [0, 1).
func Delay(p Policy, attempt int, rnd float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(p.BaseDelay) * math.Pow(p.ExponentialBase, float64(attempt-1))
	if d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	if p.Jitter {
		d *= 0.5 + rnd*0.5
	}
	return time.Duration(d)
}

// policyBackOff adapts Policy to backoff.BackOff.
type policyBackOff struct {
	policy  Policy
	attempt int
}

func (b *policyBackOff) NextBackOff() time.Duration {
	b.attempt++
	return Delay(b.policy, b.attempt, rand.Float64())
}

func (b *policyBackOff) Reset() {
	b.attempt = 0
}

// Do runs op up to p.MaxAttempts times. Non-retryable failures return
// immediately. After the final attempt the last error is returned unmodified.
func Do(ctx context.Context, p Policy, op Op) error {
	p.SetDefaults()
	isRetryable := p.IsRetryable
	if isRetryable == nil {
		isRetryable = DefaultIsRetryable
	}

	attempt := 0
	operation := func() error {
		attempt++
		err := op(ctx)
		if err != nil && !isRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	var notify backoff.Notify
	if p.OnRetry != nil {
		notify = func(err error, d time.Duration) {
			p.OnRetry(attempt, d, err)
		}
	}

	// #nosec G115 -- MaxAttempts is positive after SetDefaults
	b := backoff.WithContext(
		backoff.WithMaxRetries(&policyBackOff{policy: p}, uint64(p.MaxAttempts-1)),
		ctx,
	)
	return backoff.RetryNotify(operation, b, notify)
}

// Wrap returns op guarded by p, for composition inside a circuit breaker:
//
//	breaker.Call(ctx, retry.Wrap(policy, op))
func Wrap(p Policy, op Op) Op {
	return func(ctx context.Context) error {
		return Do(ctx, p, op)
	}
}

// RunWithBackoff is Do for operations that produce a value.
func RunWithBackoff[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := Do(ctx, p, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// temporary is implemented by errors that know whether a retry can help.
type temporary interface {
	Temporary() bool
}

// DefaultIsRetryable retries timeouts, network failures, and errors that
// report Temporary() == true. Classified service errors and caller
// cancellation are never retried.
func DefaultIsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}

	var derr *domain.Error
	if errors.As(err, &derr) {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	// net.Error also has Temporary, which reports false for refused dials.
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var t temporary
	if errors.As(err, &t) {
		return t.Temporary()
	}

	return false
}
