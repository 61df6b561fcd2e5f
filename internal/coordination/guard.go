package coordination

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"

	infralogger "github.com/pglemos/ml-bling-sync/infrastructure/logger"
)

// GuardConfig tunes the local breaker that protects shared-store round trips.
type GuardConfig struct {
	FailureThreshold uint32        `yaml:"failure_threshold"`
	OpenTimeout      time.Duration `yaml:"open_timeout"`
	HalfOpenRequests uint32        `yaml:"half_open_requests"`
}

// DefaultGuardConfig returns the guard defaults.
func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		FailureThreshold: 5,
		OpenTimeout:      10 * time.Second,
		HalfOpenRequests: 1,
	}
}

// StoreGuard is an in-process breaker around Redis calls. When Redis is down
// it fails fast so callers reach their degraded defaults without waiting on
// a dial timeout per request.
type StoreGuard struct {
	cb *gobreaker.CircuitBreaker[any]
}

// NewStoreGuard creates a guard named name.
func NewStoreGuard(name string, cfg GuardConfig, log infralogger.Logger) *StoreGuard {
	defaults := DefaultGuardConfig()
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = defaults.FailureThreshold
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = defaults.OpenTimeout
	}
	if cfg.HalfOpenRequests == 0 {
		cfg.HalfOpenRequests = defaults.HalfOpenRequests
	}

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.HalfOpenRequests,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= cfg.FailureThreshold
		},
		// Caller cancellations say nothing about store health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("Store guard state change",
				infralogger.String("guard", name),
				infralogger.String("from", from.String()),
				infralogger.String("to", to.String()),
			)
		},
	}

	return &StoreGuard{cb: gobreaker.NewCircuitBreaker[any](settings)}
}

// Do runs fn through the guard. It returns gobreaker.ErrOpenState or
// gobreaker.ErrTooManyRequests without calling fn while the guard is open.
func (g *StoreGuard) Do(fn func() error) error {
	_, err := g.cb.Execute(func() (any, error) {
		return nil, fn()
	})
	return err
}

// State returns the guard state name.
func (g *StoreGuard) State() string {
	return g.cb.State().String()
}

// IsRejection reports whether err came from the guard rather than the store.
func IsRejection(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
