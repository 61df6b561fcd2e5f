// Package circuitbreaker implements a per-resource circuit breaker whose
// state lives in Redis so every API and worker process sees the same state.
package circuitbreaker

import (
	"errors"
	"fmt"
	"time"

	"github.com/pglemos/ml-bling-sync/internal/observability"
)

// ErrCircuitOpen matches any *OpenError.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State represents the state of the circuit breaker.
type State string

const (
	// StateClosed passes calls through and counts failures.
	StateClosed State = "closed"
	// StateOpen fails calls fast until the recovery timeout elapses.
	StateOpen State = "open"
	// StateHalfOpen lets probe calls through to test recovery.
	StateHalfOpen State = "half_open"
)

func (s State) gauge() int {
	switch s {
	case StateOpen:
		return observability.BreakerStateOpen
	case StateHalfOpen:
		return observability.BreakerStateHalfOpen
	default:
		return observability.BreakerStateClosed
	}
}

// Config configures a circuit breaker.
type Config struct {
	// FailureThreshold is the failure count that opens the circuit.
	FailureThreshold int `yaml:"failure_threshold"`
	// RecoveryTimeout is how long the circuit stays open before probing.
	RecoveryTimeout time.Duration `yaml:"recovery_timeout"`
	// SuccessThreshold is the number of half-open successes that close it.
	SuccessThreshold int `yaml:"success_threshold"`
	// CallTimeout bounds every protected call.
	CallTimeout time.Duration `yaml:"call_timeout"`
	// StateTTL is the expiry of the persisted state, refreshed on each write.
	StateTTL time.Duration `yaml:"state_ttl"`
}

// DefaultConfig returns the breaker defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		RecoveryTimeout:  60 * time.Second,
		SuccessThreshold: 3,
		CallTimeout:      30 * time.Second,
		StateTTL:         time.Hour,
	}
}

// SetDefaults fills zero values.
func (c *Config) SetDefaults() {
	d := DefaultConfig()
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = d.RecoveryTimeout
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = d.SuccessThreshold
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = d.CallTimeout
	}
	if c.StateTTL <= 0 {
		c.StateTTL = d.StateTTL
	}
}

// Record is the persisted breaker state.
type Record struct {
	State           State      `json:"state"`
	FailureCount    int        `json:"failure_count"`
	SuccessCount    int        `json:"success_count"`
	TotalRequests   int64      `json:"total_requests"`
	TotalFailures   int64      `json:"total_failures"`
	TotalSuccesses  int64      `json:"total_successes"`
	LastFailureTime *time.Time `json:"last_failure_time,omitempty"`
	LastSuccessTime *time.Time `json:"last_success_time,omitempty"`
	OpenedAt        *time.Time `json:"opened_at,omitempty"`
	LastStateChange time.Time  `json:"last_state_change"`
}

// NewRecord returns a closed record.
func NewRecord(now time.Time) *Record {
	return &Record{State: StateClosed, LastStateChange: now}
}

// retryAfter is the time left before an open circuit may probe.
func (r *Record) retryAfter(cfg Config, now time.Time) time.Duration {
	if r.State != StateOpen || r.OpenedAt == nil {
		return 0
	}
	return max(0, cfg.RecoveryTimeout-now.Sub(*r.OpenedAt))
}

// OpenError is returned when a call is rejected by an open circuit.
type OpenError struct {
	Name       string
	RetryAfter time.Duration
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit breaker %s is open, retry after %s", e.Name, e.RetryAfter.Round(time.Second))
}

// Is makes errors.Is(err, ErrCircuitOpen) hold.
func (e *OpenError) Is(target error) bool {
	return target == ErrCircuitOpen
}

// Stats is a snapshot of a breaker for operators.
type Stats struct {
	Name              string     `json:"name"`
	State             State      `json:"state"`
	FailureCount      int        `json:"failure_count"`
	SuccessCount      int        `json:"success_count"`
	TotalRequests     int64      `json:"total_requests"`
	TotalFailures     int64      `json:"total_failures"`
	TotalSuccesses    int64      `json:"total_successes"`
	FailureRate       float64    `json:"failure_rate"`
	RetryAfterSeconds float64    `json:"retry_after_seconds,omitempty"`
	LastFailureTime   *time.Time `json:"last_failure_time,omitempty"`
	LastSuccessTime   *time.Time `json:"last_success_time,omitempty"`
	OpenedAt          *time.Time `json:"opened_at,omitempty"`
	LastStateChange   time.Time  `json:"last_state_change"`
	Config            Config     `json:"config"`
}

func newStats(name string, r *Record, cfg Config, now time.Time) Stats {
	var rate float64
	if r.TotalRequests > 0 {
		rate = float64(r.TotalFailures) / float64(r.TotalRequests)
	}
	return Stats{
		Name:              name,
		State:             r.State,
		FailureCount:      r.FailureCount,
		SuccessCount:      r.SuccessCount,
		TotalRequests:     r.TotalRequests,
		TotalFailures:     r.TotalFailures,
		TotalSuccesses:    r.TotalSuccesses,
		FailureRate:       rate,
		RetryAfterSeconds: r.retryAfter(cfg, now).Seconds(),
		LastFailureTime:   r.LastFailureTime,
		LastSuccessTime:   r.LastSuccessTime,
		OpenedAt:          r.OpenedAt,
		LastStateChange:   r.LastStateChange,
		Config:            cfg,
	}
}
