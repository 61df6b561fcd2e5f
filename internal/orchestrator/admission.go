package orchestrator

import (
	"errors"
	"fmt"
	"time"

	"github.com/pglemos/ml-bling-sync/internal/circuitbreaker"
	"github.com/pglemos/ml-bling-sync/internal/domain"
)

// Outcome is the result of an admission check.
type Outcome int

const (
	// Admitted means the request may create a job.
	Admitted Outcome = iota
	// RejectedCircuitOpen means the integration's breaker is open.
	RejectedCircuitOpen
	// RejectedQuota means the tenant's admission quota is exhausted.
	RejectedQuota
)

// String returns the metric label for an outcome.
func (o Outcome) String() string {
	switch o {
	case Admitted:
		return "admitted"
	case RejectedCircuitOpen:
		return "circuit_open"
	case RejectedQuota:
		return "quota_exceeded"
	default:
		return "unknown"
	}
}

// Admission is the typed result of admission control. Rejections are
// expected outcomes and carry a retry hint rather than being errors.
type Admission struct {
	Outcome    Outcome
	Reason     string
	RetryAfter time.Duration
	// Degraded is set when a control could not be evaluated and allowed
	// the request by default.
	Degraded bool
}

// Admitted reports whether the request passed.
func (a Admission) Admitted() bool {
	return a.Outcome == Admitted
}

// Err converts a rejection into the domain error returned to callers.
func (a Admission) Err() error {
	switch a.Outcome {
	case RejectedCircuitOpen:
		return domain.NewIntegrationUnavailableError(a.Reason, a.RetryAfter, circuitbreaker.ErrCircuitOpen)
	case RejectedQuota:
		return domain.NewQuotaExceededError(a.Reason, a.RetryAfter)
	default:
		return nil
	}
}

func circuitRejection(integrationID string, err error) Admission {
	a := Admission{
		Outcome: RejectedCircuitOpen,
		Reason:  fmt.Sprintf("integration %s is temporarily unavailable", integrationID),
	}
	var open *circuitbreaker.OpenError
	if errors.As(err, &open) {
		a.RetryAfter = open.RetryAfter
	}
	return a
}

func quotaRejection(tenantID string, limit int, retryAfter time.Duration) Admission {
	return Admission{
		Outcome:    RejectedQuota,
		Reason:     fmt.Sprintf("tenant %s exceeded %d sync requests per window", tenantID, limit),
		RetryAfter: retryAfter,
	}
}
