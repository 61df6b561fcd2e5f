// Package connector defines the boundary between sync jobs and the
// marketplace or ERP systems they synchronize with.
package connector

//go:generate mockgen -destination=../../testutils/mocks/connector/connector.go -package=connector github.com/pglemos/ml-bling-sync/internal/connector Connector

import (
	"context"
	"errors"
	"fmt"

	"github.com/pglemos/ml-bling-sync/internal/domain"
)

// Request describes one sync run handed to a connector.
type Request struct {
	JobID           string             `json:"job_id"`
	IntegrationID   string             `json:"integration_id"`
	TenantID        string             `json:"tenant_id"`
	IntegrationType string             `json:"integration_type"`
	SyncType        domain.SyncType    `json:"sync_type"`
	Options         domain.SyncOptions `json:"options"`
}

// ProgressFunc receives progress updates in the range 0-100.
type ProgressFunc func(progress int, info map[string]any)

// Connector performs a sync against an external system.
type Connector interface {
	Sync(ctx context.Context, req Request, progress ProgressFunc) (*domain.SyncResult, error)
}

// TransientError marks a failure worth retrying.
type TransientError struct {
	Err error
}

// NewTransientError wraps err as retryable.
func NewTransientError(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// Temporary reports true so retry predicates treat the error as transient.
func (e *TransientError) Temporary() bool {
	return true
}

// IsTransient reports whether err carries a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
