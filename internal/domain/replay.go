package domain

import "time"

// ReplayStatus is the lifecycle state of a ReplayRequest.
type ReplayStatus string

const (
	ReplayStatusPending   ReplayStatus = "pending"
	ReplayStatusRunning   ReplayStatus = "running"
	ReplayStatusCompleted ReplayStatus = "completed"
	ReplayStatusFailed    ReplayStatus = "failed"
	ReplayStatusCancelled ReplayStatus = "cancelled"
)

// ReplayRequest re-runs a finished job's parameters as a new job.
type ReplayRequest struct {
	ID             string       `json:"id"`
	OriginalJobID  string       `json:"original_job_id"`
	NewJobID       string       `json:"new_job_id,omitempty"`
	TenantID       string       `json:"tenant_id"`
	IntegrationID  string       `json:"integration_id"`
	ConnectorType  string       `json:"connector_type"`
	SyncType       SyncType     `json:"sync_type"`
	Status         ReplayStatus `json:"status"`
	CreatedBy      string       `json:"created_by"`
	ErrorMessage   string       `json:"error_message,omitempty"`
	ConfigOverride *SyncOptions `json:"config_override,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	StartedAt      *time.Time   `json:"started_at,omitempty"`
	CompletedAt    *time.Time   `json:"completed_at,omitempty"`
}

// Clone returns a copy safe to hand outside the owning manager's lock.
func (r *ReplayRequest) Clone() *ReplayRequest {
	c := *r
	if r.ConfigOverride != nil {
		o := *r.ConfigOverride
		c.ConfigOverride = &o
	}
	if r.StartedAt != nil {
		t := *r.StartedAt
		c.StartedAt = &t
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}
