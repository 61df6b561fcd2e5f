// Package domain holds the sync service's core types: jobs, integrations,
// replays, their state machines and the error taxonomy.
package domain

import (
	"time"
)

// SyncType is the kind of data a job synchronizes.
type SyncType string

const (
	SyncTypeProducts  SyncType = "products"
	SyncTypeInventory SyncType = "inventory"
	SyncTypeOrders    SyncType = "orders"
)

// AllSyncTypes lists the accepted sync types.
func AllSyncTypes() []SyncType {
	return []SyncType{SyncTypeProducts, SyncTypeInventory, SyncTypeOrders}
}

// IsValid reports whether t is an accepted sync type.
func (t SyncType) IsValid() bool {
	switch t {
	case SyncTypeProducts, SyncTypeInventory, SyncTypeOrders:
		return true
	default:
		return false
	}
}

// DefaultLimit is the page size used when a request does not set one.
func (t SyncType) DefaultLimit() int {
	if t == SyncTypeOrders {
		return 50
	}
	return 100
}

// JobStatus is the lifecycle state of a SyncJob.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// AllJobStatuses lists every job status.
func AllJobStatuses() []JobStatus {
	return []JobStatus{JobStatusQueued, JobStatusRunning, JobStatusCompleted, JobStatusFailed, JobStatusCancelled}
}

// Priority orders dispatch. Higher priorities are drained first.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// PrioritiesByUrgency lists priorities from most to least urgent.
func PrioritiesByUrgency() []Priority {
	return []Priority{PriorityUrgent, PriorityHigh, PriorityNormal, PriorityLow}
}

// IsValid reports whether p is an accepted priority.
func (p Priority) IsValid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	default:
		return false
	}
}

// Weight is the dispatch weight carried with a queued job.
func (p Priority) Weight() int {
	switch p {
	case PriorityUrgent:
		return 10
	case PriorityHigh:
		return 8
	case PriorityNormal:
		return 5
	default:
		return 1
	}
}

// SyncJob is one unit of synchronization work.
type SyncJob struct {
	ID            string      `db:"id"             json:"id"`
	IntegrationID string      `db:"integration_id" json:"integration_id"`
	SyncType      SyncType    `db:"sync_type"      json:"sync_type"`
	Status        JobStatus   `db:"status"         json:"status"`
	Priority      Priority    `db:"priority"       json:"priority"`
	Progress      int         `db:"progress"       json:"progress"`
	Options       SyncOptions `db:"options"        json:"options"`
	Result        *SyncResult `db:"result"         json:"result,omitempty"`
	ErrorMessage  *string     `db:"error_message"  json:"error_message,omitempty"`
	TaskID        *string     `db:"task_id"        json:"task_id,omitempty"`
	UserID        *string     `db:"user_id"        json:"user_id,omitempty"`
	ScheduledAt   time.Time   `db:"scheduled_at"   json:"scheduled_at"`
	StartedAt     *time.Time  `db:"started_at"     json:"started_at,omitempty"`
	CompletedAt   *time.Time  `db:"completed_at"   json:"completed_at,omitempty"`
	CreatedAt     time.Time   `db:"created_at"     json:"created_at"`
	UpdatedAt     time.Time   `db:"updated_at"     json:"updated_at"`
}

// Duration returns completed_at - started_at when both are set.
func (j *SyncJob) Duration() (time.Duration, bool) {
	if j.StartedAt == nil || j.CompletedAt == nil {
		return 0, false
	}
	return j.CompletedAt.Sub(*j.StartedAt), true
}

// IsTerminal reports whether the job can no longer change.
func (j *SyncJob) IsTerminal() bool {
	return IsTerminalJobStatus(j.Status)
}

// SyncRequest is what callers submit to queue a job.
type SyncRequest struct {
	IntegrationID string      `json:"integration_id"`
	SyncType      SyncType    `json:"sync_type"`
	Priority      Priority    `json:"priority"`
	Options       SyncOptions `json:"options"`
	// ScheduledAt in the future defers dispatch until that time.
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
	UserID      string     `json:"user_id,omitempty"`
}

// Validate checks the request fields that do not need the job store.
func (r *SyncRequest) Validate() error {
	if r.IntegrationID == "" {
		return NewValidationError("integration_id is required")
	}
	if !r.SyncType.IsValid() {
		return NewValidationError("invalid sync_type %q: must be one of products, inventory, orders", r.SyncType)
	}
	if !r.Priority.IsValid() {
		return NewValidationError("invalid priority %q: must be one of low, normal, high, urgent", r.Priority)
	}
	return r.Options.Validate()
}

// SyncJobView is a job joined with the integration and tenant it belongs to,
// as read by the dashboard.
type SyncJobView struct {
	SyncJob
	TenantID        string `db:"tenant_id"        json:"tenant_id"`
	TenantName      string `db:"tenant_name"      json:"tenant_name"`
	IntegrationType string `db:"integration_type" json:"integration_type"`
}
