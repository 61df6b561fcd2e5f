package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pglemos/ml-bling-sync/internal/domain"
)

// Stream message fields.
const (
	fieldJobID         = "job_id"
	fieldIntegrationID = "integration_id"
	fieldSyncType      = "sync_type"
	fieldPriority      = "priority"
	fieldWeight        = "weight"
	fieldOptions       = "options"
	fieldEnqueuedAt    = "enqueued_at"
)

// Task is what the worker pool receives for one job.
type Task struct {
	// ID is the stream message id, empty until the task is enqueued.
	ID            string             `json:"id,omitempty"`
	JobID         string             `json:"job_id"`
	IntegrationID string             `json:"integration_id"`
	SyncType      domain.SyncType    `json:"sync_type"`
	Priority      domain.Priority    `json:"priority"`
	Options       domain.SyncOptions `json:"options"`
	EnqueuedAt    time.Time          `json:"enqueued_at"`
}

// NewTask builds a task for a persisted job.
func NewTask(job *domain.SyncJob) *Task {
	return &Task{
		JobID:         job.ID,
		IntegrationID: job.IntegrationID,
		SyncType:      job.SyncType,
		Priority:      job.Priority,
		Options:       job.Options,
	}
}

func (t *Task) values() (map[string]any, error) {
	opts, err := json.Marshal(t.Options)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize options: %w", err)
	}
	return map[string]any{
		fieldJobID:         t.JobID,
		fieldIntegrationID: t.IntegrationID,
		fieldSyncType:      string(t.SyncType),
		fieldPriority:      string(t.Priority),
		fieldWeight:        t.Priority.Weight(),
		fieldOptions:       string(opts),
		fieldEnqueuedAt:    t.EnqueuedAt.UTC().Format(time.RFC3339Nano),
	}, nil
}

func parseTask(msg redis.XMessage, priority domain.Priority) (*Task, error) {
	str := func(k string) string {
		v, _ := msg.Values[k].(string)
		return v
	}

	t := &Task{
		ID:            msg.ID,
		JobID:         str(fieldJobID),
		IntegrationID: str(fieldIntegrationID),
		SyncType:      domain.SyncType(str(fieldSyncType)),
		Priority:      domain.Priority(str(fieldPriority)),
	}
	if t.JobID == "" {
		return nil, errors.New("missing job id")
	}
	if !t.Priority.IsValid() {
		t.Priority = priority
	}
	if raw := str(fieldOptions); raw != "" {
		if err := json.Unmarshal([]byte(raw), &t.Options); err != nil {
			return nil, fmt.Errorf("failed to unmarshal options: %w", err)
		}
	}
	if ts, err := time.Parse(time.RFC3339Nano, str(fieldEnqueuedAt)); err == nil {
		t.EnqueuedAt = ts
	}
	return t, nil
}
