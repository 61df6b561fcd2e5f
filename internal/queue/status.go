package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// TaskState is the dispatch-level state of a task, tracked separately from
// the persisted job status.
type TaskState string

const (
	TaskPending  TaskState = "PENDING"
	TaskStarted  TaskState = "STARTED"
	TaskProgress TaskState = "PROGRESS"
	TaskSuccess  TaskState = "SUCCESS"
	TaskFailure  TaskState = "FAILURE"
	TaskRevoked  TaskState = "REVOKED"
)

// ErrTaskNotFound is returned when no status is recorded for a task.
var ErrTaskNotFound = errors.New("task status not found")

// TaskStatus is the worker-reported state of a task.
type TaskStatus struct {
	TaskID    string         `json:"task_id"`
	JobID     string         `json:"job_id,omitempty"`
	State     TaskState      `json:"state"`
	Progress  int            `json:"progress"`
	Info      map[string]any `json:"info,omitempty"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// StatusStore keeps task status hashes with a bounded lifetime.
type StatusStore struct {
	client *StreamsClient
	ttl    time.Duration
	now    func() time.Time
}

// NewStatusStore creates a status store.
func NewStatusStore(client *StreamsClient, ttl time.Duration) *StatusStore {
	return &StatusStore{client: client, ttl: ttl, now: time.Now}
}

func (s *StatusStore) key(taskID string) string {
	return s.client.Key("task", taskID)
}

// Set records the task state. A nil info leaves previously stored info as is.
func (s *StatusStore) Set(ctx context.Context, taskID, jobID string, state TaskState, progress int, info map[string]any) error {
	fields := map[string]any{
		"state":      string(state),
		"progress":   progress,
		"updated_at": s.now().UTC().Format(time.RFC3339Nano),
	}
	if jobID != "" {
		fields["job_id"] = jobID
	}
	if info != nil {
		raw, err := json.Marshal(info)
		if err != nil {
			return fmt.Errorf("failed to serialize task info: %w", err)
		}
		fields["info"] = string(raw)
	}

	key := s.key(taskID)
	pipe := s.client.Client().TxPipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to set task status: %w", err)
	}
	return nil
}

// Get loads a task status.
func (s *StatusStore) Get(ctx context.Context, taskID string) (*TaskStatus, error) {
	values, err := s.client.Client().HGetAll(ctx, s.key(taskID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to get task status: %w", err)
	}
	if len(values) == 0 {
		return nil, ErrTaskNotFound
	}

	st := &TaskStatus{
		TaskID: taskID,
		JobID:  values["job_id"],
		State:  TaskState(values["state"]),
	}
	st.Progress, _ = strconv.Atoi(values["progress"])
	if ts, parseErr := time.Parse(time.RFC3339Nano, values["updated_at"]); parseErr == nil {
		st.UpdatedAt = ts
	}
	if raw := values["info"]; raw != "" {
		_ = json.Unmarshal([]byte(raw), &st.Info)
	}
	return st, nil
}
