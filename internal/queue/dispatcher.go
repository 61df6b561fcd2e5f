package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	infralogger "github.com/pglemos/ml-bling-sync/infrastructure/logger"
	"github.com/pglemos/ml-bling-sync/internal/domain"
)

// Dispatcher is the producer-side view of the queue: immediate and
// deferred dispatch, task status, and revocation.
type Dispatcher struct {
	cfg       Config
	streams   *StreamsClient
	producer  *Producer
	scheduled *ScheduledSet
	status    *StatusStore
	revoked   *Revocations
	now       func() time.Time
}

// NewDispatcher builds a dispatcher over a Redis client.
func NewDispatcher(client redis.UniversalClient, cfg Config) *Dispatcher {
	cfg.SetDefaults()
	streams := NewStreamsClient(client, cfg.Prefix)
	return &Dispatcher{
		cfg:       cfg,
		streams:   streams,
		producer:  NewProducer(streams, cfg.MaxStreamLen),
		scheduled: NewScheduledSet(streams),
		status:    NewStatusStore(streams, cfg.TaskStatusTTL),
		revoked:   NewRevocations(streams, cfg.CancelFlagTTL),
		now:       time.Now,
	}
}

// Dispatch enqueues a task now and records it as PENDING.
func (d *Dispatcher) Dispatch(ctx context.Context, task *Task) (string, error) {
	taskID, err := d.producer.Enqueue(ctx, task)
	if err != nil {
		return "", err
	}
	// The task is already queued and the worker overwrites the status on start.
	_ = d.status.Set(ctx, taskID, task.JobID, TaskPending, 0, nil)
	return taskID, nil
}

// Defer schedules a task for dispatch at a future time.
func (d *Dispatcher) Defer(ctx context.Context, task *Task, at time.Time) error {
	return d.scheduled.Add(ctx, task, at)
}

// DispatchedTask pairs a job with the task id it was dispatched under.
type DispatchedTask struct {
	JobID  string
	TaskID string
}

// DispatchDue moves up to limit due deferred tasks onto their streams.
// Tasks that fail to enqueue are put back for the next pass.
func (d *Dispatcher) DispatchDue(ctx context.Context, limit int) ([]DispatchedTask, error) {
	now := d.now()
	due, err := d.scheduled.PopDue(ctx, now, limit)
	if err != nil {
		return nil, err
	}

	dispatched := make([]DispatchedTask, 0, len(due))
	var errs []error
	for _, task := range due {
		taskID, dispatchErr := d.Dispatch(ctx, task)
		if dispatchErr != nil {
			errs = append(errs, fmt.Errorf("job %s: %w", task.JobID, dispatchErr))
			if addErr := d.scheduled.Add(ctx, task, now); addErr != nil {
				errs = append(errs, addErr)
			}
			continue
		}
		dispatched = append(dispatched, DispatchedTask{JobID: task.JobID, TaskID: taskID})
	}
	return dispatched, errors.Join(errs...)
}

// Revoke cancels a job at the dispatch level: the cancel flag is set and
// broadcast, a deferred entry is dropped, and a still-queued stream entry is
// deleted and marked REVOKED. A task a worker already started is left for
// that worker to confirm. It reports whether the revocation is already
// confirmed. taskID may be empty for jobs that were never dispatched.
func (d *Dispatcher) Revoke(ctx context.Context, jobID, taskID string, priority domain.Priority) (bool, error) {
	if err := d.revoked.Revoke(ctx, jobID); err != nil {
		return false, err
	}
	if _, err := d.scheduled.Remove(ctx, jobID); err != nil {
		return false, err
	}
	if taskID == "" {
		return true, nil
	}

	st, err := d.status.Get(ctx, taskID)
	if err != nil && !errors.Is(err, ErrTaskNotFound) {
		return false, err
	}
	switch {
	case st == nil || st.State == TaskPending:
		if _, err = d.producer.Remove(ctx, priority, taskID); err != nil {
			return false, err
		}
		return true, d.status.Set(ctx, taskID, jobID, TaskRevoked, 0, nil)
	case st.State == TaskRevoked:
		return true, nil
	default:
		return false, nil
	}
}

// IsRevoked reports whether the job has been cancelled.
func (d *Dispatcher) IsRevoked(ctx context.Context, jobID string) (bool, error) {
	return d.revoked.IsRevoked(ctx, jobID)
}

// ListenRevocations calls fn for each job revoked while ctx is live.
func (d *Dispatcher) ListenRevocations(ctx context.Context, fn func(jobID string)) error {
	return d.revoked.Listen(ctx, fn)
}

// TaskStatus returns the worker-reported task status.
func (d *Dispatcher) TaskStatus(ctx context.Context, taskID string) (*TaskStatus, error) {
	return d.status.Get(ctx, taskID)
}

// SetTaskStatus records a task state transition.
func (d *Dispatcher) SetTaskStatus(ctx context.Context, taskID, jobID string, state TaskState, progress int, info map[string]any) error {
	return d.status.Set(ctx, taskID, jobID, state, progress, info)
}

// QueueDepths returns stream depths for all priorities.
func (d *Dispatcher) QueueDepths(ctx context.Context) (map[domain.Priority]int64, error) {
	return d.producer.QueueDepths(ctx)
}

// ScheduledCount returns the number of deferred tasks.
func (d *Dispatcher) ScheduledCount(ctx context.Context) (int64, error) {
	return d.scheduled.Count(ctx)
}

// NewConsumer creates a consumer sharing this dispatcher's configuration.
func (d *Dispatcher) NewConsumer(consumerID string, log infralogger.Logger) *Consumer {
	return NewConsumer(d.streams, d.cfg, consumerID, log)
}
