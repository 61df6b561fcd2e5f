package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// popDueScript atomically removes up to ARGV[2] entries scored at or before
// ARGV[1] and returns their payloads.
var popDueScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
local out = {}
for _, id in ipairs(ids) do
	redis.call('ZREM', KEYS[1], id)
	local payload = redis.call('HGET', KEYS[2], id)
	redis.call('HDEL', KEYS[2], id)
	if payload then
		table.insert(out, payload)
	end
end
return out
`)

// ScheduledSet holds tasks whose dispatch is deferred to a future time.
// Entries are keyed by job id, so rescheduling a job replaces its entry.
type ScheduledSet struct {
	client   redis.UniversalClient
	setKey   string
	tasksKey string
}

// NewScheduledSet creates a deferred-dispatch set.
func NewScheduledSet(client *StreamsClient) *ScheduledSet {
	return &ScheduledSet{
		client:   client.Client(),
		setKey:   client.Key("scheduled"),
		tasksKey: client.Key("scheduled", "tasks"),
	}
}

// Add schedules a task for dispatch at the given time.
func (s *ScheduledSet) Add(ctx context.Context, task *Task, at time.Time) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to serialize task: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.tasksKey, task.JobID, payload)
	pipe.ZAdd(ctx, s.setKey, redis.Z{Score: float64(at.UnixMilli()), Member: task.JobID})
	if _, err = pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to schedule task: %w", err)
	}
	return nil
}

// PopDue removes and returns up to limit tasks due at or before now.
func (s *ScheduledSet) PopDue(ctx context.Context, now time.Time, limit int) ([]*Task, error) {
	raw, err := popDueScript.Run(ctx, s.client, []string{s.setKey, s.tasksKey},
		now.UnixMilli(), limit).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("failed to pop due tasks: %w", err)
	}

	tasks := make([]*Task, 0, len(raw))
	for _, payload := range raw {
		var t Task
		if err = json.Unmarshal([]byte(payload), &t); err != nil {
			continue
		}
		tasks = append(tasks, &t)
	}
	return tasks, nil
}

// Remove drops a job's deferred task. It reports whether one existed.
func (s *ScheduledSet) Remove(ctx context.Context, jobID string) (bool, error) {
	pipe := s.client.TxPipeline()
	removed := pipe.ZRem(ctx, s.setKey, jobID)
	pipe.HDel(ctx, s.tasksKey, jobID)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("failed to remove scheduled task: %w", err)
	}
	return removed.Val() > 0, nil
}

// Count returns the number of deferred tasks.
func (s *ScheduledSet) Count(ctx context.Context) (int64, error) {
	return s.client.ZCard(ctx, s.setKey).Result()
}
