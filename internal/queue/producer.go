package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pglemos/ml-bling-sync/internal/domain"
)

// Producer enqueues tasks to priority streams.
type Producer struct {
	client *StreamsClient
	maxLen int64
	now    func() time.Time
}

// NewProducer creates a new producer.
func NewProducer(client *StreamsClient, maxLen int64) *Producer {
	return &Producer{
		client: client,
		maxLen: maxLen,
		now:    time.Now,
	}
}

// Enqueue adds a task to the stream for its priority and returns the task id.
func (p *Producer) Enqueue(ctx context.Context, task *Task) (string, error) {
	if task == nil {
		return "", errors.New("task is nil")
	}
	if !task.Priority.IsValid() {
		task.Priority = domain.PriorityNormal
	}
	task.EnqueuedAt = p.now().UTC()

	values, err := task.values()
	if err != nil {
		return "", err
	}

	stream := p.client.StreamName(task.Priority)
	id, err := p.client.XAdd(ctx, stream, p.maxLen, values)
	if err != nil {
		return "", fmt.Errorf("failed to add to stream: %w", err)
	}
	task.ID = id
	return id, nil
}

// Remove deletes a queued message. It reports whether the entry existed.
func (p *Producer) Remove(ctx context.Context, priority domain.Priority, taskID string) (bool, error) {
	n, err := p.client.Client().XDel(ctx, p.client.StreamName(priority), taskID).Result()
	if err != nil {
		return false, fmt.Errorf("failed to delete stream entry: %w", err)
	}
	return n > 0, nil
}

// QueueDepth returns the number of queued or in-flight tasks for a priority.
func (p *Producer) QueueDepth(ctx context.Context, priority domain.Priority) (int64, error) {
	return p.client.XLen(ctx, p.client.StreamName(priority))
}

// QueueDepths returns depths for all priority levels.
func (p *Producer) QueueDepths(ctx context.Context) (map[domain.Priority]int64, error) {
	depths := make(map[domain.Priority]int64, len(domain.PrioritiesByUrgency()))
	for _, priority := range domain.PrioritiesByUrgency() {
		depth, err := p.QueueDepth(ctx, priority)
		if err != nil {
			return nil, fmt.Errorf("failed to get depth for %s: %w", priority, err)
		}
		depths[priority] = depth
	}
	return depths, nil
}
