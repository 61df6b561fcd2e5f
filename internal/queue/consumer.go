package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	infralogger "github.com/pglemos/ml-bling-sync/infrastructure/logger"
	"github.com/pglemos/ml-bling-sync/internal/domain"
)

// Delivery is a task read from a stream that must be acknowledged.
type Delivery struct {
	Task   *Task
	Stream string
}

// Consumer reads tasks from priority streams using a consumer group.
type Consumer struct {
	client     *StreamsClient
	cfg        Config
	consumerID string
	log        infralogger.Logger
}

// NewConsumer creates a new consumer. consumerID identifies this worker
// within the group.
func NewConsumer(client *StreamsClient, cfg Config, consumerID string, log infralogger.Logger) *Consumer {
	cfg.SetDefaults()
	return &Consumer{
		client:     client,
		cfg:        cfg,
		consumerID: consumerID,
		log:        log.With(infralogger.String("component", "queue_consumer")),
	}
}

// Initialize creates consumer groups for all priority streams.
func (c *Consumer) Initialize(ctx context.Context) error {
	for _, priority := range domain.PrioritiesByUrgency() {
		stream := c.client.StreamName(priority)
		if err := c.client.CreateConsumerGroup(ctx, stream, c.cfg.ConsumerGroup); err != nil {
			return fmt.Errorf("failed to create consumer group for %s: %w", stream, err)
		}
	}
	return nil
}

// Read returns the next batch of tasks. Stale pending tasks are reclaimed
// first, then streams are drained strictly in urgency order. When every
// stream is empty Read blocks for up to the configured block timeout.
func (c *Consumer) Read(ctx context.Context) ([]*Delivery, error) {
	reclaimed, err := c.reclaimPending(ctx)
	if err != nil {
		c.log.Warn("Failed to reclaim pending tasks", infralogger.Error(err))
	}
	if len(reclaimed) > 0 {
		return reclaimed, nil
	}

	for _, priority := range domain.PrioritiesByUrgency() {
		stream := c.client.StreamName(priority)
		streams, readErr := c.client.XReadGroup(ctx, c.cfg.ConsumerGroup, c.consumerID,
			[]string{stream, ">"}, c.cfg.BatchSize, -1)
		if readErr != nil && !errors.Is(readErr, redis.Nil) {
			return nil, fmt.Errorf("failed to read from %s: %w", stream, readErr)
		}
		if deliveries := c.parseStreams(ctx, streams); len(deliveries) > 0 {
			return deliveries, nil
		}
	}

	return c.blockingRead(ctx)
}

func (c *Consumer) blockingRead(ctx context.Context) ([]*Delivery, error) {
	priorities := domain.PrioritiesByUrgency()
	args := make([]string, 0, len(priorities)*2)
	for _, priority := range priorities {
		args = append(args, c.client.StreamName(priority))
	}
	for range priorities {
		args = append(args, ">")
	}

	streams, err := c.client.XReadGroup(ctx, c.cfg.ConsumerGroup, c.consumerID,
		args, c.cfg.BatchSize, c.cfg.BlockTimeout)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read from streams: %w", err)
	}
	return c.parseStreams(ctx, streams), nil
}

func (c *Consumer) reclaimPending(ctx context.Context) ([]*Delivery, error) {
	for _, priority := range domain.PrioritiesByUrgency() {
		stream := c.client.StreamName(priority)
		pending, err := c.client.XPendingExt(ctx, stream, c.cfg.ConsumerGroup, "-", "+", c.cfg.BatchSize)
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return nil, err
		}

		var stale []string
		for _, p := range pending {
			if p.Idle >= c.cfg.ClaimMinIdle {
				stale = append(stale, p.ID)
			}
		}
		if len(stale) == 0 {
			continue
		}

		messages, err := c.client.XClaim(ctx, stream, c.cfg.ConsumerGroup, c.consumerID, c.cfg.ClaimMinIdle, stale...)
		if err != nil {
			return nil, err
		}
		deliveries := c.parseStreams(ctx, []redis.XStream{{Stream: stream, Messages: messages}})
		if len(deliveries) > 0 {
			c.log.Info("Reclaimed stale tasks",
				infralogger.String("stream", stream),
				infralogger.Int("count", len(deliveries)),
			)
			return deliveries, nil
		}
	}
	return nil, nil
}

// parseStreams converts stream messages to deliveries, discarding entries
// that cannot be parsed.
func (c *Consumer) parseStreams(ctx context.Context, streams []redis.XStream) []*Delivery {
	var deliveries []*Delivery
	byPriority := make(map[domain.Priority][]*Delivery)
	for _, s := range streams {
		priority := c.client.priorityOfStream(s.Stream)
		for _, msg := range s.Messages {
			task, err := parseTask(msg, priority)
			if err != nil {
				c.log.Warn("Discarding malformed task",
					infralogger.String("stream", s.Stream),
					infralogger.String("message_id", msg.ID),
					infralogger.Error(err),
				)
				_ = c.client.XAckDel(ctx, s.Stream, c.cfg.ConsumerGroup, msg.ID)
				continue
			}
			byPriority[priority] = append(byPriority[priority], &Delivery{Task: task, Stream: s.Stream})
		}
	}
	for _, priority := range domain.PrioritiesByUrgency() {
		deliveries = append(deliveries, byPriority[priority]...)
	}
	return deliveries
}

// Acknowledge marks a delivery as processed and removes it from its stream.
func (c *Consumer) Acknowledge(ctx context.Context, d *Delivery) error {
	return c.client.XAckDel(ctx, d.Stream, c.cfg.ConsumerGroup, d.Task.ID)
}

// PendingCount returns the number of delivered but unacknowledged tasks.
func (c *Consumer) PendingCount(ctx context.Context) (int64, error) {
	var total int64
	for _, priority := range domain.PrioritiesByUrgency() {
		pending, err := c.client.Client().XPending(ctx, c.client.StreamName(priority), c.cfg.ConsumerGroup).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return 0, err
		}
		total += pending.Count
	}
	return total, nil
}
