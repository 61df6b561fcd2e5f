// Package queue dispatches sync jobs to workers over Redis Streams, one
// stream per priority, with deferred dispatch, task status, and revocation.
package queue

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pglemos/ml-bling-sync/internal/domain"
)

const defaultPrefix = "sync"

// Config holds queue settings.
type Config struct {
	// Prefix namespaces every key, e.g. "sync" gives "sync:jobs:high".
	Prefix        string        `yaml:"prefix"`
	ConsumerGroup string        `yaml:"consumer_group"`
	BlockTimeout  time.Duration `yaml:"block_timeout"`
	BatchSize     int64         `yaml:"batch_size"`
	ClaimMinIdle  time.Duration `yaml:"claim_min_idle"`
	MaxStreamLen  int64         `yaml:"max_stream_len"`
	TaskStatusTTL time.Duration `yaml:"task_status_ttl"`
	CancelFlagTTL time.Duration `yaml:"cancel_flag_ttl"`
}

// SetDefaults fills zero values.
func (c *Config) SetDefaults() {
	if c.Prefix == "" {
		c.Prefix = defaultPrefix
	}
	if c.ConsumerGroup == "" {
		c.ConsumerGroup = "workers"
	}
	if c.BlockTimeout <= 0 {
		c.BlockTimeout = 5 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.ClaimMinIdle <= 0 {
		c.ClaimMinIdle = 5 * time.Minute
	}
	if c.MaxStreamLen <= 0 {
		c.MaxStreamLen = 10000
	}
	if c.TaskStatusTTL <= 0 {
		c.TaskStatusTTL = 24 * time.Hour
	}
	if c.CancelFlagTTL <= 0 {
		c.CancelFlagTTL = time.Hour
	}
}

// StreamsClient wraps a Redis client with streams-specific operations and
// key naming.
type StreamsClient struct {
	client redis.UniversalClient
	prefix string
}

// NewStreamsClient creates a StreamsClient from an existing Redis client.
func NewStreamsClient(client redis.UniversalClient, prefix string) *StreamsClient {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &StreamsClient{
		client: client,
		prefix: prefix,
	}
}

// StreamName returns the full stream name for a priority level.
func (c *StreamsClient) StreamName(priority domain.Priority) string {
	return fmt.Sprintf("%s:jobs:%s", c.prefix, priority)
}

// priorityOfStream maps a stream name back to its priority.
func (c *StreamsClient) priorityOfStream(stream string) domain.Priority {
	return domain.Priority(strings.TrimPrefix(stream, c.prefix+":jobs:"))
}

// Key returns a prefixed key.
func (c *StreamsClient) Key(parts ...string) string {
	return c.prefix + ":" + strings.Join(parts, ":")
}

// Client returns the underlying Redis client.
func (c *StreamsClient) Client() redis.UniversalClient {
	return c.client
}

// Ping checks if Redis is reachable.
func (c *StreamsClient) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// CreateConsumerGroup creates a consumer group for a stream if it doesn't exist.
func (c *StreamsClient) CreateConsumerGroup(ctx context.Context, stream, group string) error {
	err := c.client.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	return nil
}

// XAdd adds a message to a stream, trimming it approximately to maxLen.
func (c *StreamsClient) XAdd(ctx context.Context, stream string, maxLen int64, values map[string]any) (string, error) {
	return c.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: maxLen,
		Approx: true,
		Values: values,
	}).Result()
}

// XReadGroup reads messages from streams using a consumer group. A negative
// block does not block.
func (c *StreamsClient) XReadGroup(
	ctx context.Context, group, consumer string, streams []string, count int64, block time.Duration,
) ([]redis.XStream, error) {
	return c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  streams,
		Count:    count,
		Block:    block,
	}).Result()
}

// XAckDel acknowledges and deletes messages so XLEN tracks queued plus
// in-flight work.
func (c *StreamsClient) XAckDel(ctx context.Context, stream, group string, ids ...string) error {
	pipe := c.client.TxPipeline()
	pipe.XAck(ctx, stream, group, ids...)
	pipe.XDel(ctx, stream, ids...)
	_, err := pipe.Exec(ctx)
	return err
}

// XPendingExt returns detailed pending entries for a stream.
func (c *StreamsClient) XPendingExt(
	ctx context.Context, stream, group, start, end string, count int64,
) ([]redis.XPendingExt, error) {
	return c.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: stream,
		Group:  group,
		Start:  start,
		End:    end,
		Count:  count,
	}).Result()
}

// XClaim claims pending messages for a consumer.
func (c *StreamsClient) XClaim(ctx context.Context, stream, group, consumer string, minIdle time.Duration, ids ...string) ([]redis.XMessage, error) {
	return c.client.XClaim(ctx, &redis.XClaimArgs{
		Stream:   stream,
		Group:    group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Messages: ids,
	}).Result()
}

// XLen returns the length of a stream.
func (c *StreamsClient) XLen(ctx context.Context, stream string) (int64, error) {
	return c.client.XLen(ctx, stream).Result()
}
