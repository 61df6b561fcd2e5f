package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Revocations records cancellation requests and broadcasts them to workers.
type Revocations struct {
	client  *StreamsClient
	ttl     time.Duration
	channel string
}

// NewRevocations creates a revocation registry.
func NewRevocations(client *StreamsClient, ttl time.Duration) *Revocations {
	return &Revocations{
		client:  client,
		ttl:     ttl,
		channel: client.Key("cancel"),
	}
}

func (r *Revocations) key(jobID string) string {
	return r.client.Key("cancel", jobID)
}

// Revoke flags the job as cancelled and notifies listening workers.
func (r *Revocations) Revoke(ctx context.Context, jobID string) error {
	if err := r.client.Client().Set(ctx, r.key(jobID), "1", r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set cancel flag: %w", err)
	}
	if err := r.client.Client().Publish(ctx, r.channel, jobID).Err(); err != nil {
		return fmt.Errorf("failed to publish cancel: %w", err)
	}
	return nil
}

// IsRevoked reports whether a cancel flag is set for the job.
func (r *Revocations) IsRevoked(ctx context.Context, jobID string) (bool, error) {
	err := r.client.Client().Get(ctx, r.key(jobID)).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read cancel flag: %w", err)
	}
	return true, nil
}

// Listen calls fn for every revoked job id until ctx is done. The
// subscription is confirmed before Listen starts delivering.
func (r *Revocations) Listen(ctx context.Context, fn func(jobID string)) error {
	sub := r.client.Client().Subscribe(ctx, r.channel)
	defer func() { _ = sub.Close() }()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to cancellations: %w", err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			fn(msg.Payload)
		}
	}
}
