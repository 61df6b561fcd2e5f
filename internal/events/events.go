// Package events fans job and replay updates out across processes over
// Redis pub/sub and relays them into the local SSE broker.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	infralogger "github.com/pglemos/ml-bling-sync/infrastructure/logger"
	"github.com/pglemos/ml-bling-sync/infrastructure/sse"
	"github.com/pglemos/ml-bling-sync/internal/domain"
)

// ChannelName returns the pub/sub channel for a key prefix.
func ChannelName(prefix string) string {
	return prefix + ":events"
}

// Publisher publishes events to the shared channel. Publishing is best
// effort: failures are logged and never surface to the caller.
type Publisher struct {
	client  redis.UniversalClient
	channel string
	log     infralogger.Logger
}

// NewPublisher creates a publisher on the channel for prefix.
func NewPublisher(client redis.UniversalClient, prefix string, log infralogger.Logger) *Publisher {
	return &Publisher{
		client:  client,
		channel: ChannelName(prefix),
		log:     log.With(infralogger.String("component", "event_publisher")),
	}
}

// Publish sends one event.
func (p *Publisher) Publish(ctx context.Context, event sse.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		p.log.Warn("Failed to encode event", infralogger.String("type", event.Type), infralogger.Error(err))
		return
	}
	if err = p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		p.log.Warn("Failed to publish event",
			infralogger.String("type", event.Type),
			infralogger.Error(err),
			infralogger.Degraded(),
		)
	}
}

// JobStatus publishes a sync:status event for a job.
func (p *Publisher) JobStatus(ctx context.Context, tenantID string, job *domain.SyncJob) {
	data := sse.SyncStatusData{
		JobID:         job.ID,
		IntegrationID: job.IntegrationID,
		SyncType:      string(job.SyncType),
		Status:        string(job.Status),
	}
	if job.ErrorMessage != nil {
		data.ErrorMessage = *job.ErrorMessage
	}
	p.Publish(ctx, sse.NewSyncStatusEvent(tenantID, data))
}

// JobProgress publishes a sync:progress event.
func (p *Publisher) JobProgress(ctx context.Context, tenantID, jobID string, progress int) {
	p.Publish(ctx, sse.NewSyncProgressEvent(tenantID, jobID, progress))
}

// JobFinished publishes a sync:completed event for a terminal job.
func (p *Publisher) JobFinished(ctx context.Context, tenantID string, job *domain.SyncJob) {
	data := sse.SyncCompletedData{
		JobID:  job.ID,
		Status: string(job.Status),
	}
	if d, ok := job.Duration(); ok {
		data.DurationMs = d.Milliseconds()
	}
	if job.Result != nil {
		data.ItemsProcessed = job.Result.ItemsProcessed
		data.ItemsFailed = job.Result.ItemsFailed
	}
	if job.ErrorMessage != nil {
		data.ErrorMessage = *job.ErrorMessage
	}
	p.Publish(ctx, sse.NewSyncCompletedEvent(tenantID, data))
}

// ReplayStatus publishes a replay:status event.
func (p *Publisher) ReplayStatus(ctx context.Context, r *domain.ReplayRequest) {
	p.Publish(ctx, sse.NewReplayStatusEvent(r.TenantID, sse.ReplayStatusData{
		ReplayID:      r.ID,
		OriginalJobID: r.OriginalJobID,
		NewJobID:      r.NewJobID,
		Status:        string(r.Status),
		ErrorMessage:  r.ErrorMessage,
	}))
}

// wireEvent keeps the payload raw so the relay forwards it untouched.
type wireEvent struct {
	Type   string          `json:"type"`
	Data   json.RawMessage `json:"data"`
	ID     string          `json:"id,omitempty"`
	Retry  int             `json:"retry,omitempty"`
	Tenant string          `json:"tenant,omitempty"`
}

// RelayConfig holds reconnect settings for the relay.
type RelayConfig struct {
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
}

const (
	defaultReconnectDelay      = time.Second
	defaultMaxReconnectDelay   = 30 * time.Second
	reconnectBackoffMultiplier = 2
)

// Relay forwards events from the shared channel into an SSE broker.
type Relay struct {
	client  redis.UniversalClient
	channel string
	broker  sse.Publisher
	cfg     RelayConfig
	log     infralogger.Logger
}

// NewRelay creates a relay for the channel of prefix.
func NewRelay(client redis.UniversalClient, prefix string, broker sse.Publisher, cfg RelayConfig, log infralogger.Logger) *Relay {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = defaultReconnectDelay
	}
	if cfg.MaxReconnectDelay <= 0 {
		cfg.MaxReconnectDelay = defaultMaxReconnectDelay
	}
	return &Relay{
		client:  client,
		channel: ChannelName(prefix),
		broker:  broker,
		cfg:     cfg,
		log:     log.With(infralogger.String("component", "event_relay")),
	}
}

// Run relays events until ctx is done, resubscribing with exponential
// backoff when the subscription drops.
func (r *Relay) Run(ctx context.Context) error {
	delay := r.cfg.ReconnectDelay
	for {
		err := r.listen(ctx)
		if ctx.Err() != nil {
			return nil
		}
		r.log.Warn("Event subscription lost, reconnecting",
			infralogger.Error(err),
			infralogger.Duration("delay", delay),
		)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		delay = min(delay*reconnectBackoffMultiplier, r.cfg.MaxReconnectDelay)
	}
}

func (r *Relay) listen(ctx context.Context) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer func() { _ = sub.Close() }()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("channel %s closed", r.channel)
			}
			r.forward(ctx, msg.Payload)
		}
	}
}

func (r *Relay) forward(ctx context.Context, payload string) {
	var w wireEvent
	if err := json.Unmarshal([]byte(payload), &w); err != nil {
		r.log.Debug("Dropping undecodable event", infralogger.Error(err))
		return
	}
	event := sse.Event{Type: w.Type, Data: w.Data, ID: w.ID, Retry: w.Retry, Tenant: w.Tenant}
	if err := r.broker.Publish(ctx, event); err != nil {
		r.log.Debug("SSE broker rejected event", infralogger.String("type", w.Type), infralogger.Error(err))
	}
}
