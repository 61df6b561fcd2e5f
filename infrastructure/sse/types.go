// Package sse provides Server-Sent Events fan-out for live sync updates.
package sse

import (
	"context"
	"time"
)

// Event is one Server-Sent Event.
// Wire format: event: <Type>\nid: <ID>\ndata: <JSON payload>\n\n
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
	ID   string `json:"id,omitempty"`
	// Retry is the reconnect delay hint in milliseconds.
	Retry int `json:"retry,omitempty"`
	// Tenant scopes the event for per-tenant subscriptions. It is not written to the stream.
	Tenant string `json:"tenant,omitempty"`
}

// Publisher sends events to the broker.
type Publisher interface {
	// Publish returns an error when the publish buffer is full or ctx is done.
	Publish(ctx context.Context, event Event) error
}

// Subscriber receives events from the broker.
type Subscriber interface {
	// Subscribe returns an event channel and a cleanup func. A closed channel
	// means the subscription was rejected or the broker stopped.
	Subscribe(ctx context.Context, opts ...ClientOption) (<-chan Event, func())
}

// Broker manages SSE connections and event distribution.
type Broker interface {
	Publisher
	Subscriber
	Start(ctx context.Context) error
	Stop() error
	ClientCount() int
	TenantClientCount(tenant string) int
	HeartbeatInterval() time.Duration
}

// EventFilter reports whether an event should be delivered to a client.
type EventFilter func(event Event) bool

// ClientOptions configures a single SSE client connection.
type ClientOptions struct {
	Filter     EventFilter
	BufferSize int
	// Tenant is the tenant the client subscribed for; empty means all tenants.
	Tenant string
}

// Event types emitted by the sync service.
const (
	EventTypeSyncStatus    = "sync:status"
	EventTypeSyncProgress  = "sync:progress"
	EventTypeSyncCompleted = "sync:completed"
	EventTypeReplayStatus  = "replay:status"
)

const (
	eventTypeConnected = "connected"
)

// SyncStatusData is the payload for sync:status events.
type SyncStatusData struct {
	JobID         string `json:"job_id"`
	IntegrationID string `json:"integration_id"`
	SyncType      string `json:"sync_type"`
	Status        string `json:"status"`
	ErrorMessage  string `json:"error_message,omitempty"`
	Timestamp     string `json:"timestamp"`
}

// SyncProgressData is the payload for sync:progress events.
type SyncProgressData struct {
	JobID     string `json:"job_id"`
	Progress  int    `json:"progress"`
	Timestamp string `json:"timestamp"`
}

// SyncCompletedData is the payload for sync:completed events.
type SyncCompletedData struct {
	JobID          string `json:"job_id"`
	Status         string `json:"status"`
	DurationMs     int64  `json:"duration_ms"`
	ItemsProcessed int    `json:"items_processed"`
	ItemsFailed    int    `json:"items_failed"`
	ErrorMessage   string `json:"error_message,omitempty"`
	Timestamp      string `json:"timestamp"`
}

// ReplayStatusData is the payload for replay:status events.
type ReplayStatusData struct {
	ReplayID      string `json:"replay_id"`
	OriginalJobID string `json:"original_job_id"`
	NewJobID      string `json:"new_job_id,omitempty"`
	Status        string `json:"status"`
	ErrorMessage  string `json:"error_message,omitempty"`
	Timestamp     string `json:"timestamp"`
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// NewSyncStatusEvent creates a sync:status event.
func NewSyncStatusEvent(tenant string, data SyncStatusData) Event {
	data.Timestamp = timestamp()
	return Event{Type: EventTypeSyncStatus, Data: data, ID: data.JobID, Tenant: tenant}
}

// NewSyncProgressEvent creates a sync:progress event.
func NewSyncProgressEvent(tenant, jobID string, progress int) Event {
	return Event{
		Type:   EventTypeSyncProgress,
		Data:   SyncProgressData{JobID: jobID, Progress: progress, Timestamp: timestamp()},
		ID:     jobID,
		Tenant: tenant,
	}
}

// NewSyncCompletedEvent creates a sync:completed event.
func NewSyncCompletedEvent(tenant string, data SyncCompletedData) Event {
	data.Timestamp = timestamp()
	return Event{Type: EventTypeSyncCompleted, Data: data, ID: data.JobID, Tenant: tenant}
}

// NewReplayStatusEvent creates a replay:status event.
func NewReplayStatusEvent(tenant string, data ReplayStatusData) Event {
	data.Timestamp = timestamp()
	return Event{Type: EventTypeReplayStatus, Data: data, ID: data.ReplayID, Tenant: tenant}
}
