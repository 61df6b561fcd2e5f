package testutils

import (
	"context"
	"sync"

	"github.com/pglemos/ml-bling-sync/internal/domain"
)

// RecordedEvent is one event captured by EventRecorder.
type RecordedEvent struct {
	Kind     string
	TenantID string
	JobID    string
	Status   string
	Progress int
}

// EventRecorder captures job and replay events in memory.
type EventRecorder struct {
	mu     sync.Mutex
	events []RecordedEvent
}

func (r *EventRecorder) add(e RecordedEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of everything recorded so far.
func (r *EventRecorder) Events() []RecordedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]RecordedEvent(nil), r.events...)
}

// Kinds returns the recorded event kinds in order.
func (r *EventRecorder) Kinds() []string {
	events := r.Events()
	kinds := make([]string, len(events))
	for i, e := range events {
		kinds[i] = e.Kind
	}
	return kinds
}

func (r *EventRecorder) JobStatus(_ context.Context, tenantID string, job *domain.SyncJob) {
	r.add(RecordedEvent{Kind: "status", TenantID: tenantID, JobID: job.ID, Status: string(job.Status)})
}

func (r *EventRecorder) JobProgress(_ context.Context, tenantID, jobID string, progress int) {
	r.add(RecordedEvent{Kind: "progress", TenantID: tenantID, JobID: jobID, Progress: progress})
}

func (r *EventRecorder) JobFinished(_ context.Context, tenantID string, job *domain.SyncJob) {
	r.add(RecordedEvent{Kind: "finished", TenantID: tenantID, JobID: job.ID, Status: string(job.Status)})
}

func (r *EventRecorder) ReplayStatus(_ context.Context, replay *domain.ReplayRequest) {
	r.add(RecordedEvent{Kind: "replay", TenantID: replay.TenantID, JobID: replay.NewJobID, Status: string(replay.Status)})
}
