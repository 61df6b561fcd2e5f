package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation name for sync spans.
const TracerName = "github.com/pglemos/ml-bling-sync"

// Tracer starts spans for orchestration operations.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a tracer from the global provider.
func NewTracer() *Tracer {
	return &Tracer{tracer: otel.Tracer(TracerName)}
}

// QueueSyncSpan starts a span for sync admission.
// Caller is responsible for calling span.End().
//
//nolint:spancheck // span is returned to caller who manages its lifecycle
func (t *Tracer) QueueSyncSpan(ctx context.Context, integrationID, syncType, priority string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "orchestrator.queue_sync",
		trace.WithAttributes(
			attribute.String("integration.id", integrationID),
			attribute.String("job.sync_type", syncType),
			attribute.String("job.priority", priority),
		),
	)
}

// JobExecutionSpan starts a span for job execution.
// Caller is responsible for calling span.End().
//
//nolint:spancheck // span is returned to caller who manages its lifecycle
func (t *Tracer) JobExecutionSpan(ctx context.Context, jobID, integrationID, syncType string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "worker.execute_job",
		trace.WithAttributes(
			attribute.String("job.id", jobID),
			attribute.String("integration.id", integrationID),
			attribute.String("job.sync_type", syncType),
		),
	)
}

// ReplaySpan starts a span for replay execution.
// Caller is responsible for calling span.End().
//
//nolint:spancheck // span is returned to caller who manages its lifecycle
func (t *Tracer) ReplaySpan(ctx context.Context, replayID, originalJobID string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "replay.execute",
		trace.WithAttributes(
			attribute.String("replay.id", replayID),
			attribute.String("replay.original_job_id", originalJobID),
		),
	)
}

// AddJobAttributes adds job-related attributes to a span.
func AddJobAttributes(span trace.Span, jobID, status string, progress int) {
	span.SetAttributes(
		attribute.String("job.id", jobID),
		attribute.String("job.status", status),
		attribute.Int("job.progress", progress),
	)
}

// RecordError records an error on a span.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// SetOK marks a span successful.
func SetOK(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}
