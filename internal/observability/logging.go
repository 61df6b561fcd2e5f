package observability

import (
	"time"

	infralogger "github.com/pglemos/ml-bling-sync/infrastructure/logger"
)

// Logger logs job lifecycle events with consistent field names.
type Logger struct {
	log infralogger.Logger
}

// NewLogger creates a job event logger.
func NewLogger(log infralogger.Logger) *Logger {
	return &Logger{log: log}
}

// JobQueued logs an admitted job.
func (l *Logger) JobQueued(jobID, integrationID, syncType, priority string, scheduledAt time.Time) {
	l.log.Info("Sync job queued",
		infralogger.String("job_id", jobID),
		infralogger.String("integration_id", integrationID),
		infralogger.String("sync_type", syncType),
		infralogger.String("priority", priority),
		infralogger.Time("scheduled_at", scheduledAt),
	)
}

// AdmissionRejected logs a rejected sync request.
func (l *Logger) AdmissionRejected(integrationID, reason string, retryAfter time.Duration) {
	l.log.Info("Sync request rejected",
		infralogger.String("integration_id", integrationID),
		infralogger.String("reason", reason),
		infralogger.Duration("retry_after", retryAfter),
	)
}

// JobStarted logs a job starting execution.
func (l *Logger) JobStarted(jobID, integrationID, syncType, taskID string) {
	l.log.Info("Sync job started",
		infralogger.String("job_id", jobID),
		infralogger.String("integration_id", integrationID),
		infralogger.String("sync_type", syncType),
		infralogger.String("task_id", taskID),
	)
}

// JobCompleted logs a job completing successfully.
func (l *Logger) JobCompleted(jobID string, duration time.Duration, itemsProcessed, itemsFailed int) {
	l.log.Info("Sync job completed",
		infralogger.String("job_id", jobID),
		infralogger.Duration("duration", duration),
		infralogger.Int("items_processed", itemsProcessed),
		infralogger.Int("items_failed", itemsFailed),
	)
}

// JobFailed logs a job failure.
func (l *Logger) JobFailed(jobID string, err error, duration time.Duration) {
	l.log.Error("Sync job failed",
		infralogger.String("job_id", jobID),
		infralogger.Error(err),
		infralogger.Duration("duration", duration),
	)
}

// JobCancelled logs a job observed as cancelled.
func (l *Logger) JobCancelled(jobID, by string) {
	l.log.Info("Sync job cancelled",
		infralogger.String("job_id", jobID),
		infralogger.String("cancelled_by", by),
	)
}

// JobRetrying logs a retry of a transient failure.
func (l *Logger) JobRetrying(jobID string, attempt int, delay time.Duration, err error) {
	l.log.Warn("Sync attempt failed, retrying",
		infralogger.String("job_id", jobID),
		infralogger.Int("attempt", attempt),
		infralogger.Duration("delay", delay),
		infralogger.Error(err),
	)
}

// CircuitBreakerOpened logs a circuit breaker opening.
func (l *Logger) CircuitBreakerOpened(name string, failures int) {
	l.log.Warn("Circuit breaker opened",
		infralogger.String("breaker", name),
		infralogger.Int("failure_count", failures),
	)
}

// CircuitBreakerHalfOpen logs a circuit breaker entering half-open state.
func (l *Logger) CircuitBreakerHalfOpen(name string) {
	l.log.Info("Circuit breaker half-open",
		infralogger.String("breaker", name),
	)
}

// CircuitBreakerClosed logs a circuit breaker closing.
func (l *Logger) CircuitBreakerClosed(name string) {
	l.log.Info("Circuit breaker closed",
		infralogger.String("breaker", name),
	)
}

// Error logs a general error.
func (l *Logger) Error(msg string, err error, fields ...infralogger.Field) {
	allFields := append([]infralogger.Field{infralogger.Error(err)}, fields...)
	l.log.Error(msg, allFields...)
}
