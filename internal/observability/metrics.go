// Package observability provides metrics, tracing, and structured event
// logging for sync orchestration.
package observability

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsNamespace is the namespace for all sync metrics.
const MetricsNamespace = "sync"

// Breaker state gauge values.
const (
	BreakerStateClosed   = 0
	BreakerStateOpen     = 1
	BreakerStateHalfOpen = 2
)

// Metrics holds all Prometheus metrics for the sync service. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	// Job metrics
	JobsQueuedTotal          *prometheus.CounterVec
	AdmissionRejections      *prometheus.CounterVec
	JobsFinishedTotal        *prometheus.CounterVec
	JobDurationSeconds       *prometheus.HistogramVec
	JobsRunning              prometheus.Gauge
	QueueDepth               *prometheus.GaugeVec
	ScheduledDispatchesTotal prometheus.Counter

	// Worker pool metrics
	WorkerPoolSize prometheus.Gauge
	WorkersBusy    prometheus.Gauge
	WorkersIdle    prometheus.Gauge

	// Circuit breaker metrics
	CircuitBreakerState       *prometheus.GaugeVec
	CircuitBreakerTransitions *prometheus.CounterVec

	// Rate limiter metrics
	RateLimitDecisions *prometheus.CounterVec
	RateLimitDegraded  prometheus.Counter

	// Retry and replay metrics
	RetryAttempts *prometheus.CounterVec
	ReplaysTotal  *prometheus.CounterVec
}

// NewMetrics creates and registers all sync metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	factory := promauto.With(reg)
	m := &Metrics{}

	m.initJobMetrics(factory)
	m.initWorkerMetrics(factory)
	m.initCircuitBreakerMetrics(factory)
	m.initRateLimitMetrics(factory)
	m.initRetryMetrics(factory)

	return m
}

func (m *Metrics) initJobMetrics(factory promauto.Factory) {
	m.JobsQueuedTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "jobs_queued_total",
			Help:      "Total number of sync jobs admitted and queued",
		},
		[]string{"sync_type", "priority"},
	)

	m.AdmissionRejections = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "admission_rejections_total",
			Help:      "Total number of sync requests rejected at admission",
		},
		[]string{"reason"},
	)

	m.JobsFinishedTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "jobs_finished_total",
			Help:      "Total number of sync jobs that reached a terminal state",
		},
		[]string{"status", "sync_type"},
	)

	m.JobDurationSeconds = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: MetricsNamespace,
			Name:      "job_duration_seconds",
			Help:      "Duration of sync job execution in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 15), // 0.1s to ~55min
		},
		[]string{"sync_type"},
	)

	m.JobsRunning = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: MetricsNamespace,
			Name:      "jobs_running",
			Help:      "Number of sync jobs currently executing in this process",
		},
	)

	m.QueueDepth = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: MetricsNamespace,
			Name:      "queue_depth",
			Help:      "Pending dispatches per priority stream",
		},
		[]string{"priority"},
	)

	m.ScheduledDispatchesTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "scheduled_dispatches_total",
			Help:      "Total number of deferred jobs moved to the dispatch queue",
		},
	)
}

func (m *Metrics) initWorkerMetrics(factory promauto.Factory) {
	m.WorkerPoolSize = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: MetricsNamespace,
			Subsystem: "worker",
			Name:      "pool_size",
			Help:      "Total size of the worker pool",
		},
	)

	m.WorkersBusy = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: MetricsNamespace,
			Subsystem: "worker",
			Name:      "busy",
			Help:      "Number of busy workers",
		},
	)

	m.WorkersIdle = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: MetricsNamespace,
			Subsystem: "worker",
			Name:      "idle",
			Help:      "Number of idle workers",
		},
	)
}

func (m *Metrics) initCircuitBreakerMetrics(factory promauto.Factory) {
	m.CircuitBreakerState = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: MetricsNamespace,
			Name:      "circuit_breaker_state",
			Help:      "Current state of circuit breaker (0=closed, 1=open, 2=half-open)",
		},
		[]string{"name"},
	)

	m.CircuitBreakerTransitions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "circuit_breaker_transitions_total",
			Help:      "Total number of circuit breaker state transitions",
		},
		[]string{"name", "to"},
	)
}

func (m *Metrics) initRateLimitMetrics(factory promauto.Factory) {
	m.RateLimitDecisions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "rate_limit_decisions_total",
			Help:      "Total number of rate limit decisions",
		},
		[]string{"class", "allowed"},
	)

	m.RateLimitDegraded = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "rate_limit_degraded_total",
			Help:      "Total number of requests admitted because the rate limit store was unavailable",
		},
	)
}

func (m *Metrics) initRetryMetrics(factory promauto.Factory) {
	m.RetryAttempts = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "retry_attempts_total",
			Help:      "Total number of retried operation attempts by outcome",
		},
		[]string{"outcome"},
	)

	m.ReplaysTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "replays_total",
			Help:      "Total number of replay state changes by resulting status",
		},
		[]string{"status"},
	)
}

// RecordJobQueued records an admitted job.
func (m *Metrics) RecordJobQueued(syncType, priority string) {
	if m == nil {
		return
	}
	m.JobsQueuedTotal.WithLabelValues(syncType, priority).Inc()
}

// RecordAdmissionRejection records a rejected sync request.
func (m *Metrics) RecordAdmissionRejection(reason string) {
	if m == nil {
		return
	}
	m.AdmissionRejections.WithLabelValues(reason).Inc()
}

// RecordJobStarted increments the running job count.
func (m *Metrics) RecordJobStarted() {
	if m == nil {
		return
	}
	m.JobsRunning.Inc()
}

// RecordJobFinished decrements the running job count and records the outcome.
func (m *Metrics) RecordJobFinished(status, syncType string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.JobsRunning.Dec()
	m.JobsFinishedTotal.WithLabelValues(status, syncType).Inc()
	m.JobDurationSeconds.WithLabelValues(syncType).Observe(durationSeconds)
}

// RecordQueueDepth records the current depth of a priority stream.
func (m *Metrics) RecordQueueDepth(priority string, depth int64) {
	if m == nil {
		return
	}
	m.QueueDepth.WithLabelValues(priority).Set(float64(depth))
}

// RecordScheduledDispatch records a deferred job becoming due.
func (m *Metrics) RecordScheduledDispatch() {
	if m == nil {
		return
	}
	m.ScheduledDispatchesTotal.Inc()
}

// SetWorkerPoolMetrics sets the worker pool metrics.
func (m *Metrics) SetWorkerPoolMetrics(total, busy, idle int) {
	if m == nil {
		return
	}
	m.WorkerPoolSize.Set(float64(total))
	m.WorkersBusy.Set(float64(busy))
	m.WorkersIdle.Set(float64(idle))
}

// RecordBreakerTransition records a state change of the named breaker.
func (m *Metrics) RecordBreakerTransition(name, to string, gauge int) {
	if m == nil {
		return
	}
	m.CircuitBreakerState.WithLabelValues(name).Set(float64(gauge))
	m.CircuitBreakerTransitions.WithLabelValues(name, to).Inc()
}

// RecordRateLimitDecision records an admission decision for a class.
func (m *Metrics) RecordRateLimitDecision(class string, allowed, degraded bool) {
	if m == nil {
		return
	}
	m.RateLimitDecisions.WithLabelValues(class, strconv.FormatBool(allowed)).Inc()
	if degraded {
		m.RateLimitDegraded.Inc()
	}
}

// RecordRetryAttempt records the outcome of one attempt: success, retry, or exhausted.
func (m *Metrics) RecordRetryAttempt(outcome string) {
	if m == nil {
		return
	}
	m.RetryAttempts.WithLabelValues(outcome).Inc()
}

// RecordReplay records a replay reaching status.
func (m *Metrics) RecordReplay(status string) {
	if m == nil {
		return
	}
	m.ReplaysTotal.WithLabelValues(status).Inc()
}
