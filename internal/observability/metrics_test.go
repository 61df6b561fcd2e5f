package observability_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/pglemos/ml-bling-sync/internal/observability"
)

func TestMetrics_RecordsOnRegistry(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := observability.NewMetrics(reg)

	m.RecordJobQueued("products", "normal")
	m.RecordJobQueued("products", "normal")
	m.RecordRateLimitDecision("sync", true, true)
	m.RecordBreakerTransition("integration:1", "open", observability.BreakerStateOpen)

	assert.InDelta(t, 2, testutil.ToFloat64(m.JobsQueuedTotal.WithLabelValues("products", "normal")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.RateLimitDegraded), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.CircuitBreakerState.WithLabelValues("integration:1")), 0)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	t.Parallel()

	var m *observability.Metrics
	assert.NotPanics(t, func() {
		m.RecordJobQueued("orders", "high")
		m.RecordJobStarted()
		m.RecordJobFinished("completed", "orders", 1.5)
		m.SetWorkerPoolMetrics(4, 1, 3)
		m.RecordReplay("completed")
	})
}
