package worker_test

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	infralogger "github.com/pglemos/ml-bling-sync/infrastructure/logger"
	"github.com/pglemos/ml-bling-sync/internal/queue"
	"github.com/pglemos/ml-bling-sync/internal/worker"
)

func delivery(jobID string) *queue.Delivery {
	return &queue.Delivery{Task: &queue.Task{ID: "task-" + jobID, JobID: jobID}}
}

func TestPool_BoundsConcurrency(t *testing.T) {
	t.Parallel()

	var active, peak atomic.Int32
	handler := func(context.Context, *queue.Delivery) error {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		active.Add(-1)
		return nil
	}

	pool, err := worker.NewPool(worker.Config{PoolSize: 2}, handler, infralogger.NewNop())
	require.NoError(t, err)
	require.NoError(t, pool.Start(context.Background()))

	for i := range 6 {
		require.NoError(t, pool.Submit(context.Background(), delivery(fmt.Sprintf("job-%d", i))))
	}
	require.NoError(t, pool.Stop(context.Background()))

	assert.LessOrEqual(t, peak.Load(), int32(2))
	stats := pool.Stats()
	assert.Equal(t, int64(6), stats.JobsProcessed)
	assert.Equal(t, int64(6), stats.JobsSucceeded)
	assert.InDelta(t, 100.0, stats.SuccessRate(), 0.001)
	assert.Equal(t, "stopped", stats.State)
}

func TestPool_CancelRevokesRunningJob(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	cause := make(chan error, 1)
	handler := func(ctx context.Context, _ *queue.Delivery) error {
		close(started)
		<-ctx.Done()
		cause <- context.Cause(ctx)
		return ctx.Err()
	}

	pool, err := worker.NewPool(worker.Config{PoolSize: 1}, handler, infralogger.NewNop())
	require.NoError(t, err)
	require.NoError(t, pool.Start(context.Background()))
	require.NoError(t, pool.Submit(context.Background(), delivery("job-1")))

	<-started
	assert.False(t, pool.Cancel("job-2"))
	assert.True(t, pool.Cancel("job-1"))
	assert.ErrorIs(t, <-cause, worker.ErrJobRevoked)

	require.NoError(t, pool.Stop(context.Background()))
	assert.Equal(t, int64(1), pool.Stats().JobsFailed)
}

func TestPool_RedeliveryKeepsRunningJobRevocable(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	started := make(chan struct{})
	cause := make(chan error, 1)
	handler := func(ctx context.Context, _ *queue.Delivery) error {
		calls.Add(1)
		close(started)
		<-ctx.Done()
		cause <- context.Cause(ctx)
		return ctx.Err()
	}

	pool, err := worker.NewPool(worker.Config{PoolSize: 2}, handler, infralogger.NewNop())
	require.NoError(t, err)
	require.NoError(t, pool.Start(context.Background()))
	require.NoError(t, pool.Submit(context.Background(), delivery("job-1")))
	<-started

	redelivered := &queue.Delivery{Task: &queue.Task{ID: "task-job-1-claimed", JobID: "job-1"}}
	require.ErrorIs(t, pool.Submit(context.Background(), redelivered), worker.ErrJobAlreadyRunning)
	assert.Equal(t, 1, pool.BusyCount(), "redelivery must not occupy a slot")

	assert.True(t, pool.Cancel("job-1"))
	assert.ErrorIs(t, <-cause, worker.ErrJobRevoked)

	require.NoError(t, pool.Stop(context.Background()))
	assert.Equal(t, int32(1), calls.Load())
}

func TestPool_StopCancelsJobsAfterDrainTimeout(t *testing.T) {
	t.Parallel()

	cause := make(chan error, 1)
	started := make(chan struct{})
	handler := func(ctx context.Context, _ *queue.Delivery) error {
		close(started)
		<-ctx.Done()
		cause <- context.Cause(ctx)
		return nil
	}

	pool, err := worker.NewPool(worker.Config{PoolSize: 1, DrainTimeout: 20 * time.Millisecond}, handler, infralogger.NewNop())
	require.NoError(t, err)
	require.NoError(t, pool.Start(context.Background()))
	require.NoError(t, pool.Submit(context.Background(), delivery("job-1")))
	<-started

	require.NoError(t, pool.Stop(context.Background()))
	assert.ErrorIs(t, <-cause, worker.ErrPoolStopping)
	assert.ErrorIs(t, pool.Submit(context.Background(), delivery("job-2")), worker.ErrPoolNotRunning)
}

func TestPool_RejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	_, err := worker.NewPool(worker.Config{PoolSize: 500}, func(context.Context, *queue.Delivery) error { return nil }, infralogger.NewNop())
	require.Error(t, err)

	_, err = worker.NewPool(worker.Config{}, nil, infralogger.NewNop())
	require.Error(t, err)
}
