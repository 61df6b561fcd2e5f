package circuitbreaker_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	infralogger "github.com/pglemos/ml-bling-sync/infrastructure/logger"
	"github.com/pglemos/ml-bling-sync/internal/circuitbreaker"
)

var errBoom = errors.New("boom")

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	mr     *miniredis.Miniredis
	client *redis.Client
	clock  *fakeClock
	mgr    *circuitbreaker.Manager
}

func setup(t *testing.T) *fixture {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	return &fixture{
		mr:     mr,
		client: client,
		clock:  clock,
		mgr:    newManager(client, clock),
	}
}

func newManager(client *redis.Client, clock *fakeClock) *circuitbreaker.Manager {
	log := infralogger.NewNop()
	store := circuitbreaker.NewRedisStore(client, time.Hour, log)
	return circuitbreaker.NewManager(store, circuitbreaker.DefaultConfig(), log, circuitbreaker.WithClock(clock.Now))
}

func fail(context.Context) error    { return errBoom }
func succeed(context.Context) error { return nil }

func tripOpen(t *testing.T, b *circuitbreaker.Breaker) {
	t.Helper()
	for range 5 {
		require.ErrorIs(t, b.Call(context.Background(), fail), errBoom)
	}
}

func TestBreaker_OpensAfterThresholdAndFailsFast(t *testing.T) {
	t.Parallel()

	f := setup(t)
	ctx := context.Background()
	b := f.mgr.Get("integration:I1")

	tripOpen(t, b)

	stats, err := b.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, circuitbreaker.StateOpen, stats.State)
	require.NotNil(t, stats.OpenedAt)

	invoked := false
	err = b.Call(ctx, func(context.Context) error {
		invoked = true
		return nil
	})
	require.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen)
	assert.False(t, invoked)

	var openErr *circuitbreaker.OpenError
	require.ErrorAs(t, err, &openErr)
	assert.Equal(t, 60*time.Second, openErr.RetryAfter)

	assert.ErrorIs(t, b.Allow(ctx), circuitbreaker.ErrCircuitOpen)
}

func TestBreaker_HalfOpenClosesAfterSuccesses(t *testing.T) {
	t.Parallel()

	f := setup(t)
	ctx := context.Background()
	b := f.mgr.Get("integration:I1")

	tripOpen(t, b)
	f.clock.Advance(60 * time.Second)
	require.NoError(t, b.Allow(ctx))

	require.NoError(t, b.Call(ctx, succeed))
	stats, err := b.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, circuitbreaker.StateHalfOpen, stats.State)

	require.NoError(t, b.Call(ctx, succeed))
	require.NoError(t, b.Call(ctx, succeed))

	stats, err = b.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, circuitbreaker.StateClosed, stats.State)
	assert.Equal(t, 0, stats.FailureCount)
	assert.Nil(t, stats.OpenedAt)
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	t.Parallel()

	f := setup(t)
	ctx := context.Background()
	b := f.mgr.Get("integration:I1")

	tripOpen(t, b)
	first, err := b.Stats(ctx)
	require.NoError(t, err)

	f.clock.Advance(61 * time.Second)
	require.ErrorIs(t, b.Call(ctx, fail), errBoom)

	stats, err := b.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, circuitbreaker.StateOpen, stats.State)
	require.NotNil(t, stats.OpenedAt)
	assert.True(t, stats.OpenedAt.After(*first.OpenedAt))
	assert.ErrorIs(t, b.Call(ctx, succeed), circuitbreaker.ErrCircuitOpen)
}

func TestBreaker_StateSharedAcrossManagers(t *testing.T) {
	t.Parallel()

	f := setup(t)
	ctx := context.Background()

	tripOpen(t, f.mgr.Get("erp"))

	other := newManager(f.client, f.clock)
	assert.ErrorIs(t, other.Get("erp").Allow(ctx), circuitbreaker.ErrCircuitOpen)
	assert.NoError(t, other.Get("marketplace").Allow(ctx))
}

func TestBreaker_CallTimeoutCountsAsFailure(t *testing.T) {
	t.Parallel()

	f := setup(t)
	log := infralogger.NewNop()
	cfg := circuitbreaker.DefaultConfig()
	cfg.CallTimeout = 10 * time.Millisecond
	cfg.FailureThreshold = 1
	mgr := circuitbreaker.NewManager(circuitbreaker.NewRedisStore(f.client, time.Hour, log), cfg, log, circuitbreaker.WithClock(f.clock.Now))
	b := mgr.Get("slow")

	err := b.Call(context.Background(), func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	stats, err := b.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, circuitbreaker.StateOpen, stats.State)
}

func TestBreaker_StoreDownDefaultsClosed(t *testing.T) {
	t.Parallel()

	f := setup(t)
	b := f.mgr.Get("erp")
	f.mr.Close()

	invoked := false
	err := b.Call(context.Background(), func(context.Context) error {
		invoked = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, invoked)
	assert.NoError(t, b.Allow(context.Background()))
}

func TestBreaker_ConcurrentFailuresOpenOnce(t *testing.T) {
	t.Parallel()

	f := setup(t)
	b := f.mgr.Get("erp")

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = b.Call(context.Background(), fail)
		}()
	}
	wg.Wait()

	stats, err := b.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, circuitbreaker.StateOpen, stats.State)
	assert.Equal(t, int64(10), stats.TotalRequests)
	assert.GreaterOrEqual(t, stats.TotalFailures, int64(5))
	assert.Equal(t, float64(stats.TotalFailures)/10, stats.FailureRate)
}

func TestManager_ResetAndAllStats(t *testing.T) {
	t.Parallel()

	f := setup(t)
	ctx := context.Background()

	tripOpen(t, f.mgr.Get("a"))
	tripOpen(t, f.mgr.Get("b"))

	all, err := f.mgr.AllStats(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].Name)
	assert.Positive(t, all[0].RetryAfterSeconds)

	require.NoError(t, f.mgr.Reset(ctx, "a"))
	assert.NoError(t, f.mgr.Get("a").Allow(ctx))
	assert.Error(t, f.mgr.Get("b").Allow(ctx))

	require.NoError(t, f.mgr.ResetAll(ctx))
	all, err = f.mgr.AllStats(ctx)
	require.NoError(t, err)
	for _, s := range all {
		assert.Equal(t, circuitbreaker.StateClosed, s.State)
		assert.Zero(t, s.TotalRequests)
	}
}

func TestRedisStore_TTLRefreshed(t *testing.T) {
	t.Parallel()

	f := setup(t)
	require.NoError(t, f.mgr.Get("erp").Call(context.Background(), succeed))

	assert.Equal(t, time.Hour, f.mr.TTL("circuit_breaker:erp"))
	assert.False(t, f.mr.Exists("circuit_breaker:erp:lock"))
}
