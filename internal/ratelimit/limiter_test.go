package ratelimit_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	infralogger "github.com/pglemos/ml-bling-sync/infrastructure/logger"
	"github.com/pglemos/ml-bling-sync/internal/domain"
	"github.com/pglemos/ml-bling-sync/internal/ratelimit"
)

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

func setupLimiter(t *testing.T, cfg ratelimit.Config) (*ratelimit.Limiter, *miniredis.Miniredis, *fakeClock) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	clock := &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	l := ratelimit.NewLimiter(client, cfg, infralogger.NewNop(), ratelimit.WithClock(clock.Now))
	return l, mr, clock
}

func TestAllowed_RejectsAfterLimitAndRecoversAfterWindow(t *testing.T) {
	t.Parallel()

	l, _, clock := setupLimiter(t, ratelimit.Config{})
	ctx := context.Background()

	for i := range 5 {
		d := l.Allowed(ctx, "k", 5, time.Minute, 1)
		require.True(t, d.Allowed, "call %d", i+1)
		assert.Equal(t, 5-i-1, d.Remaining)
	}

	d := l.Allowed(ctx, "k", 5, time.Minute, 1)
	assert.False(t, d.Allowed)
	assert.Equal(t, time.Minute, d.RetryAfter)
	assert.Equal(t, 0, d.Remaining)

	clock.Advance(time.Minute + time.Millisecond)
	d = l.Allowed(ctx, "k", 5, time.Minute, 1)
	assert.True(t, d.Allowed)
}

func TestAllowed_RejectionLeavesNoEntries(t *testing.T) {
	t.Parallel()

	l, mr, _ := setupLimiter(t, ratelimit.Config{})
	ctx := context.Background()

	require.True(t, l.Allowed(ctx, "k", 3, time.Minute, 2).Allowed)
	assert.False(t, l.Allowed(ctx, "k", 3, time.Minute, 2).Allowed)

	members, err := mr.ZMembers("k")
	require.NoError(t, err)
	assert.Len(t, members, 2)

	assert.True(t, l.Allowed(ctx, "k", 3, time.Minute, 1).Allowed)
}

func TestAllowed_ConcurrentCallersNeverExceedLimit(t *testing.T) {
	t.Parallel()

	l, _, _ := setupLimiter(t, ratelimit.Config{})
	ctx := context.Background()

	var admitted atomic.Int32
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Allowed(ctx, "shared", 20, time.Minute, 1).Allowed {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(20), admitted.Load())
}

func TestAllowed_FailsOpenWhenStoreDown(t *testing.T) {
	t.Parallel()

	l, mr, _ := setupLimiter(t, ratelimit.Config{})
	mr.Close()

	d := l.Allowed(context.Background(), "k", 1, time.Minute, 1)
	assert.True(t, d.Allowed)
	assert.True(t, d.Degraded)
}

func TestCheck_StarterSyncQuota(t *testing.T) {
	t.Parallel()

	l, _, _ := setupLimiter(t, ratelimit.Config{})
	ctx := context.Background()

	for range 100 {
		require.True(t, l.CheckAdmission(ctx, "tenant-1", domain.PlanStarter).Allowed)
	}

	d := l.CheckAdmission(ctx, "tenant-1", domain.PlanStarter)
	assert.False(t, d.Allowed)
	assert.Equal(t, 60*time.Second, d.RetryAfter)

	// Other tenants are unaffected.
	assert.True(t, l.CheckAdmission(ctx, "tenant-2", domain.PlanStarter).Allowed)
}

func TestUsageAndReset(t *testing.T) {
	t.Parallel()

	l, _, _ := setupLimiter(t, ratelimit.Config{})
	ctx := context.Background()

	for range 3 {
		l.Check(ctx, "t", domain.PlanProfessional, ratelimit.ClassAuth)
	}

	u, err := l.Usage(ctx, "t", domain.PlanProfessional, ratelimit.ClassAuth)
	require.NoError(t, err)
	assert.Equal(t, 180, u.Limit)
	assert.Equal(t, 3, u.Used)
	assert.Equal(t, 177, u.Remaining)
	assert.Equal(t, 60, u.WindowSeconds)

	// Usage does not consume.
	u, err = l.Usage(ctx, "t", domain.PlanProfessional, ratelimit.ClassAuth)
	require.NoError(t, err)
	assert.Equal(t, 3, u.Used)

	require.NoError(t, l.Reset(ctx, "t", ratelimit.ClassAuth))
	u, err = l.Usage(ctx, "t", domain.PlanProfessional, ratelimit.ClassAuth)
	require.NoError(t, err)
	assert.Equal(t, 0, u.Used)
}

func TestResetTenant(t *testing.T) {
	t.Parallel()

	l, mr, _ := setupLimiter(t, ratelimit.Config{})
	ctx := context.Background()

	l.Check(ctx, "t", domain.PlanStarter, ratelimit.ClassSync)
	l.Check(ctx, "t", domain.PlanStarter, ratelimit.ClassUpload)
	l.Check(ctx, "other", domain.PlanStarter, ratelimit.ClassSync)

	require.NoError(t, l.ResetTenant(ctx, "t"))
	assert.False(t, mr.Exists(ratelimit.Key("t", ratelimit.ClassSync)))
	assert.False(t, mr.Exists(ratelimit.Key("t", ratelimit.ClassUpload)))
	assert.True(t, mr.Exists(ratelimit.Key("other", ratelimit.ClassSync)))
}
