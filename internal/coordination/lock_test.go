package coordination_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pglemos/ml-bling-sync/internal/coordination"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestDistributedLock_ExclusiveAcquire(t *testing.T) {
	t.Parallel()

	_, client := setupRedis(t)
	ctx := context.Background()

	first := coordination.NewDistributedLock(client, "lock:a", coordination.LockConfig{MaxRetries: 1})
	second := coordination.NewDistributedLock(client, "lock:a", coordination.LockConfig{MaxRetries: 1})

	require.NoError(t, first.Lock(ctx))
	err := second.Lock(ctx)
	require.ErrorIs(t, err, coordination.ErrLockNotAcquired)

	assert.ErrorIs(t, second.Unlock(ctx), coordination.ErrLockNotHeld)
	require.NoError(t, first.Unlock(ctx))
	require.NoError(t, second.Lock(ctx))
}

func TestDistributedLock_ExpiresAfterTTL(t *testing.T) {
	t.Parallel()

	mr, client := setupRedis(t)
	ctx := context.Background()

	lock := coordination.NewDistributedLock(client, "lock:b", coordination.LockConfig{TTL: time.Second})
	require.NoError(t, lock.Lock(ctx))

	mr.FastForward(2 * time.Second)

	held, err := lock.IsHeld(ctx)
	require.NoError(t, err)
	assert.False(t, held)
	assert.ErrorIs(t, lock.Extend(ctx, time.Second), coordination.ErrLockNotHeld)
}

func TestWithLock_SerializesCriticalSection(t *testing.T) {
	t.Parallel()

	_, client := setupRedis(t)
	ctx := context.Background()

	var inside, maxInside atomic.Int32
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := coordination.WithLock(ctx, client, "lock:c", coordination.LockConfig{RetryDelay: time.Millisecond, MaxRetries: 1000}, func(context.Context) error {
				n := inside.Add(1)
				for {
					m := maxInside.Load()
					if n <= m || maxInside.CompareAndSwap(m, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				inside.Add(-1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside.Load())
}

func TestWithLock_PropagatesErrorAndReleases(t *testing.T) {
	t.Parallel()

	mr, client := setupRedis(t)
	boom := errors.New("boom")

	err := coordination.WithLock(context.Background(), client, "lock:d", coordination.DefaultLockConfig(), func(context.Context) error {
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.False(t, mr.Exists("lock:d"))
}

func TestTryWithLock_SkipsWhenHeld(t *testing.T) {
	t.Parallel()

	mr, client := setupRedis(t)
	ctx := context.Background()

	holder := coordination.NewDistributedLock(client, "lock:tick", coordination.LockConfig{})
	require.NoError(t, holder.Lock(ctx))

	ran, err := coordination.TryWithLock(ctx, client, "lock:tick", time.Minute, func(context.Context) error {
		t.Fatal("fn must not run while the lock is held")
		return nil
	})
	require.NoError(t, err)
	assert.False(t, ran)

	require.NoError(t, holder.Unlock(ctx))
	ran, err = coordination.TryWithLock(ctx, client, "lock:tick", time.Minute, func(context.Context) error {
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
	assert.False(t, mr.Exists("lock:tick"))
}
