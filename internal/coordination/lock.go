// Package coordination provides Redis-backed coordination primitives shared
// by API and worker processes.
package coordination

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultLockTTL    = 10 * time.Second
	DefaultRetryDelay = 25 * time.Millisecond
	DefaultMaxRetries = 40
)

var (
	// ErrLockNotAcquired is returned when a lock cannot be acquired.
	ErrLockNotAcquired = errors.New("lock not acquired")

	// ErrLockNotHeld is returned when trying to release a lock that is not held.
	ErrLockNotHeld = errors.New("lock not held")
)

var (
	unlockScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

	extendScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0
`)
)

// LockConfig holds configuration for a distributed lock.
type LockConfig struct {
	TTL        time.Duration `yaml:"ttl"`
	RetryDelay time.Duration `yaml:"retry_delay"`
	MaxRetries int           `yaml:"max_retries"`
}

// DefaultLockConfig returns the lock defaults.
func DefaultLockConfig() LockConfig {
	return LockConfig{
		TTL:        DefaultLockTTL,
		RetryDelay: DefaultRetryDelay,
		MaxRetries: DefaultMaxRetries,
	}
}

// DistributedLock is a SETNX lock with a random owner token. Only the holder
// of the token can release or extend it.
type DistributedLock struct {
	client     redis.UniversalClient
	key        string
	token      string
	ttl        time.Duration
	retryDelay time.Duration
	maxRetries int
}

// NewDistributedLock creates a lock on key. Zero config values take defaults.
func NewDistributedLock(client redis.UniversalClient, key string, cfg LockConfig) *DistributedLock {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultLockTTL
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}

	return &DistributedLock{
		client:     client,
		key:        key,
		token:      uuid.NewString(),
		ttl:        cfg.TTL,
		retryDelay: cfg.RetryDelay,
		maxRetries: cfg.MaxRetries,
	}
}

// Lock retries TryLock until it succeeds, retries run out, or ctx is done.
func (l *DistributedLock) Lock(ctx context.Context) error {
	for i := range l.maxRetries {
		acquired, err := l.TryLock(ctx)
		if err != nil {
			return err
		}
		if acquired {
			return nil
		}

		if i < l.maxRetries-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(l.retryDelay):
			}
		}
	}

	return fmt.Errorf("%w: %s", ErrLockNotAcquired, l.key)
}

// TryLock attempts to acquire the lock without blocking.
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, l.token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", l.key, err)
	}
	return ok, nil
}

// Unlock releases the lock if this instance holds it.
func (l *DistributedLock) Unlock(ctx context.Context) error {
	result, err := unlockScript.Run(ctx, l.client, []string{l.key}, l.token).Int()
	if err != nil {
		return fmt.Errorf("release lock %s: %w", l.key, err)
	}
	if result == 0 {
		return ErrLockNotHeld
	}
	return nil
}

// Extend resets the lock TTL if this instance still holds it.
func (l *DistributedLock) Extend(ctx context.Context, extension time.Duration) error {
	result, err := extendScript.Run(ctx, l.client, []string{l.key}, l.token, extension.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("extend lock %s: %w", l.key, err)
	}
	if result == 0 {
		return ErrLockNotHeld
	}
	return nil
}

// IsHeld checks if this instance holds the lock.
func (l *DistributedLock) IsHeld(ctx context.Context) (bool, error) {
	val, err := l.client.Get(ctx, l.key).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check lock %s: %w", l.key, err)
	}
	return val == l.token, nil
}

// Key returns the lock key.
func (l *DistributedLock) Key() string {
	return l.key
}

// WithLock runs fn while holding a fresh lock on key. The unlock uses a
// context detached from ctx so a cancelled caller still releases the lock.
func WithLock(ctx context.Context, client redis.UniversalClient, key string, cfg LockConfig, fn func(context.Context) error) error {
	lock := NewDistributedLock(client, key, cfg)
	if err := lock.Lock(ctx); err != nil {
		return err
	}
	defer func() {
		_ = lock.Unlock(context.WithoutCancel(ctx))
	}()

	return fn(ctx)
}

// TryWithLock runs fn only if the lock on key is free right now. It reports
// whether fn ran. Periodic tasks use it so one instance runs each tick.
func TryWithLock(ctx context.Context, client redis.UniversalClient, key string, ttl time.Duration, fn func(context.Context) error) (bool, error) {
	lock := NewDistributedLock(client, key, LockConfig{TTL: ttl})
	acquired, err := lock.TryLock(ctx)
	if err != nil || !acquired {
		return false, err
	}
	defer func() {
		_ = lock.Unlock(context.WithoutCancel(ctx))
	}()

	return true, fn(ctx)
}
