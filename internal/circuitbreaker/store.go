package circuitbreaker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	infralogger "github.com/pglemos/ml-bling-sync/infrastructure/logger"
	"github.com/pglemos/ml-bling-sync/internal/coordination"
)

const (
	keyPrefix  = "circuit_breaker:"
	lockSuffix = ":lock"
)

// Store persists breaker records and serializes read-modify-write per name.
type Store interface {
	// Load returns the record for name, or nil when none exists.
	Load(ctx context.Context, name string) (*Record, error)
	Save(ctx context.Context, name string, r *Record) error
	// WithLock runs fn holding the per-name lock.
	WithLock(ctx context.Context, name string, fn func(context.Context) error) error
	// Names lists every persisted breaker.
	Names(ctx context.Context) ([]string, error)
}

// RedisStore keeps records as JSON at circuit_breaker:{name}.
type RedisStore struct {
	client  redis.UniversalClient
	ttl     time.Duration
	lockCfg coordination.LockConfig
	guard   *coordination.StoreGuard
}

// NewRedisStore creates a store. ttl is refreshed on every Save.
func NewRedisStore(client redis.UniversalClient, ttl time.Duration, log infralogger.Logger) *RedisStore {
	return &RedisStore{
		client:  client,
		ttl:     ttl,
		lockCfg: coordination.DefaultLockConfig(),
		guard:   coordination.NewStoreGuard("circuit_breaker_store", coordination.DefaultGuardConfig(), log),
	}
}

func stateKey(name string) string {
	return keyPrefix + name
}

// Load implements Store.
func (s *RedisStore) Load(ctx context.Context, name string) (*Record, error) {
	var data []byte
	err := s.guard.Do(func() error {
		var getErr error
		data, getErr = s.client.Get(ctx, stateKey(name)).Bytes()
		if errors.Is(getErr, redis.Nil) {
			return nil
		}
		return getErr
	})
	if err != nil {
		return nil, fmt.Errorf("load breaker %s: %w", name, err)
	}
	if data == nil {
		return nil, nil
	}

	var r Record
	if err = json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode breaker %s: %w", name, err)
	}
	return &r, nil
}

// Save implements Store.
func (s *RedisStore) Save(ctx context.Context, name string, r *Record) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode breaker %s: %w", name, err)
	}
	err = s.guard.Do(func() error {
		return s.client.Set(ctx, stateKey(name), data, s.ttl).Err()
	})
	if err != nil {
		return fmt.Errorf("save breaker %s: %w", name, err)
	}
	return nil
}

// WithLock implements Store.
func (s *RedisStore) WithLock(ctx context.Context, name string, fn func(context.Context) error) error {
	return coordination.WithLock(ctx, s.client, stateKey(name)+lockSuffix, s.lockCfg, fn)
}

// Names implements Store.
func (s *RedisStore) Names(ctx context.Context) ([]string, error) {
	var names []string
	iter := s.client.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		if strings.HasSuffix(key, lockSuffix) {
			continue
		}
		names = append(names, strings.TrimPrefix(key, keyPrefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("list breakers: %w", err)
	}
	return names, nil
}
