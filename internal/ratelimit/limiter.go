package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	infralogger "github.com/pglemos/ml-bling-sync/infrastructure/logger"
	"github.com/pglemos/ml-bling-sync/internal/coordination"
	"github.com/pglemos/ml-bling-sync/internal/domain"
	"github.com/pglemos/ml-bling-sync/internal/observability"
)

// slidingWindowScript prunes, counts, and conditionally records cost entries
// in one atomic step. A rejected call adds nothing.
//
// KEYS[1]: window key
// ARGV[1]: now (ms)  ARGV[2]: window (ms)  ARGV[3]: limit
// ARGV[4]: cost      ARGV[5]: nonce
// Returns {allowed, count_after}.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local cost = tonumber(ARGV[4])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)

if count + cost > limit then
	return {0, count}
end

for i = 1, cost do
	redis.call('ZADD', key, now, ARGV[5] .. ':' .. i)
end
redis.call('PEXPIRE', key, window + 1000)
return {1, count + cost}
`)

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
	// Degraded is set when the store was unreachable and the call failed open.
	Degraded bool
}

// Usage is a read-only view of a window.
type Usage struct {
	Class         Class     `json:"class"`
	Limit         int       `json:"limit"`
	Used          int       `json:"used"`
	Remaining     int       `json:"remaining"`
	ResetAt       time.Time `json:"reset_at"`
	WindowSeconds int       `json:"window_seconds"`
}

// Limiter is a Redis sliding-window-log rate limiter shared by all processes.
type Limiter struct {
	client  redis.UniversalClient
	cfg     Config
	guard   *coordination.StoreGuard
	log     infralogger.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// WithMetrics records decisions on m.
func WithMetrics(m *observability.Metrics) Option {
	return func(l *Limiter) {
		l.metrics = m
	}
}

// WithGuard replaces the default store guard.
func WithGuard(g *coordination.StoreGuard) Option {
	return func(l *Limiter) {
		l.guard = g
	}
}

// NewLimiter creates a limiter.
func NewLimiter(client redis.UniversalClient, cfg Config, log infralogger.Logger, opts ...Option) *Limiter {
	cfg.SetDefaults()
	log = log.With(infralogger.String("component", "rate_limiter"))

	l := &Limiter{
		client: client,
		cfg:    cfg,
		log:    log,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.guard == nil {
		l.guard = coordination.NewStoreGuard("rate_limit_store", coordination.DefaultGuardConfig(), log)
	}
	return l
}

// Config returns the effective configuration.
func (l *Limiter) Config() Config {
	return l.cfg
}

// Allowed runs one sliding-window admission check for key. It never returns
// an error: when the store is unavailable the request is admitted and the
// decision is marked Degraded.
func (l *Limiter) Allowed(ctx context.Context, key string, limit int, window time.Duration, cost int) Decision {
	if cost < 1 {
		cost = 1
	}
	now := l.now()
	resetAt := now.Add(window)

	var res []int64
	err := l.guard.Do(func() error {
		var runErr error
		res, runErr = slidingWindowScript.Run(ctx, l.client, []string{key},
			now.UnixMilli(), window.Milliseconds(), limit, cost, uuid.NewString(),
		).Int64Slice()
		return runErr
	})
	if err == nil && len(res) != 2 {
		err = fmt.Errorf("unexpected script reply length %d", len(res))
	}
	if err != nil {
		l.log.Warn("Rate limit store unavailable, failing open",
			infralogger.String("key", key),
			infralogger.Error(err),
			infralogger.Degraded(),
		)
		return Decision{Allowed: true, Limit: limit, Remaining: limit, ResetAt: resetAt, Degraded: true}
	}

	count := int(res[1])
	if res[0] == 1 {
		return Decision{Allowed: true, Limit: limit, Remaining: max(0, limit-count), ResetAt: resetAt}
	}
	return Decision{Allowed: false, Limit: limit, Remaining: 0, ResetAt: resetAt, RetryAfter: window}
}

// Check consumes one unit of the tenant's quota for class.
func (l *Limiter) Check(ctx context.Context, tenantID string, plan domain.Plan, class Class) Decision {
	limit := l.cfg.Limit(tenantID, plan, class)
	d := l.Allowed(ctx, Key(tenantID, class), limit, l.cfg.Window, 1)
	l.metrics.RecordRateLimitDecision(string(class), d.Allowed, d.Degraded)

	if !d.Allowed {
		l.log.Warn("Rate limit exceeded",
			infralogger.String("tenant_id", tenantID),
			infralogger.String("class", string(class)),
			infralogger.Int("limit", limit),
		)
	}
	return d
}

// CheckAdmission consumes one unit of the configured admission class.
func (l *Limiter) CheckAdmission(ctx context.Context, tenantID string, plan domain.Plan) Decision {
	return l.Check(ctx, tenantID, plan, l.cfg.AdmissionClass)
}

// Usage reports a window without consuming from it.
func (l *Limiter) Usage(ctx context.Context, tenantID string, plan domain.Plan, class Class) (Usage, error) {
	now := l.now()
	key := Key(tenantID, class)
	limit := l.cfg.Limit(tenantID, plan, class)

	var used int64
	err := l.guard.Do(func() error {
		from := fmt.Sprintf("(%d", now.Add(-l.cfg.Window).UnixMilli())
		var countErr error
		used, countErr = l.client.ZCount(ctx, key, from, "+inf").Result()
		return countErr
	})
	if err != nil {
		return Usage{}, fmt.Errorf("read rate limit usage %s: %w", key, err)
	}

	return Usage{
		Class:         class,
		Limit:         limit,
		Used:          int(used),
		Remaining:     max(0, limit-int(used)),
		ResetAt:       now.Add(l.cfg.Window),
		WindowSeconds: int(l.cfg.Window.Seconds()),
	}, nil
}

// TenantUsage reports every class for a tenant.
func (l *Limiter) TenantUsage(ctx context.Context, tenantID string, plan domain.Plan) ([]Usage, error) {
	out := make([]Usage, 0, len(baseLimits))
	for _, class := range AllClasses() {
		u, err := l.Usage(ctx, tenantID, plan, class)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, nil
}

// Reset clears one window.
func (l *Limiter) Reset(ctx context.Context, tenantID string, class Class) error {
	if err := l.client.Del(ctx, Key(tenantID, class)).Err(); err != nil {
		return fmt.Errorf("reset rate limit: %w", err)
	}
	l.log.Info("Rate limit reset",
		infralogger.String("tenant_id", tenantID),
		infralogger.String("class", string(class)),
	)
	return nil
}

// ResetTenant clears every window of a tenant.
func (l *Limiter) ResetTenant(ctx context.Context, tenantID string) error {
	keys := make([]string, 0, len(baseLimits))
	for _, class := range AllClasses() {
		keys = append(keys, Key(tenantID, class))
	}
	if err := l.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("reset tenant rate limits: %w", err)
	}
	l.log.Info("Rate limits reset", infralogger.String("tenant_id", tenantID))
	return nil
}

