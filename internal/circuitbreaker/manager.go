package circuitbreaker

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	infralogger "github.com/pglemos/ml-bling-sync/infrastructure/logger"
	"github.com/pglemos/ml-bling-sync/internal/observability"
)

// Manager hands out breakers by name. Breakers are cheap handles: all state
// is in the Store, so two managers in different processes share it.
type Manager struct {
	cfg     Config
	store   Store
	log     infralogger.Logger
	metrics *observability.Metrics
	now     func() time.Time

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithClock overrides the time source.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.now = now
	}
}

// WithMetrics records transitions on metrics.
func WithMetrics(metrics *observability.Metrics) ManagerOption {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// NewManager creates a manager. Zero config values take defaults.
func NewManager(store Store, cfg Config, log infralogger.Logger, opts ...ManagerOption) *Manager {
	cfg.SetDefaults()
	m := &Manager{
		cfg:      cfg,
		store:    store,
		log:      log.With(infralogger.String("component", "circuit_breaker")),
		now:      time.Now,
		breakers: make(map[string]*Breaker),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Get returns the breaker for name, creating the handle on first use.
func (m *Manager) Get(name string) *Breaker {
	m.mu.Lock()
	defer m.mu.Unlock()

	if b, ok := m.breakers[name]; ok {
		return b
	}
	b := newBreaker(name, m.cfg, m.store, m.log, m.metrics, m.now)
	m.breakers[name] = b
	return b
}

// Stats returns one breaker's snapshot.
func (m *Manager) Stats(ctx context.Context, name string) (Stats, error) {
	return m.Get(name).Stats(ctx)
}

// Reset forces one breaker closed.
func (m *Manager) Reset(ctx context.Context, name string) error {
	return m.Get(name).Reset(ctx)
}

// ResetAll forces every persisted breaker closed.
func (m *Manager) ResetAll(ctx context.Context) error {
	names, err := m.names(ctx)
	if err != nil {
		return err
	}
	for _, name := range names {
		if err = m.Reset(ctx, name); err != nil {
			return fmt.Errorf("reset %s: %w", name, err)
		}
	}
	return nil
}

// AllStats returns snapshots of every persisted breaker, sorted by name.
func (m *Manager) AllStats(ctx context.Context) ([]Stats, error) {
	names, err := m.names(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]Stats, 0, len(names))
	for _, name := range names {
		s, statsErr := m.Stats(ctx, name)
		if statsErr != nil {
			return nil, statsErr
		}
		out = append(out, s)
	}
	return out, nil
}

// names merges persisted names with handles created in this process.
func (m *Manager) names(ctx context.Context) ([]string, error) {
	names, err := m.store.Names(ctx)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	for name := range m.breakers {
		names = append(names, name)
	}
	m.mu.Unlock()

	slices.Sort(names)
	return slices.Compact(names), nil
}
