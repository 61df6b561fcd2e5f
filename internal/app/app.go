// Package app wires the sync service together and runs its processes.
//
// Construction follows a fixed order:
//   - Stores: Redis and PostgreSQL clients plus repositories
//   - Guards: rate limiter and circuit breaker manager
//   - Queue: dispatcher, event publisher
//   - Services: orchestrator, scheduler, replay manager, dashboard
//   - Surfaces: worker runner and HTTP server, built only for the roles
//     that need them
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	infralogger "github.com/pglemos/ml-bling-sync/infrastructure/logger"
	infraredis "github.com/pglemos/ml-bling-sync/infrastructure/redis"
	"github.com/pglemos/ml-bling-sync/internal/circuitbreaker"
	"github.com/pglemos/ml-bling-sync/internal/config"
	"github.com/pglemos/ml-bling-sync/internal/connector"
	"github.com/pglemos/ml-bling-sync/internal/dashboard"
	"github.com/pglemos/ml-bling-sync/internal/database"
	"github.com/pglemos/ml-bling-sync/internal/events"
	"github.com/pglemos/ml-bling-sync/internal/observability"
	"github.com/pglemos/ml-bling-sync/internal/orchestrator"
	"github.com/pglemos/ml-bling-sync/internal/queue"
	"github.com/pglemos/ml-bling-sync/internal/ratelimit"
)

// App holds every long-lived component of one process.
type App struct {
	Config  *config.Config
	Version string

	Log      infralogger.Logger
	Registry *prometheus.Registry
	Metrics  *observability.Metrics
	Tracer   *observability.Tracer

	Redis *redis.Client
	DB    *sqlx.DB

	Jobs         *database.SyncJobRepository
	Integrations *database.IntegrationRepository

	Limiter    *ratelimit.Limiter
	Breakers   *circuitbreaker.Manager
	Dispatcher *queue.Dispatcher
	Events     *events.Publisher
	Connectors *connector.Registry

	Orchestrator *orchestrator.Orchestrator
	Scheduler    *orchestrator.Scheduler
	Replays      *dashboard.ReplayManager
	Dashboard    *dashboard.Service
}

// New connects to the stores and builds the service graph.
func New(ctx context.Context, cfg *config.Config, log infralogger.Logger, version string) (*App, error) {
	rdb, err := infraredis.NewClient(ctx, cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	db, err := database.NewPostgresConnection(ctx, cfg.Database)
	if err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect database: %w", err)
	}

	return Build(cfg, log, version, rdb, db), nil
}

// Build assembles the service graph over existing store clients.
func Build(cfg *config.Config, log infralogger.Logger, version string, rdb *redis.Client, db *sqlx.DB) *App {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a := &App{
		Config:   cfg,
		Version:  version,
		Log:      log,
		Registry: reg,
		Metrics:  observability.NewMetrics(reg),
		Tracer:   observability.NewTracer(),
		Redis:    rdb,
		DB:       db,
	}

	a.Jobs = database.NewSyncJobRepository(db)
	a.Integrations = database.NewIntegrationRepository(db)

	a.Limiter = ratelimit.NewLimiter(rdb, cfg.RateLimit, log, ratelimit.WithMetrics(a.Metrics))
	a.Breakers = circuitbreaker.NewManager(
		circuitbreaker.NewRedisStore(rdb, cfg.CircuitBreaker.StateTTL, log),
		cfg.CircuitBreaker,
		log,
		circuitbreaker.WithMetrics(a.Metrics),
	)

	a.Dispatcher = queue.NewDispatcher(rdb, cfg.Queue)
	a.Events = events.NewPublisher(rdb, cfg.Queue.Prefix, log)
	a.Connectors = buildConnectors(cfg.Connectors)

	a.Orchestrator = orchestrator.New(cfg.Orchestrator, orchestrator.Deps{
		Jobs:         a.Jobs,
		Integrations: a.Integrations,
		Dispatcher:   a.Dispatcher,
		Breakers:     a.Breakers,
		Quota:        a.Limiter,
		Events:       a.Events,
		Metrics:      a.Metrics,
		Tracer:       a.Tracer,
		Logger:       log,
	})
	a.Scheduler = orchestrator.NewScheduler(cfg.Scheduler, a.Orchestrator, rdb, cfg.Queue.Prefix, log)

	a.Replays = dashboard.NewReplayManager(cfg.Replay, dashboard.ReplayDeps{
		Jobs:         a.Jobs,
		Integrations: a.Integrations,
		Queue:        a.Orchestrator,
		Store:        dashboard.NewReplayStore(rdb, cfg.Replay.TTL),
		Events:       a.Events,
		Metrics:      a.Metrics,
		Tracer:       a.Tracer,
		Logger:       log,
	})
	a.Dashboard = dashboard.NewService(a.Jobs, a.Integrations, a.Limiter, cfg.RateLimit.AdmissionClass, a.Replays, log)

	return a
}

func buildConnectors(cfg config.ConnectorsConfig) *connector.Registry {
	reg := connector.NewRegistry()
	for typ, endpoint := range cfg.Endpoints {
		reg.Register(typ, connector.NewHTTPConnector(endpoint, cfg.HTTP,
			connector.WithRateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst)))
	}
	return reg
}

// Close releases the store clients.
func (a *App) Close() error {
	var errs []error
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
	}
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	return errors.Join(errs...)
}
