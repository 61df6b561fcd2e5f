package app

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	infragin "github.com/pglemos/ml-bling-sync/infrastructure/gin"
	infralogger "github.com/pglemos/ml-bling-sync/infrastructure/logger"
	"github.com/pglemos/ml-bling-sync/infrastructure/sse"
	"github.com/pglemos/ml-bling-sync/internal/api"
	"github.com/pglemos/ml-bling-sync/internal/events"
	"github.com/pglemos/ml-bling-sync/internal/ratelimit"
	"github.com/pglemos/ml-bling-sync/internal/worker"
)

const replayShutdownTimeout = 30 * time.Second

// Roles selects which processes Run starts.
type Roles struct {
	API       bool
	Worker    bool
	Scheduler bool
}

// AllRoles runs everything in one process.
func AllRoles() Roles {
	return Roles{API: true, Worker: true, Scheduler: true}
}

// Run starts the selected roles and blocks until ctx is cancelled or one of
// them fails. Every goroutine it starts has returned when Run returns.
func (a *App) Run(ctx context.Context, roles Roles) error {
	g, gctx := errgroup.WithContext(ctx)

	if roles.API {
		if err := a.startAPI(gctx, g); err != nil {
			return err
		}
	}

	if roles.Worker {
		runner, err := a.newRunner()
		if err != nil {
			return err
		}
		g.Go(func() error {
			if runErr := runner.Run(gctx); runErr != nil {
				return fmt.Errorf("worker: %w", runErr)
			}
			return nil
		})
	}

	if roles.Scheduler {
		g.Go(func() error {
			if runErr := a.Scheduler.Run(gctx); runErr != nil {
				return fmt.Errorf("scheduler: %w", runErr)
			}
			return nil
		})
	}

	a.Log.Info("Sync service started",
		infralogger.String("version", a.Version),
		infralogger.Bool("api", roles.API),
		infralogger.Bool("worker", roles.Worker),
		infralogger.Bool("scheduler", roles.Scheduler),
	)

	err := g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), replayShutdownTimeout)
	defer cancel()
	if replayErr := a.Replays.Shutdown(shutdownCtx); replayErr != nil {
		a.Log.Warn("Replay executions did not stop in time", infralogger.Error(replayErr))
	}

	a.Log.Info("Sync service stopped")
	return err
}

func (a *App) newRunner() (*worker.Runner, error) {
	consumerID := a.Config.Worker.ConsumerID
	if consumerID == "" {
		consumerID = "worker-" + uuid.NewString()
	}

	executor := worker.NewExecutor(worker.ExecutorDeps{
		Jobs:         a.Jobs,
		Integrations: a.Integrations,
		Tasks:        a.Dispatcher,
		Breakers:     a.Breakers,
		Connectors:   a.Connectors,
		Events:       a.Events,
		Retry:        a.Config.Retry,
		Metrics:      a.Metrics,
		Tracer:       a.Tracer,
		Logger:       a.Log,
	})

	runner, err := worker.NewRunner(
		a.Config.Worker,
		a.Dispatcher.NewConsumer(consumerID, a.Log),
		a.Dispatcher,
		executor,
		a.Metrics,
		a.Log,
	)
	if err != nil {
		return nil, fmt.Errorf("create worker runner: %w", err)
	}
	return runner, nil
}

// startAPI starts the HTTP server on g, with the SSE broker and its event
// relay when live updates are enabled.
func (a *App) startAPI(ctx context.Context, g *errgroup.Group) error {
	var broker sse.Broker
	if a.Config.SSE.Enabled {
		broker = sse.NewBroker(a.Log, sse.WithConfig(a.Config.SSE))
		if err := broker.Start(ctx); err != nil {
			return fmt.Errorf("start sse broker: %w", err)
		}

		relay := events.NewRelay(a.Redis, a.Config.Queue.Prefix, broker, events.RelayConfig{}, a.Log)
		g.Go(func() error {
			defer func() { _ = broker.Stop() }()
			return relay.Run(ctx)
		})
	}

	server := a.NewServer(broker)
	g.Go(func() error {
		if err := server.RunWithGracefulShutdown(ctx); err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	return nil
}

// NewServer builds the HTTP server over the app's services. A nil broker
// leaves the event stream unmounted.
func (a *App) NewServer(broker sse.Broker) *infragin.Server {
	cfg := a.Config
	writeTimeout := cfg.Server.WriteTimeout
	if broker != nil {
		// Event streams outlive any write deadline.
		writeTimeout = 0
	}
	handler := api.NewHandler(api.Deps{
		Sync:      a.Orchestrator,
		Dashboard: a.Dashboard,
		Replays:   a.Replays,
		Breakers:  a.Breakers,
		Quota:     a.Limiter,
		Plans:     a.Integrations,
		Broker:    broker,
		Logger:    a.Log,
	})
	quota := ratelimit.Middleware(a.Limiter, a.Integrations, a.Log,
		ratelimit.WithAdmissionRoutes(api.AdmissionRoutes()...))

	return infragin.NewServerBuilder(cfg.Service.Name, cfg.Server.Port).
		WithLogger(a.Log).
		WithDebug(cfg.Service.Debug).
		WithVersion(a.Version).
		WithCORSOrigins(cfg.Service.CORSOrigins).
		WithTimeouts(cfg.Server.ReadTimeout, writeTimeout, cfg.Server.IdleTimeout, cfg.Server.ShutdownTimeout).
		WithDatabaseHealthCheck(func() error { return a.DB.Ping() }).
		WithRedisHealthCheck(func() error { return a.Redis.Ping(context.Background()).Err() }).
		WithMetrics(a.Registry).
		WithRoutes(func(router *gin.Engine) {
			handler.RegisterRoutes(router, quota)
		}).
		Build()
}

// Sweep runs the retention sweep once.
func (a *App) Sweep(ctx context.Context) (int64, error) {
	return a.Scheduler.CleanupOldSyncJobs(ctx)
}
