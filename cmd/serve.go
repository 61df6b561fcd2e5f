package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	infralogger "github.com/pglemos/ml-bling-sync/infrastructure/logger"
	"github.com/pglemos/ml-bling-sync/infrastructure/profiling"
	"github.com/pglemos/ml-bling-sync/internal/app"
)

func newServeCommand(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the API, worker pool and scheduler in one process",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return rt.run(cmd.Context(), app.AllRoles())
		},
	}
}

func newAPICommand(rt *runtime) *cobra.Command {
	var withScheduler bool
	cmd := &cobra.Command{
		Use:   "api",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return rt.run(cmd.Context(), app.Roles{API: true, Scheduler: withScheduler})
		},
	}
	cmd.Flags().BoolVar(&withScheduler, "scheduler", false, "also run the periodic tasks")
	return cmd
}

func newWorkerCommand(rt *runtime) *cobra.Command {
	var withScheduler bool
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the sync worker pool",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return rt.run(cmd.Context(), app.Roles{Worker: true, Scheduler: withScheduler})
		},
	}
	cmd.Flags().BoolVar(&withScheduler, "scheduler", false, "also run the periodic tasks")
	return cmd
}

// run starts profiling, builds the app and runs roles until ctx is done.
func (rt *runtime) run(ctx context.Context, roles app.Roles) error {
	cfg, log, err := rt.setup()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	profiling.StartPprofServer(cfg.Profiling, log)
	profiler, err := profiling.StartPyroscope(cfg.Profiling, cfg.Service.Name, rt.version, log)
	if err != nil {
		return fmt.Errorf("start pyroscope: %w", err)
	}
	defer func() {
		if stopErr := profiler.Stop(); stopErr != nil {
			log.Warn("Failed to stop pyroscope", infralogger.Error(stopErr))
		}
	}()

	a, err := app.New(ctx, cfg, log, rt.version)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			log.Warn("Failed to close stores", infralogger.Error(closeErr))
		}
	}()

	return a.Run(ctx, roles)
}
