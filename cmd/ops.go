package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	infralogger "github.com/pglemos/ml-bling-sync/infrastructure/logger"
	"github.com/pglemos/ml-bling-sync/internal/app"
	"github.com/pglemos/ml-bling-sync/internal/database"
)

func newMigrateCommand(rt *runtime) *cobra.Command {
	var steps int
	cmd := &cobra.Command{
		Use:       "migrate <up|down>",
		Short:     "Apply or roll back database migrations",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{database.MigrateUp, database.MigrateDown},
		RunE: func(_ *cobra.Command, args []string) error {
			cfg, log, err := rt.setup()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			return database.Migrate(cfg.Database, cfg.Service.MigrationsPath, args[0], steps, log)
		},
	}
	cmd.Flags().IntVar(&steps, "steps", 1, "migrations to roll back with down")
	return cmd
}

func newSweepCommand(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete sync jobs older than the retention period",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := rt.setup()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			a, err := app.New(cmd.Context(), cfg, log, rt.version)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			n, err := a.Sweep(cmd.Context())
			if err != nil {
				return err
			}
			log.Info("Retention sweep finished",
				infralogger.Int64("deleted", n),
				infralogger.Duration("retention", cfg.Scheduler.Retention),
			)
			return nil
		},
	}
}

func newVersionCommand(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "ml-bling-sync %s\n", rt.version)
		},
	}
}
