// Package cmd implements the ml-bling-sync command line.
package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	infralogger "github.com/pglemos/ml-bling-sync/infrastructure/logger"
	"github.com/pglemos/ml-bling-sync/internal/config"
)

// envPrefix namespaces environment overrides of the CLI flags, e.g. SYNC_PORT.
const envPrefix = "SYNC"

// runtime carries what every subcommand needs.
type runtime struct {
	v       *viper.Viper
	version string
}

// Execute runs the root command until it finishes or the process is
// interrupted.
func Execute(version string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return NewRootCommand(version).ExecuteContext(ctx)
}

// NewRootCommand builds the command tree.
func NewRootCommand(version string) *cobra.Command {
	return newRootCommand(&runtime{v: viper.New(), version: version})
}

func newRootCommand(rt *runtime) *cobra.Command {
	root := &cobra.Command{
		Use:           "ml-bling-sync",
		Short:         "Resilient marketplace sync orchestration",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	flags := root.PersistentFlags()
	flags.String("config", "", "config file (default is $CONFIG_PATH or ./config.yml)")
	flags.Bool("debug", false, "enable debug logging and gin debug mode")
	flags.Int("port", 0, "HTTP port, overrides server.port")

	rt.v.SetEnvPrefix(envPrefix)
	rt.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	rt.v.AutomaticEnv()
	for _, name := range []string{"config", "debug", "port"} {
		_ = rt.v.BindPFlag(name, flags.Lookup(name))
	}

	root.AddCommand(
		newServeCommand(rt),
		newAPICommand(rt),
		newWorkerCommand(rt),
		newMigrateCommand(rt),
		newSweepCommand(rt),
		newVersionCommand(rt),
	)
	return root
}

// loadConfig reads the config file and applies flag and SYNC_* overrides.
func (rt *runtime) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(config.Path(rt.v.GetString("config")))
	if err != nil {
		return nil, err
	}

	if rt.v.GetBool("debug") {
		cfg.Service.Debug = true
		cfg.Logging.Level = "debug"
		cfg.Logging.Development = true
	}
	if port := rt.v.GetInt("port"); port > 0 {
		cfg.Server.Port = port
	}
	return cfg, nil
}

// setup loads config and builds the logger.
func (rt *runtime) setup() (*config.Config, infralogger.Logger, error) {
	cfg, err := rt.loadConfig()
	if err != nil {
		return nil, nil, err
	}

	log, err := infralogger.New(cfg.Logging)
	if err != nil {
		return nil, nil, fmt.Errorf("create logger: %w", err)
	}
	return cfg, log.With(infralogger.String("version", rt.version)), nil
}
