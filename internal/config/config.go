// Package config loads the sync service configuration.
package config

import (
	"errors"
	"fmt"
	"time"

	infraconfig "github.com/pglemos/ml-bling-sync/infrastructure/config"
	infrahttp "github.com/pglemos/ml-bling-sync/infrastructure/http"
	infralogger "github.com/pglemos/ml-bling-sync/infrastructure/logger"
	"github.com/pglemos/ml-bling-sync/infrastructure/profiling"
	"github.com/pglemos/ml-bling-sync/infrastructure/sse"
	"github.com/pglemos/ml-bling-sync/internal/circuitbreaker"
	"github.com/pglemos/ml-bling-sync/internal/dashboard"
	"github.com/pglemos/ml-bling-sync/internal/orchestrator"
	"github.com/pglemos/ml-bling-sync/internal/queue"
	"github.com/pglemos/ml-bling-sync/internal/ratelimit"
	"github.com/pglemos/ml-bling-sync/internal/retry"
	"github.com/pglemos/ml-bling-sync/internal/worker"
)

const (
	defaultServiceName  = "ml-bling-sync"
	defaultServerPort   = 8070
	defaultConfigPath   = "config.yml"
	defaultDatabaseName = "ml_bling_sync"
	defaultConnectorRPS = 10
)

// Config is the full service configuration.
type Config struct {
	Service        ServiceConfig                `yaml:"service"`
	Server         infraconfig.ServerConfig     `yaml:"server"`
	Database       infraconfig.DatabaseConfig   `yaml:"database"`
	Redis          infraconfig.RedisConfig      `yaml:"redis"`
	Logging        infralogger.Config           `yaml:"logging"`
	RateLimit      ratelimit.Config             `yaml:"rate_limit"`
	CircuitBreaker circuitbreaker.Config        `yaml:"circuit_breaker"`
	Retry          retry.Policy                 `yaml:"retry"`
	Worker         worker.Config                `yaml:"worker"`
	Queue          queue.Config                 `yaml:"queue"`
	Orchestrator   orchestrator.Config          `yaml:"orchestrator"`
	Scheduler      orchestrator.SchedulerConfig `yaml:"scheduler"`
	Replay         dashboard.ReplayConfig       `yaml:"replay"`
	SSE            sse.Config                   `yaml:"sse"`
	Profiling      profiling.Config             `yaml:"profiling"`
	Connectors     ConnectorsConfig             `yaml:"connectors"`
}

// ServiceConfig identifies the process.
type ServiceConfig struct {
	Name        string   `env:"SERVICE_NAME" yaml:"name"`
	Debug       bool     `env:"APP_DEBUG"    yaml:"debug"`
	CORSOrigins []string `env:"CORS_ORIGINS" yaml:"cors_origins"`
	// MigrationsPath is the golang-migrate source directory.
	MigrationsPath string `env:"MIGRATIONS_PATH" yaml:"migrations_path"`
}

// ConnectorsConfig maps integration types to connector endpoints.
type ConnectorsConfig struct {
	HTTP      infrahttp.ClientConfig `yaml:"http"`
	Endpoints map[string]string      `yaml:"endpoints"`
	// RateLimitRPS caps outbound calls per connector type. Negative disables
	// the cap.
	RateLimitRPS   float64 `yaml:"rate_limit_rps"`
	RateLimitBurst int     `yaml:"rate_limit_burst"`
}

// Load reads the config file at path, applies env overrides and defaults,
// then validates the result.
func Load(path string) (*Config, error) {
	cfg, err := infraconfig.LoadWithDefaults(path, SetDefaults)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Path returns the config path, honouring CONFIG_PATH.
func Path(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return infraconfig.GetConfigPath(defaultConfigPath)
}

// SetDefaults fills every unset field.
func SetDefaults(cfg *Config) {
	if cfg.Service.Name == "" {
		cfg.Service.Name = defaultServiceName
	}
	if cfg.Service.MigrationsPath == "" {
		cfg.Service.MigrationsPath = "migrations"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = defaultServerPort
	}
	cfg.Server.SetDefaults()
	cfg.Database.SetDefaults()
	if cfg.Database.User == "" {
		cfg.Database.User = "postgres"
	}
	if cfg.Database.Database == "" {
		cfg.Database.Database = defaultDatabaseName
	}
	cfg.Redis.SetDefaults()

	cfg.Logging.SetDefaults()
	if cfg.Logging.ServiceName == "" {
		cfg.Logging.ServiceName = cfg.Service.Name
	}

	cfg.RateLimit.SetDefaults()
	cfg.CircuitBreaker.SetDefaults()
	cfg.Retry.SetDefaults()
	cfg.Worker.SetDefaults()
	cfg.Queue.SetDefaults()
	cfg.Orchestrator.SetDefaults()
	cfg.Scheduler.SetDefaults()
	cfg.Replay.SetDefaults()

	if cfg.SSE == (sse.Config{}) {
		cfg.SSE = sse.DefaultConfig()
		cfg.SSE.Enabled = true
	}
	cfg.Profiling.SetDefaults()

	if cfg.Connectors.HTTP.Timeout == 0 {
		cfg.Connectors.HTTP.Timeout = cfg.CircuitBreaker.CallTimeout
	}
	if cfg.Connectors.Endpoints == nil {
		cfg.Connectors.Endpoints = map[string]string{}
	}
	if cfg.Connectors.RateLimitRPS == 0 {
		cfg.Connectors.RateLimitRPS = defaultConnectorRPS
	}
	if cfg.Connectors.RateLimitBurst == 0 {
		cfg.Connectors.RateLimitBurst = int(cfg.Connectors.RateLimitRPS)
	}

	// worker.cancel_wait is the configured confirmation window for CancelSync.
	if cfg.Worker.CancelWait > 0 {
		cfg.Orchestrator.CancelWait = cfg.Worker.CancelWait
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return err
	}
	if err := c.Database.Validate(); err != nil {
		return err
	}
	if err := c.Redis.Validate(); err != nil {
		return err
	}
	if err := infraconfig.ValidateLogLevel(c.Logging.Level); err != nil {
		return err
	}
	if err := c.Worker.Validate(); err != nil {
		return err
	}
	if !c.RateLimit.AdmissionClass.IsValid() {
		return fmt.Errorf("rate_limit.admission_class %q is not a known class", c.RateLimit.AdmissionClass)
	}
	if c.Retry.MaxAttempts < 1 {
		return errors.New("retry.max_attempts must be at least 1")
	}
	if c.CircuitBreaker.FailureThreshold < 1 {
		return errors.New("circuit_breaker.failure_threshold must be at least 1")
	}
	if err := infraconfig.ValidatePositiveDuration("scheduler.dispatch_interval", c.Scheduler.DispatchInterval); err != nil {
		return err
	}
	if c.Scheduler.Retention < 24*time.Hour {
		return errors.New("scheduler.retention must be at least 24h")
	}
	for typ, endpoint := range c.Connectors.Endpoints {
		if endpoint == "" {
			return fmt.Errorf("connectors.endpoints.%s is empty", typ)
		}
	}
	return nil
}
