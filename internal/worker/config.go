// Package worker executes dispatched sync jobs on a bounded pool.
package worker

import (
	"errors"
	"time"
)

const (
	// DefaultPoolSize is the default number of workers in the pool.
	DefaultPoolSize = 10

	// DefaultDrainTimeout is the default timeout for graceful shutdown.
	DefaultDrainTimeout = 30 * time.Second

	// DefaultJobTimeout bounds a single job execution.
	DefaultJobTimeout = 30 * time.Minute

	// DefaultCancelWait is how long a canceller waits for a worker to confirm.
	DefaultCancelWait = 5 * time.Second

	// DefaultStatsInterval is how often pool gauges are published.
	DefaultStatsInterval = 15 * time.Second

	// MinPoolSize is the minimum allowed pool size.
	MinPoolSize = 1

	// MaxPoolSize is the maximum allowed pool size.
	MaxPoolSize = 100
)

// Config holds configuration for the worker pool.
type Config struct {
	// PoolSize is the number of concurrent jobs.
	PoolSize int `yaml:"pool_size" env:"WORKER_POOL_SIZE"`

	// DrainTimeout is the maximum time to wait for jobs during shutdown.
	DrainTimeout time.Duration `yaml:"drain_timeout"`

	// JobTimeout bounds one job execution.
	JobTimeout time.Duration `yaml:"job_timeout"`

	// CancelWait bounds how long CancelSync waits for a worker to confirm.
	CancelWait time.Duration `yaml:"cancel_wait"`

	// StatsInterval is how often pool gauges are published.
	StatsInterval time.Duration `yaml:"stats_interval"`

	// ConsumerID names this process in the queue consumer group. Empty
	// means a generated id.
	ConsumerID string `yaml:"consumer_id" env:"WORKER_CONSUMER_ID"`
}

// SetDefaults fills zero values.
func (c *Config) SetDefaults() {
	if c.PoolSize == 0 {
		c.PoolSize = DefaultPoolSize
	}
	if c.DrainTimeout == 0 {
		c.DrainTimeout = DefaultDrainTimeout
	}
	if c.JobTimeout == 0 {
		c.JobTimeout = DefaultJobTimeout
	}
	if c.CancelWait == 0 {
		c.CancelWait = DefaultCancelWait
	}
	if c.StatsInterval == 0 {
		c.StatsInterval = DefaultStatsInterval
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.PoolSize < MinPoolSize {
		return errors.New("pool size must be at least 1")
	}
	if c.PoolSize > MaxPoolSize {
		return errors.New("pool size cannot exceed 100")
	}
	if c.DrainTimeout <= 0 {
		return errors.New("drain timeout must be positive")
	}
	if c.JobTimeout <= 0 {
		return errors.New("job timeout must be positive")
	}
	return nil
}
