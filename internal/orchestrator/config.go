// Package orchestrator admits, dispatches, tracks, and cancels sync jobs.
package orchestrator

import "time"

// Config holds orchestrator settings.
type Config struct {
	// CancelWait bounds how long CancelSync waits for a worker to confirm
	// revocation before marking the job cancelled anyway.
	CancelWait time.Duration `yaml:"cancel_wait"`
	// CancelPoll is the confirmation polling interval.
	CancelPoll time.Duration `yaml:"cancel_poll"`
	// BulkConcurrency bounds concurrent QueueSync calls in ScheduleBulkSync.
	BulkConcurrency int `yaml:"bulk_concurrency"`
}

// SetDefaults fills zero values.
func (c *Config) SetDefaults() {
	if c.CancelWait <= 0 {
		c.CancelWait = 5 * time.Second
	}
	if c.CancelPoll <= 0 {
		c.CancelPoll = 100 * time.Millisecond
	}
	if c.BulkConcurrency <= 0 {
		c.BulkConcurrency = 8
	}
}

// SchedulerConfig holds periodic task settings.
type SchedulerConfig struct {
	// SyncAllSpec is the cron spec for SyncAllIntegrations.
	SyncAllSpec string `yaml:"sync_all_spec"`
	// CleanupSpec is the cron spec for CleanupOldSyncJobs.
	CleanupSpec string `yaml:"cleanup_spec"`
	// DispatchInterval is how often due deferred jobs are dispatched.
	DispatchInterval time.Duration `yaml:"dispatch_interval"`
	// DispatchBatch caps jobs dispatched per tick.
	DispatchBatch int `yaml:"dispatch_batch"`
	// RecoveryInterval is how often queued jobs without a dispatch handle
	// are re-dispatched.
	RecoveryInterval time.Duration `yaml:"recovery_interval"`
	// RecoveryGrace is how long a due job may lack a handle before recovery.
	RecoveryGrace time.Duration `yaml:"recovery_grace"`
	// Retention is the age after which jobs are deleted.
	Retention time.Duration `yaml:"retention"`
	// LockTTL bounds a periodic task's leadership lock.
	LockTTL time.Duration `yaml:"lock_ttl"`
}

// SetDefaults fills zero values.
func (c *SchedulerConfig) SetDefaults() {
	if c.SyncAllSpec == "" {
		c.SyncAllSpec = "*/30 * * * *"
	}
	if c.CleanupSpec == "" {
		c.CleanupSpec = "0 3 * * *"
	}
	if c.DispatchInterval <= 0 {
		c.DispatchInterval = time.Second
	}
	if c.DispatchBatch <= 0 {
		c.DispatchBatch = 100
	}
	if c.RecoveryInterval <= 0 {
		c.RecoveryInterval = time.Minute
	}
	if c.RecoveryGrace <= 0 {
		c.RecoveryGrace = 5 * time.Minute
	}
	if c.Retention <= 0 {
		c.Retention = 30 * 24 * time.Hour
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 10 * time.Minute
	}
}
