package dashboard

import "time"

// Replay defaults.
const (
	defaultPollInterval = 2 * time.Second
	defaultHistoryLimit = 50
	defaultMaxWait      = 2 * time.Hour
	recentRunsLimit     = 20
)

// ReplayConfig holds replay settings.
type ReplayConfig struct {
	// PollInterval is how often a running replay checks its job.
	PollInterval time.Duration `yaml:"poll_interval"`
	// HistoryLimit is the default page size of GetReplayHistory.
	HistoryLimit int `yaml:"history_limit"`
	// TTL is how long replays are kept in the shared store.
	TTL time.Duration `yaml:"ttl"`
	// MaxWait bounds how long a replay waits for its job to finish.
	MaxWait time.Duration `yaml:"max_wait"`
}

// SetDefaults fills zero values.
func (c *ReplayConfig) SetDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = defaultHistoryLimit
	}
	if c.TTL <= 0 {
		c.TTL = defaultReplayTTL
	}
	if c.MaxWait <= 0 {
		c.MaxWait = defaultMaxWait
	}
}
