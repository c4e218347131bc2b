package scheduler

import (
	"time"
)

// Config controls the scheduler loop. Per-job intervals come from the
// hot-reloadable sync config; this only shapes the loop itself.
type Config struct {
	TickInterval   time.Duration
	JobTimeout     time.Duration
	RetentionSweep time.Duration
	EnabledJobs    []string
}

func DefaultConfig() Config {
	return Config{
		TickInterval:   10 * time.Second,
		JobTimeout:     2 * time.Minute,
		RetentionSweep: 6 * time.Hour,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.TickInterval <= 0 {
		c.TickInterval = defaults.TickInterval
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.RetentionSweep <= 0 {
		c.RetentionSweep = defaults.RetentionSweep
	}
	return c
}
