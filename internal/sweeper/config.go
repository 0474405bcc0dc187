package sweeper

import (
	"time"

	"github.com/crowdfield/eventcore/internal/config"
)

// Config controls the retry sweep cadence and batch sizing.
type Config struct {
	PollInterval time.Duration
	BatchSize    int
	RunTimeout   time.Duration
	LockTTL      time.Duration
}

func DefaultConfig() Config {
	return Config{
		PollInterval: 30 * time.Second,
		BatchSize:    50,
		RunTimeout:   30 * time.Second,
		LockTTL:      time.Minute,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.PollInterval <= 0 {
		c.PollInterval = defaults.PollInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.RunTimeout <= 0 {
		c.RunTimeout = defaults.RunTimeout
	}
	if c.LockTTL <= 0 {
		c.LockTTL = defaults.LockTTL
	}
	return c
}

func ProvideConfig(app config.Config) Config {
	return Config{
		PollInterval: app.SweepInterval,
		BatchSize:    app.SweepBatchSize,
	}.withDefaults()
}
