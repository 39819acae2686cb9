package scheduler

import (
	"time"

	"github.com/smallbiznis/partnerbilling/internal/config"
)

const defaultLockKey = "billing-cycle:run"

// Config controls the billing cycle trigger loop.
type Config struct {
	RunInterval time.Duration
	CatchUpDays int
	LockTTL     time.Duration
	LockKey     string
}

func DefaultConfig() Config {
	return Config{
		RunInterval: time.Hour,
		CatchUpDays: 3,
		LockTTL:     15 * time.Minute,
		LockKey:     defaultLockKey,
	}
}

// ProvideConfig maps the process configuration onto scheduler settings.
func ProvideConfig(cfg config.Config) Config {
	return Config{
		RunInterval: cfg.Scheduler.RunInterval,
		CatchUpDays: cfg.Scheduler.CatchUpDays,
		LockTTL:     cfg.Scheduler.LockTTL,
		LockKey:     defaultLockKey,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.CatchUpDays < 0 {
		c.CatchUpDays = 0
	}
	if c.LockTTL <= 0 {
		c.LockTTL = defaults.LockTTL
	}
	if c.LockKey == "" {
		c.LockKey = defaults.LockKey
	}
	return c
}
