package syncer

import (
	"time"

	"strand/internal/retry"
)

const (
	DefaultRPCTimeout = 5 * time.Minute
	DefaultMaxRetries = 5
)

// Config tunes the Syncer. Zero fields take their defaults.
type Config struct {
	// RPCTimeout bounds one sync round. A round that times out counts as a
	// failure.
	RPCTimeout time.Duration

	// MaxRetries is how many consecutive failed rounds are retried. The
	// next failure stops the Syncer.
	MaxRetries int

	// Backoff between failed rounds doubles from BaseDelay up to MaxDelay.
	// Jitter spreads each delay by that fraction either way and is not
	// defaulted.
	BaseDelay time.Duration
	MaxDelay  time.Duration
	Jitter    float64
}

func (c *Config) applyDefaults() {
	if c.RPCTimeout <= 0 {
		c.RPCTimeout = DefaultRPCTimeout
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = retry.DefaultBaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = retry.DefaultMaxDelay
	}
	if c.MaxDelay < c.BaseDelay {
		c.MaxDelay = c.BaseDelay
	}
	if c.Jitter < 0 {
		c.Jitter = 0
	}
}
