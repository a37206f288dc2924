package keyexchange

import "time"

const (
	DefaultTickDelay             = 15 * time.Millisecond
	DefaultPendingSessionDelay   = time.Second
	DefaultFirstRetryDelay       = 3 * time.Second
	DefaultRepeatRetryDelay      = 30 * time.Second
	DefaultMissingKeysDelay      = time.Second
	DefaultMinRespondDelay       = 5 * time.Second
	DefaultMaxRespondDelay       = 30 * time.Second
	DefaultRespondDelayPerMember = time.Second
	DefaultRequestTimeout        = 30 * time.Second
	DefaultMaxSolicitedSessions  = 100
	DefaultSessionShareChunk     = 100
)

// Config tunes the Scheduler. Zero fields take their defaults.
type Config struct {
	// TickDelay is the pause between items. It is skipped while new group
	// sessions are queued.
	TickDelay time.Duration

	// PendingSessionDelay defers content whose session is still unconfirmed
	// in the inbox.
	PendingSessionDelay time.Duration

	// FirstRetryDelay and RepeatRetryDelay space out decryption retries of
	// an item that failed once or more than once.
	FirstRetryDelay  time.Duration
	RepeatRetryDelay time.Duration

	// MissingKeysDelay is how long to wait before soliciting keys for a
	// stream after a retry fails.
	MissingKeysDelay time.Duration

	// Answers to other devices' solicitations wait a random fraction of
	// RespondDelayPerMember times the member count, clamped to
	// [MinRespondDelay, MaxRespondDelay].
	MinRespondDelay       time.Duration
	MaxRespondDelay       time.Duration
	RespondDelayPerMember time.Duration

	// RequestTimeout bounds the network calls of one item.
	RequestTimeout time.Duration

	MaxSolicitedSessions int
	SessionShareChunk    int
}

func (c *Config) applyDefaults() {
	setDuration := func(d *time.Duration, def time.Duration) {
		if *d <= 0 {
			*d = def
		}
	}
	setDuration(&c.TickDelay, DefaultTickDelay)
	setDuration(&c.PendingSessionDelay, DefaultPendingSessionDelay)
	setDuration(&c.FirstRetryDelay, DefaultFirstRetryDelay)
	setDuration(&c.RepeatRetryDelay, DefaultRepeatRetryDelay)
	setDuration(&c.MissingKeysDelay, DefaultMissingKeysDelay)
	setDuration(&c.MinRespondDelay, DefaultMinRespondDelay)
	setDuration(&c.MaxRespondDelay, DefaultMaxRespondDelay)
	setDuration(&c.RespondDelayPerMember, DefaultRespondDelayPerMember)
	setDuration(&c.RequestTimeout, DefaultRequestTimeout)
	if c.MaxRespondDelay < c.MinRespondDelay {
		c.MaxRespondDelay = c.MinRespondDelay
	}
	if c.MaxSolicitedSessions <= 0 {
		c.MaxSolicitedSessions = DefaultMaxSolicitedSessions
	}
	if c.SessionShareChunk <= 0 {
		c.SessionShareChunk = DefaultSessionShareChunk
	}
}
