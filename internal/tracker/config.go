package tracker

import "time"

// BackoffPolicy selects how long to wait after a transport failure.
type BackoffPolicy string

const (
	// BackoffFixed keeps polling at the regular interval.
	BackoffFixed BackoffPolicy = "fixed"
	// BackoffExponential doubles the wait on each consecutive failure up to BackoffMax.
	BackoffExponential BackoffPolicy = "exponential"
)

const (
	DefaultInterval            = 2 * time.Second
	DefaultMaxRetries          = 10
	DefaultStartCheckLimit     = 150
	DefaultForcedStartProgress = 5
	DefaultSettleDelay         = 1500 * time.Millisecond
	DefaultBackoffInitial      = time.Second
	DefaultBackoffMax          = 10 * time.Second
	DefaultKeepAliveTicks      = 5
)

// Config holds the polling policy of a tracker
type Config struct {
	Interval            time.Duration
	MaxRetries          int
	StartCheckLimit     int
	ForcedStartProgress int
	SettleDelay         time.Duration
	Backoff             BackoffPolicy
	BackoffInitial      time.Duration
	BackoffMax          time.Duration
	FailFastOnNotFound  bool
	MonotonicProgress   bool
	// KeepAliveTicks is how many polls without a visible change pass before
	// a progress event is emitted anyway.
	KeepAliveTicks int
}

// DefaultConfig returns the stock polling policy: 2s ticks, 10 retries, forced start after 150 idle ticks.
func DefaultConfig() Config {
	return Config{
		Interval:            DefaultInterval,
		MaxRetries:          DefaultMaxRetries,
		StartCheckLimit:     DefaultStartCheckLimit,
		ForcedStartProgress: DefaultForcedStartProgress,
		SettleDelay:         DefaultSettleDelay,
		Backoff:             BackoffFixed,
		BackoffInitial:      DefaultBackoffInitial,
		BackoffMax:          DefaultBackoffMax,
		KeepAliveTicks:      DefaultKeepAliveTicks,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Interval <= 0 {
		c.Interval = d.Interval
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.StartCheckLimit <= 0 {
		c.StartCheckLimit = d.StartCheckLimit
	}
	if c.ForcedStartProgress <= 0 || c.ForcedStartProgress > 100 {
		c.ForcedStartProgress = d.ForcedStartProgress
	}
	if c.SettleDelay < 0 {
		c.SettleDelay = 0
	}
	if c.Backoff == "" {
		c.Backoff = d.Backoff
	}
	if c.BackoffInitial <= 0 {
		c.BackoffInitial = d.BackoffInitial
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = d.BackoffMax
	}
	if c.KeepAliveTicks <= 0 {
		c.KeepAliveTicks = d.KeepAliveTicks
	}
	return c
}
