package scheduler

import "time"

const (
	DefaultGrace            = 10 * time.Second
	DefaultMaxCheckInterval = 60 * time.Second
	DefaultFailureCooldown  = 30 * time.Second
	DefaultRequestTimeout   = 30 * time.Second
)

// Config tunes token expiry checks and refresh retries.
type Config struct {
	// Grace treats a token as expired this long before its real expiry.
	Grace time.Duration
	// MaxCheckInterval caps the delay between two expiry checks.
	MaxCheckInterval time.Duration
	// FailureCooldown is how long a backend failure waits before retrying.
	FailureCooldown time.Duration
	// RequestTimeout bounds every call to the authorization server.
	RequestTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Grace:            DefaultGrace,
		MaxCheckInterval: DefaultMaxCheckInterval,
		FailureCooldown:  DefaultFailureCooldown,
		RequestTimeout:   DefaultRequestTimeout,
	}
}

// WithDefaults fills zero or negative fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.Grace < 0 {
		c.Grace = d.Grace
	}
	if c.MaxCheckInterval <= 0 {
		c.MaxCheckInterval = d.MaxCheckInterval
	}
	if c.FailureCooldown <= 0 {
		c.FailureCooldown = d.FailureCooldown
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = d.RequestTimeout
	}
	return c
}
