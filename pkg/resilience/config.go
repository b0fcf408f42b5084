package resilience

import (
	"time"
)

// Config configures the protection around one store layer.
type Config struct {
	// Timeout bounds every operation on the layer. Zero disables it.
	Timeout time.Duration

	Breaker BreakerConfig
}

// BreakerConfig configures circuit breaker behavior.
type BreakerConfig struct {
	// MaxRequests allowed through while half-open. Default: 1
	MaxRequests uint32

	// Interval after which closed-state counts are cleared. Zero never clears.
	Interval time.Duration

	// OpenTimeout is how long the breaker stays open before probing.
	OpenTimeout time.Duration

	// ReadyToTrip decides, after a failure, whether to open. Nil trips after
	// five consecutive failures.
	ReadyToTrip func(counts Counts) bool
}

// Counts holds the numbers of requests and their successes/failures.
type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

// ConsecutiveFailures returns a ReadyToTrip that opens after n failures in a row.
func ConsecutiveFailures(n uint32) func(Counts) bool {
	return func(c Counts) bool {
		return c.ConsecutiveFailures >= n
	}
}

// DefaultConfig suits the in-process memory layer: failures there are
// programming errors, so the breaker is mostly a safety net.
func DefaultConfig() Config {
	return Config{
		Timeout: time.Second,
		Breaker: BreakerConfig{
			MaxRequests: 1,
			Interval:    time.Minute,
			OpenTimeout: 10 * time.Second,
			ReadyToTrip: ConsecutiveFailures(5),
		},
	}
}

// RemoteConfig suits a network layer such as redis. A slow L2 must never
// hold up a query, so the timeout is short and the breaker trips on the
// error rate once enough traffic has been seen.
func RemoteConfig() Config {
	return Config{
		Timeout: 250 * time.Millisecond,
		Breaker: BreakerConfig{
			MaxRequests: 3,
			Interval:    time.Minute,
			OpenTimeout: 30 * time.Second,
			ReadyToTrip: func(c Counts) bool {
				if c.ConsecutiveFailures >= 5 {
					return true
				}
				if c.Requests < 20 {
					return false
				}
				return float64(c.TotalFailures)/float64(c.Requests) >= 0.25
			},
		},
	}
}

// WithTimeout returns a copy of the config with the specified timeout.
func (c Config) WithTimeout(timeout time.Duration) Config {
	c.Timeout = timeout
	return c
}

// WithOpenTimeout returns a copy of the config with the specified open-state duration.
func (c Config) WithOpenTimeout(timeout time.Duration) Config {
	c.Breaker.OpenTimeout = timeout
	return c
}
