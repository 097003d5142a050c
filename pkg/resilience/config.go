package resilience

import (
	"time"

	"bank-ledger/pkg/logging"
	"bank-ledger/pkg/metrics"
)

// ResilientConfig configures timeout and circuit breaking for one cache layer.
type ResilientConfig struct {
	// Timeout bounds every layer operation. Zero disables it.
	Timeout time.Duration

	CircuitBreakerConfig CircuitBreakerConfig

	Logger  *logging.Logger
	Metrics metrics.MetricsCollector
}

// CircuitBreakerConfig configures circuit breaker behavior.
type CircuitBreakerConfig struct {
	// MaxRequests is the number of probes allowed while half-open.
	MaxRequests uint32

	// Interval is the closed-state period after which counts are cleared.
	// Zero never clears.
	Interval time.Duration

	// Timeout is how long the breaker stays open before probing.
	Timeout time.Duration

	// ReadyToTrip decides whether to open after a failure. Nil trips after 5
	// consecutive failures.
	ReadyToTrip func(counts Counts) bool
}

// Counts mirrors the breaker's request counters.
type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

// DefaultResilientConfig trips on a 15% failure rate over at least 20 requests.
func DefaultResilientConfig() ResilientConfig {
	return ResilientConfig{
		Timeout: time.Second,
		CircuitBreakerConfig: CircuitBreakerConfig{
			MaxRequests: 5,
			Interval:    60 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts Counts) bool {
				if counts.Requests < 20 {
					return false
				}
				return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.15
			},
		},
	}
}

// WithTimeout returns a copy of the config with the given operation timeout.
func (c ResilientConfig) WithTimeout(timeout time.Duration) ResilientConfig {
	c.Timeout = timeout
	return c
}

// WithCircuitBreakerTimeout returns a copy with the given open-state duration.
func (c ResilientConfig) WithCircuitBreakerTimeout(timeout time.Duration) ResilientConfig {
	c.CircuitBreakerConfig.Timeout = timeout
	return c
}

func consecutiveFailures(counts Counts) bool {
	return counts.ConsecutiveFailures >= 5
}
