package metrics

import (
	"time"
)

// MetricsCollector receives ledger and cache measurements.
// Implementations can export metrics to various backends (Prometheus, in-memory for tests).
type MetricsCollector interface {
	// Transfers, labelled by outcome status (success, unauthorized, ...)
	RecordTransfer(status string, duration time.Duration)

	// Read-through cache in front of the account store, by read kind (balance, accounts)
	RecordRead(kind string, cacheHit bool, duration time.Duration)

	// Cache layers
	RecordCacheGet(layer string, hit bool, duration time.Duration)
	RecordCacheWrite(layer string, op string, success bool, duration time.Duration)

	// Circuit breaker
	RecordCircuitState(layer string, state CircuitState)

	// Async writer
	RecordQueueDepth(layer string, depth int)
	RecordWriteDropped(layer string)
}

// Cache write operation labels.
const (
	OpSet    = "set"
	OpDelete = "delete"
	OpWarm   = "warm"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// CircuitClosed means the circuit breaker is allowing requests through.
	CircuitClosed CircuitState = iota
	// CircuitOpen means the circuit breaker is blocking requests.
	CircuitOpen
	// CircuitHalfOpen means the circuit breaker is testing if the backend has recovered.
	CircuitHalfOpen
)

// String returns the string representation of the circuit state.
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// NoOpCollector discards everything. It is the default when no collector is configured.
type NoOpCollector struct{}

func (NoOpCollector) RecordTransfer(status string, duration time.Duration) {}
func (NoOpCollector) RecordRead(kind string, cacheHit bool, duration time.Duration) {}
func (NoOpCollector) RecordCacheGet(layer string, hit bool, duration time.Duration) {}
func (NoOpCollector) RecordCacheWrite(layer, op string, success bool, duration time.Duration) {}
func (NoOpCollector) RecordCircuitState(layer string, state CircuitState) {}
func (NoOpCollector) RecordQueueDepth(layer string, depth int) {}
func (NoOpCollector) RecordWriteDropped(layer string) {}

// OrNoOp returns c, or a NoOpCollector when c is nil.
func OrNoOp(c MetricsCollector) MetricsCollector {
	if c == nil {
		return NoOpCollector{}
	}
	return c
}
