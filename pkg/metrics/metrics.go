package metrics

import (
	"time"
)

// MetricsCollector collects metrics for the payload store and the query cache.
// Implementations export them to a backend (Prometheus) or keep them in
// memory for tests.
type MetricsCollector interface {
	// Store layers
	RecordGet(layer string, hit bool, duration time.Duration)
	RecordSet(layer string, success bool, duration time.Duration)
	RecordDelete(layer string, success bool, duration time.Duration)
	RecordLayerError(layer, operation, errorType string)
	RecordCircuitState(layer string, state CircuitState)

	// Async writer
	RecordQueueDepth(layer string, depth int)
	RecordWriteDropped(layer string)
	RecordAsyncWrite(layer string, success bool, duration time.Duration)

	// Chain
	RecordChainGet(hit bool, layerIndex int, totalDuration time.Duration)

	// Query cache
	RecordQueryRead(resource string, state ReadState)
	RecordFetch(resource string, success bool, duration time.Duration)
	RecordDedup(resource string)
	RecordInvalidation(resource string, refetched int)
	RecordConflict(resource string)
	RecordMutation(name string, success bool, duration time.Duration)

	// Backend requests
	RecordRequest(method string, status int, duration time.Duration)
}

// ReadState classifies how a query read was served.
type ReadState string

const (
	ReadFresh ReadState = "fresh"
	ReadStale ReadState = "stale"
	ReadMiss  ReadState = "miss"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// CircuitClosed means the circuit breaker is allowing requests through.
	CircuitClosed CircuitState = iota
	// CircuitOpen means the circuit breaker is blocking requests.
	CircuitOpen
	// CircuitHalfOpen means the circuit breaker is testing if the service has recovered.
	CircuitHalfOpen
)

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

// NoOpCollector discards everything. It is the default when no collector is
// configured.
type NoOpCollector struct{}

func (NoOpCollector) RecordGet(string, bool, time.Duration) {}
func (NoOpCollector) RecordSet(string, bool, time.Duration) {}
func (NoOpCollector) RecordDelete(string, bool, time.Duration) {}
func (NoOpCollector) RecordLayerError(string, string, string) {}
func (NoOpCollector) RecordCircuitState(string, CircuitState) {}
func (NoOpCollector) RecordQueueDepth(string, int) {}
func (NoOpCollector) RecordWriteDropped(string) {}
func (NoOpCollector) RecordAsyncWrite(string, bool, time.Duration) {}
func (NoOpCollector) RecordChainGet(bool, int, time.Duration) {}
func (NoOpCollector) RecordQueryRead(string, ReadState) {}
func (NoOpCollector) RecordFetch(string, bool, time.Duration) {}
func (NoOpCollector) RecordDedup(string) {}
func (NoOpCollector) RecordInvalidation(string, int) {}
func (NoOpCollector) RecordConflict(string) {}
func (NoOpCollector) RecordMutation(string, bool, time.Duration) {}
func (NoOpCollector) RecordRequest(string, int, time.Duration) {}

// OrNoOp returns c, or a NoOpCollector when c is nil.
func OrNoOp(c MetricsCollector) MetricsCollector {
	if c == nil {
		return NoOpCollector{}
	}
	return c
}
