package server

import "time"

// ServerMetrics defines observability hooks for dispatch server operations.
// All methods must be safe for concurrent use.
type ServerMetrics interface {
	// IncrRequest increments the count for a protocol verb.
	// 'outcome' is one of OutcomeSuccess, OutcomeFailed or OutcomeError.
	IncrRequest(verb string, outcome string)

	// IncrProtocolError increments the count of request lines that could not be parsed.
	IncrProtocolError()

	// IncrRateLimited increments the count of requests rejected by the rate limiter.
	IncrRateLimited()

	// IncrQueueOverflow increments a counter when a connection is turned away
	// because the worker queue is full.
	IncrQueueOverflow()

	// ObserveRequestLatency records the time spent handling one request line.
	ObserveRequestLatency(verb string, latency time.Duration)

	// ObserveQueueLength tracks the number of connections waiting for a worker.
	ObserveQueueLength(length int)

	// SetActiveConnections sets the number of live client connections.
	SetActiveConnections(count int)

	// SetServerState sets the leadership and health gauges.
	SetServerState(hasLeader bool, isHealthy bool)

	// Reset clears all metric counters and resets gauges.
	// Useful primarily in unit or integration tests.
	Reset()
}

// NoOpServerMetrics provides a no-operation implementation of ServerMetrics.
// All methods are empty and safe for concurrent use.
type NoOpServerMetrics struct{}

// NewNoOpServerMetrics creates a new no-operation metrics implementation.
func NewNoOpServerMetrics() ServerMetrics {
	return &NoOpServerMetrics{}
}

func (n *NoOpServerMetrics) IncrRequest(verb string, outcome string)                  {}
func (n *NoOpServerMetrics) IncrProtocolError()                                       {}
func (n *NoOpServerMetrics) IncrRateLimited()                                         {}
func (n *NoOpServerMetrics) IncrQueueOverflow()                                       {}
func (n *NoOpServerMetrics) ObserveRequestLatency(verb string, latency time.Duration) {}
func (n *NoOpServerMetrics) ObserveQueueLength(length int)                            {}
func (n *NoOpServerMetrics) SetActiveConnections(count int)                           {}
func (n *NoOpServerMetrics) SetServerState(hasLeader bool, isHealthy bool)            {}
func (n *NoOpServerMetrics) Reset()                                                   {}
