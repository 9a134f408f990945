package lock

// Metrics defines the interface for recording lock table activity.
// All methods must be safe for concurrent use.
type Metrics interface {
	// IncrAcquire increments counters for acquire attempts.
	// `granted` indicates whether the attempt succeeded, `preempted` whether
	// it displaced a holder with a greater timestamp.
	IncrAcquire(resourceID string, granted bool, preempted bool)

	// IncrRelease increments counters for releases. `held` is false when the
	// resource was already free.
	IncrRelease(resourceID string, held bool)

	// SetHeldLocks sets the current number of held resources.
	SetHeldLocks(count int)
}

// NoOpMetrics is a Metrics implementation that discards everything.
type NoOpMetrics struct{}

// NewNoOpMetrics returns a Metrics that records nothing.
func NewNoOpMetrics() Metrics { return &NoOpMetrics{} }

func (n *NoOpMetrics) IncrAcquire(resourceID string, granted bool, preempted bool) {}
func (n *NoOpMetrics) IncrRelease(resourceID string, held bool)                    {}
func (n *NoOpMetrics) SetHeldLocks(count int)                                      {}
