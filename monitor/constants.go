package monitor

import "time"

const (
	// DefaultHeartbeatInterval is how often every member is probed.
	DefaultHeartbeatInterval = 5 * time.Second

	// DefaultFailureThreshold is how long a member may go unseen before a
	// detection round counts a failure against it.
	DefaultFailureThreshold = 15 * time.Second

	// DefaultDetectionInterval is how often stale members are looked for.
	DefaultDetectionInterval = DefaultFailureThreshold / 2

	// DefaultRecoveryInterval is how often failed members are re-probed.
	DefaultRecoveryInterval = 10 * time.Second

	// DefaultMaxFailures is the failure count at which a member is
	// considered permanently failed.
	DefaultMaxFailures = 3

	// DefaultProbeTimeout bounds a single liveness probe.
	DefaultProbeTimeout = 2 * time.Second
)
