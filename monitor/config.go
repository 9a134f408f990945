package monitor

import (
	"fmt"
	"time"

	"github.com/jathurchan/ridecore/election"
	"github.com/jathurchan/ridecore/logger"
)

// Config holds the timing and thresholds of a Monitor.
type Config struct {
	HeartbeatInterval time.Duration
	DetectionInterval time.Duration
	RecoveryInterval  time.Duration
	FailureThreshold  time.Duration
	ProbeTimeout      time.Duration
	MaxFailures       int
}

// DefaultConfig returns the default Monitor timing.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: DefaultHeartbeatInterval,
		DetectionInterval: DefaultDetectionInterval,
		RecoveryInterval:  DefaultRecoveryInterval,
		FailureThreshold:  DefaultFailureThreshold,
		ProbeTimeout:      DefaultProbeTimeout,
		MaxFailures:       DefaultMaxFailures,
	}
}

// Validate checks that every interval is positive and the failure limit is at least one.
func (c Config) Validate() error {
	switch {
	case c.HeartbeatInterval <= 0:
		return fmt.Errorf("%w: heartbeat interval must be positive", ErrInvalidConfig)
	case c.DetectionInterval <= 0:
		return fmt.Errorf("%w: detection interval must be positive", ErrInvalidConfig)
	case c.RecoveryInterval <= 0:
		return fmt.Errorf("%w: recovery interval must be positive", ErrInvalidConfig)
	case c.FailureThreshold <= 0:
		return fmt.Errorf("%w: failure threshold must be positive", ErrInvalidConfig)
	case c.ProbeTimeout <= 0:
		return fmt.Errorf("%w: probe timeout must be positive", ErrInvalidConfig)
	case c.MaxFailures < 1:
		return fmt.Errorf("%w: max failures must be at least 1, got %d", ErrInvalidConfig, c.MaxFailures)
	}
	return nil
}

// Option configures the collaborators of a Monitor.
type Option func(*Monitor)

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(m *Monitor) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithClock overrides the wall clock driving lastSeen stamps and the loops.
func WithClock(c election.Clock) Option {
	return func(m *Monitor) {
		if c != nil {
			m.clock = c
		}
	}
}

// WithProber replaces the default PingProber.
func WithProber(p Prober) Option {
	return func(m *Monitor) {
		if p != nil {
			m.prober = p
		}
	}
}

// WithHandler sets the receiver of failure and recovery events.
func WithHandler(h Handler) Option {
	return func(m *Monitor) {
		if h != nil {
			m.handler = h
		}
	}
}

// WithLeaderEnsurer sets the election safety net run after each detection
// and recovery round.
func WithLeaderEnsurer(e LeaderEnsurer) Option {
	return func(m *Monitor) {
		if e != nil {
			m.leader = e
		}
	}
}
