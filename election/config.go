package election

import (
	"time"

	"github.com/jathurchan/ridecore/logger"
	"github.com/jathurchan/ridecore/types"
)

// RoleChangeFunc is invoked after a node's role changes.
// It runs outside the coordinator's lock and must not block for long.
type RoleChangeFunc func(id types.NodeID, from, to types.NodeRole)

// Option configures a Coordinator.
type Option func(*Config)

// Config holds the tunables of a Coordinator.
type Config struct {
	Logger       logger.Logger
	Clock        Clock
	ReplyTimeout time.Duration
	AckTimeout   time.Duration
	InboxSize    int
	OnRoleChange RoleChangeFunc
}

// DefaultConfig returns a Config with the package defaults.
func DefaultConfig() Config {
	return Config{
		Logger:       logger.NewNoOpLogger(),
		Clock:        NewStandardClock(),
		ReplyTimeout: DefaultReplyTimeout,
		AckTimeout:   DefaultAckTimeout,
		InboxSize:    DefaultInboxSize,
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Config) {
		if l != nil {
			c.Logger = l
		}
	}
}

// WithClock overrides the wall clock used for reply and ack timeouts.
func WithClock(clock Clock) Option {
	return func(c *Config) {
		if clock != nil {
			c.Clock = clock
		}
	}
}

// WithReplyTimeout sets how long a candidate waits for higher nodes to answer.
func WithReplyTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.ReplyTimeout = d
		}
	}
}

// WithAckTimeout sets how long a new leader waits for acknowledgements.
func WithAckTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.AckTimeout = d
		}
	}
}

// WithInboxSize sets the per-node inbox buffer.
func WithInboxSize(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.InboxSize = n
		}
	}
}

// WithRoleChangeHandler registers a callback for role transitions.
func WithRoleChangeHandler(fn RoleChangeFunc) Option {
	return func(c *Config) {
		c.OnRoleChange = fn
	}
}
