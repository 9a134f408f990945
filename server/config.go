package server

import (
	"fmt"
	"time"

	"github.com/jathurchan/ridecore/election"
	"github.com/jathurchan/ridecore/logger"
)

// Config holds the configuration settings for a dispatch server instance.
type Config struct {
	// ListenAddress is the line-protocol bind address (e.g., "0.0.0.0:8080").
	ListenAddress string

	// HealthAddress is the gRPC health endpoint bind address. Empty disables it.
	HealthAddress string

	MaxConcurrentConns int           // Number of workers; each serves one connection at a time
	QueueSize          int           // Accepted connections waiting for a worker
	ReadTimeout        time.Duration // Idle limit between two request lines; 0 disables it
	MaxLineLength      int           // Maximum size of one request line (in bytes)
	ShutdownTimeout    time.Duration // Max time allowed for graceful shutdown

	// FailoverDelay is how long a simulated failure is left unattended before
	// the server checks that a leader exists. Zero checks immediately.
	FailoverDelay time.Duration

	EnableRateLimit bool          // Whether rate limiting is enforced
	RateLimit       int           // Requests allowed per window
	RateLimitBurst  int           // Burst capacity
	RateLimitWindow time.Duration // Time window used for rate calculation

	KeepaliveTime    time.Duration // Health endpoint keepalive ping interval
	KeepaliveTimeout time.Duration // Health endpoint keepalive ack timeout

	Logger  logger.Logger
	Metrics ServerMetrics
	Clock   election.Clock
}

// DefaultConfig returns a Config pre-populated with safe defaults.
func DefaultConfig() Config {
	return Config{
		ListenAddress:      DefaultListenAddress,
		MaxConcurrentConns: DefaultMaxConcurrentConns,
		QueueSize:          DefaultQueueSize,
		ReadTimeout:        DefaultReadTimeout,
		MaxLineLength:      DefaultMaxLineLength,
		ShutdownTimeout:    DefaultShutdownTimeout,
		FailoverDelay:      DefaultFailoverDelay,
		EnableRateLimit:    false,
		RateLimit:          DefaultRateLimit,
		RateLimitBurst:     DefaultRateLimitBurst,
		RateLimitWindow:    DefaultRateLimitWindow,
		KeepaliveTime:      DefaultGRPCKeepaliveTime,
		KeepaliveTimeout:   DefaultGRPCKeepaliveTimeout,
		Logger:             logger.NewNoOpLogger(),
		Metrics:            NewNoOpServerMetrics(),
		Clock:              election.NewStandardClock(),
	}
}

// Validate checks if the server configuration is valid.
func (c *Config) Validate() error {
	if c.ListenAddress == "" {
		return NewConfigError("ListenAddress cannot be empty")
	}

	checkPositiveDuration := func(val time.Duration, name string) error {
		if val <= 0 {
			return NewConfigError(fmt.Sprintf("%s must be positive", name))
		}
		return nil
	}

	checkPositiveInt := func(val int, name string) error {
		if val <= 0 {
			return NewConfigError(fmt.Sprintf("%s must be positive", name))
		}
		return nil
	}

	if err := checkPositiveInt(c.MaxConcurrentConns, "MaxConcurrentConns"); err != nil {
		return err
	}
	if err := checkPositiveInt(c.QueueSize, "QueueSize"); err != nil {
		return err
	}
	if err := checkPositiveInt(c.MaxLineLength, "MaxLineLength"); err != nil {
		return err
	}
	if err := checkPositiveDuration(c.ShutdownTimeout, "ShutdownTimeout"); err != nil {
		return err
	}
	if c.ReadTimeout < 0 {
		return NewConfigError("ReadTimeout cannot be negative")
	}
	if c.FailoverDelay < 0 {
		return NewConfigError("FailoverDelay cannot be negative")
	}

	if c.EnableRateLimit {
		if err := checkPositiveInt(c.RateLimit, "RateLimit"); err != nil {
			return err
		}
		if err := checkPositiveInt(c.RateLimitBurst, "RateLimitBurst"); err != nil {
			return err
		}
		if err := checkPositiveDuration(c.RateLimitWindow, "RateLimitWindow"); err != nil {
			return err
		}
	}

	if c.HealthAddress != "" {
		if err := checkPositiveDuration(c.KeepaliveTime, "KeepaliveTime"); err != nil {
			return err
		}
		if err := checkPositiveDuration(c.KeepaliveTimeout, "KeepaliveTimeout"); err != nil {
			return err
		}
	}

	return nil
}

// ConfigError represents a validation error in Config.
type ConfigError struct {
	Message string
}

// NewConfigError returns a new ConfigError instance.
func NewConfigError(msg string) *ConfigError {
	return &ConfigError{Message: msg}
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return "server config error: " + e.Message
}
