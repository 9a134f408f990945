package server

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jathurchan/ridecore/testutil"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	testutil.AssertNoError(t, cfg.Validate())
	testutil.AssertEqual(t, DefaultListenAddress, cfg.ListenAddress)
	testutil.AssertEqual(t, DefaultMaxConcurrentConns, cfg.MaxConcurrentConns)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"empty listen address", func(c *Config) { c.ListenAddress = "" }, "ListenAddress"},
		{"zero workers", func(c *Config) { c.MaxConcurrentConns = 0 }, "MaxConcurrentConns"},
		{"zero queue", func(c *Config) { c.QueueSize = 0 }, "QueueSize"},
		{"zero line length", func(c *Config) { c.MaxLineLength = 0 }, "MaxLineLength"},
		{"zero shutdown timeout", func(c *Config) { c.ShutdownTimeout = 0 }, "ShutdownTimeout"},
		{"negative read timeout", func(c *Config) { c.ReadTimeout = -time.Second }, "ReadTimeout"},
		{"negative failover delay", func(c *Config) { c.FailoverDelay = -time.Second }, "FailoverDelay"},
		{"rate limit without burst", func(c *Config) {
			c.EnableRateLimit = true
			c.RateLimitBurst = 0
		}, "RateLimitBurst"},
		{"health without keepalive", func(c *Config) {
			c.HealthAddress = "127.0.0.1:0"
			c.KeepaliveTime = 0
		}, "KeepaliveTime"},
		{"disabled rate limit ignores its fields", func(c *Config) {
			c.EnableRateLimit = false
			c.RateLimit = 0
		}, ""},
		{"zero read timeout disables it", func(c *Config) { c.ReadTimeout = 0 }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				testutil.AssertNoError(t, err)
				return
			}
			var ce *ConfigError
			testutil.AssertTrue(t, errors.As(err, &ce), "expected ConfigError, got %v", err)
			testutil.AssertTrue(t, strings.Contains(ce.Message, tt.wantErr), "message %q lacks %q", ce.Message, tt.wantErr)
			testutil.AssertTrue(t, strings.HasPrefix(err.Error(), "server config error: "))
		})
	}
}
