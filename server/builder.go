package server

import (
	"errors"
	"fmt"
	"time"

	"github.com/jathurchan/ridecore/backup"
	"github.com/jathurchan/ridecore/dispatch"
	"github.com/jathurchan/ridecore/election"
	"github.com/jathurchan/ridecore/logger"
	"github.com/jathurchan/ridecore/monitor"
	"github.com/jathurchan/ridecore/storage"
)

// ServerBuilder assembles a Server and its Handler with validated
// configuration and sane defaults.
type ServerBuilder struct {
	config Config
	deps   Dependencies
}

// NewServerBuilder returns a ServerBuilder preloaded with default configuration values.
func NewServerBuilder() *ServerBuilder {
	return &ServerBuilder{config: DefaultConfig()}
}

// WithListenAddress sets the line-protocol bind address.
func (b *ServerBuilder) WithListenAddress(address string) *ServerBuilder {
	b.config.ListenAddress = address
	return b
}

// WithHealthAddress enables the gRPC health endpoint on address.
func (b *ServerBuilder) WithHealthAddress(address string) *ServerBuilder {
	b.config.HealthAddress = address
	return b
}

// WithWorkers sets the worker pool size and the connection queue length.
// Values <= 0 leave the defaults unchanged.
func (b *ServerBuilder) WithWorkers(workers, queueSize int) *ServerBuilder {
	if workers > 0 {
		b.config.MaxConcurrentConns = workers
	}
	if queueSize > 0 {
		b.config.QueueSize = queueSize
	}
	return b
}

// WithTimeouts sets the per-line read timeout, the shutdown timeout and the
// failover delay. Negative values leave the defaults unchanged; a zero read
// timeout or failover delay disables it.
func (b *ServerBuilder) WithTimeouts(readTimeout, shutdownTimeout, failoverDelay time.Duration) *ServerBuilder {
	if readTimeout >= 0 {
		b.config.ReadTimeout = readTimeout
	}
	if shutdownTimeout > 0 {
		b.config.ShutdownTimeout = shutdownTimeout
	}
	if failoverDelay >= 0 {
		b.config.FailoverDelay = failoverDelay
	}
	return b
}

// WithRateLimit configures rate limiting.
// Values <= 0 use the default if rate limiting is enabled.
func (b *ServerBuilder) WithRateLimit(enabled bool, rateLimit, burst int, window time.Duration) *ServerBuilder {
	b.config.EnableRateLimit = enabled
	if enabled {
		if rateLimit > 0 {
			b.config.RateLimit = rateLimit
		}
		if burst > 0 {
			b.config.RateLimitBurst = burst
		}
		if window > 0 {
			b.config.RateLimitWindow = window
		}
	}
	return b
}

// WithLogger sets the server logger. If nil, a no-op logger is used.
func (b *ServerBuilder) WithLogger(l logger.Logger) *ServerBuilder {
	b.config.Logger = l
	return b
}

// WithMetrics sets the metrics collector. If nil, a no-op implementation is used.
func (b *ServerBuilder) WithMetrics(metrics ServerMetrics) *ServerBuilder {
	b.config.Metrics = metrics
	return b
}

// WithClock sets the clock used for connection tracking and failover delays.
func (b *ServerBuilder) WithClock(clock election.Clock) *ServerBuilder {
	b.config.Clock = clock
	return b
}

// WithDispatch sets the dispatch service. Required.
func (b *ServerBuilder) WithDispatch(svc *dispatch.Service) *ServerBuilder {
	b.deps.Dispatch = svc
	return b
}

// WithCluster sets the election roster. Required.
func (b *ServerBuilder) WithCluster(cluster Cluster) *ServerBuilder {
	b.deps.Cluster = cluster
	return b
}

// WithStorage sets the block store. Required.
func (b *ServerBuilder) WithStorage(nn *storage.NameNode) *ServerBuilder {
	b.deps.Storage = nn
	return b
}

// WithMonitor sets the fault monitor told about manual recoveries.
func (b *ServerBuilder) WithMonitor(m *monitor.Monitor) *ServerBuilder {
	b.deps.Monitor = m
	return b
}

// WithBackup sets the backup journal reported by BACKUP_STATUS.
func (b *ServerBuilder) WithBackup(m *backup.Manager) *ServerBuilder {
	b.deps.Backup = m
	return b
}

// WithHealth sets the health publisher served on the health endpoint.
func (b *ServerBuilder) WithHealth(p *HealthPublisher) *ServerBuilder {
	b.deps.Health = p
	return b
}

func (b *ServerBuilder) prepareConfig() {
	if b.config.Logger == nil {
		b.config.Logger = logger.NewNoOpLogger()
	}
	if b.config.Metrics == nil {
		b.config.Metrics = NewNoOpServerMetrics()
	}
	if b.config.Clock == nil {
		b.config.Clock = election.NewStandardClock()
	}
}

// Build constructs the Handler and the Server.
// Returns an error if required dependencies are missing or configuration is invalid.
func (b *ServerBuilder) Build() (*Server, error) {
	if b.config.HealthAddress != "" && b.deps.Health == nil {
		return nil, errors.New("server builder: a HealthPublisher must be set using WithHealth when a health address is configured")
	}

	b.prepareConfig()

	if err := b.config.Validate(); err != nil {
		return nil, fmt.Errorf("server builder: configuration validation failed: %w", err)
	}

	handler, err := NewHandler(b.config, b.deps)
	if err != nil {
		return nil, fmt.Errorf("server builder: %w", err)
	}
	return New(b.config, handler, b.deps.Health)
}
