package lock

import "github.com/jathurchan/ridecore/logger"

// TableOption defines a function that applies a configuration setting
// to a Table during initialization.
type TableOption func(*TableConfig)

// TableConfig holds configuration parameters for a Table instance.
type TableConfig struct {
	Logger  logger.Logger
	Metrics Metrics
}

// DefaultTableConfig returns a TableConfig with no-op logging and metrics.
func DefaultTableConfig() TableConfig {
	return TableConfig{
		Logger:  logger.NewNoOpLogger(),
		Metrics: NewNoOpMetrics(),
	}
}

// WithLogger sets the logger used by the table.
func WithLogger(l logger.Logger) TableOption {
	return func(cfg *TableConfig) {
		if l != nil {
			cfg.Logger = l
		}
	}
}

// WithMetrics sets the metrics sink used by the table.
func WithMetrics(m Metrics) TableOption {
	return func(cfg *TableConfig) {
		if m != nil {
			cfg.Metrics = m
		}
	}
}
