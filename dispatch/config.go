package dispatch

import "fmt"

const (
	// DefaultSurgeMultiplier leaves computed fares unchanged.
	DefaultSurgeMultiplier = 1.0

	// DefaultAssignedFare is the fare recorded when a driver is assigned.
	DefaultAssignedFare = 25.0

	// DefaultRecordOwner is the owner stamped on persisted records.
	DefaultRecordOwner = "dispatch"

	ridesDir   = "/uber/rides/"
	driversDir = "/uber/drivers/"
	gpsDir     = "/uber/gps/"
)

// Config holds the tunables of a Service.
type Config struct {
	SurgeMultiplier float64
	AssignedFare    float64
	RecordOwner     string
}

// DefaultConfig returns the default Service configuration.
func DefaultConfig() Config {
	return Config{
		SurgeMultiplier: DefaultSurgeMultiplier,
		AssignedFare:    DefaultAssignedFare,
		RecordOwner:     DefaultRecordOwner,
	}
}

// Validate checks the configuration for unusable values.
func (c Config) Validate() error {
	if c.SurgeMultiplier <= 0 {
		return fmt.Errorf("%w: surge multiplier must be positive, got %v", ErrInvalidArgument, c.SurgeMultiplier)
	}
	if c.AssignedFare < 0 {
		return fmt.Errorf("%w: assigned fare must not be negative, got %v", ErrInvalidArgument, c.AssignedFare)
	}
	if c.RecordOwner == "" {
		return fmt.Errorf("%w: record owner must be set", ErrInvalidArgument)
	}
	return nil
}
