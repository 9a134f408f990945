package backup

import (
	"fmt"
	"strings"
	"time"

	"github.com/jathurchan/ridecore/dispatch"
)

const (
	// DefaultInterval is the period between automated backups.
	DefaultInterval = time.Minute

	// DefaultBackupOwner owns backup records and snapshots.
	DefaultBackupOwner = "backup_system"

	// DefaultEventOwner owns failure, migration and recovery event records.
	DefaultEventOwner = "fault_system"

	failuresDir   = "/logs/failures/"
	migrationsDir = "/logs/migrations/"
	recoveriesDir = "/logs/recoveries/"

	rideBackupsDir   = "/backup/rides/"
	driverBackupsDir = "/backup/drivers/"
	snapshotsDir     = "/backup/snapshots/"
)

// Config holds the tunables of a Manager.
type Config struct {
	Interval    time.Duration
	BackupOwner string
	EventOwner  string

	// RidesPrefix and DriversPrefix select the records to back up.
	RidesPrefix   string
	DriversPrefix string
}

// DefaultConfig backs up the dispatch ride and driver records every minute.
func DefaultConfig() Config {
	return Config{
		Interval:      DefaultInterval,
		BackupOwner:   DefaultBackupOwner,
		EventOwner:    DefaultEventOwner,
		RidesPrefix:   dispatch.RidesPrefix,
		DriversPrefix: dispatch.DriversPrefix,
	}
}

// Validate checks the configuration for unusable values.
func (c Config) Validate() error {
	switch {
	case c.Interval <= 0:
		return fmt.Errorf("%w: interval must be positive", ErrInvalidConfig)
	case c.BackupOwner == "" || c.EventOwner == "":
		return fmt.Errorf("%w: record owners must be set", ErrInvalidConfig)
	case !strings.HasPrefix(c.RidesPrefix, "/") || !strings.HasPrefix(c.DriversPrefix, "/"):
		return fmt.Errorf("%w: record prefixes must be absolute", ErrInvalidConfig)
	}
	return nil
}
