package dispatch

import (
	"context"
	"fmt"

	"github.com/jathurchan/ridecore/election"
	"github.com/jathurchan/ridecore/lock"
	"github.com/jathurchan/ridecore/logger"
	"github.com/jathurchan/ridecore/types"
)

// Leadership reports the currently elected dispatch node.
type Leadership interface {
	Leader() (types.NodeID, bool)
}

// RecordStore persists ride, driver and GPS records as named files.
type RecordStore interface {
	WriteFile(ctx context.Context, name string, data []byte, owner string) error
	Replace(ctx context.Context, name string, data []byte, owner string) error
	ListFiles(prefix string) []string
}

// Dependencies bundles the components a Service coordinates.
type Dependencies struct {
	// Clock orders requests across processes.
	Clock lock.LogicalClock

	// Locks gates concurrent mutations of the same ride.
	Locks lock.ResourceLock

	// Election identifies the node allowed to mutate ride state.
	Election Leadership

	// Store persists records. Typically a *storage.NameNode.
	Store RecordStore

	// WallClock stamps records with wall time. Optional.
	WallClock election.Clock

	// Logger provides structured logging. Optional.
	Logger logger.Logger
}

// Validate checks that all required dependencies are provided.
// Optional dependencies (WallClock, Logger) may be nil.
func (d *Dependencies) Validate() error {
	if d == nil {
		return fmt.Errorf("%w: dependencies struct cannot be nil", ErrMissingDependencies)
	}
	if d.Clock == nil {
		return fmt.Errorf("%w: Clock dependency cannot be nil", ErrMissingDependencies)
	}
	if d.Locks == nil {
		return fmt.Errorf("%w: Locks dependency cannot be nil", ErrMissingDependencies)
	}
	if d.Election == nil {
		return fmt.Errorf("%w: Election dependency cannot be nil", ErrMissingDependencies)
	}
	if d.Store == nil {
		return fmt.Errorf("%w: Store dependency cannot be nil", ErrMissingDependencies)
	}
	return nil
}
