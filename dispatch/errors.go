package dispatch

import "errors"

var (
	// ErrMissingDependencies is returned when a required dependency is not provided.
	ErrMissingDependencies = errors.New("dispatch: missing required dependencies")

	// ErrNoLeader is returned when a mutation arrives while no dispatch node leads.
	ErrNoLeader = errors.New("dispatch: no leader available")

	// ErrRideBusy is returned when the ride's lock is held by an earlier request.
	ErrRideBusy = errors.New("dispatch: ride being processed")

	// ErrRideNotFound is returned for unknown ride ids.
	ErrRideNotFound = errors.New("dispatch: ride not found")

	// ErrDriverNotFound is returned for unknown driver ids.
	ErrDriverNotFound = errors.New("dispatch: driver not found")

	// ErrNoDrivers is returned when no registered driver is available for assignment.
	ErrNoDrivers = errors.New("dispatch: no drivers available")

	// ErrInvalidTransition is returned when a ride cannot move to the requested status.
	ErrInvalidTransition = errors.New("dispatch: invalid ride status transition")

	// ErrInvalidArgument is returned for empty ids or out-of-range numeric input.
	ErrInvalidArgument = errors.New("dispatch: invalid argument")

	// ErrNodeDown is returned by a dispatch node's liveness probe while it is down.
	ErrNodeDown = errors.New("dispatch: node is down")
)
