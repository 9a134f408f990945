package monitor

import "errors"

var (
	// ErrInvalidConfig indicates a Config with unusable intervals or limits.
	ErrInvalidConfig = errors.New("monitor: invalid configuration")

	// ErrDuplicateMember indicates a member id registered twice.
	ErrDuplicateMember = errors.New("monitor: member already registered")

	// ErrUnknownMember indicates an operation on an id that was never registered.
	ErrUnknownMember = errors.New("monitor: unknown member")

	// ErrNotServing indicates a health endpoint reported a status other than SERVING.
	ErrNotServing = errors.New("monitor: member not serving")

	// ErrAlreadyStarted indicates Start was called on a running monitor.
	ErrAlreadyStarted = errors.New("monitor: already started")
)
