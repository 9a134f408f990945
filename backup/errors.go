package backup

import "errors"

var (
	// ErrMissingStore indicates a Manager created without a record store.
	ErrMissingStore = errors.New("backup: record store is required")

	// ErrInvalidConfig indicates an unusable Config.
	ErrInvalidConfig = errors.New("backup: invalid configuration")

	// ErrAlreadyStarted indicates Start was called on a running manager.
	ErrAlreadyStarted = errors.New("backup: already started")
)
