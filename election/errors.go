package election

import "errors"

var (
	// ErrEmptyRoster is returned when a coordinator is created without nodes.
	ErrEmptyRoster = errors.New("election: roster must contain at least one node")

	// ErrDuplicateNode is returned when the same id appears twice in a roster.
	ErrDuplicateNode = errors.New("election: duplicate node id in roster")

	// ErrInvalidNodeID is returned for non-positive node ids. Zero means "no leader".
	ErrInvalidNodeID = errors.New("election: node id must be positive")

	// ErrUnknownNode is returned when an operation references an id outside the roster.
	ErrUnknownNode = errors.New("election: node not found")

	// ErrNodeDown is returned when a down node is asked to act.
	ErrNodeDown = errors.New("election: node is down")

	// ErrClosed is returned once the coordinator has been closed.
	ErrClosed = errors.New("election: coordinator closed")
)
