package election

import "time"

const (
	// DefaultReplyTimeout bounds how long a candidate waits for answers from higher nodes.
	DefaultReplyTimeout = 500 * time.Millisecond

	// DefaultAckTimeout bounds how long a new leader waits for coordinator acknowledgements.
	DefaultAckTimeout = time.Second

	// DefaultInboxSize is the buffer size of each node's message inbox.
	DefaultInboxSize = 64

	// settlePollInterval is how often Settle re-checks for outstanding work.
	settlePollInterval = 2 * time.Millisecond
)
