package lock

import "github.com/jathurchan/ridecore/types"

// LogicalClock is a per-process Lamport counter.
//
// Any two calls from the same process yield strictly increasing values, and
// Update always returns a value strictly greater than both the prior local
// value and the received one. All operations are total and safe for
// concurrent use.
type LogicalClock interface {
	// Tick advances the clock for a local event and returns the new time.
	Tick() types.Timestamp

	// Update merges a timestamp received from a peer:
	// time = max(time, received) + 1.
	Update(received types.Timestamp) types.Timestamp

	// Peek returns the current time without advancing it.
	Peek() types.Timestamp
}

// ResourceLock is a per-resource exclusion table ordered by Lamport timestamp.
// Every string, including the empty one, names a resource.
//
// Notes:
//   - Acquire is non-blocking; it is not a queue. A losing caller gets false
//     and decides on its own whether to retry.
//   - A request with a lower timestamp preempts the current holder, even if it
//     arrives later. Two callers presenting timestamps that keep interleaving
//     can livelock; callers are expected to back off.
type ResourceLock interface {
	// Acquire records (resourceID, ts) and returns true if the resource is free
	// or currently held with a greater timestamp. Otherwise it returns false.
	Acquire(resourceID string, ts types.Timestamp) bool

	// TryAcquire is Acquire returning ErrContention instead of false.
	TryAcquire(resourceID string, ts types.Timestamp) error

	// Release removes the entry for resourceID unconditionally.
	Release(resourceID string)

	// Holder returns the timestamp currently holding resourceID, if any.
	Holder(resourceID string) (types.Timestamp, bool)

	// Len returns the number of held resources.
	Len() int
}
