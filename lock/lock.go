package lock

import (
	"sync"

	"github.com/jathurchan/ridecore/logger"
	"github.com/jathurchan/ridecore/types"
)

// Table provides a concrete implementation of the ResourceLock interface.
// Every read-modify-write on the table happens under one mutex.
type Table struct {
	mu      sync.Mutex
	holders map[string]types.Timestamp // resource id -> holder timestamp; presence means held

	logger  logger.Logger
	metrics Metrics
}

// NewTable creates an empty lock table with the provided options.
func NewTable(opts ...TableOption) *Table {
	cfg := DefaultTableConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Table{
		holders: make(map[string]types.Timestamp),
		logger:  cfg.Logger.WithComponent("lock"),
		metrics: cfg.Metrics,
	}
}

// Acquire grants the resource when it is free or when ts is strictly lower
// than the current holder's timestamp, in which case the holder is overwritten.
func (t *Table) Acquire(resourceID string, ts types.Timestamp) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	held, exists := t.holders[resourceID]
	switch {
	case !exists:
		t.holders[resourceID] = ts
		t.metrics.IncrAcquire(resourceID, true, false)
		t.metrics.SetHeldLocks(len(t.holders))
		t.logger.Debugw("Lock granted", "resource", resourceID, "timestamp", ts)
		return true

	case ts < held:
		t.holders[resourceID] = ts
		t.metrics.IncrAcquire(resourceID, true, true)
		t.logger.Infow("Lock preempted by earlier timestamp",
			"resource", resourceID,
			"timestamp", ts,
			"previousHolder", held)
		return true

	default:
		t.metrics.IncrAcquire(resourceID, false, false)
		t.logger.Debugw("Lock denied",
			"resource", resourceID,
			"timestamp", ts,
			"holder", held)
		return false
	}
}

// TryAcquire wraps Acquire with an error result.
func (t *Table) TryAcquire(resourceID string, ts types.Timestamp) error {
	if !t.Acquire(resourceID, ts) {
		return ErrContention
	}
	return nil
}

// Release removes the entry for resourceID, whoever holds it.
func (t *Table) Release(resourceID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, held := t.holders[resourceID]
	delete(t.holders, resourceID)
	t.metrics.IncrRelease(resourceID, held)
	t.metrics.SetHeldLocks(len(t.holders))
}

// Holder returns the timestamp holding resourceID.
func (t *Table) Holder(resourceID string) (types.Timestamp, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ts, ok := t.holders[resourceID]
	return ts, ok
}

// Len returns the number of held resources.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.holders)
}
