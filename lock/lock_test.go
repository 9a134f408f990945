package lock

import (
	"sync"
	"testing"

	"github.com/jathurchan/ridecore/logger"
	"github.com/jathurchan/ridecore/testutil"
	"github.com/jathurchan/ridecore/types"
)

type recordingMetrics struct {
	mu         sync.Mutex
	granted    int
	denied     int
	preempted  int
	releases   int
	lastHeld   int
	freeRelses int
}

func (m *recordingMetrics) IncrAcquire(_ string, granted bool, preempted bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if granted {
		m.granted++
	} else {
		m.denied++
	}
	if preempted {
		m.preempted++
	}
}

func (m *recordingMetrics) IncrRelease(_ string, held bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.releases++
	if !held {
		m.freeRelses++
	}
}

func (m *recordingMetrics) SetHeldLocks(count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastHeld = count
}

func TestTable_Acquire(t *testing.T) {
	tests := []struct {
		name        string
		holder      types.Timestamp
		held        bool
		request     types.Timestamp
		wantGranted bool
		wantHolder  types.Timestamp
	}{
		{"free resource", 0, false, 7, true, 7},
		{"earlier request preempts", 10, true, 4, true, 4},
		{"later request loses", 4, true, 10, false, 4},
		{"equal timestamp loses", 5, true, 5, false, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table := NewTable()
			if tt.held {
				testutil.RequireNoError(t, table.TryAcquire("ride-1", tt.holder))
			}

			got := table.Acquire("ride-1", tt.request)
			testutil.AssertEqual(t, tt.wantGranted, got)

			holder, ok := table.Holder("ride-1")
			testutil.AssertTrue(t, ok)
			testutil.AssertEqual(t, tt.wantHolder, holder)
		})
	}
}

func TestTable_LowerTimestampWinsRegardlessOfOrder(t *testing.T) {
	for _, order := range [][2]types.Timestamp{{3, 9}, {9, 3}} {
		table := NewTable()
		table.Acquire("ride", order[0])
		table.Acquire("ride", order[1])

		holder, _ := table.Holder("ride")
		testutil.AssertEqual(t, types.Timestamp(3), holder, "order %v", order)
	}
}

func TestTable_ConcurrentAcquireLowestWins(t *testing.T) {
	table := NewTable()

	var wg sync.WaitGroup
	for ts := types.Timestamp(50); ts >= 1; ts-- {
		wg.Add(1)
		go func(ts types.Timestamp) {
			defer wg.Done()
			table.Acquire("ride-42", ts)
		}(ts)
	}
	wg.Wait()

	holder, ok := table.Holder("ride-42")
	testutil.AssertTrue(t, ok)
	testutil.AssertEqual(t, types.Timestamp(1), holder)
}

func TestTable_ReleaseIsUnconditional(t *testing.T) {
	m := &recordingMetrics{}
	table := NewTable(WithMetrics(m), WithLogger(logger.NewNoOpLogger()))

	testutil.AssertTrue(t, table.Acquire("a", 1))
	testutil.AssertTrue(t, table.Acquire("b", 2))
	testutil.AssertEqual(t, 2, table.Len())

	table.Release("a")
	table.Release("missing")

	_, held := table.Holder("a")
	testutil.AssertFalse(t, held)
	testutil.AssertEqual(t, 1, table.Len())
	testutil.AssertTrue(t, table.Acquire("a", 100), "released resource is free again")

	testutil.AssertEqual(t, 2, m.releases)
	testutil.AssertEqual(t, 1, m.freeRelses)
	testutil.AssertEqual(t, 2, m.lastHeld)
}

func TestTable_EmptyResourceIsOrdinary(t *testing.T) {
	table := NewTable()

	testutil.AssertTrue(t, table.Acquire("", 5), "empty id is a resource like any other")
	testutil.AssertFalse(t, table.Acquire("", 9))
	testutil.AssertTrue(t, table.Acquire("", 1))

	holder, ok := table.Holder("")
	testutil.AssertTrue(t, ok)
	testutil.AssertEqual(t, types.Timestamp(1), holder)

	table.Release("")
	testutil.AssertEqual(t, 0, table.Len())
}

func TestTable_TryAcquire(t *testing.T) {
	table := NewTable()

	testutil.AssertNoError(t, table.TryAcquire("r", 5))
	testutil.AssertErrorIs(t, table.TryAcquire("r", 6), ErrContention)
	testutil.AssertNoError(t, table.TryAcquire("r", 2))
}

func TestTable_MetricsCountPreemption(t *testing.T) {
	m := &recordingMetrics{}
	table := NewTable(WithMetrics(m))

	table.Acquire("r", 10)
	table.Acquire("r", 20)
	table.Acquire("r", 1)

	testutil.AssertEqual(t, 2, m.granted)
	testutil.AssertEqual(t, 1, m.denied)
	testutil.AssertEqual(t, 1, m.preempted)
}

func TestTable_NilOptionsKeepDefaults(t *testing.T) {
	table := NewTable(WithLogger(nil), WithMetrics(nil))
	testutil.AssertNotNil(t, table.logger)
	testutil.AssertNotNil(t, table.metrics)
}
