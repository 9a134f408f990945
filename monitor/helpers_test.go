package monitor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jathurchan/ridecore/election"
	"github.com/jathurchan/ridecore/testutil"
	"github.com/jathurchan/ridecore/types"
)

var errMemberDown = errors.New("member down")

type fakeMember struct {
	id    string
	alive atomic.Bool
}

func newFakeMember(id string) *fakeMember {
	m := &fakeMember{id: id}
	m.alive.Store(true)
	return m
}

func (m *fakeMember) MemberID() string { return m.id }

func (m *fakeMember) Ping(ctx context.Context) error {
	if !m.alive.Load() {
		return errMemberDown
	}
	return ctx.Err()
}

// fakeClock is a manually advanced clock. Tickers fire only when the test
// calls tick with their interval.
type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	tickers map[time.Duration]*fakeTicker
}

func newFakeClock() *fakeClock {
	return &fakeClock{
		now:     time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		tickers: make(map[time.Duration]*fakeTicker),
	}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Since(t time.Time) time.Duration { return c.Now().Sub(t) }

func (c *fakeClock) After(time.Duration) <-chan time.Time { return make(chan time.Time) }

func (c *fakeClock) Sleep(time.Duration) {}

func (c *fakeClock) NewTicker(d time.Duration) election.Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTicker{ch: make(chan time.Time)}
	c.tickers[d] = t
	return t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// tick delivers one tick to the ticker created with interval d and blocks
// until a loop receives it.
func (c *fakeClock) tick(t *testing.T, d time.Duration) {
	t.Helper()
	c.mu.Lock()
	ticker, ok := c.tickers[d]
	now := c.now
	c.mu.Unlock()
	testutil.AssertTrue(t, ok, "no ticker with interval %v", d)
	if !ok {
		return
	}
	select {
	case ticker.ch <- now:
	case <-time.After(2 * time.Second):
		t.Fatalf("ticker %v was not drained", d)
	}
}

type fakeTicker struct {
	ch      chan time.Time
	stopped atomic.Bool
}

func (t *fakeTicker) Chan() <-chan time.Time { return t.ch }
func (t *fakeTicker) Stop()                  { t.stopped.Store(true) }

type event struct {
	kind  string
	id    string
	count int
}

type recordingHandler struct {
	mu     sync.Mutex
	events []event
	ch     chan event
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{ch: make(chan event, 64)}
}

func (h *recordingHandler) record(ev event) {
	h.mu.Lock()
	h.events = append(h.events, ev)
	h.mu.Unlock()
	h.ch <- ev
}

func (h *recordingHandler) OnFailure(_ context.Context, id string, count int) {
	h.record(event{kind: "failure", id: id, count: count})
}

func (h *recordingHandler) OnPermanentFailure(_ context.Context, id string) {
	h.record(event{kind: "permanent", id: id})
}

func (h *recordingHandler) OnRecovery(_ context.Context, id string) {
	h.record(event{kind: "recovery", id: id})
}

func (h *recordingHandler) all() []event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]event(nil), h.events...)
}

func (h *recordingHandler) wait(t *testing.T) event {
	t.Helper()
	select {
	case ev := <-h.ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for a monitor event")
		return event{}
	}
}

type countingLeader struct {
	calls atomic.Int32
}

func (l *countingLeader) EnsureLeaderExists() (types.NodeID, bool) {
	l.calls.Add(1)
	return 3, true
}

func testConfig() Config {
	return Config{
		HeartbeatInterval: time.Second,
		DetectionInterval: 2 * time.Second,
		RecoveryInterval:  3 * time.Second,
		FailureThreshold:  15 * time.Second,
		ProbeTimeout:      time.Second,
		MaxFailures:       3,
	}
}

type testMonitor struct {
	*Monitor
	clock   *fakeClock
	handler *recordingHandler
	leader  *countingLeader
}

func newTestMonitor(t *testing.T, members ...Member) *testMonitor {
	t.Helper()
	tm := &testMonitor{
		clock:   newFakeClock(),
		handler: newRecordingHandler(),
		leader:  &countingLeader{},
	}
	m, err := New(testConfig(),
		WithClock(tm.clock),
		WithHandler(tm.handler),
		WithLeaderEnsurer(tm.leader))
	testutil.RequireNoError(t, err)
	testutil.RequireNoError(t, m.Register(members...))
	tm.Monitor = m
	return tm
}
