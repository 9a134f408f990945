package server

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jathurchan/ridecore/backup"
	"github.com/jathurchan/ridecore/dispatch"
	"github.com/jathurchan/ridecore/election"
	"github.com/jathurchan/ridecore/lock"
	"github.com/jathurchan/ridecore/logger"
	"github.com/jathurchan/ridecore/monitor"
	"github.com/jathurchan/ridecore/storage"
	"github.com/jathurchan/ridecore/testutil"
	"github.com/jathurchan/ridecore/types"
)

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// fakeClock is a manually advanced clock. After returns a channel the test
// fires with fire.
type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	afterCh chan time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: testNow, afterCh: make(chan time.Time, 8)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Since(t time.Time) time.Duration { return c.Now().Sub(t) }

func (c *fakeClock) After(time.Duration) <-chan time.Time { return c.afterCh }

func (c *fakeClock) Sleep(time.Duration) {}

func (c *fakeClock) NewTicker(time.Duration) election.Ticker { return idleTicker{} }

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) fire() { c.afterCh <- c.Now() }

type idleTicker struct{}

func (idleTicker) Chan() <-chan time.Time { return nil }
func (idleTicker) Stop()                  {}

// recordingMetrics counts requests by verb and outcome.
type recordingMetrics struct {
	NoOpServerMetrics

	mu             sync.Mutex
	requests       map[string]int
	protocolErrors int
	rateLimited    int
	overflows      int
	active         int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{requests: make(map[string]int)}
}

func (m *recordingMetrics) IncrRequest(verb, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests[verb+"/"+outcome]++
}

func (m *recordingMetrics) IncrProtocolError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.protocolErrors++
}

func (m *recordingMetrics) IncrRateLimited() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rateLimited++
}

func (m *recordingMetrics) IncrQueueOverflow() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.overflows++
}

func (m *recordingMetrics) SetActiveConnections(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = n
}

func (m *recordingMetrics) count(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests[key]
}

func testMonitorConfig() monitor.Config {
	return monitor.Config{
		HeartbeatInterval: time.Second,
		DetectionInterval: 2 * time.Second,
		RecoveryInterval:  3 * time.Second,
		FailureThreshold:  15 * time.Second,
		ProbeTimeout:      time.Second,
		MaxFailures:       3,
	}
}

// testStack is a full in-process deployment: five dispatch nodes with node 5
// leading, three data nodes, the fault monitor and the backup journal.
type testStack struct {
	clock   *fakeClock
	coord   *election.Coordinator
	nn      *storage.NameNode
	svc     *dispatch.Service
	locks   *lock.Table
	mon     *monitor.Monitor
	backup  *backup.Manager
	health  *HealthPublisher
	metrics *recordingMetrics
	handler *Handler
}

func newTestStack(t *testing.T, failoverDelay time.Duration) *testStack {
	t.Helper()

	st := &testStack{
		clock:   newFakeClock(),
		health:  NewHealthPublisher(nil),
		metrics: newRecordingMetrics(),
	}

	coord, err := election.NewCoordinator(
		[]types.NodeID{1, 2, 3, 4, 5},
		election.WithRoleChangeHandler(st.health.OnRoleChange),
	)
	testutil.RequireNoError(t, err)
	t.Cleanup(coord.Close)
	testutil.RequireNoError(t, coord.DeclareLeader(5))
	st.coord = coord
	settle(t, coord)

	root := t.TempDir()
	var nodes []*storage.DataNode
	for _, id := range []string{"datanode1", "datanode2", "datanode3"} {
		dn, err := storage.NewDataNode(id, filepath.Join(root, id), storage.DefaultDataNodeCapacity, logger.NewNoOpLogger())
		testutil.RequireNoError(t, err)
		nodes = append(nodes, dn)
		st.health.SetMember(dn.MemberID(), true)
	}
	st.nn, err = storage.NewNameNode(storage.DefaultConfig(filepath.Join(root, "metadata")), nodes...)
	testutil.RequireNoError(t, err)

	st.locks = lock.NewTable()
	st.svc, err = dispatch.NewService(dispatch.Dependencies{
		Clock:     lock.NewLamportClock(),
		Locks:     st.locks,
		Election:  coord,
		Store:     st.nn,
		WallClock: st.clock,
	}, dispatch.DefaultConfig())
	testutil.RequireNoError(t, err)

	st.backup, err = backup.NewManager(st.nn, backup.DefaultConfig(), st.clock, nil)
	testutil.RequireNoError(t, err)

	st.mon, err = monitor.New(testMonitorConfig(),
		monitor.WithClock(st.clock),
		monitor.WithHandler(monitor.MultiHandler{st.backup, storage.NewFailover(st.nn, st.backup.OnMigration)}),
		monitor.WithLeaderEnsurer(coord))
	testutil.RequireNoError(t, err)
	for _, m := range dispatch.Members(coord) {
		testutil.RequireNoError(t, st.mon.Register(m))
	}
	for _, dn := range st.nn.DataNodes() {
		testutil.RequireNoError(t, st.mon.Register(dn))
	}

	cfg := DefaultConfig()
	cfg.Clock = st.clock
	cfg.Metrics = st.metrics
	cfg.FailoverDelay = failoverDelay
	st.handler, err = NewHandler(cfg, Dependencies{
		Dispatch: st.svc,
		Cluster:  coord,
		Storage:  st.nn,
		Monitor:  st.mon,
		Backup:   st.backup,
		Health:   st.health,
	})
	testutil.RequireNoError(t, err)
	t.Cleanup(st.handler.Close)
	return st
}

// do sends one line through the handler and waits for any election it
// triggered to finish.
func (st *testStack) do(t *testing.T, line string) string {
	t.Helper()
	resp := st.handler.Handle(context.Background(), line)
	settle(t, st.coord)
	return resp
}

func settle(t *testing.T, c *election.Coordinator) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	testutil.RequireNoError(t, c.Settle(ctx), "election did not settle")
}

func leaderOf(t *testing.T, c *election.Coordinator) types.NodeID {
	t.Helper()
	id, ok := c.Leader()
	testutil.AssertTrue(t, ok, "expected a leader")
	return id
}
