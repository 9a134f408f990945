package dispatch

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jathurchan/ridecore/election"
	"github.com/jathurchan/ridecore/lock"
	"github.com/jathurchan/ridecore/testutil"
	"github.com/jathurchan/ridecore/types"
)

var errInjected = errors.New("injected store failure")

type mockLeadership struct {
	mu     sync.Mutex
	leader types.NodeID
}

func (m *mockLeadership) Leader() (types.NodeID, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.leader, m.leader != 0
}

func (m *mockLeadership) set(id types.NodeID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.leader = id
}

type mockStore struct {
	mu    sync.Mutex
	files map[string]string
	fail  bool
}

func newMockStore() *mockStore {
	return &mockStore{files: make(map[string]string)}
}

func (m *mockStore) WriteFile(_ context.Context, name string, data []byte, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errInjected
	}
	if _, exists := m.files[name]; exists {
		return errors.New("file exists")
	}
	m.files[name] = string(data)
	return nil
}

func (m *mockStore) Replace(_ context.Context, name string, data []byte, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errInjected
	}
	m.files[name] = string(data)
	return nil
}

func (m *mockStore) ListFiles(prefix string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for name := range m.files {
		if strings.HasPrefix(name, prefix) {
			out = append(out, name)
		}
	}
	slices.Sort(out)
	return out
}

func (m *mockStore) get(name string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.files[name]
	return v, ok
}

func (m *mockStore) setFail(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = fail
}

// mockClock is a wall clock frozen at a fixed instant.
type mockClock struct {
	now time.Time
}

func (c *mockClock) Now() time.Time                       { return c.now }
func (c *mockClock) Since(t time.Time) time.Duration      { return c.now.Sub(t) }
func (c *mockClock) After(time.Duration) <-chan time.Time { return make(chan time.Time) }
func (c *mockClock) Sleep(time.Duration)                  {}
func (c *mockClock) NewTicker(time.Duration) election.Ticker {
	return stoppedTicker{}
}

type stoppedTicker struct{}

func (stoppedTicker) Chan() <-chan time.Time { return nil }
func (stoppedTicker) Stop()                  {}

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	svc    *Service
	locks  *lock.Table
	leader *mockLeadership
	store  *mockStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		locks:  lock.NewTable(),
		leader: &mockLeadership{leader: 5},
		store:  newMockStore(),
	}
	svc, err := NewService(Dependencies{
		Clock:     lock.NewLamportClock(),
		Locks:     env.locks,
		Election:  env.leader,
		Store:     env.store,
		WallClock: &mockClock{now: testNow},
	}, DefaultConfig())
	testutil.RequireNoError(t, err)
	env.svc = svc
	return env
}
