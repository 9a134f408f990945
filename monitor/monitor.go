package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jathurchan/ridecore/election"
	"github.com/jathurchan/ridecore/logger"
)

// MemberStatus is a point-in-time view of one watched member.
type MemberStatus struct {
	ID        string
	Healthy   bool
	Failures  int
	Permanent bool
	LastSeen  time.Time
	LastError string
}

type memberState struct {
	member    Member
	lastSeen  time.Time
	failures  int
	permanent bool
	lastErr   error
}

type failureEvent struct {
	id        string
	count     int
	permanent bool
}

// Monitor watches a set of members with three periodic rounds:
//   - Heartbeat probes every member that is not permanently failed and
//     refreshes lastSeen on success.
//   - DetectFailures counts a failure against every member unseen for longer
//     than FailureThreshold. At MaxFailures the member becomes permanently
//     failed and OnPermanentFailure fires exactly once.
//   - AttemptRecovery re-probes members with 0 < failures < MaxFailures and
//     resets the ones that answer.
//
// Detection and recovery rounds end by asking the LeaderEnsurer to restore
// a dispatch leader. Permanently failed members only come back through
// Reinstate.
type Monitor struct {
	cfg Config

	mu      sync.Mutex
	members map[string]*memberState
	order   []string

	prober  Prober
	handler Handler
	leader  LeaderEnsurer
	clock   election.Clock
	logger  logger.Logger

	lifeMu  sync.Mutex
	stopCh  chan struct{}
	running bool
	wg      sync.WaitGroup
}

// New validates cfg and returns a monitor with no members.
func New(cfg Config, opts ...Option) (*Monitor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m := &Monitor{
		cfg:     cfg,
		members: make(map[string]*memberState),
		prober:  PingProber{},
		handler: noOpHandler{},
		clock:   election.NewStandardClock(),
		logger:  logger.NewNoOpLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.WithComponent("monitor")
	return m, nil
}

// Register adds members to the watch list, considering them seen now.
func (m *Monitor) Register(members ...Member) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	for _, mem := range members {
		id := mem.MemberID()
		if _, dup := m.members[id]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateMember, id)
		}
		m.members[id] = &memberState{member: mem, lastSeen: now}
		m.order = append(m.order, id)
	}
	return nil
}

// Heartbeat probes every member that is not permanently failed and returns
// how many answered.
func (m *Monitor) Heartbeat(ctx context.Context) int {
	targets := m.selectMembers(func(s *memberState) bool { return !s.permanent })

	alive := 0
	for _, mem := range targets {
		err := m.probe(ctx, mem)

		m.mu.Lock()
		state := m.members[mem.MemberID()]
		state.lastErr = err
		if err == nil {
			state.lastSeen = m.clock.Now()
			alive++
		}
		m.mu.Unlock()

		if err != nil {
			m.logger.Debugw("Heartbeat missed", "member", mem.MemberID(), "error", err)
		}
	}
	return alive
}

// DetectFailures counts a failure against every stale member and returns the
// ids that were counted.
func (m *Monitor) DetectFailures(ctx context.Context) []string {
	m.mu.Lock()
	now := m.clock.Now()
	var events []failureEvent
	for _, id := range m.order {
		state := m.members[id]
		if state.permanent || now.Sub(state.lastSeen) <= m.cfg.FailureThreshold {
			continue
		}
		state.failures++
		if state.failures >= m.cfg.MaxFailures {
			state.permanent = true
		}
		events = append(events, failureEvent{id: id, count: state.failures, permanent: state.permanent})
	}
	m.mu.Unlock()

	ids := make([]string, 0, len(events))
	for _, ev := range events {
		ids = append(ids, ev.id)
		m.logger.Warnw("Member failure detected", "member", ev.id, "failures", ev.count)
		m.handler.OnFailure(ctx, ev.id, ev.count)
		if ev.permanent {
			m.logger.Errorw("Member permanently failed", "member", ev.id, "failures", ev.count)
			m.handler.OnPermanentFailure(ctx, ev.id)
		}
	}

	m.ensureLeader()
	return ids
}

// AttemptRecovery re-probes members with a failure count below the limit and
// returns the ids that recovered.
func (m *Monitor) AttemptRecovery(ctx context.Context) []string {
	targets := m.selectMembers(func(s *memberState) bool { return s.failures > 0 && !s.permanent })

	var recovered []string
	for _, mem := range targets {
		id := mem.MemberID()
		err := m.probe(ctx, mem)

		m.mu.Lock()
		state := m.members[id]
		state.lastErr = err
		ok := err == nil && state.failures > 0 && !state.permanent
		if ok {
			state.failures = 0
			state.lastSeen = m.clock.Now()
		}
		m.mu.Unlock()

		if !ok {
			m.logger.Infow("Member still unreachable", "member", id, "error", err)
			continue
		}
		recovered = append(recovered, id)
		m.logger.Infow("Member recovered", "member", id)
		m.handler.OnRecovery(ctx, id)
	}

	m.ensureLeader()
	return recovered
}

// Reinstate probes a member and, if it answers, clears its failure history,
// including a permanent failure. OnRecovery fires when the member had failed.
func (m *Monitor) Reinstate(ctx context.Context, id string) error {
	m.mu.Lock()
	state, ok := m.members[id]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownMember, id)
	}

	if err := m.probe(ctx, state.member); err != nil {
		return err
	}

	m.mu.Lock()
	wasFailed := state.failures > 0 || state.permanent
	state.failures = 0
	state.permanent = false
	state.lastErr = nil
	state.lastSeen = m.clock.Now()
	m.mu.Unlock()

	if wasFailed {
		m.logger.Infow("Member reinstated", "member", id)
		m.handler.OnRecovery(ctx, id)
	}
	m.ensureLeader()
	return nil
}

// Status returns a snapshot of every member in registration order.
func (m *Monitor) Status() []MemberStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]MemberStatus, 0, len(m.order))
	for _, id := range m.order {
		s := m.members[id]
		st := MemberStatus{
			ID:        id,
			Healthy:   s.failures == 0 && !s.permanent,
			Failures:  s.failures,
			Permanent: s.permanent,
			LastSeen:  s.lastSeen,
		}
		if s.lastErr != nil {
			st.LastError = s.lastErr.Error()
		}
		out = append(out, st)
	}
	return out
}

// Start launches the heartbeat, detection and recovery loops. They run until
// ctx is cancelled or Stop is called.
func (m *Monitor) Start(ctx context.Context) error {
	m.lifeMu.Lock()
	defer m.lifeMu.Unlock()

	if m.running {
		return ErrAlreadyStarted
	}
	m.running = true
	m.stopCh = make(chan struct{})

	loops := []struct {
		name     string
		interval time.Duration
		round    func(context.Context)
	}{
		{"heartbeat", m.cfg.HeartbeatInterval, func(ctx context.Context) { m.Heartbeat(ctx) }},
		{"detection", m.cfg.DetectionInterval, func(ctx context.Context) { m.DetectFailures(ctx) }},
		{"recovery", m.cfg.RecoveryInterval, func(ctx context.Context) { m.AttemptRecovery(ctx) }},
	}
	for _, l := range loops {
		ticker := m.clock.NewTicker(l.interval)
		m.wg.Add(1)
		go m.loop(ctx, l.name, ticker, m.stopCh, l.round)
	}

	m.logger.Infow("Fault monitor started",
		"members", len(m.Status()),
		"heartbeat", m.cfg.HeartbeatInterval,
		"threshold", m.cfg.FailureThreshold,
		"maxFailures", m.cfg.MaxFailures)
	return nil
}

// Stop halts the loops and waits for them to exit. It is safe to call on a
// monitor that is not running.
func (m *Monitor) Stop() {
	m.lifeMu.Lock()
	if !m.running {
		m.lifeMu.Unlock()
		return
	}
	m.running = false
	close(m.stopCh)
	m.lifeMu.Unlock()

	m.wg.Wait()
	m.logger.Infow("Fault monitor stopped")
}

func (m *Monitor) loop(ctx context.Context, name string, ticker election.Ticker, stopCh <-chan struct{}, round func(context.Context)) {
	defer m.wg.Done()
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.Chan():
			m.logger.Debugw("Running monitor round", "round", name)
			round(ctx)
		}
	}
}

func (m *Monitor) selectMembers(keep func(*memberState) bool) []Member {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Member
	for _, id := range m.order {
		if s := m.members[id]; keep(s) {
			out = append(out, s.member)
		}
	}
	return out
}

func (m *Monitor) probe(ctx context.Context, mem Member) error {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	defer cancel()
	return m.prober.Probe(ctx, mem)
}

func (m *Monitor) ensureLeader() {
	if m.leader == nil {
		return
	}
	if id, ok := m.leader.EnsureLeaderExists(); ok {
		m.logger.Debugw("Leader confirmed", "leader", id)
	} else {
		m.logger.Warnw("No dispatch node available to lead")
	}
}
