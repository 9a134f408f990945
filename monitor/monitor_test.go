package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/jathurchan/ridecore/testutil"
)

func TestConfig_Validate(t *testing.T) {
	testutil.AssertNoError(t, DefaultConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero heartbeat", func(c *Config) { c.HeartbeatInterval = 0 }},
		{"zero detection", func(c *Config) { c.DetectionInterval = 0 }},
		{"negative recovery", func(c *Config) { c.RecoveryInterval = -time.Second }},
		{"zero threshold", func(c *Config) { c.FailureThreshold = 0 }},
		{"zero probe timeout", func(c *Config) { c.ProbeTimeout = 0 }},
		{"zero max failures", func(c *Config) { c.MaxFailures = 0 }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			testutil.AssertErrorIs(t, cfg.Validate(), ErrInvalidConfig)

			_, err := New(cfg)
			testutil.AssertErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestMonitor_RegisterRejectsDuplicates(t *testing.T) {
	tm := newTestMonitor(t, newFakeMember("node_1"))

	err := tm.Register(newFakeMember("node_1"))
	testutil.AssertErrorIs(t, err, ErrDuplicateMember)
	testutil.AssertLen(t, tm.Status(), 1)
}

func TestMonitor_HeartbeatKeepsMembersHealthy(t *testing.T) {
	ctx := context.Background()
	a, b := newFakeMember("node_1"), newFakeMember("datanode1")
	tm := newTestMonitor(t, a, b)

	for range 4 {
		tm.clock.Advance(10 * time.Second)
		testutil.AssertEqual(t, 2, tm.Heartbeat(ctx))
		testutil.AssertEmpty(t, tm.DetectFailures(ctx))
	}
	testutil.AssertEmpty(t, tm.handler.all())
	testutil.AssertEqual(t, int32(4), tm.leader.calls.Load(), "every detection round ensures a leader")
}

func TestMonitor_FailureEscalatesToPermanent(t *testing.T) {
	ctx := context.Background()
	healthy, failing := newFakeMember("node_1"), newFakeMember("node_2")
	tm := newTestMonitor(t, healthy, failing)

	failing.alive.Store(false)
	tm.clock.Advance(16 * time.Second)
	testutil.AssertEqual(t, 1, tm.Heartbeat(ctx))

	for round := 1; round <= 3; round++ {
		ids := tm.DetectFailures(ctx)
		testutil.AssertEqual(t, []string{"node_2"}, ids, "round %d", round)
	}
	testutil.AssertEmpty(t, tm.DetectFailures(ctx), "a permanent failure is not counted again")

	testutil.AssertEqual(t, []event{
		{kind: "failure", id: "node_2", count: 1},
		{kind: "failure", id: "node_2", count: 2},
		{kind: "failure", id: "node_2", count: 3},
		{kind: "permanent", id: "node_2"},
	}, tm.handler.all())

	status := tm.Status()
	testutil.AssertTrue(t, status[0].Healthy)
	testutil.AssertFalse(t, status[1].Healthy)
	testutil.AssertTrue(t, status[1].Permanent)
	testutil.AssertEqual(t, 3, status[1].Failures)
	testutil.AssertEqual(t, errMemberDown.Error(), status[1].LastError)
}

func TestMonitor_AttemptRecovery(t *testing.T) {
	ctx := context.Background()
	member := newFakeMember("datanode2")
	tm := newTestMonitor(t, member)

	member.alive.Store(false)
	tm.clock.Advance(20 * time.Second)
	tm.DetectFailures(ctx)

	testutil.AssertEmpty(t, tm.AttemptRecovery(ctx), "still down")
	testutil.AssertEqual(t, 1, tm.Status()[0].Failures)

	member.alive.Store(true)
	testutil.AssertEqual(t, []string{"datanode2"}, tm.AttemptRecovery(ctx))

	st := tm.Status()[0]
	testutil.AssertTrue(t, st.Healthy)
	testutil.AssertEqual(t, 0, st.Failures)
	testutil.AssertEqual(t, tm.clock.Now(), st.LastSeen)

	testutil.AssertEqual(t, []event{
		{kind: "failure", id: "datanode2", count: 1},
		{kind: "recovery", id: "datanode2"},
	}, tm.handler.all())

	testutil.AssertEmpty(t, tm.DetectFailures(ctx), "a recovered member starts a fresh threshold window")
}

func TestMonitor_PermanentFailureNeedsReinstate(t *testing.T) {
	ctx := context.Background()
	member := newFakeMember("datanode3")
	tm := newTestMonitor(t, member)

	member.alive.Store(false)
	tm.clock.Advance(time.Minute)
	for range 3 {
		tm.DetectFailures(ctx)
	}
	member.alive.Store(true)

	testutil.AssertEmpty(t, tm.AttemptRecovery(ctx), "permanent failures are not probed")
	testutil.AssertEqual(t, 0, tm.Heartbeat(ctx), "permanent failures are not heartbeated")

	err := tm.Reinstate(ctx, "missing")
	testutil.AssertErrorIs(t, err, ErrUnknownMember)

	member.alive.Store(false)
	testutil.AssertErrorIs(t, tm.Reinstate(ctx, "datanode3"), errMemberDown)
	testutil.AssertTrue(t, tm.Status()[0].Permanent)

	member.alive.Store(true)
	testutil.RequireNoError(t, tm.Reinstate(ctx, "datanode3"))
	testutil.AssertTrue(t, tm.Status()[0].Healthy)

	events := tm.handler.all()
	testutil.AssertEqual(t, event{kind: "recovery", id: "datanode3"}, events[len(events)-1])

	before := len(tm.handler.all())
	testutil.RequireNoError(t, tm.Reinstate(ctx, "datanode3"))
	testutil.AssertLen(t, tm.handler.all(), before, "reinstating a healthy member fires nothing")
}

func TestMonitor_Loops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	member := newFakeMember("node_4")
	tm := newTestMonitor(t, member)
	cfg := testConfig()

	testutil.RequireNoError(t, tm.Start(ctx))
	testutil.AssertErrorIs(t, tm.Start(ctx), ErrAlreadyStarted)

	member.alive.Store(false)
	tm.clock.Advance(20 * time.Second)
	tm.clock.tick(t, cfg.HeartbeatInterval)
	tm.clock.tick(t, cfg.DetectionInterval)

	ev := tm.handler.wait(t)
	testutil.AssertEqual(t, event{kind: "failure", id: "node_4", count: 1}, ev)

	member.alive.Store(true)
	tm.clock.tick(t, cfg.RecoveryInterval)
	ev = tm.handler.wait(t)
	testutil.AssertEqual(t, event{kind: "recovery", id: "node_4"}, ev)

	tm.Stop()
	tm.Stop()

	for _, ticker := range tm.clock.tickers {
		testutil.AssertTrue(t, ticker.stopped.Load(), "tickers are stopped on exit")
	}
	testutil.RequireNoError(t, tm.Start(ctx), "a stopped monitor can be restarted")
	tm.Stop()
}

func TestMultiHandler(t *testing.T) {
	ctx := context.Background()
	first, second := newRecordingHandler(), newRecordingHandler()
	mh := MultiHandler{first, second}

	mh.OnFailure(ctx, "x", 2)
	mh.OnPermanentFailure(ctx, "x")
	mh.OnRecovery(ctx, "x")

	want := []event{
		{kind: "failure", id: "x", count: 2},
		{kind: "permanent", id: "x"},
		{kind: "recovery", id: "x"},
	}
	testutil.AssertEqual(t, want, first.all())
	testutil.AssertEqual(t, want, second.all())
}
