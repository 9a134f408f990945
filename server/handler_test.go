package server

import (
	"context"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/jathurchan/ridecore/dispatch"
	"github.com/jathurchan/ridecore/storage"
	"github.com/jathurchan/ridecore/testutil"
	"github.com/jathurchan/ridecore/types"
)

func TestNewHandler_MissingDependencies(t *testing.T) {
	tests := []struct {
		name string
		deps Dependencies
	}{
		{"empty", Dependencies{}},
		{"no cluster", Dependencies{Dispatch: &dispatch.Service{}}},
		{"no storage", Dependencies{Dispatch: &dispatch.Service{}, Cluster: stubCluster{}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewHandler(DefaultConfig(), tt.deps)
			testutil.AssertErrorIs(t, err, ErrMissingDependencies)
		})
	}
}

type stubCluster struct{}

func (stubCluster) Leader() (types.NodeID, bool)             { return 0, false }
func (stubCluster) Nodes() []types.NodeRecord                { return nil }
func (stubCluster) Shutdown(types.NodeID) error              { return nil }
func (stubCluster) Startup(types.NodeID) error               { return nil }
func (stubCluster) EnsureLeaderExists() (types.NodeID, bool) { return 0, false }

func TestHandler_RideLifecycle(t *testing.T) {
	st := newTestStack(t, 0)

	testutil.AssertEqual(t, "SUCCESS: Driver registered", st.do(t, "REGISTER_DRIVER;driver1;Downtown;1"))

	resp := st.do(t, "REQUEST_RIDE;rider1;Airport;Mall;2")
	testutil.AssertTrue(t, strings.HasPrefix(resp, "SUCCESS: RIDE_rider1_"), "unexpected response %q", resp)
	rideID := strings.TrimPrefix(resp, "SUCCESS: ")

	testutil.AssertEqual(t, "STATUS: REQUESTED", st.do(t, "GET_STATUS;"+rideID+";3"))

	resp = st.do(t, "ASSIGN_DRIVER;"+rideID+";4")
	parts := strings.Split(resp, "|")
	testutil.AssertLen(t, parts, 6, "unexpected assignment %q", resp)
	testutil.AssertEqual(t, "SUCCESS", parts[0])
	testutil.AssertEqual(t, "driver1", parts[1])
	testutil.AssertEqual(t, "Vehicle_driver1", parts[2])
	testutil.AssertEqual(t, "Downtown", parts[5])

	testutil.AssertEqual(t, "SUCCESS: Ride accepted", st.do(t, "ACCEPT_RIDE;"+rideID+";5"))
	testutil.AssertEqual(t, "STATUS: ACCEPTED", st.do(t, "GET_STATUS;"+rideID+";6"))
	testutil.AssertEqual(t, "SUCCESS: Ride completed", st.do(t, "COMPLETE_RIDE;"+rideID+";7"))
	testutil.AssertEqual(t, "STATUS: COMPLETED", st.do(t, "GET_STATUS;"+rideID+";8"))

	testutil.AssertEqual(t, "ERROR: Invalid ride status transition", st.do(t, "CANCEL_RIDE;"+rideID+";9"))
	testutil.AssertEqual(t, "HDFS_RIDES: "+dispatch.RidePath(rideID), st.do(t, "HDFS_LIST_RIDES"))
	testutil.AssertEqual(t, "HDFS_DRIVERS: "+dispatch.DriverPath("driver1"), st.do(t, "HDFS_LIST_DRIVERS"))
}

func TestHandler_AssignWithoutDrivers(t *testing.T) {
	st := newTestStack(t, 0)

	rideID := strings.TrimPrefix(st.do(t, "REQUEST_RIDE;rider2;A;B;1"), "SUCCESS: ")
	testutil.AssertEqual(t, "ERROR: No drivers available", st.do(t, "ASSIGN_DRIVER;"+rideID+";2"))
	testutil.AssertEqual(t, "SUCCESS: Ride cancelled", st.do(t, "CANCEL_RIDE;"+rideID+";3"))
	testutil.AssertEqual(t, "ERROR: Ride not found", st.do(t, "ACCEPT_RIDE;RIDE_missing;4"))
	testutil.AssertEqual(t, "STATUS: NOT_FOUND", st.do(t, "GET_STATUS;RIDE_missing;5"))
}

func TestHandler_RideLockOrderedBySenderTimestamp(t *testing.T) {
	st := newTestStack(t, 0)
	rideID := strings.TrimPrefix(st.do(t, "REQUEST_RIDE;rider3;A;B;1"), "SUCCESS: ")

	testutil.AssertTrue(t, st.locks.Acquire(rideID, 10))

	testutil.AssertEqual(t, "FAILED: Ride being processed", st.do(t, "CANCEL_RIDE;"+rideID+";20"))
	testutil.AssertEqual(t, "STATUS: REQUESTED", st.do(t, "GET_STATUS;"+rideID+";21"))

	testutil.AssertEqual(t, "SUCCESS: Ride cancelled", st.do(t, "CANCEL_RIDE;"+rideID+";5"))
	_, held := st.locks.Holder(rideID)
	testutil.AssertFalse(t, held, "lock should be released after the request")
	testutil.AssertEqual(t, 1, st.metrics.count(VerbCancelRide+"/"+OutcomeFailed))
}

func TestHandler_FormatErrors(t *testing.T) {
	st := newTestStack(t, 0)

	tests := []struct {
		line string
		want string
	}{
		{"", "ERROR: Empty request"},
		{"BOGUS;1", "ERROR: Unknown command"},
		{"REGISTER_DRIVER;1", "ERROR: Invalid format - use REGISTER_DRIVER;driverId;location;timestamp"},
		{"REQUEST_RIDE;rider;A;B;abc", `ERROR: Invalid timestamp "abc"`},
		{"CALCULATE_FARE;ten;2.5;1", `ERROR: Invalid distance "ten"`},
		{"GPS_UPDATE;driver1;north;2.0;1", `ERROR: Invalid latitude "north"`},
		{"FAIL_NODE;nodeX;1", "ERROR: Invalid node ID"},
		{"FAIL_NODE;9;1", "ERROR: Node not found"},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			testutil.AssertEqual(t, tt.want, st.do(t, tt.line))
		})
	}
	testutil.AssertEqual(t, 1, st.metrics.count("BOGUS/"+OutcomeError))
	testutil.AssertTrue(t, st.metrics.protocolErrors >= 2, "protocol errors should be counted")
}

func TestHandler_FareAndGPS(t *testing.T) {
	st := newTestStack(t, 0)

	testutil.AssertEqual(t, "SUCCESS: $25.00", st.do(t, "CALCULATE_FARE;10;2.5;1"))
	testutil.AssertEqual(t, "ERROR: Driver not found", st.do(t, "GPS_UPDATE;ghost;1.0;2.0;2"))

	st.do(t, "REGISTER_DRIVER;driver9;Harbor;3")
	testutil.AssertEqual(t, "SUCCESS: GPS updated", st.do(t, "GPS_UPDATE;driver9;40.7128;-74.0060;4"))
	d, ok := st.svc.Driver("driver9")
	testutil.AssertTrue(t, ok)
	testutil.AssertEqual(t, "(40.7128,-74.006)", d.Location)
}

func TestHandler_LeaderFailover(t *testing.T) {
	st := newTestStack(t, 0)

	testutil.AssertEqual(t, "LEADER: Process 5", st.do(t, "LEADER_STATUS"))
	testutil.AssertEqual(t, "SUCCESS: Node 5 failure simulated", st.do(t, "SIMULATE_FAILURE;5;1"))
	testutil.AssertEqual(t, types.NodeID(4), leaderOf(t, st.coord))
	testutil.AssertEqual(t, "LEADER: Process 4", st.do(t, "LEADER_STATUS"))
	testutil.AssertEqual(t, "HEALTH_STATUS: ActiveNodes=4/5, Leader=4, HDFS=3/3 nodes", st.do(t, "HEALTH_STATUS"))

	testutil.AssertEqual(t, "SUCCESS: Node 5 recovered", st.do(t, "RECOVER_NODE;node_5;2"))
	testutil.AssertEqual(t, types.NodeID(5), leaderOf(t, st.coord))
	testutil.AssertEqual(t, "HEALTH_STATUS: ActiveNodes=5/5, Leader=5, HDFS=3/3 nodes", st.do(t, "HEALTH_STATUS"))
}

func TestHandler_NoLeaderRejectsMutations(t *testing.T) {
	st := newTestStack(t, 0)

	for _, id := range []string{"1", "2", "3", "4", "5"} {
		st.do(t, "FAIL_NODE;"+id+";1")
	}
	testutil.AssertEqual(t, "LEADER: None", st.do(t, "LEADER_STATUS"))
	testutil.AssertEqual(t, "ERROR: No leader available", st.do(t, "REGISTER_DRIVER;driver1;X;2"))
	testutil.AssertEqual(t, "SUCCESS: $10.00", st.do(t, "CALCULATE_FARE;4;2.5;3"))
	testutil.AssertEqual(t, "HEALTH_STATUS: ActiveNodes=0/5, Leader=None, HDFS=3/3 nodes", st.do(t, "HEALTH_STATUS"))
}

func TestHandler_DelayedLeaderCheck(t *testing.T) {
	st := newTestStack(t, 2*time.Second)

	st.do(t, "SIMULATE_FAILURE;5;1")
	testutil.AssertEqual(t, "LEADER: None", st.do(t, "LEADER_STATUS"))

	st.clock.fire()
	deadline := time.Now().Add(5 * time.Second)
	for {
		if id, ok := st.coord.Leader(); ok {
			testutil.AssertEqual(t, types.NodeID(4), id)
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("leader was not re-elected after the failover delay")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHandler_Partition(t *testing.T) {
	st := newTestStack(t, 0)

	testutil.AssertEqual(t, "SUCCESS: Network partition simulated", st.do(t, "SIMULATE_PARTITION"))
	testutil.AssertEqual(t, "HEALTH_STATUS: ActiveNodes=3/5, Leader=5, HDFS=3/3 nodes", st.do(t, "HEALTH_STATUS"))

	testutil.AssertEqual(t, "SUCCESS: Network partition recovery initiated", st.do(t, "RECOVER_PARTITION"))
	testutil.AssertEqual(t, "HEALTH_STATUS: ActiveNodes=5/5, Leader=5, HDFS=3/3 nodes", st.do(t, "HEALTH_STATUS"))
}

func TestHandler_DataNodeFailureAndRecovery(t *testing.T) {
	st := newTestStack(t, 0)
	ctx := context.Background()

	testutil.AssertEqual(t, "SUCCESS: Node datanode2 failed", st.do(t, "FAIL_NODE;datanode2;1"))
	testutil.AssertFalse(t, st.health.Members()["datanode2"])
	testutil.AssertEqual(t, "HEALTH_STATUS: ActiveNodes=5/5, Leader=5, HDFS=2/3 nodes", st.do(t, "HEALTH_STATUS"))

	for round := 1; round <= 3; round++ {
		st.clock.Advance(16 * time.Second)
		st.mon.Heartbeat(ctx)
		failed := st.mon.DetectFailures(ctx)
		testutil.AssertEqual(t, []string{"datanode2"}, failed, "round %d", round)
	}
	testutil.AssertTrue(t, len(st.nn.ListFiles("/logs/failures/")) >= 3, "failures should be journaled")

	testutil.AssertEqual(t, "SUCCESS: Node datanode2 recovered", st.do(t, "RECOVER_NODE;datanode2;2"))
	testutil.AssertTrue(t, st.health.Members()["datanode2"])
	testutil.AssertLen(t, st.nn.ListFiles("/logs/recoveries/"), 1)

	for _, ms := range st.mon.Status() {
		if ms.ID == "datanode2" {
			testutil.AssertFalse(t, ms.Permanent, "datanode2 should be reinstated")
			testutil.AssertEqual(t, 0, ms.Failures)
		}
	}
}

func TestHandler_StatusReports(t *testing.T) {
	st := newTestStack(t, 0)

	testutil.AssertEqual(t, "BACKUP_STATUS: Rides=0, Drivers=0, LastBackup=never", st.do(t, "BACKUP_STATUS"))
	testutil.AssertEqual(t,
		"HDFS_STATUS: Active - 3/3 DataNodes, Files=0, Blocks=0, Storage=0MB/30MB, Replication Factor: 2",
		st.do(t, "HDFS_STATUS"))

	st.do(t, "REGISTER_DRIVER;driver1;Downtown;1")
	st.do(t, "REQUEST_RIDE;rider1;A;B;2")

	_, err := st.backup.RunBackup(context.Background())
	testutil.RequireNoError(t, err)

	resp := st.do(t, "BACKUP_STATUS")
	testutil.AssertEqual(t, "BACKUP_STATUS: Rides=1, Drivers=1, LastBackup="+
		strconv.FormatInt(testNow.UnixMilli(), 10), resp)

	resp = st.do(t, "HDFS_STATUS")
	testutil.AssertTrue(t, strings.HasPrefix(resp, "HDFS_STATUS: Active - 3/3 DataNodes, Files="), resp)
	testutil.AssertContains(t, resp, "Replication Factor: 2")

	for _, dn := range []string{"datanode1", "datanode2", "datanode3"} {
		st.do(t, "FAIL_NODE;"+dn+";3")
	}
	testutil.AssertTrue(t, strings.HasPrefix(st.do(t, "HDFS_STATUS"), "HDFS_STATUS: Down - 0/3 DataNodes"))
	testutil.AssertEqual(t, "ERROR: Insufficient replicas", st.do(t, "REGISTER_DRIVER;driver2;X;4"))
}

func TestHandler_RecordsPersistedToStorage(t *testing.T) {
	st := newTestStack(t, 0)

	st.do(t, "REGISTER_DRIVER;driver1;Downtown;1")
	info, ok := st.nn.FileInfo(dispatch.DriverPath("driver1"))
	testutil.AssertTrue(t, ok)
	testutil.AssertTrue(t, len(info.BlockIDs) > 0)

	for _, id := range info.BlockIDs {
		b, ok := st.nn.Block(id)
		testutil.AssertTrue(t, ok)
		testutil.AssertLen(t, b.Replicas, storage.DefaultReplicationFactor)
	}
}
