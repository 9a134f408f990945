package server

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jathurchan/ridecore/backup"
	"github.com/jathurchan/ridecore/dispatch"
	"github.com/jathurchan/ridecore/election"
	"github.com/jathurchan/ridecore/logger"
	"github.com/jathurchan/ridecore/monitor"
	"github.com/jathurchan/ridecore/storage"
	"github.com/jathurchan/ridecore/types"
)

// Cluster is the dispatch-node roster the handler controls.
type Cluster interface {
	Leader() (types.NodeID, bool)
	Nodes() []types.NodeRecord
	Shutdown(id types.NodeID) error
	Startup(id types.NodeID) error
	EnsureLeaderExists() (types.NodeID, bool)
}

// Dependencies bundles the components the handler routes requests to.
type Dependencies struct {
	// Dispatch owns drivers and rides.
	Dispatch *dispatch.Service

	// Cluster is the election roster. Typically a *election.Coordinator.
	Cluster Cluster

	// Storage is the block store holding persisted records.
	Storage *storage.NameNode

	// Monitor is told about manual recoveries. Optional.
	Monitor *monitor.Monitor

	// Backup reports BACKUP_STATUS. Optional.
	Backup *backup.Manager

	// Health publishes data node liveness changes. Optional; dispatch node
	// changes reach it through the election role-change hook.
	Health *HealthPublisher
}

// Validate checks that all required dependencies are provided.
func (d *Dependencies) Validate() error {
	if d == nil {
		return fmt.Errorf("%w: dependencies struct cannot be nil", ErrMissingDependencies)
	}
	if d.Dispatch == nil {
		return fmt.Errorf("%w: Dispatch dependency cannot be nil", ErrMissingDependencies)
	}
	if d.Cluster == nil {
		return fmt.Errorf("%w: Cluster dependency cannot be nil", ErrMissingDependencies)
	}
	if d.Storage == nil {
		return fmt.Errorf("%w: Storage dependency cannot be nil", ErrMissingDependencies)
	}
	return nil
}

type route struct {
	minArgs int
	usage   string
	fn      func(ctx context.Context, req Request, ts types.Timestamp) (string, error)
}

// Handler turns request lines into responses.
type Handler struct {
	deps Dependencies

	clock         election.Clock
	failoverDelay time.Duration
	metrics       ServerMetrics
	logger        logger.Logger

	routes map[string]route

	stopCh    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewHandler validates deps and returns a Handler using cfg's clock, logger,
// metrics and failover delay.
func NewHandler(cfg Config, deps Dependencies) (*Handler, error) {
	if err := deps.Validate(); err != nil {
		return nil, err
	}
	if cfg.Clock == nil {
		cfg.Clock = election.NewStandardClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNoOpLogger()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NewNoOpServerMetrics()
	}

	h := &Handler{
		deps:          deps,
		clock:         cfg.Clock,
		failoverDelay: cfg.FailoverDelay,
		metrics:       cfg.Metrics,
		logger:        cfg.Logger.WithComponent("handler"),
		stopCh:        make(chan struct{}),
	}
	h.routes = map[string]route{
		VerbRegisterDriver:    {2, "REGISTER_DRIVER;driverId;location;timestamp", h.registerDriver},
		VerbRequestRide:       {3, "REQUEST_RIDE;riderId;pickup;destination;timestamp", h.requestRide},
		VerbAssignDriver:      {1, "ASSIGN_DRIVER;rideId;timestamp", h.assignDriver},
		VerbAcceptRide:        {1, "ACCEPT_RIDE;rideId;timestamp", h.acceptRide},
		VerbCompleteRide:      {1, "COMPLETE_RIDE;rideId;timestamp", h.completeRide},
		VerbCancelRide:        {1, "CANCEL_RIDE;rideId;timestamp", h.cancelRide},
		VerbCalculateFare:     {2, "CALCULATE_FARE;distance;rate;timestamp", h.calculateFare},
		VerbGPSUpdate:         {3, "GPS_UPDATE;driverId;lat;lon;timestamp", h.updateGPS},
		VerbGetStatus:         {1, "GET_STATUS;rideId;timestamp", h.rideStatus},
		VerbLeaderStatus:      {0, "LEADER_STATUS", h.leaderStatus},
		VerbSimulateFailure:   {1, "SIMULATE_FAILURE;nodeId;timestamp", h.simulateFailure},
		VerbFailNode:          {1, "FAIL_NODE;nodeId;timestamp", h.failNode},
		VerbRecoverNode:       {1, "RECOVER_NODE;nodeId;timestamp", h.recoverNode},
		VerbSimulatePartition: {0, "SIMULATE_PARTITION", h.simulatePartition},
		VerbRecoverPartition:  {0, "RECOVER_PARTITION", h.recoverPartition},
		VerbHealthStatus:      {0, "HEALTH_STATUS", h.healthStatus},
		VerbBackupStatus:      {0, "BACKUP_STATUS", h.backupStatus},
		VerbHDFSStatus:        {0, "HDFS_STATUS", h.hdfsStatus},
		VerbHDFSListRides:     {0, "HDFS_LIST_RIDES", h.listRides},
		VerbHDFSListDrivers:   {0, "HDFS_LIST_DRIVERS", h.listDrivers},
	}
	return h, nil
}

// Handle parses and executes one request line and returns the response line.
// The request's timestamp is merged into the logical clock before routing,
// so even rejected requests advance it. Ride locks are ordered by the
// sender's timestamp; requests without one are ordered by the local time.
func (h *Handler) Handle(ctx context.Context, line string) string {
	start := h.clock.Now()

	req, err := ParseRequest(line)
	if err != nil {
		h.metrics.IncrProtocolError()
		return ErrorToResponse(err)
	}
	ts := h.deps.Dispatch.Stamp(req.Timestamp, req.HasTimestamp)
	if req.HasTimestamp {
		ts = req.Timestamp
	}

	resp := h.dispatch(ctx, req, ts)

	h.metrics.IncrRequest(req.Verb, outcomeOf(resp))
	h.metrics.ObserveRequestLatency(req.Verb, h.clock.Since(start))
	return resp
}

func (h *Handler) dispatch(ctx context.Context, req Request, ts types.Timestamp) string {
	r, ok := h.routes[req.Verb]
	if !ok {
		h.logger.Debugw("Unknown command", "verb", req.Verb, "timestamp", ts)
		return ErrorToResponse(ErrUnknownCommand)
	}
	if len(req.Args) < r.minArgs {
		h.metrics.IncrProtocolError()
		return ErrorToResponse(NewProtocolError(req.Verb, "Invalid format - use "+r.usage))
	}

	resp, err := r.fn(ctx, req, ts)
	if err != nil {
		h.logger.Debugw("Request rejected", "verb", req.Verb, "timestamp", ts, "error", err)
		return ErrorToResponse(err)
	}
	return resp
}

// Close stops pending leader checks scheduled by failure simulations.
func (h *Handler) Close() {
	h.closeOnce.Do(func() { close(h.stopCh) })
	h.wg.Wait()
}

func (h *Handler) registerDriver(ctx context.Context, req Request, ts types.Timestamp) (string, error) {
	if err := h.deps.Dispatch.RegisterDriver(ctx, ts, req.Arg(0), req.Arg(1)); err != nil {
		return "", err
	}
	return "SUCCESS: Driver registered", nil
}

func (h *Handler) requestRide(ctx context.Context, req Request, ts types.Timestamp) (string, error) {
	rideID, err := h.deps.Dispatch.RequestRide(ctx, ts, req.Arg(0), req.Arg(1), req.Arg(2))
	if err != nil {
		return "", err
	}
	return "SUCCESS: " + rideID, nil
}

func (h *Handler) assignDriver(ctx context.Context, req Request, ts types.Timestamp) (string, error) {
	a, err := h.deps.Dispatch.AssignDriver(ctx, ts, req.Arg(0))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("SUCCESS|%s|%s|%s|%.1f|%s", a.DriverID, a.Vehicle, a.Phone, a.Rating, a.Location), nil
}

func (h *Handler) acceptRide(ctx context.Context, req Request, ts types.Timestamp) (string, error) {
	if err := h.deps.Dispatch.AcceptRide(ctx, ts, req.Arg(0)); err != nil {
		return "", err
	}
	return "SUCCESS: Ride accepted", nil
}

func (h *Handler) completeRide(ctx context.Context, req Request, ts types.Timestamp) (string, error) {
	if err := h.deps.Dispatch.CompleteRide(ctx, ts, req.Arg(0)); err != nil {
		return "", err
	}
	return "SUCCESS: Ride completed", nil
}

func (h *Handler) cancelRide(ctx context.Context, req Request, ts types.Timestamp) (string, error) {
	if err := h.deps.Dispatch.CancelRide(ctx, ts, req.Arg(0)); err != nil {
		return "", err
	}
	return "SUCCESS: Ride cancelled", nil
}

func (h *Handler) calculateFare(_ context.Context, req Request, _ types.Timestamp) (string, error) {
	distance, err := parseFloat(req.Verb, "distance", req.Arg(0))
	if err != nil {
		return "", err
	}
	rate, err := parseFloat(req.Verb, "rate", req.Arg(1))
	if err != nil {
		return "", err
	}
	fare, err := h.deps.Dispatch.CalculateFare(distance, rate)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("SUCCESS: $%.2f", fare), nil
}

func (h *Handler) updateGPS(ctx context.Context, req Request, ts types.Timestamp) (string, error) {
	lat, err := parseFloat(req.Verb, "latitude", req.Arg(1))
	if err != nil {
		return "", err
	}
	lon, err := parseFloat(req.Verb, "longitude", req.Arg(2))
	if err != nil {
		return "", err
	}
	if err := h.deps.Dispatch.UpdateGPS(ctx, ts, req.Arg(0), lat, lon); err != nil {
		return "", err
	}
	return "SUCCESS: GPS updated", nil
}

func (h *Handler) rideStatus(_ context.Context, req Request, _ types.Timestamp) (string, error) {
	status, ok := h.deps.Dispatch.RideStatus(req.Arg(0))
	if !ok {
		return "STATUS: NOT_FOUND", nil
	}
	return "STATUS: " + string(status), nil
}

func (h *Handler) leaderStatus(context.Context, Request, types.Timestamp) (string, error) {
	leader, ok := h.deps.Cluster.Leader()
	if !ok {
		return "LEADER: None", nil
	}
	return fmt.Sprintf("LEADER: Process %d", leader), nil
}

func (h *Handler) simulateFailure(ctx context.Context, req Request, ts types.Timestamp) (string, error) {
	name, err := h.failTarget(ctx, req, ts)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("SUCCESS: Node %s failure simulated", name), nil
}

func (h *Handler) failNode(ctx context.Context, req Request, ts types.Timestamp) (string, error) {
	name, err := h.failTarget(ctx, req, ts)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("SUCCESS: Node %s failed", name), nil
}

// failTarget takes a dispatch node or a data node down. A dispatch failure
// is followed, after the failover delay, by a leader check.
func (h *Handler) failTarget(_ context.Context, req Request, ts types.Timestamp) (string, error) {
	id, dn, err := h.resolveNode(req.Verb, req.Arg(0))
	if err != nil {
		return "", err
	}
	if dn != nil {
		dn.SetActive(false)
		h.publish(dn.ID(), false)
		h.logger.Infow("Data node failure simulated", "node", dn.ID(), "timestamp", ts)
		return dn.ID(), nil
	}

	if err := h.deps.Cluster.Shutdown(id); err != nil {
		return "", err
	}
	h.logger.Infow("Dispatch node failure simulated", "node", id, "timestamp", ts)
	h.scheduleLeaderCheck("node failure")
	return strconv.Itoa(int(id)), nil
}

// recoverNode brings a node back and clears its failure history in the
// fault monitor, including a permanent failure.
func (h *Handler) recoverNode(ctx context.Context, req Request, ts types.Timestamp) (string, error) {
	id, dn, err := h.resolveNode(req.Verb, req.Arg(0))
	if err != nil {
		return "", err
	}

	var name, member string
	if dn != nil {
		dn.SetActive(true)
		h.publish(dn.ID(), true)
		name, member = dn.ID(), dn.MemberID()
	} else {
		if err := h.deps.Cluster.Startup(id); err != nil {
			if !errors.Is(err, election.ErrNodeDown) {
				return "", err
			}
			h.logger.Warnw("Recovered node lost its election", "node", id, "error", err)
		}
		name, member = strconv.Itoa(int(id)), dispatch.NodeMember{ID: id}.MemberID()
	}

	if h.deps.Monitor != nil {
		if err := h.deps.Monitor.Reinstate(ctx, member); err != nil && !errors.Is(err, monitor.ErrUnknownMember) {
			h.logger.Warnw("Monitor could not reinstate member", "member", member, "error", err)
		}
	}
	h.logger.Infow("Node recovered", "node", name, "timestamp", ts)
	return fmt.Sprintf("SUCCESS: Node %s recovered", name), nil
}

// simulatePartition cuts off the lower half of the roster.
func (h *Handler) simulatePartition(_ context.Context, _ Request, ts types.Timestamp) (string, error) {
	nodes := h.deps.Cluster.Nodes()
	for _, rec := range nodes[:len(nodes)/2] {
		if err := h.deps.Cluster.Shutdown(rec.ID); err != nil {
			return "", err
		}
		h.logger.Infow("Node disconnected by partition", "node", rec.ID, "timestamp", ts)
	}
	h.scheduleLeaderCheck("network partition")
	return "SUCCESS: Network partition simulated", nil
}

func (h *Handler) recoverPartition(_ context.Context, _ Request, ts types.Timestamp) (string, error) {
	for _, rec := range h.deps.Cluster.Nodes() {
		if rec.Active {
			continue
		}
		if err := h.deps.Cluster.Startup(rec.ID); err != nil && !errors.Is(err, election.ErrNodeDown) {
			return "", err
		}
		h.logger.Infow("Node reconnected", "node", rec.ID, "timestamp", ts)
	}
	h.scheduleLeaderCheck("partition recovery")
	return "SUCCESS: Network partition recovery initiated", nil
}

func (h *Handler) healthStatus(context.Context, Request, types.Timestamp) (string, error) {
	nodes := h.deps.Cluster.Nodes()
	active := 0
	for _, rec := range nodes {
		if rec.Active {
			active++
		}
	}
	leader := "None"
	if id, ok := h.deps.Cluster.Leader(); ok {
		leader = strconv.Itoa(int(id))
	}
	cs := h.deps.Storage.ClusterStatus()
	return fmt.Sprintf("HEALTH_STATUS: ActiveNodes=%d/%d, Leader=%s, HDFS=%d/%d nodes",
		active, len(nodes), leader, cs.ActiveNodes, len(cs.Nodes)), nil
}

func (h *Handler) backupStatus(context.Context, Request, types.Timestamp) (string, error) {
	rides, drivers := len(h.deps.Dispatch.StoredRides()), len(h.deps.Dispatch.StoredDrivers())
	last := "never"
	if h.deps.Backup != nil {
		st := h.deps.Backup.Status()
		if !st.LastBackup.IsZero() {
			last = strconv.FormatInt(st.LastBackup.UnixMilli(), 10)
		}
	}
	return fmt.Sprintf("BACKUP_STATUS: Rides=%d, Drivers=%d, LastBackup=%s", rides, drivers, last), nil
}

func (h *Handler) hdfsStatus(context.Context, Request, types.Timestamp) (string, error) {
	const mb = 1024 * 1024
	cs := h.deps.Storage.ClusterStatus()
	state := "Active"
	if cs.ActiveNodes == 0 {
		state = "Down"
	}
	return fmt.Sprintf("HDFS_STATUS: %s - %d/%d DataNodes, Files=%d, Blocks=%d, Storage=%dMB/%dMB, Replication Factor: %d",
		state, cs.ActiveNodes, len(cs.Nodes), cs.Files, cs.Blocks, cs.UsedSpace/mb, cs.Capacity/mb,
		h.deps.Storage.ReplicationFactor()), nil
}

func (h *Handler) listRides(context.Context, Request, types.Timestamp) (string, error) {
	return "HDFS_RIDES: " + strings.Join(h.deps.Dispatch.StoredRides(), ","), nil
}

func (h *Handler) listDrivers(context.Context, Request, types.Timestamp) (string, error) {
	return "HDFS_DRIVERS: " + strings.Join(h.deps.Dispatch.StoredDrivers(), ","), nil
}

// resolveNode maps a node argument to a dispatch node id or a data node.
// Dispatch nodes are given as "3" or "node_3"; data nodes by their id.
func (h *Handler) resolveNode(verb, arg string) (types.NodeID, *storage.DataNode, error) {
	if dn, err := h.deps.Storage.DataNode(arg); err == nil {
		return 0, dn, nil
	}
	n, err := strconv.Atoi(strings.TrimPrefix(arg, "node_"))
	if err != nil {
		return 0, nil, NewProtocolError(verb, "Invalid node ID")
	}
	return types.NodeID(n), nil, nil
}

func (h *Handler) publish(member string, up bool) {
	if h.deps.Health != nil {
		h.deps.Health.SetMember(member, up)
	}
}

// scheduleLeaderCheck runs EnsureLeaderExists after the failover delay,
// immediately when the delay is zero.
func (h *Handler) scheduleLeaderCheck(reason string) {
	check := func() {
		leader, ok := h.deps.Cluster.EnsureLeaderExists()
		h.metrics.SetServerState(ok, true)
		if ok {
			h.logger.Infow("Leader confirmed", "reason", reason, "leader", leader)
		} else {
			h.logger.Warnw("No active node available for leadership", "reason", reason)
		}
	}
	if h.failoverDelay <= 0 {
		check()
		return
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		select {
		case <-h.stopCh:
		case <-h.clock.After(h.failoverDelay):
			check()
		}
	}()
}

func parseFloat(verb, field, s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, NewProtocolError(verb, fmt.Sprintf("Invalid %s %q", field, s))
	}
	return v, nil
}
