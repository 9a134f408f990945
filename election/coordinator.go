package election

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/jathurchan/ridecore/logger"
	"github.com/jathurchan/ridecore/types"
)

type messageKind int

const (
	msgElection messageKind = iota
	msgCoordinator
)

func (k messageKind) String() string {
	if k == msgElection {
		return "election"
	}
	return "coordinator"
}

// message is delivered to a node's inbox. The reply channel is buffered so the
// receiving run loop never blocks on a sender that already gave up waiting.
type message struct {
	kind  messageKind
	from  types.NodeID
	epoch uint64
	reply chan bool
}

type node struct {
	id    types.NodeID
	inbox chan message

	// Guarded by Coordinator.mu.
	role         types.NodeRole
	leaderID     types.NodeID
	leaderEpoch  uint64
	lastElection uint64

	electing atomic.Bool
}

// Coordinator runs bully elections over a fixed roster of dispatch nodes.
//
// Each node owns an inbox and a run loop. Election probes and coordinator
// announcements are messages between those loops. Every election draws a
// fresh epoch from a shared counter so that announcements produced by a
// superseded election can be recognized and dropped.
type Coordinator struct {
	mu    sync.RWMutex
	nodes map[types.NodeID]*node
	order []types.NodeID // ascending

	epoch    atomic.Uint64
	pending  atomic.Int64 // messages sent but not yet handled
	inflight atomic.Int64 // elections spawned by run loops

	cfg    Config
	logger logger.Logger
	clock  Clock

	stopCh    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewCoordinator creates the roster and starts one run loop per node.
// All nodes start active as followers with no leader; callers normally follow
// up with DeclareLeader or EnsureLeaderExists.
func NewCoordinator(ids []types.NodeID, opts ...Option) (*Coordinator, error) {
	if len(ids) == 0 {
		return nil, ErrEmptyRoster
	}

	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	c := &Coordinator{
		nodes:  make(map[types.NodeID]*node, len(ids)),
		cfg:    cfg,
		logger: cfg.Logger.WithComponent("election"),
		clock:  cfg.Clock,
		stopCh: make(chan struct{}),
	}

	for _, id := range ids {
		if id <= 0 {
			return nil, ErrInvalidNodeID
		}
		if _, dup := c.nodes[id]; dup {
			return nil, ErrDuplicateNode
		}
		c.nodes[id] = &node{
			id:    id,
			role:  types.RoleFollower,
			inbox: make(chan message, cfg.InboxSize),
		}
		c.order = append(c.order, id)
	}
	slices.Sort(c.order)

	for _, id := range c.order {
		c.wg.Add(1)
		go c.run(c.nodes[id])
	}

	c.logger.Infow("Election coordinator started", "nodes", len(c.order))
	return c, nil
}

// Close stops every run loop and waits for spawned elections to exit.
func (c *Coordinator) Close() {
	c.closeOnce.Do(func() {
		close(c.stopCh)
	})
	c.wg.Wait()
}

func (c *Coordinator) closed() bool {
	select {
	case <-c.stopCh:
		return true
	default:
		return false
	}
}

func (c *Coordinator) run(n *node) {
	defer c.wg.Done()

	for {
		select {
		case <-c.stopCh:
			return
		case msg := <-n.inbox:
			c.logger.Debugw("Message received",
				"node", n.id, "kind", msg.kind, "from", msg.from, "epoch", msg.epoch)
			switch msg.kind {
			case msgElection:
				c.handleElection(n, msg)
			case msgCoordinator:
				c.handleCoordinator(n, msg)
			}
			c.pending.Add(-1)
		}
	}
}

// handleElection answers a probe from a lower node. An active receiver answers
// true and starts its own election.
func (c *Coordinator) handleElection(n *node, msg message) {
	c.mu.RLock()
	active := n.role.IsActive()
	c.mu.RUnlock()

	msg.reply <- active

	if active && msg.from < n.id {
		c.spawnElection(n)
	}
}

func (c *Coordinator) handleCoordinator(n *node, msg message) {
	c.mu.Lock()

	if !n.role.IsActive() {
		c.mu.Unlock()
		msg.reply <- true
		return
	}

	sender := c.nodes[msg.from]
	if sender.role != types.RoleLeader || sender.leaderEpoch != msg.epoch {
		c.mu.Unlock()
		c.logger.Debugw("Discarding stale coordinator announcement",
			"node", n.id, "from", msg.from, "epoch", msg.epoch)
		msg.reply <- true
		return
	}

	if msg.from < n.id {
		c.mu.Unlock()
		msg.reply <- true
		c.logger.Debugw("Challenging lower coordinator", "node", n.id, "from", msg.from)
		c.spawnElection(n)
		return
	}

	if known, ok := c.nodes[n.leaderID]; ok && known.id != msg.from &&
		known.id > msg.from && known.role == types.RoleLeader {
		c.mu.Unlock()
		msg.reply <- true
		return
	}

	prev := n.role
	n.leaderID = msg.from
	n.leaderEpoch = msg.epoch
	if n.role == types.RoleLeader {
		n.role = types.RoleFollower
	}
	next := n.role
	c.mu.Unlock()

	msg.reply <- true
	c.notify(n.id, prev, next)
}

// spawnElection runs HoldElection for n in the background, coalescing
// concurrent triggers into one running election per node. Only called from
// run loops, so the wait group counter is never zero here.
func (c *Coordinator) spawnElection(n *node) {
	if c.closed() || !n.electing.CompareAndSwap(false, true) {
		return
	}

	c.inflight.Add(1)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.inflight.Add(-1)
		defer n.electing.Store(false)

		if err := c.HoldElection(n.id); err != nil {
			c.logger.Debugw("Background election ended", "node", n.id, "error", err)
		}
	}()
}

func (c *Coordinator) send(to *node, msg message) bool {
	c.pending.Add(1)
	select {
	case to.inbox <- msg:
		return true
	case <-c.stopCh:
		c.pending.Add(-1)
		return false
	}
}

// HoldElection makes node id a candidate. It probes every active higher node;
// if none answers, id becomes leader and announces itself to all other nodes.
// Returns once the election is handed off or the announcement is acknowledged.
func (c *Coordinator) HoldElection(id types.NodeID) error {
	if c.closed() {
		return ErrClosed
	}

	c.mu.Lock()
	n, ok := c.nodes[id]
	if !ok {
		c.mu.Unlock()
		return ErrUnknownNode
	}
	if !n.role.IsActive() {
		c.mu.Unlock()
		return ErrNodeDown
	}
	epoch := c.epoch.Add(1)
	n.lastElection = epoch
	higher := c.activeHigherLocked(id)
	c.mu.Unlock()

	log := c.logger.WithNodeID(id).WithEpoch(epoch)
	log.Debugw("Holding election", "higherNodes", len(higher))

	if c.anyAnswer(id, higher, epoch) {
		log.Debugw("Higher node answered; yielding")
		return nil
	}
	return c.assumeLeadership(n, epoch, true)
}

// DeclareLeader makes id the leader without probing higher nodes and announces
// it. Used for the initial leader; an active higher node will challenge it.
func (c *Coordinator) DeclareLeader(id types.NodeID) error {
	if c.closed() {
		return ErrClosed
	}

	c.mu.Lock()
	n, ok := c.nodes[id]
	if !ok {
		c.mu.Unlock()
		return ErrUnknownNode
	}
	if !n.role.IsActive() {
		c.mu.Unlock()
		return ErrNodeDown
	}
	epoch := c.epoch.Add(1)
	n.lastElection = epoch
	c.mu.Unlock()

	return c.assumeLeadership(n, epoch, false)
}

func (c *Coordinator) anyAnswer(from types.NodeID, targets []*node, epoch uint64) bool {
	if len(targets) == 0 {
		return false
	}

	replies := make([]chan bool, 0, len(targets))
	for _, t := range targets {
		reply := make(chan bool, 1)
		if !c.send(t, message{kind: msgElection, from: from, epoch: epoch, reply: reply}) {
			return false
		}
		replies = append(replies, reply)
	}

	answered := false
	deadline := c.clock.After(c.cfg.ReplyTimeout)
	for _, reply := range replies {
		select {
		case ok := <-reply:
			answered = answered || ok
		case <-deadline:
			return answered
		case <-c.stopCh:
			return answered
		}
	}
	return answered
}

// assumeLeadership promotes n for the given epoch and announces it. When
// checkHigher is set the promotion is abandoned if a newer election on n has
// started or a higher node is active, since that node will win instead.
func (c *Coordinator) assumeLeadership(n *node, epoch uint64, checkHigher bool) error {
	c.mu.Lock()
	if !n.role.IsActive() {
		c.mu.Unlock()
		return ErrNodeDown
	}
	if n.lastElection != epoch || (checkHigher && len(c.activeHigherLocked(n.id)) > 0) {
		c.mu.Unlock()
		c.logger.WithNodeID(n.id).Debugw("Election superseded", "epoch", epoch)
		return nil
	}

	prev := n.role
	n.role = types.RoleLeader
	n.leaderID = n.id
	n.leaderEpoch = epoch

	others := make([]*node, 0, len(c.order)-1)
	for _, id := range c.order {
		if id != n.id {
			others = append(others, c.nodes[id])
		}
	}
	c.mu.Unlock()

	c.logger.WithNodeID(n.id).WithEpoch(epoch).Infow("Node elected leader")
	c.notify(n.id, prev, types.RoleLeader)
	c.announce(n.id, others, epoch)
	return nil
}

func (c *Coordinator) announce(from types.NodeID, targets []*node, epoch uint64) {
	acks := make([]chan bool, 0, len(targets))
	for _, t := range targets {
		ack := make(chan bool, 1)
		if !c.send(t, message{kind: msgCoordinator, from: from, epoch: epoch, reply: ack}) {
			return
		}
		acks = append(acks, ack)
	}

	deadline := c.clock.After(c.cfg.AckTimeout)
	for i, ack := range acks {
		select {
		case <-ack:
		case <-deadline:
			c.logger.Warnw("Coordinator announcement not fully acknowledged",
				"leader", from, "epoch", epoch, "acked", i, "expected", len(acks))
			return
		case <-c.stopCh:
			return
		}
	}
}

// Shutdown marks id as down. A down node ignores election traffic and holds no
// leadership. Shutting down the leader does not trigger an election; the
// fault monitor's EnsureLeaderExists does that.
func (c *Coordinator) Shutdown(id types.NodeID) error {
	c.mu.Lock()
	n, ok := c.nodes[id]
	if !ok {
		c.mu.Unlock()
		return ErrUnknownNode
	}
	prev := n.role
	n.role = types.RoleDown
	n.leaderID = 0
	c.mu.Unlock()

	if prev != types.RoleDown {
		c.logger.WithNodeID(id).Infow("Node shut down", "previousRole", prev)
		c.notify(id, prev, types.RoleDown)
	}
	return nil
}

// Startup brings a down node back as a follower and has it hold an election.
// Starting an already active node is a no-op.
func (c *Coordinator) Startup(id types.NodeID) error {
	c.mu.Lock()
	n, ok := c.nodes[id]
	if !ok {
		c.mu.Unlock()
		return ErrUnknownNode
	}
	if n.role.IsActive() {
		c.mu.Unlock()
		return nil
	}
	n.role = types.RoleFollower
	c.mu.Unlock()

	c.logger.WithNodeID(id).Infow("Node started")
	c.notify(id, types.RoleDown, types.RoleFollower)
	return c.HoldElection(id)
}

// EnsureLeaderExists is the safety net run after every detection round. If
// there is no active leader, or the leader is not the highest active node,
// the highest active node holds an election.
func (c *Coordinator) EnsureLeaderExists() (types.NodeID, bool) {
	c.mu.RLock()
	highest, hasActive := c.highestActiveLocked()
	leader, hasLeader := c.leaderLocked()
	c.mu.RUnlock()

	if !hasActive {
		c.logger.Warnw("No active nodes; no leader can be elected")
		return 0, false
	}
	if hasLeader && leader == highest {
		return leader, true
	}

	c.logger.Infow("Leader missing or outranked; triggering election",
		"leader", leader, "candidate", highest)
	if err := c.HoldElection(highest); err != nil {
		c.logger.Warnw("Election for highest active node failed", "node", highest, "error", err)
	}
	return c.Leader()
}

// Leader returns the highest active node currently holding the leader role.
func (c *Coordinator) Leader() (types.NodeID, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.leaderLocked()
}

// Role returns the current role of id.
func (c *Coordinator) Role(id types.NodeID) (types.NodeRole, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	n, ok := c.nodes[id]
	if !ok {
		return types.RoleDown, ErrUnknownNode
	}
	return n.role, nil
}

// IsActive reports whether id is in the roster and not down.
func (c *Coordinator) IsActive(id types.NodeID) bool {
	role, err := c.Role(id)
	return err == nil && role.IsActive()
}

// Nodes returns a snapshot of the roster in ascending id order.
func (c *Coordinator) Nodes() []types.NodeRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()

	records := make([]types.NodeRecord, 0, len(c.order))
	for _, id := range c.order {
		n := c.nodes[id]
		records = append(records, types.NodeRecord{
			ID:       id,
			Active:   n.role.IsActive(),
			IsLeader: n.role == types.RoleLeader,
		})
	}
	return records
}

// Settle blocks until no election message or background election is
// outstanding, or ctx is done.
func (c *Coordinator) Settle(ctx context.Context) error {
	for {
		if c.closed() {
			return ErrClosed
		}
		if c.inflight.Load() == 0 && c.pending.Load() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.clock.After(settlePollInterval):
		}
	}
}

func (c *Coordinator) activeHigherLocked(id types.NodeID) []*node {
	var higher []*node
	for _, other := range c.order {
		if other > id && c.nodes[other].role.IsActive() {
			higher = append(higher, c.nodes[other])
		}
	}
	return higher
}

func (c *Coordinator) highestActiveLocked() (types.NodeID, bool) {
	for i := len(c.order) - 1; i >= 0; i-- {
		if c.nodes[c.order[i]].role.IsActive() {
			return c.order[i], true
		}
	}
	return 0, false
}

func (c *Coordinator) leaderLocked() (types.NodeID, bool) {
	for i := len(c.order) - 1; i >= 0; i-- {
		if c.nodes[c.order[i]].role == types.RoleLeader {
			return c.order[i], true
		}
	}
	return 0, false
}

func (c *Coordinator) notify(id types.NodeID, from, to types.NodeRole) {
	if from == to || c.cfg.OnRoleChange == nil {
		return
	}
	c.cfg.OnRoleChange(id, from, to)
}
