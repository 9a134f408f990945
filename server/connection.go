package server

import (
	"cmp"
	"slices"
	"sync"
	"time"

	"github.com/jathurchan/ridecore/election"
	"github.com/jathurchan/ridecore/logger"
)

// ConnectionInfo holds metadata about a line-protocol client connection.
type ConnectionInfo struct {
	RemoteAddr   string    // Client's remote address
	Worker       int       // Worker serving the connection
	ConnectedAt  time.Time // Time the connection was established
	LastActive   time.Time // Last time a request was received
	LastVerb     string    // Verb of the most recent request
	RequestCount int64     // Total number of requests from this connection
}

// ConnectionManager tracks the connections currently held by workers.
type ConnectionManager interface {
	// OnConnect registers a connection picked up by a worker.
	OnConnect(remoteAddr string, worker int)

	// OnDisconnect removes a connection.
	OnDisconnect(remoteAddr string)

	// OnRequest records one request line on a connection.
	OnRequest(remoteAddr, verb string)

	// ActiveConnections returns the number of live connections.
	ActiveConnections() int

	// Snapshot returns every live connection ordered by connect time.
	Snapshot() []ConnectionInfo
}

type connectionManager struct {
	mu          sync.RWMutex
	connections map[string]*ConnectionInfo

	metrics ServerMetrics
	logger  logger.Logger
	clock   election.Clock
}

// NewConnectionManager returns a new ConnectionManager. A nil clock falls
// back to wall time.
func NewConnectionManager(metrics ServerMetrics, log logger.Logger, clock election.Clock) ConnectionManager {
	if clock == nil {
		clock = election.NewStandardClock()
	}
	if metrics == nil {
		metrics = NewNoOpServerMetrics()
	}
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &connectionManager{
		connections: make(map[string]*ConnectionInfo),
		metrics:     metrics,
		logger:      log.WithComponent("connections"),
		clock:       clock,
	}
}

func (cm *connectionManager) OnConnect(remoteAddr string, worker int) {
	now := cm.clock.Now()

	cm.mu.Lock()
	defer cm.mu.Unlock()

	if _, exists := cm.connections[remoteAddr]; exists {
		cm.logger.Warnw("Connection already tracked", "remote_addr", remoteAddr)
		return
	}
	cm.connections[remoteAddr] = &ConnectionInfo{
		RemoteAddr:  remoteAddr,
		Worker:      worker,
		ConnectedAt: now,
		LastActive:  now,
	}
	cm.metrics.SetActiveConnections(len(cm.connections))
	cm.logger.Debugw("Client connected",
		"remote_addr", remoteAddr, "worker", worker, "total_connections", len(cm.connections))
}

func (cm *connectionManager) OnDisconnect(remoteAddr string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	info, exists := cm.connections[remoteAddr]
	if !exists {
		return
	}
	delete(cm.connections, remoteAddr)
	cm.metrics.SetActiveConnections(len(cm.connections))
	cm.logger.Debugw("Client disconnected",
		"remote_addr", remoteAddr, "requests", info.RequestCount, "total_connections", len(cm.connections))
}

func (cm *connectionManager) OnRequest(remoteAddr, verb string) {
	now := cm.clock.Now()

	cm.mu.Lock()
	defer cm.mu.Unlock()

	info, exists := cm.connections[remoteAddr]
	if !exists {
		cm.logger.Debugw("Request on untracked connection", "remote_addr", remoteAddr, "verb", verb)
		return
	}
	info.LastActive = now
	info.LastVerb = verb
	info.RequestCount++
}

func (cm *connectionManager) ActiveConnections() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.connections)
}

func (cm *connectionManager) Snapshot() []ConnectionInfo {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	out := make([]ConnectionInfo, 0, len(cm.connections))
	for _, info := range cm.connections {
		out = append(out, *info)
	}
	slices.SortFunc(out, func(a, b ConnectionInfo) int {
		if c := a.ConnectedAt.Compare(b.ConnectedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.RemoteAddr, b.RemoteAddr)
	})
	return out
}
