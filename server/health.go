package server

import (
	"fmt"
	"sync"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/jathurchan/ridecore/logger"
	"github.com/jathurchan/ridecore/types"
)

// HealthPublisher mirrors member liveness into a gRPC health server. Service
// names are the fault monitor's member ids, so a monitor.GRPCProber pointed
// at the endpoint probes the same members the monitor tracks.
type HealthPublisher struct {
	hs     *health.Server
	logger logger.Logger

	mu     sync.Mutex
	status map[string]bool
}

// NewHealthPublisher returns a publisher whose process-level service is SERVING.
func NewHealthPublisher(log logger.Logger) *HealthPublisher {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	p := &HealthPublisher{
		hs:     health.NewServer(),
		logger: log.WithComponent("health"),
		status: make(map[string]bool),
	}
	p.hs.SetServingStatus(overallService, healthpb.HealthCheckResponse_SERVING)
	return p
}

// Server returns the underlying health service for registration on a gRPC server.
func (p *HealthPublisher) Server() *health.Server {
	return p.hs
}

// NodeService returns the health service name of a dispatch node.
func NodeService(id types.NodeID) string {
	return fmt.Sprintf("node_%d", id)
}

// SetMember publishes a member's liveness.
func (p *HealthPublisher) SetMember(id string, up bool) {
	p.mu.Lock()
	prev, known := p.status[id]
	p.status[id] = up
	p.mu.Unlock()

	st := healthpb.HealthCheckResponse_NOT_SERVING
	if up {
		st = healthpb.HealthCheckResponse_SERVING
	}
	p.hs.SetServingStatus(id, st)
	if !known || prev != up {
		p.logger.Debugw("Health status changed", "member", id, "status", st.String())
	}
}

// OnRoleChange matches election.RoleChangeFunc. A node is served while it is
// not down.
func (p *HealthPublisher) OnRoleChange(id types.NodeID, _, to types.NodeRole) {
	p.SetMember(NodeService(id), to.IsActive())
}

// Members returns the published liveness of every member.
func (p *HealthPublisher) Members() map[string]bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make(map[string]bool, len(p.status))
	for id, up := range p.status {
		out[id] = up
	}
	return out
}

// Shutdown marks every service NOT_SERVING. Later updates are ignored.
func (p *HealthPublisher) Shutdown() {
	p.hs.Shutdown()
}
