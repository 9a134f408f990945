package monitor

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

// Member is anything the monitor can watch: dispatch nodes and data nodes.
type Member interface {
	// MemberID is the stable identifier used in events and status reports.
	MemberID() string

	// Ping returns nil while the member is alive.
	Ping(ctx context.Context) error
}

// Prober decides whether a member is alive.
type Prober interface {
	Probe(ctx context.Context, m Member) error
}

// PingProber probes members by calling their Ping method directly.
type PingProber struct{}

// Probe implements Prober.
func (PingProber) Probe(ctx context.Context, m Member) error {
	return m.Ping(ctx)
}

// GRPCProber probes members through a gRPC health endpoint. Each member is
// checked under its own service name, which defaults to its MemberID.
type GRPCProber struct {
	client      healthpb.HealthClient
	serviceName func(Member) string
}

// NewGRPCProber returns a prober issuing health checks over conn.
func NewGRPCProber(conn grpc.ClientConnInterface) *GRPCProber {
	return &GRPCProber{
		client:      healthpb.NewHealthClient(conn),
		serviceName: func(m Member) string { return m.MemberID() },
	}
}

// Probe implements Prober.
func (p *GRPCProber) Probe(ctx context.Context, m Member) error {
	service := p.serviceName(m)
	resp, err := p.client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return fmt.Errorf("%w: %s is not registered", ErrNotServing, service)
		}
		return fmt.Errorf("health check for %s failed: %w", service, err)
	}
	if s := resp.GetStatus(); s != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("%w: %s reports %s", ErrNotServing, service, s)
	}
	return nil
}
