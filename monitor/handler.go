package monitor

import (
	"context"

	"github.com/jathurchan/ridecore/types"
)

// Handler receives member lifecycle events. Methods are called from the
// monitor loops, outside the monitor's lock, one event at a time.
type Handler interface {
	// OnFailure is called each time a detection round counts a failure.
	OnFailure(ctx context.Context, memberID string, count int)

	// OnPermanentFailure is called once when a member reaches the failure limit.
	OnPermanentFailure(ctx context.Context, memberID string)

	// OnRecovery is called when a failed member answers a recovery probe.
	OnRecovery(ctx context.Context, memberID string)
}

// LeaderEnsurer re-establishes a dispatch leader when the current one is
// missing or outranked.
type LeaderEnsurer interface {
	EnsureLeaderExists() (types.NodeID, bool)
}

// MultiHandler forwards every event to each handler in order.
type MultiHandler []Handler

func (mh MultiHandler) OnFailure(ctx context.Context, memberID string, count int) {
	for _, h := range mh {
		h.OnFailure(ctx, memberID, count)
	}
}

func (mh MultiHandler) OnPermanentFailure(ctx context.Context, memberID string) {
	for _, h := range mh {
		h.OnPermanentFailure(ctx, memberID)
	}
}

func (mh MultiHandler) OnRecovery(ctx context.Context, memberID string) {
	for _, h := range mh {
		h.OnRecovery(ctx, memberID)
	}
}

type noOpHandler struct{}

func (noOpHandler) OnFailure(context.Context, string, int)     {}
func (noOpHandler) OnPermanentFailure(context.Context, string) {}
func (noOpHandler) OnRecovery(context.Context, string)         {}
