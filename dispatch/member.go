package dispatch

import (
	"context"
	"fmt"

	"github.com/jathurchan/ridecore/types"
)

// Roster reports whether a dispatch node is up.
type Roster interface {
	IsActive(id types.NodeID) bool
	Nodes() []types.NodeRecord
}

// NodeMember exposes one dispatch node to the fault monitor. Its liveness
// probe succeeds while the node is active in the election roster.
type NodeMember struct {
	ID     types.NodeID
	Roster Roster
}

// MemberID returns "node_<id>".
func (m NodeMember) MemberID() string {
	return fmt.Sprintf("node_%d", m.ID)
}

// Ping fails with ErrNodeDown while the node is down.
func (m NodeMember) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !m.Roster.IsActive(m.ID) {
		return fmt.Errorf("%w: %d", ErrNodeDown, m.ID)
	}
	return nil
}

// Members returns one NodeMember per roster entry, in roster order.
func Members(roster Roster) []NodeMember {
	records := roster.Nodes()
	out := make([]NodeMember, 0, len(records))
	for _, rec := range records {
		out = append(out, NodeMember{ID: rec.ID, Roster: roster})
	}
	return out
}
