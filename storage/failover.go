package storage

import (
	"context"
	"errors"

	"github.com/jathurchan/ridecore/logger"
)

// MigrationFunc observes a completed migration away from a failed data node.
type MigrationFunc func(ctx context.Context, nodeID string, moved int)

// Failover reacts to fault monitor events about data nodes: a permanent
// failure re-replicates the node's blocks elsewhere and a recovery reconciles
// the node's blocks with the block map. Events for ids that are not data
// nodes are ignored.
type Failover struct {
	nn          *NameNode
	onMigration MigrationFunc
	logger      logger.Logger
}

// NewFailover returns a Failover acting on nn. onMigration may be nil.
func NewFailover(nn *NameNode, onMigration MigrationFunc) *Failover {
	return &Failover{
		nn:          nn,
		onMigration: onMigration,
		logger:      nn.logger.WithComponent("failover"),
	}
}

// OnFailure logs transient failures; blocks stay where they are until the
// failure becomes permanent.
func (f *Failover) OnFailure(_ context.Context, nodeID string, count int) {
	if f.known(nodeID) {
		f.logger.Warnw("Data node unreachable", "datanode", nodeID, "failures", count)
	}
}

// OnPermanentFailure migrates the node's blocks to the remaining nodes.
func (f *Failover) OnPermanentFailure(ctx context.Context, nodeID string) {
	if !f.known(nodeID) {
		return
	}
	moved, err := f.nn.MigrateFrom(ctx, nodeID)
	if err != nil {
		f.logger.Errorw("Migration from failed data node aborted", "datanode", nodeID, "moved", moved, "error", err)
		return
	}
	if f.onMigration != nil {
		f.onMigration(ctx, nodeID, moved)
	}
}

// OnRecovery drops the stale copies a returning node still holds.
func (f *Failover) OnRecovery(ctx context.Context, nodeID string) {
	if !f.known(nodeID) {
		return
	}
	if _, err := f.nn.Rejoin(ctx, nodeID); err != nil {
		f.logger.Errorw("Data node rejoin failed", "datanode", nodeID, "error", err)
	}
}

func (f *Failover) known(nodeID string) bool {
	_, err := f.nn.DataNode(nodeID)
	return !errors.Is(err, ErrNodeNotFound)
}
