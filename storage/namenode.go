package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jathurchan/ridecore/logger"
	"github.com/jathurchan/ridecore/types"
)

// ReadReport is the result of a gap-tolerant read.
type ReadReport struct {
	// Data is the concatenation of every readable block, in file order.
	Data []byte
	// Blocks is the number of blocks the file consists of.
	Blocks int
	// Missing lists the blocks for which no replica could be read.
	Missing []string
}

// Complete reports whether every block was read.
func (r ReadReport) Complete() bool { return len(r.Missing) == 0 }

// ClusterStatus summarizes the data nodes and the namespace.
type ClusterStatus struct {
	Nodes       []types.StorageNodeState
	ActiveNodes int
	Files       int
	Blocks      int
	UsedSpace   int64
	Capacity    int64
}

// NameNode owns the namespace: file metadata, the block map and the set of
// data nodes. Mutations are serialized by one lock; reads share it.
type NameNode struct {
	cfg Config

	mu        sync.RWMutex
	files     map[string]*types.FileMetadata
	blocks    map[string]*types.Block
	nodes     map[string]*DataNode
	nodeOrder []string

	logger  logger.Logger
	metrics metrics
}

// NewNameNode validates cfg, creates the metadata directory and registers the
// given data nodes.
func NewNameNode(cfg Config, nodes ...*DataNode) (*NameNode, error) {
	if cfg.Placement == nil {
		cfg.Placement = NewMostFreeSpacePolicy()
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNoOpLogger()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	if err := os.MkdirAll(cfg.MetaDir, ownRWXOthRX); err != nil {
		return nil, fmt.Errorf("%w: failed to create metadata directory %q: %v", ErrStorageIO, cfg.MetaDir, err)
	}

	nn := &NameNode{
		cfg:    cfg,
		files:  make(map[string]*types.FileMetadata),
		blocks: make(map[string]*types.Block),
		nodes:  make(map[string]*DataNode, len(nodes)),
		logger: cfg.Logger.WithComponent("namenode"),
	}
	for _, dn := range nodes {
		if _, dup := nn.nodes[dn.ID()]; dup {
			return nil, fmt.Errorf("%w: duplicate data node %q", ErrInvalidConfig, dn.ID())
		}
		nn.nodes[dn.ID()] = dn
		nn.nodeOrder = append(nn.nodeOrder, dn.ID())
	}
	slices.Sort(nn.nodeOrder)

	nn.logger.Infow("Name node initialized",
		"metaDir", cfg.MetaDir,
		"dataNodes", len(nn.nodeOrder),
		"blockSize", cfg.BlockSize,
		"replication", cfg.ReplicationFactor)
	return nn, nil
}

// WriteFile splits data into blocks and stores each on ReplicationFactor data
// nodes. The write is all-or-nothing: if any block cannot be placed on at
// least one node, every block stored so far is deleted and no metadata is
// committed. Empty data commits a file with zero blocks.
func (nn *NameNode) WriteFile(ctx context.Context, name string, data []byte, owner string) error {
	if name == "" {
		return ErrEmptyFileName
	}

	nn.mu.Lock()
	defer nn.mu.Unlock()

	return nn.writeLocked(ctx, name, data, owner)
}

func (nn *NameNode) writeLocked(ctx context.Context, name string, data []byte, owner string) error {
	if _, exists := nn.files[name]; exists {
		return fmt.Errorf("%w: %s", ErrFileExists, name)
	}

	meta, stored, err := nn.stageLocked(ctx, name, data, owner)
	if err != nil {
		return err
	}
	nn.commitLocked(meta, stored)

	nn.logger.Infow("File written", "file", name, "size", meta.Size, "blocks", len(stored), "owner", owner)
	return nil
}

// stageLocked stores every block of data and persists the metadata record
// without touching the in-memory tables. On failure every block stored so
// far is deleted and the on-disk record is left as it was.
func (nn *NameNode) stageLocked(ctx context.Context, name string, data []byte, owner string) (*types.FileMetadata, []*types.Block, error) {
	log := nn.logger.With("file", name)
	var stored []*types.Block

	for index, offset := 0, 0; offset < len(data); index, offset = index+1, offset+nn.cfg.BlockSize {
		chunk := data[offset:min(offset+nn.cfg.BlockSize, len(data))]
		block, err := nn.placeBlock(ctx, index, chunk)
		if err != nil {
			log.Warnw("Write aborted; rolling back", "block", index, "error", err)
			nn.rollback(ctx, stored)
			return nil, nil, err
		}
		stored = append(stored, block)
	}

	meta := &types.FileMetadata{
		Name:      name,
		Size:      int64(len(data)),
		BlockIDs:  make([]string, 0, len(stored)),
		Owner:     owner,
		CreatedAt: nn.cfg.Now(),
	}
	for _, b := range stored {
		meta.BlockIDs = append(meta.BlockIDs, b.ID)
	}

	if err := nn.saveMetadata(meta); err != nil {
		log.Errorw("Failed to persist metadata; rolling back", "error", err)
		nn.rollback(ctx, stored)
		return nil, nil, err
	}
	return meta, stored, nil
}

func (nn *NameNode) commitLocked(meta *types.FileMetadata, stored []*types.Block) {
	nn.files[meta.Name] = meta
	for _, b := range stored {
		nn.blocks[b.ID] = b
	}
	nn.metrics.filesWritten.Add(1)
}

// placeBlock stores one block on up to ReplicationFactor nodes chosen by the
// placement policy.
func (nn *NameNode) placeBlock(ctx context.Context, index int, chunk []byte) (*types.Block, error) {
	size := int64(len(chunk))
	targets := nn.cfg.Placement.Select(nn.candidatesLocked(nil), size, nn.cfg.ReplicationFactor)
	if len(targets) < nn.cfg.ReplicationFactor {
		return nil, fmt.Errorf("%w: need %d nodes for %d bytes, %d available",
			ErrInsufficientReplicas, nn.cfg.ReplicationFactor, size, len(targets))
	}

	block := &types.Block{
		ID:   fmt.Sprintf("%s-%d-%s", blockIDPrefix, index, uuid.NewString()),
		Size: size,
	}

	var lastErr error
	for _, target := range targets {
		if err := nn.nodes[target].Store(ctx, block.ID, chunk); err != nil {
			nn.logger.Warnw("Replica write failed", "block", block.ID, "datanode", target, "error", err)
			lastErr = err
			continue
		}
		block.Replicas = append(block.Replicas, target)
		nn.metrics.blocksWritten.Add(1)
		nn.metrics.bytesWritten.Add(uint64(size))
	}

	if len(block.Replicas) == 0 {
		return nil, fmt.Errorf("block %d stored on no data node: %w", index, lastErr)
	}
	if len(block.Replicas) < nn.cfg.ReplicationFactor {
		nn.logger.Warnw("Block under-replicated",
			"block", block.ID, "replicas", len(block.Replicas), "want", nn.cfg.ReplicationFactor)
	}
	return block, nil
}

func (nn *NameNode) rollback(ctx context.Context, stored []*types.Block) {
	if len(stored) == 0 {
		return
	}
	nn.metrics.writeRollbacks.Add(1)
	nn.deleteReplicas(context.WithoutCancel(ctx), stored)
}

func (nn *NameNode) deleteReplicas(ctx context.Context, stored []*types.Block) {
	for _, b := range stored {
		for _, replica := range b.Replicas {
			dn, ok := nn.nodes[replica]
			if !ok {
				continue
			}
			if err := dn.Delete(ctx, b.ID); err != nil && !errors.Is(err, ErrBlockNotFound) {
				nn.logger.Warnw("Failed to delete replica; it will be dropped on rejoin",
					"block", b.ID, "datanode", replica, "error", err)
			}
		}
	}
}

// candidatesLocked returns the states of every registered node not in exclude.
func (nn *NameNode) candidatesLocked(exclude []string) []types.StorageNodeState {
	states := make([]types.StorageNodeState, 0, len(nn.nodeOrder))
	for _, id := range nn.nodeOrder {
		if slices.Contains(exclude, id) {
			continue
		}
		states = append(states, nn.nodes[id].State())
	}
	return states
}

// ReadFile returns the file's content. Blocks with no readable replica are
// skipped, so the result may be shorter than the file; use ReadFileReport to
// learn which blocks are missing.
func (nn *NameNode) ReadFile(ctx context.Context, name string) ([]byte, error) {
	report, err := nn.ReadFileReport(ctx, name)
	if err != nil {
		return nil, err
	}
	return report.Data, nil
}

// ReadFileReport reads every block from the first active replica that returns
// it and reports the blocks that could not be read.
func (nn *NameNode) ReadFileReport(ctx context.Context, name string) (ReadReport, error) {
	nn.mu.RLock()
	defer nn.mu.RUnlock()

	meta, ok := nn.files[name]
	if !ok {
		return ReadReport{}, fmt.Errorf("%w: %s", ErrFileNotFound, name)
	}

	report := ReadReport{
		Data:   make([]byte, 0, meta.Size),
		Blocks: len(meta.BlockIDs),
	}
	for _, blockID := range meta.BlockIDs {
		if err := ctx.Err(); err != nil {
			return ReadReport{}, err
		}

		data, ok := nn.readBlockLocked(ctx, blockID)
		if !ok {
			report.Missing = append(report.Missing, blockID)
			nn.metrics.readGaps.Add(1)
			continue
		}
		report.Data = append(report.Data, data...)
		nn.metrics.blocksRead.Add(1)
		nn.metrics.bytesRead.Add(uint64(len(data)))
	}

	if !report.Complete() {
		nn.logger.Warnw("Read completed with gaps",
			"file", name, "missing", len(report.Missing), "blocks", report.Blocks)
	}
	return report, nil
}

func (nn *NameNode) readBlockLocked(ctx context.Context, blockID string) ([]byte, bool) {
	block, ok := nn.blocks[blockID]
	if !ok {
		return nil, false
	}
	for _, replica := range block.Replicas {
		dn, ok := nn.nodes[replica]
		if !ok || !dn.Active() {
			continue
		}
		data, err := dn.Get(ctx, blockID)
		if err != nil {
			nn.logger.Debugw("Replica read failed", "block", blockID, "datanode", replica, "error", err)
			continue
		}
		return data, true
	}
	return nil, false
}

// DeleteFile removes the file's metadata and its replicas from every node
// that holds one, active or not. It reports false when the file does not
// exist.
func (nn *NameNode) DeleteFile(ctx context.Context, name string) (bool, error) {
	nn.mu.Lock()
	defer nn.mu.Unlock()

	return nn.deleteLocked(ctx, name)
}

func (nn *NameNode) deleteLocked(ctx context.Context, name string) (bool, error) {
	meta, ok := nn.files[name]
	if !ok {
		return false, nil
	}

	if err := nn.removeMetadata(name); err != nil {
		return false, err
	}

	stored := nn.detachBlocksLocked(meta)
	nn.deleteReplicas(ctx, stored)
	delete(nn.files, name)
	nn.metrics.filesDeleted.Add(1)

	nn.logger.Infow("File deleted", "file", name, "blocks", len(stored))
	return true, nil
}

// detachBlocksLocked drops the file's blocks from the block map and returns
// them so their replicas can be deleted.
func (nn *NameNode) detachBlocksLocked(meta *types.FileMetadata) []*types.Block {
	detached := make([]*types.Block, 0, len(meta.BlockIDs))
	for _, blockID := range meta.BlockIDs {
		if block, ok := nn.blocks[blockID]; ok {
			detached = append(detached, block)
			delete(nn.blocks, blockID)
		}
	}
	return detached
}

// Replace writes data under name, superseding any existing file. The new
// blocks and metadata record are stored before the old blocks are released,
// so a failed write leaves the previous content readable. File names are
// write-once, so this is how mutable records are updated.
func (nn *NameNode) Replace(ctx context.Context, name string, data []byte, owner string) error {
	if name == "" {
		return ErrEmptyFileName
	}

	nn.mu.Lock()
	defer nn.mu.Unlock()

	previous, existed := nn.files[name]
	meta, stored, err := nn.stageLocked(ctx, name, data, owner)
	if err != nil {
		return err
	}

	var superseded []*types.Block
	if existed {
		superseded = nn.detachBlocksLocked(previous)
	}
	nn.commitLocked(meta, stored)
	nn.deleteReplicas(ctx, superseded)

	nn.logger.Infow("File replaced",
		"file", name, "size", meta.Size, "blocks", len(stored), "superseded", len(superseded))
	return nil
}

// FileInfo returns a copy of the file's metadata.
func (nn *NameNode) FileInfo(name string) (types.FileMetadata, bool) {
	nn.mu.RLock()
	defer nn.mu.RUnlock()

	meta, ok := nn.files[name]
	if !ok {
		return types.FileMetadata{}, false
	}
	out := *meta
	out.BlockIDs = slices.Clone(meta.BlockIDs)
	return out, true
}

// ListFiles returns the sorted names of files starting with prefix.
func (nn *NameNode) ListFiles(prefix string) []string {
	nn.mu.RLock()
	defer nn.mu.RUnlock()

	var names []string
	for name := range nn.files {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names
}

// Block returns a copy of a block map entry.
func (nn *NameNode) Block(id string) (types.Block, bool) {
	nn.mu.RLock()
	defer nn.mu.RUnlock()

	block, ok := nn.blocks[id]
	if !ok {
		return types.Block{}, false
	}
	out := *block
	out.Replicas = slices.Clone(block.Replicas)
	return out, true
}

// DataNodes returns the registered data nodes in id order.
func (nn *NameNode) DataNodes() []*DataNode {
	nn.mu.RLock()
	defer nn.mu.RUnlock()

	out := make([]*DataNode, 0, len(nn.nodeOrder))
	for _, id := range nn.nodeOrder {
		out = append(out, nn.nodes[id])
	}
	return out
}

// DataNode looks up a registered data node.
func (nn *NameNode) DataNode(id string) (*DataNode, error) {
	nn.mu.RLock()
	defer nn.mu.RUnlock()

	dn, ok := nn.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	return dn, nil
}

// ClusterStatus returns per-node accounting and namespace totals.
func (nn *NameNode) ClusterStatus() ClusterStatus {
	nn.mu.RLock()
	defer nn.mu.RUnlock()

	status := ClusterStatus{
		Nodes:  make([]types.StorageNodeState, 0, len(nn.nodeOrder)),
		Files:  len(nn.files),
		Blocks: len(nn.blocks),
	}
	for _, id := range nn.nodeOrder {
		state := nn.nodes[id].State()
		status.Nodes = append(status.Nodes, state)
		status.UsedSpace += state.UsedSpace
		status.Capacity += state.Capacity
		if state.Active {
			status.ActiveNodes++
		}
	}
	return status
}

// ReplicationFactor returns the configured number of replicas per block.
func (nn *NameNode) ReplicationFactor() int { return nn.cfg.ReplicationFactor }

// Metrics returns the name node's counters.
func (nn *NameNode) Metrics() map[string]uint64 {
	return nn.metrics.ToMap()
}

// Recover reloads every data node's block index from disk and then the
// persisted file records, rebuilding each block's replica list from the
// nodes that hold it. It replaces the in-memory namespace and returns the
// number of files recovered.
func (nn *NameNode) Recover(ctx context.Context) (int, error) {
	nn.mu.Lock()
	defer nn.mu.Unlock()

	for _, id := range nn.nodeOrder {
		if err := nn.nodes[id].Load(); err != nil {
			return 0, fmt.Errorf("failed to load data node %s: %w", id, err)
		}
	}

	records, err := nn.loadMetadata()
	if err != nil {
		return 0, err
	}

	files := make(map[string]*types.FileMetadata, len(records))
	blocks := make(map[string]*types.Block)
	lost := 0
	for _, meta := range records {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		for index, blockID := range meta.BlockIDs {
			block := &types.Block{
				ID:   blockID,
				Size: min(int64(nn.cfg.BlockSize), meta.Size-int64(index)*int64(nn.cfg.BlockSize)),
			}
			for _, id := range nn.nodeOrder {
				if nn.nodes[id].Has(blockID) {
					block.Replicas = append(block.Replicas, id)
				}
			}
			if len(block.Replicas) == 0 {
				lost++
			}
			blocks[blockID] = block
		}
		files[meta.Name] = meta
	}

	nn.files = files
	nn.blocks = blocks

	nn.logger.Infow("Namespace recovered", "files", len(files), "blocks", len(blocks), "blocksWithoutReplica", lost)
	return len(files), nil
}

// MigrateFrom re-replicates every block held by a permanently failed node
// onto other active nodes and removes the failed node from replica lists.
// Blocks with no other readable replica keep the failed node listed so they
// become readable again if it returns. Returns the number of new replicas.
func (nn *NameNode) MigrateFrom(ctx context.Context, nodeID string) (int, error) {
	nn.mu.Lock()
	defer nn.mu.Unlock()

	if _, ok := nn.nodes[nodeID]; !ok {
		return 0, fmt.Errorf("%w: %s", ErrNodeNotFound, nodeID)
	}

	ids := make([]string, 0)
	for id, block := range nn.blocks {
		if slices.Contains(block.Replicas, nodeID) {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)

	moved, stranded := 0, 0
	for _, blockID := range ids {
		if err := ctx.Err(); err != nil {
			return moved, err
		}

		block := nn.blocks[blockID]
		survivors := slices.DeleteFunc(slices.Clone(block.Replicas), func(r string) bool {
			return r == nodeID || !nn.nodes[r].Active()
		})

		need := nn.cfg.ReplicationFactor - len(survivors)
		if need <= 0 {
			block.Replicas = withoutReplica(block.Replicas, nodeID)
			continue
		}

		data, ok := nn.readBlockLocked(ctx, blockID)
		if !ok || len(survivors) == 0 {
			stranded++
			continue
		}

		targets := nn.cfg.Placement.Select(nn.candidatesLocked(block.Replicas), block.Size, need)
		for _, target := range targets {
			if err := nn.nodes[target].Store(ctx, blockID, data); err != nil {
				nn.logger.Warnw("Migration replica write failed", "block", blockID, "datanode", target, "error", err)
				continue
			}
			block.Replicas = append(block.Replicas, target)
			moved++
			nn.metrics.blocksMigrated.Add(1)
			nn.metrics.blocksWritten.Add(1)
			nn.metrics.bytesWritten.Add(uint64(block.Size))
		}
		block.Replicas = withoutReplica(block.Replicas, nodeID)
	}

	nn.logger.Infow("Blocks migrated from failed data node",
		"datanode", nodeID, "affected", len(ids), "newReplicas", moved, "stranded", stranded)
	return moved, nil
}

// Rejoin reconciles a recovered node's blocks with the block map. Blocks of
// deleted files, and extra copies of blocks already fully replicated
// elsewhere, are deleted; under-replicated blocks it still holds are re-listed.
// Returns the number of blocks dropped.
func (nn *NameNode) Rejoin(ctx context.Context, nodeID string) (int, error) {
	nn.mu.Lock()
	defer nn.mu.Unlock()

	dn, ok := nn.nodes[nodeID]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNodeNotFound, nodeID)
	}
	if !dn.Active() {
		return 0, fmt.Errorf("%w: %s", ErrNodeInactive, nodeID)
	}

	dropped, relisted := 0, 0
	for _, blockID := range dn.BlockIDs() {
		block, known := nn.blocks[blockID]
		if known && slices.Contains(block.Replicas, nodeID) {
			continue
		}
		if known && len(block.Replicas) < nn.cfg.ReplicationFactor {
			block.Replicas = append(block.Replicas, nodeID)
			relisted++
			continue
		}

		if err := dn.Delete(ctx, blockID); err != nil {
			nn.logger.Warnw("Failed to drop orphaned block", "block", blockID, "datanode", nodeID, "error", err)
			continue
		}
		dropped++
		nn.metrics.orphansDropped.Add(1)
	}

	nn.logger.Infow("Data node rejoined", "datanode", nodeID, "dropped", dropped, "relisted", relisted)
	return dropped, nil
}

func withoutReplica(replicas []string, nodeID string) []string {
	return slices.DeleteFunc(replicas, func(r string) bool { return r == nodeID })
}
