package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/jathurchan/ridecore/logger"
	"github.com/jathurchan/ridecore/types"
)

// DataNode stores block replicas under <dir>/blocks, one encoded file per
// block, and keeps recently written payloads in memory. Reads fall back to
// disk when a payload is not cached.
type DataNode struct {
	id       string
	dir      string
	capacity int64

	mu     sync.RWMutex
	sizes  map[string]int64  // every block held, cached or not
	cache  map[string][]byte // payloads written during this session
	used   int64
	active atomic.Bool

	logger logger.Logger
}

// NewDataNode creates the node's block directory and returns an active node
// with an empty index. Call Load to pick up blocks already on disk.
func NewDataNode(id, dir string, capacity int64, log logger.Logger) (*DataNode, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: data node id must not be empty", ErrInvalidConfig)
	}
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: data node capacity must be positive", ErrInvalidConfig)
	}
	if log == nil {
		log = logger.NewNoOpLogger()
	}

	blocksDir := filepath.Join(dir, blocksDirName)
	if err := os.MkdirAll(blocksDir, ownRWXOthRX); err != nil {
		return nil, fmt.Errorf("%w: failed to create block directory %q: %v", ErrStorageIO, blocksDir, err)
	}

	dn := &DataNode{
		id:       id,
		dir:      dir,
		capacity: capacity,
		sizes:    make(map[string]int64),
		cache:    make(map[string][]byte),
		logger:   log.WithComponent("datanode").With("datanode", id),
	}
	dn.active.Store(true)
	return dn, nil
}

// ID returns the node identifier.
func (dn *DataNode) ID() string { return dn.id }

// MemberID identifies the node to the fault monitor.
func (dn *DataNode) MemberID() string { return dn.id }

// Active reports whether the node currently serves requests.
func (dn *DataNode) Active() bool { return dn.active.Load() }

// SetActive toggles the node's availability. Stored blocks are kept while inactive.
func (dn *DataNode) SetActive(active bool) {
	if dn.active.Swap(active) != active {
		dn.logger.Infow("Data node availability changed", "active", active)
	}
}

// Ping is the liveness probe used by the fault monitor.
func (dn *DataNode) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !dn.Active() {
		return ErrNodeInactive
	}
	return nil
}

// State returns the node's accounting snapshot.
func (dn *DataNode) State() types.StorageNodeState {
	dn.mu.RLock()
	defer dn.mu.RUnlock()

	return types.StorageNodeState{
		ID:        dn.id,
		Capacity:  dn.capacity,
		UsedSpace: dn.used,
		Blocks:    len(dn.sizes),
		Active:    dn.Active(),
	}
}

// Has reports whether the node holds the block.
func (dn *DataNode) Has(blockID string) bool {
	dn.mu.RLock()
	defer dn.mu.RUnlock()
	_, ok := dn.sizes[blockID]
	return ok
}

// BlockIDs returns the ids of all held blocks in sorted order.
func (dn *DataNode) BlockIDs() []string {
	dn.mu.RLock()
	defer dn.mu.RUnlock()

	ids := make([]string, 0, len(dn.sizes))
	for id := range dn.sizes {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Store persists a block replica. Storing a block the node already holds is a
// no-op since blocks are immutable.
func (dn *DataNode) Store(ctx context.Context, blockID string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !dn.Active() {
		return ErrNodeInactive
	}

	dn.mu.Lock()
	defer dn.mu.Unlock()

	if _, exists := dn.sizes[blockID]; exists {
		return nil
	}

	size := int64(len(data))
	if dn.used+size > dn.capacity {
		return fmt.Errorf("%w: %s needs %d bytes, %d free",
			ErrInsufficientSpace, dn.id, size, dn.capacity-dn.used)
	}

	if err := atomicWriteFile(dn.blockPath(blockID), encodeBlock(blockID, data), ownRWOthR); err != nil {
		dn.logger.Errorw("Failed to write block", "block", blockID, "error", err)
		return err
	}

	dn.sizes[blockID] = size
	dn.cache[blockID] = slices.Clone(data)
	dn.used += size

	dn.logger.Debugw("Block stored", "block", blockID, "size", size, "used", dn.used)
	return nil
}

// Get returns a copy of the block payload, from memory when cached and from
// disk otherwise.
func (dn *DataNode) Get(ctx context.Context, blockID string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !dn.Active() {
		return nil, ErrNodeInactive
	}

	dn.mu.RLock()
	_, held := dn.sizes[blockID]
	cached, inMemory := dn.cache[blockID]
	dn.mu.RUnlock()

	if !held {
		return nil, ErrBlockNotFound
	}
	if inMemory {
		return slices.Clone(cached), nil
	}

	raw, err := os.ReadFile(dn.blockPath(blockID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrBlockNotFound
		}
		return nil, fmt.Errorf("%w: failed to read block %s: %v", ErrStorageIO, blockID, err)
	}

	id, data, err := decodeBlock(raw)
	if err != nil {
		dn.logger.Warnw("Corrupted block file", "block", blockID, "error", err)
		return nil, err
	}
	if id != blockID {
		return nil, fmt.Errorf("%w: file for %s holds %s", ErrCorruptedBlock, blockID, id)
	}
	return data, nil
}

// Delete removes a block replica and releases its space. Unlike the other
// block operations it also runs while the node is inactive.
func (dn *DataNode) Delete(ctx context.Context, blockID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dn.mu.Lock()
	defer dn.mu.Unlock()

	size, ok := dn.sizes[blockID]
	if !ok {
		return ErrBlockNotFound
	}
	if err := removeIfExists(dn.blockPath(blockID)); err != nil {
		return err
	}

	delete(dn.sizes, blockID)
	delete(dn.cache, blockID)
	dn.used -= size

	dn.logger.Debugw("Block deleted", "block", blockID, "used", dn.used)
	return nil
}

// Load rebuilds the block index from the files on disk, replacing whatever
// the node tracked before. Leftover temporary files are removed and corrupted
// block files are skipped.
func (dn *DataNode) Load() error {
	blocksDir := filepath.Join(dn.dir, blocksDirName)
	entries, err := os.ReadDir(blocksDir)
	if err != nil {
		return fmt.Errorf("%w: failed to list %q: %v", ErrStorageIO, blocksDir, err)
	}

	sizes := make(map[string]int64)
	var used int64
	for _, entry := range entries {
		name := entry.Name()
		path := filepath.Join(blocksDir, name)

		switch {
		case entry.IsDir():
			continue
		case strings.HasSuffix(name, tmpSuffix):
			if err := removeIfExists(path); err != nil {
				dn.logger.Warnw("Failed to remove temporary block file", "path", path, "error", err)
			}
			continue
		case !strings.HasSuffix(name, blockFileExt):
			continue
		}

		raw, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("%w: failed to read %q: %v", ErrStorageIO, path, err)
		}
		id, data, err := decodeBlock(raw)
		if err != nil || sanitizeName(id) != strings.TrimSuffix(name, blockFileExt) {
			dn.logger.Warnw("Skipping unreadable block file", "path", path, "error", err)
			continue
		}
		sizes[id] = int64(len(data))
		used += int64(len(data))
	}

	dn.mu.Lock()
	dn.sizes = sizes
	dn.cache = make(map[string][]byte)
	dn.used = used
	dn.mu.Unlock()

	if used > dn.capacity {
		dn.logger.Warnw("Loaded blocks exceed capacity", "used", used, "capacity", dn.capacity)
	}
	dn.logger.Infow("Data node index loaded", "blocks", len(sizes), "used", used)
	return nil
}

func (dn *DataNode) blockPath(blockID string) string {
	return filepath.Join(dn.dir, blocksDirName, sanitizeName(blockID)+blockFileExt)
}
