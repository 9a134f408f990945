package storage

import "sync/atomic"

// metrics holds atomic counters for tracking name node activity.
type metrics struct {
	filesWritten   atomic.Uint64 // Files committed.
	filesDeleted   atomic.Uint64 // Files removed.
	writeRollbacks atomic.Uint64 // Writes aborted after some blocks were stored.
	blocksWritten  atomic.Uint64 // Block replicas stored.
	bytesWritten   atomic.Uint64 // Payload bytes stored, counted once per replica.
	blocksRead     atomic.Uint64 // Blocks returned by reads.
	bytesRead      atomic.Uint64 // Payload bytes returned by reads.
	readGaps       atomic.Uint64 // Blocks skipped because no replica was readable.
	blocksMigrated atomic.Uint64 // Replicas recreated away from failed nodes.
	orphansDropped atomic.Uint64 // Blocks deleted from rejoining nodes.
}

// ToMap converts the metrics into a map for reporting.
func (m *metrics) ToMap() map[string]uint64 {
	return map[string]uint64{
		"files_written":   m.filesWritten.Load(),
		"files_deleted":   m.filesDeleted.Load(),
		"write_rollbacks": m.writeRollbacks.Load(),
		"blocks_written":  m.blocksWritten.Load(),
		"bytes_written":   m.bytesWritten.Load(),
		"blocks_read":     m.blocksRead.Load(),
		"bytes_read":      m.bytesRead.Load(),
		"read_gaps":       m.readGaps.Load(),
		"blocks_migrated": m.blocksMigrated.Load(),
		"orphans_dropped": m.orphansDropped.Load(),
	}
}
