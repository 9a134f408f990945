package storage

const (
	// ownRWOthR represents file permission 0644 (owner read/write, others read).
	ownRWOthR = 0644

	// ownRWXOthRX represents directory permission 0755 (owner read/write/execute, others read/execute).
	ownRWXOthRX = 0755

	// DefaultBlockSize is the payload size of every block except possibly the last one of a file.
	DefaultBlockSize = 1024

	// DefaultReplicationFactor is the number of data nodes each block is written to.
	DefaultReplicationFactor = 2

	// DefaultDataNodeCapacity is the capacity of a data node (10 MiB).
	DefaultDataNodeCapacity = 10 * 1024 * 1024

	// DefaultDataNodeCount is the number of data nodes a default cluster starts with.
	DefaultDataNodeCount = 3

	// blocksDirName is the sub-directory of a data node root holding block files.
	blocksDirName = "blocks"

	// blockFileExt is the extension of an encoded block file.
	blockFileExt = ".blk"

	// metaFileExt is the extension of a persisted file metadata record.
	metaFileExt = ".meta"

	// tmpSuffix is the suffix used for temporary files created during atomic write operations.
	tmpSuffix = ".tmp"

	// blockIDPrefix starts every generated block id: blk-<index>-<uuid>.
	blockIDPrefix = "blk"
)
