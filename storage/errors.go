package storage

import "errors"

var (
	// ErrStorageIO is returned when a low-level I/O failure occurs during a storage operation.
	ErrStorageIO = errors.New("storage: I/O error")

	// ErrFileExists is returned when writing a file whose name is already registered.
	ErrFileExists = errors.New("storage: file already exists")

	// ErrFileNotFound is returned when no metadata exists for the requested file.
	ErrFileNotFound = errors.New("storage: file not found")

	// ErrInsufficientReplicas is returned when fewer active data nodes than the
	// replication factor have room for a block.
	ErrInsufficientReplicas = errors.New("storage: not enough active data nodes for replication")

	// ErrInsufficientSpace is returned when a data node cannot fit a block within its capacity.
	ErrInsufficientSpace = errors.New("storage: insufficient space on data node")

	// ErrBlockNotFound is returned when a block is missing from a data node or the block map.
	ErrBlockNotFound = errors.New("storage: block not found")

	// ErrNodeNotFound is returned when a data node id is not registered with the name node.
	ErrNodeNotFound = errors.New("storage: data node not found")

	// ErrNodeInactive is returned when an operation targets an inactive data node.
	ErrNodeInactive = errors.New("storage: data node inactive")

	// ErrCorruptedBlock is returned when a block file fails to decode or its checksum does not match.
	ErrCorruptedBlock = errors.New("storage: corrupted block")

	// ErrCorruptedMetadata is returned when a persisted metadata file cannot be decoded.
	ErrCorruptedMetadata = errors.New("storage: corrupted file metadata")

	// ErrInvalidConfig is returned by Config.Validate for unusable settings.
	ErrInvalidConfig = errors.New("storage: invalid configuration")

	// ErrEmptyFileName is returned when a file operation is given an empty name.
	ErrEmptyFileName = errors.New("storage: file name must not be empty")
)
