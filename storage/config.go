package storage

import (
	"fmt"
	"time"

	"github.com/jathurchan/ridecore/logger"
)

// Config contains the name node settings.
type Config struct {
	// MetaDir is the directory where per-file .meta records are kept.
	MetaDir string

	// BlockSize is the maximum payload of one block.
	BlockSize int

	// ReplicationFactor is the number of data nodes each block is written to.
	ReplicationFactor int

	// Placement chooses target nodes for new and migrated replicas.
	Placement PlacementPolicy

	Logger logger.Logger

	// Now stamps file creation times.
	Now func() time.Time
}

// DefaultConfig returns a Config with the default block size and replication
// factor, storing metadata under metaDir.
func DefaultConfig(metaDir string) Config {
	return Config{
		MetaDir:           metaDir,
		BlockSize:         DefaultBlockSize,
		ReplicationFactor: DefaultReplicationFactor,
		Placement:         NewMostFreeSpacePolicy(),
		Logger:            logger.NewNoOpLogger(),
		Now:               time.Now,
	}
}

// Validate checks the configuration for unusable values.
func (c Config) Validate() error {
	if c.MetaDir == "" {
		return fmt.Errorf("%w: MetaDir must be set", ErrInvalidConfig)
	}
	if c.BlockSize <= 0 {
		return fmt.Errorf("%w: BlockSize must be positive, got %d", ErrInvalidConfig, c.BlockSize)
	}
	if c.ReplicationFactor <= 0 {
		return fmt.Errorf("%w: ReplicationFactor must be positive, got %d", ErrInvalidConfig, c.ReplicationFactor)
	}
	return nil
}
