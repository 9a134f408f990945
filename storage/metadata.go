package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jathurchan/ridecore/types"
)

// metadataPath returns <metaDir>/<sanitized-name>.meta for a logical file name.
func (nn *NameNode) metadataPath(name string) string {
	return filepath.Join(nn.cfg.MetaDir, sanitizeName(name)+metaFileExt)
}

// saveMetadata writes one file record atomically.
func (nn *NameNode) saveMetadata(meta *types.FileMetadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: failed to marshal metadata for %q: %v", ErrStorageIO, meta.Name, err)
	}
	return atomicWriteFile(nn.metadataPath(meta.Name), data, ownRWOthR)
}

func (nn *NameNode) removeMetadata(name string) error {
	return removeIfExists(nn.metadataPath(name))
}

// loadMetadata reads and decodes every record in the metadata directory.
// Unreadable records are skipped and reported through the logger.
func (nn *NameNode) loadMetadata() ([]*types.FileMetadata, error) {
	entries, err := os.ReadDir(nn.cfg.MetaDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: failed to list metadata directory %q: %v", ErrStorageIO, nn.cfg.MetaDir, err)
	}

	var records []*types.FileMetadata
	for _, entry := range entries {
		name := entry.Name()
		path := filepath.Join(nn.cfg.MetaDir, name)

		if strings.HasSuffix(name, tmpSuffix) {
			if err := removeIfExists(path); err != nil {
				nn.logger.Warnw("Failed to remove temporary metadata file", "path", path, "error", err)
			}
			continue
		}
		if entry.IsDir() || !strings.HasSuffix(name, metaFileExt) {
			continue
		}

		meta, err := readMetadataFile(path)
		if err != nil {
			nn.logger.Warnw("Skipping unreadable metadata", "path", path, "error", err)
			continue
		}
		records = append(records, meta)
	}
	return records, nil
}

func readMetadataFile(path string) (*types.FileMetadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read metadata file %q: %v", ErrStorageIO, path, err)
	}

	var meta types.FileMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptedMetadata, err)
	}
	if meta.Name == "" || meta.Size < 0 {
		return nil, fmt.Errorf("%w: missing name or negative size", ErrCorruptedMetadata)
	}
	return &meta, nil
}
