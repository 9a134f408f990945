package storage

import (
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"regexp"
)

var unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// sanitizeName maps a logical file name onto a flat, filesystem-safe base name.
func sanitizeName(name string) string {
	return unsafeNameChars.ReplaceAllString(name, "_")
}

// atomicWriteFile writes data to a temporary file and then renames it.
func atomicWriteFile(targetPath string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(targetPath)
	if err := os.MkdirAll(dir, ownRWXOthRX); err != nil {
		return fmt.Errorf("%w: failed to create directory %q: %v", ErrStorageIO, dir, err)
	}

	tmpPath := targetPath + tmpSuffix
	if err := os.WriteFile(tmpPath, data, perm); err != nil {
		return handleErrorWithCleanup(
			fmt.Errorf("%w: failed to write temporary file %q: %v", ErrStorageIO, tmpPath, err),
			tmpPath,
		)
	}

	if err := os.Rename(tmpPath, targetPath); err != nil {
		return handleErrorWithCleanup(
			fmt.Errorf("%w: failed to rename temporary file %q to %q: %v", ErrStorageIO, tmpPath, targetPath, err),
			tmpPath,
		)
	}

	return nil
}

// handleErrorWithCleanup attempts to remove the temporary file and combines any cleanup
// error with the primary error.
func handleErrorWithCleanup(primaryErr error, tmpPath string) error {
	if rmErr := os.Remove(tmpPath); rmErr != nil && !os.IsNotExist(rmErr) {
		return fmt.Errorf("%w; additionally failed to clean up temp file: %v", primaryErr, rmErr)
	}
	return primaryErr
}

// removeIfExists deletes path, treating a missing file as success.
func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: failed to remove %q: %v", ErrStorageIO, path, err)
	}
	return nil
}

// computeChecksum calculates a CRC32 checksum over the provided data using IEEE polynomial.
func computeChecksum(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}
