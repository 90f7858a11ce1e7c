// Package fileio replaces files atomically: readers see either the old
// content or the new, never a partial write.
package fileio

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
)

// WriteFile replaces path with data, creating parent directories. An
// existing file keeps its permissions; a new one gets 0644.
func WriteFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("fileio: create directory: %w", err)
	}
	if err := renameio.WriteFile(path, data, 0o644, renameio.WithExistingPermissions()); err != nil {
		return fmt.Errorf("fileio: write %s: %w", path, err)
	}
	return nil
}
