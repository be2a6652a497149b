// Stateless filesystem helpers shared by the ingestion pipeline: thumbnail
// path derivation, directory creation, and the two flavours of file deletion
// (best-effort and error-surfacing).
package fsutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/medleyhq/medley/pkg/logger"
)

var log = logger.Get("FsUtil")

const thumbnailExtension = ".webp"

// ThumbnailPath derives the path a videos cover image is written to: the
// source file's directory and base name with the extension forced to '.webp'.
// Applying it to its own output returns the same path. An empty input
// is returned unchanged.
func ThumbnailPath(sourcePath string) string {
	if sourcePath == "" {
		return sourcePath
	}

	dir := filepath.Dir(sourcePath)
	base := strings.TrimSuffix(filepath.Base(sourcePath), filepath.Ext(sourcePath))
	return filepath.Join(dir, base+thumbnailExtension)
}

// EnsureDirectory creates the directory (and any missing parents) at the
// given path. An already-existing directory is not an error.
func EnsureDirectory(path string) error {
	if err := os.MkdirAll(path, os.ModeDir|os.ModePerm); err != nil {
		return fmt.Errorf("failed to create directory '%s': %w", path, err)
	}

	return nil
}

// DeleteSilently removes the file at the given path on a best-effort basis.
// A missing file, or any error during removal, is swallowed - this is for
// cleanup paths where the primary operation must not be blocked.
func DeleteSilently(path string) {
	if _, err := os.Stat(path); err != nil {
		return
	}

	if err := os.Remove(path); err != nil {
		log.Verbosef("Best-effort deletion of '%s' failed: %v\n", path, err)
	}
}

// Delete removes the file at the given path, surfacing any I/O error to the
// caller. A path which does not exist is not an error.
func Delete(path string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}

		return fmt.Errorf("failed to stat '%s' for deletion: %w", path, err)
	}

	if err := os.Remove(path); err != nil {
		return fmt.Errorf("failed to delete '%s': %w", path, err)
	}

	return nil
}
