// ABOUTME: Filesystem-backed audio artifact store. Uploads land under a
// ABOUTME: per-owner directory; removal is best-effort for cleanup paths.
package blob

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Store persists uploaded audio artifacts on the local filesystem. Paths
// returned from Save are absolute and are what gets written into the
// recording row's audio_path column.
type Store struct {
	root string
}

// NewStore creates the root directory if needed and returns a Store.
func NewStore(root string) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve audio dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, fmt.Errorf("create audio dir: %w", err)
	}
	return &Store{root: abs}, nil
}

// Save writes r to disk under the owner's directory and returns the stored
// path. The filename is a fresh UUID plus the sanitized extension of the
// uploaded name, so concurrent uploads of the same file never collide.
func (s *Store) Save(ownerID uuid.UUID, originalName string, r io.Reader) (string, error) {
	dir := filepath.Join(s.root, ownerID.String())
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create owner dir: %w", err)
	}

	path := filepath.Join(dir, uuid.New().String()+safeExt(originalName))
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return "", fmt.Errorf("create artifact: %w", err)
	}

	if _, err := io.Copy(f, r); err != nil {
		f.Close()       //nolint:errcheck
		os.Remove(path) //nolint:errcheck
		return "", fmt.Errorf("write artifact: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path) //nolint:errcheck
		return "", fmt.Errorf("close artifact: %w", err)
	}
	return path, nil
}

// Remove deletes a stored artifact. A path that is already gone is not an
// error; callers invoke this from cleanup paths that must not fail the
// surrounding database work.
func (s *Store) Remove(path string) error {
	if path == "" {
		return nil
	}
	// Refuse paths outside the store root. audio_path always comes from our
	// own rows, but cleanup runs with enough privilege to be careful anyway.
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve artifact path: %w", err)
	}
	if abs != s.root && !strings.HasPrefix(abs, s.root+string(filepath.Separator)) {
		return fmt.Errorf("artifact path %q outside store root", path)
	}
	if err := os.Remove(abs); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove artifact: %w", err)
	}
	return nil
}

// safeExt returns a filesystem-safe extension for the uploaded filename,
// or empty when the name has none worth keeping.
func safeExt(name string) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(name)))
	if ext == "." || len(ext) > 10 {
		return ""
	}
	for _, r := range ext {
		if r != '.' && (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return ext
}
