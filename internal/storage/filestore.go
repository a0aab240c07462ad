// Package storage provides the on-disk FileStore capability for kvdb.
package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/maruel/kvfile/internal/kvdb"
)

// DiskFile implements kvdb.FileStore backed by a single file on the local
// filesystem. Writes go through a temp file in the same directory followed
// by a rename, so readers never observe a partially written store.
type DiskFile struct {
	path string
}

// NewDiskFile creates a DiskFile for path, creating the parent directory if
// it doesn't exist.
func NewDiskFile(path string) (*DiskFile, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil { //nolint:gosec // G301: 0o755 is intentional for data directories
		return nil, fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	return &DiskFile{path: path}, nil
}

// Path returns the backing file path.
func (f *DiskFile) Path() string {
	return f.path
}

// Exists checks if the backing file exists.
func (f *DiskFile) Exists() bool {
	_, err := os.Stat(f.path)
	return err == nil
}

// ReadAll returns the full file content, or kvdb.ErrNotFound if the file
// does not exist yet.
func (f *DiskFile) ReadAll() ([]byte, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, kvdb.ErrNotFound
		}
		return nil, fmt.Errorf("failed to read %s: %w", f.path, err)
	}
	return data, nil
}

// WriteAll atomically replaces the file content.
func (f *DiskFile) WriteAll(data []byte) error {
	dir := filepath.Dir(f.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file in %s: %w", dir, err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to write %s: %w", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to close %s: %w", tmpPath, err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil { //nolint:gosec // G302: 0o644 is intentional for data files
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to chmod %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, f.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to replace %s: %w", f.path, err)
	}
	return nil
}

// DefaultDir returns the platform default directory for store files.
func DefaultDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve user config dir: %w", err)
	}
	return filepath.Join(base, "kvfile"), nil
}

// ResolvePath maps a store name to its backing file path under dir. An
// explicit path wins over the derived one.
func ResolvePath(dir, name, explicit string) string {
	if explicit != "" {
		return explicit
	}
	return filepath.Join(dir, name+".json")
}

// Opener returns a kvdb.FileOpener rooted at dir.
func Opener(dir string) kvdb.FileOpener {
	return func(name, path string) (kvdb.FileStore, error) {
		return NewDiskFile(ResolvePath(dir, name, path))
	}
}
