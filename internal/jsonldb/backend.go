// Defines the Backend interface and its file and in-memory implementations.

package jsonldb

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"
)

// Backend persists the encoded form of one table.
type Backend interface {
	// Load returns the persisted bytes, or nil when nothing was persisted yet.
	Load() ([]byte, error)
	// Replace substitutes the persisted bytes with data. It must be atomic:
	// on failure the previously persisted bytes stay intact.
	Replace(data []byte) error
}

// FileBackend stores a table in a single file, replaced with
// write-temp-then-rename.
type FileBackend struct {
	path string

	// beforeRename runs after the temp file is synced and before it is
	// renamed. Tests use it to simulate a crash.
	beforeRename func(tmp string) error
}

// NewFileBackend returns a backend for path, creating its directory and
// removing temp files left behind by an interrupted write.
func NewFileBackend(path string) (*FileBackend, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil { //nolint:gosec // G301: data directory
		return nil, fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	stale, err := filepath.Glob(filepath.Join(dir, tempPattern(path)))
	if err != nil {
		return nil, fmt.Errorf("failed to list temp files for %s: %w", path, err)
	}
	var errs []error
	for _, f := range stale {
		if err := os.Remove(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, fmt.Errorf("failed to remove stale temp file %s: %w", f, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return &FileBackend{path: path}, nil
}

// Path returns the backing file path.
func (b *FileBackend) Path() string {
	return b.path
}

// Load implements Backend.
func (b *FileBackend) Load() ([]byte, error) {
	data, err := os.ReadFile(b.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read table file %s: %w", b.path, err)
	}
	return data, nil
}

// Replace implements Backend.
func (b *FileBackend) Replace(data []byte) error {
	dir := filepath.Dir(b.path)
	f, err := os.CreateTemp(dir, tempPattern(b.path))
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmp := f.Name()
	done := false
	defer func() {
		if !done {
			_ = f.Close()
			_ = os.Remove(tmp)
		}
	}()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if b.beforeRename != nil {
		if err := b.beforeRename(tmp); err != nil {
			return err
		}
	}
	if err := os.Rename(tmp, b.path); err != nil {
		return fmt.Errorf("failed to rename temp file over %s: %w", b.path, err)
	}
	done = true

	// Make the rename itself durable. Not every platform supports syncing a
	// directory, so failures are ignored.
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}

// tempPattern is the os.CreateTemp pattern for temp files of path.
func tempPattern(path string) string {
	return "." + filepath.Base(path) + ".*.tmp"
}

// MemBackend keeps the encoded table in memory.
type MemBackend struct {
	mu   sync.Mutex
	data []byte
	err  error
}

// NewMemBackend returns a MemBackend preloaded with data, which may be nil.
func NewMemBackend(data []byte) *MemBackend {
	return &MemBackend{data: slices.Clone(data)}
}

// Load implements Backend.
func (m *MemBackend) Load() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.data), nil
}

// Replace implements Backend. It fails with the error set by FailWith.
func (m *MemBackend) Replace(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.data = slices.Clone(data)
	return nil
}

// FailWith makes subsequent Replace calls fail with err. A nil err restores
// normal operation.
func (m *MemBackend) FailWith(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

// Bytes returns a copy of the currently persisted bytes.
func (m *MemBackend) Bytes() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.data)
}
