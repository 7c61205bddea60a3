// Package assets stores uploaded images beneath the public asset root and
// tracks which records reference them.
package assets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/maruel/orgsite/internal/metrics"
	"github.com/maruel/orgsite/internal/records"
)

// DefaultMaxSize bounds a single asset when Options.MaxSize is zero.
const DefaultMaxSize = 10 << 20

var (
	// ErrTooLarge is returned by Store when the payload exceeds the size limit.
	ErrTooLarge = errors.New("asset is too large")
	// ErrInvalidCategory is returned by Store for a category that sanitizes to
	// nothing.
	ErrInvalidCategory = errors.New("invalid asset category")
)

// WriteError reports that an asset could not be written.
type WriteError struct {
	Op   string
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("failed to %s asset %s: %v", e.Op, e.Path, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// Options configures a Manager.
type Options struct {
	// MaxSize is the largest accepted payload in bytes.
	MaxSize int64
	// Metrics receives write and release counts. May be nil.
	Metrics *metrics.Metrics
}

// Manager owns the asset root directory.
type Manager struct {
	root    string
	maxSize int64
	metrics *metrics.Metrics

	// mu serializes name allocation so two uploads never claim the same name.
	mu        sync.Mutex
	lastStamp int64
}

// NewManager returns a Manager rooted at root, creating it if needed.
func NewManager(root string, opts *Options) (*Manager, error) {
	if err := os.MkdirAll(root, 0o755); err != nil { //nolint:gosec // G301: public directory
		return nil, &WriteError{Op: "create root", Path: root, Err: err}
	}
	m := &Manager{root: root, maxSize: DefaultMaxSize}
	if opts != nil {
		if opts.MaxSize > 0 {
			m.maxSize = opts.MaxSize
		}
		m.metrics = opts.Metrics
	}
	return m, nil
}

// Root returns the asset root directory.
func (m *Manager) Root() string {
	return m.root
}

// MaxSize returns the largest accepted payload in bytes.
func (m *Manager) MaxSize() int64 {
	return m.maxSize
}

// Store writes the content of r to <root>/<category>/<name> and returns its
// reference.
//
// name is derived from suggestedName; a millisecond timestamp is appended when
// the name is already taken. The content is written to a temp file first so a
// partially written asset is never visible under its final name.
func (m *Manager) Store(ctx context.Context, r io.Reader, suggestedName, category string) (records.AssetRef, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	cat := sanitize(category)
	if cat == "" {
		return "", fmt.Errorf("%w %q", ErrInvalidCategory, category)
	}
	stem, ext := splitName(suggestedName)
	dir := filepath.Join(m.root, cat)
	if err := os.MkdirAll(dir, 0o755); err != nil { //nolint:gosec // G301: public directory
		return "", &WriteError{Op: "create directory", Path: dir, Err: err}
	}

	f, err := os.CreateTemp(dir, ".upload-*.tmp")
	if err != nil {
		return "", &WriteError{Op: "create", Path: dir, Err: err}
	}
	tmp := f.Name()
	done := false
	defer func() {
		if !done {
			_ = f.Close()
			_ = os.Remove(tmp)
		}
	}()
	n, err := io.Copy(f, io.LimitReader(r, m.maxSize+1))
	if err != nil {
		return "", &WriteError{Op: "write", Path: tmp, Err: err}
	}
	if n > m.maxSize {
		return "", fmt.Errorf("%w: limit is %d bytes", ErrTooLarge, m.maxSize)
	}
	if err := f.Sync(); err != nil {
		return "", &WriteError{Op: "sync", Path: tmp, Err: err}
	}
	if err := f.Close(); err != nil {
		return "", &WriteError{Op: "close", Path: tmp, Err: err}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	name := stem + ext
	for {
		_, err := os.Lstat(filepath.Join(dir, name))
		if errors.Is(err, fs.ErrNotExist) && records.AssetRef("/"+cat+"/"+name) != records.Placeholder {
			break
		}
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return "", &WriteError{Op: "stat", Path: filepath.Join(dir, name), Err: err}
		}
		name = stem + "-" + strconv.FormatInt(m.nextStamp(), 10) + ext
	}
	dst := filepath.Join(dir, name)
	if err := os.Rename(tmp, dst); err != nil {
		return "", &WriteError{Op: "rename", Path: dst, Err: err}
	}
	done = true
	m.metrics.AssetStored(n)
	ref := records.AssetRef("/" + cat + "/" + name)
	slog.DebugContext(ctx, "stored asset", "ref", ref, "size", n)
	return ref, nil
}

// nextStamp returns a strictly increasing millisecond timestamp.
func (m *Manager) nextStamp() int64 {
	m.lastStamp = max(time.Now().UnixMilli(), m.lastStamp+1)
	return m.lastStamp
}

// Resolve reports whether ref points at an existing asset. The placeholder
// always resolves.
func (m *Manager) Resolve(ref records.AssetRef) bool {
	if ref == records.Placeholder {
		return true
	}
	p, ok := m.path(ref)
	if !ok {
		return false
	}
	fi, err := os.Stat(p)
	return err == nil && fi.Mode().IsRegular()
}

// Release removes the asset behind ref.
//
// It is best effort: failures are logged and otherwise ignored. The caller
// must have checked that no record references ref anymore.
func (m *Manager) Release(ctx context.Context, ref records.AssetRef) {
	if ref.IsPlaceholder() {
		return
	}
	p, ok := m.path(ref)
	if !ok {
		slog.WarnContext(ctx, "not releasing invalid asset reference", "ref", ref)
		return
	}
	err := os.Remove(p)
	switch {
	case err == nil:
		slog.InfoContext(ctx, "released asset", "ref", ref)
	case errors.Is(err, fs.ErrNotExist):
		slog.DebugContext(ctx, "asset already gone", "ref", ref)
		err = nil
	default:
		slog.WarnContext(ctx, "failed to release asset", "ref", ref, "err", err)
	}
	m.metrics.AssetReleased(err)
}

// Open opens the asset behind ref for reading.
func (m *Manager) Open(ref records.AssetRef) (*os.File, error) {
	p, ok := m.path(ref)
	if !ok {
		return nil, fs.ErrNotExist
	}
	return os.Open(p) //nolint:gosec // G304: path validated by m.path
}

// path maps ref to a file below the root.
func (m *Manager) path(ref records.AssetRef) (string, bool) {
	if !ref.Valid() {
		return "", false
	}
	p := filepath.Join(m.root, filepath.FromSlash(string(ref)))
	rel, err := filepath.Rel(m.root, p)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", false
	}
	return p, true
}

// sanitize lowercases s and collapses every run of characters other than
// [a-z0-9] into a single '-'.
func sanitize(s string) string {
	var b strings.Builder
	dash := false
	for _, c := range strings.ToLower(s) {
		if ('a' <= c && c <= 'z') || ('0' <= c && c <= '9') {
			if dash && b.Len() != 0 {
				b.WriteByte('-')
			}
			dash = false
			b.WriteRune(c)
			continue
		}
		dash = true
	}
	return b.String()
}

// splitName sanitizes a suggested file name into a stem and an extension
// including its leading dot.
func splitName(name string) (string, string) {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	ext := filepath.Ext(name)
	stem := sanitize(strings.TrimSuffix(name, ext))
	if ext = sanitize(ext); ext != "" {
		ext = "." + ext
	}
	if stem == "" {
		stem = "asset"
	}
	return stem, ext
}
