package index

import (
	"context"
	"crypto/sha1" //nolint:gosec // content addressing, not security
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/meigma/assetcache/internal/fsutil"
)

// Manager performs hashing, validation and ingestion against a Store.
// It is safe for concurrent use; each call touches only the rows for its
// own hash and path.
type Manager struct {
	store    Store
	cacheDir string
	logger   *slog.Logger
	bufs     sync.Pool
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the logger used for non-fatal index failures.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewManager returns a Manager over store. cacheDir is the flat cache
// directory whose files are named by their content hash.
func NewManager(store Store, cacheDir string, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:    store,
		cacheDir: filepath.Clean(cacheDir),
		logger:   slog.New(slog.DiscardHandler),
	}
	m.bufs.New = func() any {
		b := make([]byte, 64*1024)
		return &b
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Store returns the underlying store.
func (m *Manager) Store() Store {
	return m.store
}

// CacheDir returns the cache directory.
func (m *Manager) CacheDir() string {
	return m.cacheDir
}

// IsCacheFile reports whether path is a hash-named file directly inside
// the cache directory.
func (m *Manager) IsCacheFile(path string) bool {
	if m.cacheDir == "" || m.cacheDir == "." {
		return false
	}
	return filepath.Dir(filepath.Clean(path)) == m.cacheDir &&
		len(filepath.Base(path)) == HashLen
}

// Hash streams the file at path through SHA-1 and returns the hex digest
// together with the file info observed before reading.
func (m *Manager) Hash(ctx context.Context, path string) (string, fs.FileInfo, error) {
	f, err := os.Open(path) //nolint:gosec // paths come from directory enumeration or the index
	if err != nil {
		return "", nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", nil, err
	}
	if !info.Mode().IsRegular() {
		return "", nil, fmt.Errorf("not a regular file: %s", path)
	}

	bp, _ := m.bufs.Get().(*[]byte)
	defer m.bufs.Put(bp)

	h := sha1.New() //nolint:gosec // content addressing
	n, err := fsutil.CopyWithContext(ctx, h, f, *bp)
	if err != nil {
		return "", nil, err
	}
	if n != info.Size() {
		return "", nil, fmt.Errorf("file size changed while hashing %s: expected %d, read %d", path, info.Size(), n)
	}
	return HexSum(h.Sum(nil)), info, nil
}

// Validate re-derives the state of e. It returns the (possibly refreshed)
// entry when the file is live and its content still hashes to e.Hash, and
// an error wrapping ErrStale otherwise. Context errors are returned as-is.
//
// When only size or modification time drifted but the content hash still
// matches, the row is rewritten with the new metadata.
func (m *Manager) Validate(ctx context.Context, e Entry) (Entry, error) {
	info, err := os.Stat(e.Path)
	if err != nil {
		return Entry{}, fmt.Errorf("%w: %s: %w", ErrStale, e.Path, err)
	}
	if !info.Mode().IsRegular() {
		return Entry{}, fmt.Errorf("%w: %s: not a regular file", ErrStale, e.Path)
	}
	if m.IsCacheFile(e.Path) && !strings.EqualFold(filepath.Base(e.Path), e.Hash) {
		return Entry{}, fmt.Errorf("%w: %s: cache file name does not match hash", ErrStale, e.Path)
	}
	if info.Size() == e.Size && info.ModTime().Equal(e.LastModified) {
		return e, nil
	}

	hash, info, err := m.Hash(ctx, e.Path)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Entry{}, ctxErr
		}
		return Entry{}, fmt.Errorf("%w: %s: %w", ErrStale, e.Path, err)
	}
	if hash != e.Hash {
		return Entry{}, fmt.Errorf("%w: %s: content changed", ErrStale, e.Path)
	}

	refreshed := Entry{Hash: e.Hash, Path: e.Path, Size: info.Size(), LastModified: info.ModTime()}
	if err := m.store.Put(ctx, refreshed); err != nil {
		m.logger.Warn("refresh index entry failed",
			slog.String("path", e.Path),
			slog.Any("error", err))
	}
	return refreshed, nil
}

// Ingest hashes the file at path and records it. The returned bool is
// true when rows for the same hash already existed under other paths, in
// which case the new row is a secondary entry for that content.
func (m *Manager) Ingest(ctx context.Context, path string) (Entry, bool, error) {
	hash, info, err := m.Hash(ctx, path)
	if err != nil {
		return Entry{}, false, err
	}
	if m.IsCacheFile(path) && !strings.EqualFold(filepath.Base(path), hash) {
		return Entry{}, false, fmt.Errorf("%w: %s hashes to %s", ErrHashMismatch, path, hash)
	}

	existing, err := m.store.ByHash(ctx, hash)
	if err != nil {
		return Entry{}, false, fmt.Errorf("lookup %s: %w", hash, err)
	}
	secondary := slices.ContainsFunc(existing, func(x Entry) bool { return x.Path != path })

	e := Entry{Hash: hash, Path: path, Size: info.Size(), LastModified: info.ModTime()}
	if err := m.store.Put(ctx, e); err != nil {
		return Entry{}, false, fmt.Errorf("insert %s: %w", path, err)
	}
	return e, secondary, nil
}

// Resolve returns a row for hash whose file still exists, preferring
// files in the cache directory.
func (m *Manager) Resolve(ctx context.Context, hash string) (Entry, error) {
	hash = strings.ToLower(hash)
	if !ValidHash(hash) {
		return Entry{}, fmt.Errorf("%w: %q", ErrInvalidHash, hash)
	}
	rows, err := m.store.ByHash(ctx, hash)
	if err != nil {
		return Entry{}, fmt.Errorf("lookup %s: %w", hash, err)
	}
	slices.SortStableFunc(rows, func(a, b Entry) int {
		ac, bc := m.IsCacheFile(a.Path), m.IsCacheFile(b.Path)
		switch {
		case ac == bc:
			return 0
		case ac:
			return -1
		default:
			return 1
		}
	})
	for _, e := range rows {
		info, err := os.Stat(e.Path)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				m.logger.Debug("resolve stat failed", slog.String("path", e.Path), slog.Any("error", err))
			}
			continue
		}
		if !info.Mode().IsRegular() {
			continue
		}
		e.Size = info.Size()
		return e, nil
	}
	return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, hash)
}

// Remove deletes keys from the store.
func (m *Manager) Remove(ctx context.Context, keys []Key) error {
	if len(keys) == 0 {
		return nil
	}
	return m.store.Delete(ctx, keys)
}
