// Package disk provides the flat, content-addressed cache directory.
//
// Files are stored directly under the cache root, named by the 40 character
// lowercase hex SHA-1 of their content. The directory is never sharded; the
// scanner and eviction both rely on a non-recursive listing.
package disk

import (
	"context"
	"crypto/sha1" //nolint:gosec // content addressing, not a security boundary
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/meigma/assetcache/index"
	"github.com/meigma/assetcache/internal/fsutil"
)

const defaultDirPerm = 0o700

// ErrHashMismatch is returned by Put when the written bytes do not hash to
// the requested name.
var ErrHashMismatch = errors.New("disk: content does not match hash")

// Cache is a content-addressed cache directory.
type Cache struct {
	dir      string
	dirPerm  os.FileMode
	maxBytes int64
	logger   *slog.Logger
}

// Option configures a disk cache.
type Option func(*Cache)

// WithDirPerm sets the directory permissions used for the cache directory.
func WithDirPerm(mode os.FileMode) Option {
	return func(c *Cache) {
		c.dirPerm = mode
	}
}

// WithMaxBytes sets the configured size ceiling reported by Limit.
func WithMaxBytes(n int64) Option {
	return func(c *Cache) {
		c.maxBytes = n
	}
}

// WithLogger sets the logger for eviction diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New creates a disk-backed cache rooted at dir.
func New(dir string, opts ...Option) (*Cache, error) {
	if dir == "" {
		return nil, errors.New("cache dir is empty")
	}
	c := &Cache{
		dir:     filepath.Clean(dir),
		dirPerm: defaultDirPerm,
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.maxBytes < 0 {
		return nil, errors.New("max bytes must be >= 0")
	}
	if err := os.MkdirAll(c.dir, c.dirPerm); err != nil {
		return nil, err
	}
	return c, nil
}

// Dir returns the cache root.
func (c *Cache) Dir() string {
	return c.dir
}

// Limit returns the ceiling configured with WithMaxBytes, or 0.
func (c *Cache) Limit() int64 {
	return c.maxBytes
}

// Path returns the location of the cache file for hash.
func (c *Cache) Path(hash string) (string, error) {
	if !index.ValidHash(hash) {
		return "", fmt.Errorf("%w: %q", index.ErrInvalidHash, hash)
	}
	return filepath.Join(c.dir, hash), nil
}

// Get opens the cache file for hash. The caller closes the file.
func (c *Cache) Get(hash string) (*os.File, bool) {
	path, err := c.Path(hash)
	if err != nil {
		return nil, false
	}
	f, err := os.Open(path) //nolint:gosec // path is derived from a validated hash
	if err != nil {
		return nil, false
	}
	return f, true
}

// Has reports whether a cache file exists for hash.
func (c *Cache) Has(hash string) bool {
	path, err := c.Path(hash)
	if err != nil {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// Put streams r into the cache under hash and returns the number of bytes
// written. The content is written to a temp file, verified against hash and
// renamed into place. An existing file for hash is left untouched.
func (c *Cache) Put(ctx context.Context, hash string, r io.Reader) (int64, error) {
	path, err := c.Path(hash)
	if err != nil {
		return 0, err
	}
	if info, err := os.Stat(path); err == nil {
		return info.Size(), nil
	}

	tmp, err := os.CreateTemp(c.dir, "put-*.tmp")
	if err != nil {
		return 0, err
	}
	tmpPath := tmp.Name()

	h := sha1.New() //nolint:gosec // content addressing
	n, err := fsutil.CopyWithContext(ctx, io.MultiWriter(tmp, h), r, nil)
	if err != nil {
		tmp.Close()
		_ = os.Remove(tmpPath)
		return n, err
	}
	if got := index.HexSum(h.Sum(nil)); got != hash {
		tmp.Close()
		_ = os.Remove(tmpPath)
		return n, fmt.Errorf("%w: want %s, got %s", ErrHashMismatch, hash, got)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return n, err
	}

	if err := os.Rename(tmpPath, path); err != nil {
		if _, statErr := os.Stat(path); statErr == nil {
			_ = os.Remove(tmpPath)
			return n, nil
		}
		_ = os.Remove(tmpPath)
		return n, err
	}
	return n, nil
}

// Delete removes the cache file for hash. A missing file is not an error.
func (c *Cache) Delete(hash string) error {
	path, err := c.Path(hash)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
