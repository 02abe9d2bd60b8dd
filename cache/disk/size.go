package disk

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/meigma/assetcache/internal/fsutil"
)

// Usage describes one file directly inside the cache directory.
type Usage struct {
	Path       string
	Size       int64
	AccessTime time.Time
}

// EvictResult summarises an eviction run.
type EvictResult struct {
	Before  int64
	After   int64
	Freed   int64
	Deleted []string
}

// Evicted reports whether any file was removed.
func (r EvictResult) Evicted() bool {
	return len(r.Deleted) > 0
}

// Usage lists the regular files directly inside the cache directory and
// returns them with their total size. Subdirectories are not descended.
func (c *Cache) Usage() ([]Usage, int64, error) {
	entries, err := os.ReadDir(c.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, err
	}

	out := make([]Usage, 0, len(entries))
	var total int64
	for _, d := range entries {
		if !d.Type().IsRegular() {
			continue
		}
		info, err := d.Info()
		if err != nil {
			// Removed between listing and stat.
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, 0, err
		}
		path := filepath.Join(c.dir, d.Name())
		total += info.Size()
		out = append(out, Usage{
			Path:       path,
			Size:       info.Size(),
			AccessTime: fsutil.AccessTime(path, info),
		})
	}
	return out, total, nil
}

// SizeBytes recomputes the total size of the cache directory.
func (c *Cache) SizeBytes() (int64, error) {
	_, total, err := c.Usage()
	return total, err
}

// Evict deletes the least recently accessed files until the total size is at
// or below ceiling. It is a no-op when the cache already fits. Files that
// cannot be deleted are logged and skipped.
func (c *Cache) Evict(ceiling int64) (EvictResult, error) {
	if ceiling < 0 {
		ceiling = 0
	}

	entries, total, err := c.Usage()
	if err != nil {
		return EvictResult{}, err
	}

	res := EvictResult{Before: total, After: total}
	if total <= ceiling {
		return res, nil
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].AccessTime.Equal(entries[j].AccessTime) {
			return entries[i].Path < entries[j].Path
		}
		return entries[i].AccessTime.Before(entries[j].AccessTime)
	})

	for _, entry := range entries {
		if res.After <= ceiling {
			break
		}
		if err := os.Remove(entry.Path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				// Already gone; the space is free either way.
				res.After -= entry.Size
				continue
			}
			c.logger.Warn("evict cache file",
				slog.String("path", entry.Path),
				slog.Any("error", err))
			continue
		}
		c.logger.Debug("evicted cache file",
			slog.String("path", entry.Path),
			slog.Int64("size", entry.Size))
		res.After -= entry.Size
		res.Freed += entry.Size
		res.Deleted = append(res.Deleted, entry.Path)
	}

	return res, nil
}
