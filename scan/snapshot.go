package scan

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"sync/atomic"

	"github.com/meigma/assetcache/index"
)

// caseInsensitive reports whether paths on this platform compare without
// case. It is the default for Scanner.foldCase.
var caseInsensitive = runtime.GOOS == "windows" || runtime.GOOS == "darwin"

// candidate is a file found on disk. path keeps the case it was listed
// with; only the snapshot key is folded.
type candidate struct {
	path string
	seen atomic.Bool
}

// snapshot maps normalized candidate paths to candidates. The map is built
// once and only read afterwards; seen flags are set concurrently.
type snapshot struct {
	foldCase bool
	files    map[string]*candidate
}

func newSnapshot(foldCase bool) *snapshot {
	return &snapshot{foldCase: foldCase, files: make(map[string]*candidate)}
}

// key returns the snapshot key for path.
func (s *snapshot) key(path string) string {
	path = filepath.Clean(path)
	if s.foldCase {
		path = strings.ToLower(path)
	}
	return path
}

func (s *snapshot) add(path string) {
	s.files[s.key(path)] = &candidate{path: filepath.Clean(path)}
}

func (s *snapshot) len() int {
	return len(s.files)
}

// markSeen flags path if it is part of the snapshot.
func (s *snapshot) markSeen(path string) {
	if c, ok := s.files[s.key(path)]; ok {
		c.seen.Store(true)
	}
}

// unseen returns the listed paths of candidates not marked seen, sorted.
func (s *snapshot) unseen() []string {
	var out []string
	for _, c := range s.files {
		if !c.seen.Load() {
			out = append(out, c.path)
		}
	}
	slices.Sort(out)
	return out
}

// buildSnapshot enumerates eligible source files recursively and hash-named
// cache files non-recursively. Other files in the cache directory, such as
// scratch files or temp files, are not candidates.
func (s *Scanner) buildSnapshot(ctx context.Context, sourceDir, cacheDir string) (*snapshot, error) {
	snap := newSnapshot(s.foldCase)

	root := filepath.Clean(sourceDir)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			if path == root {
				return err
			}
			s.logger.Warn("skip unreadable path", slog.String("path", path), slog.Any("error", err))
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if path != root && s.isExcludedDir(d.Name()) {
				return fs.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() && s.isEligible(d.Name()) {
			snap.add(path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(cacheDir)
	if err != nil {
		return nil, err
	}
	for _, d := range entries {
		if d.Type().IsRegular() && index.ValidHash(d.Name()) {
			snap.add(filepath.Join(cacheDir, d.Name()))
		}
	}
	return snap, nil
}

func (s *Scanner) isEligible(name string) bool {
	_, ok := s.extensions[strings.ToLower(filepath.Ext(name))]
	return ok
}

func (s *Scanner) isExcludedDir(name string) bool {
	_, ok := s.excluded[strings.ToLower(name)]
	return ok
}

// dirExists reports whether path is a configured, existing directory.
func dirExists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}

// isCanceled reports whether err is a context cancellation.
func isCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
