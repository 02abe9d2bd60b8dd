// Package scan keeps the content index consistent with the filesystem.
//
// A [Scanner] runs a supervising loop that bounds the cache directory size,
// runs reconciliation passes between the source tree, the cache directory
// and the index, and sleeps between passes with an observable countdown.
// Passes are cancelled and re-queued around large downloads through
// [Scanner.Suspend] and [Scanner.Resume].
package scan

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/meigma/assetcache/cache/disk"
	"github.com/meigma/assetcache/event"
	"github.com/meigma/assetcache/index"
)

// DefaultExtensions are the game asset types eligible for indexing.
var DefaultExtensions = []string{
	".mdl", ".tex", ".mtrl", ".tmb", ".pap", ".avfx",
	".atex", ".sklb", ".eid", ".phyb", ".scd", ".skp",
}

// DefaultExcludedDirs are source subtrees that never hold replaceable assets.
var DefaultExcludedDirs = []string{"bg", "bgcommon", "ui"}

// ErrNotConfigured is returned by a pass when the source or cache directory
// is unset or missing.
var ErrNotConfigured = errors.New("scan: directories not configured")

// Settings is the configuration the scanner reads on every loop iteration.
type Settings interface {
	SourceDir() string
	CacheDir() string
	MaxCacheBytes() int64
	ScanInterval() time.Duration
	ScanPaused() bool
	InitialScanComplete() bool
	MarkInitialScanComplete() error
}

// Scanner reconciles the index with the filesystem.
type Scanner struct {
	settings Settings
	files    *index.Manager
	cache    *disk.Cache
	logger   *slog.Logger
	bus      *event.Bus

	workers    int
	tick       time.Duration
	extensions map[string]struct{}
	excluded   map[string]struct{}
	foldCase   bool

	// gen identifies the current supervising loop. Loops whose generation
	// has been replaced do not touch progress.
	gen        atomic.Uint64
	totalFiles atomic.Int64
	processed  atomic.Int64
	cacheSize  atomic.Int64
	nextScan   atomic.Int64

	mu            sync.Mutex
	parent        context.Context
	cancel        context.CancelFunc
	done          chan struct{}
	suspends      int
	resumePending bool
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scanner) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithWorkers sets the number of concurrent validation and ingestion tasks.
// Values below 1 are ignored.
func WithWorkers(n int) Option {
	return func(s *Scanner) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithBus sets the bus used to publish ScanCompleted and, with Listen, to
// receive download notifications.
func WithBus(bus *event.Bus) Option {
	return func(s *Scanner) {
		s.bus = bus
	}
}

// WithTick sets the countdown granularity between passes. Defaults to one
// second.
func WithTick(d time.Duration) Option {
	return func(s *Scanner) {
		if d > 0 {
			s.tick = d
		}
	}
}

// WithExtensions replaces the extension allow-list. Matching is case
// insensitive.
func WithExtensions(exts ...string) Option {
	return func(s *Scanner) {
		s.extensions = lowerSet(exts)
	}
}

// WithExcludedDirs replaces the excluded directory names. Matching is case
// insensitive.
func WithExcludedDirs(dirs ...string) Option {
	return func(s *Scanner) {
		s.excluded = lowerSet(dirs)
	}
}

// New creates a Scanner. files must be rooted at the same cache directory
// as cache.
func New(settings Settings, files *index.Manager, cache *disk.Cache, opts ...Option) *Scanner {
	s := &Scanner{
		settings:   settings,
		files:      files,
		cache:      cache,
		logger:     slog.New(slog.DiscardHandler),
		workers:    defaultWorkers(),
		tick:       time.Second,
		extensions: lowerSet(DefaultExtensions),
		excluded:   lowerSet(DefaultExcludedDirs),
		foldCase:   caseInsensitive,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Workers returns the size of the task pool.
func (s *Scanner) Workers() int {
	return s.workers
}

func defaultWorkers() int {
	return max(1, runtime.NumCPU()/2)
}

func lowerSet(values []string) map[string]struct{} {
	out := make(map[string]struct{}, len(values))
	for _, v := range values {
		out[strings.ToLower(v)] = struct{}{}
	}
	return out
}
