package assetcache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/sync/singleflight"

	"github.com/meigma/assetcache/cache/disk"
	"github.com/meigma/assetcache/charafile"
	"github.com/meigma/assetcache/config"
	"github.com/meigma/assetcache/event"
	"github.com/meigma/assetcache/index"
	"github.com/meigma/assetcache/index/bolt"
	"github.com/meigma/assetcache/index/postgres"
	"github.com/meigma/assetcache/scan"
)

// Service owns the index, cache, scanner and archive manager for one
// configuration.
type Service struct {
	config *config.Store
	logger *slog.Logger
	bus    *event.Bus

	store     index.Store
	ownsStore bool
	files     *index.Manager
	cache     *disk.Cache
	scanner   *scan.Scanner
	archives  *charafile.Manager

	// imports collapses concurrent imports of the same hash.
	imports singleflight.Group

	workers int
}

// New opens the configured index engine and builds a Service.
func New(ctx context.Context, cfg *config.Store, opts ...Option) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("config store is nil")
	}
	s := &Service{
		config: cfg,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	if s.bus == nil {
		s.bus = event.NewBus()
	}

	snap := cfg.Snapshot()
	if snap.CacheDir == "" {
		return nil, errors.New("cache directory is not configured")
	}

	c, err := disk.New(snap.CacheDir,
		disk.WithMaxBytes(snap.MaxCacheBytes()),
		disk.WithLogger(s.logger.With(slog.String("component", "cache"))))
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	s.cache = c

	if s.store == nil {
		store, err := openStore(ctx, snap)
		if err != nil {
			return nil, err
		}
		s.store, s.ownsStore = store, true
	}

	s.files = index.NewManager(s.store, c.Dir(),
		index.WithLogger(s.logger.With(slog.String("component", "index"))))

	scanOpts := []scan.Option{
		scan.WithLogger(s.logger.With(slog.String("component", "scan"))),
		scan.WithBus(s.bus),
	}
	if s.workers > 0 {
		scanOpts = append(scanOpts, scan.WithWorkers(s.workers))
	}
	s.scanner = scan.New(cfg, s.files, c, scanOpts...)

	scratch := snap.ScratchDir
	if scratch == "" {
		scratch = c.Dir()
	}
	s.archives = charafile.NewManager(s.files, scratch,
		charafile.WithLogger(s.logger.With(slog.String("component", "charafile"))),
		charafile.WithBus(s.bus))

	return s, nil
}

// openStore selects the index engine named by cfg.
func openStore(ctx context.Context, cfg config.Config) (index.Store, error) {
	switch cfg.Index {
	case config.IndexMemory:
		return index.NewMemoryStore(), nil
	case config.IndexPostgres:
		store, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open postgres index: %w", err)
		}
		return store, nil
	case config.IndexBolt, "":
		path := cfg.IndexPath
		if path == "" {
			// Next to the cache directory, never inside it: eviction
			// deletes any file in the cache root.
			path = filepath.Join(filepath.Dir(filepath.Clean(cfg.CacheDir)), config.DefaultIndexFile)
		}
		store, err := bolt.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open bolt index: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown index engine %q", cfg.Index)
	}
}

// Config returns the configuration store.
func (s *Service) Config() *config.Store { return s.config }

// Bus returns the event bus.
func (s *Service) Bus() *event.Bus { return s.bus }

// Index returns the index manager.
func (s *Service) Index() *index.Manager { return s.files }

// Cache returns the cache directory.
func (s *Service) Cache() *disk.Cache { return s.cache }

// Scanner returns the scanner.
func (s *Service) Scanner() *scan.Scanner { return s.scanner }

// Archives returns the archive manager.
func (s *Service) Archives() *charafile.Manager { return s.archives }

// Run starts the scanner and its download listener and blocks until ctx is
// done.
func (s *Service) Run(ctx context.Context) error {
	s.scanner.Start(ctx)
	listening := make(chan struct{})
	go func() {
		defer close(listening)
		s.scanner.Listen(ctx)
	}()

	<-ctx.Done()
	s.scanner.Stop()
	<-listening
	return nil
}

// Import stores r in the cache under hash and indexes it. Download
// notifications bracket the write so a running scan yields to it.
// Concurrent imports of one hash share a single write; the readers of
// the callers that joined an in-flight import are left unread.
func (s *Service) Import(ctx context.Context, hash string, r io.Reader) (index.Entry, error) {
	path, err := s.cache.Path(hash)
	if err != nil {
		return index.Entry{}, err
	}

	v, err, shared := s.imports.Do(hash, func() (any, error) {
		return s.importOnce(ctx, hash, path, r)
	})
	if err != nil {
		return index.Entry{}, err
	}
	if shared {
		s.logger.Debug("import shared", slog.String("hash", hash))
	}
	return v.(index.Entry), nil
}

func (s *Service) importOnce(ctx context.Context, hash, path string, r io.Reader) (index.Entry, error) {
	s.bus.Publish(event.Message{Kind: event.DownloadStarted, Path: path})
	defer s.bus.Publish(event.Message{Kind: event.DownloadFinished, Path: path})

	if _, err := s.cache.Put(ctx, hash, r); err != nil {
		return index.Entry{}, fmt.Errorf("import %s: %w", hash, err)
	}
	e, _, err := s.files.Ingest(ctx, path)
	if err != nil {
		return index.Entry{}, fmt.Errorf("index %s: %w", hash, err)
	}
	s.logger.Debug("imported file", slog.String("hash", hash), slog.Int64("size", e.Size))
	return e, nil
}

// ImportFile hashes the file at path and imports a copy into the cache.
func (s *Service) ImportFile(ctx context.Context, path string) (index.Entry, error) {
	hash, _, err := s.files.Hash(ctx, path)
	if err != nil {
		return index.Entry{}, err
	}
	f, err := os.Open(path) //nolint:gosec // caller-chosen import path
	if err != nil {
		return index.Entry{}, err
	}
	defer f.Close()
	return s.Import(ctx, hash, f)
}

// Close stops the scanner and closes an index opened by New.
func (s *Service) Close() error {
	s.scanner.Stop()
	if s.ownsStore {
		return s.store.Close()
	}
	return nil
}
