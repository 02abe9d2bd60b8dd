package config

import (
	"fmt"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/meigma/assetcache/internal/fsutil"
)

// Store guards a Config shared between components and persists it.
// It satisfies scan.Settings.
//
// The store keeps the file layer apart from the effective configuration so
// environment overrides (database credentials among them) never reach disk.
type Store struct {
	mu   sync.RWMutex
	path string
	file Config
	cfg  Config
}

// NewStore wraps cfg as both the file layer and the effective
// configuration. An empty path makes Save a no-op.
func NewStore(path string, cfg Config) *Store {
	return &Store{path: path, file: cfg, cfg: cfg}
}

// Open loads the config at path and wraps it in a Store.
func Open(path string) (*Store, error) {
	file, err := loadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := file.resolve()
	if err != nil {
		return nil, err
	}
	return &Store{path: path, file: file, cfg: cfg}, nil
}

// Snapshot returns a copy of the effective configuration.
func (s *Store) Snapshot() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Update applies fn to both the file layer and the effective
// configuration, then saves the file layer.
func (s *Store) Update(fn func(*Config)) error {
	s.mu.Lock()
	fn(&s.file)
	fn(&s.cfg)
	file := s.file
	s.mu.Unlock()
	return s.save(file)
}

// Save persists the file layer.
func (s *Store) Save() error {
	s.mu.RLock()
	file := s.file
	s.mu.RUnlock()
	return s.save(file)
}

func (s *Store) save(file Config) error {
	if s.path == "" {
		return nil
	}
	data, err := yaml.Marshal(&file)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := fsutil.WriteFileAtomic(s.path, data, 0o600); err != nil {
		return fmt.Errorf("write config %s: %w", s.path, err)
	}
	return nil
}

func (s *Store) SourceDir() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.SourceDir
}

func (s *Store) CacheDir() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.CacheDir
}

func (s *Store) MaxCacheBytes() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.MaxCacheBytes()
}

func (s *Store) ScanInterval() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.ScanInterval()
}

func (s *Store) ScanPaused() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.ScanPaused
}

func (s *Store) InitialScanComplete() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.InitialScanComplete
}

// MarkInitialScanComplete sets and persists the initial scan flag. It is a
// no-op once the flag is set.
func (s *Store) MarkInitialScanComplete() error {
	s.mu.Lock()
	if s.cfg.InitialScanComplete {
		s.mu.Unlock()
		return nil
	}
	s.cfg.InitialScanComplete = true
	s.file.InitialScanComplete = true
	file := s.file
	s.mu.Unlock()
	return s.save(file)
}
