// Package config loads and persists the asset cache configuration.
//
// Values are resolved in three layers: built-in defaults, the YAML file, and
// ASSETCACHE_* environment variables. Only the file layer is written back by
// [Store.Save].
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// GiB is the capacity unit of MaxCacheGiB.
const GiB int64 = 1 << 30

// Index engines.
const (
	IndexBolt     = "bolt"
	IndexPostgres = "postgres"
	IndexMemory   = "memory"
)

// Defaults.
const (
	DefaultMaxCacheGiB         = 20
	DefaultScanIntervalSeconds = 30
	DefaultIndexEngine         = IndexBolt
	DefaultIndexFile           = "index.db"
)

// Config holds all persisted settings.
type Config struct {
	// CacheDir holds content-addressed cache files.
	CacheDir string `yaml:"cache_dir"`
	// SourceDir is the asset source tree scanned recursively.
	SourceDir string `yaml:"source_dir"`
	// ScratchDir receives files extracted from archives. Defaults to CacheDir.
	ScratchDir string `yaml:"scratch_dir,omitempty"`

	MaxCacheGiB         int  `yaml:"max_cache_gib"`
	ScanIntervalSeconds int  `yaml:"scan_interval_seconds"`
	ScanPaused          bool `yaml:"scan_paused"`
	InitialScanComplete bool `yaml:"initial_scan_complete"`

	// Index selects the content index engine (bolt, postgres, memory).
	Index string `yaml:"index"`
	// IndexPath is the bolt database file. Defaults to <CacheDir>/../index.db.
	IndexPath   string `yaml:"index_path,omitempty"`
	DatabaseURL string `yaml:"database_url,omitempty"`

	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	MetricsAddr string `yaml:"metrics_addr,omitempty"`
}

// Default returns a Config populated with defaults.
func Default() Config {
	return Config{
		MaxCacheGiB:         DefaultMaxCacheGiB,
		ScanIntervalSeconds: DefaultScanIntervalSeconds,
		Index:               DefaultIndexEngine,
		LogLevel:            "info",
		LogFormat:           "text",
	}
}

// Load reads the YAML file at path (a missing file is not an error),
// applies environment overrides and validates the result.
func Load(path string) (*Config, error) {
	file, err := loadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := file.resolve()
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// loadFile returns the defaults overlaid with the YAML file at path.
func loadFile(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path) //nolint:gosec // user-provided config path
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	return cfg, nil
}

// resolve returns a copy of c with environment overrides applied and
// validated. c itself is left untouched.
func (c Config) resolve() (Config, error) {
	if err := c.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks value ranges. Directory existence is checked by the
// scanner at pass time, not here.
func (c *Config) Validate() error {
	if c.MaxCacheGiB <= 0 {
		return fmt.Errorf("max_cache_gib must be > 0, got %d", c.MaxCacheGiB)
	}
	if c.ScanIntervalSeconds < 0 {
		return fmt.Errorf("scan_interval_seconds must be >= 0, got %d", c.ScanIntervalSeconds)
	}
	switch c.Index {
	case IndexBolt, IndexMemory:
	case IndexPostgres:
		if c.DatabaseURL == "" {
			return errors.New("database_url is required for the postgres index")
		}
	default:
		return fmt.Errorf("unknown index engine %q", c.Index)
	}
	return nil
}

// MaxCacheBytes returns the cache ceiling in bytes.
func (c *Config) MaxCacheBytes() int64 {
	return int64(c.MaxCacheGiB) * GiB
}

// ScanInterval returns the pause between scan passes.
func (c *Config) ScanInterval() time.Duration {
	return time.Duration(c.ScanIntervalSeconds) * time.Second
}

func (c *Config) applyEnv() error {
	c.CacheDir = envOr("ASSETCACHE_CACHE_DIR", c.CacheDir)
	c.SourceDir = envOr("ASSETCACHE_SOURCE_DIR", c.SourceDir)
	c.ScratchDir = envOr("ASSETCACHE_SCRATCH_DIR", c.ScratchDir)
	c.Index = envOr("ASSETCACHE_INDEX", c.Index)
	c.IndexPath = envOr("ASSETCACHE_INDEX_PATH", c.IndexPath)
	c.DatabaseURL = envOr("ASSETCACHE_DATABASE_URL", c.DatabaseURL)
	c.LogLevel = envOr("ASSETCACHE_LOG_LEVEL", c.LogLevel)
	c.LogFormat = envOr("ASSETCACHE_LOG_FORMAT", c.LogFormat)
	c.MetricsAddr = envOr("ASSETCACHE_METRICS_ADDR", c.MetricsAddr)

	var err error
	if c.MaxCacheGiB, err = envInt("ASSETCACHE_MAX_CACHE_GIB", c.MaxCacheGiB); err != nil {
		return err
	}
	if c.ScanIntervalSeconds, err = envInt("ASSETCACHE_SCAN_INTERVAL", c.ScanIntervalSeconds); err != nil {
		return err
	}
	if c.ScanPaused, err = envBool("ASSETCACHE_SCAN_PAUSED", c.ScanPaused); err != nil {
		return err
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func envBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}
