// Package charafile saves and applies character data archives.
//
// A [Manager] builds archives from a character's file set, resolving each
// content hash to a live file through the index, and applies archives by
// extracting their payload into scratch files for a downstream consumer.
// One operation runs at a time per Manager.
package charafile

import (
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/opencontainers/go-digest"

	"github.com/meigma/assetcache/archive"
	"github.com/meigma/assetcache/event"
	"github.com/meigma/assetcache/index"
)

// ErrBusy is returned when another Save, Load or Apply is in progress.
var ErrBusy = errors.New("charafile: another archive operation is in progress")

// FileReplacement is a file the character uses, identified by content hash,
// and the game paths it replaces.
type FileReplacement struct {
	Hash      string   `json:"hash"`
	GamePaths []string `json:"gamePaths"`
}

// FileSwap redirects game paths to another game path.
type FileSwap struct {
	GamePaths []string `json:"gamePaths"`
	Target    string   `json:"target"`
}

// CharacterData is the input to Save.
type CharacterData struct {
	Description      string            `json:"description"`
	AppearanceData   string            `json:"appearanceData,omitempty"`
	ScalingData      string            `json:"scalingData,omitempty"`
	ManipulationData string            `json:"manipulationData,omitempty"`
	Files            []FileReplacement `json:"files"`
	FileSwaps        []FileSwap        `json:"fileSwaps,omitempty"`
}

// SaveResult describes a written archive.
type SaveResult struct {
	Path string
	Size int64
	// Digest is the sha256 digest of the archive file.
	Digest digest.Digest
	// Files is the number of embedded file entries.
	Files int
	// Skipped lists hashes that resolved to no live file.
	Skipped []string
}

// Loaded is an archive header read for inspection.
type Loaded struct {
	Path           string
	Header         *archive.Header
	ExpectedLength int64
}

// Application is the result of applying an archive to a target.
type Application struct {
	Target string
	// Files maps game paths to extracted scratch files.
	Files map[string]string
	// Swaps maps game paths to redirect targets.
	Swaps map[string]string
	// Paths is Files merged with Swaps. Extracted files win on conflict.
	Paths            map[string]string
	ManipulationData string
	AppearanceData   string
	ScalingData      string
}

// Manager runs archive operations against the index.
type Manager struct {
	files      *index.Manager
	scratchDir string
	logger     *slog.Logger
	bus        *event.Bus

	working atomic.Bool
	counter atomic.Uint64
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithBus sets the bus that receives ArchiveFailed messages.
func WithBus(bus *event.Bus) Option {
	return func(m *Manager) {
		m.bus = bus
	}
}

// NewManager creates a Manager that extracts into scratchDir.
func NewManager(files *index.Manager, scratchDir string, opts ...Option) *Manager {
	m := &Manager{
		files:      files,
		scratchDir: scratchDir,
		logger:     slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Working reports whether an operation is in progress.
func (m *Manager) Working() bool {
	return m.working.Load()
}

func (m *Manager) acquire() (func(), error) {
	if !m.working.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	return func() { m.working.Store(false) }, nil
}
