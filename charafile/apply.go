package charafile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	units "github.com/docker/go-units"

	"github.com/meigma/assetcache/archive"
	"github.com/meigma/assetcache/event"
	"github.com/meigma/assetcache/internal/metrics"
)

const scratchInfix = "_mcdf_"

// Load reads the header of the archive at path and computes the payload
// length it declares.
func (m *Manager) Load(path string) (*Loaded, error) {
	release, err := m.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	header, err := archive.ReadHeader(path)
	metrics.RecordArchive("load", err)
	if err != nil {
		m.logger.Warn("load archive failed", slog.String("path", path), slog.Any("error", err))
		return nil, err
	}

	m.logger.Info("read archive", slog.String("path", path), slog.Int("version", int(header.Version)))
	for _, sw := range header.FileSwaps {
		for _, gp := range sw.GamePaths {
			m.logger.Debug("swap", slog.String("gamePath", gp), slog.String("target", sw.Target))
		}
	}
	for i, f := range header.Files {
		for _, gp := range f.GamePaths {
			m.logger.Debug("file",
				slog.Int("item", i+1),
				slog.String("gamePath", gp),
				slog.String("size", units.BytesSize(float64(f.Length))))
		}
	}
	expected := header.PayloadLength()
	m.logger.Info("expected length", slog.String("size", units.BytesSize(float64(expected))))

	return &Loaded{Path: path, Header: header, ExpectedLength: expected}, nil
}

// Apply extracts the archive described by loaded into scratch files for
// target and returns the resulting game path mapping. On failure an
// ArchiveFailed message is published; scratch files already written are
// left for CleanScratch.
func (m *Manager) Apply(ctx context.Context, target string, loaded *Loaded) (*Application, error) {
	if loaded == nil {
		return nil, errors.New("charafile: nothing loaded")
	}
	release, err := m.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	app, err := m.apply(ctx, target, loaded)
	metrics.RecordArchive("apply", err)
	if err != nil {
		m.logger.Warn("apply archive failed",
			slog.String("path", loaded.Path),
			slog.String("target", target),
			slog.Any("error", err))
		m.bus.Publish(event.Message{
			Kind:           event.ArchiveFailed,
			Path:           loaded.Path,
			Target:         target,
			ExpectedLength: loaded.ExpectedLength,
			Err:            err,
		})
		return nil, err
	}
	return app, nil
}

func (m *Manager) apply(ctx context.Context, target string, loaded *Loaded) (*Application, error) {
	if err := os.MkdirAll(m.scratchDir, 0o700); err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	f, err := os.Open(loaded.Path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	header, payload, err := archive.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", loaded.Path, err)
	}
	defer payload.Close()

	if got := header.PayloadLength(); got != loaded.ExpectedLength {
		m.logger.Warn("archive changed since load",
			slog.Int64("expected", loaded.ExpectedLength),
			slog.Int64("declared", got))
	}
	m.logger.Debug("applying archive",
		slog.String("target", target),
		slog.String("expected", units.BytesSize(float64(loaded.ExpectedLength))))

	prefix := sanitize(target)
	var read int64
	files, err := archive.ExtractPayload(ctx, header, payload, func(_ int, e archive.FileEntry) (string, error) {
		name := filepath.Join(m.scratchDir, prefix+scratchInfix+strconv.FormatUint(m.counter.Add(1)-1, 10)+".tmp")
		read += e.Length
		m.logger.Debug("extracting",
			slog.String("file", name),
			slog.String("hash", e.Hash),
			slog.String("size", units.BytesSize(float64(e.Length))))
		return name, nil
	})
	if err != nil {
		return nil, err
	}
	m.logger.Debug("extracted payload", slog.String("read", units.BytesSize(float64(read))))

	swaps := make(map[string]string)
	for _, sw := range header.FileSwaps {
		for _, gp := range sw.GamePaths {
			swaps[gp] = sw.Target
		}
	}
	paths := make(map[string]string, len(files)+len(swaps))
	for gp, t := range swaps {
		paths[gp] = t
	}
	for gp, file := range files {
		paths[gp] = file
	}

	return &Application{
		Target:           target,
		Files:            files,
		Swaps:            swaps,
		Paths:            paths,
		ManipulationData: header.ManipulationData,
		AppearanceData:   header.AppearanceData,
		ScalingData:      header.ScalingData,
	}, nil
}

// CleanScratch deletes every scratch file this manager's naming scheme can
// produce and returns how many were removed.
func (m *Manager) CleanScratch() (int, error) {
	matches, err := filepath.Glob(filepath.Join(m.scratchDir, "*"+scratchInfix+"*.tmp"))
	if err != nil {
		return 0, err
	}
	removed := 0
	var errs []error
	for _, path := range matches {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}

// sanitize makes target safe to use as a file name prefix.
func sanitize(target string) string {
	s := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.':
			return r
		default:
			return '_'
		}
	}, target)
	if strings.Trim(s, "._") == "" {
		return "target"
	}
	return s
}
