package charafile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/opencontainers/go-digest"

	"github.com/meigma/assetcache/archive"
	"github.com/meigma/assetcache/index"
	"github.com/meigma/assetcache/internal/metrics"
)

// Save writes data as an archive at path. The archive is written to
// path+".tmp" and renamed into place only after it is fully flushed; on
// failure the temp file is removed and path is untouched. Hashes with no
// live file are skipped and reported in the result.
func (m *Manager) Save(ctx context.Context, path string, data CharacterData) (SaveResult, error) {
	release, err := m.acquire()
	if err != nil {
		return SaveResult{}, err
	}
	defer release()

	res, err := m.save(ctx, path, data)
	metrics.RecordArchive("save", err)
	if err != nil {
		m.logger.Error("save archive failed", slog.String("path", path), slog.Any("error", err))
		return SaveResult{}, err
	}
	m.logger.Info("saved archive",
		slog.String("path", res.Path),
		slog.Int("files", res.Files),
		slog.Int64("size", res.Size),
		slog.String("digest", res.Digest.String()))
	return res, nil
}

func (m *Manager) save(ctx context.Context, path string, data CharacterData) (SaveResult, error) {
	header, sources, skipped, err := m.buildHeader(ctx, data)
	if err != nil {
		return SaveResult{}, err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return SaveResult{}, fmt.Errorf("create archive dir: %w", err)
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644) //nolint:gosec // caller-chosen archive path
	if err != nil {
		return SaveResult{}, fmt.Errorf("create %s: %w", tmp, err)
	}
	cleanup := func() {
		_ = f.Close()
		_ = os.Remove(tmp)
	}

	digester := digest.SHA256.Digester()
	counter := &countingWriter{w: io.MultiWriter(f, digester.Hash())}
	open := func(_ context.Context, e archive.FileEntry) (io.ReadCloser, error) {
		src := sources[e.Hash]
		m.logger.Debug("adding file to archive",
			slog.String("hash", e.Hash),
			slog.String("file", src),
			slog.Any("gamePaths", e.GamePaths))
		return os.Open(src) //nolint:gosec // path resolved through the index
	}

	if err := archive.Encode(ctx, counter, header, open); err != nil {
		cleanup()
		return SaveResult{}, fmt.Errorf("encode archive: %w", err)
	}
	if err := f.Sync(); err != nil {
		cleanup()
		return SaveResult{}, fmt.Errorf("sync %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return SaveResult{}, fmt.Errorf("close %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return SaveResult{}, fmt.Errorf("replace %s: %w", path, err)
	}

	return SaveResult{
		Path:    path,
		Size:    counter.n,
		Digest:  digester.Digest(),
		Files:   len(header.Files),
		Skipped: skipped,
	}, nil
}

// buildHeader resolves every hash, collapsing game paths that share content
// into one entry. It returns the header, the resolved file per hash and the
// skipped hashes.
func (m *Manager) buildHeader(ctx context.Context, data CharacterData) (*archive.Header, map[string]string, []string, error) {
	header := &archive.Header{
		Version:          archive.CurrentVersion,
		Description:      data.Description,
		AppearanceData:   data.AppearanceData,
		ScalingData:      data.ScalingData,
		ManipulationData: data.ManipulationData,
	}
	sources := make(map[string]string)
	positions := make(map[string]int)
	var skipped []string

	for _, fr := range data.Files {
		hash := strings.ToLower(fr.Hash)
		if i, ok := positions[hash]; ok {
			header.Files[i].GamePaths = appendUnique(header.Files[i].GamePaths, fr.GamePaths...)
			continue
		}
		if slices.Contains(skipped, hash) {
			continue
		}

		entry, err := m.files.Resolve(ctx, hash)
		if errors.Is(err, index.ErrNotFound) || errors.Is(err, index.ErrInvalidHash) {
			m.logger.Warn("skipping unresolved file", slog.String("hash", hash), slog.Any("error", err))
			skipped = append(skipped, hash)
			continue
		}
		if err != nil {
			return nil, nil, nil, fmt.Errorf("resolve %s: %w", hash, err)
		}

		positions[hash] = len(header.Files)
		sources[hash] = entry.Path
		header.Files = append(header.Files, archive.FileEntry{
			Hash:      hash,
			Length:    entry.Size,
			GamePaths: appendUnique(nil, fr.GamePaths...),
		})
	}

	for _, sw := range data.FileSwaps {
		header.FileSwaps = append(header.FileSwaps, archive.FileSwapEntry{
			GamePaths: slices.Clone(sw.GamePaths),
			Target:    sw.Target,
		})
	}
	return header, sources, skipped, nil
}

func appendUnique(dst []string, values ...string) []string {
	for _, v := range values {
		if !slices.Contains(dst, v) {
			dst = append(dst, v)
		}
	}
	return dst
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
