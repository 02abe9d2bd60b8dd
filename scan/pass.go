package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/meigma/assetcache/event"
	"github.com/meigma/assetcache/index"
	"github.com/meigma/assetcache/internal/metrics"
)

// PassResult summarises one scan pass. After a cancelled pass it reflects
// the work completed before cancellation.
type PassResult struct {
	TotalFiles int
	Validated  int
	Removed    int
	Added      int
	Secondary  int
	Failed     int
	Duration   time.Duration
}

// RunPass runs one reconciliation pass synchronously.
func (s *Scanner) RunPass(ctx context.Context) (PassResult, error) {
	return s.runPass(ctx, s.gen.Load())
}

func (s *Scanner) runPass(ctx context.Context, gen uint64) (PassResult, error) {
	start := time.Now()
	res, err := s.reconcile(ctx, gen)
	res.Duration = time.Since(start)

	switch {
	case err == nil:
		metrics.ObserveScan("ok", res.Duration.Seconds())
	case isCanceled(err):
		metrics.ObserveScan("canceled", res.Duration.Seconds())
	default:
		metrics.ObserveScan("error", res.Duration.Seconds())
	}
	metrics.AddIndexChanges(res.Removed, res.Added)
	return res, err
}

//nolint:gocognit // the pass is a fixed sequence of phases
func (s *Scanner) reconcile(ctx context.Context, gen uint64) (PassResult, error) {
	var res PassResult

	sourceDir, cacheDir := s.settings.SourceDir(), s.settings.CacheDir()
	if !dirExists(sourceDir) {
		s.logger.Warn("source directory is not set or does not exist", slog.String("dir", sourceDir))
		return res, fmt.Errorf("%w: source %q", ErrNotConfigured, sourceDir)
	}
	if !dirExists(cacheDir) {
		s.logger.Warn("cache directory is not set or does not exist", slog.String("dir", cacheDir))
		return res, fmt.Errorf("%w: cache %q", ErrNotConfigured, cacheDir)
	}

	snap, err := s.buildSnapshot(ctx, sourceDir, cacheDir)
	if err != nil {
		return res, fmt.Errorf("enumerate files: %w", err)
	}
	res.TotalFiles = snap.len()
	s.setTotal(gen, int64(snap.len()))
	s.logger.Debug("scan snapshot built",
		slog.String("source", sourceDir),
		slog.String("cache", cacheDir),
		slog.Int("files", snap.len()))

	// Validate existing rows. Removals are applied only after every
	// validation has settled so ingestion never races a stale row.
	var (
		mu       sync.Mutex
		removals []index.Key
	)
	validated := 0
	workers := newPool(s.workers)
	var dispatchErr error
	for e, err := range s.files.Store().All(ctx) {
		if err != nil {
			dispatchErr = fmt.Errorf("read index: %w", err)
			break
		}
		if err := workers.Go(ctx, func() {
			defer s.advance(gen)
			live, err := s.files.Validate(ctx, e)
			if err == nil {
				snap.markSeen(live.Path)
				mu.Lock()
				validated++
				mu.Unlock()
				return
			}
			if isCanceled(err) && ctx.Err() != nil {
				return
			}
			s.logger.Debug("index entry failed validation",
				slog.String("path", e.Path),
				slog.String("hash", e.Hash),
				slog.Any("error", err))
			mu.Lock()
			removals = append(removals, e.Key())
			mu.Unlock()
		}); err != nil {
			dispatchErr = err
			break
		}
	}
	workers.Wait()
	res.Validated = validated
	if dispatchErr != nil {
		return res, dispatchErr
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}

	if len(removals) > 0 {
		if err := s.files.Remove(ctx, removals); err != nil {
			s.logger.Warn("remove stale index entries",
				slog.Int("count", len(removals)),
				slog.Any("error", err))
		} else {
			res.Removed = len(removals)
			s.logger.Debug("removed stale index entries", slog.Int("count", len(removals)))
		}
	}

	// Ingest files the index does not know about.
	var added, secondary, failed int
	ingest := newPool(s.workers)
	for _, path := range snap.unseen() {
		if err := ingest.Go(ctx, func() {
			defer s.advance(gen)
			e, isSecondary, err := s.files.Ingest(ctx, path)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				added++
				if isSecondary {
					secondary++
					s.logger.Debug("recorded secondary entry",
						slog.String("hash", e.Hash),
						slog.String("path", e.Path))
				}
			case isCanceled(err) && ctx.Err() != nil:
			case errors.Is(err, index.ErrHashMismatch):
				failed++
				s.logger.Warn("cache file content does not match its name",
					slog.String("path", path),
					slog.Any("error", err))
			default:
				failed++
				s.logger.Warn("failed adding file",
					slog.String("path", path),
					slog.Any("error", err))
			}
		}); err != nil {
			dispatchErr = err
			break
		}
	}
	ingest.Wait()
	res.Added, res.Secondary, res.Failed = added, secondary, failed
	if dispatchErr != nil {
		return res, dispatchErr
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}

	s.resetProgress(gen)
	if !s.settings.InitialScanComplete() {
		if err := s.settings.MarkInitialScanComplete(); err != nil {
			s.logger.Warn("persist initial scan flag", slog.Any("error", err))
		}
	}

	s.bus.Publish(event.Message{
		Kind:       event.ScanCompleted,
		TotalFiles: res.TotalFiles,
		Removed:    res.Removed,
		Added:      res.Added,
	})
	s.logger.Info("scan complete",
		slog.Int("files", res.TotalFiles),
		slog.Int("validated", res.Validated),
		slog.Int("removed", res.Removed),
		slog.Int("added", res.Added),
		slog.Int("failed", res.Failed))
	return res, nil
}
