package scan

import (
	"context"
	"log/slog"
	"time"

	"github.com/meigma/assetcache/event"
	"github.com/meigma/assetcache/internal/metrics"
)

// Start launches the supervising loop under ctx. Calling Start again
// cancels the running loop and starts a new one.
func (s *Scanner) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.parent = ctx
	if s.suspends > 0 {
		s.resumePending = true
		return
	}
	s.launchLocked(false)
}

// RequestScan cancels any running pass and starts a new loop that scans
// immediately. A forced scan ignores the paused setting. While suspended
// the request is deferred until Resume.
func (s *Scanner) RequestScan(forced bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.parent == nil {
		s.logger.Debug("scan requested before start")
		return
	}
	if s.suspends > 0 {
		s.resumePending = true
		return
	}
	s.launchLocked(forced)
}

// Suspend cancels the running loop for the duration of a large transfer.
// Suspensions nest; the loop restarts with a forced scan once every
// Suspend has been matched by Resume.
func (s *Scanner) Suspend() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.suspends++
	if s.cancel == nil {
		return
	}
	s.logger.Debug("suspending scanner")
	s.cancel()
	s.cancel = nil
	s.gen.Add(1)
	s.clearProgress()
	s.resumePending = true
}

// Resume ends one Suspend. The last Resume re-queues a forced scan if one
// is owed.
func (s *Scanner) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.suspends == 0 {
		return
	}
	s.suspends--
	if s.suspends > 0 || !s.resumePending || s.parent == nil {
		return
	}
	s.resumePending = false
	s.logger.Debug("resuming scanner")
	s.launchLocked(true)
}

// Stop cancels the loop and waits for it to exit.
func (s *Scanner) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.gen.Add(1)
	s.clearProgress()
	s.parent = nil
	s.resumePending = false
	done := s.done
	s.done = nil
	s.mu.Unlock()

	if done != nil {
		<-done
	}
}

// Listen suspends and resumes the scanner on download notifications from
// the bus until ctx is done.
func (s *Scanner) Listen(ctx context.Context) {
	if s.bus == nil {
		<-ctx.Done()
		return
	}
	ch, unsubscribe := s.bus.Subscribe(0)
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			switch msg.Kind {
			case event.DownloadStarted:
				s.Suspend()
			case event.DownloadFinished:
				s.Resume()
			default:
			}
		}
	}
}

// launchLocked replaces the current loop. The new loop waits for the
// previous one to drain its in-flight tasks before scanning.
func (s *Scanner) launchLocked(forced bool) {
	if s.cancel != nil {
		s.cancel()
	}
	gen := s.gen.Add(1)
	s.clearProgress()

	ctx, cancel := context.WithCancel(s.parent)
	done := make(chan struct{})
	prev := s.done
	s.cancel, s.done = cancel, done

	go s.loop(ctx, gen, forced, prev, done)
}

func (s *Scanner) loop(ctx context.Context, gen uint64, forced bool, prev <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	if prev != nil {
		select {
		case <-prev:
		case <-ctx.Done():
			return
		}
	}

	for ctx.Err() == nil {
		if s.enforceCeiling() {
			forced = true
		}
		if forced || !s.settings.ScanPaused() {
			forced = false
			res, err := s.runPass(ctx, gen)
			switch {
			case err == nil:
			case isCanceled(err):
				s.logger.Debug("scan pass canceled",
					slog.Int("validated", res.Validated),
					slog.Int("added", res.Added))
			default:
				s.logger.Warn("scan pass failed", slog.Any("error", err))
			}
		}
		if !s.countdown(ctx, gen) {
			return
		}
	}
}

// enforceCeiling recomputes the cache size and evicts down to the ceiling.
// It reports whether anything was evicted.
func (s *Scanner) enforceCeiling() bool {
	ceiling := s.settings.MaxCacheBytes()
	if ceiling <= 0 {
		size, err := s.cache.SizeBytes()
		if err != nil {
			s.logger.Warn("compute cache size", slog.Any("error", err))
			return false
		}
		s.setCacheSize(size)
		return false
	}

	res, err := s.cache.Evict(ceiling)
	if err != nil {
		s.logger.Warn("evict cache", slog.Any("error", err))
		return false
	}
	s.setCacheSize(res.After)
	if !res.Evicted() {
		return false
	}
	metrics.AddEvicted(res.Freed)
	s.logger.Info("evicted cache files",
		slog.Int("files", len(res.Deleted)),
		slog.Int64("freed", res.Freed),
		slog.Int64("size", res.After),
		slog.Int64("ceiling", ceiling))
	return true
}

// countdown sleeps for the scan interval in tick steps, publishing the
// remaining time. The interval is at least one tick. It returns false if
// ctx ends first.
func (s *Scanner) countdown(ctx context.Context, gen uint64) bool {
	remaining := max(s.settings.ScanInterval(), s.tick)
	s.setNextScan(gen, remaining)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	for remaining > 0 {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			remaining = max(remaining-s.tick, 0)
			s.setNextScan(gen, remaining)
		}
	}
	return ctx.Err() == nil
}
