package scan

import (
	"fmt"
	"time"

	"github.com/meigma/assetcache/internal/metrics"
)

// Progress is a point-in-time view of the scanner.
type Progress struct {
	TotalFiles     int64
	ProcessedFiles int64
	CacheSize      int64
	NextScan       time.Duration
	Running        bool
}

// NextScanString formats NextScan as mm:ss.
func (p Progress) NextScanString() string {
	secs := max(int64(p.NextScan/time.Second), 0)
	return fmt.Sprintf("%02d:%02d", secs/60, secs%60)
}

// Progress returns the current counters. Running is true whenever either
// file counter is nonzero.
func (s *Scanner) Progress() Progress {
	total, processed := s.totalFiles.Load(), s.processed.Load()
	return Progress{
		TotalFiles:     total,
		ProcessedFiles: processed,
		CacheSize:      s.cacheSize.Load(),
		NextScan:       time.Duration(s.nextScan.Load()),
		Running:        total > 0 || processed > 0,
	}
}

func (s *Scanner) current(gen uint64) bool {
	return s.gen.Load() == gen
}

func (s *Scanner) setTotal(gen uint64, n int64) {
	if !s.current(gen) {
		return
	}
	s.totalFiles.Store(n)
	s.processed.Store(0)
	metrics.SetScanProgress(n, 0)
}

func (s *Scanner) advance(gen uint64) {
	if !s.current(gen) {
		return
	}
	n := s.processed.Add(1)
	metrics.SetScanProgress(s.totalFiles.Load(), n)
}

func (s *Scanner) resetProgress(gen uint64) {
	if !s.current(gen) {
		return
	}
	s.clearProgress()
}

func (s *Scanner) clearProgress() {
	s.totalFiles.Store(0)
	s.processed.Store(0)
	metrics.SetScanProgress(0, 0)
}

func (s *Scanner) setNextScan(gen uint64, d time.Duration) {
	if !s.current(gen) {
		return
	}
	s.nextScan.Store(int64(d))
	metrics.SetNextScan(int64(d / time.Second))
}

func (s *Scanner) setCacheSize(n int64) {
	s.cacheSize.Store(n)
	metrics.SetCacheSize(n)
}
