// Package metrics provides Prometheus metrics for the asset cache.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Scanner progress
	scanFilesTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "assetcache_scan_files_total",
			Help: "Files discovered by the running scan pass",
		},
	)

	scanFilesProcessed = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "assetcache_scan_files_processed",
			Help: "Files validated or ingested by the running scan pass",
		},
	)

	scanDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "assetcache_scan_duration_seconds",
			Help:    "Duration of scan passes",
			Buckets: []float64{.1, .5, 1, 5, 15, 60, 300, 900},
		},
		[]string{"status"},
	)

	nextScanSeconds = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "assetcache_next_scan_seconds",
			Help: "Seconds until the next scan pass starts",
		},
	)

	// Index reconciliation
	indexRemovedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "assetcache_index_removed_total",
			Help: "Index rows removed after failed validation",
		},
	)

	indexAddedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "assetcache_index_added_total",
			Help: "Index rows created by ingestion",
		},
	)

	// Cache directory
	cacheSizeBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "assetcache_cache_size_bytes",
			Help: "Total size of the cache directory",
		},
	)

	evictedBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "assetcache_evicted_bytes_total",
			Help: "Bytes deleted from the cache directory by eviction",
		},
	)

	// Archives
	archiveOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assetcache_archive_operations_total",
			Help: "Archive save/load/apply operations",
		},
		[]string{"op", "status"},
	)

	// Events
	eventsDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "assetcache_events_dropped_total",
			Help: "Bus messages dropped for slow subscribers",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetScanProgress records the progress counters of the running pass.
func SetScanProgress(total, processed int64) {
	scanFilesTotal.Set(float64(total))
	scanFilesProcessed.Set(float64(processed))
}

// ObserveScan records the duration of a finished pass.
func ObserveScan(status string, seconds float64) {
	scanDuration.WithLabelValues(status).Observe(seconds)
}

// SetNextScan records the countdown to the next pass.
func SetNextScan(seconds int64) {
	nextScanSeconds.Set(float64(seconds))
}

// AddIndexChanges records rows removed and added by a pass.
func AddIndexChanges(removed, added int) {
	indexRemovedTotal.Add(float64(removed))
	indexAddedTotal.Add(float64(added))
}

// SetCacheSize records the cache directory size.
func SetCacheSize(bytes int64) {
	cacheSizeBytes.Set(float64(bytes))
}

// AddEvicted records bytes freed by eviction.
func AddEvicted(bytes int64) {
	evictedBytesTotal.Add(float64(bytes))
}

// RecordArchive records an archive operation outcome.
func RecordArchive(op string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	archiveOperationsTotal.WithLabelValues(op, status).Inc()
}

// RecordDroppedEvent records a message dropped by the event bus.
func RecordDroppedEvent() {
	eventsDroppedTotal.Inc()
}
