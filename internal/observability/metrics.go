package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	lookupRequestsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rowlink_lookup_requests_total",
			Help: "Total number of completed lookup calls.",
		},
	)
	lookupRowsEmittedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rowlink_lookup_rows_emitted_total",
			Help: "Total number of rows emitted by lookup calls.",
		},
	)
	lookupDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rowlink_lookup_duration_seconds",
			Help:    "Lookup call latency, including retries and backoff.",
			Buckets: prometheus.DefBuckets,
		},
	)
	lookupCacheHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rowlink_lookup_cache_hits_total",
			Help: "Total number of lookups answered from the cache.",
		},
	)
	lookupCacheMissesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rowlink_lookup_cache_misses_total",
			Help: "Total number of lookups that missed the cache.",
		},
	)
	lookupScanAttemptsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rowlink_lookup_scan_attempts_total",
			Help: "Total number of scan attempts, including retries.",
		},
	)
	lookupScanFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rowlink_lookup_scan_failures_total",
			Help: "Total number of failed scan attempts.",
		},
	)
	lookupBackoffSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rowlink_lookup_backoff_seconds",
			Help:    "Backoff sleep durations between retry attempts.",
			Buckets: []float64{0.5, 1, 2, 3, 5, 8, 13, 21},
		},
	)
	writerFlushesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rowlink_writer_flushes_total",
			Help: "Total number of mutation session flushes.",
		},
	)
	writerRowErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rowlink_writer_row_errors_total",
			Help: "Total number of per-row mutation errors surfaced by flushes.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		lookupRequestsTotal,
		lookupRowsEmittedTotal,
		lookupDurationSeconds,
		lookupCacheHitsTotal,
		lookupCacheMissesTotal,
		lookupScanAttemptsTotal,
		lookupScanFailuresTotal,
		lookupBackoffSeconds,
		writerFlushesTotal,
		writerRowErrorsTotal,
	)
}

func ObserveLookup(rows int, elapsed time.Duration) {
	lookupRequestsTotal.Inc()
	if rows > 0 {
		lookupRowsEmittedTotal.Add(float64(rows))
	}
	lookupDurationSeconds.Observe(elapsed.Seconds())
}

func ObserveCacheHit() {
	lookupCacheHitsTotal.Inc()
}

func ObserveCacheMiss() {
	lookupCacheMissesTotal.Inc()
}

func ObserveScanAttempt() {
	lookupScanAttemptsTotal.Inc()
}

func ObserveScanFailure() {
	lookupScanFailuresTotal.Inc()
}

func ObserveBackoff(d time.Duration) {
	lookupBackoffSeconds.Observe(d.Seconds())
}

func ObserveWriterFlush(rowErrors int) {
	writerFlushesTotal.Inc()
	if rowErrors > 0 {
		writerRowErrorsTotal.Add(float64(rowErrors))
	}
}
