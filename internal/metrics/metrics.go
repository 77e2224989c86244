// SPDX-License-Identifier: MIT

// Package metrics exposes the Prometheus instrumentation of the airwave
// daemon. Labels stay low-cardinality: categories, reasons, strata — never
// signatures or ids.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MatchDecisionsTotal counts match outcomes by category and reason.
	MatchDecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "airwave_match_decisions_total",
		Help: "Match decisions by category and reason.",
	}, []string{"category", "reason"})

	// LogsIngestedTotal counts accepted broadcast-log plays by station.
	LogsIngestedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "airwave_logs_ingested_total",
		Help: "Broadcast log plays accepted, by station.",
	}, []string{"station"})

	// QueueDepth tracks active discovery-queue items.
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "airwave_queue_depth",
		Help: "Active (non-skipped) discovery queue items.",
	})

	// VerificationsTotal counts operator verification actions.
	VerificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "airwave_verifications_total",
		Help: "Operator verification actions by type.",
	}, []string{"action"})

	// ScanFilesTotal counts scanned files by outcome.
	ScanFilesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "airwave_scan_files_total",
		Help: "Scanned library files by outcome.",
	}, []string{"outcome"})

	// ScanDuration observes full scan wall time.
	ScanDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "airwave_scan_duration_seconds",
		Help:    "Wall time of complete library scans.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	})

	// VectorSearchDuration observes brute-force vector search latency.
	VectorSearchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "airwave_vector_search_duration_seconds",
		Help:    "Latency of vector index searches.",
		Buckets: prometheus.DefBuckets,
	})

	// VectorIndexSize tracks the number of indexed recordings.
	VectorIndexSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "airwave_vector_index_size",
		Help: "Recordings currently held in the vector index.",
	})

	// ResolveTotal counts playback resolutions by source.
	ResolveTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "airwave_resolve_total",
		Help: "Playback resolutions by winning source.",
	}, []string{"source"})

	// HTTPRequestDuration observes API latency by route and status class.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "airwave_http_request_duration_seconds",
		Help:    "API request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "method", "status"})

	// TasksTotal counts finished background tasks by kind and state.
	TasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "airwave_tasks_total",
		Help: "Finished background tasks by kind and terminal state.",
	}, []string{"kind", "state"})
)
