package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Label value constants to prevent typos
const (
	// Decode results
	ResultSuccess    = "success"
	ResultParseError = "parse_error"

	// Cache tick outcomes per device
	OutcomeRefreshed = "refreshed"
	OutcomeNoNewData = "no_new_data"
	OutcomeNoEntry   = "no_entry"
	OutcomeNoWindow  = "no_window"
	OutcomeError     = "error"

	// Archive triggers
	TriggerUpload  = "upload"
	TriggerRebuild = "rebuild"

	// HTTP endpoints
	EndpointUpload        = "upload"
	EndpointUploadText    = "upload_text"
	EndpointTimingMark    = "timing_mark"
	EndpointLiveTrack     = "live_track"
	EndpointArchiveTrack  = "archive_track"
	EndpointDevicePreview = "device_preview"
	EndpointManualTimes   = "manual_times"
	EndpointRegistry      = "registry"
	EndpointHealth        = "health"
)

// HTTP Metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"endpoint", "status_code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"endpoint", "status_code"},
	)
)

// Ingest and decoder metrics
var (
	RawPayloadsIngestedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "raw_payloads_ingested_total",
			Help: "Total number of raw telemetry payloads accepted",
		},
	)

	RawPayloadBacklog = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "raw_payload_backlog",
			Help: "Number of raw payloads awaiting decode",
		},
	)

	RawPayloadsDecodedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "raw_payloads_decoded_total",
			Help: "Total number of raw payloads decoded with outcome",
		},
		[]string{"result"},
	)

	PositionsInsertedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "positions_inserted_total",
			Help: "Total number of positions stored",
		},
	)

	PositionsDuplicatesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "positions_duplicates_total",
			Help: "Total number of duplicate positions silently skipped",
		},
	)

	DecoderBatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "decoder_batch_duration_seconds",
			Help:    "Time spent decoding one batch of raw payloads",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
		},
	)

	DecoderActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "decoder_active",
			Help: "Whether the fix decoder is currently active (1) or not (0)",
		},
	)
)

// Live cache worker metrics
var (
	CacheTickOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_tick_outcomes_total",
			Help: "Per-device live cache refresh attempts by outcome",
		},
		[]string{"outcome"},
	)

	CacheRebuildDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cache_rebuild_duration_seconds",
			Help:    "Time spent rebuilding one device's live track",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
	)

	CacheWorkerActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cache_worker_active",
			Help: "Whether the live cache worker is currently active (1) or not (0)",
		},
	)
)

// Archive metrics
var (
	ArchiveRowsWrittenTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "archive_rows_written_total",
			Help: "Total number of archive snapshots written by trigger",
		},
		[]string{"trigger"},
	)

	ArchiveEntriesSkippedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "archive_entries_skipped_total",
			Help: "Total number of entries skipped during archival (already archived or empty window)",
		},
	)
)
