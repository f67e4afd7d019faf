package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "workspace_audit"
)

var (
	queryDurationBuckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30}

	// Query Metrics
	QueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "query_duration_seconds",
		Help:      "Time taken to merge, filter and sort assets for one query.",
		Buckets:   queryDurationBuckets,
	}, []string{"operation"})

	SourceFetchFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "source_fetch_failures_total",
		Help:      "Count of source fetches left out of a merged query.",
	}, []string{"source"})

	RecordsSkippedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "records_skipped_total",
		Help:      "Count of malformed raw records skipped during normalization.",
	}, []string{"source"})

	AssetsReturned = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "assets_returned",
		Help:      "Number of assets the last query merged from each source.",
	}, []string{"source"})

	// Action Metrics
	ActionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "actions_total",
		Help:      "Count of remediation actions by outcome.",
	}, []string{"source", "action", "status"})

	// Scan Metrics
	ScanPagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "scan_pages_total",
		Help:      "Count of discovery pages fetched.",
	}, []string{"platform", "status"})

	ScanProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "scan_processed_total",
		Help:      "Number of upstream items examined by discovery scans.",
	}, []string{"platform"})

	ScanDiscoveredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "scan_discovered_total",
		Help:      "Number of new records created by discovery scans.",
	}, []string{"platform"})

	ScanLastFinishedTimestamp = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "scan_last_finished_timestamp_seconds",
		Help:      "Unix timestamp of the last scan that left the running phase.",
	}, []string{"platform", "phase"})
)

// Status label values.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)
