package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the study aggregation service.
// Metrics are organized by subsystem: runs, searches, records, sources,
// validation, full text, and exports. All counters and histograms are
// registered via promauto for automatic registration with the default
// Prometheus registry.
type Metrics struct {
	// RunsStarted counts the total number of aggregation runs initiated.
	RunsStarted prometheus.Counter

	// RunsCompleted counts the total number of runs that finished successfully.
	RunsCompleted prometheus.Counter

	// RunsFailed counts the total number of runs that ended in failure.
	RunsFailed prometheus.Counter

	// RunDuration observes the end-to-end duration of runs in seconds.
	RunDuration prometheus.Histogram

	// RunPapers observes the number of merged entities produced per run.
	RunPapers prometheus.Histogram

	// RunQualityScore observes the mean quality score (0-100) per run.
	RunQualityScore prometheus.Histogram

	// RunsBelowThreshold counts runs whose mean quality score fell under
	// the advisory threshold.
	RunsBelowThreshold prometheus.Counter

	// SearchesStarted counts searches initiated, labeled by record source.
	SearchesStarted *prometheus.CounterVec

	// SearchesCompleted counts successful searches, labeled by record source.
	SearchesCompleted *prometheus.CounterVec

	// SearchesFailed counts failed searches, labeled by record source.
	SearchesFailed *prometheus.CounterVec

	// SearchDuration observes search duration in seconds, labeled by record source.
	SearchDuration *prometheus.HistogramVec

	// RecordsPerSearch observes the distribution of records returned per search, labeled by source.
	RecordsPerSearch *prometheus.HistogramVec

	// RecordsIngested counts raw records that produced a usable draft, labeled by source.
	RecordsIngested *prometheus.CounterVec

	// ParseFailures counts raw records rejected during ingestion, labeled by source.
	ParseFailures *prometheus.CounterVec

	// DuplicatesMerged counts records folded into an existing entity during deduplication.
	DuplicatesMerged prometheus.Counter

	// SourceRequestsTotal counts HTTP requests to source APIs, labeled by source and endpoint.
	SourceRequestsTotal *prometheus.CounterVec

	// SourceRequestsFailed counts failed HTTP requests to source APIs, labeled by source, endpoint, and error type.
	SourceRequestsFailed *prometheus.CounterVec

	// SourceRequestDuration observes HTTP request duration to source APIs in seconds.
	SourceRequestDuration *prometheus.HistogramVec

	// SourceRateLimited counts rate-limited responses from source APIs, labeled by source.
	SourceRateLimited *prometheus.CounterVec

	// ValidationIssues counts validation check failures, labeled by issue code.
	ValidationIssues *prometheus.CounterVec

	// FulltextDownloads counts full text downloads attempted.
	FulltextDownloads prometheus.Counter

	// FulltextDownloadsFailed counts full text downloads that failed.
	FulltextDownloadsFailed prometheus.Counter

	// FulltextDownloadDuration observes full text download duration in seconds.
	FulltextDownloadDuration prometheus.Histogram

	// ExportsTotal counts report exports served, labeled by format.
	ExportsTotal *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all metrics initialized.
// The namespace is used as a prefix for all metric names.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		// Runs
		RunsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_started_total",
			Help:      "Total number of aggregation runs started",
		}),
		RunsCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_completed_total",
			Help:      "Total number of aggregation runs completed successfully",
		}),
		RunsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_failed_total",
			Help:      "Total number of aggregation runs that failed",
		}),
		RunDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of aggregation runs in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1200, 1800, 3600},
		}),
		RunPapers: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_papers",
			Help:      "Number of merged entities produced per run",
			Buckets:   []float64{0, 1, 5, 10, 25, 50, 100, 250, 500, 1000},
		}),
		RunQualityScore: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_quality_score",
			Help:      "Mean validation quality score per run",
			Buckets:   []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		}),
		RunsBelowThreshold: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_below_threshold_total",
			Help:      "Total number of runs below the advisory quality threshold",
		}),

		// Searches
		SearchesStarted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "searches_started_total",
			Help:      "Total number of record searches started by source",
		}, []string{"source"}),
		SearchesCompleted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "searches_completed_total",
			Help:      "Total number of record searches completed by source",
		}, []string{"source"}),
		SearchesFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "searches_failed_total",
			Help:      "Total number of record searches that failed by source",
		}, []string{"source"}),
		SearchDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_duration_seconds",
			Help:      "Duration of record searches in seconds by source",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"source"}),
		RecordsPerSearch: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "records_per_search",
			Help:      "Number of records returned per search by source",
			Buckets:   []float64{0, 1, 5, 10, 25, 50, 100, 200, 500},
		}, []string{"source"}),

		// Records
		RecordsIngested: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_ingested_total",
			Help:      "Total number of raw records ingested by source",
		}, []string{"source"}),
		ParseFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parse_failures_total",
			Help:      "Total number of raw records rejected during ingestion by source",
		}, []string{"source"}),
		DuplicatesMerged: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicates_merged_total",
			Help:      "Total number of records merged into an existing entity",
		}),

		// Sources
		SourceRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_requests_total",
			Help:      "Total number of requests to record sources",
		}, []string{"source", "endpoint"}),
		SourceRequestsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_requests_failed_total",
			Help:      "Total number of failed requests to record sources",
		}, []string{"source", "endpoint", "error_type"}),
		SourceRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "source_request_duration_seconds",
			Help:      "Duration of requests to record sources in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"source", "endpoint"}),
		SourceRateLimited: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_rate_limited_total",
			Help:      "Total number of rate limit responses from record sources",
		}, []string{"source"}),

		// Validation
		ValidationIssues: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validation_issues_total",
			Help:      "Total number of validation check failures by issue code",
		}, []string{"issue"}),

		// Full text
		FulltextDownloads: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fulltext_downloads_total",
			Help:      "Total number of full text downloads attempted",
		}),
		FulltextDownloadsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fulltext_downloads_failed_total",
			Help:      "Total number of full text downloads that failed",
		}),
		FulltextDownloadDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fulltext_download_duration_seconds",
			Help:      "Duration of full text downloads in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}),

		// Exports
		ExportsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exports_total",
			Help:      "Total number of report exports served by format",
		}, []string{"format"}),
	}
}

// RecordRunStarted records that an aggregation run has started.
func (m *Metrics) RecordRunStarted() {
	m.RunsStarted.Inc()
}

// RecordRunCompleted records a completed run with its outcome measurements.
func (m *Metrics) RecordRunCompleted(durationSeconds float64, paperCount int, meanQuality float64, belowThreshold bool) {
	m.RunsCompleted.Inc()
	m.RunDuration.Observe(durationSeconds)
	m.RunPapers.Observe(float64(paperCount))
	m.RunQualityScore.Observe(meanQuality)
	if belowThreshold {
		m.RunsBelowThreshold.Inc()
	}
}

// RecordRunFailed records that a run has failed.
func (m *Metrics) RecordRunFailed(durationSeconds float64) {
	m.RunsFailed.Inc()
	m.RunDuration.Observe(durationSeconds)
}

// RecordSearchStarted records that a search has started.
func (m *Metrics) RecordSearchStarted(source string) {
	m.SearchesStarted.WithLabelValues(source).Inc()
}

// RecordSearchCompleted records that a search has completed.
func (m *Metrics) RecordSearchCompleted(source string, recordCount int, durationSeconds float64) {
	m.SearchesCompleted.WithLabelValues(source).Inc()
	m.SearchDuration.WithLabelValues(source).Observe(durationSeconds)
	m.RecordsPerSearch.WithLabelValues(source).Observe(float64(recordCount))
}

// RecordSearchFailed records that a search has failed.
func (m *Metrics) RecordSearchFailed(source string, durationSeconds float64) {
	m.SearchesFailed.WithLabelValues(source).Inc()
	m.SearchDuration.WithLabelValues(source).Observe(durationSeconds)
}

// RecordRecordsIngested records successfully ingested raw records.
func (m *Metrics) RecordRecordsIngested(source string, count int) {
	m.RecordsIngested.WithLabelValues(source).Add(float64(count))
}

// RecordParseFailures records raw records rejected during ingestion.
func (m *Metrics) RecordParseFailures(source string, count int) {
	m.ParseFailures.WithLabelValues(source).Add(float64(count))
}

// RecordDuplicatesMerged records records folded into existing entities.
func (m *Metrics) RecordDuplicatesMerged(count int) {
	m.DuplicatesMerged.Add(float64(count))
}

// RecordSourceRequest records a request to a record source.
func (m *Metrics) RecordSourceRequest(source, endpoint string, durationSeconds float64) {
	m.SourceRequestsTotal.WithLabelValues(source, endpoint).Inc()
	m.SourceRequestDuration.WithLabelValues(source, endpoint).Observe(durationSeconds)
}

// RecordSourceRequestFailed records a failed request to a record source.
func (m *Metrics) RecordSourceRequestFailed(source, endpoint, errorType string) {
	m.SourceRequestsFailed.WithLabelValues(source, endpoint, errorType).Inc()
}

// RecordSourceRateLimited records a rate limit response from a source.
func (m *Metrics) RecordSourceRateLimited(source string) {
	m.SourceRateLimited.WithLabelValues(source).Inc()
}

// RecordValidationIssues records validation check failures for one issue code.
func (m *Metrics) RecordValidationIssues(issue string, count int) {
	m.ValidationIssues.WithLabelValues(issue).Add(float64(count))
}

// RecordFulltextDownload records a completed full text download.
func (m *Metrics) RecordFulltextDownload(durationSeconds float64) {
	m.FulltextDownloads.Inc()
	m.FulltextDownloadDuration.Observe(durationSeconds)
}

// RecordFulltextDownloadFailed records a failed full text download.
func (m *Metrics) RecordFulltextDownloadFailed() {
	m.FulltextDownloads.Inc()
	m.FulltextDownloadsFailed.Inc()
}

// RecordExport records one served report export.
func (m *Metrics) RecordExport(format string) {
	m.ExportsTotal.WithLabelValues(format).Inc()
}
