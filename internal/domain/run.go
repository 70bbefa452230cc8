package domain

import (
	"time"

	"github.com/google/uuid"
)

// RunStatus represents the lifecycle status of an aggregation run.
// These values must match the database enum run_status.
type RunStatus string

// Run status constants.
const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// IsTerminal returns true if the status represents a final state.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusFailed:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether a run may move from s to next.
// Terminal states admit no transitions.
func (s RunStatus) CanTransitionTo(next RunStatus) bool {
	switch s {
	case RunStatusPending:
		return next == RunStatusRunning || next == RunStatusFailed
	case RunStatusRunning:
		return next == RunStatusCompleted || next == RunStatusFailed
	default:
		return false
	}
}

// RunConfiguration holds the tunable parameters of an aggregation run.
// This struct is stored as JSONB in PostgreSQL for auditability.
type RunConfiguration struct {
	// Sources lists the search services queried for this run.
	Sources []SourceName `json:"sources,omitempty"`

	// MaxResultsPerSource caps the records fetched from each source.
	MaxResultsPerSource int `json:"max_results_per_source,omitempty"`

	// SimilarityThreshold is the minimum title similarity ratio (0.0-1.0)
	// for two records without DOIs to be treated as the same study.
	SimilarityThreshold float64 `json:"similarity_threshold,omitempty"`

	// QualityThreshold is the advisory minimum mean quality score (0-100).
	QualityThreshold float64 `json:"quality_threshold,omitempty"`

	// SourcePriority orders sources for field conflict resolution during
	// deduplication. Unlisted sources rank last, ordered by name.
	SourcePriority []SourceName `json:"source_priority,omitempty"`

	// Workers bounds the ingest/normalize worker pool. Zero means one
	// worker per CPU.
	Workers int `json:"workers,omitempty"`
}

// DefaultRunConfiguration returns a RunConfiguration with default values.
func DefaultRunConfiguration() RunConfiguration {
	return RunConfiguration{
		Sources:             KnownSources(),
		MaxResultsPerSource: 100,
		SimilarityThreshold: 0.9,
		QualityThreshold:    80,
		SourcePriority:      DefaultSourcePriority(),
	}
}

// AggregationRun represents one execution of the aggregation pipeline,
// from record retrieval through reporting.
type AggregationRun struct {
	ID uuid.UUID `json:"id"`

	// Query is the search expression submitted to the source services.
	// Empty for runs over inline or file-provided records.
	Query string `json:"query,omitempty"`

	// Status and progress
	Status       RunStatus `json:"status"`
	ErrorMessage string    `json:"error_message,omitempty"`

	// Counters copied from the result set accumulator when the run
	// finishes.
	IngestedTotal int `json:"ingested_total"`
	ParseFailures int `json:"parse_failures"`
	PaperCount    int `json:"paper_count"`

	// MeanQualityScore is the aggregate validation score (0-100).
	MeanQualityScore float64 `json:"mean_quality_score"`

	// BelowThreshold flags runs whose aggregate score fell under the
	// configured advisory threshold.
	BelowThreshold bool `json:"below_threshold"`

	// Configuration (stored as JSONB)
	Configuration RunConfiguration `json:"configuration"`

	// Reports (stored as JSONB once the run completes)
	ValidationReport *ValidationReport `json:"validation_report,omitempty"`
	StatisticsReport *StatisticsReport `json:"statistics_report,omitempty"`

	// Timestamps
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NewAggregationRun creates a pending run for the given query.
func NewAggregationRun(query string, cfg RunConfiguration) *AggregationRun {
	now := time.Now().UTC()
	return &AggregationRun{
		ID:            uuid.New(),
		Query:         query,
		Status:        RunStatusPending,
		Configuration: cfg,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Duration returns the duration of the run.
// Returns zero if the run has not started.
// Returns elapsed time from start if still running.
// Returns total duration if completed.
func (r *AggregationRun) Duration() time.Duration {
	if r.StartedAt == nil {
		return 0
	}

	if r.CompletedAt != nil {
		return r.CompletedAt.Sub(*r.StartedAt)
	}

	return time.Since(*r.StartedAt)
}

// IsActive returns true if the run is still in progress.
func (r *AggregationRun) IsActive() bool {
	return !r.Status.IsTerminal()
}
