package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/evidlab/study-aggregation-service/internal/domain"
)

// StoredPaper is a merged paper entity persisted for a completed run.
type StoredPaper struct {
	ID        uuid.UUID            `json:"id"`
	RunID     uuid.UUID            `json:"run_id"`
	DedupKey  string               `json:"dedup_key"`
	Paper     domain.PaperMetadata `json:"paper"`
	CreatedAt time.Time            `json:"created_at"`
}

// PaperRepository handles persistence of the merged paper entities
// produced by aggregation runs. Papers are scoped to their run; the
// (run_id, dedup_key) pair is unique.
type PaperRepository interface {
	// ReplaceForRun atomically replaces the stored papers of a run with the
	// contents of the result set. Existing rows for the run are deleted and
	// the result set's entities inserted in deduplication key order.
	// Returns domain.ErrNotFound if the run does not exist.
	ReplaceForRun(ctx context.Context, runID uuid.UUID, rs *domain.SearchResultSet) error

	// ListByRun retrieves stored papers for a run matching the filter.
	// Returns the matching papers and total count for pagination.
	// Papers are ordered by deduplication key for stable pagination.
	ListByRun(ctx context.Context, runID uuid.UUID, filter PaperFilter) ([]*StoredPaper, int64, error)

	// GetByDedupKey retrieves one stored paper of a run by its deduplication key.
	// Returns domain.ErrNotFound if no matching paper exists.
	GetByDedupKey(ctx context.Context, runID uuid.UUID, dedupKey string) (*StoredPaper, error)

	// ResultSetForRun reconstructs a result set from the stored papers of a
	// run, keyed by deduplication key. Counters are not reconstructed; they
	// live on the run itself. Returns an empty result set for a run with no
	// stored papers.
	ResultSetForRun(ctx context.Context, runID uuid.UUID) (*domain.SearchResultSet, error)
}

// PaperFilter specifies criteria for listing stored papers.
type PaperFilter struct {
	// StudyType filters to papers with a specific classified design (optional).
	StudyType *domain.StudyType

	// HasDOI filters by DOI presence (optional).
	// When true, only papers with a DOI are returned.
	// When false, only papers without a DOI are returned.
	HasDOI *bool

	// MinYear filters to papers published in or after this year (optional).
	MinYear int

	// MaxYear filters to papers published in or before this year (optional).
	MaxYear int

	// Limit specifies maximum number of results (default: 100, max: 1000).
	Limit int

	// Offset specifies the starting position for pagination.
	Offset int
}

// Validate checks filter values and sets pagination defaults.
func (f *PaperFilter) Validate() error {
	if f.StudyType != nil && !f.StudyType.IsValid() {
		return domain.NewValidationError("study_type", "unknown study type: "+string(*f.StudyType))
	}
	if f.MinYear != 0 && f.MaxYear != 0 && f.MinYear > f.MaxYear {
		return domain.NewValidationError("min_year", "min_year cannot exceed max_year")
	}
	applyPaginationDefaults(&f.Limit, &f.Offset)
	return nil
}
