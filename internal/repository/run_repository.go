package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/evidlab/study-aggregation-service/internal/domain"
)

// RunRepository handles aggregation run persistence and lifecycle management.
type RunRepository interface {
	// Create inserts a new aggregation run.
	// The run must have a valid ID.
	// Returns domain.ErrAlreadyExists if a run with the same ID already exists.
	Create(ctx context.Context, run *domain.AggregationRun) error

	// Get retrieves an aggregation run by its ID.
	// Returns domain.ErrNotFound if no matching run exists.
	Get(ctx context.Context, id uuid.UUID) (*domain.AggregationRun, error)

	// Update performs an optimistic update on a run using SELECT FOR UPDATE.
	// The provided function receives the current run state and should return
	// an error if the update should be aborted. Changes made to the run in
	// the function are persisted.
	// Returns domain.ErrNotFound if no matching run exists.
	//
	// Concurrent update behavior:
	//   - If the row lock cannot be acquired before context deadline, returns context.DeadlineExceeded.
	//   - If the provided function returns an error, the transaction is rolled back and that error is returned.
	Update(ctx context.Context, id uuid.UUID, fn func(*domain.AggregationRun) error) error

	// UpdateStatus updates the status of a run with optional error message.
	// The transition is validated against the run status state machine;
	// invalid transitions return a wrapped domain.ErrInvalidInput.
	// The errorMsg parameter is stored only when transitioning to failed.
	// Returns domain.ErrNotFound if no matching run exists.
	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.RunStatus, errorMsg string) error

	// List retrieves aggregation runs matching the filter criteria.
	// Returns the matching runs and total count for pagination.
	// The total count reflects all matching records regardless of limit/offset.
	List(ctx context.Context, filter RunFilter) ([]*domain.AggregationRun, int64, error)

	// Delete removes a run and, via cascade, its stored papers.
	// Returns domain.ErrNotFound if no matching run exists.
	Delete(ctx context.Context, id uuid.UUID) error
}

// RunFilter specifies criteria for listing aggregation runs.
type RunFilter struct {
	// Status filters by one or more run statuses (optional).
	// When multiple statuses are provided, runs matching any status are returned.
	Status []domain.RunStatus

	// CreatedAfter filters to runs created after this timestamp (optional).
	CreatedAfter *time.Time

	// CreatedBefore filters to runs created before this timestamp (optional).
	CreatedBefore *time.Time

	// Limit specifies maximum number of results (default: 100, max: 1000).
	Limit int

	// Offset specifies the starting position for pagination.
	Offset int
}

// Validate checks filter values and sets pagination defaults.
func (f *RunFilter) Validate() error {
	for _, s := range f.Status {
		switch s {
		case domain.RunStatusPending, domain.RunStatusRunning, domain.RunStatusCompleted, domain.RunStatusFailed:
		default:
			return domain.NewValidationError("status", "unknown run status: "+string(s))
		}
	}
	applyPaginationDefaults(&f.Limit, &f.Offset)
	return nil
}
