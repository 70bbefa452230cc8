package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/evidlab/study-aggregation-service/internal/domain"
)

// txBeginner is an interface for types that can begin a transaction (e.g., *pgxpool.Pool, *database.DB).
// Used by Update to automatically wrap SELECT FOR UPDATE + UPDATE in a transaction
// when the underlying DBTX is a pool rather than an existing transaction.
type txBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgreSQL error codes used for constraint violation detection.
const (
	pgUniqueViolation     = "23505" // unique_violation
	pgForeignKeyViolation = "23503" // foreign_key_violation
)

// runColumns is the column list shared by every run SELECT.
const runColumns = `id, query, status, error_message,
		ingested_total, parse_failures, paper_count,
		mean_quality_score, below_threshold,
		configuration, validation_report, statistics_report,
		created_at, updated_at, started_at, completed_at`

// Compile-time interface verification.
var _ RunRepository = (*PgRunRepository)(nil)

// PgRunRepository is a PostgreSQL implementation of RunRepository.
type PgRunRepository struct {
	db DBTX
}

// NewPgRunRepository creates a new PostgreSQL run repository.
func NewPgRunRepository(db DBTX) *PgRunRepository {
	return &PgRunRepository{db: db}
}

// Create inserts a new aggregation run.
func (r *PgRunRepository) Create(ctx context.Context, run *domain.AggregationRun) error {
	if run == nil {
		return domain.NewValidationError("run", "run cannot be nil")
	}
	if run.ID == uuid.Nil {
		return domain.NewValidationError("id", "run ID is required")
	}

	configJSON, validationJSON, statisticsJSON, err := marshalRunReports(run)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO aggregation_runs (
			id, query, status, error_message,
			ingested_total, parse_failures, paper_count,
			mean_quality_score, below_threshold,
			configuration, validation_report, statistics_report,
			created_at, updated_at, started_at, completed_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7,
			$8, $9,
			$10, $11, $12,
			$13, $14, $15, $16
		)`

	_, err = r.db.Exec(ctx, query,
		run.ID, run.Query, run.Status, nullString(run.ErrorMessage),
		run.IngestedTotal, run.ParseFailures, run.PaperCount,
		run.MeanQualityScore, run.BelowThreshold,
		configJSON, validationJSON, statisticsJSON,
		run.CreatedAt, run.UpdatedAt, run.StartedAt, run.CompletedAt,
	)

	if err != nil {
		if isPgUniqueViolation(err) {
			return domain.NewAlreadyExistsError("run", run.ID.String())
		}
		return fmt.Errorf("failed to create run: %w", err)
	}

	return nil
}

// Get retrieves an aggregation run by its ID.
func (r *PgRunRepository) Get(ctx context.Context, id uuid.UUID) (*domain.AggregationRun, error) {
	query := fmt.Sprintf("SELECT %s FROM aggregation_runs WHERE id = $1", runColumns)

	row := r.db.QueryRow(ctx, query, id)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("run", id.String())
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return run, nil
}

// Update performs an optimistic update on a run using SELECT FOR UPDATE.
//
// This method uses SELECT FOR UPDATE which requires a transaction for correct
// locking. If the underlying DBTX is a connection pool (supports Begin), the
// method automatically wraps the SELECT FOR UPDATE + UPDATE in an explicit
// transaction. If the underlying DBTX is already a transaction, it executes
// within that existing transaction.
func (r *PgRunRepository) Update(ctx context.Context, id uuid.UUID, fn func(*domain.AggregationRun) error) error {
	if beginner, ok := r.db.(txBeginner); ok {
		tx, err := beginner.Begin(ctx)
		if err != nil {
			return fmt.Errorf("failed to begin transaction for update: %w", err)
		}
		defer func() { _ = tx.Rollback(ctx) }()

		txRepo := &PgRunRepository{db: tx}
		if err := txRepo.updateInTx(ctx, id, fn); err != nil {
			return err
		}
		return tx.Commit(ctx)
	}

	// Already running within a transaction, execute directly.
	return r.updateInTx(ctx, id, fn)
}

// updateInTx performs the actual SELECT FOR UPDATE + UPDATE within the current DBTX.
// This must be called within a transaction for correct row-level locking.
func (r *PgRunRepository) updateInTx(ctx context.Context, id uuid.UUID, fn func(*domain.AggregationRun) error) error {
	selectQuery := fmt.Sprintf("SELECT %s FROM aggregation_runs WHERE id = $1 FOR UPDATE", runColumns)

	rows, err := r.db.Query(ctx, selectQuery, id)
	if err != nil {
		return fmt.Errorf("failed to query run for update: %w", err)
	}

	run, err := scanRunRows(rows)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.NewNotFoundError("run", id.String())
		}
		return fmt.Errorf("failed to scan run: %w", err)
	}

	if err := fn(run); err != nil {
		return err
	}

	run.UpdatedAt = time.Now().UTC()

	configJSON, validationJSON, statisticsJSON, err := marshalRunReports(run)
	if err != nil {
		return err
	}

	updateQuery := `
		UPDATE aggregation_runs SET
			query = $1,
			status = $2,
			error_message = $3,
			ingested_total = $4,
			parse_failures = $5,
			paper_count = $6,
			mean_quality_score = $7,
			below_threshold = $8,
			configuration = $9,
			validation_report = $10,
			statistics_report = $11,
			updated_at = $12,
			started_at = $13,
			completed_at = $14
		WHERE id = $15`

	_, err = r.db.Exec(ctx, updateQuery,
		run.Query,
		run.Status,
		nullString(run.ErrorMessage),
		run.IngestedTotal,
		run.ParseFailures,
		run.PaperCount,
		run.MeanQualityScore,
		run.BelowThreshold,
		configJSON,
		validationJSON,
		statisticsJSON,
		run.UpdatedAt,
		run.StartedAt,
		run.CompletedAt,
		id,
	)

	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}

	return nil
}

// UpdateStatus updates the status of a run with optional error message.
func (r *PgRunRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.RunStatus, errorMsg string) error {
	return r.Update(ctx, id, func(run *domain.AggregationRun) error {
		if !run.Status.CanTransitionTo(status) {
			return fmt.Errorf("invalid status transition from %s to %s: %w",
				run.Status, status, domain.ErrInvalidTransition)
		}

		run.Status = status
		if status == domain.RunStatusFailed {
			run.ErrorMessage = errorMsg
		}

		now := time.Now().UTC()
		if status == domain.RunStatusRunning && run.StartedAt == nil {
			run.StartedAt = &now
		}
		if status.IsTerminal() && run.CompletedAt == nil {
			run.CompletedAt = &now
		}

		return nil
	})
}

// List retrieves aggregation runs matching the filter criteria.
func (r *PgRunRepository) List(ctx context.Context, filter RunFilter) ([]*domain.AggregationRun, int64, error) {
	if err := filter.Validate(); err != nil {
		return nil, 0, err
	}

	// Build dynamic WHERE clause
	var conditions []string
	var args []interface{}
	argIndex := 1

	if len(filter.Status) > 0 {
		placeholders := make([]string, len(filter.Status))
		for i, s := range filter.Status {
			placeholders[i] = fmt.Sprintf("$%d", argIndex)
			args = append(args, s)
			argIndex++
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ", ")))
	}

	if filter.CreatedAfter != nil {
		conditions = append(conditions, fmt.Sprintf("created_at > $%d", argIndex))
		args = append(args, *filter.CreatedAfter)
		argIndex++
	}

	if filter.CreatedBefore != nil {
		conditions = append(conditions, fmt.Sprintf("created_at < $%d", argIndex))
		args = append(args, *filter.CreatedBefore)
		argIndex++
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	// Count total matching records
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM aggregation_runs %s", whereClause)
	var totalCount int64
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&totalCount); err != nil {
		return nil, 0, fmt.Errorf("failed to count runs: %w", err)
	}

	// Query with pagination
	selectQuery := fmt.Sprintf(`
		SELECT %s
		FROM aggregation_runs
		%s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d`,
		runColumns, whereClause, argIndex, argIndex+1)

	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.Query(ctx, selectQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := make([]*domain.AggregationRun, 0, filter.Limit)
	for rows.Next() {
		run, err := scanRunFromRows(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, totalCount, nil
}

// Delete removes a run. Stored papers are removed by the ON DELETE CASCADE
// constraint on aggregation_papers.
func (r *PgRunRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.Exec(ctx, "DELETE FROM aggregation_runs WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}

	if result.RowsAffected() == 0 {
		return domain.NewNotFoundError("run", id.String())
	}

	return nil
}

// marshalRunReports serializes the JSONB columns of a run. Nil reports map
// to NULL so the database distinguishes "not yet produced" from empty.
func marshalRunReports(run *domain.AggregationRun) (configJSON, validationJSON, statisticsJSON []byte, err error) {
	configJSON, err = json.Marshal(run.Configuration)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal configuration: %w", err)
	}

	if run.ValidationReport != nil {
		validationJSON, err = json.Marshal(run.ValidationReport)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to marshal validation report: %w", err)
		}
	}

	if run.StatisticsReport != nil {
		statisticsJSON, err = json.Marshal(run.StatisticsReport)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to marshal statistics report: %w", err)
		}
	}

	return configJSON, validationJSON, statisticsJSON, nil
}

// isPgUniqueViolation checks if the error is a PostgreSQL unique constraint violation.
func isPgUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	return false
}

// runScanDest holds the destination pointers for scanning an AggregationRun row.
// This eliminates code duplication between pgx.Row and pgx.Rows scanning.
type runScanDest struct {
	run            domain.AggregationRun
	errorMessage   *string
	configJSON     []byte
	validationJSON []byte
	statisticsJSON []byte
}

// destinations returns the slice of pointers for Scan operations.
func (d *runScanDest) destinations() []interface{} {
	return []interface{}{
		&d.run.ID, &d.run.Query, &d.run.Status, &d.errorMessage,
		&d.run.IngestedTotal, &d.run.ParseFailures, &d.run.PaperCount,
		&d.run.MeanQualityScore, &d.run.BelowThreshold,
		&d.configJSON, &d.validationJSON, &d.statisticsJSON,
		&d.run.CreatedAt, &d.run.UpdatedAt, &d.run.StartedAt, &d.run.CompletedAt,
	}
}

// finalize performs post-scan processing: sets nullable fields and unmarshals JSON.
func (d *runScanDest) finalize() (*domain.AggregationRun, error) {
	if d.errorMessage != nil {
		d.run.ErrorMessage = *d.errorMessage
	}

	if len(d.configJSON) > 0 {
		if err := json.Unmarshal(d.configJSON, &d.run.Configuration); err != nil {
			return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
		}
	}

	if len(d.validationJSON) > 0 {
		var report domain.ValidationReport
		if err := json.Unmarshal(d.validationJSON, &report); err != nil {
			return nil, fmt.Errorf("failed to unmarshal validation report: %w", err)
		}
		d.run.ValidationReport = &report
	}

	if len(d.statisticsJSON) > 0 {
		var report domain.StatisticsReport
		if err := json.Unmarshal(d.statisticsJSON, &report); err != nil {
			return nil, fmt.Errorf("failed to unmarshal statistics report: %w", err)
		}
		d.run.StatisticsReport = &report
	}

	return &d.run, nil
}

// scanRun scans a single row into an AggregationRun.
func scanRun(row pgx.Row) (*domain.AggregationRun, error) {
	var dest runScanDest
	if err := row.Scan(dest.destinations()...); err != nil {
		return nil, err
	}
	return dest.finalize()
}

// scanRunRows scans a single row from pgx.Rows into an AggregationRun.
// This is used with SELECT FOR UPDATE which returns Rows instead of Row.
func scanRunRows(rows pgx.Rows) (*domain.AggregationRun, error) {
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, pgx.ErrNoRows
	}

	return scanRunFromRows(rows)
}

// scanRunFromRows scans the current row from pgx.Rows into an AggregationRun.
func scanRunFromRows(rows pgx.Rows) (*domain.AggregationRun, error) {
	var dest runScanDest
	if err := rows.Scan(dest.destinations()...); err != nil {
		return nil, err
	}
	return dest.finalize()
}

// nullString returns a pointer to the string if non-empty, otherwise nil.
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
