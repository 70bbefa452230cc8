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

// paperColumns is the column list shared by every stored paper SELECT.
const paperColumns = `id, run_id, dedup_key, title, authors,
		doi, year, sample_size, study_type, abstract,
		full_text_links, provenance, created_at`

// Compile-time interface verification.
var _ PaperRepository = (*PgPaperRepository)(nil)

// PgPaperRepository is a PostgreSQL implementation of PaperRepository.
type PgPaperRepository struct {
	db DBTX
}

// NewPgPaperRepository creates a new PostgreSQL paper repository.
func NewPgPaperRepository(db DBTX) *PgPaperRepository {
	return &PgPaperRepository{db: db}
}

// ReplaceForRun atomically replaces the stored papers of a run.
// Uses pgx.Batch to send all inserts in a single network roundtrip.
func (r *PgPaperRepository) ReplaceForRun(ctx context.Context, runID uuid.UUID, rs *domain.SearchResultSet) error {
	if rs == nil {
		return domain.NewValidationError("result_set", "result set cannot be nil")
	}

	// Wrap delete + insert in a transaction when running against a pool so
	// a failed insert never leaves the run without its previous papers.
	if beginner, ok := r.db.(txBeginner); ok {
		tx, err := beginner.Begin(ctx)
		if err != nil {
			return fmt.Errorf("failed to begin transaction for replace: %w", err)
		}
		defer func() { _ = tx.Rollback(ctx) }()

		txRepo := &PgPaperRepository{db: tx}
		if err := txRepo.replaceForRunInTx(ctx, runID, rs); err != nil {
			return err
		}
		return tx.Commit(ctx)
	}

	return r.replaceForRunInTx(ctx, runID, rs)
}

// replaceForRunInTx performs the delete + batch insert within the current DBTX.
func (r *PgPaperRepository) replaceForRunInTx(ctx context.Context, runID uuid.UUID, rs *domain.SearchResultSet) error {
	if _, err := r.db.Exec(ctx, "DELETE FROM aggregation_papers WHERE run_id = $1", runID); err != nil {
		return fmt.Errorf("failed to clear papers for run: %w", err)
	}

	keys := rs.Keys()
	if len(keys) == 0 {
		return nil
	}

	query := `
		INSERT INTO aggregation_papers (
			id, run_id, dedup_key, title, authors,
			doi, year, sample_size, study_type, abstract,
			full_text_links, provenance, created_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10,
			$11, $12, $13
		)`

	now := time.Now().UTC()
	batch := &pgx.Batch{}

	for _, key := range keys {
		paper := rs.Papers[key]

		authorsJSON, err := json.Marshal(paper.Authors)
		if err != nil {
			return fmt.Errorf("failed to marshal authors for %q: %w", key, err)
		}
		linksJSON, err := json.Marshal(paper.FullTextLinks)
		if err != nil {
			return fmt.Errorf("failed to marshal full text links for %q: %w", key, err)
		}
		provenanceJSON, err := json.Marshal(paper.Provenance)
		if err != nil {
			return fmt.Errorf("failed to marshal provenance for %q: %w", key, err)
		}

		batch.Queue(query,
			uuid.New(), runID, key, paper.Title, authorsJSON,
			nullString(paper.DOI), nullInt(paper.Year), paper.SampleSize, nullString(string(paper.StudyType)), paper.Abstract,
			linksJSON, provenanceJSON, now,
		)
	}

	br := r.db.SendBatch(ctx, batch)
	defer br.Close()

	for i := 0; i < len(keys); i++ {
		if _, err := br.Exec(); err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
				return domain.NewNotFoundError("run", runID.String())
			}
			return fmt.Errorf("failed to insert paper %q: %w", keys[i], err)
		}
	}

	return nil
}

// ListByRun retrieves stored papers for a run matching the filter.
func (r *PgPaperRepository) ListByRun(ctx context.Context, runID uuid.UUID, filter PaperFilter) ([]*StoredPaper, int64, error) {
	if err := filter.Validate(); err != nil {
		return nil, 0, err
	}

	// Build dynamic WHERE clause
	conditions := []string{"run_id = $1"}
	args := []interface{}{runID}
	argIndex := 2

	if filter.StudyType != nil {
		conditions = append(conditions, fmt.Sprintf("study_type = $%d", argIndex))
		args = append(args, *filter.StudyType)
		argIndex++
	}

	if filter.HasDOI != nil {
		if *filter.HasDOI {
			conditions = append(conditions, "doi IS NOT NULL")
		} else {
			conditions = append(conditions, "doi IS NULL")
		}
	}

	if filter.MinYear != 0 {
		conditions = append(conditions, fmt.Sprintf("year >= $%d", argIndex))
		args = append(args, filter.MinYear)
		argIndex++
	}

	if filter.MaxYear != 0 {
		conditions = append(conditions, fmt.Sprintf("year <= $%d", argIndex))
		args = append(args, filter.MaxYear)
		argIndex++
	}

	whereClause := strings.Join(conditions, " AND ")

	// Count total matching records
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM aggregation_papers WHERE %s", whereClause)
	var totalCount int64
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&totalCount); err != nil {
		return nil, 0, fmt.Errorf("failed to count papers: %w", err)
	}

	// Query with pagination, ordered by dedup key for stable pages.
	selectQuery := fmt.Sprintf(`
		SELECT %s
		FROM aggregation_papers
		WHERE %s
		ORDER BY dedup_key ASC
		LIMIT $%d OFFSET $%d`,
		paperColumns, whereClause, argIndex, argIndex+1)

	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.Query(ctx, selectQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list papers: %w", err)
	}
	defer rows.Close()

	papers := make([]*StoredPaper, 0, filter.Limit)
	for rows.Next() {
		paper, err := scanStoredPaperFromRows(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan paper: %w", err)
		}
		papers = append(papers, paper)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating papers: %w", err)
	}

	return papers, totalCount, nil
}

// GetByDedupKey retrieves one stored paper of a run by its deduplication key.
func (r *PgPaperRepository) GetByDedupKey(ctx context.Context, runID uuid.UUID, dedupKey string) (*StoredPaper, error) {
	if dedupKey == "" {
		return nil, domain.NewValidationError("dedup_key", "deduplication key is required")
	}

	query := fmt.Sprintf("SELECT %s FROM aggregation_papers WHERE run_id = $1 AND dedup_key = $2", paperColumns)

	row := r.db.QueryRow(ctx, query, runID, dedupKey)
	paper, err := scanStoredPaper(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("paper", dedupKey)
		}
		return nil, fmt.Errorf("failed to get paper by dedup key: %w", err)
	}

	return paper, nil
}

// ResultSetForRun reconstructs a result set from the stored papers of a run.
func (r *PgPaperRepository) ResultSetForRun(ctx context.Context, runID uuid.UUID) (*domain.SearchResultSet, error) {
	query := fmt.Sprintf("SELECT %s FROM aggregation_papers WHERE run_id = $1 ORDER BY dedup_key ASC", paperColumns)

	rows, err := r.db.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query papers for run: %w", err)
	}
	defer rows.Close()

	rs := domain.NewSearchResultSet()
	for rows.Next() {
		paper, err := scanStoredPaperFromRows(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan paper: %w", err)
		}
		entity := paper.Paper
		rs.Papers[paper.DedupKey] = &entity
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating papers: %w", err)
	}

	return rs, nil
}

// storedPaperScanDest holds the destination pointers for scanning a stored paper row.
type storedPaperScanDest struct {
	sp             StoredPaper
	authorsJSON    []byte
	linksJSON      []byte
	provenanceJSON []byte
	doi            *string
	year           *int
	studyType      *string
}

// destinations returns the slice of pointers for Scan operations.
func (d *storedPaperScanDest) destinations() []interface{} {
	return []interface{}{
		&d.sp.ID, &d.sp.RunID, &d.sp.DedupKey, &d.sp.Paper.Title, &d.authorsJSON,
		&d.doi, &d.year, &d.sp.Paper.SampleSize, &d.studyType, &d.sp.Paper.Abstract,
		&d.linksJSON, &d.provenanceJSON, &d.sp.CreatedAt,
	}
}

// finalize performs post-scan processing: sets nullable fields and unmarshals JSON.
func (d *storedPaperScanDest) finalize() (*StoredPaper, error) {
	if d.doi != nil {
		d.sp.Paper.DOI = *d.doi
	}
	if d.year != nil {
		d.sp.Paper.Year = *d.year
	}
	if d.studyType != nil {
		d.sp.Paper.StudyType = domain.StudyType(*d.studyType)
	}

	if len(d.authorsJSON) > 0 {
		if err := json.Unmarshal(d.authorsJSON, &d.sp.Paper.Authors); err != nil {
			return nil, fmt.Errorf("failed to unmarshal authors: %w", err)
		}
	}
	if len(d.linksJSON) > 0 {
		if err := json.Unmarshal(d.linksJSON, &d.sp.Paper.FullTextLinks); err != nil {
			return nil, fmt.Errorf("failed to unmarshal full text links: %w", err)
		}
	}
	if len(d.provenanceJSON) > 0 {
		if err := json.Unmarshal(d.provenanceJSON, &d.sp.Paper.Provenance); err != nil {
			return nil, fmt.Errorf("failed to unmarshal provenance: %w", err)
		}
	}

	return &d.sp, nil
}

// scanStoredPaper scans a single row into a StoredPaper.
func scanStoredPaper(row pgx.Row) (*StoredPaper, error) {
	var dest storedPaperScanDest
	if err := row.Scan(dest.destinations()...); err != nil {
		return nil, err
	}
	return dest.finalize()
}

// scanStoredPaperFromRows scans the current row from pgx.Rows into a StoredPaper.
func scanStoredPaperFromRows(rows pgx.Rows) (*StoredPaper, error) {
	var dest storedPaperScanDest
	if err := rows.Scan(dest.destinations()...); err != nil {
		return nil, err
	}
	return dest.finalize()
}

// nullInt returns a pointer to the int if non-zero, otherwise nil.
func nullInt(n int) *int {
	if n == 0 {
		return nil
	}
	return &n
}
