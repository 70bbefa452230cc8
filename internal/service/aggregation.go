// Package service orchestrates aggregation runs end to end: it persists
// run state, gathers records from the registered sources, drives the
// processing pipeline, stores the merged entities, and emits lifecycle
// events and metrics.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/evidlab/study-aggregation-service/internal/domain"
	"github.com/evidlab/study-aggregation-service/internal/events"
	"github.com/evidlab/study-aggregation-service/internal/observability"
	"github.com/evidlab/study-aggregation-service/internal/pipeline"
	"github.com/evidlab/study-aggregation-service/internal/repository"
	"github.com/evidlab/study-aggregation-service/internal/sources"
)

// Run phases reported in failure events and logs.
const (
	PhaseSearch   = "search"
	PhasePipeline = "pipeline"
	PhasePersist  = "persist"
)

// AggregationService coordinates the lifecycle of aggregation runs.
type AggregationService struct {
	runs      repository.RunRepository
	papers    repository.PaperRepository
	registry  *sources.Registry
	publisher *events.Publisher
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

// NewAggregationService creates a run orchestrator over the given
// dependencies.
func NewAggregationService(
	runs repository.RunRepository,
	papers repository.PaperRepository,
	registry *sources.Registry,
	publisher *events.Publisher,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *AggregationService {
	return &AggregationService{
		runs:      runs,
		papers:    papers,
		registry:  registry,
		publisher: publisher,
		metrics:   metrics,
		logger:    logger.With().Str("component", "aggregation_service").Logger(),
	}
}

// resolveConfiguration fills the zero fields of cfg from the defaults. A
// nil cfg yields the full default configuration.
func resolveConfiguration(cfg *domain.RunConfiguration) domain.RunConfiguration {
	resolved := domain.DefaultRunConfiguration()
	if cfg == nil {
		return resolved
	}
	if len(cfg.Sources) > 0 {
		resolved.Sources = cfg.Sources
	}
	if cfg.MaxResultsPerSource > 0 {
		resolved.MaxResultsPerSource = cfg.MaxResultsPerSource
	}
	if cfg.SimilarityThreshold > 0 {
		resolved.SimilarityThreshold = cfg.SimilarityThreshold
	}
	if cfg.QualityThreshold > 0 {
		resolved.QualityThreshold = cfg.QualityThreshold
	}
	if len(cfg.SourcePriority) > 0 {
		resolved.SourcePriority = cfg.SourcePriority
	}
	if cfg.Workers > 0 {
		resolved.Workers = cfg.Workers
	}
	return resolved
}

// CreateRun persists a pending run for the given search query. Zero
// fields of cfg are filled from the defaults; a nil cfg uses the full
// default configuration.
func (s *AggregationService) CreateRun(ctx context.Context, query string, cfg *domain.RunConfiguration) (*domain.AggregationRun, error) {
	resolved := resolveConfiguration(cfg)
	for _, name := range resolved.Sources {
		if !name.IsKnown() {
			return nil, domain.NewValidationError("sources", fmt.Sprintf("unknown source %q", name))
		}
	}

	run := domain.NewAggregationRun(query, resolved)
	if err := s.runs.Create(ctx, run); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("run_id", run.ID.String()).
		Str("query", run.Query).
		Msg("aggregation run created")
	return run, nil
}

// StartRun creates a run for a search query and executes it in the
// background. The returned run is in the pending state; callers poll the
// run resource for progress.
func (s *AggregationService) StartRun(ctx context.Context, query string, cfg *domain.RunConfiguration) (*domain.AggregationRun, error) {
	if query == "" {
		return nil, domain.NewValidationError("query", "query is required")
	}

	run, err := s.CreateRun(ctx, query, cfg)
	if err != nil {
		return nil, err
	}

	bgCtx := context.WithoutCancel(ctx)
	go func() {
		if _, err := s.Execute(bgCtx, run.ID); err != nil {
			s.logger.Error().Err(err).
				Str("run_id", run.ID.String()).
				Msg("background run execution failed")
		}
	}()

	return run, nil
}

// StartInlineRun creates a run over caller-provided raw records and
// executes it in the background. Inline runs never contact the source
// services.
func (s *AggregationService) StartInlineRun(ctx context.Context, records map[domain.SourceName][]domain.RawRecord, cfg *domain.RunConfiguration) (*domain.AggregationRun, error) {
	if len(records) == 0 {
		return nil, domain.NewValidationError("records", "at least one record batch is required")
	}
	for name := range records {
		if !name.IsKnown() {
			return nil, domain.NewValidationError("records", fmt.Sprintf("unknown source %q", name))
		}
	}

	run, err := s.CreateRun(ctx, "", cfg)
	if err != nil {
		return nil, err
	}

	bgCtx := context.WithoutCancel(ctx)
	go func() {
		if _, err := s.ExecuteInline(bgCtx, run.ID, records); err != nil {
			s.logger.Error().Err(err).
				Str("run_id", run.ID.String()).
				Msg("background inline run execution failed")
		}
	}()

	return run, nil
}

// Execute performs a pending query run to completion: it searches the
// configured sources, processes the records, and persists the outcome.
// The returned run reflects the terminal state.
func (s *AggregationService) Execute(ctx context.Context, runID uuid.UUID) (*domain.AggregationRun, error) {
	run, err := s.begin(ctx, runID)
	if err != nil {
		return nil, err
	}

	if run.Query == "" {
		failErr := domain.NewValidationError("query", "run has no query; execute it with inline records")
		return s.failRun(ctx, run, PhaseSearch, failErr)
	}

	records, err := s.search(ctx, run)
	if err != nil {
		return s.failRun(ctx, run, PhaseSearch, err)
	}

	return s.process(ctx, run, records)
}

// ExecuteInline performs a pending run over caller-provided records,
// skipping the search phase.
func (s *AggregationService) ExecuteInline(ctx context.Context, runID uuid.UUID, records map[domain.SourceName][]domain.RawRecord) (*domain.AggregationRun, error) {
	run, err := s.begin(ctx, runID)
	if err != nil {
		return nil, err
	}
	return s.process(ctx, run, records)
}

// begin transitions a pending run to running and emits the start event.
func (s *AggregationService) begin(ctx context.Context, runID uuid.UUID) (*domain.AggregationRun, error) {
	run, err := s.runs.Get(ctx, runID)
	if err != nil {
		return nil, err
	}

	if err := s.runs.UpdateStatus(ctx, runID, domain.RunStatusRunning, ""); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	run.Status = domain.RunStatusRunning
	run.StartedAt = &now

	s.metrics.RecordRunStarted()
	if err := s.publisher.PublishRunStarted(ctx, run); err != nil {
		s.logger.Warn().Err(err).
			Str("run_id", run.ID.String()).
			Msg("failed to publish run started event")
	}

	s.logger.Info().
		Str("run_id", run.ID.String()).
		Str("query", run.Query).
		Msg("aggregation run started")
	return run, nil
}

// search queries the run's configured sources concurrently and collects
// the raw records. A failed source degrades the run; the search phase
// fails only when every source fails.
func (s *AggregationService) search(ctx context.Context, run *domain.AggregationRun) (map[domain.SourceName][]domain.RawRecord, error) {
	params := sources.SearchParams{
		Query:      run.Query,
		MaxResults: run.Configuration.MaxResultsPerSource,
	}

	for _, name := range run.Configuration.Sources {
		s.metrics.RecordSearchStarted(string(name))
	}

	results := s.registry.SearchSources(ctx, params, run.Configuration.Sources)
	if len(results) == 0 {
		return nil, domain.NewValidationError("sources", "no configured source is available")
	}

	var searchErrs []error
	for _, sr := range results {
		if sr.Err != nil {
			s.metrics.RecordSearchFailed(string(sr.Source), 0)
			s.logger.Warn().Err(sr.Err).
				Str("run_id", run.ID.String()).
				Str("source", string(sr.Source)).
				Msg("source search failed; run degrades")
			searchErrs = append(searchErrs, fmt.Errorf("%s: %w", sr.Source, sr.Err))
			continue
		}
		s.metrics.RecordSearchCompleted(string(sr.Source), len(sr.Result.Records), sr.Result.SearchDuration.Seconds())
		s.logger.Info().
			Str("run_id", run.ID.String()).
			Str("source", string(sr.Source)).
			Int("records", len(sr.Result.Records)).
			Dur("duration", sr.Result.SearchDuration).
			Msg("source search completed")
	}

	records := sources.CollectRecords(results)
	if len(records) == 0 && len(searchErrs) > 0 {
		return nil, fmt.Errorf("all sources failed: %w", errors.Join(searchErrs...))
	}

	return records, nil
}

// process runs the pipeline over the gathered records and persists the
// outcome.
func (s *AggregationService) process(ctx context.Context, run *domain.AggregationRun, records map[domain.SourceName][]domain.RawRecord) (*domain.AggregationRun, error) {
	runner := pipeline.NewRunner(pipeline.FromRunConfiguration(run.Configuration), s.logger)

	rs, validation, statistics, err := runner.Run(ctx, records)
	if err != nil {
		return s.failRun(ctx, run, PhasePipeline, err)
	}

	for source, counts := range rs.SourceCounts {
		s.metrics.RecordRecordsIngested(string(source), counts.Ingested)
		s.metrics.RecordParseFailures(string(source), counts.Failed)
	}
	s.metrics.RecordDuplicatesMerged(rs.IngestedTotal - rs.Size())
	for issue, count := range validation.IssueCounts {
		s.metrics.RecordValidationIssues(string(issue), count)
	}

	if err := s.runs.Update(ctx, run.ID, func(r *domain.AggregationRun) error {
		r.IngestedTotal = rs.IngestedTotal
		r.ParseFailures = rs.ParseFailures
		r.PaperCount = rs.Size()
		r.MeanQualityScore = validation.MeanQualityScore
		r.BelowThreshold = validation.BelowThreshold
		r.ValidationReport = validation
		r.StatisticsReport = statistics
		return nil
	}); err != nil {
		return s.failRun(ctx, run, PhasePersist, err)
	}
	run.IngestedTotal = rs.IngestedTotal
	run.ParseFailures = rs.ParseFailures
	run.PaperCount = rs.Size()
	run.MeanQualityScore = validation.MeanQualityScore
	run.BelowThreshold = validation.BelowThreshold
	run.ValidationReport = validation
	run.StatisticsReport = statistics

	if err := s.papers.ReplaceForRun(ctx, run.ID, rs); err != nil {
		return s.failRun(ctx, run, PhasePersist, err)
	}

	if err := s.runs.UpdateStatus(ctx, run.ID, domain.RunStatusCompleted, ""); err != nil {
		return s.failRun(ctx, run, PhasePersist, err)
	}
	now := time.Now().UTC()
	run.Status = domain.RunStatusCompleted
	run.CompletedAt = &now

	duration := run.Duration()
	s.metrics.RecordRunCompleted(duration.Seconds(), run.PaperCount, run.MeanQualityScore, run.BelowThreshold)
	if err := s.publisher.PublishRunCompleted(ctx, run, duration); err != nil {
		s.logger.Warn().Err(err).
			Str("run_id", run.ID.String()).
			Msg("failed to publish run completed event")
	}

	s.logger.Info().
		Str("run_id", run.ID.String()).
		Int("papers", run.PaperCount).
		Int("ingested", run.IngestedTotal).
		Int("parse_failures", run.ParseFailures).
		Float64("mean_quality_score", run.MeanQualityScore).
		Dur("duration", duration).
		Msg("aggregation run completed")
	return run, nil
}

// failRun moves the run to the failed state and emits the failure event.
// It always returns the causing error.
func (s *AggregationService) failRun(ctx context.Context, run *domain.AggregationRun, phase string, cause error) (*domain.AggregationRun, error) {
	message := fmt.Sprintf("%s: %v", phase, cause)
	if err := s.runs.UpdateStatus(ctx, run.ID, domain.RunStatusFailed, message); err != nil {
		s.logger.Error().Err(err).
			Str("run_id", run.ID.String()).
			Msg("failed to record run failure")
	}
	now := time.Now().UTC()
	run.Status = domain.RunStatusFailed
	run.ErrorMessage = message
	run.CompletedAt = &now

	s.metrics.RecordRunFailed(run.Duration().Seconds())
	if err := s.publisher.PublishRunFailed(ctx, run, phase, cause); err != nil {
		s.logger.Warn().Err(err).
			Str("run_id", run.ID.String()).
			Msg("failed to publish run failed event")
	}

	s.logger.Error().Err(cause).
		Str("run_id", run.ID.String()).
		Str("phase", phase).
		Msg("aggregation run failed")
	return run, cause
}

// GetRun retrieves a run by ID.
func (s *AggregationService) GetRun(ctx context.Context, runID uuid.UUID) (*domain.AggregationRun, error) {
	return s.runs.Get(ctx, runID)
}

// ListRuns retrieves runs matching the filter together with the total
// match count.
func (s *AggregationService) ListRuns(ctx context.Context, filter repository.RunFilter) ([]*domain.AggregationRun, int64, error) {
	return s.runs.List(ctx, filter)
}

// DeleteRun removes a run and its stored papers. Running runs cannot be
// deleted.
func (s *AggregationService) DeleteRun(ctx context.Context, runID uuid.UUID) error {
	run, err := s.runs.Get(ctx, runID)
	if err != nil {
		return err
	}
	if run.Status == domain.RunStatusRunning {
		return fmt.Errorf("cannot delete a running run: %w", domain.ErrInvalidTransition)
	}
	return s.runs.Delete(ctx, runID)
}

// ListPapers retrieves the stored papers of a run matching the filter.
func (s *AggregationService) ListPapers(ctx context.Context, runID uuid.UUID, filter repository.PaperFilter) ([]*repository.StoredPaper, int64, error) {
	if _, err := s.runs.Get(ctx, runID); err != nil {
		return nil, 0, err
	}
	return s.papers.ListByRun(ctx, runID, filter)
}

// ResultSet reconstructs the merged result set of a completed run for
// export.
func (s *AggregationService) ResultSet(ctx context.Context, runID uuid.UUID) (*domain.SearchResultSet, error) {
	run, err := s.runs.Get(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status != domain.RunStatusCompleted {
		return nil, fmt.Errorf("run %s has not completed: %w", runID, domain.ErrInvalidTransition)
	}
	return s.papers.ResultSetForRun(ctx, runID)
}
