// Package pipeline orchestrates one aggregation run: raw records are
// ingested and normalized on a worker pool, merged into a deduplicated
// result set, then validated and summarized.
package pipeline

import (
	"context"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/evidlab/study-aggregation-service/internal/dedup"
	"github.com/evidlab/study-aggregation-service/internal/domain"
	"github.com/evidlab/study-aggregation-service/internal/ingest"
	"github.com/evidlab/study-aggregation-service/internal/normalize"
	"github.com/evidlab/study-aggregation-service/internal/stats"
	"github.com/evidlab/study-aggregation-service/internal/validate"
)

// Config controls how a Runner executes runs.
type Config struct {
	// Workers bounds the ingest worker pool. Zero or negative falls
	// back to runtime.NumCPU().
	Workers int

	// SimilarityThreshold is handed to the dedup Builder.
	SimilarityThreshold float64

	// QualityThreshold is handed to the Validator.
	QualityThreshold float64

	// Priority resolves merge conflicts between sources. Nil falls back
	// to the default source order.
	Priority *domain.SourcePriority

	// Now is the validator clock. Nil falls back to time.Now.
	Now func() time.Time
}

// FromRunConfiguration maps a persisted run configuration onto pipeline
// settings. An empty source priority list keeps the default order.
func FromRunConfiguration(rc domain.RunConfiguration) Config {
	cfg := Config{
		Workers:             rc.Workers,
		SimilarityThreshold: rc.SimilarityThreshold,
		QualityThreshold:    rc.QualityThreshold,
	}
	if len(rc.SourcePriority) > 0 {
		cfg.Priority = domain.NewSourcePriority(rc.SourcePriority)
	}
	return cfg
}

// Runner executes aggregation runs over batches of raw source records.
type Runner struct {
	cfg       Config
	validator *validate.Validator
	logger    zerolog.Logger
}

// NewRunner creates a Runner. Zero config fields fall back to defaults.
func NewRunner(cfg Config, logger zerolog.Logger) *Runner {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	return &Runner{
		cfg: cfg,
		validator: validate.New(validate.Config{
			Threshold: cfg.QualityThreshold,
			Now:       cfg.Now,
		}),
		logger: logger,
	}
}

// job pairs one raw record with the source that returned it.
type job struct {
	source domain.SourceName
	raw    domain.RawRecord
}

// Run executes one aggregation over the given records.
//
// Ingestion and normalization fan out over the worker pool; every worker
// owns a private dedup Builder and accounting partition, and partitions
// reduce pairwise once the pool drains. Validation and statistics then
// run concurrently over the finalized result set. Unparsable records are
// counted per source and skipped, never fatal. Cancelling ctx stops the
// run between records and returns the context error.
func (r *Runner) Run(ctx context.Context, records map[domain.SourceName][]domain.RawRecord) (*domain.SearchResultSet, *domain.ValidationReport, *domain.StatisticsReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, nil, err
	}

	jobs := flatten(records)
	workers := r.cfg.Workers
	if workers > len(jobs) {
		workers = len(jobs)
	}

	r.logger.Info().
		Int("records", len(jobs)).
		Int("workers", workers).
		Msg("starting aggregation pipeline")

	rs, err := r.mergeRecords(ctx, jobs, workers)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, nil, err
	}

	var (
		wg      sync.WaitGroup
		report  *domain.ValidationReport
		summary *domain.StatisticsReport
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		report = r.validator.Validate(rs)
	}()
	go func() {
		defer wg.Done()
		summary = stats.Summarize(rs)
	}()
	wg.Wait()

	r.logger.Info().
		Int("papers", rs.Size()).
		Int("ingested", rs.IngestedTotal).
		Int("parse_failures", rs.ParseFailures).
		Float64("mean_quality_score", report.MeanQualityScore).
		Msg("aggregation pipeline completed")

	return rs, report, summary, nil
}

// mergeRecords runs the ingest pool and reduces the per-worker partitions
// into one result set.
func (r *Runner) mergeRecords(ctx context.Context, jobs []job, workers int) (*domain.SearchResultSet, error) {
	if len(jobs) == 0 {
		return domain.NewSearchResultSet(), nil
	}

	dedupCfg := dedup.Config{
		SimilarityThreshold: r.cfg.SimilarityThreshold,
		Priority:            r.cfg.Priority,
	}

	builders := make([]*dedup.Builder, workers)
	partitions := make([]*domain.SearchResultSet, workers)
	feed := make(chan job)
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		builders[i] = dedup.NewBuilder(dedupCfg)
		partitions[i] = domain.NewSearchResultSet()

		wg.Add(1)
		go func(b *dedup.Builder, acc *domain.SearchResultSet) {
			defer wg.Done()
			for j := range feed {
				draft, err := ingest.Ingest(j.raw, j.source)
				if err != nil {
					acc.RecordParseFailure(j.source)
					r.logger.Debug().
						Err(err).
						Str("source", string(j.source)).
						Msg("skipping unparsable record")
					continue
				}
				acc.RecordIngested(j.source)
				b.Add(normalize.Normalize(draft))
			}
		}(builders[i], partitions[i])
	}

	var feedErr error
dispatch:
	for _, j := range jobs {
		select {
		case <-ctx.Done():
			feedErr = ctx.Err()
			break dispatch
		case feed <- j:
		}
	}
	close(feed)
	wg.Wait()

	if feedErr != nil {
		return nil, feedErr
	}

	// Pairwise reduction; Builder.Merge is associative, so the shape of
	// the reduction does not affect the result.
	for len(builders) > 1 {
		next := make([]*dedup.Builder, 0, (len(builders)+1)/2)
		for i := 0; i < len(builders); i += 2 {
			if i+1 < len(builders) {
				builders[i].Merge(builders[i+1])
			}
			next = append(next, builders[i])
		}
		builders = next
	}

	rs := builders[0].Build()
	for _, p := range partitions {
		rs.AddCounts(p)
	}
	return rs, nil
}

// flatten orders the record batches by source name so runs are fed
// deterministically.
func flatten(records map[domain.SourceName][]domain.RawRecord) []job {
	sources := make([]domain.SourceName, 0, len(records))
	for source := range records {
		sources = append(sources, source)
	}
	sort.Slice(sources, func(i, j int) bool { return sources[i] < sources[j] })

	var jobs []job
	for _, source := range sources {
		for _, raw := range records[source] {
			jobs = append(jobs, job{source: source, raw: raw})
		}
	}
	return jobs
}
