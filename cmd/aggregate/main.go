// Package main provides a CLI tool that runs the aggregation pipeline
// without the server: records come from a live search, a JSON batch file,
// or a MEDLINE export, and the merged result set is written as CSV.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/evidlab/study-aggregation-service/internal/config"
	"github.com/evidlab/study-aggregation-service/internal/domain"
	"github.com/evidlab/study-aggregation-service/internal/export"
	"github.com/evidlab/study-aggregation-service/internal/fulltext"
	"github.com/evidlab/study-aggregation-service/internal/observability"
	"github.com/evidlab/study-aggregation-service/internal/pipeline"
	"github.com/evidlab/study-aggregation-service/internal/sources"
	"github.com/evidlab/study-aggregation-service/internal/sources/clinicaltrials"
	"github.com/evidlab/study-aggregation-service/internal/sources/cochrane"
	"github.com/evidlab/study-aggregation-service/internal/sources/pubmed"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Input modes (exactly one).
	query := flag.String("query", "", "Search the configured sources for this query")
	recordsPath := flag.String("records", "", "Read raw records from a JSON file keyed by source name")
	medlinePath := flag.String("medline", "", "Read raw records from a MEDLINE format file")

	// Search settings (query mode only).
	sourceList := flag.String("sources", "", "Comma-separated sources to search (default: all enabled)")
	maxResults := flag.Int("max-results", 100, "Maximum results per source")

	// Pipeline settings.
	similarity := flag.Float64("similarity", 0.9, "Title similarity threshold for duplicate detection (0-1)")
	quality := flag.Float64("quality", 80, "Advisory minimum mean quality score (0-100)")
	workers := flag.Int("workers", 0, "Ingest worker pool size (0 = one per CPU)")

	// Outputs.
	csvPath := flag.String("csv", "", "Write the merged result set as CSV to this file (default: stdout)")
	reportPath := flag.String("report", "", "Write the validation and statistics reports as JSON to this file")
	checkLinks := flag.Bool("check-links", false, "Probe the full text links of the merged result set")
	verbose := flag.Bool("v", false, "Enable debug logging")
	flag.Parse()

	modes := 0
	for _, mode := range []string{*query, *recordsPath, *medlinePath} {
		if mode != "" {
			modes++
		}
	}
	if modes != 1 {
		flag.Usage()
		return fmt.Errorf("specify exactly one of -query, -records, -medline")
	}

	level := "info"
	if *verbose {
		level = "debug"
	}
	logger := observability.NewLogger(observability.LoggingConfig{
		Level:      level,
		Format:     "console",
		Output:     "stderr",
		TimeFormat: time.RFC3339,
	})
	logger = logger.With().Str("component", "aggregate").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Collect raw records.
	var records map[domain.SourceName][]domain.RawRecord
	var err error
	switch {
	case *query != "":
		records, err = searchRecords(ctx, *query, *sourceList, *maxResults, logger)
	case *recordsPath != "":
		records, err = loadRecordsFile(*recordsPath)
	case *medlinePath != "":
		records, err = loadMedlineFile(*medlinePath)
	}
	if err != nil {
		return err
	}

	total := 0
	for source, batch := range records {
		logger.Info().Str("source", string(source)).Int("records", len(batch)).Msg("records collected")
		total += len(batch)
	}
	if total == 0 {
		return fmt.Errorf("no records to aggregate")
	}

	// Run the pipeline.
	runner := pipeline.NewRunner(pipeline.Config{
		Workers:             *workers,
		SimilarityThreshold: *similarity,
		QualityThreshold:    *quality,
	}, logger)

	rs, validation, statistics, err := runner.Run(ctx, records)
	if err != nil {
		return fmt.Errorf("run pipeline: %w", err)
	}

	logger.Info().
		Int("ingested", rs.IngestedTotal).
		Int("parse_failures", rs.ParseFailures).
		Int("papers", rs.Size()).
		Float64("mean_quality_score", validation.MeanQualityScore).
		Msg("aggregation complete")

	// Optionally probe full text links before writing outputs.
	var links []fulltext.PaperLinks
	if *checkLinks {
		checker := fulltext.NewChecker(config.FulltextConfig{}, nil, logger)
		links = checker.CheckResultSet(ctx, rs)
		alive, totalLinks := fulltext.AliveCount(links)
		logger.Info().
			Int("alive", alive).
			Int("total", totalLinks).
			Msg("full text links probed")
	}

	if err := writeCSV(*csvPath, rs); err != nil {
		return err
	}
	if *reportPath != "" {
		if err := writeReport(*reportPath, rs, validation, statistics, links); err != nil {
			return err
		}
		logger.Info().Str("path", *reportPath).Msg("report written")
	}

	return nil
}

// searchRecords queries the configured sources and collects the raw
// records. A failed source is logged and skipped; the aggregation
// proceeds with whatever the remaining sources returned.
func searchRecords(ctx context.Context, query, sourceList string, maxResults int, logger zerolog.Logger) (map[domain.SourceName][]domain.RawRecord, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	registry := sources.NewRegistry()
	registry.Register(pubmed.New(pubmed.Config{
		BaseURL:      cfg.Sources.PubMed.BaseURL,
		APIKey:       cfg.Sources.PubMed.APIKey,
		ContactEmail: cfg.Sources.ContactEmail,
		Timeout:      cfg.Sources.PubMed.Timeout,
		RateLimit:    cfg.Sources.PubMed.RateLimit,
		MaxResults:   cfg.Sources.PubMed.MaxResults,
		Enabled:      cfg.Sources.PubMed.Enabled,
	}))
	registry.Register(cochrane.New(cochrane.Config{
		BaseURL:    cfg.Sources.Cochrane.BaseURL,
		APIKey:     cfg.Sources.Cochrane.APIKey,
		Timeout:    cfg.Sources.Cochrane.Timeout,
		RateLimit:  cfg.Sources.Cochrane.RateLimit,
		MaxResults: cfg.Sources.Cochrane.MaxResults,
		Enabled:    cfg.Sources.Cochrane.Enabled,
	}))
	registry.Register(clinicaltrials.New(clinicaltrials.Config{
		BaseURL:    cfg.Sources.ClinicalTrials.BaseURL,
		Timeout:    cfg.Sources.ClinicalTrials.Timeout,
		RateLimit:  cfg.Sources.ClinicalTrials.RateLimit,
		MaxResults: cfg.Sources.ClinicalTrials.MaxResults,
		Enabled:    cfg.Sources.ClinicalTrials.Enabled,
	}))

	var names []domain.SourceName
	if sourceList != "" {
		for _, raw := range strings.Split(sourceList, ",") {
			name := domain.SourceName(strings.TrimSpace(raw))
			if !name.IsKnown() {
				return nil, fmt.Errorf("unknown source %q", name)
			}
			names = append(names, name)
		}
	}

	results := registry.SearchSources(ctx, sources.SearchParams{
		Query:      query,
		MaxResults: maxResults,
	}, names)
	if len(results) == 0 {
		return nil, fmt.Errorf("no configured source is available")
	}

	for _, sr := range results {
		if sr.Err != nil {
			logger.Warn().Err(sr.Err).Str("source", string(sr.Source)).Msg("source search failed")
		}
	}

	return sources.CollectRecords(results), nil
}

// loadRecordsFile reads a JSON object mapping source names to lists of
// raw records.
func loadRecordsFile(path string) (map[domain.SourceName][]domain.RawRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read records file: %w", err)
	}

	var batches map[string][]domain.RawRecord
	if err := json.Unmarshal(data, &batches); err != nil {
		return nil, fmt.Errorf("parse records file: %w", err)
	}

	records := make(map[domain.SourceName][]domain.RawRecord, len(batches))
	for name, batch := range batches {
		source := domain.SourceName(name)
		if !source.IsKnown() {
			return nil, fmt.Errorf("unknown source %q in records file", name)
		}
		records[source] = batch
	}
	return records, nil
}

// loadMedlineFile parses a MEDLINE export and attributes the records to
// PubMed, the source that produces the format.
func loadMedlineFile(path string) (map[domain.SourceName][]domain.RawRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open MEDLINE file: %w", err)
	}
	defer func() { _ = f.Close() }()

	batch, err := pubmed.ParseMedline(f)
	if err != nil {
		return nil, fmt.Errorf("parse MEDLINE file: %w", err)
	}
	return map[domain.SourceName][]domain.RawRecord{domain.SourcePubMed: batch}, nil
}

func writeCSV(path string, rs *domain.SearchResultSet) error {
	var w io.Writer = os.Stdout
	if path != "" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("create CSV file: %w", err)
		}
		defer func() { _ = f.Close() }()
		w = f
	}
	if err := export.WriteCSV(w, rs); err != nil {
		return fmt.Errorf("write CSV: %w", err)
	}
	return nil
}

// writeReport writes the run outcome as a single JSON document.
func writeReport(path string, rs *domain.SearchResultSet, validation *domain.ValidationReport, statistics *domain.StatisticsReport, links []fulltext.PaperLinks) error {
	report := struct {
		IngestedTotal int                      `json:"ingested_total"`
		ParseFailures int                      `json:"parse_failures"`
		PaperCount    int                      `json:"paper_count"`
		Validation    *domain.ValidationReport `json:"validation"`
		Statistics    *domain.StatisticsReport `json:"statistics"`
		FullTextLinks []fulltext.PaperLinks    `json:"full_text_links,omitempty"`
	}{
		IngestedTotal: rs.IngestedTotal,
		ParseFailures: rs.ParseFailures,
		PaperCount:    rs.Size(),
		Validation:    validation,
		Statistics:    statistics,
		FullTextLinks: links,
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}
