// Package pipeline provides integration tests for the aggregation flow:
// search -> ingest -> normalize -> dedup -> validate -> statistics.
package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evidlab/study-aggregation-service/internal/domain"
	"github.com/evidlab/study-aggregation-service/internal/pipeline"
	"github.com/evidlab/study-aggregation-service/internal/sources"
)

// fakeSource serves a canned record batch through the registry, standing in
// for a live search service.
type fakeSource struct {
	name    domain.SourceName
	records []domain.RawRecord
	err     error
}

func (s *fakeSource) Search(_ context.Context, _ sources.SearchParams) (*sources.SearchResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &sources.SearchResult{
		Records:        s.records,
		TotalResults:   len(s.records),
		Source:         s.name,
		SearchDuration: time.Millisecond,
	}, nil
}

func (s *fakeSource) SourceName() domain.SourceName { return s.name }
func (s *fakeSource) Name() string                  { return string(s.name) }
func (s *fakeSource) IsEnabled() bool               { return true }

// Batches modelled on each service's native record shape. The statin trial
// appears in PubMed and Cochrane under the same DOI; the telehealth trial
// appears in PubMed and ClinicalTrials.gov with no DOI but near-identical
// titles and the same publication year.
func pubmedBatch() []domain.RawRecord {
	return []domain.RawRecord{
		{
			"PMID": "30100",
			"TI":   "Statins for Primary Prevention of Cardiovascular Disease: a Randomized Controlled Trial",
			"AU":   []string{"Turner R", "Patel S"},
			"AB":   "We enrolled 2104 participants across 14 centers.",
			"DP":   "2020 Jun",
			"PT":   []string{"Randomized Controlled Trial", "Journal Article"},
			"LID":  "10.5000/statins.ppcd [doi]",
		},
		{
			"PMID": "30200",
			"TI":   "Telehealth Coaching for Type 2 Diabetes Management",
			"AU":   []string{"Okafor N", "Lindqvist E"},
			"AB":   "Structured coaching delivered by videoconference.",
			"DP":   "2021 Jan",
			"PT":   []string{"Journal Article"},
		},
		{
			// No title: must be counted as a parse failure and skipped.
			"PMID": "30999",
		},
	}
}

func cochraneBatch() []domain.RawRecord {
	return []domain.RawRecord{
		{
			"title":            "Statins for primary prevention of cardiovascular disease: a randomized controlled trial.",
			"doi":              "https://doi.org/10.5000/STATINS.PPCD",
			"authors":          "Turner R; Patel S; Liu W",
			"abstract":         "Large primary prevention trial of statin therapy.",
			"publication_date": "2020",
			"url":              "https://example.org/statins-fulltext.pdf",
		},
		{
			"title":            "Statin Therapy for Cardiovascular Outcomes: Systematic Review and Meta-Analysis",
			"doi":              "10.6000/cochrane.cd0042",
			"authors":          "Moreau C; Da Silva P",
			"abstract":         "Pooled analysis of randomized trials of statin therapy.",
			"publication_date": "2019",
			"publication_type": "Meta-Analysis",
		},
	}
}

func trialsBatch() []domain.RawRecord {
	return []domain.RawRecord{
		{
			"nct_id":      "NCT04112233",
			"brief_title": "Telehealth coaching for type 2 diabetes management",
			"enrollment":  float64(340),
			"start_date":  "2021-03-01",
			"study_type":  "Interventional",
			"design":      "Randomized, parallel assignment",
		},
		{
			"nct_id":      "NCT05556677",
			"brief_title": "Remote Monitoring in Heart Failure",
			"enrollment":  float64(620),
			"start_date":  "2018-05-02",
			"design":      "Prospective cohort",
		},
	}
}

func searchAndCollect(t *testing.T) map[domain.SourceName][]domain.RawRecord {
	t.Helper()

	registry := sources.NewRegistry()
	registry.Register(&fakeSource{name: domain.SourcePubMed, records: pubmedBatch()})
	registry.Register(&fakeSource{name: domain.SourceCochrane, records: cochraneBatch()})
	registry.Register(&fakeSource{name: domain.SourceClinicalTrials, records: trialsBatch()})

	results := registry.SearchAll(context.Background(), sources.SearchParams{Query: "cardiovascular"})
	require.Len(t, results, 3)
	for _, sr := range results {
		require.NoError(t, sr.Err)
	}
	return sources.CollectRecords(results)
}

func TestAggregationFlow(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	records := searchAndCollect(t)
	runner := pipeline.NewRunner(pipeline.Config{Workers: 4}, zerolog.Nop())

	rs, validation, statistics, err := runner.Run(context.Background(), records)
	require.NoError(t, err)

	t.Run("counts records per source", func(t *testing.T) {
		assert.Equal(t, 6, rs.IngestedTotal)
		assert.Equal(t, 1, rs.ParseFailures)

		require.Contains(t, rs.SourceCounts, domain.SourcePubMed)
		assert.Equal(t, 2, rs.SourceCounts[domain.SourcePubMed].Ingested)
		assert.Equal(t, 1, rs.SourceCounts[domain.SourcePubMed].Failed)
		assert.Equal(t, 2, rs.SourceCounts[domain.SourceCochrane].Ingested)
		assert.Equal(t, 2, rs.SourceCounts[domain.SourceClinicalTrials].Ingested)
	})

	t.Run("merges duplicates across sources", func(t *testing.T) {
		require.Equal(t, 4, rs.Size(), "keys: %v", rs.Keys())

		statins := rs.Papers["doi:10.5000/statins.ppcd"]
		require.NotNil(t, statins, "DOI merge across PubMed and Cochrane")
		assert.Len(t, statins.Provenance, 2)
		// PubMed outranks Cochrane in the default priority, so its title
		// casing wins; the Cochrane full text link still accumulates.
		assert.Equal(t, "Statins for Primary Prevention of Cardiovascular Disease: a Randomized Controlled Trial", statins.Title)
		assert.Contains(t, statins.FullTextLinks, "https://example.org/statins-fulltext.pdf")
		assert.Contains(t, statins.FullTextLinks, "https://doi.org/10.5000/statins.ppcd")
		assert.Equal(t, domain.StudyTypeRCT, statins.StudyType)
		require.NotNil(t, statins.SampleSize)
		assert.Equal(t, 2104, *statins.SampleSize, "sample size extracted from abstract")

		telehealth := rs.Papers["title:telehealth coaching for type 2 diabetes management|y=2021"]
		require.NotNil(t, telehealth, "title merge across PubMed and ClinicalTrials.gov")
		assert.Len(t, telehealth.Provenance, 2)
		assert.Equal(t, "Telehealth Coaching for Type 2 Diabetes Management", telehealth.Title)
		assert.Equal(t, domain.StudyTypeRCT, telehealth.StudyType, "randomized design hint from the trial registry")
		require.NotNil(t, telehealth.SampleSize)
		assert.Equal(t, 340, *telehealth.SampleSize, "enrollment supplied by the trial registry")

		review := rs.Papers["doi:10.6000/cochrane.cd0042"]
		require.NotNil(t, review)
		assert.Equal(t, domain.StudyTypeMetaAnalysis, review.StudyType)
		assert.Equal(t, 2019, review.Year)

		monitoring := rs.Papers["title:remote monitoring in heart failure|y=2018"]
		require.NotNil(t, monitoring)
		assert.Equal(t, domain.StudyTypeCohort, monitoring.StudyType)
		assert.Empty(t, monitoring.Authors, "trial registry records carry no author list")
	})

	t.Run("validates merged entities", func(t *testing.T) {
		require.NotNil(t, validation)
		require.Len(t, validation.Papers, 4)
		assert.Equal(t, rs.Keys()[0], validation.Papers[0].DedupKey, "report follows key order")

		assert.Greater(t, validation.MeanQualityScore, 0.0)
		// The registry-only records have no authors and no full text link.
		assert.GreaterOrEqual(t, validation.IssueCounts[domain.IssueMissingAuthors], 1)
		assert.GreaterOrEqual(t, validation.IssueCounts[domain.IssueNoFullText], 1)
		assert.Equal(t, 100.0, validation.FieldCompleteness["title"])
		assert.Equal(t, 100.0, validation.FieldCompleteness["year"])
		assert.Equal(t, 50.0, validation.FieldCompleteness["doi"])
	})

	t.Run("summarizes statistics", func(t *testing.T) {
		require.NotNil(t, statistics)
		assert.Equal(t, 4, statistics.TotalPapers)
		assert.Equal(t, 2, statistics.StudyCounts["rct"])
		assert.Equal(t, 1, statistics.StudyCounts["meta_analysis"])
		assert.Equal(t, 1, statistics.StudyCounts["cohort"])

		require.NotNil(t, statistics.Years)
		assert.Equal(t, 2018, statistics.Years.MinYear)
		assert.Equal(t, 2021, statistics.Years.MaxYear)

		require.NotNil(t, statistics.SampleSizes)
		assert.Equal(t, 3, statistics.SampleSizes.Count)
		assert.Equal(t, 340, statistics.SampleSizes.Min)
		assert.Equal(t, 2104, statistics.SampleSizes.Max)

		// rct and cohort entities reporting a sample size pool together.
		assert.Equal(t, 3, statistics.PoolableCount)
		require.NotNil(t, statistics.PooledEstimate)
		assert.InDelta(t, (2104.0+340.0+620.0)/3.0, *statistics.PooledEstimate, 0.001)
	})
}

func TestAggregationFlow_DegradedSource(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	registry := sources.NewRegistry()
	registry.Register(&fakeSource{name: domain.SourcePubMed, records: pubmedBatch()})
	registry.Register(&fakeSource{
		name: domain.SourceCochrane,
		err:  domain.NewExternalAPIError("Cochrane", 503, "maintenance window", nil),
	})

	results := registry.SearchAll(context.Background(), sources.SearchParams{Query: "cardiovascular"})
	require.Len(t, results, 2)

	records := sources.CollectRecords(results)
	require.NotContains(t, records, domain.SourceCochrane, "failed source contributes nothing")

	runner := pipeline.NewRunner(pipeline.Config{}, zerolog.Nop())
	rs, validation, statistics, err := runner.Run(context.Background(), records)
	require.NoError(t, err, "a degraded source must not fail the run")

	assert.Equal(t, 2, rs.IngestedTotal)
	assert.Equal(t, 2, rs.Size())
	assert.NotNil(t, validation)
	assert.NotNil(t, statistics)
}

func TestAggregationFlow_Cancellation(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	runner := pipeline.NewRunner(pipeline.Config{}, zerolog.Nop())
	_, _, _, err := runner.Run(ctx, map[domain.SourceName][]domain.RawRecord{
		domain.SourcePubMed: pubmedBatch(),
	})
	require.ErrorIs(t, err, context.Canceled)
}
