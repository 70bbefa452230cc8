package pipeline

import (
	"context"
	"runtime"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evidlab/study-aggregation-service/internal/domain"
)

func newTestRunner(cfg Config) *Runner {
	return NewRunner(cfg, zerolog.Nop())
}

// Three sources contribute records describing two studies. The PubMed and
// ClinicalTrials records carry the same title, and the PubMed DOI is
// malformed, so the pair must merge through the title-similarity path.
func TestRunner_ThreeSourceRun(t *testing.T) {
	records := map[domain.SourceName][]domain.RawRecord{
		domain.SourcePubMed: {
			{
				"PMID": "11111",
				"TI":   "Effects of Telehealth on Chronic Disease Management",
				"AU":   []string{"Smith J", "Doe A"},
				"AB":   "A pragmatic evaluation of remote monitoring for chronic care.",
				"DP":   "2021 Mar 15",
				"PT":   []string{"Randomized Controlled Trial", "Journal Article"},
				"LID":  "10.1/ABC [doi]",
			},
		},
		domain.SourceCochrane: {
			{
				"id":      "CD42",
				"title":   "Cognitive Behavioural Therapy for Insomnia: A Systematic Review",
				"authors": "Walker M; Hall P",
				"url":     "https://www.cochranelibrary.com/review/CD42",
			},
		},
		domain.SourceClinicalTrials: {
			{
				"nct_id":      "NCT777",
				"brief_title": "Effects of telehealth on chronic disease management.",
				"enrollment":  float64(120),
				"start_date":  "March 2021",
				"study_type":  "Interventional",
			},
		},
	}

	rs, report, summary, err := newTestRunner(Config{Workers: 2}).Run(context.Background(), records)
	require.NoError(t, err)
	require.NotNil(t, rs)

	assert.Equal(t, 2, rs.Size())
	assert.Equal(t, 3, rs.IngestedTotal)
	assert.Equal(t, 0, rs.ParseFailures)
	assert.Equal(t, &domain.SourceCount{Raw: 1, Ingested: 1}, rs.SourceCounts[domain.SourcePubMed])
	assert.Equal(t, &domain.SourceCount{Raw: 1, Ingested: 1}, rs.SourceCounts[domain.SourceClinicalTrials])

	merged, ok := rs.Papers["title:effects of telehealth on chronic disease management|y=2021"]
	require.True(t, ok, "result keys: %v", rs.Keys())
	assert.Equal(t, "Effects of Telehealth on Chronic Disease Management", merged.Title)
	assert.Equal(t, []string{"Smith, J", "Doe, A"}, merged.Authors)
	assert.Equal(t, 2021, merged.Year)
	assert.Equal(t, domain.StudyTypeRCT, merged.StudyType)
	require.NotNil(t, merged.SampleSize)
	assert.Equal(t, 120, *merged.SampleSize)
	assert.Empty(t, merged.DOI, "malformed DOI should have been dropped during normalization")
	assert.Equal(t, []domain.SourceRecord{
		{Source: domain.SourceClinicalTrials, RecordID: "NCT777"},
		{Source: domain.SourcePubMed, RecordID: "11111"},
	}, merged.Provenance)

	review, ok := rs.Papers["title:cognitive behavioural therapy for insomnia a systematic review|y=0"]
	require.True(t, ok, "result keys: %v", rs.Keys())
	assert.Equal(t, domain.StudyTypeMetaAnalysis, review.StudyType)
	assert.Equal(t, []string{"Walker, M", "Hall, P"}, review.Authors)
	assert.Equal(t, []string{"https://www.cochranelibrary.com/review/CD42"}, review.FullTextLinks)

	require.NotNil(t, report)
	require.Len(t, report.Papers, 2)
	// Papers are ordered by dedup key, so the review comes first.
	assert.Equal(t, 100, report.Papers[0].QualityScore)
	assert.Equal(t, 75, report.Papers[1].QualityScore)
	assert.True(t, report.Papers[1].HasIssue(domain.IssueNoFullText))
	assert.InDelta(t, 87.5, report.MeanQualityScore, 1e-9)
	assert.False(t, report.BelowThreshold)
	assert.Equal(t, 1, report.IssueCounts[domain.IssueNoFullText])
	assert.Equal(t, 100.0, report.FieldCompleteness["title"])
	assert.Equal(t, 50.0, report.FieldCompleteness["year"])
	assert.Equal(t, 0.0, report.FieldCompleteness["doi"])

	require.NotNil(t, summary)
	assert.Equal(t, 2, summary.TotalPapers)
	assert.Equal(t, map[string]int{"rct": 1, "meta_analysis": 1}, summary.StudyCounts)
	require.NotNil(t, summary.SampleSizes)
	assert.Equal(t, 1, summary.SampleSizes.Count)
	assert.Equal(t, 120.0, summary.SampleSizes.Mean)
	require.NotNil(t, summary.Years)
	assert.Equal(t, 2021, summary.Years.MinYear)
	assert.Equal(t, 2021, summary.Years.MaxYear)
	require.NotNil(t, summary.PooledEstimate)
	assert.Equal(t, 120.0, *summary.PooledEstimate)
	assert.Equal(t, 1, summary.PoolableCount)
}

func TestRunner_CountsParseFailuresAndContinues(t *testing.T) {
	records := map[domain.SourceName][]domain.RawRecord{
		domain.SourcePubMed: {
			{"PMID": "1", "TI": "Aspirin for Primary Prevention of Cardiovascular Events"},
			{"PMID": "2"},
			{"PMID": "3", "TI": "x"},
		},
	}

	rs, report, summary, err := newTestRunner(Config{Workers: 1}).Run(context.Background(), records)
	require.NoError(t, err)

	assert.Equal(t, 1, rs.Size())
	assert.Equal(t, 1, rs.IngestedTotal)
	assert.Equal(t, 2, rs.ParseFailures)
	assert.Equal(t, &domain.SourceCount{Raw: 3, Ingested: 1, Failed: 2}, rs.SourceCounts[domain.SourcePubMed])
	require.Len(t, report.Papers, 1)
	assert.Equal(t, 1, summary.TotalPapers)
}

func TestRunner_EmptyInput(t *testing.T) {
	rs, report, summary, err := newTestRunner(Config{}).Run(context.Background(), nil)
	require.NoError(t, err)

	require.NotNil(t, rs)
	assert.Equal(t, 0, rs.Size())
	assert.Equal(t, 0, rs.IngestedTotal)

	require.NotNil(t, report)
	assert.Empty(t, report.Papers)
	assert.Zero(t, report.MeanQualityScore)
	assert.False(t, report.BelowThreshold)
	assert.Equal(t, 80.0, report.Threshold)

	require.NotNil(t, summary)
	assert.Empty(t, summary.StudyCounts)
	assert.Nil(t, summary.SampleSizes)
	assert.Nil(t, summary.Years)
	assert.Nil(t, summary.PooledEstimate)
}

func TestRunner_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	records := map[domain.SourceName][]domain.RawRecord{
		domain.SourcePubMed: {{"PMID": "1", "TI": "Aspirin for Primary Prevention"}},
	}

	rs, report, summary, err := newTestRunner(Config{}).Run(ctx, records)
	require.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, rs)
	assert.Nil(t, report)
	assert.Nil(t, summary)
}

// The result must not depend on how records are distributed over workers.
func TestRunner_WorkerCountInvariance(t *testing.T) {
	records := map[domain.SourceName][]domain.RawRecord{
		domain.SourcePubMed: {
			{
				"PMID": "31", "TI": "Vitamin D Supplementation in Older Adults",
				"AU": []string{"Lee K"}, "DP": "2019 Jun", "LID": "10.1000/vitd.1 [doi]",
				"PT": []string{"Randomized Controlled Trial"},
			},
			{"PMID": "32", "TI": "Exercise Therapy for Low Back Pain", "DP": "2020 Jan"},
			{"PMID": "99"},
		},
		domain.SourceCochrane: {
			{
				"id": "CD7", "title": "Vitamin D for Fracture Prevention",
				"doi": "https://doi.org/10.1000/VITD.1", "abstract": "Review of supplementation trials.",
			},
			{"id": "CD8", "title": "Statins for Primary Prevention", "authors": "Chan R; Ortiz B"},
		},
		domain.SourceClinicalTrials: {
			{
				"nct_id": "NCT21", "brief_title": "Exercise therapy for low back pain.",
				"start_date": "2020", "enrollment": float64(80),
			},
			{
				"nct_id": "NCT5", "brief_title": "Mindfulness App for Generalized Anxiety",
				"start_date": "2022", "enrollment": float64(200),
			},
		},
	}

	run := func(workers int) (*domain.SearchResultSet, *domain.ValidationReport, *domain.StatisticsReport) {
		rs, report, summary, err := newTestRunner(Config{Workers: workers}).Run(context.Background(), records)
		require.NoError(t, err)
		return rs, report, summary
	}

	rs1, report1, summary1 := run(1)
	rs4, report4, summary4 := run(4)

	assert.Equal(t, 4, rs1.Size())
	assert.Equal(t, 6, rs1.IngestedTotal)
	assert.Equal(t, 1, rs1.ParseFailures)
	assert.Contains(t, rs1.Papers, "doi:10.1000/vitd.1")
	assert.Contains(t, rs1.Papers, "title:exercise therapy for low back pain|y=2020")

	assert.Equal(t, rs1, rs4)
	assert.Equal(t, report1, report4)
	assert.Equal(t, summary1, summary4)
}

func TestNewRunner_Defaults(t *testing.T) {
	r := newTestRunner(Config{})
	assert.Equal(t, runtime.NumCPU(), r.cfg.Workers)
}

func TestFromRunConfiguration(t *testing.T) {
	cfg := FromRunConfiguration(domain.RunConfiguration{
		Workers:             3,
		SimilarityThreshold: 0.85,
		QualityThreshold:    70,
		SourcePriority:      []domain.SourceName{domain.SourceCochrane, domain.SourcePubMed},
	})

	assert.Equal(t, 3, cfg.Workers)
	assert.Equal(t, 0.85, cfg.SimilarityThreshold)
	assert.Equal(t, 70.0, cfg.QualityThreshold)
	require.NotNil(t, cfg.Priority)
	assert.True(t, cfg.Priority.Less(domain.SourceCochrane, domain.SourcePubMed))

	assert.Nil(t, FromRunConfiguration(domain.RunConfiguration{}).Priority)
}
