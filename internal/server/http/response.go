package httpserver

import (
	"time"

	"github.com/evidlab/study-aggregation-service/internal/domain"
	"github.com/evidlab/study-aggregation-service/internal/repository"
)

// Run response types for JSON serialization.

type startRunResponse struct {
	RunID     string    `json:"run_id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	Message   string    `json:"message"`
}

type runResponse struct {
	RunID            string          `json:"run_id"`
	Query            string          `json:"query,omitempty"`
	Status           string          `json:"status"`
	ErrorMessage     string          `json:"error_message,omitempty"`
	IngestedTotal    int             `json:"ingested_total"`
	ParseFailures    int             `json:"parse_failures"`
	PaperCount       int             `json:"paper_count"`
	MeanQualityScore float64         `json:"mean_quality_score"`
	BelowThreshold   bool            `json:"below_threshold"`
	Config           *configResponse `json:"configuration,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	StartedAt        *time.Time      `json:"started_at,omitempty"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty"`
	Duration         string          `json:"duration,omitempty"`
}

type configResponse struct {
	Sources             []string `json:"sources,omitempty"`
	MaxResultsPerSource int      `json:"max_results_per_source,omitempty"`
	SimilarityThreshold float64  `json:"similarity_threshold,omitempty"`
	QualityThreshold    float64  `json:"quality_threshold,omitempty"`
	SourcePriority      []string `json:"source_priority,omitempty"`
	Workers             int      `json:"workers,omitempty"`
}

type runSummaryResponse struct {
	RunID            string     `json:"run_id"`
	Query            string     `json:"query,omitempty"`
	Status           string     `json:"status"`
	PaperCount       int        `json:"paper_count"`
	IngestedTotal    int        `json:"ingested_total"`
	MeanQualityScore float64    `json:"mean_quality_score"`
	BelowThreshold   bool       `json:"below_threshold"`
	CreatedAt        time.Time  `json:"created_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	Duration         string     `json:"duration,omitempty"`
}

type listRunsResponse struct {
	Runs          []runSummaryResponse `json:"runs"`
	NextPageToken string               `json:"next_page_token,omitempty"`
	TotalCount    int                  `json:"total_count"`
}

type reportResponse struct {
	RunID      string                   `json:"run_id"`
	Status     string                   `json:"status"`
	Validation *domain.ValidationReport `json:"validation,omitempty"`
	Statistics *domain.StatisticsReport `json:"statistics,omitempty"`
}

type paperResponse struct {
	ID            string   `json:"id"`
	DedupKey      string   `json:"dedup_key"`
	Title         string   `json:"title"`
	Authors       []string `json:"authors,omitempty"`
	DOI           string   `json:"doi,omitempty"`
	Year          int      `json:"year,omitempty"`
	SampleSize    *int     `json:"sample_size,omitempty"`
	StudyType     string   `json:"study_type,omitempty"`
	Abstract      string   `json:"abstract,omitempty"`
	FullTextLinks []string `json:"full_text_links,omitempty"`
	Sources       []string `json:"sources,omitempty"`
}

type listPapersResponse struct {
	Papers        []paperResponse `json:"papers"`
	NextPageToken string          `json:"next_page_token,omitempty"`
	TotalCount    int             `json:"total_count"`
}

// Converter functions

func domainRunToResponse(r *domain.AggregationRun) runResponse {
	resp := runResponse{
		RunID:            r.ID.String(),
		Query:            r.Query,
		Status:           string(r.Status),
		ErrorMessage:     r.ErrorMessage,
		IngestedTotal:    r.IngestedTotal,
		ParseFailures:    r.ParseFailures,
		PaperCount:       r.PaperCount,
		MeanQualityScore: r.MeanQualityScore,
		BelowThreshold:   r.BelowThreshold,
		Config:           domainConfigToResponse(r.Configuration),
		CreatedAt:        r.CreatedAt,
		StartedAt:        r.StartedAt,
		CompletedAt:      r.CompletedAt,
	}
	if d := r.Duration(); d > 0 {
		resp.Duration = d.String()
	}
	return resp
}

func domainConfigToResponse(c domain.RunConfiguration) *configResponse {
	return &configResponse{
		Sources:             sourceNamesToStrings(c.Sources),
		MaxResultsPerSource: c.MaxResultsPerSource,
		SimilarityThreshold: c.SimilarityThreshold,
		QualityThreshold:    c.QualityThreshold,
		SourcePriority:      sourceNamesToStrings(c.SourcePriority),
		Workers:             c.Workers,
	}
}

func domainRunToSummary(r *domain.AggregationRun) runSummaryResponse {
	resp := runSummaryResponse{
		RunID:            r.ID.String(),
		Query:            r.Query,
		Status:           string(r.Status),
		PaperCount:       r.PaperCount,
		IngestedTotal:    r.IngestedTotal,
		MeanQualityScore: r.MeanQualityScore,
		BelowThreshold:   r.BelowThreshold,
		CreatedAt:        r.CreatedAt,
		CompletedAt:      r.CompletedAt,
	}
	if d := r.Duration(); d > 0 {
		resp.Duration = d.String()
	}
	return resp
}

func storedPaperToResponse(p *repository.StoredPaper) paperResponse {
	sources := make([]string, 0, len(p.Paper.Provenance))
	seen := make(map[domain.SourceName]bool, len(p.Paper.Provenance))
	for _, rec := range p.Paper.Provenance {
		if !seen[rec.Source] {
			seen[rec.Source] = true
			sources = append(sources, string(rec.Source))
		}
	}
	return paperResponse{
		ID:            p.ID.String(),
		DedupKey:      p.DedupKey,
		Title:         p.Paper.Title,
		Authors:       p.Paper.Authors,
		DOI:           p.Paper.DOI,
		Year:          p.Paper.Year,
		SampleSize:    p.Paper.SampleSize,
		StudyType:     string(p.Paper.StudyType),
		Abstract:      p.Paper.Abstract,
		FullTextLinks: p.Paper.FullTextLinks,
		Sources:       sources,
	}
}

func sourceNamesToStrings(names []domain.SourceName) []string {
	if len(names) == 0 {
		return nil
	}
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = string(n)
	}
	return out
}
