package domain

// IssueCode identifies one check in the validator battery.
type IssueCode string

// Issue codes emitted by the quality validator.
const (
	IssueMissingAuthors             IssueCode = "missing_authors"
	IssueImplausibleYear            IssueCode = "implausible_year"
	IssueMissingSampleSizeForDesign IssueCode = "missing_sample_size_for_design"
	IssueMalformedDOI               IssueCode = "malformed_doi"
	IssueNoFullText                 IssueCode = "no_full_text"
)

// PaperValidation holds the validation outcome for a single merged entity.
type PaperValidation struct {
	// DedupKey references the entity in its result set.
	DedupKey string `json:"dedup_key"`

	// Title is carried for readable reports.
	Title string `json:"title"`

	// Issues lists the checks that were applicable and failed.
	Issues []IssueCode `json:"issues,omitempty"`

	// Evaluated is the number of checks whose preconditions held.
	Evaluated int `json:"evaluated"`

	// Passed is the number of evaluated checks that passed.
	Passed int `json:"passed"`

	// QualityScore is round(100 * Passed / Evaluated).
	QualityScore int `json:"quality_score"`
}

// HasIssue reports whether the paper failed the given check.
func (v *PaperValidation) HasIssue(code IssueCode) bool {
	for _, issue := range v.Issues {
		if issue == code {
			return true
		}
	}
	return false
}

// ValidationReport aggregates validation outcomes across a result set.
type ValidationReport struct {
	// Papers holds per-entity outcomes, ordered by deduplication key.
	Papers []PaperValidation `json:"papers"`

	// MeanQualityScore is the mean of per-paper scores. Zero for an
	// empty result set.
	MeanQualityScore float64 `json:"mean_quality_score"`

	// IssueCounts tallies failures by issue code across all papers.
	IssueCounts map[IssueCode]int `json:"issue_counts,omitempty"`

	// FieldCompleteness maps field name to the percentage of papers
	// with that field populated.
	FieldCompleteness map[string]float64 `json:"field_completeness,omitempty"`

	// Threshold is the advisory minimum mean quality score.
	Threshold float64 `json:"threshold"`

	// BelowThreshold is set when MeanQualityScore < Threshold over a
	// non-empty result set. Advisory only; it never fails a run.
	BelowThreshold bool `json:"below_threshold"`
}

// StatisticsReport holds descriptive statistics over a result set.
type StatisticsReport struct {
	// TotalPapers is the number of merged entities summarized.
	TotalPapers int `json:"total_papers"`

	// StudyCounts tallies entities per study type reporting label,
	// including "unspecified" for entities with no classified design.
	StudyCounts map[string]int `json:"study_counts"`

	// SampleSizes summarizes reported sample sizes. Nil when no entity
	// carries one.
	SampleSizes *SampleSizeSummary `json:"sample_sizes,omitempty"`

	// Years summarizes publication years. Nil when no entity carries one.
	Years *YearDistribution `json:"years,omitempty"`

	// PooledEstimate is the unweighted mean sample size over the
	// poolable designs (rct, cohort, case_control) that report a sample
	// size. Nil when that subset is empty.
	PooledEstimate *float64 `json:"pooled_estimate,omitempty"`

	// PoolableCount is the size of the poolable subset.
	PoolableCount int `json:"poolable_count"`
}

// SampleSizeSummary describes the distribution of reported sample sizes.
type SampleSizeSummary struct {
	Count  int     `json:"count"`
	Total  int     `json:"total"`
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	StdDev float64 `json:"std_dev"`
	Min    int     `json:"min"`
	Max    int     `json:"max"`
}

// YearDistribution describes the distribution of publication years.
type YearDistribution struct {
	MinYear    int         `json:"min_year"`
	MaxYear    int         `json:"max_year"`
	MedianYear float64     `json:"median_year"`
	ByYear     map[int]int `json:"by_year"`
}
