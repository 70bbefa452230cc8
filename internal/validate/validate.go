// Package validate scores merged paper metadata for completeness and
// internal consistency.
package validate

import (
	"math"
	"time"

	"github.com/evidlab/study-aggregation-service/internal/domain"
)

// DefaultQualityThreshold is the advisory mean-score threshold used when
// the run configuration does not override it.
const DefaultQualityThreshold = 80.0

// MinPlausibleYear is the lower bound for publication years. The upper
// bound is next year, to admit articles published ahead of print.
const MinPlausibleYear = 1900

// Config holds the configuration for the Validator.
type Config struct {
	// Threshold overrides DefaultQualityThreshold when positive.
	Threshold float64

	// Now supplies the current time for the publication year upper
	// bound. Nil falls back to time.Now.
	Now func() time.Time
}

// Validator runs a fixed check battery over every entity of a result set.
// Failed checks become report issues, never errors; validation cannot
// fail a run.
type Validator struct {
	cfg Config
}

// New creates a Validator. Zero config fields fall back to defaults.
func New(cfg Config) *Validator {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultQualityThreshold
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Validator{cfg: cfg}
}

// completenessFields are the fields whose population percentage the
// report tracks.
var completenessFields = []string{"title", "authors", "year", "doi", "study_type", "sample_size"}

// Validate scores every merged entity and aggregates the outcomes.
//
// The battery per entity:
//   - missing_authors: fails when the author list is empty.
//   - implausible_year: evaluated when a year is set; fails outside
//     [1900, next year].
//   - missing_sample_size_for_design: evaluated for rct and cohort
//     designs; fails when no sample size was extracted.
//   - malformed_doi: evaluated when a DOI is set; fails when it does not
//     match the canonical pattern.
//   - no_full_text: fails when no full text link survived normalization.
//
// Checks whose precondition does not hold are excluded from the score
// denominator, so a paper is never penalized for fields it cannot have.
// An empty result set yields a zero mean and no advisory flag.
func (v *Validator) Validate(rs *domain.SearchResultSet) *domain.ValidationReport {
	report := &domain.ValidationReport{
		Threshold: v.cfg.Threshold,
	}
	if rs == nil || rs.Size() == 0 {
		return report
	}

	maxYear := v.cfg.Now().UTC().Year() + 1
	report.IssueCounts = make(map[domain.IssueCode]int)
	populated := make(map[string]int, len(completenessFields))

	var total float64
	for _, key := range rs.Keys() {
		paper := rs.Papers[key]
		outcome := checkPaper(key, paper, maxYear)
		report.Papers = append(report.Papers, outcome)
		total += float64(outcome.QualityScore)
		for _, issue := range outcome.Issues {
			report.IssueCounts[issue]++
		}
		countFields(populated, paper)
	}

	n := float64(len(report.Papers))
	report.MeanQualityScore = total / n
	report.BelowThreshold = report.MeanQualityScore < report.Threshold
	report.FieldCompleteness = make(map[string]float64, len(completenessFields))
	for _, field := range completenessFields {
		report.FieldCompleteness[field] = 100 * float64(populated[field]) / n
	}
	return report
}

func checkPaper(key string, paper *domain.PaperMetadata, maxYear int) domain.PaperValidation {
	outcome := domain.PaperValidation{
		DedupKey: key,
		Title:    paper.Title,
	}

	evaluate := func(code domain.IssueCode, failed bool) {
		outcome.Evaluated++
		if failed {
			outcome.Issues = append(outcome.Issues, code)
		} else {
			outcome.Passed++
		}
	}

	evaluate(domain.IssueMissingAuthors, len(paper.Authors) == 0)
	if paper.Year != 0 {
		evaluate(domain.IssueImplausibleYear, paper.Year < MinPlausibleYear || paper.Year > maxYear)
	}
	if paper.StudyType == domain.StudyTypeRCT || paper.StudyType == domain.StudyTypeCohort {
		evaluate(domain.IssueMissingSampleSizeForDesign, paper.SampleSize == nil)
	}
	if paper.HasDOI() {
		evaluate(domain.IssueMalformedDOI, !domain.CanonicalDOIPattern.MatchString(paper.DOI))
	}
	evaluate(domain.IssueNoFullText, len(paper.FullTextLinks) == 0)

	outcome.QualityScore = int(math.Round(100 * float64(outcome.Passed) / float64(outcome.Evaluated)))
	return outcome
}

func countFields(populated map[string]int, paper *domain.PaperMetadata) {
	if paper.Title != "" {
		populated["title"]++
	}
	if len(paper.Authors) > 0 {
		populated["authors"]++
	}
	if paper.Year != 0 {
		populated["year"]++
	}
	if paper.HasDOI() {
		populated["doi"]++
	}
	if paper.StudyType != "" {
		populated["study_type"]++
	}
	if paper.SampleSize != nil {
		populated["sample_size"]++
	}
}
