package domain

import (
	"regexp"
	"strings"
)

// StudyType classifies a study design using a closed vocabulary.
// The empty value means the design could not be determined.
// These values must match the database enum study_type.
type StudyType string

// Study type constants.
const (
	StudyTypeRCT          StudyType = "rct"
	StudyTypeCohort       StudyType = "cohort"
	StudyTypeCaseControl  StudyType = "case_control"
	StudyTypeMetaAnalysis StudyType = "meta_analysis"
	StudyTypeOther        StudyType = "other"
)

// StudyTypeUnspecified is the reporting label for records whose study type
// is unset. It is never stored on a PaperMetadata.
const StudyTypeUnspecified = "unspecified"

// KnownStudyTypes returns every member of the study type vocabulary.
func KnownStudyTypes() []StudyType {
	return []StudyType{
		StudyTypeRCT,
		StudyTypeCohort,
		StudyTypeCaseControl,
		StudyTypeMetaAnalysis,
		StudyTypeOther,
	}
}

// IsValid reports whether t is a member of the study type vocabulary.
// The empty value is not valid; it represents an unset field.
func (t StudyType) IsValid() bool {
	switch t {
	case StudyTypeRCT, StudyTypeCohort, StudyTypeCaseControl, StudyTypeMetaAnalysis, StudyTypeOther:
		return true
	}
	return false
}

// ReportingLabel returns the label used for t in statistics reports,
// substituting StudyTypeUnspecified for the unset value.
func (t StudyType) ReportingLabel() string {
	if t == "" {
		return StudyTypeUnspecified
	}
	return string(t)
}

// CanonicalDOIPattern matches a complete canonical DOI: registrant prefix,
// slash, suffix, no resolver URL or "doi:" scheme.
var CanonicalDOIPattern = regexp.MustCompile(`^10\.\d{4,9}/[-._;()/:A-Za-z0-9]+$`)

// SourceRecord identifies one raw record contributed by a search service.
type SourceRecord struct {
	Source   SourceName `json:"source"`
	RecordID string     `json:"record_id"`
}

// PaperMetadata is the canonical bibliographic record flowing through the
// aggregation pipeline. Ingestion produces drafts, normalization produces
// canonical entities, and deduplication merges entities across sources.
type PaperMetadata struct {
	// Title is the study title. Always non-empty after ingestion.
	Title string `json:"title"`

	// Authors holds author names in citation order. Canonical "Last, FM"
	// form after normalization.
	Authors []string `json:"authors,omitempty"`

	// DOI is the canonical lowercase DOI without a resolver prefix.
	// Empty when unknown.
	DOI string `json:"doi,omitempty"`

	// Year is the publication year. Zero when unknown.
	Year int `json:"year,omitempty"`

	// SampleSize is the number of enrolled participants. Nil when unknown.
	SampleSize *int `json:"sample_size,omitempty"`

	// StudyType is the classified design. Empty when undetermined.
	StudyType StudyType `json:"study_type,omitempty"`

	// Abstract is carried for study type classification, sample size
	// extraction, and export.
	Abstract string `json:"abstract,omitempty"`

	// FullTextLinks holds http(s) URLs to the full text, de-duplicated
	// and sorted after normalization.
	FullTextLinks []string `json:"full_text_links,omitempty"`

	// Provenance records every source record merged into this entity.
	// Grows only; never shrinks across merges.
	Provenance []SourceRecord `json:"provenance"`

	// RawDate is the unparsed date string captured at ingestion.
	// Consumed and cleared by normalization.
	RawDate string `json:"raw_date,omitempty"`

	// TypeHints holds raw publication-type labels captured at ingestion,
	// such as MEDLINE PT values. Consumed and cleared by normalization.
	TypeHints []string `json:"type_hints,omitempty"`
}

// HasDOI reports whether the paper carries a non-blank DOI.
func (p *PaperMetadata) HasDOI() bool {
	return strings.TrimSpace(p.DOI) != ""
}

// HasSampleSize reports whether a sample size has been extracted.
func (p *PaperMetadata) HasSampleSize() bool {
	return p.SampleSize != nil
}

// DedupKey returns the identifier-based deduplication key, or "" when the
// paper has no DOI and must be keyed by title similarity instead.
func (p *PaperMetadata) DedupKey() string {
	if !p.HasDOI() {
		return ""
	}
	return "doi:" + strings.ToLower(strings.TrimSpace(p.DOI))
}

// HasProvenance reports whether the entity already records the given
// source/record pair.
func (p *PaperMetadata) HasProvenance(rec SourceRecord) bool {
	for _, have := range p.Provenance {
		if have == rec {
			return true
		}
	}
	return false
}

// AddProvenance appends rec unless it is already recorded.
func (p *PaperMetadata) AddProvenance(rec SourceRecord) {
	if !p.HasProvenance(rec) {
		p.Provenance = append(p.Provenance, rec)
	}
}

// Clone returns a deep copy of the paper. Mutating the copy never affects
// the original.
func (p *PaperMetadata) Clone() *PaperMetadata {
	out := *p
	if p.Authors != nil {
		out.Authors = append([]string(nil), p.Authors...)
	}
	if p.SampleSize != nil {
		n := *p.SampleSize
		out.SampleSize = &n
	}
	if p.FullTextLinks != nil {
		out.FullTextLinks = append([]string(nil), p.FullTextLinks...)
	}
	if p.Provenance != nil {
		out.Provenance = append([]SourceRecord(nil), p.Provenance...)
	}
	if p.TypeHints != nil {
		out.TypeHints = append([]string(nil), p.TypeHints...)
	}
	return &out
}

// IntPtr returns a pointer to n. Convenience for optional numeric fields.
func IntPtr(n int) *int {
	return &n
}
