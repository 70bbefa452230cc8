// Package domain provides domain models and business logic for the Study Aggregation Service.
package domain

// SourceName identifies an academic search service that contributes records.
// These values must match the database enum source_name.
type SourceName string

// Supported source name constants.
const (
	SourcePubMed         SourceName = "pubmed"
	SourceCochrane       SourceName = "cochrane"
	SourceClinicalTrials SourceName = "clinicaltrials"
)

// KnownSources returns the source names with built-in client support.
func KnownSources() []SourceName {
	return []SourceName{
		SourcePubMed,
		SourceCochrane,
		SourceClinicalTrials,
	}
}

// IsKnown reports whether the source has built-in client support.
func (s SourceName) IsKnown() bool {
	switch s {
	case SourcePubMed, SourceCochrane, SourceClinicalTrials:
		return true
	default:
		return false
	}
}

// DefaultSourcePriority returns the default conflict-resolution order used
// when merging duplicate records. Earlier sources win field conflicts.
func DefaultSourcePriority() []SourceName {
	return []SourceName{
		SourcePubMed,
		SourceCochrane,
		SourceClinicalTrials,
	}
}

// SourcePriority resolves a source name to its merge precedence rank.
// Sources absent from the configured order all share the rank one past the
// list, so ordering between them falls through to the source name itself.
type SourcePriority struct {
	ranks map[SourceName]int
}

// NewSourcePriority builds a priority ranking from an ordered source list.
// Duplicate entries keep their first position.
func NewSourcePriority(order []SourceName) *SourcePriority {
	ranks := make(map[SourceName]int, len(order))
	for i, s := range order {
		if _, ok := ranks[s]; !ok {
			ranks[s] = i
		}
	}
	return &SourcePriority{ranks: ranks}
}

// DefaultPriority returns the ranking over DefaultSourcePriority().
func DefaultPriority() *SourcePriority {
	return NewSourcePriority(DefaultSourcePriority())
}

// Rank returns the numeric precedence of the source. Lower values win.
func (p *SourcePriority) Rank(source SourceName) int {
	if r, ok := p.ranks[source]; ok {
		return r
	}
	return len(p.ranks)
}

// Less reports whether source a outranks source b, breaking ties between
// equally ranked sources by name.
func (p *SourcePriority) Less(a, b SourceName) bool {
	ra, rb := p.Rank(a), p.Rank(b)
	if ra != rb {
		return ra < rb
	}
	return a < b
}
