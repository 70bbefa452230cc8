package domain

import "sort"

// SourceCount tracks per-source record accounting for one aggregation run.
type SourceCount struct {
	// Raw counts every record received from the source.
	Raw int `json:"raw"`

	// Ingested counts records that produced a usable draft.
	Ingested int `json:"ingested"`

	// Failed counts records rejected with a parse error.
	Failed int `json:"failed"`
}

// SearchResultSet holds the merged, de-duplicated entities of one run
// together with the run-level ingestion accounting. It is built
// incrementally during a run and treated as immutable once handed to the
// validator and the statistics engine.
type SearchResultSet struct {
	// Papers maps deduplication key to the merged entity.
	Papers map[string]*PaperMetadata `json:"papers"`

	// IngestedTotal counts raw records successfully ingested across sources.
	IngestedTotal int `json:"ingested_total"`

	// ParseFailures counts raw records rejected during ingestion.
	ParseFailures int `json:"parse_failures"`

	// SourceCounts breaks the accounting down by source.
	SourceCounts map[SourceName]*SourceCount `json:"source_counts,omitempty"`
}

// NewSearchResultSet returns an empty result set.
func NewSearchResultSet() *SearchResultSet {
	return &SearchResultSet{
		Papers:       make(map[string]*PaperMetadata),
		SourceCounts: make(map[SourceName]*SourceCount),
	}
}

// Size returns the number of distinct merged entities.
func (rs *SearchResultSet) Size() int {
	return len(rs.Papers)
}

// Keys returns the deduplication keys in sorted order. Export and
// reporting iterate in this order so output is deterministic.
func (rs *SearchResultSet) Keys() []string {
	keys := make([]string, 0, len(rs.Papers))
	for k := range rs.Papers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// SortedPapers returns the merged entities ordered by deduplication key.
func (rs *SearchResultSet) SortedPapers() []*PaperMetadata {
	papers := make([]*PaperMetadata, 0, len(rs.Papers))
	for _, k := range rs.Keys() {
		papers = append(papers, rs.Papers[k])
	}
	return papers
}

func (rs *SearchResultSet) sourceCount(source SourceName) *SourceCount {
	if rs.SourceCounts == nil {
		rs.SourceCounts = make(map[SourceName]*SourceCount)
	}
	c, ok := rs.SourceCounts[source]
	if !ok {
		c = &SourceCount{}
		rs.SourceCounts[source] = c
	}
	return c
}

// RecordIngested counts one raw record from source as successfully ingested.
func (rs *SearchResultSet) RecordIngested(source SourceName) {
	c := rs.sourceCount(source)
	c.Raw++
	c.Ingested++
	rs.IngestedTotal++
}

// RecordParseFailure counts one raw record from source as rejected.
func (rs *SearchResultSet) RecordParseFailure(source SourceName) {
	c := rs.sourceCount(source)
	c.Raw++
	c.Failed++
	rs.ParseFailures++
}

// AddCounts folds the accounting of other into rs. Used when reducing
// per-worker partitions into one result set.
func (rs *SearchResultSet) AddCounts(other *SearchResultSet) {
	if other == nil {
		return
	}
	rs.IngestedTotal += other.IngestedTotal
	rs.ParseFailures += other.ParseFailures
	for source, c := range other.SourceCounts {
		dst := rs.sourceCount(source)
		dst.Raw += c.Raw
		dst.Ingested += c.Ingested
		dst.Failed += c.Failed
	}
}
