// Package sources provides clients for the academic search services that
// feed raw records into the aggregation pipeline.
//
// Each service (PubMed, the Cochrane Library, ClinicalTrials.gov)
// implements the RecordSource interface and returns records in its native
// shape as domain.RawRecord maps. Interpreting those shapes is the ingest
// package's job; clients only fetch and decode.
//
// Example usage:
//
//	source := pubmed.New(cfg)
//	params := sources.SearchParams{
//		Query:      "statin cardiovascular outcomes",
//		MaxResults: 100,
//	}
//	result, err := source.Search(ctx, params)
package sources

import (
	"context"
	"time"

	"github.com/evidlab/study-aggregation-service/internal/domain"
)

// SearchParams defines the parameters for a record search.
type SearchParams struct {
	// Query is the search expression (required). Syntax varies per
	// service; clients pass it through unmodified.
	Query string

	// MaxResults limits the number of records returned in a single
	// request. A value of 0 uses the client's configured default.
	MaxResults int

	// Offset specifies the starting position for paginated results.
	Offset int
}

// SearchResult contains the outcome of one source search.
type SearchResult struct {
	// Records holds the raw records returned by the service, in the
	// service's native field shape.
	Records []domain.RawRecord

	// TotalResults is the total number of records matching the query
	// regardless of pagination. May be an estimate for large sets.
	TotalResults int

	// HasMore indicates whether additional results are available beyond
	// the current page.
	HasMore bool

	// NextOffset is the offset for the next page. Only meaningful when
	// HasMore is true.
	NextOffset int

	// Source identifies which service provided these records.
	Source domain.SourceName

	// SearchDuration is the time taken to execute the search, including
	// network latency and response parsing.
	SearchDuration time.Duration
}

// RecordSource is implemented by every search service client.
type RecordSource interface {
	// Search queries the service for records matching the parameters.
	// Implementations respect context cancellation, apply their own rate
	// limiting, and wrap failures as domain.ExternalAPIError or
	// domain.RateLimitError.
	Search(ctx context.Context, params SearchParams) (*SearchResult, error)

	// SourceName returns the identifier used for provenance and merge
	// priority.
	SourceName() domain.SourceName

	// Name returns a human-readable name for logging and display.
	Name() string

	// IsEnabled reports whether this source is configured for searches.
	IsEnabled() bool
}
