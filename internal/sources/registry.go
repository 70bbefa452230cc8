package sources

import (
	"context"
	"sync"

	"github.com/evidlab/study-aggregation-service/internal/domain"
)

// SourceResult holds the outcome of one source's search. Exactly one of
// Result and Err is set.
type SourceResult struct {
	// Source identifies the service that produced the result.
	Source domain.SourceName

	// Result contains the records when the search succeeded.
	Result *SearchResult

	// Err contains the failure when the search did not succeed. A failed
	// source degrades the run; it never aborts it.
	Err error
}

// Registry manages record sources and coordinates concurrent searches
// across them. Registration and retrieval are thread-safe.
type Registry struct {
	mu      sync.RWMutex
	sources map[domain.SourceName]RecordSource
}

// NewRegistry creates an empty source registry.
func NewRegistry() *Registry {
	return &Registry{
		sources: make(map[domain.SourceName]RecordSource),
	}
}

// Register adds a source to the registry, replacing any source already
// registered under the same name.
func (r *Registry) Register(source RecordSource) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[source.SourceName()] = source
}

// Get returns the source registered under name, or nil.
func (r *Registry) Get(name domain.SourceName) RecordSource {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sources[name]
}

// EnabledSources returns a snapshot of the sources whose IsEnabled
// reports true.
func (r *Registry) EnabledSources() []RecordSource {
	r.mu.RLock()
	defer r.mu.RUnlock()

	enabled := make([]RecordSource, 0, len(r.sources))
	for _, source := range r.sources {
		if source.IsEnabled() {
			enabled = append(enabled, source)
		}
	}
	return enabled
}

// SearchAll searches every enabled source concurrently and returns one
// SourceResult per source, errors included. Cancelling ctx interrupts the
// in-flight searches.
func (r *Registry) SearchAll(ctx context.Context, params SearchParams) []SourceResult {
	return r.SearchSources(ctx, params, nil)
}

// SearchSources searches the named sources concurrently. A nil or empty
// name list searches all enabled sources; names missing from the registry
// are skipped.
func (r *Registry) SearchSources(ctx context.Context, params SearchParams, names []domain.SourceName) []SourceResult {
	var selected []RecordSource
	if len(names) == 0 {
		selected = r.EnabledSources()
	} else {
		r.mu.RLock()
		selected = make([]RecordSource, 0, len(names))
		for _, name := range names {
			if source, ok := r.sources[name]; ok {
				selected = append(selected, source)
			}
		}
		r.mu.RUnlock()
	}

	if len(selected) == 0 {
		return nil
	}

	results := make(chan SourceResult, len(selected))
	var wg sync.WaitGroup
	for _, source := range selected {
		wg.Add(1)
		go func(s RecordSource) {
			defer wg.Done()
			result, err := s.Search(ctx, params)
			results <- SourceResult{Source: s.SourceName(), Result: result, Err: err}
		}(source)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	collected := make([]SourceResult, 0, len(selected))
	for result := range results {
		collected = append(collected, result)
	}
	return collected
}

// CollectRecords groups the successful results into the record batches the
// pipeline consumes. Failed sources contribute nothing.
func CollectRecords(results []SourceResult) map[domain.SourceName][]domain.RawRecord {
	records := make(map[domain.SourceName][]domain.RawRecord)
	for _, sr := range results {
		if sr.Err != nil || sr.Result == nil {
			continue
		}
		records[sr.Source] = append(records[sr.Source], sr.Result.Records...)
	}
	return records
}
