package dedup

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/evidlab/study-aggregation-service/internal/domain"
)

// DefaultSimilarityThreshold is the title similarity ratio at or above
// which two records without DOIs are treated as the same study.
const DefaultSimilarityThreshold = 0.9

// Config holds the configuration for the merge Builder.
type Config struct {
	// SimilarityThreshold overrides DefaultSimilarityThreshold when
	// positive.
	SimilarityThreshold float64

	// Priority ranks sources for field conflict resolution. Values
	// supplied by higher-priority sources win when merged records
	// disagree. Nil falls back to domain.DefaultPriority.
	Priority *domain.SourcePriority
}

// Merge deduplicates a batch of normalized papers in one call.
func Merge(papers []*domain.PaperMetadata, cfg Config) *domain.SearchResultSet {
	b := NewBuilder(cfg)
	for _, paper := range papers {
		b.Add(paper)
	}
	return b.Build()
}

// Tracked scalar fields. Each merged bucket remembers, per field, the rank
// of the record that supplied the current value.
const (
	fieldTitle      = "title"
	fieldDOI        = "doi"
	fieldYear       = "year"
	fieldSampleSize = "sample_size"
	fieldStudyType  = "study_type"
	fieldAbstract   = "abstract"
	fieldAuthors    = "authors"
)

// fieldRank orders competing values for one field by the record that
// supplied them: source priority first, then source name, then record id.
type fieldRank struct {
	priority int
	source   domain.SourceName
	recordID string
}

func (r fieldRank) before(other fieldRank) bool {
	if r.priority != other.priority {
		return r.priority < other.priority
	}
	if r.source != other.source {
		return r.source < other.source
	}
	return r.recordID < other.recordID
}

// entry is one merged study bucket. Carrying per-field origin ranks makes
// conflict resolution independent of the order records arrive in.
type entry struct {
	paper     *domain.PaperMetadata
	normTitle string
	ranks     map[string]fieldRank
}

func (e *entry) clone() *entry {
	ranks := make(map[string]fieldRank, len(e.ranks))
	for field, rank := range e.ranks {
		ranks[field] = rank
	}
	return &entry{
		paper:     e.paper.Clone(),
		normTitle: e.normTitle,
		ranks:     ranks,
	}
}

// betterThan reports whether e's value for field should replace other's:
// e must carry the field, and other must either lack it or have received
// it from a worse-ranked record.
func (e *entry) betterThan(other *entry, field string) bool {
	rank, ok := e.ranks[field]
	if !ok {
		return false
	}
	current, ok := other.ranks[field]
	if !ok {
		return true
	}
	return rank.before(current)
}

// Builder incrementally merges normalized papers into a deduplicated
// result set. Records carrying a DOI are keyed by it; the rest are matched
// against existing title-keyed buckets by similarity. A Builder is not
// safe for concurrent use; the pipeline runs one per worker and reduces
// them with Merge.
type Builder struct {
	cfg     Config
	entries map[string]*entry
}

// NewBuilder creates a Builder. Zero config fields fall back to defaults.
func NewBuilder(cfg Config) *Builder {
	if cfg.SimilarityThreshold <= 0 {
		cfg.SimilarityThreshold = DefaultSimilarityThreshold
	}
	if cfg.Priority == nil {
		cfg.Priority = domain.DefaultPriority()
	}
	return &Builder{
		cfg:     cfg,
		entries: make(map[string]*entry),
	}
}

// Size returns the number of distinct studies merged so far.
func (b *Builder) Size() int {
	return len(b.entries)
}

// Add merges one normalized paper into the builder. Nil papers are
// ignored.
func (b *Builder) Add(paper *domain.PaperMetadata) {
	if paper == nil {
		return
	}
	incoming := b.newEntry(paper)
	b.absorb(b.resolveKey(incoming), incoming)
}

// Merge folds every bucket of other into this builder, preserving
// per-field origin ranks so a partitioned reduction resolves conflicts
// exactly as a single sequential merge would. other is left unchanged.
func (b *Builder) Merge(other *Builder) {
	if other == nil {
		return
	}

	keys := make([]string, 0, len(other.entries))
	for key := range other.entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		incoming := other.entries[key].clone()
		b.absorb(b.resolveKey(incoming), incoming)
	}
}

// Build returns a snapshot of the deduplicated result set. Provenance is
// sorted so output does not depend on record arrival order. The builder
// can keep accepting papers afterwards.
func (b *Builder) Build() *domain.SearchResultSet {
	rs := domain.NewSearchResultSet()
	for key, e := range b.entries {
		paper := e.paper.Clone()
		sort.Slice(paper.Provenance, func(i, j int) bool {
			p, q := paper.Provenance[i], paper.Provenance[j]
			if p.Source != q.Source {
				return p.Source < q.Source
			}
			return p.RecordID < q.RecordID
		})
		rs.Papers[key] = paper
	}
	return rs
}

// newEntry snapshots a paper with the field ranks of its best provenance
// record. Fields the paper does not carry get no rank, so they never
// compete during merges.
func (b *Builder) newEntry(paper *domain.PaperMetadata) *entry {
	p := paper.Clone()
	rank := b.rankOf(p)

	ranks := map[string]fieldRank{fieldTitle: rank}
	if p.DOI != "" {
		ranks[fieldDOI] = rank
	}
	if p.Year != 0 {
		ranks[fieldYear] = rank
	}
	if p.SampleSize != nil {
		ranks[fieldSampleSize] = rank
	}
	if p.StudyType != "" {
		ranks[fieldStudyType] = rank
	}
	if p.Abstract != "" {
		ranks[fieldAbstract] = rank
	}
	if len(p.Authors) > 0 {
		ranks[fieldAuthors] = rank
	}

	return &entry{
		paper:     p,
		normTitle: NormalizeTitle(p.Title),
		ranks:     ranks,
	}
}

// rankOf derives the conflict-resolution rank from the paper's best
// provenance record. Papers with no provenance rank last.
func (b *Builder) rankOf(p *domain.PaperMetadata) fieldRank {
	best := fieldRank{priority: math.MaxInt}
	for _, rec := range p.Provenance {
		rank := fieldRank{
			priority: b.cfg.Priority.Rank(rec.Source),
			source:   rec.Source,
			recordID: rec.RecordID,
		}
		if rank.before(best) {
			best = rank
		}
	}
	return best
}

const titleKeyPrefix = "title:"

func titleKey(normTitle string, year int) string {
	return titleKeyPrefix + normTitle + "|y=" + strconv.Itoa(year)
}

// yearsCompatible reports whether two publication years can belong to the
// same study: equal, or at least one unknown.
func yearsCompatible(a, b int) bool {
	return a == b || a == 0 || b == 0
}

// resolveKey returns the bucket key the entry merges into. DOI keys are
// direct. Title keys are matched by similarity against existing title
// buckets in sorted key order, so resolution does not depend on map
// iteration order.
func (b *Builder) resolveKey(e *entry) string {
	if key := e.paper.DedupKey(); key != "" {
		return key
	}

	titleKeys := make([]string, 0, len(b.entries))
	for key := range b.entries {
		if strings.HasPrefix(key, titleKeyPrefix) {
			titleKeys = append(titleKeys, key)
		}
	}
	sort.Strings(titleKeys)

	for _, key := range titleKeys {
		cand := b.entries[key]
		if !yearsCompatible(e.paper.Year, cand.paper.Year) {
			continue
		}
		if TitleSimilarity(e.normTitle, cand.normTitle) >= b.cfg.SimilarityThreshold {
			return key
		}
	}

	return titleKey(e.normTitle, e.paper.Year)
}

// absorb merges incoming into the bucket at key. Each tracked field moves
// to the incoming value when the bucket lacks one or the incoming value
// originates from a better-ranked record; provenance and full text links
// accumulate. Title buckets whose identifying fields changed are re-keyed
// afterwards, collapsing into another bucket when the new key matches one.
func (b *Builder) absorb(key string, incoming *entry) {
	existing, ok := b.entries[key]
	if !ok {
		b.entries[key] = incoming
		return
	}

	p := existing.paper
	in := incoming.paper

	if incoming.betterThan(existing, fieldTitle) {
		p.Title = in.Title
		existing.normTitle = incoming.normTitle
		existing.ranks[fieldTitle] = incoming.ranks[fieldTitle]
	}
	if incoming.betterThan(existing, fieldDOI) {
		p.DOI = in.DOI
		existing.ranks[fieldDOI] = incoming.ranks[fieldDOI]
	}
	if incoming.betterThan(existing, fieldYear) {
		p.Year = in.Year
		existing.ranks[fieldYear] = incoming.ranks[fieldYear]
	}
	if incoming.betterThan(existing, fieldSampleSize) {
		p.SampleSize = in.SampleSize
		existing.ranks[fieldSampleSize] = incoming.ranks[fieldSampleSize]
	}
	if incoming.betterThan(existing, fieldStudyType) {
		p.StudyType = in.StudyType
		existing.ranks[fieldStudyType] = incoming.ranks[fieldStudyType]
	}
	if incoming.betterThan(existing, fieldAbstract) {
		p.Abstract = in.Abstract
		existing.ranks[fieldAbstract] = incoming.ranks[fieldAbstract]
	}
	if incoming.betterThan(existing, fieldAuthors) {
		p.Authors = append([]string(nil), in.Authors...)
		existing.ranks[fieldAuthors] = incoming.ranks[fieldAuthors]
	}

	p.FullTextLinks = unionLinks(p.FullTextLinks, in.FullTextLinks)
	for _, rec := range in.Provenance {
		p.AddProvenance(rec)
	}

	if strings.HasPrefix(key, titleKeyPrefix) {
		if fresh := titleKey(existing.normTitle, p.Year); fresh != key {
			delete(b.entries, key)
			b.absorb(b.resolveKey(existing), existing)
		}
	}
}

// unionLinks merges two link lists, dropping duplicates and keeping the
// sorted order normalization established.
func unionLinks(a, b []string) []string {
	if len(b) == 0 {
		return a
	}

	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, lst := range [][]string{a, b} {
		for _, link := range lst {
			if _, ok := seen[link]; ok {
				continue
			}
			seen[link] = struct{}{}
			out = append(out, link)
		}
	}
	sort.Strings(out)
	return out
}
