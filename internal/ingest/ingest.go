// Package ingest converts raw source records into paper metadata drafts.
//
// Each search service returns records in its own shape: MEDLINE field maps
// from PubMed, JSON study fields from ClinicalTrials.gov, scraped result
// attributes from Cochrane. Ingestion reads whichever of the recognized keys
// a record carries, applies only the checks needed to admit the record into
// the pipeline, and leaves canonicalization to the normalize package.
package ingest

import (
	"strconv"
	"strings"

	"github.com/evidlab/study-aggregation-service/internal/domain"
)

// Recognized key shapes, in precedence order. The first usable value wins
// within each group.
var (
	titleKeys    = []string{"TI", "title", "brief_title", "official_title"}
	recordIDKeys = []string{"PMID", "pmid", "nct_id", "NCTId", "id", "uid"}
	authorKeys   = []string{"AU", "FAU", "authors"}
	dateKeys     = []string{"DP", "PDAT", "publication_date", "date", "start_date", "year"}
	abstractKeys = []string{"AB", "abstract", "description", "detailed_description"}
	doiKeys      = []string{"DOI", "doi", "LID", "AID", "article_doi"}
	sampleKeys   = []string{"enrollment", "EnrollmentCount", "sample_size"}
	hintKeys     = []string{"PT", "publication_types", "publication_type", "study_type", "design"}
	linkKeys     = []string{"LID", "full_text_url", "url", "links"}
)

// Ingest builds a PaperMetadata draft from a raw source record.
//
// A record is admitted when it carries a title of at least three characters
// after trimming; anything else is reported as a ParseError naming the
// source and record id so the caller can skip and count the record without
// aborting the run. The draft stages unparsed material (RawDate, TypeHints,
// a raw DOI value) for the normalizer and records provenance for the merge
// step. Ingest never mutates raw.
func Ingest(raw domain.RawRecord, source domain.SourceName) (*domain.PaperMetadata, error) {
	recordID := strings.TrimSpace(firstString(raw, recordIDKeys))
	if len(raw) == 0 {
		return nil, domain.NewParseError(source, recordID, "empty record")
	}

	title := strings.TrimSpace(firstString(raw, titleKeys))
	if len(title) < 3 {
		return nil, domain.NewParseError(source, recordID, "title missing or shorter than 3 characters")
	}

	draft := &domain.PaperMetadata{
		Title:         title,
		Authors:       extractAuthors(raw),
		DOI:           extractDOI(raw),
		Abstract:      strings.TrimSpace(firstString(raw, abstractKeys)),
		FullTextLinks: extractLinks(raw),
		TypeHints:     extractHints(raw),
		Provenance: []domain.SourceRecord{
			{Source: source, RecordID: recordID},
		},
	}
	setDate(raw, draft)
	setSampleSize(raw, draft)
	return draft, nil
}

// setDate stages the first usable date value: a string is kept verbatim in
// RawDate for the normalizer to scan, a positive number is treated as a
// publication year and set directly.
func setDate(raw domain.RawRecord, draft *domain.PaperMetadata) {
	for _, key := range dateKeys {
		v, ok := raw[key]
		if !ok {
			continue
		}
		if s, isString := v.(string); isString {
			if trimmed := strings.TrimSpace(s); trimmed != "" {
				draft.RawDate = trimmed
				return
			}
			continue
		}
		if n, isNumber := intValue(v); isNumber && n > 0 {
			draft.Year = n
			return
		}
	}
}

// setSampleSize sets the enrollment count when a source reports one
// directly. Records without one fall back to abstract extraction during
// normalization.
func setSampleSize(raw domain.RawRecord, draft *domain.PaperMetadata) {
	for _, key := range sampleKeys {
		v, ok := raw[key]
		if !ok {
			continue
		}
		if n, isNumber := intValue(v); isNumber && n > 0 {
			draft.SampleSize = domain.IntPtr(n)
			return
		}
	}
}

// extractAuthors returns the author list from the first author key that
// yields at least one usable name. A string value is split on semicolons
// when present, otherwise on commas; list values are taken as complete
// names. Entries are trimmed and single-character leftovers dropped.
func extractAuthors(raw domain.RawRecord) []string {
	for _, key := range authorKeys {
		v, ok := raw[key]
		if !ok {
			continue
		}
		var names []string
		if s, isString := v.(string); isString {
			names = splitNameList(s)
		} else {
			for _, name := range stringValues(v) {
				if trimmed := strings.TrimSpace(name); len(trimmed) > 1 {
					names = append(names, trimmed)
				}
			}
		}
		if len(names) > 0 {
			return names
		}
	}
	return nil
}

func splitNameList(s string) []string {
	sep := ","
	if strings.Contains(s, ";") {
		sep = ";"
	}
	var names []string
	for _, part := range strings.Split(s, sep) {
		if trimmed := strings.TrimSpace(part); len(trimmed) > 1 {
			names = append(names, trimmed)
		}
	}
	return names
}

// extractDOI returns the raw DOI candidate. Values containing a "10."
// registrant prefix are preferred because LID and AID fields mix DOIs with
// other article identifiers; with no such value the first non-blank one is
// kept and left for the normalizer to reject.
func extractDOI(raw domain.RawRecord) string {
	fallback := ""
	for _, key := range doiKeys {
		v, ok := raw[key]
		if !ok {
			continue
		}
		for _, s := range stringValues(v) {
			s = strings.TrimSpace(s)
			if s == "" {
				continue
			}
			if strings.Contains(s, "10.") {
				return s
			}
			if fallback == "" {
				fallback = s
			}
		}
	}
	return fallback
}

// extractLinks collects full text URL candidates. Only http(s) values are
// kept; identifier strings sharing the LID field are dropped here.
func extractLinks(raw domain.RawRecord) []string {
	var links []string
	for _, key := range linkKeys {
		v, ok := raw[key]
		if !ok {
			continue
		}
		for _, s := range stringValues(v) {
			s = strings.TrimSpace(s)
			if strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") {
				links = append(links, s)
			}
		}
	}
	return links
}

// extractHints collects publication type labels from every hint key present,
// since MEDLINE PT values and study design fields can coexist on one record.
func extractHints(raw domain.RawRecord) []string {
	var hints []string
	for _, key := range hintKeys {
		v, ok := raw[key]
		if !ok {
			continue
		}
		for _, s := range stringValues(v) {
			if trimmed := strings.TrimSpace(s); trimmed != "" {
				hints = append(hints, trimmed)
			}
		}
	}
	return hints
}

// firstString returns the first non-blank string reachable under keys, in
// order. List values contribute their first non-blank element.
func firstString(raw domain.RawRecord, keys []string) string {
	for _, key := range keys {
		v, ok := raw[key]
		if !ok {
			continue
		}
		for _, s := range stringValues(v) {
			if strings.TrimSpace(s) != "" {
				return s
			}
		}
	}
	return ""
}

// stringValues coerces a raw value into its string members. Scalars become
// a one-element slice; non-string list members are skipped.
func stringValues(v any) []string {
	switch t := v.(type) {
	case string:
		return []string{t}
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// intValue coerces numeric scalars, including numbers decoded from JSON as
// float64 and digit strings, into an int.
func intValue(v any) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int32:
		return int(t), true
	case int64:
		return int(t), true
	case float64:
		return int(t), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return 0, false
		}
		return n, true
	}
	return 0, false
}
