// Package normalize converts the free-text fields of ingested paper drafts
// into canonical typed values: publication years, author name order, DOIs,
// sample-size mentions, and study-type wording.
package normalize

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/evidlab/study-aggregation-service/internal/domain"
)

// doiPattern locates a DOI-shaped token anywhere in a raw value, which
// implicitly strips resolver prefixes such as https://doi.org/ or doi:.
var doiPattern = regexp.MustCompile(`10\.\d{4,9}/[-._;()/:\w]+`)

// yearPattern matches standalone 4-digit tokens in a raw date string.
var yearPattern = regexp.MustCompile(`\b\d{4}\b`)

// sampleSizePatterns are tried in order against the lowercased abstract.
// The first matching pattern wins.
var sampleSizePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\bn\s*=\s*(\d+)`),
	regexp.MustCompile(`sample size (?:of|was|=)\s*(\d+)`),
	regexp.MustCompile(`enrolled\s+(\d+)\s+participants`),
	regexp.MustCompile(`included\s+(\d+)\s+patients`),
	regexp.MustCompile(`(\d+)\s+(?:participants|patients|subjects)`),
}

// studyTypePatterns map keyword classes to study types, ordered so that the
// most specific design wins when several classes match the same text.
var studyTypePatterns = []struct {
	studyType domain.StudyType
	pattern   *regexp.Regexp
}{
	{domain.StudyTypeMetaAnalysis, regexp.MustCompile(`\b(?:meta-analys[ei]s|meta analys[ei]s|systematic reviews?)\b`)},
	{domain.StudyTypeRCT, regexp.MustCompile(`\b(?:randomized|randomised|rcts?)\b`)},
	{domain.StudyTypeCohort, regexp.MustCompile(`\b(?:cohorts?|longitudinal)\b`)},
	{domain.StudyTypeCaseControl, regexp.MustCompile(`\b(?:case-control|case control)\b`)},
	{domain.StudyTypeOther, regexp.MustCompile(`\b(?:observational|cross-sectional)\b`)},
}

// Normalize converts a draft paper into its canonical form. It is pure and
// total: unresolvable fields become unset rather than producing an error,
// and the input draft is never mutated. The RawDate and TypeHints staging
// fields are consumed and cleared on the returned entity.
func Normalize(draft *domain.PaperMetadata) *domain.PaperMetadata {
	if draft == nil {
		return nil
	}

	out := draft.Clone()

	if out.Year == 0 {
		out.Year = YearFromDate(out.RawDate)
	}

	out.DOI = CanonicalDOI(out.DOI)
	out.Authors = canonicalAuthors(out.Authors)

	if !out.StudyType.IsValid() {
		out.StudyType = classifyStudyType(out.TypeHints, out.Title, out.Abstract)
	}

	if out.SampleSize != nil && *out.SampleSize < 0 {
		out.SampleSize = nil
	}
	if out.SampleSize == nil {
		out.SampleSize = sampleSizeFromAbstract(out.Abstract)
	}

	out.FullTextLinks = canonicalLinks(out.FullTextLinks, out.DOI)

	out.RawDate = ""
	out.TypeHints = nil

	return out
}

// YearFromDate extracts the publication year from a free-text date string.
// It accepts year-only values, "Year Month Day" forms, slash- or
// dash-separated dates, and publication ranges, taking the earliest
// standalone 4-digit token found. Returns 0 when no token is present.
// Plausibility of the year is the validator's concern, not handled here.
func YearFromDate(raw string) int {
	earliest := 0
	for _, tok := range yearPattern.FindAllString(raw, -1) {
		year, err := strconv.Atoi(tok)
		if err != nil {
			continue
		}
		if earliest == 0 || year < earliest {
			earliest = year
		}
	}
	return earliest
}

// CanonicalDOI extracts the canonical lowercase DOI from a raw value,
// dropping resolver URL prefixes and surrounding text. Returns "" when the
// value contains no DOI-shaped token.
func CanonicalDOI(raw string) string {
	match := doiPattern.FindString(raw)
	if match == "" {
		return ""
	}
	return strings.ToLower(match)
}

// classifyStudyType matches controlled keywords against, in order, the raw
// publication-type hints and then the title plus abstract. Within each
// text the keyword classes are tried most specific first.
func classifyStudyType(hints []string, title, abstract string) domain.StudyType {
	if len(hints) > 0 {
		if st := matchStudyType(strings.Join(hints, " ")); st != "" {
			return st
		}
	}
	return matchStudyType(title + " " + abstract)
}

func matchStudyType(text string) domain.StudyType {
	text = strings.ToLower(text)
	for _, entry := range studyTypePatterns {
		if entry.pattern.MatchString(text) {
			return entry.studyType
		}
	}
	return ""
}

// sampleSizeFromAbstract scans the lowercased abstract for a sample-size
// mention. Explicit "n = <number>" forms are preferred over narrative
// phrasings; a free-standing count adjacent to participants/patients/
// subjects is the last resort. Values that do not parse as a non-negative
// integer are discarded.
func sampleSizeFromAbstract(abstract string) *int {
	if abstract == "" {
		return nil
	}
	text := strings.ToLower(abstract)
	for _, pattern := range sampleSizePatterns {
		m := pattern.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil || n < 0 {
			continue
		}
		return &n
	}
	return nil
}

// canonicalLinks keeps http(s) URLs, derives a doi.org link when a DOI is
// present, de-duplicates, and sorts. Returns nil when nothing remains.
func canonicalLinks(links []string, doi string) []string {
	seen := make(map[string]struct{}, len(links)+1)
	for _, link := range links {
		link = strings.TrimSpace(link)
		if !strings.HasPrefix(link, "http://") && !strings.HasPrefix(link, "https://") {
			continue
		}
		seen[link] = struct{}{}
	}
	if doi != "" {
		seen["https://doi.org/"+doi] = struct{}{}
	}
	if len(seen) == 0 {
		return nil
	}
	out := make([]string, 0, len(seen))
	for link := range seen {
		out = append(out, link)
	}
	sort.Strings(out)
	return out
}
