// Package dedup merges paper metadata describing the same study across
// sources, keyed by DOI when available and by title similarity otherwise.
package dedup

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

// NormalizeTitle normalizes a study title for comparison:
//   - Converts to lowercase
//   - Removes all non-letter, non-digit, non-space characters
//   - Collapses runs of whitespace to a single space
//   - Trims leading and trailing whitespace
func NormalizeTitle(title string) string {
	title = strings.ToLower(strings.TrimSpace(title))
	if title == "" {
		return ""
	}

	var sb strings.Builder
	sb.Grow(len(title))
	prevSpace := false

	for _, r := range title {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			sb.WriteRune(r)
			prevSpace = false
		case unicode.IsSpace(r):
			if !prevSpace && sb.Len() > 0 {
				sb.WriteRune(' ')
				prevSpace = true
			}
		}
		// Punctuation is dropped without inserting a space.
	}

	return strings.TrimRight(sb.String(), " ")
}

// TitleSimilarity compares two normalized titles and returns a similarity
// ratio between 0.0 and 1.0, computed as 1 - distance/maxLen using the
// Levenshtein edit distance over runes.
//
// Identical titles score 1.0. An empty title never matches a non-empty one.
// The result is symmetric: TitleSimilarity(a, b) == TitleSimilarity(b, a).
func TitleSimilarity(a, b string) float64 {
	if a == b {
		return 1.0
	}
	if a == "" || b == "" {
		return 0.0
	}

	maxLen := utf8.RuneCountInString(a)
	if n := utf8.RuneCountInString(b); n > maxLen {
		maxLen = n
	}

	dist := levenshtein.ComputeDistance(a, b)
	return 1.0 - float64(dist)/float64(maxLen)
}
