package normalize

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// CanonicalAuthor rewrites one author name into the canonical
// "Last, Initials" citation form:
//   - "Smith, John A." and "Smith, JA" become "Smith, JA"
//   - "John Smith" becomes "Smith, J"
//   - "Smith JA" (surname-first with a trailing initials run, the MEDLINE
//     convention) becomes "Smith, JA"
//   - single-token names pass through unchanged
//
// The surname keeps its original casing. Empty input yields "".
func CanonicalAuthor(name string) string {
	name = strings.Join(strings.Fields(name), " ")
	if name == "" {
		return ""
	}

	// "Last, First" form: surname is everything before the comma.
	if idx := strings.Index(name, ","); idx >= 0 {
		last := strings.TrimSpace(name[:idx])
		given := strings.TrimSpace(name[idx+1:])
		return joinLastInitials(last, initialsOf(given))
	}

	tokens := strings.Fields(name)
	if len(tokens) == 1 {
		return tokens[0]
	}

	// A trailing initials run means surname-first ordering: "Smith JA".
	lastToken := tokens[len(tokens)-1]
	if isInitialsRun(stripNonLetters(lastToken)) {
		last := strings.Join(tokens[:len(tokens)-1], " ")
		return joinLastInitials(last, stripNonLetters(lastToken))
	}

	// "First Last" ordering: final token is the surname.
	given := strings.Join(tokens[:len(tokens)-1], " ")
	return joinLastInitials(lastToken, initialsOf(given))
}

// canonicalAuthors applies CanonicalAuthor to each entry, dropping names
// that normalize to nothing. List order is preserved.
func canonicalAuthors(authors []string) []string {
	if len(authors) == 0 {
		return nil
	}
	out := make([]string, 0, len(authors))
	for _, a := range authors {
		if canonical := CanonicalAuthor(a); canonical != "" {
			out = append(out, canonical)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// initialsOf collapses given names to their initials. A token that is
// already an initials run is kept whole, so "John A." and "JA" both
// produce "JA" and the transformation is idempotent.
func initialsOf(given string) string {
	var sb strings.Builder
	for _, tok := range strings.Fields(given) {
		clean := stripNonLetters(tok)
		if clean == "" {
			continue
		}
		if isInitialsRun(clean) {
			sb.WriteString(clean)
			continue
		}
		r, _ := utf8.DecodeRuneInString(clean)
		sb.WriteRune(unicode.ToUpper(r))
	}
	return sb.String()
}

// isInitialsRun reports whether tok is one to three uppercase letters,
// the shape MEDLINE uses for trailing initials ("JA" in "Smith JA").
func isInitialsRun(tok string) bool {
	n := utf8.RuneCountInString(tok)
	if n == 0 || n > 3 {
		return false
	}
	for _, r := range tok {
		if !unicode.IsUpper(r) {
			return false
		}
	}
	return true
}

// stripNonLetters removes every non-letter rune (periods, hyphens,
// apostrophes) from tok.
func stripNonLetters(tok string) string {
	var sb strings.Builder
	sb.Grow(len(tok))
	for _, r := range tok {
		if unicode.IsLetter(r) {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

func joinLastInitials(last, initials string) string {
	if last == "" {
		return initials
	}
	if initials == "" {
		return last
	}
	return last + ", " + initials
}
