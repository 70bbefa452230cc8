package normalize

import (
	"reflect"
	"testing"
)

func TestCanonicalAuthor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "last comma full given name",
			input:    "Smith, John A.",
			expected: "Smith, JA",
		},
		{
			name:     "last comma initials already canonical",
			input:    "Smith, JA",
			expected: "Smith, JA",
		},
		{
			name:     "last comma dotted initials",
			input:    "Smith, J.A.",
			expected: "Smith, JA",
		},
		{
			name:     "first last ordering",
			input:    "John Smith",
			expected: "Smith, J",
		},
		{
			name:     "medline surname first with initials run",
			input:    "Smith JA",
			expected: "Smith, JA",
		},
		{
			name:     "medline single initial",
			input:    "Smith J",
			expected: "Smith, J",
		},
		{
			name:     "dotted given initials before surname",
			input:    "J. K. Rowling",
			expected: "Rowling, JK",
		},
		{
			name:     "hyphenated given name",
			input:    "Mary-Jane Watson",
			expected: "Watson, M",
		},
		{
			name:     "single token passes through",
			input:    "O'Brien",
			expected: "O'Brien",
		},
		{
			name:     "compound surname before comma",
			input:    "van der Berg, Jan",
			expected: "van der Berg, J",
		},
		{
			name:     "surname casing preserved",
			input:    "SMITH, John",
			expected: "SMITH, J",
		},
		{
			name:     "accented surname with initial",
			input:    "Müller J",
			expected: "Müller, J",
		},
		{
			name:     "extra whitespace collapsed",
			input:    "  John   Smith  ",
			expected: "Smith, J",
		},
		{
			name:     "multiple given names",
			input:    "Garcia, Maria Del Carmen",
			expected: "Garcia, MDC",
		},
		{
			name:     "empty string",
			input:    "",
			expected: "",
		},
		{
			name:     "only whitespace",
			input:    "   ",
			expected: "",
		},
		{
			name:     "comma with empty given part",
			input:    "Smith,",
			expected: "Smith",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := CanonicalAuthor(tt.input)
			if got != tt.expected {
				t.Errorf("CanonicalAuthor(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestCanonicalAuthor_Idempotent(t *testing.T) {
	t.Parallel()

	inputs := []string{
		"Smith, John A.",
		"Smith JA",
		"John Smith",
		"J. K. Rowling",
		"O'Brien",
		"van der Berg, Jan",
		"Müller J",
		"Garcia, Maria Del Carmen",
	}

	for _, input := range inputs {
		once := CanonicalAuthor(input)
		twice := CanonicalAuthor(once)
		if once != twice {
			t.Errorf("CanonicalAuthor not idempotent for %q: first %q, second %q", input, once, twice)
		}
	}
}

func TestCanonicalAuthors(t *testing.T) {
	t.Parallel()

	t.Run("order preserved and entries canonicalized", func(t *testing.T) {
		t.Parallel()
		got := canonicalAuthors([]string{"Smith J", "Johnson, Mary", "Robert Williams"})
		want := []string{"Smith, J", "Johnson, M", "Williams, R"}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("canonicalAuthors = %v, want %v", got, want)
		}
	})

	t.Run("blank entries dropped", func(t *testing.T) {
		t.Parallel()
		got := canonicalAuthors([]string{"Smith J", "", "   "})
		want := []string{"Smith, J"}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("canonicalAuthors = %v, want %v", got, want)
		}
	})

	t.Run("all blank yields nil", func(t *testing.T) {
		t.Parallel()
		if got := canonicalAuthors([]string{"", "  "}); got != nil {
			t.Errorf("canonicalAuthors = %v, want nil", got)
		}
	})

	t.Run("empty input yields nil", func(t *testing.T) {
		t.Parallel()
		if got := canonicalAuthors(nil); got != nil {
			t.Errorf("canonicalAuthors = %v, want nil", got)
		}
	})
}
