package normalize

import (
	"reflect"
	"testing"

	"github.com/evidlab/study-aggregation-service/internal/domain"
)

func TestYearFromDate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    string
		expected int
	}{
		{
			name:     "year month day",
			input:    "2023 Jan 15",
			expected: 2023,
		},
		{
			name:     "year month day alternate",
			input:    "2021 Jan 15",
			expected: 2021,
		},
		{
			name:     "year only",
			input:    "2021",
			expected: 2021,
		},
		{
			name:     "slash separated date",
			input:    "2023/01/15",
			expected: 2023,
		},
		{
			name:     "day first ordering",
			input:    "15 Jan 2023",
			expected: 2023,
		},
		{
			name:     "publication range takes earliest",
			input:    "2020-2021",
			expected: 2020,
		},
		{
			name:     "earliest wins regardless of position",
			input:    "2021 Winter (published 2019)",
			expected: 2019,
		},
		{
			name:     "not a date",
			input:    "not a date",
			expected: 0,
		},
		{
			name:     "invalid",
			input:    "invalid",
			expected: 0,
		},
		{
			name:     "empty string",
			input:    "",
			expected: 0,
		},
		{
			name:     "compact digits are not standalone years",
			input:    "20230115",
			expected: 0,
		},
		{
			name:     "two digit year not recovered",
			input:    "Jan 15 '23",
			expected: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := YearFromDate(tt.input)
			if got != tt.expected {
				t.Errorf("YearFromDate(%q) = %d, want %d", tt.input, got, tt.expected)
			}
		})
	}
}

func TestCanonicalDOI(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "bare DOI unchanged",
			input:    "10.1234/example.12345",
			expected: "10.1234/example.12345",
		},
		{
			name:     "uppercase lowered",
			input:    "10.1234/EXAMPLE.12345",
			expected: "10.1234/example.12345",
		},
		{
			name:     "resolver prefix stripped",
			input:    "https://doi.org/10.1234/abc",
			expected: "10.1234/abc",
		},
		{
			name:     "dx resolver prefix stripped",
			input:    "http://dx.doi.org/10.1234/abc",
			expected: "10.1234/abc",
		},
		{
			name:     "doi scheme stripped",
			input:    "doi:10.1234/abc",
			expected: "10.1234/abc",
		},
		{
			name:     "medline article id suffix",
			input:    "10.1234/example.12345 [doi]",
			expected: "10.1234/example.12345",
		},
		{
			name:     "no DOI shape",
			input:    "invalid-doi",
			expected: "",
		},
		{
			name:     "registrant too short",
			input:    "10.1/ABC",
			expected: "",
		},
		{
			name:     "empty string",
			input:    "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := CanonicalDOI(tt.input)
			if got != tt.expected {
				t.Errorf("CanonicalDOI(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestSampleSizeFromAbstract(t *testing.T) {
	t.Parallel()

	intPtr := func(n int) *int { return &n }

	tests := []struct {
		name     string
		abstract string
		expected *int
	}{
		{
			name:     "explicit n equals",
			abstract: "Background: This study (n=500) evaluates machine learning approaches.",
			expected: intPtr(500),
		},
		{
			name:     "n equals with spaces",
			abstract: "We recruited a cohort, n = 120, from three sites.",
			expected: intPtr(120),
		},
		{
			name:     "sample size of",
			abstract: "A sample size of 300 was chosen a priori.",
			expected: intPtr(300),
		},
		{
			name:     "sample size was",
			abstract: "The final sample size was 250 after exclusions.",
			expected: intPtr(250),
		},
		{
			name:     "enrolled participants",
			abstract: "The trial enrolled 250 participants across 12 centers.",
			expected: intPtr(250),
		},
		{
			name:     "included patients",
			abstract: "This analysis included 120 patients with confirmed diagnoses.",
			expected: intPtr(120),
		},
		{
			name:     "generic subjects fallback",
			abstract: "A total of 80 subjects completed the protocol.",
			expected: intPtr(80),
		},
		{
			name:     "explicit n preferred over narrative count",
			abstract: "We studied 9000 patients in the registry; the matched set was n=150.",
			expected: intPtr(150),
		},
		{
			name:     "word ending in n does not trigger n equals",
			abstract: "The reference population = 4000 according to the census.",
			expected: nil,
		},
		{
			name:     "no mention",
			abstract: "No numeric enrollment is described here.",
			expected: nil,
		},
		{
			name:     "empty abstract",
			abstract: "",
			expected: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := sampleSizeFromAbstract(tt.abstract)
			if (got == nil) != (tt.expected == nil) {
				t.Fatalf("sampleSizeFromAbstract(%q) = %v, want %v", tt.abstract, got, tt.expected)
			}
			if got != nil && *got != *tt.expected {
				t.Errorf("sampleSizeFromAbstract(%q) = %d, want %d", tt.abstract, *got, *tt.expected)
			}
		})
	}
}

func TestClassifyStudyType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		hints    []string
		title    string
		abstract string
		expected domain.StudyType
	}{
		{
			name:     "rct from title",
			title:    "A Randomized Controlled Trial of Vitamin D",
			expected: domain.StudyTypeRCT,
		},
		{
			name:     "meta analysis from title",
			title:    "A Meta-Analysis of Statin Therapy",
			expected: domain.StudyTypeMetaAnalysis,
		},
		{
			name:     "systematic review plural maps to meta analysis",
			title:    "Machine Learning in Systematic Reviews: A Comprehensive Study",
			expected: domain.StudyTypeMetaAnalysis,
		},
		{
			name:     "no keywords",
			title:    "A Study",
			expected: "",
		},
		{
			name:     "hints take precedence over title",
			hints:    []string{"Journal Article", "Randomized Controlled Trial"},
			title:    "Machine Learning in Systematic Reviews: A Comprehensive Study",
			expected: domain.StudyTypeRCT,
		},
		{
			name:     "hints without match fall through to title",
			hints:    []string{"Journal Article"},
			title:    "A Prospective Cohort of Nurses",
			expected: domain.StudyTypeCohort,
		},
		{
			name:     "abstract consulted when title silent",
			title:    "Statin Therapy Outcomes",
			abstract: "We conducted a case-control comparison across two registries.",
			expected: domain.StudyTypeCaseControl,
		},
		{
			name:     "meta analysis outranks rct in same text",
			title:    "A Systematic Review of Randomized Trials",
			expected: domain.StudyTypeMetaAnalysis,
		},
		{
			name:     "rct outranks cohort in same text",
			title:    "Randomized Evaluation of a Cohort Screening Program",
			expected: domain.StudyTypeRCT,
		},
		{
			name:     "observational maps to other",
			title:    "An Observational Assessment of Sleep Quality",
			expected: domain.StudyTypeOther,
		},
		{
			name:     "cross sectional maps to other",
			abstract: "This cross-sectional survey covered four provinces.",
			expected: domain.StudyTypeOther,
		},
		{
			name:     "british spelling",
			title:    "A Randomised Comparison of Two Doses",
			expected: domain.StudyTypeRCT,
		},
		{
			name:     "rct inside a longer word does not match",
			title:    "Myocardial Infarction Registry Outcomes",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := classifyStudyType(tt.hints, tt.title, tt.abstract)
			if got != tt.expected {
				t.Errorf("classifyStudyType(%v, %q, %q) = %q, want %q",
					tt.hints, tt.title, tt.abstract, got, tt.expected)
			}
		})
	}
}

func TestNormalize_GoldenRecord(t *testing.T) {
	t.Parallel()

	draft := &domain.PaperMetadata{
		Title:      "Machine Learning in Systematic Reviews: A Comprehensive Study",
		Authors:    []string{"Smith J", "Johnson M", "Williams R"},
		DOI:        "10.1234/example.12345 [doi]",
		Abstract:   "Background: This study (n=500) evaluates machine learning approaches.",
		RawDate:    "2023 Jan 15",
		TypeHints:  []string{"Journal Article", "Randomized Controlled Trial"},
		Provenance: []domain.SourceRecord{{Source: domain.SourcePubMed, RecordID: "12345678"}},
	}

	got := Normalize(draft)

	if got.Year != 2023 {
		t.Errorf("Year = %d, want 2023", got.Year)
	}
	if got.DOI != "10.1234/example.12345" {
		t.Errorf("DOI = %q, want %q", got.DOI, "10.1234/example.12345")
	}
	if got.SampleSize == nil || *got.SampleSize != 500 {
		t.Errorf("SampleSize = %v, want 500", got.SampleSize)
	}
	if got.StudyType != domain.StudyTypeRCT {
		t.Errorf("StudyType = %q, want %q", got.StudyType, domain.StudyTypeRCT)
	}

	wantAuthors := []string{"Smith, J", "Johnson, M", "Williams, R"}
	if !reflect.DeepEqual(got.Authors, wantAuthors) {
		t.Errorf("Authors = %v, want %v", got.Authors, wantAuthors)
	}

	wantLinks := []string{"https://doi.org/10.1234/example.12345"}
	if !reflect.DeepEqual(got.FullTextLinks, wantLinks) {
		t.Errorf("FullTextLinks = %v, want %v", got.FullTextLinks, wantLinks)
	}

	if got.RawDate != "" {
		t.Errorf("RawDate = %q, want cleared", got.RawDate)
	}
	if got.TypeHints != nil {
		t.Errorf("TypeHints = %v, want cleared", got.TypeHints)
	}
	if len(got.Provenance) != 1 || got.Provenance[0].RecordID != "12345678" {
		t.Errorf("Provenance = %v, want preserved", got.Provenance)
	}
}

func TestNormalize_DoesNotMutateInput(t *testing.T) {
	t.Parallel()

	size := -5
	draft := &domain.PaperMetadata{
		Title:      "Some Trial",
		Authors:    []string{"John Smith"},
		DOI:        "https://doi.org/10.1234/ABC",
		SampleSize: &size,
		RawDate:    "2020-2021",
		TypeHints:  []string{"Randomized Controlled Trial"},
	}

	Normalize(draft)

	if draft.RawDate != "2020-2021" {
		t.Errorf("input RawDate mutated to %q", draft.RawDate)
	}
	if len(draft.TypeHints) != 1 {
		t.Errorf("input TypeHints mutated to %v", draft.TypeHints)
	}
	if draft.Authors[0] != "John Smith" {
		t.Errorf("input Authors mutated to %v", draft.Authors)
	}
	if draft.DOI != "https://doi.org/10.1234/ABC" {
		t.Errorf("input DOI mutated to %q", draft.DOI)
	}
	if draft.SampleSize == nil || *draft.SampleSize != -5 {
		t.Errorf("input SampleSize mutated to %v", draft.SampleSize)
	}
	if draft.Year != 0 {
		t.Errorf("input Year mutated to %d", draft.Year)
	}
}

func TestNormalize_FieldRules(t *testing.T) {
	t.Parallel()

	t.Run("preset year wins over raw date", func(t *testing.T) {
		t.Parallel()
		got := Normalize(&domain.PaperMetadata{Title: "T", Year: 1999, RawDate: "2023 Jan 15"})
		if got.Year != 1999 {
			t.Errorf("Year = %d, want 1999", got.Year)
		}
	})

	t.Run("negative sample size dropped then re-extracted", func(t *testing.T) {
		t.Parallel()
		size := -10
		got := Normalize(&domain.PaperMetadata{
			Title:      "T",
			SampleSize: &size,
			Abstract:   "The trial enrolled 42 participants in total.",
		})
		if got.SampleSize == nil || *got.SampleSize != 42 {
			t.Errorf("SampleSize = %v, want 42", got.SampleSize)
		}
	})

	t.Run("invalid preset study type reclassified", func(t *testing.T) {
		t.Parallel()
		got := Normalize(&domain.PaperMetadata{
			Title:     "A Longitudinal Follow-Up",
			StudyType: domain.StudyType("Journal Article"),
		})
		if got.StudyType != domain.StudyTypeCohort {
			t.Errorf("StudyType = %q, want %q", got.StudyType, domain.StudyTypeCohort)
		}
	})

	t.Run("valid preset study type preserved", func(t *testing.T) {
		t.Parallel()
		got := Normalize(&domain.PaperMetadata{
			Title:     "A Randomized Trial",
			StudyType: domain.StudyTypeCohort,
		})
		if got.StudyType != domain.StudyTypeCohort {
			t.Errorf("StudyType = %q, want preserved %q", got.StudyType, domain.StudyTypeCohort)
		}
	})

	t.Run("links filtered deduplicated sorted", func(t *testing.T) {
		t.Parallel()
		got := Normalize(&domain.PaperMetadata{
			Title: "T",
			DOI:   "10.1234/abc",
			FullTextLinks: []string{
				"https://example.org/paper.pdf",
				"ftp://example.org/paper.pdf",
				"not a url",
				"http://archive.example.org/1",
				"https://example.org/paper.pdf",
			},
		})
		want := []string{
			"http://archive.example.org/1",
			"https://doi.org/10.1234/abc",
			"https://example.org/paper.pdf",
		}
		if !reflect.DeepEqual(got.FullTextLinks, want) {
			t.Errorf("FullTextLinks = %v, want %v", got.FullTextLinks, want)
		}
	})

	t.Run("no usable links stays nil", func(t *testing.T) {
		t.Parallel()
		got := Normalize(&domain.PaperMetadata{
			Title:         "T",
			FullTextLinks: []string{"ftp://example.org/x", "mailto:a@b.c"},
		})
		if got.FullTextLinks != nil {
			t.Errorf("FullTextLinks = %v, want nil", got.FullTextLinks)
		}
	})

	t.Run("nil draft yields nil", func(t *testing.T) {
		t.Parallel()
		if got := Normalize(nil); got != nil {
			t.Errorf("Normalize(nil) = %v, want nil", got)
		}
	})
}
