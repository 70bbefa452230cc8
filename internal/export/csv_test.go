package export

import (
	"bytes"
	"encoding/csv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evidlab/study-aggregation-service/internal/domain"
)

func sampleResultSet() *domain.SearchResultSet {
	rs := domain.NewSearchResultSet()
	rs.Papers["doi:10.1234/example.1"] = &domain.PaperMetadata{
		Title:         "Effects of intervention X",
		Authors:       []string{"Smith, JA", "Doe, J"},
		DOI:           "10.1234/example.1",
		Year:          2021,
		SampleSize:    domain.IntPtr(120),
		StudyType:     domain.StudyTypeRCT,
		FullTextLinks: []string{"https://doi.org/10.1234/example.1"},
		Provenance: []domain.SourceRecord{
			{Source: domain.SourceCochrane, RecordID: "CD0001"},
			{Source: domain.SourcePubMed, RecordID: "111"},
		},
	}
	rs.Papers["title:a sparse study|y=0"] = &domain.PaperMetadata{
		Title: "A sparse study",
		Provenance: []domain.SourceRecord{
			{Source: domain.SourceClinicalTrials, RecordID: "NCT1"},
		},
	}
	return rs
}

func TestWriteCSV(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, sampleResultSet()))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, csvHeader, rows[0])

	// Rows are ordered by dedup key: "doi:..." sorts before "title:...".
	full := rows[1]
	assert.Equal(t, "doi:10.1234/example.1", full[0])
	assert.Equal(t, "Effects of intervention X", full[1])
	assert.Equal(t, "Smith, JA; Doe, J", full[2])
	assert.Equal(t, "10.1234/example.1", full[3])
	assert.Equal(t, "2021", full[4])
	assert.Equal(t, "120", full[5])
	assert.Equal(t, "rct", full[6])
	assert.Equal(t, "cochrane; pubmed", full[8])
	assert.Equal(t, "CD0001; 111", full[9])

	// Unset fields are empty cells, never placeholders.
	sparse := rows[2]
	assert.Equal(t, "A sparse study", sparse[1])
	assert.Equal(t, "", sparse[2])
	assert.Equal(t, "", sparse[3])
	assert.Equal(t, "", sparse[4])
	assert.Equal(t, "", sparse[5])
	assert.Equal(t, "", sparse[6])
}

func TestWriteCSVEmptyResultSet(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, domain.NewSearchResultSet()))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, csvHeader, rows[0])
}

func TestWriteCSVDeterministic(t *testing.T) {
	t.Parallel()

	var a, b bytes.Buffer
	rs := sampleResultSet()
	require.NoError(t, WriteCSV(&a, rs))
	require.NoError(t, WriteCSV(&b, rs))
	assert.Equal(t, a.String(), b.String())
}
