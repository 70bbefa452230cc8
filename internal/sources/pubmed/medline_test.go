package pubmed

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const medlineSample = `PMID- 12345678
DP  - 2023 Jan 15
TI  - Effects of intervention X on outcome Y: a randomized controlled
      trial.
AB  - A study with 500 participants (n=500) investigating treatment
      effects.
AU  - Smith JA
AU  - Doe J
FAU - Smith, John A
FAU - Doe, Jane
PT  - Journal Article
PT  - Randomized Controlled Trial
LID - 10.1234/example.12345 [doi]

PMID- 87654321
TI  - A cohort study of something else.
DP  - 2022
AU  - Roe R
`

func TestParseMedline(t *testing.T) {
	t.Parallel()

	records, err := ParseMedline(strings.NewReader(medlineSample))
	require.NoError(t, err)
	require.Len(t, records, 2)

	first := records[0]
	assert.Equal(t, "12345678", first["PMID"])
	assert.Equal(t, "2023 Jan 15", first["DP"])
	assert.Equal(t, "Effects of intervention X on outcome Y: a randomized controlled trial.", first["TI"])
	assert.Equal(t, "A study with 500 participants (n=500) investigating treatment effects.", first["AB"])
	assert.Equal(t, []string{"Smith JA", "Doe J"}, first["AU"])
	assert.Equal(t, []string{"Smith, John A", "Doe, Jane"}, first["FAU"])
	assert.Equal(t, []string{"Journal Article", "Randomized Controlled Trial"}, first["PT"])
	assert.Equal(t, "10.1234/example.12345 [doi]", first["LID"])

	second := records[1]
	assert.Equal(t, "87654321", second["PMID"])
	assert.Equal(t, "A cohort study of something else.", second["TI"])
	assert.Equal(t, "2022", second["DP"])
	assert.Equal(t, "Roe R", second["AU"])
}

func TestParseMedlineEdgeCases(t *testing.T) {
	t.Parallel()

	t.Run("empty input", func(t *testing.T) {
		t.Parallel()
		records, err := ParseMedline(strings.NewReader(""))
		require.NoError(t, err)
		assert.Empty(t, records)
	})

	t.Run("blank lines between records collapse", func(t *testing.T) {
		t.Parallel()
		input := "PMID- 1\nTI  - First title here.\n\n\n\nPMID- 2\nTI  - Second title here.\n"
		records, err := ParseMedline(strings.NewReader(input))
		require.NoError(t, err)
		require.Len(t, records, 2)
		assert.Equal(t, "1", records[0]["PMID"])
		assert.Equal(t, "2", records[1]["PMID"])
	})

	t.Run("lines without separator are dropped", func(t *testing.T) {
		t.Parallel()
		input := "garbage line\nPMID- 42\nTI  - Usable title.\n"
		records, err := ParseMedline(strings.NewReader(input))
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, "42", records[0]["PMID"])
	})

	t.Run("continuation without a preceding tag is ignored", func(t *testing.T) {
		t.Parallel()
		input := "      orphaned continuation\nPMID- 7\nTI  - Some title.\n"
		records, err := ParseMedline(strings.NewReader(input))
		require.NoError(t, err)
		require.Len(t, records, 1)
	})
}
