// Package export serializes finalized result sets for downstream
// consumption.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/evidlab/study-aggregation-service/internal/domain"
)

// listSeparator joins multi-valued fields into one CSV cell.
const listSeparator = "; "

// csvHeader is the fixed column layout of an export. One row per merged
// entity, ordered by deduplication key so repeated exports of the same
// result set are byte-identical.
var csvHeader = []string{
	"dedup_key",
	"title",
	"authors",
	"doi",
	"year",
	"sample_size",
	"study_type",
	"full_text_links",
	"sources",
	"source_record_ids",
}

// WriteCSV writes the result set as CSV. Every field serializes to a
// single scalar or a delimited list; unset fields are empty cells, never
// placeholder strings.
func WriteCSV(w io.Writer, rs *domain.SearchResultSet) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	for _, key := range rs.Keys() {
		paper := rs.Papers[key]
		if err := cw.Write(paperRow(key, paper)); err != nil {
			return fmt.Errorf("write csv row for %q: %w", key, err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

// paperRow flattens one merged entity into CSV cells in header order.
func paperRow(key string, p *domain.PaperMetadata) []string {
	year := ""
	if p.Year != 0 {
		year = strconv.Itoa(p.Year)
	}

	sampleSize := ""
	if p.SampleSize != nil {
		sampleSize = strconv.Itoa(*p.SampleSize)
	}

	names := make([]string, 0, len(p.Provenance))
	ids := make([]string, 0, len(p.Provenance))
	for _, rec := range p.Provenance {
		names = append(names, string(rec.Source))
		ids = append(ids, rec.RecordID)
	}

	return []string{
		key,
		p.Title,
		strings.Join(p.Authors, listSeparator),
		p.DOI,
		year,
		sampleSize,
		string(p.StudyType),
		strings.Join(p.FullTextLinks, listSeparator),
		strings.Join(names, listSeparator),
		strings.Join(ids, listSeparator),
	}
}
