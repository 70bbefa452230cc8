package pubmed

import (
	"bufio"
	"io"
	"strings"

	"github.com/evidlab/study-aggregation-service/internal/domain"
)

// MEDLINE text format: each line is a four-character tag padded with
// spaces, a "- " separator, and a value. Continuation lines start with six
// spaces. A blank line separates records.
//
//	PMID- 12345678
//	TI  - Effects of a thing on another thing: a randomized
//	      controlled trial.
//	AU  - Smith JA
//	AU  - Doe J
const medlineContinuation = "      "

// ParseMedline parses efetch rettype=medline output into raw records.
// Tags that appear once become string values; repeated tags (AU, PT, AID
// and the like) collect into string lists in order of appearance. Partial
// trailing records are kept; a read failure returns the records parsed so
// far along with the error.
func ParseMedline(r io.Reader) ([]domain.RawRecord, error) {
	var (
		records []domain.RawRecord
		values  = make(map[string][]string)
		order   []string
		lastTag string
	)

	flush := func() {
		if len(values) == 0 {
			return
		}
		record := make(domain.RawRecord, len(values))
		for _, tag := range order {
			vals := values[tag]
			if len(vals) == 1 {
				record[tag] = vals[0]
			} else {
				record[tag] = append([]string(nil), vals...)
			}
		}
		records = append(records, record)
		values = make(map[string][]string)
		order = order[:0]
		lastTag = ""
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()

		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}

		// Continuation of the previous tag's value.
		if strings.HasPrefix(line, medlineContinuation) {
			if lastTag != "" {
				vals := values[lastTag]
				vals[len(vals)-1] += " " + strings.TrimSpace(line)
			}
			continue
		}

		tag, value, ok := splitMedlineLine(line)
		if !ok {
			continue
		}
		if _, seen := values[tag]; !seen {
			order = append(order, tag)
		}
		values[tag] = append(values[tag], value)
		lastTag = tag
	}

	flush()
	return records, scanner.Err()
}

// splitMedlineLine splits "TAG - value" into its parts. Lines without the
// separator are noise and dropped.
func splitMedlineLine(line string) (tag, value string, ok bool) {
	sep := strings.Index(line, "- ")
	if sep < 1 || sep > 5 {
		return "", "", false
	}
	tag = strings.TrimSpace(line[:sep])
	if tag == "" {
		return "", "", false
	}
	return tag, strings.TrimSpace(line[sep+2:]), true
}
