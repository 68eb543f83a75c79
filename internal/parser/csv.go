package parser

import (
	"encoding/csv"
	"strings"
)

var csvDelimiters = []rune{',', ';', '\t', '|'}

// IsCSVContent reports whether the first lines of text look like a delimited
// table: at least two rows that share one column count greater than one.
func IsCSVContent(text string) bool {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	if len(lines) > 5 {
		lines = lines[:5]
	}
	if len(lines) < 2 {
		return false
	}
	sample := strings.Join(lines, "\n")

	for _, delim := range csvDelimiters {
		if !strings.ContainsRune(sample, delim) {
			continue
		}
		r := csv.NewReader(strings.NewReader(sample))
		r.Comma = delim
		r.FieldsPerRecord = -1
		r.LazyQuotes = true
		rows, err := r.ReadAll()
		if err != nil || len(rows) < 2 {
			continue
		}
		cols := len(rows[0])
		consistent := cols > 1
		for _, row := range rows[1:] {
			if len(row) != cols {
				consistent = false
				break
			}
		}
		if consistent {
			return true
		}
	}
	return false
}
