package batch

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
)

// Preview returns up to limit CSV rows keyed by header without classifying
// them. Rows with the wrong field count are skipped.
func Preview(r io.Reader, limit int) ([]string, []map[string]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil, fmt.Errorf("%w: empty input", ErrMissingColumn)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimPrefix(header[i], "\ufeff")
	}

	if limit < 0 {
		limit = 0
	}
	rows := make([]map[string]string, 0, limit)
	for len(rows) < limit {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read CSV row: %w", err)
		}
		if len(row) != len(header) {
			continue
		}

		m := make(map[string]string, len(header))
		for i, name := range header {
			m[name] = row[i]
		}
		rows = append(rows, m)
	}

	return header, rows, nil
}
