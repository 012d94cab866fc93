// Package export writes classified batches back out as CSV, JSON lines or Parquet.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/segmentio/parquet-go"

	"github.com/raaihank/logsort/internal/batch"
)

// Write encodes result to w in the given format
func Write(w io.Writer, result *batch.Result, format batch.Format) error {
	switch format {
	case batch.FormatCSV:
		return WriteCSV(w, result)
	case batch.FormatJSON:
		return WriteJSON(w, result)
	case batch.FormatParquet:
		return WriteParquet(w, result)
	default:
		return fmt.Errorf("unsupported output format: %s", format)
	}
}

// WriteCSV writes the original columns followed by predicted_label.
// An existing predicted_label column is overwritten in place.
func WriteCSV(w io.Writer, result *batch.Result) error {
	header, labelIdx := outputHeader(result.Header)

	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, record := range result.Records {
		row := make([]string, len(header))
		if record.Fields != nil {
			copy(row, record.Fields)
		} else {
			row = fillRow(row, result.Header, record)
		}
		row[labelIdx] = record.PredictedLabel

		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// WriteJSON writes one JSON object per record
func WriteJSON(w io.Writer, result *batch.Result) error {
	enc := json.NewEncoder(w)
	for _, record := range result.Records {
		if err := enc.Encode(record); err != nil {
			return fmt.Errorf("failed to encode record: %w", err)
		}
	}
	return nil
}

// WriteParquet writes source, log_message and predicted_label columns
func WriteParquet(w io.Writer, result *batch.Result) error {
	pw := parquet.NewGenericWriter[batch.ParquetRow](w)

	rows := make([]batch.ParquetRow, len(result.Records))
	for i, record := range result.Records {
		rows[i] = batch.ParquetRow{
			Source:         record.Source,
			LogMessage:     record.LogMessage,
			PredictedLabel: record.PredictedLabel,
		}
	}

	if _, err := pw.Write(rows); err != nil {
		return fmt.Errorf("failed to write Parquet rows: %w", err)
	}

	return pw.Close()
}

func outputHeader(in []string) ([]string, int) {
	for i, name := range in {
		if strings.EqualFold(strings.TrimSpace(name), batch.ColumnPredictedLabel) {
			return append([]string(nil), in...), i
		}
	}
	header := append(append([]string(nil), in...), batch.ColumnPredictedLabel)
	return header, len(header) - 1
}

func fillRow(row, header []string, record *batch.Record) []string {
	for i, name := range header {
		switch name {
		case batch.ColumnSource:
			row[i] = record.Source
		case batch.ColumnLogMessage:
			row[i] = record.LogMessage
		}
	}
	return row
}
