package batch

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/segmentio/parquet-go"
	"go.uber.org/zap"
)

// recordReader yields up to max records per call and an empty slice at end of input
type recordReader interface {
	header() []string
	next(max int) ([]*Record, int, error)
}

func (p *Processor) newReader(r io.Reader, format Format) (recordReader, error) {
	switch format {
	case FormatCSV:
		return newCSVReader(r, p.logger)
	case FormatParquet:
		return newParquetReader(r)
	case FormatJSON:
		return &jsonReader{decoder: json.NewDecoder(r)}, nil
	default:
		return nil, fmt.Errorf("unsupported file format: %s", format)
	}
}

// csvReader reads rows with a header naming at least source and log_message
type csvReader struct {
	reader     *csv.Reader
	columns    []string
	sourceIdx  int
	messageIdx int
	logger     *zap.Logger
}

func newCSVReader(r io.Reader, logger *zap.Logger) (*csvReader, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	columns, err := reader.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("%w: empty input", ErrMissingColumn)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	cr := &csvReader{reader: reader, columns: columns, sourceIdx: -1, messageIdx: -1, logger: logger}
	for i, name := range columns {
		switch strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))) {
		case ColumnSource:
			cr.sourceIdx = i
		case ColumnLogMessage:
			cr.messageIdx = i
		}
	}

	if cr.sourceIdx < 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumn, ColumnSource)
	}
	if cr.messageIdx < 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumn, ColumnLogMessage)
	}

	logger.Debug("CSV header detected", zap.Strings("columns", columns))
	return cr, nil
}

func (c *csvReader) header() []string {
	return c.columns
}

func (c *csvReader) next(max int) ([]*Record, int, error) {
	var batch []*Record
	skipped := 0

	for len(batch) < max {
		row, err := c.reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				c.logger.Warn("Skipping malformed CSV row", zap.Error(err))
				skipped++
				continue
			}
			return nil, skipped, fmt.Errorf("failed to read CSV row: %w", err)
		}

		if len(row) != len(c.columns) {
			c.logger.Warn("Skipping CSV row with wrong field count",
				zap.Int("expected", len(c.columns)),
				zap.Int("got", len(row)))
			skipped++
			continue
		}

		batch = append(batch, &Record{
			Source:     row[c.sourceIdx],
			LogMessage: row[c.messageIdx],
			Fields:     row,
		})
	}

	return batch, skipped, nil
}

type parquetInput struct {
	Source     string `parquet:"source"`
	LogMessage string `parquet:"log_message"`
}

// parquetReader needs random access, so the input is buffered first
type parquetReader struct {
	reader *parquet.Reader
}

func newParquetReader(r io.Reader) (*parquetReader, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read Parquet input: %w", err)
	}

	file, err := parquet.OpenFile(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open Parquet input: %w", err)
	}

	return &parquetReader{reader: parquet.NewReader(file)}, nil
}

func (p *parquetReader) header() []string {
	return []string{ColumnSource, ColumnLogMessage}
}

func (p *parquetReader) next(max int) ([]*Record, int, error) {
	var batch []*Record

	for len(batch) < max {
		var row parquetInput
		err := p.reader.Read(&row)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, 0, fmt.Errorf("failed to read Parquet row: %w", err)
		}

		batch = append(batch, &Record{Source: row.Source, LogMessage: row.LogMessage})
	}

	return batch, 0, nil
}

// jsonReader reads one JSON object per line
type jsonReader struct {
	decoder *json.Decoder
}

func (j *jsonReader) header() []string {
	return []string{ColumnSource, ColumnLogMessage}
}

func (j *jsonReader) next(max int) ([]*Record, int, error) {
	var batch []*Record

	for len(batch) < max {
		var record Record
		err := j.decoder.Decode(&record)
		if err == io.EOF {
			break
		}
		if err != nil {
			// a syntax error leaves the decoder unusable
			return nil, 0, fmt.Errorf("failed to decode JSON record: %w", err)
		}

		record.PredictedLabel = ""
		batch = append(batch, &record)
	}

	return batch, 0, nil
}
