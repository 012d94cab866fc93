package batch

import (
	"errors"
	"path/filepath"
	"strings"
	"time"
)

// Column names shared by every input and output format
const (
	ColumnSource         = "source"
	ColumnLogMessage     = "log_message"
	ColumnPredictedLabel = "predicted_label"
)

// ErrMissingColumn is returned when a CSV header lacks source or log_message
var ErrMissingColumn = errors.New("missing required column")

// Record is one input row plus its classification
type Record struct {
	Source         string `json:"source"`
	LogMessage     string `json:"log_message"`
	PredictedLabel string `json:"predicted_label"`
	Matched        bool   `json:"-"`

	// Fields holds the original CSV row in header order
	Fields []string `json:"-"`
}

// ParquetRow is the on-disk parquet layout for records
type ParquetRow struct {
	Source         string `parquet:"source"`
	LogMessage     string `parquet:"log_message"`
	PredictedLabel string `parquet:"predicted_label,optional"`
}

// Result is the output of processing one input
type Result struct {
	Header   []string      `json:"header"`
	Records  []*Record     `json:"-"`
	Summary  Summary       `json:"summary"`
	Skipped  int           `json:"skipped"`
	Duration time.Duration `json:"duration"`
}

// Config contains batch processing configuration
type Config struct {
	BatchSize         int    `yaml:"batch_size" mapstructure:"batch_size"`
	WorkerCount       int    `yaml:"worker_count" mapstructure:"worker_count"`
	UnclassifiedLabel string `yaml:"unclassified_label" mapstructure:"unclassified_label"`
}

// Format is a supported input or output file format
type Format string

const (
	FormatCSV     Format = "csv"
	FormatParquet Format = "parquet"
	FormatJSON    Format = "json"
)

// DetectFormat detects the file format from its extension, defaulting to CSV
func DetectFormat(filename string) Format {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".parquet":
		return FormatParquet
	case ".json", ".jsonl", ".ndjson":
		return FormatJSON
	default:
		return FormatCSV
	}
}

// ParseFormat parses a format name given on the command line
func ParseFormat(name string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(name))); f {
	case FormatCSV, FormatParquet, FormatJSON:
		return f, nil
	default:
		return "", errors.New("unsupported format: " + name)
	}
}
