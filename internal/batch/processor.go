package batch

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/raaihank/logsort/internal/classifier"
)

// Classifier is the engine a Processor feeds one record at a time
type Classifier interface {
	ClassifyRecord(source, message string) classifier.Result
}

// Processor classifies every record of an input file
type Processor struct {
	classifier Classifier
	config     Config
	logger     *zap.Logger
}

// NewProcessor creates a new batch processor
func NewProcessor(c Classifier, config Config, logger *zap.Logger) *Processor {
	if config.BatchSize <= 0 {
		config.BatchSize = 1000
	}
	if config.WorkerCount <= 0 {
		config.WorkerCount = 1
	}
	if config.UnclassifiedLabel == "" {
		config.UnclassifiedLabel = classifier.UnclassifiedLabel
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Processor{
		classifier: c,
		config:     config,
		logger:     logger,
	}
}

// ProcessFile opens filePath and processes it in the format its extension implies
func (p *Processor) ProcessFile(ctx context.Context, filePath string) (*Result, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open input file: %w", err)
	}
	defer file.Close()

	return p.Process(ctx, file, DetectFormat(filePath))
}

// Process reads records from r, classifies them and returns them in input order
func (p *Processor) Process(ctx context.Context, r io.Reader, format Format) (*Result, error) {
	start := time.Now()

	reader, err := p.newReader(r, format)
	if err != nil {
		return nil, err
	}

	result := &Result{
		Header:  reader.header(),
		Records: []*Record{},
		Summary: newSummary(),
	}

	p.logger.Info("Starting batch classification",
		zap.String("format", string(format)),
		zap.Int("batch_size", p.config.BatchSize),
		zap.Int("workers", p.config.WorkerCount))

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		batch, skipped, err := reader.next(p.config.BatchSize)
		result.Skipped += skipped
		if err != nil {
			return nil, fmt.Errorf("failed to read batch: %w", err)
		}

		if len(batch) == 0 {
			break
		}

		if err := p.classifyBatch(ctx, batch); err != nil {
			return nil, err
		}

		for _, record := range batch {
			result.Summary.add(record.PredictedLabel, record.Matched)
		}
		result.Records = append(result.Records, batch...)

		p.logger.Debug("Batch classified",
			zap.Int("batch_size", len(batch)),
			zap.Int("records_total", len(result.Records)))
	}

	result.Duration = time.Since(start)

	p.logger.Info("Batch classification completed",
		zap.Int("total_records", result.Summary.Total),
		zap.Int("skipped", result.Skipped),
		zap.Any("label_counts", result.Summary.Counts),
		zap.Duration("duration", result.Duration))

	return result, nil
}

// classifyBatch fans records out to workers. Each worker writes only to the
// records it receives, so input order is kept without further coordination.
func (p *Processor) classifyBatch(ctx context.Context, batch []*Record) error {
	workers := p.config.WorkerCount
	if workers > len(batch) {
		workers = len(batch)
	}

	jobs := make(chan *Record)
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for record := range jobs {
				res := p.classifier.ClassifyRecord(record.Source, record.LogMessage)
				record.Matched = res.IsMatch()
				record.PredictedLabel = res.LabelOr(p.config.UnclassifiedLabel)
			}
		}()
	}

	var err error
send:
	for _, record := range batch {
		select {
		case jobs <- record:
		case <-ctx.Done():
			err = ctx.Err()
			break send
		}
	}
	close(jobs)
	wg.Wait()

	return err
}
