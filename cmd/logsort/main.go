package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/raaihank/logsort/internal/batch"
	"github.com/raaihank/logsort/internal/classifier"
	"github.com/raaihank/logsort/internal/config"
	"github.com/raaihank/logsort/internal/export"
	"github.com/raaihank/logsort/internal/logger"
)

func main() {
	var (
		configPath = flag.String("config", "", "Configuration file path")
		inputFile  = flag.String("input", "", "Input file (CSV, Parquet, or JSON lines)")
		outputFile = flag.String("output", "", "Write classified records to this file")
		format     = flag.String("format", "", "Output format: csv, json or parquet (default: from -output extension)")
		batchSize  = flag.Int("batch-size", 0, "Records per batch (default: from config)")
		workers    = flag.Int("workers", 0, "Number of worker goroutines (default: from config)")
		text       = flag.String("text", "", "Classify a single log line and exit")
		logLevel   = flag.String("log-level", "warn", "Log level")
	)
	flag.Parse()

	if err := validateFlags(*inputFile, *text); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n\n", err)
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s -text \"User User123 logged in.\"\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -input logs.csv -output output.csv\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -input logs.parquet -output out.parquet -workers 8\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\n-text and -input are mutually exclusive.\n")
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:  *logLevel,
		Format: "console",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	rules, err := classifier.NewRuleSet(cfg.Classifier.RuleTable())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid rule table: %v\n", err)
		os.Exit(1)
	}
	cls := classifier.New(rules, log.WithComponent("classifier"))

	if *text != "" {
		result := cls.Classify(*text)
		fmt.Printf("%s\t(matched=%t rule=%d)\n", result.LabelOr(cfg.Classifier.UnclassifiedLabel), result.Matched, result.RuleIndex)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("Received shutdown signal, cancelling classification")
		cancel()
	}()

	batchConfig := batch.Config{
		BatchSize:         cfg.Batch.BatchSize,
		WorkerCount:       cfg.Batch.WorkerCount,
		UnclassifiedLabel: cfg.Classifier.UnclassifiedLabel,
	}
	if *batchSize > 0 {
		batchConfig.BatchSize = *batchSize
	}
	if *workers > 0 {
		batchConfig.WorkerCount = *workers
	}

	processor := batch.NewProcessor(cls, batchConfig, log.WithComponent("batch").Logger)
	result, err := processor.ProcessFile(ctx, *inputFile)
	if err != nil {
		if errors.Is(err, batch.ErrMissingColumn) {
			log.Fatal("Input must contain source and log_message columns", zap.Error(err))
		}
		log.Fatal("Classification failed", zap.Error(err))
	}

	if *outputFile != "" {
		outFormat := batch.DetectFormat(*outputFile)
		if *format != "" {
			if outFormat, err = batch.ParseFormat(*format); err != nil {
				log.Fatal("Invalid output format", zap.Error(err))
			}
		}
		if err := writeOutput(*outputFile, result, outFormat); err != nil {
			log.Fatal("Failed to write output", zap.Error(err))
		}
	}

	printSummary(result, *outputFile)
}

func writeOutput(path string, result *batch.Result, format batch.Format) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}

	if err := export.Write(file, result, format); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

func printSummary(result *batch.Result, outputFile string) {
	fmt.Printf("Total logs: %d\n", result.Summary.Total)
	if result.Skipped > 0 {
		fmt.Printf("Skipped rows: %d\n", result.Skipped)
	}

	labels := result.Summary.ChartLabels()
	values := result.Summary.ChartValues()
	for i, label := range labels {
		fmt.Printf("  %-24s %d\n", label, values[i])
	}

	fmt.Printf("Duration: %s\n", result.Duration)
	if outputFile != "" {
		fmt.Printf("Output written to %s\n", outputFile)
	}
}

var (
	errNoInput       = errors.New("one of -input or -text is required")
	errTextWithInput = errors.New("-text and -input are mutually exclusive")
)

func validateFlags(input, text string) error {
	switch {
	case input == "" && text == "":
		return errNoInput
	case input != "" && text != "":
		return errTextWithInput
	}
	return nil
}
