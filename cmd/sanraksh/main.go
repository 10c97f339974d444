package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sanraksh/sanraksh/internal/config"
	"github.com/sanraksh/sanraksh/internal/logger"
	"github.com/sanraksh/sanraksh/internal/pipeline"
	"github.com/sanraksh/sanraksh/internal/privacy"
	"github.com/sanraksh/sanraksh/internal/store"
)

var (
	version = "0.1.0"
	commit  = "dev"
	date    = "unknown"
)

func main() {
	var (
		configPath  = flag.String("config", "", "Configuration file path")
		inputFile   = flag.String("input", "", "Input dataset file (CSV, Parquet, or JSONL)")
		outputFile  = flag.String("output", "", "Output file (stdout when omitted; .parquet writes Parquet)")
		workers     = flag.Int("workers", 0, "Worker goroutines (overrides config)")
		batchSize   = flag.Int("batch-size", 0, "Rows per batch (overrides config)")
		audit       = flag.Bool("audit", false, "Record aggregate run counters to the audit store")
		showStats   = flag.Bool("stats", false, "Print a run summary to stderr")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("sanraksh %s (commit: %s, built: %s)\n", version, commit, date)
		os.Exit(0)
	}

	inputPath := *inputFile
	if inputPath == "" && flag.NArg() > 0 {
		inputPath = flag.Arg(0)
	}
	if inputPath == "" {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] input-file\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s orders.csv\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --output redacted.csv --workers 8 orders.csv\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --input events.jsonl --stats\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s dataset.parquet --output redacted.parquet --audit\n", os.Args[0])
		os.Exit(1)
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *workers > 0 {
		cfg.Pipeline.Workers = *workers
	}
	if *batchSize > 0 {
		cfg.Pipeline.BatchSize = *batchSize
	}

	// Initialize logger
	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting sanraksh batch run",
		zap.String("version", version),
		zap.String("input", inputPath),
		zap.Int("workers", cfg.Pipeline.Workers),
		zap.Int("batch_size", cfg.Pipeline.BatchSize))

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("Received shutdown signal, cancelling run...")
		cancel()
	}()

	if _, err := os.Stat(inputPath); os.IsNotExist(err) {
		log.Fatal("Input file does not exist", zap.String("input", inputPath))
	}

	engine, err := privacy.NewEngine(cfg.Privacy, log.WithComponent("privacy"))
	if err != nil {
		log.Fatal("Failed to build redaction engine", zap.Error(err))
	}

	startedAt := time.Now()
	pipe := pipeline.NewPipeline(engine, &cfg.Pipeline, log.WithComponent("pipeline"))

	result, err := pipe.ProcessFile(ctx, inputPath, *outputFile)
	if err != nil {
		log.Fatal("Redaction run failed", zap.Error(err))
	}

	log.Info("Batch run completed",
		zap.Int64("total_rows", result.TotalRows),
		zap.Int64("emitted", result.Emitted),
		zap.Int64("skipped", result.Skipped),
		zap.Int64("flagged", result.Flagged),
		zap.Duration("duration", result.Duration))

	if *audit {
		recordAudit(ctx, cfg, log, inputPath, startedAt, result)
	}

	if *showStats {
		printSummary(result)
	}
}

// recordAudit upserts the run's aggregate counters into the audit store.
// Store trouble degrades to a warning; the run itself has already succeeded.
func recordAudit(ctx context.Context, cfg *config.Config, log *logger.Logger, inputPath string, startedAt time.Time, result *pipeline.Result) {
	auditStore, err := store.NewStore(&cfg.Audit, log.WithComponent("store").Logger)
	if err != nil {
		log.Warn("Audit store unavailable, skipping audit record", zap.Error(err))
		return
	}
	defer auditStore.Close()

	run := &store.RunRecord{
		ID:         uuid.New().String(),
		Source:     filepath.Base(inputPath),
		StartedAt:  startedAt,
		FinishedAt: time.Now(),
		TotalRows:  result.TotalRows,
		Emitted:    result.Emitted,
		Skipped:    result.Skipped,
		Flagged:    result.Flagged,
	}

	if err := auditStore.RecordRun(ctx, run, result.CategoryCounts); err != nil {
		log.Warn("Failed to record audit counters", zap.Error(err))
		return
	}
	log.Info("Audit record written", zap.String("run_id", run.ID))
}

// printSummary writes a human-readable run summary to stderr. Stdout is
// reserved for redacted output.
func printSummary(result *pipeline.Result) {
	fmt.Fprintf(os.Stderr, "\n=== Redaction Run Summary ===\n")
	fmt.Fprintf(os.Stderr, "Total rows:    %d\n", result.TotalRows)
	fmt.Fprintf(os.Stderr, "Emitted:       %d\n", result.Emitted)
	fmt.Fprintf(os.Stderr, "Skipped:       %d\n", result.Skipped)
	if result.TotalRows > 0 {
		fmt.Fprintf(os.Stderr, "PII flagged:   %d (%.1f%%)\n", result.Flagged,
			float64(result.Flagged)/float64(result.TotalRows)*100)
	} else {
		fmt.Fprintf(os.Stderr, "PII flagged:   0\n")
	}
	fmt.Fprintf(os.Stderr, "Duration:      %v\n", result.Duration.Round(time.Millisecond))
	if seconds := result.Duration.Seconds(); seconds > 0 {
		fmt.Fprintf(os.Stderr, "Rows/second:   %.0f\n", float64(result.TotalRows)/seconds)
	}

	if len(result.CategoryCounts) > 0 {
		fmt.Fprintf(os.Stderr, "\n=== Matches by Category ===\n")
		names := make([]string, 0, len(result.CategoryCounts))
		for name := range result.CategoryCounts {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(os.Stderr, "%-14s %d\n", name+":", result.CategoryCounts[name])
		}
	}

	if len(result.Errors) > 0 {
		fmt.Fprintf(os.Stderr, "\n=== Row Errors ===\n")
		for _, e := range result.Errors {
			fmt.Fprintf(os.Stderr, "%s\n", e)
		}
	}
}
