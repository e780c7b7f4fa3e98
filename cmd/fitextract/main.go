package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"fit-telemetry/pipeline"
)

func main() {
	flags := pflag.NewFlagSet(filepath.Base(os.Args[0]), pflag.ContinueOnError)
	var (
		configPath = flags.String("config", "", "YAML config file path")
		outDir     = flags.String("out", "", "Output directory (default <input>/csv_output)")
		format     = flags.String("format", "csv", "Output table format: csv|parquet")
		workers    = flags.Int("workers", 0, "Worker pool cap (0 = number of CPUs)")
		noParallel = flags.Bool("no-multiprocessing", false, "Process files sequentially")
		historyDB  = flags.String("history-db", "", "SQLite run-history ledger path")
		verbose    = flags.Bool("verbose", false, "Enable debug logs")
	)
	flags.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] /path/to/fit/files\n", filepath.Base(os.Args[0]))
		flags.PrintDefaults()
	}
	if err := flags.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			os.Exit(0)
		}
		os.Exit(2)
	}
	if flags.NArg() != 1 {
		flags.Usage()
		os.Exit(2)
	}
	inputDir := flags.Arg(0)

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	opts := pipeline.Options{
		InputDir:  inputDir,
		OutputDir: *outDir,
		Format:    *format,
		Workers:   *workers,
		Parallel:  !*noParallel,
		HistoryDB: *historyDB,
		Logger:    logger,
	}
	if *configPath != "" {
		cfg, err := pipeline.LoadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "load config: %v\n", err)
			os.Exit(2)
		}
		applyConfig(&opts, cfg, flags)
	}

	if info, err := os.Stat(inputDir); err != nil || !info.IsDir() {
		fmt.Fprintf(os.Stderr, "Error: path %q is not a directory\n", inputDir)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	summary, err := pipeline.Run(ctx, opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fitextract failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Total processing time: %s\n", summary.Elapsed.Round(10*time.Millisecond))
	fmt.Printf("Average time per file: %s\n", summary.MeanPerFile.Round(10*time.Millisecond))
	fmt.Printf("Successfully processed %d/%d files.\n", summary.Succeeded, summary.FilesFound)
}

// applyConfig fills in config-file values for anything not set explicitly
// on the command line.
func applyConfig(opts *pipeline.Options, cfg *pipeline.FileConfig, flags *pflag.FlagSet) {
	if cfg.OutputDir != "" && !flags.Changed("out") {
		opts.OutputDir = cfg.OutputDir
	}
	if cfg.Format != "" && !flags.Changed("format") {
		opts.Format = cfg.Format
	}
	if cfg.Workers > 0 && !flags.Changed("workers") {
		opts.Workers = cfg.Workers
	}
	if cfg.Parallel != nil && !flags.Changed("no-multiprocessing") {
		opts.Parallel = *cfg.Parallel
	}
	if cfg.HistoryDB != "" && !flags.Changed("history-db") {
		opts.HistoryDB = cfg.HistoryDB
	}
}
