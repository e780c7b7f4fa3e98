package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// Options configures one batch run.
type Options struct {
	// InputDir is scanned non-recursively for .fit files (case-insensitive
	// extension match).
	InputDir string
	// OutputDir defaults to <InputDir>/csv_output.
	OutputDir string
	// Format selects the sink: csv (default) or parquet.
	Format string
	// Workers caps the pool; 0 means the number of CPUs. The effective
	// pool never exceeds the file count.
	Workers int
	// Parallel disabled runs every unit sequentially on the calling
	// goroutine; results must be identical either way.
	Parallel bool
	// HistoryDB, when set, appends per-file outcomes to a SQLite ledger.
	HistoryDB string

	Logger  *slog.Logger
	Decoder Decoder
}

// BatchSummary aggregates a whole run. Counts are exact regardless of
// worker completion order.
type BatchSummary struct {
	FilesFound  int
	Succeeded   int
	Elapsed     time.Duration
	MeanPerFile time.Duration
	Outcomes    []FileOutcome
}

// Run processes every FIT file in the input directory. Individual file
// failures are contained in their outcome; Run itself fails only for
// usage-level problems (bad input path, unusable output directory or
// format) or context cancellation.
func Run(ctx context.Context, opts Options) (*BatchSummary, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	dec := opts.Decoder
	if dec == nil {
		dec = FitFileDecoder{}
	}

	info, err := os.Stat(opts.InputDir)
	if err != nil {
		return nil, fmt.Errorf("input path: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("input path %q is not a directory", opts.InputDir)
	}

	outDir := opts.OutputDir
	if outDir == "" {
		outDir = filepath.Join(opts.InputDir, "csv_output")
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	sink, err := NewSink(outDir, opts.Format)
	if err != nil {
		return nil, err
	}

	files, err := discoverFitFiles(opts.InputDir)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		logger.Warn("no fit files found", "dir", opts.InputDir)
		return &BatchSummary{}, nil
	}

	logger.Info("batch starting",
		"files", len(files), "output_dir", outDir, "parallel", opts.Parallel)

	start := time.Now()
	var outcomes []FileOutcome
	if opts.Parallel && len(files) > 1 {
		outcomes, err = runPool(ctx, files, poolSize(len(files), opts.Workers), dec, sink, logger)
	} else {
		outcomes, err = runSequential(ctx, files, dec, sink, logger)
	}

	summary := summarize(outcomes, len(files), time.Since(start))
	if opts.HistoryDB != "" {
		if herr := appendHistory(opts.HistoryDB, start, summary.Outcomes); herr != nil {
			logger.Error("record run history", "db", opts.HistoryDB, "error", herr)
		}
	}

	logger.Info("batch complete",
		"total_elapsed", summary.Elapsed,
		"mean_per_file", summary.MeanPerFile,
		"succeeded", summary.Succeeded,
		"total", summary.FilesFound)
	return summary, err
}

// discoverFitFiles lists candidate files in dir, case-insensitive on the
// extension, sorted for deterministic dispatch order.
func discoverFitFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read input directory: %w", err)
	}
	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.EqualFold(filepath.Ext(e.Name()), ".fit") {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

func poolSize(fileCount, configured int) int {
	n := configured
	if n <= 0 {
		n = runtime.NumCPU()
	}
	if fileCount < n {
		n = fileCount
	}
	if n < 1 {
		n = 1
	}
	return n
}

// runPool dispatches one unit per file over a bounded worker pool and
// collects outcomes through a completion channel. Units share nothing;
// there are no cross-unit counters to lock.
func runPool(ctx context.Context, files []string, workers int, dec Decoder, sink Sink, logger *slog.Logger) ([]FileOutcome, error) {
	var g errgroup.Group
	g.SetLimit(workers)

	results := make(chan FileOutcome, len(files))
	submitted := 0
	for _, file := range files {
		if ctx.Err() != nil {
			break
		}
		file := file
		submitted++
		g.Go(func() error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			results <- runUnit(file, dec, sink, logger)
			return nil
		})
	}

	err := g.Wait()
	close(results)

	outcomes := make([]FileOutcome, 0, submitted)
	for o := range results {
		outcomes = append(outcomes, o)
	}
	return outcomes, err
}

func runSequential(ctx context.Context, files []string, dec Decoder, sink Sink, logger *slog.Logger) ([]FileOutcome, error) {
	outcomes := make([]FileOutcome, 0, len(files))
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return outcomes, err
		}
		outcomes = append(outcomes, runUnit(file, dec, sink, logger))
	}
	return outcomes, nil
}

// runUnit is the dispatch boundary: a panic escaping a unit is recorded as
// that file's failure and never halts the batch.
func runUnit(path string, dec Decoder, sink Sink, logger *slog.Logger) (outcome FileOutcome) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("unit panicked", "file", filepath.Base(path), "panic", r)
			outcome = FileOutcome{File: path, DecodeErr: fmt.Errorf("unit panicked: %v", r)}
		}
	}()
	return ProcessFile(path, dec, sink, logger)
}

func summarize(outcomes []FileOutcome, filesFound int, elapsed time.Duration) *BatchSummary {
	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].File < outcomes[j].File })
	succeeded := 0
	for _, o := range outcomes {
		if o.Success() {
			succeeded++
		}
	}
	summary := &BatchSummary{
		FilesFound: filesFound,
		Succeeded:  succeeded,
		Elapsed:    elapsed,
		Outcomes:   outcomes,
	}
	if filesFound > 0 {
		summary.MeanPerFile = elapsed / time.Duration(filesFound)
	}
	return summary
}
