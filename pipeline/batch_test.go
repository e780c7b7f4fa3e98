package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"fit-telemetry/fitdecode"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stubDecoder serves canned tables keyed by file base name, so batch
// behavior is testable without binary fixtures.
type stubDecoder struct {
	tables map[string]*fitdecode.File
	fail   map[string]error
	panics map[string]bool
}

func (d stubDecoder) Decode(path string) (*fitdecode.File, error) {
	name := filepath.Base(path)
	if d.panics[name] {
		panic("decoder blew up on " + name)
	}
	if err, ok := d.fail[name]; ok {
		return nil, err
	}
	f, ok := d.tables[name]
	if !ok {
		return nil, errors.New("no table for " + name)
	}
	return f, nil
}

func recordTable(base time.Time, n int) *fitdecode.File {
	msgs := make([]fitdecode.Message, n)
	for i := range msgs {
		hr := float64(60 + i)
		msgs[i] = fitdecode.Message{Fields: map[string]fitdecode.Value{
			"timestamp":  {Scalar: base.Add(time.Duration(i) * time.Second)},
			"heart_rate": {Scalar: hr},
		}}
	}
	return &fitdecode.File{
		Table:          fitdecode.Table{fitdecode.MesgRecord: msgs},
		HeaderCRCValid: true,
		FileCRCValid:   true,
	}
}

func writeInputFiles(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, name := range names {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("placeholder"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestRunIsolatesFileFailures(t *testing.T) {
	inDir := t.TempDir()
	outDir := t.TempDir()
	writeInputFiles(t, inDir, "a.fit", "b.FIT", "c.fit", "notes.txt")

	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	dec := stubDecoder{
		tables: map[string]*fitdecode.File{
			"a.fit": recordTable(base, 3),
			"b.FIT": recordTable(base, 5),
		},
		fail: map[string]error{"c.fit": errors.New("truncated file")},
	}

	summary, err := Run(context.Background(), Options{
		InputDir:  inDir,
		OutputDir: outDir,
		Parallel:  true,
		Workers:   2,
		Logger:    discardLogger(),
		Decoder:   dec,
	})
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if summary.FilesFound != 3 {
		t.Fatalf("files found = %d, want 3 (txt file must be ignored)", summary.FilesFound)
	}
	if summary.Succeeded != 2 {
		t.Fatalf("succeeded = %d, want 2", summary.Succeeded)
	}

	// One bad file never suppresses the others' outputs.
	for _, want := range []string{"a_records.csv", "a_self_reports.csv", "b_records.csv"} {
		if _, err := os.Stat(filepath.Join(outDir, want)); err != nil {
			t.Errorf("missing output %s: %v", want, err)
		}
	}
	if _, err := os.Stat(filepath.Join(outDir, "c_records.csv")); !os.IsNotExist(err) {
		t.Errorf("failed file should produce no output, stat err = %v", err)
	}

	var failed *FileOutcome
	for i := range summary.Outcomes {
		if filepath.Base(summary.Outcomes[i].File) == "c.fit" {
			failed = &summary.Outcomes[i]
		}
	}
	if failed == nil || failed.DecodeErr == nil {
		t.Fatalf("expected a recorded decode failure for c.fit, outcomes = %+v", summary.Outcomes)
	}
}

func TestRunParallelMatchesSequential(t *testing.T) {
	inDir := t.TempDir()
	writeInputFiles(t, inDir, "x.fit", "y.fit", "z.fit")

	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	dec := stubDecoder{tables: map[string]*fitdecode.File{
		"x.fit": recordTable(base, 2),
		"y.fit": recordTable(base.Add(time.Hour), 4),
		"z.fit": recordTable(base.Add(2*time.Hour), 1),
	}}

	run := func(parallel bool) (string, *BatchSummary) {
		outDir := t.TempDir()
		summary, err := Run(context.Background(), Options{
			InputDir:  inDir,
			OutputDir: outDir,
			Parallel:  parallel,
			Workers:   3,
			Logger:    discardLogger(),
			Decoder:   dec,
		})
		if err != nil {
			t.Fatalf("Run(parallel=%v) error: %v", parallel, err)
		}
		return outDir, summary
	}

	seqDir, seqSummary := run(false)
	parDir, parSummary := run(true)

	if seqSummary.Succeeded != parSummary.Succeeded || seqSummary.FilesFound != parSummary.FilesFound {
		t.Fatalf("summaries diverge: sequential %+v, parallel %+v", seqSummary, parSummary)
	}

	entries, err := os.ReadDir(seqDir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		seq, err := os.ReadFile(filepath.Join(seqDir, e.Name()))
		if err != nil {
			t.Fatal(err)
		}
		par, err := os.ReadFile(filepath.Join(parDir, e.Name()))
		if err != nil {
			t.Fatalf("parallel run missing %s: %v", e.Name(), err)
		}
		if string(seq) != string(par) {
			t.Errorf("%s differs between sequential and parallel runs", e.Name())
		}
	}
}

func TestRunRecoversUnitPanic(t *testing.T) {
	inDir := t.TempDir()
	writeInputFiles(t, inDir, "good.fit", "bomb.fit")

	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	dec := stubDecoder{
		tables: map[string]*fitdecode.File{"good.fit": recordTable(base, 2)},
		panics: map[string]bool{"bomb.fit": true},
	}

	summary, err := Run(context.Background(), Options{
		InputDir:  inDir,
		OutputDir: t.TempDir(),
		Parallel:  true,
		Workers:   2,
		Logger:    discardLogger(),
		Decoder:   dec,
	})
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if summary.Succeeded != 1 {
		t.Fatalf("succeeded = %d, want 1", summary.Succeeded)
	}
	for _, o := range summary.Outcomes {
		if filepath.Base(o.File) == "bomb.fit" {
			if o.DecodeErr == nil {
				t.Fatal("panicking unit must surface as a recorded failure")
			}
		}
	}
}

func TestRunRejectsBadInputs(t *testing.T) {
	if _, err := Run(context.Background(), Options{InputDir: "/no/such/dir", Logger: discardLogger()}); err == nil {
		t.Error("missing input directory must fail")
	}

	inDir := t.TempDir()
	writeInputFiles(t, inDir, "a.fit")
	_, err := Run(context.Background(), Options{
		InputDir: inDir,
		Format:   "xml",
		Logger:   discardLogger(),
	})
	if err == nil {
		t.Error("unsupported format must fail before any processing")
	}
}

func TestRunEmptyDirectory(t *testing.T) {
	summary, err := Run(context.Background(), Options{
		InputDir: t.TempDir(),
		Logger:   discardLogger(),
	})
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if summary.FilesFound != 0 || summary.Succeeded != 0 {
		t.Fatalf("empty directory summary = %+v", summary)
	}
}

func TestPoolSize(t *testing.T) {
	if got := poolSize(10, 4); got != 4 {
		t.Errorf("poolSize(10, 4) = %d", got)
	}
	if got := poolSize(2, 8); got != 2 {
		t.Errorf("poolSize(2, 8) = %d, pool must not exceed file count", got)
	}
	if got := poolSize(5, 0); got < 1 || got > 5 {
		t.Errorf("poolSize(5, 0) = %d, want within [1,5]", got)
	}
}

func TestProcessFileIndependentTables(t *testing.T) {
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	accelOnly := &fitdecode.File{
		Table: fitdecode.Table{
			fitdecode.MesgAccelerometerData: []fitdecode.Message{{
				Fields: map[string]fitdecode.Value{
					"timestamp":          {Scalar: base},
					"sample_time_offset": {Array: []any{float64(0), float64(40)}},
					"calibrated_accel_x": {Array: []any{float64(1), float64(2)}},
					"calibrated_accel_y": {Array: []any{float64(3), float64(4)}},
					"calibrated_accel_z": {Array: []any{float64(5), float64(6)}},
				},
			}},
		},
		HeaderCRCValid: true,
		FileCRCValid:   true,
	}
	dec := stubDecoder{tables: map[string]*fitdecode.File{"solo.fit": accelOnly}}
	sink := &CSVSink{Dir: t.TempDir()}

	outcome := ProcessFile("solo.fit", dec, sink, discardLogger())
	if !outcome.Success() {
		t.Fatalf("outcome should succeed with one table, err = %q", outcome.Err())
	}
	if !outcome.Accelerometer.Written() || outcome.Accelerometer.Rows != 2 {
		t.Errorf("accelerometer table = %+v", outcome.Accelerometer)
	}
	if outcome.Gyroscope.Written() || outcome.Records.Written() || outcome.SelfReports.Written() {
		t.Errorf("absent inputs must not produce tables: %+v", outcome)
	}
}
