package battery

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeRecordsCSV(t *testing.T, dir, name string, start time.Time, hours []float64, percents []float64) {
	t.Helper()
	var b strings.Builder
	b.WriteString("timestamp,heart_rate,developer_field\n")
	for i := range hours {
		ts := start.Add(time.Duration(hours[i] * float64(time.Hour)))
		fmt.Fprintf(&b, "%s,72,%g\n", ts.Format("2006-01-02T15:04:05.000Z07:00"), percents[i])
	}
	if err := os.WriteFile(filepath.Join(dir, name), []byte(b.String()), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestAnalyzeLinearDischarge(t *testing.T) {
	dir := t.TempDir()
	start := time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC)

	// 100% draining 2%/hour, split across two files.
	writeRecordsCSV(t, dir, "a_records.csv", start,
		[]float64{0, 1, 2}, []float64{100, 98, 96})
	writeRecordsCSV(t, dir, "b_records.csv", start,
		[]float64{3, 4, 5}, []float64{94, 92, 90})

	report, err := Analyze(dir)
	if err != nil {
		t.Fatalf("Analyze error: %v", err)
	}
	if report.Files != 2 || report.Points != 6 {
		t.Errorf("files = %d points = %d, want 2 and 6", report.Files, report.Points)
	}
	if math.Abs(report.SlopePerHour-(-2)) > 1e-6 {
		t.Errorf("slope = %v, want -2", report.SlopePerHour)
	}
	if math.Abs(report.Intercept-100) > 1e-6 {
		t.Errorf("intercept = %v, want 100", report.Intercept)
	}
	if math.Abs(report.PredictedHours-50) > 1e-6 {
		t.Errorf("predicted hours = %v, want 50", report.PredictedHours)
	}
	if report.RMSE > 1e-6 {
		t.Errorf("rmse = %v, want ~0 for exact linear data", report.RMSE)
	}
}

func TestAnalyzeSkipsUnusableRows(t *testing.T) {
	dir := t.TempDir()
	start := time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC)
	writeRecordsCSV(t, dir, "ok_records.csv", start,
		[]float64{0, 1, 2}, []float64{90, 85, 80})

	// Rows with an empty developer field must not poison the fit.
	sparse := "timestamp,heart_rate,developer_field\n" +
		start.Format("2006-01-02T15:04:05.000Z07:00") + ",70,\n" +
		"not-a-timestamp,70,50\n"
	if err := os.WriteFile(filepath.Join(dir, "sparse_records.csv"), []byte(sparse), 0o644); err != nil {
		t.Fatal(err)
	}

	report, err := Analyze(dir)
	if err != nil {
		t.Fatalf("Analyze error: %v", err)
	}
	if report.Points != 3 {
		t.Errorf("points = %d, want 3 from the clean file only", report.Points)
	}
	if math.Abs(report.SlopePerHour-(-5)) > 1e-6 {
		t.Errorf("slope = %v, want -5", report.SlopePerHour)
	}
}

func TestAnalyzeErrors(t *testing.T) {
	if _, err := Analyze(t.TempDir()); err == nil {
		t.Error("directory without csv files must fail")
	}

	dir := t.TempDir()
	start := time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC)
	writeRecordsCSV(t, dir, "one_records.csv", start, []float64{0}, []float64{100})
	if _, err := Analyze(dir); err == nil {
		t.Error("a single point must fail the regression")
	}

	flat := t.TempDir()
	writeRecordsCSV(t, flat, "flat_records.csv", start,
		[]float64{0, 1, 2}, []float64{80, 80, 80})
	if _, err := Analyze(flat); err == nil {
		t.Error("a flat series must be rejected, battery life is undefined")
	}
}
