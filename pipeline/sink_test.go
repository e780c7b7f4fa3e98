package pipeline

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"fit-telemetry/telemetry"
)

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	return rows
}

func TestCSVSinkSensor(t *testing.T) {
	dir := t.TempDir()
	sink := &CSVSink{Dir: dir}
	ts := time.Date(2026, 3, 1, 8, 0, 0, 250_000_000, time.UTC)

	path, err := sink.WriteSensor("ride", telemetry.SensorAccelerometer, []telemetry.SensorRow{
		{Timestamp: ts, X: 0.5, Y: -1.25, Z: 9.81},
	})
	if err != nil {
		t.Fatalf("WriteSensor error: %v", err)
	}
	if filepath.Base(path) != "ride_accelerometer.csv" {
		t.Errorf("output name = %s", filepath.Base(path))
	}

	rows := readCSV(t, path)
	if !reflect.DeepEqual(rows[0], []string{"timestamp", "x", "y", "z"}) {
		t.Errorf("header = %v", rows[0])
	}
	want := []string{"2026-03-01T08:00:00.250Z", "0.5", "-1.25", "9.81"}
	if !reflect.DeepEqual(rows[1], want) {
		t.Errorf("row = %v, want %v", rows[1], want)
	}
}

func TestCSVSinkRecordsEmptyOptionalFields(t *testing.T) {
	dir := t.TempDir()
	sink := &CSVSink{Dir: dir}
	ts := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	hr := 88.0
	dev := "42.5"

	path, err := sink.WriteRecords("ride", []telemetry.RecordRow{
		{Timestamp: ts, HeartRate: &hr, DeveloperValue: &dev},
		{Timestamp: ts.Add(time.Second)},
	})
	if err != nil {
		t.Fatalf("WriteRecords error: %v", err)
	}

	rows := readCSV(t, path)
	if rows[1][1] != "88" || rows[1][2] != "42.5" {
		t.Errorf("populated row = %v", rows[1])
	}
	// Absent values render as empty fields, never a default number.
	if rows[2][1] != "" || rows[2][2] != "" {
		t.Errorf("absent values must be empty fields, row = %v", rows[2])
	}
}

func TestCSVSinkSelfReports(t *testing.T) {
	dir := t.TempDir()
	sink := &CSVSink{Dir: dir}
	start := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	end := start.Add(5 * time.Minute)

	path, err := sink.WriteSelfReports("ride", []telemetry.Interval{
		{Start: start, End: &end, EventType: telemetry.EventCigarette},
		{Start: start.Add(time.Hour), EventType: telemetry.EventVape},
	})
	if err != nil {
		t.Fatalf("WriteSelfReports error: %v", err)
	}

	rows := readCSV(t, path)
	if rows[1][2] != "1" || rows[2][2] != "2" {
		t.Errorf("event type columns = %v, %v", rows[1], rows[2])
	}
	if rows[1][1] == "" {
		t.Error("closed interval must include its end timestamp")
	}
	if rows[2][1] != "" {
		t.Errorf("open interval end must be empty, got %q", rows[2][1])
	}
}

func TestNewSinkFormatSelection(t *testing.T) {
	dir := t.TempDir()
	if s, err := NewSink(dir, ""); err != nil {
		t.Errorf("default format: %v", err)
	} else if _, ok := s.(*CSVSink); !ok {
		t.Errorf("default sink type = %T", s)
	}
	if s, err := NewSink(dir, "Parquet"); err != nil {
		t.Errorf("parquet format: %v", err)
	} else if _, ok := s.(*ParquetSink); !ok {
		t.Errorf("parquet sink type = %T", s)
	}
	if _, err := NewSink(dir, "json"); err == nil {
		t.Error("unsupported format must be rejected")
	}
}
