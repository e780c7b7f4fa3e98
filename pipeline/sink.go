// Package pipeline composes decoding, telemetry extraction and
// serialization into per-file processing units, and fans units out across
// a bounded worker pool for whole-directory batches.
package pipeline

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"fit-telemetry/telemetry"
)

// timestampLayout keeps millisecond precision, which RFC3339 would drop
// for high-frequency sensor rows.
const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Sink persists the extraction outputs of one file. Implementations decide
// the serialization format; the core hands over rows and a base name and
// receives the destination path back. Absent optional values render as an
// empty field.
type Sink interface {
	WriteSensor(base string, kind telemetry.SensorKind, rows []telemetry.SensorRow) (string, error)
	WriteRecords(base string, rows []telemetry.RecordRow) (string, error)
	WriteSelfReports(base string, intervals []telemetry.Interval) (string, error)
}

// NewSink returns a sink writing format-encoded tables into dir.
// Supported formats: "csv" (default) and "parquet".
func NewSink(dir, format string) (Sink, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "csv":
		return &CSVSink{Dir: dir}, nil
	case "parquet":
		return &ParquetSink{Dir: dir}, nil
	default:
		return nil, fmt.Errorf("unsupported format %q (expected csv|parquet)", format)
	}
}

// CSVSink writes one CSV file per table into Dir.
type CSVSink struct {
	Dir string
}

func (s *CSVSink) WriteSensor(base string, kind telemetry.SensorKind, rows []telemetry.SensorRow) (string, error) {
	path := filepath.Join(s.Dir, base+"_"+kind.String()+".csv")
	return path, writeCSV(path, []string{"timestamp", "x", "y", "z"}, len(rows), func(i int) []string {
		r := rows[i]
		return []string{
			r.Timestamp.Format(timestampLayout),
			formatFloat(r.X),
			formatFloat(r.Y),
			formatFloat(r.Z),
		}
	})
}

func (s *CSVSink) WriteRecords(base string, rows []telemetry.RecordRow) (string, error) {
	path := filepath.Join(s.Dir, base+"_records.csv")
	return path, writeCSV(path, []string{"timestamp", "heart_rate", "developer_field"}, len(rows), func(i int) []string {
		r := rows[i]
		return []string{
			r.Timestamp.Format(timestampLayout),
			formatFloatPtr(r.HeartRate),
			stringPtrOrEmpty(r.DeveloperValue),
		}
	})
}

func (s *CSVSink) WriteSelfReports(base string, intervals []telemetry.Interval) (string, error) {
	path := filepath.Join(s.Dir, base+"_self_reports.csv")
	return path, writeCSV(path, []string{"start_timestamp", "end_timestamp", "event_type"}, len(intervals), func(i int) []string {
		iv := intervals[i]
		end := ""
		if iv.End != nil {
			end = iv.End.Format(timestampLayout)
		}
		return []string{
			iv.Start.Format(timestampLayout),
			end,
			strconv.Itoa(iv.EventType),
		}
	})
}

func writeCSV(path string, header []string, n int, row func(i int) []string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		if err := w.Write(row(i)); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func formatFloatPtr(v *float64) string {
	if v == nil {
		return ""
	}
	return formatFloat(*v)
}

func stringPtrOrEmpty(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
