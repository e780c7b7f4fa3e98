package pipeline

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"fit-telemetry/fitdecode"
	"fit-telemetry/telemetry"
)

// Decoder supplies the decoded message table for one log file. The default
// implementation reads the file and runs the raw FIT decoder; tests and
// alternative sources can substitute their own.
type Decoder interface {
	Decode(path string) (*fitdecode.File, error)
}

// FitFileDecoder decodes FIT files from disk.
type FitFileDecoder struct{}

func (FitFileDecoder) Decode(path string) (*fitdecode.File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fit file: %w", err)
	}
	decoded, err := fitdecode.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return decoded, nil
}

// TableOutput is the outcome of one of the four independent output tables.
// Zero value means the table was absent (no data); Err set means the table
// was attempted and failed.
type TableOutput struct {
	Path string
	Rows int
	Err  error
}

// Written reports whether the table was produced.
func (t TableOutput) Written() bool {
	return t.Err == nil && t.Path != ""
}

// FileOutcome is the result of one file's processing unit.
type FileOutcome struct {
	File          string
	Accelerometer TableOutput
	Gyroscope     TableOutput
	Records       TableOutput
	SelfReports   TableOutput
	DecodeErr     error
	Elapsed       time.Duration
}

// Success reports whether at least one output table was produced.
func (o FileOutcome) Success() bool {
	return o.TablesWritten() > 0
}

// TablesWritten counts produced output tables.
func (o FileOutcome) TablesWritten() int {
	n := 0
	for _, t := range []TableOutput{o.Accelerometer, o.Gyroscope, o.Records, o.SelfReports} {
		if t.Written() {
			n++
		}
	}
	return n
}

// Err summarizes the outcome's failure, empty on success.
func (o FileOutcome) Err() string {
	if o.DecodeErr != nil {
		return o.DecodeErr.Error()
	}
	parts := make([]string, 0, 4)
	for _, t := range []TableOutput{o.Accelerometer, o.Gyroscope, o.Records, o.SelfReports} {
		if t.Err != nil {
			parts = append(parts, t.Err.Error())
		}
	}
	return strings.Join(parts, "; ")
}

// ProcessFile runs one file's complete extraction: decode, expand both
// sensor kinds, and the combined record/self-report walk, writing up to
// four tables through the sink. Each table succeeds, is absent, or fails
// independently; only a decode failure short-circuits the unit.
func ProcessFile(path string, dec Decoder, sink Sink, logger *slog.Logger) FileOutcome {
	start := time.Now()
	outcome := FileOutcome{File: path}
	name := filepath.Base(path)

	decoded, err := dec.Decode(path)
	if err != nil {
		outcome.DecodeErr = err
		outcome.Elapsed = time.Since(start)
		logger.Error("decode failed", "file", name, "error", err)
		return outcome
	}
	if !decoded.FileCRCValid || !decoded.HeaderCRCValid {
		logger.Warn("crc mismatch while decoding", "file", name,
			"header_crc_valid", decoded.HeaderCRCValid, "file_crc_valid", decoded.FileCRCValid)
	}

	base := strings.TrimSuffix(name, filepath.Ext(name))

	outcome.Accelerometer = writeSensorTable(decoded.Table, telemetry.SensorAccelerometer, base, sink, logger, name)
	outcome.Gyroscope = writeSensorTable(decoded.Table, telemetry.SensorGyroscope, base, sink, logger, name)

	extract, err := telemetry.ExtractRecords(decoded.Table, logger)
	switch {
	case errors.Is(err, telemetry.ErrNoData):
		logger.Info("no record messages found", "file", name)
	case err != nil:
		outcome.Records = TableOutput{Err: err}
		logger.Error("record extraction failed", "file", name, "error", err)
	default:
		outcome.Records = writeTable(len(extract.Rows), logger, name, "records", func() (string, error) {
			return sink.WriteRecords(base, extract.Rows)
		})
		outcome.SelfReports = writeTable(len(extract.SelfReports), logger, name, "self reports", func() (string, error) {
			return sink.WriteSelfReports(base, extract.SelfReports)
		})
	}

	outcome.Elapsed = time.Since(start)
	logger.Info("file processed", "file", name, "tables", outcome.TablesWritten(), "elapsed", outcome.Elapsed)
	return outcome
}

func writeSensorTable(table fitdecode.Table, kind telemetry.SensorKind, base string, sink Sink, logger *slog.Logger, name string) TableOutput {
	rows, err := telemetry.ExpandSamples(table, kind, logger)
	if errors.Is(err, telemetry.ErrNoData) {
		logger.Info("no sensor data found", "file", name, "sensor", kind.String())
		return TableOutput{}
	}
	if err != nil {
		logger.Error("sensor extraction failed", "file", name, "sensor", kind.String(), "error", err)
		return TableOutput{Err: err}
	}
	return writeTable(len(rows), logger, name, kind.String()+" samples", func() (string, error) {
		return sink.WriteSensor(base, kind, rows)
	})
}

func writeTable(rows int, logger *slog.Logger, name, what string, write func() (string, error)) TableOutput {
	dest, err := write()
	if err != nil {
		logger.Error("write failed", "file", name, "table", what, "error", err)
		return TableOutput{Err: err}
	}
	logger.Info("table written", "file", name, "table", what, "rows", rows, "dest", filepath.Base(dest))
	return TableOutput{Path: dest, Rows: rows}
}
