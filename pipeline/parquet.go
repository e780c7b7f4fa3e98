package pipeline

import (
	"math"
	"path/filepath"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"fit-telemetry/telemetry"
)

// ParquetSink writes one SNAPPY-compressed parquet file per table into
// Dir. Absent numeric values encode as NaN; absent strings as empty.
type ParquetSink struct {
	Dir string
}

type sensorParquetRow struct {
	Timestamp string  `parquet:"name=timestamp, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	X         float64 `parquet:"name=x, type=DOUBLE"`
	Y         float64 `parquet:"name=y, type=DOUBLE"`
	Z         float64 `parquet:"name=z, type=DOUBLE"`
}

type recordParquetRow struct {
	Timestamp      string  `parquet:"name=timestamp, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	HeartRate      float64 `parquet:"name=heart_rate, type=DOUBLE"`
	DeveloperField string  `parquet:"name=developer_field, type=BYTE_ARRAY, convertedtype=UTF8"`
}

type selfReportParquetRow struct {
	StartTimestamp string `parquet:"name=start_timestamp, type=BYTE_ARRAY, convertedtype=UTF8"`
	EndTimestamp   string `parquet:"name=end_timestamp, type=BYTE_ARRAY, convertedtype=UTF8"`
	EventType      int64  `parquet:"name=event_type, type=INT64"`
}

func (s *ParquetSink) WriteSensor(base string, kind telemetry.SensorKind, rows []telemetry.SensorRow) (string, error) {
	path := filepath.Join(s.Dir, base+"_"+kind.String()+".parquet")
	return path, writeParquet(path, new(sensorParquetRow), len(rows), func(i int) any {
		r := rows[i]
		return sensorParquetRow{
			Timestamp: r.Timestamp.Format(timestampLayout),
			X:         r.X,
			Y:         r.Y,
			Z:         r.Z,
		}
	})
}

func (s *ParquetSink) WriteRecords(base string, rows []telemetry.RecordRow) (string, error) {
	path := filepath.Join(s.Dir, base+"_records.parquet")
	return path, writeParquet(path, new(recordParquetRow), len(rows), func(i int) any {
		r := rows[i]
		return recordParquetRow{
			Timestamp:      r.Timestamp.Format(timestampLayout),
			HeartRate:      valueOrNaN(r.HeartRate),
			DeveloperField: stringPtrOrEmpty(r.DeveloperValue),
		}
	})
}

func (s *ParquetSink) WriteSelfReports(base string, intervals []telemetry.Interval) (string, error) {
	path := filepath.Join(s.Dir, base+"_self_reports.parquet")
	return path, writeParquet(path, new(selfReportParquetRow), len(intervals), func(i int) any {
		iv := intervals[i]
		end := ""
		if iv.End != nil {
			end = iv.End.Format(timestampLayout)
		}
		return selfReportParquetRow{
			StartTimestamp: iv.Start.Format(timestampLayout),
			EndTimestamp:   end,
			EventType:      int64(iv.EventType),
		}
	})
}

func writeParquet(path string, schema any, n int, row func(i int) any) error {
	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return err
	}
	pw, err := writer.NewParquetWriter(fw, schema, 4)
	if err != nil {
		_ = fw.Close()
		return err
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY
	for i := 0; i < n; i++ {
		if err := pw.Write(row(i)); err != nil {
			_ = pw.WriteStop()
			_ = fw.Close()
			return err
		}
	}
	if err := pw.WriteStop(); err != nil {
		_ = fw.Close()
		return err
	}
	return fw.Close()
}

func valueOrNaN(v *float64) float64 {
	if v == nil {
		return math.NaN()
	}
	return *v
}
