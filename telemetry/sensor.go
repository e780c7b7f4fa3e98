// Package telemetry extracts tabular time series from decoded FIT message
// tables: high-frequency sensor samples, the per-second record stream, and
// self-reported event intervals reconstructed from developer fields.
package telemetry

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/tormoder/fit"

	"fit-telemetry/fitdecode"
)

// SensorKind selects which grouped sensor message to expand. Both kinds
// share the same wire shape and differ only in message number and axis
// field prefix.
type SensorKind int

const (
	SensorAccelerometer SensorKind = iota
	SensorGyroscope
)

func (k SensorKind) String() string {
	if k == SensorGyroscope {
		return "gyroscope"
	}
	return "accelerometer"
}

func (k SensorKind) mesgNum() fit.MesgNum {
	if k == SensorGyroscope {
		return fitdecode.MesgGyroscopeData
	}
	return fitdecode.MesgAccelerometerData
}

func (k SensorKind) axisPrefix() string {
	if k == SensorGyroscope {
		return "calibrated_gyro"
	}
	return "calibrated_accel"
}

// SensorRow is one expanded sample with its absolute timestamp.
type SensorRow struct {
	Timestamp time.Time
	X, Y, Z   float64
}

// ExpandSamples flattens every sample group of the selected sensor kind
// into per-sample rows. Groups whose offset and axis sequences disagree in
// length are dropped whole; a malformed group never aborts the remaining
// groups. Returns ErrNoData when the message type is absent or no group
// produced a row, so callers can tell "no sensor" from an empty table.
func ExpandSamples(table fitdecode.Table, kind SensorKind, logger *slog.Logger) ([]SensorRow, error) {
	groups, ok := table[kind.mesgNum()]
	if !ok {
		return nil, fmt.Errorf("%s: %w", kind, ErrNoData)
	}

	rows := make([]SensorRow, 0, len(groups)*8)
	for i, group := range groups {
		base, ok := groupBaseTime(group)
		if !ok {
			logger.Debug("sensor group skipped: no base timestamp", "sensor", kind.String(), "group", i)
			continue
		}
		offsets, ok := fieldFloats(group, "sample_time_offset")
		if !ok {
			logger.Debug("sensor group skipped: no sample offsets", "sensor", kind.String(), "group", i)
			continue
		}
		xs, okX := fieldFloats(group, kind.axisPrefix()+"_x")
		ys, okY := fieldFloats(group, kind.axisPrefix()+"_y")
		zs, okZ := fieldFloats(group, kind.axisPrefix()+"_z")
		if !okX || !okY || !okZ {
			logger.Debug("sensor group skipped: missing axis values", "sensor", kind.String(), "group", i)
			continue
		}
		if len(xs) != len(offsets) || len(ys) != len(offsets) || len(zs) != len(offsets) {
			logger.Debug("sensor group skipped: length mismatch",
				"sensor", kind.String(), "group", i,
				"offsets", len(offsets), "x", len(xs), "y", len(ys), "z", len(zs))
			continue
		}

		for j := range offsets {
			rows = append(rows, SensorRow{
				Timestamp: base.Add(time.Duration(offsets[j]) * time.Millisecond),
				X:         xs[j],
				Y:         ys[j],
				Z:         zs[j],
			})
		}
	}

	if len(rows) == 0 {
		return nil, fmt.Errorf("%s: %w", kind, ErrNoData)
	}
	return rows, nil
}

// groupBaseTime derives the group's absolute base time from the
// whole-second timestamp plus the millisecond remainder field. Devices
// that write a full epoch-millisecond value without the timestamp field
// are handled by the fallback branch.
func groupBaseTime(group fitdecode.Message) (time.Time, bool) {
	ms := 0.0
	if v, ok := group.Field("timestamp_ms"); ok {
		if f, ok := v.Float(); ok {
			ms = f
		}
	}
	if v, ok := group.Field("timestamp"); ok {
		if ts, ok := v.Time(); ok {
			return ts.Add(time.Duration(ms) * time.Millisecond), true
		}
	}
	if ms > 1e10 {
		return time.UnixMilli(int64(ms)).UTC(), true
	}
	return time.Time{}, false
}

func fieldFloats(msg fitdecode.Message, name string) ([]float64, bool) {
	v, ok := msg.Field(name)
	if !ok {
		return nil, false
	}
	return v.Floats()
}
