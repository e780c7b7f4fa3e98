package telemetry

import (
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"fit-telemetry/fitdecode"
)

// Developer field names looked up by name first, with the positional
// fallback used when the device never described its fields.
const (
	devFieldBattery     = "battery"
	devFieldEventActive = "event_active"
	devFieldEventType   = "event_type"

	devPosBattery     = 0
	devPosEventActive = 1
	devPosEventType   = 2
)

// RecordRow is one row of the main record stream. HeartRate and
// DeveloperValue stay nil when the record did not carry them; absence must
// survive into serialization as an empty field, never a default number.
type RecordRow struct {
	Timestamp      time.Time
	HeartRate      *float64
	DeveloperValue *string
}

// Extract bundles the two outputs of the single record-stream walk.
type Extract struct {
	Rows        []RecordRow
	SelfReports []Interval
}

// ExtractRecords walks the chronological record stream once, building the
// record rows and driving the self-report interval detector in lockstep.
// Records missing a timestamp, or failing to read at all, are skipped with
// a debug diagnostic; the stream continues. Records lacking the detector's
// auxiliary developer fields still contribute a row but are excluded from
// detector input. Returns ErrNoData when the record message type is absent
// or no record yielded a row.
func ExtractRecords(table fitdecode.Table, logger *slog.Logger) (*Extract, error) {
	msgs, ok := table[fitdecode.MesgRecord]
	if !ok {
		return nil, fmt.Errorf("records: %w", ErrNoData)
	}

	rows := make([]RecordRow, 0, len(msgs))
	detector := &intervalDetector{}

	for i, msg := range msgs {
		row, err := buildRecordRow(msg, i)
		if err != nil {
			logger.Debug("record skipped", "error", err)
			continue
		}
		rows = append(rows, row)

		if flagOn, code, ok := detectorInputs(msg); ok {
			detector.observe(row.Timestamp, flagOn, code)
		}
	}

	if len(rows) == 0 {
		return nil, fmt.Errorf("records: %w", ErrNoData)
	}
	return &Extract{Rows: rows, SelfReports: detector.finish()}, nil
}

func buildRecordRow(msg fitdecode.Message, index int) (RecordRow, error) {
	tsValue, ok := msg.Field("timestamp")
	if !ok {
		return RecordRow{}, &RecordError{Index: index, Reason: "missing timestamp"}
	}
	ts, ok := tsValue.Time()
	if !ok {
		return RecordRow{}, &RecordError{Index: index, Reason: "unusable timestamp"}
	}

	row := RecordRow{Timestamp: ts}
	if v, ok := msg.Field("heart_rate"); ok {
		if hr, ok := v.Float(); ok {
			row.HeartRate = &hr
		}
	}
	if v, ok := msg.DevField(devFieldBattery, devPosBattery); ok {
		if f, ok := v.Float(); ok {
			s := strconv.FormatFloat(f, 'g', -1, 64)
			row.DeveloperValue = &s
		}
	}
	return row, nil
}

// detectorInputs reads the active flag and event-type code. When either is
// absent the record is excluded from detector input only.
func detectorInputs(msg fitdecode.Message) (flagOn bool, code int, ok bool) {
	activeV, okActive := msg.DevField(devFieldEventActive, devPosEventActive)
	codeV, okCode := msg.DevField(devFieldEventType, devPosEventType)
	if !okActive || !okCode {
		return false, 0, false
	}
	active, okActive := activeV.Float()
	codeF, okCode := codeV.Float()
	if !okActive || !okCode {
		return false, 0, false
	}
	return active == devActiveOn, int(codeF), true
}
