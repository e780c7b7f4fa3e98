package fitdecode

import (
	"time"

	"github.com/tormoder/fit"
)

// Global message numbers this toolkit consumes. The decoder captures every
// message in the stream; these are just the ones with named fields below.
const (
	MesgFileID            fit.MesgNum = 0
	MesgRecord            fit.MesgNum = 20
	MesgGyroscopeData     fit.MesgNum = 164
	MesgAccelerometerData fit.MesgNum = 165
	MesgFieldDescription  fit.MesgNum = 206
)

// Table maps a global message number to that message type's data records,
// in original stream order. One Table describes one decoded FIT file and is
// owned by a single processing unit.
type Table map[fit.MesgNum][]Message

// Message is one decoded data record. Fields are keyed by profile field
// name where the field is known, "field_<n>" otherwise. Developer fields
// keep their declaration order so positional access remains possible when
// no field_description named them.
type Message struct {
	Fields map[string]Value
	Dev    []DeveloperField
}

// Field returns the named field value. The second result is false when the
// field was not present in the record, which is distinct from a present
// field carrying an invalid sentinel.
func (m Message) Field(name string) (Value, bool) {
	v, ok := m.Fields[name]
	return v, ok
}

// DevField resolves a developer field by name, falling back to declaration
// position when no field_description supplied a name.
func (m Message) DevField(name string, pos int) (Value, bool) {
	for _, d := range m.Dev {
		if d.Name != "" && d.Name == name {
			return d.Value, true
		}
	}
	if pos >= 0 && pos < len(m.Dev) {
		return m.Dev[pos].Value, true
	}
	return Value{}, false
}

// DeveloperField is one decoded developer-data field.
type DeveloperField struct {
	// Name comes from the matching field_description message, empty when
	// the device never described the field.
	Name             string
	FieldNumber      uint8
	DeveloperDataIdx uint8
	Value            Value
}

// Value is one decoded field payload.
type Value struct {
	// Scalar holds a single decoded value (uint8..uint64, int8..int64,
	// float64, string or time.Time). Nil when the payload is an array.
	Scalar any
	// Array holds element values for array-typed fields.
	Array []any
	// Invalid reports that every element carried the base type's invalid
	// sentinel.
	Invalid bool
}

// Float returns the scalar as float64. It is false for arrays, invalid
// sentinels, strings and timestamps.
func (v Value) Float() (float64, bool) {
	if v.Invalid || v.Scalar == nil {
		return 0, false
	}
	f, ok := floatAny(v.Scalar)
	return f, ok
}

// Floats returns the payload as a float64 slice. A scalar value yields a
// one-element slice so fixed-size groups decode uniformly.
func (v Value) Floats() ([]float64, bool) {
	if v.Invalid {
		return nil, false
	}
	if v.Array == nil {
		if f, ok := floatAny(v.Scalar); ok {
			return []float64{f}, true
		}
		return nil, false
	}
	out := make([]float64, 0, len(v.Array))
	for _, e := range v.Array {
		f, ok := floatAny(e)
		if !ok {
			return nil, false
		}
		out = append(out, f)
	}
	return out, true
}

// Time normalizes the value into a wall-clock time. The decoder already
// converts date_time fields to time.Time; integer payloads are interpreted
// as raw FIT epoch seconds so both encodings land in the same
// representation.
func (v Value) Time() (time.Time, bool) {
	if v.Invalid {
		return time.Time{}, false
	}
	switch x := v.Scalar.(type) {
	case time.Time:
		return x, true
	case uint32:
		if x == 0xFFFFFFFF {
			return time.Time{}, false
		}
		return fitEpochToUTC(x), true
	case int64:
		if x < 0 {
			return time.Time{}, false
		}
		return fitEpochToUTC(uint32(x)), true
	default:
		return time.Time{}, false
	}
}

// fieldNames maps (global message, field definition number) to the profile
// field name. Only the messages this toolkit reads are named; everything
// else falls back to field_<n>.
var fieldNames = map[fit.MesgNum]map[uint8]string{
	MesgFileID: {
		0: "type",
		1: "manufacturer",
		2: "product",
		3: "serial_number",
		4: "time_created",
	},
	MesgRecord: {
		253: "timestamp",
		3:   "heart_rate",
		4:   "cadence",
	},
	MesgAccelerometerData: {
		253: "timestamp",
		0:   "timestamp_ms",
		1:   "sample_time_offset",
		5:   "calibrated_accel_x",
		6:   "calibrated_accel_y",
		7:   "calibrated_accel_z",
	},
	MesgGyroscopeData: {
		253: "timestamp",
		0:   "timestamp_ms",
		1:   "sample_time_offset",
		5:   "calibrated_gyro_x",
		6:   "calibrated_gyro_y",
		7:   "calibrated_gyro_z",
	},
	MesgFieldDescription: {
		0: "developer_data_index",
		1: "field_definition_number",
		2: "fit_base_type_id",
		3: "field_name",
	},
}

// timeFields marks date_time-typed fields that decode into time.Time.
var timeFields = map[fit.MesgNum]map[uint8]bool{
	MesgFileID: {4: true},
}

func fieldName(global fit.MesgNum, fieldNumber uint8) string {
	if names, ok := fieldNames[global]; ok {
		if name, ok := names[fieldNumber]; ok {
			return name
		}
	}
	if fieldNumber == 253 {
		return "timestamp"
	}
	return "field_" + itoa(fieldNumber)
}

func isTimeField(global fit.MesgNum, fieldNumber uint8) bool {
	if fieldNumber == 253 {
		return true
	}
	return timeFields[global][fieldNumber]
}

func itoa(n uint8) string {
	if n == 0 {
		return "0"
	}
	var buf [3]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = '0' + n%10
		n /= 10
	}
	return string(buf[i:])
}

func floatAny(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int8:
		return float64(x), true
	case int16:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint8:
		return float64(x), true
	case uint16:
		return float64(x), true
	case uint32:
		return float64(x), true
	case uint64:
		return float64(x), true
	case int:
		return float64(x), true
	default:
		return 0, false
	}
}
