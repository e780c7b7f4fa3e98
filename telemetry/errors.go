package telemetry

import (
	"errors"
	"fmt"
)

// ErrNoData reports that a message type is structurally absent from the
// decoded file, or present but yielded zero usable rows. Callers check it
// with errors.Is and treat the affected output as absent rather than
// failed.
var ErrNoData = errors.New("telemetry: no data")

// RecordError describes a single record that could not contribute a row.
// It marks an expected data-quality gap; the stream continues past it.
type RecordError struct {
	Index  int
	Reason string
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("record %d skipped: %s", e.Index, e.Reason)
}
