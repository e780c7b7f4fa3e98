package telemetry

import "time"

// Self-report event type codes written by the device firmware.
const (
	EventCigarette = 1
	EventVape      = 2
)

// devActiveOn is the developer-field value meaning "event switched on".
const devActiveOn = 1

func recognizedEventType(code int) bool {
	return code == EventCigarette || code == EventVape
}

// Interval is one reconstructed self-report event. A nil End marks an
// interval still open when the record stream ended; callers treat it as a
// truncated or ongoing event, never as a closed one.
type Interval struct {
	Start     time.Time
	End       *time.Time
	EventType int
}

// intervalDetector is the edge-triggered two-state machine that collapses
// the noisy per-record active flag into discrete intervals. State is local
// to one record stream walk. A single interval can be open at a time,
// regardless of event type; repeated "on" pulses while active are ignored.
type intervalDetector struct {
	active    bool
	intervals []Interval
}

// observe consumes one record's detector inputs. Records carrying an
// unrecognized event-type code are invisible here: they neither open nor
// close an interval.
func (d *intervalDetector) observe(ts time.Time, flagOn bool, code int) {
	if !recognizedEventType(code) {
		return
	}
	switch {
	case flagOn && !d.active:
		d.intervals = append(d.intervals, Interval{Start: ts, EventType: code})
		d.active = true
	case !flagOn && d.active:
		end := ts
		d.intervals[len(d.intervals)-1].End = &end
		d.active = false
	}
}

// finish returns the reconstructed intervals. An interval still open stays
// open-ended.
func (d *intervalDetector) finish() []Interval {
	return d.intervals
}
