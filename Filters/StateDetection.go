package Filters

import (
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

/*
Schmitt trigger over sub-block envelope means.

Each step sees the means of one acquisition block. The block peak arms the
trigger when it reaches the on threshold and disarms it when it falls below the
off threshold. Arming is additionally gated by a debounce interval measured
from the previous arming; disarming is not.
*/

// EventKind tells whether a burst started or ended.
type EventKind int

const (
	// Entered is emitted on the Idle -> Active transition.
	Entered EventKind = iota + 1
	// Cleared is emitted on the Active -> Idle transition.
	Cleared
)

func (k EventKind) String() string {
	switch k {
	case Entered:
		return "entered"
	case Cleared:
		return "cleared"
	default:
		return "unknown"
	}
}

// Event is one state transition together with the block statistics that
// caused it.
type Event struct {
	Kind      EventKind
	Timestamp time.Time
	Peak      float64 // max sub-block mean of the block
	Average   float64 // mean of the block's sub-block means
}

// SchmittTrigger is the detection state machine. It is not safe for
// concurrent use; the pipeline owns it.
type SchmittTrigger struct {
	thresholds Thresholds
	debounce   time.Duration

	triggered   bool
	lastTrigger time.Time
}

// NewSchmittTrigger creates an idle trigger.
func NewSchmittTrigger(th Thresholds, debounce time.Duration) *SchmittTrigger {
	return &SchmittTrigger{
		thresholds: th,
		debounce:   debounce,
	}
}

// Step feeds one block's sub-block means observed at now.
// It returns the event produced by this step, if any. An empty sequence is a
// skipped cycle and leaves the state untouched.
func (st *SchmittTrigger) Step(means []float64, now time.Time) (Event, bool) {
	if len(means) == 0 {
		return Event{}, false
	}

	peak := floats.Max(means)
	avg := stat.Mean(means, nil)

	if !st.triggered {
		// lastTrigger starts at the zero time; Sub saturates, so the first
		// arming is never debounced.
		if peak >= st.thresholds.On && now.Sub(st.lastTrigger) >= st.debounce {
			st.triggered = true
			st.lastTrigger = now
			return Event{Kind: Entered, Timestamp: now, Peak: peak, Average: avg}, true
		}
		return Event{}, false
	}

	if peak < st.thresholds.Off {
		st.triggered = false
		return Event{Kind: Cleared, Timestamp: now, Peak: peak, Average: avg}, true
	}
	return Event{}, false
}

// IsTriggered reports whether the trigger is Active.
func (st *SchmittTrigger) IsTriggered() bool {
	return st.triggered
}

// LastTrigger returns the time of the most recent Entered event.
func (st *SchmittTrigger) LastTrigger() time.Time {
	return st.lastTrigger
}

// Thresholds returns the configured on/off pair.
func (st *SchmittTrigger) Thresholds() Thresholds {
	return st.thresholds
}
