// Package Sinks delivers detection events to the console, a sqlite event store
// and an MQTT broker.
package Sinks

import (
	"time"

	"github.com/google/uuid"

	"rfburst/Filters"
)

// Record is the persisted and published form of a detection event.
type Record struct {
	ID          string    `json:"id"`
	Kind        string    `json:"kind"`
	Timestamp   time.Time `json:"timestamp"`
	Peak        float64   `json:"peak"`
	Average     float64   `json:"average"`
	FrequencyHz float64   `json:"frequency_hz"`
}

// NewRecord stamps ev with a fresh id. frequencyHz is the monitored center
// frequency.
func NewRecord(ev Filters.Event, frequencyHz float64) Record {
	return Record{
		ID:          uuid.NewString(),
		Kind:        ev.Kind.String(),
		Timestamp:   ev.Timestamp,
		Peak:        ev.Peak,
		Average:     ev.Average,
		FrequencyHz: frequencyHz,
	}
}
