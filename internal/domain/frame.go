package domain

import "time"

// Frame is one persisted measurement sample, tied to exactly one experiment.
// Within an experiment frames are ordered by Second, ties broken by insertion
// order. Units are fixed by the data contract with the device (seconds,
// degrees Celsius, differential pressure).
type Frame struct {
	ID           int64     `json:"-"`
	ExperimentID int64     `json:"-"`
	Second       float64   `json:"second"`
	Temperature  float64   `json:"temperature"`
	DifPressure  float64   `json:"dif_pressure"`
	ReceivedAt   time.Time `json:"received_at"`
}
