package domain

import "time"

// Status is the lifecycle state of an experiment. finished, aborted and
// failed are terminal.
type Status string

const (
	StatusDraft    Status = "draft"
	StatusReady    Status = "ready"
	StatusRunning  Status = "running"
	StatusFinished Status = "finished"
	StatusAborted  Status = "aborted"
	StatusFailed   Status = "failed"
)

func (s Status) Terminal() bool {
	switch s {
	case StatusFinished, StatusAborted, StatusFailed:
		return true
	}
	return false
}

// Experiment is one timed run on the test stand. Status and the
// started/ignited/ended timestamps belong to the lifecycle controller;
// title, description and the serial configuration are set at creation.
type Experiment struct {
	ID          int64      `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Status      Status     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at"`
	IgnitedAt   *time.Time `json:"ignited_at"`
	EndedAt     *time.Time `json:"ended_at"`
	SerialPort  string     `json:"serial_port"`
	BaudRate    int        `json:"baud_rate"`
}
