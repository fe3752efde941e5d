// Package protocol implements the newline-delimited ASCII protocol spoken by
// the stand's microcontroller: bare command words out, OK/ERR-marked lines
// back, with telemetry carried on the READ_ALL response.
package protocol

import (
	"regexp"
	"strconv"
	"strings"
)

const (
	CmdPing    = "PING"
	CmdStart   = "START"
	CmdStop    = "STOP"
	CmdReadAll = "READ_ALL"

	ackMarker = "OK"
	errMarker = "ERR"
)

// Class is the terminal classification of one received line.
type Class int

const (
	// ClassOther lines are diagnostic context; they do not end a wait.
	ClassOther Class = iota
	ClassConfirmed
	ClassFailed
)

// Encode frames an outbound command for the wire.
func Encode(command string) []byte {
	return []byte(strings.TrimSpace(command) + "\n")
}

// Classify matches the acknowledgement and error markers case-insensitively
// against the start of the trimmed line. ERR wins over OK so that a line like
// "ERROR" never reads as confirmed.
func Classify(line string) Class {
	up := strings.ToUpper(strings.TrimSpace(line))
	switch {
	case strings.HasPrefix(up, errMarker):
		return ClassFailed
	case strings.HasPrefix(up, ackMarker):
		return ClassConfirmed
	default:
		return ClassOther
	}
}

// Sample is one parsed READ_ALL telemetry record.
type Sample struct {
	Elapsed     float64 // seconds since device t=0
	RPM         float64
	Pressure    float64
	Temperature float64
	Actuator    int
}

// Layout: OK DATA <t_ms> <rpm> <pressure> <temp> <actuator>
var dataRe = regexp.MustCompile(
	`(?i)^OK\s+DATA\s+(\d+)\s+(\d+)\s+(\d+(?:\.\d+)?)\s+(-?\d+(?:\.\d+)?)\s+(\d+)\s*$`,
)

// ParseReadAll parses one READ_ALL response line. A line that does not match
// the layout yields (nil, false); the caller counts it as a missed sample.
func ParseReadAll(line string) (*Sample, bool) {
	m := dataRe.FindStringSubmatch(strings.TrimSpace(line))
	if m == nil {
		return nil, false
	}
	tms, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return nil, false
	}
	rpm, err := strconv.ParseFloat(m[2], 64)
	if err != nil {
		return nil, false
	}
	p, err := strconv.ParseFloat(m[3], 64)
	if err != nil {
		return nil, false
	}
	t, err := strconv.ParseFloat(m[4], 64)
	if err != nil {
		return nil, false
	}
	act, err := strconv.Atoi(m[5])
	if err != nil {
		return nil, false
	}
	return &Sample{
		Elapsed:     tms / 1000.0,
		RPM:         rpm,
		Pressure:    p,
		Temperature: t,
		Actuator:    act,
	}, true
}
