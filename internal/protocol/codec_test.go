package protocol

import (
	"bytes"
	"testing"
)

func TestEncodeAppendsNewline(t *testing.T) {
	got := Encode(" READ_ALL ")
	if !bytes.Equal(got, []byte("READ_ALL\n")) {
		t.Fatalf("unexpected encoding: %q", got)
	}
}

func TestClassify(t *testing.T) {
	if c := Classify("OK DATA 1 2 3 4 5"); c != ClassConfirmed {
		t.Fatalf("expected confirmed, got %v", c)
	}
	if c := Classify("  ok started"); c != ClassConfirmed {
		t.Fatalf("expected case-insensitive confirmed, got %v", c)
	}
	if c := Classify("ERR NOT_READY"); c != ClassFailed {
		t.Fatalf("expected failed, got %v", c)
	}
	if c := Classify("ERROR: busy"); c != ClassFailed {
		t.Fatalf("expected ERR prefix to classify as failed, got %v", c)
	}
	if c := Classify("booting v1.2"); c != ClassOther {
		t.Fatalf("expected other, got %v", c)
	}
}

func TestParseReadAll(t *testing.T) {
	s, ok := ParseReadAll("OK DATA 1500 1200 101.3 22.7 1")
	if !ok {
		t.Fatalf("expected sample")
	}
	if s.Elapsed != 1.5 || s.RPM != 1200 || s.Pressure != 101.3 || s.Temperature != 22.7 || s.Actuator != 1 {
		t.Fatalf("unexpected sample: %+v", s)
	}
}

func TestParseReadAllNegativeTemperature(t *testing.T) {
	s, ok := ParseReadAll("ok data 250 0 0.5 -12.25 0  ")
	if !ok {
		t.Fatalf("expected sample")
	}
	if s.Elapsed != 0.25 || s.Temperature != -12.25 || s.Actuator != 0 {
		t.Fatalf("unexpected sample: %+v", s)
	}
}

func TestParseReadAllRejectsMalformed(t *testing.T) {
	bad := []string{
		"",
		"OK",
		"OK DATA",
		"OK DATA 1500 1200 101.3 22.7",      // missing actuator
		"OK DATA 1500 1200 101.3 22.7 1 9",  // trailing field
		"OK DATA -1 1200 101.3 22.7 1",      // negative timestamp
		"OK DATA 1500 12.5 101.3 22.7 1",    // fractional rpm
		"ERR DATA 1500 1200 101.3 22.7 1",   // wrong marker
		"OK STATUS 1500 1200 101.3 22.7 1",  // wrong record type
		"OK DATA 1500 1200 bad 22.7 1",      // non-numeric pressure
	}
	for _, line := range bad {
		if _, ok := ParseReadAll(line); ok {
			t.Fatalf("expected no sample for %q", line)
		}
	}
}

func TestParseReadAllDeterministic(t *testing.T) {
	const line = "OK DATA 123456 987 5.5 36.6 1"
	a, okA := ParseReadAll(line)
	b, okB := ParseReadAll(line)
	if !okA || !okB || *a != *b {
		t.Fatalf("parse not deterministic: %+v vs %+v", a, b)
	}
}
