package serial

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/b0gdan00/Aspirantura-research/internal/protocol"
)

// Failure tells callers what kind of problem ended an exchange, so they can
// branch on kind instead of matching message text.
type Failure int

const (
	FailureNone Failure = iota
	// FailureDevice: the device answered with an error line.
	FailureDevice
	// FailureTransport: an I/O fault on the link. The session stays open;
	// a single bad exchange is not a reason to reset the microcontroller.
	FailureTransport
	// FailureTimeout: no terminal line within the deadline.
	FailureTimeout
)

// Result is the outcome of one exchange. Exactly one of confirmed, failed
// (Failure != FailureNone with kind device/transport) or timed out holds.
// Lines keeps every non-empty line received, terminal or not.
type Result struct {
	Confirmed bool
	Lines     []string
	Failure   Failure
	Detail    string
}

// Config configures one session.
type Config struct {
	Port string
	Baud int
	// BootDelay is slept after opening the port; opening usually resets the
	// microcontroller and it needs time to come back.
	BootDelay time.Duration
	// ReadTimeout bounds a single read on the underlying port.
	ReadTimeout time.Duration
	// Open defaults to OpenNative.
	Open OpenFunc
}

// Session owns one persistent connection to one physical port and strictly
// serializes all exchanges against it.
type Session struct {
	mu   sync.Mutex
	cfg  Config
	conn Port
}

// NewSession validates configuration up front; an empty port is a
// configuration error, not something to discover inside a polling loop.
func NewSession(cfg Config) (*Session, error) {
	if cfg.Port == "" {
		return nil, fmt.Errorf("serial port is empty")
	}
	if cfg.Baud <= 0 {
		return nil, fmt.Errorf("invalid baud rate %d", cfg.Baud)
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 250 * time.Millisecond
	}
	if cfg.Open == nil {
		cfg.Open = OpenNative
	}
	return &Session{cfg: cfg}, nil
}

// ensureOpen is idempotent: an existing handle is reused. Callers hold s.mu.
func (s *Session) ensureOpen() error {
	if s.conn != nil {
		return nil
	}
	conn, err := s.cfg.Open(s.cfg.Port, s.cfg.Baud, s.cfg.ReadTimeout)
	if err != nil {
		return err
	}
	if s.cfg.BootDelay > 0 {
		time.Sleep(s.cfg.BootDelay)
	}
	if err := conn.Flush(); err != nil {
		_ = conn.Close()
		return err
	}
	s.conn = conn
	return nil
}

// Exchange writes one command and reads lines until a terminal OK/ERR line
// or the deadline. The lock covers open, write and the whole read loop, so
// concurrent callers are serialized against the single physical connection.
// Faults come back as in-band failures; the session remains usable.
func (s *Session) Exchange(ctx context.Context, command string, timeout time.Duration) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureOpen(); err != nil {
		return Result{Failure: FailureTransport, Detail: err.Error()}
	}

	if _, err := s.conn.Write(protocol.Encode(command)); err != nil {
		return Result{Failure: FailureTransport, Detail: fmt.Sprintf("write %s: %v", command, err)}
	}

	deadline := time.Now().Add(timeout)
	var lines []string
	for {
		if err := ctx.Err(); err != nil {
			return Result{Lines: lines, Failure: FailureTimeout, Detail: err.Error()}
		}
		if !time.Now().Before(deadline) {
			return Result{Lines: lines, Failure: FailureTimeout, Detail: "timeout waiting for response"}
		}

		line, err := s.readLine(deadline)
		if err != nil {
			return Result{Lines: lines, Failure: FailureTransport, Detail: err.Error()}
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		lines = append(lines, line)

		switch protocol.Classify(line) {
		case protocol.ClassFailed:
			return Result{Lines: lines, Failure: FailureDevice, Detail: line}
		case protocol.ClassConfirmed:
			return Result{Confirmed: true, Lines: lines}
		}
	}
}

// readLine accumulates bytes until newline or the deadline. Zero-byte reads
// and io.EOF are how the port signals its read timeout; both just mean "no
// data yet".
func (s *Session) readLine(deadline time.Time) (string, error) {
	var b strings.Builder
	buf := make([]byte, 1)
	for time.Now().Before(deadline) {
		n, err := s.conn.Read(buf)
		if n > 0 {
			if buf[0] == '\n' {
				return b.String(), nil
			}
			b.WriteByte(buf[0])
			continue
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return "", err
		}
	}
	return b.String(), nil
}

// Close tears the handle down; the next exchange re-opens cleanly.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}
