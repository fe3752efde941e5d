// Package serial owns the host side of the physical link: a persistent,
// single-flight session per port and a process-wide registry that guarantees
// at most one open connection per device. Re-opening a port resets the
// microcontroller, which is exactly what high-frequency polling cannot afford.
package serial

import (
	"fmt"
	"io"
	"time"

	"github.com/tarm/serial"
)

// Port is the transport a session talks through. Flush discards buffered
// input, used once after open to drop boot noise.
type Port interface {
	io.ReadWriteCloser
	Flush() error
}

// OpenFunc opens a physical or fake port. readTimeout bounds a single Read
// so the session's line loop can observe its own deadline.
type OpenFunc func(port string, baud int, readTimeout time.Duration) (Port, error)

// OpenNative opens a real serial device via tarm/serial.
func OpenNative(port string, baud int, readTimeout time.Duration) (Port, error) {
	p, err := serial.OpenPort(&serial.Config{
		Name:        port,
		Baud:        baud,
		ReadTimeout: readTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", port, err)
	}
	return p, nil
}
