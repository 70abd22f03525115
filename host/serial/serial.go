// Package serial opens the host side of the link to a timer board.
package serial

import (
	"io"
	"time"
)

// Port is the byte stream to the board. Native builds wrap
// github.com/tarm/serial; tests substitute an in-memory port.
type Port interface {
	io.ReadWriteCloser

	// Flush discards unread input and unwritten output
	Flush() error
}

// Config holds serial port configuration
type Config struct {
	// Device path (e.g., "/dev/ttyACM0", "COM3")
	Device string

	// Baud rate (ignored by USB CDC, used by the UART link)
	Baud int

	// ReadTimeout bounds each Read so the reader can notice Close
	ReadTimeout time.Duration
}

// DefaultConfig returns the configuration used by prectimer-host
func DefaultConfig(device string) *Config {
	return &Config{
		Device:      device,
		Baud:        250000,
		ReadTimeout: 100 * time.Millisecond,
	}
}
