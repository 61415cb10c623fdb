// Package transport moves raw bytes between the host and a board.
//
// A Transport never retries and never interprets bytes: faults are
// returned to the caller as-is so the retry policy stays in one place.
package transport

import (
	"errors"
	"time"

	"github.com/shaunagostinho/wdcloader/internal/board"
)

// ErrTimeout is returned by Receive when fewer than the requested bytes
// arrived before the timeout. The bytes that did arrive are returned
// alongside it.
var ErrTimeout = errors.New("transport: receive timed out")

// Transport is a byte-level link to one board. It is owned by a single
// session and is not safe for concurrent use.
type Transport interface {
	// Configure applies line settings. Detection calls it before each
	// probe because boards differ in baud rate.
	Configure(p board.SerialParams) error

	// Send writes all of b.
	Send(b []byte) error

	// Receive reads exactly n bytes, waiting at most timeout. On timeout
	// it returns the partial bytes and ErrTimeout.
	Receive(n int, timeout time.Duration) ([]byte, error)

	// Drain discards input until the line has been quiet for quiet, or
	// max has elapsed. It returns the number of bytes discarded.
	Drain(quiet, max time.Duration) (int, error)

	// Close releases the underlying device.
	Close() error
}
