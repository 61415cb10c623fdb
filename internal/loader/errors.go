package loader

import (
	"errors"
	"fmt"

	"github.com/shaunagostinho/wdcloader/internal/protocol"
)

var (
	// ErrNoBoardFound means every profile was probed without a match.
	ErrNoBoardFound = errors.New("loader: no board found")

	// ErrTimeout means the board did not answer within the response
	// timeout, or stopped part way through a frame.
	ErrTimeout = errors.New("loader: no response from board")

	// ErrChecksum means the board's replies kept failing validation.
	ErrChecksum = errors.New("loader: response checksum mismatch")

	// ErrDesync means an unexpected frame was still received after a
	// resynchronization.
	ErrDesync = errors.New("loader: protocol desync")

	// ErrRejected means the board answered with a non-transient NAK.
	ErrRejected = errors.New("loader: request rejected by board")

	// ErrAddressOutOfRange is matched by every *AddressOutOfRangeError.
	ErrAddressOutOfRange = errors.New("loader: address out of range")

	// ErrExecuted means a program was started and the loader is no
	// longer listening.
	ErrExecuted = errors.New("loader: board is running a program")

	// ErrClosed means the session has been closed.
	ErrClosed = errors.New("loader: session closed")
)

// IoError is a transport fault. It is never retried.
type IoError struct {
	Op  string
	Err error
}

func (e *IoError) Error() string {
	return fmt.Sprintf("%s: i/o error: %v", e.Op, e.Err)
}

func (e *IoError) Unwrap() error { return e.Err }

// AddressOutOfRangeError rejects a request before any byte is sent.
type AddressOutOfRangeError struct {
	Board   string
	Address uint32
	Length  int
	Limit   uint64
}

func (e *AddressOutOfRangeError) Error() string {
	return fmt.Sprintf("address 0x%06X + %d bytes is outside the %s address space (0x%X bytes)",
		e.Address, e.Length, e.Board, e.Limit)
}

func (e *AddressOutOfRangeError) Is(target error) bool {
	return target == ErrAddressOutOfRange
}

// ProtocolError is the terminal failure of one exchange: the retry bound
// was exceeded, the board rejected the request, or the line stayed out
// of sync. Err is ErrTimeout, ErrChecksum, ErrDesync or ErrRejected.
type ProtocolError struct {
	Op       string
	Attempts int
	Reason   string
	Err      error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s failed after %d attempt(s): %s", e.Op, e.Attempts, e.Reason)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

func newProtocolError(op string, attempts int, reason protocol.Reason, err error) *ProtocolError {
	return &ProtocolError{Op: op, Attempts: attempts, Reason: reasonText(reason), Err: err}
}

// ChunkError locates a failure inside a chunked transfer so the caller
// can report it or resume from Address.
type ChunkError struct {
	Op      string
	Index   int
	Address uint32
	Length  int
	Err     error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("%s chunk %d at 0x%06X (%d bytes): %v", e.Op, e.Index, e.Address, e.Length, e.Err)
}

func (e *ChunkError) Unwrap() error { return e.Err }
