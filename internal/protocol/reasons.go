package protocol

import "fmt"

// Reason explains a Nack. Values below 0x80 are reported by the board
// inside a NAK frame; values from 0x80 up are produced by Decode.
type Reason byte

// Board-reported reasons.
const (
	// ReasonRequestChecksum means the board received a corrupted request.
	ReasonRequestChecksum Reason = 0x01
	ReasonBadAddress      Reason = 0x02
	ReasonBadLength       Reason = 0x03
	ReasonUnsupported     Reason = 0x04
)

// Host-side reasons.
const (
	// ReasonBadChecksum means the reply failed checksum validation.
	ReasonBadChecksum Reason = 0x80 + iota
	// ReasonShortRead means fewer bytes arrived than the frame needs.
	ReasonShortRead
	// ReasonUnexpectedFrame means the status byte was neither ACK nor NAK.
	ReasonUnexpectedFrame
)

func (r Reason) String() string {
	switch r {
	case ReasonRequestChecksum:
		return "request checksum rejected"
	case ReasonBadAddress:
		return "address rejected"
	case ReasonBadLength:
		return "length rejected"
	case ReasonUnsupported:
		return "unsupported command"
	case ReasonBadChecksum:
		return "bad checksum"
	case ReasonShortRead:
		return "short read"
	case ReasonUnexpectedFrame:
		return "unexpected frame"
	default:
		return fmt.Sprintf("board reason 0x%02X", byte(r))
	}
}

// Transient reports whether resending the same frame may succeed.
func (r Reason) Transient() bool {
	switch r {
	case ReasonBadChecksum, ReasonShortRead, ReasonRequestChecksum:
		return true
	}
	return false
}
