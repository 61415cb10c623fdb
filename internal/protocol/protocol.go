// Package protocol encodes loader commands into board frames and decodes
// the board's replies.
//
// Request frame:
//
//	[OPCODE][ADDRESS (2 or 3 bytes, LE)][LENGTH (1 or 2 bytes, LE)][PAYLOAD...][CHECKSUM]
//
// Detect frames carry only the opcode, Execute frames omit the length and
// payload, and only WriteMemory carries a payload.
//
// Response frame:
//
//	[STATUS][BODY...][CHECKSUM]
//
// STATUS is the profile's ACK byte (body is empty or exactly the requested
// data) or its NAK byte (body is one reason byte). The checksum is the
// two's-complement negation of the 8-bit sum of every preceding byte, so a
// valid frame sums to zero.
//
// Encode and Decode are pure; reading the bytes off the wire is the
// caller's job. ResponseLength tells the caller how many bytes follow a
// status byte.
package protocol

import (
	"fmt"

	"github.com/shaunagostinho/wdcloader/internal/board"
)

// CommandKind tags a Command.
type CommandKind int

const (
	CmdDetect CommandKind = iota
	CmdRead
	CmdWrite
	CmdExecute
)

func (k CommandKind) String() string {
	switch k {
	case CmdDetect:
		return "detect"
	case CmdRead:
		return "read"
	case CmdWrite:
		return "write"
	case CmdExecute:
		return "execute"
	default:
		return fmt.Sprintf("command(%d)", int(k))
	}
}

// Command is one request to the board. Only the fields relevant to Kind
// are used: Address for read/write/execute, Length for read, Data for
// write.
type Command struct {
	Kind    CommandKind
	Address uint32
	Length  int
	Data    []byte
}

// Detect builds the probe command.
func Detect() Command { return Command{Kind: CmdDetect} }

// ReadMemory builds a read of length bytes at address.
func ReadMemory(address uint32, length int) Command {
	return Command{Kind: CmdRead, Address: address, Length: length}
}

// WriteMemory builds a write of data at address.
func WriteMemory(address uint32, data []byte) Command {
	return Command{Kind: CmdWrite, Address: address, Length: len(data), Data: data}
}

// Execute builds a jump to address.
func Execute(address uint32) Command {
	return Command{Kind: CmdExecute, Address: address}
}

// Expect returns the reply the board sends for c.
func (c Command) Expect(p *board.Profile) Expectation {
	switch c.Kind {
	case CmdDetect:
		return Expectation{Data: true, Length: len(p.Signature)}
	case CmdRead:
		return Expectation{Data: true, Length: c.Length}
	default:
		return Expectation{}
	}
}

// Expectation describes a well-formed reply: a bare Ack, or Ack followed
// by exactly Length data bytes.
type Expectation struct {
	Data   bool
	Length int
}

// ResponseKind tags a Response.
type ResponseKind int

const (
	RespAck ResponseKind = iota
	RespData
	RespNack
	RespTimeout
)

func (k ResponseKind) String() string {
	switch k {
	case RespAck:
		return "ack"
	case RespData:
		return "data"
	case RespNack:
		return "nack"
	case RespTimeout:
		return "timeout"
	default:
		return fmt.Sprintf("response(%d)", int(k))
	}
}

// Response is a decoded reply.
type Response struct {
	Kind   ResponseKind
	Data   []byte
	Reason Reason
}

func (r Response) String() string {
	switch r.Kind {
	case RespData:
		return fmt.Sprintf("data(%d bytes)", len(r.Data))
	case RespNack:
		return fmt.Sprintf("nack(%s)", r.Reason)
	default:
		return r.Kind.String()
	}
}
