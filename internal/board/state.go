package board

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// StateSize is the length of the CPU register block.
const StateSize = 16

// Register block layout (little-endian words):
//
//	00 A   02 X   04 Y   06 PC   08 DP   0A SP
//	0C P   0D CPU mode (1 = emulation / 6502)   0E PBR   0F DBR
const (
	stateOffA    = 0
	stateOffX    = 2
	stateOffY    = 4
	stateOffPC   = 6
	stateOffDP   = 8
	stateOffSP   = 10
	stateOffP    = 12
	stateOffMode = 13
	stateOffPBR  = 14
	stateOffDBR  = 15
)

// CPUState is the register block the SXB monitor loads before it jumps
// to a program, and saves when a program returns to it.
type CPUState struct {
	A, X, Y uint16
	PC      uint16
	DP      uint16
	SP      uint16
	P       byte
	Mode    byte
	PBR     byte
	DBR     byte
}

// StartState is the register block used to start a program at pc:
// stack at 0x01FF, interrupts disabled, emulation mode.
func StartState(pc uint16) CPUState {
	return CPUState{
		PC:   pc,
		SP:   0x01FF,
		P:    0x34,
		Mode: 0x01,
	}
}

// Bytes encodes the register block.
func (s CPUState) Bytes() []byte {
	b := make([]byte, StateSize)
	binary.LittleEndian.PutUint16(b[stateOffA:], s.A)
	binary.LittleEndian.PutUint16(b[stateOffX:], s.X)
	binary.LittleEndian.PutUint16(b[stateOffY:], s.Y)
	binary.LittleEndian.PutUint16(b[stateOffPC:], s.PC)
	binary.LittleEndian.PutUint16(b[stateOffDP:], s.DP)
	binary.LittleEndian.PutUint16(b[stateOffSP:], s.SP)
	b[stateOffP] = s.P
	b[stateOffMode] = s.Mode
	b[stateOffPBR] = s.PBR
	b[stateOffDBR] = s.DBR
	return b
}

// ParseState decodes a register block read from the board.
func ParseState(b []byte) (CPUState, error) {
	if len(b) != StateSize {
		return CPUState{}, fmt.Errorf("board: state block is %d bytes, want %d", len(b), StateSize)
	}
	return CPUState{
		A:    binary.LittleEndian.Uint16(b[stateOffA:]),
		X:    binary.LittleEndian.Uint16(b[stateOffX:]),
		Y:    binary.LittleEndian.Uint16(b[stateOffY:]),
		PC:   binary.LittleEndian.Uint16(b[stateOffPC:]),
		DP:   binary.LittleEndian.Uint16(b[stateOffDP:]),
		SP:   binary.LittleEndian.Uint16(b[stateOffSP:]),
		P:    b[stateOffP],
		Mode: b[stateOffMode],
		PBR:  b[stateOffPBR],
		DBR:  b[stateOffDBR],
	}, nil
}

func (s CPUState) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "A   ->\t%04X\n", s.A)
	fmt.Fprintf(&sb, "X   ->\t%04X\n", s.X)
	fmt.Fprintf(&sb, "Y   ->\t%04X\n", s.Y)
	fmt.Fprintf(&sb, "PC  ->\t%04X\n", s.PC)
	fmt.Fprintf(&sb, "DP  ->\t%04X\n", s.DP)
	fmt.Fprintf(&sb, "SP  ->\t%04X\n", s.SP)
	fmt.Fprintf(&sb, "P   ->\t%02X\n", s.P)
	fmt.Fprintf(&sb, "CPU ->\t%02X\n", s.Mode)
	fmt.Fprintf(&sb, "PBR ->\t%02X\n", s.PBR)
	fmt.Fprintf(&sb, "DBR ->\t%02X\n", s.DBR)
	return sb.String()
}
