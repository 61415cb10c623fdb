// Package board describes the WDC SXB boards the loader can talk to.
package board

import (
	"fmt"
	"strings"
)

// Parity selects the serial parity mode for a profile.
type Parity int

const (
	NoParity Parity = iota
	OddParity
	EvenParity
)

// StopBits selects the number of serial stop bits for a profile.
type StopBits int

const (
	OneStopBit StopBits = iota
	TwoStopBits
)

// SerialParams are the line settings the board firmware expects.
// There is no negotiation: the host must match them exactly.
type SerialParams struct {
	BaudRate int
	DataBits int
	Parity   Parity
	StopBits StopBits
}

func (p SerialParams) String() string {
	parity := "N"
	switch p.Parity {
	case OddParity:
		parity = "O"
	case EvenParity:
		parity = "E"
	}
	stop := 1
	if p.StopBits == TwoStopBits {
		stop = 2
	}
	return fmt.Sprintf("%d %d%s%d", p.BaudRate, p.DataBits, parity, stop)
}

// CommandSet is the opcode table of a board's firmware loader.
// Boards stay silent when they receive an opcode they do not know.
type CommandSet struct {
	Detect  byte
	Read    byte
	Write   byte
	Execute byte
}

// Profile holds the fixed protocol parameters of one board model.
// Profiles are immutable; use the package-level values.
type Profile struct {
	Name string

	// AddressBits is 16 or 24. Addresses go on the wire little-endian
	// in AddressBits/8 bytes.
	AddressBits int

	// LengthWidth is the number of bytes used for the length field of
	// read and write requests.
	LengthWidth int

	// MaxChunk is the largest payload carried by a single frame.
	MaxChunk int

	AckByte byte
	NakByte byte

	Commands CommandSet

	// Signature is the body of the board's reply to its Detect frame.
	Signature []byte

	Serial SerialParams

	// StateAddress is where the firmware keeps the CPU register block
	// used to start a program. Zero when the board starts programs
	// directly from the Execute frame.
	StateAddress uint32
}

// AddressWidth is the number of bytes of an address on the wire.
func (p *Profile) AddressWidth() int { return p.AddressBits / 8 }

// AddressSpace is the number of addressable bytes (0x10000 or 0x1000000).
func (p *Profile) AddressSpace() uint64 { return 1 << uint(p.AddressBits) }

// MaxAddress is the highest valid address.
func (p *Profile) MaxAddress() uint32 { return uint32(p.AddressSpace() - 1) }

// Contains reports whether [address, address+length) lies inside the
// board's address space.
func (p *Profile) Contains(address uint32, length int) bool {
	if length < 0 {
		return false
	}
	return uint64(address)+uint64(length) <= p.AddressSpace() && uint64(address) < p.AddressSpace()
}

// ChunkSize is the effective per-frame payload limit: MaxChunk capped by
// what the length field can express.
func (p *Profile) ChunkSize() int {
	limit := 1<<(8*uint(p.LengthWidth)) - 1
	if p.MaxChunk < limit {
		return p.MaxChunk
	}
	return limit
}

// HasStateBlock reports whether Execute needs the CPU register block.
func (p *Profile) HasStateBlock() bool { return p.StateAddress != 0 }

func (p *Profile) String() string { return p.Name }

const (
	ackByte = 0xCC
	nakByte = 0x33

	// sxbStateAddress is the register block used by the SXB monitor's
	// debug-execute command.
	sxbStateAddress = 0x7E00
)

var sxbCommands = CommandSet{
	Detect:  0x04,
	Read:    0x03,
	Write:   0x02,
	Execute: 0x05,
}

// W65C02SXB is the 65C02 board: 16-bit addressing, one-byte lengths.
var W65C02SXB = &Profile{
	Name:         "W65C02SXB",
	AddressBits:  16,
	LengthWidth:  1,
	MaxChunk:     128,
	AckByte:      ackByte,
	NakByte:      nakByte,
	Commands:     sxbCommands,
	Signature:    []byte{0x00, 0x58},
	Serial:       SerialParams{BaudRate: 57600, DataBits: 8, Parity: NoParity, StopBits: OneStopBit},
	StateAddress: sxbStateAddress,
}

// W65C816SXB is the 65C816 board: 24-bit addressing.
var W65C816SXB = &Profile{
	Name:         "W65C816SXB",
	AddressBits:  24,
	LengthWidth:  2,
	MaxChunk:     1024,
	AckByte:      ackByte,
	NakByte:      nakByte,
	Commands:     sxbCommands,
	Signature:    []byte{0x01, 0x58},
	Serial:       SerialParams{BaudRate: 57600, DataBits: 8, Parity: NoParity, StopBits: OneStopBit},
	StateAddress: sxbStateAddress,
}

// W65C165SXB runs a different loader: its own identify opcode and a
// direct execute-at-address command.
var W65C165SXB = &Profile{
	Name:        "W65C165SXB",
	AddressBits: 24,
	LengthWidth: 2,
	MaxChunk:    512,
	AckByte:     ackByte,
	NakByte:     nakByte,
	Commands: CommandSet{
		Detect:  0x0C,
		Read:    0x03,
		Write:   0x02,
		Execute: 0x06,
	},
	Signature: []byte{0x02, 0x58},
	Serial:    SerialParams{BaudRate: 115200, DataBits: 8, Parity: NoParity, StopBits: OneStopBit},
}

// Profiles returns the supported boards in detection priority order.
func Profiles() []*Profile {
	return []*Profile{W65C02SXB, W65C816SXB, W65C165SXB}
}

// Lookup finds a profile by name, case-insensitively. The "W65C" prefix
// and "SXB" suffix may be omitted ("816" finds W65C816SXB).
func Lookup(name string) (*Profile, error) {
	want := strings.ToUpper(strings.TrimSpace(name))
	for _, p := range Profiles() {
		short := strings.TrimSuffix(strings.TrimPrefix(p.Name, "W65C"), "SXB")
		if want == p.Name || want == short || want == "W65C"+short {
			return p, nil
		}
	}
	return nil, fmt.Errorf("board: unknown board %q", name)
}
