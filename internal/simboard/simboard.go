// Package simboard simulates an SXB board's firmware loader behind the
// transport.Transport interface. It backs the -demo mode and the tests.
package simboard

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/shaunagostinho/wdcloader/internal/board"
	"github.com/shaunagostinho/wdcloader/internal/protocol"
	"github.com/shaunagostinho/wdcloader/internal/transport"
)

// FaultFunc can rewrite the reply to the n-th frame sent to the board
// (1-based). Returning nil drops the reply; returning different bytes
// corrupts it or injects extra bytes.
type FaultFunc func(n int, cmd protocol.Command, reply []byte) []byte

// Board is a simulated board. Memory starts zeroed.
type Board struct {
	mu      sync.Mutex
	profile *board.Profile
	memory  map[uint32]byte
	params  board.SerialParams
	out     []byte

	frames     [][]byte
	receives   int
	closeCount int
	executed   bool
	execAddr   uint32

	// Fault, if set, is applied to every reply before it is queued.
	Fault FaultFunc

	// Latency is slept on every Receive. The demo uses it to look like
	// a real serial line; tests leave it zero.
	Latency time.Duration
}

// New returns a simulated board of the given model with its line already
// set to the profile's serial parameters.
func New(p *board.Profile) *Board {
	return &Board{
		profile: p,
		memory:  make(map[uint32]byte),
		params:  p.Serial,
	}
}

// Profile returns the simulated model.
func (b *Board) Profile() *board.Profile { return b.profile }

func (b *Board) Configure(p board.SerialParams) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closeCount > 0 {
		return fmt.Errorf("simboard: configure on closed board")
	}
	b.params = p
	return nil
}

// Send delivers one request frame to the simulated firmware. Frames sent
// at the wrong line settings, with unknown opcodes, or after a program
// has been started are ignored, as on real hardware.
func (b *Board) Send(frame []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closeCount > 0 {
		return fmt.Errorf("simboard: send on closed board")
	}
	b.frames = append(b.frames, append([]byte(nil), frame...))
	n := len(b.frames)

	if b.params != b.profile.Serial || b.executed {
		return nil
	}

	cmd, ok, err := protocol.ParseRequest(frame, b.profile)
	if !ok {
		return nil
	}

	var resp protocol.Response
	if err != nil {
		resp = protocol.Response{Kind: protocol.RespNack, Reason: protocol.ReasonRequestChecksum}
	} else {
		resp = b.handle(cmd)
	}

	reply := protocol.EncodeResponse(resp, b.profile)
	if b.Fault != nil {
		reply = b.Fault(n, cmd, reply)
	}
	b.out = append(b.out, reply...)
	return nil
}

func (b *Board) handle(cmd protocol.Command) protocol.Response {
	p := b.profile
	switch cmd.Kind {
	case protocol.CmdDetect:
		return protocol.Response{Kind: protocol.RespData, Data: p.Signature}

	case protocol.CmdRead:
		if !p.Contains(cmd.Address, cmd.Length) {
			return protocol.Response{Kind: protocol.RespNack, Reason: protocol.ReasonBadAddress}
		}
		if cmd.Length > p.ChunkSize() {
			return protocol.Response{Kind: protocol.RespNack, Reason: protocol.ReasonBadLength}
		}
		return protocol.Response{Kind: protocol.RespData, Data: b.peek(cmd.Address, cmd.Length)}

	case protocol.CmdWrite:
		if !p.Contains(cmd.Address, cmd.Length) {
			return protocol.Response{Kind: protocol.RespNack, Reason: protocol.ReasonBadAddress}
		}
		b.poke(cmd.Address, cmd.Data)
		return protocol.Response{Kind: protocol.RespAck}

	case protocol.CmdExecute:
		if !p.Contains(cmd.Address, 1) {
			return protocol.Response{Kind: protocol.RespNack, Reason: protocol.ReasonBadAddress}
		}
		b.executed = true
		b.execAddr = cmd.Address
		log.Printf("[simboard] %s jumping to 0x%06X", p.Name, cmd.Address)
		return protocol.Response{Kind: protocol.RespAck}
	}
	return protocol.Response{Kind: protocol.RespNack, Reason: protocol.ReasonUnsupported}
}

// Receive returns up to n queued reply bytes. The simulated line never
// blocks: missing bytes are reported as a timeout immediately.
func (b *Board) Receive(n int, timeout time.Duration) ([]byte, error) {
	if b.Latency > 0 {
		time.Sleep(b.Latency)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closeCount > 0 {
		return nil, fmt.Errorf("simboard: receive on closed board")
	}
	b.receives++

	m := n
	if len(b.out) < m {
		m = len(b.out)
	}
	got := append([]byte(nil), b.out[:m]...)
	b.out = b.out[m:]
	if m < n {
		return got, transport.ErrTimeout
	}
	return got, nil
}

func (b *Board) Drain(quiet, max time.Duration) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closeCount > 0 {
		return 0, fmt.Errorf("simboard: drain on closed board")
	}
	n := len(b.out)
	b.out = nil
	return n, nil
}

func (b *Board) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closeCount++
	return nil
}

// Inject queues bytes on the line as if the board had sent them
// unprompted, e.g. the tail of an earlier aborted exchange.
func (b *Board) Inject(data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.out = append(b.out, data...)
}

// Load writes data into simulated memory without going through the
// protocol.
func (b *Board) Load(address uint32, data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.poke(address, data)
}

// Peek reads simulated memory without going through the protocol.
func (b *Board) Peek(address uint32, n int) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.peek(address, n)
}

// Frames returns a copy of every frame sent to the board, in order.
func (b *Board) Frames() [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([][]byte, len(b.frames))
	copy(out, b.frames)
	return out
}

// Sends is the number of Send calls so far.
func (b *Board) Sends() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.frames)
}

// Receives is the number of Receive calls so far.
func (b *Board) Receives() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.receives
}

// CloseCount is the number of times Close was called.
func (b *Board) CloseCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closeCount
}

// Executed reports whether a program was started, and where.
func (b *Board) Executed() (bool, uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.executed, b.execAddr
}

func (b *Board) peek(address uint32, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = b.memory[address+uint32(i)]
	}
	return out
}

func (b *Board) poke(address uint32, data []byte) {
	for i, v := range data {
		b.memory[address+uint32(i)] = v
	}
}
