// Package loader drives the firmware loader of a WDC SXB board: it
// detects the board model, then reads, writes and executes memory over a
// transport with chunking, bounded retry and resynchronization.
package loader

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shaunagostinho/wdcloader/internal/board"
	"github.com/shaunagostinho/wdcloader/internal/protocol"
	"github.com/shaunagostinho/wdcloader/internal/transport"
)

// State is the lifecycle position of a Session.
type State int32

const (
	StateUninitialized State = iota
	StateDetecting
	StateReady
	StateReading
	StateWriting
	StateExecuted
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateDetecting:
		return "detecting"
	case StateReady:
		return "ready"
	case StateReading:
		return "reading"
	case StateWriting:
		return "writing"
	case StateExecuted:
		return "executed"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Session is a detected board on an open transport. It owns the
// transport until Close. Operations are serialized; State and Profile
// may be called from any goroutine.
type Session struct {
	t       transport.Transport
	profile *board.Profile
	cfg     Config

	mu    sync.Mutex
	state atomic.Int32

	closeOnce sync.Once
	closeErr  error
}

// Profile returns the detected board profile.
func (s *Session) Profile() *board.Profile { return s.profile }

// State returns the current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) setState(st State) { s.state.Store(int32(st)) }

func (s *Session) emit(e Event) {
	if s.cfg.Sink == nil {
		return
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	if e.Board == "" && s.profile != nil {
		e.Board = s.profile.Name
	}
	s.cfg.Sink.Handle(e)
}

// begin takes the operation lock and checks the session can accept a
// new operation. The caller must call s.mu.Unlock.
func (s *Session) begin() error {
	s.mu.Lock()
	switch st := s.State(); st {
	case StateReady:
		return nil
	case StateExecuted:
		s.mu.Unlock()
		return ErrExecuted
	case StateClosed:
		s.mu.Unlock()
		return ErrClosed
	default:
		s.mu.Unlock()
		return fmt.Errorf("loader: session not ready (%s)", st)
	}
}

func (s *Session) checkRange(address uint32, length int) error {
	if length < 0 || !s.profile.Contains(address, length) {
		return &AddressOutOfRangeError{
			Board:   s.profile.Name,
			Address: address,
			Length:  length,
			Limit:   s.profile.AddressSpace(),
		}
	}
	return nil
}

// Read returns length bytes starting at address. The range is validated
// before anything is sent. The transfer is split into chunks of at most
// the profile's chunk size, issued in ascending address order; if any
// chunk fails the whole read fails with a *ChunkError and no data.
//
// ctx is checked between chunks; a chunk already on the wire completes.
func (s *Session) Read(ctx context.Context, address uint32, length int) ([]byte, error) {
	if err := s.begin(); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	return s.read(ctx, address, length)
}

func (s *Session) read(ctx context.Context, address uint32, length int) ([]byte, error) {
	if err := s.checkRange(address, length); err != nil {
		return nil, err
	}
	if length == 0 {
		return []byte{}, nil
	}

	s.setState(StateReading)
	defer s.setState(StateReady)

	out := make([]byte, 0, length)
	pol := s.newPolicy(s.cfg.Attempts, s.cfg.ResponseTimeout)
	chunk := s.profile.ChunkSize()

	for i, off := 0, 0; off < length; i, off = i+1, off+chunk {
		addr := address + uint32(off)
		n := min(chunk, length-off)
		if err := ctx.Err(); err != nil {
			return nil, &ChunkError{Op: "read", Index: i, Address: addr, Length: n, Err: err}
		}

		cmd := protocol.ReadMemory(addr, n)
		frame, err := protocol.Encode(cmd, s.profile)
		if err != nil {
			return nil, &ChunkError{Op: "read", Index: i, Address: addr, Length: n, Err: err}
		}
		resp, err := pol.exchange(s.t, s.profile, "read", addr, frame, cmd.Expect(s.profile))
		if err != nil {
			return nil, &ChunkError{Op: "read", Index: i, Address: addr, Length: n, Err: err}
		}

		out = append(out, resp.Data...)
		s.emit(Event{Kind: EventChunkRead, Op: "read", Address: addr, Length: n, Chunk: i})
	}
	return out, nil
}

// Write stores data starting at address, chunked like Read. Every chunk
// must be acknowledged before the next is sent. A failure leaves memory
// partially written up to the failing chunk, which the *ChunkError
// identifies.
func (s *Session) Write(ctx context.Context, address uint32, data []byte) error {
	if err := s.begin(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	return s.write(ctx, address, data)
}

func (s *Session) write(ctx context.Context, address uint32, data []byte) error {
	if err := s.checkRange(address, len(data)); err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}

	s.setState(StateWriting)
	defer s.setState(StateReady)

	pol := s.newPolicy(s.cfg.Attempts, s.cfg.ResponseTimeout)
	chunk := s.profile.ChunkSize()

	for i, off := 0, 0; off < len(data); i, off = i+1, off+chunk {
		addr := address + uint32(off)
		part := data[off:min(off+chunk, len(data))]
		if err := ctx.Err(); err != nil {
			return &ChunkError{Op: "write", Index: i, Address: addr, Length: len(part), Err: err}
		}

		cmd := protocol.WriteMemory(addr, part)
		frame, err := protocol.Encode(cmd, s.profile)
		if err != nil {
			return &ChunkError{Op: "write", Index: i, Address: addr, Length: len(part), Err: err}
		}
		if _, err := pol.exchange(s.t, s.profile, "write", addr, frame, cmd.Expect(s.profile)); err != nil {
			return &ChunkError{Op: "write", Index: i, Address: addr, Length: len(part), Err: err}
		}

		s.emit(Event{Kind: EventChunkWritten, Op: "write", Address: addr, Length: len(part), Chunk: i})
	}
	return nil
}

// Execute starts the program at address. On boards with a register
// block the start state is written first so the program runs with a
// known stack and status register. Once the board acknowledges, the
// session is Executed and every later operation fails with ErrExecuted.
func (s *Session) Execute(ctx context.Context, address uint32) error {
	if err := s.begin(); err != nil {
		return err
	}
	defer s.mu.Unlock()

	if err := s.checkRange(address, 1); err != nil {
		return err
	}

	if s.profile.HasStateBlock() {
		st := board.StartState(uint16(address))
		st.PBR = byte(address >> 16)
		if err := s.write(ctx, s.profile.StateAddress, st.Bytes()); err != nil {
			return fmt.Errorf("execute: write start state: %w", err)
		}
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("execute: %w", err)
	}

	cmd := protocol.Execute(address)
	frame, err := protocol.Encode(cmd, s.profile)
	if err != nil {
		return fmt.Errorf("execute: %w", err)
	}
	pol := s.newPolicy(s.cfg.Attempts, s.cfg.ResponseTimeout)
	if _, err := pol.exchange(s.t, s.profile, "execute", address, frame, cmd.Expect(s.profile)); err != nil {
		return &ChunkError{Op: "execute", Address: address, Err: err}
	}

	s.setState(StateExecuted)
	s.emit(Event{Kind: EventExecuted, Op: "execute", Address: address})
	return nil
}

// ReadState reads and decodes the register block. It is only available
// on boards that have one.
func (s *Session) ReadState(ctx context.Context) (board.CPUState, error) {
	if err := s.begin(); err != nil {
		return board.CPUState{}, err
	}
	defer s.mu.Unlock()

	if !s.profile.HasStateBlock() {
		return board.CPUState{}, fmt.Errorf("loader: %s has no register block", s.profile.Name)
	}
	b, err := s.read(ctx, s.profile.StateAddress, board.StateSize)
	if err != nil {
		return board.CPUState{}, err
	}
	return board.ParseState(b)
}

// Close releases the transport. It is safe to call more than once; the
// transport is closed exactly once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.setState(StateClosed)
		s.closeErr = s.t.Close()
	})
	return s.closeErr
}
