package loader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shaunagostinho/wdcloader/internal/board"
	"github.com/shaunagostinho/wdcloader/internal/protocol"
	"github.com/shaunagostinho/wdcloader/internal/transport"
)

// Detect probes t with each candidate profile in priority order and
// returns a Ready session bound to the first board whose signature
// matches. Before each probe the line is switched to that profile's
// serial parameters, so boards with different baud rates are found on
// the same port.
//
// A probe that times out, is rejected, or returns the wrong signature
// moves on to the next profile. A transport fault aborts detection. If
// no profile matches, ErrNoBoardFound is returned and t is left open for
// the caller to close.
func Detect(ctx context.Context, t transport.Transport, opts ...Option) (*Session, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	s := &Session{t: t, cfg: cfg}
	s.setState(StateDetecting)
	s.emit(Event{Kind: EventDetectionStarted})

	for _, p := range cfg.Profiles {
		if err := ctx.Err(); err != nil {
			s.setState(StateUninitialized)
			return nil, fmt.Errorf("detect: %w", err)
		}

		ok, err := s.probe(p)
		if err != nil {
			s.setState(StateUninitialized)
			return nil, err
		}
		if ok {
			s.profile = p
			s.setState(StateReady)
			s.emit(Event{Kind: EventBoardDetected, Board: p.Name})
			return s, nil
		}
	}

	s.setState(StateUninitialized)
	return nil, ErrNoBoardFound
}

func (s *Session) probe(p *board.Profile) (bool, error) {
	if err := s.t.Configure(p.Serial); err != nil {
		return false, &IoError{Op: "configure", Err: err}
	}

	cmd := protocol.Detect()
	frame, err := protocol.Encode(cmd, p)
	if err != nil {
		return false, fmt.Errorf("detect %s: %w", p.Name, err)
	}

	pol := s.newPolicy(s.cfg.DetectAttempts, s.cfg.ProbeTimeout)
	resp, err := pol.exchange(s.t, p, "detect", 0, frame, cmd.Expect(p))
	if err != nil {
		var ioErr *IoError
		if errors.As(err, &ioErr) {
			return false, err
		}
		s.probeFailed(p, err.Error())
		return false, nil
	}

	if !bytes.Equal(resp.Data, p.Signature) {
		s.probeFailed(p, fmt.Sprintf("signature % X, want % X", resp.Data, p.Signature))
		return false, nil
	}
	return true, nil
}

// probeFailed reports a miss and clears anything a wrong-speed board may
// have left on the line before the next profile is tried.
func (s *Session) probeFailed(p *board.Profile, reason string) {
	s.emit(Event{Kind: EventProbeFailed, Board: p.Name, Reason: reason})
	if _, err := s.t.Drain(s.cfg.ResyncQuiet, s.cfg.ResyncMax); err != nil {
		s.emit(Event{Kind: EventProbeFailed, Board: p.Name, Reason: "drain: " + err.Error()})
	}
}

func (s *Session) newPolicy(attempts int, timeout time.Duration) policy {
	return policy{
		attempts:    attempts,
		timeout:     timeout,
		resyncQuiet: s.cfg.ResyncQuiet,
		resyncMax:   s.cfg.ResyncMax,
		emit:        s.emit,
	}
}
