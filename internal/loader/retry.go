package loader

import (
	"errors"
	"fmt"
	"time"

	"github.com/shaunagostinho/wdcloader/internal/board"
	"github.com/shaunagostinho/wdcloader/internal/protocol"
	"github.com/shaunagostinho/wdcloader/internal/transport"
)

// policy wraps one request/response exchange with bounded retry and a
// single resync. It holds no state between exchanges.
type policy struct {
	attempts    int
	timeout     time.Duration
	resyncQuiet time.Duration
	resyncMax   time.Duration
	emit        func(Event)
}

// exchange sends frame and returns the decoded reply. Timeouts, corrupted
// or short replies, and requests the board reports as corrupted are
// retried up to attempts sends. An unexpected frame drains the line and
// re-issues the frame once without using up an attempt; a second one
// fails with ErrDesync. Transport errors fail immediately.
func (p policy) exchange(t transport.Transport, prof *board.Profile, op string, address uint32, frame []byte, expect protocol.Expectation) (protocol.Response, error) {
	var (
		last     protocol.Reason
		cause    error
		resynced bool
		sent     int
	)

	for attempt := 1; attempt <= p.attempts; attempt++ {
		sent++
		if err := t.Send(frame); err != nil {
			return protocol.Response{}, &IoError{Op: op, Err: err}
		}

		raw, err := receiveReply(t, prof, expect, p.timeout)
		if err != nil {
			return protocol.Response{}, &IoError{Op: op, Err: err}
		}

		resp := protocol.Decode(raw, expect, prof)
		switch {
		case resp.Kind == protocol.RespAck || resp.Kind == protocol.RespData:
			return resp, nil

		case resp.Kind == protocol.RespTimeout:
			last, cause = 0, ErrTimeout

		case resp.Reason == protocol.ReasonUnexpectedFrame:
			if resynced {
				return protocol.Response{}, newProtocolError(op, sent, resp.Reason, ErrDesync)
			}
			resynced = true
			n, err := t.Drain(p.resyncQuiet, p.resyncMax)
			if err != nil {
				return protocol.Response{}, &IoError{Op: op, Err: err}
			}
			p.emit(Event{Kind: EventResync, Op: op, Address: address, Attempt: sent,
				Reason: drainedReason(n, raw)})
			attempt--
			continue

		case resp.Reason.Transient():
			last, cause = resp.Reason, ErrChecksum
			if resp.Reason == protocol.ReasonShortRead {
				cause = ErrTimeout
			}

		default:
			return protocol.Response{}, newProtocolError(op, sent, resp.Reason, ErrRejected)
		}

		if attempt < p.attempts {
			p.emit(Event{Kind: EventRetry, Op: op, Address: address, Attempt: sent, Reason: reasonText(last)})
		}
	}

	return protocol.Response{}, newProtocolError(op, sent, last, cause)
}

// receiveReply reads the status byte, then as many bytes as that status
// implies, all within one timeout. A missing or partial frame is
// returned as-is for Decode to classify; only transport faults are
// errors.
func receiveReply(t transport.Transport, prof *board.Profile, expect protocol.Expectation, timeout time.Duration) ([]byte, error) {
	deadline := time.Now().Add(timeout)
	head, err := t.Receive(1, timeout)
	if err != nil && !errors.Is(err, transport.ErrTimeout) {
		return nil, err
	}
	if len(head) == 0 {
		return nil, nil
	}

	rest := protocol.ResponseLength(head[0], expect, prof)
	if rest < 0 {
		return head, nil
	}
	remaining := time.Until(deadline)
	if remaining <= 0 {
		return head, nil
	}
	body, err := t.Receive(rest, remaining)
	if err != nil && !errors.Is(err, transport.ErrTimeout) {
		return nil, err
	}
	return append(head, body...), nil
}

// reasonText names a failed attempt; zero means no reply at all.
func reasonText(r protocol.Reason) string {
	if r == 0 {
		return "timeout"
	}
	return r.String()
}

func drainedReason(n int, raw []byte) string {
	return fmt.Sprintf("unexpected byte 0x%02X, drained %d byte(s)", raw[0], n)
}
