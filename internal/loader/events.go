package loader

import (
	"fmt"
	"log"
	"time"
)

// EventKind names a progress event.
type EventKind string

const (
	EventDetectionStarted EventKind = "detection_started"
	EventProbeFailed      EventKind = "probe_failed"
	EventBoardDetected    EventKind = "board_detected"
	EventChunkRead        EventKind = "chunk_read"
	EventChunkWritten     EventKind = "chunk_written"
	EventRetry            EventKind = "retry"
	EventResync           EventKind = "resync"
	EventExecuted         EventKind = "executed"
)

// Event is a structured progress report. Sinks observe events; they have
// no influence on the protocol.
type Event struct {
	Kind    EventKind `json:"kind"`
	Time    time.Time `json:"time"`
	Board   string    `json:"board,omitempty"`
	Op      string    `json:"op,omitempty"`
	Address uint32    `json:"address"`
	Length  int       `json:"length,omitempty"`
	Chunk   int       `json:"chunk,omitempty"`
	Attempt int       `json:"attempt,omitempty"`
	Reason  string    `json:"reason,omitempty"`
}

func (e Event) String() string {
	switch e.Kind {
	case EventDetectionStarted:
		return "detection started"
	case EventProbeFailed:
		return fmt.Sprintf("probe %s: %s", e.Board, e.Reason)
	case EventBoardDetected:
		return fmt.Sprintf("detected %s", e.Board)
	case EventChunkRead, EventChunkWritten:
		return fmt.Sprintf("%s chunk %d: %d bytes at 0x%06X", e.Op, e.Chunk, e.Length, e.Address)
	case EventRetry:
		return fmt.Sprintf("%s at 0x%06X: attempt %d failed: %s", e.Op, e.Address, e.Attempt, e.Reason)
	case EventResync:
		return fmt.Sprintf("%s at 0x%06X: resync, %s", e.Op, e.Address, e.Reason)
	case EventExecuted:
		return fmt.Sprintf("executing at 0x%06X", e.Address)
	default:
		return string(e.Kind)
	}
}

// Sink receives progress events. Handle must return quickly; it is
// called synchronously from the protocol loop.
type Sink interface {
	Handle(Event)
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(Event)

func (f SinkFunc) Handle(e Event) { f(e) }

// MultiSink fans an event out to several sinks in order.
type MultiSink []Sink

func (m MultiSink) Handle(e Event) {
	for _, s := range m {
		if s != nil {
			s.Handle(e)
		}
	}
}

// LogSink writes events to the standard logger. Chunk events are only
// logged when Verbose is set.
type LogSink struct {
	Verbose bool
}

func (l LogSink) Handle(e Event) {
	if !l.Verbose && (e.Kind == EventChunkRead || e.Kind == EventChunkWritten) {
		return
	}
	log.Printf("[%s] %s", e.Kind, e)
}
