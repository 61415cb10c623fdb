package server

import (
	"context"
	"encoding/json"
	"io"
	"io/fs"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/shaunagostinho/wdcloader/internal/config"
	"github.com/shaunagostinho/wdcloader/internal/loader"
)

// recentEvents is how many events /api/events keeps.
const recentEvents = 200

// Server is the transfer monitor: it receives loader events as a
// loader.Sink and broadcasts them with a status summary to WebSocket
// clients.
type Server struct {
	cfg   *config.Config
	webFS fs.FS

	clients   map[*wsClient]struct{}
	clientsMu sync.RWMutex

	upgrader websocket.Upgrader

	statusMu sync.RWMutex
	status   Status
	recent   []loader.Event

	journal JournalSwitch
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Status summarizes the session as seen through its events.
type Status struct {
	Port        string `json:"port"`
	Board       string `json:"board"`
	State       string `json:"state"`
	BytesRead   int    `json:"bytesRead"`
	BytesWrite  int    `json:"bytesWritten"`
	Retries     int    `json:"retries"`
	Resyncs     int    `json:"resyncs"`
	ProbeMisses int    `json:"probeMisses"`
	Journal     bool   `json:"journal"`
}

// JournalSwitch is a transfer journal that can be turned on and off
// while the session runs.
type JournalSwitch interface {
	SetEnabled(on bool)
	IsEnabled() bool
}

// Frame is the JSON structure sent to all WebSocket clients.
type Frame struct {
	Event  *loader.Event `json:"event,omitempty"`
	Status *Status       `json:"status,omitempty"`
	Stamp  int64         `json:"stamp"` // Unix ms
}

// New creates a new Server. webFS holds the monitor page.
func New(cfg *config.Config, webFS fs.FS) *Server {
	return &Server{
		cfg:     cfg,
		webFS:   webFS,
		clients: make(map[*wsClient]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		status: Status{State: "idle"},
	}
}

// SetJournal lets /api/config toggle j through journal.enabled.
func (s *Server) SetJournal(j JournalSwitch) {
	s.statusMu.Lock()
	s.journal = j
	s.statusMu.Unlock()
}

// SetPort records the serial port shown in the status.
func (s *Server) SetPort(port string) {
	s.statusMu.Lock()
	s.status.Port = port
	s.statusMu.Unlock()
}

// Status returns a snapshot of the current status.
func (s *Server) Status() Status {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	st := s.status
	st.Journal = s.journalOn()
	return st
}

// journalOn must be called with statusMu held.
func (s *Server) journalOn() bool {
	return s.journal != nil && s.journal.IsEnabled()
}

// Handle implements loader.Sink.
func (s *Server) Handle(e loader.Event) {
	s.statusMu.Lock()
	st := &s.status
	switch e.Kind {
	case loader.EventDetectionStarted:
		st.State = "detecting"
	case loader.EventProbeFailed:
		st.ProbeMisses++
	case loader.EventBoardDetected:
		st.Board = e.Board
		st.State = "ready"
	case loader.EventChunkRead:
		st.State = "reading"
		st.BytesRead += e.Length
	case loader.EventChunkWritten:
		st.State = "writing"
		st.BytesWrite += e.Length
	case loader.EventRetry:
		st.Retries++
	case loader.EventResync:
		st.Resyncs++
	case loader.EventExecuted:
		st.State = "executed"
	}
	snap := *st
	snap.Journal = s.journalOn()

	s.recent = append(s.recent, e)
	if len(s.recent) > recentEvents {
		s.recent = s.recent[len(s.recent)-recentEvents:]
	}
	s.statusMu.Unlock()

	s.broadcast(Frame{Event: &e, Status: &snap, Stamp: time.Now().UnixMilli()})
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Serve embedded web files
	mux.Handle("/", http.FileServer(http.FS(s.webFS)))

	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/api/config", s.handleConfig)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/events", s.handleEvents)
	return mux
}

// Run serves the monitor until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.cfg.Monitor.ListenAddr,
		Handler: s.Handler(),
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	log.Printf("[monitor] listening on %s", s.cfg.Monitor.ListenAddr)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade error: %v", err)
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan []byte, 64),
	}

	s.clientsMu.Lock()
	s.clients[client] = struct{}{}
	n := len(s.clients)
	s.clientsMu.Unlock()

	log.Printf("[ws] client connected (%d total)", n)

	// Send the current status first
	st := s.Status()
	if data, err := json.Marshal(Frame{Status: &st, Stamp: time.Now().UnixMilli()}); err == nil {
		client.send <- data
	}

	// Writer goroutine
	go func() {
		defer conn.Close()
		for msg := range client.send {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				break
			}
		}
	}()

	// Reader goroutine (keep-alive, detects disconnect)
	go func() {
		defer func() {
			s.clientsMu.Lock()
			delete(s.clients, client)
			close(client.send)
			n := len(s.clients)
			s.clientsMu.Unlock()
			log.Printf("[ws] client disconnected (%d total)", n)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

// handleConfig serves and updates the configuration file. An update is
// validated and saved; journal.enabled is applied at once, everything
// else is read by the next run.
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		data, err := s.cfg.ToJSON()
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)

	case http.MethodPost:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "bad request", 400)
			return
		}
		prev, err := s.cfg.ToJSON()
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		if err := s.cfg.UpdateFromJSON(body); err != nil {
			http.Error(w, err.Error(), 400)
			return
		}
		if err := s.cfg.Validate(); err != nil {
			s.cfg.UpdateFromJSON(prev)
			http.Error(w, err.Error(), 400)
			return
		}
		if err := s.cfg.Save(); err != nil {
			log.Printf("[config] save failed: %v", err)
		}

		s.statusMu.RLock()
		j := s.journal
		s.statusMu.RUnlock()
		if j != nil {
			j.SetEnabled(s.cfg.JournalEnabled())
		}

		writeJSON(w, map[string]interface{}{
			"status":  "ok",
			"journal": j != nil && j.IsEnabled(),
			"note":    "serial, board and protocol settings apply from the next run",
		})

	default:
		http.Error(w, "method not allowed", 405)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", 405)
		return
	}
	writeJSON(w, s.Status())
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", 405)
		return
	}
	s.statusMu.RLock()
	events := append([]loader.Event{}, s.recent...)
	s.statusMu.RUnlock()
	writeJSON(w, events)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func (s *Server) broadcast(frame Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}

	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for client := range s.clients {
		select {
		case client.send <- data:
		default:
			// Client too slow, skip
		}
	}
}
