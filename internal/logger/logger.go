package logger

import (
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/shaunagostinho/wdcloader/internal/loader"
)

// Logger journals loader events to CSV files with automatic rotation. It
// is a loader.Sink.
type Logger struct {
	mu      sync.Mutex
	dir     string
	maxRows int
	enabled bool

	file   *os.File
	path   string
	writer *csv.Writer
	rows   int
}

// Config holds logger configuration.
type Config struct {
	Enabled bool
	Path    string
	MaxRows int
}

const defaultMaxRows = 100_000

var csvHeader = []string{
	"timestamp", "event", "board", "op", "address", "length", "chunk", "attempt", "reason",
}

// New creates a new Logger. Nothing is written until the first event.
func New(cfg Config) *Logger {
	if cfg.Path == "" {
		cfg.Path = "./journal"
	}
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = defaultMaxRows
	}
	return &Logger{
		dir:     cfg.Path,
		maxRows: cfg.MaxRows,
		enabled: cfg.Enabled,
	}
}

// SetEnabled allows toggling the journal at runtime.
func (l *Logger) SetEnabled(on bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.enabled = on
	if !on && l.file != nil {
		l.closeFile()
	}
}

// IsEnabled returns whether the journal is active.
func (l *Logger) IsEnabled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.enabled
}

// Path returns the file currently being written, if any.
func (l *Logger) Path() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.path
}

// Handle writes one event row.
func (l *Logger) Handle(e loader.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.enabled {
		return
	}

	ts := e.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	// Open/rotate file if needed
	if l.writer == nil || l.rows >= l.maxRows {
		if err := l.rotateFile(ts); err != nil {
			log.Printf("[journal] rotate failed: %v", err)
			return
		}
	}

	if err := l.writer.Write(buildRow(ts, e)); err != nil {
		log.Printf("[journal] write failed: %v", err)
		return
	}
	l.writer.Flush()
	l.rows++
}

// Close flushes and closes the current journal file.
func (l *Logger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closeFile()
}

func (l *Logger) rotateFile(now time.Time) error {
	l.closeFile()

	if err := os.MkdirAll(l.dir, 0755); err != nil {
		return fmt.Errorf("mkdir %s: %w", l.dir, err)
	}

	filename := fmt.Sprintf("wdcloader_%s.csv", now.Format("2006-01-02_150405.000"))
	path := filepath.Join(l.dir, filename)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	l.file = f
	l.path = path
	l.writer = csv.NewWriter(f)
	l.rows = 0

	if err := l.writer.Write(csvHeader); err != nil {
		return err
	}
	l.writer.Flush()

	log.Printf("[journal] opened %s", path)
	return nil
}

func (l *Logger) closeFile() {
	if l.writer != nil {
		l.writer.Flush()
		l.writer = nil
	}
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
	l.path = ""
}

func buildRow(ts time.Time, e loader.Event) []string {
	return []string{
		ts.Format(time.RFC3339Nano),
		string(e.Kind),
		e.Board,
		e.Op,
		fmt.Sprintf("0x%06X", e.Address),
		strconv.Itoa(e.Length),
		strconv.Itoa(e.Chunk),
		strconv.Itoa(e.Attempt),
		e.Reason,
	}
}
