package transport

import (
	"fmt"
	"log"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"

	"github.com/shaunagostinho/wdcloader/internal/board"
)

const (
	// resetPulse is how long DTR is held in each phase of a board reset.
	resetPulse = 300 * time.Millisecond

	idleReadTimeout = 1 * time.Second
)

// Serial is a Transport over a serial port.
type Serial struct {
	path string
	port serial.Port

	mu     sync.Mutex
	closed bool

	// Verbose logs every frame sent and received.
	Verbose bool
}

// OpenSerial opens the serial device at path with the given line
// settings.
func OpenSerial(path string, params board.SerialParams) (*Serial, error) {
	port, err := serial.Open(path, toMode(params))
	if err != nil {
		return nil, fmt.Errorf("serial: failed to open %s: %w", path, err)
	}
	if err := port.SetReadTimeout(idleReadTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("serial: failed to set timeout: %w", err)
	}
	log.Printf("[serial] opened %s (%s)", path, params)
	return &Serial{path: path, port: port}, nil
}

func toMode(p board.SerialParams) *serial.Mode {
	mode := &serial.Mode{
		BaudRate: p.BaudRate,
		DataBits: p.DataBits,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	switch p.Parity {
	case board.OddParity:
		mode.Parity = serial.OddParity
	case board.EvenParity:
		mode.Parity = serial.EvenParity
	}
	if p.StopBits == board.TwoStopBits {
		mode.StopBits = serial.TwoStopBits
	}
	return mode
}

// Path returns the device path.
func (s *Serial) Path() string { return s.path }

func (s *Serial) Configure(p board.SerialParams) error {
	if err := s.port.SetMode(toMode(p)); err != nil {
		return fmt.Errorf("serial: set mode %s on %s: %w", p, s.path, err)
	}
	return nil
}

func (s *Serial) Send(b []byte) error {
	if s.Verbose {
		log.Printf("[serial] tx % X", b)
	}
	for len(b) > 0 {
		n, err := s.port.Write(b)
		if err != nil {
			return fmt.Errorf("serial: write %s: %w", s.path, err)
		}
		b = b[n:]
	}
	return nil
}

// Receive reads exactly n bytes within the deadline.
func (s *Serial) Receive(n int, timeout time.Duration) ([]byte, error) {
	buf := make([]byte, n)
	deadline := time.Now().Add(timeout)
	got := 0

	for got < n {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		if err := s.port.SetReadTimeout(remaining); err != nil {
			return buf[:got], fmt.Errorf("serial: set timeout: %w", err)
		}
		m, err := s.port.Read(buf[got:])
		if err != nil {
			return buf[:got], fmt.Errorf("serial: read error after %d/%d bytes: %w", got, n, err)
		}
		if m == 0 {
			// go.bug.st/serial returns 0, nil when the read timeout expires
			break
		}
		got += m
	}

	if s.Verbose && got > 0 {
		log.Printf("[serial] rx % X", buf[:got])
	}
	if got < n {
		return buf[:got], ErrTimeout
	}
	return buf, nil
}

// Drain reads and discards pending data until there is silence for
// quiet, or max has elapsed.
func (s *Serial) Drain(quiet, max time.Duration) (int, error) {
	if err := s.port.ResetInputBuffer(); err != nil {
		return 0, fmt.Errorf("serial: reset input buffer: %w", err)
	}
	if err := s.port.SetReadTimeout(quiet); err != nil {
		return 0, fmt.Errorf("serial: set timeout: %w", err)
	}
	defer s.port.SetReadTimeout(idleReadTimeout)

	total := 0
	deadline := time.Now().Add(max)
	buf := make([]byte, 256)

	for time.Now().Before(deadline) {
		n, err := s.port.Read(buf)
		if err != nil {
			return total, fmt.Errorf("serial: drain %s: %w", s.path, err)
		}
		if n == 0 {
			break
		}
		if total == 0 {
			log.Printf("[serial] drain first bytes: % X", buf[:n])
		}
		total += n
	}
	if total > 0 {
		log.Printf("[serial] drain cleared %d bytes total", total)
	}
	return total, nil
}

// ResetBoard pulses DTR. Some SXB revisions ignore it.
func (s *Serial) ResetBoard() error {
	for _, level := range []bool{true, false, true} {
		if err := s.port.SetDTR(level); err != nil {
			return fmt.Errorf("serial: set DTR: %w", err)
		}
		time.Sleep(resetPulse)
	}
	return nil
}

// Read and Write expose the raw line for the terminal passthrough.
func (s *Serial) Read(p []byte) (int, error)  { return s.port.Read(p) }
func (s *Serial) Write(p []byte) (int, error) { return s.port.Write(p) }

// Close closes the port. Calling it more than once is safe.
func (s *Serial) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	log.Printf("[serial] closing %s", s.path)
	return s.port.Close()
}

// PortInfo describes an available serial device.
type PortInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	IsUSB       bool   `json:"isUsb"`
}

// ListPorts returns the serial ports present on the host.
func ListPorts() ([]PortInfo, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("serial: list ports: %w", err)
	}
	ports := make([]PortInfo, 0, len(details))
	for _, d := range details {
		info := PortInfo{Name: d.Name, IsUSB: d.IsUSB}
		if d.IsUSB {
			info.Description = fmt.Sprintf("USB %s:%s %s %s", d.VID, d.PID, d.Product, d.SerialNumber)
		} else {
			info.Description = "n/a"
		}
		ports = append(ports, info)
	}
	return ports, nil
}
