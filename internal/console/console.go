// Package console attaches the user's terminal to the board's serial line
// so programs started with execute can be talked to.
package console

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/pkg/term/termios"
	"golang.org/x/sys/unix"
)

// EscapeByte (Ctrl-]) ends the session.
const EscapeByte = 0x1D

// Run puts in into raw mode, then copies keystrokes to line and line
// output to out until Ctrl-] is typed, line closes, or ctx is done. The
// terminal mode is restored before returning.
func Run(ctx context.Context, line io.ReadWriter, in *os.File, out io.Writer) error {
	restore, err := makeRaw(in)
	if err != nil {
		log.Printf("[term] %s is not a terminal, input is line buffered: %v", in.Name(), err)
	} else {
		defer restore()
	}

	fmt.Fprint(out, "--- terminal attached, Ctrl-] to quit ---\r\n")
	err = Pump(ctx, line, in, out)
	fmt.Fprint(out, "\r\n--- terminal detached ---\r\n")
	return err
}

func makeRaw(f *os.File) (func(), error) {
	var saved unix.Termios
	if err := termios.Tcgetattr(f.Fd(), &saved); err != nil {
		return nil, err
	}
	raw := saved
	termios.Cfmakeraw(&raw)
	if err := termios.Tcsetattr(f.Fd(), termios.TCIFLUSH, &raw); err != nil {
		return nil, err
	}
	return func() {
		termios.Tcsetattr(f.Fd(), termios.TCIFLUSH, &saved)
	}, nil
}

// Pump copies in to line and line to out. It returns nil when in yields
// EscapeByte or ends, or when line reports EOF.
//
// line.Read may return 0, nil on a read timeout; Pump keeps polling.
// A blocked in.Read is abandoned on return.
func Pump(ctx context.Context, line io.ReadWriter, in io.Reader, out io.Writer) error {
	stop := make(chan struct{})
	defer close(stop)

	lineErr := make(chan error, 1)
	go func() { lineErr <- copyLine(stop, line, out) }()

	inErr := make(chan error, 1)
	go func() { inErr <- copyInput(line, in) }()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-lineErr:
		return err
	case err := <-inErr:
		return err
	}
}

func copyLine(stop <-chan struct{}, line io.Reader, out io.Writer) error {
	buf := make([]byte, 256)
	for {
		select {
		case <-stop:
			return nil
		default:
		}

		n, err := line.Read(buf)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				return fmt.Errorf("term: write output: %w", werr)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("term: read line: %w", err)
		}
	}
}

func copyInput(line io.Writer, in io.Reader) error {
	buf := make([]byte, 64)
	for {
		n, err := in.Read(buf)
		chunk := buf[:n]
		quit := false
		if i := bytes.IndexByte(chunk, EscapeByte); i >= 0 {
			chunk, quit = chunk[:i], true
		}
		if len(chunk) > 0 {
			if _, werr := line.Write(chunk); werr != nil {
				return fmt.Errorf("term: write line: %w", werr)
			}
		}
		if quit {
			return nil
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("term: read input: %w", err)
		}
	}
}
