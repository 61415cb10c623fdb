package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shaunagostinho/wdcloader/internal/board"
	"github.com/shaunagostinho/wdcloader/internal/config"
	"github.com/shaunagostinho/wdcloader/internal/console"
	"github.com/shaunagostinho/wdcloader/internal/loader"
	"github.com/shaunagostinho/wdcloader/internal/logger"
	"github.com/shaunagostinho/wdcloader/internal/server"
	"github.com/shaunagostinho/wdcloader/internal/simboard"
	"github.com/shaunagostinho/wdcloader/internal/transport"
	"github.com/shaunagostinho/wdcloader/web"
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "Path to config file")
	port := flag.String("port", "", "Serial port associated with the board (overrides config)")
	boardHint := flag.String("board", "", "Only probe this board: 02, 816 or 165")
	demo := flag.Bool("demo", false, "Talk to a simulated board instead of a serial port")
	list := flag.Bool("list", false, "List available serial ports and exit")
	reset := flag.Bool("reset", false, "Pulse DTR to reset the board after opening the port")
	monitor := flag.Bool("monitor", false, "Serve the transfer monitor (see monitor.listen_addr)")
	journal := flag.Bool("journal", false, "Record transfer events to CSV (see journal.path)")
	verbose := flag.Bool("v", false, "Log every chunk and every serial frame")

	var a actions
	flag.StringVar(&a.load, "load", "", "Load an image file (S19/S28/S37, WDC binary, or raw with -base)")
	flag.StringVar(&a.format, "format", "", "Image format for -load/-save: srec, wdc or raw (default: from file extension)")
	flag.StringVar(&a.base, "base", "", "Load address for raw images, in hex")
	flag.StringVar(&a.show, "show", "", "Show memory: <hex_address>:<length>")
	flag.StringVar(&a.save, "save", "", "Save memory to a file: <hex_address>:<length>:<file>")
	flag.StringVar(&a.exec, "exec", "", "Execute at <hex_address>, or 'entry' for the loaded image's entry point")
	flag.BoolVar(&a.state, "state", false, "Print the CPU register block")
	flag.BoolVar(&a.term, "term", false, "Attach the terminal to the serial line (after -exec, if given)")
	flag.Parse()

	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)

	if *list {
		if err := listPorts(); err != nil {
			log.Fatalf("[main] %v", err)
		}
		return
	}

	cfg := config.LoadConfig(*configPath)
	if *port != "" {
		cfg.Serial.Port = *port
	}
	if *boardHint != "" {
		cfg.Board.Hint = *boardHint
	}
	if *reset {
		cfg.Serial.ResetOnOpen = true
	}
	if *monitor {
		cfg.Monitor.Enabled = true
	}
	if *journal {
		cfg.Journal.Enabled = true
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[main] %v", err)
	}

	// Create context with signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("[main] received %v, stopping after the current chunk", sig)
		cancel()
	}()

	if err := run(ctx, cfg, a, *demo, *verbose); err != nil {
		log.Printf("[main] %v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, a actions, demo, verbose bool) error {
	if err := a.validate(); err != nil {
		return err
	}

	sinks := loader.MultiSink{loader.LogSink{Verbose: verbose}}

	// With the monitor up the journal exists even when disabled, so
	// /api/config can switch it on.
	var journal *logger.Logger
	if cfg.Journal.Enabled || cfg.Monitor.Enabled {
		journal = logger.New(logger.Config{
			Enabled: cfg.Journal.Enabled,
			Path:    cfg.Journal.Path,
			MaxRows: cfg.Journal.MaxRows,
		})
		defer journal.Close()
		sinks = append(sinks, journal)
	}

	if cfg.Monitor.Enabled {
		mon := server.New(cfg, web.FS)
		mon.SetJournal(journal)
		mon.SetPort(cfg.Serial.Port)
		if demo {
			mon.SetPort("demo")
		}
		go func() {
			if err := mon.Run(ctx); err != nil {
				log.Printf("[monitor] exited: %v", err)
			}
		}()
		sinks = append(sinks, mon)
	}

	hint, err := hintProfile(cfg)
	if err != nil {
		return err
	}

	var t transport.Transport
	var line *transport.Serial
	if demo {
		model := hint
		if model == nil {
			model = board.W65C816SXB
		}
		sim := simboard.New(model)
		sim.Latency = 2 * time.Millisecond
		log.Printf("[main] demo mode: simulated %s", model)
		t = sim
	} else {
		params := board.W65C02SXB.Serial
		if hint != nil {
			params = hint.Serial
		}
		line, err = openWithRetry(ctx, cfg.Serial.Port, params, cfg.Serial.OpenAttempts)
		if err != nil {
			return err
		}
		line.Verbose = verbose
		if cfg.Serial.ResetOnOpen {
			log.Printf("[main] resetting board")
			if err := line.ResetBoard(); err != nil {
				line.Close()
				return err
			}
		}
		t = line
	}

	// A bare -term skips detection and just attaches to the line
	if a.termOnly() {
		defer t.Close()
		if line == nil {
			return fmt.Errorf("terminal is not available in demo mode")
		}
		return console.Run(ctx, line, os.Stdin, os.Stdout)
	}

	opts, err := cfg.LoaderOptions()
	if err != nil {
		t.Close()
		return err
	}
	opts = append(opts, loader.WithSink(sinks))

	sess, err := loader.Detect(ctx, t, opts...)
	if err != nil {
		t.Close()
		return err
	}
	defer sess.Close()

	if err := a.perform(ctx, sess); err != nil {
		return err
	}

	if a.term {
		if line == nil {
			return fmt.Errorf("terminal is not available in demo mode")
		}
		return console.Run(ctx, line, os.Stdin, os.Stdout)
	}
	return nil
}

func hintProfile(cfg *config.Config) (*board.Profile, error) {
	if cfg.Board.Hint == "" {
		return nil, nil
	}
	return board.Lookup(cfg.Board.Hint)
}

// openWithRetry opens the port with exponential backoff. Starts at 1s,
// doubles each attempt up to 10s.
func openWithRetry(ctx context.Context, path string, params board.SerialParams, maxAttempts int) (*transport.Serial, error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	delay := 1 * time.Second
	maxDelay := 10 * time.Second

	for attempt := 1; ; attempt++ {
		s, err := transport.OpenSerial(path, params)
		if err == nil {
			return s, nil
		}
		if attempt >= maxAttempts {
			return nil, err
		}
		log.Printf("[serial] open attempt %d/%d failed: %v (retry in %v)", attempt, maxAttempts, err, delay)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}

func listPorts() error {
	ports, err := transport.ListPorts()
	if err != nil {
		return err
	}
	fmt.Println("Available serial ports:")
	for _, p := range ports {
		fmt.Printf("\t%s - %s\n", p.Name, p.Description)
	}
	return nil
}
