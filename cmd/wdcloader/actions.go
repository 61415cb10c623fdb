package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/shaunagostinho/wdcloader/internal/image"
	"github.com/shaunagostinho/wdcloader/internal/loader"
)

// actions are the operations requested on the command line. They run in
// a fixed order: load, show, save, state, exec.
type actions struct {
	load   string
	format string
	base   string
	show   string
	save   string
	exec   string
	state  bool
	term   bool

	entry    uint32
	hasEntry bool
}

func (a *actions) any() bool {
	return a.load != "" || a.show != "" || a.save != "" || a.exec != "" || a.state
}

func (a *actions) termOnly() bool { return a.term && !a.any() }

// validate parses every argument before the port is opened.
func (a *actions) validate() error {
	if !a.any() && !a.term {
		return fmt.Errorf("nothing to do: give -load, -show, -save, -exec, -state or -term")
	}
	if a.format != "" {
		if _, err := image.ParseFormat(a.format); err != nil {
			return err
		}
	}
	if a.base != "" {
		if _, err := parseAddress(a.base); err != nil {
			return fmt.Errorf("-base: %w", err)
		}
	}
	if a.show != "" {
		if _, _, err := parseRange(a.show); err != nil {
			return fmt.Errorf("-show: %w", err)
		}
	}
	if a.save != "" {
		if _, _, _, err := parseSave(a.save); err != nil {
			return fmt.Errorf("-save: %w", err)
		}
	}
	if a.exec != "" && a.exec != "entry" {
		if _, err := parseAddress(a.exec); err != nil {
			return fmt.Errorf("-exec: %w", err)
		}
	}
	if a.exec == "entry" && a.load == "" {
		return fmt.Errorf("-exec entry needs -load")
	}
	return nil
}

func (a *actions) formatFor(path string) image.Format {
	if a.format != "" {
		f, _ := image.ParseFormat(a.format)
		return f
	}
	return image.FormatFor(path)
}

func (a *actions) perform(ctx context.Context, sess *loader.Session) error {
	if a.load != "" {
		if err := a.loadImage(ctx, sess); err != nil {
			return err
		}
	}

	if a.show != "" {
		address, length, _ := parseRange(a.show)
		log.Printf("[show] %d bytes at 0x%06X", length, address)
		data, err := sess.Read(ctx, address, length)
		if err != nil {
			return err
		}
		if err := image.Dump(os.Stdout, address, data); err != nil {
			return err
		}
	}

	if a.save != "" {
		address, length, path, _ := parseSave(a.save)
		f := a.formatFor(path)
		log.Printf("[save] %d bytes from 0x%06X to %s (%s)", length, address, path, f)
		data, err := sess.Read(ctx, address, length)
		if err != nil {
			return err
		}
		if err := image.Save(path, f, address, data); err != nil {
			return err
		}
	}

	if a.state {
		st, err := sess.ReadState(ctx)
		if err != nil {
			return err
		}
		fmt.Print(st)
	}

	if a.exec != "" {
		address := a.entry
		if a.exec != "entry" {
			address, _ = parseAddress(a.exec)
		} else if !a.hasEntry {
			return fmt.Errorf("-exec entry: %s declares no entry point", a.load)
		}
		log.Printf("[exec] starting program at 0x%06X", address)
		if err := sess.Execute(ctx, address); err != nil {
			return err
		}
	}
	return nil
}

func (a *actions) loadImage(ctx context.Context, sess *loader.Session) error {
	var base uint32
	if a.base != "" {
		base, _ = parseAddress(a.base)
	}
	f := a.formatFor(a.load)
	im, err := image.Load(a.load, f, base)
	if err != nil {
		return err
	}
	if x, y, overlap := im.Overlaps(); overlap {
		return fmt.Errorf("%s: segments at 0x%06X and 0x%06X overlap", a.load, x.Address, y.Address)
	}

	log.Printf("[load] %s (%s): %d bytes in %d segment(s)", a.load, f, im.Size(), len(im.Segments))
	for _, seg := range im.Segments {
		if err := sess.Write(ctx, seg.Address, seg.Data); err != nil {
			return err
		}
		log.Printf("[load] wrote %d bytes at 0x%06X", len(seg.Data), seg.Address)
	}
	a.entry, a.hasEntry = im.Entry, im.HasEntry
	return nil
}

// parseAddress accepts hex with or without a 0x or $ prefix.
func parseAddress(s string) (uint32, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "0x"), "$")
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid hex address %q", s)
	}
	return uint32(v), nil
}

// parseLength accepts decimal, or hex with a 0x prefix.
func parseLength(s string) (int, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 0, 24)
	if err != nil {
		return 0, fmt.Errorf("invalid length %q", s)
	}
	return int(v), nil
}

// parseRange parses <hex_address>:<length>.
func parseRange(s string) (uint32, int, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("want <hex_address>:<length>, got %q", s)
	}
	address, err := parseAddress(parts[0])
	if err != nil {
		return 0, 0, err
	}
	length, err := parseLength(parts[1])
	if err != nil {
		return 0, 0, err
	}
	return address, length, nil
}

// parseSave parses <hex_address>:<length>:<file>.
func parseSave(s string) (uint32, int, string, error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 || parts[2] == "" {
		return 0, 0, "", fmt.Errorf("want <hex_address>:<length>:<file>, got %q", s)
	}
	address, length, err := parseRange(parts[0] + ":" + parts[1])
	if err != nil {
		return 0, 0, "", err
	}
	return address, length, parts[2], nil
}
