package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/shaunagostinho/wdcloader/internal/board"
	"github.com/shaunagostinho/wdcloader/internal/image"
	"github.com/shaunagostinho/wdcloader/internal/loader"
	"github.com/shaunagostinho/wdcloader/internal/simboard"
)

func TestParseAddress(t *testing.T) {
	tests := []struct {
		in      string
		want    uint32
		wantErr bool
	}{
		{"0300", 0x0300, false},
		{"0x7E00", 0x7E00, false},
		{"$FFFC", 0xFFFC, false},
		{"012000", 0x012000, false},
		{"zz", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		got, err := parseAddress(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("parseAddress(%q) = 0x%X, %v", tt.in, got, err)
		}
	}
}

func TestParseRangeAndSave(t *testing.T) {
	addr, n, err := parseRange("1000:256")
	if err != nil || addr != 0x1000 || n != 256 {
		t.Errorf("parseRange() = 0x%X, %d, %v", addr, n, err)
	}
	addr, n, err = parseRange("0x2000:0x40")
	if err != nil || addr != 0x2000 || n != 0x40 {
		t.Errorf("parseRange(hex length) = 0x%X, %d, %v", addr, n, err)
	}
	if _, _, err := parseRange("1000"); err == nil {
		t.Error("parseRange() without length should fail")
	}

	addr, n, path, err := parseSave("0300:16:out/prog.s28")
	if err != nil || addr != 0x0300 || n != 16 || path != "out/prog.s28" {
		t.Errorf("parseSave() = 0x%X, %d, %q, %v", addr, n, path, err)
	}
	if _, _, _, err := parseSave("0300:16:"); err == nil {
		t.Error("parseSave() without file should fail")
	}
}

func TestValidateActions(t *testing.T) {
	tests := []struct {
		name    string
		a       actions
		wantErr bool
	}{
		{"nothing", actions{}, true},
		{"term only", actions{term: true}, false},
		{"show", actions{show: "0200:16"}, false},
		{"bad show", actions{show: "0200"}, true},
		{"bad format", actions{load: "x", format: "ihex"}, true},
		{"exec entry without load", actions{exec: "entry"}, true},
		{"exec entry with load", actions{load: "p.s19", exec: "entry"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.a.validate(); (err != nil) != tt.wantErr {
				t.Errorf("validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestPerformLoadSaveExec(t *testing.T) {
	dir := t.TempDir()
	program := []byte{0xA9, 0x41, 0x8D, 0x00, 0x02, 0x4C, 0x05, 0x03}

	src := filepath.Join(dir, "prog.s19")
	var buf bytes.Buffer
	if err := image.WriteSREC(&buf, 0x0300, program); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(src, buf.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}
	saved := filepath.Join(dir, "back.bin")

	sim := simboard.New(board.W65C02SXB)
	sess, err := loader.Detect(context.Background(), sim)
	if err != nil {
		t.Fatal(err)
	}
	defer sess.Close()

	a := actions{
		load: src,
		save: "0300:8:" + saved,
		exec: "0300",
	}
	if err := a.validate(); err != nil {
		t.Fatal(err)
	}
	if err := a.perform(context.Background(), sess); err != nil {
		t.Fatalf("perform() error = %v", err)
	}

	if !bytes.Equal(sim.Peek(0x0300, len(program)), program) {
		t.Error("program not loaded into board memory")
	}
	im, err := image.Load(saved, image.FormatWDC, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(im.Segments) != 1 || !bytes.Equal(im.Segments[0].Data, program) {
		t.Errorf("saved image = %+v", im.Segments)
	}
	if executed, addr := sim.Executed(); !executed || addr != 0x0300 {
		t.Errorf("executed = %v at 0x%04X", executed, addr)
	}
}
