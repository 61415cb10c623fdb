package image

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
)

func TestReadSREC(t *testing.T) {
	input := strings.Join([]string{
		"S00600004844521B",
		"S1090300A9018D0002605A",
		"S1050306EAEA1D",
		"S20801200001020304CC",
		"S9030300F9",
	}, "\n")

	im, err := ReadSREC(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ReadSREC() error = %v", err)
	}

	if len(im.Segments) != 2 {
		t.Fatalf("segments = %d, want 2 (contiguous S1 records merge)", len(im.Segments))
	}
	want0 := []byte{0xA9, 0x01, 0x8D, 0x00, 0x02, 0x60, 0xEA, 0xEA}
	if im.Segments[0].Address != 0x0300 || !bytes.Equal(im.Segments[0].Data, want0) {
		t.Errorf("segment 0 = 0x%06X % X", im.Segments[0].Address, im.Segments[0].Data)
	}
	if im.Segments[1].Address != 0x012000 || !bytes.Equal(im.Segments[1].Data, []byte{1, 2, 3, 4}) {
		t.Errorf("segment 1 = 0x%06X % X", im.Segments[1].Address, im.Segments[1].Data)
	}
	if !im.HasEntry || im.Entry != 0x0300 {
		t.Errorf("entry = 0x%04X (%v), want 0x0300", im.Entry, im.HasEntry)
	}
	if im.Size() != 12 {
		t.Errorf("Size() = %d, want 12", im.Size())
	}
}

func TestReadSRECErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"bad checksum", "S1090300A9018D0002605B"},
		{"wrong count", "S1080300A9018D0002605A"},
		{"not a record", ":10010000214601360121470136007EFE09D2190140"},
		{"odd hex", "S1090300A9018D0002605"},
		{"unknown type", "S4030000FC"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ReadSREC(strings.NewReader(tt.input)); err == nil {
				t.Error("ReadSREC() expected error")
			}
		})
	}
}

func TestWriteSREC(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteSREC(&buf, 0x001000, []byte{0x11, 0x22, 0x33}); err != nil {
		t.Fatalf("WriteSREC() error = %v", err)
	}
	want := "S20700100011223382\nS804000000FB\n"
	if buf.String() != want {
		t.Errorf("WriteSREC() = %q, want %q", buf.String(), want)
	}
}

func TestWriteSRECLineSplit(t *testing.T) {
	data := make([]byte, 100)
	for i := range data {
		data[i] = byte(i)
	}

	var buf bytes.Buffer
	if err := WriteSREC(&buf, 0x7F00, data); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 5 {
		t.Fatalf("lines = %d, want 4 data records + terminator", len(lines))
	}

	im, err := ReadSREC(&buf)
	if err != nil {
		t.Fatalf("ReadSREC() error = %v", err)
	}
	if len(im.Segments) != 1 || im.Segments[0].Address != 0x7F00 || !bytes.Equal(im.Segments[0].Data, data) {
		t.Error("written records did not read back as one segment")
	}
}

func TestWDC(t *testing.T) {
	input := []byte{
		0x5A,
		0x00, 0x03, 0x00, 0x03, 0x00, 0x00, 0xA9, 0x01, 0x60,
		0x00, 0x20, 0x01, 0x02, 0x00, 0x00, 0xEA, 0xEA,
		0x00, 0x03, 0x00, 0x00, 0x00, 0x00,
	}

	im, err := ReadWDC(bytes.NewReader(input))
	if err != nil {
		t.Fatalf("ReadWDC() error = %v", err)
	}
	if len(im.Segments) != 2 {
		t.Fatalf("segments = %d, want 2", len(im.Segments))
	}
	if im.Segments[1].Address != 0x012000 || !bytes.Equal(im.Segments[1].Data, []byte{0xEA, 0xEA}) {
		t.Errorf("segment 1 = 0x%06X % X", im.Segments[1].Address, im.Segments[1].Data)
	}
	if !im.HasEntry || im.Entry != 0x0300 {
		t.Errorf("entry = 0x%06X, want 0x0300", im.Entry)
	}

	var buf bytes.Buffer
	if err := WriteWDC(&buf, 0x0300, []byte{0xA9, 0x01, 0x60}); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(buf.Bytes(), input[:10]) {
		t.Errorf("WriteWDC() = % X, want % X", buf.Bytes(), input[:10])
	}
}

func TestWDCErrors(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
	}{
		{"empty", nil},
		{"wrong signature", []byte{0x5B, 0, 0, 0, 0, 0, 0}},
		{"truncated header", []byte{0x5A, 0x00, 0x03}},
		{"truncated data", []byte{0x5A, 0x00, 0x03, 0x00, 0x04, 0x00, 0x00, 0xEA}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ReadWDC(bytes.NewReader(tt.input)); err == nil {
				t.Error("ReadWDC() expected error")
			}
		})
	}
}

func TestOverlaps(t *testing.T) {
	im := &Image{Segments: []Segment{
		{Address: 0x2000, Data: make([]byte, 16)},
		{Address: 0x1000, Data: make([]byte, 0x1001)},
	}}
	a, b, ok := im.Overlaps()
	if !ok || a.Address != 0x1000 || b.Address != 0x2000 {
		t.Errorf("Overlaps() = 0x%04X, 0x%04X, %v", a.Address, b.Address, ok)
	}

	im.Segments[1].Data = im.Segments[1].Data[:0x1000]
	if _, _, ok := im.Overlaps(); ok {
		t.Error("adjacent segments reported as overlapping")
	}
}

func TestDump(t *testing.T) {
	var buf bytes.Buffer
	data := append([]byte("Hello"), 0x00, 0x7F)
	if err := Dump(&buf, 0x0200, data); err != nil {
		t.Fatal(err)
	}
	want := "000200 | 48 65 6c 6c 6f 00 7f .. .. .. .. .. .. .. .. .. | Hello...........\n"
	if buf.String() != want {
		t.Errorf("Dump() =\n%q\nwant\n%q", buf.String(), want)
	}

	buf.Reset()
	Dump(&buf, 0x0000, make([]byte, 17))
	if n := strings.Count(buf.String(), "\n"); n != 2 {
		t.Errorf("17 bytes dumped on %d lines, want 2", n)
	}
}

func TestSaveLoad(t *testing.T) {
	dir := t.TempDir()
	data := []byte{0xA9, 0x42, 0x8D, 0x00, 0x02, 0x60}

	tests := []struct {
		file   string
		format Format
	}{
		{"prog.s28", FormatSREC},
		{"prog.bin", FormatWDC},
		{"prog.raw", FormatRaw},
	}
	for _, tt := range tests {
		t.Run(tt.format.String(), func(t *testing.T) {
			path := filepath.Join(dir, tt.file)
			if FormatFor(path) != tt.format {
				t.Errorf("FormatFor(%s) = %s", tt.file, FormatFor(path))
			}
			if err := Save(path, tt.format, 0x0400, data); err != nil {
				t.Fatalf("Save() error = %v", err)
			}
			im, err := Load(path, tt.format, 0x0400)
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if len(im.Segments) != 1 || im.Segments[0].Address != 0x0400 || !bytes.Equal(im.Segments[0].Data, data) {
				t.Errorf("Load() = %+v", im.Segments)
			}
		})
	}
}

func TestParseFormat(t *testing.T) {
	for name, want := range map[string]Format{"S28": FormatSREC, "wdc": FormatWDC, "raw": FormatRaw} {
		if got, err := ParseFormat(name); err != nil || got != want {
			t.Errorf("ParseFormat(%q) = %s, %v", name, got, err)
		}
	}
	if _, err := ParseFormat("ihex"); err == nil {
		t.Error("ParseFormat(ihex) expected error")
	}
}
