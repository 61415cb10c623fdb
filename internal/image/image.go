// Package image reads and writes the program image formats accepted by
// the loader: Motorola S-records (S19/S28/S37), WDC binary, and raw
// binary. It also formats memory as a hex dump.
package image

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Segment is a contiguous run of bytes destined for Address.
type Segment struct {
	Address uint32
	Data    []byte
}

// End is the first address after the segment.
func (s Segment) End() uint64 { return uint64(s.Address) + uint64(len(s.Data)) }

// Image is a loadable program: its segments in file order, plus the entry
// point if the file declared one.
type Image struct {
	Segments []Segment
	Entry    uint32
	HasEntry bool
}

// Size is the total number of data bytes.
func (im *Image) Size() int {
	n := 0
	for _, s := range im.Segments {
		n += len(s.Data)
	}
	return n
}

// add appends data at address, extending the last segment when the new
// bytes follow it directly.
func (im *Image) add(address uint32, data []byte) {
	if len(data) == 0 {
		return
	}
	if n := len(im.Segments); n > 0 {
		last := &im.Segments[n-1]
		if last.End() == uint64(address) {
			last.Data = append(last.Data, data...)
			return
		}
	}
	im.Segments = append(im.Segments, Segment{Address: address, Data: append([]byte(nil), data...)})
}

// Overlaps reports the first pair of segments that share an address.
func (im *Image) Overlaps() (a, b Segment, ok bool) {
	sorted := append([]Segment(nil), im.Segments...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Address < sorted[j].Address })
	for i := 1; i < len(sorted); i++ {
		if uint64(sorted[i].Address) < sorted[i-1].End() {
			return sorted[i-1], sorted[i], true
		}
	}
	return Segment{}, Segment{}, false
}

// Format identifies an image file format.
type Format int

const (
	FormatSREC Format = iota
	FormatWDC
	FormatRaw
)

func (f Format) String() string {
	switch f {
	case FormatSREC:
		return "srec"
	case FormatWDC:
		return "wdc"
	case FormatRaw:
		return "raw"
	default:
		return fmt.Sprintf("format(%d)", int(f))
	}
}

// ParseFormat accepts a format name as used on the command line.
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(name) {
	case "srec", "s19", "s28", "s37", "mot":
		return FormatSREC, nil
	case "wdc", "bin":
		return FormatWDC, nil
	case "raw":
		return FormatRaw, nil
	}
	return 0, fmt.Errorf("image: unknown format %q", name)
}

// FormatFor guesses the format from a file name.
func FormatFor(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".s19", ".s28", ".s37", ".srec", ".mot", ".s":
		return FormatSREC
	case ".bin", ".wdc":
		return FormatWDC
	default:
		return FormatRaw
	}
}

// Load reads an image file. Raw files have no addresses of their own and
// are placed at base; base is ignored for the other formats.
func Load(path string, f Format, base uint32) (*Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("image: failed to open file: %w", err)
	}
	defer func() { _ = file.Close() }()

	var im *Image
	switch f {
	case FormatSREC:
		im, err = ReadSREC(file)
	case FormatWDC:
		im, err = ReadWDC(file)
	default:
		im, err = ReadRaw(file, base)
	}
	if err != nil {
		return nil, fmt.Errorf("image: %s: %w", filepath.Base(path), err)
	}
	return im, nil
}

// Save writes data taken from address to a file in the given format.
func Save(path string, f Format, address uint32, data []byte) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("image: failed to create file: %w", err)
	}

	switch f {
	case FormatSREC:
		err = WriteSREC(file, address, data)
	case FormatWDC:
		err = WriteWDC(file, address, data)
	default:
		_, err = file.Write(data)
	}
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("image: %s: %w", filepath.Base(path), err)
	}
	return nil
}
