package image

import (
	"bufio"
	"errors"
	"fmt"
	"io"
)

// wdcSignature starts every WDC binary file. It is followed by records of
// a 24-bit little-endian address, a 24-bit little-endian size, and size
// data bytes. A record of size zero ends the file and carries the entry
// address.
const wdcSignature = 0x5A

// ReadWDC parses a WDC binary image.
func ReadWDC(r io.Reader) (*Image, error) {
	br := bufio.NewReader(r)

	sig, err := br.ReadByte()
	if err != nil || sig != wdcSignature {
		return nil, fmt.Errorf("not a WDC binary file")
	}

	im := &Image{}
	header := make([]byte, 6)
	for {
		if _, err := io.ReadFull(br, header); err != nil {
			if errors.Is(err, io.EOF) {
				return im, nil
			}
			return nil, fmt.Errorf("truncated record header: %w", err)
		}
		address := le24(header[0:3])
		size := le24(header[3:6])
		if size == 0 {
			im.Entry = address
			im.HasEntry = true
			return im, nil
		}

		data := make([]byte, size)
		if _, err := io.ReadFull(br, data); err != nil {
			return nil, fmt.Errorf("record at 0x%06X: want %d bytes: %w", address, size, err)
		}
		im.add(address, data)
	}
}

// WriteWDC writes data as a single-record WDC binary image.
func WriteWDC(w io.Writer, address uint32, data []byte) error {
	if len(data) > 0xFFFFFF {
		return fmt.Errorf("record of %d bytes does not fit a 24-bit size", len(data))
	}
	header := []byte{wdcSignature}
	header = putLE24(header, address)
	header = putLE24(header, uint32(len(data)))
	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write data: %w", err)
	}
	return nil
}

func le24(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16
}

func putLE24(b []byte, v uint32) []byte {
	return append(b, byte(v), byte(v>>8), byte(v>>16))
}
