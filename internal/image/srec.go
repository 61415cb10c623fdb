package image

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
)

// srecLineBytes is the payload of each record written by WriteSREC.
const srecLineBytes = 32

// srecAddrBytes maps a record type to its address field width.
var srecAddrBytes = map[byte]int{
	'0': 2, '1': 2, '2': 3, '3': 4,
	'5': 2, '6': 3,
	'7': 4, '8': 3, '9': 2,
}

// ReadSREC parses Motorola S-records. Data records S1, S2 and S3 are
// loaded; S7, S8 and S9 set the entry point; S0, S5 and S6 are checked
// and skipped. Every record's checksum is verified.
func ReadSREC(r io.Reader) (*Image, error) {
	im := &Image{}
	scanner := bufio.NewScanner(r)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		kind, address, data, err := parseRecord(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNum, err)
		}

		switch kind {
		case '1', '2', '3':
			im.add(address, data)
		case '7', '8', '9':
			im.Entry = address
			im.HasEntry = true
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read records: %w", err)
	}
	return im, nil
}

func parseRecord(line string) (kind byte, address uint32, data []byte, err error) {
	if len(line) < 4 || line[0] != 'S' {
		return 0, 0, nil, fmt.Errorf("not an S-record: %q", line)
	}
	kind = line[1]
	aw, ok := srecAddrBytes[kind]
	if !ok {
		return 0, 0, nil, fmt.Errorf("unknown record type S%c", kind)
	}

	raw, err := hex.DecodeString(line[2:])
	if err != nil {
		return 0, 0, nil, fmt.Errorf("invalid hex: %w", err)
	}
	count := int(raw[0])
	if count != len(raw)-1 {
		return 0, 0, nil, fmt.Errorf("byte count %d, record has %d", count, len(raw)-1)
	}
	if count < aw+1 {
		return 0, 0, nil, fmt.Errorf("S%c record too short", kind)
	}
	if sum := srecChecksum(raw[:len(raw)-1]); sum != raw[len(raw)-1] {
		return 0, 0, nil, fmt.Errorf("checksum mismatch: got 0x%02X, want 0x%02X", raw[len(raw)-1], sum)
	}

	for _, b := range raw[1 : 1+aw] {
		address = address<<8 | uint32(b)
	}
	return kind, address, raw[1+aw : len(raw)-1], nil
}

// srecChecksum is the ones' complement of the low byte of the sum of the
// count, address and data bytes.
func srecChecksum(b []byte) byte {
	var sum byte
	for _, v := range b {
		sum += v
	}
	return ^sum
}

// WriteSREC writes data as S2 records (24-bit addresses) of up to 32
// bytes each, followed by an S8 termination record.
func WriteSREC(w io.Writer, address uint32, data []byte) error {
	bw := bufio.NewWriter(w)
	for off := 0; off < len(data); off += srecLineBytes {
		chunk := data[off:min(off+srecLineBytes, len(data))]
		if err := writeRecord(bw, '2', address+uint32(off), chunk); err != nil {
			return err
		}
	}
	if err := writeRecord(bw, '8', 0, nil); err != nil {
		return err
	}
	return bw.Flush()
}

func writeRecord(w io.Writer, kind byte, address uint32, data []byte) error {
	aw := srecAddrBytes[kind]
	raw := make([]byte, 0, 1+aw+len(data)+1)
	raw = append(raw, byte(aw+len(data)+1))
	for i := aw - 1; i >= 0; i-- {
		raw = append(raw, byte(address>>(8*uint(i))))
	}
	raw = append(raw, data...)
	raw = append(raw, srecChecksum(raw))

	_, err := fmt.Fprintf(w, "S%c%s\n", kind, strings.ToUpper(hex.EncodeToString(raw)))
	return err
}
