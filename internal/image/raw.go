package image

import (
	"fmt"
	"io"
	"strings"
)

// ReadRaw loads an unstructured binary at base.
func ReadRaw(r io.Reader, base uint32) (*Image, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read: %w", err)
	}
	im := &Image{}
	im.add(base, data)
	return im, nil
}

// Dump writes data as a hex dump, 16 bytes per line:
//
//	000200 | 48 65 6c 6c 6f .. .. .. .. .. .. .. .. .. .. .. | Hello...........
func Dump(w io.Writer, address uint32, data []byte) error {
	var sb strings.Builder
	for off := 0; off < len(data); off += 16 {
		line := data[off:min(off+16, len(data))]

		sb.Reset()
		fmt.Fprintf(&sb, "%06X | ", address+uint32(off))
		for i := 0; i < 16; i++ {
			if i < len(line) {
				fmt.Fprintf(&sb, "%02x ", line[i])
			} else {
				sb.WriteString(".. ")
			}
		}
		sb.WriteString("| ")
		for i := 0; i < 16; i++ {
			if i < len(line) && line[i] >= 0x20 && line[i] <= 0x7E {
				sb.WriteByte(line[i])
			} else {
				sb.WriteByte('.')
			}
		}
		sb.WriteByte('\n')

		if _, err := io.WriteString(w, sb.String()); err != nil {
			return err
		}
	}
	return nil
}
