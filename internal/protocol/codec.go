package protocol

import (
	"fmt"

	"github.com/shaunagostinho/wdcloader/internal/board"
)

// Checksum returns the byte that makes data sum to zero (mod 256).
func Checksum(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum += b
	}
	return ^sum + 1
}

// Valid reports whether frame, checksum included, sums to zero.
func Valid(frame []byte) bool {
	var sum byte
	for _, b := range frame {
		sum += b
	}
	return sum == 0
}

// Encode serializes c for profile p. It rejects commands the profile
// cannot express on the wire; address-space bounds are the session's
// concern and are not checked here.
func Encode(c Command, p *board.Profile) ([]byte, error) {
	var opcode byte
	switch c.Kind {
	case CmdDetect:
		return appendChecksum([]byte{p.Commands.Detect}), nil
	case CmdRead:
		opcode = p.Commands.Read
	case CmdWrite:
		opcode = p.Commands.Write
		if len(c.Data) != c.Length {
			return nil, fmt.Errorf("protocol: write length %d does not match payload of %d bytes", c.Length, len(c.Data))
		}
	case CmdExecute:
		opcode = p.Commands.Execute
	default:
		return nil, fmt.Errorf("protocol: unknown command %v", c.Kind)
	}

	if c.Address > p.MaxAddress() {
		return nil, fmt.Errorf("protocol: address 0x%06X does not fit in %d bits", c.Address, p.AddressBits)
	}

	frame := make([]byte, 0, 1+p.AddressWidth()+p.LengthWidth+len(c.Data)+1)
	frame = append(frame, opcode)
	frame = appendLE(frame, uint32(c.Address), p.AddressWidth())

	if c.Kind == CmdRead || c.Kind == CmdWrite {
		if c.Length <= 0 || c.Length > p.ChunkSize() {
			return nil, fmt.Errorf("protocol: %s length %d outside 1..%d", c.Kind, c.Length, p.ChunkSize())
		}
		frame = appendLE(frame, uint32(c.Length), p.LengthWidth)
		frame = append(frame, c.Data...)
	}

	return appendChecksum(frame), nil
}

// ResponseLength returns how many bytes follow status for a well-formed
// reply, or -1 if status starts no frame the profile knows.
func ResponseLength(status byte, e Expectation, p *board.Profile) int {
	switch status {
	case p.AckByte:
		if e.Data {
			return e.Length + 1
		}
		return 1
	case p.NakByte:
		return 2
	default:
		return -1
	}
}

// Decode turns the raw bytes of one reply into a Response. raw may be
// short if the transport timed out part way through the frame.
//
// The checksum is always verified before any payload is trusted: a
// corrupted Data frame decodes as Nack(BadChecksum), never as Data.
func Decode(raw []byte, e Expectation, p *board.Profile) Response {
	if len(raw) == 0 {
		return Response{Kind: RespTimeout}
	}

	rest := ResponseLength(raw[0], e, p)
	if rest < 0 {
		return Response{Kind: RespNack, Reason: ReasonUnexpectedFrame}
	}
	if len(raw) < 1+rest {
		return Response{Kind: RespNack, Reason: ReasonShortRead}
	}

	frame := raw[:1+rest]
	if !Valid(frame) {
		return Response{Kind: RespNack, Reason: ReasonBadChecksum}
	}

	if raw[0] == p.NakByte {
		return Response{Kind: RespNack, Reason: Reason(frame[1])}
	}
	if !e.Data {
		return Response{Kind: RespAck}
	}

	data := make([]byte, e.Length)
	copy(data, frame[1:1+e.Length])
	return Response{Kind: RespData, Data: data}
}

// EncodeResponse builds a reply frame. It is the board side of Decode and
// is used by the simulated board.
func EncodeResponse(r Response, p *board.Profile) []byte {
	switch r.Kind {
	case RespAck:
		return appendChecksum([]byte{p.AckByte})
	case RespData:
		frame := make([]byte, 0, len(r.Data)+2)
		frame = append(frame, p.AckByte)
		frame = append(frame, r.Data...)
		return appendChecksum(frame)
	case RespNack:
		return appendChecksum([]byte{p.NakByte, byte(r.Reason)})
	default:
		return nil
	}
}

// ParseRequest is the board side of Encode: it splits a complete request
// frame back into a Command. ok is false when the opcode is not in the
// profile's command set. err reports a malformed or corrupted frame.
func ParseRequest(frame []byte, p *board.Profile) (c Command, ok bool, err error) {
	if len(frame) == 0 {
		return Command{}, false, fmt.Errorf("protocol: empty request")
	}

	switch frame[0] {
	case p.Commands.Detect:
		c.Kind = CmdDetect
	case p.Commands.Read:
		c.Kind = CmdRead
	case p.Commands.Write:
		c.Kind = CmdWrite
	case p.Commands.Execute:
		c.Kind = CmdExecute
	default:
		return Command{}, false, nil
	}

	want := RequestLength(frame, p)
	if want < 0 || len(frame) < want {
		return c, true, fmt.Errorf("protocol: truncated %s request (%d bytes)", c.Kind, len(frame))
	}
	frame = frame[:want]
	if !Valid(frame) {
		return c, true, fmt.Errorf("protocol: %s request checksum mismatch", c.Kind)
	}
	if c.Kind == CmdDetect {
		return c, true, nil
	}

	aw := p.AddressWidth()
	c.Address = readLE(frame[1:], aw)
	if c.Kind == CmdRead || c.Kind == CmdWrite {
		c.Length = int(readLE(frame[1+aw:], p.LengthWidth))
	}
	if c.Kind == CmdWrite {
		start := 1 + aw + p.LengthWidth
		c.Data = append([]byte(nil), frame[start:start+c.Length]...)
	}
	return c, true, nil
}

// RequestLength returns the total length of the request that starts with
// frame[0], or -1 if not enough of the header is present to tell.
func RequestLength(frame []byte, p *board.Profile) int {
	if len(frame) == 0 {
		return -1
	}
	aw := p.AddressWidth()
	switch frame[0] {
	case p.Commands.Detect:
		return 2
	case p.Commands.Execute:
		return 1 + aw + 1
	case p.Commands.Read:
		return 1 + aw + p.LengthWidth + 1
	case p.Commands.Write:
		if len(frame) < 1+aw+p.LengthWidth {
			return -1
		}
		n := int(readLE(frame[1+aw:], p.LengthWidth))
		return 1 + aw + p.LengthWidth + n + 1
	default:
		return -1
	}
}

func appendChecksum(frame []byte) []byte {
	return append(frame, Checksum(frame))
}

func appendLE(b []byte, v uint32, width int) []byte {
	for i := 0; i < width; i++ {
		b = append(b, byte(v>>(8*uint(i))))
	}
	return b
}

func readLE(b []byte, width int) uint32 {
	var v uint32
	for i := 0; i < width; i++ {
		v |= uint32(b[i]) << (8 * uint(i))
	}
	return v
}
