package protocol

import (
	"bytes"
	"testing"

	"github.com/shaunagostinho/wdcloader/internal/board"
)

func TestChecksum(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		expected byte
	}{
		{"empty data", []byte{}, 0x00},
		{"single byte", []byte{0x01}, 0xFF},
		{"multiple bytes", []byte{0x01, 0x02, 0x03, 0x04}, 0xF6},
		{"all ones overflow", []byte{0xFF, 0xFF, 0xFF, 0xFF}, 0x04},
		{"ack byte", []byte{0xCC}, 0x34},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Checksum(tt.data); got != tt.expected {
				t.Errorf("Checksum() = 0x%02X, want 0x%02X", got, tt.expected)
			}
			if !Valid(append(append([]byte{}, tt.data...), tt.expected)) {
				t.Error("frame with its checksum should be valid")
			}
		})
	}
}

func TestEncode(t *testing.T) {
	tests := []struct {
		name    string
		cmd     Command
		profile *board.Profile
		want    []byte
		wantErr bool
	}{
		{
			name:    "detect 65C02",
			cmd:     Detect(),
			profile: board.W65C02SXB,
			want:    []byte{0x04, 0xFC},
		},
		{
			name:    "detect 65C165 uses its own opcode",
			cmd:     Detect(),
			profile: board.W65C165SXB,
			want:    []byte{0x0C, 0xF4},
		},
		{
			name:    "read 16-bit address, 1-byte length",
			cmd:     ReadMemory(0x1234, 0x10),
			profile: board.W65C02SXB,
			want:    []byte{0x03, 0x34, 0x12, 0x10, 0xA7},
		},
		{
			name:    "read 24-bit address, 2-byte length",
			cmd:     ReadMemory(0x012345, 0x0200),
			profile: board.W65C816SXB,
			want:    []byte{0x03, 0x45, 0x23, 0x01, 0x00, 0x02, 0x92},
		},
		{
			name:    "write with payload",
			cmd:     WriteMemory(0x0200, []byte{0xA9, 0x00}),
			profile: board.W65C02SXB,
			want:    []byte{0x02, 0x00, 0x02, 0x02, 0xA9, 0x00, 0x51},
		},
		{
			name:    "execute 65C165",
			cmd:     Execute(0x001000),
			profile: board.W65C165SXB,
			want:    []byte{0x06, 0x00, 0x10, 0x00, 0xEA},
		},
		{
			name:    "address wider than profile",
			cmd:     ReadMemory(0x10000, 1),
			profile: board.W65C02SXB,
			wantErr: true,
		},
		{
			name:    "chunk larger than length field",
			cmd:     WriteMemory(0, make([]byte, 129)),
			profile: board.W65C02SXB,
			wantErr: true,
		},
		{
			name:    "zero length read",
			cmd:     ReadMemory(0, 0),
			profile: board.W65C816SXB,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Encode(tt.cmd, tt.profile)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Encode() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if !bytes.Equal(got, tt.want) {
				t.Errorf("Encode() = % X, want % X", got, tt.want)
			}
			if !Valid(got) {
				t.Errorf("Encode() produced a frame that does not sum to zero: % X", got)
			}
		})
	}
}

func TestParseRequestRoundTrip(t *testing.T) {
	cmds := []Command{
		Detect(),
		ReadMemory(0x00ABCD, 64),
		WriteMemory(0x00F000, []byte{1, 2, 3, 4, 5}),
		Execute(0x002000),
	}

	for _, p := range board.Profiles() {
		for _, c := range cmds {
			frame, err := Encode(c, p)
			if err != nil {
				t.Fatalf("%s %s: Encode() error = %v", p, c.Kind, err)
			}
			if n := RequestLength(frame, p); n != len(frame) {
				t.Errorf("%s %s: RequestLength() = %d, want %d", p, c.Kind, n, len(frame))
			}
			got, ok, err := ParseRequest(frame, p)
			if err != nil || !ok {
				t.Fatalf("%s %s: ParseRequest() ok=%v err=%v", p, c.Kind, ok, err)
			}
			if got.Kind != c.Kind || got.Address != c.Address || got.Length != c.Length || !bytes.Equal(got.Data, c.Data) {
				t.Errorf("%s: ParseRequest() = %+v, want %+v", p, got, c)
			}
		}
	}
}

func TestParseRequestUnknownOpcode(t *testing.T) {
	frame, _ := Encode(Detect(), board.W65C165SXB)
	_, ok, err := ParseRequest(frame, board.W65C02SXB)
	if ok || err != nil {
		t.Errorf("ParseRequest() ok=%v err=%v, want silent rejection", ok, err)
	}
}

func TestParseRequestCorrupted(t *testing.T) {
	frame, _ := Encode(WriteMemory(0x10, []byte{0xEA, 0xEA}), board.W65C02SXB)
	frame[4] ^= 0x01
	_, ok, err := ParseRequest(frame, board.W65C02SXB)
	if !ok || err == nil {
		t.Errorf("ParseRequest() ok=%v err=%v, want checksum error", ok, err)
	}
}

func TestDecode(t *testing.T) {
	p := board.W65C816SXB
	ack := EncodeResponse(Response{Kind: RespAck}, p)
	data := EncodeResponse(Response{Kind: RespData, Data: []byte{0xDE, 0xAD, 0xBE, 0xEF}}, p)
	nack := EncodeResponse(Response{Kind: RespNack, Reason: ReasonBadAddress}, p)

	tests := []struct {
		name   string
		raw    []byte
		expect Expectation
		kind   ResponseKind
		reason Reason
		data   []byte
	}{
		{"nothing received", nil, Expectation{}, RespTimeout, 0, nil},
		{"ack", ack, Expectation{}, RespAck, 0, nil},
		{"data", data, Expectation{Data: true, Length: 4}, RespData, 0, []byte{0xDE, 0xAD, 0xBE, 0xEF}},
		{"board nack", nack, Expectation{Data: true, Length: 4}, RespNack, ReasonBadAddress, nil},
		{"short data", data[:3], Expectation{Data: true, Length: 4}, RespNack, ReasonShortRead, nil},
		{"ack missing checksum", ack[:1], Expectation{}, RespNack, ReasonShortRead, nil},
		{"stray byte", []byte{0x7F, 0x00}, Expectation{}, RespNack, ReasonUnexpectedFrame, nil},
		{"bad ack checksum", []byte{p.AckByte, 0x00}, Expectation{}, RespNack, ReasonBadChecksum, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Decode(tt.raw, tt.expect, p)
			if got.Kind != tt.kind {
				t.Fatalf("Decode() kind = %v, want %v", got.Kind, tt.kind)
			}
			if got.Kind == RespNack && got.Reason != tt.reason {
				t.Errorf("Decode() reason = %v, want %v", got.Reason, tt.reason)
			}
			if !bytes.Equal(got.Data, tt.data) {
				t.Errorf("Decode() data = % X, want % X", got.Data, tt.data)
			}
		})
	}
}

func TestDecodeSingleBitCorruption(t *testing.T) {
	payload := []byte{0x00, 0x01, 0x7F, 0x80, 0xFF, 0x55, 0xAA, 0x3C}
	expect := Expectation{Data: true, Length: len(payload)}

	for _, p := range board.Profiles() {
		frame := EncodeResponse(Response{Kind: RespData, Data: payload}, p)
		for i := 1; i <= len(payload); i++ {
			for bit := 0; bit < 8; bit++ {
				corrupt := append([]byte(nil), frame...)
				corrupt[i] ^= 1 << uint(bit)

				got := Decode(corrupt, expect, p)
				if got.Kind != RespNack || got.Reason != ReasonBadChecksum {
					t.Fatalf("%s: flip byte %d bit %d: Decode() = %v, want nack(bad checksum)", p, i, bit, got)
				}
			}
		}
	}
}

func TestReasonTransient(t *testing.T) {
	transient := map[Reason]bool{
		ReasonBadChecksum:     true,
		ReasonShortRead:       true,
		ReasonRequestChecksum: true,
		ReasonUnexpectedFrame: false,
		ReasonBadAddress:      false,
		ReasonUnsupported:     false,
	}
	for r, want := range transient {
		if got := r.Transient(); got != want {
			t.Errorf("%v.Transient() = %v, want %v", r, got, want)
		}
	}
}
