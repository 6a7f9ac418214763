package slip

import (
	"bytes"
	"testing"

	"github.com/bigbag/image-switcher/internal/protocol"
)

func TestEncode(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want []byte
	}{
		{"empty", nil, []byte{End, End}},
		{"plain", []byte{0x01, 0x0A, 0x7F}, []byte{End, 0x01, 0x0A, 0x7F, End}},
		{"end byte", []byte{0x00, End, 0x00}, []byte{End, 0x00, Esc, EscEnd, 0x00, End}},
		{"esc byte", []byte{Esc}, []byte{End, Esc, EscEsc, End}},
		{"escape lookalikes", []byte{EscEnd, EscEsc}, []byte{End, EscEnd, EscEsc, End}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Encode(tt.data); !bytes.Equal(got, tt.want) {
				t.Errorf("Encode(%X) = %X, want %X", tt.data, got, tt.want)
			}
			prefix := []byte{0xAA}
			if got := AppendEncode(prefix, tt.data); !bytes.Equal(got, append([]byte{0xAA}, tt.want...)) {
				t.Errorf("AppendEncode(AA, %X) = %X", tt.data, got)
			}
		})
	}
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name  string
		frame []byte
		want  []byte
	}{
		{"nil", nil, nil},
		{"lone end", []byte{End}, nil},
		{"empty frame", []byte{End, End, End}, nil},
		{"escapes", []byte{End, Esc, EscEnd, 0x02, Esc, EscEsc, End}, []byte{End, 0x02, Esc}},
		{"repeated delimiters", []byte{End, End, 0x0A, End, End}, []byte{0x0A}},
		{"unknown escape passes through", []byte{End, Esc, 0x33, End}, []byte{0x33}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Decode(tt.frame); !bytes.Equal(got, tt.want) || (tt.want == nil) != (got == nil) {
				t.Errorf("Decode(%X) = %X, want %X", tt.frame, got, tt.want)
			}
		})
	}
}

func TestReadFrame(t *testing.T) {
	frame := []byte{End, 0x01, Esc, EscEnd, End}
	tests := []struct {
		name          string
		in            []byte
		wantFrame     []byte
		wantRemaining []byte
	}{
		{"complete", frame, frame, nil},
		{"followed by next frame", append(append([]byte{}, frame...), End, 0x02, End), frame, []byte{End, 0x02, End}},
		{"line noise before frame", append([]byte{0x55, 0x66}, frame...), frame, nil},
		{"incomplete", frame[:3], nil, frame[:3]},
		{"no delimiter", []byte{0x01, 0x02}, nil, []byte{0x01, 0x02}},
		{"only delimiters", []byte{End, End}, nil, []byte{End, End}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, remaining := ReadFrame(tt.in)
			if !bytes.Equal(got, tt.wantFrame) {
				t.Errorf("ReadFrame() frame = %X, want %X", got, tt.wantFrame)
			}
			if !bytes.Equal(remaining, tt.wantRemaining) {
				t.Errorf("ReadFrame() remaining = %X, want %X", remaining, tt.wantRemaining)
			}
		})
	}
}

// Memory read replies routinely carry 0xC0 and 0xDB from flash contents.
func TestRoundTrip_ReadMemResponse(t *testing.T) {
	data := []byte{End, Esc, EscEnd, End, 0xFF, 0x00, Esc}
	packet := protocol.NewResponse(protocol.CmdReadMem, 0x0007FFF8, data).Encode()

	frame := Encode(packet)
	if bytes.Count(frame, []byte{End}) != 2 {
		t.Fatalf("Encode() left unescaped END bytes: %X", frame)
	}

	resp, err := protocol.DecodeResponse(Decode(frame))
	if err != nil {
		t.Fatalf("DecodeResponse() error: %v", err)
	}
	if resp.Value != 0x0007FFF8 || !bytes.Equal(resp.Data, data) {
		t.Errorf("round trip = 0x%08X %X, want 0x0007FFF8 %X", resp.Value, resp.Data, data)
	}
}

func TestBuffer_SplitAcrossFeeds(t *testing.T) {
	frame := Encode([]byte{0x01, End, 0x02})

	var b Buffer
	b.Feed(frame[:3])
	if _, ok := b.Next(); ok {
		t.Fatal("Next() returned a frame before it was complete")
	}

	b.Feed(frame[3:])
	data, ok := b.Next()
	if !ok {
		t.Fatal("Next() = false after frame completed")
	}
	if !bytes.Equal(data, []byte{0x01, End, 0x02}) {
		t.Errorf("Next() = %v, want [1 192 2]", data)
	}
	if b.Len() != 0 {
		t.Errorf("Len() = %d after consuming frame, want 0", b.Len())
	}
}

func TestBuffer_MultipleFrames(t *testing.T) {
	var b Buffer
	b.Feed(append(Encode([]byte{0x01}), Encode([]byte{0x02, 0x03})...))

	first, ok := b.Next()
	if !ok || !bytes.Equal(first, []byte{0x01}) {
		t.Errorf("first Next() = %v, %v, want [1], true", first, ok)
	}
	second, ok := b.Next()
	if !ok || !bytes.Equal(second, []byte{0x02, 0x03}) {
		t.Errorf("second Next() = %v, %v, want [2 3], true", second, ok)
	}
	if _, ok := b.Next(); ok {
		t.Error("third Next() = true, want false")
	}
}

func TestBuffer_SkipsGarbageAndEmptyFrames(t *testing.T) {
	var b Buffer
	b.Feed([]byte{0x55, 0x66, End, End})
	b.Feed(Encode([]byte{0x42}))

	data, ok := b.Next()
	if !ok || !bytes.Equal(data, []byte{0x42}) {
		t.Errorf("Next() = %v, %v, want [66], true", data, ok)
	}
}

func TestBuffer_Reset(t *testing.T) {
	var b Buffer
	b.Feed([]byte{End, 0x01})
	b.Reset()
	if b.Len() != 0 {
		t.Errorf("Len() after Reset() = %d, want 0", b.Len())
	}
}
