package cantp

import (
	"bytes"
	"strings"
	"testing"
)

func TestNewFrameCopiesData(t *testing.T) {
	data := []byte{0x01, 0x02, 0x03}
	frame := NewFrame(0x123, data, Outgoing)
	data[0] = 0xFF
	if frame.Data[0] != 0x01 {
		t.Fatal("frame data aliases the caller's slice")
	}
	if frame.Identifier != 0x123 {
		t.Fatalf("identifier = 0x%X, want 0x123", frame.Identifier)
	}
	if frame.FrameType != Outgoing {
		t.Fatalf("frame type = %v, want outgoing", frame.FrameType)
	}
	if frame.Length() != 3 {
		t.Fatalf("length = %d, want 3", frame.Length())
	}
}

func TestNewExtendedFrame(t *testing.T) {
	frame := NewExtendedFrame(0x18DAF110, []byte{0x3E}, Outgoing)
	if !frame.Extended {
		t.Fatal("extended flag not set")
	}
	if frame.Identifier != 0x18DAF110 {
		t.Fatalf("identifier = 0x%X, want 0x18DAF110", frame.Identifier)
	}
	if !bytes.Equal(frame.Data, []byte{0x3E}) {
		t.Fatalf("data = % X", frame.Data)
	}
}

func TestFrameString(t *testing.T) {
	frame := NewFrame(0x123, []byte{0x48, 0x49, 0x00}, Incoming)
	s := frame.String()
	for _, want := range []string{"<i>", "0x123", "48 49 00", "HI·"} {
		if !strings.Contains(s, want) {
			t.Errorf("String() = %q, missing %q", s, want)
		}
	}
	frame.FrameType = Outgoing
	if !strings.HasPrefix(frame.String(), "<o>") {
		t.Errorf("String() = %q, want <o> prefix", frame.String())
	}
}

func TestFrameColorString(t *testing.T) {
	frame := NewFrame(0x7E0, []byte{0x02, 0x10, 0x01}, Outgoing)
	s := frame.ColorString()
	for _, want := range []string{"<o>", "0x7E0", "02 10 01"} {
		if !strings.Contains(s, want) {
			t.Errorf("ColorString() = %q, missing %q", s, want)
		}
	}
}
