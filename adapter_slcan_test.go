package cantp

import (
	"bytes"
	"context"
	"testing"
	"time"
)

func TestSLCanDecodeFrame(t *testing.T) {
	sl := &SLCan{BaseAdapter: NewBaseAdapter("SLCan", &AdapterConfig{})}

	frame, err := sl.decodeFrame([]byte("t1232AABB"))
	if err != nil {
		t.Fatal(err)
	}
	if frame.Identifier != 0x123 {
		t.Fatalf("identifier = 0x%X, want 0x123", frame.Identifier)
	}
	if frame.Extended {
		t.Fatal("standard frame flagged extended")
	}
	if !bytes.Equal(frame.Data, []byte{0xAA, 0xBB}) {
		t.Fatalf("data = % X", frame.Data)
	}

	frame, err = sl.decodeFrame([]byte("T18DAF1101CC"))
	if err != nil {
		t.Fatal(err)
	}
	if frame.Identifier != 0x18DAF110 {
		t.Fatalf("identifier = 0x%X, want 0x18DAF110", frame.Identifier)
	}
	if !frame.Extended {
		t.Fatal("extended flag not set")
	}
	if !bytes.Equal(frame.Data, []byte{0xCC}) {
		t.Fatalf("data = % X", frame.Data)
	}
}

func TestSLCanDecodeFrameErrors(t *testing.T) {
	sl := &SLCan{BaseAdapter: NewBaseAdapter("SLCan", &AdapterConfig{})}

	tests := []struct {
		name string
		in   string
	}{
		{name: "truncated", in: "t12"},
		{name: "bad identifier", in: "tXYZ2AABB"},
		{name: "oversized dlc", in: "t1239AABB"},
		{name: "short body", in: "t1234AABB"},
		{name: "bad body", in: "t1232AAZZ"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := sl.decodeFrame([]byte(tt.in)); err == nil {
				t.Fatalf("decodeFrame(%q) returned no error", tt.in)
			}
		})
	}
}

func TestSLCanParseReassemblesChunks(t *testing.T) {
	ctx := context.Background()
	sl := &SLCan{BaseAdapter: NewBaseAdapter("SLCan", &AdapterConfig{})}

	var buf []byte
	for _, chunk := range []string{"t1", "232AAB", "B\rT18DAF11", "01CC\r"} {
		buf = sl.parse(ctx, buf, []byte(chunk))
	}
	if len(buf) != 0 {
		t.Fatalf("leftover parse buffer: %q", buf)
	}

	select {
	case frame := <-sl.Recv():
		if frame.Identifier != 0x123 || !bytes.Equal(frame.Data, []byte{0xAA, 0xBB}) {
			t.Fatalf("first frame = %v", frame)
		}
	case <-time.After(time.Second):
		t.Fatal("first frame not delivered")
	}
	select {
	case frame := <-sl.Recv():
		if frame.Identifier != 0x18DAF110 || !frame.Extended {
			t.Fatalf("second frame = %v", frame)
		}
	case <-time.After(time.Second):
		t.Fatal("second frame not delivered")
	}
}

func TestNybbleToHex(t *testing.T) {
	in := []byte{0x0, 0x9, 0xA, 0xF}
	want := []byte{'0', '9', 'A', 'F'}
	for i, n := range in {
		if got := nybbleToHex(n); got != want[i] {
			t.Errorf("nybbleToHex(%X) = %c, want %c", n, got, want[i])
		}
	}
}
