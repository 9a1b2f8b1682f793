package dbc

import (
	"math"
	"testing"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func testDatabase(t *testing.T) *Database {
	t.Helper()
	db, err := Parse("sample.dbc", []byte(sampleDBC))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	return db
}

func TestDecodeBigEndian(t *testing.T) {
	db := testDatabase(t)
	msg, _ := db.MessageByName("ExampleMessage")
	data := []byte{0xC0, 0x06, 0xE0, 0x00, 0x00, 0x00, 0x00, 0x00}

	tests := []struct {
		signal string
		want   float64
	}{
		{"Enable", 1},
		{"AverageRadius", 3.2},
		{"Temperature", 250.55},
	}
	for _, tt := range tests {
		t.Run(tt.signal, func(t *testing.T) {
			s, ok := msg.Signal(tt.signal)
			if !ok {
				t.Fatalf("signal %s not found", tt.signal)
			}
			got, err := s.Decode(data)
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if !almostEqual(got, tt.want) {
				t.Errorf("Decode() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDecodeBigEndianSigned(t *testing.T) {
	db := testDatabase(t)
	msg, _ := db.MessageByName("ExampleMessage")
	s, _ := msg.Signal("Temperature")

	// Only the sign bit of the 12 bit field set: raw -2048.
	got, err := s.Decode([]byte{0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00})
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if want := -2048*0.01 + 250; !almostEqual(got, want) {
		t.Errorf("Decode() = %v, want %v", got, want)
	}
}

func TestDecodeLittleEndian(t *testing.T) {
	db := testDatabase(t)
	msg, _ := db.MessageByName("DM13")

	hold, _ := msg.Signal("HoldSignal")
	got, err := hold.Decode([]byte{0x48, 0xCE, 0x3E, 0x80, 0x14, 0xFF, 0xFF, 0xFF})
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if !almostEqual(got, 8) {
		t.Errorf("HoldSignal = %v, want 8", got)
	}

	setPoint, _ := msg.Signal("SetPoint")
	got, err = setPoint.Decode([]byte{0x00, 0x2C, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00})
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if want := 300*0.5 - 100.0; !almostEqual(got, want) {
		t.Errorf("SetPoint = %v, want %v", got, want)
	}

	// 0xFFFF reads as -1 for the signed 16 bit field.
	got, err = setPoint.Decode([]byte{0x00, 0xFF, 0xFF, 0x00, 0x00, 0x00, 0x00, 0x00})
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if want := -1*0.5 - 100.0; !almostEqual(got, want) {
		t.Errorf("SetPoint = %v, want %v", got, want)
	}
}

func TestRawValues(t *testing.T) {
	db := testDatabase(t)
	msg, _ := db.MessageByName("ExampleMessage")
	data := []byte{0xC0, 0x06, 0xE0, 0x00, 0x00, 0x00, 0x00, 0x00}

	radius, _ := msg.Signal("AverageRadius")
	if raw, err := radius.Raw(data); err != nil || raw != 32 {
		t.Errorf("AverageRadius Raw() = %d, %v, want 32", raw, err)
	}
	temp, _ := msg.Signal("Temperature")
	if raw, err := temp.Raw(data); err != nil || raw != 55 {
		t.Errorf("Temperature Raw() = %d, %v, want 55", raw, err)
	}
}

func TestDecodeShortFrame(t *testing.T) {
	db := testDatabase(t)
	msg, _ := db.MessageByName("DM13")
	setPoint, _ := msg.Signal("SetPoint")

	if _, err := setPoint.Decode([]byte{0x00, 0x2C}); err == nil {
		t.Error("Decode() error = nil, want out of range error")
	}
}

func TestDecodeInvalidLength(t *testing.T) {
	s := &Signal{Name: "Broken", StartBit: 0, Length: 0, LittleEndian: true}
	if _, err := s.Raw(make([]byte, 8)); err == nil {
		t.Error("Raw() error = nil, want invalid length error")
	}
	s.Length = 65
	if _, err := s.Raw(make([]byte, 8)); err == nil {
		t.Error("Raw() error = nil, want invalid length error")
	}
}

func TestMessageDecode(t *testing.T) {
	db := testDatabase(t)
	data := []byte{0xC0, 0x06, 0xE0, 0x00, 0x00, 0x00, 0x00, 0x00}

	msg, values, err := db.DecodeFrame(496, data)
	if err != nil {
		t.Fatalf("DecodeFrame() error = %v", err)
	}
	if msg.Name != "ExampleMessage" {
		t.Errorf("message = %s, want ExampleMessage", msg.Name)
	}
	if len(values) != 3 {
		t.Fatalf("len(values) = %d, want 3", len(values))
	}
	if !almostEqual(values["Temperature"], 250.55) {
		t.Errorf("Temperature = %v, want 250.55", values["Temperature"])
	}
	if !almostEqual(values["AverageRadius"], 3.2) {
		t.Errorf("AverageRadius = %v, want 3.2", values["AverageRadius"])
	}
	if !almostEqual(values["Enable"], 1) {
		t.Errorf("Enable = %v, want 1", values["Enable"])
	}
}

func TestSignExtend(t *testing.T) {
	tests := []struct {
		raw    uint64
		length int
		want   int64
	}{
		{0x01, 1, -1},
		{0x00, 1, 0},
		{0x800, 12, -2048},
		{0x7FF, 12, 2047},
		{0xFFFF, 16, -1},
		{0x8000000000000000, 64, math.MinInt64},
	}
	for _, tt := range tests {
		if got := signExtend(tt.raw, tt.length); got != tt.want {
			t.Errorf("signExtend(%#x, %d) = %d, want %d", tt.raw, tt.length, got, tt.want)
		}
	}
}
