package isotp

import (
	"testing"

	"github.com/RaswanthUtham/cantp"
)

func TestNewAddressValidation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Address
		wantErr bool
	}{
		{"normal 11", Address{Mode: Normal11, TxID: 0x7E0, RxID: 0x7E8}, false},
		{"normal 11 same ids", Address{Mode: Normal11, TxID: 0x7E0, RxID: 0x7E0}, true},
		{"normal 11 unset", Address{Mode: Normal11}, true},
		{"normal 11 id too large", Address{Mode: Normal11, TxID: 0x800, RxID: 0x7E8}, true},
		{"normal 29", Address{Mode: Normal29, TxID: 0x18DA10F1, RxID: 0x18DAF110}, false},
		{"normal fixed", Address{Mode: NormalFixed29, TargetAddress: 0x10, SourceAddress: 0xF1}, false},
		{"normal fixed unset", Address{Mode: NormalFixed29}, true},
		{"extended 11", Address{Mode: Extended11, TxID: 0x7E0, RxID: 0x7E8, TargetAddress: 0x10}, false},
		{"mixed 11", Address{Mode: Mixed11, TxID: 0x7E0, RxID: 0x7E8, AddressExtension: 0x99}, false},
		{"mixed 11 no extension", Address{Mode: Mixed11, TxID: 0x7E0, RxID: 0x7E8}, true},
		{"mixed 29", Address{Mode: Mixed29, TargetAddress: 0x10, SourceAddress: 0xF1, AddressExtension: 0x99}, false},
		{"mixed 29 no extension", Address{Mode: Mixed29, TargetAddress: 0x10, SourceAddress: 0xF1}, true},
		{"unknown mode", Address{Mode: AddressingMode(42)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewAddress(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewAddress() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewAddressDerivedIdentifiers(t *testing.T) {
	a, err := NewAddress(Address{Mode: NormalFixed29, TargetAddress: 0x10, SourceAddress: 0xF1})
	if err != nil {
		t.Fatalf("NewAddress() error = %v", err)
	}
	if a.txPhysical != 0x18DA10F1 {
		t.Errorf("txPhysical = 0x%08X, want 0x18DA10F1", a.txPhysical)
	}
	if a.txFunctional != 0x18DB10F1 {
		t.Errorf("txFunctional = 0x%08X, want 0x18DB10F1", a.txFunctional)
	}
	if a.rxPhysical != 0x18DAF110 {
		t.Errorf("rxPhysical = 0x%08X, want 0x18DAF110", a.rxPhysical)
	}

	m, err := NewAddress(Address{Mode: Mixed29, TargetAddress: 0x10, SourceAddress: 0xF1, AddressExtension: 0x99})
	if err != nil {
		t.Fatalf("NewAddress() error = %v", err)
	}
	if m.txPhysical != 0x18CE10F1 {
		t.Errorf("txPhysical = 0x%08X, want 0x18CE10F1", m.txPhysical)
	}
	if m.txFunctional != 0x18CD10F1 {
		t.Errorf("txFunctional = 0x%08X, want 0x18CD10F1", m.txFunctional)
	}
	if got := m.txPrefix; len(got) != 1 || got[0] != 0x99 {
		t.Errorf("txPrefix = %X, want 99", got)
	}
}

func TestAddressMatches(t *testing.T) {
	frame := func(id uint32, extended bool, data ...byte) *cantp.CANFrame {
		f := cantp.NewFrame(id, data, cantp.Incoming)
		f.Extended = extended
		return f
	}
	normal, _ := NewAddress(Address{Mode: Normal11, TxID: 0x7E0, RxID: 0x7E8})
	fixed, _ := NewAddress(Address{Mode: NormalFixed29, TargetAddress: 0x10, SourceAddress: 0xF1})
	ext, _ := NewAddress(Address{Mode: Extended11, TxID: 0x7E0, RxID: 0x7E8, TargetAddress: 0x10, SourceAddress: 0xF1})
	mixed, _ := NewAddress(Address{Mode: Mixed29, TargetAddress: 0x10, SourceAddress: 0xF1, AddressExtension: 0x99})

	tests := []struct {
		name  string
		addr  *Address
		frame *cantp.CANFrame
		want  bool
	}{
		{"normal match", normal, frame(0x7E8, false, 0x02, 1, 2), true},
		{"normal wrong id", normal, frame(0x7E0, false, 0x02, 1, 2), false},
		{"normal extended flag mismatch", normal, frame(0x7E8, true, 0x02, 1, 2), false},
		{"fixed physical", fixed, frame(0x18DAF110, true, 0x02, 1, 2), true},
		{"fixed functional", fixed, frame(0x18DBF110, true, 0x02, 1, 2), true},
		{"fixed other priority bits", fixed, frame(0x14DAF110, true, 0x02, 1, 2), true},
		{"fixed wrong target", fixed, frame(0x18DAF111, true, 0x02, 1, 2), false},
		{"fixed wrong source", fixed, frame(0x18DA0110, true, 0x02, 1, 2), false},
		{"extended match", ext, frame(0x7E8, false, 0xF1, 0x02, 1), true},
		{"extended wrong prefix", ext, frame(0x7E8, false, 0x10, 0x02, 1), false},
		{"extended no data", ext, frame(0x7E8, false), false},
		{"mixed match", mixed, frame(0x18CEF110, true, 0x99, 0x02, 1), true},
		{"mixed wrong extension", mixed, frame(0x18CEF110, true, 0x98, 0x02, 1), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.addr.Matches(tt.frame); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAddressReservedIdentifiers(t *testing.T) {
	reserved, _ := NewAddress(Address{Mode: Normal11, TxID: 0x7F4, RxID: 0x7E8})
	if !reserved.ReservedIdentifiers() {
		t.Error("ReservedIdentifiers() = false for 0x7F4, want true")
	}
	free, _ := NewAddress(Address{Mode: Normal11, TxID: 0x7E0, RxID: 0x7E8})
	if free.ReservedIdentifiers() {
		t.Error("ReservedIdentifiers() = true for 0x7E0/0x7E8, want false")
	}
}

func TestAddressPeerAddress(t *testing.T) {
	fixed, _ := NewAddress(Address{Mode: NormalFixed29, TargetAddress: 0x10, SourceAddress: 0xF1})
	f := cantp.NewFrame(0x18DAF110, []byte{0x02, 1, 2}, cantp.Incoming)
	f.Extended = true
	if got := fixed.peerAddress(f); got != 0x10 {
		t.Errorf("peerAddress() = 0x%02X, want 0x10", got)
	}
	normal, _ := NewAddress(Address{Mode: Normal11, TxID: 0x7E0, RxID: 0x7E8, TargetAddress: 0x42})
	if got := normal.peerAddress(cantp.NewFrame(0x7E8, []byte{0x01, 1}, cantp.Incoming)); got != 0x42 {
		t.Errorf("peerAddress() = 0x%02X, want 0x42", got)
	}
}
