package isotp

import (
	"fmt"

	"github.com/RaswanthUtham/cantp"
)

type AddressingMode uint8

const (
	Normal11 AddressingMode = iota
	Normal29
	NormalFixed29
	Extended11
	Extended29
	Mixed11
	Mixed29
)

func (m AddressingMode) String() string {
	switch m {
	case Normal11:
		return "Normal11"
	case Normal29:
		return "Normal29"
	case NormalFixed29:
		return "NormalFixed29"
	case Extended11:
		return "Extended11"
	case Extended29:
		return "Extended29"
	case Mixed11:
		return "Mixed11"
	case Mixed29:
		return "Mixed29"
	}
	return fmt.Sprintf("AddressingMode(%d)", uint8(m))
}

type targetType uint8

const (
	targetPhysical targetType = iota
	targetFunctional
)

// Address holds the network addressing information (N_AI) of a pairing. It
// decides which arbitration ids outgoing frames carry and which incoming
// frames belong to the pairing. Fill in the fields the chosen mode uses and
// hand it to New or NewAddress, a zero field means unset.
type Address struct {
	Mode AddressingMode

	// TxID and RxID are the arbitration ids used by the Normal, Extended
	// and Mixed11 modes.
	TxID uint32
	RxID uint32

	// TargetAddress (N_TA) is the peer in the NormalFixed29 and Mixed29
	// modes, and the address byte prefixed to outgoing Extended frames.
	TargetAddress uint8
	// SourceAddress (N_SA) is our own address in the NormalFixed29 and
	// Mixed29 modes.
	SourceAddress uint8
	// AddressExtension (N_AE) is the byte prefixed to every frame in the
	// Mixed modes.
	AddressExtension uint8

	is29         bool
	txPhysical   uint32
	txFunctional uint32
	rxPhysical   uint32
	rxFunctional uint32
	txPrefix     []byte
	prefixSize   int
}

// NewAddress validates cfg and fills in the derived arbitration ids and
// payload prefixes for the chosen mode.
func NewAddress(cfg Address) (*Address, error) {
	a := cfg
	switch a.Mode {
	case Normal29, NormalFixed29, Extended29, Mixed29:
		a.is29 = true
	}
	if err := a.validate(); err != nil {
		return nil, err
	}

	switch a.Mode {
	case NormalFixed29:
		a.txPhysical = 0x18DA0000 | uint32(a.TargetAddress)<<8 | uint32(a.SourceAddress)
		a.txFunctional = 0x18DB0000 | uint32(a.TargetAddress)<<8 | uint32(a.SourceAddress)
		a.rxPhysical = 0x18DA0000 | uint32(a.SourceAddress)<<8 | uint32(a.TargetAddress)
		a.rxFunctional = 0x18DB0000 | uint32(a.SourceAddress)<<8 | uint32(a.TargetAddress)
	case Mixed29:
		a.txPhysical = 0x18CE0000 | uint32(a.TargetAddress)<<8 | uint32(a.SourceAddress)
		a.txFunctional = 0x18CD0000 | uint32(a.TargetAddress)<<8 | uint32(a.SourceAddress)
		a.rxPhysical = 0x18CE0000 | uint32(a.SourceAddress)<<8 | uint32(a.TargetAddress)
		a.rxFunctional = 0x18CD0000 | uint32(a.SourceAddress)<<8 | uint32(a.TargetAddress)
	default:
		a.txPhysical = a.TxID
		a.txFunctional = a.TxID
		a.rxPhysical = a.RxID
		a.rxFunctional = a.RxID
	}

	switch a.Mode {
	case Extended11, Extended29:
		a.txPrefix = []byte{a.TargetAddress}
		a.prefixSize = 1
	case Mixed11, Mixed29:
		a.txPrefix = []byte{a.AddressExtension}
		a.prefixSize = 1
	}
	return &a, nil
}

func (a *Address) validate() error {
	switch a.Mode {
	case Normal11, Normal29:
		if a.TxID == a.RxID {
			return &AddressingError{Reason: "txid and rxid must be set and different for normal addressing"}
		}
	case NormalFixed29:
		if a.TargetAddress == 0 && a.SourceAddress == 0 {
			return &AddressingError{Reason: "target and source address must be set for normal fixed addressing"}
		}
	case Extended11, Extended29:
		if a.TxID == a.RxID {
			return &AddressingError{Reason: "txid and rxid must be set and different for extended addressing"}
		}
	case Mixed11:
		if a.TxID == a.RxID {
			return &AddressingError{Reason: "txid and rxid must be set and different for mixed addressing"}
		}
		if a.AddressExtension == 0 {
			return &AddressingError{Reason: "address extension must be set for mixed addressing"}
		}
	case Mixed29:
		if a.TargetAddress == 0 && a.SourceAddress == 0 {
			return &AddressingError{Reason: "target and source address must be set for mixed addressing"}
		}
		if a.AddressExtension == 0 {
			return &AddressingError{Reason: "address extension must be set for mixed addressing"}
		}
	default:
		return &AddressingError{Reason: fmt.Sprintf("unknown addressing mode %d", a.Mode)}
	}
	if !a.is29 {
		if a.TxID > 0x7FF {
			return &AddressingError{Reason: fmt.Sprintf("txid 0x%X does not fit an 11 bit identifier", a.TxID)}
		}
		if a.RxID > 0x7FF {
			return &AddressingError{Reason: fmt.Sprintf("rxid 0x%X does not fit an 11 bit identifier", a.RxID)}
		}
	}
	return nil
}

// Matches reports whether an incoming frame belongs to this pairing. The 29
// bit fixed and mixed modes match on the embedded target and source address
// so the priority bits of the identifier are free to differ.
func (a *Address) Matches(frame *cantp.CANFrame) bool {
	if frame.Extended != a.is29 {
		return false
	}
	id := frame.Identifier
	switch a.Mode {
	case Normal11, Normal29:
		return id == a.RxID
	case NormalFixed29:
		variant := (id >> 16) & 0xFF
		return (variant == 0xDA || variant == 0xDB) &&
			uint8(id>>8) == a.SourceAddress && uint8(id) == a.TargetAddress
	case Extended11, Extended29:
		return id == a.RxID && len(frame.Data) > 0 && frame.Data[0] == a.SourceAddress
	case Mixed11:
		return id == a.RxID && len(frame.Data) > 0 && frame.Data[0] == a.AddressExtension
	case Mixed29:
		variant := (id >> 16) & 0xFF
		return (variant == 0xCD || variant == 0xCE) &&
			uint8(id>>8) == a.SourceAddress && uint8(id) == a.TargetAddress &&
			len(frame.Data) > 0 && frame.Data[0] == a.AddressExtension
	}
	return false
}

// ReservedIdentifiers reports whether a configured 11 bit identifier falls
// in a range reserved for legislated OBD (0x7F4..0x7F6 and 0x7FA..0x7FB).
func (a *Address) ReservedIdentifiers() bool {
	if a.is29 {
		return false
	}
	return reserved11(a.TxID) || reserved11(a.RxID)
}

func reserved11(id uint32) bool {
	return (id >= 0x7F4 && id <= 0x7F6) || id == 0x7FA || id == 0x7FB
}

func (a *Address) txIdentifier(target targetType) uint32 {
	if target == targetFunctional {
		return a.txFunctional
	}
	return a.txPhysical
}

// subscriptionIDs returns the arbitration ids a transport subscribes to. The
// 29 bit fixed and mixed modes return nil so every incoming frame is
// inspected, their match ignores the priority bits of the identifier.
func (a *Address) subscriptionIDs() []uint32 {
	switch a.Mode {
	case NormalFixed29, Mixed29:
		return nil
	}
	return []uint32{a.RxID}
}

// peerAddress extracts the sender address from an incoming frame where the
// mode carries one on the wire, falling back to the configured target
// address.
func (a *Address) peerAddress(frame *cantp.CANFrame) uint8 {
	switch a.Mode {
	case NormalFixed29, Mixed29:
		return uint8(frame.Identifier)
	}
	return a.TargetAddress
}

func (a *Address) String() string {
	switch a.Mode {
	case NormalFixed29, Mixed29:
		return fmt.Sprintf("[%s ta: 0x%02X sa: 0x%02X]", a.Mode, a.TargetAddress, a.SourceAddress)
	}
	return fmt.Sprintf("[%s tx: 0x%03X rx: 0x%03X]", a.Mode, a.TxID, a.RxID)
}
