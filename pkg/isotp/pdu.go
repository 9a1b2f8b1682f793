package isotp

import (
	"encoding/binary"
	"fmt"
	"time"
)

type frameType uint8

const (
	frameSingle frameType = iota
	frameFirst
	frameConsecutive
	frameFlowControl
)

type flowStatus uint8

const (
	flowContinue flowStatus = 0
	flowWait     flowStatus = 1
	flowOverflow flowStatus = 2
)

// canFDSizes lists the payload lengths a CAN frame can carry on the wire.
var canFDSizes = [...]int{0, 1, 2, 3, 4, 5, 6, 7, 8, 12, 16, 20, 24, 32, 48, 64}

// nearestFrameSize returns the smallest valid frame payload length that fits
// n bytes.
func nearestFrameSize(n int) int {
	for _, size := range canFDSizes {
		if size >= n {
			return size
		}
	}
	return 64
}

// validRxDL reports whether n is a frame length a first frame may arrive
// with. Anything below 8 or between the valid CAN FD sizes is malformed.
func validRxDL(n int) bool {
	switch n {
	case 8, 12, 16, 20, 24, 32, 48, 64:
		return true
	}
	return false
}

// pdu is a decoded protocol data unit, one of the four frame types of
// ISO 15765-2.
type pdu struct {
	typ       frameType
	length    int // complete payload length announced by a single or first frame
	data      []byte
	seq       uint8 // consecutive frame sequence number
	status    flowStatus
	blockSize uint8
	stMin     uint8
	escape    bool
	canDL     int // length of the frame as received
	rxDL      int // max(8, canDL)
}

// parsePDU decodes the protocol bytes of an incoming frame. prefixSize is
// the number of addressing bytes before the protocol control information.
func parsePDU(data []byte, prefixSize int) (*pdu, error) {
	if len(data) < prefixSize {
		return nil, &AddressingError{Reason: "frame is missing data according to the prefix size"}
	}
	p := &pdu{
		canDL: len(data),
		rxDL:  max(8, len(data)),
	}
	payload := data[prefixSize:]
	if len(payload) == 0 {
		return nil, &AddressingError{Reason: "empty CAN frame"}
	}
	typ := payload[0] >> 4
	if typ > 3 {
		return nil, &AddressingError{Reason: fmt.Sprintf("unknown frame type %d", typ)}
	}
	p.typ = frameType(typ)
	switch p.typ {
	case frameSingle:
		if err := p.parseSingle(payload); err != nil {
			return nil, err
		}
	case frameFirst:
		if err := p.parseFirst(payload); err != nil {
			return nil, err
		}
	case frameConsecutive:
		p.seq = payload[0] & 0xF
		p.data = payload[1:]
	case frameFlowControl:
		if err := p.parseFlowControl(payload); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *pdu) parseSingle(payload []byte) error {
	if length := int(payload[0] & 0xF); length != 0 {
		if length > len(payload)-1 {
			return &AddressingError{Reason: fmt.Sprintf("single frame states %d bytes but only %d fit the frame", length, len(payload)-1)}
		}
		p.length = length
		p.data = payload[1 : 1+length]
		return nil
	}
	if len(payload) < 2 {
		return &AddressingError{Reason: "single frame with escape sequence is too short"}
	}
	p.escape = true
	length := int(payload[1])
	if length == 0 {
		return &AddressingError{Reason: "single frame with a length of 0 bytes"}
	}
	if length > len(payload)-2 {
		return &AddressingError{Reason: fmt.Sprintf("single frame states %d bytes but only %d fit the frame", length, len(payload)-2)}
	}
	p.length = length
	p.data = payload[2 : 2+length]
	return nil
}

func (p *pdu) parseFirst(payload []byte) error {
	if len(payload) < 2 {
		return &AddressingError{Reason: "first frame is too short"}
	}
	if length := int(payload[0]&0xF)<<8 | int(payload[1]); length != 0 {
		p.length = length
		p.data = payload[2:][:min(length, len(payload)-2)]
		return nil
	}
	if len(payload) < 6 {
		return &AddressingError{Reason: "first frame with escape sequence is too short"}
	}
	p.escape = true
	p.length = int(binary.BigEndian.Uint32(payload[2:6]))
	p.data = payload[6:][:min(p.length, len(payload)-6)]
	return nil
}

func (p *pdu) parseFlowControl(payload []byte) error {
	if len(payload) < 3 {
		return &AddressingError{Reason: "flow control frame must be at least 3 bytes"}
	}
	status := payload[0] & 0xF
	if status >= 3 {
		return &AddressingError{Reason: fmt.Sprintf("unknown flow status %d", status)}
	}
	p.status = flowStatus(status)
	p.blockSize = payload[1]
	p.stMin = payload[2]
	return nil
}

// decodeSTMin converts the raw STmin byte of a flow control frame to a
// duration. Values in the reserved ranges are read as the longest valid
// separation time of 127 ms.
func decodeSTMin(b uint8) time.Duration {
	switch {
	case b <= 0x7F:
		return time.Duration(b) * time.Millisecond
	case b >= 0xF1 && b <= 0xF9:
		return time.Duration(b-0xF0) * 100 * time.Microsecond
	}
	return 127 * time.Millisecond
}

// singleFrameData assembles the payload of a single frame, switching to the
// escape sequence form when the length does not fit the low PCI nibble.
func singleFrameData(prefix, payload []byte) []byte {
	out := make([]byte, 0, len(prefix)+2+len(payload))
	out = append(out, prefix...)
	if len(payload) <= 7 {
		out = append(out, uint8(len(payload)))
	} else {
		out = append(out, 0x00, uint8(len(payload)))
	}
	return append(out, payload...)
}

// flowControlData assembles the payload of a flow control frame.
func flowControlData(prefix []byte, status flowStatus, blockSize, stMin uint8) []byte {
	out := make([]byte, 0, len(prefix)+3)
	out = append(out, prefix...)
	return append(out, 0x30|uint8(status)&0xF, blockSize, stMin)
}

// padMessage grows an assembled frame payload to the length required by
// ISO 15765-2 10.4.2. Classic frames are padded only when a padding byte or
// a minimum length is configured, CAN FD frames always pad up to the nearest
// valid frame size.
func padMessage(data []byte, p *Params) []byte {
	padding := byte(0xCC)
	if p.TxPadding != nil {
		padding = *p.TxPadding
	}
	target := 0
	if p.TxDataLength == 8 {
		switch {
		case p.TxDataMinLength > 0:
			target = p.TxDataMinLength
		case p.TxPadding != nil:
			target = 8
		}
	} else {
		target = nearestFrameSize(len(data))
		if p.TxDataMinLength > target {
			target = p.TxDataMinLength
		}
	}
	for len(data) < target {
		data = append(data, padding)
	}
	return data
}
