package dbc

import "fmt"

// Raw extracts the unscaled signal bits from frame data.
func (s *Signal) Raw(data []byte) (uint64, error) {
	if s.Length < 1 || s.Length > 64 {
		return 0, fmt.Errorf("signal %s: invalid bit length %d", s.Name, s.Length)
	}
	if s.LittleEndian {
		return s.rawLittleEndian(data)
	}
	return s.rawBigEndian(data)
}

// Decode computes the physical value of the signal from frame data. Signed
// signals are interpreted as two's complement before applying the linear
// transform value*scale + offset.
func (s *Signal) Decode(data []byte) (float64, error) {
	raw, err := s.Raw(data)
	if err != nil {
		return 0, err
	}
	if s.Signed {
		return float64(signExtend(raw, s.Length))*s.Scale + s.Offset, nil
	}
	return float64(raw)*s.Scale + s.Offset, nil
}

// Decode computes the physical value of every signal in the message.
func (m *Message) Decode(data []byte) (map[string]float64, error) {
	values := make(map[string]float64, len(m.Signals))
	for _, s := range m.Signals {
		v, err := s.Decode(data)
		if err != nil {
			return nil, err
		}
		values[s.Name] = v
	}
	return values, nil
}

// Bit positions count upwards from the least significant bit of byte zero,
// so bit i of byte b sits at position b*8+i.
func (s *Signal) rawLittleEndian(data []byte) (uint64, error) {
	var raw uint64
	for i := 0; i < s.Length; i++ {
		pos := s.StartBit + i
		idx := pos / 8
		if idx >= len(data) {
			return 0, fmt.Errorf("signal %s: bit %d outside %d byte frame", s.Name, pos, len(data))
		}
		raw |= uint64(data[idx]>>(pos%8)&1) << i
	}
	return raw, nil
}

// The start bit holds the most significant bit. The position walks down
// within a byte and continues at bit 7 of the following byte.
func (s *Signal) rawBigEndian(data []byte) (uint64, error) {
	pos := s.StartBit
	var raw uint64
	for i := s.Length - 1; i >= 0; i-- {
		idx := pos / 8
		if pos < 0 || idx >= len(data) {
			return 0, fmt.Errorf("signal %s: bit %d outside %d byte frame", s.Name, pos, len(data))
		}
		raw |= uint64(data[idx]>>(pos%8)&1) << i
		if pos%8 == 0 {
			pos += 15
		} else {
			pos--
		}
	}
	return raw, nil
}

func signExtend(raw uint64, length int) int64 {
	shift := 64 - uint(length)
	return int64(raw<<shift) >> shift
}
