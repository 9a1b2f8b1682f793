package isotp

import (
	"fmt"
	"time"
)

// Params holds the protocol tuning of a transport. New starts from the
// defaults and applies options on top, the zero value is not usable.
type Params struct {
	// STMin is the raw minimum separation time advertised to the peer in
	// flow control frames. 0x00..0x7F are milliseconds, 0xF1..0xF9 are
	// multiples of 100 microseconds.
	STMin uint8
	// BlockSize is the number of consecutive frames the peer may send
	// between flow controls. 0 means no limit.
	BlockSize uint8
	// WaitFrameMax caps the consecutive wait flow controls accepted from
	// the peer before a transmission is aborted. 0 means wait frames are
	// not supported.
	WaitFrameMax int

	// NAs bounds handing a frame to the adapter, NAr bounds flow control
	// writes on the receiving side. NBs bounds waiting for the peer's
	// flow control, NCr bounds waiting for the next consecutive frame.
	NAs time.Duration
	NAr time.Duration
	NBs time.Duration
	NCr time.Duration

	// TxPadding pads outgoing classic frames to a full 8 bytes with the
	// given byte when set. CAN FD frames are always padded, with 0xCC
	// when no byte is configured.
	TxPadding *uint8
	// TxDataLength is the maximum payload of an outgoing frame, 8 for
	// classic CAN or a valid CAN FD size up to 64.
	TxDataLength int
	// TxDataMinLength pads every outgoing frame to at least this length
	// when set.
	TxDataMinLength int
	// MaxFrameSize is the largest complete message accepted in either
	// direction.
	MaxFrameSize int

	CanFD         bool
	BitrateSwitch bool
	// SquashSTMin streams consecutive frames back to back regardless of
	// the separation time requested by the peer.
	SquashSTMin bool
}

func defaultParams() Params {
	return Params{
		BlockSize:    8,
		NAs:          1000 * time.Millisecond,
		NAr:          1000 * time.Millisecond,
		NBs:          1000 * time.Millisecond,
		NCr:          1000 * time.Millisecond,
		TxDataLength: 8,
		MaxFrameSize: 4095,
	}
}

func (p *Params) validate() error {
	if p.CanFD {
		if p.TxDataLength < 8 || !validTxDataLength(p.TxDataLength) {
			return fmt.Errorf("invalid tx data length %d for CAN FD", p.TxDataLength)
		}
	} else {
		if p.TxDataLength != 8 {
			return fmt.Errorf("tx data length must be 8 for classic CAN")
		}
		if p.BitrateSwitch {
			return fmt.Errorf("bitrate switch requires CAN FD")
		}
	}
	if p.TxDataMinLength != 0 && (p.TxDataMinLength < 2 || p.TxDataMinLength > p.TxDataLength) {
		return fmt.Errorf("tx data min length %d out of range", p.TxDataMinLength)
	}
	if p.MaxFrameSize < 1 {
		return fmt.Errorf("max frame size must be at least 1 byte")
	}
	if p.NAs <= 0 || p.NAr <= 0 || p.NBs <= 0 || p.NCr <= 0 {
		return fmt.Errorf("protocol timeouts must be positive")
	}
	if p.WaitFrameMax < 0 {
		return fmt.Errorf("maximum wait frames must not be negative")
	}
	return nil
}

func validTxDataLength(n int) bool {
	for _, size := range canFDSizes {
		if size == n {
			return true
		}
	}
	return false
}

// Option configures a Transport. Options are applied by New before the run
// loop starts.
type Option func(*Transport) error

// WithParams replaces the whole parameter set.
func WithParams(p Params) Option {
	return func(t *Transport) error {
		t.params = p
		return nil
	}
}

// WithSTMin sets the raw separation time advertised in outgoing flow
// control frames.
func WithSTMin(v uint8) Option {
	return func(t *Transport) error {
		t.params.STMin = v
		return nil
	}
}

// WithBlockSize sets how many consecutive frames the peer may send between
// flow controls, 0 for no limit.
func WithBlockSize(bs uint8) Option {
	return func(t *Transport) error {
		t.params.BlockSize = bs
		return nil
	}
}

// WithWaitFrameMax sets how many consecutive wait flow controls are
// tolerated before a transmission is aborted.
func WithWaitFrameMax(n int) Option {
	return func(t *Transport) error {
		t.params.WaitFrameMax = n
		return nil
	}
}

// WithFlowControlTimeout sets how long a transmission waits for the peer's
// flow control.
func WithFlowControlTimeout(d time.Duration) Option {
	return func(t *Transport) error {
		t.params.NBs = d
		return nil
	}
}

// WithConsecutiveFrameTimeout sets how long a reception waits for the next
// consecutive frame.
func WithConsecutiveFrameTimeout(d time.Duration) Option {
	return func(t *Transport) error {
		t.params.NCr = d
		return nil
	}
}

// WithSendTimeout bounds handing frames to the adapter.
func WithSendTimeout(d time.Duration) Option {
	return func(t *Transport) error {
		t.params.NAs = d
		t.params.NAr = d
		return nil
	}
}

// WithPadding pads outgoing classic frames to a full 8 bytes with b.
func WithPadding(b uint8) Option {
	return func(t *Transport) error {
		t.params.TxPadding = &b
		return nil
	}
}

// WithMinFrameLength pads every outgoing frame to at least n bytes.
func WithMinFrameLength(n int) Option {
	return func(t *Transport) error {
		t.params.TxDataMinLength = n
		return nil
	}
}

// WithMaxFrameSize sets the largest complete message accepted in either
// direction.
func WithMaxFrameSize(n int) Option {
	return func(t *Transport) error {
		t.params.MaxFrameSize = n
		return nil
	}
}

// WithCANFD switches the transport to CAN FD framing with the given maximum
// frame payload length.
func WithCANFD(txDataLength int) Option {
	return func(t *Transport) error {
		t.params.CanFD = true
		t.params.TxDataLength = txDataLength
		return nil
	}
}

// WithBitrateSwitch requests the bitrate switch flag on outgoing CAN FD
// frames.
func WithBitrateSwitch() Option {
	return func(t *Transport) error {
		t.params.BitrateSwitch = true
		return nil
	}
}

// WithSquashSTMin streams consecutive frames back to back regardless of the
// separation time requested by the peer.
func WithSquashSTMin() Option {
	return func(t *Transport) error {
		t.params.SquashSTMin = true
		return nil
	}
}

// WithOnMessage delivers completed receptions through fn instead of the
// Recv channel. fn runs on the transport loop and must not block.
func WithOnMessage(fn func(Message)) Option {
	return func(t *Transport) error {
		if fn == nil {
			return fmt.Errorf("message callback is nil")
		}
		t.onMessage = fn
		return nil
	}
}

// WithOnError receives protocol errors that have no caller to return to,
// such as malformed frames, unexpected flow controls and aborted
// receptions. fn runs on the transport loop and must not block.
func WithOnError(fn func(error)) Option {
	return func(t *Transport) error {
		if fn == nil {
			return fmt.Errorf("error callback is nil")
		}
		t.onError = fn
		return nil
	}
}

// WithOnProgress reports transmit progress as (bytesSent, totalBytes) after
// every frame handed to the adapter. fn runs on the transport loop and must
// not block.
func WithOnProgress(fn func(sent, total int)) Option {
	return func(t *Transport) error {
		if fn == nil {
			return fmt.Errorf("progress callback is nil")
		}
		t.onProgress = fn
		return nil
	}
}
