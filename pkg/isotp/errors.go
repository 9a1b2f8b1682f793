package isotp

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrClosed       = errors.New("transport is closed")
	ErrEmptyPayload = errors.New("payload is empty")
)

// AddressingError reports an invalid address configuration or an incoming
// frame whose protocol bytes cannot be decoded.
type AddressingError struct {
	Reason string
}

func (e *AddressingError) Error() string {
	return e.Reason
}

// OversizedPayloadError reports a payload larger than the session or the
// frame format can carry.
type OversizedPayloadError struct {
	Length int
	Max    int
}

func (e *OversizedPayloadError) Error() string {
	return fmt.Sprintf("payload of %d bytes exceeds the maximum of %d bytes", e.Length, e.Max)
}

// SequenceError reports a consecutive frame that broke the sequence number
// order of the open reception.
type SequenceError struct {
	Expected uint8
	Received uint8
}

func (e *SequenceError) Error() string {
	return fmt.Sprintf("wrong sequence number: expected 0x%X, received 0x%X", e.Expected, e.Received)
}

// UnexpectedFrameError reports a frame that does not fit the current session
// state, such as a consecutive frame with no reception open or a flow
// control with no transmission in progress.
type UnexpectedFrameError struct {
	Reason string
}

func (e *UnexpectedFrameError) Error() string {
	return e.Reason
}

// TimeoutError reports an expired protocol timer. Timer is one of N_As,
// N_Ar, N_Bs or N_Cr.
type TimeoutError struct {
	Timer   string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Timer, e.Timeout)
}

// FlowControlOverflowError is returned when the peer aborts a transmission
// with a flow control frame carrying the overflow status.
type FlowControlOverflowError struct{}

func (e *FlowControlOverflowError) Error() string {
	return "peer reported a buffer overflow, transmission aborted"
}

// WaitFrameLimitError is returned when the peer sent more consecutive wait
// flow controls than the transport accepts.
type WaitFrameLimitError struct {
	Limit int
}

func (e *WaitFrameLimitError) Error() string {
	return fmt.Sprintf("maximum number of wait frames reached (%d), transmission aborted", e.Limit)
}

// BusyError is returned by Send when a transmission is already outstanding
// on the same address pairing.
type BusyError struct{}

func (e *BusyError) Error() string {
	return "a transmission is already in progress"
}

// AdapterError wraps an error reported by the underlying adapter while a
// session was active.
type AdapterError struct {
	Err error
}

func (e *AdapterError) Error() string {
	return "adapter error: " + e.Err.Error()
}

func (e *AdapterError) Unwrap() error {
	return e.Err
}
