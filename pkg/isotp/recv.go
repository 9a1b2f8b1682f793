package isotp

import (
	"fmt"
	"time"

	"github.com/RaswanthUtham/cantp"
)

type rxState uint8

const (
	rxIdle rxState = iota
	rxWaitConsecutive
)

// processFrame runs one incoming frame through the receive side and routes
// flow control frames to the transmit side.
func (t *Transport) processFrame(frame *cantp.CANFrame, now time.Time) {
	if !t.addr.Matches(frame) {
		return
	}
	p, err := parsePDU(frame.Data, t.addr.prefixSize)
	if err != nil {
		t.reportError(err)
		t.stopReceiving()
		return
	}

	if t.rxState == rxWaitConsecutive && !t.ncrDeadline.IsZero() && !now.Before(t.ncrDeadline) {
		t.stopReceiving()
		t.reportError(&TimeoutError{Timer: "N_Cr", Timeout: t.params.NCr})
	}

	if p.typ == frameFlowControl {
		// Keep an open reception alive while the peer is handling our
		// transmission on the same pairing.
		if t.rxState == rxWaitConsecutive && (p.status == flowContinue || p.status == flowWait) {
			t.ncrDeadline = now.Add(t.params.NCr)
		}
		t.handleFlowControl(p, now)
		return
	}
	if p.typ == frameSingle && p.canDL > 8 && !p.escape {
		t.reportError(&AddressingError{Reason: "single frame above 8 bytes must use the escape sequence"})
		return
	}

	switch t.rxState {
	case rxIdle:
		switch p.typ {
		case frameSingle:
			t.deliver(Message{
				Data:   append([]byte(nil), p.data...),
				Source: t.addr.peerAddress(frame),
				Time:   frame.Time,
			})
		case frameFirst:
			t.startReception(p, now)
		case frameConsecutive:
			t.reportError(&UnexpectedFrameError{Reason: "consecutive frame received with no reception in progress"})
		}
	case rxWaitConsecutive:
		switch p.typ {
		case frameSingle, frameFirst:
			// A new exchange does not preempt the open reception.
			t.reportError(&UnexpectedFrameError{Reason: "new frame rejected while a reception is in progress"})
		case frameConsecutive:
			t.handleConsecutive(p, frame, now)
		}
	}
}

// startReception validates a first frame and opens the segmented reception,
// answering with a flow control.
func (t *Transport) startReception(p *pdu, now time.Time) {
	if !validRxDL(p.rxDL) {
		t.reportError(&AddressingError{Reason: fmt.Sprintf("first frame with an invalid size of %d bytes", p.rxDL)})
		t.stopReceiving()
		return
	}
	if p.length > t.params.MaxFrameSize {
		t.reportError(&OversizedPayloadError{Length: p.length, Max: t.params.MaxFrameSize})
		t.sendFlowControl(flowOverflow, now)
		return
	}
	t.rxState = rxWaitConsecutive
	t.actualRxDL = p.rxDL
	t.rxLen = p.length
	t.rxBuf = append(t.rxBuf[:0], p.data...)
	t.rxLastSeq = 0
	t.rxBlockCount = 0
	t.sendFlowControl(flowContinue, now)
	if t.rxState == rxWaitConsecutive {
		t.ncrDeadline = now.Add(t.params.NCr)
	}
}

// handleConsecutive appends a consecutive frame to the open reception,
// enforcing the sequence order and the frame size announced by the first
// frame.
func (t *Transport) handleConsecutive(p *pdu, frame *cantp.CANFrame, now time.Time) {
	expected := (t.rxLastSeq + 1) & 0xF
	if p.seq != expected {
		t.stopReceiving()
		t.reportError(&SequenceError{Expected: expected, Received: p.seq})
		return
	}
	remaining := t.rxLen - len(t.rxBuf)
	if p.rxDL != t.actualRxDL && p.rxDL < remaining {
		t.reportError(&AddressingError{Reason: fmt.Sprintf("consecutive frame size changed from %d to %d bytes, frame ignored", t.actualRxDL, p.rxDL)})
		return
	}
	t.ncrDeadline = now.Add(t.params.NCr)
	t.rxLastSeq = p.seq
	data := p.data
	if len(data) > remaining {
		data = data[:remaining]
	}
	t.rxBuf = append(t.rxBuf, data...)
	if len(t.rxBuf) >= t.rxLen {
		out := make([]byte, len(t.rxBuf))
		copy(out, t.rxBuf)
		t.deliver(Message{
			Data:   out,
			Source: t.addr.peerAddress(frame),
			Time:   frame.Time,
		})
		t.stopReceiving()
		return
	}
	t.rxBlockCount++
	if t.params.BlockSize > 0 && t.rxBlockCount%int(t.params.BlockSize) == 0 {
		t.sendFlowControl(flowContinue, now)
		if t.rxState == rxWaitConsecutive {
			t.ncrDeadline = now.Add(t.params.NCr)
		}
	}
}

// sendFlowControl writes a flow control frame for the receive side, bounded
// by the N_Ar timeout. A failed write aborts the open reception.
func (t *Transport) sendFlowControl(status flowStatus, now time.Time) {
	data := flowControlData(t.addr.txPrefix, status, t.params.BlockSize, t.params.STMin)
	frame := t.makeFrame(t.addr.txIdentifier(targetPhysical), data)
	if err := t.writeFrame(frame, t.params.NAr, "N_Ar"); err != nil {
		t.reportError(err)
		t.stopReceiving()
	}
}

// stopReceiving resets the receive side to idle.
func (t *Transport) stopReceiving() {
	t.rxState = rxIdle
	t.rxBuf = t.rxBuf[:0]
	t.rxLen = 0
	t.rxLastSeq = 0
	t.rxBlockCount = 0
	t.actualRxDL = 0
	t.ncrDeadline = time.Time{}
}

// deliver hands a completed message to the configured callback or the
// receive channel, dropping with an error event when the channel is full.
func (t *Transport) deliver(msg Message) {
	if t.onMessage != nil {
		t.onMessage(msg)
		return
	}
	select {
	case t.recvCh <- msg:
	default:
		t.reportError(fmt.Errorf("receive queue full, dropped a %d byte message", len(msg.Data)))
	}
}
