package isotp

import (
	"time"

	"github.com/RaswanthUtham/cantp"
)

type txState uint8

const (
	txIdle txState = iota
	txWaitFlowControl
	txSending
)

type sendRequest struct {
	data   []byte
	target targetType
	done   chan error
	cancel chan struct{}
}

// beginTransmit starts a queued transmission. Payloads that fit one frame
// go out as a single frame and complete immediately, anything larger opens
// the flow controlled exchange with a first frame.
func (t *Transport) beginTransmit(req *sendRequest, now time.Time) {
	t.txReq = req
	prefix := t.addr.txPrefix
	sizeOffset := 1
	if len(req.data) > 7 {
		sizeOffset = 2
	}
	if len(req.data) <= t.params.TxDataLength-sizeOffset-len(prefix) {
		frame := t.makeFrame(t.addr.txIdentifier(req.target), singleFrameData(prefix, req.data))
		err := t.writeFrame(frame, t.params.NAs, "N_As")
		if err == nil {
			t.reportProgress()
		}
		t.finishTx(err)
		return
	}

	var pci []byte
	var dataLength int
	if len(req.data) <= 0xFFF {
		pci = []byte{0x10 | uint8(len(req.data)>>8)&0xF, uint8(len(req.data))}
		dataLength = t.params.TxDataLength - 2 - len(prefix)
	} else {
		l := uint32(len(req.data))
		pci = []byte{0x10, 0x00, byte(l >> 24), byte(l >> 16), byte(l >> 8), byte(l)}
		dataLength = t.params.TxDataLength - 6 - len(prefix)
	}
	payload := make([]byte, 0, len(prefix)+len(pci)+dataLength)
	payload = append(payload, prefix...)
	payload = append(payload, pci...)
	payload = append(payload, req.data[:dataLength]...)

	frame := t.makeFrame(t.addr.txIdentifier(targetPhysical), payload)
	if err := t.writeFrame(frame, t.params.NAs, "N_As"); err != nil {
		t.finishTx(err)
		return
	}
	t.txBuf = req.data[dataLength:]
	t.txState = txWaitFlowControl
	t.txSeq = 1
	t.wftCount = 0
	t.nbsDeadline = now.Add(t.params.NBs)
	t.reportProgress()
}

// handleFlowControl applies a flow control frame from the peer to the
// transmit side.
func (t *Transport) handleFlowControl(p *pdu, now time.Time) {
	if t.txState == txIdle {
		t.reportError(&UnexpectedFrameError{Reason: "flow control received with no transmission in progress"})
		return
	}

	switch p.status {
	case flowOverflow:
		t.finishTx(&FlowControlOverflowError{})
	case flowWait:
		switch {
		case t.params.WaitFrameMax == 0:
			t.reportError(&UnexpectedFrameError{Reason: "peer requested to wait but wait frames are not supported"})
		case t.wftCount >= t.params.WaitFrameMax:
			t.finishTx(&WaitFrameLimitError{Limit: t.params.WaitFrameMax})
		default:
			t.wftCount++
			t.txState = txWaitFlowControl
			t.nbsDeadline = now.Add(t.params.NBs)
		}
	case flowContinue:
		if t.txState == txWaitFlowControl && !t.nbsDeadline.IsZero() && !now.Before(t.nbsDeadline) {
			// Too late, the timeout abort takes over.
			return
		}
		t.wftCount = 0
		t.stMin = decodeSTMin(p.stMin)
		t.remoteBS = p.blockSize
		if t.txState == txWaitFlowControl {
			t.txBlockCount = 0
			t.stMinDeadline = now.Add(t.stMin)
		}
		t.txState = txSending
		t.nbsDeadline = time.Time{}
	}
}

// pumpTx sends consecutive frames while the separation time allows,
// stopping at block boundaries to wait for the next flow control.
func (t *Transport) pumpTx(now time.Time) {
	for t.txState == txSending {
		if !t.params.SquashSTMin && now.Before(t.stMinDeadline) {
			return
		}
		prefix := t.addr.txPrefix
		dataLength := t.params.TxDataLength - 1 - len(prefix)
		chunk := t.txBuf
		if len(chunk) > dataLength {
			chunk = chunk[:dataLength]
		}
		payload := make([]byte, 0, len(prefix)+1+len(chunk))
		payload = append(payload, prefix...)
		payload = append(payload, 0x20|t.txSeq)
		payload = append(payload, chunk...)

		frame := t.makeFrame(t.addr.txIdentifier(targetPhysical), payload)
		if err := t.writeFrame(frame, t.params.NAs, "N_As"); err != nil {
			t.finishTx(err)
			return
		}
		t.txBuf = t.txBuf[len(chunk):]
		t.txSeq = (t.txSeq + 1) & 0xF
		t.txBlockCount++
		t.stMinDeadline = now.Add(t.stMin)
		t.reportProgress()
		if len(t.txBuf) == 0 {
			t.finishTx(nil)
			return
		}
		if t.remoteBS != 0 && t.txBlockCount >= int(t.remoteBS) {
			t.txState = txWaitFlowControl
			t.nbsDeadline = now.Add(t.params.NBs)
			return
		}
	}
}

func (t *Transport) reportProgress() {
	if t.onProgress == nil || t.txReq == nil {
		return
	}
	total := len(t.txReq.data)
	t.onProgress(total-len(t.txBuf), total)
}

// finishTx completes the active transmission, hands err to the waiting
// caller and returns the transmit side to idle.
func (t *Transport) finishTx(err error) {
	req := t.txReq
	// Release the session before signalling, so a caller chaining sends
	// never sees the slot still taken.
	t.resetTx()
	if req != nil {
		req.done <- err
	}
}

// resetTx clears the transmit session and releases the busy flag.
func (t *Transport) resetTx() {
	t.txState = txIdle
	t.txReq = nil
	t.txBuf = nil
	t.txSeq = 0
	t.txBlockCount = 0
	t.wftCount = 0
	t.remoteBS = 0
	t.stMin = 0
	t.stMinDeadline = time.Time{}
	t.nbsDeadline = time.Time{}
	t.sending.Store(false)
}

// makeFrame wraps an assembled payload in a CAN frame, applying padding and
// the identifier flags of the pairing.
func (t *Transport) makeFrame(identifier uint32, payload []byte) *cantp.CANFrame {
	frame := cantp.NewFrame(identifier, padMessage(payload, &t.params), cantp.Outgoing)
	frame.Extended = t.addr.is29
	frame.FD = t.params.CanFD
	frame.BRS = t.params.BitrateSwitch
	return frame
}
