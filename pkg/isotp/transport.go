// Package isotp implements the ISO 15765-2 transport protocol on top of a
// cantp client. It segments messages up to 4 GiB into single, first and
// consecutive frames, paces them with flow control and reassembles incoming
// exchanges, over classic CAN or CAN FD.
package isotp

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/RaswanthUtham/cantp"
)

// Message is a completed reception. Source is the sender address for the
// modes that carry one on the wire, otherwise the configured target
// address. Time is the arrival time of the frame that completed the
// message.
type Message struct {
	Data   []byte
	Source uint8
	Time   time.Time
}

// Transport is one ISO 15765-2 session endpoint bound to a single address
// pairing. All protocol state is owned by its run loop, Send and Recv are
// safe for concurrent use.
type Transport struct {
	cl     *cantp.Client
	addr   *Address
	params Params

	sub        *cantp.Subscriber
	onMessage  func(Message)
	onError    func(error)
	onProgress func(sent, total int)

	recvCh    chan Message
	sendCh    chan *sendRequest
	closeCh   chan struct{}
	closeOnce sync.Once
	sending   atomic.Bool

	// transmit session, owned by the run loop
	txState       txState
	txReq         *sendRequest
	txBuf         []byte
	txSeq         uint8
	txBlockCount  int
	wftCount      int
	remoteBS      uint8
	stMin         time.Duration
	stMinDeadline time.Time
	nbsDeadline   time.Time

	// receive session, owned by the run loop
	rxState      rxState
	rxBuf        []byte
	rxLen        int
	rxLastSeq    uint8
	rxBlockCount int
	actualRxDL   int
	ncrDeadline  time.Time
}

// New creates a transport bound to one address pairing and starts its run
// loop. The loop stops when ctx is cancelled or Close is called.
func New(ctx context.Context, cl *cantp.Client, addr Address, opts ...Option) (*Transport, error) {
	if cl == nil {
		return nil, errors.New("client is nil")
	}
	resolved, err := NewAddress(addr)
	if err != nil {
		return nil, err
	}
	t := &Transport{
		cl:      cl,
		addr:    resolved,
		params:  defaultParams(),
		recvCh:  make(chan Message, 100),
		sendCh:  make(chan *sendRequest),
		closeCh: make(chan struct{}),
	}
	for _, opt := range opts {
		if err := opt(t); err != nil {
			return nil, err
		}
	}
	if err := t.params.validate(); err != nil {
		return nil, err
	}
	if t.onError == nil {
		t.onError = func(err error) {
			log.Println(err)
		}
	}
	if resolved.ReservedIdentifiers() {
		t.reportError(&AddressingError{Reason: fmt.Sprintf("%s uses identifiers reserved for legislated OBD", resolved)})
	}
	t.sub = cl.Subscribe(ctx, resolved.subscriptionIDs()...)
	go t.run(ctx)
	return t, nil
}

// Address returns the resolved address pairing of the transport.
func (t *Transport) Address() *Address {
	return t.addr
}

// Recv returns the channel completed receptions are delivered on when no
// message callback is configured.
func (t *Transport) Recv() <-chan Message {
	return t.recvCh
}

// Close stops the run loop and releases the frame subscription. An
// outstanding Send fails with ErrClosed.
func (t *Transport) Close() {
	t.closeOnce.Do(func() {
		close(t.closeCh)
	})
}

// Send transmits payload to the peer and blocks until the last frame has
// been handed to the adapter or the exchange aborts. A second Send while
// one is outstanding fails immediately with a BusyError. Cancelling ctx
// abandons the exchange and resets the session.
func (t *Transport) Send(ctx context.Context, payload []byte) error {
	return t.send(ctx, payload, targetPhysical)
}

// SendFunctional transmits payload to the functional address of the
// pairing. Only payloads that fit a single frame can be sent this way.
func (t *Transport) SendFunctional(ctx context.Context, payload []byte) error {
	sizeOffset := 1
	if len(payload) > 7 {
		sizeOffset = 2
	}
	if limit := t.params.TxDataLength - sizeOffset - len(t.addr.txPrefix); len(payload) > limit {
		return &OversizedPayloadError{Length: len(payload), Max: limit}
	}
	return t.send(ctx, payload, targetFunctional)
}

func (t *Transport) send(ctx context.Context, payload []byte, target targetType) error {
	if len(payload) == 0 {
		return ErrEmptyPayload
	}
	if len(payload) > t.params.MaxFrameSize {
		return &OversizedPayloadError{Length: len(payload), Max: t.params.MaxFrameSize}
	}
	if !t.sending.CompareAndSwap(false, true) {
		return &BusyError{}
	}
	req := &sendRequest{
		data:   append([]byte(nil), payload...),
		target: target,
		done:   make(chan error, 1),
		cancel: make(chan struct{}),
	}
	select {
	case t.sendCh <- req:
	case <-t.closeCh:
		t.sending.Store(false)
		return ErrClosed
	case <-ctx.Done():
		t.sending.Store(false)
		return ctx.Err()
	}
	select {
	case err := <-req.done:
		return err
	case <-t.closeCh:
		return ErrClosed
	case <-ctx.Done():
		close(req.cancel)
		return ctx.Err()
	}
}

func (t *Transport) run(ctx context.Context) {
	defer t.sub.Close()
	timer := time.NewTimer(time.Hour)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()
	timerArmed := false

	frames := t.sub.C()
	for {
		select {
		case <-ctx.Done():
			t.teardown()
			return
		case <-t.closeCh:
			t.teardown()
			return
		case req := <-t.sendCh:
			now := time.Now()
			t.beginTransmit(req, now)
			t.pumpTx(now)
		case <-t.currentCancel():
			t.resetTx()
		case frame, ok := <-frames:
			if !ok {
				t.teardown()
				return
			}
			now := time.Now()
			t.processFrame(frame, now)
			t.checkTimeouts(now)
			t.pumpTx(now)
		case now := <-timer.C:
			timerArmed = false
			t.checkTimeouts(now)
			t.pumpTx(now)
		}

		if timerArmed {
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timerArmed = false
		}
		if d, ok := t.nextWake(); ok {
			timer.Reset(d)
			timerArmed = true
		}
	}
}

// currentCancel returns the cancel channel of the active transmission, or
// nil when idle so the select case blocks.
func (t *Transport) currentCancel() <-chan struct{} {
	if t.txReq != nil {
		return t.txReq.cancel
	}
	return nil
}

// checkTimeouts aborts sessions whose protocol timer expired.
func (t *Transport) checkTimeouts(now time.Time) {
	if t.txState == txWaitFlowControl && !t.nbsDeadline.IsZero() && !now.Before(t.nbsDeadline) {
		t.finishTx(&TimeoutError{Timer: "N_Bs", Timeout: t.params.NBs})
	}
	if t.rxState == rxWaitConsecutive && !t.ncrDeadline.IsZero() && !now.Before(t.ncrDeadline) {
		t.stopReceiving()
		t.reportError(&TimeoutError{Timer: "N_Cr", Timeout: t.params.NCr})
	}
}

// nextWake returns the time until the earliest armed deadline.
func (t *Transport) nextWake() (time.Duration, bool) {
	var next time.Time
	consider := func(deadline time.Time) {
		if deadline.IsZero() {
			return
		}
		if next.IsZero() || deadline.Before(next) {
			next = deadline
		}
	}
	consider(t.nbsDeadline)
	consider(t.ncrDeadline)
	if t.txState == txSending {
		consider(t.stMinDeadline)
	}
	if next.IsZero() {
		return 0, false
	}
	d := time.Until(next)
	if d < 0 {
		d = 0
	}
	return d, true
}

// teardown aborts both sessions when the transport shuts down.
func (t *Transport) teardown() {
	t.finishTx(ErrClosed)
	t.stopReceiving()
}

// writeFrame hands a frame to the adapter, failing with a TimeoutError
// naming the expired timer when the send queue stays full.
func (t *Transport) writeFrame(frame *cantp.CANFrame, timeout time.Duration, timer string) error {
	tm := time.NewTimer(timeout)
	defer tm.Stop()
	select {
	case t.cl.Adapter().Send() <- frame:
		return nil
	case <-tm.C:
		return &TimeoutError{Timer: timer, Timeout: timeout}
	}
}

func (t *Transport) reportError(err error) {
	t.onError(err)
}
