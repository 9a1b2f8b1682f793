package cantp

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"time"
)

const sendTimeout = 5 * time.Second

type Client struct {
	adapter Adapter
	fh      *handler
}

// New resolves the named adapter, opens it and starts the frame handler.
func New(ctx context.Context, adapterName string, cfg *AdapterConfig) (*Client, error) {
	adapter, err := NewAdapter(adapterName, cfg)
	if err != nil {
		return nil, err
	}
	return NewWithAdapter(ctx, adapter)
}

// NewWithAdapter opens an already constructed adapter and starts the frame handler.
func NewWithAdapter(ctx context.Context, adapter Adapter) (*Client, error) {
	if adapter == nil {
		return nil, ErrNillAdapter
	}
	if err := adapter.Open(ctx); err != nil {
		return nil, fmt.Errorf("failed to open adapter: %w", err)
	}
	cl := &Client{
		adapter: adapter,
		fh:      newHandler(adapter),
	}
	go cl.fh.run(ctx)
	return cl, nil
}

func (c *Client) Adapter() Adapter {
	return c.adapter
}

func (c *Client) Close() error {
	c.fh.Close()
	return c.adapter.Close()
}

// Err returns the adapter fatal error channel
func (c *Client) Err() <-chan error {
	return c.adapter.Err()
}

// Event returns the adapter event channel
func (c *Client) Event() <-chan Event {
	return c.adapter.Event()
}

// Send a CAN frame with the given identifier and data
func (c *Client) Send(identifier uint32, data []byte, frameType CANFrameType) error {
	return c.SendFrame(NewFrame(identifier, data, frameType))
}

// SendFrame queues the frame on the adapter
func (c *Client) SendFrame(frame *CANFrame) error {
	t := time.NewTimer(sendTimeout)
	defer t.Stop()
	select {
	case c.adapter.Send() <- frame:
		return nil
	case <-t.C:
		return ErrSendTimeout
	}
}

// Subscribe returns a subscriber for frames matching the given identifiers.
// With no identifiers given every incoming frame is delivered. The subscriber
// is closed when ctx is done.
func (c *Client) Subscribe(ctx context.Context, identifiers ...uint32) *Subscriber {
	var createdAt string
	if _, file, no, ok := runtime.Caller(1); ok {
		createdAt = fmt.Sprintf("%s:%d", filepath.Base(file), no)
	}
	idmap := make(map[uint32]struct{}, len(identifiers))
	for _, id := range identifiers {
		idmap[id] = struct{}{}
	}
	sub := &Subscriber{
		createdAt:    createdAt,
		cl:           c,
		identifiers:  idmap,
		filterCount:  len(idmap),
		responseChan: make(chan *CANFrame, 100),
	}
	c.fh.registerSub(sub)
	go func() {
		<-ctx.Done()
		sub.Close()
	}()
	return sub
}

// SendAndWait sends a frame and waits for a response with any of the given identifiers.
func (c *Client) SendAndWait(ctx context.Context, frame *CANFrame, timeout time.Duration, identifiers ...uint32) (*CANFrame, error) {
	frame.FrameType = ResponseRequired
	sub := c.Subscribe(ctx, identifiers...)
	defer sub.Close()
	if err := c.SendFrame(frame); err != nil {
		return nil, err
	}
	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return sub.wait(wctx, timeout.Milliseconds())
}
