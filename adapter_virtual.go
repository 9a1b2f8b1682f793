package cantp

import (
	"context"
	"sync"
)

func init() {
	if err := RegisterAdapter(&AdapterInfo{
		Name:               "Virtual",
		Description:        "In memory loopback adapter",
		RequiresSerialPort: false,
		Capabilities: AdapterCapabilities{
			HSCAN: true,
			SWCAN: true,
			CANFD: true,
		},
		New: NewVirtual,
	}); err != nil {
		panic(err)
	}
}

// Virtual is an in memory adapter. Standalone it loops outgoing frames back as
// incoming, attached to a VirtualBus it exchanges frames with the other
// endpoints on the bus.
type Virtual struct {
	*BaseAdapter
	bus *VirtualBus
}

func NewVirtual(cfg *AdapterConfig) (Adapter, error) {
	return &Virtual{
		BaseAdapter: NewBaseAdapter("Virtual", cfg),
	}, nil
}

func (v *Virtual) Open(ctx context.Context) error {
	go v.sendManager(ctx)
	return nil
}

func (v *Virtual) Close() error {
	v.BaseAdapter.Close()
	if v.bus != nil {
		v.bus.detach(v)
	}
	return nil
}

func (v *Virtual) sendManager(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-v.closeChan:
			return
		case frame := <-v.sendChan:
			if frame.Identifier >= SystemMsg {
				continue
			}
			if v.bus != nil {
				v.bus.broadcast(ctx, v, frame)
				continue
			}
			v.recvFrame(ctx, incomingCopy(frame))
		}
	}
}

func incomingCopy(frame *CANFrame) *CANFrame {
	in := NewFrame(frame.Identifier, frame.Data, Incoming)
	in.Extended = frame.Extended
	in.RTR = frame.RTR
	in.FD = frame.FD
	in.BRS = frame.BRS
	return in
}

// VirtualBus connects virtual adapters so a frame sent on one endpoint is
// received on every other endpoint.
type VirtualBus struct {
	mu        sync.RWMutex
	endpoints []*Virtual
}

func NewVirtualBus() *VirtualBus {
	return &VirtualBus{}
}

// NewEndpoint creates a virtual adapter attached to the bus.
func (b *VirtualBus) NewEndpoint(name string, cfg *AdapterConfig) *Virtual {
	if cfg.OnMessage == nil {
		cfg.OnMessage = func(string) {}
	}
	if cfg.OnError == nil {
		cfg.OnError = func(error) {}
	}
	v := &Virtual{
		BaseAdapter: NewBaseAdapter(name, cfg),
		bus:         b,
	}
	b.mu.Lock()
	b.endpoints = append(b.endpoints, v)
	b.mu.Unlock()
	return v
}

func (b *VirtualBus) broadcast(ctx context.Context, from *Virtual, frame *CANFrame) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ep := range b.endpoints {
		if ep == from {
			continue
		}
		if !ep.accepts(frame.Identifier) {
			continue
		}
		ep.recvFrame(ctx, incomingCopy(frame))
	}
}

func (b *VirtualBus) detach(v *Virtual) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, ep := range b.endpoints {
		if ep == v {
			b.endpoints = append(b.endpoints[:i], b.endpoints[i+1:]...)
			return
		}
	}
}
