package cantp

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func newBusClient(t *testing.T, ctx context.Context, bus *VirtualBus, name string) *Client {
	t.Helper()
	cl, err := NewWithAdapter(ctx, bus.NewEndpoint(name, &AdapterConfig{}))
	if err != nil {
		t.Fatalf("client %s: %v", name, err)
	}
	t.Cleanup(func() { cl.Close() })
	return cl
}

func TestClientLoopback(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cl, err := New(ctx, "Virtual", &AdapterConfig{})
	if err != nil {
		t.Fatal(err)
	}
	defer cl.Close()

	sub := cl.Subscribe(ctx, 0x123)
	defer sub.Close()

	if err := cl.Send(0x123, []byte{0xDE, 0xAD}, Outgoing); err != nil {
		t.Fatal(err)
	}
	select {
	case frame := <-sub.C():
		if frame.Identifier != 0x123 {
			t.Fatalf("identifier = 0x%X, want 0x123", frame.Identifier)
		}
		if frame.FrameType != Incoming {
			t.Fatalf("frame type = %v, want incoming", frame.FrameType)
		}
		if !bytes.Equal(frame.Data, []byte{0xDE, 0xAD}) {
			t.Fatalf("data = % X", frame.Data)
		}
		if frame.Time.IsZero() {
			t.Fatal("arrival time not stamped")
		}
	case <-time.After(time.Second):
		t.Fatal("no frame delivered")
	}
}

func TestVirtualBusBroadcast(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := NewVirtualBus()
	a := newBusClient(t, ctx, bus, "A")
	b := newBusClient(t, ctx, bus, "B")
	c := newBusClient(t, ctx, bus, "C")

	subB := b.Subscribe(ctx)
	defer subB.Close()
	subC := c.Subscribe(ctx)
	defer subC.Close()

	if err := a.Send(0x100, []byte{0x01}, Outgoing); err != nil {
		t.Fatal(err)
	}

	for _, tc := range []struct {
		name string
		sub  *Subscriber
	}{
		{"B", subB},
		{"C", subC},
	} {
		select {
		case frame := <-tc.sub.C():
			if frame.Identifier != 0x100 {
				t.Fatalf("%s: identifier = 0x%X, want 0x100", tc.name, frame.Identifier)
			}
		case <-time.After(time.Second):
			t.Fatalf("%s: no frame delivered", tc.name)
		}
	}
}

func TestSubscriberFilter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := NewVirtualBus()
	a := newBusClient(t, ctx, bus, "A")
	b := newBusClient(t, ctx, bus, "B")

	sub := b.Subscribe(ctx, 0x200)
	defer sub.Close()

	if err := a.Send(0x100, []byte{0x01}, Outgoing); err != nil {
		t.Fatal(err)
	}
	if err := a.Send(0x200, []byte{0x02}, Outgoing); err != nil {
		t.Fatal(err)
	}

	select {
	case frame := <-sub.C():
		if frame.Identifier != 0x200 {
			t.Fatalf("identifier = 0x%X, filter let 0x%X through", frame.Identifier, frame.Identifier)
		}
	case <-time.After(time.Second):
		t.Fatal("no frame delivered")
	}
}

func TestAdapterFilter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := NewVirtualBus()
	a := newBusClient(t, ctx, bus, "A")

	dev := bus.NewEndpoint("B", &AdapterConfig{CANFilter: []uint32{0x300}})
	b, err := NewWithAdapter(ctx, dev)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	sub := b.Subscribe(ctx)
	defer sub.Close()

	if err := a.Send(0x100, []byte{0x01}, Outgoing); err != nil {
		t.Fatal(err)
	}
	if err := a.Send(0x300, []byte{0x03}, Outgoing); err != nil {
		t.Fatal(err)
	}

	select {
	case frame := <-sub.C():
		if frame.Identifier != 0x300 {
			t.Fatalf("identifier = 0x%X, adapter filter let it through", frame.Identifier)
		}
	case <-time.After(time.Second):
		t.Fatal("no frame delivered")
	}
}

func TestSystemMessagesStayOffTheBus(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cl, err := New(ctx, "Virtual", &AdapterConfig{})
	if err != nil {
		t.Fatal(err)
	}
	defer cl.Close()

	sub := cl.Subscribe(ctx)
	defer sub.Close()

	if err := cl.Send(SystemMsg|0x01, []byte{0xAA}, Outgoing); err != nil {
		t.Fatal(err)
	}
	if err := cl.Send(0x111, []byte{0xBB}, Outgoing); err != nil {
		t.Fatal(err)
	}

	select {
	case frame := <-sub.C():
		if frame.Identifier != 0x111 {
			t.Fatalf("identifier = 0x%X, system message leaked onto the bus", frame.Identifier)
		}
	case <-time.After(time.Second):
		t.Fatal("no frame delivered")
	}
}

func TestSendAndWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := NewVirtualBus()
	tester := newBusClient(t, ctx, bus, "tester")
	ecu := newBusClient(t, ctx, bus, "ecu")

	req := ecu.Subscribe(ctx, 0x245)
	defer req.Close()
	go func() {
		for range req.C() {
			if err := ecu.Send(0x645, []byte{0x7E, 0x00}, Outgoing); err != nil {
				return
			}
		}
	}()

	resp, err := tester.SendAndWait(ctx, NewFrame(0x245, []byte{0x01, 0x3E}, Outgoing), time.Second, 0x645)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Identifier != 0x645 {
		t.Fatalf("identifier = 0x%X, want 0x645", resp.Identifier)
	}
	if !bytes.Equal(resp.Data, []byte{0x7E, 0x00}) {
		t.Fatalf("data = % X", resp.Data)
	}
}

func TestSendAndWaitTimeout(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := NewVirtualBus()
	tester := newBusClient(t, ctx, bus, "tester")
	newBusClient(t, ctx, bus, "silent")

	_, err := tester.SendAndWait(ctx, NewFrame(0x245, []byte{0x01, 0x3E}, Outgoing), 50*time.Millisecond, 0x645)
	var te *TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("err = %v, want timeout", err)
	}
	if te.Type != "response" {
		t.Fatalf("timer = %q, want response", te.Type)
	}
}

func TestNewUnknownAdapter(t *testing.T) {
	_, err := New(context.Background(), "no such adapter", &AdapterConfig{})
	if err == nil {
		t.Fatal("expected an error for an unknown adapter")
	}
}

func TestNewWithAdapterNil(t *testing.T) {
	_, err := NewWithAdapter(context.Background(), nil)
	if !errors.Is(err, ErrNillAdapter) {
		t.Fatalf("err = %v, want ErrNillAdapter", err)
	}
}

func TestRegisterAdapterTwice(t *testing.T) {
	info := &AdapterInfo{Name: "Duplicate", New: NewVirtual}
	if err := RegisterAdapter(info); err != nil {
		t.Fatal(err)
	}
	if err := RegisterAdapter(info); err == nil {
		t.Fatal("expected an error registering the same name twice")
	}
}

func TestListAdapterNames(t *testing.T) {
	names := ListAdapterNames()
	var found bool
	for _, name := range names {
		if name == "Virtual" {
			found = true
			break
		}
	}
	if !found {
		t.Fatalf("Virtual missing from %v", names)
	}
	for i := 1; i < len(names); i++ {
		if strings.ToLower(names[i-1]) > strings.ToLower(names[i]) {
			t.Fatalf("names not sorted: %v", names)
		}
	}
}

func TestRecoverableErrors(t *testing.T) {
	base := errors.New("boom")
	if IsRecoverable(Unrecoverable(base)) {
		t.Fatal("unrecoverable error reported as recoverable")
	}
	if !IsRecoverable(base) {
		t.Fatal("plain error reported as unrecoverable")
	}
	if !errors.Is(Unrecoverable(base), base) {
		t.Fatal("Unrecoverable hides the wrapped error")
	}
}
