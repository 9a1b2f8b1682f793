package cantp

import (
	"context"
	"fmt"
	"net"
	"strings"

	"go.einride.tech/can"
	"go.einride.tech/can/pkg/candevice"
	"go.einride.tech/can/pkg/socketcan"
)

func init() {
	for _, dev := range FindDevices() {
		name := "SocketCAN " + dev
		if err := RegisterAdapter(&AdapterInfo{
			Name:               name,
			Description:        "Linux SocketCAN driver",
			RequiresSerialPort: false,
			Capabilities: AdapterCapabilities{
				HSCAN: true,
				SWCAN: true,
				CANFD: false,
			},
			New: NewSocketCANFromDevName(dev),
		}); err != nil {
			panic(err)
		}
	}
}

type SocketCAN struct {
	*BaseAdapter
	d    *candevice.Device
	conn net.Conn
	tx   *socketcan.Transmitter
	rx   *socketcan.Receiver
}

func NewSocketCANFromDevName(dev string) func(cfg *AdapterConfig) (Adapter, error) {
	return func(cfg *AdapterConfig) (Adapter, error) {
		cfg.Port = dev
		return NewSocketCAN(cfg)
	}
}

func NewSocketCAN(cfg *AdapterConfig) (Adapter, error) {
	return &SocketCAN{
		BaseAdapter: NewBaseAdapter("SocketCAN", cfg),
	}, nil
}

func (a *SocketCAN) Open(ctx context.Context) error {
	// vcan devices have no bitrate to set
	if !strings.HasPrefix(a.cfg.Port, "vcan") {
		d, err := candevice.New(a.cfg.Port)
		if err != nil {
			return fmt.Errorf("failed to open device %s: %w", a.cfg.Port, err)
		}
		a.d = d
		if err := d.SetBitrate(uint32(a.cfg.CANRate * 1000)); err != nil {
			return err
		}
		if err := d.SetUp(); err != nil {
			return err
		}
	}

	conn, err := socketcan.DialContext(ctx, "can", a.cfg.Port)
	if err != nil {
		return err
	}
	a.conn = conn
	a.tx = socketcan.NewTransmitter(conn)
	a.rx = socketcan.NewReceiver(conn)

	go a.recvManager(ctx)
	go a.sendManager(ctx)
	return nil
}

func (a *SocketCAN) Close() error {
	a.BaseAdapter.Close()
	if a.conn != nil {
		a.conn.Close()
	}
	if a.d != nil {
		if err := a.d.SetDown(); err != nil {
			return err
		}
	}
	return nil
}

func (a *SocketCAN) recvManager(ctx context.Context) {
	for a.rx.Receive() {
		f := a.rx.Frame()
		if !a.accepts(f.ID) {
			continue
		}
		frame := NewFrame(f.ID, f.Data[:f.Length], Incoming)
		frame.Extended = f.IsExtended
		frame.RTR = f.IsRemote
		a.recvFrame(ctx, frame)
	}
}

func (a *SocketCAN) sendManager(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.closeChan:
			return
		case msg := <-a.sendChan:
			if msg.Identifier >= SystemMsg {
				continue
			}
			frame := can.Frame{
				ID:         msg.Identifier,
				Length:     uint8(msg.Length()),
				IsExtended: msg.Extended,
				IsRemote:   msg.RTR,
			}
			copy(frame.Data[:], msg.Data)
			if err := a.tx.TransmitFrame(ctx, frame); err != nil {
				a.cfg.OnError(fmt.Errorf("send error: %w", err))
			}
		}
	}
}

func FindDevices() (dev []string) {
	iFaces, _ := net.Interfaces()
	for _, i := range iFaces {
		if strings.Contains(i.Name, "can") {
			dev = append(dev, i.Name)
		}
	}
	return
}
