package cantp

import (
	"context"
	"sync"
)

type Subscriber struct {
	createdAt    string
	cl           *Client
	identifiers  map[uint32]struct{}
	filterCount  int
	responseChan chan *CANFrame
	closeOnce    sync.Once
}

func (s *Subscriber) Close() {
	s.closeOnce.Do(func() {
		s.cl.fh.unregisterSub(s)
	})
}

func (s *Subscriber) Chan() <-chan *CANFrame {
	return s.responseChan
}

// C is an alias for Chan
func (s *Subscriber) C() <-chan *CANFrame {
	return s.responseChan
}

func (s *Subscriber) wait(ctx context.Context, timeoutMS int64) (*CANFrame, error) {
	select {
	case <-ctx.Done():
		frames := make([]uint32, 0, len(s.identifiers))
		for id := range s.identifiers {
			frames = append(frames, id)
		}
		return nil, &TimeoutError{Timeout: timeoutMS, Frames: frames, Type: "response"}
	case frame, ok := <-s.responseChan:
		if !ok {
			return nil, ErrResponsechannelClosed
		}
		return frame, nil
	}
}
