package transport

import (
	"context"
	"errors"
	"io"
	"sync"

	"interop-rpc/message"
	"interop-rpc/protocol"
)

// ErrSendClosed is returned by Send after CloseSend.
var ErrSendClosed = errors.New("transport: send on half-closed stream")

type streamEvent struct {
	msg *message.RPCMessage
}

// ClientStream is the client end of one streaming call. Send and CloseSend may be
// called from one goroutine while Recv is called from another.
//
// Frames are queued as recvLoop reads them, so a slow reader never stalls other
// calls on the same connection.
type ClientStream struct {
	ctx    context.Context
	t      *ClientTransport
	seq    uint32
	method string

	sendMu     sync.Mutex
	sendClosed bool

	mu     sync.Mutex
	queue  []streamEvent
	notify chan struct{} // signalled whenever queue or end changes
	ended  bool
	endErr error // nil means clean end (Recv reports io.EOF)
	closed chan struct{}
}

func newClientStream(ctx context.Context, t *ClientTransport, seq uint32, method string) *ClientStream {
	return &ClientStream{
		ctx:    ctx,
		t:      t,
		seq:    seq,
		method: method,
		notify: make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
}

// Method returns the "Service.Method" name the stream was opened for.
func (s *ClientStream) Method() string { return s.method }

// Context returns the context the stream was opened with.
func (s *ClientStream) Context() context.Context { return s.ctx }

// Send marshals m and writes it as one stream element.
func (s *ClientStream) Send(m message.Message) error {
	payload, err := m.Marshal()
	if err != nil {
		return err
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if s.sendClosed {
		return ErrSendClosed
	}
	if err := s.ctx.Err(); err != nil {
		return err
	}
	return s.t.write(protocol.MsgTypeStreamMsg, s.seq, &message.RPCMessage{Payload: payload})
}

// CloseSend half-closes the stream: the server sees end of input, and responses can
// still be received. Calling it twice is a no-op.
func (s *ClientStream) CloseSend() error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if s.sendClosed {
		return nil
	}
	s.sendClosed = true
	return s.t.write(protocol.MsgTypeStreamClose, s.seq, &message.RPCMessage{})
}

// Recv blocks for the next element and unmarshals it into m. It returns io.EOF once the
// server ends the call cleanly, a *RemoteError if the server's handler failed, or the
// connection or context error otherwise. Elements already received are delivered
// before the terminal error.
func (s *ClientStream) Recv(m message.Message) error {
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			ev := s.queue[0]
			s.queue[0] = streamEvent{}
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return m.Unmarshal(ev.msg.Payload)
		}
		if s.ended {
			err := s.endErr
			s.mu.Unlock()
			if err == nil {
				return io.EOF
			}
			return err
		}
		s.mu.Unlock()

		<-s.notify
	}
}

func (s *ClientStream) deliver(ev streamEvent) {
	s.mu.Lock()
	if !s.ended {
		s.queue = append(s.queue, ev)
	}
	s.mu.Unlock()
	s.signal()
}

// finish records the terminal outcome; only the first call has an effect.
func (s *ClientStream) finish(err error) {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	s.endErr = err
	close(s.closed)
	s.mu.Unlock()
	s.signal()
}

func (s *ClientStream) signal() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// watchContext ends the stream when its context is done before the server ends it.
func (s *ClientStream) watchContext() {
	select {
	case <-s.closed:
	case <-s.ctx.Done():
		s.t.pending.Delete(s.seq)
		s.finish(s.ctx.Err())
	}
}
