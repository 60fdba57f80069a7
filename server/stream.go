package server

import (
	"context"
	"errors"
	"io"
	"sync"

	"interop-rpc/message"
	"interop-rpc/protocol"
)

// StreamHandler serves one streaming call. Returning ends the call; a non-nil error is
// reported to the client in the closing frame.
type StreamHandler func(stream *ServerStream) error

// ServerStream is the server end of one streaming call. Recv and Send may be used from
// different goroutines.
type ServerStream struct {
	ctx    context.Context
	cancel context.CancelFunc
	method string
	seq    uint32
	header protocol.Header // template for outbound StreamMsg frames
	w      *connWriter

	mu         sync.Mutex
	inbox      [][]byte
	recvClosed bool
	notify     chan struct{}
}

func newServerStream(ctx context.Context, method string, open protocol.Header, w *connWriter) *ServerStream {
	ctx, cancel := context.WithCancel(ctx)
	return &ServerStream{
		ctx:    ctx,
		cancel: cancel,
		method: method,
		seq:    open.Seq,
		header: protocol.Header{
			CodecType: open.CodecType,
			MsgType:   protocol.MsgTypeStreamMsg,
			Flags:     open.Flags & protocol.FlagCompressed,
			Seq:       open.Seq,
		},
		w:      w,
		notify: make(chan struct{}, 1),
	}
}

// Context is cancelled when the connection drops or the handler returns.
func (s *ServerStream) Context() context.Context { return s.ctx }

// Method returns the "Service.Method" name the client opened.
func (s *ServerStream) Method() string { return s.method }

// Recv blocks for the next client element. It returns io.EOF once the client has
// half-closed and every queued element was consumed.
func (s *ServerStream) Recv(m message.Message) error {
	for {
		s.mu.Lock()
		if len(s.inbox) > 0 {
			payload := s.inbox[0]
			s.inbox[0] = nil
			s.inbox = s.inbox[1:]
			s.mu.Unlock()
			return m.Unmarshal(payload)
		}
		if s.recvClosed {
			s.mu.Unlock()
			return io.EOF
		}
		s.mu.Unlock()

		select {
		case <-s.notify:
		case <-s.ctx.Done():
			return s.ctx.Err()
		}
	}
}

// Send writes m as one stream element.
func (s *ServerStream) Send(m message.Message) error {
	if err := s.ctx.Err(); err != nil {
		return err
	}
	payload, err := m.Marshal()
	if err != nil {
		return err
	}
	return s.w.write(s.header, &message.RPCMessage{Payload: payload})
}

func (s *ServerStream) push(payload []byte) {
	s.mu.Lock()
	if !s.recvClosed {
		s.inbox = append(s.inbox, payload)
	}
	s.mu.Unlock()
	s.signal()
}

func (s *ServerStream) closeRecv() {
	s.mu.Lock()
	s.recvClosed = true
	s.mu.Unlock()
	s.signal()
}

func (s *ServerStream) signal() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// streamTable holds the open streams of one connection by sequence number.
type streamTable struct {
	mu sync.Mutex
	m  map[uint32]*ServerStream
}

func (t *streamTable) put(s *ServerStream) {
	t.mu.Lock()
	t.m[s.seq] = s
	t.mu.Unlock()
}

func (t *streamTable) get(seq uint32) *ServerStream {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.m[seq]
}

func (t *streamTable) remove(seq uint32) {
	t.mu.Lock()
	delete(t.m, seq)
	t.mu.Unlock()
}

// closeAll cancels every open stream; used when the connection goes away.
func (t *streamTable) closeAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, s := range t.m {
		s.cancel()
	}
}

func isEOF(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}
