// Package transport implements the client side of the framed protocol: multiplexed
// unary calls, streams, heartbeats and connection setup.
//
// ClientTransport carries many concurrent calls over a single connection. Each call gets
// a unique sequence ID and a background goroutine (recvLoop) reads frames and routes
// them to the waiting caller or stream by that ID.
//
//	goroutine-1 ──Send(seq=1)────────┐
//	goroutine-2 ──OpenStream(seq=2)──┼──→ single conn ──→ Server
//	goroutine-3 ──Send(seq=3)────────┘
//
//	recvLoop:  ←── frame(seq=2) → pending[2] stream inbox → goroutine-2 Recv wakes up
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"interop-rpc/codec"
	"interop-rpc/message"
	"interop-rpc/protocol"
)

// DefaultHeartbeatInterval is how often an idle connection is probed.
const DefaultHeartbeatInterval = 30 * time.Second

// ErrConnClosed is returned for calls on, or pending on, a connection that has gone away.
var ErrConnClosed = errors.New("transport: connection closed")

// RemoteError is a failure reported by the server's handler, as opposed to a failure
// of the connection carrying the call.
type RemoteError struct {
	Method  string
	Message string
}

func (e *RemoteError) Error() string {
	if e.Method == "" {
		return "remote error: " + e.Message
	}
	return fmt.Sprintf("remote error: %s: %s", e.Method, e.Message)
}

// Result is delivered exactly once for each unary call.
type Result struct {
	Message *message.RPCMessage // nil when Err is set
	Err     error               // failure of the connection, wraps ErrConnClosed
}

// Options tune a ClientTransport.
type Options struct {
	Codec             codec.CodecType
	Compress          bool          // zstd-compress every outbound body
	HeartbeatInterval time.Duration // 0 selects DefaultHeartbeatInterval
}

// ClientTransport manages a single multiplexed connection.
type ClientTransport struct {
	conn  net.Conn
	codec codec.CodecType
	flags byte

	seq     uint32     // Monotonically increasing sequence number (protected by sending)
	pending sync.Map   // map[uint32]chan Result or map[uint32]*ClientStream
	sending sync.Mutex // Write lock: frames from concurrent callers must not interleave

	done      chan struct{}
	closeOnce sync.Once
	errMu     sync.Mutex
	err       error // set once the connection is unusable
}

// NewClientTransport creates a transport for the given connection and starts two
// background goroutines:
//   - recvLoop: continuously reads frames and dispatches them to pending callers
//   - heartbeatLoop: sends periodic heartbeat frames to keep the connection alive
func NewClientTransport(conn net.Conn, opts Options) *ClientTransport {
	t := &ClientTransport{
		conn:  conn,
		codec: opts.Codec,
		done:  make(chan struct{}),
	}
	if opts.Compress {
		t.flags |= protocol.FlagCompressed
	}
	interval := opts.HeartbeatInterval
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	go t.recvLoop()
	go t.heartbeatLoop(interval)
	return t
}

// Send serializes and sends a unary request. It returns the sequence number and a
// channel that will receive the outcome.
func (t *ClientTransport) Send(serviceMethod string, args message.Message) (uint32, <-chan Result, error) {
	env, err := message.Pack(serviceMethod, args)
	if err != nil {
		return 0, nil, err
	}

	t.sending.Lock()
	defer t.sending.Unlock()
	if err := t.Err(); err != nil {
		return 0, nil, err
	}

	t.seq++
	seq := t.seq

	// Register the response channel BEFORE sending to avoid racing recvLoop.
	respChan := make(chan Result, 1)
	t.pending.Store(seq, respChan)

	if err := t.writeLocked(protocol.MsgTypeRequest, seq, env); err != nil {
		t.pending.Delete(seq)
		return 0, nil, err
	}
	return seq, respChan, nil
}

// Cancel forgets a pending unary call; a late response is dropped.
func (t *ClientTransport) Cancel(seq uint32) {
	t.pending.Delete(seq)
}

// OpenStream starts a streaming call. The stream is bound to ctx: once ctx is done,
// Recv returns ctx.Err() and late frames are dropped.
func (t *ClientTransport) OpenStream(ctx context.Context, serviceMethod string) (*ClientStream, error) {
	t.sending.Lock()
	defer t.sending.Unlock()
	if err := t.Err(); err != nil {
		return nil, err
	}

	t.seq++
	s := newClientStream(ctx, t, t.seq, serviceMethod)
	t.pending.Store(s.seq, s)

	if err := t.writeLocked(protocol.MsgTypeStreamOpen, s.seq, &message.RPCMessage{ServiceMethod: serviceMethod}); err != nil {
		t.pending.Delete(s.seq)
		return nil, err
	}
	go s.watchContext()
	return s, nil
}

// write encodes one frame under the sending lock.
func (t *ClientTransport) write(msgType protocol.MsgType, seq uint32, env *message.RPCMessage) error {
	t.sending.Lock()
	defer t.sending.Unlock()
	if err := t.Err(); err != nil {
		return err
	}
	return t.writeLocked(msgType, seq, env)
}

func (t *ClientTransport) writeLocked(msgType protocol.MsgType, seq uint32, env *message.RPCMessage) error {
	body, err := codec.GetCodec(t.codec).Encode(env)
	if err != nil {
		return err
	}
	header := protocol.Header{
		CodecType: byte(t.codec),
		MsgType:   msgType,
		Flags:     t.flags,
		Seq:       seq,
	}
	if err := protocol.Encode(t.conn, &header, body); err != nil {
		t.fail(err)
		return t.Err()
	}
	return nil
}

// recvLoop runs in a dedicated goroutine. Reads must be sequential to parse frame
// boundaries, so there is exactly one reader per connection.
func (t *ClientTransport) recvLoop() {
	for {
		header, body, err := protocol.Decode(t.conn)
		if err != nil {
			t.fail(err)
			return
		}
		if header.MsgType == protocol.MsgTypeHeartbeat {
			continue
		}

		env := &message.RPCMessage{}
		if err := codec.GetCodec(codec.CodecType(header.CodecType)).Decode(body, env); err != nil {
			t.fail(fmt.Errorf("decode %s frame: %w", header.MsgType, err))
			return
		}

		v, ok := t.pending.Load(header.Seq)
		if !ok {
			continue // cancelled call or stream
		}
		switch p := v.(type) {
		case chan Result:
			if header.MsgType != protocol.MsgTypeResponse {
				continue
			}
			if _, loaded := t.pending.LoadAndDelete(header.Seq); loaded {
				p <- Result{Message: env}
			}
		case *ClientStream:
			switch header.MsgType {
			case protocol.MsgTypeStreamMsg:
				p.deliver(streamEvent{msg: env})
			case protocol.MsgTypeStreamClose:
				t.pending.Delete(header.Seq)
				var err error
				if env.Error != "" {
					err = &RemoteError{Method: p.method, Message: env.Error}
				}
				p.finish(err)
			}
		}
	}
}

// fail marks the connection unusable and notifies every pending caller so none blocks
// forever.
func (t *ClientTransport) fail(cause error) {
	t.errMu.Lock()
	if t.err == nil {
		select {
		case <-t.done:
			t.err = ErrConnClosed
		default:
			t.err = fmt.Errorf("%w: %v", ErrConnClosed, cause)
		}
	}
	err := t.err
	t.errMu.Unlock()

	t.closeOnce.Do(func() { close(t.done) })
	t.conn.Close()

	t.pending.Range(func(key, value any) bool {
		if _, loaded := t.pending.LoadAndDelete(key); !loaded {
			return true
		}
		switch p := value.(type) {
		case chan Result:
			p <- Result{Err: err}
		case *ClientStream:
			p.finish(err)
		}
		return true
	})
}

// Err returns the reason the connection is unusable, or nil while it is healthy.
func (t *ClientTransport) Err() error {
	t.errMu.Lock()
	defer t.errMu.Unlock()
	return t.err
}

// Close tears down the connection. Pending calls fail with ErrConnClosed.
func (t *ClientTransport) Close() error {
	t.closeOnce.Do(func() { close(t.done) })
	t.fail(ErrConnClosed)
	return nil
}

// Conn returns the underlying connection.
func (t *ClientTransport) Conn() net.Conn {
	return t.conn
}

// heartbeatLoop sends periodic heartbeat frames so idle connections are not reaped.
func (t *ClientTransport) heartbeatLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
		}
		header := &protocol.Header{MsgType: protocol.MsgTypeHeartbeat, CodecType: byte(t.codec)}
		t.sending.Lock()
		err := protocol.Encode(t.conn, header, nil)
		t.sending.Unlock()
		if err != nil {
			t.fail(err)
			return
		}
	}
}
