package server

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"interop-rpc/codec"
	"interop-rpc/message"
	"interop-rpc/protocol"
)

type Args struct {
	A, B int32
}

func (a *Args) Marshal() ([]byte, error) {
	b := make([]byte, 8)
	binary.BigEndian.PutUint32(b[0:4], uint32(a.A))
	binary.BigEndian.PutUint32(b[4:8], uint32(a.B))
	return b, nil
}

func (a *Args) Unmarshal(b []byte) error {
	*a = Args{}
	if len(b) == 0 {
		return nil
	}
	if len(b) != 8 {
		return errors.New("args: want 8 bytes")
	}
	a.A = int32(binary.BigEndian.Uint32(b[0:4]))
	a.B = int32(binary.BigEndian.Uint32(b[4:8]))
	return nil
}

type Reply struct {
	Result int32
}

func (r *Reply) Marshal() ([]byte, error) {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, uint32(r.Result))
	return b, nil
}

func (r *Reply) Unmarshal(b []byte) error {
	*r = Reply{}
	if len(b) == 0 {
		return nil
	}
	if len(b) != 4 {
		return errors.New("reply: want 4 bytes")
	}
	r.Result = int32(binary.BigEndian.Uint32(b))
	return nil
}

type Arith struct{}

func (a *Arith) Add(args *Args, reply *Reply) error {
	reply.Result = args.A + args.B
	return nil
}

func (a *Arith) Div(ctx context.Context, args *Args, reply *Reply) error {
	if args.B == 0 {
		return errors.New("divide by zero")
	}
	reply.Result = args.A / args.B
	return nil
}

func (a *Arith) Panic(args *Args, reply *Reply) error {
	panic("boom")
}

// not an RPC method: wrong arity
func (a *Arith) Helper() {}

func startServer(t *testing.T, svr *Server) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go svr.ServeListener(l, "", nil)
	t.Cleanup(func() { svr.Shutdown(time.Second) })
	return l.Addr().String()
}

type rawConn struct {
	t    *testing.T
	conn net.Conn
	cdc  codec.Codec
}

func dialRaw(t *testing.T, addr string) *rawConn {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	conn.SetDeadline(time.Now().Add(5 * time.Second))
	t.Cleanup(func() { conn.Close() })
	return &rawConn{t: t, conn: conn, cdc: codec.GetCodec(codec.CodecTypeBinary)}
}

func (c *rawConn) send(msgType protocol.MsgType, seq uint32, env *message.RPCMessage) {
	c.t.Helper()
	body, err := c.cdc.Encode(env)
	if err != nil {
		c.t.Fatal(err)
	}
	h := protocol.Header{CodecType: protocol.CodecTypeBinary, MsgType: msgType, Seq: seq}
	if err := protocol.Encode(c.conn, &h, body); err != nil {
		c.t.Fatal(err)
	}
}

func (c *rawConn) recv() (*protocol.Header, *message.RPCMessage) {
	c.t.Helper()
	h, body, err := protocol.Decode(c.conn)
	if err != nil {
		c.t.Fatal(err)
	}
	env := &message.RPCMessage{}
	if err := c.cdc.Decode(body, env); err != nil {
		c.t.Fatal(err)
	}
	return h, env
}

func (c *rawConn) call(seq uint32, method string, args *Args) *message.RPCMessage {
	c.t.Helper()
	env, err := message.Pack(method, args)
	if err != nil {
		c.t.Fatal(err)
	}
	c.send(protocol.MsgTypeRequest, seq, env)
	h, resp := c.recv()
	if h.Seq != seq || h.MsgType != protocol.MsgTypeResponse {
		c.t.Fatalf("expect response seq %d, got %s seq %d", seq, h.MsgType, h.Seq)
	}
	return resp
}

func TestServerUnary(t *testing.T) {
	svr := NewServer()
	if err := svr.Register(&Arith{}); err != nil {
		t.Fatal(err)
	}
	c := dialRaw(t, startServer(t, svr))

	resp := c.call(123, "Arith.Add", &Args{1, 2})
	if resp.Error != "" {
		t.Fatalf("unexpected error: %s", resp.Error)
	}
	var reply Reply
	if err := reply.Unmarshal(resp.Payload); err != nil {
		t.Fatal(err)
	}
	if reply.Result != 3 {
		t.Fatalf("Expect get result = 3, get %v", reply.Result)
	}

	resp = c.call(124, "Arith.Div", &Args{7, 2})
	if err := reply.Unmarshal(resp.Payload); err != nil || reply.Result != 3 {
		t.Fatalf("Div: got %v, %v", reply.Result, err)
	}
}

func TestServerUnaryErrors(t *testing.T) {
	svr := NewServer()
	if err := svr.Register(&Arith{}); err != nil {
		t.Fatal(err)
	}
	c := dialRaw(t, startServer(t, svr))

	tests := []struct {
		method string
		want   string
	}{
		{"Arith.Div", "divide by zero"},
		{"Arith.Helper", "can't find method"},
		{"Nope.Add", "can't find service"},
		{"NoDot", "invalid service method"},
		{"Arith.Panic", "panicked"},
	}
	for i, tt := range tests {
		resp := c.call(uint32(i+1), tt.method, &Args{1, 0})
		if !strings.Contains(resp.Error, tt.want) {
			t.Errorf("%s: error %q, want it to contain %q", tt.method, resp.Error, tt.want)
		}
	}
}

func TestServerCompressedResponse(t *testing.T) {
	svr := NewServer()
	if err := svr.Register(&Arith{}); err != nil {
		t.Fatal(err)
	}
	c := dialRaw(t, startServer(t, svr))

	env, _ := message.Pack("Arith.Add", &Args{4, 5})
	body, _ := c.cdc.Encode(env)
	h := protocol.Header{CodecType: protocol.CodecTypeBinary, MsgType: protocol.MsgTypeRequest, Flags: protocol.FlagCompressed, Seq: 9}
	if err := protocol.Encode(c.conn, &h, body); err != nil {
		t.Fatal(err)
	}
	rh, resp := c.recv()
	if !rh.Compressed() {
		t.Fatal("expect response to mirror the compression flag")
	}
	var reply Reply
	if err := reply.Unmarshal(resp.Payload); err != nil || reply.Result != 9 {
		t.Fatalf("got %v, %v", reply.Result, err)
	}
}

// sumStream replies with a running total for every element, then ends cleanly.
func sumStream(s *ServerStream) error {
	var total int32
	for {
		var in Args
		err := s.Recv(&in)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		total += in.A
		if err := s.Send(&Reply{Result: total}); err != nil {
			return err
		}
	}
}

func TestServerStream(t *testing.T) {
	svr := NewServer()
	if err := svr.RegisterStream("Arith.Sum", sumStream); err != nil {
		t.Fatal(err)
	}
	c := dialRaw(t, startServer(t, svr))

	c.send(protocol.MsgTypeStreamOpen, 7, &message.RPCMessage{ServiceMethod: "Arith.Sum"})
	for i, want := range []int32{1, 3, 6} {
		env, _ := message.Pack("", &Args{A: int32(i + 1)})
		c.send(protocol.MsgTypeStreamMsg, 7, env)

		h, resp := c.recv()
		if h.MsgType != protocol.MsgTypeStreamMsg || h.Seq != 7 {
			t.Fatalf("expect StreamMsg seq 7, got %s seq %d", h.MsgType, h.Seq)
		}
		var reply Reply
		if err := reply.Unmarshal(resp.Payload); err != nil || reply.Result != want {
			t.Fatalf("element %d: got %v, %v, want %d", i, reply.Result, err, want)
		}
	}
	c.send(protocol.MsgTypeStreamClose, 7, &message.RPCMessage{})

	h, end := c.recv()
	if h.MsgType != protocol.MsgTypeStreamClose || end.Error != "" {
		t.Fatalf("expect clean StreamClose, got %s %q", h.MsgType, end.Error)
	}
}

func TestServerStreamErrors(t *testing.T) {
	svr := NewServer()
	svr.RegisterStream("Arith.Fail", func(s *ServerStream) error {
		return errors.New("handler failed")
	})
	c := dialRaw(t, startServer(t, svr))

	c.send(protocol.MsgTypeStreamOpen, 1, &message.RPCMessage{ServiceMethod: "Arith.Fail"})
	h, end := c.recv()
	if h.MsgType != protocol.MsgTypeStreamClose || end.Error != "handler failed" {
		t.Fatalf("got %s %q", h.MsgType, end.Error)
	}

	c.send(protocol.MsgTypeStreamOpen, 2, &message.RPCMessage{ServiceMethod: "Arith.Missing"})
	h, end = c.recv()
	if h.MsgType != protocol.MsgTypeStreamClose || !strings.Contains(end.Error, "can't find stream method") {
		t.Fatalf("got %s %q", h.MsgType, end.Error)
	}
}

func TestRegisterValidation(t *testing.T) {
	svr := NewServer()
	if err := svr.RegisterStream("NoDot", sumStream); err == nil {
		t.Error("expect error for a stream name without a method")
	}
	if err := svr.RegisterStream("Arith.Sum", sumStream); err != nil {
		t.Fatal(err)
	}
	if err := svr.RegisterStream("Arith.Sum", sumStream); err == nil {
		t.Error("expect error for a duplicate stream method")
	}
	if err := svr.Register(Arith{}); err == nil {
		t.Error("expect error for a non-pointer receiver")
	}
	type noMethods struct{}
	if err := svr.Register(&noMethods{}); err == nil {
		t.Error("expect error for a receiver without RPC methods")
	}
	if err := svr.RegisterName("", &Arith{}); err == nil {
		t.Error("expect error for an empty service name")
	}
}

func TestShutdownReturnsServe(t *testing.T) {
	svr := NewServer()
	svr.Register(&Arith{})
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	served := make(chan error, 1)
	go func() { served <- svr.ServeListener(l, "", nil) }()

	c := dialRaw(t, l.Addr().String())
	c.call(1, "Arith.Add", &Args{1, 1})

	if err := svr.Shutdown(time.Second); err != nil {
		t.Fatal(err)
	}
	select {
	case err := <-served:
		if err != nil {
			t.Fatalf("Serve returned %v after Shutdown", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after Shutdown")
	}
}

// Blob marshals to n zero bytes.
type Blob struct {
	n int
}

func (b *Blob) Marshal() ([]byte, error) { return make([]byte, b.n), nil }

func (b *Blob) Unmarshal(data []byte) error {
	b.n = len(data)
	return nil
}

type Filler struct{}

func (f *Filler) Fill(args *Args, reply *Blob) error {
	reply.n = int(args.A)
	return nil
}

func TestServerOversizedReply(t *testing.T) {
	svr := NewServer()
	if err := svr.Register(&Filler{}); err != nil {
		t.Fatal(err)
	}
	c := dialRaw(t, startServer(t, svr))

	resp := c.call(1, "Filler.Fill", &Args{A: int32(protocol.MaxBodyLen) + 1})
	if !strings.Contains(resp.Error, protocol.ErrBodyTooLarge.Error()) {
		t.Fatalf("expect a body too large error, got %q", resp.Error)
	}
	resp = c.call(2, "Filler.Fill", &Args{A: 16})
	if resp.Error != "" || len(resp.Payload) != 16 {
		t.Fatalf("connection should survive: got %q, %d bytes", resp.Error, len(resp.Payload))
	}
}

func TestServerOversizedStreamElement(t *testing.T) {
	svr := NewServer()
	svr.RegisterStream("Filler.Stream", func(s *ServerStream) error {
		return s.Send(&Blob{n: int(protocol.MaxBodyLen) + 1})
	})
	c := dialRaw(t, startServer(t, svr))

	c.send(protocol.MsgTypeStreamOpen, 4, &message.RPCMessage{ServiceMethod: "Filler.Stream"})
	h, end := c.recv()
	if h.MsgType != protocol.MsgTypeStreamClose || !strings.Contains(end.Error, protocol.ErrBodyTooLarge.Error()) {
		t.Fatalf("got %s %q", h.MsgType, end.Error)
	}
}

// Gate blocks Wait until release is closed.
type Gate struct {
	entered chan struct{}
	release chan struct{}
}

func (g *Gate) Wait(args *Args, reply *Reply) error {
	g.entered <- struct{}{}
	<-g.release
	return nil
}

func TestShutdownRefusesNewCalls(t *testing.T) {
	g := &Gate{entered: make(chan struct{}, 1), release: make(chan struct{})}
	svr := NewServer()
	if err := svr.Register(g); err != nil {
		t.Fatal(err)
	}
	svr.RegisterStream("Gate.Sum", sumStream)
	c := dialRaw(t, startServer(t, svr))

	env, _ := message.Pack("Gate.Wait", &Args{})
	c.send(protocol.MsgTypeRequest, 1, env)
	<-g.entered

	stopped := make(chan error, 1)
	go func() { stopped <- svr.Shutdown(5 * time.Second) }()
	deadline := time.Now().Add(2 * time.Second)
	for !svr.shutdown.Load() {
		if time.Now().After(deadline) {
			t.Fatal("Shutdown did not start")
		}
		time.Sleep(time.Millisecond)
	}

	c.send(protocol.MsgTypeRequest, 2, env)
	h, resp := c.recv()
	if h.Seq != 2 || h.MsgType != protocol.MsgTypeResponse || resp.Error != ErrShuttingDown.Error() {
		t.Fatalf("got %s seq %d %q", h.MsgType, h.Seq, resp.Error)
	}
	c.send(protocol.MsgTypeStreamOpen, 3, &message.RPCMessage{ServiceMethod: "Gate.Sum"})
	h, resp = c.recv()
	if h.Seq != 3 || h.MsgType != protocol.MsgTypeStreamClose || resp.Error != ErrShuttingDown.Error() {
		t.Fatalf("got %s seq %d %q", h.MsgType, h.Seq, resp.Error)
	}

	// the call in flight before Shutdown still completes
	close(g.release)
	h, resp = c.recv()
	if h.Seq != 1 || resp.Error != "" {
		t.Fatalf("got seq %d %q", h.Seq, resp.Error)
	}
	if err := <-stopped; err != nil {
		t.Fatal(err)
	}
}
