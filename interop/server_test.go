package interop

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"interop-rpc/client"
	"interop-rpc/codec"
	"interop-rpc/registry"
	"interop-rpc/server"
	"interop-rpc/testpb"
	"interop-rpc/transport"
)

func startTestServer(t *testing.T) string {
	t.Helper()
	svr := server.NewServer()
	if err := testpb.RegisterTestServiceServer(svr, NewTestServer(nil)); err != nil {
		t.Fatal(err)
	}
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go svr.ServeListener(l, "", nil)
	t.Cleanup(func() { svr.Shutdown(time.Second) })
	return l.Addr().String()
}

func dialTestService(t *testing.T, addr string, opts transport.Options) testpb.TestServiceClient {
	t.Helper()
	c := client.NewClient(registry.NewStaticRegistry(testpb.ServiceName, addr), nil, client.Options{Transport: opts})
	t.Cleanup(func() { c.Close() })
	return testpb.NewTestServiceClient(c)
}

func TestReferenceServerPassesEveryCase(t *testing.T) {
	addr := startTestServer(t)
	for _, opts := range []transport.Options{
		{Codec: codec.CodecTypeJSON},
		{Codec: codec.CodecTypeBinary},
		{Codec: codec.CodecTypeBinary, Compress: true},
	} {
		tc := dialTestService(t, addr, opts)
		for _, c := range Cases() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := Run(ctx, c, tc); err != nil {
				t.Errorf("%+v %s: %v", opts, c, err)
			}
			cancel()
		}
	}
}

func TestReferenceServerErrors(t *testing.T) {
	tc := dialTestService(t, startTestServer(t), transport.Options{})
	ctx := context.Background()

	_, err := tc.UnaryCall(ctx, &testpb.SimpleRequest{ResponseSize: -1})
	var remote *transport.RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("negative size: expect *transport.RemoteError, got %v", err)
	}
	if !strings.Contains(remote.Message, "negative size") {
		t.Fatalf("unexpected message %q", remote.Message)
	}

	_, err = tc.UnaryCall(ctx, &testpb.SimpleRequest{ResponseSize: 17 << 20})
	if !errors.As(err, &remote) || !strings.Contains(remote.Message, "frame limit") {
		t.Fatalf("oversized response: expect a frame limit *transport.RemoteError, got %v", err)
	}

	// The connection survives a handler error.
	if _, err := tc.EmptyCall(ctx, &testpb.Empty{}); err != nil {
		t.Fatalf("EmptyCall after an error: %v", err)
	}
}

func TestReferenceServerHalfDuplexOverNetwork(t *testing.T) {
	tc := dialTestService(t, startTestServer(t), transport.Options{Codec: codec.CodecTypeBinary})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := tc.HalfDuplexCall(ctx)
	if err != nil {
		t.Fatal(err)
	}
	sizes := []int32{3, 1, 4}
	for _, s := range sizes {
		req := &testpb.StreamingOutputCallRequest{ResponseParameters: []*testpb.ResponseParameters{{Size: s}}}
		if err := stream.Send(req); err != nil {
			t.Fatal(err)
		}
	}
	if err := stream.CloseSend(); err != nil {
		t.Fatal(err)
	}
	for i, s := range sizes {
		resp, err := stream.Recv()
		if err != nil {
			t.Fatalf("response %d: %v", i, err)
		}
		if n := len(resp.GetPayload().GetBody()); n != int(s) {
			t.Fatalf("response %d: expect %d bytes, got %d", i, s, n)
		}
	}
	if _, err := stream.Recv(); !errors.Is(err, io.EOF) {
		t.Fatalf("expect io.EOF, got %v", err)
	}
}

// scriptedStream feeds queued requests to a handler and records what it sends.
type scriptedStream struct {
	ctx       context.Context
	queue     []*testpb.StreamingOutputCallRequest
	recvs     int
	sent      []*testpb.StreamingOutputCallResponse
	sentAfter []int // recvs observed when each response was sent
	sentAt    []time.Time
}

func (s *scriptedStream) Recv() (*testpb.StreamingOutputCallRequest, error) {
	if len(s.queue) == 0 {
		return nil, io.EOF
	}
	m := s.queue[0]
	s.queue = s.queue[1:]
	s.recvs++
	return m, nil
}

func (s *scriptedStream) Send(m *testpb.StreamingOutputCallResponse) error {
	s.sent = append(s.sent, m)
	s.sentAfter = append(s.sentAfter, s.recvs)
	s.sentAt = append(s.sentAt, time.Now())
	return nil
}

func (s *scriptedStream) Context() context.Context { return s.ctx }

func requests(sizes ...int32) []*testpb.StreamingOutputCallRequest {
	var reqs []*testpb.StreamingOutputCallRequest
	for _, s := range sizes {
		reqs = append(reqs, &testpb.StreamingOutputCallRequest{
			ResponseParameters: []*testpb.ResponseParameters{{Size: s}},
		})
	}
	return reqs
}

func TestHalfDuplexBuffersUntilHalfClose(t *testing.T) {
	st := &scriptedStream{ctx: context.Background(), queue: requests(5, 6, 7)}
	if err := NewTestServer(nil).HalfDuplexCall(st); err != nil {
		t.Fatal(err)
	}
	if len(st.sent) != 3 {
		t.Fatalf("expect 3 responses, got %d", len(st.sent))
	}
	for i, after := range st.sentAfter {
		if after != 3 {
			t.Fatalf("response %d sent after %d requests, want all 3", i, after)
		}
		if n := len(st.sent[i].GetPayload().GetBody()); n != 5+i {
			t.Fatalf("response %d: expect %d bytes, got %d", i, 5+i, n)
		}
	}
}

func TestFullDuplexAnswersEachRequest(t *testing.T) {
	st := &scriptedStream{ctx: context.Background(), queue: requests(5, 6, 7)}
	if err := NewTestServer(nil).FullDuplexCall(st); err != nil {
		t.Fatal(err)
	}
	for i, after := range st.sentAfter {
		if after != i+1 {
			t.Fatalf("response %d sent after %d requests, want %d", i, after, i+1)
		}
	}
}

func TestStreamingOutputHonorsInterval(t *testing.T) {
	st := &scriptedStream{ctx: context.Background()}
	in := &testpb.StreamingOutputCallRequest{ResponseParameters: []*testpb.ResponseParameters{
		{Size: 1, IntervalUs: 20000},
		{Size: 2, IntervalUs: 20000},
	}}
	start := time.Now()
	if err := NewTestServer(nil).StreamingOutputCall(in, st); err != nil {
		t.Fatal(err)
	}
	if len(st.sent) != 2 {
		t.Fatalf("expect 2 responses, got %d", len(st.sent))
	}
	if d := st.sentAt[0].Sub(start); d < 20*time.Millisecond {
		t.Fatalf("first response after %v, want at least 20ms", d)
	}
	if d := st.sentAt[1].Sub(st.sentAt[0]); d < 20*time.Millisecond {
		t.Fatalf("second response after %v, want at least 20ms", d)
	}
}

func TestStreamingOutputIntervalCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	st := &scriptedStream{ctx: ctx}
	in := &testpb.StreamingOutputCallRequest{ResponseParameters: []*testpb.ResponseParameters{{Size: 1, IntervalUs: 1000000}}}
	if err := NewTestServer(nil).StreamingOutputCall(in, st); !errors.Is(err, context.Canceled) {
		t.Fatalf("expect context.Canceled, got %v", err)
	}
	if len(st.sent) != 0 {
		t.Fatalf("expect no responses, got %d", len(st.sent))
	}
}

func TestUncompressableBodiesAreRandom(t *testing.T) {
	srv := NewTestServer(nil)
	req := &testpb.SimpleRequest{ResponseType: testpb.PayloadType_UNCOMPRESSABLE, ResponseSize: 64}
	a, err := srv.UnaryCall(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	b, err := srv.UnaryCall(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if a.Payload.Type != testpb.PayloadType_UNCOMPRESSABLE || len(a.Payload.Body) != 64 {
		t.Fatalf("unexpected payload %s/%d", a.Payload.Type, len(a.Payload.Body))
	}
	if bytes.Equal(a.Payload.Body, b.Payload.Body) || bytes.Equal(a.Payload.Body, make([]byte, 64)) {
		t.Fatal("UNCOMPRESSABLE bodies should be random")
	}
}

func TestZeroLengthEmptyOverNetwork(t *testing.T) {
	tc := dialTestService(t, startTestServer(t), transport.Options{Codec: codec.CodecTypeBinary})
	ctx := context.Background()

	got, err := tc.EmptyCall(ctx, &testpb.Empty{})
	if err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Fatal("expect a non-nil Empty")
	}
	resp, err := tc.UnaryCall(ctx, &testpb.SimpleRequest{ResponseSize: 0})
	if err != nil {
		t.Fatal(err)
	}
	if n := len(resp.GetPayload().GetBody()); n != 0 {
		t.Fatalf("expect an empty body, got %d bytes", n)
	}
}
