package testpb

import (
	"context"
	"errors"
	"fmt"
	"io"

	"interop-rpc/message"
	"interop-rpc/server"
	"interop-rpc/transport"
)

// ServiceName is the name TestService registers under.
const ServiceName = "TestService"

const (
	EmptyCallMethod           = ServiceName + ".EmptyCall"
	UnaryCallMethod           = ServiceName + ".UnaryCall"
	StreamingInputCallMethod  = ServiceName + ".StreamingInputCall"
	StreamingOutputCallMethod = ServiceName + ".StreamingOutputCall"
	FullDuplexCallMethod      = ServiceName + ".FullDuplexCall"
	HalfDuplexCallMethod      = ServiceName + ".HalfDuplexCall"
)

// ErrExtraResponse is returned when a call that ends in exactly one response gets more.
var ErrExtraResponse = errors.New("testpb: more than one response")

// TestServiceClient is the client API for TestService.
type TestServiceClient interface {
	// One empty request followed by one empty response.
	EmptyCall(ctx context.Context, in *Empty) (*Empty, error)
	// One request followed by one response.
	UnaryCall(ctx context.Context, in *SimpleRequest) (*SimpleResponse, error)
	// A sequence of requests followed by one response (streamed upload).
	StreamingInputCall(ctx context.Context) (TestService_StreamingInputCallClient, error)
	// One request followed by a sequence of responses (streamed download).
	StreamingOutputCall(ctx context.Context, in *StreamingOutputCallRequest) (TestService_StreamingOutputCallClient, error)
	// A sequence of requests, each answered as it arrives.
	FullDuplexCall(ctx context.Context) (TestService_FullDuplexCallClient, error)
	// A sequence of requests answered only after the client half-closes.
	HalfDuplexCall(ctx context.Context) (TestService_HalfDuplexCallClient, error)
}

type TestService_StreamingInputCallClient interface {
	Send(*StreamingInputCallRequest) error
	CloseAndRecv() (*StreamingInputCallResponse, error)
}

type TestService_StreamingOutputCallClient interface {
	Recv() (*StreamingOutputCallResponse, error)
}

type TestService_FullDuplexCallClient interface {
	Send(*StreamingOutputCallRequest) error
	Recv() (*StreamingOutputCallResponse, error)
	CloseSend() error
}

type TestService_HalfDuplexCallClient = TestService_FullDuplexCallClient

// Conn is what the generated client needs from a connection; *client.Client
// satisfies it.
type Conn interface {
	Call(ctx context.Context, serviceMethod string, args, reply message.Message) error
	NewStream(ctx context.Context, serviceMethod string) (*transport.ClientStream, error)
}

type testServiceClient struct {
	cc Conn
}

func NewTestServiceClient(cc Conn) TestServiceClient {
	return &testServiceClient{cc}
}

func (c *testServiceClient) EmptyCall(ctx context.Context, in *Empty) (*Empty, error) {
	out := new(Empty)
	if err := c.cc.Call(ctx, EmptyCallMethod, in, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *testServiceClient) UnaryCall(ctx context.Context, in *SimpleRequest) (*SimpleResponse, error) {
	out := new(SimpleResponse)
	if err := c.cc.Call(ctx, UnaryCallMethod, in, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *testServiceClient) StreamingInputCall(ctx context.Context) (TestService_StreamingInputCallClient, error) {
	s, err := c.cc.NewStream(ctx, StreamingInputCallMethod)
	if err != nil {
		return nil, err
	}
	return &streamingInputCallClient{s}, nil
}

type streamingInputCallClient struct {
	s *transport.ClientStream
}

func (x *streamingInputCallClient) Send(m *StreamingInputCallRequest) error {
	return x.s.Send(m)
}

// CloseAndRecv half-closes, reads the single response and checks the call then ends.
func (x *streamingInputCallClient) CloseAndRecv() (*StreamingInputCallResponse, error) {
	if err := x.s.CloseSend(); err != nil {
		return nil, err
	}
	m := new(StreamingInputCallResponse)
	if err := x.s.Recv(m); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("testpb: %s ended without a response: %w", StreamingInputCallMethod, io.ErrUnexpectedEOF)
		}
		return nil, err
	}
	switch err := x.s.Recv(new(StreamingInputCallResponse)); {
	case err == nil:
		return nil, fmt.Errorf("%w: %s", ErrExtraResponse, StreamingInputCallMethod)
	case !errors.Is(err, io.EOF):
		return nil, err
	}
	return m, nil
}

func (c *testServiceClient) StreamingOutputCall(ctx context.Context, in *StreamingOutputCallRequest) (TestService_StreamingOutputCallClient, error) {
	s, err := c.cc.NewStream(ctx, StreamingOutputCallMethod)
	if err != nil {
		return nil, err
	}
	if err := s.Send(in); err != nil {
		return nil, err
	}
	if err := s.CloseSend(); err != nil {
		return nil, err
	}
	return &duplexClient{s}, nil
}

func (c *testServiceClient) FullDuplexCall(ctx context.Context) (TestService_FullDuplexCallClient, error) {
	s, err := c.cc.NewStream(ctx, FullDuplexCallMethod)
	if err != nil {
		return nil, err
	}
	return &duplexClient{s}, nil
}

func (c *testServiceClient) HalfDuplexCall(ctx context.Context) (TestService_HalfDuplexCallClient, error) {
	s, err := c.cc.NewStream(ctx, HalfDuplexCallMethod)
	if err != nil {
		return nil, err
	}
	return &duplexClient{s}, nil
}

// duplexClient serves the output, full and half duplex shapes.
type duplexClient struct {
	s *transport.ClientStream
}

func (x *duplexClient) Send(m *StreamingOutputCallRequest) error {
	return x.s.Send(m)
}

func (x *duplexClient) Recv() (*StreamingOutputCallResponse, error) {
	m := new(StreamingOutputCallResponse)
	if err := x.s.Recv(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (x *duplexClient) CloseSend() error {
	return x.s.CloseSend()
}

// TestServiceServer is the server API for TestService.
type TestServiceServer interface {
	EmptyCall(context.Context, *Empty) (*Empty, error)
	UnaryCall(context.Context, *SimpleRequest) (*SimpleResponse, error)
	StreamingInputCall(TestService_StreamingInputCallServer) error
	StreamingOutputCall(*StreamingOutputCallRequest, TestService_StreamingOutputCallServer) error
	FullDuplexCall(TestService_FullDuplexCallServer) error
	HalfDuplexCall(TestService_HalfDuplexCallServer) error
}

type TestService_StreamingInputCallServer interface {
	SendAndClose(*StreamingInputCallResponse) error
	Recv() (*StreamingInputCallRequest, error)
	Context() context.Context
}

type TestService_StreamingOutputCallServer interface {
	Send(*StreamingOutputCallResponse) error
	Context() context.Context
}

type TestService_FullDuplexCallServer interface {
	Send(*StreamingOutputCallResponse) error
	Recv() (*StreamingOutputCallRequest, error)
	Context() context.Context
}

type TestService_HalfDuplexCallServer = TestService_FullDuplexCallServer

// Registrar is the part of *server.Server that service registration uses.
type Registrar interface {
	RegisterName(name string, rcvr any) error
	RegisterStream(serviceMethod string, h server.StreamHandler) error
}

// RegisterTestServiceServer binds srv's unary methods and stream handlers to s.
func RegisterTestServiceServer(s Registrar, srv TestServiceServer) error {
	if err := s.RegisterName(ServiceName, &unaryMethods{srv}); err != nil {
		return err
	}
	streams := []struct {
		method string
		h      server.StreamHandler
	}{
		{StreamingInputCallMethod, func(st *server.ServerStream) error {
			return srv.StreamingInputCall(&streamingInputCallServer{st})
		}},
		{StreamingOutputCallMethod, func(st *server.ServerStream) error {
			in := new(StreamingOutputCallRequest)
			if err := st.Recv(in); err != nil {
				if errors.Is(err, io.EOF) {
					return fmt.Errorf("testpb: %s: missing request", StreamingOutputCallMethod)
				}
				return err
			}
			return srv.StreamingOutputCall(in, &duplexServer{st})
		}},
		{FullDuplexCallMethod, func(st *server.ServerStream) error {
			return srv.FullDuplexCall(&duplexServer{st})
		}},
		{HalfDuplexCallMethod, func(st *server.ServerStream) error {
			return srv.HalfDuplexCall(&duplexServer{st})
		}},
	}
	for _, st := range streams {
		if err := s.RegisterStream(st.method, st.h); err != nil {
			return err
		}
	}
	return nil
}

// unaryMethods exposes the unary half of a TestServiceServer in the shape the
// reflection registry expects.
type unaryMethods struct {
	srv TestServiceServer
}

func (u *unaryMethods) EmptyCall(ctx context.Context, in *Empty, out *Empty) error {
	_, err := u.srv.EmptyCall(ctx, in)
	return err
}

func (u *unaryMethods) UnaryCall(ctx context.Context, in *SimpleRequest, out *SimpleResponse) error {
	resp, err := u.srv.UnaryCall(ctx, in)
	if err != nil {
		return err
	}
	if resp != nil {
		*out = *resp
	}
	return nil
}

type streamingInputCallServer struct {
	s *server.ServerStream
}

func (x *streamingInputCallServer) SendAndClose(m *StreamingInputCallResponse) error {
	return x.s.Send(m)
}

func (x *streamingInputCallServer) Recv() (*StreamingInputCallRequest, error) {
	m := new(StreamingInputCallRequest)
	if err := x.s.Recv(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (x *streamingInputCallServer) Context() context.Context { return x.s.Context() }

type duplexServer struct {
	s *server.ServerStream
}

func (x *duplexServer) Send(m *StreamingOutputCallResponse) error {
	return x.s.Send(m)
}

func (x *duplexServer) Recv() (*StreamingOutputCallRequest, error) {
	m := new(StreamingOutputCallRequest)
	if err := x.s.Recv(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (x *duplexServer) Context() context.Context { return x.s.Context() }
