package interop

import (
	"context"
	"io"

	"interop-rpc/testpb"
)

// fakeStub answers like a conforming server unless one of the hooks bends a result.
type fakeStub struct {
	err error // returned by every call when set

	nilEmpty bool
	unary    func(resp *testpb.SimpleResponse)
	sumDelta int32
	output   func(resps []*testpb.StreamingOutputCallResponse) []*testpb.StreamingOutputCallResponse
	duplex   func(index int, resp *testpb.StreamingOutputCallResponse) []*testpb.StreamingOutputCallResponse
	extra    bool // one more duplex response after CloseSend
}

var _ testpb.TestServiceClient = (*fakeStub)(nil)

func honest(t testpb.PayloadType, size int32) *testpb.StreamingOutputCallResponse {
	pl, _ := serverPayload(t, size)
	return &testpb.StreamingOutputCallResponse{Payload: pl}
}

func (f *fakeStub) EmptyCall(ctx context.Context, in *testpb.Empty) (*testpb.Empty, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.nilEmpty {
		return nil, nil
	}
	return &testpb.Empty{}, nil
}

func (f *fakeStub) UnaryCall(ctx context.Context, in *testpb.SimpleRequest) (*testpb.SimpleResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	pl, err := serverPayload(in.ResponseType, in.ResponseSize)
	if err != nil {
		return nil, err
	}
	resp := &testpb.SimpleResponse{Payload: pl}
	if f.unary != nil {
		f.unary(resp)
	}
	return resp, nil
}

func (f *fakeStub) StreamingInputCall(ctx context.Context) (testpb.TestService_StreamingInputCallClient, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &fakeInput{f: f}, nil
}

func (f *fakeStub) StreamingOutputCall(ctx context.Context, in *testpb.StreamingOutputCallRequest) (testpb.TestService_StreamingOutputCallClient, error) {
	if f.err != nil {
		return nil, f.err
	}
	var resps []*testpb.StreamingOutputCallResponse
	for _, p := range in.ResponseParameters {
		resps = append(resps, honest(in.ResponseType, p.Size))
	}
	if f.output != nil {
		resps = f.output(resps)
	}
	return &fakeDuplex{queue: resps}, nil
}

func (f *fakeStub) FullDuplexCall(ctx context.Context) (testpb.TestService_FullDuplexCallClient, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &fakeDuplex{f: f}, nil
}

func (f *fakeStub) HalfDuplexCall(ctx context.Context) (testpb.TestService_HalfDuplexCallClient, error) {
	return f.FullDuplexCall(ctx)
}

type fakeInput struct {
	f   *fakeStub
	sum int32
}

func (x *fakeInput) Send(m *testpb.StreamingInputCallRequest) error {
	x.sum += int32(len(m.GetPayload().GetBody()))
	return nil
}

func (x *fakeInput) CloseAndRecv() (*testpb.StreamingInputCallResponse, error) {
	return &testpb.StreamingInputCallResponse{AggregatedPayloadSize: x.sum + x.f.sumDelta}, nil
}

type fakeDuplex struct {
	f     *fakeStub
	sent  int
	queue []*testpb.StreamingOutputCallResponse
}

func (x *fakeDuplex) Send(m *testpb.StreamingOutputCallRequest) error {
	var resps []*testpb.StreamingOutputCallResponse
	for _, p := range m.ResponseParameters {
		resps = append(resps, honest(m.ResponseType, p.Size))
	}
	if x.f != nil && x.f.duplex != nil {
		var bent []*testpb.StreamingOutputCallResponse
		for _, r := range resps {
			bent = append(bent, x.f.duplex(x.sent, r)...)
		}
		resps = bent
	}
	x.sent++
	x.queue = append(x.queue, resps...)
	return nil
}

func (x *fakeDuplex) Recv() (*testpb.StreamingOutputCallResponse, error) {
	if len(x.queue) == 0 {
		return nil, io.EOF
	}
	m := x.queue[0]
	x.queue = x.queue[1:]
	return m, nil
}

func (x *fakeDuplex) CloseSend() error {
	if x.f != nil && x.f.extra {
		x.queue = append(x.queue, honest(testpb.PayloadType_COMPRESSABLE, 1))
	}
	return nil
}
