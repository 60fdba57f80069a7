package interop

import (
	"context"
	"errors"
	"io"
	"time"

	"go.uber.org/zap"

	"interop-rpc/testpb"
)

// TestServer is the reference TestService implementation.
type TestServer struct {
	log *zap.Logger
}

// NewTestServer returns the reference service. A nil logger disables logging.
func NewTestServer(log *zap.Logger) *TestServer {
	if log == nil {
		log = zap.NewNop()
	}
	return &TestServer{log: log}
}

var _ testpb.TestServiceServer = (*TestServer)(nil)

func (s *TestServer) EmptyCall(ctx context.Context, in *testpb.Empty) (*testpb.Empty, error) {
	return new(testpb.Empty), nil
}

func (s *TestServer) UnaryCall(ctx context.Context, in *testpb.SimpleRequest) (*testpb.SimpleResponse, error) {
	pl, err := serverPayload(in.ResponseType, in.ResponseSize)
	if err != nil {
		return nil, err
	}
	return &testpb.SimpleResponse{Payload: pl}, nil
}

func (s *TestServer) StreamingInputCall(stream testpb.TestService_StreamingInputCallServer) error {
	var sum int
	for {
		in, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			s.log.Debug("streaming input done", zap.Int("aggregated", sum))
			return stream.SendAndClose(&testpb.StreamingInputCallResponse{AggregatedPayloadSize: int32(sum)})
		}
		if err != nil {
			return err
		}
		sum += len(in.GetPayload().GetBody())
	}
}

func (s *TestServer) StreamingOutputCall(in *testpb.StreamingOutputCallRequest, stream testpb.TestService_StreamingOutputCallServer) error {
	return s.respond(stream.Context(), in, stream.Send)
}

func (s *TestServer) FullDuplexCall(stream testpb.TestService_FullDuplexCallServer) error {
	for {
		in, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := s.respond(stream.Context(), in, stream.Send); err != nil {
			return err
		}
	}
}

// HalfDuplexCall buffers every request until the client half-closes, then answers
// them in order.
func (s *TestServer) HalfDuplexCall(stream testpb.TestService_HalfDuplexCallServer) error {
	var buf []*testpb.StreamingOutputCallRequest
	for {
		in, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		buf = append(buf, in)
	}
	for _, in := range buf {
		if err := s.respond(stream.Context(), in, stream.Send); err != nil {
			return err
		}
	}
	return nil
}

// respond sends one response per parameter, waiting interval_us before each.
func (s *TestServer) respond(ctx context.Context, in *testpb.StreamingOutputCallRequest, send func(*testpb.StreamingOutputCallResponse) error) error {
	for _, p := range in.ResponseParameters {
		if p.IntervalUs > 0 {
			if err := sleep(ctx, time.Duration(p.IntervalUs)*time.Microsecond); err != nil {
				return err
			}
		}
		pl, err := serverPayload(in.ResponseType, p.Size)
		if err != nil {
			return err
		}
		if err := send(&testpb.StreamingOutputCallResponse{Payload: pl}); err != nil {
			return err
		}
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
