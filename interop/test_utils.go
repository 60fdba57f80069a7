package interop

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"interop-rpc/testpb"
)

const (
	largeReqSize  = 271828
	largeRespSize = 314159
)

var (
	reqSizes      = []int{27182, 8, 1828, 45904}
	respSizes     = []int{31415, 9, 2653, 58979}
	aggregateSize = int32(74922)
)

// ConformanceError reports a server whose answer violates a case's expectations.
// Transport and handler failures are returned as they are, never as a ConformanceError.
type ConformanceError struct {
	Case  Case
	Check string
	Want  any
	Got   any
}

func (e *ConformanceError) Error() string {
	return fmt.Sprintf("%s: %s: got %v, want %v", e.Case, e.Check, e.Got, e.Want)
}

func fail(c Case, check string, want, got any) error {
	return &ConformanceError{Case: c, Check: check, Want: want, Got: got}
}

// callErr wraps a stub error with the case and call; errors.Is and errors.As still
// reach the original.
func callErr(c Case, call string, err error) error {
	return fmt.Errorf("%s: %s: %w", c, call, err)
}

// DoEmptyUnaryCall sends an Empty and expects an Empty back.
func DoEmptyUnaryCall(ctx context.Context, tc testpb.TestServiceClient) error {
	reply, err := tc.EmptyCall(ctx, &testpb.Empty{})
	if err != nil {
		return callErr(EmptyUnary, "EmptyCall", err)
	}
	if reply == nil {
		return fail(EmptyUnary, "response", "*testpb.Empty", "nil")
	}
	return nil
}

// DoLargeUnaryCall asks for a large COMPRESSABLE response and checks its bytes.
func DoLargeUnaryCall(ctx context.Context, tc testpb.TestServiceClient) error {
	pl, err := NewPayload(testpb.PayloadType_COMPRESSABLE, largeReqSize)
	if err != nil {
		return err
	}
	req := &testpb.SimpleRequest{
		ResponseType: testpb.PayloadType_COMPRESSABLE,
		ResponseSize: largeRespSize,
		Payload:      pl,
	}
	reply, err := tc.UnaryCall(ctx, req)
	if err != nil {
		return callErr(LargeUnary, "UnaryCall", err)
	}

	got := reply.GetPayload()
	if t := got.GetType(); t != testpb.PayloadType_COMPRESSABLE {
		return fail(LargeUnary, "response payload type", testpb.PayloadType_COMPRESSABLE, t)
	}
	if n := len(got.GetBody()); n != largeRespSize {
		return fail(LargeUnary, "response payload length", largeRespSize, n)
	}
	want, err := NewPayload(testpb.PayloadType_COMPRESSABLE, largeRespSize)
	if err != nil {
		return err
	}
	if !bytes.Equal(got.GetBody(), want.Body) {
		return fail(LargeUnary, "response payload body", "filler bytes", fmt.Sprintf("mismatch at offset %d", firstDiff(got.GetBody(), want.Body)))
	}
	return nil
}

// DoClientStreaming uploads four payloads and checks the aggregated size.
func DoClientStreaming(ctx context.Context, tc testpb.TestServiceClient) error {
	stream, err := tc.StreamingInputCall(ctx)
	if err != nil {
		return callErr(ClientStreaming, "StreamingInputCall", err)
	}
	for _, s := range reqSizes {
		pl, err := NewPayload(testpb.PayloadType_COMPRESSABLE, s)
		if err != nil {
			return err
		}
		if err := stream.Send(&testpb.StreamingInputCallRequest{Payload: pl}); err != nil {
			return callErr(ClientStreaming, "Send", err)
		}
	}
	reply, err := stream.CloseAndRecv()
	if err != nil {
		return callErr(ClientStreaming, "CloseAndRecv", err)
	}
	if got := reply.GetAggregatedPayloadSize(); got != aggregateSize {
		return fail(ClientStreaming, "aggregated payload size", aggregateSize, got)
	}
	return nil
}

// DoServerStreaming requests four responses and checks each by position.
func DoServerStreaming(ctx context.Context, tc testpb.TestServiceClient) error {
	params := make([]*testpb.ResponseParameters, len(respSizes))
	for i, s := range respSizes {
		params[i] = &testpb.ResponseParameters{Size: int32(s)}
	}
	req := &testpb.StreamingOutputCallRequest{
		ResponseType:       testpb.PayloadType_COMPRESSABLE,
		ResponseParameters: params,
	}
	stream, err := tc.StreamingOutputCall(ctx, req)
	if err != nil {
		return callErr(ServerStreaming, "StreamingOutputCall", err)
	}

	index := 0
	for {
		reply, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return callErr(ServerStreaming, "Recv", err)
		}
		if index >= len(respSizes) {
			return fail(ServerStreaming, "response count", len(respSizes), fmt.Sprintf("more than %d", len(respSizes)))
		}
		if err := checkStreamed(ServerStreaming, index, reply, respSizes[index]); err != nil {
			return err
		}
		index++
	}
	if index != len(respSizes) {
		return fail(ServerStreaming, "response count", len(respSizes), index)
	}
	return nil
}

// DoPingPong interleaves four requests and responses on one duplex stream.
func DoPingPong(ctx context.Context, tc testpb.TestServiceClient) error {
	stream, err := tc.FullDuplexCall(ctx)
	if err != nil {
		return callErr(PingPong, "FullDuplexCall", err)
	}
	for index, s := range reqSizes {
		pl, err := NewPayload(testpb.PayloadType_COMPRESSABLE, s)
		if err != nil {
			return err
		}
		req := &testpb.StreamingOutputCallRequest{
			ResponseType:       testpb.PayloadType_COMPRESSABLE,
			ResponseParameters: []*testpb.ResponseParameters{{Size: int32(respSizes[index])}},
			Payload:            pl,
		}
		if err := stream.Send(req); err != nil {
			return callErr(PingPong, "Send", err)
		}
		reply, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return fail(PingPong, "response count", len(reqSizes), index)
		}
		if err != nil {
			return callErr(PingPong, "Recv", err)
		}
		if err := checkStreamed(PingPong, index, reply, respSizes[index]); err != nil {
			return err
		}
	}
	if err := stream.CloseSend(); err != nil {
		return callErr(PingPong, "CloseSend", err)
	}
	switch _, err := stream.Recv(); {
	case err == nil:
		return fail(PingPong, "response count", len(reqSizes), fmt.Sprintf("more than %d", len(reqSizes)))
	case !errors.Is(err, io.EOF):
		return callErr(PingPong, "Recv", err)
	}
	return nil
}

func checkStreamed(c Case, index int, reply *testpb.StreamingOutputCallResponse, size int) error {
	pl := reply.GetPayload()
	if t := pl.GetType(); t != testpb.PayloadType_COMPRESSABLE {
		return fail(c, fmt.Sprintf("response %d payload type", index), testpb.PayloadType_COMPRESSABLE, t)
	}
	if n := len(pl.GetBody()); n != size {
		return fail(c, fmt.Sprintf("response %d payload length", index), size, n)
	}
	return nil
}

func firstDiff(a, b []byte) int {
	for i := range a {
		if i >= len(b) || a[i] != b[i] {
			return i
		}
	}
	return len(a)
}
