// Package interop holds the conformance cases run by the interop client and the
// reference TestService the interop server exposes.
package interop

import (
	"crypto/rand"
	"errors"
	"fmt"

	"interop-rpc/protocol"
	"interop-rpc/testpb"
)

// ErrInvalidArgument marks a payload request the generator cannot satisfy.
var ErrInvalidArgument = errors.New("interop: invalid argument")

// NewPayload returns a payload of type t whose body is size zero bytes, whichever
// defined type is asked for. Equal sizes give byte-identical bodies, which is what lets
// a case compare a served body against a freshly generated one.
func NewPayload(t testpb.PayloadType, size int) (*testpb.Payload, error) {
	if size < 0 {
		return nil, fmt.Errorf("%w: requested a payload with negative size %d", ErrInvalidArgument, size)
	}
	switch t {
	case testpb.PayloadType_COMPRESSABLE, testpb.PayloadType_UNCOMPRESSABLE:
		return &testpb.Payload{Type: t, Body: make([]byte, size)}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported payload type %s", ErrInvalidArgument, t)
	}
}

// serverPayload is the server-side generator: UNCOMPRESSABLE bodies are random.
// Sizes that could never fit in one frame are refused before allocating.
func serverPayload(t testpb.PayloadType, size int32) (*testpb.Payload, error) {
	if size < 0 {
		return nil, fmt.Errorf("%w: requested a response with negative size %d", ErrInvalidArgument, size)
	}
	if uint64(size) > uint64(protocol.MaxBodyLen) {
		return nil, fmt.Errorf("%w: response size %d exceeds the %d byte frame limit", ErrInvalidArgument, size, protocol.MaxBodyLen)
	}
	body := make([]byte, size)
	switch t {
	case testpb.PayloadType_COMPRESSABLE:
	case testpb.PayloadType_UNCOMPRESSABLE:
		rand.Read(body)
	default:
		return nil, fmt.Errorf("%w: unsupported payload type %s", ErrInvalidArgument, t)
	}
	return &testpb.Payload{Type: t, Body: body}, nil
}
