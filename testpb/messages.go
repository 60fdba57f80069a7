// Package testpb defines the TestService contract exercised by the interop harness: the
// request and response messages, their protobuf wire encoding, and the client and
// server interfaces for the service's call shapes.
//
// Field numbers follow the grpc.testing messages, so bodies produced here decode in any
// implementation that speaks that schema.
package testpb

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// PayloadType selects how a payload body is filled.
type PayloadType int32

const (
	// COMPRESSABLE bodies are zero-filled.
	PayloadType_COMPRESSABLE PayloadType = 0
	// UNCOMPRESSABLE bodies are random.
	PayloadType_UNCOMPRESSABLE PayloadType = 1
)

func (t PayloadType) String() string {
	switch t {
	case PayloadType_COMPRESSABLE:
		return "COMPRESSABLE"
	case PayloadType_UNCOMPRESSABLE:
		return "UNCOMPRESSABLE"
	default:
		return fmt.Sprintf("PayloadType(%d)", int32(t))
	}
}

// Empty is the request and response of EmptyCall. It encodes to zero bytes.
type Empty struct{}

type Payload struct {
	Type PayloadType
	Body []byte
}

type SimpleRequest struct {
	ResponseType PayloadType
	ResponseSize int32
	Payload      *Payload
}

type SimpleResponse struct {
	Payload *Payload
}

type StreamingInputCallRequest struct {
	Payload *Payload
}

type StreamingInputCallResponse struct {
	AggregatedPayloadSize int32
}

// ResponseParameters describes one response of a streaming output call.
type ResponseParameters struct {
	Size       int32
	IntervalUs int32
}

type StreamingOutputCallRequest struct {
	ResponseType       PayloadType
	ResponseParameters []*ResponseParameters
	Payload            *Payload
}

type StreamingOutputCallResponse struct {
	Payload *Payload
}

// Getters tolerate nil receivers so validation code can chain through absent fields.

func (p *Payload) GetType() PayloadType {
	if p == nil {
		return PayloadType_COMPRESSABLE
	}
	return p.Type
}

func (p *Payload) GetBody() []byte {
	if p == nil {
		return nil
	}
	return p.Body
}

func (r *SimpleResponse) GetPayload() *Payload {
	if r == nil {
		return nil
	}
	return r.Payload
}

func (r *StreamingInputCallRequest) GetPayload() *Payload {
	if r == nil {
		return nil
	}
	return r.Payload
}

func (r *StreamingInputCallResponse) GetAggregatedPayloadSize() int32 {
	if r == nil {
		return 0
	}
	return r.AggregatedPayloadSize
}

func (r *StreamingOutputCallResponse) GetPayload() *Payload {
	if r == nil {
		return nil
	}
	return r.Payload
}

// Marshal / Unmarshal

func (m *Empty) Marshal() ([]byte, error) { return nil, nil }

func (m *Empty) Unmarshal(data []byte) error {
	return walk(data, func(protowire.Number, protowire.Type, []byte) (int, error) {
		return 0, nil
	})
}

func (m *Payload) Marshal() ([]byte, error) {
	return m.appendTo(nil), nil
}

func (m *Payload) appendTo(b []byte) []byte {
	b = appendVarint(b, 1, uint64(m.Type))
	if len(m.Body) > 0 {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, m.Body)
	}
	return b
}

func (m *Payload) Unmarshal(data []byte) error {
	*m = Payload{}
	return walk(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == 1 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			m.Type = PayloadType(int32(v))
			return n, nil
		case num == 2 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			m.Body = append([]byte(nil), v...)
			return n, nil
		}
		return 0, nil
	})
}

func (m *SimpleRequest) Marshal() ([]byte, error) {
	var b []byte
	b = appendVarint(b, 1, uint64(m.ResponseType))
	b = appendVarint(b, 2, uint64(m.ResponseSize))
	b = appendPayload(b, 3, m.Payload)
	return b, nil
}

func (m *SimpleRequest) Unmarshal(data []byte) error {
	*m = SimpleRequest{}
	return walk(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == 1 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			m.ResponseType = PayloadType(int32(v))
			return n, nil
		case num == 2 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			m.ResponseSize = int32(v)
			return n, nil
		case num == 3 && typ == protowire.BytesType:
			return consumePayload(b, &m.Payload)
		}
		return 0, nil
	})
}

func (m *SimpleResponse) Marshal() ([]byte, error) {
	return appendPayload(nil, 1, m.Payload), nil
}

func (m *SimpleResponse) Unmarshal(data []byte) error {
	*m = SimpleResponse{}
	return walk(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num == 1 && typ == protowire.BytesType {
			return consumePayload(b, &m.Payload)
		}
		return 0, nil
	})
}

func (m *StreamingInputCallRequest) Marshal() ([]byte, error) {
	return appendPayload(nil, 1, m.Payload), nil
}

func (m *StreamingInputCallRequest) Unmarshal(data []byte) error {
	*m = StreamingInputCallRequest{}
	return walk(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num == 1 && typ == protowire.BytesType {
			return consumePayload(b, &m.Payload)
		}
		return 0, nil
	})
}

func (m *StreamingInputCallResponse) Marshal() ([]byte, error) {
	return appendVarint(nil, 1, uint64(m.AggregatedPayloadSize)), nil
}

func (m *StreamingInputCallResponse) Unmarshal(data []byte) error {
	*m = StreamingInputCallResponse{}
	return walk(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num == 1 && typ == protowire.VarintType {
			v, n := protowire.ConsumeVarint(b)
			m.AggregatedPayloadSize = int32(v)
			return n, nil
		}
		return 0, nil
	})
}

func (m *ResponseParameters) Marshal() ([]byte, error) {
	return m.appendTo(nil), nil
}

func (m *ResponseParameters) appendTo(b []byte) []byte {
	b = appendVarint(b, 1, uint64(m.Size))
	b = appendVarint(b, 2, uint64(m.IntervalUs))
	return b
}

func (m *ResponseParameters) Unmarshal(data []byte) error {
	*m = ResponseParameters{}
	return walk(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == 1 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			m.Size = int32(v)
			return n, nil
		case num == 2 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			m.IntervalUs = int32(v)
			return n, nil
		}
		return 0, nil
	})
}

func (m *StreamingOutputCallRequest) Marshal() ([]byte, error) {
	var b []byte
	b = appendVarint(b, 1, uint64(m.ResponseType))
	for _, p := range m.ResponseParameters {
		if p == nil {
			p = &ResponseParameters{}
		}
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, p.appendTo(nil))
	}
	b = appendPayload(b, 3, m.Payload)
	return b, nil
}

func (m *StreamingOutputCallRequest) Unmarshal(data []byte) error {
	*m = StreamingOutputCallRequest{}
	return walk(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == 1 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			m.ResponseType = PayloadType(int32(v))
			return n, nil
		case num == 2 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			p := &ResponseParameters{}
			if err := p.Unmarshal(v); err != nil {
				return 0, err
			}
			m.ResponseParameters = append(m.ResponseParameters, p)
			return n, nil
		case num == 3 && typ == protowire.BytesType:
			return consumePayload(b, &m.Payload)
		}
		return 0, nil
	})
}

func (m *StreamingOutputCallResponse) Marshal() ([]byte, error) {
	return appendPayload(nil, 1, m.Payload), nil
}

func (m *StreamingOutputCallResponse) Unmarshal(data []byte) error {
	*m = StreamingOutputCallResponse{}
	return walk(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num == 1 && typ == protowire.BytesType {
			return consumePayload(b, &m.Payload)
		}
		return 0, nil
	})
}
