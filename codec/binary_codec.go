package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"interop-rpc/message"
)

var (
	errNotRPCMessage = errors.New("BinaryCodec: v must be *RPCMessage")
	errShortBuffer   = errors.New("BinaryCodec: short buffer")
)

// BinaryCodec lays an RPCMessage out as three length-prefixed fields:
//
//	u16 len | ServiceMethod | u32 len | Payload | u16 len | Error
type BinaryCodec struct{}

func (c *BinaryCodec) Encode(v any) ([]byte, error) {
	msg, ok := v.(*message.RPCMessage)
	if !ok {
		return nil, errNotRPCMessage
	}
	if len(msg.ServiceMethod) > math.MaxUint16 {
		return nil, fmt.Errorf("BinaryCodec: service method too long (%d bytes)", len(msg.ServiceMethod))
	}
	errText := msg.Error
	if len(errText) > math.MaxUint16 {
		errText = errText[:math.MaxUint16]
	}

	total := 2 + len(msg.ServiceMethod) + 4 + len(msg.Payload) + 2 + len(errText)
	buf := make([]byte, total)

	offset := 0
	binary.BigEndian.PutUint16(buf[offset:offset+2], uint16(len(msg.ServiceMethod)))
	offset += 2
	offset += copy(buf[offset:], msg.ServiceMethod)

	binary.BigEndian.PutUint32(buf[offset:offset+4], uint32(len(msg.Payload)))
	offset += 4
	offset += copy(buf[offset:], msg.Payload)

	binary.BigEndian.PutUint16(buf[offset:offset+2], uint16(len(errText)))
	offset += 2
	copy(buf[offset:], errText)
	return buf, nil
}

func (c *BinaryCodec) Decode(data []byte, v any) error {
	msg, ok := v.(*message.RPCMessage)
	if !ok {
		return errNotRPCMessage
	}

	offset := 0
	next := func(n int) ([]byte, error) {
		if n < 0 || len(data)-offset < n {
			return nil, errShortBuffer
		}
		b := data[offset : offset+n]
		offset += n
		return b, nil
	}

	b, err := next(2)
	if err != nil {
		return err
	}
	method, err := next(int(binary.BigEndian.Uint16(b)))
	if err != nil {
		return err
	}

	if b, err = next(4); err != nil {
		return err
	}
	payload, err := next(int(binary.BigEndian.Uint32(b)))
	if err != nil {
		return err
	}

	if b, err = next(2); err != nil {
		return err
	}
	errText, err := next(int(binary.BigEndian.Uint16(b)))
	if err != nil {
		return err
	}
	if offset != len(data) {
		return fmt.Errorf("BinaryCodec: %d trailing bytes", len(data)-offset)
	}

	msg.ServiceMethod = string(method)
	msg.Payload = append([]byte(nil), payload...)
	msg.Error = string(errText)
	return nil
}

func (c *BinaryCodec) Type() CodecType {
	return CodecTypeBinary
}
