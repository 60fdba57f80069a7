package testpb

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// fieldFunc consumes the value of one field from b and returns the bytes used.
// Returning 0 with a nil error marks the field as unknown; walk skips it.
type fieldFunc func(num protowire.Number, typ protowire.Type, b []byte) (int, error)

func walk(data []byte, field fieldFunc) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("testpb: bad tag: %w", protowire.ParseError(n))
		}
		data = data[n:]

		m, err := field(num, typ, data)
		if err != nil {
			return err
		}
		if m == 0 {
			m = protowire.ConsumeFieldValue(num, typ, data)
		}
		if m < 0 {
			return fmt.Errorf("testpb: field %d: %w", num, protowire.ParseError(m))
		}
		data = data[m:]
	}
	return nil
}

// appendVarint writes a varint field, omitting the proto3 default.
func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendPayload(b []byte, num protowire.Number, p *Payload) []byte {
	if p == nil {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, p.appendTo(nil))
}

func consumePayload(b []byte, dst **Payload) (int, error) {
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return n, nil
	}
	p := &Payload{}
	if err := p.Unmarshal(v); err != nil {
		return 0, err
	}
	*dst = p
	return n, nil
}
