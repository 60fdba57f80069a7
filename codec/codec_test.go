package codec

import (
	"bytes"
	"testing"

	"interop-rpc/message"
)

func roundTrip(t *testing.T, c Codec, in *message.RPCMessage) *message.RPCMessage {
	t.Helper()
	data, err := c.Encode(in)
	if err != nil {
		t.Fatalf("%s Encode failed: %v", c.Type(), err)
	}
	var out message.RPCMessage
	if err := c.Decode(data, &out); err != nil {
		t.Fatalf("%s Decode failed: %v", c.Type(), err)
	}
	return &out
}

func TestCodecs(t *testing.T) {
	msgs := []*message.RPCMessage{
		{ServiceMethod: "TestService.UnaryCall", Payload: []byte{0x08, 0x01, 0x10, 0xaf, 0x96, 0x13}},
		{ServiceMethod: "TestService.EmptyCall"},
		{Error: "payload size must be non-negative"},
	}
	for _, c := range []Codec{&JSONCodec{}, &BinaryCodec{}} {
		for _, in := range msgs {
			out := roundTrip(t, c, in)
			if out.ServiceMethod != in.ServiceMethod {
				t.Errorf("%s ServiceMethod mismatch: got %s, want %s", c.Type(), out.ServiceMethod, in.ServiceMethod)
			}
			if !bytes.Equal(out.Payload, in.Payload) {
				t.Errorf("%s Payload mismatch: got %v, want %v", c.Type(), out.Payload, in.Payload)
			}
			if out.Error != in.Error {
				t.Errorf("%s Error mismatch: got %s, want %s", c.Type(), out.Error, in.Error)
			}
		}
	}
}

func TestBinaryCodecRejectsTruncated(t *testing.T) {
	c := &BinaryCodec{}
	data, err := c.Encode(&message.RPCMessage{ServiceMethod: "TestService.UnaryCall", Payload: []byte("abc")})
	if err != nil {
		t.Fatal(err)
	}
	for n := 0; n < len(data); n++ {
		var out message.RPCMessage
		if err := c.Decode(data[:n], &out); err == nil {
			t.Fatalf("expected error decoding %d of %d bytes", n, len(data))
		}
	}
}

func TestBinaryCodecRejectsNonEnvelope(t *testing.T) {
	c := &BinaryCodec{}
	if _, err := c.Encode("not an envelope"); err == nil {
		t.Fatal("expected error encoding a string")
	}
	var s string
	if err := c.Decode([]byte{0, 0, 0, 0, 0, 0, 0, 0}, &s); err == nil {
		t.Fatal("expected error decoding into a string")
	}
}

func TestParseType(t *testing.T) {
	cases := map[string]CodecType{"json": CodecTypeJSON, "JSON": CodecTypeJSON, "binary": CodecTypeBinary, "": CodecTypeBinary}
	for in, want := range cases {
		got, err := ParseType(in)
		if err != nil || got != want {
			t.Errorf("ParseType(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseType("gob"); err == nil {
		t.Error("expected error for unknown codec")
	}
}
