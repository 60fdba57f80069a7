package codec

import (
	"encoding/json"
	"fmt"
)

// JSONCodec writes the envelope as a JSON object; Payload travels base64-encoded.
// It is the codec to pick when a frame capture has to be read by eye.
type JSONCodec struct{}

func (c *JSONCodec) Encode(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("codec: json encode: %w", err)
	}
	return b, nil
}

func (c *JSONCodec) Decode(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("codec: json decode: %w", err)
	}
	return nil
}

func (c *JSONCodec) Type() CodecType {
	return CodecTypeJSON
}
