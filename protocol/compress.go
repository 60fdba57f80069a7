package protocol

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// EncodeAll and DecodeAll are safe for concurrent use, so one encoder and one decoder
// serve every connection in the process.
var (
	encoder = must(zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest)))
	decoder = must(zstd.NewReader(nil,
		zstd.WithDecoderConcurrency(0),
		zstd.WithDecoderMaxMemory(uint64(MaxBodyLen)),
	))
)

// must panics at init when the fixed zstd options are rejected.
func must[T any](v T, err error) T {
	if err != nil {
		panic(fmt.Sprintf("protocol: zstd setup: %v", err))
	}
	return v
}

func compress(body []byte) []byte {
	return encoder.EncodeAll(body, make([]byte, 0, len(body)/2))
}

func decompress(body []byte) ([]byte, error) {
	plain, err := decoder.DecodeAll(body, nil)
	if err != nil {
		return nil, fmt.Errorf("protocol: decompress body: %w", err)
	}
	if uint64(len(plain)) > uint64(MaxBodyLen) {
		return nil, fmt.Errorf("%w: %d bytes after decompression", ErrBodyTooLarge, len(plain))
	}
	return plain, nil
}
