// Package protocol implements the binary frame protocol spoken between interop clients
// and servers.
//
// A fixed-size 15-byte header is followed by a variable-length body. The receiver reads
// the header first to learn the body length, then reads exactly that many bytes.
//
// Frame format:
//
//	0      3  4  5  6  7         11        15
//	┌──────┬──┬──┬──┬──┬─────────┬─────────┬───────────────┐
//	│magic │v │ct│mt│fl│   seq   │ bodyLen │    body ...    │
//	│ mrp  │02│  │  │  │ uint32  │ uint32  │ bodyLen bytes  │
//	└──────┴──┴──┴──┴──┴─────────┴─────────┴───────────────┘
//
// Unary calls use one Request and one Response frame sharing a Seq. Streaming calls
// share a Seq across StreamOpen, any number of StreamMsg frames in either direction,
// and a StreamClose from each side: the client's marks half-close, the server's marks
// the end of the call and carries the error text, if any.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	MagicNumber byte = 0x6d // 'm'
	MagicByte2  byte = 0x72 // 'r'
	MagicByte3  byte = 0x70 // 'p'
	Version     byte = 0x02
	HeaderSize  int  = 15 // 3 (magic) + 1 (version) + 1 (codec) + 1 (msgType) + 1 (flags) + 4 (seq) + 4 (bodyLen)

	// MaxBodyLen bounds the allocation made for a single frame body.
	MaxBodyLen uint32 = 16 << 20
)

// MsgType distinguishes the frame kinds.
type MsgType byte

const (
	MsgTypeRequest     MsgType = 0 // Client → Server unary request
	MsgTypeResponse    MsgType = 1 // Server → Client unary response
	MsgTypeHeartbeat   MsgType = 2 // KeepAlive probe (no body)
	MsgTypeStreamOpen  MsgType = 3 // Client → Server, names the streaming method
	MsgTypeStreamMsg   MsgType = 4 // One stream element, either direction
	MsgTypeStreamClose MsgType = 5 // Client: half-close. Server: end of call with status
)

func (t MsgType) String() string {
	switch t {
	case MsgTypeRequest:
		return "request"
	case MsgTypeResponse:
		return "response"
	case MsgTypeHeartbeat:
		return "heartbeat"
	case MsgTypeStreamOpen:
		return "stream-open"
	case MsgTypeStreamMsg:
		return "stream-msg"
	case MsgTypeStreamClose:
		return "stream-close"
	default:
		return fmt.Sprintf("msgtype(%d)", byte(t))
	}
}

// Header flags.
const (
	FlagCompressed byte = 1 << 0 // body is zstd-compressed
)

// Codec type constants, mirrored from codec package to avoid circular import.
const (
	CodecTypeJSON   byte = 0
	CodecTypeBinary byte = 1
)

var (
	ErrInvalidMagic = errors.New("protocol: invalid magic number")
	ErrBadVersion   = errors.New("protocol: unsupported version")
	ErrBadCodec     = errors.New("protocol: unsupported codec type")
	ErrBadMsgType   = errors.New("protocol: unsupported message type")
	ErrBodyTooLarge = errors.New("protocol: body too large")
	ErrUnknownFlags = errors.New("protocol: unknown header flags")
)

// Header represents the fixed 15-byte frame header.
type Header struct {
	CodecType byte    // Envelope format: 0=JSON, 1=Binary
	MsgType   MsgType // Frame kind
	Flags     byte    // FlagCompressed, ...
	Seq       uint32  // Call id: matches request ↔ response and groups stream frames
	BodyLen   uint32  // Length of the body as written on the wire
}

// Compressed reports whether the body on the wire is compressed.
func (h *Header) Compressed() bool {
	return h.Flags&FlagCompressed != 0
}

// Encode writes a complete frame (header + body) to w. If h has FlagCompressed set the
// body is compressed first and h.BodyLen is updated to the compressed length.
// The caller must hold a write lock if multiple goroutines share the same writer.
func Encode(w io.Writer, h *Header, body []byte) error {
	if h.Compressed() && len(body) > 0 {
		body = compress(body)
	}
	if uint64(len(body)) > uint64(MaxBodyLen) {
		return fmt.Errorf("%w: %d bytes", ErrBodyTooLarge, len(body))
	}
	h.BodyLen = uint32(len(body))

	buf := make([]byte, HeaderSize, HeaderSize+len(body))
	copy(buf[0:3], []byte{MagicNumber, MagicByte2, MagicByte3})
	buf[3] = Version
	buf[4] = h.CodecType
	buf[5] = byte(h.MsgType)
	buf[6] = h.Flags
	binary.BigEndian.PutUint32(buf[7:11], h.Seq)
	binary.BigEndian.PutUint32(buf[11:15], h.BodyLen)

	// One Write per frame so a frame is never split by a failed second write.
	buf = append(buf, body...)
	_, err := w.Write(buf)
	return err
}

// Decode reads a complete frame (header + body) from r, validating the header fields.
// Compressed bodies are returned decompressed; the header still reports the flag and
// the on-wire length.
func Decode(r io.Reader) (*Header, []byte, error) {
	headerBuf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, headerBuf); err != nil {
		return nil, nil, err
	}

	if headerBuf[0] != MagicNumber || headerBuf[1] != MagicByte2 || headerBuf[2] != MagicByte3 {
		return nil, nil, fmt.Errorf("%w: %x", ErrInvalidMagic, headerBuf[0:3])
	}
	if headerBuf[3] != Version {
		return nil, nil, fmt.Errorf("%w: %d", ErrBadVersion, headerBuf[3])
	}
	if headerBuf[4] != CodecTypeJSON && headerBuf[4] != CodecTypeBinary {
		return nil, nil, fmt.Errorf("%w: %d", ErrBadCodec, headerBuf[4])
	}
	msgType := MsgType(headerBuf[5])
	if msgType > MsgTypeStreamClose {
		return nil, nil, fmt.Errorf("%w: %d", ErrBadMsgType, headerBuf[5])
	}
	flags := headerBuf[6]
	if flags&^FlagCompressed != 0 {
		return nil, nil, fmt.Errorf("%w: %#x", ErrUnknownFlags, flags)
	}

	seq := binary.BigEndian.Uint32(headerBuf[7:11])
	bodyLen := binary.BigEndian.Uint32(headerBuf[11:15])
	if bodyLen > MaxBodyLen {
		return nil, nil, fmt.Errorf("%w: %d bytes", ErrBodyTooLarge, bodyLen)
	}

	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, nil, err
	}

	h := &Header{
		CodecType: headerBuf[4],
		MsgType:   msgType,
		Flags:     flags,
		Seq:       seq,
		BodyLen:   bodyLen,
	}
	if h.Compressed() && len(body) > 0 {
		plain, err := decompress(body)
		if err != nil {
			return nil, nil, err
		}
		body = plain
	}
	return h, body, nil
}
