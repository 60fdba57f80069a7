// Package message defines the RPC envelope exchanged between client and server and the
// contract payload messages satisfy.
//
// RPCMessage is the "envelope" for every frame that carries data. It gets serialized by
// the codec layer and wrapped in a protocol frame for transmission.
package message

// RPCMessage carries the data for a single unary request/response or stream element.
//
//   - On request and stream-open: ServiceMethod is set, Error is empty.
//   - On response and server stream-close: Error is non-empty if the call failed.
//   - Payload is the wire encoding of the request or reply Message, possibly empty.
type RPCMessage struct {
	ServiceMethod string // Format: "ServiceName.MethodName", e.g., "TestService.UnaryCall"
	Error         string // Non-empty if the server-side handler returned an error
	Payload       []byte // Marshaled Message
}

// Message is implemented by every request and reply type carried in a Payload.
// Unmarshal must accept a zero-length input: it is the encoding of a message with
// every field at its default.
type Message interface {
	Marshal() ([]byte, error)
	Unmarshal(data []byte) error
}

// Pack marshals m and returns an envelope for the given method.
func Pack(serviceMethod string, m Message) (*RPCMessage, error) {
	payload, err := m.Marshal()
	if err != nil {
		return nil, err
	}
	return &RPCMessage{ServiceMethod: serviceMethod, Payload: payload}, nil
}
