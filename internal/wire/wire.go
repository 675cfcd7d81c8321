// Package wire is the framed CBOR protocol spoken between the termdeck
// client and daemon.
//
// Each frame is a 5-byte header (1 byte frame type, 4 bytes big-endian
// payload length) followed by a CBOR-encoded envelope. Requests carry a
// method name and arguments, responses echo the request id, and events are
// unsolicited pushes from the daemon.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

const (
	FrameRequest  byte = 0x01
	FrameResponse byte = 0x02
	FrameEvent    byte = 0x03
)

const headerLength = 5

// MaxPayload bounds a single frame. Terminal chunks are at most a few KiB;
// 16 MiB leaves room for large pastes.
const MaxPayload = 16 * 1024 * 1024

var (
	ErrFrameTooLarge = errors.New("wire: frame too large")
	ErrUnknownFrame  = errors.New("wire: unknown frame type")
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("wire: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("wire: CBOR decoder initialization failed: " + err.Error())
	}
}

// RawMessage is an encoded CBOR value whose decoding is deferred.
type RawMessage = cbor.RawMessage

// Marshal encodes v with Core Deterministic Encoding.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// Request invokes a named method.
type Request struct {
	ID     uint64     `cbor:"id"`
	Method string     `cbor:"method"`
	Args   RawMessage `cbor:"args,omitempty"`
}

// Response answers the request with the same ID. Exactly one of Result and
// Error is meaningful.
type Response struct {
	ID     uint64       `cbor:"id"`
	Result RawMessage   `cbor:"result,omitempty"`
	Error  *RemoteError `cbor:"error,omitempty"`
}

// Event is a push delivered to every subscriber of Name.
type Event struct {
	Name    string     `cbor:"name"`
	Payload RawMessage `cbor:"payload,omitempty"`
}

// RemoteError is a failure reported by the peer.
type RemoteError struct {
	Code    string `cbor:"code"`
	Message string `cbor:"message"`
}

func (e *RemoteError) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return e.Code + ": " + e.Message
}

// Frame is one decoded unit read off the stream. Exactly one of the
// pointers is set, matching Type.
type Frame struct {
	Type     byte
	Request  *Request
	Response *Response
	Event    *Event
}

// WriteFrame encodes body and writes it with its header. The header and
// payload go out in a single Write so concurrent writers guarded by one
// mutex never interleave partial frames.
func WriteFrame(w io.Writer, frameType byte, body any) error {
	payload, err := Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode frame: %w", err)
	}
	if len(payload) > MaxPayload {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(payload))
	}
	buf := make([]byte, headerLength+len(payload))
	buf[0] = frameType
	binary.BigEndian.PutUint32(buf[1:headerLength], uint32(len(payload)))
	copy(buf[headerLength:], payload)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}

// ReadFrame reads and decodes the next frame.
func ReadFrame(r io.Reader) (Frame, error) {
	var header [headerLength]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return Frame{}, err
	}
	length := binary.BigEndian.Uint32(header[1:headerLength])
	if length > MaxPayload {
		return Frame{}, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, length)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Frame{}, fmt.Errorf("failed to read frame payload: %w", err)
	}

	frame := Frame{Type: header[0]}
	var target any
	switch frame.Type {
	case FrameRequest:
		frame.Request = &Request{}
		target = frame.Request
	case FrameResponse:
		frame.Response = &Response{}
		target = frame.Response
	case FrameEvent:
		frame.Event = &Event{}
		target = frame.Event
	default:
		return Frame{}, fmt.Errorf("%w: 0x%02x", ErrUnknownFrame, frame.Type)
	}
	if err := Unmarshal(payload, target); err != nil {
		return Frame{}, fmt.Errorf("failed to decode frame: %w", err)
	}
	return frame, nil
}
