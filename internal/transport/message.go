package transport

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// Message types.
const (
	// MsgOpen binds a connection to a camera. Payload: unique id, NUL,
	// comma-separated control list.
	MsgOpen uint16 = 0x0001

	// MsgOpenAck answers MsgOpen. Payload: int32 status, 0 or -errno.
	MsgOpenAck uint16 = 0x0002

	// MsgRequest carries a 64-byte command request.
	MsgRequest uint16 = 0x0010

	// MsgResponse carries a 64-byte command response.
	MsgResponse uint16 = 0x0011

	// MsgEvent carries a 64-byte event.
	MsgEvent uint16 = 0x0012

	// MsgClose unbinds the connection. No payload.
	MsgClose uint16 = 0x00ff
)

const (
	// headerSize is size(2) + type(2).
	headerSize = 4

	// maxMessageSize bounds a whole message including the header.
	maxMessageSize = 1024
)

var (
	// ErrClosed is returned by operations on a closed connection.
	ErrClosed = errors.New("transport: connection closed")

	// ErrInvalidMessage is returned for malformed messages.
	ErrInvalidMessage = errors.New("transport: invalid message")

	// ErrProtocolDesync is returned when a declared message size cannot be
	// honoured. The stream is unusable afterwards.
	ErrProtocolDesync = errors.New("transport: protocol desync")

	// ErrQueueFull is returned when an event cannot be queued.
	ErrQueueFull = errors.New("transport: event queue full")
)

// EncodeMessage frames a payload.
//
//	Byte 0-1: size of type + payload (big-endian)
//	Byte 2-3: message type (big-endian)
//	Byte 4+:  payload
func EncodeMessage(msgType uint16, payload []byte) []byte {
	buf := make([]byte, headerSize+len(payload))
	binary.BigEndian.PutUint16(buf[0:2], uint16(2+len(payload))) //nolint:gosec // bounded by maxMessageSize
	binary.BigEndian.PutUint16(buf[2:4], msgType)
	copy(buf[headerSize:], payload)
	return buf
}

// ParseMessage parses one complete framed message.
func ParseMessage(data []byte) (msgType uint16, payload []byte, err error) {
	if len(data) < headerSize {
		return 0, nil, fmt.Errorf("%w: message too short (%d bytes)", ErrInvalidMessage, len(data))
	}
	declared := binary.BigEndian.Uint16(data[0:2])
	if int(declared) != len(data)-2 {
		return 0, nil, fmt.Errorf("%w: size mismatch (declared %d, got %d)",
			ErrInvalidMessage, declared, len(data)-2)
	}
	msgType = binary.BigEndian.Uint16(data[2:4])
	if len(data) > headerSize {
		payload = data[headerSize:]
	}
	return msgType, payload, nil
}

// OpenRequest is the MsgOpen payload.
type OpenRequest struct {
	UniqueID string
	Controls string
}

// Encode returns the MsgOpen payload.
func (o OpenRequest) Encode() []byte {
	b := make([]byte, 0, len(o.UniqueID)+1+len(o.Controls))
	b = append(b, o.UniqueID...)
	b = append(b, 0)
	return append(b, o.Controls...)
}

// ParseOpenRequest decodes a MsgOpen payload.
func ParseOpenRequest(payload []byte) (OpenRequest, error) {
	id, controls, ok := bytes.Cut(payload, []byte{0})
	if !ok {
		return OpenRequest{}, fmt.Errorf("%w: open payload has no separator", ErrInvalidMessage)
	}
	if len(id) == 0 {
		return OpenRequest{}, fmt.Errorf("%w: empty unique id", ErrInvalidMessage)
	}
	return OpenRequest{UniqueID: string(id), Controls: string(controls)}, nil
}

// EncodeStatus returns a MsgOpenAck payload.
func EncodeStatus(status int32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, uint32(status))
	return b
}

// ParseStatus decodes a MsgOpenAck payload.
func ParseStatus(payload []byte) (int32, error) {
	if len(payload) != 4 {
		return 0, fmt.Errorf("%w: status payload is %d bytes", ErrInvalidMessage, len(payload))
	}
	return int32(binary.BigEndian.Uint32(payload)), nil
}
