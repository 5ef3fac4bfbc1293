package cameraif

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Record geometry. Every request, response and event is a fixed 64-byte
// little-endian record carrying a 56-byte operation-specific payload.
const (
	RecordSize  = 64
	PayloadSize = 56
	MaxPlanes   = 4

	// HeaderSize covers the id and operation of a request or response.
	HeaderSize = 3
)

// Operation codes.
const (
	OpConfigSet      uint8 = 0x00
	OpConfigGet      uint8 = 0x01
	OpConfigValidate uint8 = 0x02
	OpFrameRateSet   uint8 = 0x03
	OpBufGetLayout   uint8 = 0x04
	OpBufRequest     uint8 = 0x05
	OpBufCreate      uint8 = 0x06
	OpBufDestroy     uint8 = 0x07
	OpBufQueue       uint8 = 0x08
	OpBufDequeue     uint8 = 0x09
	OpCtrlEnum       uint8 = 0x0a
	OpCtrlSet        uint8 = 0x0b
	OpCtrlGet        uint8 = 0x0c
	OpStreamStart    uint8 = 0x0d
	OpStreamStop     uint8 = 0x0e
)

// Event types.
const (
	EvtFrameAvail uint8 = 0x00
	EvtCtrlChange uint8 = 0x01
)

// Control types.
const (
	CtrlBrightness uint8 = 0
	CtrlContrast   uint8 = 1
	CtrlSaturation uint8 = 2
	CtrlHue        uint8 = 3
)

// Control flags.
const (
	CtrlFlagReadOnly  uint32 = 1 << 0
	CtrlFlagWriteOnly uint32 = 1 << 1
	CtrlFlagVolatile  uint32 = 1 << 2
)

// Control names and list syntax used in the frontend configuration.
const (
	CtrlNameBrightness = "brightness"
	CtrlNameContrast   = "contrast"
	CtrlNameSaturation = "saturation"
	CtrlNameHue        = "hue"

	ListSeparator = ","
)

// ErrShortRecord is returned when decoding fewer than RecordSize bytes.
var ErrShortRecord = errors.New("cameraif: short record")

var opNames = map[uint8]string{
	OpConfigSet:      "config_set",
	OpConfigGet:      "config_get",
	OpConfigValidate: "config_validate",
	OpFrameRateSet:   "frame_rate_set",
	OpBufGetLayout:   "buf_get_layout",
	OpBufRequest:     "buf_request",
	OpBufCreate:      "buf_create",
	OpBufDestroy:     "buf_destroy",
	OpBufQueue:       "buf_queue",
	OpBufDequeue:     "buf_dequeue",
	OpCtrlEnum:       "ctrl_enum",
	OpCtrlSet:        "ctrl_set",
	OpCtrlGet:        "ctrl_get",
	OpStreamStart:    "stream_start",
	OpStreamStop:     "stream_stop",
}

// OpName returns a readable name for an operation code.
func OpName(op uint8) string {
	if n, ok := opNames[op]; ok {
		return n
	}
	return fmt.Sprintf("op_%#02x", op)
}

// Request is a frontend request.
//
//	offset 0  id         u16
//	offset 2  operation  u8
//	offset 3  reserved   [5]u8
//	offset 8  payload    [56]u8
type Request struct {
	ID        uint16
	Operation uint8
	Payload   [PayloadSize]byte
}

// ParseRequest decodes a request record.
//
// A record shorter than RecordSize yields ErrShortRecord. When it still
// carries HeaderSize bytes the returned request has its ID and Operation
// set, so the caller can answer it.
func ParseRequest(b []byte) (Request, error) {
	var r Request
	if len(b) >= HeaderSize {
		r.ID = binary.LittleEndian.Uint16(b[0:2])
		r.Operation = b[2]
	}
	if len(b) < RecordSize {
		return r, fmt.Errorf("%w: request is %d bytes", ErrShortRecord, len(b))
	}
	copy(r.Payload[:], b[8:RecordSize])
	return r, nil
}

// Marshal encodes the request record.
func (r Request) Marshal() []byte {
	b := make([]byte, RecordSize)
	binary.LittleEndian.PutUint16(b[0:2], r.ID)
	b[2] = r.Operation
	copy(b[8:], r.Payload[:])
	return b
}

// Response answers a Request.
//
//	offset 0  id         u16
//	offset 2  operation  u8
//	offset 3  reserved   u8
//	offset 4  status     i32
//	offset 8  payload    [56]u8
type Response struct {
	ID        uint16
	Operation uint8
	Status    int32
	Payload   [PayloadSize]byte
}

// NewResponse returns a zeroed response echoing the request.
func NewResponse(req Request) Response {
	return Response{ID: req.ID, Operation: req.Operation}
}

// ParseResponse decodes a response record.
func ParseResponse(b []byte) (Response, error) {
	if len(b) < RecordSize {
		return Response{}, fmt.Errorf("%w: response is %d bytes", ErrShortRecord, len(b))
	}
	r := Response{
		ID:        binary.LittleEndian.Uint16(b[0:2]),
		Operation: b[2],
		Status:    int32(binary.LittleEndian.Uint32(b[4:8])),
	}
	copy(r.Payload[:], b[8:RecordSize])
	return r, nil
}

// Marshal encodes the response record.
func (r Response) Marshal() []byte {
	b := make([]byte, RecordSize)
	binary.LittleEndian.PutUint16(b[0:2], r.ID)
	b[2] = r.Operation
	binary.LittleEndian.PutUint32(b[4:8], uint32(r.Status))
	copy(b[8:], r.Payload[:])
	return b
}

// Event is an unsolicited notification to the frontend.
//
//	offset 0  id        u16
//	offset 2  type      u8
//	offset 3  reserved  [5]u8
//	offset 8  payload   [56]u8
type Event struct {
	ID      uint16
	Type    uint8
	Payload [PayloadSize]byte
}

// ParseEvent decodes an event record.
func ParseEvent(b []byte) (Event, error) {
	if len(b) < RecordSize {
		return Event{}, fmt.Errorf("%w: event is %d bytes", ErrShortRecord, len(b))
	}
	e := Event{
		ID:   binary.LittleEndian.Uint16(b[0:2]),
		Type: b[2],
	}
	copy(e.Payload[:], b[8:RecordSize])
	return e, nil
}

// Marshal encodes the event record.
func (e Event) Marshal() []byte {
	b := make([]byte, RecordSize)
	binary.LittleEndian.PutUint16(b[0:2], e.ID)
	b[2] = e.Type
	copy(b[8:], e.Payload[:])
	return b
}
