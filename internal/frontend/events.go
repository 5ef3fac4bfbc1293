package frontend

import (
	"sync/atomic"

	"github.com/andr2000/camera-be/internal/cameraif"
)

// EventChannel delivers events to one frontend. Send must not block for
// long: it is called from the capture goroutine.
type EventChannel interface {
	Send(evt cameraif.Event) error
}

// eventStamper assigns the per-connection event id. The id is 16 bits on
// the wire and wraps.
type eventStamper struct {
	next atomic.Uint32
}

func (s *eventStamper) stamp(evtType uint8, payload [cameraif.PayloadSize]byte) cameraif.Event {
	return cameraif.Event{
		ID:      uint16(s.next.Add(1) - 1), //nolint:gosec // 16-bit wire field
		Type:    evtType,
		Payload: payload,
	}
}
