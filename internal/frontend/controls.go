package frontend

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/andr2000/camera-be/internal/camera"
	"github.com/andr2000/camera-be/internal/cameraif"
	"github.com/andr2000/camera-be/internal/v4l2"
)

// controlSlot is one assigned control. info is valid once resolved.
type controlSlot struct {
	name     string
	resolved bool
	info     v4l2.ControlInfo
}

// controlTable is the fixed, ordered list of controls a frontend may see.
// Slots are resolved against the device on first enumeration and cached.
type controlTable struct {
	mu    sync.Mutex
	slots []controlSlot
}

func newControlTable(list string) *controlTable {
	names := cameraif.SplitList(list)
	t := &controlTable{slots: make([]controlSlot, len(names))}
	for i, n := range names {
		t.slots[i].name = n
	}
	return t
}

func (t *controlTable) len() int {
	return len(t.slots)
}

func (t *controlTable) names() []string {
	out := make([]string, len(t.slots))
	for i, s := range t.slots {
		out[i] = s.name
	}
	return out
}

// resolve returns the metadata of slot index, querying the device the
// first time. An index past the end is an error and never reaches the
// device.
func (t *controlTable) resolve(index int, dev Device) (controlSlot, error) {
	if index < 0 || index >= len(t.slots) {
		return controlSlot{}, fmt.Errorf("%w: control %d is not assigned (have %d): %w",
			camera.ErrInvalidIndex, index, len(t.slots), unix.EINVAL)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	slot := &t.slots[index]
	if !slot.resolved {
		info, err := dev.ResolveControl(slot.name)
		if err != nil {
			return controlSlot{}, err
		}
		slot.info = info
		slot.resolved = true
	}
	return *slot, nil
}

// lookup finds a resolved slot bound to a hardware control id.
func (t *controlTable) lookup(id uint32) (controlSlot, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, s := range t.slots {
		if s.resolved && s.info.ID == id {
			return s, nil
		}
	}
	return controlSlot{}, fmt.Errorf("%w: control %#x is not assigned: %w",
		camera.ErrUnsupportedControl, id, unix.EINVAL)
}
