package camera

import (
	"fmt"
	"strings"

	"github.com/andr2000/camera-be/internal/v4l2"
)

// Memory selects how frame buffers are allocated and shared.
type Memory int

const (
	// MemoryDmabuf maps driver buffers and exports each one as a DMA-BUF
	// descriptor. This is the default.
	MemoryDmabuf Memory = iota

	// MemoryMmap maps driver buffers into the process.
	MemoryMmap

	// MemoryUserPtr captures into memory supplied by the caller.
	MemoryUserPtr
)

func (m Memory) String() string {
	switch m {
	case MemoryDmabuf:
		return "dmabuf"
	case MemoryMmap:
		return "mmap"
	case MemoryUserPtr:
		return "userptr"
	default:
		return fmt.Sprintf("memory(%d)", int(m))
	}
}

// v4l2Memory returns the kernel memory model backing the mode.
func (m Memory) v4l2Memory() uint32 {
	if m == MemoryUserPtr {
		return v4l2.MemoryUserPtr
	}
	return v4l2.MemoryMmap
}

// ParseMemory parses an allocation mode name. The empty string selects
// the default.
func ParseMemory(s string) (Memory, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "dmabuf":
		return MemoryDmabuf, nil
	case "mmap":
		return MemoryMmap, nil
	case "userptr":
		return MemoryUserPtr, nil
	default:
		return 0, fmt.Errorf("camera: unknown allocation mode %q", s)
	}
}

// Payload describes the memory behind one buffer. FD is -1 when the
// buffer has no exported descriptor; Data is nil when the process does
// not hold a mapping.
type Payload struct {
	Data   []byte
	FD     int
	Length uint32
}

// Backend owns a set of driver buffers for one allocation mode.
//
// Allocate and Release are serialised by the owning Device. Payload may
// be called concurrently, including from the frame callback.
type Backend interface {
	Memory() Memory

	// Allocate requests count buffers for the given format and returns
	// the number the driver granted.
	Allocate(count uint32, format v4l2.PixFormat) (int, error)

	// Release frees every buffer and returns driver memory. Releasing an
	// empty set is a no-op.
	Release() error

	// Requeue hands a dequeued buffer back to the driver.
	Requeue(index uint32) error

	// QueueAll queues every buffer again after the driver dropped them
	// on stream off.
	QueueAll() error

	Payload(index int) (Payload, error)
	Len() int
}

// NewBackend returns the backend for an allocation mode.
func NewBackend(m Memory, hw Hardware, logger Logger) (Backend, error) {
	if logger == nil {
		logger = noopLogger{}
	}
	switch m {
	case MemoryMmap:
		return newMmapBackend(hw, logger), nil
	case MemoryDmabuf:
		return newDmabufBackend(hw, logger), nil
	case MemoryUserPtr:
		return newUserPtrBackend(hw, logger), nil
	default:
		return nil, fmt.Errorf("%w: allocation mode %s", ErrUnsupportedOperation, m)
	}
}

func checkIndex(index, n int) error {
	if index < 0 || index >= n {
		return fmt.Errorf("%w: buffer %d of %d", ErrInvalidIndex, index, n)
	}
	return nil
}
