package camera

import (
	"fmt"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/andr2000/camera-be/internal/v4l2"
)

// userPtrBackend lets the driver capture into caller-supplied memory.
// Allocation only reserves slots; a buffer is queued once memory has been
// attached to it.
type userPtrBackend struct {
	hw     Hardware
	logger Logger

	mu     sync.RWMutex
	length uint32
	mem    [][]byte
}

func newUserPtrBackend(hw Hardware, logger Logger) *userPtrBackend {
	return &userPtrBackend{hw: hw, logger: logger}
}

func (b *userPtrBackend) Memory() Memory { return MemoryUserPtr }

func (b *userPtrBackend) Allocate(count uint32, format v4l2.PixFormat) (int, error) {
	granted, err := b.hw.RequestBuffers(count, v4l2.MemoryUserPtr)
	if err != nil {
		return 0, fmt.Errorf("%w: VIDIOC_REQBUFS(%d, userptr): %w", ErrBufferAllocation, count, err)
	}
	if granted == 0 {
		return 0, fmt.Errorf("%w: driver granted no buffers: %w", ErrBufferAllocation, unix.ENOMEM)
	}

	b.mu.Lock()
	b.length = format.SizeImage
	b.mem = make([][]byte, granted)
	b.mu.Unlock()
	return int(granted), nil
}

// Attach assigns capture memory to a buffer slot and queues it. The
// memory must stay valid until the set is released.
func (b *userPtrBackend) Attach(index int, mem []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := checkIndex(index, len(b.mem)); err != nil {
		return err
	}
	if len(mem) == 0 || uint32(len(mem)) < b.length {
		return fmt.Errorf("%w: buffer %d needs %d bytes, got %d: %w",
			ErrBufferAllocation, index, b.length, len(mem), unix.EINVAL)
	}

	b.mem[index] = mem
	if err := b.queue(uint32(index), mem); err != nil {
		return fmt.Errorf("%w: VIDIOC_QBUF(%d, userptr): %w", ErrHardwareIO, index, err)
	}
	return nil
}

func (b *userPtrBackend) queue(index uint32, mem []byte) error {
	return b.hw.QueueBuffer(v4l2.BufferInfo{
		Index:   index,
		Memory:  v4l2.MemoryUserPtr,
		UserPtr: uintptr(unsafe.Pointer(&mem[0])),
		Length:  uint32(len(mem)),
	})
}

func (b *userPtrBackend) Requeue(index uint32) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if err := checkIndex(int(index), len(b.mem)); err != nil {
		return err
	}
	mem := b.mem[index]
	if mem == nil {
		return fmt.Errorf("%w: buffer %d has no memory attached", ErrInvalidIndex, index)
	}
	return b.queue(index, mem)
}

func (b *userPtrBackend) QueueAll() error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for i, mem := range b.mem {
		if mem == nil {
			continue
		}
		if err := b.queue(uint32(i), mem); err != nil {
			return fmt.Errorf("%w: VIDIOC_QBUF(%d, userptr): %w", ErrHardwareIO, i, err)
		}
	}
	return nil
}

func (b *userPtrBackend) Release() error {
	b.mu.Lock()
	n := len(b.mem)
	b.mem = nil
	b.length = 0
	b.mu.Unlock()

	if n == 0 {
		return nil
	}
	if _, err := b.hw.RequestBuffers(0, v4l2.MemoryUserPtr); err != nil {
		return fmt.Errorf("%w: VIDIOC_REQBUFS(0, userptr): %w", ErrHardwareIO, err)
	}
	return nil
}

func (b *userPtrBackend) Payload(index int) (Payload, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if err := checkIndex(index, len(b.mem)); err != nil {
		return Payload{}, err
	}
	return Payload{Data: b.mem[index], FD: -1, Length: b.length}, nil
}

func (b *userPtrBackend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.mem)
}
