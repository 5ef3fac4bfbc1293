package camera

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/andr2000/camera-be/internal/v4l2"
)

type mappedBuffer struct {
	info v4l2.BufferInfo
	data []byte
}

// mmapBackend maps driver-owned buffers into the process and queues each
// one for capture as soon as it is mapped.
type mmapBackend struct {
	hw     Hardware
	logger Logger

	mu   sync.RWMutex
	bufs []mappedBuffer
}

func newMmapBackend(hw Hardware, logger Logger) *mmapBackend {
	return &mmapBackend{hw: hw, logger: logger}
}

func (b *mmapBackend) Memory() Memory { return MemoryMmap }

func (b *mmapBackend) Allocate(count uint32, _ v4l2.PixFormat) (int, error) {
	granted, err := b.hw.RequestBuffers(count, v4l2.MemoryMmap)
	if err != nil {
		return 0, fmt.Errorf("%w: VIDIOC_REQBUFS(%d): %w", ErrBufferAllocation, count, err)
	}
	if granted == 0 {
		return 0, fmt.Errorf("%w: driver granted no buffers: %w", ErrBufferAllocation, unix.ENOMEM)
	}
	if granted < count {
		b.logger.Warn("driver granted fewer buffers than requested",
			"requested", count, "granted", granted)
	}

	bufs := make([]mappedBuffer, 0, granted)
	for i := uint32(0); i < granted; i++ {
		buf, err := b.mapBuffer(i)
		if err != nil {
			b.unwind(bufs)
			return 0, err
		}
		bufs = append(bufs, buf)
	}

	b.mu.Lock()
	b.bufs = bufs
	b.mu.Unlock()

	b.logger.Debug("mapped capture buffers", "count", granted)
	return int(granted), nil
}

func (b *mmapBackend) mapBuffer(index uint32) (mappedBuffer, error) {
	info, err := b.hw.QueryBuffer(index, v4l2.MemoryMmap)
	if err != nil {
		return mappedBuffer{}, fmt.Errorf("%w: VIDIOC_QUERYBUF(%d): %w", ErrHardwareIO, index, err)
	}

	data, err := b.hw.Map(info.Offset, info.Length)
	if err != nil {
		return mappedBuffer{}, fmt.Errorf("%w: mmap buffer %d: %w", ErrBufferAllocation, index, err)
	}

	if err := b.hw.QueueBuffer(info); err != nil {
		_ = b.hw.Unmap(data)
		return mappedBuffer{}, fmt.Errorf("%w: VIDIOC_QBUF(%d): %w", ErrHardwareIO, index, err)
	}
	return mappedBuffer{info: info, data: data}, nil
}

// unwind undoes a partially completed allocation.
func (b *mmapBackend) unwind(bufs []mappedBuffer) {
	for _, buf := range bufs {
		if err := b.hw.Unmap(buf.data); err != nil {
			b.logger.Warn("unmap during rollback failed", "index", buf.info.Index, "error", err)
		}
	}
	if _, err := b.hw.RequestBuffers(0, v4l2.MemoryMmap); err != nil {
		b.logger.Warn("freeing driver buffers during rollback failed", "error", err)
	}
}

func (b *mmapBackend) Release() error {
	b.mu.Lock()
	bufs := b.bufs
	b.bufs = nil
	b.mu.Unlock()

	if len(bufs) == 0 {
		return nil
	}

	var errs []error
	for _, buf := range bufs {
		if err := b.hw.Unmap(buf.data); err != nil {
			errs = append(errs, fmt.Errorf("%w: munmap buffer %d: %w", ErrHardwareIO, buf.info.Index, err))
		}
	}
	if _, err := b.hw.RequestBuffers(0, v4l2.MemoryMmap); err != nil {
		errs = append(errs, fmt.Errorf("%w: VIDIOC_REQBUFS(0): %w", ErrHardwareIO, err))
	}
	return errors.Join(errs...)
}

func (b *mmapBackend) Requeue(index uint32) error {
	return b.hw.QueueBuffer(v4l2.BufferInfo{Index: index, Memory: v4l2.MemoryMmap})
}

func (b *mmapBackend) QueueAll() error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, buf := range b.bufs {
		if err := b.hw.QueueBuffer(buf.info); err != nil {
			return fmt.Errorf("%w: VIDIOC_QBUF(%d): %w", ErrHardwareIO, buf.info.Index, err)
		}
	}
	return nil
}

func (b *mmapBackend) Payload(index int) (Payload, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if err := checkIndex(index, len(b.bufs)); err != nil {
		return Payload{}, err
	}
	buf := b.bufs[index]
	return Payload{Data: buf.data, FD: -1, Length: buf.info.Length}, nil
}

func (b *mmapBackend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.bufs)
}
