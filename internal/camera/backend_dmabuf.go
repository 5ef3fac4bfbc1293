package camera

import (
	"errors"
	"fmt"
	"sync"

	"github.com/andr2000/camera-be/internal/v4l2"
)

// dmabufBackend extends the mmap backend by exporting every mapped
// buffer as a DMA-BUF descriptor that can be handed to another process.
type dmabufBackend struct {
	*mmapBackend

	fdMu sync.RWMutex
	fds  []int
}

func newDmabufBackend(hw Hardware, logger Logger) *dmabufBackend {
	return &dmabufBackend{mmapBackend: newMmapBackend(hw, logger)}
}

func (b *dmabufBackend) Memory() Memory { return MemoryDmabuf }

func (b *dmabufBackend) Allocate(count uint32, format v4l2.PixFormat) (int, error) {
	n, err := b.mmapBackend.Allocate(count, format)
	if err != nil {
		return 0, err
	}

	fds := make([]int, 0, n)
	for i := 0; i < n; i++ {
		fd, err := b.hw.ExportBuffer(uint32(i))
		if err != nil {
			for _, prev := range fds {
				_ = b.hw.CloseFD(prev)
			}
			if relErr := b.mmapBackend.Release(); relErr != nil {
				b.logger.Warn("releasing buffers after export failure", "error", relErr)
			}
			return 0, fmt.Errorf("%w: VIDIOC_EXPBUF(%d): %w", ErrBufferAllocation, i, err)
		}
		fds = append(fds, fd)
	}

	b.fdMu.Lock()
	b.fds = fds
	b.fdMu.Unlock()
	return n, nil
}

// Release frees the mapped set and closes every exported descriptor,
// even when freeing the mappings fails.
func (b *dmabufBackend) Release() error {
	errs := []error{b.mmapBackend.Release()}

	b.fdMu.Lock()
	fds := b.fds
	b.fds = nil
	b.fdMu.Unlock()

	for i, fd := range fds {
		if err := b.hw.CloseFD(fd); err != nil {
			errs = append(errs, fmt.Errorf("%w: close exported buffer %d: %w", ErrHardwareIO, i, err))
		}
	}
	return errors.Join(errs...)
}

func (b *dmabufBackend) Payload(index int) (Payload, error) {
	p, err := b.mmapBackend.Payload(index)
	if err != nil {
		return Payload{}, err
	}

	b.fdMu.RLock()
	defer b.fdMu.RUnlock()
	if index < len(b.fds) {
		p.FD = b.fds[index]
	}
	return p, nil
}
