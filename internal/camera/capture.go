package camera

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// StartStream starts capture and delivers every filled buffer to fn on a
// dedicated goroutine.
//
// Starting a running stream is a no-op and keeps the original callback.
// A stream whose goroutine died on a capture failure is stopped first and
// then started again.
//
// Parameters:
//   - fn: called for every filled buffer; nil discards frames
//
// Returns:
//   - error: ErrClosed, or ErrHardwareIO when the driver rejects STREAMON
func (d *Device) StartStream(fn FrameFunc) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrClosed
	}
	if err := d.reapLocked(); err != nil {
		return err
	}
	if d.streaming {
		return nil
	}
	if fn == nil {
		fn = func(Frame) {}
	}

	// A cancellation left over from a goroutine that died on its own
	// would end the next wait immediately.
	if err := d.waiter.Reset(); err != nil {
		return fmt.Errorf("%w: reset waiter: %w", ErrHardwareIO, err)
	}
	if d.requeue {
		if err := d.backend.QueueAll(); err != nil {
			return err
		}
		d.requeue = false
	}
	if err := d.hw.StreamOn(); err != nil {
		return fmt.Errorf("%w: VIDIOC_STREAMON: %w", ErrHardwareIO, err)
	}

	done := make(chan struct{})
	d.done = done
	d.streaming = true
	go d.captureLoop(fn, done)

	d.logger.Info("stream started", "unique_id", d.uniqueID, "buffers", d.backend.Len())
	return nil
}

// StopStream cancels the capture goroutine, waits for it to exit and
// stops the hardware. Stopping a stopped stream is a no-op.
func (d *Device) StopStream() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	return d.stopLocked()
}

// captureExitedLocked reports whether the stream is marked running but its
// goroutine has already returned.
func (d *Device) captureExitedLocked() bool {
	if !d.streaming {
		return false
	}
	select {
	case <-d.done:
		return true
	default:
		return false
	}
}

// reapLocked stops a stream whose capture goroutine has exited.
func (d *Device) reapLocked() error {
	if !d.captureExitedLocked() {
		return nil
	}
	d.logger.Warn("reaping failed capture", "unique_id", d.uniqueID)
	return d.stopLocked()
}

func (d *Device) stopLocked() error {
	if !d.streaming {
		return nil
	}

	if err := d.waiter.Cancel(); err != nil {
		return fmt.Errorf("%w: cancel capture: %w", ErrHardwareIO, err)
	}
	<-d.done

	d.streaming = false
	d.done = nil
	d.requeue = true

	if err := d.hw.StreamOff(); err != nil {
		return fmt.Errorf("%w: VIDIOC_STREAMOFF: %w", ErrHardwareIO, err)
	}
	d.logger.Info("stream stopped", "unique_id", d.uniqueID, "frames", d.frames.Load())
	return nil
}

// captureLoop waits for filled buffers, hands them to fn and queues them
// back. It exits on cancellation or on the first hardware failure, which
// is reported through onFatal.
func (d *Device) captureLoop(fn FrameFunc, done chan struct{}) {
	defer close(done)

	memory := d.backend.Memory().v4l2Memory()
	for {
		ready, err := d.waiter.Wait()
		if err != nil {
			d.fail(fmt.Errorf("%w: wait for frame: %w", ErrHardwareIO, err))
			return
		}
		if !ready {
			return
		}

		info, err := d.hw.DequeueBuffer(memory)
		if errors.Is(err, unix.EAGAIN) {
			continue
		}
		if err != nil {
			d.fail(fmt.Errorf("%w: VIDIOC_DQBUF: %w", ErrHardwareIO, err))
			return
		}

		d.frames.Add(1)
		d.bytes.Add(uint64(info.BytesUsed))
		d.lastSeq.Store(info.Sequence)
		d.lastFrame.Store(time.Now().UnixNano())

		d.deliver(fn, Frame{Index: info.Index, BytesUsed: info.BytesUsed, Sequence: info.Sequence})

		if err := d.backend.Requeue(info.Index); err != nil {
			d.fail(fmt.Errorf("%w: VIDIOC_QBUF(%d): %w", ErrHardwareIO, info.Index, err))
			return
		}
	}
}

// deliver runs the callback, containing any panic so that the buffer is
// still queued back.
func (d *Device) deliver(fn FrameFunc, f Frame) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("panic in frame callback",
				"unique_id", d.uniqueID, "index", f.Index, "panic", r)
		}
	}()
	fn(f)
}

func (d *Device) fail(err error) {
	d.logger.Error("capture failed", "unique_id", d.uniqueID, "error", err)
	d.onFatal(err)
}
