//go:build linux && (amd64 || arm64)

package v4l2

import (
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// ErrDeviceGone is returned by Wait when the device reports an error or
// hang-up condition.
var ErrDeviceGone = errors.New("v4l2: device error or hang-up")

// eventWaiter polls the device together with an eventfd used to break
// the wait from another goroutine.
type eventWaiter struct {
	dev int
	efd int
}

// NewWaiter creates a cancelable readiness waiter for the device.
func (d *Device) NewWaiter() (Waiter, error) {
	efd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		return nil, fmt.Errorf("v4l2: eventfd: %w", err)
	}
	return &eventWaiter{dev: d.fd, efd: efd}, nil
}

func (w *eventWaiter) Wait() (bool, error) {
	fds := []unix.PollFd{
		{Fd: int32(w.dev), Events: unix.POLLIN},
		{Fd: int32(w.efd), Events: unix.POLLIN},
	}
	for {
		_, err := unix.Poll(fds, -1)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return false, fmt.Errorf("v4l2: poll: %w", err)
		}

		if fds[1].Revents&unix.POLLIN != 0 {
			if err := w.Reset(); err != nil {
				return false, err
			}
			return false, nil
		}
		if fds[0].Revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
			return false, ErrDeviceGone
		}
		if fds[0].Revents&unix.POLLIN != 0 {
			return true, nil
		}
	}
}

func (w *eventWaiter) Cancel() error {
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	if _, err := unix.Write(w.efd, buf[:]); err != nil {
		return fmt.Errorf("v4l2: eventfd write: %w", err)
	}
	return nil
}

func (w *eventWaiter) Reset() error {
	var buf [8]byte
	_, err := unix.Read(w.efd, buf[:])
	if err != nil && !errors.Is(err, unix.EAGAIN) {
		return fmt.Errorf("v4l2: eventfd read: %w", err)
	}
	return nil
}

func (w *eventWaiter) Close() error {
	return unix.Close(w.efd)
}
