package camera

import (
	"errors"

	"golang.org/x/sys/unix"
)

// Domain errors for capture device operations.
//
// Errors returned by this package wrap one of these kinds and, when the
// kernel reported one, the underlying unix.Errno:
//
//	fmt.Errorf("%w: VIDIOC_S_FMT: %w", ErrHardwareIO, unix.EBUSY)
//
// Use errors.Is to test the kind and Errno to obtain the protocol code.
var (
	// ErrDeviceAccess is returned when the device path cannot be opened
	// or is not a character device.
	ErrDeviceAccess = errors.New("camera: device access failed")

	// ErrNotCaptureDevice is returned when the node lacks video capture
	// or streaming capability.
	ErrNotCaptureDevice = errors.New("camera: not a capture device")

	// ErrUnsupportedFormat is returned when the driver reports frame
	// sizes or intervals that are not discrete.
	ErrUnsupportedFormat = errors.New("camera: unsupported format enumeration")

	// ErrBufferAllocation is returned when the driver rejects a buffer
	// request or a buffer cannot be mapped or exported.
	ErrBufferAllocation = errors.New("camera: buffer allocation failed")

	// ErrInvalidIndex is returned for buffer or control indices outside
	// the current set.
	ErrInvalidIndex = errors.New("camera: index out of range")

	// ErrUnsupportedControl is returned for controls the device does
	// not expose.
	ErrUnsupportedControl = errors.New("camera: unsupported control")

	// ErrUnsupportedOperation is returned for operations the device or
	// the allocation mode cannot perform.
	ErrUnsupportedOperation = errors.New("camera: unsupported operation")

	// ErrHardwareIO is returned when a device request fails.
	ErrHardwareIO = errors.New("camera: hardware I/O failed")

	// ErrClosed is returned by operations on a closed device.
	ErrClosed = errors.New("camera: device closed")
)

// Errno returns the errno that best describes err. A wrapped unix.Errno
// wins; otherwise the default for the error kind is used. It returns 0
// for nil and for errors of unknown kind.
func Errno(err error) unix.Errno {
	if err == nil {
		return 0
	}

	var errno unix.Errno
	if errors.As(err, &errno) && errno != 0 {
		return errno
	}

	switch {
	case errors.Is(err, ErrNotCaptureDevice):
		return unix.ENOTTY
	case errors.Is(err, ErrBufferAllocation):
		return unix.ENOMEM
	case errors.Is(err, ErrUnsupportedOperation):
		return unix.ENOTSUP
	case errors.Is(err, ErrDeviceAccess), errors.Is(err, ErrClosed):
		return unix.ENODEV
	case errors.Is(err, ErrUnsupportedFormat),
		errors.Is(err, ErrInvalidIndex),
		errors.Is(err, ErrUnsupportedControl):
		return unix.EINVAL
	case errors.Is(err, ErrHardwareIO):
		return unix.EIO
	}
	return 0
}
