package frontend

import (
	"golang.org/x/sys/unix"

	"github.com/andr2000/camera-be/internal/camera"
)

// statusFromError converts a handler error to a response status: 0 on
// success, otherwise a negative errno. Errors outside the camera taxonomy
// become -EIO.
func statusFromError(err error) int32 {
	if err == nil {
		return 0
	}
	errno := camera.Errno(err)
	if errno == 0 {
		return -int32(unix.EIO)
	}
	status := -int32(errno) //nolint:gosec // errno values are small
	if status >= 0 {
		return -int32(unix.EINVAL)
	}
	return status
}
