//go:build !(linux && (amd64 || arm64))

package camera

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// OpenHardware opens a V4L2 node. It is the default OpenFunc.
func OpenHardware(path string) (Hardware, error) {
	return nil, fmt.Errorf("V4L2 capture is not available on this platform: %s: %w", path, unix.ENOTSUP)
}
