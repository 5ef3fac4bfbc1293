//go:build linux && (amd64 || arm64)

package camera

import "github.com/andr2000/camera-be/internal/v4l2"

// OpenHardware opens a V4L2 node. It is the default OpenFunc.
func OpenHardware(path string) (Hardware, error) {
	dev, err := v4l2.Open(path)
	if err != nil {
		return nil, err
	}
	return dev, nil
}
