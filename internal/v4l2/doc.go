// Package v4l2 is a thin binding of the Video4Linux2 capture ioctls used
// by the camera backend.
//
// Only single-planar video capture is covered: capability query, format
// enumeration and negotiation, frame-interval control, buffer request,
// mapping and export, queue/dequeue, streaming and user-class controls.
//
// The kernel structs are declared for 64-bit little-endian targets
// (amd64, arm64) and checked against the ABI with compile-time size
// assertions. On other platforms only the exported value types build.
//
// # Usage
//
//	dev, err := v4l2.Open("/dev/video0")
//	if err != nil {
//	    return err
//	}
//	defer dev.Close()
//
//	caps, err := dev.Capability()
package v4l2
