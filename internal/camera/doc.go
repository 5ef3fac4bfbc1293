// Package camera implements the capture side of the camera backend.
//
// A Device wraps one V4L2 capture node: it checks and enumerates the
// hardware, negotiates formats and frame rates, owns a buffer set through
// a Backend and runs a single capture goroutine while streaming. The
// Registry shares one Device per unique id among every frontend that
// asks for it and closes it when the last Handle is released.
//
// # Allocation modes
//
//   - MemoryDmabuf: driver buffers are mapped and exported as DMA-BUF
//     descriptors (default)
//   - MemoryMmap: driver buffers are mapped into the process
//   - MemoryUserPtr: the driver captures into caller-supplied memory
//
// # Errors
//
// Every error wraps one of the package sentinels together with the
// kernel errno when there is one. Errno converts an error to the code
// reported to frontends.
//
// # Usage
//
//	reg := camera.NewRegistry(camera.RegistryOptions{})
//	h, err := reg.Acquire("usb-046d_HD_Webcam-video-index0")
//	if err != nil {
//	    return err
//	}
//	defer h.Release()
//
//	dev := h.Device()
//	n, err := dev.AllocateStream(4, 1280, 720, v4l2.PixFmtYUYV)
//	err = dev.StartStream(func(f camera.Frame) {
//	    p, _ := dev.BufferPayload(int(f.Index))
//	    _ = p
//	})
package camera
