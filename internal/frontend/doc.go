// Package frontend serves guest camera frontends.
//
// An Engine translates the fixed-size requests of one frontend into
// operations on a capture device and answers every request with exactly
// one response. Engines bound to the same device join a Hub group: the
// device streams while at least one of them has started streaming, frame
// events reach every streaming member and a control change made by one
// member is announced to all the others.
//
// The Manager accepts connections, waits for each frontend to name the
// camera it wants, acquires the device from the registry and runs the
// session until the frontend disconnects.
//
// # Response status
//
// Status is 0 on success or a negative errno. Unknown operations answer
// -ENOTSUP; errors without an errno answer -EIO. A handler panic is
// recovered and answered with -EIO.
//
// # Usage
//
//	m, err := frontend.NewManager(frontend.ManagerOptions{
//	    Registry:        reg,
//	    DefaultControls: "contrast,brightness,hue,saturation",
//	    Logger:          log,
//	})
//	if err != nil {
//	    return err
//	}
//	l, err := transport.Listen(ctx, "unix:///run/camera-be.sock")
//	if err != nil {
//	    return err
//	}
//	return m.Serve(ctx, l)
package frontend
