package camera

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/andr2000/camera-be/internal/v4l2"
)

// Logger defines the logging interface used by this package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Frame describes a filled buffer handed to the frame callback.
type Frame struct {
	Index     uint32
	BytesUsed uint32
	Sequence  uint32
}

// FrameFunc receives frames on the capture goroutine. It must return
// promptly: the buffer is queued back to the driver when it returns.
type FrameFunc func(Frame)

// ColorMeta carries the colour description applied with a format.
type ColorMeta struct {
	Colorspace   uint32
	XferFunc     uint32
	YCbCrEnc     uint32
	Quantization uint32
}

// Options configures a Device.
type Options struct {
	// UniqueID identifies the device across frontends.
	UniqueID string

	// Memory selects the buffer allocation mode. The zero value is
	// MemoryDmabuf.
	Memory Memory

	Logger Logger

	// Open opens the hardware; nil uses V4L2.
	Open OpenFunc

	// OnFatal is called from the capture goroutine when streaming fails
	// irrecoverably. nil sends SIGTERM to the current process.
	OnFatal func(error)
}

// Stats is a snapshot of device counters.
type Stats struct {
	UniqueID     string    `json:"unique_id"`
	Path         string    `json:"path"`
	Memory       string    `json:"memory"`
	Streaming    bool      `json:"streaming"`
	Buffers      int       `json:"buffers"`
	Frames       uint64    `json:"frames"`
	Bytes        uint64    `json:"bytes"`
	LastSequence uint32    `json:"last_sequence"`
	LastFrame    time.Time `json:"last_frame,omitzero"`
}

// Device is an open video capture device.
//
// Streaming state, the buffer set and the capture goroutine are guarded
// by a single mutex, so start, stop, allocate and release are totally
// ordered. Control and format requests go straight to the hardware.
//
// All public methods are thread-safe. StopStream and Close must not be
// called from the frame callback.
type Device struct {
	uniqueID string
	hw       Hardware
	backend  Backend
	waiter   v4l2.Waiter
	caps     v4l2.Capability
	formats  []FormatDesc
	logger   Logger
	onFatal  func(error)

	mu        sync.Mutex
	streaming bool
	done      chan struct{} // closed when the capture goroutine exits
	requeue   bool          // buffers were dropped by stream off
	closed    bool

	closeOnce sync.Once
	closeErr  error

	// Statistics (atomic, updated on the capture goroutine)
	frames    atomic.Uint64
	bytes     atomic.Uint64
	lastSeq   atomic.Uint32
	lastFrame atomic.Int64 // Unix nanoseconds
}

// Open opens the capture device at path.
//
// The node must be a character device offering video capture and
// streaming I/O with a non-zero current resolution. Supported formats are
// enumerated once and cached.
//
// Parameters:
//   - path: Host device node, e.g. /dev/video0
//   - opts: Memory mode, logger and hooks; zero values pick the defaults
//
// Returns:
//   - *Device: Open device, not yet streaming
//   - error: ErrDeviceAccess if the node cannot be opened, or the
//     capability check failure
//
// Example:
//
//	dev, err := camera.Open("/dev/video0", camera.Options{Memory: camera.MemoryMmap})
//	if err != nil {
//	    return err
//	}
//	defer dev.Close()
func Open(path string, opts Options) (*Device, error) {
	open := opts.Open
	if open == nil {
		open = OpenHardware
	}

	hw, err := open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrDeviceAccess, path, err)
	}

	d, err := newDevice(hw, opts)
	if err != nil {
		_ = hw.Close()
		return nil, err
	}
	return d, nil
}

func newDevice(hw Hardware, opts Options) (*Device, error) {
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	onFatal := opts.OnFatal
	if onFatal == nil {
		onFatal = terminateSelf
	}

	caps, ok, err := CheckCapture(hw)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotCaptureDevice, hw.Path())
	}

	formats, err := EnumerateFormats(hw)
	if err != nil {
		return nil, err
	}

	backend, err := NewBackend(opts.Memory, hw, logger)
	if err != nil {
		return nil, err
	}

	waiter, err := hw.NewWaiter()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrHardwareIO, hw.Path(), err)
	}

	d := &Device{
		uniqueID: opts.UniqueID,
		hw:       hw,
		backend:  backend,
		waiter:   waiter,
		caps:     caps,
		formats:  formats,
		logger:   logger,
		onFatal:  onFatal,
	}

	logger.Info("capture device opened",
		"unique_id", d.uniqueID,
		"path", hw.Path(),
		"driver", caps.Driver,
		"card", caps.Card,
		"bus_info", caps.BusInfo,
		"memory", backend.Memory().String(),
	)
	logFormats(logger, formats)
	return d, nil
}

// terminateSelf asks the process to shut down after an unrecoverable
// capture failure.
func terminateSelf(error) {
	_ = unix.Kill(unix.Getpid(), unix.SIGTERM)
}

// UniqueID returns the identifier the device was opened for.
func (d *Device) UniqueID() string { return d.uniqueID }

// Path returns the host device path.
func (d *Device) Path() string { return d.hw.Path() }

// Capability returns the capabilities read at open.
func (d *Device) Capability() v4l2.Capability { return d.caps }

// Memory returns the buffer allocation mode.
func (d *Device) Memory() Memory { return d.backend.Memory() }

// Formats returns the supported formats enumerated at open.
func (d *Device) Formats() []FormatDesc {
	out := make([]FormatDesc, len(d.formats))
	copy(out, d.formats)
	return out
}

// QueryCapabilities re-reads the hardware capabilities. It reports false
// without an error when the node is not a streaming capture device.
func (d *Device) QueryCapabilities() (v4l2.Capability, bool, error) {
	return CheckCapture(d.hw)
}

// Format returns the current capture format.
func (d *Device) Format() (v4l2.PixFormat, error) {
	f, err := d.hw.Format()
	if err != nil {
		return v4l2.PixFormat{}, fmt.Errorf("%w: VIDIOC_G_FMT: %w", ErrHardwareIO, err)
	}
	return f, nil
}

func pixFormat(width, height, pixelFormat uint32, meta ColorMeta) v4l2.PixFormat {
	return v4l2.PixFormat{
		Width:        width,
		Height:       height,
		PixelFormat:  pixelFormat,
		Field:        v4l2.FieldNone,
		Colorspace:   meta.Colorspace,
		XferFunc:     meta.XferFunc,
		YCbCrEnc:     meta.YCbCrEnc,
		Quantization: meta.Quantization,
	}
}

// SetFormat applies a capture format and returns the format the hardware
// actually negotiated. A differing resolution is logged, not rejected.
//
// Parameters:
//   - width, height: Requested resolution in pixels
//   - pixelFormat: FourCC code
//   - meta: Colour description passed through to the driver
//
// Returns:
//   - v4l2.PixFormat: The format read back after VIDIOC_S_FMT
//   - error: ErrHardwareIO if the driver rejects the request
func (d *Device) SetFormat(width, height, pixelFormat uint32, meta ColorMeta) (v4l2.PixFormat, error) {
	if _, err := d.hw.SetFormat(pixFormat(width, height, pixelFormat, meta)); err != nil {
		return v4l2.PixFormat{}, fmt.Errorf("%w: VIDIOC_S_FMT: %w", ErrHardwareIO, err)
	}

	// Read back what the driver actually chose
	cur, err := d.Format()
	if err != nil {
		return v4l2.PixFormat{}, err
	}
	if cur.Width != width || cur.Height != height {
		d.logger.Warn("driver adjusted requested resolution",
			"unique_id", d.uniqueID,
			"requested", fmt.Sprintf("%dx%d", width, height),
			"negotiated", fmt.Sprintf("%dx%d", cur.Width, cur.Height),
		)
	}
	return cur, nil
}

// TryFormat returns the format the hardware would negotiate without
// applying it.
func (d *Device) TryFormat(width, height, pixelFormat uint32, meta ColorMeta) (v4l2.PixFormat, error) {
	f, err := d.hw.TryFormat(pixFormat(width, height, pixelFormat, meta))
	if err != nil {
		return v4l2.PixFormat{}, fmt.Errorf("%w: VIDIOC_TRY_FMT: %w", ErrHardwareIO, err)
	}
	return f, nil
}

// FrameRate returns the current frame rate in frames per second.
func (d *Device) FrameRate() (v4l2.Fract, error) {
	tpf, err := d.hw.TimePerFrame()
	if err != nil {
		return v4l2.Fract{}, frameRateError("VIDIOC_G_PARM", err)
	}
	return tpf.Inverse(), nil
}

// SetFrameRate requests a frame rate in frames per second and returns
// the rate the driver chose.
func (d *Device) SetFrameRate(fps v4l2.Fract) (v4l2.Fract, error) {
	if fps.IsZero() {
		return v4l2.Fract{}, fmt.Errorf("%w: frame rate %s: %w", ErrHardwareIO, fps, unix.EINVAL)
	}
	tpf, err := d.hw.SetTimePerFrame(fps.Inverse())
	if err != nil {
		return v4l2.Fract{}, frameRateError("VIDIOC_S_PARM", err)
	}
	return tpf.Inverse(), nil
}

func frameRateError(op string, err error) error {
	if errors.Is(err, unix.ENOTTY) {
		return fmt.Errorf("%w: %s: %w", ErrUnsupportedOperation, op, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrHardwareIO, op, err)
}

// AllocateStream applies the format and allocates count buffers, first
// releasing any existing set. It returns the granted count, which may be
// lower than requested.
//
// Parameters:
//   - count: Number of buffers wanted; 0 only releases the current set
//   - width, height, pixelFormat: Format the buffers are sized for
//
// Returns:
//   - int: Buffers granted by the driver
//   - error: ErrClosed, or ErrBufferAllocation wrapping EBUSY while a
//     stream is running, or the driver failure
//
// Example:
//
//	n, err := dev.AllocateStream(4, 640, 480, v4l2.PixFmtYUYV)
//	if err != nil {
//	    return err
//	}
func (d *Device) AllocateStream(count, width, height, pixelFormat uint32) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	// Validate state; a capture goroutine that died is cleaned up first
	if d.closed {
		return 0, ErrClosed
	}
	if err := d.reapLocked(); err != nil {
		return 0, err
	}
	if d.streaming {
		return 0, fmt.Errorf("%w: stream is running: %w", ErrBufferAllocation, unix.EBUSY)
	}
	// Drop the previous set
	if err := d.backend.Release(); err != nil {
		return 0, err
	}
	if count == 0 {
		return 0, nil
	}

	// Apply the format, keeping the current colour description
	cur, err := d.Format()
	if err != nil {
		return 0, err
	}
	meta := ColorMeta{
		Colorspace:   cur.Colorspace,
		XferFunc:     cur.XferFunc,
		YCbCrEnc:     cur.YCbCrEnc,
		Quantization: cur.Quantization,
	}
	format, err := d.SetFormat(width, height, pixelFormat, meta)
	if err != nil {
		return 0, err
	}

	// Request buffers from the driver
	n, err := d.backend.Allocate(count, format)
	if err != nil {
		return 0, err
	}
	d.requeue = false
	d.logger.Info("stream buffers allocated",
		"unique_id", d.uniqueID,
		"requested", count,
		"granted", n,
		"memory", d.backend.Memory().String(),
	)
	return n, nil
}

// ReleaseStream stops streaming if needed and frees every buffer.
// Releasing an empty set is a no-op.
func (d *Device) ReleaseStream() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrClosed
	}
	return d.releaseLocked()
}

func (d *Device) releaseLocked() error {
	var errs []error
	if err := d.stopLocked(); err != nil {
		errs = append(errs, err)
	}
	if err := d.backend.Release(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// BufferCount returns the size of the allocated buffer set.
func (d *Device) BufferCount() int {
	return d.backend.Len()
}

// BufferPayload returns the memory behind an allocated buffer. It is
// safe to call from the frame callback.
func (d *Device) BufferPayload(index int) (Payload, error) {
	return d.backend.Payload(index)
}

// AttachUserBuffer supplies capture memory for a buffer in user pointer
// mode and queues it.
func (d *Device) AttachUserBuffer(index int, mem []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrClosed
	}
	up, ok := d.backend.(*userPtrBackend)
	if !ok {
		return fmt.Errorf("%w: attach memory in %s mode", ErrUnsupportedOperation, d.backend.Memory())
	}
	return up.Attach(index, mem)
}

// Streaming reports whether the capture goroutine is running. A stream
// whose goroutine died on a capture failure is not streaming.
func (d *Device) Streaming() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.streaming && !d.captureExitedLocked()
}

// Stats returns a snapshot of the device counters.
func (d *Device) Stats() Stats {
	s := Stats{
		UniqueID:     d.uniqueID,
		Path:         d.hw.Path(),
		Memory:       d.backend.Memory().String(),
		Streaming:    d.Streaming(),
		Buffers:      d.backend.Len(),
		Frames:       d.frames.Load(),
		Bytes:        d.bytes.Load(),
		LastSequence: d.lastSeq.Load(),
	}
	if ns := d.lastFrame.Load(); ns > 0 {
		s.LastFrame = time.Unix(0, ns)
	}
	return s
}

// Close stops streaming, releases buffers and closes the device. It is
// safe to call more than once.
func (d *Device) Close() error {
	d.closeOnce.Do(func() {
		d.mu.Lock()
		defer d.mu.Unlock()

		errs := []error{d.releaseLocked()}
		d.closed = true

		if err := d.waiter.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%w: close waiter: %w", ErrHardwareIO, err))
		}
		if err := d.hw.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%w: close %s: %w", ErrHardwareIO, d.hw.Path(), err))
		}
		d.closeErr = errors.Join(errs...)

		d.logger.Info("capture device closed", "unique_id", d.uniqueID, "path", d.hw.Path())
	})
	return d.closeErr
}
