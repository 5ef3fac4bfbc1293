// Package cameratest provides an in-memory capture device for tests.
package cameratest

import (
	"sort"
	"strings"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/andr2000/camera-be/internal/camera"
	"github.com/andr2000/camera-be/internal/v4l2"
)

// Size is a discrete frame size with its frame intervals.
type Size struct {
	Width, Height uint32
	Intervals     []v4l2.Fract
}

// Format is a pixel format offered by the fake.
type Format struct {
	PixelFormat uint32
	Description string
	Sizes       []Size

	// Stepwise makes frame size enumeration report a step-wise range.
	Stepwise bool
}

// Control is a control exposed by the fake.
type Control struct {
	Info  v4l2.ControlInfo
	Value int32
}

// Hardware is a fake camera.Hardware. Zero values are not usable; build
// one with New.
type Hardware struct {
	mu sync.Mutex

	path    string
	caps    v4l2.Capability
	formats []Format
	format  v4l2.PixFormat
	tpf     v4l2.Fract

	// MaxBuffers caps the number of buffers granted per request.
	MaxBuffers uint32
	// MaxWidth and MaxHeight clamp requested resolutions when non-zero.
	MaxWidth, MaxHeight uint32

	controls []Control

	failures    map[string]error
	exportFails int // index at which ExportBuffer fails, -1 for never

	memory    uint32
	buffers   uint32
	queued    []uint32
	filled    []uint32
	sequence  uint32
	mapped    map[*byte]bool
	exported  map[int]bool
	nextFD    int
	streaming bool
	closed    bool

	streamOns  int
	streamOffs int

	waiter *Waiter
}

// New returns a fake streaming capture device with a YUYV 640x480 format
// and the four user controls.
func New(path string) *Hardware {
	hw := &Hardware{
		path: path,
		caps: v4l2.Capability{
			Driver:       "fake",
			Card:         "Fake Camera",
			BusInfo:      "platform:" + path,
			Version:      6<<16 | 1<<8,
			Capabilities: v4l2.CapVideoCapture | v4l2.CapStreaming,
		},
		formats: []Format{{
			PixelFormat: v4l2.PixFmtYUYV,
			Description: "YUYV 4:2:2",
			Sizes: []Size{
				{Width: 640, Height: 480, Intervals: []v4l2.Fract{{Numerator: 1, Denominator: 30}, {Numerator: 1, Denominator: 15}}},
				{Width: 1280, Height: 720, Intervals: []v4l2.Fract{{Numerator: 1, Denominator: 10}}},
			},
		}},
		tpf:         v4l2.Fract{Numerator: 1, Denominator: 30},
		MaxBuffers:  8,
		failures:    make(map[string]error),
		exportFails: -1,
		mapped:      make(map[*byte]bool),
		exported:    make(map[int]bool),
		nextFD:      100,
		controls: []Control{
			{Info: v4l2.ControlInfo{ID: v4l2.CIDBrightness, Type: v4l2.CtrlTypeInteger, Name: "Brightness", Minimum: -64, Maximum: 64, Step: 1, Default: 0}},
			{Info: v4l2.ControlInfo{ID: v4l2.CIDContrast, Type: v4l2.CtrlTypeInteger, Name: "Contrast", Minimum: 0, Maximum: 95, Step: 1, Default: 32}, Value: 32},
			{Info: v4l2.ControlInfo{ID: v4l2.CIDSaturation, Type: v4l2.CtrlTypeInteger, Name: "Saturation", Minimum: 0, Maximum: 100, Step: 1, Default: 64}, Value: 64},
			{Info: v4l2.ControlInfo{ID: v4l2.CIDHue, Type: v4l2.CtrlTypeInteger, Name: "Hue", Minimum: -2000, Maximum: 2000, Step: 1, Default: 0, Flags: v4l2.CtrlFlagVolatile}},
		},
	}
	hw.format = hw.negotiate(v4l2.PixFormat{Width: 640, Height: 480, PixelFormat: v4l2.PixFmtYUYV})
	return hw
}

// SetCapability replaces the reported capabilities.
func (h *Hardware) SetCapability(c v4l2.Capability) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.caps = c
}

// SetFormats replaces the enumerated formats.
func (h *Hardware) SetFormats(formats []Format) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.formats = formats
}

// SetCurrentFormat forces the current format without negotiation.
func (h *Hardware) SetCurrentFormat(f v4l2.PixFormat) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.format = f
}

// SetControls replaces the exposed controls.
func (h *Hardware) SetControls(controls []Control) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.controls = controls
}

// FailOn makes the named method return err until cleared with a nil err.
func (h *Hardware) FailOn(method string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err == nil {
		delete(h.failures, method)
		return
	}
	h.failures[method] = err
}

// FailExportAt makes ExportBuffer fail for the given buffer index.
func (h *Hardware) FailExportAt(index int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.exportFails = index
}

func (h *Hardware) fail(method string) error {
	if h.closed {
		return unix.EBADF
	}
	return h.failures[method]
}

func (h *Hardware) Path() string { return h.path }

func (h *Hardware) Capability() (v4l2.Capability, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.fail("Capability"); err != nil {
		return v4l2.Capability{}, err
	}
	return h.caps, nil
}

func (h *Hardware) EnumFormat(index uint32) (v4l2.FormatDesc, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.fail("EnumFormat"); err != nil {
		return v4l2.FormatDesc{}, err
	}
	if int(index) >= len(h.formats) {
		return v4l2.FormatDesc{}, unix.EINVAL
	}
	f := h.formats[index]
	return v4l2.FormatDesc{Index: index, Description: f.Description, PixelFormat: f.PixelFormat}, nil
}

func (h *Hardware) lookupFormat(pixelFormat uint32) (Format, bool) {
	for _, f := range h.formats {
		if f.PixelFormat == pixelFormat {
			return f, true
		}
	}
	return Format{}, false
}

func (h *Hardware) EnumFrameSize(pixelFormat, index uint32) (v4l2.FrameSize, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	f, ok := h.lookupFormat(pixelFormat)
	if !ok {
		return v4l2.FrameSize{}, unix.EINVAL
	}
	if f.Stepwise {
		if index > 0 {
			return v4l2.FrameSize{}, unix.EINVAL
		}
		return v4l2.FrameSize{Type: v4l2.FrmSizeTypeStepwise}, nil
	}
	if int(index) >= len(f.Sizes) {
		return v4l2.FrameSize{}, unix.EINVAL
	}
	s := f.Sizes[index]
	return v4l2.FrameSize{Type: v4l2.FrmSizeTypeDiscrete, Width: s.Width, Height: s.Height}, nil
}

func (h *Hardware) EnumFrameInterval(pixelFormat, width, height, index uint32) (v4l2.FrameInterval, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	f, ok := h.lookupFormat(pixelFormat)
	if !ok {
		return v4l2.FrameInterval{}, unix.EINVAL
	}
	for _, s := range f.Sizes {
		if s.Width != width || s.Height != height {
			continue
		}
		if int(index) >= len(s.Intervals) {
			return v4l2.FrameInterval{}, unix.EINVAL
		}
		return v4l2.FrameInterval{Type: v4l2.FrmIvalTypeDiscrete, Interval: s.Intervals[index]}, nil
	}
	return v4l2.FrameInterval{}, unix.EINVAL
}

// negotiate clamps a requested format the way a driver would.
func (h *Hardware) negotiate(req v4l2.PixFormat) v4l2.PixFormat {
	f := req
	if h.MaxWidth != 0 && f.Width > h.MaxWidth {
		f.Width = h.MaxWidth
	}
	if h.MaxHeight != 0 && f.Height > h.MaxHeight {
		f.Height = h.MaxHeight
	}
	if _, ok := h.lookupFormat(f.PixelFormat); !ok && len(h.formats) > 0 {
		f.PixelFormat = h.formats[0].PixelFormat
	}
	f.Field = v4l2.FieldNone
	f.BytesPerLine = f.Width * 2
	f.SizeImage = f.BytesPerLine * f.Height
	if f.Colorspace == v4l2.ColorspaceDefault {
		f.Colorspace = v4l2.ColorspaceSRGB
	}
	return f
}

func (h *Hardware) Format() (v4l2.PixFormat, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.fail("Format"); err != nil {
		return v4l2.PixFormat{}, err
	}
	return h.format, nil
}

func (h *Hardware) SetFormat(req v4l2.PixFormat) (v4l2.PixFormat, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.fail("SetFormat"); err != nil {
		return v4l2.PixFormat{}, err
	}
	if h.buffers > 0 {
		return v4l2.PixFormat{}, unix.EBUSY
	}
	h.format = h.negotiate(req)
	return h.format, nil
}

func (h *Hardware) TryFormat(req v4l2.PixFormat) (v4l2.PixFormat, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.fail("TryFormat"); err != nil {
		return v4l2.PixFormat{}, err
	}
	return h.negotiate(req), nil
}

func (h *Hardware) TimePerFrame() (v4l2.Fract, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.fail("TimePerFrame"); err != nil {
		return v4l2.Fract{}, err
	}
	return h.tpf, nil
}

func (h *Hardware) SetTimePerFrame(tpf v4l2.Fract) (v4l2.Fract, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.fail("SetTimePerFrame"); err != nil {
		return v4l2.Fract{}, err
	}
	// Only 1/30 and slower are supported.
	if tpf.Float() < 1.0/30 {
		tpf = v4l2.Fract{Numerator: 1, Denominator: 30}
	}
	h.tpf = tpf
	return tpf, nil
}

func (h *Hardware) RequestBuffers(count, memory uint32) (uint32, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.fail("RequestBuffers"); err != nil {
		return 0, err
	}
	if h.streaming {
		return 0, unix.EBUSY
	}
	if count > 0 && len(h.mapped) > 0 {
		return 0, unix.EBUSY
	}
	if count > h.MaxBuffers {
		count = h.MaxBuffers
	}
	h.buffers = count
	h.memory = memory
	h.queued = nil
	h.filled = nil
	return count, nil
}

func (h *Hardware) QueryBuffer(index, memory uint32) (v4l2.BufferInfo, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.fail("QueryBuffer"); err != nil {
		return v4l2.BufferInfo{}, err
	}
	if index >= h.buffers || memory != h.memory {
		return v4l2.BufferInfo{}, unix.EINVAL
	}
	return v4l2.BufferInfo{
		Index:  index,
		Memory: memory,
		Length: h.format.SizeImage,
		Offset: index * 4096,
	}, nil
}

func (h *Hardware) QueueBuffer(info v4l2.BufferInfo) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.fail("QueueBuffer"); err != nil {
		return err
	}
	if info.Index >= h.buffers || info.Memory != h.memory {
		return unix.EINVAL
	}
	if info.Memory == v4l2.MemoryUserPtr && info.UserPtr == 0 {
		return unix.EFAULT
	}
	h.queued = append(h.queued, info.Index)
	return nil
}

func (h *Hardware) DequeueBuffer(memory uint32) (v4l2.BufferInfo, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.fail("DequeueBuffer"); err != nil {
		return v4l2.BufferInfo{}, err
	}
	if len(h.filled) == 0 {
		return v4l2.BufferInfo{}, unix.EAGAIN
	}
	idx := h.filled[0]
	h.filled = h.filled[1:]
	seq := h.sequence
	h.sequence++
	return v4l2.BufferInfo{
		Index:     idx,
		Memory:    memory,
		BytesUsed: h.format.SizeImage,
		Sequence:  seq,
		Length:    h.format.SizeImage,
	}, nil
}

func (h *Hardware) ExportBuffer(index uint32) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.fail("ExportBuffer"); err != nil {
		return -1, err
	}
	if h.exportFails >= 0 && int(index) == h.exportFails {
		return -1, unix.EMFILE
	}
	if index >= h.buffers {
		return -1, unix.EINVAL
	}
	fd := h.nextFD
	h.nextFD++
	h.exported[fd] = true
	return fd, nil
}

func (h *Hardware) Map(offset, length uint32) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.fail("Map"); err != nil {
		return nil, err
	}
	if length == 0 {
		return nil, unix.EINVAL
	}
	b := make([]byte, length)
	h.mapped[&b[0]] = true
	return b, nil
}

func (h *Hardware) Unmap(b []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.fail("Unmap"); err != nil {
		return err
	}
	if len(b) == 0 || !h.mapped[&b[0]] {
		return unix.EINVAL
	}
	delete(h.mapped, &b[0])
	return nil
}

func (h *Hardware) CloseFD(fd int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.exported[fd] {
		return unix.EBADF
	}
	delete(h.exported, fd)
	return h.fail("CloseFD")
}

func (h *Hardware) StreamOn() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.fail("StreamOn"); err != nil {
		return err
	}
	h.streaming = true
	h.streamOns++
	return nil
}

func (h *Hardware) StreamOff() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.fail("StreamOff"); err != nil {
		return err
	}
	h.streaming = false
	h.streamOffs++
	h.queued = nil
	h.filled = nil
	return nil
}

func (h *Hardware) QueryControl(id uint32) (v4l2.ControlInfo, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.fail("QueryControl"); err != nil {
		return v4l2.ControlInfo{}, err
	}

	ctrls := make([]Control, len(h.controls))
	copy(ctrls, h.controls)
	sort.Slice(ctrls, func(i, j int) bool { return ctrls[i].Info.ID < ctrls[j].Info.ID })

	if id&v4l2.CtrlFlagNextCtrl != 0 {
		base := id &^ v4l2.CtrlFlagNextCtrl
		for _, c := range ctrls {
			if c.Info.ID > base {
				return c.Info, nil
			}
		}
		return v4l2.ControlInfo{}, unix.EINVAL
	}
	for _, c := range ctrls {
		if c.Info.ID == id {
			return c.Info, nil
		}
	}
	return v4l2.ControlInfo{}, unix.EINVAL
}

func (h *Hardware) control(id uint32) (*Control, error) {
	for i := range h.controls {
		if h.controls[i].Info.ID == id {
			return &h.controls[i], nil
		}
	}
	return nil, unix.EINVAL
}

func (h *Hardware) GetControl(id uint32) (int32, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.fail("GetControl"); err != nil {
		return 0, err
	}
	c, err := h.control(id)
	if err != nil {
		return 0, err
	}
	if c.Info.Flags&v4l2.CtrlFlagWriteOnly != 0 {
		return 0, unix.EACCES
	}
	return c.Value, nil
}

func (h *Hardware) SetControl(id uint32, value int32) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.fail("SetControl"); err != nil {
		return err
	}
	c, err := h.control(id)
	if err != nil {
		return err
	}
	if c.Info.Flags&v4l2.CtrlFlagReadOnly != 0 {
		return unix.EACCES
	}
	if value < c.Info.Minimum || value > c.Info.Maximum {
		return unix.ERANGE
	}
	c.Value = value
	return nil
}

func (h *Hardware) NewWaiter() (v4l2.Waiter, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.fail("NewWaiter"); err != nil {
		return nil, err
	}
	h.waiter = &Waiter{
		ready:  make(chan struct{}, 64),
		cancel: make(chan struct{}, 1),
	}
	return h.waiter, nil
}

func (h *Hardware) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return unix.EBADF
	}
	h.closed = true
	return nil
}

// Emit fills the oldest queued buffer and wakes the capture goroutine.
// It reports false when no buffer is queued or streaming is off.
func (h *Hardware) Emit() bool {
	h.mu.Lock()
	if !h.streaming || len(h.queued) == 0 || h.waiter == nil {
		h.mu.Unlock()
		return false
	}
	idx := h.queued[0]
	h.queued = h.queued[1:]
	h.filled = append(h.filled, idx)
	w := h.waiter
	h.mu.Unlock()

	w.ready <- struct{}{}
	return true
}

// WakeError makes the next Wait return err.
func (h *Hardware) WakeError(err error) {
	h.mu.Lock()
	w := h.waiter
	h.mu.Unlock()
	w.mu.Lock()
	w.err = err
	w.mu.Unlock()
	w.ready <- struct{}{}
}

// Snapshot is a view of the fake's internal bookkeeping.
type Snapshot struct {
	Buffers    uint32
	Memory     uint32
	Queued     int
	Mapped     int
	Exported   int
	Streaming  bool
	StreamOns  int
	StreamOffs int
	Closed     bool
}

// State returns the current bookkeeping.
func (h *Hardware) State() Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Snapshot{
		Buffers:    h.buffers,
		Memory:     h.memory,
		Queued:     len(h.queued),
		Mapped:     len(h.mapped),
		Exported:   len(h.exported),
		Streaming:  h.streaming,
		StreamOns:  h.streamOns,
		StreamOffs: h.streamOffs,
		Closed:     h.closed,
	}
}

// ControlValue returns the stored value of a control.
func (h *Hardware) ControlValue(id uint32) int32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, err := h.control(id)
	if err != nil {
		return 0
	}
	return c.Value
}

// Waiter is the fake readiness waiter.
type Waiter struct {
	ready  chan struct{}
	cancel chan struct{}

	mu     sync.Mutex
	err    error
	closed bool
}

func (w *Waiter) Wait() (bool, error) {
	select {
	case <-w.cancel:
		return false, nil
	case <-w.ready:
		w.mu.Lock()
		err := w.err
		w.err = nil
		w.mu.Unlock()
		if err != nil {
			return false, err
		}
		return true, nil
	}
}

func (w *Waiter) Cancel() error {
	select {
	case w.cancel <- struct{}{}:
	default:
	}
	return nil
}

func (w *Waiter) Reset() error {
	select {
	case <-w.cancel:
	default:
	}
	return nil
}

func (w *Waiter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

// Factory opens a fresh fake for every path it knows.
type Factory struct {
	mu     sync.Mutex
	paths  map[string]func() *Hardware
	opened []*Hardware
}

// NewFactory returns a factory that serves the given device paths with
// default fakes.
func NewFactory(paths ...string) *Factory {
	f := &Factory{paths: make(map[string]func() *Hardware)}
	for _, p := range paths {
		p := p
		f.paths[p] = func() *Hardware { return New(p) }
	}
	return f
}

// Add registers a constructor for a path.
func (f *Factory) Add(path string, fn func() *Hardware) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paths[path] = fn
}

// Open implements camera.OpenFunc.
func (f *Factory) Open(path string) (camera.Hardware, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn, ok := f.paths[path]
	if !ok {
		return nil, unix.ENOENT
	}
	hw := fn()
	f.opened = append(f.opened, hw)
	return hw, nil
}

// Opened returns every fake opened so far, oldest first.
func (f *Factory) Opened() []*Hardware {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*Hardware, len(f.opened))
	copy(out, f.opened)
	return out
}

// Last returns the most recently opened fake whose path contains sub.
func (f *Factory) Last(sub string) *Hardware {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.opened) - 1; i >= 0; i-- {
		if strings.Contains(f.opened[i].path, sub) {
			return f.opened[i]
		}
	}
	return nil
}
