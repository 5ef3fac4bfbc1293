//go:build linux && (amd64 || arm64)

package v4l2

import (
	"bytes"
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Device is an open V4L2 video node.
type Device struct {
	path string
	fd   int
}

// Open opens a V4L2 character device in non-blocking read-write mode.
func Open(path string) (*Device, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return nil, fmt.Errorf("v4l2: stat %s: %w", path, err)
	}
	if st.Mode&unix.S_IFMT != unix.S_IFCHR {
		return nil, fmt.Errorf("%w: %s: %w", ErrNotCharDevice, path, unix.EINVAL)
	}

	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("v4l2: open %s: %w", path, err)
	}
	return &Device{path: path, fd: fd}, nil
}

// Path returns the device node path.
func (d *Device) Path() string { return d.path }

// Close closes the file descriptor.
func (d *Device) Close() error {
	if d.fd < 0 {
		return nil
	}
	err := unix.Close(d.fd)
	d.fd = -1
	return err
}

// ioctl issues a V4L2 ioctl, retrying on EINTR.
func ioctl(fd int, req uintptr, arg unsafe.Pointer) error {
	for {
		_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(arg))
		switch errno {
		case 0:
			return nil
		case unix.EINTR:
			continue
		default:
			return errno
		}
	}
}

func cstring(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

// Capability queries the driver capabilities.
func (d *Device) Capability() (Capability, error) {
	var c v4l2Capability
	if err := ioctl(d.fd, vidiocQuerycap, unsafe.Pointer(&c)); err != nil {
		return Capability{}, err
	}
	return Capability{
		Driver:       cstring(c.driver[:]),
		Card:         cstring(c.card[:]),
		BusInfo:      cstring(c.busInfo[:]),
		Version:      c.version,
		Capabilities: c.capabilities,
		DeviceCaps:   c.deviceCaps,
	}, nil
}

// EnumFormat returns the capture format at index. EINVAL marks the end
// of the list.
func (d *Device) EnumFormat(index uint32) (FormatDesc, error) {
	desc := v4l2Fmtdesc{index: index, typ: BufTypeVideoCapture}
	if err := ioctl(d.fd, vidiocEnumFmt, unsafe.Pointer(&desc)); err != nil {
		return FormatDesc{}, err
	}
	return FormatDesc{
		Index:       desc.index,
		Flags:       desc.flags,
		Description: cstring(desc.description[:]),
		PixelFormat: desc.pixelformat,
	}, nil
}

// EnumFrameSize returns the frame size at index for a pixel format.
func (d *Device) EnumFrameSize(pixelFormat, index uint32) (FrameSize, error) {
	fs := v4l2Frmsizeenum{index: index, pixelFormat: pixelFormat}
	if err := ioctl(d.fd, vidiocEnumFramesizes, unsafe.Pointer(&fs)); err != nil {
		return FrameSize{}, err
	}
	return FrameSize{Type: fs.typ, Width: fs.width, Height: fs.height}, nil
}

// EnumFrameInterval returns the frame interval at index for a pixel
// format and frame size.
func (d *Device) EnumFrameInterval(pixelFormat, width, height, index uint32) (FrameInterval, error) {
	fi := v4l2Frmivalenum{index: index, pixelFormat: pixelFormat, width: width, height: height}
	if err := ioctl(d.fd, vidiocEnumFrameintervals, unsafe.Pointer(&fi)); err != nil {
		return FrameInterval{}, err
	}
	return FrameInterval{
		Type:     fi.typ,
		Interval: Fract{Numerator: fi.discrete.numerator, Denominator: fi.discrete.denominator},
	}, nil
}

func toPix(p v4l2PixFormat) PixFormat {
	return PixFormat{
		Width:        p.width,
		Height:       p.height,
		PixelFormat:  p.pixelformat,
		Field:        p.field,
		BytesPerLine: p.bytesperline,
		SizeImage:    p.sizeimage,
		Colorspace:   p.colorspace,
		Flags:        p.flags,
		YCbCrEnc:     p.ycbcrEnc,
		Quantization: p.quantization,
		XferFunc:     p.xferFunc,
	}
}

func fromPix(p PixFormat) v4l2PixFormat {
	return v4l2PixFormat{
		width:        p.Width,
		height:       p.Height,
		pixelformat:  p.PixelFormat,
		field:        p.Field,
		bytesperline: p.BytesPerLine,
		sizeimage:    p.SizeImage,
		colorspace:   p.Colorspace,
		flags:        p.Flags,
		ycbcrEnc:     p.YCbCrEnc,
		quantization: p.Quantization,
		xferFunc:     p.XferFunc,
	}
}

func (d *Device) format(req uintptr, p PixFormat) (PixFormat, error) {
	f := v4l2Format{typ: BufTypeVideoCapture, pix: fromPix(p)}
	if err := ioctl(d.fd, req, unsafe.Pointer(&f)); err != nil {
		return PixFormat{}, err
	}
	return toPix(f.pix), nil
}

// Format returns the current capture format.
func (d *Device) Format() (PixFormat, error) {
	return d.format(vidiocGFmt, PixFormat{})
}

// SetFormat applies a capture format and returns what the driver stored.
func (d *Device) SetFormat(p PixFormat) (PixFormat, error) {
	return d.format(vidiocSFmt, p)
}

// TryFormat returns the format the driver would negotiate without
// changing device state.
func (d *Device) TryFormat(p PixFormat) (PixFormat, error) {
	return d.format(vidiocTryFmt, p)
}

// TimePerFrame returns the current capture frame interval.
func (d *Device) TimePerFrame() (Fract, error) {
	parm := v4l2Streamparm{typ: BufTypeVideoCapture}
	if err := ioctl(d.fd, vidiocGParm, unsafe.Pointer(&parm)); err != nil {
		return Fract{}, err
	}
	tpf := parm.capture.timeperframe
	return Fract{Numerator: tpf.numerator, Denominator: tpf.denominator}, nil
}

// SetTimePerFrame requests a capture frame interval and returns the one
// the driver chose.
func (d *Device) SetTimePerFrame(tpf Fract) (Fract, error) {
	parm := v4l2Streamparm{typ: BufTypeVideoCapture}
	parm.capture.timeperframe = v4l2Fract{numerator: tpf.Numerator, denominator: tpf.Denominator}
	if err := ioctl(d.fd, vidiocSParm, unsafe.Pointer(&parm)); err != nil {
		return Fract{}, err
	}
	got := parm.capture.timeperframe
	return Fract{Numerator: got.numerator, Denominator: got.denominator}, nil
}

// RequestBuffers asks the driver for count buffers of the given memory
// model and returns the number granted. A count of zero frees them.
func (d *Device) RequestBuffers(count, memory uint32) (uint32, error) {
	req := v4l2Requestbuffers{count: count, typ: BufTypeVideoCapture, memory: memory}
	if err := ioctl(d.fd, vidiocReqbufs, unsafe.Pointer(&req)); err != nil {
		return 0, err
	}
	return req.count, nil
}

func toBufferInfo(b *v4l2Buffer) BufferInfo {
	info := BufferInfo{
		Index:     b.index,
		Memory:    b.memory,
		BytesUsed: b.bytesused,
		Flags:     b.flags,
		Sequence:  b.sequence,
		Length:    b.length,
	}
	switch b.memory {
	case MemoryMmap:
		info.Offset = uint32(b.m)
	case MemoryUserPtr:
		info.UserPtr = uintptr(b.m)
	}
	return info
}

// QueryBuffer returns the layout of a requested buffer.
func (d *Device) QueryBuffer(index, memory uint32) (BufferInfo, error) {
	b := v4l2Buffer{index: index, typ: BufTypeVideoCapture, memory: memory}
	if err := ioctl(d.fd, vidiocQuerybuf, unsafe.Pointer(&b)); err != nil {
		return BufferInfo{}, err
	}
	return toBufferInfo(&b), nil
}

// QueueBuffer hands a buffer to the driver for filling.
func (d *Device) QueueBuffer(info BufferInfo) error {
	b := v4l2Buffer{
		index:  info.Index,
		typ:    BufTypeVideoCapture,
		memory: info.Memory,
		length: info.Length,
	}
	if info.Memory == MemoryUserPtr {
		b.m = uint64(info.UserPtr)
	}
	return ioctl(d.fd, vidiocQbuf, unsafe.Pointer(&b))
}

// DequeueBuffer takes a filled buffer from the driver. With the node in
// non-blocking mode it returns EAGAIN when none is ready.
func (d *Device) DequeueBuffer(memory uint32) (BufferInfo, error) {
	b := v4l2Buffer{typ: BufTypeVideoCapture, memory: memory}
	if err := ioctl(d.fd, vidiocDqbuf, unsafe.Pointer(&b)); err != nil {
		return BufferInfo{}, err
	}
	return toBufferInfo(&b), nil
}

// ExportBuffer exports an mmap buffer as a DMA-BUF file descriptor.
func (d *Device) ExportBuffer(index uint32) (int, error) {
	exp := v4l2Exportbuffer{typ: BufTypeVideoCapture, index: index, flags: unix.O_CLOEXEC | unix.O_RDWR}
	if err := ioctl(d.fd, vidiocExpbuf, unsafe.Pointer(&exp)); err != nil {
		return -1, err
	}
	return int(exp.fd), nil
}

// Map maps a driver buffer into the process.
func (d *Device) Map(offset, length uint32) ([]byte, error) {
	return unix.Mmap(d.fd, int64(offset), int(length), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
}

// Unmap releases a mapping returned by Map.
func (d *Device) Unmap(b []byte) error {
	return unix.Munmap(b)
}

// CloseFD closes an exported buffer descriptor.
func (d *Device) CloseFD(fd int) error {
	return unix.Close(fd)
}

// StreamOn starts capture.
func (d *Device) StreamOn() error {
	typ := BufTypeVideoCapture
	return ioctl(d.fd, vidiocStreamon, unsafe.Pointer(&typ))
}

// StreamOff stops capture and returns all buffers to the dequeued state.
func (d *Device) StreamOff() error {
	typ := BufTypeVideoCapture
	return ioctl(d.fd, vidiocStreamoff, unsafe.Pointer(&typ))
}

// QueryControl describes a control. OR CtrlFlagNextCtrl into id to walk
// the control list.
func (d *Device) QueryControl(id uint32) (ControlInfo, error) {
	q := v4l2Queryctrl{id: id}
	if err := ioctl(d.fd, vidiocQueryctrl, unsafe.Pointer(&q)); err != nil {
		return ControlInfo{}, err
	}
	return ControlInfo{
		ID:      q.id,
		Type:    q.typ,
		Name:    cstring(q.name[:]),
		Minimum: q.minimum,
		Maximum: q.maximum,
		Step:    q.step,
		Default: q.defaultValue,
		Flags:   q.flags,
	}, nil
}

// GetControl reads a control value.
func (d *Device) GetControl(id uint32) (int32, error) {
	c := v4l2Control{id: id}
	if err := ioctl(d.fd, vidiocGCtrl, unsafe.Pointer(&c)); err != nil {
		return 0, err
	}
	return c.value, nil
}

// SetControl writes a control value.
func (d *Device) SetControl(id uint32, value int32) error {
	c := v4l2Control{id: id, value: value}
	return ioctl(d.fd, vidiocSCtrl, unsafe.Pointer(&c))
}
