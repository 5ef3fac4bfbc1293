package camera

import "github.com/andr2000/camera-be/internal/v4l2"

// Hardware is the ioctl surface of a video capture node.
//
// *v4l2.Device implements it on Linux; tests substitute a fake. Errors
// are raw kernel errors (unix.Errno) and are wrapped into domain kinds
// by Device.
type Hardware interface {
	Path() string
	Capability() (v4l2.Capability, error)

	EnumFormat(index uint32) (v4l2.FormatDesc, error)
	EnumFrameSize(pixelFormat, index uint32) (v4l2.FrameSize, error)
	EnumFrameInterval(pixelFormat, width, height, index uint32) (v4l2.FrameInterval, error)

	Format() (v4l2.PixFormat, error)
	SetFormat(v4l2.PixFormat) (v4l2.PixFormat, error)
	TryFormat(v4l2.PixFormat) (v4l2.PixFormat, error)
	TimePerFrame() (v4l2.Fract, error)
	SetTimePerFrame(v4l2.Fract) (v4l2.Fract, error)

	RequestBuffers(count, memory uint32) (uint32, error)
	QueryBuffer(index, memory uint32) (v4l2.BufferInfo, error)
	QueueBuffer(v4l2.BufferInfo) error
	DequeueBuffer(memory uint32) (v4l2.BufferInfo, error)
	ExportBuffer(index uint32) (int, error)
	Map(offset, length uint32) ([]byte, error)
	Unmap([]byte) error
	CloseFD(fd int) error

	StreamOn() error
	StreamOff() error

	QueryControl(id uint32) (v4l2.ControlInfo, error)
	GetControl(id uint32) (int32, error)
	SetControl(id uint32, value int32) error

	NewWaiter() (v4l2.Waiter, error)
	Close() error
}

// OpenFunc opens the hardware behind a device path.
type OpenFunc func(path string) (Hardware, error)
