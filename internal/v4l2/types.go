package v4l2

import (
	"errors"
	"fmt"
)

// Buffer types and memory models.
const (
	BufTypeVideoCapture uint32 = 1

	MemoryMmap    uint32 = 1
	MemoryUserPtr uint32 = 2
	MemoryDmabuf  uint32 = 4
)

// Capability bits reported by VIDIOC_QUERYCAP.
const (
	CapVideoCapture uint32 = 0x00000001
	CapReadWrite    uint32 = 0x01000000
	CapStreaming    uint32 = 0x04000000
	CapDeviceCaps   uint32 = 0x80000000
)

// Field order.
const FieldNone uint32 = 1

// Frame size and interval enumeration types.
const (
	FrmSizeTypeDiscrete   uint32 = 1
	FrmSizeTypeContinuous uint32 = 2
	FrmSizeTypeStepwise   uint32 = 3

	FrmIvalTypeDiscrete   uint32 = 1
	FrmIvalTypeContinuous uint32 = 2
	FrmIvalTypeStepwise   uint32 = 3
)

// Colorspaces.
const (
	ColorspaceDefault   uint32 = 0
	ColorspaceSMPTE170M uint32 = 1
	ColorspaceSMPTE240M uint32 = 2
	ColorspaceREC709    uint32 = 3
	ColorspaceJPEG      uint32 = 7
	ColorspaceSRGB      uint32 = 8
	ColorspaceOPRGB     uint32 = 9
	ColorspaceBT2020    uint32 = 10
	ColorspaceRaw       uint32 = 11
	ColorspaceDCIP3     uint32 = 12
)

// Transfer functions.
const (
	XferFuncDefault   uint32 = 0
	XferFunc709       uint32 = 1
	XferFuncSRGB      uint32 = 2
	XferFuncOPRGB     uint32 = 3
	XferFuncSMPTE240M uint32 = 4
	XferFuncNone      uint32 = 5
	XferFuncDCIP3     uint32 = 6
	XferFuncSMPTE2084 uint32 = 7
)

// Y'CbCr encodings.
const (
	YCbCrEncDefault        uint32 = 0
	YCbCrEnc601            uint32 = 1
	YCbCrEnc709            uint32 = 2
	YCbCrEncXV601          uint32 = 3
	YCbCrEncXV709          uint32 = 4
	YCbCrEncSYCC           uint32 = 5
	YCbCrEncBT2020         uint32 = 6
	YCbCrEncBT2020ConstLum uint32 = 7
	YCbCrEncSMPTE240M      uint32 = 8
)

// Quantization ranges.
const (
	QuantizationDefault   uint32 = 0
	QuantizationFullRange uint32 = 1
	QuantizationLimRange  uint32 = 2
)

// Control flags and types.
const (
	CtrlFlagDisabled  uint32 = 0x0001
	CtrlFlagGrabbed   uint32 = 0x0002
	CtrlFlagReadOnly  uint32 = 0x0004
	CtrlFlagUpdate    uint32 = 0x0008
	CtrlFlagInactive  uint32 = 0x0010
	CtrlFlagSlider    uint32 = 0x0020
	CtrlFlagWriteOnly uint32 = 0x0040
	CtrlFlagVolatile  uint32 = 0x0080

	// CtrlFlagNextCtrl is OR-ed into a control id to ask for the next one.
	CtrlFlagNextCtrl uint32 = 0x80000000

	CtrlTypeInteger     uint32 = 1
	CtrlTypeBoolean     uint32 = 2
	CtrlTypeMenu        uint32 = 3
	CtrlTypeButton      uint32 = 4
	CtrlTypeInteger64   uint32 = 5
	CtrlTypeCtrlClass   uint32 = 6
	CtrlTypeString      uint32 = 7
	CtrlTypeBitmask     uint32 = 8
	CtrlTypeIntegerMenu uint32 = 9
)

// User class control ids.
const (
	CIDBase       uint32 = 0x00980900
	CIDBrightness uint32 = CIDBase + 0
	CIDContrast   uint32 = CIDBase + 1
	CIDSaturation uint32 = CIDBase + 2
	CIDHue        uint32 = CIDBase + 3
)

// Common pixel formats.
var (
	PixFmtYUYV  = FourCC('Y', 'U', 'Y', 'V')
	PixFmtUYVY  = FourCC('U', 'Y', 'V', 'Y')
	PixFmtMJPEG = FourCC('M', 'J', 'P', 'G')
	PixFmtNV12  = FourCC('N', 'V', '1', '2')
	PixFmtRGB24 = FourCC('R', 'G', 'B', '3')
)

// ErrNotCharDevice is returned by Open for paths that are not character
// special files.
var ErrNotCharDevice = errors.New("v4l2: not a character device")

// FourCC packs four characters into a V4L2 pixel format code.
func FourCC(a, b, c, d byte) uint32 {
	return uint32(a) | uint32(b)<<8 | uint32(c)<<16 | uint32(d)<<24
}

// FourCCString renders a pixel format code as its four characters.
func FourCCString(code uint32) string {
	b := []byte{byte(code), byte(code >> 8), byte(code >> 16), byte(code >> 24)}
	for i, c := range b {
		if c < 0x20 || c > 0x7e {
			b[i] = '.'
		}
	}
	return string(b)
}

// Capability is the decoded result of VIDIOC_QUERYCAP.
type Capability struct {
	Driver       string
	Card         string
	BusInfo      string
	Version      uint32
	Capabilities uint32
	DeviceCaps   uint32
}

// Caps returns the capability bits of the opened node, preferring the
// per-node device caps when the driver reports them.
func (c Capability) Caps() uint32 {
	if c.Capabilities&CapDeviceCaps != 0 {
		return c.DeviceCaps
	}
	return c.Capabilities
}

// VersionString formats the kernel-encoded driver version.
func (c Capability) VersionString() string {
	return fmt.Sprintf("%d.%d.%d", byte(c.Version>>16), byte(c.Version>>8), byte(c.Version))
}

// FormatDesc is one entry of VIDIOC_ENUM_FMT.
type FormatDesc struct {
	Index       uint32
	Flags       uint32
	Description string
	PixelFormat uint32
}

// FrameSize is one entry of VIDIOC_ENUM_FRAMESIZES. Width and Height are
// only meaningful for discrete entries.
type FrameSize struct {
	Type   uint32
	Width  uint32
	Height uint32
}

// FrameInterval is one entry of VIDIOC_ENUM_FRAMEINTERVALS. Interval is
// only meaningful for discrete entries.
type FrameInterval struct {
	Type     uint32
	Interval Fract
}

// Fract is a rational number, used for time-per-frame and frame rates.
type Fract struct {
	Numerator   uint32
	Denominator uint32
}

// Inverse swaps numerator and denominator.
func (f Fract) Inverse() Fract {
	return Fract{Numerator: f.Denominator, Denominator: f.Numerator}
}

// IsZero reports whether either term is zero.
func (f Fract) IsZero() bool {
	return f.Numerator == 0 || f.Denominator == 0
}

// Float returns the fraction as a float, or 0 when undefined.
func (f Fract) Float() float64 {
	if f.Denominator == 0 {
		return 0
	}
	return float64(f.Numerator) / float64(f.Denominator)
}

func (f Fract) String() string {
	return fmt.Sprintf("%d/%d", f.Numerator, f.Denominator)
}

// PixFormat mirrors struct v4l2_pix_format.
type PixFormat struct {
	Width        uint32
	Height       uint32
	PixelFormat  uint32
	Field        uint32
	BytesPerLine uint32
	SizeImage    uint32
	Colorspace   uint32
	Flags        uint32
	YCbCrEnc     uint32
	Quantization uint32
	XferFunc     uint32
}

// BufferInfo carries the fields of struct v4l2_buffer that callers use.
type BufferInfo struct {
	Index     uint32
	Memory    uint32
	BytesUsed uint32
	Flags     uint32
	Sequence  uint32
	Length    uint32
	Offset    uint32
	UserPtr   uintptr
}

// ControlInfo is the decoded result of VIDIOC_QUERYCTRL.
type ControlInfo struct {
	ID      uint32
	Type    uint32
	Name    string
	Minimum int32
	Maximum int32
	Step    int32
	Default int32
	Flags   uint32
}

// Waiter blocks until the device has a completed buffer or the wait is
// cancelled.
type Waiter interface {
	// Wait returns true when the device is readable and false when the
	// wait was cancelled.
	Wait() (bool, error)

	// Cancel wakes a blocked Wait. A Cancel issued with no Wait in
	// progress is consumed by the next Wait.
	Cancel() error

	// Reset discards a pending cancellation.
	Reset() error

	Close() error
}
