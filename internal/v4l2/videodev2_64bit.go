//go:build linux && (amd64 || arm64)

package v4l2

import "unsafe"

// Compile-time struct size assertions against the 64-bit kernel ABI.
// [0]struct{} = [actual - expected]struct{} fails to build on mismatch.
var (
	_ [0]struct{} = [unsafe.Sizeof(v4l2Capability{}) - 104]struct{}{}
	_ [0]struct{} = [unsafe.Sizeof(v4l2Fmtdesc{}) - 64]struct{}{}
	_ [0]struct{} = [unsafe.Sizeof(v4l2Frmsizeenum{}) - 44]struct{}{}
	_ [0]struct{} = [unsafe.Sizeof(v4l2Frmivalenum{}) - 52]struct{}{}
	_ [0]struct{} = [unsafe.Sizeof(v4l2PixFormat{}) - 48]struct{}{}
	_ [0]struct{} = [unsafe.Sizeof(v4l2Format{}) - 208]struct{}{}
	_ [0]struct{} = [unsafe.Sizeof(v4l2Requestbuffers{}) - 20]struct{}{}
	_ [0]struct{} = [unsafe.Sizeof(v4l2Buffer{}) - 88]struct{}{}
	_ [0]struct{} = [unsafe.Sizeof(v4l2Exportbuffer{}) - 64]struct{}{}
	_ [0]struct{} = [unsafe.Sizeof(v4l2Streamparm{}) - 204]struct{}{}
	_ [0]struct{} = [unsafe.Sizeof(v4l2Queryctrl{}) - 68]struct{}{}
	_ [0]struct{} = [unsafe.Sizeof(v4l2Control{}) - 8]struct{}{}

	_ [0]struct{} = [unsafe.Offsetof(v4l2Format{}.pix) - 8]struct{}{}
	_ [0]struct{} = [unsafe.Offsetof(v4l2Buffer{}.timestampSec) - 24]struct{}{}
	_ [0]struct{} = [unsafe.Offsetof(v4l2Buffer{}.m) - 64]struct{}{}
)

// IOCTL request codes for 64-bit architectures.
const (
	vidiocQuerycap           = 0x80685600
	vidiocEnumFmt            = 0xc0405602
	vidiocGFmt               = 0xc0d05604
	vidiocSFmt               = 0xc0d05605
	vidiocReqbufs            = 0xc0145608
	vidiocQuerybuf           = 0xc0585609
	vidiocQbuf               = 0xc058560f
	vidiocExpbuf             = 0xc0405610
	vidiocDqbuf              = 0xc0585611
	vidiocStreamon           = 0x40045612
	vidiocStreamoff          = 0x40045613
	vidiocGParm              = 0xc0cc5615
	vidiocSParm              = 0xc0cc5616
	vidiocGCtrl              = 0xc008561b
	vidiocSCtrl              = 0xc008561c
	vidiocQueryctrl          = 0xc0445624
	vidiocTryFmt             = 0xc0d05640
	vidiocEnumFramesizes     = 0xc02c564a
	vidiocEnumFrameintervals = 0xc034564b
)

type v4l2Capability struct {
	driver       [16]byte
	card         [32]byte
	busInfo      [32]byte
	version      uint32
	capabilities uint32
	deviceCaps   uint32
	reserved     [3]uint32
}

type v4l2Fmtdesc struct {
	index       uint32
	typ         uint32
	flags       uint32
	description [32]byte
	pixelformat uint32
	mbusCode    uint32
	reserved    [3]uint32
}

type v4l2Fract struct {
	numerator   uint32
	denominator uint32
}

type v4l2Frmsizeenum struct {
	index       uint32
	pixelFormat uint32
	typ         uint32
	width       uint32 // discrete union member
	height      uint32
	_           [16]byte // rest of the stepwise member
	reserved    [2]uint32
}

type v4l2Frmivalenum struct {
	index       uint32
	pixelFormat uint32
	width       uint32
	height      uint32
	typ         uint32
	discrete    v4l2Fract
	_           [16]byte
	reserved    [2]uint32
}

type v4l2PixFormat struct {
	width        uint32
	height       uint32
	pixelformat  uint32
	field        uint32
	bytesperline uint32
	sizeimage    uint32
	colorspace   uint32
	priv         uint32
	flags        uint32
	ycbcrEnc     uint32
	quantization uint32
	xferFunc     uint32
}

// v4l2Format places the union at offset 8: the kernel union holds
// pointer-bearing members and is 8-byte aligned.
type v4l2Format struct {
	typ uint32
	_   uint32
	pix v4l2PixFormat
	_   [152]byte
}

type v4l2Requestbuffers struct {
	count        uint32
	typ          uint32
	memory       uint32
	capabilities uint32
	flags        uint8
	reserved     [3]uint8
}

type v4l2Buffer struct {
	index         uint32
	typ           uint32
	bytesused     uint32
	flags         uint32
	field         uint32
	_             uint32
	timestampSec  int64
	timestampUsec int64
	timecode      [16]byte
	sequence      uint32
	memory        uint32
	m             uint64 // offset, userptr or fd
	length        uint32
	reserved2     uint32
	requestFD     int32
	_             uint32
}

type v4l2Exportbuffer struct {
	typ      uint32
	index    uint32
	plane    uint32
	flags    uint32
	fd       int32
	reserved [11]uint32
}

type v4l2Captureparm struct {
	capability   uint32
	capturemode  uint32
	timeperframe v4l2Fract
	extendedmode uint32
	readbuffers  uint32
	reserved     [4]uint32
}

type v4l2Streamparm struct {
	typ     uint32
	capture v4l2Captureparm
	_       [160]byte
}

type v4l2Queryctrl struct {
	id           uint32
	typ          uint32
	name         [32]byte
	minimum      int32
	maximum      int32
	step         int32
	defaultValue int32
	flags        uint32
	reserved     [2]uint32
}

type v4l2Control struct {
	id    uint32
	value int32
}
