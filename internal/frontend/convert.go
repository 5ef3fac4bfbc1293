package frontend

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/andr2000/camera-be/internal/camera"
	"github.com/andr2000/camera-be/internal/cameraif"
	"github.com/andr2000/camera-be/internal/v4l2"
)

// enumTable maps a wire enumeration to its V4L2 counterpart.
type enumTable struct {
	name   string
	toV4L2 map[uint32]uint32
}

func (t enumTable) fromWire(v uint32) (uint32, error) {
	out, ok := t.toV4L2[v]
	if !ok {
		return 0, fmt.Errorf("%w: %s %d: %w", camera.ErrUnsupportedFormat, t.name, v, unix.EINVAL)
	}
	return out, nil
}

// toWire returns the wire value for a V4L2 value, falling back to the
// default (zero) for values the protocol cannot express.
func (t enumTable) toWire(v uint32) uint32 {
	for w, l := range t.toV4L2 {
		if l == v {
			return w
		}
	}
	return 0
}

var (
	colorspaces = enumTable{name: "colorspace", toV4L2: map[uint32]uint32{
		cameraif.ColorspaceDefault:   v4l2.ColorspaceDefault,
		cameraif.ColorspaceSMPTE170M: v4l2.ColorspaceSMPTE170M,
		cameraif.ColorspaceREC709:    v4l2.ColorspaceREC709,
		cameraif.ColorspaceSRGB:      v4l2.ColorspaceSRGB,
		cameraif.ColorspaceOPRGB:     v4l2.ColorspaceOPRGB,
		cameraif.ColorspaceBT2020:    v4l2.ColorspaceBT2020,
		cameraif.ColorspaceDCIP3:     v4l2.ColorspaceDCIP3,
	}}

	xferFuncs = enumTable{name: "transfer function", toV4L2: map[uint32]uint32{
		cameraif.XferDefault:   v4l2.XferFuncDefault,
		cameraif.Xfer709:       v4l2.XferFunc709,
		cameraif.XferSRGB:      v4l2.XferFuncSRGB,
		cameraif.XferOPRGB:     v4l2.XferFuncOPRGB,
		cameraif.XferNone:      v4l2.XferFuncNone,
		cameraif.XferDCIP3:     v4l2.XferFuncDCIP3,
		cameraif.XferSMPTE2084: v4l2.XferFuncSMPTE2084,
	}}

	ycbcrEncs = enumTable{name: "ycbcr encoding", toV4L2: map[uint32]uint32{
		cameraif.YCbCrIgnore:         v4l2.YCbCrEncDefault,
		cameraif.YCbCr601:            v4l2.YCbCrEnc601,
		cameraif.YCbCr709:            v4l2.YCbCrEnc709,
		cameraif.YCbCrXV601:          v4l2.YCbCrEncXV601,
		cameraif.YCbCrXV709:          v4l2.YCbCrEncXV709,
		cameraif.YCbCrBT2020:         v4l2.YCbCrEncBT2020,
		cameraif.YCbCrBT2020ConstLum: v4l2.YCbCrEncBT2020ConstLum,
	}}

	quantizations = enumTable{name: "quantization", toV4L2: map[uint32]uint32{
		cameraif.QuantDefault:   v4l2.QuantizationDefault,
		cameraif.QuantFullRange: v4l2.QuantizationFullRange,
		cameraif.QuantLimRange:  v4l2.QuantizationLimRange,
	}}
)

// colorMetaFromWire translates the colour fields of a wire config.
func colorMetaFromWire(cfg cameraif.Config) (camera.ColorMeta, error) {
	var (
		meta camera.ColorMeta
		err  error
	)
	if meta.Colorspace, err = colorspaces.fromWire(cfg.Colorspace); err != nil {
		return meta, err
	}
	if meta.XferFunc, err = xferFuncs.fromWire(cfg.XferFunc); err != nil {
		return meta, err
	}
	if meta.YCbCrEnc, err = ycbcrEncs.fromWire(cfg.YCbCrEnc); err != nil {
		return meta, err
	}
	if meta.Quantization, err = quantizations.fromWire(cfg.Quantization); err != nil {
		return meta, err
	}
	return meta, nil
}

// configToWire fills the format part of a wire config. The display aspect
// ratio is the resolution reduced by its greatest common divisor.
func configToWire(f v4l2.PixFormat) cameraif.Config {
	num, denom := aspectRatio(f.Width, f.Height)
	return cameraif.Config{
		PixelFormat:     f.PixelFormat,
		Width:           f.Width,
		Height:          f.Height,
		Colorspace:      colorspaces.toWire(f.Colorspace),
		XferFunc:        xferFuncs.toWire(f.XferFunc),
		YCbCrEnc:        ycbcrEncs.toWire(f.YCbCrEnc),
		Quantization:    quantizations.toWire(f.Quantization),
		DisplayAspNum:   num,
		DisplayAspDenom: denom,
	}
}

func aspectRatio(width, height uint32) (uint32, uint32) {
	g := gcd(width, height)
	if g == 0 {
		return 0, 0
	}
	return width / g, height / g
}

func gcd(a, b uint32) uint32 {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

// Protocol control types and their standard V4L2 ids.
var controlIDs = map[uint8]uint32{
	cameraif.CtrlBrightness: v4l2.CIDBrightness,
	cameraif.CtrlContrast:   v4l2.CIDContrast,
	cameraif.CtrlSaturation: v4l2.CIDSaturation,
	cameraif.CtrlHue:        v4l2.CIDHue,
}

func controlIDFromWire(t uint8) (uint32, error) {
	id, ok := controlIDs[t]
	if !ok {
		return 0, fmt.Errorf("%w: control type %d: %w", camera.ErrUnsupportedControl, t, unix.EINVAL)
	}
	return id, nil
}

func controlTypeToWire(id uint32) (uint8, error) {
	for t, cid := range controlIDs {
		if cid == id {
			return t, nil
		}
	}
	return 0, fmt.Errorf("%w: control id %#x has no protocol type: %w", camera.ErrUnsupportedControl, id, unix.EINVAL)
}

func controlFlagsToWire(flags uint32) uint32 {
	var out uint32
	if flags&v4l2.CtrlFlagReadOnly != 0 {
		out |= cameraif.CtrlFlagReadOnly
	}
	if flags&v4l2.CtrlFlagWriteOnly != 0 {
		out |= cameraif.CtrlFlagWriteOnly
	}
	if flags&v4l2.CtrlFlagVolatile != 0 {
		out |= cameraif.CtrlFlagVolatile
	}
	return out
}
