package cameraif

import (
	"encoding/binary"
	"strings"
)

var le = binary.LittleEndian

// Colorspace values carried in Config.
const (
	ColorspaceDefault uint32 = iota
	ColorspaceSMPTE170M
	ColorspaceREC709
	ColorspaceSRGB
	ColorspaceOPRGB
	ColorspaceBT2020
	ColorspaceDCIP3
)

// Transfer function values carried in Config.
const (
	XferDefault uint32 = iota
	Xfer709
	XferSRGB
	XferOPRGB
	XferNone
	XferDCIP3
	XferSMPTE2084
)

// Y'CbCr encoding values carried in Config.
const (
	YCbCrIgnore uint32 = iota
	YCbCr601
	YCbCr709
	YCbCrXV601
	YCbCrXV709
	YCbCrBT2020
	YCbCrBT2020ConstLum
)

// Quantization values carried in Config.
const (
	QuantDefault uint32 = iota
	QuantFullRange
	QuantLimRange
)

// Config is the stream configuration exchanged by config-set, config-get
// and config-validate.
type Config struct {
	PixelFormat     uint32
	Width           uint32
	Height          uint32
	Colorspace      uint32
	XferFunc        uint32
	YCbCrEnc        uint32
	Quantization    uint32
	DisplayAspNum   uint32
	DisplayAspDenom uint32
	FrameRateNum    uint32
	FrameRateDenom  uint32
}

// DecodeConfig reads a Config from a payload.
func DecodeConfig(p *[PayloadSize]byte) Config {
	return Config{
		PixelFormat:     le.Uint32(p[0:]),
		Width:           le.Uint32(p[4:]),
		Height:          le.Uint32(p[8:]),
		Colorspace:      le.Uint32(p[12:]),
		XferFunc:        le.Uint32(p[16:]),
		YCbCrEnc:        le.Uint32(p[20:]),
		Quantization:    le.Uint32(p[24:]),
		DisplayAspNum:   le.Uint32(p[28:]),
		DisplayAspDenom: le.Uint32(p[32:]),
		FrameRateNum:    le.Uint32(p[36:]),
		FrameRateDenom:  le.Uint32(p[40:]),
	}
}

// Encode writes c into a payload.
func (c Config) Encode(p *[PayloadSize]byte) {
	le.PutUint32(p[0:], c.PixelFormat)
	le.PutUint32(p[4:], c.Width)
	le.PutUint32(p[8:], c.Height)
	le.PutUint32(p[12:], c.Colorspace)
	le.PutUint32(p[16:], c.XferFunc)
	le.PutUint32(p[20:], c.YCbCrEnc)
	le.PutUint32(p[24:], c.Quantization)
	le.PutUint32(p[28:], c.DisplayAspNum)
	le.PutUint32(p[32:], c.DisplayAspDenom)
	le.PutUint32(p[36:], c.FrameRateNum)
	le.PutUint32(p[40:], c.FrameRateDenom)
}

// FrameRate is the frame-rate-set payload.
type FrameRate struct {
	Numerator   uint32
	Denominator uint32
}

// DecodeFrameRate reads a FrameRate from a payload.
func DecodeFrameRate(p *[PayloadSize]byte) FrameRate {
	return FrameRate{Numerator: le.Uint32(p[0:]), Denominator: le.Uint32(p[4:])}
}

// Encode writes f into a payload.
func (f FrameRate) Encode(p *[PayloadSize]byte) {
	le.PutUint32(p[0:], f.Numerator)
	le.PutUint32(p[4:], f.Denominator)
}

// BufLayout describes the buffer geometry for the current format.
type BufLayout struct {
	NumPlanes   uint8
	Size        uint32
	PlaneOffset [MaxPlanes]uint32
	PlaneSize   [MaxPlanes]uint32
	PlaneStride [MaxPlanes]uint32
}

// DecodeBufLayout reads a BufLayout from a payload.
func DecodeBufLayout(p *[PayloadSize]byte) BufLayout {
	l := BufLayout{NumPlanes: p[0], Size: le.Uint32(p[4:])}
	for i := 0; i < MaxPlanes; i++ {
		l.PlaneOffset[i] = le.Uint32(p[8+4*i:])
		l.PlaneSize[i] = le.Uint32(p[24+4*i:])
		l.PlaneStride[i] = le.Uint32(p[40+4*i:])
	}
	return l
}

// Encode writes l into a payload.
func (l BufLayout) Encode(p *[PayloadSize]byte) {
	p[0] = l.NumPlanes
	le.PutUint32(p[4:], l.Size)
	for i := 0; i < MaxPlanes; i++ {
		le.PutUint32(p[8+4*i:], l.PlaneOffset[i])
		le.PutUint32(p[24+4*i:], l.PlaneSize[i])
		le.PutUint32(p[40+4*i:], l.PlaneStride[i])
	}
}

// BufRequest is the buffer-count-request payload, both directions.
type BufRequest struct {
	NumBufs uint8
}

// DecodeBufRequest reads a BufRequest from a payload.
func DecodeBufRequest(p *[PayloadSize]byte) BufRequest {
	return BufRequest{NumBufs: p[0]}
}

// Encode writes r into a payload.
func (r BufRequest) Encode(p *[PayloadSize]byte) {
	p[0] = r.NumBufs
}

// Index is the single-index payload used by buf-destroy, buf-queue,
// buf-dequeue and ctrl-enum requests.
type Index struct {
	Index uint8
}

// DecodeIndex reads an Index from a payload.
func DecodeIndex(p *[PayloadSize]byte) Index {
	return Index{Index: p[0]}
}

// Encode writes i into a payload.
func (i Index) Encode(p *[PayloadSize]byte) {
	p[0] = i.Index
}

// CtrlValue carries a control type and value. Used by ctrl-set, the
// ctrl-get response and the control-change event.
type CtrlValue struct {
	Type  uint8
	Value int64
}

// DecodeCtrlValue reads a CtrlValue from a payload.
func DecodeCtrlValue(p *[PayloadSize]byte) CtrlValue {
	return CtrlValue{Type: p[0], Value: int64(le.Uint64(p[8:]))}
}

// Encode writes v into a payload.
func (v CtrlValue) Encode(p *[PayloadSize]byte) {
	p[0] = v.Type
	le.PutUint64(p[8:], uint64(v.Value))
}

// CtrlEnum describes one enumerated control.
type CtrlEnum struct {
	Index   uint8
	Type    uint8
	Flags   uint32
	Min     int64
	Max     int64
	Step    int64
	Default int64
}

// DecodeCtrlEnum reads a CtrlEnum from a payload.
func DecodeCtrlEnum(p *[PayloadSize]byte) CtrlEnum {
	return CtrlEnum{
		Index:   p[0],
		Type:    p[1],
		Flags:   le.Uint32(p[4:]),
		Min:     int64(le.Uint64(p[8:])),
		Max:     int64(le.Uint64(p[16:])),
		Step:    int64(le.Uint64(p[24:])),
		Default: int64(le.Uint64(p[32:])),
	}
}

// Encode writes e into a payload.
func (e CtrlEnum) Encode(p *[PayloadSize]byte) {
	p[0] = e.Index
	p[1] = e.Type
	le.PutUint32(p[4:], e.Flags)
	le.PutUint64(p[8:], uint64(e.Min))
	le.PutUint64(p[16:], uint64(e.Max))
	le.PutUint64(p[24:], uint64(e.Step))
	le.PutUint64(p[32:], uint64(e.Default))
}

// FrameAvail is the frame-available event payload.
type FrameAvail struct {
	Index    uint8
	UsedSize uint32
	Sequence uint32
}

// DecodeFrameAvail reads a FrameAvail from a payload.
func DecodeFrameAvail(p *[PayloadSize]byte) FrameAvail {
	return FrameAvail{Index: p[0], UsedSize: le.Uint32(p[4:]), Sequence: le.Uint32(p[8:])}
}

// Encode writes f into a payload.
func (f FrameAvail) Encode(p *[PayloadSize]byte) {
	p[0] = f.Index
	le.PutUint32(p[4:], f.UsedSize)
	le.PutUint32(p[8:], f.Sequence)
}

var ctrlNames = map[uint8]string{
	CtrlBrightness: CtrlNameBrightness,
	CtrlContrast:   CtrlNameContrast,
	CtrlSaturation: CtrlNameSaturation,
	CtrlHue:        CtrlNameHue,
}

// CtrlName returns the canonical lowercase name of a protocol control
// type. Telemetry topics and series are keyed by it.
func CtrlName(t uint8) (string, bool) {
	n, ok := ctrlNames[t]
	return n, ok
}

// SplitList splits a separator-delimited list, dropping empty items.
func SplitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ListSeparator) {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
