package frontend

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/andr2000/camera-be/internal/camera"
	"github.com/andr2000/camera-be/internal/cameraif"
	"github.com/andr2000/camera-be/internal/v4l2"
)

// configSet applies format, colour description and, when given, frame
// rate, then answers with what the hardware negotiated.
func (e *Engine) configSet(req *cameraif.Request, resp *cameraif.Response) error {
	cfg := cameraif.DecodeConfig(&req.Payload)

	meta, err := colorMetaFromWire(cfg)
	if err != nil {
		return err
	}
	if _, err := e.dev.SetFormat(cfg.Width, cfg.Height, cfg.PixelFormat, meta); err != nil {
		return err
	}

	if cfg.FrameRateNum != 0 && cfg.FrameRateDenom != 0 {
		fps := v4l2.Fract{Numerator: cfg.FrameRateNum, Denominator: cfg.FrameRateDenom}
		if _, err := e.dev.SetFrameRate(fps); err != nil {
			if !errors.Is(err, camera.ErrUnsupportedOperation) {
				return err
			}
			e.logger.Warn("device does not support frame rate selection", "unique_id", e.uniqueID)
		}
	}

	return e.configGet(req, resp)
}

// configGet reports the current configuration.
func (e *Engine) configGet(_ *cameraif.Request, resp *cameraif.Response) error {
	f, err := e.dev.Format()
	if err != nil {
		return err
	}
	cfg := configToWire(f)

	fps, err := e.dev.FrameRate()
	switch {
	case err == nil:
		cfg.FrameRateNum = fps.Numerator
		cfg.FrameRateDenom = fps.Denominator
	case errors.Is(err, camera.ErrUnsupportedOperation):
	default:
		return err
	}

	cfg.Encode(&resp.Payload)
	return nil
}

// configValidate answers with what config-set would negotiate without
// applying anything.
func (e *Engine) configValidate(req *cameraif.Request, resp *cameraif.Response) error {
	in := cameraif.DecodeConfig(&req.Payload)

	meta, err := colorMetaFromWire(in)
	if err != nil {
		return err
	}
	f, err := e.dev.TryFormat(in.Width, in.Height, in.PixelFormat, meta)
	if err != nil {
		return err
	}

	out := configToWire(f)
	out.FrameRateNum = in.FrameRateNum
	out.FrameRateDenom = in.FrameRateDenom
	out.Encode(&resp.Payload)
	return nil
}

func (e *Engine) frameRateSet(req *cameraif.Request, _ *cameraif.Response) error {
	fr := cameraif.DecodeFrameRate(&req.Payload)
	if fr.Numerator == 0 || fr.Denominator == 0 {
		return fmt.Errorf("%w: frame rate %d/%d: %w",
			camera.ErrUnsupportedFormat, fr.Numerator, fr.Denominator, unix.EINVAL)
	}
	_, err := e.dev.SetFrameRate(v4l2.Fract{Numerator: fr.Numerator, Denominator: fr.Denominator})
	return err
}

// bufGetLayout describes the single-plane buffer of the current format.
func (e *Engine) bufGetLayout(_ *cameraif.Request, resp *cameraif.Response) error {
	f, err := e.dev.Format()
	if err != nil {
		return err
	}

	layout := cameraif.BufLayout{
		NumPlanes: 1,
		Size:      f.SizeImage,
	}
	layout.PlaneOffset[0] = 0
	layout.PlaneSize[0] = f.SizeImage
	layout.PlaneStride[0] = f.BytesPerLine
	layout.Encode(&resp.Payload)
	return nil
}

// bufRequest replaces the buffer set and answers with the granted count,
// which may be lower than requested.
func (e *Engine) bufRequest(req *cameraif.Request, resp *cameraif.Response) error {
	want := cameraif.DecodeBufRequest(&req.Payload)

	f, err := e.dev.Format()
	if err != nil {
		return err
	}
	n, err := e.dev.AllocateStream(uint32(want.NumBufs), f.Width, f.Height, f.PixelFormat)
	if err != nil {
		return err
	}

	cameraif.BufRequest{NumBufs: uint8(n)}.Encode(&resp.Payload) //nolint:gosec // granted counts are small
	return nil
}

// bufQueue and bufDequeue validate the index against the allocated set.
// Guest memory behind the index is mapped by the hypervisor transport.
func (e *Engine) bufQueue(req *cameraif.Request, _ *cameraif.Response) error {
	return e.checkBufferIndex(cameraif.DecodeIndex(&req.Payload).Index)
}

func (e *Engine) bufDequeue(req *cameraif.Request, resp *cameraif.Response) error {
	idx := cameraif.DecodeIndex(&req.Payload)
	if err := e.checkBufferIndex(idx.Index); err != nil {
		return err
	}
	idx.Encode(&resp.Payload)
	return nil
}

func (e *Engine) checkBufferIndex(index uint8) error {
	if n := e.dev.BufferCount(); int(index) >= n {
		return fmt.Errorf("%w: buffer %d of %d: %w", camera.ErrInvalidIndex, index, n, unix.EINVAL)
	}
	return nil
}

// ctrlEnum describes the assigned control at the requested index.
func (e *Engine) ctrlEnum(req *cameraif.Request, resp *cameraif.Response) error {
	idx := cameraif.DecodeIndex(&req.Payload).Index

	slot, err := e.controls.resolve(int(idx), e.dev)
	if err != nil {
		return err
	}
	t, err := controlTypeToWire(slot.info.ID)
	if err != nil {
		return err
	}

	cameraif.CtrlEnum{
		Index:   idx,
		Type:    t,
		Flags:   controlFlagsToWire(slot.info.Flags),
		Min:     int64(slot.info.Minimum),
		Max:     int64(slot.info.Maximum),
		Step:    int64(slot.info.Step),
		Default: int64(slot.info.Default),
	}.Encode(&resp.Payload)
	return nil
}

// ctrlSet writes an assigned, already enumerated control and notifies
// every other frontend bound to the same device.
func (e *Engine) ctrlSet(req *cameraif.Request, _ *cameraif.Response) error {
	v := cameraif.DecodeCtrlValue(&req.Payload)

	id, err := controlIDFromWire(v.Type)
	if err != nil {
		return err
	}
	if _, err := e.controls.lookup(id); err != nil {
		return err
	}
	if err := e.dev.SetControl(id, v.Value); err != nil {
		return err
	}

	e.group.broadcastControl(e, v)
	if e.telemetry != nil {
		name, _ := cameraif.CtrlName(v.Type)
		e.telemetry.ControlChanged(e.uniqueID, name, v.Value)
	}
	return nil
}

// ctrlGet reads an assigned, already enumerated control.
func (e *Engine) ctrlGet(req *cameraif.Request, resp *cameraif.Response) error {
	t := cameraif.DecodeCtrlValue(&req.Payload).Type

	id, err := controlIDFromWire(t)
	if err != nil {
		return err
	}
	if _, err := e.controls.lookup(id); err != nil {
		return err
	}
	v, err := e.dev.GetControl(id)
	if err != nil {
		return err
	}

	cameraif.CtrlValue{Type: t, Value: v}.Encode(&resp.Payload)
	return nil
}

func (e *Engine) streamStart(_ *cameraif.Request, _ *cameraif.Response) error {
	return e.group.startStreaming(e)
}

func (e *Engine) streamStop(_ *cameraif.Request, _ *cameraif.Response) error {
	return e.group.stopStreaming(e)
}
