package camera

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/andr2000/camera-be/internal/v4l2"
)

// wellKnownControls maps control names to their standard ids, for
// drivers whose control names differ from the canonical spelling.
var wellKnownControls = map[string]uint32{
	"brightness": v4l2.CIDBrightness,
	"contrast":   v4l2.CIDContrast,
	"saturation": v4l2.CIDSaturation,
	"hue":        v4l2.CIDHue,
}

// ResolveControl finds an enabled control by case-insensitive name.
func (d *Device) ResolveControl(name string) (v4l2.ControlInfo, error) {
	id := v4l2.CtrlFlagNextCtrl
	for {
		info, err := d.hw.QueryControl(id)
		if errors.Is(err, unix.EINVAL) {
			break
		}
		if err != nil {
			return v4l2.ControlInfo{}, fmt.Errorf("%w: VIDIOC_QUERYCTRL: %w", ErrHardwareIO, err)
		}
		id = info.ID | v4l2.CtrlFlagNextCtrl

		if !usableControl(info) {
			continue
		}
		if strings.EqualFold(info.Name, name) {
			return info, nil
		}
	}

	if cid, ok := wellKnownControls[strings.ToLower(name)]; ok {
		info, err := d.hw.QueryControl(cid)
		if err == nil && usableControl(info) {
			return info, nil
		}
	}
	return v4l2.ControlInfo{}, fmt.Errorf("%w: %q on %s", ErrUnsupportedControl, name, d.hw.Path())
}

func usableControl(info v4l2.ControlInfo) bool {
	return info.Flags&v4l2.CtrlFlagDisabled == 0 && info.Type != v4l2.CtrlTypeCtrlClass
}

// SetControl writes a control value.
//
// Parameters:
//   - id: V4L2 control id
//   - value: New value; must fit in 32 bits
//
// Returns:
//   - error: ErrUnsupportedControl wrapping ERANGE for an out of range
//     value, or the driver failure
func (d *Device) SetControl(id uint32, value int64) error {
	if value < math.MinInt32 || value > math.MaxInt32 {
		return fmt.Errorf("%w: value %d for control %#x: %w", ErrUnsupportedControl, value, id, unix.ERANGE)
	}
	if err := d.hw.SetControl(id, int32(value)); err != nil {
		return controlError("VIDIOC_S_CTRL", id, err)
	}
	return nil
}

// GetControl reads a control value.
func (d *Device) GetControl(id uint32) (int64, error) {
	v, err := d.hw.GetControl(id)
	if err != nil {
		return 0, controlError("VIDIOC_G_CTRL", id, err)
	}
	return int64(v), nil
}

func controlError(op string, id uint32, err error) error {
	if errors.Is(err, unix.EINVAL) {
		return fmt.Errorf("%w: %s(%#x): %w", ErrUnsupportedControl, op, id, err)
	}
	return fmt.Errorf("%w: %s(%#x): %w", ErrHardwareIO, op, id, err)
}
