package camera

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/andr2000/camera-be/internal/v4l2"
)

// FormatDesc is a supported pixel format with its discrete frame sizes.
type FormatDesc struct {
	PixelFormat uint32      `json:"pixel_format"`
	FourCC      string      `json:"fourcc"`
	Description string      `json:"description"`
	Sizes       []FrameSize `json:"sizes"`
}

// FrameSize is a discrete resolution with its frame intervals.
type FrameSize struct {
	Width     uint32       `json:"width"`
	Height    uint32       `json:"height"`
	Intervals []v4l2.Fract `json:"intervals"`
}

// CheckCapture checks that hw is a streaming video capture device with a usable
// current format. It returns false without an error when the node is
// some other kind of device.
func CheckCapture(hw Hardware) (v4l2.Capability, bool, error) {
	caps, err := hw.Capability()
	if errors.Is(err, unix.ENOTTY) || errors.Is(err, unix.EINVAL) {
		return v4l2.Capability{}, false, nil
	}
	if err != nil {
		return v4l2.Capability{}, false, fmt.Errorf("%w: VIDIOC_QUERYCAP: %w", ErrHardwareIO, err)
	}

	c := caps.Caps()
	if c&v4l2.CapVideoCapture == 0 || c&v4l2.CapStreaming == 0 {
		return caps, false, nil
	}

	f, err := hw.Format()
	if errors.Is(err, unix.EINVAL) {
		return caps, false, nil
	}
	if err != nil {
		return caps, false, fmt.Errorf("%w: VIDIOC_G_FMT: %w", ErrHardwareIO, err)
	}
	return caps, f.Width != 0 && f.Height != 0, nil
}

// EnumerateFormats lists every capture format with its frame sizes and
// intervals. Drivers reporting continuous or step-wise ranges are
// rejected with ErrUnsupportedFormat.
func EnumerateFormats(hw Hardware) ([]FormatDesc, error) {
	var formats []FormatDesc
	for i := uint32(0); ; i++ {
		desc, err := hw.EnumFormat(i)
		if errors.Is(err, unix.EINVAL) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: VIDIOC_ENUM_FMT(%d): %w", ErrHardwareIO, i, err)
		}

		sizes, err := enumerateSizes(hw, desc.PixelFormat)
		if err != nil {
			return nil, err
		}
		formats = append(formats, FormatDesc{
			PixelFormat: desc.PixelFormat,
			FourCC:      v4l2.FourCCString(desc.PixelFormat),
			Description: desc.Description,
			Sizes:       sizes,
		})
	}
	return formats, nil
}

func enumerateSizes(hw Hardware, pixelFormat uint32) ([]FrameSize, error) {
	var sizes []FrameSize
	for i := uint32(0); ; i++ {
		fs, err := hw.EnumFrameSize(pixelFormat, i)
		if errors.Is(err, unix.EINVAL) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: VIDIOC_ENUM_FRAMESIZES(%s, %d): %w",
				ErrHardwareIO, v4l2.FourCCString(pixelFormat), i, err)
		}
		if fs.Type != v4l2.FrmSizeTypeDiscrete {
			return nil, fmt.Errorf("%w: %s frame sizes are not discrete",
				ErrUnsupportedFormat, v4l2.FourCCString(pixelFormat))
		}

		intervals, err := enumerateIntervals(hw, pixelFormat, fs.Width, fs.Height)
		if err != nil {
			return nil, err
		}
		sizes = append(sizes, FrameSize{Width: fs.Width, Height: fs.Height, Intervals: intervals})
	}
	return sizes, nil
}

func enumerateIntervals(hw Hardware, pixelFormat, width, height uint32) ([]v4l2.Fract, error) {
	var intervals []v4l2.Fract
	for i := uint32(0); ; i++ {
		fi, err := hw.EnumFrameInterval(pixelFormat, width, height, i)
		if errors.Is(err, unix.EINVAL) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: VIDIOC_ENUM_FRAMEINTERVALS(%s %dx%d, %d): %w",
				ErrHardwareIO, v4l2.FourCCString(pixelFormat), width, height, i, err)
		}
		if fi.Type != v4l2.FrmIvalTypeDiscrete {
			return nil, fmt.Errorf("%w: %s %dx%d frame intervals are not discrete",
				ErrUnsupportedFormat, v4l2.FourCCString(pixelFormat), width, height)
		}
		intervals = append(intervals, fi.Interval)
	}
	return intervals, nil
}

func logFormats(logger Logger, formats []FormatDesc) {
	for _, f := range formats {
		for _, s := range f.Sizes {
			rates := make([]string, 0, len(s.Intervals))
			for _, iv := range s.Intervals {
				rates = append(rates, iv.Inverse().String())
			}
			logger.Debug("supported format",
				"fourcc", f.FourCC,
				"description", f.Description,
				"size", fmt.Sprintf("%dx%d", s.Width, s.Height),
				"fps", rates,
			)
		}
	}
}
