package v4l2

import "testing"

func TestFourCC(t *testing.T) {
	tests := []struct {
		name string
		code uint32
		want string
	}{
		{"YUYV", PixFmtYUYV, "YUYV"},
		{"MJPEG", PixFmtMJPEG, "MJPG"},
		{"NV12", PixFmtNV12, "NV12"},
		{"unprintable", 0x00010203, "...."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FourCCString(tt.code); got != tt.want {
				t.Errorf("FourCCString(%#x) = %q, want %q", tt.code, got, tt.want)
			}
		})
	}

	if PixFmtYUYV != 0x56595559 {
		t.Errorf("PixFmtYUYV = %#x, want 0x56595559", PixFmtYUYV)
	}
}

func TestFract(t *testing.T) {
	f := Fract{Numerator: 1, Denominator: 30}

	if inv := f.Inverse(); inv != (Fract{Numerator: 30, Denominator: 1}) {
		t.Errorf("Inverse() = %v", inv)
	}
	if f.IsZero() {
		t.Error("IsZero() = true for 1/30")
	}
	if !(Fract{Numerator: 30}).IsZero() {
		t.Error("IsZero() = false for 30/0")
	}
	if got := f.Inverse().Float(); got != 30 {
		t.Errorf("Float() = %v, want 30", got)
	}
	if got := (Fract{}).Float(); got != 0 {
		t.Errorf("Float() of zero = %v, want 0", got)
	}
	if s := f.String(); s != "1/30" {
		t.Errorf("String() = %q", s)
	}
}

func TestCapabilityCaps(t *testing.T) {
	c := Capability{Capabilities: CapVideoCapture | CapStreaming}
	if c.Caps() != CapVideoCapture|CapStreaming {
		t.Errorf("Caps() without device caps = %#x", c.Caps())
	}

	c = Capability{
		Capabilities: CapVideoCapture | CapStreaming | CapDeviceCaps,
		DeviceCaps:   CapStreaming,
	}
	if c.Caps() != CapStreaming {
		t.Errorf("Caps() with device caps = %#x, want %#x", c.Caps(), CapStreaming)
	}

	c.Version = 6<<16 | 8<<8 | 1
	if v := c.VersionString(); v != "6.8.1" {
		t.Errorf("VersionString() = %q", v)
	}
}
