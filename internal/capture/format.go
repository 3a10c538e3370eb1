package capture

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/smazurov/stillcam/internal/logging"
	"github.com/smazurov/stillcam/pkg/linuxav/v4l2"
)

// NegotiatedFormat is what the driver agreed to, as read back after the
// set request.
type NegotiatedFormat struct {
	Width        uint32
	Height       uint32
	PixelFormat  uint32
	Field        uint32
	BytesPerLine uint32
	SizeImage    uint32
}

// FourCC returns the pixel format as a four character code.
func (f NegotiatedFormat) FourCC() string {
	return v4l2.FormatFourCC(f.PixelFormat)
}

func (f NegotiatedFormat) String() string {
	return fmt.Sprintf("%dx%d %s", f.Width, f.Height, f.FourCC())
}

// Preset is a named resolution.
type Preset struct {
	Width  uint32
	Height uint32
}

// Presets is the resolution table callers pick from. The negotiator never
// walks it on its own.
var Presets = map[string]Preset{
	"qvga":   {320, 240},
	"vga":    {640, 480},
	"svga":   {800, 600},
	"hd":     {1280, 720},
	"square": {1024, 1024},
	"fhd":    {1920, 1080},
	"qhd":    {2560, 1440},
	"uhd":    {3840, 2160},
}

// PresetNames returns the preset names in sorted order.
func PresetNames() []string {
	names := make([]string, 0, len(Presets))
	for name := range Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ParseResolution accepts a preset name or an explicit "WIDTHxHEIGHT".
func ParseResolution(s string) (width, height uint32, err error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if p, ok := Presets[s]; ok {
		return p.Width, p.Height, nil
	}
	w, h, ok := strings.Cut(s, "x")
	if !ok {
		return 0, 0, fmt.Errorf("unknown resolution %q (presets: %s)", s, strings.Join(PresetNames(), ", "))
	}
	wv, err := strconv.ParseUint(w, 10, 32)
	if err != nil || wv == 0 {
		return 0, 0, fmt.Errorf("invalid width in %q", s)
	}
	hv, err := strconv.ParseUint(h, 10, 32)
	if err != nil || hv == 0 {
		return 0, 0, fmt.Errorf("invalid height in %q", s)
	}
	return uint32(wv), uint32(hv), nil
}

// FormatNegotiator performs one format negotiation round trip.
type FormatNegotiator struct {
	logger logging.Logger
}

// NewFormatNegotiator creates a negotiator.
func NewFormatNegotiator(logger logging.Logger) *FormatNegotiator {
	return &FormatNegotiator{logger: logger}
}

// Negotiate requests the given size and encoding with progressive field
// order, then reads back what the driver actually set. It does not retry
// other formats when the driver downgrades the request.
func (n *FormatNegotiator) Negotiate(dev *Device, width, height, pixelFormat uint32) (NegotiatedFormat, error) {
	if dev.Closed() {
		return NegotiatedFormat{}, newError(ErrCodeDeviceClosed, StageFormat, "device is closed", nil)
	}
	req := v4l2.PixFormat{
		Width:       width,
		Height:      height,
		PixelFormat: pixelFormat,
		Field:       v4l2.FieldNone,
	}
	if _, err := dev.backend.SetFormat(req); err != nil {
		n.log(dev).Error("Failed to set format", "stage", StageFormat,
			"width", width, "height", height, "format", v4l2.FormatFourCC(pixelFormat), "error", err)
		return NegotiatedFormat{}, newError(ErrCodeFormatFailed, StageFormat,
			fmt.Sprintf("set format %dx%d %s", width, height, v4l2.FormatFourCC(pixelFormat)), err)
	}

	got, err := dev.backend.GetFormat()
	if err != nil {
		n.log(dev).Error("Failed to read back format", "stage", StageFormat, "error", err)
		return NegotiatedFormat{}, newError(ErrCodeFormatFailed, StageFormat, "read back format", err)
	}

	f := NegotiatedFormat{
		Width:        got.Width,
		Height:       got.Height,
		PixelFormat:  got.PixelFormat,
		Field:        got.Field,
		BytesPerLine: got.BytesPerLine,
		SizeImage:    got.SizeImage,
	}
	if f.Width != width || f.Height != height || f.PixelFormat != pixelFormat {
		n.log(dev).Warn("Driver adjusted requested format",
			"requested", fmt.Sprintf("%dx%d %s", width, height, v4l2.FormatFourCC(pixelFormat)),
			"negotiated", f.String())
	} else {
		n.log(dev).Debug("Format negotiated", "format", f.String(), "sizeimage", f.SizeImage)
	}
	return f, nil
}

func (n *FormatNegotiator) log(dev *Device) logging.Logger {
	if n.logger != nil {
		return n.logger
	}
	return dev.logger
}
