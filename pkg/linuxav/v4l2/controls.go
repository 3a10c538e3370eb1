package v4l2

import "fmt"

// Control class bases.
const (
	CIDBase            = 0x00980900
	CIDCameraClassBase = 0x009a0900
)

// User class control identifiers.
const (
	CIDBrightness              = CIDBase + 0
	CIDContrast                = CIDBase + 1
	CIDSaturation              = CIDBase + 2
	CIDHue                     = CIDBase + 3
	CIDAutoWhiteBalance        = CIDBase + 12
	CIDDoWhiteBalance          = CIDBase + 13
	CIDGamma                   = CIDBase + 16
	CIDGain                    = CIDBase + 19
	CIDPowerLineFrequency      = CIDBase + 24
	CIDWhiteBalanceTemperature = CIDBase + 26
	CIDSharpness               = CIDBase + 27
	CIDBacklightCompensation   = CIDBase + 28
)

// Camera class control identifiers.
const (
	CIDExposureAuto         = CIDCameraClassBase + 1
	CIDExposureAbsolute     = CIDCameraClassBase + 2
	CIDExposureAutoPriority = CIDCameraClassBase + 3
)

var controlNames = map[uint32]string{
	CIDBrightness:              "Brightness",
	CIDContrast:                "Contrast",
	CIDSaturation:              "Saturation",
	CIDHue:                     "Hue",
	CIDAutoWhiteBalance:        "White Balance, Automatic",
	CIDDoWhiteBalance:          "Do White Balance",
	CIDGamma:                   "Gamma",
	CIDGain:                    "Gain",
	CIDPowerLineFrequency:      "Power Line Frequency",
	CIDWhiteBalanceTemperature: "White Balance Temperature",
	CIDSharpness:               "Sharpness",
	CIDBacklightCompensation:   "Backlight Compensation",
	CIDExposureAuto:            "Auto Exposure",
	CIDExposureAbsolute:        "Exposure Time, Absolute",
	CIDExposureAutoPriority:    "Exposure, Dynamic Framerate",
}

// ControlName returns the kernel's display name for a known control id,
// or the id in hex.
func ControlName(id uint32) string {
	if name, ok := controlNames[id]; ok {
		return name
	}
	return fmt.Sprintf("0x%08x", id)
}
