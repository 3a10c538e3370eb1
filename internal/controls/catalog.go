// Package controls holds the catalog of camera controls the tool manages
// and persists control values to a TOML file.
package controls

import (
	"github.com/smazurov/stillcam/internal/capture"
	"github.com/smazurov/stillcam/pkg/linuxav/v4l2"
)

// Definition ties a file key to a control id and its compiled-in default.
type Definition struct {
	Key     string
	ID      uint32
	Default int32
}

// Catalog lists the managed controls in write order. Auto modes come
// before the manual values they gate.
var Catalog = []Definition{
	{Key: "brightness", ID: v4l2.CIDBrightness, Default: 0},
	{Key: "contrast", ID: v4l2.CIDContrast, Default: 32},
	{Key: "saturation", ID: v4l2.CIDSaturation, Default: 64},
	{Key: "hue", ID: v4l2.CIDHue, Default: 0},
	{Key: "white_balance_automatic", ID: v4l2.CIDAutoWhiteBalance, Default: 1},
	{Key: "gamma", ID: v4l2.CIDGamma, Default: 100},
	{Key: "gain", ID: v4l2.CIDGain, Default: 0},
	{Key: "power_line_frequency", ID: v4l2.CIDPowerLineFrequency, Default: 1},
	{Key: "white_balance_temperature", ID: v4l2.CIDWhiteBalanceTemperature, Default: 4600},
	{Key: "sharpness", ID: v4l2.CIDSharpness, Default: 3},
	{Key: "backlight_compensation", ID: v4l2.CIDBacklightCompensation, Default: 1},
	{Key: "auto_exposure", ID: v4l2.CIDExposureAuto, Default: 3},
	{Key: "exposure_time_absolute", ID: v4l2.CIDExposureAbsolute, Default: 157},
	{Key: "exposure_dynamic_framerate", ID: v4l2.CIDExposureAutoPriority, Default: 0},
}

// Lookup finds a definition by file key.
func Lookup(key string) (Definition, bool) {
	for _, d := range Catalog {
		if d.Key == key {
			return d, true
		}
	}
	return Definition{}, false
}

// ByID finds a definition by control id.
func ByID(id uint32) (Definition, bool) {
	for _, d := range Catalog {
		if d.ID == id {
			return d, true
		}
	}
	return Definition{}, false
}

// IDs returns the catalog control ids in order.
func IDs() []uint32 {
	ids := make([]uint32, len(Catalog))
	for i, d := range Catalog {
		ids[i] = d.ID
	}
	return ids
}

// SupportIDs returns the ids checked by the support report: the catalog
// plus the one-shot white balance trigger, which has no stored value.
func SupportIDs() []uint32 {
	return append(IDs(), v4l2.CIDDoWhiteBalance)
}

// Defaults returns the compiled-in values for the whole catalog.
func Defaults() *capture.ControlSet {
	set := capture.NewControlSet()
	for _, d := range Catalog {
		set.Set(d.ID, d.Default)
	}
	return set
}

// KeyFor returns the file key of a control, or its name for controls
// outside the catalog.
func KeyFor(id uint32) string {
	if d, ok := ByID(id); ok {
		return d.Key
	}
	return v4l2.ControlName(id)
}
