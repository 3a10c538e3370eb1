// Package report prints human-readable device diagnostics. Nothing in the
// capture path reads its output.
package report

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/smazurov/stillcam/internal/capture"
	"github.com/smazurov/stillcam/internal/logging"
	"github.com/smazurov/stillcam/pkg/linuxav/v4l2"
)

// WriteDevices lists capture devices.
func WriteDevices(w io.Writer, devices []v4l2.DeviceInfo) {
	if len(devices) == 0 {
		fmt.Fprintln(w, "No V4L2 capture devices found.")
		return
	}
	fmt.Fprintf(w, "Found %d V4L2 capture devices:\n", len(devices))
	for i, dev := range devices {
		fmt.Fprintf(w, "%d. Device Path: %s\n", i+1, dev.DevicePath)
		fmt.Fprintf(w, "   Device Name: %s\n", dev.DeviceName)
		fmt.Fprintf(w, "   Device ID: %s\n", dev.DeviceID)
		fmt.Fprintf(w, "   Streaming: %v\n", dev.Caps&v4l2.CapStreaming != 0)
	}
}

// WriteCapabilities prints the capability block with every set flag
// named.
func WriteCapabilities(w io.Writer, path string, c v4l2.Capability) {
	fmt.Fprintf(w, "Device %s\n", path)
	fmt.Fprintf(w, "  Driver:       %s\n", c.Driver)
	fmt.Fprintf(w, "  Card:         %s\n", c.Card)
	fmt.Fprintf(w, "  Bus info:     %s\n", c.BusInfo)
	fmt.Fprintf(w, "  Version:      %s\n", c.VersionString())
	fmt.Fprintf(w, "  Capabilities: 0x%08x\n", c.Capabilities)
	for _, name := range v4l2.CapabilityNames(c.Capabilities) {
		fmt.Fprintf(w, "    %s\n", name)
	}
	if c.Capabilities&v4l2.CapDeviceCaps != 0 {
		fmt.Fprintf(w, "  Device caps:  0x%08x\n", c.DeviceCaps)
		for _, name := range v4l2.CapabilityNames(c.DeviceCaps) {
			fmt.Fprintf(w, "    %s\n", name)
		}
	}
}

// FormatEntry is one pixel format with the sizes the driver offers.
type FormatEntry struct {
	Format      v4l2.FormatInfo
	Resolutions []v4l2.Resolution
	// Framerates holds the frame intervals per resolution, when known.
	Framerates map[v4l2.Resolution][]v4l2.Framerate
}

// FormatLister enumerates formats, sizes and frame intervals.
// *v4l2.Device implements it.
type FormatLister interface {
	Formats() ([]v4l2.FormatInfo, error)
	Resolutions(pixelFormat uint32) ([]v4l2.Resolution, error)
	Framerates(pixelFormat uint32, width, height uint32) ([]v4l2.Framerate, error)
}

// ListFormats walks every format and size the device reports. Failures
// below the format level are logged and leave that entry partial.
func ListFormats(lister FormatLister, logger logging.Logger) ([]FormatEntry, error) {
	formats, err := lister.Formats()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate formats: %w", err)
	}
	entries := make([]FormatEntry, 0, len(formats))
	for _, f := range formats {
		fourcc := v4l2.FormatFourCC(f.PixelFormat)
		entry := FormatEntry{Format: f}
		entry.Resolutions, err = lister.Resolutions(f.PixelFormat)
		if err != nil {
			logger.Debug("Failed to enumerate resolutions", "format", fourcc, "error", err)
		}
		for _, r := range entry.Resolutions {
			rates, err := lister.Framerates(f.PixelFormat, r.Width, r.Height)
			if err != nil {
				logger.Debug("Failed to enumerate frame intervals", "format", fourcc,
					"width", r.Width, "height", r.Height, "error", err)
				continue
			}
			if len(rates) == 0 {
				continue
			}
			if entry.Framerates == nil {
				entry.Framerates = make(map[v4l2.Resolution][]v4l2.Framerate)
			}
			entry.Framerates[r] = rates
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// WriteFormats prints the format list. Sizes with known frame rates are
// written as WIDTHxHEIGHT@fps,fps.
func WriteFormats(w io.Writer, formats []FormatEntry) {
	fmt.Fprintln(w, "Formats:")
	if len(formats) == 0 {
		fmt.Fprintln(w, "  (none reported)")
		return
	}
	for _, f := range formats {
		emulated := ""
		if f.Format.Emulated {
			emulated = " (emulated)"
		}
		fmt.Fprintf(w, "  %s  %s%s\n", v4l2.FormatFourCC(f.Format.PixelFormat), f.Format.FormatName, emulated)
		if len(f.Resolutions) > 0 {
			sizes := make([]string, len(f.Resolutions))
			for i, r := range f.Resolutions {
				sizes[i] = fmt.Sprintf("%dx%d", r.Width, r.Height)
				if rates := f.Framerates[r]; len(rates) > 0 {
					fps := make([]string, len(rates))
					for j, rate := range rates {
						fps[j] = strconv.FormatFloat(rate.FPS(), 'f', -1, 64)
					}
					sizes[i] += "@" + strings.Join(fps, ",")
				}
			}
			fmt.Fprintf(w, "        %s\n", strings.Join(sizes, " "))
		}
	}
}

// ControlRow is the support state of one control.
type ControlRow struct {
	ID        uint32
	Key       string
	Supported bool
	Query     v4l2.QueryControl
	Value     int32
	HasValue  bool
}

// ControlRows queries support and the current value of every id using
// the already open device.
func ControlRows(dev *capture.Device, ids []uint32, keyFor func(uint32) string) []ControlRow {
	rows := make([]ControlRow, 0, len(ids))
	for _, id := range ids {
		row := ControlRow{ID: id, Key: keyFor(id)}
		q, err := dev.QueryControl(id)
		if err == nil && !q.Disabled() {
			row.Supported = true
			row.Query = q
			if v, err := dev.GetControl(id); err == nil {
				row.Value = v
				row.HasValue = true
			}
		}
		rows = append(rows, row)
	}
	return rows
}

// WriteControls prints the control support table.
func WriteControls(w io.Writer, rows []ControlRow) {
	fmt.Fprintln(w, "Controls:")
	for _, r := range rows {
		if !r.Supported {
			fmt.Fprintf(w, "  %-28s 0x%08x  not supported\n", r.Key, r.ID)
			continue
		}
		value := "?"
		if r.HasValue {
			value = fmt.Sprintf("%d", r.Value)
		}
		fmt.Fprintf(w, "  %-28s 0x%08x  value=%s min=%d max=%d step=%d default=%d\n",
			r.Key, r.ID, value, r.Query.Minimum, r.Query.Maximum, r.Query.Step, r.Query.Default)
	}
}

// WriteApplyReport prints the outcome of a control batch.
func WriteApplyReport(w io.Writer, rep capture.ControlApplyReport, keyFor func(uint32) string) {
	for _, res := range rep.Results {
		line := fmt.Sprintf("  %-28s %-6d %s", keyFor(res.ID), res.Value, res.Outcome)
		if res.Err != nil {
			line += ": " + res.Err.Error()
		}
		fmt.Fprintln(w, line)
	}
	fmt.Fprintf(w, "  stream restart: %s\n", rep.Restart)
}
