//go:build linux

// Package v4l2 provides pure Go bindings to the Video4Linux2 (V4L2) API
// for device enumeration, format negotiation, memory-mapped buffer
// streaming and control access.
//
// This package does not use cgo, enabling simple cross-compilation for
// different Linux architectures (amd64, arm64, arm).
//
// # Device Enumeration
//
// Use FindDevices to discover all V4L2 video capture devices:
//
//	devices, err := v4l2.FindDevices()
//	for _, dev := range devices {
//	    fmt.Printf("%s: %s\n", dev.DevicePath, dev.DeviceName)
//	}
//
// # Capture
//
// A Device wraps one open file descriptor. Every operation builds a fresh
// kernel structure from a small descriptor value, so no state leaks between
// unrelated calls:
//
//	dev, _ := v4l2.Open("/dev/video0")
//	defer dev.Close()
//	got, _ := dev.SetFormat(v4l2.PixFormat{Width: 1920, Height: 1080, PixelFormat: v4l2.PixFmtMJPEG, Field: v4l2.FieldNone})
//	_, _ = dev.RequestBuffers(1)
//	buf, _ := dev.QueryBuffer(0)
//	mem, _ := dev.Map(int64(buf.Offset), int(buf.Length))
//	_ = dev.StreamOn()
//	_, _ = dev.QueueBuffer(0)
//	done, _ := dev.DequeueBuffer()
//	frame := mem[:done.BytesUsed]
//
// # Controls
//
// Query, read and write individual controls by id:
//
//	qc, err := dev.QueryControl(v4l2.CIDBrightness)
//	if err == nil && !qc.Disabled() {
//	    _ = dev.SetControl(v4l2.CIDBrightness, qc.Default)
//	}
package v4l2
