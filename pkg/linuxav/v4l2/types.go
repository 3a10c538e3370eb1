package v4l2

import "fmt"

// DeviceInfo contains information about a V4L2 device.
type DeviceInfo struct {
	DevicePath string
	DeviceName string
	DeviceID   string // Stable identifier (from /dev/v4l/by-id/ or synthetic)
	Caps       uint32
}

// FormatInfo contains information about a supported pixel format.
type FormatInfo struct {
	PixelFormat uint32
	FormatName  string
	Emulated    bool
}

// Resolution represents a supported video resolution.
type Resolution struct {
	Width  uint32
	Height uint32
}

// Framerate represents a supported framerate as a fraction.
type Framerate struct {
	Numerator   uint32
	Denominator uint32
}

// FPS returns the framerate as frames per second.
func (f Framerate) FPS() float64 {
	if f.Numerator == 0 {
		return 0
	}
	return float64(f.Denominator) / float64(f.Numerator)
}

// Capability is the response of a capability query.
type Capability struct {
	Driver       string
	Card         string
	BusInfo      string
	Version      uint32
	Capabilities uint32
	DeviceCaps   uint32
}

// Effective returns the capabilities of the opened device node. Drivers
// that report per-node caps set CapDeviceCaps; otherwise the physical
// device caps apply.
func (c Capability) Effective() uint32 {
	if c.Capabilities&CapDeviceCaps != 0 {
		return c.DeviceCaps
	}
	return c.Capabilities
}

// Has reports whether every bit in mask is present in the effective caps.
func (c Capability) Has(mask uint32) bool {
	return c.Effective()&mask == mask
}

// VersionString formats the driver version as major.minor.patch.
func (c Capability) VersionString() string {
	return fmt.Sprintf("%d.%d.%d", byte(c.Version>>16), byte(c.Version>>8), byte(c.Version))
}

// PixFormat is the single-planar image format used for format negotiation.
type PixFormat struct {
	Width        uint32
	Height       uint32
	PixelFormat  uint32
	Field        uint32
	BytesPerLine uint32
	SizeImage    uint32
	Colorspace   uint32
}

// RequestBuffers is the response of a buffer request. Count is what the
// driver actually allocated, which may differ from what was asked for.
type RequestBuffers struct {
	Count        uint32
	Type         uint32
	Memory       uint32
	Capabilities uint32
}

// Buffer describes one kernel buffer as returned by query, queue and
// dequeue operations.
type Buffer struct {
	Index     uint32
	Type      uint32
	Memory    uint32
	BytesUsed uint32
	Flags     uint32
	Field     uint32
	Sequence  uint32
	Offset    uint32
	Length    uint32
}

// Errored reports whether the driver flagged the buffer contents as corrupt.
func (b Buffer) Errored() bool {
	return b.Flags&BufFlagError != 0
}

// QueryControl is the metadata of a single control.
type QueryControl struct {
	ID      uint32
	Type    uint32
	Name    string
	Minimum int32
	Maximum int32
	Step    int32
	Default int32
	Flags   uint32
}

// Disabled reports whether the driver marks the control as unusable.
func (q QueryControl) Disabled() bool {
	return q.Flags&CtrlFlagDisabled != 0
}

// ReadOnly reports whether the control rejects writes.
func (q QueryControl) ReadOnly() bool {
	return q.Flags&CtrlFlagReadOnly != 0
}

// Capability flags.
const (
	CapVideoCapture       = 0x00000001
	CapVideoOutput        = 0x00000002
	CapVideoOverlay       = 0x00000004
	CapVBICapture         = 0x00000010
	CapVBIOutput          = 0x00000020
	CapSlicedVBICapture   = 0x00000040
	CapSlicedVBIOutput    = 0x00000080
	CapRDSCapture         = 0x00000100
	CapVideoOutputOverlay = 0x00000200
	CapHWFreqSeek         = 0x00000400
	CapRDSOutput          = 0x00000800
	CapVideoCaptureMPlane = 0x00001000
	CapVideoOutputMPlane  = 0x00002000
	CapVideoM2MMPlane     = 0x00004000
	CapVideoM2M           = 0x00008000
	CapTuner              = 0x00010000
	CapAudio              = 0x00020000
	CapRadio              = 0x00040000
	CapModulator          = 0x00080000
	CapSDRCapture         = 0x00100000
	CapExtPixFormat       = 0x00200000
	CapSDROutput          = 0x00400000
	CapMetaCapture        = 0x00800000
	CapReadWrite          = 0x01000000
	CapStreaming          = 0x04000000
	CapMetaOutput         = 0x08000000
	CapTouch              = 0x10000000
	CapIOMC               = 0x20000000
	CapDeviceCaps         = 0x80000000
)

// Format flags.
const (
	FmtFlagEmulated = 0x0002
)

// Common pixel formats.
const (
	PixFmtYUYV  = 0x56595559 // 'YUYV'
	PixFmtMJPEG = 0x47504A4D // 'MJPG'
	PixFmtJPEG  = 0x4745504A // 'JPEG'
	PixFmtH264  = 0x34363248 // 'H264'
	PixFmtHEVC  = 0x43564548 // 'HEVC'
	PixFmtNV12  = 0x3231564E // 'NV12'
	PixFmtRGB24 = 0x33424752 // 'RGB3'
	PixFmtGrey  = 0x59455247 // 'GREY'
)

// Field orders.
const (
	FieldAny  = 0
	FieldNone = 1
)

// Frame size types.
const (
	frmsizeTypeDiscrete   = 1
	frmsizeTypeContinuous = 2
	frmsizeTypeStepwise   = 3
)

// Frame interval types.
const (
	frmivalTypeDiscrete   = 1
	frmivalTypeContinuous = 2
	frmivalTypeStepwise   = 3
)

// Buffer types and memory models.
const (
	BufTypeVideoCapture = 1
	MemoryMMAP          = 1
)

// Buffer flags.
const (
	BufFlagMapped = 0x00000001
	BufFlagQueued = 0x00000002
	BufFlagDone   = 0x00000004
	BufFlagError  = 0x00000040
)

// Control flags.
const (
	CtrlFlagDisabled = 0x0001
	CtrlFlagGrabbed  = 0x0002
	CtrlFlagReadOnly = 0x0004
	CtrlFlagInactive = 0x0010
)
