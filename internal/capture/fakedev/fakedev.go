// Package fakedev is an in-memory capture backend that behaves like a
// UVC webcam driver. It records every call and lets tests inject errors
// per operation.
package fakedev

import (
	"sync"
	"syscall"
	"time"

	"github.com/smazurov/stillcam/pkg/linuxav/v4l2"
)

// Op names one backend operation.
type Op string

// Backend operations.
const (
	OpQueryCap  Op = "querycap"
	OpSetFormat Op = "s_fmt"
	OpGetFormat Op = "g_fmt"
	OpReqBufs   Op = "reqbufs"
	OpQueryBuf  Op = "querybuf"
	OpQBuf      Op = "qbuf"
	OpDQBuf     Op = "dqbuf"
	OpMap       Op = "mmap"
	OpUnmap     Op = "munmap"
	OpStreamOn  Op = "streamon"
	OpStreamOff Op = "streamoff"
	OpQueryCtrl Op = "queryctrl"
	OpGetCtrl   Op = "g_ctrl"
	OpSetCtrl   Op = "s_ctrl"
	OpPoll      Op = "poll"
	OpClose     Op = "close"
)

// Control is one device control with its range.
type Control struct {
	Min      int32
	Max      int32
	Step     int32
	Default  int32
	Value    int32
	Disabled bool
	ReadOnly bool
}

// Device is a fake capture device. The exported fields configure driver
// behavior and may be changed between calls.
type Device struct {
	mu sync.Mutex

	Caps     v4l2.Capability
	Controls map[uint32]*Control

	// Formats lists accepted pixel formats; others fall back to the first.
	Formats []uint32
	// MaxWidth and MaxHeight clamp requested sizes when non-zero.
	MaxWidth  uint32
	MaxHeight uint32
	// BufferLength overrides the reported buffer length when non-zero.
	BufferLength uint32
	// BytesUsed is reported for every frame. Zero reports half the buffer.
	BytesUsed uint32
	// Empty reports zero bytesused for every frame.
	Empty bool
	// DequeueIndex overrides the index of dequeued buffers when set.
	DequeueIndex *uint32
	// FrameFlags are added to the flags of dequeued buffers.
	FrameFlags uint32
	// NotReady makes WaitReadable time out.
	NotReady bool

	format    v4l2.PixFormat
	requested uint32
	mapped    []byte
	streaming bool
	queued    bool
	closed    bool
	sequence  uint32
	unmaps    int

	fail  map[Op]error
	once  map[Op]error
	calls []Op
}

// New returns a streaming capture device with the usual UVC controls.
func New() *Device {
	return &Device{
		Caps: v4l2.Capability{
			Driver:       "uvcvideo",
			Card:         "Fake Camera",
			BusInfo:      "usb-0000:00:14.0-1",
			Version:      6<<16 | 8<<8,
			Capabilities: v4l2.CapVideoCapture | v4l2.CapMetaCapture | v4l2.CapStreaming | v4l2.CapDeviceCaps,
			DeviceCaps:   v4l2.CapVideoCapture | v4l2.CapStreaming,
		},
		Controls: DefaultControls(),
		Formats:  []uint32{v4l2.PixFmtMJPEG, v4l2.PixFmtYUYV},
		format: v4l2.PixFormat{
			Width:       640,
			Height:      480,
			PixelFormat: v4l2.PixFmtYUYV,
			Field:       v4l2.FieldNone,
		},
		fail: make(map[Op]error),
		once: make(map[Op]error),
	}
}

// DefaultControls returns the control table of a typical UVC webcam.
func DefaultControls() map[uint32]*Control {
	c := func(lo, hi, step, def int32) *Control {
		return &Control{Min: lo, Max: hi, Step: step, Default: def, Value: def}
	}
	return map[uint32]*Control{
		v4l2.CIDBrightness:              c(-64, 64, 1, 0),
		v4l2.CIDContrast:                c(0, 95, 1, 32),
		v4l2.CIDSaturation:              c(0, 100, 1, 64),
		v4l2.CIDHue:                     c(-2000, 2000, 1, 0),
		v4l2.CIDAutoWhiteBalance:        c(0, 1, 1, 1),
		v4l2.CIDGamma:                   c(100, 300, 1, 100),
		v4l2.CIDGain:                    c(0, 100, 1, 0),
		v4l2.CIDPowerLineFrequency:      c(0, 2, 1, 1),
		v4l2.CIDWhiteBalanceTemperature: c(2800, 6500, 1, 4600),
		v4l2.CIDSharpness:               c(0, 7, 1, 3),
		v4l2.CIDBacklightCompensation:   c(0, 2, 1, 1),
		v4l2.CIDExposureAuto:            c(0, 3, 1, 3),
		v4l2.CIDExposureAbsolute:        c(1, 5000, 1, 157),
		v4l2.CIDExposureAutoPriority:    c(0, 1, 1, 0),
	}
}

// Fail makes every call of op return err until Clear.
func (d *Device) Fail(op Op, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fail[op] = err
}

// FailOnce makes the next call of op return err.
func (d *Device) FailOnce(op Op, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.once[op] = err
}

// Clear removes injected errors for op.
func (d *Device) Clear(op Op) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.fail, op)
	delete(d.once, op)
}

// Calls returns the operations issued so far, in order.
func (d *Device) Calls() []Op {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Op(nil), d.calls...)
}

// Count returns how many times op was issued.
func (d *Device) Count(op Op) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, c := range d.calls {
		if c == op {
			n++
		}
	}
	return n
}

// Streaming reports whether stream-on is in effect.
func (d *Device) Streaming() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.streaming
}

// Closed reports whether Close was called.
func (d *Device) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// Requested returns the number of allocated buffers.
func (d *Device) Requested() uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.requested
}

// Unmaps returns how many times a mapping was released.
func (d *Device) Unmaps() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.unmaps
}

// Value returns the current value of a control.
func (d *Device) Value(id uint32) (int32, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.Controls[id]
	if !ok {
		return 0, false
	}
	return c.Value, true
}

func (d *Device) enter(op Op) error {
	d.calls = append(d.calls, op)
	if d.closed && op != OpClose && op != OpUnmap {
		return syscall.EBADF
	}
	if err, ok := d.once[op]; ok {
		delete(d.once, op)
		return err
	}
	return d.fail[op]
}

// QueryCapability implements capture.Backend.
func (d *Device) QueryCapability() (v4l2.Capability, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter(OpQueryCap); err != nil {
		return v4l2.Capability{}, err
	}
	return d.Caps, nil
}

// SetFormat implements capture.Backend.
func (d *Device) SetFormat(req v4l2.PixFormat) (v4l2.PixFormat, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter(OpSetFormat); err != nil {
		return v4l2.PixFormat{}, err
	}
	if d.requested > 0 {
		return v4l2.PixFormat{}, syscall.EBUSY
	}
	d.format = d.adjust(req)
	return d.format, nil
}

func (d *Device) adjust(req v4l2.PixFormat) v4l2.PixFormat {
	f := req
	if d.MaxWidth > 0 && f.Width > d.MaxWidth {
		f.Width = d.MaxWidth
	}
	if d.MaxHeight > 0 && f.Height > d.MaxHeight {
		f.Height = d.MaxHeight
	}
	supported := false
	for _, pf := range d.Formats {
		if pf == f.PixelFormat {
			supported = true
			break
		}
	}
	if !supported && len(d.Formats) > 0 {
		f.PixelFormat = d.Formats[0]
	}
	f.Field = v4l2.FieldNone
	f.BytesPerLine, f.SizeImage = sizes(f)
	return f
}

func sizes(f v4l2.PixFormat) (bytesPerLine, sizeImage uint32) {
	if bpp, ok := v4l2.BytesPerPixel(f.PixelFormat); ok {
		return f.Width * uint32(bpp), f.Width * f.Height * uint32(bpp)
	}
	if v4l2.Compressed(f.PixelFormat) {
		return 0, f.Width * f.Height
	}
	return f.Width * 2, f.Width * f.Height * 2
}

// GetFormat implements capture.Backend.
func (d *Device) GetFormat() (v4l2.PixFormat, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter(OpGetFormat); err != nil {
		return v4l2.PixFormat{}, err
	}
	f := d.format
	f.BytesPerLine, f.SizeImage = sizes(f)
	return f, nil
}

// RequestBuffers implements capture.Backend.
func (d *Device) RequestBuffers(count uint32) (v4l2.RequestBuffers, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter(OpReqBufs); err != nil {
		return v4l2.RequestBuffers{}, err
	}
	if d.streaming || (count == 0 && d.mapped != nil) {
		return v4l2.RequestBuffers{}, syscall.EBUSY
	}
	d.requested = count
	d.queued = false
	return v4l2.RequestBuffers{
		Count:  count,
		Type:   v4l2.BufTypeVideoCapture,
		Memory: v4l2.MemoryMMAP,
	}, nil
}

func (d *Device) bufferLength() uint32 {
	if d.BufferLength > 0 {
		return d.BufferLength
	}
	_, size := sizes(d.format)
	return size
}

// QueryBuffer implements capture.Backend.
func (d *Device) QueryBuffer(index uint32) (v4l2.Buffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter(OpQueryBuf); err != nil {
		return v4l2.Buffer{}, err
	}
	if index >= d.requested {
		return v4l2.Buffer{}, syscall.EINVAL
	}
	return v4l2.Buffer{
		Index:  index,
		Type:   v4l2.BufTypeVideoCapture,
		Memory: v4l2.MemoryMMAP,
		Offset: index * 4096,
		Length: d.bufferLength(),
	}, nil
}

// Map implements capture.Backend. The returned memory holds stale bytes,
// as a recycled kernel page would.
func (d *Device) Map(offset int64, length int) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter(OpMap); err != nil {
		return nil, err
	}
	if d.requested == 0 || length <= 0 || uint32(length) > d.bufferLength() || offset%4096 != 0 {
		return nil, syscall.EINVAL
	}
	b := make([]byte, length)
	for i := range b {
		b[i] = 0xAA
	}
	d.mapped = b
	return b, nil
}

// Unmap implements capture.Backend.
func (d *Device) Unmap(b []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter(OpUnmap); err != nil {
		return err
	}
	if d.mapped == nil || len(b) == 0 {
		return syscall.EINVAL
	}
	d.mapped = nil
	d.unmaps++
	return nil
}

// StreamOn implements capture.Backend.
func (d *Device) StreamOn() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter(OpStreamOn); err != nil {
		return err
	}
	if d.requested == 0 {
		return syscall.EINVAL
	}
	d.streaming = true
	return nil
}

// StreamOff implements capture.Backend.
func (d *Device) StreamOff() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter(OpStreamOff); err != nil {
		return err
	}
	d.streaming = false
	d.queued = false
	return nil
}

// QueueBuffer implements capture.Backend.
func (d *Device) QueueBuffer(index uint32) (v4l2.Buffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter(OpQBuf); err != nil {
		return v4l2.Buffer{}, err
	}
	if index >= d.requested || d.queued {
		return v4l2.Buffer{}, syscall.EINVAL
	}
	d.queued = true
	return v4l2.Buffer{
		Index:  index,
		Type:   v4l2.BufTypeVideoCapture,
		Memory: v4l2.MemoryMMAP,
		Flags:  v4l2.BufFlagMapped | v4l2.BufFlagQueued,
		Length: d.bufferLength(),
	}, nil
}

// WaitReadable implements capture.Waiter.
func (d *Device) WaitReadable(_ time.Duration) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter(OpPoll); err != nil {
		return false, err
	}
	return d.streaming && d.queued && !d.NotReady, nil
}

// DequeueBuffer implements capture.Backend. It fills the mapped buffer
// with the frame sequence number.
func (d *Device) DequeueBuffer() (v4l2.Buffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter(OpDQBuf); err != nil {
		return v4l2.Buffer{}, err
	}
	if !d.streaming || !d.queued {
		return v4l2.Buffer{}, syscall.EINVAL
	}
	d.queued = false
	d.sequence++

	used := d.BytesUsed
	if d.Empty {
		used = 0
	} else if used == 0 {
		used = d.bufferLength() / 2
		if used == 0 {
			used = 1
		}
	}
	for i := 0; i < len(d.mapped) && i < int(used); i++ {
		d.mapped[i] = byte(d.sequence)
	}

	index := uint32(0)
	if d.DequeueIndex != nil {
		index = *d.DequeueIndex
	}
	return v4l2.Buffer{
		Index:     index,
		Type:      v4l2.BufTypeVideoCapture,
		Memory:    v4l2.MemoryMMAP,
		BytesUsed: used,
		Flags:     v4l2.BufFlagMapped | v4l2.BufFlagDone | d.FrameFlags,
		Field:     v4l2.FieldNone,
		Sequence:  d.sequence - 1,
		Length:    d.bufferLength(),
	}, nil
}

// QueryControl implements capture.Backend.
func (d *Device) QueryControl(id uint32) (v4l2.QueryControl, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter(OpQueryCtrl); err != nil {
		return v4l2.QueryControl{}, err
	}
	c, ok := d.Controls[id]
	if !ok {
		return v4l2.QueryControl{}, syscall.EINVAL
	}
	q := v4l2.QueryControl{
		ID:      id,
		Type:    1,
		Name:    v4l2.ControlName(id),
		Minimum: c.Min,
		Maximum: c.Max,
		Step:    c.Step,
		Default: c.Default,
	}
	if c.Disabled {
		q.Flags |= v4l2.CtrlFlagDisabled
	}
	if c.ReadOnly {
		q.Flags |= v4l2.CtrlFlagReadOnly
	}
	return q, nil
}

// GetControl implements capture.Backend.
func (d *Device) GetControl(id uint32) (int32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter(OpGetCtrl); err != nil {
		return 0, err
	}
	c, ok := d.Controls[id]
	if !ok || c.Disabled {
		return 0, syscall.EINVAL
	}
	return c.Value, nil
}

// SetControl implements capture.Backend.
func (d *Device) SetControl(id uint32, value int32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter(OpSetCtrl); err != nil {
		return err
	}
	c, ok := d.Controls[id]
	if !ok || c.Disabled {
		return syscall.EINVAL
	}
	if c.ReadOnly {
		return syscall.EACCES
	}
	if value < c.Min || value > c.Max {
		return syscall.ERANGE
	}
	c.Value = value
	return nil
}

// Close implements capture.Backend.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter(OpClose); err != nil {
		return err
	}
	d.closed = true
	d.streaming = false
	d.queued = false
	return nil
}
