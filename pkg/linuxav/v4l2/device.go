//go:build linux

package v4l2

import (
	"errors"
	"fmt"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// ErrClosed is returned by operations on a Device after Close.
var ErrClosed = errors.New("v4l2: device closed")

// Device is an open V4L2 device node.
//
// Device is not safe for concurrent use. Callers serialize access.
type Device struct {
	path string
	fd   int
}

// Open opens a device node for blocking read/write access. Dequeue calls
// on the returned Device block until the driver completes a buffer.
func Open(path string) (*Device, error) {
	return openDevice(path, unix.O_RDWR)
}

func openDevice(path string, flags int) (*Device, error) {
	fd, err := open(path, flags)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return &Device{path: path, fd: fd}, nil
}

// Path returns the device node path.
func (d *Device) Path() string {
	return d.path
}

// Fd returns the file descriptor, or -1 once closed.
func (d *Device) Fd() int {
	return d.fd
}

// Close releases the file descriptor. Closing twice is a no-op.
func (d *Device) Close() error {
	if d.fd < 0 {
		return nil
	}
	err := close(d.fd)
	d.fd = -1
	return err
}

func (d *Device) ioctl(req uint, arg unsafe.Pointer) error {
	if d.fd < 0 {
		return ErrClosed
	}
	return ioctl(d.fd, req, arg)
}

// QueryCapability issues VIDIOC_QUERYCAP.
func (d *Device) QueryCapability() (Capability, error) {
	c := v4l2Capability{}
	if err := d.ioctl(vidiocQuerycap, unsafe.Pointer(&c)); err != nil {
		return Capability{}, err
	}
	return Capability{
		Driver:       cstr(c.driver[:]),
		Card:         cstr(c.card[:]),
		BusInfo:      cstr(c.busInfo[:]),
		Version:      c.version,
		Capabilities: c.capabilities,
		DeviceCaps:   c.deviceCaps,
	}, nil
}

// SetFormat issues VIDIOC_S_FMT and returns the format the driver adjusted
// the request to.
func (d *Device) SetFormat(req PixFormat) (PixFormat, error) {
	f := v4l2Format{
		typ: BufTypeVideoCapture,
		pix: v4l2PixFormat{
			width:        req.Width,
			height:       req.Height,
			pixelformat:  req.PixelFormat,
			field:        req.Field,
			bytesperline: req.BytesPerLine,
			colorspace:   req.Colorspace,
		},
	}
	if err := d.ioctl(vidiocSFmt, unsafe.Pointer(&f)); err != nil {
		return PixFormat{}, err
	}
	return pixFormatFrom(&f.pix), nil
}

// GetFormat issues VIDIOC_G_FMT.
func (d *Device) GetFormat() (PixFormat, error) {
	f := v4l2Format{typ: BufTypeVideoCapture}
	if err := d.ioctl(vidiocGFmt, unsafe.Pointer(&f)); err != nil {
		return PixFormat{}, err
	}
	return pixFormatFrom(&f.pix), nil
}

func pixFormatFrom(p *v4l2PixFormat) PixFormat {
	return PixFormat{
		Width:        p.width,
		Height:       p.height,
		PixelFormat:  p.pixelformat,
		Field:        p.field,
		BytesPerLine: p.bytesperline,
		SizeImage:    p.sizeimage,
		Colorspace:   p.colorspace,
	}
}

// RequestBuffers issues VIDIOC_REQBUFS for memory-mapped capture buffers.
// A count of zero releases all buffers.
func (d *Device) RequestBuffers(count uint32) (RequestBuffers, error) {
	rb := v4l2Requestbuffers{
		count:  count,
		typ:    BufTypeVideoCapture,
		memory: MemoryMMAP,
	}
	if err := d.ioctl(vidiocReqbufs, unsafe.Pointer(&rb)); err != nil {
		return RequestBuffers{}, err
	}
	return RequestBuffers{
		Count:        rb.count,
		Type:         rb.typ,
		Memory:       rb.memory,
		Capabilities: rb.capabilities,
	}, nil
}

// QueryBuffer issues VIDIOC_QUERYBUF for the buffer at index.
func (d *Device) QueryBuffer(index uint32) (Buffer, error) {
	b := v4l2Buffer{
		index:  index,
		typ:    BufTypeVideoCapture,
		memory: MemoryMMAP,
	}
	if err := d.ioctl(vidiocQuerybuf, unsafe.Pointer(&b)); err != nil {
		return Buffer{}, err
	}
	return bufferFrom(&b), nil
}

// QueueBuffer issues VIDIOC_QBUF, handing the buffer at index to the driver.
func (d *Device) QueueBuffer(index uint32) (Buffer, error) {
	b := v4l2Buffer{
		index:  index,
		typ:    BufTypeVideoCapture,
		memory: MemoryMMAP,
	}
	if err := d.ioctl(vidiocQbuf, unsafe.Pointer(&b)); err != nil {
		return Buffer{}, err
	}
	return bufferFrom(&b), nil
}

// DequeueBuffer issues VIDIOC_DQBUF and blocks until a filled buffer is
// available, unless the device was opened non-blocking.
func (d *Device) DequeueBuffer() (Buffer, error) {
	b := v4l2Buffer{
		typ:    BufTypeVideoCapture,
		memory: MemoryMMAP,
	}
	if err := d.ioctl(vidiocDqbuf, unsafe.Pointer(&b)); err != nil {
		return Buffer{}, err
	}
	return bufferFrom(&b), nil
}

func bufferFrom(b *v4l2Buffer) Buffer {
	return Buffer{
		Index:     b.index,
		Type:      b.typ,
		Memory:    b.memory,
		BytesUsed: b.bytesused,
		Flags:     b.flags,
		Field:     b.field,
		Sequence:  b.sequence,
		Offset:    b.offset,
		Length:    b.length,
	}
}

// Map maps length bytes of device memory at offset into the process,
// readable and writable, shared with the driver.
func (d *Device) Map(offset int64, length int) ([]byte, error) {
	if d.fd < 0 {
		return nil, ErrClosed
	}
	return unix.Mmap(d.fd, offset, length, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
}

// Unmap releases a mapping returned by Map.
func (d *Device) Unmap(b []byte) error {
	return unix.Munmap(b)
}

// StreamOn issues VIDIOC_STREAMON for video capture.
func (d *Device) StreamOn() error {
	typ := uint32(BufTypeVideoCapture)
	return d.ioctl(vidiocStreamon, unsafe.Pointer(&typ))
}

// StreamOff issues VIDIOC_STREAMOFF. The driver returns every queued buffer
// to the process.
func (d *Device) StreamOff() error {
	typ := uint32(BufTypeVideoCapture)
	return d.ioctl(vidiocStreamoff, unsafe.Pointer(&typ))
}

// QueryControl issues VIDIOC_QUERYCTRL.
func (d *Device) QueryControl(id uint32) (QueryControl, error) {
	q := v4l2Queryctrl{id: id}
	if err := d.ioctl(vidiocQueryctrl, unsafe.Pointer(&q)); err != nil {
		return QueryControl{}, err
	}
	return QueryControl{
		ID:      q.id,
		Type:    q.typ,
		Name:    cstr(q.name[:]),
		Minimum: q.minimum,
		Maximum: q.maximum,
		Step:    q.step,
		Default: q.defaultValue,
		Flags:   q.flags,
	}, nil
}

// GetControl issues VIDIOC_G_CTRL.
func (d *Device) GetControl(id uint32) (int32, error) {
	c := v4l2Control{id: id}
	if err := d.ioctl(vidiocGCtrl, unsafe.Pointer(&c)); err != nil {
		return 0, err
	}
	return c.value, nil
}

// SetControl issues VIDIOC_S_CTRL. Range checking is left to the driver,
// which reports out-of-range values as ERANGE or EINVAL.
func (d *Device) SetControl(id uint32, value int32) error {
	c := v4l2Control{id: id, value: value}
	return d.ioctl(vidiocSCtrl, unsafe.Pointer(&c))
}

// WaitReadable polls the device until a dequeue would not block or the
// timeout elapses. It returns false on timeout.
func (d *Device) WaitReadable(timeout time.Duration) (bool, error) {
	if d.fd < 0 {
		return false, ErrClosed
	}
	fds := []unix.PollFd{{Fd: int32(d.fd), Events: unix.POLLIN}}
	for {
		n, err := unix.Poll(fds, int(timeout.Milliseconds()))
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return false, err
		}
		if n == 0 {
			return false, nil
		}
		if fds[0].Revents&(unix.POLLERR|unix.POLLNVAL) != 0 {
			return false, fmt.Errorf("poll %s: revents 0x%x", d.path, fds[0].Revents)
		}
		return true, nil
	}
}
