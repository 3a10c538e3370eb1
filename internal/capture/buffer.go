package capture

import (
	"errors"
	"fmt"

	"github.com/smazurov/stillcam/internal/logging"
	"github.com/smazurov/stillcam/pkg/linuxav/v4l2"
)

// RequestedBuffer describes a kernel allocated frame buffer.
type RequestedBuffer struct {
	Index  uint32
	Length uint32
	Offset uint32
	Memory uint32
}

// MappedBuffer is the process view of a RequestedBuffer. It is owned by
// the BufferManager that mapped it; other components only borrow it.
type MappedBuffer struct {
	data   []byte
	index  uint32
	zeroed bool
}

// Index returns the kernel buffer index.
func (m *MappedBuffer) Index() uint32 {
	return m.index
}

// Len returns the mapped length in bytes.
func (m *MappedBuffer) Len() int {
	if m == nil {
		return 0
	}
	return len(m.data)
}

// Bytes returns the whole mapped region.
func (m *MappedBuffer) Bytes() []byte {
	return m.data
}

// Zeroed reports whether the region was cleared after mapping.
func (m *MappedBuffer) Zeroed() bool {
	return m.zeroed
}

// BufferManager requests, maps and releases the single capture buffer.
type BufferManager struct {
	logger    logging.Logger
	requested bool
	buffer    RequestedBuffer
	mapped    *MappedBuffer
}

// NewBufferManager creates a buffer manager.
func NewBufferManager(logger logging.Logger) *BufferManager {
	return &BufferManager{logger: logger}
}

// RequestBuffers asks the driver for memory-mapped capture buffers. Only
// a count of one is supported.
func (b *BufferManager) RequestBuffers(dev *Device, count uint32) (RequestedBuffer, error) {
	if count != 1 {
		return RequestedBuffer{}, newError(ErrCodeRequestFailed, StageBuffer,
			fmt.Sprintf("unsupported buffer count %d", count), nil)
	}
	if dev.Closed() {
		return RequestedBuffer{}, newError(ErrCodeDeviceClosed, StageBuffer, "device is closed", nil)
	}
	rb, err := dev.backend.RequestBuffers(count)
	if err != nil {
		b.log(dev).Error("Buffer request failed", "stage", StageBuffer, "error", err)
		return RequestedBuffer{}, newError(ErrCodeRequestFailed, StageBuffer, "request buffers", err)
	}
	if rb.Count == 0 {
		return RequestedBuffer{}, newError(ErrCodeRequestFailed, StageBuffer, "driver allocated no buffers", nil)
	}
	if rb.Count > count {
		b.log(dev).Debug("Driver allocated extra buffers, using index 0 only", "count", rb.Count)
	}
	b.requested = true
	b.buffer = RequestedBuffer{Index: 0, Memory: rb.Memory}
	return b.buffer, nil
}

// QueryBuffer fills in the length and offset of the buffer at index.
func (b *BufferManager) QueryBuffer(dev *Device, index uint32) (RequestedBuffer, error) {
	if !b.requested {
		return RequestedBuffer{}, newError(ErrCodeInvalidState, StageBuffer, "buffers not requested", nil)
	}
	if dev.Closed() {
		return RequestedBuffer{}, newError(ErrCodeDeviceClosed, StageBuffer, "device is closed", nil)
	}
	buf, err := dev.backend.QueryBuffer(index)
	if err != nil {
		b.log(dev).Error("Buffer query failed", "stage", StageBuffer, "index", index, "error", err)
		return RequestedBuffer{}, newError(ErrCodeQueryBufferFailed, StageBuffer,
			fmt.Sprintf("query buffer %d", index), err)
	}
	b.buffer = RequestedBuffer{
		Index:  buf.Index,
		Length: buf.Length,
		Offset: buf.Offset,
		Memory: buf.Memory,
	}
	return b.buffer, nil
}

// Map maps the queried buffer into process memory and zero fills it.
func (b *BufferManager) Map(dev *Device, rb RequestedBuffer) (*MappedBuffer, error) {
	if b.mapped != nil {
		return nil, newError(ErrCodeInvalidState, StageMap, "buffer already mapped", nil)
	}
	if rb.Length == 0 {
		return nil, newError(ErrCodeMapFailed, StageMap,
			fmt.Sprintf("buffer %d has zero length, query it before mapping", rb.Index), nil)
	}
	if rb.Memory != v4l2.MemoryMMAP {
		return nil, newError(ErrCodeMapFailed, StageMap,
			fmt.Sprintf("buffer %d uses memory type %d, want mmap", rb.Index, rb.Memory), nil)
	}
	if dev.Closed() {
		return nil, newError(ErrCodeDeviceClosed, StageMap, "device is closed", nil)
	}
	data, err := dev.backend.Map(int64(rb.Offset), int(rb.Length))
	if err != nil {
		b.log(dev).Error("Buffer map failed", "stage", StageMap,
			"offset", rb.Offset, "length", rb.Length, "error", err)
		return nil, newError(ErrCodeMapFailed, StageMap, fmt.Sprintf("map buffer %d", rb.Index), err)
	}
	clear(data)
	b.mapped = &MappedBuffer{data: data, index: rb.Index, zeroed: true}
	b.log(dev).Debug("Buffer mapped", "index", rb.Index, "length", rb.Length)
	return b.mapped, nil
}

// Mapped returns the mapped buffer, or nil.
func (b *BufferManager) Mapped() *MappedBuffer {
	return b.mapped
}

// Release unmaps the buffer and returns the kernel allocation. The stream
// must be off. Calling Release again does nothing.
func (b *BufferManager) Release(dev *Device) error {
	var errs []error
	if b.mapped != nil {
		if err := dev.backend.Unmap(b.mapped.data); err != nil {
			errs = append(errs, newError(ErrCodeMapFailed, StageTeardown, "unmap buffer", err))
		}
		b.mapped.data = nil
		b.mapped = nil
	}
	if b.requested && !dev.Closed() {
		if _, err := dev.backend.RequestBuffers(0); err != nil {
			errs = append(errs, newError(ErrCodeRequestFailed, StageTeardown, "release buffers", err))
		}
	}
	b.requested = false
	return errors.Join(errs...)
}

func (b *BufferManager) log(dev *Device) logging.Logger {
	if b.logger != nil {
		return b.logger
	}
	return dev.logger
}
