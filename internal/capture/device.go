package capture

import (
	"time"

	"github.com/smazurov/stillcam/internal/logging"
	"github.com/smazurov/stillcam/pkg/linuxav/v4l2"
)

// Backend is the raw device control protocol. Every method is a single
// request/response exchange with the driver and carries no policy.
// *v4l2.Device implements Backend on Linux.
type Backend interface {
	QueryCapability() (v4l2.Capability, error)
	SetFormat(req v4l2.PixFormat) (v4l2.PixFormat, error)
	GetFormat() (v4l2.PixFormat, error)
	RequestBuffers(count uint32) (v4l2.RequestBuffers, error)
	QueryBuffer(index uint32) (v4l2.Buffer, error)
	QueueBuffer(index uint32) (v4l2.Buffer, error)
	DequeueBuffer() (v4l2.Buffer, error)
	Map(offset int64, length int) ([]byte, error)
	Unmap(b []byte) error
	StreamOn() error
	StreamOff() error
	QueryControl(id uint32) (v4l2.QueryControl, error)
	GetControl(id uint32) (int32, error)
	SetControl(id uint32, value int32) error
	Close() error
}

// Waiter is implemented by backends that can report frame readiness
// without blocking in dequeue.
type Waiter interface {
	WaitReadable(timeout time.Duration) (bool, error)
}

// Opener opens the backend for a device path.
type Opener func(path string) (Backend, error)

// RequiredCaps is the capability mask a device must report to be driven
// by this package.
const RequiredCaps = v4l2.CapVideoCapture | v4l2.CapStreaming

// Device is the single owned handle to a capture endpoint. Every other
// component borrows it; nothing else opens the same path.
type Device struct {
	path    string
	backend Backend
	caps    v4l2.Capability
	logger  logging.Logger
	closed  bool
}

// OpenDevice opens path with the given opener.
func OpenDevice(path string, open Opener, logger logging.Logger) (*Device, error) {
	if logger == nil {
		logger = logging.GetLogger("capture").With("device", path)
	}
	backend, err := open(path)
	if err != nil {
		logger.Error("Failed to open device", "stage", StageOpen, "error", err)
		return nil, newError(ErrCodeOpenFailed, StageOpen, "open "+path, err)
	}
	return NewDevice(path, backend, logger), nil
}

// NewDevice wraps an already open backend.
func NewDevice(path string, backend Backend, logger logging.Logger) *Device {
	if logger == nil {
		logger = logging.GetLogger("capture").With("device", path)
	}
	return &Device{path: path, backend: backend, logger: logger}
}

// Path returns the device path.
func (d *Device) Path() string {
	return d.path
}

// Backend returns the underlying protocol implementation.
func (d *Device) Backend() Backend {
	return d.backend
}

// Capabilities returns the result of the last successful QueryCapabilities.
func (d *Device) Capabilities() v4l2.Capability {
	return d.caps
}

// Closed reports whether Close has been called.
func (d *Device) Closed() bool {
	return d.closed
}

// QueryCapabilities reads the capability block and verifies the device
// supports streaming video capture. Failure is fatal to the session.
func (d *Device) QueryCapabilities() (v4l2.Capability, error) {
	if d.closed {
		return v4l2.Capability{}, newError(ErrCodeDeviceClosed, StageQuery, "device is closed", nil)
	}
	c, err := d.backend.QueryCapability()
	if err != nil {
		d.logger.Error("Capability query failed", "stage", StageQuery, "error", err)
		return v4l2.Capability{}, newError(ErrCodeQueryFailed, StageQuery, "query capabilities of "+d.path, err)
	}
	if !c.Has(RequiredCaps) {
		d.logger.Error("Device is not a streaming capture device",
			"stage", StageQuery, "caps", c.Effective())
		return c, newError(ErrCodeQueryFailed, StageQuery, d.path+" does not support streaming video capture", nil)
	}
	d.caps = c
	d.logger.Debug("Device capabilities", "driver", c.Driver, "card", c.Card, "caps", c.Effective())
	return c, nil
}

// QueryControl returns the driver's metadata for a control.
func (d *Device) QueryControl(id uint32) (v4l2.QueryControl, error) {
	if d.closed {
		return v4l2.QueryControl{}, newControlError(ErrCodeDeviceClosed, id, "device is closed", nil)
	}
	q, err := d.backend.QueryControl(id)
	if err != nil {
		return v4l2.QueryControl{}, newControlError(ErrCodeControlFailed, id, "query "+v4l2.ControlName(id), err)
	}
	return q, nil
}

// IsControlSupported reports whether the driver exposes id as a usable
// control. A failed query and a disabled control both report false.
func (d *Device) IsControlSupported(id uint32) bool {
	q, err := d.QueryControl(id)
	if err != nil {
		d.logger.Debug("Control query failed", "control", v4l2.ControlName(id), "error", err)
		return false
	}
	return !q.Disabled()
}

// GetControl reads the current value of a control.
func (d *Device) GetControl(id uint32) (int32, error) {
	if d.closed {
		return 0, newControlError(ErrCodeDeviceClosed, id, "device is closed", nil)
	}
	v, err := d.backend.GetControl(id)
	if err != nil {
		return 0, newControlError(ErrCodeControlFailed, id, "get "+v4l2.ControlName(id), err)
	}
	return v, nil
}

// SetControl writes a control value. The value is not range checked;
// the driver rejects values outside the control's range.
func (d *Device) SetControl(id uint32, value int32) error {
	if d.closed {
		return newControlError(ErrCodeDeviceClosed, id, "device is closed", nil)
	}
	if err := d.backend.SetControl(id, value); err != nil {
		return newControlError(ErrCodeControlFailed, id, "set "+v4l2.ControlName(id), err)
	}
	return nil
}

// Close releases the device. Closing twice is a no-op.
func (d *Device) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	if err := d.backend.Close(); err != nil {
		return newError(ErrCodeDeviceClosed, StageTeardown, "close "+d.path, err)
	}
	return nil
}
