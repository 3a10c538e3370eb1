package capture

import (
	"errors"
	"fmt"
)

// Error codes for capture operations.
const (
	ErrCodeOpenFailed          = "OPEN_FAILED"
	ErrCodeQueryFailed         = "QUERY_FAILED"
	ErrCodeFormatFailed        = "FORMAT_FAILED"
	ErrCodeRequestFailed       = "REQUEST_FAILED"
	ErrCodeQueryBufferFailed   = "QUERY_BUFFER_FAILED"
	ErrCodeMapFailed           = "MAP_FAILED"
	ErrCodeStreamOnFailed      = "STREAM_ON_FAILED"
	ErrCodeStreamOffFailed     = "STREAM_OFF_FAILED"
	ErrCodeEnqueueFailed       = "ENQUEUE_FAILED"
	ErrCodeDequeueFailed       = "DEQUEUE_FAILED"
	ErrCodeFrameTimeout        = "FRAME_TIMEOUT"
	ErrCodeEmptyFrame          = "EMPTY_FRAME"
	ErrCodeInvalidBuffer       = "INVALID_BUFFER"
	ErrCodeInvalidState        = "INVALID_STATE"
	ErrCodeStreamResetRequired = "STREAM_RESET_REQUIRED"
	ErrCodeControlFailed       = "CONTROL_FAILED"
	ErrCodeRestartFailed       = "RESTART_FAILED"
	ErrCodeDeviceClosed        = "DEVICE_CLOSED"
)

// Stages name the pipeline step an error belongs to.
const (
	StageOpen     = "open"
	StageQuery    = "query"
	StageFormat   = "format"
	StageBuffer   = "buffer"
	StageMap      = "map"
	StageStream   = "stream"
	StageCapture  = "capture"
	StageControl  = "control"
	StageTeardown = "teardown"
)

// Error is a capture failure with enough context to diagnose it: the
// pipeline stage, an error code, and the control id for control failures.
type Error struct {
	Code      string
	Stage     string
	ControlID uint32
	Message   string
	Cause     error
}

func (e *Error) Error() string {
	prefix := e.Code
	if e.ControlID != 0 {
		prefix = fmt.Sprintf("%s [control 0x%08x]", e.Code, e.ControlID)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Fatal reports whether the session cannot continue on this device.
func (e *Error) Fatal() bool {
	return e.Code == ErrCodeQueryFailed
}

// Retryable reports whether the buffer is still owned by the process, so
// repeating the capture is safe.
func (e *Error) Retryable() bool {
	switch e.Code {
	case ErrCodeEnqueueFailed, ErrCodeEmptyFrame:
		return true
	default:
		return false
	}
}

// NeedsStreamReset reports whether buffer ownership is unknown and the
// stream must be stopped and restarted before the next capture.
func (e *Error) NeedsStreamReset() bool {
	switch e.Code {
	case ErrCodeDequeueFailed, ErrCodeFrameTimeout, ErrCodeStreamResetRequired:
		return true
	default:
		return false
	}
}

// HasCode reports whether err wraps a capture error with the given code.
func HasCode(err error, code string) bool {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code == code
	}
	return false
}

func newError(code, stage, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Stage:   stage,
		Message: message,
		Cause:   cause,
	}
}

func newControlError(code string, id uint32, message string, cause error) *Error {
	return &Error{
		Code:      code,
		Stage:     StageControl,
		ControlID: id,
		Message:   message,
		Cause:     cause,
	}
}
