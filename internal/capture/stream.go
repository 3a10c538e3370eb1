package capture

import (
	"fmt"
	"time"

	"github.com/smazurov/stillcam/internal/logging"
)

// StreamState is the streaming state of a capture device.
type StreamState int

// Stream states.
const (
	StateIdle StreamState = iota
	StatePrepared
	StateStreaming
)

func (s StreamState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePrepared:
		return "prepared"
	case StateStreaming:
		return "streaming"
	default:
		return fmt.Sprintf("StreamState(%d)", int(s))
	}
}

// FrameResult is one dequeued frame. Data aliases the mapped buffer and
// is only valid until the next capture on the same controller.
type FrameResult struct {
	Index     uint32
	BytesUsed uint32
	Sequence  uint32
	Corrupt   bool
	data      []byte
}

// Data returns the frame payload.
func (f FrameResult) Data() []byte {
	return f.data
}

// StateChangeFunc observes stream state transitions.
type StateChangeFunc func(from, to StreamState)

// StreamController drives stream on/off and the enqueue/dequeue handshake
// for one mapped buffer. It is not safe for concurrent use.
type StreamController struct {
	dev           *Device
	logger        logging.Logger
	state         StreamState
	buf           *MappedBuffer
	frameTimeout  time.Duration
	needsReset    bool
	onStateChange StateChangeFunc
}

// NewStreamController creates a controller for dev in the Idle state.
func NewStreamController(dev *Device, logger logging.Logger) *StreamController {
	if logger == nil {
		logger = dev.logger
	}
	return &StreamController{dev: dev, logger: logger}
}

// SetFrameTimeout bounds the wait for a filled buffer when the backend
// supports readiness polling. Zero waits in dequeue indefinitely.
func (s *StreamController) SetFrameTimeout(d time.Duration) {
	s.frameTimeout = d
}

// OnStateChange registers fn to be called after every transition.
func (s *StreamController) OnStateChange(fn StateChangeFunc) {
	s.onStateChange = fn
}

// State returns the current stream state.
func (s *StreamController) State() StreamState {
	return s.state
}

// NeedsReset reports whether a failed dequeue left buffer ownership
// unknown. Captures are refused until ResetStream succeeds.
func (s *StreamController) NeedsReset() bool {
	return s.needsReset
}

func (s *StreamController) setState(to StreamState) {
	from := s.state
	if from == to {
		return
	}
	s.state = to
	s.logger.Debug("Stream state changed", "from", from.String(), "to", to.String())
	if s.onStateChange != nil {
		s.onStateChange(from, to)
	}
}

// Attach borrows a mapped buffer and moves Idle to Prepared.
func (s *StreamController) Attach(buf *MappedBuffer) error {
	if s.state != StateIdle {
		return newError(ErrCodeInvalidState, StageStream,
			fmt.Sprintf("attach in state %s", s.state), nil)
	}
	if buf.Len() == 0 {
		return newError(ErrCodeInvalidBuffer, StageStream, "buffer has zero length", nil)
	}
	s.buf = buf
	s.setState(StatePrepared)
	return nil
}

// StartStream issues stream-on. A buffer not yet attached is attached
// first. Starting an active stream is a no-op. On failure the state stays
// Prepared.
func (s *StreamController) StartStream(buf *MappedBuffer) error {
	if buf.Len() == 0 {
		return newError(ErrCodeInvalidBuffer, StageStream, "buffer has zero length", nil)
	}
	switch s.state {
	case StateStreaming:
		if buf != s.buf {
			return newError(ErrCodeInvalidState, StageStream, "stream active on a different buffer", nil)
		}
		return nil
	case StateIdle:
		if err := s.Attach(buf); err != nil {
			return err
		}
	case StatePrepared:
		if buf != s.buf {
			return newError(ErrCodeInvalidState, StageStream, "buffer is not the attached buffer", nil)
		}
	}
	if s.dev.Closed() {
		return newError(ErrCodeDeviceClosed, StageStream, "device is closed", nil)
	}

	if err := s.dev.backend.StreamOn(); err != nil {
		s.logger.Error("Stream on failed", "stage", StageStream, "error", err)
		return newError(ErrCodeStreamOnFailed, StageStream, "stream on", err)
	}
	s.needsReset = false
	s.setState(StateStreaming)
	return nil
}

// StopStream issues stream-off, returning every queued buffer to the
// process. It is a no-op unless the stream is active. On failure the
// state stays Streaming.
func (s *StreamController) StopStream() error {
	if s.state != StateStreaming {
		return nil
	}
	if s.dev.Closed() {
		return newError(ErrCodeDeviceClosed, StageStream, "device is closed", nil)
	}
	if err := s.dev.backend.StreamOff(); err != nil {
		s.logger.Error("Stream off failed", "stage", StageStream, "error", err)
		return newError(ErrCodeStreamOffFailed, StageStream, "stream off", err)
	}
	s.needsReset = false
	s.setState(StatePrepared)
	return nil
}

// ResetStream stops and restarts the stream, recovering a buffer whose
// ownership was lost by a failed dequeue.
func (s *StreamController) ResetStream() error {
	if s.state == StateIdle {
		return newError(ErrCodeInvalidState, StageStream, "no buffer attached", nil)
	}
	if err := s.StopStream(); err != nil {
		return err
	}
	return s.StartStream(s.buf)
}

// CaptureFrame captures one frame, starting the stream first when it is
// Prepared.
func (s *StreamController) CaptureFrame() (FrameResult, error) {
	if s.state == StateIdle {
		return FrameResult{}, newError(ErrCodeInvalidState, StageCapture, "no buffer attached", nil)
	}
	if s.buf.Len() == 0 {
		return FrameResult{}, newError(ErrCodeInvalidBuffer, StageCapture, "buffer has zero length", nil)
	}
	if s.state == StatePrepared {
		if err := s.StartStream(s.buf); err != nil {
			return FrameResult{}, err
		}
	}
	return s.cycle()
}

// CaptureNext runs only the enqueue/dequeue cycle on an active stream.
func (s *StreamController) CaptureNext() (FrameResult, error) {
	if s.state != StateStreaming {
		return FrameResult{}, newError(ErrCodeInvalidState, StageCapture,
			fmt.Sprintf("capture in state %s", s.state), nil)
	}
	return s.cycle()
}

func (s *StreamController) cycle() (FrameResult, error) {
	if s.needsReset {
		return FrameResult{}, newError(ErrCodeStreamResetRequired, StageCapture,
			"buffer ownership unknown after failed dequeue", nil)
	}
	if s.dev.Closed() {
		return FrameResult{}, newError(ErrCodeDeviceClosed, StageCapture, "device is closed", nil)
	}
	index := s.buf.index

	if _, err := s.dev.backend.QueueBuffer(index); err != nil {
		s.logger.Warn("Enqueue failed", "stage", StageCapture, "index", index, "error", err)
		return FrameResult{}, newError(ErrCodeEnqueueFailed, StageCapture,
			fmt.Sprintf("enqueue buffer %d", index), err)
	}

	if s.frameTimeout > 0 {
		if w, ok := s.dev.backend.(Waiter); ok {
			ready, err := w.WaitReadable(s.frameTimeout)
			if err != nil || !ready {
				s.needsReset = true
				s.logger.Error("No frame within timeout", "stage", StageCapture,
					"timeout", s.frameTimeout, "error", err)
				return FrameResult{}, newError(ErrCodeFrameTimeout, StageCapture,
					fmt.Sprintf("no frame within %s", s.frameTimeout), err)
			}
		}
	}

	b, err := s.dev.backend.DequeueBuffer()
	if err != nil {
		s.needsReset = true
		s.logger.Error("Dequeue failed", "stage", StageCapture, "index", index, "error", err)
		return FrameResult{}, newError(ErrCodeDequeueFailed, StageCapture,
			fmt.Sprintf("dequeue buffer %d", index), err)
	}
	if b.Index != index {
		s.needsReset = true
		return FrameResult{}, newError(ErrCodeInvalidBuffer, StageCapture,
			fmt.Sprintf("dequeued buffer %d, expected %d", b.Index, index), nil)
	}
	if int(b.BytesUsed) > len(s.buf.data) {
		return FrameResult{}, newError(ErrCodeInvalidBuffer, StageCapture,
			fmt.Sprintf("bytesused %d exceeds buffer length %d", b.BytesUsed, len(s.buf.data)), nil)
	}
	if b.BytesUsed == 0 {
		return FrameResult{}, newError(ErrCodeEmptyFrame, StageCapture, "driver returned an empty frame", nil)
	}
	if b.Errored() {
		s.logger.Warn("Driver flagged frame as corrupt", "sequence", b.Sequence)
	}

	s.buf.zeroed = false
	return FrameResult{
		Index:     b.Index,
		BytesUsed: b.BytesUsed,
		Sequence:  b.Sequence,
		Corrupt:   b.Errored(),
		data:      s.buf.data[:b.BytesUsed],
	}, nil
}

// Detach drops the borrowed buffer and returns to Idle. It is called
// once the buffer is released and the device closed.
func (s *StreamController) Detach() {
	s.buf = nil
	s.needsReset = false
	s.setState(StateIdle)
}
