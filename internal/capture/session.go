package capture

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/smazurov/stillcam/internal/events"
	"github.com/smazurov/stillcam/internal/logging"
)

// Options configures a capture session.
type Options struct {
	DevicePath   string
	Width        uint32
	Height       uint32
	PixelFormat  uint32
	FrameTimeout time.Duration
	Opener       Opener
	Bus          *events.Bus
	Logger       *slog.Logger
}

// Session composes the device, format negotiation, the buffer, the stream
// and control synchronization into one lifecycle:
// Prepare, Arm, Capture, optional Reconfigure, Teardown.
type Session struct {
	id     string
	opts   Options
	logger *slog.Logger

	dev        *Device
	format     NegotiatedFormat
	negotiator *FormatNegotiator
	buffers    *BufferManager
	stream     *StreamController
	controls   *ControlSynchronizer

	prepared  bool
	torndown  bool
	frames    int
	published int
}

// NewSession creates an unopened session.
func NewSession(opts Options) *Session {
	if opts.Opener == nil {
		opts.Opener = OpenV4L2
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.GetLogger("capture")
	}
	id := uuid.NewString()
	logger = logger.With("session_id", id, "device", opts.DevicePath)

	return &Session{
		id:         id,
		opts:       opts,
		logger:     logger,
		negotiator: NewFormatNegotiator(logger),
		buffers:    NewBufferManager(logger),
		controls:   NewControlSynchronizer(logger),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Device returns the open device, or nil before Open.
func (s *Session) Device() *Device { return s.dev }

// Format returns the negotiated format.
func (s *Session) Format() NegotiatedFormat { return s.format }

// Buffer returns the mapped buffer, or nil before Prepare.
func (s *Session) Buffer() *MappedBuffer { return s.buffers.Mapped() }

// FramesCaptured returns how many frames were captured successfully.
func (s *Session) FramesCaptured() int { return s.frames }

// EventsPublished returns how many events the session put on the bus.
func (s *Session) EventsPublished() int { return s.published }

// State returns the stream state.
func (s *Session) State() StreamState {
	if s.stream == nil {
		return StateIdle
	}
	return s.stream.State()
}

// Open opens the device and verifies its capabilities. Prepare calls it
// when needed; callers that only inspect the device use it directly.
func (s *Session) Open() error {
	if s.torndown {
		return newError(ErrCodeDeviceClosed, StageOpen, "session torn down", nil)
	}
	if s.dev == nil {
		dev, err := OpenDevice(s.opts.DevicePath, s.opts.Opener, s.logger)
		if err != nil {
			return s.fail(err)
		}
		s.dev = dev
		s.stream = NewStreamController(dev, s.logger)
		s.stream.SetFrameTimeout(s.opts.FrameTimeout)
		s.stream.OnStateChange(s.publishState)
	}
	if _, err := s.dev.QueryCapabilities(); err != nil {
		return s.fail(err)
	}
	return nil
}

// Prepare opens the device, negotiates the format, then requests, queries
// and maps the single buffer. A failed step leaves the device open for
// retry or inspection.
func (s *Session) Prepare() error {
	if s.prepared {
		return newError(ErrCodeInvalidState, StageBuffer, "session already prepared", nil)
	}
	if err := s.Open(); err != nil {
		return err
	}

	f, err := s.negotiator.Negotiate(s.dev, s.opts.Width, s.opts.Height, s.opts.PixelFormat)
	if err != nil {
		return s.fail(err)
	}
	s.format = f

	rb, err := s.buffers.RequestBuffers(s.dev, 1)
	if err != nil {
		return s.fail(err)
	}
	buf, err := s.mapBuffer(rb)
	if err != nil {
		// Free the allocation so a retried format negotiation is not
		// rejected with EBUSY.
		if relErr := s.buffers.Release(s.dev); relErr != nil {
			err = errors.Join(err, relErr)
		}
		return s.fail(err)
	}

	s.prepared = true
	s.logger.Info("Session prepared", "format", f.String(), "buffer_length", buf.Len())
	return nil
}

func (s *Session) mapBuffer(rb RequestedBuffer) (*MappedBuffer, error) {
	rb, err := s.buffers.QueryBuffer(s.dev, rb.Index)
	if err != nil {
		return nil, err
	}
	buf, err := s.buffers.Map(s.dev, rb)
	if err != nil {
		return nil, err
	}
	if err := s.stream.Attach(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// Arm starts streaming on the mapped buffer.
func (s *Session) Arm() error {
	if !s.prepared {
		return newError(ErrCodeInvalidState, StageStream, "session not prepared", nil)
	}
	if err := s.stream.StartStream(s.buffers.Mapped()); err != nil {
		return s.fail(err)
	}
	return nil
}

// Capture captures one frame, arming the stream first if needed. The
// frame data is only valid until the next capture.
func (s *Session) Capture() (FrameResult, error) {
	return s.capture(s.stream.CaptureFrame)
}

func (s *Session) capture(grab func() (FrameResult, error)) (FrameResult, error) {
	if !s.prepared {
		return FrameResult{}, newError(ErrCodeInvalidState, StageCapture, "session not prepared", nil)
	}
	frame, err := grab()
	if err != nil {
		return FrameResult{}, s.fail(err)
	}
	s.frames++
	s.publish(events.FrameCapturedEvent{
		SessionID:  s.id,
		DevicePath: s.opts.DevicePath,
		Frame:      s.frames,
		Sequence:   frame.Sequence,
		BytesUsed:  frame.BytesUsed,
		Corrupt:    frame.Corrupt,
		Timestamp:  now(),
	})
	s.logger.Debug("Frame captured", "frame", s.frames, "sequence", frame.Sequence, "bytes", frame.BytesUsed)
	return frame, nil
}

// CaptureBurst captures n frames and hands each to fn before the next
// capture overwrites it. The first frame arms the stream if needed; the
// rest require it to stay streaming, so a stream stopped from fn ends
// the burst with INVALID_STATE. The context is checked between frames
// only; a dequeue in progress is not interrupted.
func (s *Session) CaptureBurst(ctx context.Context, n int, fn func(int, FrameResult) error) error {
	grab := s.stream.CaptureFrame
	for i := range n {
		if err := ctx.Err(); err != nil {
			return err
		}
		frame, err := s.capture(grab)
		if err != nil {
			return err
		}
		grab = s.stream.CaptureNext
		if fn != nil {
			if err := fn(i, frame); err != nil {
				return err
			}
		}
	}
	return nil
}

// Reconfigure applies a control batch with the stream paused.
func (s *Session) Reconfigure(set *ControlSet) (ControlApplyReport, error) {
	if s.dev == nil {
		return ControlApplyReport{}, newError(ErrCodeInvalidState, StageControl, "device not open", nil)
	}
	report, err := s.controls.ApplyControls(s.dev, s.stream, set)
	s.publish(events.ControlsAppliedEvent{
		SessionID:   s.id,
		DevicePath:  s.opts.DevicePath,
		Applied:     report.Count(OutcomeApplied),
		Unsupported: report.Count(OutcomeUnsupported),
		Failed:      report.Count(OutcomeWriteFailed),
		Restart:     string(report.Restart),
		Timestamp:   now(),
	})
	if err != nil {
		return report, s.fail(err)
	}
	return report, nil
}

// ResetStream stops and restarts the stream after an ambiguous dequeue.
func (s *Session) ResetStream() error {
	if s.stream == nil {
		return newError(ErrCodeInvalidState, StageStream, "device not open", nil)
	}
	if err := s.stream.ResetStream(); err != nil {
		return s.fail(err)
	}
	s.logger.Info("Stream reset")
	return nil
}

// Teardown stops the stream, unmaps and releases the buffer and closes
// the device. Every step runs even if an earlier one fails; the failures
// are joined. Calling Teardown again does nothing.
func (s *Session) Teardown() error {
	if s.torndown {
		return nil
	}
	s.torndown = true
	if s.dev == nil {
		return nil
	}

	var errs []error
	if err := s.stream.StopStream(); err != nil {
		errs = append(errs, err)
	}
	if err := s.buffers.Release(s.dev); err != nil {
		errs = append(errs, err)
	}
	if err := s.dev.Close(); err != nil {
		errs = append(errs, err)
	}
	s.stream.Detach()
	s.prepared = false

	err := errors.Join(errs...)
	if err != nil {
		s.logger.Error("Teardown finished with errors", "stage", StageTeardown, "error", err)
	} else {
		s.logger.Info("Session closed", "frames", s.frames)
	}
	return err
}

func (s *Session) fail(err error) error {
	ev := events.CaptureErrorEvent{
		SessionID:  s.id,
		DevicePath: s.opts.DevicePath,
		Error:      err.Error(),
		Timestamp:  now(),
	}
	var ce *Error
	if errors.As(err, &ce) {
		ev.Stage = ce.Stage
		ev.Code = ce.Code
	}
	s.publish(ev)
	return err
}

func (s *Session) publishState(from, to StreamState) {
	s.publish(events.StreamStateChangedEvent{
		SessionID:  s.id,
		DevicePath: s.opts.DevicePath,
		From:       from.String(),
		To:         to.String(),
		Timestamp:  now(),
	})
}

func (s *Session) publish(ev events.Event) {
	if s.opts.Bus == nil {
		return
	}
	s.opts.Bus.Publish(ev)
	s.published++
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}
