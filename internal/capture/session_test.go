package capture_test

import (
	"context"
	"errors"
	"syscall"
	"testing"
	"time"

	"github.com/smazurov/stillcam/internal/capture"
	"github.com/smazurov/stillcam/internal/capture/fakedev"
	"github.com/smazurov/stillcam/internal/events"
	"github.com/smazurov/stillcam/pkg/linuxav/v4l2"
)

func newSession(fake *fakedev.Device, bus *events.Bus) *capture.Session {
	return capture.NewSession(capture.Options{
		DevicePath:  "/dev/video0",
		Width:       1024,
		Height:      1024,
		PixelFormat: v4l2.PixFmtMJPEG,
		Opener:      opener(fake),
		Bus:         bus,
	})
}

func TestSessionLifecycle(t *testing.T) {
	fake := fakedev.New()
	sess := newSession(fake, nil)

	if sess.ID() == "" {
		t.Fatal("session has no id")
	}
	if err := sess.Prepare(); err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	if sess.State() != capture.StatePrepared {
		t.Fatalf("state = %s, want prepared", sess.State())
	}
	if f := sess.Format(); f.Width != 1024 || f.Height != 1024 || f.FourCC() != "MJPG" {
		t.Fatalf("format = %s", f)
	}
	if err := sess.Arm(); err != nil {
		t.Fatalf("Arm() error = %v", err)
	}

	var sizes []uint32
	err := sess.CaptureBurst(context.Background(), 3, func(_ int, f capture.FrameResult) error {
		sizes = append(sizes, f.BytesUsed)
		return nil
	})
	if err != nil {
		t.Fatalf("CaptureBurst() error = %v", err)
	}
	if len(sizes) != 3 || sess.FramesCaptured() != 3 {
		t.Fatalf("captured %d frames (%d counted)", len(sizes), sess.FramesCaptured())
	}

	set := capture.NewControlSet()
	set.Set(v4l2.CIDExposureAbsolute, 250)
	report, err := sess.Reconfigure(set)
	if err != nil || report.Restart != capture.RestartSucceeded {
		t.Fatalf("Reconfigure() report = %+v, err = %v", report, err)
	}
	if _, err := sess.Capture(); err != nil {
		t.Fatalf("capture after reconfigure: %v", err)
	}

	if err := sess.Teardown(); err != nil {
		t.Fatalf("Teardown() error = %v", err)
	}
	if err := sess.Teardown(); err != nil {
		t.Fatalf("second Teardown() error = %v", err)
	}
	if !fake.Closed() || fake.Unmaps() != 1 || fake.Streaming() || fake.Requested() != 0 {
		t.Errorf("teardown left closed=%v unmaps=%d streaming=%v requested=%d",
			fake.Closed(), fake.Unmaps(), fake.Streaming(), fake.Requested())
	}
	if sess.State() != capture.StateIdle {
		t.Errorf("state after teardown = %s, want idle", sess.State())
	}
}

func TestSessionOpenFailure(t *testing.T) {
	sess := capture.NewSession(capture.Options{
		DevicePath: "/dev/video9",
		Opener: func(string) (capture.Backend, error) {
			return nil, syscall.ENOENT
		},
	})

	err := sess.Prepare()
	wantCode(t, err, capture.ErrCodeOpenFailed)
	if !errors.Is(err, syscall.ENOENT) {
		t.Errorf("cause lost: %v", err)
	}
	if err := sess.Teardown(); err != nil {
		t.Errorf("Teardown() after failed open: %v", err)
	}
}

func TestSessionCapabilityFailureIsFatal(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*fakedev.Device)
	}{
		{"query fails", func(f *fakedev.Device) { f.Fail(fakedev.OpQueryCap, syscall.ENOTTY) }},
		{"no streaming", func(f *fakedev.Device) { f.Caps.DeviceCaps = v4l2.CapVideoCapture | v4l2.CapReadWrite }},
		{"output only", func(f *fakedev.Device) { f.Caps.DeviceCaps = v4l2.CapVideoOutput | v4l2.CapStreaming }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := fakedev.New()
			tt.setup(fake)
			sess := newSession(fake, nil)
			defer sess.Teardown()

			err := sess.Prepare()
			wantCode(t, err, capture.ErrCodeQueryFailed)
			var ce *capture.Error
			if !errors.As(err, &ce) || !ce.Fatal() {
				t.Fatalf("capability error %v should be fatal", err)
			}
			if fake.Count(fakedev.OpSetFormat) != 0 {
				t.Error("format negotiated on an unusable device")
			}
		})
	}
}

func TestSessionPrepareFailureKeepsDevice(t *testing.T) {
	fake := fakedev.New()
	fake.FailOnce(fakedev.OpReqBufs, syscall.ENOMEM)
	sess := newSession(fake, nil)
	defer sess.Teardown()

	wantCode(t, sess.Prepare(), capture.ErrCodeRequestFailed)
	if sess.Device() == nil || sess.Device().Closed() {
		t.Fatal("device not kept open after buffer request failure")
	}
	if err := sess.Prepare(); err != nil {
		t.Fatalf("retry Prepare() error = %v", err)
	}
	if fake.Count(fakedev.OpQueryCap) != 2 {
		t.Errorf("querycap issued %d times", fake.Count(fakedev.OpQueryCap))
	}
}

func TestSessionPrepareRetryAfterBufferFailure(t *testing.T) {
	tests := []struct {
		name string
		op   fakedev.Op
		err  error
		code string
	}{
		{"query buffer", fakedev.OpQueryBuf, syscall.EIO, capture.ErrCodeQueryBufferFailed},
		{"map", fakedev.OpMap, syscall.ENOMEM, capture.ErrCodeMapFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := fakedev.New()
			fake.FailOnce(tt.op, tt.err)
			sess := newSession(fake, nil)
			defer sess.Teardown()

			wantCode(t, sess.Prepare(), tt.code)
			if fake.Requested() != 0 {
				t.Errorf("%d buffers left allocated after failure", fake.Requested())
			}
			if err := sess.Prepare(); err != nil {
				t.Fatalf("retry Prepare() error = %v", err)
			}
			if sess.Buffer().Len() == 0 {
				t.Error("no buffer mapped after retry")
			}
		})
	}
}

func TestSessionTeardownJoinsErrors(t *testing.T) {
	fake := fakedev.New()
	sess := newSession(fake, nil)
	if err := sess.Prepare(); err != nil {
		t.Fatal(err)
	}
	if _, err := sess.Capture(); err != nil {
		t.Fatal(err)
	}
	fake.Fail(fakedev.OpStreamOff, syscall.EIO)

	err := sess.Teardown()
	wantCode(t, err, capture.ErrCodeStreamOffFailed)
	if !fake.Closed() {
		t.Error("device not closed after failed stream off")
	}
	if fake.Unmaps() != 1 {
		t.Errorf("unmapped %d times, want 1", fake.Unmaps())
	}
}

func TestSessionCaptureBurstKeepsStreaming(t *testing.T) {
	fake := fakedev.New()
	sess := newSession(fake, nil)
	defer sess.Teardown()
	if err := sess.Prepare(); err != nil {
		t.Fatal(err)
	}

	if err := sess.CaptureBurst(context.Background(), 3, nil); err != nil {
		t.Fatalf("CaptureBurst() error = %v", err)
	}
	if n := fake.Count(fakedev.OpStreamOn); n != 1 {
		t.Errorf("stream on issued %d times, want 1", n)
	}
}

func TestSessionCaptureBurstDoesNotRearm(t *testing.T) {
	fake := fakedev.New()
	sess := newSession(fake, nil)
	defer sess.Teardown()
	if err := sess.Prepare(); err != nil {
		t.Fatal(err)
	}

	err := sess.CaptureBurst(context.Background(), 3, func(i int, _ capture.FrameResult) error {
		if i == 0 {
			// Leave the stream stopped after a failed restart.
			fake.FailOnce(fakedev.OpStreamOn, syscall.EIO)
			set := capture.NewControlSet()
			set.Set(v4l2.CIDBrightness, 4)
			if _, err := sess.Reconfigure(set); !capture.HasCode(err, capture.ErrCodeRestartFailed) {
				t.Fatalf("Reconfigure() error = %v, want %s", err, capture.ErrCodeRestartFailed)
			}
		}
		return nil
	})
	wantCode(t, err, capture.ErrCodeInvalidState)
	if sess.FramesCaptured() != 1 {
		t.Errorf("captured %d frames, want 1", sess.FramesCaptured())
	}
	if fake.Count(fakedev.OpStreamOn) != 2 {
		t.Errorf("stream on issued %d times, want 2", fake.Count(fakedev.OpStreamOn))
	}
}

func TestSessionCaptureBurstStopsOnCancel(t *testing.T) {
	fake := fakedev.New()
	sess := newSession(fake, nil)
	defer sess.Teardown()
	if err := sess.Prepare(); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	err := sess.CaptureBurst(ctx, 10, func(i int, _ capture.FrameResult) error {
		if i == 1 {
			cancel()
		}
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("CaptureBurst() error = %v, want context.Canceled", err)
	}
	if sess.FramesCaptured() != 2 {
		t.Errorf("captured %d frames, want 2", sess.FramesCaptured())
	}
}

func TestSessionResetAfterDequeueFailure(t *testing.T) {
	fake := fakedev.New()
	sess := newSession(fake, nil)
	defer sess.Teardown()
	if err := sess.Prepare(); err != nil {
		t.Fatal(err)
	}
	fake.FailOnce(fakedev.OpDQBuf, syscall.EIO)

	_, err := sess.Capture()
	wantCode(t, err, capture.ErrCodeDequeueFailed)
	if err := sess.ResetStream(); err != nil {
		t.Fatalf("ResetStream() error = %v", err)
	}
	if _, err := sess.Capture(); err != nil {
		t.Fatalf("capture after reset: %v", err)
	}
}

func TestSessionPublishesEvents(t *testing.T) {
	bus := events.New()
	frames := make(chan events.FrameCapturedEvent, 4)
	states := make(chan events.StreamStateChangedEvent, 8)
	applied := make(chan events.ControlsAppliedEvent, 1)
	failures := make(chan events.CaptureErrorEvent, 1)
	defer bus.Subscribe(func(e events.FrameCapturedEvent) { frames <- e })()
	defer bus.Subscribe(func(e events.StreamStateChangedEvent) { states <- e })()
	defer bus.Subscribe(func(e events.ControlsAppliedEvent) { applied <- e })()
	defer bus.Subscribe(func(e events.CaptureErrorEvent) { failures <- e })()

	fake := fakedev.New()
	sess := newSession(fake, bus)
	if err := sess.Prepare(); err != nil {
		t.Fatal(err)
	}
	if _, err := sess.Capture(); err != nil {
		t.Fatal(err)
	}
	set := capture.NewControlSet()
	set.Set(v4l2.CIDGain, 2)
	set.Set(v4l2.CIDDoWhiteBalance, 1)
	if _, err := sess.Reconfigure(set); err != nil {
		t.Fatal(err)
	}
	fake.FailOnce(fakedev.OpQBuf, syscall.EIO)
	if _, err := sess.Capture(); err == nil {
		t.Fatal("expected enqueue failure")
	}

	timeout := time.After(time.Second)
	select {
	case e := <-frames:
		if e.SessionID != sess.ID() || e.Frame != 1 || e.BytesUsed == 0 {
			t.Errorf("frame event = %+v", e)
		}
	case <-timeout:
		t.Fatal("no frame event")
	}
	select {
	case e := <-applied:
		if e.Applied != 1 || e.Unsupported != 1 || e.Restart != "restarted" {
			t.Errorf("controls event = %+v", e)
		}
	case <-timeout:
		t.Fatal("no controls event")
	}
	select {
	case e := <-failures:
		if e.Code != capture.ErrCodeEnqueueFailed || e.Stage != capture.StageCapture {
			t.Errorf("error event = %+v", e)
		}
	case <-timeout:
		t.Fatal("no error event")
	}
	select {
	case e := <-states:
		if e.From != "idle" || e.To != "prepared" {
			t.Errorf("first state event = %+v", e)
		}
	case <-timeout:
		t.Fatal("no state event")
	}

	if err := sess.Teardown(); err != nil {
		t.Fatal(err)
	}
	// six state changes plus one frame, one controls and one error event
	if n := sess.EventsPublished(); n != 9 {
		t.Errorf("EventsPublished() = %d, want 9", n)
	}
}

func TestSessionOpenForInspection(t *testing.T) {
	fake := fakedev.New()
	sess := newSession(fake, nil)
	defer sess.Teardown()

	if err := sess.Open(); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if sess.Device().Capabilities().Card != "Fake Camera" {
		t.Errorf("capabilities not recorded: %+v", sess.Device().Capabilities())
	}
	if err := sess.Prepare(); err != nil {
		t.Fatalf("Prepare() after Open() error = %v", err)
	}
	if fake.Count(fakedev.OpClose) != 0 {
		t.Error("device reopened between Open and Prepare")
	}
}
