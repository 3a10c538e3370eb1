package capture_test

import (
	"bytes"
	"errors"
	"slices"
	"syscall"
	"testing"
	"time"

	"github.com/smazurov/stillcam/internal/capture"
	"github.com/smazurov/stillcam/internal/capture/fakedev"
	"github.com/smazurov/stillcam/pkg/linuxav/v4l2"
)

func TestCaptureLifecycleFullHDMJPEG(t *testing.T) {
	fake := fakedev.New()
	dev := openFake(t, fake)

	f, err := capture.NewFormatNegotiator(nil).Negotiate(dev, 1920, 1080, v4l2.PixFmtMJPEG)
	if err != nil {
		t.Fatalf("Negotiate() error = %v", err)
	}
	if f.Width != 1920 || f.Height != 1080 || f.PixelFormat != v4l2.PixFmtMJPEG || f.Field != v4l2.FieldNone {
		t.Fatalf("negotiated %+v, want 1920x1080 MJPG progressive", f)
	}

	bm := capture.NewBufferManager(nil)
	rb, err := bm.RequestBuffers(dev, 1)
	if err != nil {
		t.Fatalf("RequestBuffers() error = %v", err)
	}
	rb, err = bm.QueryBuffer(dev, rb.Index)
	if err != nil {
		t.Fatalf("QueryBuffer() error = %v", err)
	}
	if rb.Index != 0 || rb.Length != 2073600 {
		t.Fatalf("queried buffer %+v, want index 0 length 2073600", rb)
	}

	buf, err := bm.Map(dev, rb)
	if err != nil {
		t.Fatalf("Map() error = %v", err)
	}
	if !buf.Zeroed() || buf.Len() != int(rb.Length) {
		t.Fatalf("mapped buffer zeroed=%v len=%d", buf.Zeroed(), buf.Len())
	}
	if !bytes.Equal(buf.Bytes(), make([]byte, buf.Len())) {
		t.Fatal("mapped buffer is not zero filled")
	}

	sc := capture.NewStreamController(dev, nil)
	if err := sc.StartStream(buf); err != nil {
		t.Fatalf("StartStream() error = %v", err)
	}
	if sc.State() != capture.StateStreaming {
		t.Fatalf("state = %s, want streaming", sc.State())
	}

	frame, err := sc.CaptureFrame()
	if err != nil {
		t.Fatalf("CaptureFrame() error = %v", err)
	}
	if frame.BytesUsed == 0 || frame.BytesUsed > rb.Length {
		t.Fatalf("bytesused %d outside (0, %d]", frame.BytesUsed, rb.Length)
	}
	if len(frame.Data()) != int(frame.BytesUsed) || frame.Data()[0] != 1 {
		t.Fatalf("frame data len=%d first=%#x", len(frame.Data()), frame.Data()[0])
	}

	if err := sc.StopStream(); err != nil {
		t.Fatalf("StopStream() error = %v", err)
	}
	if err := bm.Release(dev); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if err := dev.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	want := []fakedev.Op{
		fakedev.OpQueryCap,
		fakedev.OpSetFormat, fakedev.OpGetFormat,
		fakedev.OpReqBufs, fakedev.OpQueryBuf, fakedev.OpMap,
		fakedev.OpStreamOn, fakedev.OpQBuf, fakedev.OpDQBuf, fakedev.OpStreamOff,
		fakedev.OpUnmap, fakedev.OpReqBufs, fakedev.OpClose,
	}
	if got := fake.Calls(); !slices.Equal(got, want) {
		t.Errorf("calls = %v\nwant    %v", got, want)
	}
}

func TestCaptureFrameKeepsStreaming(t *testing.T) {
	r := prepare(t, fakedev.New())

	for i := range 5 {
		frame, err := r.stream.CaptureFrame()
		if err != nil {
			t.Fatalf("capture %d: %v", i, err)
		}
		if r.stream.State() != capture.StateStreaming {
			t.Fatalf("capture %d: state = %s, want streaming", i, r.stream.State())
		}
		if frame.Sequence != uint32(i) {
			t.Errorf("capture %d: sequence = %d", i, frame.Sequence)
		}
	}
	if n := r.fake.Count(fakedev.OpStreamOn); n != 1 {
		t.Errorf("stream on issued %d times, want 1", n)
	}
}

func TestCaptureNext(t *testing.T) {
	r := prepare(t, fakedev.New())

	_, err := r.stream.CaptureNext()
	wantCode(t, err, capture.ErrCodeInvalidState)

	if err := r.stream.StartStream(r.buf); err != nil {
		t.Fatalf("StartStream() error = %v", err)
	}
	for range 3 {
		if _, err := r.stream.CaptureNext(); err != nil {
			t.Fatalf("CaptureNext() error = %v", err)
		}
	}
	if n := r.fake.Count(fakedev.OpQBuf); n != 3 {
		t.Errorf("qbuf issued %d times, want 3", n)
	}
}

func TestCaptureRejectsOversizedFrame(t *testing.T) {
	fake := fakedev.New()
	r := prepare(t, fake)
	fake.BytesUsed = uint32(r.buf.Len()) + 1

	frame, err := r.stream.CaptureFrame()
	wantCode(t, err, capture.ErrCodeInvalidBuffer)
	if frame.BytesUsed != 0 {
		t.Errorf("returned frame with bytesused %d", frame.BytesUsed)
	}

	fake.BytesUsed = uint32(r.buf.Len())
	frame, err = r.stream.CaptureFrame()
	if err != nil {
		t.Fatalf("full buffer frame: %v", err)
	}
	if int(frame.BytesUsed) != r.buf.Len() {
		t.Errorf("bytesused = %d, want %d", frame.BytesUsed, r.buf.Len())
	}
}

func TestCaptureEmptyFrameIsRetryable(t *testing.T) {
	fake := fakedev.New()
	r := prepare(t, fake)
	fake.Empty = true

	_, err := r.stream.CaptureFrame()
	wantCode(t, err, capture.ErrCodeEmptyFrame)
	var ce *capture.Error
	if !errors.As(err, &ce) || !ce.Retryable() {
		t.Fatalf("empty frame error %v should be retryable", err)
	}

	fake.Empty = false
	if _, err := r.stream.CaptureFrame(); err != nil {
		t.Fatalf("retry after empty frame: %v", err)
	}
}

func TestCaptureWrongIndex(t *testing.T) {
	fake := fakedev.New()
	r := prepare(t, fake)
	other := uint32(3)
	fake.DequeueIndex = &other

	_, err := r.stream.CaptureFrame()
	wantCode(t, err, capture.ErrCodeInvalidBuffer)
	if !r.stream.NeedsReset() {
		t.Error("foreign buffer index should require a stream reset")
	}
}

func TestCaptureCorruptFrame(t *testing.T) {
	fake := fakedev.New()
	r := prepare(t, fake)
	fake.FrameFlags = v4l2.BufFlagError

	frame, err := r.stream.CaptureFrame()
	if err != nil {
		t.Fatalf("CaptureFrame() error = %v", err)
	}
	if !frame.Corrupt {
		t.Error("frame with error flag not marked corrupt")
	}
}

func TestEnqueueFailureIsRetryable(t *testing.T) {
	fake := fakedev.New()
	r := prepare(t, fake)
	fake.FailOnce(fakedev.OpQBuf, syscall.EIO)

	_, err := r.stream.CaptureFrame()
	wantCode(t, err, capture.ErrCodeEnqueueFailed)
	var ce *capture.Error
	if !errors.As(err, &ce) || !ce.Retryable() || ce.NeedsStreamReset() {
		t.Fatalf("enqueue error %v: want retryable without reset", err)
	}
	if !errors.Is(err, syscall.EIO) {
		t.Errorf("cause not preserved: %v", err)
	}
	if ce.Stage != capture.StageCapture {
		t.Errorf("stage = %q, want %q", ce.Stage, capture.StageCapture)
	}

	if _, err := r.stream.CaptureFrame(); err != nil {
		t.Fatalf("retry after enqueue failure: %v", err)
	}
}

func TestDequeueFailureRequiresReset(t *testing.T) {
	fake := fakedev.New()
	r := prepare(t, fake)
	fake.FailOnce(fakedev.OpDQBuf, syscall.EIO)

	_, err := r.stream.CaptureFrame()
	wantCode(t, err, capture.ErrCodeDequeueFailed)
	var ce *capture.Error
	if !errors.As(err, &ce) || !ce.NeedsStreamReset() || ce.Retryable() {
		t.Fatalf("dequeue error %v: want reset required", err)
	}

	_, err = r.stream.CaptureFrame()
	wantCode(t, err, capture.ErrCodeStreamResetRequired)
	if r.fake.Count(fakedev.OpQBuf) != 1 {
		t.Error("capture after failed dequeue reached the driver")
	}

	if err := r.stream.ResetStream(); err != nil {
		t.Fatalf("ResetStream() error = %v", err)
	}
	if r.stream.NeedsReset() || r.stream.State() != capture.StateStreaming {
		t.Fatalf("after reset: needsReset=%v state=%s", r.stream.NeedsReset(), r.stream.State())
	}
	if _, err := r.stream.CaptureFrame(); err != nil {
		t.Fatalf("capture after reset: %v", err)
	}
}

func TestFrameTimeout(t *testing.T) {
	fake := fakedev.New()
	r := prepare(t, fake)
	r.stream.SetFrameTimeout(50 * time.Millisecond)

	if _, err := r.stream.CaptureFrame(); err != nil {
		t.Fatalf("ready device: %v", err)
	}

	fake.NotReady = true
	_, err := r.stream.CaptureFrame()
	wantCode(t, err, capture.ErrCodeFrameTimeout)
	if !r.stream.NeedsReset() {
		t.Error("timeout should require a stream reset")
	}
	if n := fake.Count(fakedev.OpDQBuf); n != 1 {
		t.Errorf("dqbuf issued %d times, want 1", n)
	}
}

func TestStartStreamFailureStaysPrepared(t *testing.T) {
	fake := fakedev.New()
	r := prepare(t, fake)
	fake.FailOnce(fakedev.OpStreamOn, syscall.ENOSPC)

	err := r.stream.StartStream(r.buf)
	wantCode(t, err, capture.ErrCodeStreamOnFailed)
	if r.stream.State() != capture.StatePrepared {
		t.Fatalf("state = %s, want prepared", r.stream.State())
	}
	if fake.Count(fakedev.OpStreamOn) != 1 {
		t.Error("stream on was retried")
	}
}

func TestStopStreamFailureStaysStreaming(t *testing.T) {
	fake := fakedev.New()
	r := prepare(t, fake)
	if err := r.stream.StartStream(r.buf); err != nil {
		t.Fatal(err)
	}
	fake.FailOnce(fakedev.OpStreamOff, syscall.EIO)

	wantCode(t, r.stream.StopStream(), capture.ErrCodeStreamOffFailed)
	if r.stream.State() != capture.StateStreaming {
		t.Fatalf("state = %s, want streaming", r.stream.State())
	}
	if err := r.stream.StopStream(); err != nil {
		t.Fatalf("second StopStream() error = %v", err)
	}
}

func TestStopStreamIsNoOpWhenNotStreaming(t *testing.T) {
	fake := fakedev.New()
	dev := openFake(t, fake)
	sc := capture.NewStreamController(dev, nil)

	if err := sc.StopStream(); err != nil {
		t.Fatalf("StopStream() in idle: %v", err)
	}
	if fake.Count(fakedev.OpStreamOff) != 0 {
		t.Error("stream off issued while idle")
	}
	_, err := sc.CaptureFrame()
	wantCode(t, err, capture.ErrCodeInvalidState)
}

func TestZeroLengthBufferFailsFast(t *testing.T) {
	fake := fakedev.New()
	dev := openFake(t, fake)
	sc := capture.NewStreamController(dev, nil)

	wantCode(t, sc.Attach(&capture.MappedBuffer{}), capture.ErrCodeInvalidBuffer)
	wantCode(t, sc.StartStream(nil), capture.ErrCodeInvalidBuffer)
	if fake.Count(fakedev.OpStreamOn) != 0 {
		t.Error("stream on issued for zero length buffer")
	}
}

func TestStateChangeObserver(t *testing.T) {
	r := prepare(t, fakedev.New())
	var seen []string
	r.stream.OnStateChange(func(from, to capture.StreamState) {
		seen = append(seen, from.String()+">"+to.String())
	})

	if _, err := r.stream.CaptureFrame(); err != nil {
		t.Fatal(err)
	}
	if err := r.stream.StopStream(); err != nil {
		t.Fatal(err)
	}
	r.stream.Detach()

	want := []string{"prepared>streaming", "streaming>prepared", "prepared>idle"}
	if !slices.Equal(seen, want) {
		t.Errorf("transitions = %v, want %v", seen, want)
	}
}
