package capture_test

import (
	"testing"

	"github.com/smazurov/stillcam/internal/capture"
	"github.com/smazurov/stillcam/internal/capture/fakedev"
	"github.com/smazurov/stillcam/pkg/linuxav/v4l2"
)

func opener(fake *fakedev.Device) capture.Opener {
	return func(string) (capture.Backend, error) {
		return fake, nil
	}
}

func openFake(t *testing.T, fake *fakedev.Device) *capture.Device {
	t.Helper()
	dev, err := capture.OpenDevice("/dev/video0", opener(fake), nil)
	if err != nil {
		t.Fatalf("OpenDevice() error = %v", err)
	}
	if _, err := dev.QueryCapabilities(); err != nil {
		t.Fatalf("QueryCapabilities() error = %v", err)
	}
	return dev
}

type rig struct {
	fake    *fakedev.Device
	dev     *capture.Device
	buffers *capture.BufferManager
	stream  *capture.StreamController
	buf     *capture.MappedBuffer
}

// prepare brings a fake device to the Prepared state at 640x480 YUYV.
func prepare(t *testing.T, fake *fakedev.Device) *rig {
	t.Helper()
	dev := openFake(t, fake)
	if _, err := capture.NewFormatNegotiator(nil).Negotiate(dev, 640, 480, v4l2.PixFmtYUYV); err != nil {
		t.Fatalf("Negotiate() error = %v", err)
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
	buf, err := bm.Map(dev, rb)
	if err != nil {
		t.Fatalf("Map() error = %v", err)
	}
	sc := capture.NewStreamController(dev, nil)
	if err := sc.Attach(buf); err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	return &rig{fake: fake, dev: dev, buffers: bm, stream: sc, buf: buf}
}

func wantCode(t *testing.T, err error, code string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", code)
	}
	if !capture.HasCode(err, code) {
		t.Fatalf("expected %s error, got %v", code, err)
	}
}
