package report

import (
	"bytes"
	"strings"
	"syscall"
	"testing"

	"github.com/smazurov/stillcam/internal/capture"
	"github.com/smazurov/stillcam/internal/capture/fakedev"
	"github.com/smazurov/stillcam/internal/logging"
	"github.com/smazurov/stillcam/pkg/linuxav/v4l2"
)

func TestWriteCapabilities(t *testing.T) {
	var buf bytes.Buffer
	WriteCapabilities(&buf, "/dev/video0", v4l2.Capability{
		Driver:       "uvcvideo",
		Card:         "Integrated Camera",
		BusInfo:      "usb-0000:00:14.0-8",
		Version:      6<<16 | 1<<8 | 2,
		Capabilities: v4l2.CapVideoCapture | v4l2.CapMetaCapture | v4l2.CapStreaming | v4l2.CapDeviceCaps,
		DeviceCaps:   v4l2.CapVideoCapture | v4l2.CapStreaming,
	})

	out := buf.String()
	for _, want := range []string{
		"Driver:       uvcvideo",
		"Version:      6.1.2",
		"Capabilities: 0x84800001",
		"Metadata Capture",
		"Device caps:  0x04000001",
		"Streaming I/O IOCTLs",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output lacks %q:\n%s", want, out)
		}
	}
}

func TestControlRows(t *testing.T) {
	fake := fakedev.New()
	fake.Controls[v4l2.CIDGamma].Disabled = true
	dev := capture.NewDevice("/dev/video0", fake, nil)

	ids := []uint32{v4l2.CIDContrast, v4l2.CIDGamma, v4l2.CIDDoWhiteBalance}
	rows := ControlRows(dev, ids, v4l2.ControlName)
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want 3", len(rows))
	}
	if !rows[0].Supported || !rows[0].HasValue || rows[0].Value != 32 {
		t.Errorf("contrast row = %+v", rows[0])
	}
	if rows[1].Supported || rows[2].Supported {
		t.Errorf("disabled or missing control reported supported: %+v %+v", rows[1], rows[2])
	}

	var buf bytes.Buffer
	WriteControls(&buf, rows)
	out := buf.String()
	if !strings.Contains(out, "value=32 min=0 max=95") || !strings.Contains(out, "Gamma") {
		t.Errorf("unexpected table:\n%s", out)
	}
	if fake.Count(fakedev.OpClose) != 0 {
		t.Error("report closed the shared device")
	}
}

func TestWriteApplyReport(t *testing.T) {
	var buf bytes.Buffer
	WriteApplyReport(&buf, capture.ControlApplyReport{
		Results: []capture.ControlResult{
			{ID: v4l2.CIDGain, Value: 5, Outcome: capture.OutcomeApplied},
			{ID: v4l2.CIDSharpness, Value: 99, Outcome: capture.OutcomeWriteFailed, Err: syscall.ERANGE},
		},
		Restart: capture.RestartSucceeded,
	}, v4l2.ControlName)

	out := buf.String()
	for _, want := range []string{"Gain", "applied", "write_failed: numerical result out of range", "stream restart: restarted"} {
		if !strings.Contains(out, want) {
			t.Errorf("output lacks %q:\n%s", want, out)
		}
	}
}

func TestWriteFormatsAndDevices(t *testing.T) {
	var buf bytes.Buffer
	WriteFormats(&buf, []FormatEntry{{
		Format:      v4l2.FormatInfo{PixelFormat: v4l2.PixFmtMJPEG, FormatName: "Motion-JPEG"},
		Resolutions: []v4l2.Resolution{{Width: 1920, Height: 1080}, {Width: 1280, Height: 720}},
	}})
	if !strings.Contains(buf.String(), "MJPG  Motion-JPEG") || !strings.Contains(buf.String(), "1920x1080 1280x720") {
		t.Errorf("unexpected formats:\n%s", buf.String())
	}

	buf.Reset()
	WriteDevices(&buf, nil)
	if !strings.Contains(buf.String(), "No V4L2 capture devices found.") {
		t.Errorf("unexpected empty device list: %q", buf.String())
	}
}

type stubLister struct {
	formats []v4l2.FormatInfo
	sizes   map[uint32][]v4l2.Resolution
	rates   map[v4l2.Resolution][]v4l2.Framerate
}

func (s stubLister) Formats() ([]v4l2.FormatInfo, error) { return s.formats, nil }

func (s stubLister) Resolutions(pixelFormat uint32) ([]v4l2.Resolution, error) {
	return s.sizes[pixelFormat], nil
}

func (s stubLister) Framerates(_ uint32, width, height uint32) ([]v4l2.Framerate, error) {
	rates, ok := s.rates[v4l2.Resolution{Width: width, Height: height}]
	if !ok {
		return nil, syscall.EINVAL
	}
	return rates, nil
}

func TestListFormatsWithFramerates(t *testing.T) {
	hd := v4l2.Resolution{Width: 1280, Height: 720}
	square := v4l2.Resolution{Width: 1024, Height: 1024}
	lister := stubLister{
		formats: []v4l2.FormatInfo{{PixelFormat: v4l2.PixFmtMJPEG, FormatName: "Motion-JPEG"}},
		sizes:   map[uint32][]v4l2.Resolution{v4l2.PixFmtMJPEG: {hd, square}},
		rates:   map[v4l2.Resolution][]v4l2.Framerate{hd: {{Numerator: 1, Denominator: 30}, {Numerator: 2, Denominator: 15}}},
	}

	entries, err := ListFormats(lister, logging.GetLogger("devices"))
	if err != nil {
		t.Fatalf("ListFormats() error = %v", err)
	}
	if len(entries) != 1 || len(entries[0].Resolutions) != 2 {
		t.Fatalf("entries = %+v", entries)
	}
	if _, ok := entries[0].Framerates[square]; ok {
		t.Error("size without frame intervals should have no rates")
	}

	var buf bytes.Buffer
	WriteFormats(&buf, entries)
	if !strings.Contains(buf.String(), "1280x720@30,7.5 1024x1024") {
		t.Errorf("unexpected formats:\n%s", buf.String())
	}
}
