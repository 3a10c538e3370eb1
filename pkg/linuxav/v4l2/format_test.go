//go:build linux

package v4l2

import (
	"errors"
	"testing"
	"unsafe"

	"golang.org/x/sys/unix"
)

func TestStepwiseResolutions(t *testing.T) {
	frmsize := v4l2Frmsizeenum{typ: frmsizeTypeStepwise}
	stepwise := (*v4l2FrmsizeStepwise)(unsafe.Pointer(&frmsize.discrete))
	stepwise.minWidth, stepwise.maxWidth, stepwise.stepWidth = 320, 1280, 16
	stepwise.minHeight, stepwise.maxHeight, stepwise.stepHeight = 240, 960, 16

	got := getStepwiseResolutions(&frmsize)
	want := []Resolution{
		{320, 240}, {640, 480}, {800, 600}, {1024, 768}, {1280, 720}, {1280, 960},
	}
	if len(got) != len(want) {
		t.Fatalf("getStepwiseResolutions() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("resolution %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestClosedDevice(t *testing.T) {
	d := &Device{path: "/dev/video-test", fd: -1}

	if _, err := d.QueryCapability(); !errors.Is(err, ErrClosed) {
		t.Errorf("QueryCapability() error = %v, want ErrClosed", err)
	}
	if _, err := d.Map(0, 4096); !errors.Is(err, ErrClosed) {
		t.Errorf("Map() error = %v, want ErrClosed", err)
	}
	if err := d.Close(); err != nil {
		t.Errorf("Close() on closed device = %v, want nil", err)
	}
}

func TestOpenMissingNode(t *testing.T) {
	_, err := Open("/dev/does-not-exist-video99")
	if !errors.Is(err, unix.ENOENT) {
		t.Errorf("Open() error = %v, want ENOENT", err)
	}
}
