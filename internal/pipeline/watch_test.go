package pipeline

import (
	"context"
	"os"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/smazurov/stillcam/internal/capture"
	"github.com/smazurov/stillcam/internal/capture/fakedev"
	"github.com/smazurov/stillcam/internal/events"
	"github.com/smazurov/stillcam/pkg/linuxav/v4l2"
)

type recordingNotifier struct {
	mu    sync.Mutex
	calls []string
}

func (n *recordingNotifier) record(s string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, s)
}

func (n *recordingNotifier) Ready(status string)  { n.record("ready:" + status) }
func (n *recordingNotifier) Status(status string) { n.record("status:" + status) }
func (n *recordingNotifier) Stopping()            { n.record("stopping") }

func (n *recordingNotifier) Calls() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.calls...)
}

func TestWatchReappliesControls(t *testing.T) {
	fake := fakedev.New()
	bus := events.New()
	cfg := testConfig(t, fake)
	cfg.Bus = bus
	cfg.WatchDebounce = 20 * time.Millisecond
	notifier := &recordingNotifier{}
	cfg.Notifier = notifier

	frames := make(chan any, 16)
	unsub := events.SubscribeToChannel[events.FrameCapturedEvent](bus, frames)
	defer unsub()
	streaming := make(chan events.StreamStateChangedEvent, 16)
	unsubState := bus.Subscribe(func(e events.StreamStateChangedEvent) {
		select {
		case streaming <- e:
		default:
		}
	})
	defer unsubState()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- NewRunner().Watch(ctx, cfg)
	}()

	// Wait until the session is armed.
	deadline := time.After(3 * time.Second)
	for armed := false; !armed; {
		select {
		case e := <-streaming:
			armed = e.To == "streaming"
		case <-deadline:
			cancel()
			t.Fatal("session never started streaming")
		}
	}

	update := []byte("version = 1\n\n[controls]\nbrightness = -10\n")
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	captured := false
	for !captured {
		select {
		case <-tick.C:
			if err := os.WriteFile(cfg.ControlsFile, update, 0o644); err != nil {
				t.Fatal(err)
			}
		case <-frames:
			captured = true
		case <-deadline:
			cancel()
			t.Fatal("no still captured after control file change")
		}
	}

	if v, _ := fake.Value(v4l2.CIDBrightness); v != -10 {
		t.Errorf("brightness = %d, want -10", v)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Watch() error = %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
	if !fake.Closed() {
		t.Error("device left open")
	}

	calls := notifier.Calls()
	if len(calls) < 2 || !strings.HasPrefix(calls[0], "ready:watching ") || calls[len(calls)-1] != "stopping" {
		t.Errorf("notifier calls = %v, want ready first and stopping last", calls)
	}

	entries, err := os.ReadDir(cfg.OutputDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) == 0 {
		t.Error("no still written")
	}
}

func TestWatchReportsCaptureErrors(t *testing.T) {
	fake := fakedev.New()
	bus := events.New()
	cfg := testConfig(t, fake)
	cfg.Bus = bus
	cfg.WatchDebounce = 20 * time.Millisecond
	notifier := &recordingNotifier{}
	cfg.Notifier = notifier

	armed := make(chan struct{}, 1)
	unsubState := bus.Subscribe(func(e events.StreamStateChangedEvent) {
		if e.To == "streaming" {
			select {
			case armed <- struct{}{}:
			default:
			}
		}
	})
	defer unsubState()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- NewRunner().Watch(ctx, cfg)
	}()

	deadline := time.After(3 * time.Second)
	select {
	case <-armed:
	case <-deadline:
		t.Fatal("session never started streaming")
	}
	fake.FailOnce(fakedev.OpDQBuf, syscall.EIO)

	update := []byte("version = 1\n\n[controls]\nbrightness = 5\n")
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	want := "last error " + capture.ErrCodeDequeueFailed
	for reported := false; !reported; {
		select {
		case <-tick.C:
			for _, c := range notifier.Calls() {
				if strings.HasPrefix(c, "status:") && strings.HasSuffix(c, want) {
					reported = true
				}
			}
			if err := os.WriteFile(cfg.ControlsFile, update, 0o644); err != nil {
				t.Fatal(err)
			}
		case err := <-done:
			t.Fatalf("Watch() returned early: %v", err)
		case <-deadline:
			t.Fatalf("no status reporting %s, calls = %v", want, notifier.Calls())
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Watch() error = %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}

func TestWatchPrepareFailure(t *testing.T) {
	fake := fakedev.New()
	fake.Fail(fakedev.OpReqBufs, os.ErrPermission)
	cfg := testConfig(t, fake)

	if err := NewRunner().Watch(context.Background(), cfg); err == nil {
		t.Fatal("expected prepare error")
	}
	if !fake.Closed() {
		t.Error("device left open")
	}
}
