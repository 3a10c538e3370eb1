package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"
)

type testControls struct {
	Version  int              `toml:"version"`
	Controls map[string]int32 `toml:"controls"`
}

func loadTestControls(path string) (testControls, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return testControls{}, err
	}
	var cfg testControls
	err = toml.Unmarshal(data, &cfg)
	return cfg, err
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func writeControls(t *testing.T, path string, brightness int) {
	t.Helper()
	data := []byte("version = 1\n\n[controls]\nbrightness = " + strconv.Itoa(brightness) + "\n")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
}

func startWatcher(t *testing.T, path string, opts ...WatcherOption[testControls]) *Watcher[testControls] {
	t.Helper()
	opts = append([]WatcherOption[testControls]{WithDebounce[testControls](50 * time.Millisecond)}, opts...)
	w := NewWatcher(path, loadTestControls, newTestLogger(), opts...)
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := w.Stop(); err != nil {
			t.Errorf("Stop failed: %v", err)
		}
	})
	// Let the watcher register before the first write.
	time.Sleep(50 * time.Millisecond)
	return w
}

func TestWatcher_Reload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "controls.toml")
	writeControls(t, path, 0)

	received := make(chan testControls, 1)
	w := startWatcher(t, path)
	w.OnReload(func(c testControls) { received <- c })

	writeControls(t, path, 20)

	select {
	case c := <-received:
		if c.Controls["brightness"] != 20 {
			t.Errorf("brightness = %d, want 20", c.Controls["brightness"])
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for reload")
	}
}

func TestWatcher_AtomicReplace(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "controls.toml")
	writeControls(t, path, 0)

	received := make(chan testControls, 4)
	w := startWatcher(t, path)
	w.OnReload(func(c testControls) { received <- c })

	tmp := filepath.Join(dir, ".controls.toml.swp")
	writeControls(t, tmp, -15)
	if err := os.Rename(tmp, path); err != nil {
		t.Fatal(err)
	}

	select {
	case c := <-received:
		if c.Controls["brightness"] != -15 {
			t.Errorf("brightness = %d, want -15", c.Controls["brightness"])
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for reload after rename")
	}
}

func TestWatcher_IgnoresSiblings(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "controls.toml")
	writeControls(t, path, 0)

	var loads atomic.Int32
	w := NewWatcher(path, func(p string) (testControls, error) {
		loads.Add(1)
		return loadTestControls(p)
	}, newTestLogger(), WithDebounce[testControls](20*time.Millisecond))
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()
	time.Sleep(50 * time.Millisecond)

	writeControls(t, filepath.Join(dir, "other.toml"), 5)
	time.Sleep(200 * time.Millisecond)

	if n := loads.Load(); n != 0 {
		t.Errorf("loader ran %d times for an unrelated file", n)
	}
}

func TestWatcher_Debounce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "controls.toml")
	writeControls(t, path, 0)

	var loads atomic.Int32
	received := make(chan testControls, 10)
	w := NewWatcher(path, func(p string) (testControls, error) {
		loads.Add(1)
		return loadTestControls(p)
	}, newTestLogger(), WithDebounce[testControls](200*time.Millisecond))
	w.OnReload(func(c testControls) { received <- c })
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()
	time.Sleep(50 * time.Millisecond)

	for i := 1; i <= 5; i++ {
		writeControls(t, path, i)
		time.Sleep(20 * time.Millisecond)
	}

	select {
	case c := <-received:
		if c.Controls["brightness"] != 5 {
			t.Errorf("brightness = %d, want last write 5", c.Controls["brightness"])
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for debounced reload")
	}
	time.Sleep(300 * time.Millisecond)
	if n := loads.Load(); n != 1 {
		t.Errorf("loader ran %d times, want 1", n)
	}
}

func TestWatcher_ErrorHandler(t *testing.T) {
	path := filepath.Join(t.TempDir(), "controls.toml")
	writeControls(t, path, 0)

	errCh := make(chan error, 1)
	called := make(chan struct{}, 1)
	w := startWatcher(t, path, WithErrorHandler[testControls](func(err error) { errCh <- err }))
	w.OnReload(func(testControls) { called <- struct{}{} })

	if err := os.WriteFile(path, []byte("[controls\nbrightness = "), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-errCh:
		var decodeErr *toml.DecodeError
		if !errors.As(err, &decodeErr) {
			t.Errorf("error = %T %v, want *toml.DecodeError", err, err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for error handler")
	}

	select {
	case <-called:
		t.Error("handler called for an unparsable file")
	default:
	}
}

func TestWatcher_Unsubscribe(t *testing.T) {
	path := filepath.Join(t.TempDir(), "controls.toml")
	writeControls(t, path, 0)

	var first, second atomic.Int32
	done := make(chan struct{}, 1)
	w := startWatcher(t, path)
	unsub := w.OnReload(func(testControls) { first.Add(1) })
	w.OnReload(func(testControls) {
		second.Add(1)
		done <- struct{}{}
	})
	unsub()

	writeControls(t, path, 1)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for reload")
	}
	if first.Load() != 0 {
		t.Error("unsubscribed handler was called")
	}
	if second.Load() != 1 {
		t.Errorf("second handler called %d times, want 1", second.Load())
	}
}

func TestWatcher_StopWithoutStart(t *testing.T) {
	w := NewWatcher("controls.toml", loadTestControls, newTestLogger())
	if err := w.Stop(); err != nil {
		t.Errorf("Stop before Start = %v", err)
	}
}

func TestWatcher_StartMissingDirectory(t *testing.T) {
	w := NewWatcher(filepath.Join(t.TempDir(), "missing", "controls.toml"), loadTestControls, newTestLogger())
	if err := w.Start(); err == nil {
		w.Stop()
		t.Fatal("expected error watching a missing directory")
	}
}
