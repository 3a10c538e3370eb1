package metrics

import (
	"sync/atomic"
	"time"

	"github.com/smazurov/stillcam/internal/events"
)

// Subscriber is the part of the event bus the recorder needs.
type Subscriber interface {
	Subscribe(handler any) func()
}

// Recorder turns capture events into metric updates.
type Recorder struct {
	unsubs  []func()
	handled atomic.Int64
}

// NewRecorder subscribes a recorder to bus. Call Stop to unsubscribe.
func NewRecorder(bus Subscriber) *Recorder {
	r := &Recorder{}
	r.unsubs = []func(){
		bus.Subscribe(func(e events.FrameCapturedEvent) {
			AddFrame(e.DevicePath, e.BytesUsed, e.Corrupt)
			r.handled.Add(1)
		}),
		bus.Subscribe(func(e events.CaptureErrorEvent) {
			AddError(e.DevicePath, e.Stage, e.Code)
			r.handled.Add(1)
		}),
		bus.Subscribe(func(e events.StreamStateChangedEvent) {
			SetStreamState(e.DevicePath, e.To)
			r.handled.Add(1)
		}),
		bus.Subscribe(func(e events.ControlsAppliedEvent) {
			AddControlWrites(e.DevicePath, "applied", e.Applied)
			AddControlWrites(e.DevicePath, "unsupported", e.Unsupported)
			AddControlWrites(e.DevicePath, "write_failed", e.Failed)
			r.handled.Add(1)
		}),
	}
	return r
}

// Handled returns the number of events processed so far.
func (r *Recorder) Handled() int64 {
	return r.handled.Load()
}

// WaitFor blocks until at least n events were handled or timeout
// elapses. Handlers run asynchronously from Publish, so callers that
// read metrics right after a run wait here first.
func (r *Recorder) WaitFor(n int64, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for r.handled.Load() < n {
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(2 * time.Millisecond)
	}
	return true
}

// Stop unsubscribes from the bus.
func (r *Recorder) Stop() {
	for _, unsub := range r.unsubs {
		unsub()
	}
	r.unsubs = nil
}
