package led

import (
	"sync"

	"github.com/smazurov/stillcam/internal/events"
	"github.com/smazurov/stillcam/internal/logging"
)

// Subscriber is the part of events.Bus the indicator needs.
type Subscriber interface {
	Subscribe(handler any) func()
}

// Indicator mirrors the capture stream state on an LED: solid while
// streaming, blinking after a capture error until the stream recovers,
// and off otherwise.
type Indicator struct {
	controller Controller
	bus        Subscriber
	logger     logging.Logger

	mu     sync.Mutex
	unsubs []func()
	failed bool
}

// NewIndicator creates an indicator. Call Start to begin following events.
func NewIndicator(controller Controller, bus Subscriber, logger logging.Logger) *Indicator {
	return &Indicator{controller: controller, bus: bus, logger: logger}
}

// Start subscribes to stream state and error events.
func (i *Indicator) Start() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.unsubs = append(i.unsubs,
		i.bus.Subscribe(func(e events.StreamStateChangedEvent) { i.handleState(e) }),
		i.bus.Subscribe(func(e events.CaptureErrorEvent) { i.handleError(e) }),
	)
	i.set(false, "solid")
	i.logger.Info("LED indicator started", "led", i.controller.Name())
}

// Stop unsubscribes and switches the LED off.
func (i *Indicator) Stop() {
	i.mu.Lock()
	defer i.mu.Unlock()
	for _, unsub := range i.unsubs {
		unsub()
	}
	i.unsubs = nil
	i.set(false, "solid")
}

func (i *Indicator) handleState(e events.StreamStateChangedEvent) {
	i.mu.Lock()
	defer i.mu.Unlock()
	switch {
	case e.To == "streaming":
		i.failed = false
		i.set(true, "solid")
	case i.failed:
		i.set(true, "blink")
	default:
		i.set(false, "solid")
	}
}

func (i *Indicator) handleError(e events.CaptureErrorEvent) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.failed = true
	i.logger.Debug("Capture error, LED blinking", "code", e.Code)
	i.set(true, "blink")
}

func (i *Indicator) set(enabled bool, pattern string) {
	if err := i.controller.Set(enabled, pattern); err != nil {
		i.logger.Warn("Failed to set LED", "led", i.controller.Name(), "pattern", pattern, "error", err)
	}
}
