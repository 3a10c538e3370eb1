// Package metrics provides Prometheus metrics for capture sessions.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	framesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stillcam",
		Subsystem: "capture",
		Name:      "frames_total",
		Help:      "Frames dequeued from the device",
	}, []string{"device"})

	frameBytesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stillcam",
		Subsystem: "capture",
		Name:      "frame_bytes_total",
		Help:      "Payload bytes of dequeued frames",
	}, []string{"device"})

	corruptFramesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stillcam",
		Subsystem: "capture",
		Name:      "corrupt_frames_total",
		Help:      "Frames the driver flagged as corrupt",
	}, []string{"device"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stillcam",
		Subsystem: "capture",
		Name:      "errors_total",
		Help:      "Failed pipeline steps by stage and error code",
	}, []string{"device", "stage", "code"})

	controlWritesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stillcam",
		Subsystem: "controls",
		Name:      "writes_total",
		Help:      "Control writes by outcome",
	}, []string{"device", "outcome"})

	streamState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "stillcam",
		Subsystem: "capture",
		Name:      "stream_state",
		Help:      "Stream state: 0 idle, 1 prepared, 2 streaming",
	}, []string{"device"})

	// Per-device totals for the end-of-run summary.
	deviceCache   = make(map[string]*DeviceMetrics)
	deviceCacheMu sync.RWMutex
)

// DeviceMetrics holds the current values for one device.
type DeviceMetrics struct {
	Frames        float64
	Bytes         float64
	CorruptFrames float64
	Errors        float64
	State         string
}

// StateValue maps a stream state name to its gauge value. Unknown names
// map to -1.
func StateValue(state string) float64 {
	switch state {
	case "idle":
		return 0
	case "prepared":
		return 1
	case "streaming":
		return 2
	default:
		return -1
	}
}

// AddFrame records one dequeued frame.
func AddFrame(device string, bytesUsed uint32, corrupt bool) {
	framesTotal.WithLabelValues(device).Inc()
	frameBytesTotal.WithLabelValues(device).Add(float64(bytesUsed))
	if corrupt {
		corruptFramesTotal.WithLabelValues(device).Inc()
	}
	updateCache(device, func(m *DeviceMetrics) {
		m.Frames++
		m.Bytes += float64(bytesUsed)
		if corrupt {
			m.CorruptFrames++
		}
	})
}

// AddError records a failed pipeline step.
func AddError(device, stage, code string) {
	errorsTotal.WithLabelValues(device, stage, code).Inc()
	updateCache(device, func(m *DeviceMetrics) { m.Errors++ })
}

// AddControlWrites records n control writes with the given outcome.
func AddControlWrites(device, outcome string, n int) {
	if n <= 0 {
		return
	}
	controlWritesTotal.WithLabelValues(device, outcome).Add(float64(n))
}

// SetStreamState sets the stream state gauge for a device.
func SetStreamState(device, state string) {
	streamState.WithLabelValues(device).Set(StateValue(state))
	updateCache(device, func(m *DeviceMetrics) { m.State = state })
}

// DeleteDeviceMetrics removes all metrics for a device.
func DeleteDeviceMetrics(device string) {
	framesTotal.DeleteLabelValues(device)
	frameBytesTotal.DeleteLabelValues(device)
	corruptFramesTotal.DeleteLabelValues(device)
	errorsTotal.DeletePartialMatch(prometheus.Labels{"device": device})
	controlWritesTotal.DeletePartialMatch(prometheus.Labels{"device": device})
	streamState.DeleteLabelValues(device)

	deviceCacheMu.Lock()
	delete(deviceCache, device)
	deviceCacheMu.Unlock()
}

// GetDeviceMetrics returns current metric values for a device.
func GetDeviceMetrics(device string) *DeviceMetrics {
	deviceCacheMu.RLock()
	defer deviceCacheMu.RUnlock()
	if m, ok := deviceCache[device]; ok {
		dup := *m
		return &dup
	}
	return nil
}

func updateCache(device string, update func(*DeviceMetrics)) {
	deviceCacheMu.Lock()
	defer deviceCacheMu.Unlock()
	m, ok := deviceCache[device]
	if !ok {
		m = &DeviceMetrics{}
		deviceCache[device] = m
	}
	update(m)
}
