package events

// Event type constants for kelindar/event.
const (
	TypeFrameCaptured uint32 = iota + 1
	TypeCaptureError
	TypeStreamStateChanged
	TypeControlsApplied
	TypeControlsReloaded
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// FrameCapturedEvent is published for every frame a session dequeues.
type FrameCapturedEvent struct {
	SessionID  string `json:"session_id"`
	DevicePath string `json:"device_path" example:"/dev/video0"`
	Frame      int    `json:"frame" doc:"Frame number within the session, starting at 1"`
	Sequence   uint32 `json:"sequence" doc:"Driver sequence counter"`
	BytesUsed  uint32 `json:"bytes_used"`
	Corrupt    bool   `json:"corrupt,omitempty"`
	Timestamp  string `json:"timestamp" example:"2026-01-27T10:30:00Z"`
}

// Type returns the event type identifier for FrameCapturedEvent.
func (e FrameCapturedEvent) Type() uint32 { return TypeFrameCaptured }

// CaptureErrorEvent is published when a pipeline step fails.
type CaptureErrorEvent struct {
	SessionID  string `json:"session_id"`
	DevicePath string `json:"device_path" example:"/dev/video0"`
	Stage      string `json:"stage" example:"capture"`
	Code       string `json:"code" example:"DEQUEUE_FAILED"`
	Error      string `json:"error"`
	Timestamp  string `json:"timestamp" example:"2026-01-27T10:30:00Z"`
}

// Type returns the event type identifier for CaptureErrorEvent.
func (e CaptureErrorEvent) Type() uint32 { return TypeCaptureError }

// StreamStateChangedEvent is published on every stream state transition.
type StreamStateChangedEvent struct {
	SessionID  string `json:"session_id"`
	DevicePath string `json:"device_path" example:"/dev/video0"`
	From       string `json:"from" example:"prepared"`
	To         string `json:"to" example:"streaming"`
	Timestamp  string `json:"timestamp" example:"2026-01-27T10:30:00Z"`
}

// Type returns the event type identifier for StreamStateChangedEvent.
func (e StreamStateChangedEvent) Type() uint32 { return TypeStreamStateChanged }

// ControlsAppliedEvent summarizes one control batch.
type ControlsAppliedEvent struct {
	SessionID   string `json:"session_id"`
	DevicePath  string `json:"device_path" example:"/dev/video0"`
	Applied     int    `json:"applied"`
	Unsupported int    `json:"unsupported"`
	Failed      int    `json:"failed"`
	Restart     string `json:"restart" example:"restarted"`
	Timestamp   string `json:"timestamp" example:"2026-01-27T10:30:00Z"`
}

// Type returns the event type identifier for ControlsAppliedEvent.
func (e ControlsAppliedEvent) Type() uint32 { return TypeControlsApplied }

// ControlsReloadedEvent is published when a watched control file changes.
type ControlsReloadedEvent struct {
	Path      string `json:"path"`
	Controls  int    `json:"controls"`
	Timestamp string `json:"timestamp" example:"2026-01-27T10:30:00Z"`
}

// Type returns the event type identifier for ControlsReloadedEvent.
func (e ControlsReloadedEvent) Type() uint32 { return TypeControlsReloaded }
