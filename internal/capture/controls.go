package capture

import (
	"errors"
	"fmt"

	"github.com/smazurov/stillcam/internal/logging"
	"github.com/smazurov/stillcam/pkg/linuxav/v4l2"
)

// ControlSet is an ordered mapping from control id to value. Iteration
// follows insertion order; setting an existing id keeps its position.
type ControlSet struct {
	ids    []uint32
	values map[uint32]int32
}

// NewControlSet creates an empty set.
func NewControlSet() *ControlSet {
	return &ControlSet{values: make(map[uint32]int32)}
}

// Set stores value for id.
func (c *ControlSet) Set(id uint32, value int32) {
	if c.values == nil {
		c.values = make(map[uint32]int32)
	}
	if _, ok := c.values[id]; !ok {
		c.ids = append(c.ids, id)
	}
	c.values[id] = value
}

// Get returns the value for id.
func (c *ControlSet) Get(id uint32) (int32, bool) {
	v, ok := c.values[id]
	return v, ok
}

// IDs returns the control ids in order.
func (c *ControlSet) IDs() []uint32 {
	return append([]uint32(nil), c.ids...)
}

// Len returns the number of controls.
func (c *ControlSet) Len() int {
	return len(c.ids)
}

// Each calls fn for every control in order.
func (c *ControlSet) Each(fn func(id uint32, value int32)) {
	for _, id := range c.ids {
		fn(id, c.values[id])
	}
}

// ControlOutcome is the result of writing one control.
type ControlOutcome string

// Control outcomes.
const (
	OutcomeApplied     ControlOutcome = "applied"
	OutcomeUnsupported ControlOutcome = "unsupported"
	OutcomeWriteFailed ControlOutcome = "write_failed"
)

// RestartOutcome is the result of resuming the stream after a batch.
type RestartOutcome string

// Restart outcomes.
const (
	RestartNotRequired RestartOutcome = "not_required"
	RestartSucceeded   RestartOutcome = "restarted"
	RestartFailed      RestartOutcome = "failed"
)

// ControlResult is the outcome of one control in a batch.
type ControlResult struct {
	ID      uint32
	Value   int32
	Outcome ControlOutcome
	Err     error
}

// ControlApplyReport records every control outcome of a batch in set
// order, plus whether the stream was restarted.
type ControlApplyReport struct {
	Results    []ControlResult
	Restart    RestartOutcome
	RestartErr error
}

// Outcome returns the outcome recorded for id.
func (r ControlApplyReport) Outcome(id uint32) (ControlOutcome, bool) {
	for _, res := range r.Results {
		if res.ID == id {
			return res.Outcome, true
		}
	}
	return "", false
}

// Count returns how many controls ended with outcome.
func (r ControlApplyReport) Count(outcome ControlOutcome) int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == outcome {
			n++
		}
	}
	return n
}

// ControlSynchronizer applies control batches with the stream paused.
type ControlSynchronizer struct {
	logger logging.Logger
}

// NewControlSynchronizer creates a synchronizer.
func NewControlSynchronizer(logger logging.Logger) *ControlSynchronizer {
	return &ControlSynchronizer{logger: logger}
}

// ApplyControls stops an active stream, writes every control in set
// independently, and restarts the stream if it was active.
//
// If the stream cannot be stopped no control is written and the stop
// error is returned. Individual control failures never abort the batch.
// A failed restart is reported in the report and returned as a
// RESTART_FAILED error, so the caller always learns that capture is no
// longer armed.
func (c *ControlSynchronizer) ApplyControls(dev *Device, stream *StreamController, set *ControlSet) (ControlApplyReport, error) {
	report := ControlApplyReport{Restart: RestartNotRequired}

	wasStreaming := stream != nil && stream.State() == StateStreaming
	if wasStreaming {
		if err := stream.StopStream(); err != nil {
			c.log(dev).Error("Aborting control batch, stream did not stop",
				"stage", StageControl, "error", err)
			return report, fmt.Errorf("pause stream for controls: %w", err)
		}
	}

	set.Each(func(id uint32, value int32) {
		report.Results = append(report.Results, c.applyOne(dev, id, value))
	})

	c.log(dev).Info("Controls applied",
		"applied", report.Count(OutcomeApplied),
		"unsupported", report.Count(OutcomeUnsupported),
		"failed", report.Count(OutcomeWriteFailed))

	if !wasStreaming {
		return report, nil
	}
	if err := stream.StartStream(stream.buf); err != nil {
		report.Restart = RestartFailed
		report.RestartErr = err
		c.log(dev).Error("Stream restart after controls failed", "stage", StageControl, "error", err)
		return report, newError(ErrCodeRestartFailed, StageControl, "restart stream after controls", err)
	}
	report.Restart = RestartSucceeded
	return report, nil
}

func (c *ControlSynchronizer) applyOne(dev *Device, id uint32, value int32) ControlResult {
	res := ControlResult{ID: id, Value: value}
	if !dev.IsControlSupported(id) {
		res.Outcome = OutcomeUnsupported
		c.log(dev).Warn("Control not supported",
			"control", v4l2.ControlName(id), "control_id", fmt.Sprintf("0x%08x", id))
		return res
	}
	if err := dev.SetControl(id, value); err != nil {
		res.Outcome = OutcomeWriteFailed
		res.Err = err
		c.log(dev).Warn("Control write failed", "stage", StageControl,
			"control", v4l2.ControlName(id), "control_id", fmt.Sprintf("0x%08x", id),
			"value", value, "error", err)
		return res
	}
	res.Outcome = OutcomeApplied
	c.log(dev).Debug("Control set", "control", v4l2.ControlName(id), "value", value)
	return res
}

// ReadControls reads the current value of every id. Failed reads are
// skipped and returned joined.
func ReadControls(dev *Device, ids []uint32) (*ControlSet, error) {
	set := NewControlSet()
	var errs []error
	for _, id := range ids {
		v, err := dev.GetControl(id)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		set.Set(id, v)
	}
	return set, errors.Join(errs...)
}

// DeviceDefaults returns the driver's default value for each supported id.
// Unsupported controls are left out.
func DeviceDefaults(dev *Device, ids []uint32) *ControlSet {
	set := NewControlSet()
	for _, id := range ids {
		q, err := dev.QueryControl(id)
		if err != nil || q.Disabled() {
			continue
		}
		set.Set(id, q.Default)
	}
	return set
}

func (c *ControlSynchronizer) log(dev *Device) logging.Logger {
	if c.logger != nil {
		return c.logger
	}
	return dev.logger
}
