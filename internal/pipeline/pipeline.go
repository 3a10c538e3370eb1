// Package pipeline drives a capture session from the command line:
// prepare, apply the stored controls, capture a burst, export each frame
// and tear down.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/smazurov/stillcam/internal/capture"
	"github.com/smazurov/stillcam/internal/controls"
	"github.com/smazurov/stillcam/internal/events"
	"github.com/smazurov/stillcam/internal/export"
	"github.com/smazurov/stillcam/internal/logging"
	"github.com/smazurov/stillcam/internal/metrics"
)

// metricsFlushTimeout bounds the wait for bus subscribers before the
// metrics file is written.
const metricsFlushTimeout = 2 * time.Second

// Config describes one run.
type Config struct {
	DevicePath   string
	Width        uint32
	Height       uint32
	PixelFormat  uint32
	Frames       int
	FrameTimeout time.Duration

	OutputDir string
	Layout    export.Layout

	ControlsFile       string
	ControlsOverwrite  bool
	ControlsFromDevice bool

	// MetricsFile, when set, receives a Prometheus textfile after the run.
	MetricsFile string

	// WatchDebounce is used by Watch only.
	WatchDebounce time.Duration

	Opener capture.Opener
	Bus    *events.Bus

	// Notifier receives service state changes during Watch. Nil disables it.
	Notifier Notifier
}

// Notifier reports watch progress to a service manager.
type Notifier interface {
	Ready(status string)
	Status(status string)
	Stopping()
}

type nopNotifier struct{}

func (nopNotifier) Ready(string)  {}
func (nopNotifier) Status(string) {}
func (nopNotifier) Stopping()     {}

// Result summarizes a finished run.
type Result struct {
	SessionID       string
	Format          capture.NegotiatedFormat
	Files           []string
	Controls        capture.ControlApplyReport
	ControlsCreated bool
	// Summary holds the per-device totals recorded from the run's events.
	Summary metrics.DeviceMetrics
}

// Runner executes pipelines.
type Runner struct {
	logger *slog.Logger
}

// NewRunner creates a runner logging to the pipeline module.
func NewRunner() *Runner {
	return &Runner{logger: logging.GetLogger("pipeline")}
}

func (r *Runner) newSession(cfg Config, bus *events.Bus) *capture.Session {
	return capture.NewSession(capture.Options{
		DevicePath:   cfg.DevicePath,
		Width:        cfg.Width,
		Height:       cfg.Height,
		PixelFormat:  cfg.PixelFormat,
		FrameTimeout: cfg.FrameTimeout,
		Opener:       cfg.Opener,
		Bus:          bus,
	})
}

// Run captures cfg.Frames frames and writes one file per frame. The
// session is torn down on every path; teardown errors are joined with
// the run error.
func (r *Runner) Run(ctx context.Context, cfg Config) (res Result, err error) {
	if cfg.Frames < 1 {
		return res, fmt.Errorf("frame count must be at least 1, got %d", cfg.Frames)
	}

	bus := cfg.Bus
	if bus == nil {
		bus = events.New()
	}
	// Totals describe this run only.
	metrics.DeleteDeviceMetrics(cfg.DevicePath)
	rec := metrics.NewRecorder(bus)
	defer rec.Stop()

	sess := r.newSession(cfg, bus)
	res.SessionID = sess.ID()
	logger := r.logger.With("session_id", sess.ID(), "device", cfg.DevicePath)

	err = r.run(ctx, sess, cfg, &res, logger)
	if tdErr := sess.Teardown(); tdErr != nil {
		err = errors.Join(err, fmt.Errorf("teardown: %w", tdErr))
	}

	if !rec.WaitFor(int64(sess.EventsPublished()), metricsFlushTimeout) {
		logger.Warn("Metrics recorder lagging, summary may be partial",
			"published", sess.EventsPublished(), "handled", rec.Handled())
	}
	if m := metrics.GetDeviceMetrics(cfg.DevicePath); m != nil {
		res.Summary = *m
	}
	logger.Info("Capture summary",
		"frames", res.Summary.Frames,
		"size_kib", fmt.Sprintf("%.1f", res.Summary.Bytes/1024),
		"corrupt_frames", res.Summary.CorruptFrames,
		"errors", res.Summary.Errors)

	if cfg.MetricsFile != "" {
		if mErr := metrics.WriteTextfile(cfg.MetricsFile); mErr != nil {
			err = errors.Join(err, mErr)
		} else {
			logger.Info("Metrics written", "path", cfg.MetricsFile)
		}
	}
	return res, err
}

func (r *Runner) run(ctx context.Context, sess *capture.Session, cfg Config, res *Result, logger *slog.Logger) error {
	if err := sess.Prepare(); err != nil {
		logFailure(logger, "Prepare failed", err)
		return err
	}
	res.Format = sess.Format()

	set, created, err := LoadControls(sess.Device(), cfg.ControlsFile, cfg.ControlsOverwrite, cfg.ControlsFromDevice, logger)
	if err != nil {
		return err
	}
	res.ControlsCreated = created

	report, err := sess.Reconfigure(set)
	res.Controls = report
	logReport(logger, report)
	if err != nil {
		logFailure(logger, "Applying controls failed", err)
		return err
	}

	if err := sess.Arm(); err != nil {
		logFailure(logger, "Arming stream failed", err)
		return err
	}

	return sess.CaptureBurst(ctx, cfg.Frames, func(i int, frame capture.FrameResult) error {
		path, err := saveFrame(cfg, sess, i, frame)
		if err != nil {
			return err
		}
		res.Files = append(res.Files, path)
		logger.Info("Frame saved",
			"path", path,
			"sequence", frame.Sequence,
			"size_kib", fmt.Sprintf("%.1f", float64(frame.BytesUsed)/1024))
		return nil
	})
}

func saveFrame(cfg Config, sess *capture.Session, index int, frame capture.FrameResult) (string, error) {
	f := sess.Format()
	path := export.FileName(cfg.OutputDir, sess.ID(), index, f.PixelFormat)
	err := export.WriteFile(path, export.Frame{
		Data:        frame.Data(),
		Width:       f.Width,
		PixelFormat: f.PixelFormat,
	}, cfg.Layout)
	return path, err
}

// LoadControls returns the stored control set for dev, creating the
// file when it is missing or overwrite is set. With fromDevice a new
// file holds the driver defaults of the supported controls instead of
// the compiled-in ones. A nil logger uses the controls module logger.
func LoadControls(dev *capture.Device, path string, overwrite, fromDevice bool, logger logging.Logger) (*capture.ControlSet, bool, error) {
	if logger == nil {
		logger = logging.GetLogger("controls")
	}
	caps := dev.Capabilities()
	live, err := capture.ReadControls(dev, controls.IDs())
	if err != nil {
		logger.Debug("Some live control values unavailable", "error", err)
	}

	opts := controls.LoadOptions{
		Overwrite: overwrite,
		Header: &controls.Header{
			DevicePath: dev.Path(),
			Card:       caps.Card,
			Driver:     caps.Driver,
			Live:       live,
		},
	}
	if fromDevice {
		opts.DeviceDefaults = func() (*capture.ControlSet, error) {
			return capture.DeviceDefaults(dev, controls.IDs()), nil
		}
	}
	return controls.NewStore(path).LoadOrCreate(opts)
}

func logReport(logger *slog.Logger, report capture.ControlApplyReport) {
	for _, res := range report.Results {
		if res.Outcome == capture.OutcomeApplied {
			continue
		}
		attrs := []any{"control", controls.KeyFor(res.ID), "control_id", fmt.Sprintf("0x%08x", res.ID), "value", res.Value, "outcome", res.Outcome}
		if res.Err != nil {
			attrs = append(attrs, "error", res.Err)
		}
		logger.Warn("Control not applied", attrs...)
	}
	logger.Info("Controls applied",
		"applied", report.Count(capture.OutcomeApplied),
		"unsupported", report.Count(capture.OutcomeUnsupported),
		"failed", report.Count(capture.OutcomeWriteFailed),
		"restart", report.Restart)
}

func logFailure(logger *slog.Logger, msg string, err error) {
	var ce *capture.Error
	if errors.As(err, &ce) {
		logger.Error(msg, "stage", ce.Stage, "code", ce.Code, "error", err)
		return
	}
	logger.Error(msg, "error", err)
}
