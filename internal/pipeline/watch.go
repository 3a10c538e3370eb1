package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/smazurov/stillcam/internal/capture"
	"github.com/smazurov/stillcam/internal/config"
	"github.com/smazurov/stillcam/internal/controls"
	"github.com/smazurov/stillcam/internal/events"
)

const defaultWatchDebounce = 500 * time.Millisecond

// Watch arms one session and re-applies the control file each time it
// changes, saving one still after every reconfigure that leaves the
// stream running. It returns when ctx is done or the stream cannot be
// restarted.
func (r *Runner) Watch(ctx context.Context, cfg Config) (err error) {
	bus := cfg.Bus
	if bus == nil {
		bus = events.New()
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = nopNotifier{}
	}
	sess := r.newSession(cfg, bus)
	logger := r.logger.With("session_id", sess.ID(), "device", cfg.DevicePath)
	defer func() {
		notifier.Stopping()
		if tdErr := sess.Teardown(); tdErr != nil {
			err = errors.Join(err, fmt.Errorf("teardown: %w", tdErr))
		}
	}()

	if err := sess.Prepare(); err != nil {
		logFailure(logger, "Prepare failed", err)
		return err
	}
	set, _, err := LoadControls(sess.Device(), cfg.ControlsFile, cfg.ControlsOverwrite, cfg.ControlsFromDevice, logger)
	if err != nil {
		return err
	}
	report, err := sess.Reconfigure(set)
	logReport(logger, report)
	if err != nil {
		return err
	}
	if err := sess.Arm(); err != nil {
		return err
	}

	store := controls.NewStore(cfg.ControlsFile)
	debounce := cfg.WatchDebounce
	if debounce <= 0 {
		debounce = defaultWatchDebounce
	}
	reloads := make(chan *capture.ControlSet, 1)
	watcher := config.NewWatcher(store.Path(), func(string) (*capture.ControlSet, error) {
		return store.Load()
	}, logger, config.WithDebounce[*capture.ControlSet](debounce))
	watcher.OnReload(func(set *capture.ControlSet) {
		bus.Publish(events.ControlsReloadedEvent{
			Path:      store.Path(),
			Controls:  set.Len(),
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
		// Keep only the newest set if the loop is still busy.
		select {
		case <-reloads:
		default:
		}
		reloads <- set
	})
	if err := watcher.Start(); err != nil {
		return fmt.Errorf("failed to watch control file: %w", err)
	}
	defer watcher.Stop()

	failures := make(chan any, 4)
	unsubFailures := events.SubscribeToChannel[events.CaptureErrorEvent](bus, failures)
	defer unsubFailures()

	logger.Info("Watching control file", "path", store.Path())
	notifier.Ready("watching " + store.Path())
	index := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-failures:
			if e, ok := ev.(events.CaptureErrorEvent); ok {
				notifier.Status(fmt.Sprintf("%d stills captured, last error %s", index, e.Code))
			}
		case set := <-reloads:
			report, err := sess.Reconfigure(set)
			logReport(logger, report)
			if capture.HasCode(err, capture.ErrCodeRestartFailed) {
				logFailure(logger, "Stream did not restart", err)
				return err
			}
			if err != nil {
				logFailure(logger, "Control batch aborted", err)
				continue
			}
			if err := r.still(sess, cfg, index); err != nil {
				logFailure(logger, "Still capture failed", err)
				var ce *capture.Error
				if errors.As(err, &ce) && ce.NeedsStreamReset() {
					if resetErr := sess.ResetStream(); resetErr != nil {
						return resetErr
					}
				}
				continue
			}
			index++
			notifier.Status(fmt.Sprintf("%d stills captured", index))
		}
	}
}

func (r *Runner) still(sess *capture.Session, cfg Config, index int) error {
	frame, err := sess.Capture()
	if err != nil {
		return err
	}
	path, err := saveFrame(cfg, sess, index, frame)
	if err != nil {
		return err
	}
	r.logger.Info("Still saved", "session_id", sess.ID(), "path", path,
		"size_kib", fmt.Sprintf("%.1f", float64(frame.BytesUsed)/1024))
	return nil
}
