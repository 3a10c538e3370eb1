package led

import "github.com/smazurov/stillcam/internal/logging"

// noop implements Controller for boards without a usable LED.
type noop struct {
	logger logging.Logger
}

func newNoop(logger logging.Logger) *noop {
	return &noop{logger: logger}
}

func (n *noop) Set(enabled bool, pattern string) error {
	n.logger.Debug("LED control not available (no-op)", "enabled", enabled, "pattern", pattern)
	return nil
}

func (n *noop) Name() string { return "" }
