// Package systemd reports service state to the service manager when
// stillcam runs as a notify-type unit.
package systemd

import (
	"strings"

	"github.com/coreos/go-systemd/v22/daemon"

	"github.com/smazurov/stillcam/internal/logging"
)

// Notifier sends sd_notify messages. Without NOTIFY_SOCKET every call is
// a no-op.
type Notifier struct {
	logger logging.Logger
	notify func(unsetEnvironment bool, state string) (bool, error)
}

// NewNotifier creates a notifier for the current process.
func NewNotifier() *Notifier {
	return &Notifier{
		logger: logging.GetLogger("main"),
		notify: daemon.SdNotify,
	}
}

// Ready reports that the session is armed.
func (n *Notifier) Ready(status string) {
	n.send(daemon.SdNotifyReady, "STATUS="+status)
}

// Status updates the free-form unit status line.
func (n *Notifier) Status(status string) {
	n.send("STATUS=" + status)
}

// Stopping reports that teardown has begun.
func (n *Notifier) Stopping() {
	n.send(daemon.SdNotifyStopping)
}

func (n *Notifier) send(states ...string) {
	sent, err := n.notify(false, strings.Join(states, "\n"))
	if err != nil {
		n.logger.Warn("Failed to notify service manager", "state", states[0], "error", err)
		return
	}
	if sent {
		n.logger.Debug("Notified service manager", "state", states[0])
	}
}
