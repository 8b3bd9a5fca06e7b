// Package systemd is a thin wrapper around sd_notify. All helpers are
// no-ops outside a systemd unit (NOTIFY_SOCKET unset).
package systemd

import (
	"fmt"

	"github.com/coreos/go-systemd/v22/daemon"
)

// NotifyReady tells systemd the service finished starting up.
// Returns false when not running under systemd supervision.
func NotifyReady() (bool, error) {
	return daemon.SdNotify(false, daemon.SdNotifyReady)
}

// NotifyStopping tells systemd a shutdown has begun.
func NotifyStopping() (bool, error) {
	return daemon.SdNotify(false, daemon.SdNotifyStopping)
}

// NotifyStatus updates the unit's human-readable status line.
func NotifyStatus(status string) (bool, error) {
	return daemon.SdNotify(false, fmt.Sprintf("STATUS=%s", status))
}
