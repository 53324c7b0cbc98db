package app

import (
	"github.com/coreos/go-systemd/v22/daemon"

	logx "stripesd/pkg/logx"
)

// sdNotify sends state to systemd when enabled. Outside a notify unit
// (NOTIFY_SOCKET unset) it is a no-op.
func sdNotify(enabled bool, log logx.Logger, state string) {
	if !enabled {
		return
	}
	sent, err := daemon.SdNotify(false, state)
	switch {
	case err != nil:
		log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
	case sent:
		log.Debug("sd_notify sent", logx.String("state", state))
	}
}
