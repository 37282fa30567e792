package app

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	rtsup "studybot/internal/runtime/supervisor"
	logx "studybot/pkg/logx"
)

// notifySystemd reports readiness and, when the unit sets WatchdogSec,
// pets the watchdog at half the interval. Outside systemd both are no-ops.
func (a *App) notifySystemd(sup *rtsup.Supervisor) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		a.log.Warn("sd_notify ready failed", logx.Err(err))
	} else if sent {
		a.log.Debug("sd_notify ready sent")
	}

	every, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		a.log.Warn("systemd watchdog check failed", logx.Err(err))
		return
	}
	if every <= 0 {
		return
	}
	sup.Go0("systemd.watchdog", func(c context.Context) {
		t := time.NewTicker(every / 2)
		defer t.Stop()
		for {
			select {
			case <-c.Done():
				return
			case <-t.C:
				if _, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog); err != nil {
					a.log.Warn("sd_notify watchdog failed", logx.Err(err))
				}
			}
		}
	})
	a.log.Info("systemd watchdog enabled", logx.Duration("interval", every))
}

func sdStopping(log logx.Logger) {
	if _, err := daemon.SdNotify(false, daemon.SdNotifyStopping); err != nil {
		log.Warn("sd_notify stopping failed", logx.Err(err))
	}
}
