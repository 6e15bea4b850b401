package app

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"feedwatch/internal/runtime/supervisor"
	logx "feedwatch/pkg/logx"
)

// sd_notify integration. Outside systemd (no NOTIFY_SOCKET) every call is a
// no-op, so none of this needs build tags or config.

func notifyReady(log logx.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		log.Warn("sd_notify READY failed", logx.Err(err))
		return
	}
	if sent {
		log.Debug("sd_notify READY sent")
	}
}

func notifyStopping(log logx.Logger) {
	if _, err := daemon.SdNotify(false, daemon.SdNotifyStopping); err != nil {
		log.Warn("sd_notify STOPPING failed", logx.Err(err))
	}
}

// startWatchdog pings systemd at half the WatchdogSec interval. Without a
// configured watchdog no goroutine is started.
func startWatchdog(sup *supervisor.Supervisor, log logx.Logger) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		log.Warn("sd_watchdog detection failed", logx.Err(err))
		return
	}
	if interval <= 0 {
		return
	}

	tick := interval / 2
	sup.Go0("systemd.watchdog", func(ctx context.Context) {
		t := time.NewTicker(tick)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if _, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog); err != nil {
					log.Warn("sd_notify WATCHDOG failed", logx.Err(err))
				}
			}
		}
	})
	log.Info("systemd watchdog enabled", logx.Duration("interval", interval))
}
