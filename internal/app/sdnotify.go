package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"wosbot/internal/eventbus"
	"wosbot/internal/task/queue"
	"wosbot/internal/task/scheduler"
	logx "wosbot/pkg/logx"
)

const (
	sdReady     = daemon.SdNotifyReady
	sdReloading = daemon.SdNotifyReloading
	sdStopping  = daemon.SdNotifyStopping
)

// sdNotify is a no-op outside systemd (NOTIFY_SOCKET unset).
func (a *App) sdNotify(state string) {
	if _, err := daemon.SdNotify(false, state); err != nil {
		a.log.Debug("sd_notify failed", logx.String("state", state), logx.Err(err))
	}
}

// sdNotifyReady reports readiness. Under systemd it also keeps STATUS= in
// sync with bot state and, when WatchdogSec is set on the unit, pings the
// watchdog at half the interval until the app stops.
func (a *App) sdNotifyReady() {
	a.sdNotify(sdReady)
	if os.Getenv("NOTIFY_SOCKET") == "" {
		return
	}
	a.sdStatus()
	a.sup.Go("systemd.status", a.sdStatusLoop)
	every, err := daemon.SdWatchdogEnabled(false)
	if err != nil || every <= 0 {
		return
	}
	a.log.Info("systemd watchdog enabled", logx.Duration("interval", every))
	a.sup.Go("systemd.watchdog", func(ctx context.Context) error {
		t := time.NewTicker(every / 2)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-t.C:
				a.sdNotify(daemon.SdNotifyWatchdog)
			}
		}
	})
}

// sdStatus publishes a one-line summary shown by systemctl status.
func (a *App) sdStatus() {
	ps := a.ctrl.Profiles()
	running := 0
	for _, p := range ps {
		if p.Queue.State == queue.RunRunning {
			running++
		}
	}
	a.sdNotify(fmt.Sprintf("STATUS=bot %s, %d/%d profiles running", a.ctrl.State(), running, len(ps)))
}

func (a *App) sdStatusLoop(ctx context.Context) error {
	ch, unsub := a.bus.Subscribe(16, eventbus.TopicBotState, eventbus.TopicProfileState)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			switch ev.Data.(type) {
			case scheduler.BotEvent, scheduler.ProfileEvent:
				a.sdStatus()
			}
		}
	}
}
