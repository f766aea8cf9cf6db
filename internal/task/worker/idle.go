package worker

import (
	"context"
	"time"

	"wosbot/internal/profile"
	"wosbot/internal/task/queue"
	"wosbot/internal/task/unit"
	logx "wosbot/pkg/logx"
)

// maybeIdle applies the profile's idle behavior once per idle period: when
// the queue is running and nothing is due within the idle threshold.
func (w *Worker) maybeIdle(ctx context.Context, now time.Time) {
	if w.idle || w.opt.IdleThreshold < 0 {
		return
	}
	if w.q.State().State != queue.RunRunning {
		return
	}
	if _, busy := w.q.Running(); busy {
		return
	}
	due, ok := w.q.NextDue()
	if !ok || due.Sub(now) <= w.opt.IdleThreshold {
		return
	}
	w.idle = true

	p := w.Profile()
	log := w.log.With(logx.String("idle", string(p.IdleBehavior)), logx.Time("next_due", due))
	emu := w.deps.Devices.Emulator

	switch p.IdleBehavior {
	case profile.IdleDoNothing:
		log.Debug("idle, leaving emulator as is")
		return
	case profile.IdleSendToBackground:
		if emu != nil {
			if err := emu.SendToBackground(ctx, p.Emulator); err != nil {
				log.Warn("send to background failed", logx.Err(err))
			}
		}
	default:
		if emu != nil {
			if err := emu.Close(ctx, p.Emulator); err != nil {
				log.Warn("close emulator failed", logx.Err(err))
			}
		}
		for _, t := range w.q.Types() {
			if u, ok := w.q.Get(t); ok {
				u.DeleteVar(unit.VarEmulatorStarted)
			}
		}
	}
	log.Info("idle behavior applied")
	w.rearm(p, due)
}

// rearm queues the session bootstrap units again so they run before the next
// due task.
func (w *Worker) rearm(p profile.Profile, due time.Time) {
	if w.deps.Catalog == nil {
		return
	}
	for _, def := range w.deps.Catalog.ForProfile(p) {
		if !def.Mandatory {
			continue
		}
		w.q.Schedule(unit.New(def, p.ID, due), due)
	}
}
