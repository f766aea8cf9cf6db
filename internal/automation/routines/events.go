package routines

import (
	"context"
	"time"

	"wosbot/internal/automation"
	"wosbot/internal/task/policy"
	"wosbot/internal/task/unit"
	logx "wosbot/pkg/logx"
)

// Triumph claims the alliance triumph daily and weekly rewards.
type Triumph struct {
	dev   automation.Devices
	reset *policy.ResetClock
}

func (r *Triumph) Run(ctx context.Context, x *unit.Exec) unit.Result {
	sc := screen(x, r.dev)
	now := x.Now()

	if err := sc.TapArea(ctx, areaAllianceButton); err != nil {
		return failed(ctx, err)
	}
	if err := sc.Sleep(ctx, 3*time.Second); err != nil {
		return failed(ctx, err)
	}

	btn, err := sc.Find(ctx, automation.TplTriumphButton)
	if err != nil {
		return failed(ctx, err)
	}
	if !btn.Found {
		x.Log.Error("alliance triumph button not found")
		r.rescheduleBeforeReset(x, now)
		if err := sc.Back(ctx); err != nil {
			return failed(ctx, err)
		}
		if err := sc.Sleep(ctx, 500*time.Millisecond); err != nil {
			return failed(ctx, err)
		}
		return unit.Ok()
	}
	if err := sc.TapThenWait(ctx, btn.Point, 2*time.Second); err != nil {
		return failed(ctx, err)
	}

	claimed, err := sc.Find(ctx, automation.TplTriumphDailyClaimed)
	if err != nil {
		return failed(ctx, err)
	}
	switch {
	case claimed.Found:
		x.Log.Info("daily triumph already claimed")
		_ = x.Reschedule(r.reset.Next(now))
	default:
		daily, err := sc.Find(ctx, automation.TplTriumphDaily)
		if err != nil {
			return failed(ctx, err)
		}
		if daily.Found {
			if err := sc.TapThenWait(ctx, daily.Point, time.Second); err != nil {
				return failed(ctx, err)
			}
			x.Log.Info("daily triumph claimed")
			_ = x.Reschedule(r.reset.Next(now))
		} else {
			r.rescheduleBeforeReset(x, now)
		}
	}

	weekly, err := sc.Find(ctx, automation.TplTriumphWeekly)
	if err != nil {
		return failed(ctx, err)
	}
	if weekly.Found {
		if err := sc.TapThenWait(ctx, weekly.Point, 1500*time.Millisecond); err != nil {
			return failed(ctx, err)
		}
		if err := sc.Back(ctx); err != nil {
			return failed(ctx, err)
		}
		x.Log.Info("weekly triumph claimed")
	}

	if err := sc.Back(ctx); err != nil {
		return failed(ctx, err)
	}
	if err := sc.Sleep(ctx, 300*time.Millisecond); err != nil {
		return failed(ctx, err)
	}
	if err := sc.Back(ctx); err != nil {
		return failed(ctx, err)
	}
	return unit.Ok()
}

func (r *Triumph) rescheduleBeforeReset(x *unit.Exec, now time.Time) {
	proposed := now.Add(x.Profile.Offset(string(TypeTriumph), defaultOffset))
	next, clamped := r.reset.ClampBeforeReset(now, proposed)
	if clamped {
		x.Log.Info("next run would pass the game reset, moved before it",
			logx.Time("proposed", proposed), logx.Time("next", next))
	}
	_ = x.Reschedule(next)
}

const (
	bazaarMaxMisses = 3
	bazaarMaxClaims = 50
)

// MyriadBazaar claims the event's free rewards while the event is running.
type MyriadBazaar struct {
	dev   automation.Devices
	reset *policy.ResetClock
}

func (r *MyriadBazaar) Run(ctx context.Context, x *unit.Exec) unit.Result {
	sc := screen(x, r.dev)
	now := x.Now()

	icon, err := sc.Find(ctx, automation.TplMyriadBazaarIcon)
	if err != nil {
		return failed(ctx, err)
	}
	if !icon.Found {
		x.Log.Info("myriad bazaar not active")
		_ = x.Reschedule(r.reset.Next(now))
		return unit.Ok()
	}
	if err := sc.TapThenWait(ctx, icon.Point, 2*time.Second); err != nil {
		return failed(ctx, err)
	}

	cfg := automation.SearchConfig{Threshold: 90, MaxAttempts: 1, Delay: 300 * time.Millisecond, Area: &areaBazaarRewards}
	misses, claims := 0, 0
	for misses < bazaarMaxMisses && claims < bazaarMaxClaims {
		m, err := sc.FindWith(ctx, automation.TplClaimButton, cfg)
		if err != nil {
			return failed(ctx, err)
		}
		if m.Found {
			if err := sc.TapThenWait(ctx, m.Point, time.Second); err != nil {
				return failed(ctx, err)
			}
			claims++
			misses = 0
			continue
		}
		misses++
		if misses < bazaarMaxMisses {
			if err := sc.Sleep(ctx, 500*time.Millisecond); err != nil {
				return failed(ctx, err)
			}
		}
	}
	x.Log.Info("myriad bazaar rewards claimed", logx.Int("claims", claims))
	_ = x.Reschedule(r.reset.Next(now))
	return unit.Ok()
}
