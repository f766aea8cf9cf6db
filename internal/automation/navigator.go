package automation

import (
	"context"
	"time"

	"wosbot/internal/profile"
	"wosbot/internal/task/delay"
	"wosbot/internal/task/unit"
	logx "wosbot/pkg/logx"
)

// TemplateNavigator reaches HOME or WORLD by reading the view-toggle button:
// the city view shows the world button and the world map shows the city
// button. Anything else is an overlay, dismissed with back.
type TemplateNavigator struct {
	Emulator Emulator
	Searcher Searcher
	Sleeper  delay.Sleeper
	Log      logx.Logger

	MaxAttempts int
	Delay       time.Duration
}

func NewTemplateNavigator(emu Emulator, s Searcher, sl delay.Sleeper, log logx.Logger) *TemplateNavigator {
	return &TemplateNavigator{Emulator: emu, Searcher: s, Sleeper: sl, Log: log, MaxAttempts: 5, Delay: time.Second}
}

func (n *TemplateNavigator) EnsureLocation(ctx context.Context, p profile.Profile, loc unit.StartLocation) (bool, error) {
	if loc == "" || loc == unit.LocationAny {
		return true, nil
	}
	attempts := n.MaxAttempts
	if attempts <= 0 {
		attempts = 5
	}
	sl := n.Sleeper
	if sl == nil {
		sl = delay.Real{}
	}
	log := n.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.Profile(p.ID), logx.String("want", string(loc)))

	for i := 0; i < attempts; i++ {
		if i > 0 && n.Delay > 0 {
			if err := sl.Sleep(ctx, n.Delay); err != nil {
				return false, err
			}
		}
		world, err := n.Searcher.Search(ctx, p.Emulator, TplWorldButton, DefaultSingle)
		if err != nil {
			return false, err
		}
		city, err := n.Searcher.Search(ctx, p.Emulator, TplCityButton, DefaultSingle)
		if err != nil {
			return false, err
		}

		switch {
		case loc == unit.LocationHome && world.Found:
			return true, nil
		case loc == unit.LocationWorld && city.Found:
			return true, nil
		case loc == unit.LocationHome && city.Found:
			log.Debug("switching to city view")
			if err := n.Emulator.Tap(ctx, p.Emulator, city.Point); err != nil {
				return false, err
			}
		case loc == unit.LocationWorld && world.Found:
			log.Debug("switching to world view")
			if err := n.Emulator.Tap(ctx, p.Emulator, world.Point); err != nil {
				return false, err
			}
		default:
			log.Debug("view toggle not visible, pressing back", logx.Int("attempt", i+1))
			if err := n.Emulator.Back(ctx, p.Emulator); err != nil {
				return false, err
			}
		}
	}
	log.Warn("start location not reached", logx.Int("attempts", attempts))
	return false, nil
}
