package routines

import (
	"context"
	"time"

	"wosbot/internal/automation"
	"wosbot/internal/task/unit"
	logx "wosbot/pkg/logx"
)

const defaultOffset = 60 * time.Minute

// maxPlusTaps bounds each survivor assignment pass.
const maxPlusTaps = 40

// Exploration claims the idle exploration chest.
type Exploration struct {
	dev automation.Devices
}

func (r *Exploration) Run(ctx context.Context, x *unit.Exec) unit.Result {
	sc := screen(x, r.dev)
	if err := sc.TapArea(ctx, areaExplorationButton); err != nil {
		return failed(ctx, err)
	}
	if err := sc.Sleep(ctx, 500*time.Millisecond); err != nil {
		return failed(ctx, err)
	}

	claim, err := sc.Find(ctx, automation.TplExplorationClaim)
	if err != nil {
		return failed(ctx, err)
	}
	if claim.Found {
		x.Log.Info("claiming exploration rewards")
		steps := []struct {
			area automation.Area
			wait time.Duration
		}{
			{areaExplorationClaim, 500 * time.Millisecond},
			{areaExplorationDone, 500 * time.Millisecond},
			{areaExplorationDone, 200 * time.Millisecond},
			{areaExplorationDone, 200 * time.Millisecond},
			{areaExplorationDone, 200 * time.Millisecond},
		}
		for _, s := range steps {
			if err := sc.TapArea(ctx, s.area); err != nil {
				return failed(ctx, err)
			}
			if err := sc.Sleep(ctx, s.wait); err != nil {
				return failed(ctx, err)
			}
		}
	} else {
		x.Log.Info("no exploration rewards to claim")
	}

	offset := x.Profile.Offset(string(TypeExploration), defaultOffset)
	_ = x.Reschedule(x.Now().Add(offset))

	if err := sc.Back(ctx); err != nil {
		return failed(ctx, err)
	}
	if err := sc.Sleep(ctx, 500*time.Millisecond); err != nil {
		return failed(ctx, err)
	}
	return unit.Ok()
}

// NewSurvivors welcomes arriving survivors and fills empty building slots.
type NewSurvivors struct {
	dev automation.Devices
}

func (r *NewSurvivors) Run(ctx context.Context, x *unit.Exec) unit.Result {
	sc := screen(x, r.dev)
	offset := x.Profile.Offset(string(TypeNewSurvivors), defaultOffset)

	notice, err := sc.Find(ctx, automation.TplNewSurvivors)
	if err != nil {
		return failed(ctx, err)
	}
	if !notice.Found {
		x.Log.Info("no new survivors")
		_ = x.Reschedule(x.Now().Add(offset))
		return unit.Ok()
	}
	if err := sc.TapThenWait(ctx, notice.Point, time.Second); err != nil {
		return failed(ctx, err)
	}

	welcome, err := sc.Find(ctx, automation.TplNewSurvivorsWelcome)
	if err != nil {
		return failed(ctx, err)
	}
	if welcome.Found {
		x.Log.Info("welcoming new survivors")
		if err := sc.TapThenWait(ctx, welcome.Point, 10*time.Second); err != nil {
			return failed(ctx, err)
		}
		if err := sc.TapThenWait(ctx, pointSurvivorsTopBar, 300*time.Millisecond); err != nil {
			return failed(ctx, err)
		}

		// top of the list first, then scrolled down
		passes := [][2]automation.Point{
			{pointListTop, pointListBottom},
			{pointListBottom, pointListTop},
		}
		assigned := 0
		for _, sw := range passes {
			if err := sc.Swipe(ctx, sw[0], sw[1]); err != nil {
				return failed(ctx, err)
			}
			if err := sc.Sleep(ctx, 200*time.Millisecond); err != nil {
				return failed(ctx, err)
			}
			n, err := r.assignAll(ctx, sc)
			if err != nil {
				return failed(ctx, err)
			}
			assigned += n
		}
		x.Log.Info("survivors assigned", logx.Int("slots", assigned))
	}

	_ = x.Reschedule(x.Now().Add(offset))
	return unit.Ok()
}

func (r *NewSurvivors) assignAll(ctx context.Context, sc *automation.Screen) (int, error) {
	for i := 0; i < maxPlusTaps; i++ {
		plus, err := sc.Find(ctx, automation.TplNewSurvivorsPlus)
		if err != nil {
			return i, err
		}
		if !plus.Found {
			return i, nil
		}
		if err := sc.TapThenWait(ctx, plus.Point, 50*time.Millisecond); err != nil {
			return i, err
		}
	}
	return maxPlusTaps, nil
}
