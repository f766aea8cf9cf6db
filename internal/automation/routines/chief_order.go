package routines

import (
	"context"
	"time"

	"wosbot/internal/automation"
	"wosbot/internal/task/policy"
	"wosbot/internal/task/unit"
	logx "wosbot/pkg/logx"
)

// ChiefOrderKind is one enactable chief order.
type ChiefOrderKind struct {
	Type     unit.TaskType
	Name     string
	Template automation.Template
	Cooldown time.Duration
	// MainCooldownArea shows the remaining cooldown in the order menu.
	MainCooldownArea automation.Area
}

var ChiefOrders = []ChiefOrderKind{
	{
		Type:             TypeRushJob,
		Name:             "Rush Job",
		Template:         automation.TplChiefOrderRushJob,
		Cooldown:         24 * time.Hour,
		MainCooldownArea: automation.Rect(430, 390, 550, 420),
	},
	{
		Type:             TypeUrgentMobilization,
		Name:             "Urgent Mobilization",
		Template:         automation.TplChiefOrderUrgentMobilization,
		Cooldown:         8 * time.Hour,
		MainCooldownArea: automation.Rect(140, 390, 260, 420),
	},
	{
		Type:             TypeProductivityDay,
		Name:             "Productivity Day",
		Template:         automation.TplChiefOrderProductivityDay,
		Cooldown:         12 * time.Hour,
		MainCooldownArea: automation.Rect(140, 1030, 260, 1060),
	},
}

const (
	chiefMenuOpenDelay  = 2000 * time.Millisecond
	chiefMenuLoadDelay  = 1500 * time.Millisecond
	chiefEnactDelay     = 1000 * time.Millisecond
	chiefAnimationDelay = 5000 * time.Millisecond
)

// ChiefOrder opens the chief order menu and enacts one order. When the order
// cannot be enacted it reads the remaining time instead.
type ChiefOrder struct {
	kind ChiefOrderKind
	dev  automation.Devices
}

func (r *ChiefOrder) Run(ctx context.Context, x *unit.Exec) unit.Result {
	sc := screen(x, r.dev)
	log := x.Log.With(logx.String("order", r.kind.Name))
	log.Info("chief order starting", logx.Duration("cooldown", r.kind.Cooldown))

	menu, err := sc.Find(ctx, automation.TplChiefOrderMenu)
	if err != nil {
		return failed(ctx, err)
	}
	if !menu.Found {
		log.Warn("chief order menu button not found")
		_ = x.Retry(ErrorRetry, "chief order menu not found")
		return unit.Ok()
	}
	if err := sc.TapThenWait(ctx, menu.Point, chiefMenuOpenDelay); err != nil {
		return failed(ctx, err)
	}

	if err := sc.Sleep(ctx, chiefMenuLoadDelay); err != nil {
		return failed(ctx, err)
	}
	order, err := sc.Find(ctx, r.kind.Template)
	if err != nil {
		return failed(ctx, err)
	}
	if !order.Found {
		log.Info("order button not found, reading cooldown from menu")
		return r.rescheduleFromOCR(ctx, x, sc, r.kind.MainCooldownArea, "menu cooldown")
	}
	if err := sc.TapThenWait(ctx, order.Point, chiefMenuLoadDelay); err != nil {
		return failed(ctx, err)
	}

	if err := sc.Sleep(ctx, chiefMenuLoadDelay); err != nil {
		return failed(ctx, err)
	}
	enact, err := sc.Find(ctx, automation.TplChiefOrderEnact)
	if err != nil {
		return failed(ctx, err)
	}
	if !enact.Found {
		return r.checkStatus(ctx, x, sc)
	}

	if err := sc.TapThenWait(ctx, enact.Point, chiefEnactDelay); err != nil {
		return failed(ctx, err)
	}
	// back skips the activation animation
	if err := sc.Back(ctx); err != nil {
		return failed(ctx, err)
	}
	if err := sc.Sleep(ctx, chiefAnimationDelay); err != nil {
		return failed(ctx, err)
	}

	next := policy.Fixed(x.Now(), r.kind.Cooldown)
	_ = x.Reschedule(next)
	log.Info("chief order enacted", logx.Time("next", next))
	return unit.Ok()
}

// checkStatus runs when there is no enact button: the order is either active
// or cooling down, and each state shows its own timer.
func (r *ChiefOrder) checkStatus(ctx context.Context, x *unit.Exec, sc *automation.Screen) unit.Result {
	active, err := sc.Find(ctx, automation.TplChiefOrderActive)
	if err != nil {
		return failed(ctx, err)
	}
	if active.Found {
		return r.rescheduleFromOCR(ctx, x, sc, areaChiefOrderActiveOCR, "active time")
	}
	cooldown, err := sc.Find(ctx, automation.TplChiefOrderCooldown)
	if err != nil {
		return failed(ctx, err)
	}
	if cooldown.Found {
		return r.rescheduleFromOCR(ctx, x, sc, areaChiefOrderCooldownOCR, "cooldown time")
	}
	x.Log.Warn("neither active nor cooldown indicator found")
	_ = x.Retry(ErrorRetry, "chief order status unknown")
	return unit.Ok()
}

func (r *ChiefOrder) rescheduleFromOCR(ctx context.Context, x *unit.Exec, sc *automation.Screen, area automation.Area, what string) unit.Result {
	d, err := sc.ReadDuration(ctx, area)
	if err != nil {
		if ctx.Err() != nil {
			return unit.Failed(ctx.Err())
		}
		x.Log.Warn(what+" unreadable", logx.Err(err))
		_ = x.Retry(ErrorRetry, what+" unreadable")
		return unit.Ok()
	}
	if d <= 0 {
		x.Log.Warn(what+" read as zero", logx.Duration("remaining", d))
		_ = x.Retry(ErrorRetry, what+" unreadable")
		return unit.Ok()
	}
	next := policy.Measured(x.Now(), d)
	_ = x.Reschedule(next)
	x.Log.Info("rescheduled from "+what, logx.Duration("remaining", d), logx.Time("next", next))
	return unit.Ok()
}
