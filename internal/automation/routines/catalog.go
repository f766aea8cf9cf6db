// Package routines holds the concrete automation scripts and registers them
// as task definitions.
package routines

import (
	"context"
	"time"

	"wosbot/internal/automation"
	"wosbot/internal/profile"
	"wosbot/internal/task/policy"
	"wosbot/internal/task/unit"
)

const (
	TypeInitialize         unit.TaskType = "initialize"
	TypeRushJob            unit.TaskType = "chief_order.rush_job"
	TypeUrgentMobilization unit.TaskType = "chief_order.urgent_mobilization"
	TypeProductivityDay    unit.TaskType = "chief_order.productivity_day"
	TypeExploration        unit.TaskType = "exploration"
	TypeNewSurvivors       unit.TaskType = "new_survivors"
	TypeTriumph            unit.TaskType = "alliance_triumph"
	TypeMyriadBazaar       unit.TaskType = "myriad_bazaar"
)

const VarEmulatorStarted = unit.VarEmulatorStarted

// ErrorRetry is the soft-failure retry delay used by every routine.
const ErrorRetry = 10 * time.Minute

// Deps are shared by every routine of one engine.
type Deps struct {
	Devices automation.Devices
	Reset   *policy.ResetClock
}

func (d Deps) withDefaults() Deps {
	if d.Reset == nil {
		d.Reset = policy.MustResetClock(policy.DefaultResetSpec, "UTC", policy.DefaultResetMargin)
	}
	return d
}

// Definitions returns every task the bot knows.
func Definitions(d Deps) []unit.Definition {
	d = d.withDefaults()
	defs := []unit.Definition{
		{
			Type:          TypeInitialize,
			Name:          "Initialize",
			Priority:      1000,
			StartLocation: unit.LocationAny,
			Recurring:     false,
			Mandatory:     true,
			Factory:       func(profile.Profile) unit.Routine { return &Initialize{dev: d.Devices} },
		},
		{
			Type:            TypeExploration,
			Name:            "Exploration chest",
			Priority:        10,
			DefaultInterval: defaultOffset,
			StartLocation:   unit.LocationHome,
			Recurring:       true,
			Factory:         func(profile.Profile) unit.Routine { return &Exploration{dev: d.Devices} },
		},
		{
			Type:            TypeNewSurvivors,
			Name:            "New survivors",
			Priority:        10,
			DefaultInterval: defaultOffset,
			StartLocation:   unit.LocationHome,
			Recurring:       true,
			Factory:         func(profile.Profile) unit.Routine { return &NewSurvivors{dev: d.Devices} },
		},
		{
			Type:            TypeTriumph,
			Name:            "Alliance triumph",
			Priority:        10,
			DefaultInterval: defaultOffset,
			StartLocation:   unit.LocationHome,
			Recurring:       true,
			Factory:         func(profile.Profile) unit.Routine { return &Triumph{dev: d.Devices, reset: d.Reset} },
		},
		{
			Type:            TypeMyriadBazaar,
			Name:            "Myriad bazaar",
			Priority:        5,
			DefaultInterval: 24 * time.Hour,
			StartLocation:   unit.LocationHome,
			Recurring:       true,
			Factory:         func(profile.Profile) unit.Routine { return &MyriadBazaar{dev: d.Devices, reset: d.Reset} },
		},
	}
	for _, k := range ChiefOrders {
		k := k
		defs = append(defs, unit.Definition{
			Type:            k.Type,
			Name:            k.Name,
			Priority:        20,
			DefaultInterval: k.Cooldown,
			StartLocation:   unit.LocationHome,
			Recurring:       true,
			Factory:         func(profile.Profile) unit.Routine { return &ChiefOrder{kind: k, dev: d.Devices} },
		})
	}
	return defs
}

// Catalog builds a unit.Catalog with every definition registered.
func Catalog(d Deps) (*unit.Catalog, error) {
	return unit.NewCatalog(Definitions(d)...)
}

func screen(x *unit.Exec, dev automation.Devices) *automation.Screen {
	return automation.NewScreen(dev, x.Profile.Emulator, x.Sleeper(), x.Log)
}

// failed turns a device or context error into a Result. Context errors pass
// through unchanged so the worker can tell shutdown from failure.
func failed(ctx context.Context, err error) unit.Result {
	if ctx.Err() != nil {
		return unit.Failed(ctx.Err())
	}
	return unit.Failed(err)
}
