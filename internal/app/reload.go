package app

import (
	"context"
	"slices"
	"strings"
	"time"

	"wosbot/internal/config"
	logx "wosbot/pkg/logx"
)

// Sections whose components are built once in New.
var restartSections = []string{"storage", "engine", "automation", "telegram"}

// reloadLoop applies each published config until ctx ends.
func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config in the channel.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}
			a.apply(ctx, lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

func (a *App) apply(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs, pc := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)

	for _, s := range restartSections {
		if slices.Contains(sections, s) {
			a.log.Warn("config section changed; restart required for changes to take effect", logx.String("section", s))
		}
	}

	if slices.Contains(sections, "logging") {
		a.logs.Apply(mapLogging(newCfg, a.bot != nil))
	}

	if slices.Contains(sections, "notifier") {
		ncfg, err := mapNotifier(newCfg, a.bot != nil)
		if err != nil {
			a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
		} else {
			was := a.notif.Enabled()
			a.notif.Apply(ncfg)
			switch {
			case was && !ncfg.Enabled:
				a.log.Info("notifier disabled via config")
				stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				a.notif.Stop(stopCtx)
				cancel()
			case !was && ncfg.Enabled:
				a.log.Info("notifier enabled via config")
				a.notif.Start(ctx)
			}
		}
	}

	if slices.Contains(sections, "api") {
		acfg, err := mapAPI(newCfg)
		if err != nil {
			a.log.Warn("invalid api config; keeping previous", logx.Err(err))
		} else {
			a.api.Reconfigure(ctx, acfg)
		}
	}

	if !pc.Empty() {
		ps, err := newCfg.ProfileList()
		if err != nil {
			a.log.Warn("invalid profiles; keeping previous", logx.Err(err))
		} else if err := a.ctrl.SyncProfiles(ctx, ps); err != nil {
			a.log.Warn("profile sync incomplete", logx.Err(err))
		}
		for _, id := range pc.Removed {
			a.metrics.ForgetProfile(id)
		}
	}

	a.log.Info("config reloaded", fields...)
}
