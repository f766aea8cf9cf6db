package app

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"wosbot/internal/api"
	"wosbot/internal/automation"
	"wosbot/internal/automation/dryrun"
	"wosbot/internal/automation/routines"
	"wosbot/internal/config"
	"wosbot/internal/notifier"
	"wosbot/internal/storage"
	"wosbot/internal/task/delay"
	"wosbot/internal/task/policy"
	"wosbot/internal/task/worker"
	"wosbot/internal/transport/telegram"
	logx "wosbot/pkg/logx"
)

const defaultJitter = 0.2

// engineSettings is the parsed engine section.
type engineSettings struct {
	worker    worker.Options
	reset     *policy.ResetClock
	loadLimit int
	autoStart bool
}

func mapLogging(cfg *config.Config, alerts bool) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Alert: logx.AlertConfig{
			Enabled:    alerts && l.Telegram.Enabled,
			MinLevel:   l.Telegram.MinLevel,
			RatePerSec: l.Telegram.RatePerSec,
		},
	}
}

func mapTelegram(cfg *config.Config) (telegram.Config, bool, error) {
	t := cfg.Telegram
	if strings.TrimSpace(t.Token) == "" {
		return telegram.Config{}, false, nil
	}
	timeout, err := config.DurationOr("telegram.timeout", t.Timeout, 10*time.Second)
	if err != nil {
		return telegram.Config{}, false, err
	}
	return telegram.Config{Token: t.Token, ChatID: t.ChatID, ThreadID: t.ThreadID, Timeout: timeout}, true, nil
}

func mapStorage(cfg *config.Config) (storage.Config, error) {
	if cfg.Storage == nil {
		return storage.Config{}, nil
	}
	sc := cfg.Storage
	busy, err := config.DurationOr("storage.busy_timeout", sc.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:          strings.TrimSpace(sc.Driver),
		Path:            strings.TrimSpace(sc.Path),
		BusyTimeout:     busy,
		CompactEvery:    sc.CompactEvery,
		KeepTransitions: sc.KeepTransitions,
	}, nil
}

func mapEngine(cfg *config.Config) (engineSettings, error) {
	e := cfg.Engine
	var (
		out  engineSettings
		errs []error
	)
	dur := func(path, raw string, def time.Duration) time.Duration {
		d, err := config.DurationOr("engine."+path, raw, def)
		if err != nil {
			errs = append(errs, err)
		}
		return d
	}

	out.worker.Tick = dur("tick", e.Tick, worker.DefaultTick)
	out.worker.SafetyRetry = dur("safety_retry", e.SafetyRetry, worker.DefaultSafetyRetry)
	out.worker.SoftRetry = dur("soft_retry", e.SoftRetry, worker.DefaultSoftRetry)
	out.worker.ReconnectPoll = dur("reconnect_poll", e.ReconnectPoll, worker.DefaultReconnectPoll)
	idle, err := config.Switchable("engine.idle_threshold", e.IdleThreshold, worker.DefaultIdleThreshold)
	if err != nil {
		errs = append(errs, err)
	}
	out.worker.IdleThreshold = idle

	out.worker.Backoff = policy.BackoffOptions{
		Base:   dur("backoff_base", e.BackoffBase, 30*time.Second),
		Max:    dur("backoff_max", e.BackoffMax, 30*time.Minute),
		Jitter: defaultJitter,
	}
	if e.BackoffJitter != nil {
		out.worker.Backoff.Jitter = *e.BackoffJitter
	}

	spec := strings.TrimSpace(e.GameReset)
	if spec == "" {
		spec = policy.DefaultResetSpec
	}
	tz := strings.TrimSpace(e.ResetTimezone)
	if tz == "" {
		tz = "UTC"
	}
	margin := dur("reset_margin", e.ResetMargin, policy.DefaultResetMargin)
	rc, err := policy.NewResetClock(spec, tz, margin)
	if err != nil {
		errs = append(errs, fmt.Errorf("engine.game_reset: %w", err))
	}
	out.reset = rc

	if scale := cfg.Automation.DryRun.TimeScale; scale > 1 {
		out.worker.Sleeper = delay.Scaled{Factor: scale}
	}
	out.loadLimit = e.LoadConcurrency
	out.autoStart = e.AutoStart == nil || *e.AutoStart
	return out, errors.Join(errs...)
}

func mapNotifier(cfg *config.Config, haveSender bool) (notifier.Config, error) {
	n := config.NotifierConfig{Enabled: true, RetryMax: 3, PersistDedup: true}
	if cfg.Notifier != nil {
		n = *cfg.Notifier
	}
	retryBase, err := config.DurationOr("notifier.retry_base", n.RetryBase, 500*time.Millisecond)
	if err != nil {
		return notifier.Config{}, err
	}
	retryMax, err := config.DurationOr("notifier.retry_max_delay", n.RetryMaxDelay, 10*time.Second)
	if err != nil {
		return notifier.Config{}, err
	}
	window, err := config.DurationOr("notifier.dedup_window", n.DedupWindow, 10*time.Minute)
	if err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{
		Enabled:       n.Enabled && haveSender,
		Workers:       n.Workers,
		QueueSize:     n.QueueSize,
		RatePerSec:    n.RatePerSec,
		RetryMax:      n.RetryMax,
		RetryBase:     retryBase,
		RetryMaxDelay: retryMax,
		DedupWindow:   window,
		PersistDedup:  n.PersistDedup,
	}, nil
}

func mapAPI(cfg *config.Config) (api.Config, error) {
	a := cfg.API
	timeout, err := config.DurationOr("api.request_timeout", a.RequestTimeout, 30*time.Second)
	if err != nil {
		return api.Config{}, err
	}
	return api.Config{
		Enabled:        a.Enabled,
		Addr:           a.Addr,
		Token:          a.Token,
		AllowInsecure:  a.AllowInsecure,
		RequestTimeout: timeout,
		Pprof:          a.Pprof,
	}, nil
}

func buildDevices(cfg *config.Config, log logx.Logger) (automation.Devices, error) {
	a := cfg.Automation
	switch d := strings.ToLower(strings.TrimSpace(a.Driver)); d {
	case "", "dryrun":
		var vis []automation.Template
		for _, v := range a.DryRun.Visible {
			vis = append(vis, automation.Template(strings.TrimSpace(v)))
		}
		dev := dryrun.New(dryrun.Options{
			Visible:      vis,
			Text:         a.DryRun.Text,
			NotInstalled: a.DryRun.NotInstalled,
		}, log)
		return dev.Devices(), nil
	default:
		return automation.Devices{}, fmt.Errorf("unknown automation.driver: %s", d)
	}
}

// knownTasks lists the task types a profile may toggle.
func knownTasks() map[string]bool {
	out := map[string]bool{}
	for _, d := range routines.Definitions(routines.Deps{}) {
		out[string(d.Type)] = true
	}
	return out
}

// ValidateConfig runs the config checks plus the ones that need the task
// catalog.
func ValidateConfig(cfg *config.Config) error {
	if err := config.Validate(cfg); err != nil {
		return err
	}
	known := knownTasks()
	var errs []error
	for _, p := range cfg.Profiles {
		names := make([]string, 0, len(p.Tasks))
		for name := range p.Tasks {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if !known[name] {
				errs = append(errs, fmt.Errorf("profiles.%s.tasks: unknown task %q", p.ID, name))
			}
		}
	}
	if _, err := mapEngine(cfg); err != nil {
		errs = append(errs, err)
	}
	if _, err := mapNotifier(cfg, true); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// TaskNames returns the catalog's task types, sorted.
func TaskNames() []string {
	known := knownTasks()
	out := make([]string, 0, len(known))
	for name := range known {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
