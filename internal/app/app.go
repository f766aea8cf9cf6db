// Package app wires the config file into a running bot: storage, the task
// scheduler, alerts, the HTTP API and the Telegram command bot.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"wosbot/internal/api"
	"wosbot/internal/automation/routines"
	"wosbot/internal/config"
	"wosbot/internal/eventbus"
	"wosbot/internal/metrics"
	"wosbot/internal/notifier"
	rtsup "wosbot/internal/runtime/supervisor"
	"wosbot/internal/status"
	"wosbot/internal/storage"
	"wosbot/internal/task/scheduler"
	"wosbot/internal/transport/telegram"
	logx "wosbot/pkg/logx"
)

type Options struct {
	Version string
	// AutoStart overrides engine.auto_start when set.
	AutoStart *bool
}

type App struct {
	opt  Options
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	ctrl    *scheduler.Controller
	control *botControl
	notif   *notifier.Service
	metrics *metrics.Collector
	api     *api.Server
	bot     *telegram.Bot // nil without a token

	autoStart bool
}

// New loads and validates cfgPath and builds every component. Nothing runs
// until Start.
func New(ctx context.Context, cfgPath string, opt Options) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error { return ValidateConfig(cfg) })
	cfg, err := cfgm.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	// Alerts stay off until the Telegram sender exists.
	logSvc, log := logx.New(mapLogging(cfg, false), nil)
	cfgm.SetLogger(log.With(logx.String("comp", "config")))
	a := &App{opt: opt, cfgm: cfgm, log: log.With(logx.String("comp", "app")), logs: logSvc, bus: eventbus.New()}

	sc, err := mapStorage(cfg)
	if err != nil {
		return nil, err
	}
	if a.store, err = storage.Open(sc, log); err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	if a.store != nil {
		a.log.Info("storage enabled", logx.String("driver", sc.Driver), logx.String("path", sc.Path))
	}

	eng, err := mapEngine(cfg)
	if err != nil {
		return nil, a.abort(err)
	}
	a.autoStart = eng.autoStart
	if opt.AutoStart != nil {
		a.autoStart = *opt.AutoStart
	}
	devices, err := buildDevices(cfg, log)
	if err != nil {
		return nil, a.abort(err)
	}
	catalog, err := routines.Catalog(routines.Deps{Devices: devices, Reset: eng.reset})
	if err != nil {
		return nil, a.abort(err)
	}

	a.ctrl = scheduler.New(scheduler.Deps{
		Catalog:  catalog,
		Devices:  devices,
		Registry: status.New(a.bus),
		Store:    a.store,
		Bus:      a.bus,
		Log:      log,
	}, scheduler.Options{Worker: eng.worker, LoadLimit: eng.loadLimit})
	a.control = &botControl{Controller: a.ctrl, app: a}

	ps, err := cfg.ProfileList()
	if err != nil {
		return nil, a.abort(err)
	}
	if err := a.ctrl.SyncProfiles(ctx, ps); err != nil {
		return nil, a.abort(err)
	}

	tcfg, haveBot, err := mapTelegram(cfg)
	if err != nil {
		return nil, a.abort(err)
	}
	if haveBot {
		if a.bot, err = telegram.New(tcfg, a.control, log); err != nil {
			return nil, a.abort(fmt.Errorf("telegram: %w", err))
		}
		logSvc.SetSender(a.bot)
		logSvc.Apply(mapLogging(cfg, true))
	}

	ncfg, err := mapNotifier(cfg, a.bot != nil)
	if err != nil {
		return nil, a.abort(err)
	}
	var sender notifier.Sender
	if a.bot != nil {
		sender = a.bot
	}
	a.notif = notifier.New(ncfg, sender, log, a.bus, a.store)

	a.metrics = metrics.New(a.bus)

	acfg, err := mapAPI(cfg)
	if err != nil {
		return nil, a.abort(err)
	}
	a.api = api.New(acfg, api.Deps{
		Control: a.control,
		Bus:     a.bus,
		Metrics: a.metrics.Handler(),
		History: a.notif,
		Reload:  a.Reload,
		Version: opt.Version,
	}, log)

	return a, nil
}

// abort releases what New opened so far.
func (a *App) abort(err error) error {
	if a.store != nil {
		_ = a.store.Close()
	}
	_ = a.logs.Close()
	return err
}

func (a *App) Config() *config.Config { return a.cfgm.Get() }

func (a *App) Controller() *scheduler.Controller { return a.ctrl }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	c := a.sup.Context()

	a.notif.Start(c)
	a.sup.Go("notifier.watch", func(c context.Context) error { return a.notif.Watch(c, a.bus) })
	a.sup.Go("metrics", func(c context.Context) error { return a.metrics.Run(c, a.bus) })
	a.api.Start(c)
	if a.bot != nil {
		a.bot.Start(c)
	}

	// Subscribe before watching so no reload is missed.
	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
		return nil
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		if err := a.cfgm.Watch(c); err != nil && c.Err() == nil {
			a.log.Warn("config watch stopped", logx.Err(err))
		}
		return nil
	})

	if a.autoStart {
		if err := a.ctrl.Start(c); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
	}

	a.sdNotifyReady()
	a.log.Info("app started", logx.String("version", a.opt.Version), logx.Bool("bot_running", a.autoStart))
	return nil
}

// Reload re-reads the config file. An unchanged file is not an error.
func (a *App) Reload(ctx context.Context) error {
	a.sdNotify(sdReloading)
	defer a.sdNotify(sdReady)
	_, err := a.cfgm.Reload(ctx)
	if errors.Is(err, config.ErrUnchanged) {
		return nil
	}
	return err
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sdNotify(sdStopping)

	// Cancel first so background loops start unwinding immediately.
	a.sup.Cancel()

	a.step(ctx, "telegram", 2*time.Second, func(c context.Context) error {
		if a.bot != nil {
			a.bot.Stop(c)
		}
		return nil
	})
	a.step(ctx, "api", 2*time.Second, func(c context.Context) error { a.api.Stop(c); return nil })
	a.step(ctx, "scheduler", 5*time.Second, a.ctrl.Stop)
	a.step(ctx, "notifier", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	a.step(ctx, "supervisor", 2*time.Second, a.sup.Wait)
	a.step(ctx, "storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// step runs one shutdown step bounded by max and the caller's deadline.
// A step that overruns is logged and left to finish in the background.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		if took := time.Since(start); took >= 500*time.Millisecond {
			a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
		}
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Err(stepCtx.Err()),
			logx.Duration("elapsed", time.Since(start)),
		)
		go func() {
			err := <-done
			a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", time.Since(start)))
		}()
	}
}

// botControl roots bot starts at the app context, so a start requested over
// HTTP or Telegram outlives the request.
type botControl struct {
	*scheduler.Controller
	app *App
}

func (b *botControl) Start(ctx context.Context) error {
	if b.app.sup == nil {
		return scheduler.ErrStopped
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.Controller.Start(b.app.sup.Context())
}
