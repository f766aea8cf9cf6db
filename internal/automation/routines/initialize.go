package routines

import (
	"context"
	"fmt"
	"time"

	"wosbot/internal/automation"
	"wosbot/internal/task/unit"
	logx "wosbot/pkg/logx"
)

const (
	emulatorLaunchWait   = 10 * time.Second
	emulatorLaunchTries  = 30
	appLaunchWait        = 10 * time.Second
	homeScreenAttempts   = 10
	homeScreenRetryDelay = 5 * time.Second
)

// Initialize brings a profile's session up: emulator running, game installed
// and running, home screen visible, and the configured character active.
// It runs once per session; on success it is dropped from the queue.
type Initialize struct {
	dev automation.Devices
}

func (r *Initialize) Run(ctx context.Context, x *unit.Exec) unit.Result {
	x.SetRecurring(false)
	sc := screen(x, r.dev)
	emu := x.Profile.Emulator
	x.Log.Info("initialization starting", logx.Int("emulator", emu))

	if err := r.ensureEmulator(ctx, x); err != nil {
		return failed(ctx, err)
	}

	installed, err := r.dev.Emulator.IsAppInstalled(ctx, emu)
	if err != nil {
		return failed(ctx, err)
	}
	if !installed {
		x.Log.Error("game is not installed, stopping the queue")
		return unit.Fatal("game not installed")
	}

	running, err := r.dev.Emulator.IsAppRunning(ctx, emu)
	if err != nil {
		return failed(ctx, err)
	}
	if !running {
		x.Log.Info("game not running, launching")
		if err := r.dev.Emulator.LaunchApp(ctx, emu); err != nil {
			return failed(ctx, err)
		}
		if err := sc.Sleep(ctx, appLaunchWait); err != nil {
			return failed(ctx, err)
		}
	}

	home, res := r.waitForHome(ctx, sc, x)
	if res != nil {
		return *res
	}
	if !home {
		return r.homeNotFound(ctx, x)
	}

	if !x.Profile.Character.IsZero() {
		ch := &characterSwitch{sc: sc, log: x.Log}
		ok, err := ch.verify(ctx, x.Profile.Character)
		if err != nil {
			return failed(ctx, err)
		}
		if !ok {
			x.Log.Info("active character does not match, switching")
			switched, err := ch.switchTo(ctx, x.Profile.Character)
			if err != nil {
				return failed(ctx, err)
			}
			if !switched {
				x.DeleteVar(VarEmulatorStarted)
				return unit.Fatal(fmt.Sprintf("character %q not found", x.Profile.Character.Name))
			}
			if err := sc.Sleep(ctx, characterReloadDelay); err != nil {
				return failed(ctx, err)
			}
			home, res := r.waitForHome(ctx, sc, x)
			if res != nil {
				return *res
			}
			if !home {
				return r.homeNotFound(ctx, x)
			}
		}
	}

	x.Log.Info("initialization complete")
	return unit.Ok()
}

func (r *Initialize) ensureEmulator(ctx context.Context, x *unit.Exec) error {
	emu := x.Profile.Emulator
	for i := 0; !x.Flag(VarEmulatorStarted); i++ {
		if i >= emulatorLaunchTries {
			return fmt.Errorf("emulator %d did not start after %d launch attempts", emu, emulatorLaunchTries)
		}
		running, err := r.dev.Emulator.IsRunning(ctx, emu)
		if err != nil {
			return err
		}
		if running {
			x.SetVar(VarEmulatorStarted, true)
			x.Log.Info("emulator is running")
			break
		}
		x.Log.Info("emulator not running, launching", logx.Int("attempt", i+1))
		if err := r.dev.Emulator.Launch(ctx, emu); err != nil {
			return err
		}
		if err := x.Sleep(ctx, emulatorLaunchWait); err != nil {
			return err
		}
	}
	return nil
}

// waitForHome reports whether the home screen appeared. A non-nil Result
// means the routine must return it (reconnect prompt or device failure).
func (r *Initialize) waitForHome(ctx context.Context, sc *automation.Screen, x *unit.Exec) (bool, *unit.Result) {
	once := automation.SearchConfig{Threshold: 90, MaxAttempts: 1}
	for i := 0; i < homeScreenAttempts; i++ {
		world, err := sc.FindWith(ctx, automation.TplWorldButton, once)
		if err != nil {
			res := failed(ctx, err)
			return false, &res
		}
		city, err := sc.FindWith(ctx, automation.TplCityButton, once)
		if err != nil {
			res := failed(ctx, err)
			return false, &res
		}
		if world.Found || city.Found {
			x.Log.Info("home screen found")
			return true, nil
		}

		reconnect, err := sc.FindWith(ctx, automation.TplReconnect, automation.SearchConfig{Threshold: 90, MaxAttempts: 2})
		if err != nil {
			res := failed(ctx, err)
			return false, &res
		}
		if reconnect.Found {
			res := unit.Reconnect("reconnect prompt on screen")
			return false, &res
		}

		x.Log.Warn("home screen not found, retrying", logx.Int("attempt", i+1))
		if err := sc.Back(ctx); err != nil {
			res := failed(ctx, err)
			return false, &res
		}
		if err := sc.Sleep(ctx, homeScreenRetryDelay); err != nil {
			res := failed(ctx, err)
			return false, &res
		}
	}
	return false, nil
}

// homeNotFound restarts the session: close the emulator and run again now.
func (r *Initialize) homeNotFound(ctx context.Context, x *unit.Exec) unit.Result {
	x.Log.Error("home screen not found, restarting the emulator", logx.Int("attempts", homeScreenAttempts))
	if err := r.dev.Emulator.Close(ctx, x.Profile.Emulator); err != nil {
		return failed(ctx, err)
	}
	x.DeleteVar(VarEmulatorStarted)
	x.SetRecurring(true)
	_ = x.Reschedule(x.Now())
	return unit.Ok()
}
