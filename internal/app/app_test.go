package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"wosbot/internal/config"
	"wosbot/internal/task/delay"
	"wosbot/internal/task/queue"
	"wosbot/internal/task/worker"
)

const baseConfig = `
logging:
  level: error
storage:
  driver: file
  path: %s
engine:
  auto_start: false
  idle_threshold: "off"
automation:
  driver: dryrun
  dryrun:
    time_scale: 1000
profiles:
  - id: main
    name: Main
    emulator: 0
    tasks:
      exploration: { enabled: true }
`

const secondProfile = `
  - id: farm
    name: Farm
    emulator: 1
    priority: 10
`

func writeConfig(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
}

func TestMapEngine(t *testing.T) {
	t.Parallel()

	eng, err := mapEngine(&config.Config{})
	require.NoError(t, err)
	require.Equal(t, worker.DefaultTick, eng.worker.Tick)
	require.Equal(t, worker.DefaultIdleThreshold, eng.worker.IdleThreshold)
	require.InDelta(t, 0.2, eng.worker.Backoff.Jitter, 1e-9)
	require.True(t, eng.autoStart)
	require.Nil(t, eng.worker.Sleeper)
	require.NotNil(t, eng.reset)

	off, jitter := false, 0.0
	eng, err = mapEngine(&config.Config{
		Engine: config.EngineConfig{
			IdleThreshold: "off",
			BackoffJitter: &jitter,
			AutoStart:     &off,
			SafetyRetry:   "2m",
		},
		Automation: config.AutomationConfig{DryRun: config.DryRunConfig{TimeScale: 10}},
	})
	require.NoError(t, err)
	require.Negative(t, eng.worker.IdleThreshold)
	require.Zero(t, eng.worker.Backoff.Jitter)
	require.False(t, eng.autoStart)
	require.Equal(t, 2*time.Minute, eng.worker.SafetyRetry)
	require.Equal(t, delay.Scaled{Factor: 10}, eng.worker.Sleeper)

	_, err = mapEngine(&config.Config{Engine: config.EngineConfig{Tick: "soon", GameReset: "bogus"}})
	require.ErrorContains(t, err, "engine.tick")
	require.ErrorContains(t, err, "engine.game_reset")
}

func TestMapNotifierNeedsSender(t *testing.T) {
	t.Parallel()

	n, err := mapNotifier(&config.Config{}, false)
	require.NoError(t, err)
	require.False(t, n.Enabled)

	n, err = mapNotifier(&config.Config{}, true)
	require.NoError(t, err)
	require.True(t, n.Enabled)
	require.Equal(t, 10*time.Minute, n.DedupWindow)
}

func TestValidateConfigRejectsUnknownTask(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{Profiles: []config.ProfileConfig{{
		ID:    "main",
		Tasks: map[string]config.TaskConfig{"exploration": {Enabled: true}, "fishing": {Enabled: true}},
	}}}
	err := ValidateConfig(cfg)
	require.ErrorContains(t, err, `unknown task "fishing"`)
	require.NotContains(t, err.Error(), "exploration")

	require.Contains(t, TaskNames(), "exploration")
}

func TestAppLifecycleAndReload(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := fmt.Sprintf(baseConfig, filepath.Join(dir, "state"))
	writeConfig(t, path, body)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := New(ctx, path, Options{Version: "test"})
	require.NoError(t, err)
	require.Nil(t, a.bot)
	require.False(t, a.notif.Enabled())
	require.NoError(t, a.Start(ctx))
	require.Equal(t, queue.RunStopped, a.Controller().State())

	// A start requested with a short-lived context keeps running.
	reqCtx, reqCancel := context.WithCancel(ctx)
	require.NoError(t, a.control.Start(reqCtx))
	reqCancel()
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, queue.RunRunning, a.Controller().State())

	writeConfig(t, path, body+secondProfile)
	require.NoError(t, a.Reload(ctx))
	require.Eventually(t, func() bool { return len(a.Controller().Profiles()) == 2 }, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, "farm", a.Config().Profiles[1].ID)

	writeConfig(t, path, body+"\n  - id: main\n")
	require.Error(t, a.Reload(ctx))
	require.Len(t, a.Config().Profiles, 2)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	require.NoError(t, a.Stop(stopCtx, StopAppStop))
	require.Equal(t, queue.RunStopped, a.Controller().State())
	<-a.Done()
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, "profiles:\n  - id: a\n    tasks:\n      nope: { enabled: true }\n")

	_, err := New(context.Background(), path, Options{})
	require.ErrorContains(t, err, "unknown task")
}
