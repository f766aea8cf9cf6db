package config

import (
	"bytes"
	"errors"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"wosbot/internal/profile"
	logx "wosbot/pkg/logx"
)

const sampleYAML = `
logging:
  level: debug
  console: true
telegram:
  token: ""
storage:
  driver: sqlite
  path: ./data/wosbot.db
engine:
  tick: 2s
  game_reset: "0 0 * * *"
automation:
  driver: dryrun
profiles:
  - id: main
    emulator: 0
    priority: 80
    reconnection_time: 15m
    idle_behavior: send_to_background
    character:
      name: Alice
    tasks:
      daily_mission: { enabled: true }
      nomadic_merchant: { enabled: true, offset: 1h }
  - id: farm
    enabled: false
    emulator: 1
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	m := NewManager(writeFile(t, "config.yaml", sampleYAML))
	cfg, err := m.Load(context.Background())
	require.NoError(t, err)
	require.Same(t, cfg, m.Get())
	require.NoError(t, Validate(cfg))

	require.Equal(t, "debug", cfg.Logging.Level)
	require.Equal(t, "sqlite", cfg.Storage.Driver)

	ps, err := cfg.ProfileList()
	require.NoError(t, err)
	require.Len(t, ps, 2)
	main := ps[0]
	require.Equal(t, "main", main.ID)
	require.Equal(t, "main", main.Name)
	require.True(t, main.Enabled)
	require.Equal(t, 15*time.Minute, main.ReconnectionTime)
	require.Equal(t, profile.IdleSendToBackground, main.IdleBehavior)
	require.Equal(t, "Alice", main.Character.Name)
	require.True(t, main.TaskEnabled("daily_mission"))
	require.Equal(t, time.Hour, main.Offset("nomadic_merchant", 0))

	farm := ps[1]
	require.False(t, farm.Enabled)
	require.Equal(t, profile.DefaultPriority, farm.Priority)
	require.Equal(t, profile.DefaultReconnectionTime, farm.ReconnectionTime)
}

func TestDecodeStrict(t *testing.T) {
	t.Parallel()
	_, err := Decode("c.json", []byte(`{"profiles":[],"bogus":1}`))
	require.Error(t, err)

	_, err = Decode("c.json", []byte(`{"profiles":[]} {}`))
	require.Error(t, err)

	_, err = Decode("c.yaml", []byte("engine:\n  tick: 1s\n  unknown: x\n"))
	require.Error(t, err)

	cfg, err := Decode("c.yml", []byte(""))
	require.NoError(t, err)
	require.Empty(t, cfg.Profiles)
}

func TestValidate(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		cfg  Config
	}{
		{"missing id", Config{Profiles: []ProfileConfig{{Emulator: 1}}}},
		{"duplicate id", Config{Profiles: []ProfileConfig{{ID: "a"}, {ID: "a"}}}},
		{"bad offset", Config{Profiles: []ProfileConfig{{ID: "a", Tasks: map[string]TaskConfig{"x": {Enabled: true, Offset: "soon"}}}}}},
		{"bad storage", Config{Storage: &StorageConfig{Driver: "redis"}}},
		{"storage without path", Config{Storage: &StorageConfig{Driver: "file"}}},
		{"bad reset", Config{Engine: EngineConfig{GameReset: "every day"}}},
		{"bad timezone", Config{Engine: EngineConfig{ResetTimezone: "Mars/Base"}}},
		{"negative tick", Config{Engine: EngineConfig{Tick: "-1s"}}},
		{"chat id", Config{Telegram: TelegramConfig{Token: "t"}}},
		{"driver", Config{Automation: AutomationConfig{Driver: "adb"}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Error(t, Validate(&tc.cfg))
		})
	}
	require.NoError(t, Validate(&Config{Engine: EngineConfig{IdleThreshold: "off"}}))
	require.Error(t, Validate(nil))
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{
		Telegram: TelegramConfig{Token: "secret-1", ChatID: 1},
		Profiles: []ProfileConfig{{ID: "a"}, {ID: "b", Priority: 1}},
	}
	newCfg := &Config{
		Telegram: TelegramConfig{Token: "secret-2", ChatID: 1},
		Profiles: []ProfileConfig{{ID: "b", Priority: 2}, {ID: "c"}},
	}
	sections, attrs, pc := SummarizeConfigChange(oldCfg, newCfg)
	require.Equal(t, []string{"telegram", "profiles"}, sections)
	require.Equal(t, ProfileChanges{Added: []string{"c"}, Removed: []string{"a"}, Changed: []string{"b"}}, pc)
	var buf bytes.Buffer
	logx.NewWriter(&buf, "info").Info("config changed", attrs...)
	require.Contains(t, buf.String(), "token_changed")
	require.NotContains(t, buf.String(), "secret")

	sections, _, pc = SummarizeConfigChange(newCfg, newCfg)
	require.Empty(t, sections)
	require.True(t, pc.Empty())
}

func TestReloadPublishesOnlyValidChanges(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.json", `{"profiles":[{"id":"a"}]}`)
	m := NewManager(path)
	m.SetValidator(func(_ context.Context, cfg *Config) error { return Validate(cfg) })
	_, err := m.Load(context.Background())
	require.NoError(t, err)

	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	_, err = m.Reload(context.Background())
	require.ErrorIs(t, err, ErrUnchanged)

	require.NoError(t, os.WriteFile(path, []byte(`{"profiles":[{"id":"a"},{"id":"a"}]}`), 0o600))
	_, err = m.Reload(context.Background())
	require.Error(t, err)
	require.Len(t, m.Get().Profiles, 1)

	require.NoError(t, os.WriteFile(path, []byte(`{"profiles":[{"id":"a"},{"id":"b"}]}`), 0o600))
	cfg, err := m.Reload(context.Background())
	require.NoError(t, err)
	require.Len(t, cfg.Profiles, 2)
	require.Same(t, cfg, <-ch)
}

func TestWatchReloadsOnWrite(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.json", `{"profiles":[]}`)
	m := NewManager(path)
	m.debounce = 20 * time.Millisecond
	_, err := m.Load(context.Background())
	require.NoError(t, err)
	ch := m.Subscribe(1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx) }()

	// Keep writing until the watcher is up and has seen a change.
	require.Eventually(t, func() bool {
		_ = os.WriteFile(path, []byte(`{"profiles":[{"id":"new"}]}`), 0o600)
		select {
		case cfg := <-ch:
			return len(cfg.Profiles) == 1 && cfg.Profiles[0].ID == "new"
		case <-time.After(50 * time.Millisecond):
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestDurationFields(t *testing.T) {
	t.Parallel()
	d, err := Duration("x", "")
	require.NoError(t, err)
	require.Zero(t, d)

	d, err = DurationOr("x", "0s", time.Minute)
	require.NoError(t, err)
	require.Equal(t, time.Minute, d)

	d, err = Switchable("engine.idle_threshold", " OFF ", time.Minute)
	require.NoError(t, err)
	require.Equal(t, DurationOff, d)

	d, err = Switchable("engine.idle_threshold", "", 15*time.Minute)
	require.NoError(t, err)
	require.Equal(t, 15*time.Minute, d)

	_, err = DurationOr("engine.tick", "-1s", time.Second)
	var fe *FieldError
	require.True(t, errors.As(err, &fe))
	require.Equal(t, "engine.tick", fe.Path)

	_, err = Duration("profiles.main.reconnection_time", "ten minutes")
	require.ErrorContains(t, err, "profiles.main.reconnection_time")
}
