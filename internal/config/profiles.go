package config

import (
	"errors"
	"fmt"
	"strings"

	"wosbot/internal/profile"
	"wosbot/internal/task/policy"
)

// Profile converts the config entry. Durations are validated here.
func (p ProfileConfig) Profile() (profile.Profile, error) {
	path := "profiles." + p.ID
	reconnect, err := Duration(path+".reconnection_time", p.ReconnectionTime)
	if err != nil {
		return profile.Profile{}, err
	}
	out := profile.Profile{
		ID:               strings.TrimSpace(p.ID),
		Name:             strings.TrimSpace(p.Name),
		Enabled:          p.Enabled == nil || *p.Enabled,
		Priority:         p.Priority,
		Emulator:         p.Emulator,
		ReconnectionTime: reconnect,
		IdleBehavior:     profile.ParseIdleBehavior(p.IdleBehavior),
		Character: profile.Character{
			ID:           strings.TrimSpace(p.Character.ID),
			Name:         strings.TrimSpace(p.Character.Name),
			AllianceCode: strings.TrimSpace(p.Character.AllianceCode),
			Server:       strings.TrimSpace(p.Character.Server),
		},
		Tasks:    make(map[string]profile.TaskToggle, len(p.Tasks)),
		Settings: p.Settings,
	}
	for name, t := range p.Tasks {
		off, err := Duration(path+".tasks."+name+".offset", t.Offset)
		if err != nil {
			return profile.Profile{}, err
		}
		out.Tasks[name] = profile.TaskToggle{Enabled: t.Enabled, Offset: off}
	}
	return out.WithDefaults(), nil
}

// ProfileList converts every profile, sorted by priority.
func (c *Config) ProfileList() ([]profile.Profile, error) {
	out := make([]profile.Profile, 0, len(c.Profiles))
	for _, pc := range c.Profiles {
		p, err := pc.Profile()
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	profile.SortByPriority(out)
	return out, nil
}

// Validate performs the structural checks that do not need the task catalog.
func Validate(c *Config) error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	_, err := Duration("telegram.timeout", c.Telegram.Timeout)
	add(err)
	if strings.TrimSpace(c.Telegram.Token) != "" && c.Telegram.ChatID == 0 {
		add(errors.New("telegram.chat_id is required when telegram.token is set"))
	}

	if s := c.Storage; s != nil {
		switch d := strings.ToLower(strings.TrimSpace(s.Driver)); d {
		case "", "none":
		case "file", "sqlite", "sqlite3":
			if strings.TrimSpace(s.Path) == "" {
				add(fmt.Errorf("storage.path is required for driver %q", d))
			}
		default:
			add(fmt.Errorf("storage.driver: unknown driver %q", s.Driver))
		}
		_, err := Duration("storage.busy_timeout", s.BusyTimeout)
		add(err)
	}

	e := c.Engine
	for path, raw := range map[string]string{
		"engine.tick":           e.Tick,
		"engine.safety_retry":   e.SafetyRetry,
		"engine.soft_retry":     e.SoftRetry,
		"engine.reconnect_poll": e.ReconnectPoll,
		"engine.backoff_base":   e.BackoffBase,
		"engine.backoff_max":    e.BackoffMax,
		"engine.reset_margin":   e.ResetMargin,
	} {
		_, err := Duration(path, raw)
		add(err)
	}
	_, err = Switchable("engine.idle_threshold", e.IdleThreshold, 0)
	add(err)
	if j := e.BackoffJitter; j != nil && (*j < 0 || *j > 1) {
		add(errors.New("engine.backoff_jitter must be within [0,1]"))
	}
	if _, err := policy.NewResetClock(e.GameReset, e.ResetTimezone, 0); err != nil {
		add(fmt.Errorf("engine.game_reset: %w", err))
	}

	if n := c.Notifier; n != nil {
		for path, raw := range map[string]string{
			"notifier.retry_base":      n.RetryBase,
			"notifier.retry_max_delay": n.RetryMaxDelay,
			"notifier.dedup_window":    n.DedupWindow,
		} {
			_, err := Duration(path, raw)
			add(err)
		}
	}

	_, err = Duration("api.request_timeout", c.API.RequestTimeout)
	add(err)

	switch d := strings.ToLower(strings.TrimSpace(c.Automation.Driver)); d {
	case "", "dryrun":
	default:
		add(fmt.Errorf("automation.driver: unknown driver %q", c.Automation.Driver))
	}

	seen := map[string]bool{}
	for i, p := range c.Profiles {
		id := strings.TrimSpace(p.ID)
		if id == "" {
			add(fmt.Errorf("profiles[%d].id is required", i))
			continue
		}
		if seen[id] {
			add(fmt.Errorf("profiles: duplicate id %q", id))
		}
		seen[id] = true
		_, err := p.Profile()
		add(err)
	}
	return errors.Join(errs...)
}
