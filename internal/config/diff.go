package config

import (
	"reflect"
	"sort"
	"strings"

	logx "wosbot/pkg/logx"
)

// ProfileChanges lists profile ids by how they differ between two configs.
type ProfileChanges struct {
	Added   []string
	Removed []string
	Changed []string
}

func (p ProfileChanges) Empty() bool {
	return len(p.Added) == 0 && len(p.Removed) == 0 && len(p.Changed) == 0
}

// SummarizeConfigChange returns the changed section names, log-safe attrs
// (tokens are never included) and the per-profile delta.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, ProfileChanges) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	var (
		changed []string
		attrs   []logx.Field
	)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if ot.Token != nt.Token || ot.ChatID != nt.ChatID || ot.ThreadID != nt.ThreadID ||
		strings.TrimSpace(ot.Timeout) != strings.TrimSpace(nt.Timeout) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.token_set", strings.TrimSpace(nt.Token) != ""),
			logx.Bool("telegram.token_changed", ot.Token != nt.Token),
			logx.Int64("telegram.chat_id", nt.ChatID),
		)
	}

	if !reflect.DeepEqual(derefStorage(oldCfg.Storage), derefStorage(newCfg.Storage)) {
		changed = append(changed, "storage")
		s := derefStorage(newCfg.Storage)
		attrs = append(attrs, logx.String("storage.driver", s.Driver), logx.String("storage.path", s.Path))
	}

	if !reflect.DeepEqual(oldCfg.Engine, newCfg.Engine) {
		changed = append(changed, "engine")
		attrs = append(attrs,
			logx.String("engine.tick", newCfg.Engine.Tick),
			logx.String("engine.game_reset", newCfg.Engine.GameReset),
		)
	}

	if !reflect.DeepEqual(derefNotifier(oldCfg.Notifier), derefNotifier(newCfg.Notifier)) {
		changed = append(changed, "notifier")
		n := derefNotifier(newCfg.Notifier)
		attrs = append(attrs, logx.Bool("notifier.enabled", n.Enabled), logx.Int("notifier.workers", n.Workers))
	}

	oa, na := oldCfg.API, newCfg.API
	if oa != na {
		changed = append(changed, "api")
		attrs = append(attrs,
			logx.Bool("api.enabled", na.Enabled),
			logx.String("api.addr", na.Addr),
			logx.Bool("api.token_set", na.Token != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.Automation, newCfg.Automation) {
		changed = append(changed, "automation")
		attrs = append(attrs, logx.String("automation.driver", newCfg.Automation.Driver))
	}

	pc := DiffProfiles(oldCfg.Profiles, newCfg.Profiles)
	if !pc.Empty() {
		changed = append(changed, "profiles")
		attrs = append(attrs,
			logx.Int("profiles.count", len(newCfg.Profiles)),
			logx.Any("profiles.added", pc.Added),
			logx.Any("profiles.removed", pc.Removed),
			logx.Any("profiles.changed", pc.Changed),
		)
	}
	return changed, attrs, pc
}

// DiffProfiles compares profile entries by id.
func DiffProfiles(oldPs, newPs []ProfileConfig) ProfileChanges {
	index := func(ps []ProfileConfig) map[string]ProfileConfig {
		m := make(map[string]ProfileConfig, len(ps))
		for _, p := range ps {
			m[strings.TrimSpace(p.ID)] = p
		}
		return m
	}
	om, nm := index(oldPs), index(newPs)

	var out ProfileChanges
	for id, n := range nm {
		o, ok := om[id]
		switch {
		case !ok:
			out.Added = append(out.Added, id)
		case !reflect.DeepEqual(o, n):
			out.Changed = append(out.Changed, id)
		}
	}
	for id := range om {
		if _, ok := nm[id]; !ok {
			out.Removed = append(out.Removed, id)
		}
	}
	sort.Strings(out.Added)
	sort.Strings(out.Removed)
	sort.Strings(out.Changed)
	return out
}

func derefStorage(s *StorageConfig) StorageConfig {
	if s == nil {
		return StorageConfig{}
	}
	return *s
}

func derefNotifier(n *NotifierConfig) NotifierConfig {
	if n == nil {
		return NotifierConfig{}
	}
	return *n
}
