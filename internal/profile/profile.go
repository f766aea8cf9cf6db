// Package profile describes one automation target bound to one emulator instance.
package profile

import (
	"sort"
	"strings"
	"time"
)

const (
	DefaultPriority         = 50
	DefaultReconnectionTime = 10 * time.Minute
)

// IdleBehavior says what to do with the emulator while nothing is due.
type IdleBehavior string

const (
	IdleCloseEmulator    IdleBehavior = "CLOSE_EMULATOR"
	IdleSendToBackground IdleBehavior = "SEND_TO_BACKGROUND"
	IdleDoNothing        IdleBehavior = "DO_NOTHING"
)

// ParseIdleBehavior falls back to IdleCloseEmulator for empty or unknown values.
func ParseIdleBehavior(s string) IdleBehavior {
	switch b := IdleBehavior(strings.ToUpper(strings.TrimSpace(s))); b {
	case IdleCloseEmulator, IdleSendToBackground, IdleDoNothing:
		return b
	default:
		return IdleCloseEmulator
	}
}

// Character identifies the in-game character a profile must be logged in as.
type Character struct {
	ID           string
	Name         string
	AllianceCode string
	Server       string
}

func (c Character) IsZero() bool {
	return strings.TrimSpace(c.ID) == "" && strings.TrimSpace(c.Name) == ""
}

// TaskToggle enables one task type for a profile. Offset overrides the
// task's default reschedule offset when > 0.
type TaskToggle struct {
	Enabled bool
	Offset  time.Duration
}

type Profile struct {
	ID               string
	Name             string
	Enabled          bool
	Priority         int
	Emulator         int
	ReconnectionTime time.Duration
	Character        Character
	IdleBehavior     IdleBehavior

	Tasks    map[string]TaskToggle
	Settings map[string]string
}

// WithDefaults fills zero fields.
func (p Profile) WithDefaults() Profile {
	if p.Priority == 0 {
		p.Priority = DefaultPriority
	}
	if p.ReconnectionTime <= 0 {
		p.ReconnectionTime = DefaultReconnectionTime
	}
	if p.IdleBehavior == "" {
		p.IdleBehavior = IdleCloseEmulator
	}
	if strings.TrimSpace(p.Name) == "" {
		p.Name = p.ID
	}
	return p
}

// TaskEnabled reports whether the task type is switched on.
func (p Profile) TaskEnabled(taskType string) bool {
	t, ok := p.Tasks[taskType]
	return ok && t.Enabled
}

// Offset returns the configured offset for taskType, or def.
func (p Profile) Offset(taskType string, def time.Duration) time.Duration {
	if t, ok := p.Tasks[taskType]; ok && t.Offset > 0 {
		return t.Offset
	}
	return def
}

// Setting returns a free-form setting value.
func (p Profile) Setting(key string) (string, bool) {
	v, ok := p.Settings[key]
	return v, ok
}

// Equal reports whether two profiles would produce the same worker.
func (p Profile) Equal(o Profile) bool {
	if p.ID != o.ID || p.Name != o.Name || p.Enabled != o.Enabled || p.Priority != o.Priority ||
		p.Emulator != o.Emulator || p.ReconnectionTime != o.ReconnectionTime ||
		p.Character != o.Character || p.IdleBehavior != o.IdleBehavior {
		return false
	}
	if len(p.Tasks) != len(o.Tasks) || len(p.Settings) != len(o.Settings) {
		return false
	}
	for k, v := range p.Tasks {
		if ov, ok := o.Tasks[k]; !ok || ov != v {
			return false
		}
	}
	for k, v := range p.Settings {
		if ov, ok := o.Settings[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// SortByPriority orders profiles highest priority first, then by ID.
func SortByPriority(ps []Profile) {
	sort.SliceStable(ps, func(i, j int) bool {
		if ps[i].Priority != ps[j].Priority {
			return ps[i].Priority > ps[j].Priority
		}
		return ps[i].ID < ps[j].ID
	})
}
