package unit

import (
	"sync"
	"time"
)

// VarEmulatorStarted records that the emulator was seen running. Whoever
// closes the emulator clears it.
const VarEmulatorStarted = "emulator.started"

// Unit is the per-profile, per-type task instance held in a Profile Queue.
//
// Schedule fields are written by the owning queue (under its lock) or by the
// worker while the unit is in flight. Vars survive across runs and retries
// and are cleared only explicitly.
type Unit struct {
	Def       *Definition
	ProfileID string

	NextRun   time.Time
	LastRun   time.Time
	Recurring bool
	State     State
	Reason    string

	// Failures counts consecutive unexpected failures; Ok resets it.
	Failures int

	varsMu sync.Mutex
	vars   map[string]any
}

func New(def *Definition, profileID string, next time.Time) *Unit {
	return &Unit{
		Def:       def,
		ProfileID: profileID,
		NextRun:   next,
		Recurring: def.Recurring,
		State:     StateScheduled,
	}
}

func (u *Unit) Type() TaskType { return u.Def.Type }

func (u *Unit) Priority() int { return u.Def.Priority }

func (u *Unit) Var(key string) (any, bool) {
	u.varsMu.Lock()
	defer u.varsMu.Unlock()
	v, ok := u.vars[key]
	return v, ok
}

// Flag reads a boolean var; missing or non-bool values are false.
func (u *Unit) Flag(key string) bool {
	v, _ := u.Var(key)
	b, _ := v.(bool)
	return b
}

func (u *Unit) SetVar(key string, v any) {
	u.varsMu.Lock()
	if u.vars == nil {
		u.vars = make(map[string]any)
	}
	u.vars[key] = v
	u.varsMu.Unlock()
}

func (u *Unit) DeleteVar(key string) {
	u.varsMu.Lock()
	delete(u.vars, key)
	u.varsMu.Unlock()
}

// Vars returns a copy of the unit's vars.
func (u *Unit) Vars() map[string]any {
	u.varsMu.Lock()
	defer u.varsMu.Unlock()
	out := make(map[string]any, len(u.vars))
	for k, v := range u.vars {
		out[k] = v
	}
	return out
}

// Snapshot is a read-only copy of a unit's schedule.
type Snapshot struct {
	ProfileID string    `json:"profile_id"`
	Type      TaskType  `json:"type"`
	Name      string    `json:"name"`
	State     State     `json:"state"`
	NextRun   time.Time `json:"next_run"`
	LastRun   time.Time `json:"last_run"`
	Recurring bool      `json:"recurring"`
	Failures  int       `json:"failures"`
	Reason    string    `json:"reason,omitempty"`
}

func (u *Unit) Snapshot() Snapshot {
	return Snapshot{
		ProfileID: u.ProfileID,
		Type:      u.Def.Type,
		Name:      u.Def.Name,
		State:     u.State,
		NextRun:   u.NextRun,
		LastRun:   u.LastRun,
		Recurring: u.Recurring,
		Failures:  u.Failures,
		Reason:    u.Reason,
	}
}
