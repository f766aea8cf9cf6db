// Package status keeps the latest execution status per (profile, task type)
// so observers can read it without touching the worker's queue.
package status

import (
	"sort"
	"sync"
	"time"

	"wosbot/internal/eventbus"
	"wosbot/internal/task/unit"
)

// Key identifies one entry.
type Key struct {
	ProfileID string
	Task      unit.TaskType
}

// Entry is the most recent status written for a Key.
type Entry struct {
	ProfileID string        `json:"profile_id"`
	Task      unit.TaskType `json:"task"`
	State     unit.State    `json:"state"`
	LastRun   time.Time     `json:"last_run,omitempty"`
	NextRun   time.Time     `json:"next_run,omitempty"`
	Reason    string        `json:"reason,omitempty"`
	Failures  int           `json:"failures,omitempty"`
	RunID     string        `json:"run_id,omitempty"`
	Duration  time.Duration `json:"duration,omitempty"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Registry is safe for concurrent use; reads never block writers.
type Registry struct {
	m   sync.Map // Key -> Entry
	bus eventbus.Bus
	now func() time.Time
}

// New creates a registry. When bus is non-nil every Update is also published
// on eventbus.TopicTaskStatus.
func New(bus eventbus.Bus) *Registry {
	return &Registry{bus: bus, now: time.Now}
}

// Update stores e (last write wins) and publishes it.
func (r *Registry) Update(e Entry) {
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = r.now()
	}
	r.m.Store(Key{ProfileID: e.ProfileID, Task: e.Task}, e)
	if r.bus != nil {
		r.bus.Publish(eventbus.Event{Topic: eventbus.TopicTaskStatus, Time: e.UpdatedAt, Data: e})
	}
}

func (r *Registry) Get(profileID string, task unit.TaskType) (Entry, bool) {
	v, ok := r.m.Load(Key{ProfileID: profileID, Task: task})
	if !ok {
		return Entry{}, false
	}
	return v.(Entry), true
}

// Delete forgets one entry. Used when a unit is dropped.
func (r *Registry) Delete(profileID string, task unit.TaskType) {
	r.m.Delete(Key{ProfileID: profileID, Task: task})
}

// DeleteProfile forgets every entry of a profile.
func (r *Registry) DeleteProfile(profileID string) {
	r.m.Range(func(k, _ any) bool {
		if k.(Key).ProfileID == profileID {
			r.m.Delete(k)
		}
		return true
	})
}

// Snapshot returns all entries sorted by profile then task.
func (r *Registry) Snapshot() []Entry {
	var out []Entry
	r.m.Range(func(_, v any) bool {
		out = append(out, v.(Entry))
		return true
	})
	sortEntries(out)
	return out
}

// Profile returns one profile's entries sorted by task.
func (r *Registry) Profile(profileID string) []Entry {
	var out []Entry
	r.m.Range(func(k, v any) bool {
		if k.(Key).ProfileID == profileID {
			out = append(out, v.(Entry))
		}
		return true
	})
	sortEntries(out)
	return out
}

func sortEntries(es []Entry) {
	sort.Slice(es, func(i, j int) bool {
		if es[i].ProfileID != es[j].ProfileID {
			return es[i].ProfileID < es[j].ProfileID
		}
		return es[i].Task < es[j].Task
	})
}
