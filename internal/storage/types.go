package storage

import (
	"errors"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrClosed   = errors.New("storage closed")
)

// Config configures storage.
//
// Driver values:
//   - "file": JSON Lines journal plus msgpack snapshot
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	// CompactEvery is the number of journal writes between file-driver
	// snapshots. 0 means 1000.
	CompactEvery int
	// KeepTransitions bounds the journal per profile. 0 means 500.
	KeepTransitions int
}

// Schedule is the persisted part of a task unit.
type Schedule struct {
	ProfileID string    `json:"profile_id" msgpack:"p"`
	Task      string    `json:"task" msgpack:"t"`
	NextRun   time.Time `json:"next_run" msgpack:"n"`
	LastRun   time.Time `json:"last_run" msgpack:"l"`
	Recurring bool      `json:"recurring" msgpack:"r"`
	Failures  int       `json:"failures" msgpack:"f"`
	UpdatedAt time.Time `json:"updated_at" msgpack:"u"`
}

func (s Schedule) key() string { return s.ProfileID + "\x00" + s.Task }

// Transition records one finished run. Keep it compact and schema-stable.
type Transition struct {
	RunID     string        `json:"run_id"`
	ProfileID string        `json:"profile_id"`
	Task      string        `json:"task"`
	State     string        `json:"state"`
	Kind      string        `json:"kind"`
	Reason    string        `json:"reason,omitempty"`
	NextRun   time.Time     `json:"next_run,omitempty"`
	Duration  time.Duration `json:"duration"`
	At        time.Time     `json:"at"`
}

func (c Config) keepTransitions() int {
	if c.KeepTransitions <= 0 {
		return 500
	}
	return c.KeepTransitions
}
