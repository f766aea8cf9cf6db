// Package scheduler is the bot controller: it owns one queue and one worker
// per enabled profile and exposes the global and per-profile controls.
package scheduler

import (
	"errors"
	"time"

	"wosbot/internal/profile"
	"wosbot/internal/task/queue"
	"wosbot/internal/task/unit"
)

var (
	ErrUnknownProfile = errors.New("scheduler: unknown profile")
	ErrNotRunning     = errors.New("scheduler: profile has no running worker")
)

// BotEvent is published on eventbus.TopicBotState.
type BotEvent struct {
	State  queue.RunState `json:"state"`
	Reason string         `json:"reason,omitempty"`
	At     time.Time      `json:"at"`
}

// ProfileEvent is published on eventbus.TopicProfileState.
type ProfileEvent struct {
	ProfileID      string         `json:"profile_id"`
	Name           string         `json:"name"`
	State          queue.RunState `json:"state"`
	Reason         string         `json:"reason,omitempty"`
	ReconnectUntil time.Time      `json:"reconnect_until,omitempty"`
	At             time.Time      `json:"at"`
}

// ProfileStatus is one row of Controller.Profiles.
type ProfileStatus struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Enabled  bool            `json:"enabled"`
	Priority int             `json:"priority"`
	Emulator int             `json:"emulator"`
	Queue    queue.StateInfo `json:"queue"`
	Units    []unit.Snapshot `json:"units"`
}

func statusOf(p profile.Profile) ProfileStatus {
	return ProfileStatus{
		ID:       p.ID,
		Name:     p.Name,
		Enabled:  p.Enabled,
		Priority: p.Priority,
		Emulator: p.Emulator,
	}
}
