package policy

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/robfig/cron/v3"
)

const (
	DefaultResetSpec   = "0 0 * * *"
	DefaultResetMargin = 5 * time.Minute
)

var resetParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ResetClock knows when the game's daily reset happens.
type ResetClock struct {
	spec   string
	sched  cron.Schedule
	loc    *time.Location
	margin time.Duration
}

// NewResetClock parses spec in timezone tz (IANA name; empty means UTC).
// margin is how far before the reset ClampBeforeReset moves late instants.
func NewResetClock(spec, tz string, margin time.Duration) (*ResetClock, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		spec = DefaultResetSpec
	}
	sched, err := resetParser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("reset clock: parse %q: %w", spec, err)
	}
	loc := time.UTC
	if tz = strings.TrimSpace(tz); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("reset clock: timezone %q: %w", tz, err)
		}
		loc = l
	}
	if margin < 0 {
		margin = 0
	}
	return &ResetClock{spec: spec, sched: sched, loc: loc, margin: margin}, nil
}

// MustResetClock is NewResetClock for constant inputs.
func MustResetClock(spec, tz string, margin time.Duration) *ResetClock {
	c, err := NewResetClock(spec, tz, margin)
	if err != nil {
		panic(err)
	}
	return c
}

func (c *ResetClock) Spec() string { return c.spec }

func (c *ResetClock) Margin() time.Duration { return c.margin }

// Next is the first reset strictly after now, in now's location.
func (c *ResetClock) Next(now time.Time) time.Time {
	return c.sched.Next(now.In(c.loc)).In(now.Location())
}

// ClampBeforeReset moves t to (next reset - margin) when t would land at or
// after the next reset following now. Once now is inside the margin window
// there is no slot left before the reset, so t moves to the reset itself.
// The bool reports whether it clamped.
func (c *ResetClock) ClampBeforeReset(now, t time.Time) (time.Time, bool) {
	reset := c.Next(now)
	if t.Before(reset) {
		return t, false
	}
	clamped := reset.Add(-c.margin)
	if !clamped.After(now) {
		return reset, true
	}
	return clamped, true
}
