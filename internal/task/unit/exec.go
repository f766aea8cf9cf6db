package unit

import (
	"context"
	"sync"
	"time"

	"wosbot/internal/profile"
	"wosbot/internal/task/delay"
	logx "wosbot/pkg/logx"
)

// Exec is handed to a routine for one execution. It carries the profile, the
// unit's vars, the cancellable delay, and records the routine's reschedule
// decision.
type Exec struct {
	Profile profile.Profile
	RunID   string
	Log     logx.Logger

	unit    *Unit
	sleeper delay.Sleeper
	now     func() time.Time

	mu          sync.Mutex
	rescheduled bool
	next        time.Time
	retry       bool
	reason      string
	recurring   bool
}

// ExecOptions configures NewExec. Zero values pick wall-clock defaults.
type ExecOptions struct {
	RunID   string
	Log     logx.Logger
	Sleeper delay.Sleeper
	Clock   func() time.Time
}

func NewExec(p profile.Profile, u *Unit, opt ExecOptions) *Exec {
	if opt.Sleeper == nil {
		opt.Sleeper = delay.Real{}
	}
	if opt.Clock == nil {
		opt.Clock = time.Now
	}
	if opt.Log.IsZero() {
		opt.Log = logx.Nop()
	}
	return &Exec{
		Profile:   p,
		RunID:     opt.RunID,
		Log:       opt.Log,
		unit:      u,
		sleeper:   opt.Sleeper,
		now:       opt.Clock,
		recurring: u.Recurring,
	}
}

func (x *Exec) Now() time.Time { return x.now() }

// Sleep is the only way a routine should wait.
func (x *Exec) Sleep(ctx context.Context, d time.Duration) error {
	return x.sleeper.Sleep(ctx, d)
}

func (x *Exec) Sleeper() delay.Sleeper { return x.sleeper }

func (x *Exec) Unit() *Unit { return x.unit }

// Reschedule sets the next execution time. Only the first call per run counts.
func (x *Exec) Reschedule(t time.Time) error {
	return x.decide(t, false, "")
}

// Retry reschedules to now+d and marks the run as a soft-failure retry.
func (x *Exec) Retry(d time.Duration, reason string) error {
	return x.decide(x.now().Add(d), true, reason)
}

func (x *Exec) decide(t time.Time, retry bool, reason string) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.rescheduled {
		x.Log.Warn("reschedule ignored: already rescheduled in this run",
			logx.Time("first", x.next), logx.Time("ignored", t))
		return ErrAlreadyRescheduled
	}
	x.rescheduled = true
	x.next = t
	x.retry = retry
	x.reason = reason
	return nil
}

// SetRecurring controls whether the unit stays in its queue after this run.
func (x *Exec) SetRecurring(v bool) {
	x.mu.Lock()
	x.recurring = v
	x.mu.Unlock()
}

func (x *Exec) Var(key string) (any, bool) { return x.unit.Var(key) }
func (x *Exec) Flag(key string) bool       { return x.unit.Flag(key) }
func (x *Exec) SetVar(key string, v any)   { x.unit.SetVar(key, v) }
func (x *Exec) DeleteVar(key string)       { x.unit.DeleteVar(key) }

// Decision is the routine's scheduling outcome for one run.
type Decision struct {
	Rescheduled bool
	Next        time.Time
	Retry       bool
	Reason      string
	Recurring   bool
}

func (x *Exec) Decision() Decision {
	x.mu.Lock()
	defer x.mu.Unlock()
	return Decision{
		Rescheduled: x.rescheduled,
		Next:        x.next,
		Retry:       x.retry,
		Reason:      x.reason,
		Recurring:   x.recurring,
	}
}
