// Package worker drives one profile queue: it dequeues due units, checks the
// start location, runs the routine and applies its result.
package worker

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"wosbot/internal/automation"
	"wosbot/internal/profile"
	"wosbot/internal/status"
	"wosbot/internal/storage"
	"wosbot/internal/task/delay"
	"wosbot/internal/task/policy"
	"wosbot/internal/task/queue"
	"wosbot/internal/task/unit"
	logx "wosbot/pkg/logx"
)

const (
	DefaultTick          = time.Second
	DefaultSafetyRetry   = 5 * time.Minute
	DefaultSoftRetry     = 10 * time.Minute
	DefaultReconnectPoll = time.Minute
	DefaultIdleThreshold = 15 * time.Minute
)

// Options tunes the worker loop. Zero values pick the defaults above;
// a negative IdleThreshold disables idle behavior.
type Options struct {
	Tick          time.Duration
	SafetyRetry   time.Duration
	SoftRetry     time.Duration
	ReconnectPoll time.Duration
	IdleThreshold time.Duration
	Backoff       policy.BackoffOptions

	Clock   func() time.Time
	Sleeper delay.Sleeper
	Rand    func() float64
}

func (o Options) withDefaults() Options {
	if o.Tick <= 0 {
		o.Tick = DefaultTick
	}
	if o.SafetyRetry <= 0 {
		o.SafetyRetry = DefaultSafetyRetry
	}
	if o.SoftRetry <= 0 {
		o.SoftRetry = DefaultSoftRetry
	}
	if o.ReconnectPoll <= 0 {
		o.ReconnectPoll = DefaultReconnectPoll
	}
	if o.IdleThreshold == 0 {
		o.IdleThreshold = DefaultIdleThreshold
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	if o.Sleeper == nil {
		o.Sleeper = delay.Real{}
	}
	if o.Rand == nil {
		o.Rand = rand.Float64
	}
	return o
}

// Persister is the slice of storage.Store the worker writes to.
type Persister interface {
	SaveSchedule(ctx context.Context, s storage.Schedule) error
	DeleteSchedule(ctx context.Context, profileID, task string) error
	AppendTransition(ctx context.Context, t storage.Transition) error
}

// Gate is the bot-wide pause switch consulted before every dequeue.
type Gate interface {
	Paused() bool
}

type Deps struct {
	Queue    *queue.Queue
	Catalog  *unit.Catalog
	Devices  automation.Devices
	Registry *status.Registry
	Store    Persister // optional
	Gate     Gate      // optional
	Log      logx.Logger

	// OnState is called after the worker itself moves the queue's run state
	// (fatal, reconnect, reconnect cleared).
	OnState func(profileID string, st queue.StateInfo)
}

type Worker struct {
	q    *queue.Queue
	deps Deps
	opt  Options
	log  logx.Logger

	mu      sync.RWMutex
	profile profile.Profile

	idle bool
}

func New(p profile.Profile, d Deps, o Options) *Worker {
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	if d.Queue == nil {
		d.Queue = queue.New(p.ID)
	}
	return &Worker{
		q:       d.Queue,
		deps:    d,
		opt:     o.withDefaults(),
		log:     d.Log.With(logx.String("comp", "worker"), logx.Profile(p.ID)),
		profile: p.WithDefaults(),
	}
}

func (w *Worker) Queue() *queue.Queue { return w.q }

func (w *Worker) Profile() profile.Profile {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.profile
}

// SetProfile swaps the profile used by the next run. An in-flight run keeps
// the copy it started with.
func (w *Worker) SetProfile(p profile.Profile) {
	w.mu.Lock()
	w.profile = p.WithDefaults()
	w.mu.Unlock()
}

// Run loops until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info("worker started")
	defer w.log.Info("worker stopped")
	for {
		if ctx.Err() != nil {
			return nil
		}
		if w.Step(ctx) {
			continue
		}
		if _, err := delay.Wait(ctx, w.opt.Tick, w.q.Wake()); err != nil {
			return nil
		}
	}
}

// Step does one pass of the loop without waiting. It reports whether a unit ran.
func (w *Worker) Step(ctx context.Context) bool {
	now := w.opt.Clock()
	if w.q.State().State == queue.RunReconnectRequired {
		w.pollReconnect(ctx, now)
	}
	if w.deps.Gate != nil && w.deps.Gate.Paused() {
		return false
	}
	u, ok := w.q.NextReady(now)
	if !ok {
		w.maybeIdle(ctx, now)
		return false
	}
	return w.runUnit(ctx, u)
}

func (w *Worker) pollReconnect(ctx context.Context, now time.Time) {
	st := w.q.State()
	if now.Before(st.ReconnectUntil) {
		return
	}
	if probe := w.deps.Devices.Probe; probe != nil {
		ok, err := probe.Connected(ctx, w.Profile())
		if err != nil || !ok {
			next := now.Add(w.opt.ReconnectPoll)
			w.q.ExtendReconnect(next)
			w.log.Info("session still disconnected", logx.Time("next_check", next), logx.Err(err))
			return
		}
	}
	changed, err := w.q.ClearReconnect()
	if err != nil {
		w.log.Debug("clear reconnect skipped", logx.Err(err))
		return
	}
	if changed {
		w.log.Info("reconnect window passed, resuming")
		w.notifyState()
	}
}

func (w *Worker) runUnit(ctx context.Context, u *unit.Unit) bool {
	if err := w.q.Begin(u); err != nil {
		if !errors.Is(err, queue.ErrBusy) {
			w.log.Debug("begin refused", logx.Task(string(u.Type())), logx.Err(err))
		}
		return false
	}
	w.idle = false

	p := w.Profile()
	runID := uuid.NewString()
	log := w.log.With(logx.Task(string(u.Type())), logx.String("run_id", runID))
	start := w.opt.Clock()
	prevNext, prevLast := u.NextRun, u.LastRun

	w.report(u, unit.StateRunning, "", runID, 0, prevNext, prevLast)
	log.Debug("run started")

	x := unit.NewExec(p, u, unit.ExecOptions{RunID: runID, Log: log, Sleeper: w.opt.Sleeper, Clock: w.opt.Clock})
	res := w.execute(ctx, p, u, x, log)

	end := w.opt.Clock()
	out := w.outcome(ctx, u, x, res, prevNext, prevLast, start, end, log)
	queued, err := w.q.Finish(u, out)
	if err != nil {
		log.Error("finish failed", logx.Err(err))
		return true
	}
	dur := end.Sub(start)
	next := out.Next
	if !queued {
		next = time.Time{}
	}
	w.report(u, u.State, u.Reason, runID, dur, next, out.LastRun)
	w.persist(ctx, u, queued, res, runID, dur, next, end)

	switch {
	case ctx.Err() != nil:
	case res.Kind == unit.KindFatal:
		if changed, err := w.q.Stop(res.Reason); err == nil && changed {
			log.Error("profile stopped", logx.String("reason", res.Reason))
			w.notifyState()
		}
	case res.Kind == unit.KindReconnect:
		until := end.Add(p.ReconnectionTime)
		if changed, err := w.q.MarkReconnect(res.Reason, until); err == nil && changed {
			log.Warn("reconnect required", logx.String("reason", res.Reason), logx.Time("until", until))
			w.notifyState()
		}
	}
	return true
}

// execute checks the start location and runs the routine, turning a panic
// into an unexpected failure.
func (w *Worker) execute(ctx context.Context, p profile.Profile, u *unit.Unit, x *unit.Exec, log logx.Logger) (res unit.Result) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("routine panicked", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			res = unit.Failed(fmt.Errorf("panic: %v", r))
		}
	}()

	if loc := u.Def.StartLocation; loc != unit.LocationAny && w.deps.Devices.Navigator != nil {
		ok, err := w.deps.Devices.Navigator.EnsureLocation(ctx, p, loc)
		if ctx.Err() != nil {
			return unit.Failed(ctx.Err())
		}
		if err != nil || !ok {
			reason := fmt.Sprintf("could not reach %s", loc)
			log.Warn("start location not reached, retrying later", logx.String("location", string(loc)), logx.Err(err))
			_ = x.Retry(w.opt.SoftRetry, reason)
			return unit.Ok()
		}
	}
	return u.Def.Factory(p).Run(ctx, x)
}

func (w *Worker) outcome(ctx context.Context, u *unit.Unit, x *unit.Exec, res unit.Result, prevNext, prevLast, start, now time.Time, log logx.Logger) queue.Outcome {
	d := x.Decision()
	keep := queue.Outcome{
		Next:      prevNext,
		LastRun:   prevLast,
		Recurring: u.Recurring,
		Failures:  u.Failures,
	}

	if ctx.Err() != nil && !(res.Kind == unit.KindOk && d.Rescheduled) {
		keep.State = unit.StateScheduled
		keep.Reason = "interrupted"
		log.Info("run interrupted, unit keeps its slot")
		return keep
	}

	switch res.Kind {
	case unit.KindFatal:
		keep.State = unit.StateStopped
		keep.Reason = res.Reason
		keep.LastRun = start
		return keep
	case unit.KindReconnect:
		keep.State = unit.StateReconnectPending
		keep.Reason = res.Reason
		keep.LastRun = start
		return keep
	case unit.KindError:
		failures := u.Failures + 1
		wait := policy.Backoff(w.opt.Backoff, failures, w.opt.Rand)
		log.Error("run failed, backing off", logx.Err(res.Err), logx.Int("failures", failures), logx.Duration("retry_in", wait))
		return queue.Outcome{
			State:     unit.StateRetryScheduled,
			Next:      now.Add(wait),
			LastRun:   start,
			Recurring: u.Recurring,
			Failures:  failures,
			Reason:    res.Reason,
		}
	}

	out := queue.Outcome{LastRun: start, Recurring: d.Recurring}
	switch {
	case !d.Recurring:
		out.State = unit.StateDropped
		out.Drop = true
		log.Info("run finished, unit dropped")
	case d.Rescheduled:
		out.Next = d.Next
		out.State = unit.StateRescheduled
		if d.Retry {
			out.State = unit.StateRetryScheduled
			out.Reason = d.Reason
			log.Info("run will retry", logx.String("reason", d.Reason), logx.Time("next", d.Next))
		} else {
			log.Info("run finished", logx.Time("next", d.Next))
		}
	default:
		next := prevNext.Add(w.opt.SafetyRetry)
		if !next.After(now) {
			next = now.Add(w.opt.SafetyRetry)
		}
		out.Next = next
		out.State = unit.StateScheduled
		out.Reason = "not rescheduled by routine"
		log.Warn("routine returned without rescheduling, applying safety retry", logx.Time("next", next))
	}
	return out
}

func (w *Worker) report(u *unit.Unit, st unit.State, reason, runID string, dur time.Duration, next, last time.Time) {
	if w.deps.Registry == nil {
		return
	}
	w.deps.Registry.Update(status.Entry{
		ProfileID: w.q.ProfileID(),
		Task:      u.Type(),
		State:     st,
		LastRun:   last,
		NextRun:   next,
		Reason:    reason,
		Failures:  u.Failures,
		RunID:     runID,
		Duration:  dur,
	})
}

func (w *Worker) persist(ctx context.Context, u *unit.Unit, queued bool, res unit.Result, runID string, dur time.Duration, next, at time.Time) {
	if w.deps.Store == nil {
		return
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	pid, task := w.q.ProfileID(), string(u.Type())
	var err error
	if queued {
		err = w.deps.Store.SaveSchedule(pctx, storage.Schedule{
			ProfileID: pid,
			Task:      task,
			NextRun:   next,
			LastRun:   u.LastRun,
			Recurring: u.Recurring,
			Failures:  u.Failures,
			UpdatedAt: at,
		})
	} else {
		err = w.deps.Store.DeleteSchedule(pctx, pid, task)
	}
	if err != nil {
		w.log.Warn("schedule not persisted", logx.Task(task), logx.Err(err))
	}
	if err := w.deps.Store.AppendTransition(pctx, storage.Transition{
		RunID:     runID,
		ProfileID: pid,
		Task:      task,
		State:     string(u.State),
		Kind:      res.Kind.String(),
		Reason:    u.Reason,
		NextRun:   next,
		Duration:  dur,
		At:        at,
	}); err != nil {
		w.log.Warn("transition not journaled", logx.Task(task), logx.Err(err))
	}
}

func (w *Worker) notifyState() {
	if w.deps.OnState != nil {
		w.deps.OnState(w.q.ProfileID(), w.q.State())
	}
}
