package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"wosbot/internal/automation"
	"wosbot/internal/eventbus"
	"wosbot/internal/profile"
	"wosbot/internal/runtime/supervisor"
	"wosbot/internal/status"
	"wosbot/internal/storage"
	"wosbot/internal/task/queue"
	"wosbot/internal/task/unit"
	"wosbot/internal/task/worker"
	logx "wosbot/pkg/logx"
)

var ErrStopped = errors.New("scheduler: bot is stopped")

type Options struct {
	Worker worker.Options
	// LoadLimit bounds concurrent schedule loads at Start. 0 means 4.
	LoadLimit int
}

type Deps struct {
	Catalog  *unit.Catalog
	Devices  automation.Devices
	Registry *status.Registry
	Store    storage.Store // optional
	Bus      eventbus.Bus  // optional
	Log      logx.Logger
	Clock    func() time.Time
}

type run struct {
	w *worker.Worker
	h *supervisor.Handle
}

// Controller is safe for concurrent use.
type Controller struct {
	deps Deps
	opt  Options
	log  logx.Logger

	mu       sync.Mutex
	state    queue.RunState
	profiles map[string]profile.Profile
	runs     map[string]*run
	sup      *supervisor.Supervisor

	paused atomic.Bool

	emitMu sync.Mutex
	last   map[string]queue.StateInfo
}

func New(d Deps, o Options) *Controller {
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	if d.Clock == nil {
		d.Clock = time.Now
	}
	if d.Registry == nil {
		d.Registry = status.New(d.Bus)
	}
	if o.LoadLimit <= 0 {
		o.LoadLimit = 4
	}
	if o.Worker.Clock == nil {
		o.Worker.Clock = d.Clock
	}
	return &Controller{
		deps:     d,
		opt:      o,
		log:      d.Log.With(logx.String("comp", "scheduler")),
		state:    queue.RunStopped,
		profiles: map[string]profile.Profile{},
		runs:     map[string]*run{},
		last:     map[string]queue.StateInfo{},
	}
}

// Paused is the global gate every worker checks before dequeuing.
func (c *Controller) Paused() bool { return c.paused.Load() }

func (c *Controller) Registry() *status.Registry { return c.deps.Registry }

// Start builds one queue and worker per enabled profile and runs them under
// a supervisor rooted at ctx. Starting a running controller is a no-op.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != queue.RunStopped {
		return nil
	}
	if c.deps.Catalog == nil {
		return errors.New("scheduler: catalog required")
	}

	var ps []profile.Profile
	for _, p := range c.profiles {
		if p.Enabled {
			ps = append(ps, p)
		}
	}
	profile.SortByPriority(ps)

	start := time.Now()
	workers := make([]*worker.Worker, len(ps))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opt.LoadLimit)
	for i, p := range ps {
		g.Go(func() error {
			w, err := c.build(gctx, p)
			if err != nil {
				return fmt.Errorf("profile %s: %w", p.ID, err)
			}
			workers[i] = w
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	c.sup = supervisor.New(ctx, supervisor.WithLogger(c.log))
	c.paused.Store(false)
	c.state = queue.RunRunning
	for _, w := range workers {
		c.spawnLocked(w)
	}
	c.log.Info("scheduler started", logx.Int("workers", len(workers)), logx.Duration("took", time.Since(start)))
	c.emitBot(queue.RunRunning, "")
	return nil
}

// Stop cancels every worker, unwinding in-flight delays, and waits for them.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.state == queue.RunStopped {
		c.mu.Unlock()
		return nil
	}
	sup := c.sup
	c.sup = nil
	c.runs = map[string]*run{}
	c.state = queue.RunStopped
	c.paused.Store(false)
	c.mu.Unlock()

	c.emitMu.Lock()
	c.last = map[string]queue.StateInfo{}
	c.emitMu.Unlock()

	err := sup.Stop(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		c.log.Warn("workers did not stop cleanly", logx.Err(err))
	}
	c.log.Info("scheduler stopped")
	c.emitBot(queue.RunStopped, "")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Pause holds every worker before its next dequeue. In-flight runs finish.
func (c *Controller) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case queue.RunStopped:
		return ErrStopped
	case queue.RunPaused:
		return nil
	}
	c.state = queue.RunPaused
	c.paused.Store(true)
	c.emitBot(queue.RunPaused, "")
	return nil
}

func (c *Controller) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case queue.RunStopped:
		return ErrStopped
	case queue.RunRunning:
		return nil
	}
	c.state = queue.RunRunning
	c.paused.Store(false)
	c.emitBot(queue.RunRunning, "")
	return nil
}

func (c *Controller) State() queue.RunState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) PauseProfile(id string) error {
	return c.profileOp(id, (*queue.Queue).Pause)
}

func (c *Controller) ResumeProfile(id string) error {
	return c.profileOp(id, (*queue.Queue).Resume)
}

// RestartProfile leaves STOPPED or RECONNECT_REQUIRED.
func (c *Controller) RestartProfile(id string) error {
	return c.profileOp(id, (*queue.Queue).Restart)
}

func (c *Controller) ClearReconnect(id string) error {
	return c.profileOp(id, (*queue.Queue).ClearReconnect)
}

func (c *Controller) profileOp(id string, op func(*queue.Queue) (bool, error)) error {
	r, err := c.runFor(id)
	if err != nil {
		return err
	}
	changed, err := op(r.w.Queue())
	if err != nil {
		return err
	}
	if changed {
		c.emitProfile(r.w)
	}
	return nil
}

func (c *Controller) runFor(id string) (*run, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.profiles[id]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProfile, id)
	}
	r := c.runs[id]
	if r == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotRunning, id)
	}
	return r, nil
}

// Profiles lists every known profile by priority with its queue state and units.
func (c *Controller) Profiles() []ProfileStatus {
	c.mu.Lock()
	ps := make([]profile.Profile, 0, len(c.profiles))
	for _, p := range c.profiles {
		ps = append(ps, p)
	}
	runs := make(map[string]*run, len(c.runs))
	for id, r := range c.runs {
		runs[id] = r
	}
	botState := c.state
	c.mu.Unlock()

	profile.SortByPriority(ps)
	out := make([]ProfileStatus, 0, len(ps))
	for _, p := range ps {
		st := statusOf(p)
		switch r := runs[p.ID]; {
		case r != nil:
			st.Queue = r.w.Queue().State()
			st.Units = r.w.Queue().Snapshot()
		case !p.Enabled:
			st.Queue = queue.StateInfo{State: queue.RunStopped, Reason: "disabled"}
		case botState == queue.RunStopped:
			st.Queue = queue.StateInfo{State: queue.RunStopped, Reason: "bot stopped"}
		}
		out = append(out, st)
	}
	return out
}

// Transitions returns the profile's most recent runs from storage, newest first.
func (c *Controller) Transitions(ctx context.Context, id string, limit int) ([]storage.Transition, error) {
	c.mu.Lock()
	_, ok := c.profiles[id]
	c.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProfile, id)
	}
	if c.deps.Store == nil {
		return nil, storage.ErrDisabled
	}
	return c.deps.Store.RecentTransitions(ctx, id, limit)
}

func (c *Controller) spawnLocked(w *worker.Worker) {
	id := w.Queue().ProfileID()
	h := c.sup.GoRestart("worker."+id, w.Run, supervisor.WithRestartBackoff(time.Second, time.Minute))
	c.runs[id] = &run{w: w, h: h}
	c.emitProfile(w)
}

// build seeds a queue from the catalog and persisted schedules.
func (c *Controller) build(ctx context.Context, p profile.Profile) (*worker.Worker, error) {
	saved := map[string]storage.Schedule{}
	if c.deps.Store != nil {
		list, err := c.deps.Store.LoadSchedules(ctx, p.ID)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.log.Warn("persisted schedules unavailable, starting fresh", logx.Profile(p.ID), logx.Err(err))
		}
		for _, s := range list {
			saved[s.Task] = s
		}
	}

	q := queue.New(p.ID)
	now := c.deps.Clock()
	earliest := now
	var bootstrap []*unit.Definition
	for _, def := range c.deps.Catalog.ForProfile(p) {
		if def.Mandatory {
			bootstrap = append(bootstrap, def)
			continue
		}
		u := unit.New(def, p.ID, now)
		at := now
		if s, ok := saved[string(def.Type)]; ok {
			at = s.NextRun
			u.LastRun = s.LastRun
			u.Failures = s.Failures
			u.Recurring = s.Recurring
		}
		if at.Before(earliest) {
			earliest = at
		}
		q.Schedule(u, at)
		c.report(u)
	}
	// Session bootstrap runs ahead of anything already overdue.
	for _, def := range bootstrap {
		u := unit.New(def, p.ID, earliest)
		q.Schedule(u, earliest)
		c.report(u)
	}

	var w *worker.Worker
	w = worker.New(p, worker.Deps{
		Queue:    q,
		Catalog:  c.deps.Catalog,
		Devices:  c.deps.Devices,
		Registry: c.deps.Registry,
		Store:    c.persister(),
		Gate:     c,
		Log:      c.deps.Log,
		OnState:  func(string, queue.StateInfo) { c.emitProfile(w) },
	}, c.opt.Worker)
	return w, nil
}

func (c *Controller) persister() worker.Persister {
	if c.deps.Store == nil {
		return nil
	}
	return c.deps.Store
}

func (c *Controller) report(u *unit.Unit) {
	c.deps.Registry.Update(status.Entry{
		ProfileID: u.ProfileID,
		Task:      u.Type(),
		State:     u.State,
		LastRun:   u.LastRun,
		NextRun:   u.NextRun,
		Failures:  u.Failures,
	})
}

func (c *Controller) emitBot(st queue.RunState, reason string) {
	c.log.Info("bot state", logx.String("state", string(st)))
	if c.deps.Bus == nil {
		return
	}
	now := c.deps.Clock()
	c.deps.Bus.Publish(eventbus.Event{
		Topic: eventbus.TopicBotState,
		Time:  now,
		Data:  BotEvent{State: st, Reason: reason, At: now},
	})
}

// emitProfile publishes the worker's queue state unless it equals the last
// one published for that profile.
func (c *Controller) emitProfile(w *worker.Worker) {
	p := w.Profile()
	st := w.Queue().State()

	c.emitMu.Lock()
	prev, seen := c.last[p.ID]
	if seen && prev.State == st.State && prev.Reason == st.Reason {
		c.emitMu.Unlock()
		return
	}
	c.last[p.ID] = st
	c.emitMu.Unlock()

	fields := []logx.Field{logx.Profile(p.ID), logx.String("state", string(st.State))}
	if st.Reason != "" {
		fields = append(fields, logx.String("reason", st.Reason))
	}
	c.log.Info("profile state", fields...)

	if c.deps.Bus == nil {
		return
	}
	now := c.deps.Clock()
	c.deps.Bus.Publish(eventbus.Event{
		Topic: eventbus.TopicProfileState,
		Time:  now,
		Data: ProfileEvent{
			ProfileID:      p.ID,
			Name:           p.Name,
			State:          st.State,
			Reason:         st.Reason,
			ReconnectUntil: st.ReconnectUntil,
			At:             now,
		},
	})
}

func (c *Controller) forget(id string) {
	c.emitMu.Lock()
	delete(c.last, id)
	c.emitMu.Unlock()
}

func sortedIDs(m map[string]profile.Profile) []string {
	out := make([]string, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
