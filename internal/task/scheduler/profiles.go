package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"wosbot/internal/profile"
	"wosbot/internal/task/queue"
	"wosbot/internal/task/unit"
	"wosbot/internal/task/worker"
	logx "wosbot/pkg/logx"
)

// AddProfile registers or updates p. While the bot runs, a newly enabled
// profile gets its own worker, a disabled one loses it, and task toggle
// changes add or remove units in place. Other profiles are untouched.
func (c *Controller) AddProfile(ctx context.Context, p profile.Profile) error {
	if strings.TrimSpace(p.ID) == "" {
		return errors.New("scheduler: profile id required")
	}
	p = p.WithDefaults()

	c.mu.Lock()
	old, existed := c.profiles[p.ID]
	c.profiles[p.ID] = p
	if c.state == queue.RunStopped {
		c.mu.Unlock()
		return nil
	}
	r := c.runs[p.ID]

	switch {
	case !p.Enabled:
		delete(c.runs, p.ID)
		c.mu.Unlock()
		if r != nil {
			c.teardown(ctx, p.ID, r)
			c.log.Info("profile disabled", logx.Profile(p.ID))
		}
		return nil
	case r == nil:
		defer c.mu.Unlock()
		w, err := c.build(ctx, p)
		if err != nil {
			return err
		}
		c.spawnLocked(w)
		c.log.Info("profile added", logx.Profile(p.ID))
		return nil
	}
	c.mu.Unlock()

	if existed && old.Equal(p) {
		return nil
	}
	r.w.SetProfile(p)
	c.reconcile(ctx, r.w, p)
	return nil
}

// RemoveProfile stops the profile's worker and forgets its persisted state.
func (c *Controller) RemoveProfile(ctx context.Context, id string) error {
	c.mu.Lock()
	if _, ok := c.profiles[id]; !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownProfile, id)
	}
	delete(c.profiles, id)
	r := c.runs[id]
	delete(c.runs, id)
	c.mu.Unlock()

	if r != nil {
		c.teardown(ctx, id, r)
	}
	c.deps.Registry.DeleteProfile(id)
	if c.deps.Store != nil {
		if err := c.deps.Store.DeleteProfile(ctx, id); err != nil {
			c.log.Warn("persisted schedules not removed", logx.Profile(id), logx.Err(err))
		}
	}
	c.log.Info("profile removed", logx.Profile(id))
	return nil
}

// SyncProfiles makes the profile set equal to ps.
func (c *Controller) SyncProfiles(ctx context.Context, ps []profile.Profile) error {
	want := make(map[string]bool, len(ps))
	for _, p := range ps {
		want[p.ID] = true
	}

	c.mu.Lock()
	ids := sortedIDs(c.profiles)
	c.mu.Unlock()

	var errs []error
	for _, id := range ids {
		if !want[id] {
			if err := c.RemoveProfile(ctx, id); err != nil && !errors.Is(err, ErrUnknownProfile) {
				errs = append(errs, err)
			}
		}
	}
	for _, p := range ps {
		if err := c.AddProfile(ctx, p); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *Controller) teardown(ctx context.Context, id string, r *run) {
	if err := r.h.StopWait(ctx); err != nil {
		c.log.Warn("worker did not stop in time", logx.Profile(id), logx.Err(err))
	}
	c.deps.Registry.DeleteProfile(id)
	c.forget(id)
}

// reconcile adds units for newly enabled task types and removes units whose
// type was switched off. Session bootstrap units are left alone.
func (c *Controller) reconcile(ctx context.Context, w *worker.Worker, p profile.Profile) {
	q := w.Queue()
	want := map[unit.TaskType]*unit.Definition{}
	for _, def := range c.deps.Catalog.ForProfile(p) {
		want[def.Type] = def
	}

	have := map[unit.TaskType]bool{}
	for _, t := range q.Types() {
		have[t] = true
		if _, ok := want[t]; ok {
			continue
		}
		q.Remove(t)
		c.deps.Registry.Delete(p.ID, t)
		if c.deps.Store != nil {
			if err := c.deps.Store.DeleteSchedule(ctx, p.ID, string(t)); err != nil {
				c.log.Warn("persisted schedule not removed", logx.Profile(p.ID), logx.Task(string(t)), logx.Err(err))
			}
		}
		c.log.Info("task disabled", logx.Profile(p.ID), logx.Task(string(t)))
	}

	now := c.deps.Clock()
	for t, def := range want {
		if have[t] || def.Mandatory {
			continue
		}
		u := unit.New(def, p.ID, now)
		q.Schedule(u, now)
		c.report(u)
		c.log.Info("task enabled", logx.Profile(p.ID), logx.Task(string(t)))
	}
}
