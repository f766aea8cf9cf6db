package scheduler

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"wosbot/internal/automation/dryrun"
	"wosbot/internal/eventbus"
	"wosbot/internal/profile"
	"wosbot/internal/storage"
	"wosbot/internal/task/delay"
	"wosbot/internal/task/queue"
	"wosbot/internal/task/unit"
	"wosbot/internal/task/worker"
	logx "wosbot/pkg/logx"
)

type harness struct {
	c   *Controller
	bus eventbus.Bus

	mu  sync.Mutex
	fns map[string]unit.RoutineFunc
}

func (h *harness) set(pid string, t unit.TaskType, fn unit.RoutineFunc) {
	h.mu.Lock()
	h.fns[pid+"/"+string(t)] = fn
	h.mu.Unlock()
}

func (h *harness) factory(t unit.TaskType) func(p profile.Profile) unit.Routine {
	return func(p profile.Profile) unit.Routine {
		return unit.RoutineFunc(func(ctx context.Context, x *unit.Exec) unit.Result {
			h.mu.Lock()
			fn := h.fns[p.ID+"/"+string(t)]
			h.mu.Unlock()
			if fn == nil {
				_ = x.Reschedule(x.Now().Add(time.Hour))
				return unit.Ok()
			}
			return fn(ctx, x)
		})
	}
}

func newHarness(t *testing.T, store storage.Store) *harness {
	t.Helper()
	h := &harness{bus: eventbus.New(), fns: map[string]unit.RoutineFunc{}}
	cat, err := unit.NewCatalog(
		unit.Definition{
			Type:      "boot",
			Priority:  1000,
			Mandatory: true,
			Factory: func(profile.Profile) unit.Routine {
				return unit.RoutineFunc(func(context.Context, *unit.Exec) unit.Result { return unit.Ok() })
			},
		},
		unit.Definition{Type: "job", Priority: 20, Recurring: true, Factory: h.factory("job")},
		unit.Definition{Type: "job2", Priority: 10, Recurring: true, Factory: h.factory("job2")},
	)
	require.NoError(t, err)

	dev := dryrun.New(dryrun.Options{}, logx.Nop())
	h.c = New(Deps{
		Catalog: cat,
		Devices: dev.Devices(),
		Store:   store,
		Bus:     h.bus,
	}, Options{Worker: worker.Options{Tick: 5 * time.Millisecond, Sleeper: delay.Real{}, IdleThreshold: -1}})
	t.Cleanup(func() { _ = h.c.Stop(context.Background()) })
	return h
}

func prof(id string, tasks ...string) profile.Profile {
	p := profile.Profile{ID: id, Enabled: true, Tasks: map[string]profile.TaskToggle{}}
	for _, t := range tasks {
		p.Tasks[t] = profile.TaskToggle{Enabled: true}
	}
	return p
}

func profileEvents(ch <-chan eventbus.Event, wait time.Duration) []ProfileEvent {
	var out []ProfileEvent
	deadline := time.After(wait)
	for {
		select {
		case e := <-ch:
			if pe, ok := e.Data.(ProfileEvent); ok {
				out = append(out, pe)
			}
		case <-deadline:
			return out
		}
	}
}

func find(ps []ProfileStatus, id string) (ProfileStatus, bool) {
	for _, p := range ps {
		if p.ID == id {
			return p, true
		}
	}
	return ProfileStatus{}, false
}

func TestFatalInOneProfileLeavesOthersRunning(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	ctx := context.Background()

	var runsB atomic.Int32
	h.set("a", "job", func(context.Context, *unit.Exec) unit.Result { return unit.Fatal("game not installed") })
	h.set("b", "job", func(_ context.Context, x *unit.Exec) unit.Result {
		runsB.Add(1)
		_ = x.Reschedule(x.Now().Add(10 * time.Millisecond))
		return unit.Ok()
	})
	require.NoError(t, h.c.SyncProfiles(ctx, []profile.Profile{prof("a", "job"), prof("b", "job")}))

	ch, unsub := h.bus.Subscribe(256, eventbus.TopicProfileState)
	defer unsub()
	require.NoError(t, h.c.Start(ctx))

	require.Eventually(t, func() bool {
		a, _ := find(h.c.Profiles(), "a")
		return a.Queue.State == queue.RunStopped && runsB.Load() >= 3
	}, 2*time.Second, 5*time.Millisecond)

	stopped := 0
	for _, e := range profileEvents(ch, 100*time.Millisecond) {
		if e.ProfileID == "a" && e.State == queue.RunStopped {
			stopped++
			require.Equal(t, "game not installed", e.Reason)
		}
		require.False(t, e.ProfileID == "b" && e.State != queue.RunRunning)
	}
	require.Equal(t, 1, stopped)

	b, ok := find(h.c.Profiles(), "b")
	require.True(t, ok)
	require.Equal(t, queue.RunRunning, b.Queue.State)

	// An operator restart brings A back without touching B.
	require.NoError(t, h.c.RestartProfile("a"))
	a, _ := find(h.c.Profiles(), "a")
	require.Contains(t, []queue.RunState{queue.RunRunning, queue.RunStopped}, a.Queue.State)
}

func TestGlobalPauseLetsInFlightRunFinish(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})
	var runs2 atomic.Int32
	h.set("a", "job", func(_ context.Context, x *unit.Exec) unit.Result {
		close(started)
		<-release
		_ = x.Reschedule(x.Now().Add(time.Hour))
		return unit.Ok()
	})
	h.set("a", "job2", func(_ context.Context, x *unit.Exec) unit.Result {
		runs2.Add(1)
		_ = x.Reschedule(x.Now().Add(time.Hour))
		return unit.Ok()
	})
	require.NoError(t, h.c.AddProfile(ctx, prof("a", "job", "job2")))
	require.NoError(t, h.c.Start(ctx))

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("job never started")
	}
	require.NoError(t, h.c.Pause())
	require.Equal(t, queue.RunPaused, h.c.State())
	close(release)

	require.Eventually(t, func() bool {
		e, ok := h.c.Registry().Get("a", "job")
		return ok && e.State == unit.StateRescheduled
	}, time.Second, 5*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	require.Equal(t, int32(0), runs2.Load())

	require.NoError(t, h.c.Resume())
	require.Eventually(t, func() bool { return runs2.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestAddRemoveAndSyncProfiles(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	ctx := context.Background()

	require.NoError(t, h.c.AddProfile(ctx, prof("a", "job")))
	require.NoError(t, h.c.Start(ctx))

	var runsB atomic.Int32
	h.set("b", "job", func(_ context.Context, x *unit.Exec) unit.Result {
		runsB.Add(1)
		_ = x.Reschedule(x.Now().Add(time.Hour))
		return unit.Ok()
	})
	require.NoError(t, h.c.AddProfile(ctx, prof("b", "job")))
	require.Eventually(t, func() bool {
		e, ok := h.c.Registry().Get("b", "job")
		return runsB.Load() == 1 && ok && e.State == unit.StateRescheduled
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, h.c.RemoveProfile(ctx, "a"))
	_, ok := find(h.c.Profiles(), "a")
	require.False(t, ok)
	require.ErrorIs(t, h.c.PauseProfile("a"), ErrUnknownProfile)
	require.ErrorIs(t, h.c.RemoveProfile(ctx, "a"), ErrUnknownProfile)

	disabled := prof("c")
	disabled.Enabled = false
	require.NoError(t, h.c.SyncProfiles(ctx, []profile.Profile{prof("b", "job2"), disabled}))

	b, ok := find(h.c.Profiles(), "b")
	require.True(t, ok)
	var types []unit.TaskType
	for _, u := range b.Units {
		types = append(types, u.Type)
	}
	require.NotContains(t, types, unit.TaskType("job"))
	require.Contains(t, types, unit.TaskType("job2"))

	c, ok := find(h.c.Profiles(), "c")
	require.True(t, ok)
	require.Equal(t, "disabled", c.Queue.Reason)
	require.ErrorIs(t, h.c.PauseProfile("c"), ErrNotRunning)
	require.Equal(t, int32(1), runsB.Load())
}

func TestProfileControlsPublishOnce(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	ctx := context.Background()

	require.ErrorIs(t, h.c.Pause(), ErrStopped)
	require.NoError(t, h.c.AddProfile(ctx, prof("a", "job")))
	require.NoError(t, h.c.Start(ctx))
	require.NoError(t, h.c.Start(ctx))

	ch, unsub := h.bus.Subscribe(64, eventbus.TopicProfileState)
	defer unsub()

	require.NoError(t, h.c.PauseProfile("a"))
	require.NoError(t, h.c.PauseProfile("a"))
	require.Error(t, h.c.ClearReconnect("a"))
	require.NoError(t, h.c.ResumeProfile("a"))

	evs := profileEvents(ch, 50*time.Millisecond)
	require.Len(t, evs, 2)
	require.Equal(t, queue.RunPaused, evs[0].State)
	require.Equal(t, queue.RunRunning, evs[1].State)

	require.NoError(t, h.c.Stop(ctx))
	require.Equal(t, queue.RunStopped, h.c.State())
	a, _ := find(h.c.Profiles(), "a")
	require.Equal(t, "bot stopped", a.Queue.Reason)
	require.ErrorIs(t, h.c.PauseProfile("a"), ErrNotRunning)
}

func TestStartRestoresPersistedSchedules(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "state.json")}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()

	next := time.Now().Add(time.Hour).Truncate(time.Millisecond)
	require.NoError(t, st.SaveSchedule(ctx, storage.Schedule{ProfileID: "a", Task: "job", NextRun: next, Recurring: true, Failures: 2}))

	h := newHarness(t, st)
	require.NoError(t, h.c.AddProfile(ctx, prof("a", "job")))
	require.NoError(t, h.c.Start(ctx))

	a, ok := find(h.c.Profiles(), "a")
	require.True(t, ok)
	var job *unit.Snapshot
	for i := range a.Units {
		if a.Units[i].Type == "job" {
			job = &a.Units[i]
		}
	}
	require.NotNil(t, job)
	require.WithinDuration(t, next, job.NextRun, time.Millisecond)
	require.Equal(t, 2, job.Failures)

	// The bootstrap unit runs once and leaves a journal entry.
	require.Eventually(t, func() bool {
		tr, err := h.c.Transitions(ctx, "a", 10)
		return err == nil && len(tr) == 1 && tr[0].Task == "boot" && tr[0].State == string(unit.StateDropped)
	}, time.Second, 5*time.Millisecond)
}
