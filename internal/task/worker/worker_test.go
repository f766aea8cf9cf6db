package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"wosbot/internal/automation"
	"wosbot/internal/automation/dryrun"
	"wosbot/internal/profile"
	"wosbot/internal/status"
	"wosbot/internal/storage"
	"wosbot/internal/task/delay"
	"wosbot/internal/task/queue"
	"wosbot/internal/task/unit"
	logx "wosbot/pkg/logx"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fakeNav struct {
	ok    bool
	err   error
	calls atomic.Int32
}

func (n *fakeNav) EnsureLocation(context.Context, profile.Profile, unit.StartLocation) (bool, error) {
	n.calls.Add(1)
	return n.ok, n.err
}

type fakeProbe struct{ connected atomic.Bool }

func (p *fakeProbe) Connected(context.Context, profile.Profile) (bool, error) {
	return p.connected.Load(), nil
}

type memStore struct {
	mu          sync.Mutex
	saved       map[string]storage.Schedule
	deleted     []string
	transitions []storage.Transition
}

func (m *memStore) SaveSchedule(_ context.Context, s storage.Schedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saved == nil {
		m.saved = map[string]storage.Schedule{}
	}
	m.saved[s.Task] = s
	return nil
}

func (m *memStore) DeleteSchedule(_ context.Context, _, task string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, task)
	return nil
}

func (m *memStore) AppendTransition(_ context.Context, t storage.Transition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transitions = append(m.transitions, t)
	return nil
}

type gate struct{ paused atomic.Bool }

func (g *gate) Paused() bool { return g.paused.Load() }

type fixture struct {
	w      *Worker
	q      *queue.Queue
	clk    *clock
	nav    *fakeNav
	probe  *fakeProbe
	dev    *dryrun.Device
	store  *memStore
	reg    *status.Registry
	gate   *gate
	states []queue.StateInfo
	runs   atomic.Int32
}

func newFixture(t *testing.T, loc unit.StartLocation, body unit.RoutineFunc) (*fixture, *unit.Unit) {
	t.Helper()
	f := &fixture{
		clk:   &clock{t: t0},
		nav:   &fakeNav{ok: true},
		probe: &fakeProbe{},
		dev:   dryrun.New(dryrun.Options{}, logx.Nop()),
		store: &memStore{},
		reg:   status.New(nil),
		gate:  &gate{},
	}
	f.probe.connected.Store(true)
	def := unit.Definition{
		Type:          "job",
		Priority:      10,
		StartLocation: loc,
		Recurring:     true,
		Factory: func(profile.Profile) unit.Routine {
			return unit.RoutineFunc(func(ctx context.Context, x *unit.Exec) unit.Result {
				f.runs.Add(1)
				return body(ctx, x)
			})
		},
	}
	cat, err := unit.NewCatalog(def)
	require.NoError(t, err)

	devs := f.dev.Devices()
	devs.Navigator = f.nav
	devs.Probe = f.probe

	f.q = queue.New("p1")
	var mu sync.Mutex
	f.w = New(profile.Profile{ID: "p1", Enabled: true}, Deps{
		Queue:    f.q,
		Catalog:  cat,
		Devices:  devs,
		Registry: f.reg,
		Store:    f.store,
		Gate:     f.gate,
		OnState: func(_ string, st queue.StateInfo) {
			mu.Lock()
			f.states = append(f.states, st)
			mu.Unlock()
		},
	}, Options{
		Clock:         f.clk.Now,
		Sleeper:       &delay.Recorder{},
		Rand:          func() float64 { return 0.5 },
		IdleThreshold: -1,
	})

	d, _ := cat.Get("job")
	u := unit.New(d, "p1", t0)
	f.q.Schedule(u, t0)
	return f, u
}

func TestRescheduleIsPersistedAndReported(t *testing.T) {
	t.Parallel()
	f, u := newFixture(t, unit.LocationAny, func(_ context.Context, x *unit.Exec) unit.Result {
		_ = x.Reschedule(x.Now().Add(8 * time.Hour))
		return unit.Ok()
	})

	require.True(t, f.w.Step(context.Background()))
	require.Equal(t, t0.Add(8*time.Hour), u.NextRun)
	require.Equal(t, unit.StateRescheduled, u.State)
	require.Equal(t, t0, u.LastRun)

	require.Equal(t, t0.Add(8*time.Hour), f.store.saved["job"].NextRun)
	require.Len(t, f.store.transitions, 1)
	tr := f.store.transitions[0]
	require.Equal(t, "RESCHEDULED", tr.State)
	require.Equal(t, "ok", tr.Kind)
	require.NotEmpty(t, tr.RunID)

	e, ok := f.reg.Get("p1", "job")
	require.True(t, ok)
	require.Equal(t, unit.StateRescheduled, e.State)
	require.Equal(t, tr.RunID, e.RunID)
	require.Equal(t, int32(0), f.nav.calls.Load())
}

func TestMissingRescheduleAppliesSafetyRetry(t *testing.T) {
	t.Parallel()
	f, u := newFixture(t, unit.LocationAny, func(context.Context, *unit.Exec) unit.Result { return unit.Ok() })

	require.True(t, f.w.Step(context.Background()))
	require.Equal(t, t0.Add(DefaultSafetyRetry), u.NextRun)
	require.Equal(t, unit.StateScheduled, u.State)

	// A stale NextRun falls back to now + safety retry.
	f.clk.Advance(DefaultSafetyRetry + time.Hour)
	now := f.clk.Now()
	require.True(t, f.w.Step(context.Background()))
	require.Equal(t, now.Add(DefaultSafetyRetry), u.NextRun)
}

func TestSecondRescheduleIgnored(t *testing.T) {
	t.Parallel()
	var second error
	f, u := newFixture(t, unit.LocationAny, func(_ context.Context, x *unit.Exec) unit.Result {
		_ = x.Reschedule(x.Now().Add(time.Hour))
		second = x.Reschedule(x.Now().Add(2 * time.Hour))
		return unit.Ok()
	})
	require.True(t, f.w.Step(context.Background()))
	require.ErrorIs(t, second, unit.ErrAlreadyRescheduled)
	require.Equal(t, t0.Add(time.Hour), u.NextRun)
}

func TestFatalStopsQueueOnce(t *testing.T) {
	t.Parallel()
	f, u := newFixture(t, unit.LocationAny, func(context.Context, *unit.Exec) unit.Result {
		return unit.Fatal("game not installed")
	})

	require.True(t, f.w.Step(context.Background()))
	st := f.q.State()
	require.Equal(t, queue.RunStopped, st.State)
	require.Equal(t, "game not installed", st.Reason)
	require.Len(t, f.states, 1)
	require.Equal(t, unit.StateStopped, u.State)
	require.Equal(t, t0, u.NextRun)

	f.clk.Advance(time.Hour)
	require.False(t, f.w.Step(context.Background()))
	require.Equal(t, int32(1), f.runs.Load())
	require.Len(t, f.states, 1)
}

func TestReconnectWaitsThenProbes(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	f, _ := newFixture(t, unit.LocationAny, func(_ context.Context, x *unit.Exec) unit.Result {
		if calls.Add(1) == 1 {
			return unit.Reconnect("signed in elsewhere")
		}
		_ = x.Reschedule(x.Now().Add(time.Hour))
		return unit.Ok()
	})
	f.probe.connected.Store(false)

	require.True(t, f.w.Step(context.Background()))
	st := f.q.State()
	require.Equal(t, queue.RunReconnectRequired, st.State)
	require.Equal(t, t0.Add(profile.DefaultReconnectionTime), st.ReconnectUntil)

	f.clk.Advance(5 * time.Minute)
	require.False(t, f.w.Step(context.Background()))
	require.Equal(t, queue.RunReconnectRequired, f.q.State().State)

	// Past the deadline but still disconnected: deadline moves by the poll.
	f.clk.Advance(6 * time.Minute)
	require.False(t, f.w.Step(context.Background()))
	st = f.q.State()
	require.Equal(t, queue.RunReconnectRequired, st.State)
	require.Equal(t, f.clk.Now().Add(DefaultReconnectPoll), st.ReconnectUntil)

	f.probe.connected.Store(true)
	f.clk.Advance(DefaultReconnectPoll)
	require.True(t, f.w.Step(context.Background()))
	require.Equal(t, queue.RunRunning, f.q.State().State)
	require.Len(t, f.states, 2)
	require.Equal(t, int32(2), calls.Load())
}

func TestUnexpectedErrorBacksOff(t *testing.T) {
	t.Parallel()
	f, u := newFixture(t, unit.LocationAny, func(context.Context, *unit.Exec) unit.Result {
		return unit.Failed(errors.New("boom"))
	})

	require.True(t, f.w.Step(context.Background()))
	require.Equal(t, unit.StateRetryScheduled, u.State)
	require.Equal(t, 1, u.Failures)
	require.Equal(t, t0.Add(30*time.Second), u.NextRun)
	require.Equal(t, queue.RunRunning, f.q.State().State)

	f.clk.Advance(30 * time.Second)
	require.True(t, f.w.Step(context.Background()))
	require.Equal(t, 2, u.Failures)
	require.Equal(t, f.clk.Now().Add(time.Minute), u.NextRun)
}

func TestPanicBecomesRetry(t *testing.T) {
	t.Parallel()
	f, u := newFixture(t, unit.LocationAny, func(context.Context, *unit.Exec) unit.Result {
		panic("nil screen")
	})
	require.NotPanics(t, func() { f.w.Step(context.Background()) })
	require.Equal(t, unit.StateRetryScheduled, u.State)
	require.Equal(t, 1, u.Failures)
	require.Contains(t, u.Reason, "nil screen")
}

func TestPreconditionFailureIsSoftRetry(t *testing.T) {
	t.Parallel()
	f, u := newFixture(t, unit.LocationHome, func(_ context.Context, x *unit.Exec) unit.Result {
		_ = x.Reschedule(x.Now().Add(time.Hour))
		return unit.Ok()
	})
	f.nav.ok = false

	require.True(t, f.w.Step(context.Background()))
	require.Equal(t, int32(0), f.runs.Load())
	require.Equal(t, int32(1), f.nav.calls.Load())
	require.Equal(t, unit.StateRetryScheduled, u.State)
	require.Equal(t, t0.Add(DefaultSoftRetry), u.NextRun)
	require.Equal(t, 0, u.Failures)
	require.Equal(t, queue.RunRunning, f.q.State().State)
}

func TestNonRecurringUnitIsDropped(t *testing.T) {
	t.Parallel()
	f, _ := newFixture(t, unit.LocationAny, func(_ context.Context, x *unit.Exec) unit.Result {
		x.SetRecurring(false)
		return unit.Ok()
	})
	require.True(t, f.w.Step(context.Background()))
	require.Equal(t, 0, f.q.Len())
	require.Equal(t, []string{"job"}, f.store.deleted)
	e, ok := f.reg.Get("p1", "job")
	require.True(t, ok)
	require.Equal(t, unit.StateDropped, e.State)
}

func TestCancelKeepsSlotWithoutFailure(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f, u := newFixture(t, unit.LocationAny, func(c context.Context, x *unit.Exec) unit.Result {
		cancel()
		return unit.Failed(x.Sleep(c, time.Minute))
	})

	require.True(t, f.w.Step(ctx))
	require.Equal(t, t0, u.NextRun)
	require.Equal(t, 0, u.Failures)
	require.Equal(t, unit.StateScheduled, u.State)
	require.Equal(t, 1, f.q.Len())
}

func TestGlobalGateBlocksDequeue(t *testing.T) {
	t.Parallel()
	f, _ := newFixture(t, unit.LocationAny, func(_ context.Context, x *unit.Exec) unit.Result {
		_ = x.Reschedule(x.Now().Add(time.Hour))
		return unit.Ok()
	})
	f.gate.paused.Store(true)
	require.False(t, f.w.Step(context.Background()))
	require.Equal(t, int32(0), f.runs.Load())

	f.gate.paused.Store(false)
	require.True(t, f.w.Step(context.Background()))
	require.Equal(t, int32(1), f.runs.Load())
}

func TestIdleClosesEmulatorAndRearmsBootstrap(t *testing.T) {
	t.Parallel()
	f, u := newFixture(t, unit.LocationAny, func(_ context.Context, x *unit.Exec) unit.Result {
		_ = x.Reschedule(x.Now().Add(time.Hour))
		return unit.Ok()
	})
	boot := unit.Definition{
		Type:      "initialize",
		Priority:  1000,
		Mandatory: true,
		Factory: func(profile.Profile) unit.Routine {
			return unit.RoutineFunc(func(context.Context, *unit.Exec) unit.Result { return unit.Ok() })
		},
	}
	require.NoError(t, f.w.deps.Catalog.Register(boot))
	f.w.opt.IdleThreshold = 15 * time.Minute

	u.SetVar(unit.VarEmulatorStarted, true)
	require.True(t, f.w.Step(context.Background()))
	require.False(t, f.w.Step(context.Background()))

	require.Equal(t, 1, f.dev.Calls("close"))
	require.False(t, u.Flag(unit.VarEmulatorStarted))
	rearmed, ok := f.q.Get("initialize")
	require.True(t, ok)
	require.Equal(t, u.NextRun, rearmed.NextRun)

	// Once per idle period.
	require.False(t, f.w.Step(context.Background()))
	require.Equal(t, 1, f.dev.Calls("close"))

	// The bootstrap unit runs before the task it shares the instant with.
	f.clk.Advance(time.Hour)
	next, ok := f.q.NextReady(f.clk.Now())
	require.True(t, ok)
	require.Equal(t, unit.TaskType("initialize"), next.Type())
}

func TestRunLoopStopsOnCancel(t *testing.T) {
	t.Parallel()
	f, _ := newFixture(t, unit.LocationAny, func(_ context.Context, x *unit.Exec) unit.Result {
		_ = x.Reschedule(x.Now().Add(time.Hour))
		return unit.Ok()
	})
	f.w.opt.Tick = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.w.Run(ctx) }()

	require.Eventually(t, func() bool { return f.runs.Load() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}

var _ automation.Navigator = (*fakeNav)(nil)
