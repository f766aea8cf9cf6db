package unit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"wosbot/internal/profile"
	"wosbot/internal/task/delay"
)

func nopRoutine(profile.Profile) Routine {
	return RoutineFunc(func(context.Context, *Exec) Result { return Ok() })
}

func TestCatalogRegisterAndForProfile(t *testing.T) {
	t.Parallel()
	cat, err := NewCatalog(
		Definition{Type: "initialize", Priority: 1000, Mandatory: true, Factory: nopRoutine},
		Definition{Type: "exploration", Priority: 10, Recurring: true, Factory: nopRoutine},
		Definition{Type: "triumph", Priority: 10, Recurring: true, StartLocation: LocationHome, Factory: nopRoutine},
	)
	require.NoError(t, err)

	err = cat.Register(Definition{Type: "exploration", Factory: nopRoutine})
	require.ErrorIs(t, err, ErrDuplicateTask)
	require.Error(t, cat.Register(Definition{Type: "nofactory"}))

	d, ok := cat.Get("exploration")
	require.True(t, ok)
	require.Equal(t, LocationAny, d.StartLocation)
	require.Equal(t, "exploration", d.Name)

	p := profile.Profile{Tasks: map[string]profile.TaskToggle{"triumph": {Enabled: true}}}
	var got []TaskType
	for _, d := range cat.ForProfile(p) {
		got = append(got, d.Type)
	}
	require.Equal(t, []TaskType{"initialize", "triumph"}, got)
}

func TestExecReschedulesOnce(t *testing.T) {
	t.Parallel()
	def := &Definition{Type: "x", Recurring: true, Factory: nopRoutine}
	u := New(def, "p1", time.Time{})
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	x := NewExec(profile.Profile{ID: "p1"}, u, ExecOptions{Clock: func() time.Time { return now }})

	require.NoError(t, x.Retry(10*time.Minute, "menu not found"))
	require.ErrorIs(t, x.Reschedule(now.Add(time.Hour)), ErrAlreadyRescheduled)

	d := x.Decision()
	require.True(t, d.Rescheduled)
	require.True(t, d.Retry)
	require.Equal(t, now.Add(10*time.Minute), d.Next)
	require.Equal(t, "menu not found", d.Reason)
	require.True(t, d.Recurring)

	x.SetRecurring(false)
	require.False(t, x.Decision().Recurring)
	require.True(t, u.Recurring, "unit flag is applied by the worker, not the exec")
}

func TestExecVarsLiveOnUnit(t *testing.T) {
	t.Parallel()
	def := &Definition{Type: "initialize", Factory: nopRoutine}
	u := New(def, "p1", time.Time{})

	x1 := NewExec(profile.Profile{}, u, ExecOptions{})
	x1.SetVar("emulator.started", true)

	x2 := NewExec(profile.Profile{}, u, ExecOptions{})
	require.True(t, x2.Flag("emulator.started"))
	x2.DeleteVar("emulator.started")
	require.False(t, u.Flag("emulator.started"))
	require.Empty(t, u.Vars())
}

func TestExecSleepUsesSleeper(t *testing.T) {
	t.Parallel()
	rec := &delay.Recorder{}
	u := New(&Definition{Type: "x", Factory: nopRoutine}, "p", time.Time{})
	x := NewExec(profile.Profile{}, u, ExecOptions{Sleeper: rec})
	require.NoError(t, x.Sleep(context.Background(), 2*time.Second))
	require.Equal(t, []time.Duration{2 * time.Second}, rec.Calls)
}

func TestResultConstructors(t *testing.T) {
	t.Parallel()
	require.Equal(t, KindOk, Failed(nil).Kind)
	r := Failed(errors.New("boom"))
	require.Equal(t, KindError, r.Kind)
	require.Equal(t, "error: boom", r.String())
	require.Equal(t, "fatal: not installed", Fatal("not installed").String())
	require.Equal(t, KindReconnect, Reconnect("x").Kind)
}
