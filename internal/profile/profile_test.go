package profile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWithDefaults(t *testing.T) {
	t.Parallel()
	p := Profile{ID: "main"}.WithDefaults()
	require.Equal(t, DefaultPriority, p.Priority)
	require.Equal(t, DefaultReconnectionTime, p.ReconnectionTime)
	require.Equal(t, IdleCloseEmulator, p.IdleBehavior)
	require.Equal(t, "main", p.Name)
}

func TestParseIdleBehavior(t *testing.T) {
	t.Parallel()
	tests := map[string]IdleBehavior{
		"send_to_background": IdleSendToBackground,
		"DO_NOTHING":         IdleDoNothing,
		"":                   IdleCloseEmulator,
		"bogus":              IdleCloseEmulator,
	}
	for in, want := range tests {
		require.Equal(t, want, ParseIdleBehavior(in), in)
	}
}

func TestTaskToggleAndOffset(t *testing.T) {
	t.Parallel()
	p := Profile{Tasks: map[string]TaskToggle{
		"exploration": {Enabled: true, Offset: 30 * time.Minute},
		"triumph":     {Enabled: false},
	}}
	require.True(t, p.TaskEnabled("exploration"))
	require.False(t, p.TaskEnabled("triumph"))
	require.False(t, p.TaskEnabled("missing"))
	require.Equal(t, 30*time.Minute, p.Offset("exploration", time.Hour))
	require.Equal(t, time.Hour, p.Offset("triumph", time.Hour))
}

func TestEqualAndSort(t *testing.T) {
	t.Parallel()
	a := Profile{ID: "a", Priority: 10, Tasks: map[string]TaskToggle{"x": {Enabled: true}}}
	b := a
	b.Tasks = map[string]TaskToggle{"x": {Enabled: true}}
	require.True(t, a.Equal(b))
	b.Tasks = map[string]TaskToggle{"x": {Enabled: false}}
	require.False(t, a.Equal(b))

	ps := []Profile{{ID: "b", Priority: 10}, {ID: "c", Priority: 90}, {ID: "a", Priority: 10}}
	SortByPriority(ps)
	require.Equal(t, []string{"c", "a", "b"}, []string{ps[0].ID, ps[1].ID, ps[2].ID})
}
