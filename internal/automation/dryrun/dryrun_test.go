package dryrun

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"wosbot/internal/automation"
	"wosbot/internal/profile"
	"wosbot/internal/task/unit"
	logx "wosbot/pkg/logx"
)

func TestDeviceSimulatesLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	d := New(Options{}, logx.Nop())
	require.NoError(t, d.Devices().Validate())

	running, err := d.IsRunning(ctx, 2)
	require.NoError(t, err)
	require.False(t, running)
	require.NoError(t, d.Launch(ctx, 2))
	require.NoError(t, d.LaunchApp(ctx, 2))
	running, _ = d.IsRunning(ctx, 2)
	app, _ := d.IsAppRunning(ctx, 2)
	require.True(t, running)
	require.True(t, app)

	require.NoError(t, d.Close(ctx, 2))
	app, _ = d.IsAppRunning(ctx, 2)
	require.False(t, app)
	require.Equal(t, 1, d.Calls("close"))
}

func TestDeviceSearchAndRead(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	d := New(Options{Visible: []automation.Template{automation.TplClaimButton}, Text: "03:15:00"}, logx.Nop())

	m, err := d.Search(ctx, 0, automation.TplClaimButton, automation.SearchConfig{Area: &automation.Area{
		TopLeft: automation.Point{X: 0, Y: 0}, BottomRight: automation.Point{X: 100, Y: 50},
	}})
	require.NoError(t, err)
	require.True(t, m.Found)
	require.Equal(t, automation.Point{X: 50, Y: 25}, m.Point)

	m, _ = d.Search(ctx, 0, automation.TplWorldButton, automation.DefaultSingle)
	require.False(t, m.Found)

	d.SetVisible(automation.TplWorldButton, true)
	ok, err := d.Devices().Navigator.EnsureLocation(ctx, profile.Profile{}, unit.LocationHome)
	require.NoError(t, err)
	require.True(t, ok)

	text, err := d.ReadText(ctx, 0, automation.Area{}, automation.OCRSettings{})
	require.NoError(t, err)
	require.Equal(t, "03:15:00", text)
}
