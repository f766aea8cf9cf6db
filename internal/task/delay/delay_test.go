package delay

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSleepInterruptedByCancel(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	start := time.Now()
	err := Sleep(ctx, time.Hour)
	require.ErrorIs(t, err, context.Canceled)
	require.Less(t, time.Since(start), 5*time.Second)
}

func TestSleepCompletes(t *testing.T) {
	t.Parallel()
	require.NoError(t, Sleep(context.Background(), time.Millisecond))
	require.NoError(t, Sleep(context.Background(), 0))
}

func TestWaitWakes(t *testing.T) {
	t.Parallel()
	wake := make(chan struct{}, 1)
	wake <- struct{}{}
	woke, err := Wait(context.Background(), time.Hour, wake)
	require.NoError(t, err)
	require.True(t, woke)

	woke, err = Wait(context.Background(), time.Millisecond, nil)
	require.NoError(t, err)
	require.False(t, woke)
}

func TestRecorder(t *testing.T) {
	t.Parallel()
	var r Recorder
	require.NoError(t, r.Sleep(context.Background(), time.Second))
	require.NoError(t, r.Sleep(context.Background(), 2*time.Second))
	require.Equal(t, 3*time.Second, r.Total())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Error(t, r.Sleep(ctx, time.Second))
	require.Len(t, r.Calls, 2)
}
