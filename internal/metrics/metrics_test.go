package metrics

import (
	"context"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"wosbot/internal/eventbus"
	"wosbot/internal/notifier"
	"wosbot/internal/status"
	"wosbot/internal/task/queue"
	"wosbot/internal/task/scheduler"
	"wosbot/internal/task/unit"
)

func TestObserve(t *testing.T) {
	t.Parallel()
	c := New(nil)

	c.Observe(eventbus.Event{Data: status.Entry{Task: "arena", State: unit.StateRunning, RunID: "r1"}})
	c.Observe(eventbus.Event{Data: status.Entry{Task: "arena", State: unit.StateRescheduled, RunID: "r1", Duration: 3 * time.Second}})
	c.Observe(eventbus.Event{Data: status.Entry{Task: "arena", State: unit.StateScheduled}})
	require.Equal(t, 1.0, testutil.ToFloat64(c.taskRuns.WithLabelValues("arena", "RESCHEDULED")))
	require.Equal(t, 1, testutil.CollectAndCount(c.taskRuns))

	c.Observe(eventbus.Event{Data: scheduler.ProfileEvent{ProfileID: "a", State: queue.RunRunning}})
	c.Observe(eventbus.Event{Data: scheduler.ProfileEvent{ProfileID: "a", State: queue.RunStopped}})
	require.Equal(t, 0.0, testutil.ToFloat64(c.profileState.WithLabelValues("a", "RUNNING")))
	require.Equal(t, 1.0, testutil.ToFloat64(c.profileState.WithLabelValues("a", "STOPPED")))

	c.ForgetProfile("a")
	require.Equal(t, 0, testutil.CollectAndCount(c.profileState))

	require.Equal(t, 1.0, testutil.ToFloat64(c.botState.WithLabelValues("STOPPED")))
	c.Observe(eventbus.Event{Data: scheduler.BotEvent{State: queue.RunPaused}})
	require.Equal(t, 1.0, testutil.ToFloat64(c.botState.WithLabelValues("PAUSED")))
	require.Equal(t, 0.0, testutil.ToFloat64(c.botState.WithLabelValues("STOPPED")))

	c.Observe(eventbus.Event{Data: notifier.Event{Kind: "sent"}})
	require.Equal(t, 1.0, testutil.ToFloat64(c.notifications.WithLabelValues("sent")))
}

func TestRunAndHandler(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	c := New(bus)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, bus) }()

	require.Eventually(t, func() bool {
		bus.Publish(eventbus.Event{Topic: eventbus.TopicBotState, Data: scheduler.BotEvent{State: queue.RunRunning}})
		return testutil.ToFloat64(c.botState.WithLabelValues("RUNNING")) == 1
	}, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), `wosbot_bot_state{state="RUNNING"} 1`)
	require.Contains(t, string(body), "wosbot_eventbus_dropped_total")
	require.Contains(t, string(body), "go_goroutines")
}
