// Package metrics exposes scheduler activity as Prometheus metrics.
//
// Everything is derived from event bus traffic, so the engine itself has no
// metrics dependency:
//
//	wosbot_task_runs_total{task,state}        finished runs by outcome state
//	wosbot_task_run_duration_seconds{task}    routine wall time
//	wosbot_profile_state{profile,state}       1 for the current state, else 0
//	wosbot_bot_state{state}                   same, for the bot as a whole
//	wosbot_notifications_total{kind}          notifier outcomes
//	wosbot_eventbus_dropped_total             events lost to slow subscribers
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"wosbot/internal/eventbus"
	"wosbot/internal/notifier"
	"wosbot/internal/status"
	"wosbot/internal/task/queue"
	"wosbot/internal/task/scheduler"
	"wosbot/internal/task/unit"
)

var runStates = []queue.RunState{queue.RunRunning, queue.RunPaused, queue.RunStopped, queue.RunReconnectRequired}

type Collector struct {
	reg *prometheus.Registry

	taskRuns      *prometheus.CounterVec
	taskDuration  *prometheus.HistogramVec
	profileState  *prometheus.GaugeVec
	botState      *prometheus.GaugeVec
	notifications *prometheus.CounterVec
}

// New registers the wosbot metrics plus Go runtime collectors on a private
// registry. bus feeds the dropped-events counter; it may be nil.
func New(bus eventbus.Bus) *Collector {
	c := &Collector{
		reg: prometheus.NewRegistry(),
		taskRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wosbot_task_runs_total",
			Help: "Finished task runs by resulting state.",
		}, []string{"task", "state"}),
		taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "wosbot_task_run_duration_seconds",
			Help:    "Wall time of one routine run.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"task"}),
		profileState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "wosbot_profile_state",
			Help: "Current run state per profile (1 = active state).",
		}, []string{"profile", "state"}),
		botState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "wosbot_bot_state",
			Help: "Current global run state (1 = active state).",
		}, []string{"state"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wosbot_notifications_total",
			Help: "Notifier outcomes by kind.",
		}, []string{"kind"}),
	}
	c.reg.MustRegister(
		c.taskRuns,
		c.taskDuration,
		c.profileState,
		c.botState,
		c.notifications,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if bus != nil {
		c.reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "wosbot_eventbus_dropped_total",
			Help: "Events dropped because a subscriber buffer was full.",
		}, func() float64 { return float64(eventbus.Dropped(bus)) }))
	}
	c.setBot(queue.RunStopped)
	return c
}

func (c *Collector) Registry() *prometheus.Registry { return c.reg }

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{Registry: c.reg})
}

// Run consumes bus events until ctx ends.
func (c *Collector) Run(ctx context.Context, bus eventbus.Bus) error {
	ch, unsub := bus.Subscribe(512)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			c.Observe(ev)
		}
	}
}

// Observe applies one event.
func (c *Collector) Observe(ev eventbus.Event) {
	switch e := ev.Data.(type) {
	case status.Entry:
		if e.RunID == "" || e.State == unit.StateRunning {
			return
		}
		c.taskRuns.WithLabelValues(string(e.Task), string(e.State)).Inc()
		c.taskDuration.WithLabelValues(string(e.Task)).Observe(e.Duration.Seconds())
	case scheduler.ProfileEvent:
		for _, st := range runStates {
			c.profileState.WithLabelValues(e.ProfileID, string(st)).Set(flag(st == e.State))
		}
	case scheduler.BotEvent:
		c.setBot(e.State)
	case notifier.Event:
		c.notifications.WithLabelValues(e.Kind).Inc()
	}
}

// ForgetProfile drops the state series of a removed profile.
func (c *Collector) ForgetProfile(id string) {
	c.profileState.DeletePartialMatch(prometheus.Labels{"profile": id})
}

func (c *Collector) setBot(cur queue.RunState) {
	for _, st := range runStates {
		c.botState.WithLabelValues(string(st)).Set(flag(st == cur))
	}
}

func flag(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
