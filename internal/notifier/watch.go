package notifier

import (
	"context"
	"fmt"
	"time"

	"wosbot/internal/eventbus"
	"wosbot/internal/task/queue"
	"wosbot/internal/task/scheduler"
	logx "wosbot/pkg/logx"
)

// Operator-driven stops carry these reasons and never alert.
var quietReasons = map[string]bool{
	"bot stopped": true,
	"disabled":    true,
}

// Watch converts bot and profile state events into notifications until ctx
// ends.
func (s *Service) Watch(ctx context.Context, bus eventbus.Bus) error {
	ch, unsub := bus.Subscribe(128, eventbus.TopicBotState, eventbus.TopicProfileState)
	defer unsub()

	alerted := map[string]queue.RunState{}
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			n, ok := s.translate(ev, alerted)
			if !ok {
				continue
			}
			if err := s.Notify(ctx, n); err != nil && ctx.Err() == nil {
				s.log.Debug("notification not queued", logx.Profile(n.ProfileID), logx.Err(err))
			}
		}
	}
}

// translate maps one event to a notification. alerted remembers which
// profiles are in an alerting state so a recovery note is sent once.
func (s *Service) translate(ev eventbus.Event, alerted map[string]queue.RunState) (Notification, bool) {
	switch e := ev.Data.(type) {
	case scheduler.ProfileEvent:
		label := e.Name
		if label == "" {
			label = e.ProfileID
		}
		switch e.State {
		case queue.RunStopped:
			if quietReasons[e.Reason] {
				delete(alerted, e.ProfileID)
				return Notification{}, false
			}
			alerted[e.ProfileID] = e.State
			return Notification{
				Key:       "stopped:" + e.Reason,
				ProfileID: e.ProfileID,
				Severity:  SeverityCritical,
				Text:      fmt.Sprintf("Profile %s stopped: %s", label, reasonOr(e.Reason, "unknown")),
			}, true
		case queue.RunReconnectRequired:
			alerted[e.ProfileID] = e.State
			text := fmt.Sprintf("Profile %s was disconnected", label)
			if !e.ReconnectUntil.IsZero() {
				text += ", retrying after " + e.ReconnectUntil.Format(time.TimeOnly)
			}
			return Notification{
				Key:       "reconnect",
				ProfileID: e.ProfileID,
				Severity:  SeverityWarning,
				Text:      text,
			}, true
		case queue.RunRunning:
			prev, was := alerted[e.ProfileID]
			if !was {
				return Notification{}, false
			}
			delete(alerted, e.ProfileID)
			return Notification{
				Key:       "recovered:" + string(prev),
				ProfileID: e.ProfileID,
				Severity:  SeverityInfo,
				Text:      fmt.Sprintf("Profile %s is running again", label),
			}, true
		}
	case scheduler.BotEvent:
		if e.State == queue.RunStopped && e.Reason != "" && !quietReasons[e.Reason] {
			return Notification{
				Key:      "bot.stopped:" + e.Reason,
				Severity: SeverityCritical,
				Text:     "Bot stopped: " + e.Reason,
			}, true
		}
	}
	return Notification{}, false
}

func reasonOr(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
