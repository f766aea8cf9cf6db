package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"wosbot/internal/eventbus"
	logx "wosbot/pkg/logx"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Auth is enforced by bearerAuth; any origin may connect.
	CheckOrigin: func(*http.Request) bool { return true },
}

type wireEvent struct {
	Topic eventbus.Topic `json:"topic"`
	Time  time.Time      `json:"time"`
	Data  any            `json:"data"`
}

// events streams bus events as JSON frames. ?topics=a,b narrows the stream.
func (h *handlers) events(w http.ResponseWriter, r *http.Request) {
	var topics []eventbus.Topic
	for _, t := range strings.Split(r.URL.Query().Get("topics"), ",") {
		if t = strings.TrimSpace(t); t != "" {
			topics = append(topics, eventbus.Topic(t))
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ch, unsub := h.d.Bus.Subscribe(256, topics...)
	defer unsub()

	// The reader only services control frames and notices disconnects.
	gone := make(chan struct{})
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-gone:
			return
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case ev, ok := <-ch:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(wireEvent{Topic: ev.Topic, Time: ev.Time, Data: ev.Data}); err != nil {
				if !h.log.IsZero() {
					h.log.Debug("event stream closed", logx.Err(err))
				}
				return
			}
		}
	}
}
