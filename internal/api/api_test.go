package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"wosbot/internal/eventbus"
	"wosbot/internal/status"
	"wosbot/internal/storage"
	"wosbot/internal/task/queue"
	"wosbot/internal/task/scheduler"
	"wosbot/internal/task/unit"
	logx "wosbot/pkg/logx"
)

type fakeCtl struct {
	mu       sync.Mutex
	state    queue.RunState
	profiles []scheduler.ProfileStatus
	reg      *status.Registry
	calls    []string
}

func (f *fakeCtl) has(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.profiles {
		if p.ID == id {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", scheduler.ErrUnknownProfile, id)
}

func (f *fakeCtl) set(st queue.RunState) {
	f.mu.Lock()
	f.state = st
	f.mu.Unlock()
}

func (f *fakeCtl) Start(context.Context) error { f.set(queue.RunRunning); return nil }
func (f *fakeCtl) Stop(context.Context) error  { f.set(queue.RunStopped); return nil }
func (f *fakeCtl) Resume() error               { f.set(queue.RunRunning); return nil }

func (f *fakeCtl) Pause() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == queue.RunStopped {
		return scheduler.ErrStopped
	}
	f.state = queue.RunPaused
	return nil
}

func (f *fakeCtl) State() queue.RunState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeCtl) Paused() bool               { return f.State() == queue.RunPaused }
func (f *fakeCtl) Registry() *status.Registry { return f.reg }
func (f *fakeCtl) Profiles() []scheduler.ProfileStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]scheduler.ProfileStatus(nil), f.profiles...)
}

func (f *fakeCtl) PauseProfile(id string) error {
	if err := f.has(id); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "pause "+id)
	f.profiles[0].Queue = queue.StateInfo{State: queue.RunPaused, Reason: "paused"}
	return nil
}

func (f *fakeCtl) ResumeProfile(id string) error {
	return fmt.Errorf("%w: %s cannot move from STOPPED to RUNNING", queue.ErrTransition, id)
}

func (f *fakeCtl) RestartProfile(id string) error { return f.has(id) }
func (f *fakeCtl) ClearReconnect(id string) error { return f.has(id) }

func (f *fakeCtl) Transitions(_ context.Context, id string, limit int) ([]storage.Transition, error) {
	if err := f.has(id); err != nil {
		return nil, err
	}
	out := []storage.Transition{{ProfileID: id, Task: "arena", State: "RESCHEDULED"}, {ProfileID: id, Task: "boot", State: "DROPPED"}}
	return out[:min(limit, len(out))], nil
}

func newTestServer(t *testing.T, token string) (*httptest.Server, *fakeCtl, eventbus.Bus) {
	t.Helper()
	bus := eventbus.New()
	ctl := &fakeCtl{
		state:    queue.RunRunning,
		profiles: []scheduler.ProfileStatus{{ID: "main", Name: "Main", Enabled: true, Queue: queue.StateInfo{State: queue.RunRunning}}},
		reg:      status.New(nil),
	}
	ctl.reg.Update(status.Entry{ProfileID: "main", Task: "arena", State: unit.StateScheduled})
	h := Routes(Deps{
		Control: ctl,
		Bus:     bus,
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("wosbot_up 1\n")) }),
		Reload:  func(context.Context) error { return errors.New("profiles: duplicate id \"main\"") },
		Version: "test",
	}, RouteOptions{Token: token, RequestTimeout: time.Second})
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv, ctl, bus
}

func do(t *testing.T, srv *httptest.Server, method, path, token string) (int, string) {
	t.Helper()
	req, err := http.NewRequest(method, srv.URL+path, nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var b strings.Builder
	_, err = io.Copy(&b, resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, b.String()
}

func TestAuth(t *testing.T) {
	t.Parallel()
	srv, _, _ := newTestServer(t, "s3cret")

	code, body := do(t, srv, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "ok", body)

	code, _ = do(t, srv, http.MethodGet, "/status", "")
	require.Equal(t, http.StatusUnauthorized, code)
	code, _ = do(t, srv, http.MethodGet, "/status", "wrong")
	require.Equal(t, http.StatusUnauthorized, code)
	code, _ = do(t, srv, http.MethodGet, "/status?token=s3cret", "")
	require.Equal(t, http.StatusOK, code)
	code, body = do(t, srv, http.MethodGet, "/metrics", "s3cret")
	require.Equal(t, http.StatusOK, code)
	require.Contains(t, body, "wosbot_up")
}

func TestStatusAndTasks(t *testing.T) {
	t.Parallel()
	srv, _, _ := newTestServer(t, "")

	code, body := do(t, srv, http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, code)
	var st statusResponse
	require.NoError(t, json.Unmarshal([]byte(body), &st))
	require.Equal(t, "test", st.Version)
	require.Equal(t, queue.RunRunning, st.State)
	require.Len(t, st.Profiles, 1)
	require.Len(t, st.Tasks, 1)

	code, body = do(t, srv, http.MethodGet, "/tasks?profile=main", "")
	require.Equal(t, http.StatusOK, code)
	var es []status.Entry
	require.NoError(t, json.Unmarshal([]byte(body), &es))
	require.Len(t, es, 1)
	require.Equal(t, unit.TaskType("arena"), es[0].Task)

	code, _ = do(t, srv, http.MethodGet, "/profiles/main/", "")
	require.Equal(t, http.StatusOK, code)
	code, _ = do(t, srv, http.MethodGet, "/profiles/nope/", "")
	require.Equal(t, http.StatusNotFound, code)
}

func TestControls(t *testing.T) {
	t.Parallel()
	srv, ctl, _ := newTestServer(t, "")

	code, body := do(t, srv, http.MethodPost, "/bot/pause", "")
	require.Equal(t, http.StatusOK, code)
	require.JSONEq(t, `{"state":"PAUSED"}`, body)

	code, _ = do(t, srv, http.MethodPost, "/bot/stop", "")
	require.Equal(t, http.StatusOK, code)
	code, body = do(t, srv, http.MethodPost, "/bot/pause", "")
	require.Equal(t, http.StatusConflict, code)
	require.Contains(t, body, "stopped")

	code, body = do(t, srv, http.MethodPost, "/profiles/main/pause", "")
	require.Equal(t, http.StatusOK, code)
	require.Contains(t, body, `"state":"PAUSED"`)
	require.Contains(t, body, `"reason":"paused"`)
	ctl.mu.Lock()
	require.Equal(t, []string{"pause main"}, ctl.calls)
	ctl.mu.Unlock()

	code, _ = do(t, srv, http.MethodPost, "/profiles/main/resume", "")
	require.Equal(t, http.StatusConflict, code)
	code, _ = do(t, srv, http.MethodPost, "/profiles/ghost/restart", "")
	require.Equal(t, http.StatusNotFound, code)
	code, _ = do(t, srv, http.MethodPost, "/profiles/main/reconnect-clear", "")
	require.Equal(t, http.StatusOK, code)

	code, body = do(t, srv, http.MethodPost, "/config/reload", "")
	require.Equal(t, http.StatusUnprocessableEntity, code)
	require.Contains(t, body, "duplicate id")
}

func TestTransitions(t *testing.T) {
	t.Parallel()
	srv, _, _ := newTestServer(t, "")

	code, body := do(t, srv, http.MethodGet, "/profiles/main/transitions?limit=1", "")
	require.Equal(t, http.StatusOK, code)
	var tr []storage.Transition
	require.NoError(t, json.Unmarshal([]byte(body), &tr))
	require.Len(t, tr, 1)
	require.Equal(t, "arena", tr[0].Task)

	code, _ = do(t, srv, http.MethodGet, "/profiles/main/transitions?limit=x", "")
	require.Equal(t, http.StatusBadRequest, code)
	code, _ = do(t, srv, http.MethodGet, "/profiles/ghost/transitions", "")
	require.Equal(t, http.StatusNotFound, code)
}

func TestEventStream(t *testing.T) {
	t.Parallel()
	srv, _, bus := newTestServer(t, "tok")

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/events?topics=profile.state&token=tok"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()

	got := make(chan wireEvent, 4)
	go func() {
		for {
			var ev struct {
				Topic eventbus.Topic          `json:"topic"`
				Data  scheduler.ProfileEvent `json:"data"`
			}
			if err := conn.ReadJSON(&ev); err != nil {
				close(got)
				return
			}
			got <- wireEvent{Topic: ev.Topic, Data: ev.Data}
		}
	}()

	// The subscription starts after the upgrade; publish until one arrives.
	var ev wireEvent
	require.Eventually(t, func() bool {
		bus.Publish(eventbus.Event{Topic: eventbus.TopicBotState, Data: scheduler.BotEvent{State: queue.RunRunning}})
		bus.Publish(eventbus.Event{Topic: eventbus.TopicProfileState, Data: scheduler.ProfileEvent{ProfileID: "main", State: queue.RunStopped}})
		select {
		case ev = <-got:
			return true
		case <-time.After(20 * time.Millisecond):
			return false
		}
	}, 2*time.Second, time.Millisecond)
	require.Equal(t, eventbus.TopicProfileState, ev.Topic)
	require.Equal(t, "main", ev.Data.(scheduler.ProfileEvent).ProfileID)

	_, resp, err = websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/events", nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServerLifecycle(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, Addr: "127.0.0.1:0"}, Deps{Control: &fakeCtl{reg: status.New(nil)}}, logx.Nop())
	ctx := context.Background()
	s.Start(ctx)
	require.Eventually(t, func() bool { return s.Addr() != "" }, 2*time.Second, 5*time.Millisecond)

	resp, err := http.Get("http://" + s.Addr() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	s.Reconfigure(ctx, Config{Enabled: false})
	require.Empty(t, s.Addr())

	require.True(t, isLoopbackAddr("localhost:80"))
	require.True(t, isLoopbackAddr("[::1]:80"))
	require.False(t, isLoopbackAddr(":8787"))
	require.False(t, isLoopbackAddr("10.0.0.1:8787"))
}
