package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	hpprof "net/http/pprof"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"wosbot/internal/eventbus"
	"wosbot/internal/notifier"
	"wosbot/internal/status"
	"wosbot/internal/storage"
	"wosbot/internal/task/queue"
	"wosbot/internal/task/scheduler"
	logx "wosbot/pkg/logx"
)

// Controller is the scheduler surface the API drives.
type Controller interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Pause() error
	Resume() error
	State() queue.RunState
	Paused() bool
	PauseProfile(id string) error
	ResumeProfile(id string) error
	RestartProfile(id string) error
	ClearReconnect(id string) error
	Profiles() []scheduler.ProfileStatus
	Transitions(ctx context.Context, id string, limit int) ([]storage.Transition, error)
	Registry() *status.Registry
}

// History is implemented by *notifier.Service.
type History interface {
	Snapshot() []notifier.HistoryItem
}

type Deps struct {
	Control Controller
	Bus     eventbus.Bus
	Metrics http.Handler
	History History
	// Reload re-reads the config file; nil hides the endpoint.
	Reload  func(ctx context.Context) error
	Version string
}

type RouteOptions struct {
	Token          string
	RequestTimeout time.Duration
	Pprof          bool
	Log            logx.Logger
}

// Routes builds the router. It is exported for tests and embedding.
func Routes(d Deps, o RouteOptions) http.Handler {
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 30 * time.Second
	}
	h := &handlers{d: d, log: o.Log}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Get("/healthz", h.health)

	r.Group(func(r chi.Router) {
		r.Use(bearerAuth(o.Token))
		if d.Bus != nil {
			r.Get("/events", h.events)
		}
		if d.Metrics != nil {
			r.Method(http.MethodGet, "/metrics", d.Metrics)
		}
		if o.Pprof {
			r.HandleFunc("/debug/pprof/*", hpprof.Index)
			r.HandleFunc("/debug/pprof/cmdline", hpprof.Cmdline)
			r.HandleFunc("/debug/pprof/profile", hpprof.Profile)
			r.HandleFunc("/debug/pprof/symbol", hpprof.Symbol)
			r.HandleFunc("/debug/pprof/trace", hpprof.Trace)
		}

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(o.RequestTimeout))
			r.Get("/status", h.status)
			r.Get("/tasks", h.tasks)
			r.Get("/notifications", h.notifications)
			if d.Reload != nil {
				r.Post("/config/reload", h.reload)
			}

			r.Route("/bot", func(r chi.Router) {
				r.Post("/start", h.botOp(func(ctx context.Context) error { return d.Control.Start(ctx) }))
				r.Post("/stop", h.botOp(func(ctx context.Context) error { return d.Control.Stop(ctx) }))
				r.Post("/pause", h.botOp(func(context.Context) error { return d.Control.Pause() }))
				r.Post("/resume", h.botOp(func(context.Context) error { return d.Control.Resume() }))
			})

			r.Route("/profiles/{id}", func(r chi.Router) {
				r.Get("/", h.profile)
				r.Get("/transitions", h.transitions)
				r.Post("/pause", h.profileOp(Controller.PauseProfile))
				r.Post("/resume", h.profileOp(Controller.ResumeProfile))
				r.Post("/restart", h.profileOp(Controller.RestartProfile))
				r.Post("/reconnect-clear", h.profileOp(Controller.ClearReconnect))
			})
		})
	})
	return r
}

type handlers struct {
	d   Deps
	log logx.Logger
}

type statusResponse struct {
	Version  string                    `json:"version,omitempty"`
	State    queue.RunState            `json:"state"`
	Paused   bool                      `json:"paused"`
	Profiles []scheduler.ProfileStatus `json:"profiles"`
	Tasks    []status.Entry            `json:"tasks"`
}

func (h *handlers) health(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *handlers) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		Version:  h.d.Version,
		State:    h.d.Control.State(),
		Paused:   h.d.Control.Paused(),
		Profiles: h.d.Control.Profiles(),
		Tasks:    h.d.Control.Registry().Snapshot(),
	})
}

func (h *handlers) tasks(w http.ResponseWriter, r *http.Request) {
	reg := h.d.Control.Registry()
	if id := r.URL.Query().Get("profile"); id != "" {
		writeJSON(w, http.StatusOK, reg.Profile(id))
		return
	}
	writeJSON(w, http.StatusOK, reg.Snapshot())
}

func (h *handlers) notifications(w http.ResponseWriter, _ *http.Request) {
	if h.d.History == nil {
		writeJSON(w, http.StatusOK, []notifier.HistoryItem{})
		return
	}
	writeJSON(w, http.StatusOK, h.d.History.Snapshot())
}

func (h *handlers) reload(w http.ResponseWriter, r *http.Request) {
	if err := h.d.Reload(r.Context()); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "reloaded"})
}

func (h *handlers) profile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	for _, p := range h.d.Control.Profiles() {
		if p.ID == id {
			writeJSON(w, http.StatusOK, p)
			return
		}
	}
	writeError(w, http.StatusNotFound, scheduler.ErrUnknownProfile)
}

func (h *handlers) transitions(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, errors.New("limit must be a positive integer"))
			return
		}
		limit = min(n, 1000)
	}
	out, err := h.d.Control.Transitions(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handlers) botOp(op func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := op(r.Context()); err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		h.logOp(r)
		writeJSON(w, http.StatusOK, map[string]queue.RunState{"state": h.d.Control.State()})
	}
}

func (h *handlers) profileOp(op func(Controller, string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := op(h.d.Control, id); err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		h.logOp(r)
		for _, p := range h.d.Control.Profiles() {
			if p.ID == id {
				writeJSON(w, http.StatusOK, p.Queue)
				return
			}
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (h *handlers) logOp(r *http.Request) {
	if h.log.IsZero() {
		return
	}
	h.log.Info("api operation",
		logx.String("method", r.Method),
		logx.String("path", r.URL.Path),
		logx.String("request_id", middleware.GetReqID(r.Context())),
	)
}

// statusFor maps controller errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, scheduler.ErrUnknownProfile):
		return http.StatusNotFound
	case errors.Is(err, scheduler.ErrNotRunning),
		errors.Is(err, scheduler.ErrStopped),
		errors.Is(err, queue.ErrTransition):
		return http.StatusConflict
	case errors.Is(err, storage.ErrDisabled):
		return http.StatusNotImplemented
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func bearerAuth(token string) func(http.Handler) http.Handler {
	tok := strings.TrimSpace(token)
	return func(next http.Handler) http.Handler {
		if tok == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.URL.Query().Get("token")
			if got == "" {
				got = strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
			}
			if got != tok {
				w.Header().Set("WWW-Authenticate", "Bearer")
				writeError(w, http.StatusUnauthorized, errors.New("unauthorized"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
