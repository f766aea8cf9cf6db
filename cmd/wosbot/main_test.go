package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"wosbot/internal/task/queue"
	"wosbot/internal/task/scheduler"
	"wosbot/internal/task/unit"
)

func TestValidateCommand(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("profiles:\n  - id: main\n    emulator: 2\n"), 0o600))

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"validate", "-c", path})
	require.NoError(t, root.Execute())
	require.Contains(t, out.String(), "ok (1 profiles)")

	require.NoError(t, os.WriteFile(path, []byte("profiles:\n  - id: main\n  - id: main\n"), 0o600))
	root = newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"validate", "-c", path})
	require.Error(t, root.Execute())
}

func TestStatusCommand(t *testing.T) {
	t.Parallel()
	next := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(statusView{
			Version: "1.0",
			State:   "RUNNING",
			Profiles: []scheduler.ProfileStatus{{
				ID:    "main",
				Name:  "Main",
				Queue: queue.StateInfo{State: queue.RunRunning},
				Units: []unit.Snapshot{
					{Type: "exploration", NextRun: next.Add(time.Hour)},
					{Type: "alliance_triumph", NextRun: next},
				},
			}},
		})
	}))
	defer srv.Close()

	ctx := context.Background()
	_, err := fetchStatus(ctx, srv.URL, "")
	require.ErrorContains(t, err, "401")

	st, err := fetchStatus(ctx, srv.URL, "tok")
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, printStatus(&out, st))
	require.Contains(t, out.String(), "bot: RUNNING (version 1.0)")
	require.Contains(t, out.String(), "alliance_triumph")
	require.NotContains(t, out.String(), "exploration")
}
