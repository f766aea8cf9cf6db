package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	logx "wosbot/pkg/logx"
)

//go:embed schema.sql
var schemaSQL string

type sqliteStore struct {
	db   *sql.DB
	log  logx.Logger
	keep int

	opCount    atomic.Uint64
	pruneEvery uint64
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log, keep: cfg.keepTransitions(), pruneEvery: 500}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.ExecContext(context.Background(), schemaSQL); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) LoadSchedules(ctx context.Context, profileID string) ([]Schedule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT task, next_run, last_run, recurring, failures, updated_at
		 FROM schedules WHERE profile_id = ? ORDER BY task`, profileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Schedule
	for rows.Next() {
		var (
			sc                  Schedule
			next, last, updated int64
			recurring           bool
		)
		if err := rows.Scan(&sc.Task, &next, &last, &recurring, &sc.Failures, &updated); err != nil {
			return nil, err
		}
		sc.ProfileID = profileID
		sc.NextRun = fromMillis(next)
		sc.LastRun = fromMillis(last)
		sc.Recurring = recurring
		sc.UpdatedAt = fromMillis(updated)
		out = append(out, sc)
	}
	return out, rows.Err()
}

func (s *sqliteStore) SaveSchedule(ctx context.Context, sc Schedule) error {
	if sc.UpdatedAt.IsZero() {
		sc.UpdatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO schedules(profile_id, task, next_run, last_run, recurring, failures, updated_at)
		 VALUES(?,?,?,?,?,?,?)
		 ON CONFLICT(profile_id, task) DO UPDATE SET
		   next_run=excluded.next_run, last_run=excluded.last_run, recurring=excluded.recurring,
		   failures=excluded.failures, updated_at=excluded.updated_at`,
		sc.ProfileID, sc.Task, toMillis(sc.NextRun), toMillis(sc.LastRun), sc.Recurring, sc.Failures, toMillis(sc.UpdatedAt),
	)
	return err
}

func (s *sqliteStore) DeleteSchedule(ctx context.Context, profileID, task string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM schedules WHERE profile_id = ? AND task = ?`, profileID, task)
	return err
}

func (s *sqliteStore) DeleteProfile(ctx context.Context, profileID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM schedules WHERE profile_id = ?`, profileID)
	return err
}

func (s *sqliteStore) AppendTransition(ctx context.Context, t Transition) error {
	if t.At.IsZero() {
		t.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transitions(run_id, profile_id, task, state, kind, reason, next_run, duration_ms, at)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		t.RunID, t.ProfileID, t.Task, t.State, t.Kind, nullStr(t.Reason),
		toMillis(t.NextRun), t.Duration.Milliseconds(), toMillis(t.At),
	)
	if err == nil && s.opCount.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		if perr := s.prune(pctx); perr != nil {
			s.log.Debug("prune failed", logx.Err(perr))
		}
		cancel()
	}
	return err
}

func (s *sqliteStore) RecentTransitions(ctx context.Context, profileID string, limit int) ([]Transition, error) {
	if limit <= 0 {
		limit = s.keep
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, task, state, kind, COALESCE(reason, ''), next_run, duration_ms, at
		 FROM transitions WHERE profile_id = ? ORDER BY id DESC LIMIT ?`, profileID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transition
	for rows.Next() {
		var (
			t             Transition
			next, dur, at int64
		)
		if err := rows.Scan(&t.RunID, &t.Task, &t.State, &t.Kind, &t.Reason, &next, &dur, &at); err != nil {
			return nil, err
		}
		t.ProfileID = profileID
		t.NextRun = fromMillis(next)
		t.Duration = time.Duration(dur) * time.Millisecond
		t.At = fromMillis(at)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *sqliteStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	if key == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dedup(key, until) VALUES(?,?)
		 ON CONFLICT(key) DO UPDATE SET until=excluded.until`,
		key, until.UnixMilli(),
	)
	return err
}

func (s *sqliteStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	if key == "" {
		return time.Time{}, false, nil
	}
	var ms int64
	err := s.db.QueryRowContext(ctx, `SELECT until FROM dedup WHERE key = ?`, key).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms), true, nil
}

// prune drops expired dedup keys and trims each profile's journal to keep rows.
func (s *sqliteStore) prune(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM dedup WHERE until < ?`, time.Now().UnixMilli()); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM transitions WHERE id IN (
		   SELECT id FROM (
		     SELECT id, ROW_NUMBER() OVER (PARTITION BY profile_id ORDER BY id DESC) AS rn FROM transitions
		   ) WHERE rn > ?
		 )`, s.keep)
	return err
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
