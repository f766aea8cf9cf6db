package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	logx "wosbot/pkg/logx"
)

// fileStore keeps everything in memory and makes it durable with files.
//
// Files:
//   - <prefix>.transitions.jsonl (append-only JSON Lines)
//   - <prefix>.state.msgpack     (periodic snapshot of schedules and dedup)
//   - <prefix>.journal.jsonl     (append-only journal since the snapshot)
//
// The journal is periodically compacted into the snapshot.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	transFile *os.File
	trans     map[string][]Transition // per profile, oldest first
	keep      int

	snapshotPath string
	journalFile  *os.File
	schedules    map[string]Schedule
	dedup        map[string]int64 // unix milli

	writes       int
	compactEvery int
}

type snapshot struct {
	Schedules map[string]Schedule `msgpack:"schedules"`
	Dedup     map[string]int64    `msgpack:"dedup"`
}

const (
	opPut        = "put"
	opDelete     = "del"
	opDelProfile = "delp"
	opDedup      = "dedup"
)

type journalRecord struct {
	Op        string    `json:"op"`
	Schedule  *Schedule `json:"schedule,omitempty"`
	ProfileID string    `json:"profile_id,omitempty"`
	Task      string    `json:"task,omitempty"`
	Key       string    `json:"key,omitempty"`
	Until     int64     `json:"until,omitempty"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	transPath := prefix + ".transitions.jsonl"
	snapPath := prefix + ".state.msgpack"
	journalPath := prefix + ".journal.jsonl"

	st := &fileStore{
		log:          log,
		trans:        map[string][]Transition{},
		keep:         cfg.keepTransitions(),
		snapshotPath: snapPath,
		schedules:    map[string]Schedule{},
		dedup:        map[string]int64{},
		compactEvery: cfg.CompactEvery,
	}
	if st.compactEvery <= 0 {
		st.compactEvery = 1000
	}

	if err := st.loadSnapshot(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("state snapshot unreadable, starting from journal", logx.Err(err))
	}
	if err := st.replayJournal(journalPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("state journal replay stopped early", logx.Err(err))
	}
	pruneExpiredDedup(st.dedup)
	if err := st.loadTransitions(transPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("transition journal unreadable", logx.Err(err))
	}

	tf, err := os.OpenFile(transPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		_ = tf.Close()
		return nil, err
	}
	st.transFile = tf
	st.journalFile = jf
	return st, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile != nil {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("final compact failed", logx.Err(err))
		}
	}
	var err1, err2 error
	if s.transFile != nil {
		err1 = s.transFile.Close()
		s.transFile = nil
	}
	if s.journalFile != nil {
		err2 = s.journalFile.Close()
		s.journalFile = nil
	}
	if err1 != nil {
		return err1
	}
	return err2
}

func (s *fileStore) LoadSchedules(ctx context.Context, profileID string) ([]Schedule, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Schedule
	for _, sc := range s.schedules {
		if sc.ProfileID == profileID {
			out = append(out, sc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Task < out[j].Task })
	return out, nil
}

func (s *fileStore) SaveSchedule(ctx context.Context, sc Schedule) error {
	_ = ctx
	if sc.UpdatedAt.IsZero() {
		sc.UpdatedAt = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schedules[sc.key()] = sc
	return s.journalLocked(journalRecord{Op: opPut, Schedule: &sc})
}

func (s *fileStore) DeleteSchedule(ctx context.Context, profileID, task string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.schedules, Schedule{ProfileID: profileID, Task: task}.key())
	return s.journalLocked(journalRecord{Op: opDelete, ProfileID: profileID, Task: task})
}

func (s *fileStore) DeleteProfile(ctx context.Context, profileID string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	deleteProfileSchedules(s.schedules, profileID)
	return s.journalLocked(journalRecord{Op: opDelProfile, ProfileID: profileID})
}

func (s *fileStore) AppendTransition(ctx context.Context, t Transition) error {
	_ = ctx
	if t.At.IsZero() {
		t.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.transFile == nil {
		return ErrClosed
	}
	if err := json.NewEncoder(s.transFile).Encode(t); err != nil {
		return err
	}
	s.rememberLocked(t)
	return nil
}

func (s *fileStore) RecentTransitions(ctx context.Context, profileID string, limit int) ([]Transition, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.trans[profileID]
	if limit <= 0 || limit > len(list) {
		limit = len(list)
	}
	out := make([]Transition, 0, limit)
	for i := len(list) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, list[i])
	}
	return out, nil
}

func (s *fileStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	_ = ctx
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	ms := until.UnixMilli()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dedup[key] = ms
	return s.journalLocked(journalRecord{Op: opDedup, Key: key, Until: ms})
}

func (s *fileStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	_ = ctx
	key = strings.TrimSpace(key)
	if key == "" {
		return time.Time{}, false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ms, ok := s.dedup[key]
	if !ok {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(ms), true, nil
}

func (s *fileStore) rememberLocked(t Transition) {
	list := append(s.trans[t.ProfileID], t)
	if over := len(list) - s.keep; over > 0 {
		list = append([]Transition(nil), list[over:]...)
	}
	s.trans[t.ProfileID] = list
}

func (s *fileStore) journalLocked(r journalRecord) error {
	if s.journalFile == nil {
		return ErrClosed
	}
	if err := json.NewEncoder(s.journalFile).Encode(r); err != nil {
		return err
	}
	s.writes++
	if s.writes%s.compactEvery == 0 {
		// Best-effort compact.
		if err := s.compactLocked(); err != nil {
			s.log.Debug("state compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) compactLocked() error {
	pruneExpiredDedup(s.dedup)

	b, err := msgpack.Marshal(snapshot{Schedules: s.schedules, Dedup: s.dedup})
	if err != nil {
		return err
	}
	tmp := s.snapshotPath + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	// Truncate journal.
	if err := s.journalFile.Truncate(0); err != nil {
		return err
	}
	_, err = s.journalFile.Seek(0, 2)
	return err
}

func (s *fileStore) loadSnapshot() error {
	b, err := os.ReadFile(s.snapshotPath)
	if err != nil {
		return err
	}
	var snap snapshot
	if err := msgpack.Unmarshal(b, &snap); err != nil {
		return err
	}
	for k, v := range snap.Schedules {
		s.schedules[k] = v
	}
	for k, v := range snap.Dedup {
		s.dedup[k] = v
	}
	return nil
}

func (s *fileStore) replayJournal(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r journalRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			continue
		}
		switch r.Op {
		case opPut:
			if r.Schedule != nil {
				s.schedules[r.Schedule.key()] = *r.Schedule
			}
		case opDelete:
			delete(s.schedules, Schedule{ProfileID: r.ProfileID, Task: r.Task}.key())
		case opDelProfile:
			deleteProfileSchedules(s.schedules, r.ProfileID)
		case opDedup:
			if r.Key != "" {
				s.dedup[r.Key] = r.Until
			}
		}
	}
	return sc.Err()
}

func (s *fileStore) loadTransitions(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		var t Transition
		if err := json.Unmarshal(sc.Bytes(), &t); err != nil {
			continue
		}
		s.rememberLocked(t)
	}
	return sc.Err()
}

func deleteProfileSchedules(m map[string]Schedule, profileID string) {
	for k, v := range m {
		if v.ProfileID == profileID {
			delete(m, k)
		}
	}
}

func pruneExpiredDedup(m map[string]int64) {
	now := time.Now().UnixMilli()
	for k, v := range m {
		if v < now {
			delete(m, k)
		}
	}
}
