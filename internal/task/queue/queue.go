// Package queue holds the per-profile ordered set of Task Units.
//
// Units are keyed by NextRun, tie-broken by definition priority (higher
// first) and then insertion order. At most one unit per task type, and at
// most one unit in flight.
package queue

import (
	"container/heap"
	"errors"
	"sort"
	"sync"
	"time"

	"wosbot/internal/task/unit"
)

// RunState is tracked for the bot as a whole and for each profile queue.
type RunState string

const (
	RunRunning           RunState = "RUNNING"
	RunPaused            RunState = "PAUSED"
	RunStopped           RunState = "STOPPED"
	RunReconnectRequired RunState = "RECONNECT_REQUIRED"
)

var (
	ErrBusy        = errors.New("queue: a unit is already running")
	ErrNotRunnable = errors.New("queue: not accepting runs")
	ErrNotQueued   = errors.New("queue: unit not queued")
	ErrNotInFlight = errors.New("queue: unit not in flight")
	ErrTransition  = errors.New("queue: invalid state transition")
)

type entry struct {
	u     *unit.Unit
	seq   uint64
	index int // heap index, -1 while in flight
}

type entryHeap []*entry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	a, b := h[i], h[j]
	if !a.u.NextRun.Equal(b.u.NextRun) {
		return a.u.NextRun.Before(b.u.NextRun)
	}
	if pa, pb := a.u.Priority(), b.u.Priority(); pa != pb {
		return pa > pb
	}
	return a.seq < b.seq
}

func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *entryHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// Queue is one profile's ordered task set. Safe for concurrent use.
type Queue struct {
	profileID string

	mu     sync.Mutex
	h      entryHeap
	byType map[unit.TaskType]*entry
	seq    uint64

	running *entry
	removed bool // in-flight unit was removed mid-run

	state          RunState
	reason         string
	reconnectUntil time.Time

	wake chan struct{}
}

func New(profileID string) *Queue {
	return &Queue{
		profileID: profileID,
		byType:    make(map[unit.TaskType]*entry),
		state:     RunRunning,
		wake:      make(chan struct{}, 1),
	}
}

func (q *Queue) ProfileID() string { return q.profileID }

// Wake fires after any change that may make a unit ready sooner.
func (q *Queue) Wake() <-chan struct{} { return q.wake }

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Schedule inserts u at `at`, or re-keys the existing unit of the same type
// (keeping its vars). It reports whether a new entry was created.
func (q *Queue) Schedule(u *unit.Unit, at time.Time) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	defer q.signal()

	if e, ok := q.byType[u.Type()]; ok {
		e.u.NextRun = at
		if e.index >= 0 {
			e.u.State = unit.StateScheduled
			heap.Fix(&q.h, e.index)
		}
		return false
	}

	q.seq++
	u.NextRun = at
	u.State = unit.StateScheduled
	e := &entry{u: u, seq: q.seq}
	q.byType[u.Type()] = e
	heap.Push(&q.h, e)
	return true
}

// Get returns the unit of type t, queued or in flight.
func (q *Queue) Get(t unit.TaskType) (*unit.Unit, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.byType[t]
	if !ok {
		return nil, false
	}
	return e.u, true
}

// NextReady returns the earliest unit due at or before now without removing
// it. It returns nothing while the queue is not RUNNING or a unit is in flight.
func (q *Queue) NextReady(now time.Time) (*unit.Unit, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.state != RunRunning || q.running != nil || len(q.h) == 0 {
		return nil, false
	}
	top := q.h[0]
	if top.u.NextRun.After(now) {
		return nil, false
	}
	return top.u, true
}

// NextDue returns the earliest pending NextRun regardless of run state.
func (q *Queue) NextDue() (time.Time, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.h) == 0 {
		return time.Time{}, false
	}
	return q.h[0].u.NextRun, true
}

// Begin commits to running u: it leaves the heap and becomes the in-flight unit.
func (q *Queue) Begin(u *unit.Unit) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running != nil {
		return ErrBusy
	}
	if q.state != RunRunning {
		return ErrNotRunnable
	}
	e, ok := q.byType[u.Type()]
	if !ok || e.u != u || e.index < 0 {
		return ErrNotQueued
	}
	heap.Remove(&q.h, e.index)
	q.running = e
	q.removed = false
	u.State = unit.StateRunning
	return nil
}

// Running returns the in-flight unit, if any.
func (q *Queue) Running() (*unit.Unit, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running == nil {
		return nil, false
	}
	return q.running.u, true
}

// Outcome is how a run ended, applied by Finish.
type Outcome struct {
	State     unit.State
	Next      time.Time
	LastRun   time.Time
	Recurring bool
	Failures  int
	Reason    string
	Drop      bool
}

// Finish ends the in-flight run. The unit is re-queued at o.Next unless it
// is dropped or was removed while running. It reports whether the unit is
// still queued.
func (q *Queue) Finish(u *unit.Unit, o Outcome) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running == nil || q.running.u != u {
		return false, ErrNotInFlight
	}
	e := q.running
	q.running = nil

	u.LastRun = o.LastRun
	u.Recurring = o.Recurring
	u.Failures = o.Failures
	u.Reason = o.Reason
	u.State = o.State

	if o.Drop || q.removed {
		q.removed = false
		delete(q.byType, u.Type())
		u.State = unit.StateDropped
		return false, nil
	}
	u.NextRun = o.Next
	heap.Push(&q.h, e)
	q.signal()
	return true, nil
}

// Remove deletes the unit of type t. Removing an in-flight unit drops it when
// its run finishes. Removing an unknown type is a no-op.
func (q *Queue) Remove(t unit.TaskType) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.byType[t]
	if !ok {
		return false
	}
	if q.running == e {
		q.removed = true
		return true
	}
	heap.Remove(&q.h, e.index)
	delete(q.byType, t)
	e.u.State = unit.StateDropped
	return true
}

// Types lists every task type held, queued or in flight.
func (q *Queue) Types() []unit.TaskType {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]unit.TaskType, 0, len(q.byType))
	for t := range q.byType {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.byType)
}

// Snapshot lists pending units in dequeue order, then the in-flight unit.
func (q *Queue) Snapshot() []unit.Snapshot {
	q.mu.Lock()
	defer q.mu.Unlock()
	sorted := make(entryHeap, len(q.h))
	copy(sorted, q.h)
	sort.Slice(sorted, func(i, j int) bool { return sorted.Less(i, j) })
	out := make([]unit.Snapshot, 0, len(sorted)+1)
	for _, e := range sorted {
		out = append(out, e.u.Snapshot())
	}
	if q.running != nil {
		out = append(out, q.running.u.Snapshot())
	}
	return out
}
