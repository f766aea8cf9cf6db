package queue

import (
	"fmt"
	"time"
)

// StateInfo is the queue's run state with its reason.
type StateInfo struct {
	State          RunState  `json:"state"`
	Reason         string    `json:"reason,omitempty"`
	ReconnectUntil time.Time `json:"reconnect_until,omitempty"`
}

func (q *Queue) State() StateInfo {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stateLocked()
}

func (q *Queue) stateLocked() StateInfo {
	return StateInfo{State: q.state, Reason: q.reason, ReconnectUntil: q.reconnectUntil}
}

// transition applies `to` when the current state is one of `from`, reporting
// whether anything changed.
func (q *Queue) transition(to RunState, reason string, from ...RunState) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.state == to {
		return false, nil
	}
	allowed := false
	for _, f := range from {
		if q.state == f {
			allowed = true
			break
		}
	}
	if !allowed {
		return false, fmt.Errorf("%w: %s cannot move from %s to %s", ErrTransition, q.profileID, q.state, to)
	}
	q.state = to
	q.reason = reason
	if to != RunReconnectRequired {
		q.reconnectUntil = time.Time{}
	}
	q.signal()
	return true, nil
}

// Pause stops dequeuing. An in-flight unit runs to completion.
func (q *Queue) Pause() (bool, error) {
	return q.transition(RunPaused, "paused", RunRunning)
}

// Resume only leaves PAUSED; STOPPED and RECONNECT_REQUIRED need Restart or
// ClearReconnect.
func (q *Queue) Resume() (bool, error) {
	return q.transition(RunRunning, "", RunPaused)
}

// Stop halts the queue after a fatal outcome.
func (q *Queue) Stop(reason string) (bool, error) {
	return q.transition(RunStopped, reason, RunRunning, RunPaused, RunReconnectRequired)
}

// MarkReconnect holds the queue until `until` because the session was lost.
func (q *Queue) MarkReconnect(reason string, until time.Time) (bool, error) {
	changed, err := q.transition(RunReconnectRequired, reason, RunRunning, RunPaused)
	if err != nil {
		return false, err
	}
	q.mu.Lock()
	q.reconnectUntil = until
	q.mu.Unlock()
	return changed, nil
}

// ExtendReconnect pushes the reconnect deadline without changing state.
func (q *Queue) ExtendReconnect(until time.Time) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.state != RunReconnectRequired {
		return false
	}
	q.reconnectUntil = until
	return true
}

func (q *Queue) ClearReconnect() (bool, error) {
	return q.transition(RunRunning, "", RunReconnectRequired)
}

// Restart returns a STOPPED or RECONNECT_REQUIRED queue to RUNNING.
func (q *Queue) Restart() (bool, error) {
	return q.transition(RunRunning, "", RunStopped, RunReconnectRequired, RunPaused)
}
