package unit

import (
	"errors"
	"fmt"
)

// TaskType is the stable tag of a task definition, e.g. "chief_order.rush_job".
type TaskType string

// State is the lifecycle state of a Task Unit.
//
//	SCHEDULED -> RUNNING -> {RESCHEDULED, RETRY_SCHEDULED, STOPPED, RECONNECT_PENDING, DROPPED}
type State string

const (
	StateScheduled        State = "SCHEDULED"
	StateRunning          State = "RUNNING"
	StateRescheduled      State = "RESCHEDULED"
	StateRetryScheduled   State = "RETRY_SCHEDULED"
	StateStopped          State = "STOPPED"
	StateReconnectPending State = "RECONNECT_PENDING"
	StateDropped          State = "DROPPED"
)

// Terminal reports whether the unit leaves its queue for good.
func (s State) Terminal() bool { return s == StateDropped }

// StartLocation is the screen a routine needs before its body runs.
type StartLocation string

const (
	LocationAny   StartLocation = "ANY"
	LocationHome  StartLocation = "HOME"
	LocationWorld StartLocation = "WORLD"
)

var (
	ErrAlreadyRescheduled = errors.New("unit already rescheduled in this run")
	ErrUnknownTask        = errors.New("unknown task type")
	ErrDuplicateTask      = errors.New("task type already registered")
)

// Kind tags a routine Result.
type Kind int

const (
	KindOk Kind = iota
	KindFatal
	KindReconnect
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindOk:
		return "ok"
	case KindFatal:
		return "fatal"
	case KindReconnect:
		return "reconnect"
	case KindError:
		return "error"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Result is what a routine returns. Fatal and Reconnect cross the worker
// boundary as values; soft failures never do (the routine reschedules itself
// and returns Ok).
type Result struct {
	Kind   Kind
	Reason string
	Err    error
}

func Ok() Result { return Result{Kind: KindOk} }

// Fatal stops the profile's queue until an operator restarts it.
func Fatal(reason string) Result { return Result{Kind: KindFatal, Reason: reason} }

// Reconnect parks the profile's queue until the session is back.
func Reconnect(reason string) Result { return Result{Kind: KindReconnect, Reason: reason} }

// Failed reports an unexpected error; the worker retries with backoff.
func Failed(err error) Result {
	if err == nil {
		return Ok()
	}
	return Result{Kind: KindError, Reason: err.Error(), Err: err}
}

func (r Result) String() string {
	if r.Reason == "" {
		return r.Kind.String()
	}
	return r.Kind.String() + ": " + r.Reason
}
