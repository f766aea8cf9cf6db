// Package delay is the single wait primitive used by workers and routines.
//
// Every pause in the engine (post-tap settle time, OCR retry backoff, idle
// polling) goes through a Sleeper so that cancelling the context unwinds the
// wait immediately.
package delay

import (
	"context"
	"time"
)

// Sleeper blocks for a bounded duration unless ctx is cancelled first.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// Real is the wall-clock Sleeper.
type Real struct{}

func (Real) Sleep(ctx context.Context, d time.Duration) error {
	return Sleep(ctx, d)
}

// Sleep waits d or until ctx is done. It returns ctx.Err() when interrupted.
func Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Wait is Sleep that also returns early (with woke=true) when wake fires.
// A nil wake channel never fires.
func Wait(ctx context.Context, d time.Duration, wake <-chan struct{}) (woke bool, err error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if d <= 0 {
		return false, nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case <-wake:
		return true, nil
	case <-t.C:
		return false, nil
	}
}

// Scaled divides every requested duration by Factor. Dry runs and tests use it
// to replay routines quickly with the same call pattern.
type Scaled struct {
	Factor int
}

func (s Scaled) Sleep(ctx context.Context, d time.Duration) error {
	if s.Factor > 1 {
		d /= time.Duration(s.Factor)
	}
	return Sleep(ctx, d)
}

// Recorder is a Sleeper that returns immediately and remembers the requested
// durations.
type Recorder struct {
	Calls []time.Duration
}

func (r *Recorder) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.Calls = append(r.Calls, d)
	return nil
}

// Total is the sum of all recorded sleeps.
func (r *Recorder) Total() time.Duration {
	var sum time.Duration
	for _, d := range r.Calls {
		sum += d
	}
	return sum
}
