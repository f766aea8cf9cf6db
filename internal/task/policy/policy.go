// Package policy computes next-run instants: fixed cooldowns, OCR-measured
// cooldowns, game-reset alignment, and failure backoff.
package policy

import (
	"time"
)

// Fixed is completion + interval.
func Fixed(completion time.Time, interval time.Duration) time.Time {
	return completion.Add(interval)
}

// Measured is now + an OCR-measured remaining duration.
func Measured(now time.Time, measured time.Duration) time.Time {
	return now.Add(measured)
}

// Prefer returns Measured when ok, otherwise Fixed.
func Prefer(now time.Time, measured time.Duration, ok bool, interval time.Duration) time.Time {
	if ok && measured > 0 {
		return Measured(now, measured)
	}
	return Fixed(now, interval)
}

// BackoffOptions bounds the retry delay after unexpected failures.
type BackoffOptions struct {
	Base   time.Duration
	Max    time.Duration
	Jitter float64 // fraction, e.g. 0.2 for ±20%
}

func (o BackoffOptions) withDefaults() BackoffOptions {
	if o.Base <= 0 {
		o.Base = 30 * time.Second
	}
	if o.Max <= 0 {
		o.Max = 30 * time.Minute
	}
	if o.Jitter < 0 {
		o.Jitter = 0
	}
	if o.Jitter > 1 {
		o.Jitter = 1
	}
	return o
}

// Backoff returns base·2^(failures-1), jittered by rnd (in [0,1)), capped at Max.
// failures starts at 1.
func Backoff(o BackoffOptions, failures int, rnd func() float64) time.Duration {
	o = o.withDefaults()
	if failures < 1 {
		failures = 1
	}
	d := o.Base
	for i := 1; i < failures; i++ {
		d *= 2
		if d > o.Max {
			d = o.Max
			break
		}
	}
	// jitter [1-j, 1+j]
	if o.Jitter > 0 && rnd != nil {
		r := (rnd()*2 - 1) * o.Jitter
		d = time.Duration(float64(d) * (1 + r))
		if d < 0 {
			d = 0
		}
	}
	if d > o.Max {
		d = o.Max
	}
	return d
}
