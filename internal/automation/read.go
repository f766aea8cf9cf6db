package automation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"wosbot/internal/task/delay"
)

var ErrNoValidText = errors.New("automation: no valid text recognized")

// ReadOptions bounds a retried OCR read.
type ReadOptions struct {
	MaxRetries int
	RetryDelay time.Duration
	Settings   OCRSettings
}

// TimeRead is the OCR setup for game countdown timers.
var TimeRead = ReadOptions{
	MaxRetries: 3,
	RetryDelay: 500 * time.Millisecond,
	Settings:   OCRSettings{AllowedChars: "0123456789:d", RemoveBackground: true},
}

// Read runs OCR on area until validate accepts the trimmed text and parse
// succeeds, at most opt.MaxRetries times with opt.RetryDelay between tries.
// A nil validate accepts any non-empty text.
func Read[T any](
	ctx context.Context,
	sl delay.Sleeper,
	r TextReader,
	emu int,
	area Area,
	opt ReadOptions,
	validate func(string) bool,
	parse func(string) (T, error),
) (T, error) {
	var zero T
	attempts := opt.MaxRetries
	if attempts <= 0 {
		attempts = 1
	}
	if sl == nil {
		sl = delay.Real{}
	}

	var last string
	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 && opt.RetryDelay > 0 {
			if err := sl.Sleep(ctx, opt.RetryDelay); err != nil {
				return zero, err
			}
		}
		text, err := r.ReadText(ctx, emu, area, opt.Settings)
		if err != nil {
			if ctx.Err() != nil {
				return zero, ctx.Err()
			}
			lastErr = err
			continue
		}
		text = strings.TrimSpace(text)
		last = text
		if text == "" {
			continue
		}
		if validate != nil && !validate(text) {
			continue
		}
		v, err := parse(text)
		if err != nil {
			lastErr = err
			continue
		}
		return v, nil
	}
	if lastErr != nil {
		return zero, fmt.Errorf("%w after %d attempts (last %q): %v", ErrNoValidText, attempts, last, lastErr)
	}
	return zero, fmt.Errorf("%w after %d attempts (last %q)", ErrNoValidText, attempts, last)
}

// ReadDuration reads a countdown timer such as "1d 03:15:00".
func ReadDuration(ctx context.Context, sl delay.Sleeper, r TextReader, emu int, area Area) (time.Duration, error) {
	return Read(ctx, sl, r, emu, area, TimeRead, IsValidTime, ParseGameDuration)
}
