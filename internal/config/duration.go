package config

import (
	"fmt"
	"strings"
	"time"
)

// DurationOff is what Switchable returns for "off".
const DurationOff time.Duration = -1

// FieldError names the config path that holds a bad value.
type FieldError struct {
	Path  string
	Value string
	Err   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %q: %v", e.Path, e.Value, e.Err)
}

func (e *FieldError) Unwrap() error { return e.Err }

// Duration parses a Go duration string. Empty means zero; negative values
// are rejected.
func Duration(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, &FieldError{Path: path, Value: raw, Err: fmt.Errorf("invalid duration")}
	}
	if d < 0 {
		return 0, &FieldError{Path: path, Value: raw, Err: fmt.Errorf("must not be negative")}
	}
	return d, nil
}

// DurationOr is Duration with def for empty or zero values.
func DurationOr(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := Duration(path, raw)
	if err != nil || d > 0 {
		return d, err
	}
	return def, nil
}

// Switchable is DurationOr that also accepts "off" and returns DurationOff.
func Switchable(path, raw string, def time.Duration) (time.Duration, error) {
	if strings.EqualFold(strings.TrimSpace(raw), "off") {
		return DurationOff, nil
	}
	return DurationOr(path, raw, def)
}
