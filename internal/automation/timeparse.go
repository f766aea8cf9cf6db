package automation

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Accepted: "1d 03:15:00", "1d03:15:00", "03:15:00", "15:00" (mm:ss), "2d".
// In-game countdowns never show more than three day digits.
var gameDurationRe = regexp.MustCompile(`^(?:(\d{1,3})d)?\s*(?:(?:(\d{1,2}):)?(\d{1,2}):(\d{2}))?$`)

// IsValidTime reports whether s looks like an in-game countdown.
func IsValidTime(s string) bool {
	_, err := ParseGameDuration(s)
	return err == nil
}

// ParseGameDuration converts an in-game countdown to a duration.
func ParseGameDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("parse game duration: empty")
	}
	m := gameDurationRe.FindStringSubmatch(s)
	if m == nil || (m[1] == "" && m[4] == "") {
		return 0, fmt.Errorf("parse game duration %q: unrecognized format", s)
	}

	num := func(v string) int {
		if v == "" {
			return 0
		}
		n, _ := strconv.Atoi(v)
		return n
	}
	days, hours, mins, secs := num(m[1]), num(m[2]), num(m[3]), num(m[4])
	if m[2] != "" && hours > 23 {
		return 0, fmt.Errorf("parse game duration %q: hours out of range", s)
	}
	if mins > 59 || secs > 59 {
		return 0, fmt.Errorf("parse game duration %q: minutes/seconds out of range", s)
	}
	d := time.Duration(days)*24*time.Hour +
		time.Duration(hours)*time.Hour +
		time.Duration(mins)*time.Minute +
		time.Duration(secs)*time.Second
	return d, nil
}
