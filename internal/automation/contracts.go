// Package automation defines the boundary to the emulator: template search,
// OCR, device control and screen navigation. Routines only talk to the game
// through these interfaces.
package automation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"wosbot/internal/profile"
	"wosbot/internal/task/unit"
)

// Point is a screen coordinate in device pixels.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func (p Point) String() string { return fmt.Sprintf("(%d,%d)", p.X, p.Y) }

// Area is an axis-aligned rectangle, inclusive on both corners.
type Area struct {
	TopLeft     Point `json:"top_left"`
	BottomRight Point `json:"bottom_right"`
}

func Rect(x1, y1, x2, y2 int) Area {
	return Area{TopLeft: Point{X: x1, Y: y1}, BottomRight: Point{X: x2, Y: y2}}
}

func (a Area) Center() Point {
	return Point{X: (a.TopLeft.X + a.BottomRight.X) / 2, Y: (a.TopLeft.Y + a.BottomRight.Y) / 2}
}

func (a Area) Contains(p Point) bool {
	return p.X >= a.TopLeft.X && p.X <= a.BottomRight.X && p.Y >= a.TopLeft.Y && p.Y <= a.BottomRight.Y
}

func (a Area) Width() int  { return a.BottomRight.X - a.TopLeft.X }
func (a Area) Height() int { return a.BottomRight.Y - a.TopLeft.Y }

// Template names a reference image known to the Searcher.
type Template string

// SearchConfig bounds one template search.
type SearchConfig struct {
	// Threshold is the minimum match score in percent (0..100).
	Threshold   int
	MaxAttempts int
	Delay       time.Duration
	// Area restricts the search; nil means the whole screen.
	Area *Area
	// MaxResults caps SearchAll. Zero means the searcher's default.
	MaxResults int
}

// DefaultSingle is the search used when a routine does not say otherwise.
var DefaultSingle = SearchConfig{Threshold: 90, MaxAttempts: 1, Delay: 300 * time.Millisecond}

// Match is a search result.
type Match struct {
	Found bool    `json:"found"`
	Point Point   `json:"point"`
	Score float64 `json:"score"`
}

type Searcher interface {
	Search(ctx context.Context, emu int, t Template, cfg SearchConfig) (Match, error)
	SearchAll(ctx context.Context, emu int, t Template, cfg SearchConfig) ([]Match, error)
}

// OCRSettings tunes one text recognition call.
type OCRSettings struct {
	AllowedChars     string
	RemoveBackground bool
	Language         string
}

type TextReader interface {
	ReadText(ctx context.Context, emu int, area Area, s OCRSettings) (string, error)
}

// Emulator controls one emulator instance and the game app inside it.
type Emulator interface {
	IsRunning(ctx context.Context, emu int) (bool, error)
	Launch(ctx context.Context, emu int) error
	Close(ctx context.Context, emu int) error

	Tap(ctx context.Context, emu int, p Point) error
	Swipe(ctx context.Context, emu int, from, to Point) error
	Back(ctx context.Context, emu int) error

	IsAppInstalled(ctx context.Context, emu int) (bool, error)
	IsAppRunning(ctx context.Context, emu int) (bool, error)
	LaunchApp(ctx context.Context, emu int) error
	SendToBackground(ctx context.Context, emu int) error
}

// Navigator steers the game to a start location. It reports false when the
// location could not be reached within its bounded attempts.
type Navigator interface {
	EnsureLocation(ctx context.Context, p profile.Profile, loc unit.StartLocation) (bool, error)
}

// ReconnectProbe tells whether a profile's session is usable again.
type ReconnectProbe interface {
	Connected(ctx context.Context, p profile.Profile) (bool, error)
}

// Devices is the set of collaborators one engine instance drives.
type Devices struct {
	Emulator  Emulator
	Searcher  Searcher
	Reader    TextReader
	Navigator Navigator
	// Probe is optional.
	Probe ReconnectProbe
}

var ErrIncompleteDevices = errors.New("automation: emulator, searcher and reader are required")

func (d Devices) Validate() error {
	if d.Emulator == nil || d.Searcher == nil || d.Reader == nil {
		return ErrIncompleteDevices
	}
	return nil
}
