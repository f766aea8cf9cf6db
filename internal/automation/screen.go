package automation

import (
	"context"
	"math/rand/v2"
	"time"

	"wosbot/internal/task/delay"
	logx "wosbot/pkg/logx"
)

// Screen binds Devices to one emulator instance for the duration of a run.
type Screen struct {
	dev Devices
	emu int
	sl  delay.Sleeper
	log logx.Logger

	// intn picks a random offset for area taps; replaced in tests.
	intn func(n int) int
}

func NewScreen(dev Devices, emu int, sl delay.Sleeper, log logx.Logger) *Screen {
	if sl == nil {
		sl = delay.Real{}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Screen{dev: dev, emu: emu, sl: sl, log: log, intn: rand.IntN}
}

func (s *Screen) Emulator() int    { return s.emu }
func (s *Screen) Devices() Devices { return s.dev }

func (s *Screen) Sleep(ctx context.Context, d time.Duration) error { return s.sl.Sleep(ctx, d) }

// Find searches with DefaultSingle.
func (s *Screen) Find(ctx context.Context, t Template) (Match, error) {
	return s.FindWith(ctx, t, DefaultSingle)
}

func (s *Screen) FindWith(ctx context.Context, t Template, cfg SearchConfig) (Match, error) {
	m, err := s.dev.Searcher.Search(ctx, s.emu, t, cfg)
	if err != nil {
		return Match{}, err
	}
	if s.log.Enabled(logx.LevelDebug) {
		s.log.Debug("template search", logx.String("template", string(t)), logx.Bool("found", m.Found))
	}
	return m, nil
}

func (s *Screen) FindAll(ctx context.Context, t Template, cfg SearchConfig) ([]Match, error) {
	return s.dev.Searcher.SearchAll(ctx, s.emu, t, cfg)
}

func (s *Screen) Tap(ctx context.Context, p Point) error {
	return s.dev.Emulator.Tap(ctx, s.emu, p)
}

// TapArea taps a random point inside a.
func (s *Screen) TapArea(ctx context.Context, a Area) error {
	p := a.TopLeft
	if w := a.Width(); w > 0 {
		p.X += s.intn(w + 1)
	}
	if h := a.Height(); h > 0 {
		p.Y += s.intn(h + 1)
	}
	return s.Tap(ctx, p)
}

// TapThenWait taps p and waits d.
func (s *Screen) TapThenWait(ctx context.Context, p Point, d time.Duration) error {
	if err := s.Tap(ctx, p); err != nil {
		return err
	}
	return s.Sleep(ctx, d)
}

func (s *Screen) Back(ctx context.Context) error {
	return s.dev.Emulator.Back(ctx, s.emu)
}

func (s *Screen) Swipe(ctx context.Context, from, to Point) error {
	return s.dev.Emulator.Swipe(ctx, s.emu, from, to)
}

// ReadDuration reads a countdown with the standard timer OCR setup.
func (s *Screen) ReadDuration(ctx context.Context, area Area) (time.Duration, error) {
	return ReadDuration(ctx, s.sl, s.dev.Reader, s.emu, area)
}

// ReadString reads free text, retrying until it is non-empty.
func (s *Screen) ReadString(ctx context.Context, area Area, opt ReadOptions) (string, error) {
	return Read(ctx, s.sl, s.dev.Reader, s.emu, area, opt, nil, func(v string) (string, error) { return v, nil })
}
