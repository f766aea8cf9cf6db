// Package dryrun provides in-memory collaborators that let the engine run end
// to end without an emulator. Every call is logged and counted.
package dryrun

import (
	"context"
	"sync"

	"wosbot/internal/automation"
	"wosbot/internal/profile"
	logx "wosbot/pkg/logx"
)

// Options shapes the simulated game.
type Options struct {
	// Visible templates are reported as found; everything else is missing.
	// Nil means the home screen only.
	Visible []automation.Template
	// Text is returned by every OCR read. Empty means "01:00:00".
	Text string
	// NotInstalled simulates a missing game app.
	NotInstalled bool
}

// Device implements automation.Emulator, Searcher and TextReader over a
// shared simulated state.
type Device struct {
	log logx.Logger

	mu        sync.Mutex
	running   map[int]bool
	app       map[int]bool
	visible   map[automation.Template]bool
	text      string
	installed bool
	calls     map[string]int
}

func New(opt Options, log logx.Logger) *Device {
	if log.IsZero() {
		log = logx.Nop()
	}
	vis := opt.Visible
	if vis == nil {
		vis = []automation.Template{automation.TplWorldButton}
	}
	d := &Device{
		log:       log.With(logx.String("comp", "dryrun")),
		running:   map[int]bool{},
		app:       map[int]bool{},
		visible:   map[automation.Template]bool{},
		text:      opt.Text,
		installed: !opt.NotInstalled,
		calls:     map[string]int{},
	}
	if d.text == "" {
		d.text = "01:00:00"
	}
	for _, t := range vis {
		d.visible[t] = true
	}
	return d
}

// Devices wires d into an automation.Devices with a template navigator.
func (d *Device) Devices() automation.Devices {
	return automation.Devices{
		Emulator:  d,
		Searcher:  d,
		Reader:    d,
		Navigator: automation.NewTemplateNavigator(d, d, nil, d.log),
		Probe:     Probe{},
	}
}

// SetVisible toggles one template.
func (d *Device) SetVisible(t automation.Template, v bool) {
	d.mu.Lock()
	d.visible[t] = v
	d.mu.Unlock()
}

// Calls returns how many times op was invoked.
func (d *Device) Calls(op string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[op]
}

func (d *Device) count(op string, emu int, fields ...logx.Field) {
	d.mu.Lock()
	d.calls[op]++
	d.mu.Unlock()
	if d.log.Enabled(logx.LevelDebug) {
		d.log.Debug(op, append([]logx.Field{logx.Int("emu", emu)}, fields...)...)
	}
}

func (d *Device) IsRunning(_ context.Context, emu int) (bool, error) {
	d.count("is_running", emu)
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running[emu], nil
}

func (d *Device) Launch(_ context.Context, emu int) error {
	d.count("launch", emu)
	d.mu.Lock()
	d.running[emu] = true
	d.mu.Unlock()
	return nil
}

func (d *Device) Close(_ context.Context, emu int) error {
	d.count("close", emu)
	d.mu.Lock()
	d.running[emu] = false
	d.app[emu] = false
	d.mu.Unlock()
	return nil
}

func (d *Device) Tap(_ context.Context, emu int, p automation.Point) error {
	d.count("tap", emu, logx.String("point", p.String()))
	return nil
}

func (d *Device) Swipe(_ context.Context, emu int, from, to automation.Point) error {
	d.count("swipe", emu, logx.String("from", from.String()), logx.String("to", to.String()))
	return nil
}

func (d *Device) Back(_ context.Context, emu int) error {
	d.count("back", emu)
	return nil
}

func (d *Device) IsAppInstalled(_ context.Context, emu int) (bool, error) {
	d.count("is_app_installed", emu)
	return d.installed, nil
}

func (d *Device) IsAppRunning(_ context.Context, emu int) (bool, error) {
	d.count("is_app_running", emu)
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.app[emu], nil
}

func (d *Device) LaunchApp(_ context.Context, emu int) error {
	d.count("launch_app", emu)
	d.mu.Lock()
	d.app[emu] = true
	d.mu.Unlock()
	return nil
}

func (d *Device) SendToBackground(_ context.Context, emu int) error {
	d.count("send_to_background", emu)
	d.mu.Lock()
	d.app[emu] = false
	d.mu.Unlock()
	return nil
}

func (d *Device) Search(_ context.Context, emu int, t automation.Template, cfg automation.SearchConfig) (automation.Match, error) {
	d.count("search", emu, logx.String("template", string(t)))
	d.mu.Lock()
	found := d.visible[t]
	d.mu.Unlock()
	if !found {
		return automation.Match{}, nil
	}
	p := automation.Point{X: 360, Y: 640}
	if cfg.Area != nil {
		p = cfg.Area.Center()
	}
	return automation.Match{Found: true, Point: p, Score: 100}, nil
}

func (d *Device) SearchAll(ctx context.Context, emu int, t automation.Template, cfg automation.SearchConfig) ([]automation.Match, error) {
	m, err := d.Search(ctx, emu, t, cfg)
	if err != nil || !m.Found {
		return nil, err
	}
	return []automation.Match{m}, nil
}

func (d *Device) ReadText(_ context.Context, emu int, _ automation.Area, _ automation.OCRSettings) (string, error) {
	d.count("read_text", emu)
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.text, nil
}

// Probe always reports the session as connected.
type Probe struct{}

func (Probe) Connected(context.Context, profile.Profile) (bool, error) { return true, nil }
