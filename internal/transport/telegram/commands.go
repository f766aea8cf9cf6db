package telegram

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"wosbot/internal/task/queue"
	"wosbot/internal/task/scheduler"
)

// Control is the slice of the scheduler the commands drive.
type Control interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Pause() error
	Resume() error
	State() queue.RunState
	PauseProfile(id string) error
	ResumeProfile(id string) error
	RestartProfile(id string) error
	ClearReconnect(id string) error
	Profiles() []scheduler.ProfileStatus
}

type command struct {
	usage string
	help  string
	run   func(ctx context.Context, c Control, args []string) (string, error)
}

var commands = map[string]command{
	"/status": {"/status", "bot and profile states", func(_ context.Context, c Control, _ []string) (string, error) {
		return renderStatus(c.State(), c.Profiles(), time.Now()), nil
	}},
	"/startbot": {"/startbot", "start every enabled profile", func(ctx context.Context, c Control, _ []string) (string, error) {
		return "bot started", c.Start(ctx)
	}},
	"/stopbot": {"/stopbot", "stop all workers", func(ctx context.Context, c Control, _ []string) (string, error) {
		return "bot stopped", c.Stop(ctx)
	}},
	"/pause": {"/pause", "pause the bot after running tasks finish", func(_ context.Context, c Control, _ []string) (string, error) {
		return "bot paused", c.Pause()
	}},
	"/resume": {"/resume", "resume the bot", func(_ context.Context, c Control, _ []string) (string, error) {
		return "bot resumed", c.Resume()
	}},
	"/pauseprofile":  {"/pauseprofile <id>", "pause one profile", profileCmd("paused", Control.PauseProfile)},
	"/resumeprofile": {"/resumeprofile <id>", "resume one profile", profileCmd("resumed", Control.ResumeProfile)},
	"/restart":       {"/restart <id>", "restart a stopped profile", profileCmd("restarted", Control.RestartProfile)},
	"/reconnect":     {"/reconnect <id>", "clear a pending reconnect", profileCmd("reconnect cleared", Control.ClearReconnect)},
}

func profileCmd(done string, op func(Control, string) error) func(context.Context, Control, []string) (string, error) {
	return func(_ context.Context, c Control, args []string) (string, error) {
		if len(args) != 1 {
			return "", errors.New("expected one profile id")
		}
		return "profile " + args[0] + " " + done, op(c, args[0])
	}
}

// dispatch runs one command line and returns the reply text.
func dispatch(ctx context.Context, c Control, line string) string {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return helpText()
	}
	name := strings.ToLower(fields[0])
	if i := strings.IndexByte(name, '@'); i > 0 {
		name = name[:i]
	}
	if name == "/help" {
		return helpText()
	}
	cmd, ok := commands[name]
	if !ok {
		return "unknown command " + fields[0] + "\n\n" + helpText()
	}
	reply, err := cmd.run(ctx, c, fields[1:])
	if err != nil {
		return fmt.Sprintf("%s failed: %v", name, err)
	}
	return reply
}

func helpText() string {
	names := make([]string, 0, len(commands))
	for n := range commands {
		names = append(names, n)
	}
	sort.Strings(names)
	var b strings.Builder
	b.WriteString("Commands:")
	for _, n := range names {
		fmt.Fprintf(&b, "\n%s - %s", commands[n].usage, commands[n].help)
	}
	return b.String()
}

func renderStatus(st queue.RunState, ps []scheduler.ProfileStatus, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Bot: %s", st)
	if len(ps) == 0 {
		b.WriteString("\nno profiles")
		return b.String()
	}
	for _, p := range ps {
		fmt.Fprintf(&b, "\n\n%s (%s): %s", p.Name, p.ID, p.Queue.State)
		if p.Queue.Reason != "" {
			fmt.Fprintf(&b, " - %s", p.Queue.Reason)
		}
		if len(p.Units) == 0 {
			continue
		}
		next := p.Units[0]
		for _, u := range p.Units[1:] {
			if u.NextRun.Before(next.NextRun) {
				next = u
			}
		}
		fmt.Fprintf(&b, "\nnext: %s in %s (%d tasks)", next.Name, next.NextRun.Sub(now).Round(time.Second), len(p.Units))
	}
	return b.String()
}
