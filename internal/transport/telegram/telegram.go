// Package telegram delivers alerts to one Telegram chat and accepts a small
// set of operator commands from that chat.
package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	rtsup "wosbot/internal/runtime/supervisor"
	logx "wosbot/pkg/logx"
)

type Config struct {
	Token    string
	ChatID   int64
	ThreadID int
	Timeout  time.Duration
}

// Bot is both a notifier.Sender and a logx.AlertSender.
type Bot struct {
	cfg  Config
	log  logx.Logger
	bot  *tele.Bot
	ctrl Control

	runMu sync.Mutex
	sup   *rtsup.Supervisor
}

// New connects to the Bot API. ctrl may be nil, which disables commands.
func New(cfg Config, ctrl Control, log logx.Logger) (*Bot, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat id is empty")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: cfg.Timeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	tb := &Bot{cfg: cfg, log: log.With(logx.String("comp", "telegram")), bot: b, ctrl: ctrl}
	tb.registerHandlers()
	return tb, nil
}

func (b *Bot) registerHandlers() {
	b.bot.Handle(tele.OnText, func(c tele.Context) error {
		if c.Chat() == nil || c.Chat().ID != b.cfg.ChatID || b.ctrl == nil {
			return nil
		}
		text := strings.TrimSpace(c.Text())
		if !strings.HasPrefix(text, "/") {
			return nil
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		reply := dispatch(ctx, b.ctrl, text)
		b.log.Info("command handled", logx.String("cmd", firstWord(text)))
		return b.SendText(ctx, reply)
	})
}

// Start runs the long poller when commands are enabled. It returns at once.
func (b *Bot) Start(ctx context.Context) {
	if b.ctrl == nil {
		return
	}
	b.runMu.Lock()
	defer b.runMu.Unlock()
	if b.sup != nil {
		return
	}
	b.sup = rtsup.New(ctx, rtsup.WithLogger(b.log), rtsup.WithCancelOnError(false))
	b.sup.Go("telebot.stop_on_cancel", func(c context.Context) error {
		<-c.Done()
		b.bot.Stop()
		return nil
	})
	b.sup.GoRestart("telebot.poll", func(c context.Context) error {
		b.bot.Start()
		if c.Err() != nil {
			return nil
		}
		return errors.New("poller exited")
	}, rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second))
}

// Stop ends polling, waiting at most two seconds or until ctx ends.
func (b *Bot) Stop(ctx context.Context) {
	b.runMu.Lock()
	sup := b.sup
	b.sup = nil
	b.runMu.Unlock()
	if sup == nil {
		return
	}
	sup.Cancel()
	wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := sup.Wait(wctx); err != nil && errors.Is(err, context.DeadlineExceeded) {
		b.log.Warn("telegram stop timed out", logx.Err(err))
	}
}

// SendText posts text to the configured chat, split into API-sized chunks.
func (b *Bot) SendText(ctx context.Context, text string) error {
	chat := &tele.Chat{ID: b.cfg.ChatID}
	for _, chunk := range splitText(text, textLimit) {
		if err := ctx.Err(); err != nil {
			return err
		}
		opt := &tele.SendOptions{ThreadID: b.cfg.ThreadID, DisableWebPagePreview: true}
		if _, err := b.bot.Send(chat, chunk, opt); err != nil {
			return err
		}
	}
	return nil
}

// SendAlert forwards a log line.
func (b *Bot) SendAlert(ctx context.Context, text string) error {
	return b.SendText(ctx, text)
}

const textLimit = 4000

// splitText cuts s into chunks of at most limit runes, preferring newline
// boundaries that keep chunks above a third of the limit.
func splitText(s string, limit int) []string {
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}
	var out []string
	for start := 0; start < len(rs); {
		end := min(start+limit, len(rs))
		if end < len(rs) {
			for i := end - 1; i-start >= limit/3; i-- {
				if rs[i] == '\n' {
					end = i + 1
					break
				}
			}
		}
		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}

func firstWord(s string) string {
	if i := strings.IndexAny(s, " \t\n"); i >= 0 {
		return s[:i]
	}
	return s
}
