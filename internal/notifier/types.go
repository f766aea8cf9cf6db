package notifier

import (
	"context"
	"time"
)

// Config controls the async notification pipeline.
type Config struct {
	Enabled         bool
	Workers         int
	QueueSize       int
	RatePerSec      int
	RetryMax        int
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration
	DedupWindow     time.Duration
	DedupMaxEntries int
	PersistDedup    bool
}

// Sender delivers one rendered message.
type Sender interface {
	SendText(ctx context.Context, text string) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, text string) error

func (f SenderFunc) SendText(ctx context.Context, text string) error { return f(ctx, text) }

type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityCritical
)

func (s Severity) prefix() string {
	switch s {
	case SeverityCritical:
		return "🚨 "
	case SeverityWarning:
		return "⚠️ "
	default:
		return "ℹ️ "
	}
}

func (s Severity) String() string {
	switch s {
	case SeverityCritical:
		return "critical"
	case SeverityWarning:
		return "warning"
	default:
		return "info"
	}
}

// Notification is one operator message. Key groups messages for dedup;
// empty means the text itself.
type Notification struct {
	Key       string
	ProfileID string
	Severity  Severity
	Text      string
}

type HistoryItem struct {
	At       time.Time `json:"at"`
	Severity string    `json:"severity"`
	Text     string    `json:"text"`
}

// Event is published on eventbus.TopicNotifier.
type Event struct {
	Kind      string    `json:"kind"` // queued, sent, failed, dropped, deduped
	ProfileID string    `json:"profile_id,omitempty"`
	Key       string    `json:"key"`
	At        time.Time `json:"at"`
	Error     string    `json:"error,omitempty"`
}
