package config

type Config struct {
	Logging  LoggingConfig  `json:"logging"`
	Telegram TelegramConfig `json:"telegram"`

	// Storage is optional; nil or driver "none" keeps schedules in memory.
	Storage *StorageConfig `json:"storage,omitempty"`

	Engine EngineConfig `json:"engine"`

	// Notifier defaults to enabled when omitted (alerts still need telegram).
	Notifier *NotifierConfig `json:"notifier,omitempty"`

	API        APIConfig        `json:"api"`
	Automation AutomationConfig `json:"automation"`
	Profiles   []ProfileConfig  `json:"profiles"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingTelegram forwards log lines at or above MinLevel to the alert chat.
type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// TelegramConfig is the alert destination. An empty token disables Telegram.
type TelegramConfig struct {
	Token    string `json:"token"`
	ChatID   int64  `json:"chat_id"`
	ThreadID int    `json:"thread_id,omitempty"`
	// Timeout is a Go duration string for API calls (default "10s").
	Timeout string `json:"timeout,omitempty"`
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/wosbot.db" }
type StorageConfig struct {
	Driver          string `json:"driver"`
	Path            string `json:"path"`
	BusyTimeout     string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
	CompactEvery    int    `json:"compact_every,omitempty"`
	KeepTransitions int    `json:"keep_transitions,omitempty"`
}

// EngineConfig tunes the per-profile workers.
//
// All durations are Go duration strings. Defaults (when omitted):
//   - tick: "1s"
//   - safety_retry: "5m"
//   - soft_retry: "10m"
//   - reconnect_poll: "1m"
//   - idle_threshold: "15m"
//   - backoff_base: "30s", backoff_max: "30m", backoff_jitter: 0.2
//   - game_reset: "0 0 * * *" in reset_timezone "UTC", reset_margin "5m"
//   - load_concurrency: 4
//   - auto_start: true
type EngineConfig struct {
	Tick          string `json:"tick,omitempty"`
	SafetyRetry   string `json:"safety_retry,omitempty"`
	SoftRetry     string `json:"soft_retry,omitempty"`
	ReconnectPoll string `json:"reconnect_poll,omitempty"`
	IdleThreshold string `json:"idle_threshold,omitempty"`

	BackoffBase   string   `json:"backoff_base,omitempty"`
	BackoffMax    string   `json:"backoff_max,omitempty"`
	BackoffJitter *float64 `json:"backoff_jitter,omitempty"`

	GameReset     string `json:"game_reset,omitempty"`
	ResetTimezone string `json:"reset_timezone,omitempty"`
	ResetMargin   string `json:"reset_margin,omitempty"`

	LoadConcurrency int   `json:"load_concurrency,omitempty"`
	AutoStart       *bool `json:"auto_start,omitempty"`
}

// NotifierConfig controls the alert pipeline.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type NotifierConfig struct {
	Enabled       bool   `json:"enabled"`
	Workers       int    `json:"workers"`
	QueueSize     int    `json:"queue_size"`
	RatePerSec    int    `json:"rate_per_sec"`
	RetryMax      int    `json:"retry_max"`
	RetryBase     string `json:"retry_base"`
	RetryMaxDelay string `json:"retry_max_delay"`
	DedupWindow   string `json:"dedup_window"`
	PersistDedup  bool   `json:"persist_dedup,omitempty"`
}

// APIConfig controls the HTTP control surface.
//
// Security note: prefer a loopback address; set a token when binding wider.
type APIConfig struct {
	Enabled        bool   `json:"enabled"`
	Addr           string `json:"addr,omitempty"`  // default "127.0.0.1:8787"
	Token          string `json:"token,omitempty"` // optional bearer token (do not log)
	AllowInsecure  bool   `json:"allow_insecure,omitempty"`
	RequestTimeout string `json:"request_timeout,omitempty"`
	// Pprof mounts net/http/pprof under /debug/pprof/ behind the same auth.
	Pprof bool `json:"pprof,omitempty"`
}

// AutomationConfig selects the device backend.
type AutomationConfig struct {
	// Driver is "dryrun" (the only built-in backend).
	Driver string       `json:"driver"`
	DryRun DryRunConfig `json:"dryrun"`
}

type DryRunConfig struct {
	// Visible lists templates reported as found. Empty means the home screen only.
	Visible      []string `json:"visible,omitempty"`
	Text         string   `json:"text,omitempty"`
	NotInstalled bool     `json:"not_installed,omitempty"`
	// TimeScale divides every routine delay (1 = real time).
	TimeScale int `json:"time_scale,omitempty"`
}

type ProfileConfig struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	Enabled  *bool  `json:"enabled,omitempty"` // default true
	Priority int    `json:"priority,omitempty"`
	Emulator int    `json:"emulator"`

	ReconnectionTime string `json:"reconnection_time,omitempty"`
	IdleBehavior     string `json:"idle_behavior,omitempty"`

	Character CharacterConfig       `json:"character,omitempty"`
	Tasks     map[string]TaskConfig `json:"tasks,omitempty"`
	Settings  map[string]string     `json:"settings,omitempty"`
}

type CharacterConfig struct {
	ID           string `json:"id,omitempty"`
	Name         string `json:"name,omitempty"`
	AllianceCode string `json:"alliance_code,omitempty"`
	Server       string `json:"server,omitempty"`
}

type TaskConfig struct {
	Enabled bool   `json:"enabled"`
	Offset  string `json:"offset,omitempty"`
}
