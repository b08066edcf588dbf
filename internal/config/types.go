package config

// Config is the on-disk configuration. JSON and YAML are both accepted;
// unknown keys are rejected.
type Config struct {
	Logging  LoggingConfig   `json:"logging"`
	Driver   DriverConfig    `json:"driver"`
	Sender   SenderConfig    `json:"sender"`
	Storage  *StorageConfig  `json:"storage,omitempty"`
	Notifier *NotifierConfig `json:"notifier,omitempty"`
}

// SenderConfig holds the user-tunable send settings.
//
// Shortcut keys: open_search, send_message, line_break.
// Delay keys are seconds: prepare_lead_seconds, window_activate_seconds,
// search_seconds, search_result_seconds, chat_open_seconds, per_line_seconds.
// Omitted keys keep their defaults.
type SenderConfig struct {
	WindowTitle string             `json:"window_title,omitempty"`
	Shortcuts   map[string]string  `json:"shortcuts,omitempty"`
	Delays      map[string]float64 `json:"delays,omitempty"`

	// Timezone for one-shot and recurring times. Empty means local.
	Timezone string `json:"timezone,omitempty"`

	RetryAttempts int    `json:"retry_attempts,omitempty"`
	RetryBackoff  string `json:"retry_backoff,omitempty"`  // Go duration, default "1s"
	CheckInterval string `json:"check_interval,omitempty"` // recurring poll, default "15s"
	Cooldown      string `json:"cooldown,omitempty"`       // after a recurring fire, default "60s"
	StopTimeout   string `json:"stop_timeout,omitempty"`   // default "5s"
}

// DriverConfig selects the input driver: "auto", "windows", "xdotool" or
// "dryrun".
type DriverConfig struct {
	Kind        string `json:"kind,omitempty"`
	XdotoolPath string `json:"xdotool_path,omitempty"`
	TypeDelay   string `json:"type_delay,omitempty"`
}

// StorageConfig controls send history.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./autosend.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// NotifierConfig controls the Telegram notification pipeline.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
// If the section is omitted, notifications are off.
type NotifierConfig struct {
	Enabled       bool   `json:"enabled"`
	Token         string `json:"token"`
	ChatID        int64  `json:"chat_id"`
	ThreadID      int    `json:"thread_id,omitempty"`
	QueueSize     int    `json:"queue_size,omitempty"`
	RatePerSec    int    `json:"rate_per_sec,omitempty"`
	RetryMax      int    `json:"retry_max,omitempty"`
	RetryBase     string `json:"retry_base,omitempty"`
	DedupWindow   string `json:"dedup_window,omitempty"`
	NotifySuccess bool   `json:"notify_success,omitempty"`
}

type LoggingConfig struct {
	Level   string         `json:"level"`
	Console bool           `json:"console"`
	File    LoggingFile    `json:"file"`
	Forward LoggingForward `json:"forward"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingForward pushes log lines at or above MinLevel to the notifier.
type LoggingForward struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}
