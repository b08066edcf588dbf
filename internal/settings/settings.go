// Package settings holds the tunable delays and key combos read by the
// preparer and the scheduler. A Settings value is an immutable snapshot;
// updates build a new one.
package settings

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"autosend/internal/driver"
	"autosend/internal/retry"
)

const DefaultWindowTitle = "企业微信"

// Shortcuts are key combos in "modifier+key" form.
type Shortcuts struct {
	OpenSearch  string
	SendMessage string
	LineBreak   string
}

// Delays are the pauses between UI steps.
type Delays struct {
	PrepareLead    time.Duration
	WindowActivate time.Duration
	Search         time.Duration
	SearchResult   time.Duration
	ChatOpen       time.Duration
	PerLine        time.Duration
}

type Settings struct {
	Shortcuts   Shortcuts
	Delays      Delays
	WindowTitle string
	Retry       retry.Policy

	// Recurring polling.
	CheckInterval time.Duration
	Cooldown      time.Duration

	// StopTimeout bounds how long Stop waits for the timing goroutine.
	StopTimeout time.Duration
}

func Defaults() Settings {
	return Settings{
		Shortcuts: Shortcuts{
			OpenSearch:  "alt+s",
			SendMessage: "ctrl+enter",
			LineBreak:   "shift+enter",
		},
		Delays: Delays{
			PrepareLead:    10 * time.Second,
			WindowActivate: 1 * time.Second,
			Search:         1 * time.Second,
			SearchResult:   1500 * time.Millisecond,
			ChatOpen:       1 * time.Second,
			PerLine:        100 * time.Millisecond,
		},
		WindowTitle:   DefaultWindowTitle,
		Retry:         retry.Default,
		CheckInterval: 15 * time.Second,
		Cooldown:      60 * time.Second,
		StopTimeout:   5 * time.Second,
	}
}

// Shortcut keys accepted by MergeShortcuts.
const (
	KeyOpenSearch  = "open_search"
	KeySendMessage = "send_message"
	KeyLineBreak   = "line_break"
)

// MergeShortcuts returns a copy of s with the given combos replaced. Empty
// values keep the current combo. Every combo must parse.
func (s Settings) MergeShortcuts(m map[string]string) (Settings, error) {
	out := s
	for _, k := range sortedKeys(m) {
		v := strings.TrimSpace(m[k])
		if v == "" {
			continue
		}
		c, err := driver.ParseCombo(v)
		if err != nil {
			return s, fmt.Errorf("shortcut %s: %w", k, err)
		}
		switch k {
		case KeyOpenSearch:
			out.Shortcuts.OpenSearch = c.String()
		case KeySendMessage:
			out.Shortcuts.SendMessage = c.String()
		case KeyLineBreak:
			out.Shortcuts.LineBreak = c.String()
		default:
			return s, fmt.Errorf("unknown shortcut %q", k)
		}
	}
	return out, nil
}

// Delay keys accepted by MergeDelays. Values are seconds.
const (
	KeyPrepareLead    = "prepare_lead_seconds"
	KeyWindowActivate = "window_activate_seconds"
	KeySearch         = "search_seconds"
	KeySearchResult   = "search_result_seconds"
	KeyChatOpen       = "chat_open_seconds"
	KeyPerLine        = "per_line_seconds"
)

// MergeDelays returns a copy of s with the given delays (in seconds)
// replaced. Negative or non-finite values are rejected.
func (s Settings) MergeDelays(m map[string]float64) (Settings, error) {
	out := s
	for _, k := range sortedKeys(m) {
		v := m[k]
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return s, fmt.Errorf("delay %s must be a non-negative number of seconds", k)
		}
		d := time.Duration(v * float64(time.Second))
		switch k {
		case KeyPrepareLead:
			out.Delays.PrepareLead = d
		case KeyWindowActivate:
			out.Delays.WindowActivate = d
		case KeySearch:
			out.Delays.Search = d
		case KeySearchResult:
			out.Delays.SearchResult = d
		case KeyChatOpen:
			out.Delays.ChatOpen = d
		case KeyPerLine:
			out.Delays.PerLine = d
		default:
			return s, fmt.Errorf("unknown delay %q", k)
		}
	}
	return out, nil
}

// WithWindowTitle returns a copy with the window title replaced; blank
// keeps the current title.
func (s Settings) WithWindowTitle(title string) Settings {
	if t := strings.TrimSpace(title); t != "" {
		s.WindowTitle = t
	}
	return s
}

// Normalize fills zero values from Defaults.
func (s Settings) Normalize() Settings {
	d := Defaults()
	if s.Shortcuts.OpenSearch == "" {
		s.Shortcuts.OpenSearch = d.Shortcuts.OpenSearch
	}
	if s.Shortcuts.SendMessage == "" {
		s.Shortcuts.SendMessage = d.Shortcuts.SendMessage
	}
	if s.Shortcuts.LineBreak == "" {
		s.Shortcuts.LineBreak = d.Shortcuts.LineBreak
	}
	if s.WindowTitle == "" {
		s.WindowTitle = d.WindowTitle
	}
	if s.Retry.Attempts <= 0 {
		s.Retry = d.Retry
	}
	if s.CheckInterval <= 0 {
		s.CheckInterval = d.CheckInterval
	}
	if s.Cooldown <= 0 {
		s.Cooldown = d.Cooldown
	}
	if s.StopTimeout <= 0 {
		s.StopTimeout = d.StopTimeout
	}
	return s
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
