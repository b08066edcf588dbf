package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"autosend/internal/driver"
	"autosend/internal/notifier"
	"autosend/internal/settings"
	"autosend/internal/storage"
	logx "autosend/pkg/logx"
)

// Runtime is a Config translated into the types each component consumes.
type Runtime struct {
	Settings settings.Settings
	Location *time.Location
	Driver   driver.Config
	Logging  logx.Config
	Storage  storage.Config
	Notifier notifier.Config
	Telegram notifier.TelegramConfig
}

// Default returns the configuration used when no file is given. History
// and notifications stay off.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Console: true},
		Driver:  DriverConfig{Kind: "auto"},
	}
}

// Resolve applies defaults and converts every section. The returned error
// joins all section errors so one reload reports everything wrong at once.
func (c *Config) Resolve() (Runtime, error) {
	var rt Runtime
	var errs []error

	s, err := c.Sender.settings()
	if err != nil {
		errs = append(errs, err)
	}
	rt.Settings = s

	rt.Location = time.Local
	if tz := strings.TrimSpace(c.Sender.Timezone); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			errs = append(errs, fmt.Errorf("sender.timezone: %w", err))
		} else {
			rt.Location = loc
		}
	}

	typeDelay, err := ParseDurationField("driver.type_delay", c.Driver.TypeDelay)
	if err != nil {
		errs = append(errs, err)
	}
	rt.Driver = driver.Config{
		Kind:        strings.TrimSpace(c.Driver.Kind),
		XdotoolPath: strings.TrimSpace(c.Driver.XdotoolPath),
		TypeDelay:   typeDelay,
	}

	rt.Logging = logx.Config{
		Level:   c.Logging.Level,
		Console: c.Logging.Console,
		File:    logx.FileConfig{Enabled: c.Logging.File.Enabled, Path: c.Logging.File.Path},
		Forward: logx.ForwardConfig{
			Enabled:    c.Logging.Forward.Enabled,
			MinLevel:   c.Logging.Forward.MinLevel,
			RatePerSec: c.Logging.Forward.RatePerSec,
		},
	}
	if c.Logging.Level != "" {
		if _, ok := logx.ParseLevel(c.Logging.Level); !ok {
			errs = append(errs, fmt.Errorf("logging.level: unknown level %q", c.Logging.Level))
		}
	}

	if c.Storage != nil {
		busy, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout)
		if err != nil {
			errs = append(errs, err)
		}
		rt.Storage = storage.Config{
			Driver:      strings.TrimSpace(c.Storage.Driver),
			Path:        strings.TrimSpace(c.Storage.Path),
			BusyTimeout: busy,
		}
	}

	if n := c.Notifier; n != nil {
		base, err := ParseDurationOrDefault("notifier.retry_base", n.RetryBase, time.Second)
		if err != nil {
			errs = append(errs, err)
		}
		dedup, err := ParseDurationField("notifier.dedup_window", n.DedupWindow)
		if err != nil {
			errs = append(errs, err)
		}
		rt.Notifier = notifier.Config{
			Enabled:       n.Enabled,
			QueueSize:     n.QueueSize,
			RatePerSec:    n.RatePerSec,
			RetryMax:      n.RetryMax,
			RetryBase:     base,
			DedupWindow:   dedup,
			NotifySuccess: n.NotifySuccess,
		}
		rt.Telegram = notifier.TelegramConfig{Token: strings.TrimSpace(n.Token), ChatID: n.ChatID, ThreadID: n.ThreadID}
		if n.Enabled && (rt.Telegram.Token == "" || rt.Telegram.ChatID == 0) {
			errs = append(errs, errors.New("notifier: token and chat_id are required when enabled"))
		}
	}

	return rt, errors.Join(errs...)
}

func (s SenderConfig) settings() (settings.Settings, error) {
	out := settings.Defaults().WithWindowTitle(s.WindowTitle)

	var err error
	if out, err = out.MergeShortcuts(s.Shortcuts); err != nil {
		return settings.Defaults(), fmt.Errorf("sender.shortcuts: %w", err)
	}
	if out, err = out.MergeDelays(s.Delays); err != nil {
		return settings.Defaults(), fmt.Errorf("sender.delays: %w", err)
	}

	if s.RetryAttempts < 0 {
		return settings.Defaults(), errors.New("sender.retry_attempts must be >= 0")
	}
	if s.RetryAttempts > 0 {
		out.Retry.Attempts = s.RetryAttempts
	}
	durs := []struct {
		path string
		raw  string
		dst  *time.Duration
	}{
		{"sender.retry_backoff", s.RetryBackoff, &out.Retry.Backoff},
		{"sender.check_interval", s.CheckInterval, &out.CheckInterval},
		{"sender.cooldown", s.Cooldown, &out.Cooldown},
		{"sender.stop_timeout", s.StopTimeout, &out.StopTimeout},
	}
	for _, d := range durs {
		v, err := ParseDurationOrDefault(d.path, d.raw, *d.dst)
		if err != nil {
			return settings.Defaults(), err
		}
		*d.dst = v
	}
	return out.Normalize(), nil
}
