package config

import (
	"reflect"
	"sort"
	"strings"

	logx "autosend/pkg/logx"
)

// SummarizeConfigChange returns the changed top-level sections and safe
// structured attrs for logging. Tokens are never included.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 5)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.forward_enabled", newCfg.Logging.Forward.Enabled),
		)
	}

	if oldCfg.Driver != newCfg.Driver {
		changed = append(changed, "driver")
		attrs = append(attrs, logx.String("driver.kind", strings.TrimSpace(newCfg.Driver.Kind)))
	}

	if !reflect.DeepEqual(oldCfg.Sender, newCfg.Sender) {
		changed = append(changed, "sender")
		attrs = append(attrs,
			logx.String("sender.window_title", strings.TrimSpace(newCfg.Sender.WindowTitle)),
			logx.Int("sender.shortcut_count", len(newCfg.Sender.Shortcuts)),
			logx.Int("sender.delay_count", len(newCfg.Sender.Delays)),
			logx.String("sender.timezone", strings.TrimSpace(newCfg.Sender.Timezone)),
		)
	}

	var oS, nS StorageConfig
	if oldCfg.Storage != nil {
		oS = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		nS = *newCfg.Storage
	}
	if oS != nS {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(nS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(nS.Path) != ""),
		)
	}

	var oN, nN NotifierConfig
	if oldCfg.Notifier != nil {
		oN = *oldCfg.Notifier
	}
	if newCfg.Notifier != nil {
		nN = *newCfg.Notifier
	}
	if oN != nN {
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.Bool("notifier.enabled", nN.Enabled),
			logx.Bool("notifier.token_set", strings.TrimSpace(nN.Token) != ""),
			logx.Int("notifier.rate_per_sec", nN.RatePerSec),
			logx.Bool("notifier.notify_success", nN.NotifySuccess),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

// RestartRequired reports whether any of the changed sections can only take
// effect after a restart. Sender and logging settings apply live.
func RestartRequired(changed []string) bool {
	for _, c := range changed {
		switch c {
		case "driver", "storage", "notifier":
			return true
		}
	}
	return false
}
