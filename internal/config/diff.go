package config

import (
	"reflect"
	"sort"
)

// ChangedSections reports which top-level config sections differ between two
// committed configs, for the reload log line. Values themselves are not
// logged.
func ChangedSections(oldCfg, newCfg *Config) []string {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 4)
	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
	}
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
	}
	if oldCfg.MediaDir != newCfg.MediaDir {
		changed = append(changed, "media_dir")
	}
	if oldCfg.TickInterval != newCfg.TickInterval ||
		oldCfg.GraceWindow != newCfg.GraceWindow {
		changed = append(changed, "schedule")
	}
	if oldCfg.GroupRefreshMinInterval != newCfg.GroupRefreshMinInterval ||
		!reflect.DeepEqual(oldCfg.Reconnect, newCfg.Reconnect) {
		changed = append(changed, "connection")
	}
	if !reflect.DeepEqual(oldCfg.BotDefaults, newCfg.BotDefaults) {
		changed = append(changed, "bot_defaults")
	}
	sort.Strings(changed)
	return changed
}
