// Package config loads, validates and hot-reloads the daemon configuration.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"wabcast/internal/model"
)

// Config is the on-disk configuration. All durations are Go duration
// strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Logging LoggingConfig `json:"logging"`
	Storage StorageConfig `json:"storage" validate:"required"`

	// MediaDir anchors relative media references in schedules.
	MediaDir string `json:"media_dir,omitempty"`

	// TickInterval is the schedule evaluation period. Default 1m.
	TickInterval string `json:"tick_interval,omitempty"`

	// GraceWindow is how long past its due minute a schedule may still
	// fire. Default 10m.
	GraceWindow string `json:"grace_window,omitempty"`

	// GroupRefreshMinInterval throttles group metadata refetches per bot.
	// Default 5m.
	GroupRefreshMinInterval string `json:"group_refresh_min_interval,omitempty"`

	Reconnect ReconnectConfig `json:"reconnect"`

	// BotDefaults seeds the settings of bots that have none persisted yet.
	BotDefaults BotDefaults `json:"bot_defaults"`
}

type LoggingConfig struct {
	Level   string      `json:"level" validate:"omitempty,oneof=trace debug info warn error"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type StorageConfig struct {
	Path        string `json:"path" validate:"required"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// ReconnectConfig shapes the auto-reconnect backoff after involuntary
// disconnects.
type ReconnectConfig struct {
	BackoffBase string `json:"backoff_base,omitempty"` // default 2s
	BackoffMax  string `json:"backoff_max,omitempty"`  // default 5m
}

type BotDefaults struct {
	DelayBetweenGroups   string `json:"delay_between_groups,omitempty"`
	DelayBetweenMessages string `json:"delay_between_messages,omitempty"`
	LinkPolicy           string `json:"link_policy,omitempty" validate:"omitempty,oneof=all source_only medium_only none"`
	SendMethod           string `json:"send_method,omitempty" validate:"omitempty,oneof=text image forward"`
	SourceFilter         string `json:"source_filter,omitempty" validate:"omitempty,oneof=all direct_only group_only"`
}

var structValidate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks structural constraints and every duration field. It does
// not touch the filesystem.
func (c *Config) Validate() error {
	if err := structValidate.Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	fields := []struct {
		path, raw string
	}{
		{"storage.busy_timeout", c.Storage.BusyTimeout},
		{"tick_interval", c.TickInterval},
		{"grace_window", c.GraceWindow},
		{"group_refresh_min_interval", c.GroupRefreshMinInterval},
		{"reconnect.backoff_base", c.Reconnect.BackoffBase},
		{"reconnect.backoff_max", c.Reconnect.BackoffMax},
		{"bot_defaults.delay_between_groups", c.BotDefaults.DelayBetweenGroups},
		{"bot_defaults.delay_between_messages", c.BotDefaults.DelayBetweenMessages},
	}
	for _, f := range fields {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) TickIntervalOr(def time.Duration) time.Duration {
	d, err := ParseDurationOrDefault("tick_interval", c.TickInterval, def)
	if err != nil {
		return def
	}
	return d
}

func (c *Config) GraceWindowOr(def time.Duration) time.Duration {
	d, err := ParseDurationOrDefault("grace_window", c.GraceWindow, def)
	if err != nil {
		return def
	}
	return d
}

func (c *Config) GroupRefreshMinIntervalOr(def time.Duration) time.Duration {
	d, err := ParseDurationOrDefault("group_refresh_min_interval", c.GroupRefreshMinInterval, def)
	if err != nil {
		return def
	}
	return d
}

func (c *ReconnectConfig) Backoff() (base, max time.Duration) {
	base, _ = ParseDurationOrDefault("reconnect.backoff_base", c.BackoffBase, 2*time.Second)
	max, _ = ParseDurationOrDefault("reconnect.backoff_max", c.BackoffMax, 5*time.Minute)
	if max < base {
		max = base
	}
	return base, max
}

// Settings materializes the default per-bot settings. Validate has already
// vetted the duration strings, so parse errors collapse to zero and the
// model floor takes over.
func (b BotDefaults) Settings() model.Settings {
	dg, _ := ParseDurationField("bot_defaults.delay_between_groups", b.DelayBetweenGroups)
	dm, _ := ParseDurationField("bot_defaults.delay_between_messages", b.DelayBetweenMessages)
	return model.Settings{
		DelayBetweenGroups:   dg,
		DelayBetweenMessages: dm,
		LinkPolicy:           model.LinkPolicy(b.LinkPolicy),
		SendMethod:           model.SendMethod(b.SendMethod),
		SourceFilter:         model.SourceFilter(b.SourceFilter),
	}.Normalized()
}
