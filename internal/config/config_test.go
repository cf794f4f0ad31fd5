package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.yaml", `
logging:
  level: debug
  console: true
storage:
  path: ./data/wabcast.db
  busy_timeout: 3s
media_dir: ./media
tick_interval: 30s
grace_window: 10m
bot_defaults:
  delay_between_groups: 5s
  link_policy: source_only
  send_method: text
`)
	cfg, err := NewManager(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logging.Level != "debug" || !cfg.Logging.Console {
		t.Fatalf("logging = %+v", cfg.Logging)
	}
	if cfg.Storage.Path != "./data/wabcast.db" {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
	if cfg.TickIntervalOr(time.Minute) != 30*time.Second {
		t.Fatalf("tick = %v", cfg.TickIntervalOr(time.Minute))
	}
	set := cfg.BotDefaults.Settings()
	if set.DelayBetweenGroups != 5*time.Second {
		t.Fatalf("delay = %v", set.DelayBetweenGroups)
	}
	// Omitted fields fall to the model defaults.
	if set.DelayBetweenMessages != time.Second || set.SourceFilter != "all" {
		t.Fatalf("defaults = %+v", set)
	}
}

func TestLoadJSON(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json",
		`{"logging":{"level":"info"},"storage":{"path":"wabcast.db"}}`)
	cfg, err := NewManager(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Storage.Path != "wabcast.db" {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
	if cfg.GraceWindowOr(10*time.Minute) != 10*time.Minute {
		t.Fatalf("grace default = %v", cfg.GraceWindowOr(10*time.Minute))
	}
}

func TestLoadRejections(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		file string
		body string
	}{
		{name: "unknown key", file: "c.json", body: `{"storage":{"path":"x"},"shedule":{}}`},
		{name: "missing storage path", file: "c.json", body: `{"storage":{"path":""}}`},
		{name: "bad link policy", file: "c.yaml", body: "storage:\n  path: x\nbot_defaults:\n  link_policy: everything\n"},
		{name: "bad level", file: "c.yaml", body: "storage:\n  path: x\nlogging:\n  level: loud\n"},
		{name: "bad duration", file: "c.yaml", body: "storage:\n  path: x\ntick_interval: soon\n"},
		{name: "negative duration", file: "c.yaml", body: "storage:\n  path: x\ntick_interval: -5s\n"},
		{name: "trailing data", file: "c.json", body: `{"storage":{"path":"x"}}{"again":true}`},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.file, tt.body)
			if _, err := NewManager(path).Load(); err == nil {
				t.Fatal("expected load to fail")
			}
		})
	}
}

func TestChangedSections(t *testing.T) {
	t.Parallel()
	a := &Config{Storage: StorageConfig{Path: "a.db"}}
	b := &Config{Storage: StorageConfig{Path: "b.db"}, MediaDir: "./m", TickInterval: "30s"}

	got := ChangedSections(a, b)
	want := []string{"media_dir", "schedule", "storage"}
	if len(got) != len(want) {
		t.Fatalf("changed = %v, want %v", got, want)
	}
	for i := range got {
		if got[i] != want[i] {
			t.Fatalf("changed = %v, want %v", got, want)
		}
	}

	if ChangedSections(a, a) == nil {
		// empty slice, not nil, keeps the log field stable
		t.Fatal("ChangedSections should return an empty slice for equal configs")
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	if d, err := ParseDurationField("x", " 90s "); err != nil || d != 90*time.Second {
		t.Fatalf("got %v, %v", d, err)
	}
	if d, err := ParseDurationField("x", ""); err != nil || d != 0 {
		t.Fatalf("empty should be zero: %v, %v", d, err)
	}
	if _, err := ParseDurationField("x", "fast"); err == nil {
		t.Fatal("expected error for junk duration")
	}
	if d, err := ParseDurationOrDefault("x", "", time.Minute); err != nil || d != time.Minute {
		t.Fatalf("default not applied: %v, %v", d, err)
	}
}
