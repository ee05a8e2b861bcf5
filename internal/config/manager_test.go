package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestParseJSON(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json", `{
  "telegram": {"token": "tok", "poll_timeout": "10s"},
  "logging": {"level": "info", "console": true},
  "scoreboard": {"base_url": "https://api.example.com", "requests_per_minute": 30},
  "scheduler": {"enabled": true, "tick_interval": "30s", "min_cadence": "5m"},
  "dispatcher": {"rate_per_sec": 20},
  "storage": {"driver": "file", "path": "./scorebot.db"}
}`)

	cfg, err := NewManager(path).Parse()
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if cfg.Telegram.Token != "tok" {
		t.Fatalf("Token = %q", cfg.Telegram.Token)
	}
	if cfg.Scoreboard.RequestsPerMinute != 30 {
		t.Fatalf("RequestsPerMinute = %d", cfg.Scoreboard.RequestsPerMinute)
	}
	if !cfg.Scheduler.Enabled || cfg.Scheduler.TickInterval != "30s" {
		t.Fatalf("Scheduler = %+v", cfg.Scheduler)
	}
	if cfg.Storage == nil || cfg.Storage.Driver != "file" {
		t.Fatalf("Storage = %+v", cfg.Storage)
	}
}

func TestParseYAML(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.yaml", `
telegram:
  token: tok
logging:
  level: debug
  console: true
scoreboard:
  base_url: https://api.example.com
scheduler:
  enabled: true
  min_cadence: 1m
`)

	cfg, err := NewManager(path).Parse()
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if cfg.Logging.Level != "debug" || !cfg.Logging.Console {
		t.Fatalf("Logging = %+v", cfg.Logging)
	}
	if cfg.Scheduler.MinCadence != "1m" {
		t.Fatalf("MinCadence = %q", cfg.Scheduler.MinCadence)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json", `{"telegram": {"token": "x"}, "no_such_section": {}}`)
	if _, err := NewManager(path).Parse(); err == nil {
		t.Fatal("expected error for unknown top-level field")
	}

	path = writeConfig(t, "config.json", `{"scheduler": {"tick_seconds": 30}}`)
	if _, err := NewManager(path).Parse(); err == nil {
		t.Fatal("expected error for unknown nested field")
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json", `{"telegram": {"token": "x"}}{"extra": 1}`)
	if _, err := NewManager(path).Parse(); err == nil {
		t.Fatal("expected error for trailing data")
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{raw: "15m", want: 15 * time.Minute},
		{raw: "90s", want: 90 * time.Second},
		{raw: "", want: 0},
		{raw: "  ", want: 0},
		{raw: "soon", wantErr: true},
		{raw: "-5m", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseDurationField("test.field", tt.raw)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("ParseDurationField(%q) succeeded, want error", tt.raw)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseDurationField(%q) error: %v", tt.raw, err)
		}
		if got != tt.want {
			t.Fatalf("ParseDurationField(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()
	got, err := ParseDurationOrDefault("test.field", "", 42*time.Second)
	if err != nil {
		t.Fatalf("error: %v", err)
	}
	if got != 42*time.Second {
		t.Fatalf("got %v, want default 42s", got)
	}

	got, err = ParseDurationOrDefault("test.field", "5s", 42*time.Second)
	if err != nil {
		t.Fatalf("error: %v", err)
	}
	if got != 5*time.Second {
		t.Fatalf("got %v, want 5s", got)
	}
}

func TestChangedSections(t *testing.T) {
	t.Parallel()
	old := &Config{
		Telegram:  TelegramConfig{Token: "a"},
		Scheduler: SchedulerConfig{TickInterval: "60s"},
	}
	new := &Config{
		Telegram:  TelegramConfig{Token: "a"},
		Scheduler: SchedulerConfig{TickInterval: "30s"},
	}

	got := ChangedSections(old, new)
	if len(got) != 1 || got[0] != "scheduler" {
		t.Fatalf("ChangedSections = %v, want [scheduler]", got)
	}

	if got := ChangedSections(old, old); len(got) != 0 {
		t.Fatalf("identical configs: ChangedSections = %v, want empty", got)
	}
	if got := ChangedSections(nil, new); len(got) != 1 || got[0] != "all" {
		t.Fatalf("nil old: ChangedSections = %v, want [all]", got)
	}
}

func TestSubscribePublishUnsubscribe(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json", `{"telegram": {"token": "x"}}`)
	m := NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load error: %v", err)
	}

	ch := m.Subscribe(1)
	cfg := &Config{Telegram: TelegramConfig{Token: "y"}}
	m.publish(cfg)

	select {
	case got := <-ch:
		if got.Telegram.Token != "y" {
			t.Fatalf("published token = %q", got.Telegram.Token)
		}
	default:
		t.Fatal("publish did not deliver to subscriber")
	}

	m.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Fatal("channel must be closed after Unsubscribe")
	}
	// Publishing after unsubscribe must not panic.
	m.publish(cfg)
}

func TestPublishDropsOldestWhenFull(t *testing.T) {
	t.Parallel()
	m := NewManager("unused")
	ch := m.Subscribe(1)

	first := &Config{Telegram: TelegramConfig{Token: "first"}}
	second := &Config{Telegram: TelegramConfig{Token: "second"}}
	m.publish(first)
	m.publish(second)

	got := <-ch
	if got.Telegram.Token != "second" {
		t.Fatalf("got %q, want the newest config to win", got.Telegram.Token)
	}
}
