package config

type Config struct {
	Telegram   TelegramConfig   `json:"telegram"`
	Logging    LoggingConfig    `json:"logging"`
	Scoreboard ScoreboardConfig `json:"scoreboard"`
	Scheduler  SchedulerConfig  `json:"scheduler"`
	Dispatcher DispatcherConfig `json:"dispatcher"`
	Storage    *StorageConfig   `json:"storage,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// ScoreboardConfig configures the upstream scoreboard API client.
type ScoreboardConfig struct {
	BaseURL string `json:"base_url"`
	APIKey  string `json:"api_key,omitempty"`
	// RequestsPerMinute bounds upstream calls via a token bucket.
	RequestsPerMinute int `json:"requests_per_minute,omitempty"`
	// RequestTimeout is a Go duration string; bounds a single upstream call.
	RequestTimeout string `json:"request_timeout,omitempty"`
}

// SchedulerConfig controls the global evaluation tick.
//
// All durations are Go duration strings (e.g. "30s", "1m").
//
// Defaults (when fields are omitted/zero):
//   - tick_interval: "60s"
//   - min_cadence:   "1m"
//   - fetch_workers: 4
//   - fetch_timeout: "15s"
type SchedulerConfig struct {
	Enabled      bool   `json:"enabled"`
	TickInterval string `json:"tick_interval,omitempty"`
	// MinCadence is the floor for per-subscriber delivery cadence.
	// Upserts below it are rejected, not clamped.
	MinCadence   string `json:"min_cadence,omitempty"`
	FetchWorkers int    `json:"fetch_workers,omitempty"`
	FetchTimeout string `json:"fetch_timeout,omitempty"`
}

// DispatcherConfig controls outbound delivery.
type DispatcherConfig struct {
	RatePerSec  int    `json:"rate_per_sec,omitempty"`
	SendTimeout string `json:"send_timeout,omitempty"`
}

// StorageConfig controls the optional subscription persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./scorebot.db" }
//
// When the section is omitted (or driver is "none"), subscriptions live in
// memory only and are lost on restart.
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}
