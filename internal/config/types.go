package config

// Config is the app-level configuration file (JSON or YAML).
//
// It covers process wiring: logging, the HTTP API, the Discord session, the
// base-time sync source, and storage. The operator-mutable respawn schedule
// (channels, base time, toggles, repeats) is NOT here — that lives in
// RespawnState and is persisted through storage so the dashboard can change
// it at runtime.
type Config struct {
	Logging LoggingConfig `json:"logging"`
	HTTP    HTTPConfig    `json:"http"`
	Discord DiscordConfig `json:"discord"`
	Sync    SyncConfig    `json:"sync"`
	Storage StorageConfig `json:"storage"`
	Respawn RespawnConfig `json:"respawn,omitempty"`
}

type LoggingConfig struct {
	Level   string        `json:"level,omitempty"`
	Console bool          `json:"console"`
	File    FileLogConfig `json:"file,omitempty"`
}

type FileLogConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// HTTPConfig controls the settings/schedule API server.
//
// Security note:
//   - Prefer binding to localhost and fronting with the dashboard's proxy.
//   - If you bind to a non-loopback address, set a token.
type HTTPConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`  // default: "127.0.0.1:8130"
	Token   string `json:"token,omitempty"` // optional bearer token (do not log)

	// Server timeouts (Go duration strings).
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

// DiscordConfig controls the voice playback session.
//
// When disabled (or the token is empty) the bot runs with a no-op player:
// timers still fire and are audited, nothing is played.
type DiscordConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token,omitempty"`

	// Sound assets (DCA files) per timer kind.
	Sound10m string `json:"sound_10m,omitempty"`
	Sound2h  string `json:"sound_2h,omitempty"`

	// RatePerSec limits voice join/play operations against the Discord API.
	RatePerSec int `json:"rate_per_sec,omitempty"`
}

// SyncConfig controls the periodic base-time fetch from the game wiki.
type SyncConfig struct {
	Enabled  bool   `json:"enabled"`
	URL      string `json:"url,omitempty"`
	Interval string `json:"interval,omitempty"` // Go duration string, default "30m"
	Timeout  string `json:"timeout,omitempty"`  // per-fetch timeout, default "10s"
}

// StorageConfig controls the settings/fires persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./respawnbot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// RespawnConfig overrides trigger-loop policy constants. Defaults preserve
// the original behavior; these exist for tests and unusual deployments.
type RespawnConfig struct {
	MaxChannels     int    `json:"max_channels,omitempty"`
	MinSleep        string `json:"min_sleep,omitempty"`        // default "100ms"
	CollisionWindow string `json:"collision_window,omitempty"` // default "30s"
}
