package config

import (
	"fmt"
	"strings"
)

type Config struct {
	Server    ServerConfig    `json:"server"`
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Notify    NotifyConfig    `json:"notify"`
	RateLimit RateLimitConfig `json:"rate_limit,omitempty"`
	Tasks     TasksConfig     `json:"tasks,omitempty"`
}

// ServerConfig controls the admin HTTP API.
//
// All timeouts are Go duration strings (e.g. "500ms", "10s", "1m").
type ServerConfig struct {
	Addr         string `json:"addr"` // default ":5055"
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
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

// StorageConfig controls the persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./mediarr.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// SchedulerConfig controls the background job loop.
type SchedulerConfig struct {
	Enabled bool `json:"enabled"`
	// TickInterval is the due-job polling cadence; default "60s".
	TickInterval string `json:"tick_interval,omitempty"`
	// DefaultTimeout bounds jobs without a per-job timeout; default "10m".
	DefaultTimeout string `json:"default_timeout,omitempty"`
}

// NotifyConfig controls notification fan-out.
type NotifyConfig struct {
	RatePerSec  int    `json:"rate_per_sec,omitempty"`  // default 10
	MaxInFlight int    `json:"max_in_flight,omitempty"` // default 8
	SendTimeout string `json:"send_timeout,omitempty"`  // default "15s"
}

// RateLimitConfig protects abuse-prone API surfaces.
type RateLimitConfig struct {
	// TestSend limits "send test notification" calls per client.
	TestSend LimitRule `json:"test_send,omitempty"`
}

type LimitRule struct {
	Window string `json:"window,omitempty"` // default "1m"
	Max    int    `json:"max,omitempty"`    // default 5
}

// TasksConfig feeds the seeded maintenance jobs.
type TasksConfig struct {
	MediaServerURL   string `json:"media_server_url,omitempty"`
	MediaServerKey   string `json:"media_server_key,omitempty"`
	ImageCacheDir    string `json:"image_cache_dir,omitempty"`
	ImageCacheTTL    string `json:"image_cache_ttl,omitempty"` // default "720h"
	SessionDir       string `json:"session_dir,omitempty"`
	SessionTTL       string `json:"session_ttl,omitempty"`       // default "24h"
	HistoryRetention string `json:"history_retention,omitempty"` // default "2160h"
}

// Default returns the config used when no file is present.
func Default() *Config {
	return &Config{
		Server:    ServerConfig{Addr: ":5055"},
		Logging:   LoggingConfig{Level: "info", Console: true},
		Storage:   StorageConfig{Driver: "sqlite", Path: "./mediarr.db"},
		Scheduler: SchedulerConfig{Enabled: true},
	}
}

// Validate rejects configs that must never be committed: bad durations and
// out-of-range numbers. Called by Load and by the watcher before publish.
func (c *Config) Validate() error {
	durations := []struct {
		path string
		raw  string
	}{
		{"server.read_timeout", c.Server.ReadTimeout},
		{"server.write_timeout", c.Server.WriteTimeout},
		{"server.idle_timeout", c.Server.IdleTimeout},
		{"storage.busy_timeout", c.Storage.BusyTimeout},
		{"scheduler.tick_interval", c.Scheduler.TickInterval},
		{"scheduler.default_timeout", c.Scheduler.DefaultTimeout},
		{"notify.send_timeout", c.Notify.SendTimeout},
		{"rate_limit.test_send.window", c.RateLimit.TestSend.Window},
		{"tasks.image_cache_ttl", c.Tasks.ImageCacheTTL},
		{"tasks.session_ttl", c.Tasks.SessionTTL},
		{"tasks.history_retention", c.Tasks.HistoryRetention},
	}
	for _, d := range durations {
		if _, err := ParseDurationField(d.path, d.raw); err != nil {
			return err
		}
	}

	if c.Notify.RatePerSec < 0 {
		return fmt.Errorf("notify.rate_per_sec: must be >= 0")
	}
	if c.Notify.MaxInFlight < 0 {
		return fmt.Errorf("notify.max_in_flight: must be >= 0")
	}
	if c.RateLimit.TestSend.Max < 0 {
		return fmt.Errorf("rate_limit.test_send.max: must be >= 0")
	}

	switch strings.TrimSpace(strings.ToLower(c.Storage.Driver)) {
	case "", "sqlite", "sqlite3", "memory":
	default:
		return fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver)
	}
	return nil
}
