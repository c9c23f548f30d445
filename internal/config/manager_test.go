package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Parallel()

	m := NewManager(filepath.Join(t.TempDir(), "nope.yaml"))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":5055" || cfg.Storage.Driver != "sqlite" {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if m.Get() != cfg {
		t.Fatal("Load did not commit the snapshot")
	}
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "mediarr.yaml")
	writeFile(t, path, `
server:
  addr: ":8080"
logging:
  level: debug
  console: true
scheduler:
  enabled: true
  tick_interval: 30s
notify:
  rate_per_sec: 5
`)

	cfg, err := NewManager(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Fatalf("addr = %q", cfg.Server.Addr)
	}
	if cfg.Scheduler.TickInterval != "30s" || cfg.Notify.RatePerSec != 5 {
		t.Fatalf("sections not decoded: %+v", cfg)
	}
	// Untouched sections keep their defaults.
	if cfg.Storage.Driver != "sqlite" {
		t.Fatalf("storage default lost: %+v", cfg.Storage)
	}
}

func TestLoadRejectsUnknownField(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "mediarr.yaml")
	writeFile(t, path, "schedular:\n  enabled: true\n")

	if _, err := NewManager(path).Load(); err == nil {
		t.Fatal("misspelled section accepted")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad duration", func(c *Config) { c.Scheduler.TickInterval = "sixty seconds" }},
		{"negative rate", func(c *Config) { c.Notify.RatePerSec = -1 }},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "postgres" }},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("invalid config accepted")
			}
		})
	}
}
