package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.Driver != "file" || cfg.Database.Path != DefaultDatabase {
		t.Fatalf("database defaults: %+v", cfg.Database)
	}
	if cfg.Fetch.MaxFeedSize != DefaultMaxFeedSize {
		t.Fatalf("max feed size default: %d", cfg.Fetch.MaxFeedSize)
	}
	if min, _ := cfg.MinInterval(); min != DefaultMinInterval {
		t.Fatalf("min interval default: %v", min)
	}
	if ft, _ := cfg.FetchTimeout(); ft != DefaultFetchTimeout {
		t.Fatalf("fetch timeout default: %v", ft)
	}
	if max, _ := cfg.MaxInterval(); max != DefaultMaxInterval {
		t.Fatalf("max interval default: %v", max)
	}
	if !cfg.ConsoleLogging() {
		t.Fatal("console logging should default to true")
	}
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.yaml", `
telegram:
  token: "123:abc"
  poll_timeout: 30s
database:
  driver: sqlite
  path: /var/lib/rssbot.db
fetch:
  min_interval: 10m
  max_interval: 6h
  timeout: 45s
  insecure: true
admins: [1, 2]
restricted: true
logging:
  level: debug
  console: false
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" {
		t.Fatalf("token: %q", cfg.Telegram.Token)
	}
	if cfg.Database.Driver != "sqlite" {
		t.Fatalf("driver: %q", cfg.Database.Driver)
	}
	if min, _ := cfg.MinInterval(); min != 10*time.Minute {
		t.Fatalf("min interval: %v", min)
	}
	if pt, _ := cfg.PollTimeout(); pt != 30*time.Second {
		t.Fatalf("poll timeout: %v", pt)
	}
	if ft, _ := cfg.FetchTimeout(); ft != 45*time.Second {
		t.Fatalf("fetch timeout: %v", ft)
	}
	if !cfg.Restricted || len(cfg.Admins) != 2 {
		t.Fatalf("access config: restricted=%v admins=%v", cfg.Restricted, cfg.Admins)
	}
	if cfg.ConsoleLogging() {
		t.Fatal("console logging explicitly disabled")
	}
}

func TestLoadJSON(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.json", `{"telegram": {"token": "123:abc"}}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.yaml", `
telegram:
  token: "123:abc"
fetch:
  min_intervall: 10m
`)
	if _, err := Load(path); err == nil {
		t.Fatal("typo in a key was accepted")
	}
}

func TestValidateErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing token", func(c *Config) { c.Telegram.Token = "" }},
		{"unknown driver", func(c *Config) { c.Database.Driver = "postgres" }},
		{"bad duration", func(c *Config) { c.Fetch.MinInterval = "five minutes" }},
		{"max below min", func(c *Config) {
			c.Fetch.MinInterval = "1h"
			c.Fetch.MaxInterval = "10m"
		}},
		{"sub-second min", func(c *Config) { c.Fetch.MinInterval = "100ms" }},
		{"bad fetch timeout", func(c *Config) { c.Fetch.Timeout = "soon" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg, err := Load("")
			if err != nil {
				t.Fatal(err)
			}
			cfg.Telegram.Token = "123:abc"
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected a validation error")
			}
		})
	}
}
