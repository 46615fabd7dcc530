// Package config loads and validates the bot configuration from a JSON
// or YAML file. Configuration is read once at startup; there is no hot
// reload.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

const (
	DefaultMinInterval  = 300 * time.Second
	DefaultMaxInterval  = 43200 * time.Second
	DefaultMaxFeedSize  = 2 << 20
	DefaultDatabase     = "./rssbot.json"
	DefaultPollTimeout  = 10 * time.Second
	DefaultFetchTimeout = 30 * time.Second
	DefaultRatePerSec   = 30
)

type Config struct {
	Telegram   TelegramConfig `json:"telegram"`
	Database   DatabaseConfig `json:"database,omitempty"`
	Fetch      FetchConfig    `json:"fetch,omitempty"`
	Logging    LoggingConfig  `json:"logging,omitempty"`
	Gardener   GardenerConfig `json:"gardener,omitempty"`
	Pprof      PprofConfig    `json:"pprof,omitempty"`
	Admins     []int64        `json:"admins,omitempty"`
	Restricted bool           `json:"restricted,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// PollTimeout is a Go duration string (e.g. "10s").
	PollTimeout string `json:"poll_timeout,omitempty"`
	// RatePerSec caps outbound API calls.
	RatePerSec int `json:"rate_per_sec,omitempty"`
}

type DatabaseConfig struct {
	// Driver is "file" (default) or "sqlite".
	Driver string `json:"driver,omitempty"`
	Path   string `json:"path,omitempty"`
	// BusyTimeout is a Go duration string (sqlite only).
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

type FetchConfig struct {
	// MinInterval and MaxInterval are Go duration strings bounding how
	// often any feed is fetched.
	MinInterval string `json:"min_interval,omitempty"`
	MaxInterval string `json:"max_interval,omitempty"`
	// MaxFeedSize is in bytes; larger responses are rejected.
	MaxFeedSize int64 `json:"max_feed_size,omitempty"`
	// Timeout is a Go duration string bounding a single feed request.
	Timeout string `json:"timeout,omitempty"`
	// Insecure disables TLS certificate verification and SSRF
	// protections. For feeds on hosts with broken certificates.
	Insecure bool `json:"insecure,omitempty"`
}

type GardenerConfig struct {
	// Schedule is a cron spec or @every expression; default "@every 24h".
	Schedule string `json:"schedule,omitempty"`
}

type LoggingConfig struct {
	Level string `json:"level,omitempty"`
	// Console is a pointer so "omitted" (default true) is distinct from
	// an explicit false.
	Console *bool  `json:"console,omitempty"`
	File    string `json:"file,omitempty"`
}

type PprofConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default "127.0.0.1:6060"
}

// Load reads, decodes and validates the file at path. An empty path
// yields the defaults (the token must then come from a flag).
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		jb, _, err := coerceToJSONBytes(path, b)
		if err != nil {
			return nil, err
		}
		dec := json.NewDecoder(bytes.NewReader(jb))
		dec.DisallowUnknownFields()
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
		// reject trailing tokens (e.g. concatenated JSON)
		if err := dec.Decode(&struct{}{}); err != io.EOF {
			if err == nil {
				return nil, fmt.Errorf("parsing %s: trailing data", path)
			}
			return nil, err
		}
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = "file"
	}
	if c.Database.Path == "" {
		c.Database.Path = DefaultDatabase
	}
	if c.Fetch.MaxFeedSize == 0 {
		c.Fetch.MaxFeedSize = DefaultMaxFeedSize
	}
	if c.Telegram.RatePerSec == 0 {
		c.Telegram.RatePerSec = DefaultRatePerSec
	}
	if c.Pprof.Addr == "" {
		c.Pprof.Addr = "127.0.0.1:6060"
	}
}

// Validate checks everything that can be checked without talking to the
// network.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return fmt.Errorf("telegram.token is required")
	}
	switch c.Database.Driver {
	case "file", "sqlite":
	default:
		return fmt.Errorf("database.driver: unknown driver %q", c.Database.Driver)
	}
	min, err := c.MinInterval()
	if err != nil {
		return err
	}
	max, err := c.MaxInterval()
	if err != nil {
		return err
	}
	if min < time.Second {
		return fmt.Errorf("fetch.min_interval must be at least 1s")
	}
	if max < min {
		return fmt.Errorf("fetch.max_interval must be >= fetch.min_interval")
	}
	if c.Fetch.MaxFeedSize < 0 {
		return fmt.Errorf("fetch.max_feed_size must be >= 0")
	}
	if _, err := c.FetchTimeout(); err != nil {
		return err
	}
	if _, err := c.PollTimeout(); err != nil {
		return err
	}
	if _, err := c.BusyTimeout(); err != nil {
		return err
	}
	return nil
}

func (c *Config) MinInterval() (time.Duration, error) {
	return parseDurationOrDefault("fetch.min_interval", c.Fetch.MinInterval, DefaultMinInterval)
}

func (c *Config) MaxInterval() (time.Duration, error) {
	return parseDurationOrDefault("fetch.max_interval", c.Fetch.MaxInterval, DefaultMaxInterval)
}

func (c *Config) FetchTimeout() (time.Duration, error) {
	return parseDurationOrDefault("fetch.timeout", c.Fetch.Timeout, DefaultFetchTimeout)
}

func (c *Config) PollTimeout() (time.Duration, error) {
	return parseDurationOrDefault("telegram.poll_timeout", c.Telegram.PollTimeout, DefaultPollTimeout)
}

func (c *Config) BusyTimeout() (time.Duration, error) {
	return parseDurationOrDefault("database.busy_timeout", c.Database.BusyTimeout, 5*time.Second)
}

// ConsoleLogging defaults to true when the config omits it.
func (c *Config) ConsoleLogging() bool {
	if c.Logging.Console == nil {
		return true
	}
	return *c.Logging.Console
}

func parseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	if d == 0 {
		return def, nil
	}
	return d, nil
}
