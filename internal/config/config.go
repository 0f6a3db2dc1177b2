// Package config loads and watches the YAML configuration.
//
// The bot credential is intentionally NOT part of the file: it is read
// from the environment (telegram.token_env names the variable) so config
// files can be committed and shipped without secrets.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	yaml "go.yaml.in/yaml/v3"
)

type Config struct {
	Telegram TelegramConfig `yaml:"telegram"`
	Branding BrandingConfig `yaml:"branding"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Logging  LoggingConfig  `yaml:"logging"`
	Storage  StorageConfig  `yaml:"storage"`
	Ops      OpsConfig      `yaml:"ops"`
}

type TelegramConfig struct {
	// TokenEnv names the environment variable holding the bot token.
	// Defaults to VERDICTBOT_TOKEN. An unset/empty variable leaves the
	// notification subsystem inert rather than failing startup.
	TokenEnv    string `yaml:"token_env"`
	PollTimeout string `yaml:"poll_timeout"` // Go duration string
}

// BrandingConfig is the notice's server identity block. Opaque strings;
// hot-reloadable.
type BrandingConfig struct {
	ServerName string `yaml:"server_name"`
	IconURL    string `yaml:"icon_url"`
	FooterText string `yaml:"footer_text"`
}

// DispatchConfig mirrors dispatch.Config with durations as strings.
type DispatchConfig struct {
	RetryMax    int    `yaml:"retry_max"`
	RetryStep   string `yaml:"retry_step"`
	SendTimeout string `yaml:"send_timeout"`
	ReadyGrace  string `yaml:"ready_grace"`
	DrainEvery  string `yaml:"drain_every"`
	RatePerSec  int    `yaml:"rate_per_sec"`
}

type LoggingConfig struct {
	Level   string        `yaml:"level"`
	Console *bool         `yaml:"console"`
	File    LogFileConfig `yaml:"file"`
}

type LogFileConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// StorageConfig configures the delivery-outcome log.
// Driver: "file" (JSONL), "sqlite", or ""/"none" to disable.
type StorageConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
}

type OpsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	// Token gates the ops endpoints when Addr is not loopback.
	Token string `yaml:"token"`
}

// Load reads, strictly decodes, and validates the config file.
// Unknown fields are rejected so typos fail loudly.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := parse(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func parse(b []byte) (*Config, error) {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty config")
		}
		return nil, err
	}
	// Reject concatenated documents.
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, errors.New("trailing config document")
	}

	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() {
	if strings.TrimSpace(c.Telegram.TokenEnv) == "" {
		c.Telegram.TokenEnv = "VERDICTBOT_TOKEN"
	}
	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Console == nil {
		t := true
		c.Logging.Console = &t
	}
	if strings.TrimSpace(c.Ops.Addr) == "" {
		c.Ops.Addr = "127.0.0.1:8091"
	}
}

func (c *Config) validate() error {
	durations := []struct {
		path string
		raw  string
	}{
		{"telegram.poll_timeout", c.Telegram.PollTimeout},
		{"dispatch.retry_step", c.Dispatch.RetryStep},
		{"dispatch.send_timeout", c.Dispatch.SendTimeout},
		{"dispatch.ready_grace", c.Dispatch.ReadyGrace},
		{"dispatch.drain_every", c.Dispatch.DrainEvery},
	}
	for _, d := range durations {
		if _, err := ParseDurationField(d.path, d.raw); err != nil {
			return err
		}
	}
	if c.Dispatch.RetryMax < 0 {
		return errors.New("dispatch.retry_max must be >= 0")
	}
	if c.Dispatch.RatePerSec < 0 {
		return errors.New("dispatch.rate_per_sec must be >= 0")
	}
	switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
	case "", "none", "file", "sqlite", "sqlite3":
	default:
		return fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver)
	}
	if strings.TrimSpace(c.Branding.ServerName) == "" {
		return errors.New("branding.server_name is required")
	}
	return nil
}

// Token resolves the bot credential from the environment.
func (c *Config) Token() string {
	return strings.TrimSpace(os.Getenv(c.Telegram.TokenEnv))
}

func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// Duration returns the parsed duration, or def when the field is empty.
// Call validate first; this panics on malformed input.
func Duration(path, raw string, def time.Duration) time.Duration {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		panic(err)
	}
	if d <= 0 {
		return def
	}
	return d
}
