// Package config loads the client configuration file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root of the YAML configuration file.
type Config struct {
	API     API     `yaml:"api"`
	Session Session `yaml:"session"`
	Stream  Stream  `yaml:"stream"`
	Journal Journal `yaml:"journal"`
	Log     Log     `yaml:"log"`
}

// API locates the remote store.
type API struct {
	BaseURL        string        `yaml:"base_url"`
	Timeout        time.Duration `yaml:"timeout"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	TLSTimeout     time.Duration `yaml:"tls_timeout"`
}

// Session identifies the acting user.
type Session struct {
	// UserID is the identity the server gave the user; empty means
	// anonymous.
	UserID string `yaml:"user_id"`
}

// Stream configures the activity stream poller.
type Stream struct {
	Interval time.Duration `yaml:"interval"`
	Burst    int           `yaml:"burst"`
}

// Journal locates the attempt journal.
type Journal struct {
	// Path is a SQLite file, or ":memory:".
	Path string `yaml:"path"`
}

// Log configures the slog handler.
type Log struct {
	Level  string `yaml:"level"`  // debug|info|warn|error
	Format string `yaml:"format"` // text|json
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		API: API{
			BaseURL:        "http://localhost:8000",
			Timeout:        60 * time.Second,
			ConnectTimeout: 5 * time.Second,
			TLSTimeout:     5 * time.Second,
		},
		Stream: Stream{
			Interval: 15 * time.Second,
			Burst:    1,
		},
		Journal: Journal{Path: ":memory:"},
		Log: Log{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads path over the defaults. Fields absent from the file keep
// their default; unknown fields are an error.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var errs []error

	u, err := url.Parse(c.API.BaseURL)
	switch {
	case c.API.BaseURL == "":
		errs = append(errs, errors.New("api.base_url is required"))
	case err != nil:
		errs = append(errs, fmt.Errorf("api.base_url: %w", err))
	case u.Scheme != "http" && u.Scheme != "https":
		errs = append(errs, fmt.Errorf("api.base_url: scheme must be http or https, got %q", u.Scheme))
	}
	if c.API.Timeout <= 0 {
		errs = append(errs, errors.New("api.timeout must be positive"))
	}
	if c.API.ConnectTimeout < 0 || c.API.TLSTimeout < 0 {
		errs = append(errs, errors.New("api connect and tls timeouts must not be negative"))
	}
	if c.Stream.Interval <= 0 {
		errs = append(errs, errors.New("stream.interval must be positive"))
	}
	if c.Stream.Burst < 1 {
		errs = append(errs, errors.New("stream.burst must be at least 1"))
	}
	if c.Journal.Path == "" {
		errs = append(errs, errors.New("journal.path is required"))
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("log.format: must be text or json, got %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

// SlogLevel parses Level.
func (l Log) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(l.Level))); err != nil {
		return slog.LevelInfo, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}
