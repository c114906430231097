// Package config loads client configuration from a YAML file, an optional
// .env file and the process environment, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/snapshare/client/pkg/logger"
)

// Mode selects the data source.
type Mode string

const (
	// ModeMock serves bundled fixtures with in-process auth and storage.
	ModeMock Mode = "mock"
	// ModeBackend talks to a Supabase-compatible backend.
	ModeBackend Mode = "backend"
)

// Config is the client configuration.
type Config struct {
	Mode        Mode           `yaml:"mode" env:"SNAPSHARE_MODE"`
	Supabase    SupabaseConfig `yaml:"supabase"`
	SessionFile string         `yaml:"session_file" env:"SNAPSHARE_SESSION_FILE"`
	Log         LogConfig      `yaml:"log"`
	Metrics     MetricsConfig  `yaml:"metrics"`
}

// SupabaseConfig locates the backend.
type SupabaseConfig struct {
	URL     string `yaml:"url" env:"SUPABASE_URL"`
	AnonKey string `yaml:"anon_key" env:"SUPABASE_ANON_KEY"`
}

// LogConfig configures pkg/logger.
type LogConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL"`
	Format string `yaml:"format" env:"LOG_FORMAT"`
}

// MetricsConfig toggles backend request instrumentation.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled" env:"SNAPSHARE_METRICS_ENABLED"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Mode: ModeMock,
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{Enabled: true},
	}
}

// Options controls where Load looks.
type Options struct {
	// File is a YAML config file. Empty skips it; a missing file is an error.
	File string
	// EnvFile is a dotenv file. A missing file is ignored.
	EnvFile string
}

// Load builds a Config from defaults, then opts.File, then opts.EnvFile and
// the environment, and validates the result.
func Load(opts Options) (Config, error) {
	cfg := Default()

	if opts.File != "" {
		data, err := os.ReadFile(filepath.Clean(opts.File))
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if opts.EnvFile != "" {
		// Variables already in the environment win over the file.
		if err := godotenv.Load(opts.EnvFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("failed to load env file: %w", err)
		}
	}

	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return Config{}, fmt.Errorf("failed to decode environment: %w", err)
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.Mode = Mode(strings.ToLower(strings.TrimSpace(string(c.Mode))))
	if c.Mode == "" {
		c.Mode = ModeMock
	}
	c.Supabase.URL = strings.TrimRight(strings.TrimSpace(c.Supabase.URL), "/")
	c.Supabase.AnonKey = strings.TrimSpace(c.Supabase.AnonKey)
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch c.Mode {
	case ModeMock:
	case ModeBackend:
		if c.Supabase.URL == "" {
			return errors.New("supabase url is required in backend mode (SUPABASE_URL)")
		}
		u, err := url.Parse(c.Supabase.URL)
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("invalid supabase url %q", c.Supabase.URL)
		}
		if c.Supabase.AnonKey == "" {
			return errors.New("supabase anon key is required in backend mode (SUPABASE_ANON_KEY)")
		}
	default:
		return fmt.Errorf("unknown mode %q (want %s or %s)", c.Mode, ModeMock, ModeBackend)
	}

	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	return nil
}

// Logger returns the logger settings for pkg/logger.
func (c Config) Logger() logger.Config {
	return logger.Config{Level: c.Log.Level, Format: c.Log.Format}
}
