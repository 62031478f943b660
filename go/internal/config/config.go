// Package config loads the live server configuration from an optional YAML
// file with environment overrides on top.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/mcdev12/outpost/go/internal/dbconfig"
	"github.com/mcdev12/outpost/go/internal/live"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// DefaultPath is read when LIVE_CONFIG is not set. It may be absent.
const DefaultPath = "config/live.yaml"

type Config struct {
	LogLevel   string           `yaml:"log_level" env:"LOG_LEVEL"`
	Cadence    CadenceConfig    `yaml:"cadence"`
	Visibility VisibilityConfig `yaml:"visibility"`
	HTTP       HTTPConfig       `yaml:"http"`
	NATS       NATSConfig       `yaml:"nats"`
	DB         dbconfig.Config  `yaml:"db"`
}

type CadenceConfig struct {
	Period       time.Duration `yaml:"period" env:"CADENCE_PERIOD"`
	Spread       bool          `yaml:"spread" env:"CADENCE_SPREAD"`
	ScheduleTime time.Duration `yaml:"schedule_time" env:"CADENCE_SCHEDULE_TIME"`
	MaxInFlight  int           `yaml:"max_in_flight" env:"CADENCE_MAX_IN_FLIGHT"`
}

type VisibilityConfig struct {
	LocationDecay time.Duration `yaml:"location_decay" env:"VISIBILITY_LOCATION_DECAY"`
}

type HTTPConfig struct {
	Port string `yaml:"port" env:"PORT"`
}

// NATSConfig configures the packet relay and the audit event stream. An empty
// URL runs a single node without either.
type NATSConfig struct {
	URL           string `yaml:"url" env:"NATS_URL"`
	SubjectPrefix string `yaml:"subject_prefix" env:"NATS_SUBJECT_PREFIX"`
	Stream        string `yaml:"stream" env:"NATS_STREAM"`
	EventsPrefix  string `yaml:"events_prefix" env:"NATS_EVENTS_PREFIX"`
}

// Default returns the built-in configuration.
func Default() Config {
	lc := live.DefaultConfig()
	return Config{
		LogLevel: "info",
		Cadence: CadenceConfig{
			Period:       lc.Period,
			Spread:       lc.Spread,
			ScheduleTime: lc.ScheduleTime,
			MaxInFlight:  lc.MaxInFlight,
		},
		Visibility: VisibilityConfig{LocationDecay: lc.LocationDecay},
		HTTP:       HTTPConfig{Port: "8080"},
		NATS: NATSConfig{
			SubjectPrefix: "live.packets",
			Stream:        "LIVE_EVENTS",
			EventsPrefix:  "live.events",
		},
		DB: dbconfig.Default(),
	}
}

// Load reads path over the defaults and then applies environment overrides.
// An empty path means LIVE_CONFIG, falling back to DefaultPath; only the
// fallback may be missing.
func Load(path string) (Config, error) {
	cfg := Default()

	optional := false
	if path == "" {
		path = os.Getenv("LIVE_CONFIG")
	}
	if path == "" {
		path, optional = DefaultPath, true
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config: %w", err)
		}
	case optional && errors.Is(err, os.ErrNotExist):
	default:
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the live layer cannot run with.
func (c Config) Validate() error {
	if c.Cadence.Period <= 0 {
		return fmt.Errorf("cadence.period must be positive, got %s", c.Cadence.Period)
	}
	if c.Cadence.ScheduleTime < 0 {
		return fmt.Errorf("cadence.schedule_time must not be negative, got %s", c.Cadence.ScheduleTime)
	}
	if c.Cadence.MaxInFlight < 0 {
		return fmt.Errorf("cadence.max_in_flight must not be negative, got %d", c.Cadence.MaxInFlight)
	}
	if c.Visibility.LocationDecay <= 0 {
		return fmt.Errorf("visibility.location_decay must be positive, got %s", c.Visibility.LocationDecay)
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	return nil
}

// Live returns the registry settings.
func (c Config) Live() live.Config {
	return live.Config{
		Period:        c.Cadence.Period,
		Spread:        c.Cadence.Spread,
		ScheduleTime:  c.Cadence.ScheduleTime,
		MaxInFlight:   c.Cadence.MaxInFlight,
		LocationDecay: c.Visibility.LocationDecay,
	}
}

// Level returns the zerolog level, info when unset.
func (c Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || c.LogLevel == "" {
		return zerolog.InfoLevel
	}
	return lvl
}

// Addr is the HTTP listen address.
func (c Config) Addr() string {
	return ":" + c.HTTP.Port
}
