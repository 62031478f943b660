package dbconfig

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config holds Postgres connection settings.
type Config struct {
	Host     string `yaml:"host" env:"DB_HOST"`
	Port     int    `yaml:"port" env:"DB_PORT"`
	User     string `yaml:"user" env:"DB_USER"`
	Password string `yaml:"password" env:"DB_PASSWORD"`
	Database string `yaml:"database" env:"DB_NAME"`
	SSLMode  string `yaml:"sslmode" env:"DB_SSLMODE"`
	// URL, when set, is used as is instead of the individual settings.
	URL string `yaml:"url" env:"DATABASE_URL"`
}

// Default returns the local development settings.
func Default() Config {
	return Config{
		Host:     "localhost",
		Port:     5432,
		User:     "postgres",
		Password: "postgres",
		Database: "outpost",
		SSLMode:  "disable",
	}
}

// NewConfigFromEnv reads DB_* environment variables over the defaults.
func NewConfigFromEnv() (Config, error) {
	c := Default()
	if err := env.Parse(&c); err != nil {
		return Config{}, fmt.Errorf("parse db env: %w", err)
	}
	return c, nil
}

// DSN returns the Postgres connection URL.
func (c Config) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}
