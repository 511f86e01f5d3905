// Package config loads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	DBDriver         string        `env:"VG_DB_DRIVER" envDefault:"sqlite"`
	DBPath           string        `env:"VG_DB_PATH" envDefault:"./vgoat.db"`
	Port             int           `env:"VG_PORT" envDefault:"8080"`
	TimeZone         string        `env:"VG_TIMEZONE" envDefault:"UTC"`
	CSRFSecret       string        `env:"VG_CSRF_SECRET"`
	AggregateHour    int           `env:"VG_AGGREGATE_HOUR" envDefault:"2"`
	EvaluateInterval time.Duration `env:"VG_EVALUATE_INTERVAL" envDefault:"1h"`
	NotifyWebhook    string        `env:"VG_NOTIFY_WEBHOOK"`
	LogLevel         string        `env:"VG_LOG_LEVEL" envDefault:"info"`
	LogFormat        string        `env:"VG_LOG_FORMAT" envDefault:"text"`
}

// Load reads an optional .env file from the working directory and then
// parses the environment. Variables already set win over the file.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return Parse()
}

// Parse loads configuration from environment variables.
func Parse() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.AggregateHour < 0 || c.AggregateHour > 23 {
		return fmt.Errorf("VG_AGGREGATE_HOUR must be between 0 and 23, got %d", c.AggregateHour)
	}
	if c.EvaluateInterval <= 0 {
		return fmt.Errorf("VG_EVALUATE_INTERVAL must be positive, got %s", c.EvaluateInterval)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location is the deployment time zone used for stat dates and end dates.
func (c Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("invalid VG_TIMEZONE %q: %w", c.TimeZone, err)
	}
	return loc, nil
}
