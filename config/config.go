// Copyright 2025 The Weather Flick Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the process configuration in three layers: struct
// defaults, an optional YAML file, then environment variables (highest
// priority, WFB_ prefix).
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/aicc6/weather-flick-batch-sub000/batch"
	"github.com/aicc6/weather-flick-batch-sub000/dbpool"
	"github.com/aicc6/weather-flick-batch-sub000/dedup"
	"github.com/aicc6/weather-flick-batch-sub000/openapi"
)

// DefaultConfigPaths lists where config files are searched, first hit wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/weather-flick-batch/config.yaml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "WFB_CONFIG_PATH"

const envPrefix = "WFB_"

// APIConfig configures one upstream provider.
type APIConfig struct {
	BaseURL        string        `koanf:"base_url"`
	ServiceKey     string        `koanf:"service_key"`
	MobileOS       string        `koanf:"mobile_os"`
	MobileApp      string        `koanf:"mobile_app"`
	MinDelay       time.Duration `koanf:"min_delay"`
	DailyCeiling   int           `koanf:"daily_ceiling"`
	PageSize       int           `koanf:"page_size"`
	MaxRetries     int           `koanf:"max_retries"`
	RetryBaseDelay time.Duration `koanf:"retry_base_delay"`
	RetryMaxDelay  time.Duration `koanf:"retry_max_delay"`
	CooldownBase   time.Duration `koanf:"cooldown_base"`
	CooldownMax    time.Duration `koanf:"cooldown_max"`
	Timeout        time.Duration `koanf:"timeout"`
}

// ClientConfig converts to the openapi client configuration.
func (a APIConfig) ClientConfig(name string) openapi.Config {
	return openapi.Config{
		Name:           name,
		BaseURL:        a.BaseURL,
		ServiceKey:     a.ServiceKey,
		MobileOS:       a.MobileOS,
		MobileApp:      a.MobileApp,
		MinDelay:       a.MinDelay,
		DailyCeiling:   a.DailyCeiling,
		PageSize:       a.PageSize,
		MaxRetries:     a.MaxRetries,
		RetryBaseDelay: a.RetryBaseDelay,
		RetryMaxDelay:  a.RetryMaxDelay,
		CooldownBase:   a.CooldownBase,
		CooldownMax:    a.CooldownMax,
		Timeout:        a.Timeout,
	}
}

// LoggingConfig controls the slog handler.
type LoggingConfig struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // text or json
}

// Config is the whole process configuration.
type Config struct {
	Database   dbpool.Config `koanf:"database"`
	TourAPI    APIConfig     `koanf:"tour_api"`
	WeatherAPI APIConfig     `koanf:"weather_api"`
	Batch      batch.Config  `koanf:"batch"`
	Dedup      dedup.Config  `koanf:"dedup"`
	Logging    LoggingConfig `koanf:"logging"`
}

func defaultConfig() *Config {
	return &Config{
		Database: dbpool.Config{
			Host:     "localhost",
			Port:     5432,
			User:     "weather_flick",
			Database: "weather_flick",
			SSLMode:  "disable",
			Blocking: dbpool.ModeConfig{
				MinConns:       1,
				MaxConns:       5,
				ConnectTimeout: 10 * time.Second,
			},
			NonBlocking: dbpool.ModeConfig{
				MinConns:       2,
				MaxConns:       10,
				ConnectTimeout: 10 * time.Second,
			},
			HealthInterval: 30 * time.Second,
		},
		TourAPI: APIConfig{
			BaseURL:        "https://apis.data.go.kr/B551011/KorService1",
			MinDelay:       time.Second,
			DailyCeiling:   1000,
			PageSize:       100,
			MaxRetries:     3,
			RetryBaseDelay: time.Second,
			RetryMaxDelay:  10 * time.Second,
			CooldownBase:   60 * time.Second,
			CooldownMax:    300 * time.Second,
			Timeout:        30 * time.Second,
		},
		WeatherAPI: APIConfig{
			BaseURL:        "https://apis.data.go.kr/1360000/VilageFcstInfoService_2.0",
			MinDelay:       time.Second,
			DailyCeiling:   1000,
			PageSize:       100,
			MaxRetries:     3,
			RetryBaseDelay: time.Second,
			RetryMaxDelay:  10 * time.Second,
			CooldownBase:   60 * time.Second,
			CooldownMax:    300 * time.Second,
			Timeout:        30 * time.Second,
		},
		Batch: batch.Config{
			ChunkSize:       100,
			MemoryCeilingMB: 64,
			RetryAttempts:   3,
			RetryBaseDelay:  500 * time.Millisecond,
		},
		Dedup: dedup.Config{
			SpatialRadiusMeters: 5000,
			FuzzyConfidence:     0.8,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads configuration from defaults, then path (or the default search
// paths when path is empty), then WFB_-prefixed environment variables.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("config: loading defaults: %w", err)
	}

	if path == "" {
		path = findConfigFile()
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: loading file %s: %w", path, err)
		}
	}

	// WFB_DATABASE__HOST -> database.host
	envProvider := env.Provider(envPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(s, envPrefix)
		s = strings.ToLower(s)
		return strings.ReplaceAll(s, "__", ".")
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("config: loading environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshaling: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Validate checks the fields that have no safe defaults.
func (c *Config) Validate() error {
	if c.Database.Host == "" {
		return fmt.Errorf("config: database.host is required")
	}
	if c.Database.Database == "" {
		return fmt.Errorf("config: database.database is required")
	}
	if c.Batch.ChunkSize <= 0 {
		return fmt.Errorf("config: batch.chunk_size must be positive")
	}
	if c.Dedup.SpatialRadiusMeters <= 0 {
		return fmt.Errorf("config: dedup.spatial_radius_meters must be positive")
	}
	return nil
}

// SlogLevel maps the configured level string to a slog.Level.
func (l LoggingConfig) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger builds the process logger per the logging configuration.
func (l LoggingConfig) NewLogger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: l.SlogLevel()}
	var handler slog.Handler
	if strings.ToLower(l.Format) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}
