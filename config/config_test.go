// Copyright 2025 The Weather Flick Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, "localhost", cfg.Database.Host)
	require.Equal(t, 5432, cfg.Database.Port)
	require.Equal(t, 5, cfg.Database.Blocking.MaxConns)
	require.Equal(t, 10, cfg.Database.NonBlocking.MaxConns)
	require.Equal(t, time.Second, cfg.TourAPI.MinDelay)
	require.Equal(t, 1000, cfg.TourAPI.DailyCeiling)
	require.Equal(t, 100, cfg.Batch.ChunkSize)
	require.Equal(t, 5000.0, cfg.Dedup.SpatialRadiusMeters)
	require.Equal(t, "info", cfg.Logging.Level)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
database:
  host: db.internal
  database: wf_prod
tour_api:
  service_key: secret
  min_delay: 2s
batch:
  chunk_size: 250
logging:
  level: debug
  format: json
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "db.internal", cfg.Database.Host)
	require.Equal(t, "wf_prod", cfg.Database.Database)
	require.Equal(t, "secret", cfg.TourAPI.ServiceKey)
	require.Equal(t, 2*time.Second, cfg.TourAPI.MinDelay)
	require.Equal(t, 250, cfg.Batch.ChunkSize)
	require.Equal(t, "debug", cfg.Logging.Level)

	// Fields the file does not mention keep their defaults.
	require.Equal(t, 5432, cfg.Database.Port)
	require.Equal(t, time.Second, cfg.WeatherAPI.MinDelay)
}

func TestLoad_EnvironmentWinsOverFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("database:\n  host: from-file\n"), 0o600))

	t.Setenv("WFB_DATABASE__HOST", "from-env")
	t.Setenv("WFB_BATCH__CHUNK_SIZE", "42")
	t.Setenv("WFB_TOUR_API__COOLDOWN_BASE", "90s")

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "from-env", cfg.Database.Host)
	require.Equal(t, 42, cfg.Batch.ChunkSize)
	require.Equal(t, 90*time.Second, cfg.TourAPI.CooldownBase)
}

func TestLoad_ConfigPathEnvVar(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alt.yaml")
	require.NoError(t, os.WriteFile(path, []byte("database:\n  host: alt-host\n"), 0o600))
	t.Setenv(ConfigPathEnvVar, path)

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "alt-host", cfg.Database.Host)
}

func TestLoad_MissingFileIsAnError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := defaultConfig()
	require.NoError(t, cfg.Validate())

	bad := defaultConfig()
	bad.Database.Host = ""
	require.Error(t, bad.Validate())

	bad = defaultConfig()
	bad.Database.Database = ""
	require.Error(t, bad.Validate())

	bad = defaultConfig()
	bad.Batch.ChunkSize = 0
	require.Error(t, bad.Validate())

	bad = defaultConfig()
	bad.Dedup.SpatialRadiusMeters = -1
	require.Error(t, bad.Validate())
}

func TestSlogLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		require.Equal(t, want, LoggingConfig{Level: in}.SlogLevel(), "level %q", in)
	}
}
