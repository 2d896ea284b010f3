package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "settingsd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfig(t *testing.T) {
	t.Run("Defaults when optional file is missing", func(t *testing.T) {
		cfg, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"), false)
		require.NoError(t, err)

		assert.Equal(t, 5, cfg.Settings.MaxProfiles)
		assert.Equal(t, 1, cfg.Settings.Profile)
		assert.True(t, cfg.Settings.AsyncLoading)
		assert.Equal(t, "file", cfg.Storage.Backend)
		assert.Equal(t, 8090, cfg.HTTP.Port)
		assert.Equal(t, "info", cfg.Logging.Level)
		assert.Equal(t, 5*time.Second, cfg.Storage.Timeout)
		assert.Equal(t, uint32(3), cfg.Storage.Breaker.FailureThreshold)
		assert.Equal(t, 20*time.Second, cfg.Stream.PingInterval)
	})

	t.Run("Required file must exist", func(t *testing.T) {
		_, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"), true)
		assert.Error(t, err)
	})

	t.Run("File values override defaults", func(t *testing.T) {
		path := writeConfig(t, `
settings:
  definitions_dir: /etc/settingsd/defs
  max_profiles: 3
storage:
  backend: redis
  redis_url: redis://cache:6379/0
  breaker:
    failure_threshold: 7
http:
  port: 9000
tracing:
  enabled: true
`)
		cfg, err := LoadFile(path, true)
		require.NoError(t, err)

		assert.Equal(t, "/etc/settingsd/defs", cfg.Settings.DefinitionsDir)
		assert.Equal(t, 3, cfg.Settings.MaxProfiles)
		assert.Equal(t, "redis", cfg.Storage.Backend)
		assert.Equal(t, "redis://cache:6379/0", cfg.Storage.RedisURL)
		assert.Equal(t, uint32(7), cfg.Storage.Breaker.FailureThreshold)
		assert.Equal(t, uint32(1), cfg.Storage.Breaker.MaxRequests, "unset nested keys keep defaults")
		assert.Equal(t, 9000, cfg.HTTP.Port)
		assert.True(t, cfg.Tracing.Enabled)
	})

	t.Run("Environment variable override", func(t *testing.T) {
		path := writeConfig(t, "logging:\n  level: warn\nhttp:\n  port: 9000\n")
		t.Setenv("LOG_LEVEL", "debug")
		t.Setenv("HTTP_PORT", "9100")
		t.Setenv("STORAGE_BACKEND", "sql")
		t.Setenv("SQL_DSN", "file:settings.db")
		t.Setenv("RATE_LIMIT_RPS", "2.5")

		cfg, err := LoadFile(path, true)
		require.NoError(t, err)
		assert.Equal(t, "debug", cfg.Logging.Level)
		assert.Equal(t, 9100, cfg.HTTP.Port)
		assert.Equal(t, "sql", cfg.Storage.Backend)
		assert.Equal(t, "file:settings.db", cfg.Storage.SQLDSN)
		assert.Equal(t, 2.5, cfg.RateLimit.RequestsPerSecond)
	})

	t.Run("CONFIG_PATH selects the file", func(t *testing.T) {
		path := writeConfig(t, "settings:\n  max_profiles: 2\n")
		t.Setenv("CONFIG_PATH", path)

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, 2, cfg.Settings.MaxProfiles)
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"zero profiles", "settings:\n  max_profiles: 0\n"},
		{"bad port", "http:\n  port: 70000\n"},
		{"redis without url", "storage:\n  backend: redis\n"},
		{"sql without dsn", "storage:\n  backend: postgres\n"},
		{"unknown backend", "storage:\n  backend: s3\n"},
		{"negative rate", "rate_limit:\n  burst: -1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFile(writeConfig(t, tt.body), true)
			assert.Error(t, err)
		})
	}
}
