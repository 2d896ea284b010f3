package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/viper"

	"github.com/Kocoro-lab/Shannon/go/settings/internal/storage"
	"github.com/Kocoro-lab/Shannon/go/settings/internal/tracing"
)

// DefaultPath is read when CONFIG_PATH is unset. A missing default file is not an error.
const DefaultPath = "config/settingsd.yaml"

// Config is the settingsd service configuration.
type Config struct {
	Settings  SettingsConfig  `mapstructure:"settings"`
	Storage   storage.Config  `mapstructure:"storage"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Tracing   tracing.Config  `mapstructure:"tracing"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Stream    StreamConfig    `mapstructure:"stream"`
}

// SettingsConfig controls containers and the definitions catalog.
type SettingsConfig struct {
	DefinitionsDir string `mapstructure:"definitions_dir" env:"DEFINITIONS_DIR"`
	MaxProfiles    int    `mapstructure:"max_profiles" env:"MAX_PROFILES"`
	Profile        int    `mapstructure:"profile" env:"SETTINGS_PROFILE"`
	AsyncLoading   bool   `mapstructure:"async_loading" env:"ASYNC_LOADING"`
}

type HTTPConfig struct {
	Port            int           `mapstructure:"port" env:"HTTP_PORT"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" env:"LOG_LEVEL"`
	Format string `mapstructure:"format" env:"LOG_FORMAT"`
}

// RateLimitConfig bounds mutating requests per player. Zero disables limiting.
type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second" env:"RATE_LIMIT_RPS"`
	Burst             int     `mapstructure:"burst" env:"RATE_LIMIT_BURST"`
}

type StreamConfig struct {
	PingInterval time.Duration `mapstructure:"ping_interval"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("settings.definitions_dir", "config/settings")
	v.SetDefault("settings.max_profiles", 5)
	v.SetDefault("settings.profile", 1)
	v.SetDefault("settings.async_loading", true)

	v.SetDefault("storage.backend", "file")
	v.SetDefault("storage.root", "data/settings")
	v.SetDefault("storage.key_prefix", storage.DefaultKeyPrefix)
	v.SetDefault("storage.sql_driver", "sqlite3")
	v.SetDefault("storage.timeout", 5*time.Second)
	v.SetDefault("storage.breaker.max_requests", 1)
	v.SetDefault("storage.breaker.interval", 60*time.Second)
	v.SetDefault("storage.breaker.timeout", 15*time.Second)
	v.SetDefault("storage.breaker.failure_threshold", 3)
	v.SetDefault("storage.breaker.success_threshold", 1)

	v.SetDefault("http.port", 8090)
	v.SetDefault("http.read_timeout", 10*time.Second)
	v.SetDefault("http.write_timeout", 10*time.Second)
	v.SetDefault("http.shutdown_timeout", 15*time.Second)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "shannon-settings")
	v.SetDefault("tracing.otlp_endpoint", "localhost:4317")

	v.SetDefault("rate_limit.requests_per_second", 20.0)
	v.SetDefault("rate_limit.burst", 40)

	v.SetDefault("stream.ping_interval", 20*time.Second)
	v.SetDefault("stream.read_timeout", 60*time.Second)
}

// Load reads the YAML file at CONFIG_PATH (or DefaultPath), fills unset keys
// with defaults and then applies environment overrides.
func Load() (*Config, error) {
	path := os.Getenv("CONFIG_PATH")
	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}
	return LoadFile(path, explicit)
}

// LoadFile is Load for a given path. When required is false a missing file
// yields the defaults.
func LoadFile(path string, required bool) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			missing := errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist)
			if required || !missing {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	if c.Settings.MaxProfiles < 1 {
		return fmt.Errorf("settings.max_profiles must be at least 1, got %d", c.Settings.MaxProfiles)
	}
	if c.Settings.DefinitionsDir == "" {
		return fmt.Errorf("settings.definitions_dir is required")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port out of range: %d", c.HTTP.Port)
	}
	switch strings.ToLower(c.Storage.Backend) {
	case "file":
		if c.Storage.Root == "" {
			return fmt.Errorf("storage.root is required for the file backend")
		}
	case "redis":
		if c.Storage.RedisURL == "" {
			return fmt.Errorf("storage.redis_url is required for the redis backend")
		}
	case "sql", "sqlite", "postgres":
		if c.Storage.SQLDSN == "" {
			return fmt.Errorf("storage.sql_dsn is required for the sql backend")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if c.RateLimit.RequestsPerSecond < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("rate_limit values must not be negative")
	}
	return nil
}
