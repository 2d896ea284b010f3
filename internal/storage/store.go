package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/settings/internal/circuitbreaker"
)

var (
	// ErrNotFound is returned by Read when no document exists under the key.
	ErrNotFound = errors.New("document not found")
	// ErrInvalidKey is returned for empty keys or keys escaping the store root.
	ErrInvalidKey = errors.New("invalid document key")
)

// Store persists settings documents as opaque bytes addressed by a
// slash separated key such as "Profile1/GameInstance.json".
type Store interface {
	Read(ctx context.Context, key string) ([]byte, error)
	Write(ctx context.Context, key string, data []byte) error
}

// Pinger is implemented by stores that can report backend reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config selects and configures a backend.
type Config struct {
	Backend   string                `mapstructure:"backend" env:"STORAGE_BACKEND"`
	Root      string                `mapstructure:"root" env:"SETTINGS_ROOT"`
	RedisURL  string                `mapstructure:"redis_url" env:"REDIS_URL"`
	KeyPrefix string                `mapstructure:"key_prefix" env:"REDIS_KEY_PREFIX"`
	SQLDriver string                `mapstructure:"sql_driver" env:"SQL_DRIVER"`
	SQLDSN    string                `mapstructure:"sql_dsn" env:"SQL_DSN"`
	Timeout   time.Duration         `mapstructure:"timeout" env:"STORAGE_TIMEOUT"`
	Breaker   circuitbreaker.Config `mapstructure:"breaker"`
}

func (c Config) breakerConfig() circuitbreaker.Config {
	if c.Breaker.FailureThreshold == 0 {
		return circuitbreaker.DefaultConfig()
	}
	return c.Breaker
}

func validateKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." {
			return fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
	}
	return nil
}

// Open builds the configured backend. Remote backends are wrapped in a
// circuit breaker. The returned close function releases backend resources.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (Store, func() error, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", "file":
		fs, err := NewFileStore(cfg.Root, logger)
		if err != nil {
			return nil, nil, err
		}
		return fs, func() error { return nil }, nil
	case "redis":
		rs, err := NewRedisStore(ctx, cfg.RedisURL, cfg.KeyPrefix, logger)
		if err != nil {
			return nil, nil, err
		}
		breaker := circuitbreaker.NewCircuitBreaker("redis", cfg.breakerConfig(), logger)
		return Guarded(rs, breaker, cfg.Timeout), rs.Close, nil
	case "sql", "sqlite", "postgres":
		driver := cfg.SQLDriver
		if driver == "" {
			driver = "sqlite3"
		}
		ss, err := OpenSQLStore(ctx, driver, cfg.SQLDSN, logger)
		if err != nil {
			return nil, nil, err
		}
		breaker := circuitbreaker.NewCircuitBreaker("sql", cfg.breakerConfig(), logger)
		return Guarded(ss, breaker, cfg.Timeout), ss.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
