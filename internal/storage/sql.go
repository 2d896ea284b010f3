package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

const schema = `CREATE TABLE IF NOT EXISTS settings_documents (
	doc_key    TEXT PRIMARY KEY,
	body       TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL
)`

// SQLStore keeps documents in a single table keyed by document key.
type SQLStore struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// OpenSQLStore connects with driver ("sqlite3" or "postgres"), verifies the
// connection and ensures the table exists.
func OpenSQLStore(ctx context.Context, driver, dsn string, logger *zap.Logger) (*SQLStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("sql dsn cannot be empty")
	}
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}
	if driver == "sqlite3" {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s database: %w", driver, err)
	}

	s := NewSQLStore(db, logger)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	logger.Info("Connected to SQL settings store", zap.String("driver", driver))
	return s, nil
}

// NewSQLStore wraps an open database handle.
func NewSQLStore(db *sqlx.DB, logger *zap.Logger) *SQLStore {
	return &SQLStore{db: db, logger: logger}
}

// Migrate creates the documents table if missing.
func (s *SQLStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create settings_documents table: %w", err)
	}
	return nil
}

func (s *SQLStore) Read(ctx context.Context, key string) ([]byte, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	var body string
	query := s.db.Rebind(`SELECT body FROM settings_documents WHERE doc_key = ?`)
	err := s.db.GetContext(ctx, &body, query, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s from database: %w", key, err)
	}
	return []byte(body), nil
}

func (s *SQLStore) Write(ctx context.Context, key string, data []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}
	query := s.db.Rebind(`INSERT INTO settings_documents (doc_key, body, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (doc_key) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at`)
	if _, err := s.db.ExecContext(ctx, query, key, string(data), time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to write %s to database: %w", key, err)
	}
	s.logger.Debug("Settings document written to database", zap.String("key", key), zap.Int("bytes", len(data)))
	return nil
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
