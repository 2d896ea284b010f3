package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// FileStore keeps documents as files under a root directory.
type FileStore struct {
	root   string
	logger *zap.Logger
}

// NewFileStore creates a file store rooted at root. The directory is created
// lazily on first write.
func NewFileStore(root string, logger *zap.Logger) (*FileStore, error) {
	if root == "" {
		return nil, fmt.Errorf("settings root cannot be empty")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve settings root: %w", err)
	}
	return &FileStore{root: abs, logger: logger}, nil
}

// Root returns the absolute root directory.
func (s *FileStore) Root() string { return s.root }

func (s *FileStore) path(key string) (string, error) {
	if err := validateKey(key); err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(key)), nil
}

func (s *FileStore) Read(ctx context.Context, key string) ([]byte, error) {
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return data, nil
}

// Write replaces the document atomically, creating parent directories as needed.
func (s *FileStore) Write(ctx context.Context, key string, data []byte) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", key, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(p), ".settings-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", key, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		return fmt.Errorf("failed to replace %s: %w", key, err)
	}
	s.logger.Debug("Settings document written", zap.String("key", key), zap.Int("bytes", len(data)))
	return nil
}

// Ping verifies the root is usable.
func (s *FileStore) Ping(ctx context.Context) error {
	info, err := os.Stat(s.root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("settings root unavailable: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("settings root %s is not a directory", s.root)
	}
	return nil
}
