package backupstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
)

// FileBackend stores backups as files in a local directory
type FileBackend struct {
	baseDir string
	log     *slog.Logger
}

// NewFileBackend creates the directory if needed
func NewFileBackend(baseDir string, log *slog.Logger) (*FileBackend, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("backup directory is required")
	}
	if err := os.MkdirAll(baseDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &FileBackend{baseDir: baseDir, log: log}, nil
}

// Store writes data to name atomically
func (b *FileBackend) Store(_ context.Context, name string, data []byte) error {
	if err := validName(name); err != nil {
		return err
	}
	path := filepath.Join(b.baseDir, name)

	tmp, err := os.CreateTemp(b.baseDir, name+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write backup: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write backup: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to write backup: %w", err)
	}

	b.log.Debug("backup stored in file", "path", path, "size", len(data))
	return nil
}

// Fetch reads the backup stored under name
func (b *FileBackend) Fetch(_ context.Context, name string) ([]byte, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(b.baseDir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read backup: %w", err)
	}
	return data, nil
}

func (b *FileBackend) Name() string {
	return "file-" + filepath.Base(b.baseDir)
}

func (b *FileBackend) LocationURI() string {
	return "file://" + b.baseDir
}
