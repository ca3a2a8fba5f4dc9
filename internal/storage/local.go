package storage

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"
)

type LocalStorage struct {
	fs       afero.Fs
	rootPath string
}

// NewLocalStorage creates rootPath (and parents) if needed. Existing directories are fine.
func NewLocalStorage(fs afero.Fs, rootPath string) (*LocalStorage, error) {
	if rootPath == "" {
		return nil, fmt.Errorf("save directory required for local storage")
	}
	if err := fs.MkdirAll(rootPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create save directory: %w", err)
	}
	return &LocalStorage{fs: fs, rootPath: rootPath}, nil
}

// WriteFile creates or truncates the named file under the root.
func (l *LocalStorage) WriteFile(ctx context.Context, name string, data []byte) error {
	fullPath := l.Location(name)
	if err := l.fs.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if err := afero.WriteFile(l.fs, fullPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}

func (l *LocalStorage) Location(name string) string {
	return filepath.Join(l.rootPath, name)
}
