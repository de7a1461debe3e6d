package document

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Storage defines the interface for uploaded file storage
type Storage interface {
	// Save writes a file and returns the source URI that refers to it
	Save(name string, data []byte) (string, error)

	// Get reads the file behind a source URI
	Get(sourceURI string) ([]byte, error)

	// Delete removes the file behind a source URI
	Delete(sourceURI string) error
}

// LocalStorage implements Storage on the local filesystem
type LocalStorage struct {
	basePath string
}

// NewLocalStorage creates a new LocalStorage rooted at basePath
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}

	return &LocalStorage{
		basePath: basePath,
	}, nil
}

// path keeps source URIs inside the storage root
func (l *LocalStorage) path(sourceURI string) string {
	return filepath.Join(l.basePath, filepath.Base(sourceURI))
}

// Save writes a file to local storage
func (l *LocalStorage) Save(name string, data []byte) (string, error) {
	sourceURI := filepath.Base(name)
	if err := os.WriteFile(l.path(sourceURI), data, 0644); err != nil {
		return "", fmt.Errorf("writing file: %w", err)
	}
	return sourceURI, nil
}

// Get reads a file from local storage
func (l *LocalStorage) Get(sourceURI string) ([]byte, error) {
	data, err := os.ReadFile(l.path(sourceURI))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("reading file %s: %w", sourceURI, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return data, nil
}

// Delete removes a file from local storage
func (l *LocalStorage) Delete(sourceURI string) error {
	if err := os.Remove(l.path(sourceURI)); err != nil {
		return fmt.Errorf("deleting file: %w", err)
	}
	return nil
}
