package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// FileStore saves uploaded files to disk under a base directory.
type FileStore struct {
	basePath string
}

// NewFileStore creates the base directory if missing.
func NewFileStore(basePath string) (*FileStore, error) {
	if strings.TrimSpace(basePath) == "" {
		return nil, fmt.Errorf("storage base path is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &FileStore{basePath: basePath}, nil
}

// Save writes the upload under its stored name. The file must be fully
// written before the caller records the book, so the record never points
// at a missing file.
func (f *FileStore) Save(_ context.Context, storedName string, r io.Reader, _ int64, _ string) error {
	out, err := os.Create(f.path(storedName))
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	defer out.Close()
	if _, err := io.Copy(out, r); err != nil {
		return fmt.Errorf("write file: %w", err)
	}
	return nil
}

// Open returns a reader over the stored bytes.
func (f *FileStore) Open(_ context.Context, storedName string) (io.ReadCloser, error) {
	file, err := os.Open(f.path(storedName))
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	return file, nil
}

// Delete removes the stored file. A missing file is not an error.
func (f *FileStore) Delete(_ context.Context, storedName string) error {
	if err := os.Remove(f.path(storedName)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove file: %w", err)
	}
	return nil
}

func (f *FileStore) path(storedName string) string {
	return filepath.Join(f.basePath, safeFilename(storedName))
}

func safeFilename(name string) string {
	name = filepath.Base(name)
	name = strings.ReplaceAll(name, string(os.PathSeparator), "_")
	name = strings.TrimSpace(name)
	if name == "" {
		return "book"
	}
	return name
}
