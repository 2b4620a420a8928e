package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// LocalStorage implements ObjectStorage on the local filesystem. Keys map to
// paths under root/bucket. Intended for single-node deployments and tests.
type LocalStorage struct {
	root      string
	bucket    string
	publicURL string
}

// NewLocalStorage creates a filesystem-backed storage rooted at cfg.LocalPath.
func NewLocalStorage(cfg *Config) (*LocalStorage, error) {
	if cfg.LocalPath == "" {
		return nil, fmt.Errorf("local storage requires a root path")
	}
	return &LocalStorage{
		root:      cfg.LocalPath,
		bucket:    cfg.Bucket,
		publicURL: strings.TrimSuffix(cfg.PublicURL, "/"),
	}, nil
}

func (s *LocalStorage) path(key string) string {
	return filepath.Join(s.root, s.bucket, filepath.FromSlash(key))
}

// EnsureBucket creates the bucket directory if it doesn't exist.
func (s *LocalStorage) EnsureBucket(ctx context.Context) error {
	return os.MkdirAll(filepath.Join(s.root, s.bucket), 0755)
}

// Upload writes an object to the filesystem.
func (s *LocalStorage) Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error {
	path := s.path(key)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create object directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create object file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, reader); err != nil {
		os.Remove(path)
		return fmt.Errorf("failed to write object: %w", err)
	}
	return nil
}

// Download opens an object from the filesystem.
func (s *LocalStorage) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	f, err := os.Open(s.path(key))
	if err != nil {
		return nil, fmt.Errorf("failed to open object: %w", err)
	}
	return f, nil
}

// GetURL returns the public URL for accessing an object.
func (s *LocalStorage) GetURL(key string) string {
	if s.publicURL != "" {
		return fmt.Sprintf("%s/%s", s.publicURL, key)
	}
	return fmt.Sprintf("file://%s", s.path(key))
}

// Delete removes an object from the filesystem.
func (s *LocalStorage) Delete(ctx context.Context, key string) error {
	if err := os.Remove(s.path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

// Exists checks if an object exists on the filesystem.
func (s *LocalStorage) Exists(ctx context.Context, key string) (bool, error) {
	if _, err := os.Stat(s.path(key)); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
