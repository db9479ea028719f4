// Package local implements the filesystem archive backend. It suits development and
// single-node deployments; multiple shopdesk instances would need a shared
// filesystem. Production deployments should archive to a cloud backend.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/shopdesk/shopdesk/internal/config"
	"github.com/shopdesk/shopdesk/internal/storage"
)

func init() {
	storage.Register("local", func(cfg *config.ArchiveConfig) (storage.Storage, error) {
		return New(&cfg.Local)
	})
}

// LocalStorage implements storage.Storage on the local filesystem
type LocalStorage struct {
	basePath string
}

// New creates a new local filesystem storage backend
func New(cfg *config.LocalStorageConfig) (*LocalStorage, error) {
	if cfg.BasePath == "" {
		return nil, fmt.Errorf("local archive base path is required")
	}
	if err := os.MkdirAll(cfg.BasePath, 0750); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	return &LocalStorage{basePath: cfg.BasePath}, nil
}

func (s *LocalStorage) fullPath(p string) (string, string, error) {
	cleaned, err := storage.CleanPath(p)
	if err != nil {
		return "", "", err
	}
	return cleaned, filepath.Join(s.basePath, filepath.FromSlash(cleaned)), nil
}

// Put writes data to a temp file in the target directory and renames it into
// place, so a reader never observes a partial archive.
func (s *LocalStorage) Put(ctx context.Context, path string, data []byte, contentType string) (*storage.PutResult, error) {
	cleaned, fullPath, err := s.fullPath(path)
	if err != nil {
		return nil, err
	}

	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}
	defer os.Remove(tmp.Name()) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("failed to write file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("failed to sync file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("failed to close file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0640); err != nil {
		return nil, fmt.Errorf("failed to set file mode: %w", err)
	}
	if err := os.Rename(tmp.Name(), fullPath); err != nil {
		return nil, fmt.Errorf("failed to move file into place: %w", err)
	}

	return &storage.PutResult{
		Path:     cleaned,
		Size:     int64(len(data)),
		Checksum: storage.Checksum(data),
	}, nil
}

// Get opens a file from the local filesystem
func (s *LocalStorage) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	_, fullPath, err := s.fullPath(path)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(fullPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, path)
		}
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	return file, nil
}

// Exists checks if a file exists at the specified path
func (s *LocalStorage) Exists(ctx context.Context, path string) (bool, error) {
	_, fullPath, err := s.fullPath(path)
	if err != nil {
		return false, err
	}

	if _, err := os.Stat(fullPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check file existence: %w", err)
	}
	return true, nil
}

// Stat returns file metadata. The checksum is computed by reading the file.
func (s *LocalStorage) Stat(ctx context.Context, path string) (*storage.ObjectInfo, error) {
	cleaned, fullPath, err := s.fullPath(path)
	if err != nil {
		return nil, err
	}

	stat, err := os.Stat(fullPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, path)
		}
		return nil, fmt.Errorf("failed to get file metadata: %w", err)
	}

	file, err := os.Open(fullPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file for checksum: %w", err)
	}
	defer file.Close()

	checksum, err := storage.ChecksumReader(file)
	if err != nil {
		return nil, fmt.Errorf("failed to calculate checksum: %w", err)
	}

	return &storage.ObjectInfo{
		Path:         cleaned,
		Size:         stat.Size(),
		Checksum:     checksum,
		LastModified: stat.ModTime(),
	}, nil
}
