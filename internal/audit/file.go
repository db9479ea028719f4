package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/shopdesk/shopdesk/internal/db/models"
)

// FileConfig holds file shipper configuration
type FileConfig struct {
	// Path is the JSON-lines output file
	Path string `mapstructure:"path"`
	// MaxSizeMB triggers rotation once the file exceeds it (0 disables)
	MaxSizeMB int `mapstructure:"max_size_mb"`
	// MaxBackups is the number of rotated files to keep
	MaxBackups int `mapstructure:"max_backups"`
}

// FileShipper appends audit events to a local JSON-lines file
type FileShipper struct {
	cfg  FileConfig
	file *os.File
	mu   sync.Mutex
}

// NewFileShipper opens (or creates) the output file.
func NewFileShipper(cfg *FileConfig) (*FileShipper, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("file path is required")
	}
	file, err := openAppend(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit file: %w", err)
	}
	return &FileShipper{cfg: *cfg, file: file}, nil
}

func openAppend(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
}

// Name implements Shipper.
func (fs *FileShipper) Name() string { return "file" }

// Ship writes one line per event.
func (fs *FileShipper) Ship(_ context.Context, events []*models.AuditEvent) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.cfg.MaxSizeMB > 0 {
		if info, err := fs.file.Stat(); err == nil && info.Size() > int64(fs.cfg.MaxSizeMB)*1024*1024 {
			if err := fs.rotate(); err != nil {
				slog.Error("failed to rotate audit file", "path", fs.cfg.Path, "error", err)
			}
		}
	}

	for _, e := range events {
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("failed to marshal audit event: %w", err)
		}
		if _, err := fs.file.Write(append(data, '\n')); err != nil {
			return fmt.Errorf("failed to write audit event: %w", err)
		}
	}
	return nil
}

// rotate shifts path.N to path.N+1, moves the live file to path.1, drops
// anything past MaxBackups and reopens path.
func (fs *FileShipper) rotate() error {
	if err := fs.file.Close(); err != nil {
		return err
	}

	for i := fs.cfg.MaxBackups - 1; i >= 1; i-- {
		_ = os.Rename(fmt.Sprintf("%s.%d", fs.cfg.Path, i), fmt.Sprintf("%s.%d", fs.cfg.Path, i+1))
	}
	_ = os.Rename(fs.cfg.Path, fs.cfg.Path+".1")
	if fs.cfg.MaxBackups > 0 {
		_ = os.Remove(fmt.Sprintf("%s.%d", fs.cfg.Path, fs.cfg.MaxBackups+1))
	}

	file, err := openAppend(fs.cfg.Path)
	if err != nil {
		return err
	}
	fs.file = file
	return nil
}

// Close closes the file
func (fs *FileShipper) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.file.Close()
}
