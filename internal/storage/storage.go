// Package storage defines the object store the audit archiver writes to.
//
// Archives are write-mostly: one JSON-lines object per UTC day plus an
// optional detached signature. Backends are added by implementing Storage and
// registering with the factory from the backend package's init():
//
//	func init() {
//	    storage.Register("mybackend", func(cfg *config.ArchiveConfig) (storage.Storage, error) {
//	        return New(&cfg.MyBackend)
//	    })
//	}
//
// cmd/server imports each backend with a blank import to trigger init().
package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"
)

// ErrNotFound is returned by Get and Stat when no object exists at the path.
var ErrNotFound = errors.New("object not found")

// ChecksumMetadataKey is the object metadata key holding the SHA256 of the content.
const ChecksumMetadataKey = "sha256"

// Storage is an object store addressed by slash-separated paths.
type Storage interface {
	// Put stores data at path, replacing any existing object.
	Put(ctx context.Context, path string, data []byte, contentType string) (*PutResult, error)

	// Get opens the object at path. Returns ErrNotFound if it does not exist.
	Get(ctx context.Context, path string) (io.ReadCloser, error)

	// Exists reports whether an object exists at path.
	Exists(ctx context.Context, path string) (bool, error)

	// Stat returns object metadata without reading the content.
	Stat(ctx context.Context, path string) (*ObjectInfo, error)
}

// PutResult describes a stored object
type PutResult struct {
	Path     string
	Size     int64
	Checksum string
}

// ObjectInfo contains metadata about a stored object
type ObjectInfo struct {
	Path         string
	Size         int64
	Checksum     string
	LastModified time.Time
}

// Checksum returns the hex SHA256 of data.
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ChecksumReader returns the hex SHA256 of everything read from r.
func ChecksumReader(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// CleanPath normalizes an object path and rejects ones that are empty,
// absolute or escape the store root.
func CleanPath(p string) (string, error) {
	if p == "" {
		return "", fmt.Errorf("object path is required")
	}
	if strings.HasPrefix(p, "/") || strings.Contains(p, "\\") {
		return "", fmt.Errorf("invalid object path %q", p)
	}
	cleaned := path.Clean(p)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("invalid object path %q", p)
	}
	return cleaned, nil
}
