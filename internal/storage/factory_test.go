package storage_test

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/shopdesk/shopdesk/internal/config"
	"github.com/shopdesk/shopdesk/internal/storage"
)

type mockStorage struct{}

func (m *mockStorage) Put(_ context.Context, p string, data []byte, _ string) (*storage.PutResult, error) {
	return &storage.PutResult{Path: p, Size: int64(len(data))}, nil
}
func (m *mockStorage) Get(_ context.Context, _ string) (io.ReadCloser, error) {
	return nil, storage.ErrNotFound
}
func (m *mockStorage) Exists(_ context.Context, _ string) (bool, error) { return false, nil }
func (m *mockStorage) Stat(_ context.Context, _ string) (*storage.ObjectInfo, error) {
	return nil, storage.ErrNotFound
}

func TestRegister_AddsFactory(t *testing.T) {
	storage.Register("test-backend", func(_ *config.ArchiveConfig) (storage.Storage, error) {
		return &mockStorage{}, nil
	})

	s, err := storage.NewStorage(&config.ArchiveConfig{Backend: "test-backend"})
	if err != nil {
		t.Fatalf("NewStorage() error: %v", err)
	}
	if s == nil {
		t.Fatal("NewStorage() returned nil")
	}

	found := false
	for _, name := range storage.Backends() {
		if name == "test-backend" {
			found = true
		}
	}
	if !found {
		t.Errorf("Backends() = %v, missing test-backend", storage.Backends())
	}
}

func TestNewStorage_UnknownBackend(t *testing.T) {
	for _, backend := range []string{"completely-unknown-backend", ""} {
		if _, err := storage.NewStorage(&config.ArchiveConfig{Backend: backend}); err == nil {
			t.Errorf("NewStorage(%q) = nil error, want error", backend)
		}
	}
}

func TestCleanPath(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"audit/2026/10/17.jsonl", "audit/2026/10/17.jsonl", false},
		{"audit//2026/./10/17.jsonl", "audit/2026/10/17.jsonl", false},
		{"audit/../audit/x.jsonl", "audit/x.jsonl", false},
		{"", "", true},
		{"/etc/passwd", "", true},
		{"../outside", "", true},
		{"audit/../../outside", "", true},
		{".", "", true},
		{`audit\2026`, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := storage.CleanPath(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Errorf("CleanPath(%q) = %q, want error", tt.in, got)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Errorf("CleanPath(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
			}
		})
	}
}

func TestChecksum(t *testing.T) {
	const emptySHA = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	if got := storage.Checksum(nil); got != emptySHA {
		t.Errorf("Checksum(nil) = %s", got)
	}
	got, err := storage.ChecksumReader(strings.NewReader(""))
	if err != nil || got != emptySHA {
		t.Errorf("ChecksumReader(empty) = %s, %v", got, err)
	}
	if storage.Checksum([]byte("a")) == storage.Checksum([]byte("b")) {
		t.Error("distinct inputs produced the same checksum")
	}
}
