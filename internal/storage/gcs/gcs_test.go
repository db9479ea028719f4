package gcs

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"cloud.google.com/go/storage"

	appconfig "github.com/shopdesk/shopdesk/internal/config"
	appstorage "github.com/shopdesk/shopdesk/internal/storage"
)

// ---------------------------------------------------------------------------
// New(): constructor validation (no GCS connection required)
// ---------------------------------------------------------------------------

func TestNew_MissingBucket(t *testing.T) {
	if _, err := New(&appconfig.GCSStorageConfig{}); err == nil {
		t.Error("New() = nil error, want error for missing bucket")
	}
}

func TestNew_ServiceAccountNoCredentials(t *testing.T) {
	_, err := New(&appconfig.GCSStorageConfig{Bucket: "audit", AuthMethod: "service_account"})
	if err == nil {
		t.Error("New() = nil error, want error for service_account without credentials")
	}
}

func TestNew_UnsupportedAuthMethod(t *testing.T) {
	_, err := New(&appconfig.GCSStorageConfig{Bucket: "audit", AuthMethod: "not-a-valid-method"})
	if err == nil {
		t.Error("New() = nil error, want error for unsupported auth_method")
	}
}

func TestClientOptions(t *testing.T) {
	tests := []struct {
		name     string
		cfg      appconfig.GCSStorageConfig
		wantOpts int
	}{
		{"default", appconfig.GCSStorageConfig{}, 0},
		{"endpoint only", appconfig.GCSStorageConfig{Endpoint: "http://localhost:4443"}, 1},
		{"inferred service account", appconfig.GCSStorageConfig{CredentialsFile: "/etc/sa.json"}, 1},
		{"emulator", appconfig.GCSStorageConfig{Endpoint: "http://localhost:4443", AuthMethod: "none"}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts, err := clientOptions(&tt.cfg)
			if err != nil {
				t.Fatalf("clientOptions() error: %v", err)
			}
			if len(opts) != tt.wantOpts {
				t.Errorf("len(opts) = %d, want %d", len(opts), tt.wantOpts)
			}
		})
	}
}

func TestNew_Emulator(t *testing.T) {
	s, err := New(&appconfig.GCSStorageConfig{
		Bucket:     "audit",
		AuthMethod: "none",
		Endpoint:   "http://127.0.0.1:1/storage/v1/",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	defer s.Close()

	// Path validation happens before any request
	if _, err := s.Put(context.Background(), "../escape", []byte("x"), ""); err == nil {
		t.Error("Put() expected error for traversal path")
	}
	if _, err := s.Get(context.Background(), "/abs"); err == nil {
		t.Error("Get() expected error for absolute path")
	}
}

func TestNotFound(t *testing.T) {
	if err := notFound(fmt.Errorf("wrapped: %w", storage.ErrObjectNotExist), "k"); err == nil {
		t.Error("notFound() = nil for ErrObjectNotExist")
	} else if !errors.Is(err, appstorage.ErrNotFound) {
		t.Errorf("notFound() = %v, want ErrNotFound", err)
	}
	if err := notFound(fmt.Errorf("boom"), "k"); err != nil {
		t.Errorf("notFound() = %v for unrelated error", err)
	}
}
