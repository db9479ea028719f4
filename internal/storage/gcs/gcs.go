// Package gcs implements the Google Cloud Storage archive backend. Supports Application
// Default Credentials, service account JSON keys, and Workload Identity Federation for
// keyless authentication in GKE.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	appconfig "github.com/shopdesk/shopdesk/internal/config"
	appstorage "github.com/shopdesk/shopdesk/internal/storage"
)

func init() {
	appstorage.Register("gcs", func(cfg *appconfig.ArchiveConfig) (appstorage.Storage, error) {
		return New(&cfg.GCS)
	})
}

// GCSStorage implements storage.Storage for Google Cloud Storage
type GCSStorage struct {
	client *storage.Client
	bucket string
}

// clientOptions translates the configured auth method into client options.
//
// Authentication methods:
//   - "default" or empty: Application Default Credentials (GOOGLE_APPLICATION_CREDENTIALS,
//     GCE/GKE metadata service, gcloud application-default login)
//   - "service_account": a service account key file or inline JSON
//   - "workload_identity": ADC backed by Workload Identity Federation
//   - "none": unauthenticated, for emulators
func clientOptions(cfg *appconfig.GCSStorageConfig) ([]option.ClientOption, error) {
	var opts []option.ClientOption
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}

	authMethod := cfg.AuthMethod
	if authMethod == "" {
		if cfg.CredentialsFile != "" || cfg.CredentialsJSON != "" {
			authMethod = "service_account"
		} else {
			authMethod = "default"
		}
	}

	switch authMethod {
	case "service_account":
		switch {
		case cfg.CredentialsJSON != "":
			opts = append(opts, option.WithCredentialsJSON([]byte(cfg.CredentialsJSON)))
		case cfg.CredentialsFile != "":
			opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
		default:
			return nil, fmt.Errorf("credentials_file or credentials_json is required for service_account auth")
		}
	case "workload_identity", "default":
	case "none":
		opts = append(opts, option.WithoutAuthentication())
	default:
		return nil, fmt.Errorf("unsupported auth_method: %s (must be 'default', 'service_account', 'workload_identity', or 'none')", authMethod)
	}
	return opts, nil
}

// New creates a new Google Cloud Storage backend
func New(cfg *appconfig.GCSStorageConfig) (*GCSStorage, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("gcs bucket name is required")
	}

	opts, err := clientOptions(cfg)
	if err != nil {
		return nil, err
	}

	client, err := storage.NewClient(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}

	return &GCSStorage{client: client, bucket: cfg.Bucket}, nil
}

// Close closes the GCS client
func (s *GCSStorage) Close() error {
	return s.client.Close()
}

func notFound(err error, key string) error {
	if errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("%w: %s", appstorage.ErrNotFound, key)
	}
	return nil
}

// Put stores an object, recording its SHA256 in object metadata
func (s *GCSStorage) Put(ctx context.Context, path string, data []byte, contentType string) (*appstorage.PutResult, error) {
	key, err := appstorage.CleanPath(path)
	if err != nil {
		return nil, err
	}

	checksum := appstorage.Checksum(data)
	writer := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	writer.ContentType = contentType
	writer.Metadata = map[string]string{appstorage.ChecksumMetadataKey: checksum}

	if _, err := writer.Write(data); err != nil {
		_ = writer.Close()
		return nil, fmt.Errorf("failed to write to GCS: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close GCS writer: %w", err)
	}

	return &appstorage.PutResult{Path: key, Size: int64(len(data)), Checksum: checksum}, nil
}

// Get retrieves an object from GCS
func (s *GCSStorage) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	key, err := appstorage.CleanPath(path)
	if err != nil {
		return nil, err
	}

	reader, err := s.client.Bucket(s.bucket).Object(key).NewReader(ctx)
	if err != nil {
		if nf := notFound(err, key); nf != nil {
			return nil, nf
		}
		return nil, fmt.Errorf("failed to read from GCS: %w", err)
	}
	return reader, nil
}

// Exists checks if an object exists at the specified path
func (s *GCSStorage) Exists(ctx context.Context, path string) (bool, error) {
	key, err := appstorage.CleanPath(path)
	if err != nil {
		return false, err
	}

	if _, err := s.client.Bucket(s.bucket).Object(key).Attrs(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check object existence: %w", err)
	}
	return true, nil
}

// Stat returns object metadata without downloading the object
func (s *GCSStorage) Stat(ctx context.Context, path string) (*appstorage.ObjectInfo, error) {
	key, err := appstorage.CleanPath(path)
	if err != nil {
		return nil, err
	}

	attrs, err := s.client.Bucket(s.bucket).Object(key).Attrs(ctx)
	if err != nil {
		if nf := notFound(err, key); nf != nil {
			return nil, nf
		}
		return nil, fmt.Errorf("failed to get object metadata: %w", err)
	}

	checksum := attrs.Metadata[appstorage.ChecksumMetadataKey]
	if checksum == "" {
		body, err := s.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		defer body.Close()
		if checksum, err = appstorage.ChecksumReader(body); err != nil {
			return nil, fmt.Errorf("failed to compute checksum: %w", err)
		}
	}

	return &appstorage.ObjectInfo{
		Path:         key,
		Size:         attrs.Size,
		Checksum:     checksum,
		LastModified: attrs.Updated,
	}, nil
}
