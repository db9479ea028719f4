// Package azure implements the Azure Blob Storage archive backend using shared key
// authentication. ServiceURL can point the client at Azurite for local testing.
package azure

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/streaming"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blockblob"

	"github.com/shopdesk/shopdesk/internal/config"
	"github.com/shopdesk/shopdesk/internal/storage"
)

func init() {
	storage.Register("azure", func(cfg *config.ArchiveConfig) (storage.Storage, error) {
		return New(&cfg.Azure)
	})
}

// AzureStorage implements storage.Storage for Azure Blob Storage
type AzureStorage struct {
	client        *azblob.Client
	containerName string
}

// New creates a new Azure Blob Storage backend
func New(cfg *config.AzureStorageConfig) (*AzureStorage, error) {
	if cfg.AccountName == "" {
		return nil, fmt.Errorf("azure storage account name is required")
	}
	if cfg.AccountKey == "" {
		return nil, fmt.Errorf("azure storage account key is required")
	}
	if cfg.ContainerName == "" {
		return nil, fmt.Errorf("azure storage container name is required")
	}

	credential, err := azblob.NewSharedKeyCredential(cfg.AccountName, cfg.AccountKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure credential: %w", err)
	}

	serviceURL := cfg.ServiceURL
	if serviceURL == "" {
		serviceURL = fmt.Sprintf("https://%s.blob.core.windows.net/", cfg.AccountName)
	}

	client, err := azblob.NewClientWithSharedKeyCredential(serviceURL, credential, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure Blob client: %w", err)
	}

	return &AzureStorage{client: client, containerName: cfg.ContainerName}, nil
}

func isNotFound(err error) bool {
	if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
		return true
	}
	var re *azcore.ResponseError
	return errors.As(err, &re) && re.StatusCode == http.StatusNotFound
}

// metadataValue looks a key up case-insensitively; the service may return
// metadata names in canonical header case.
func metadataValue(m map[string]*string, key string) string {
	for k, v := range m {
		if strings.EqualFold(k, key) && v != nil {
			return *v
		}
	}
	return ""
}

func (s *AzureStorage) blobClient(key string) *blob.Client {
	return s.client.ServiceClient().NewContainerClient(s.containerName).NewBlobClient(key)
}

// Put stores a block blob, recording its SHA256 in blob metadata
func (s *AzureStorage) Put(ctx context.Context, path string, data []byte, contentType string) (*storage.PutResult, error) {
	key, err := storage.CleanPath(path)
	if err != nil {
		return nil, err
	}

	checksum := storage.Checksum(data)
	opts := &blockblob.UploadOptions{
		Metadata: map[string]*string{storage.ChecksumMetadataKey: &checksum},
	}
	if contentType != "" {
		opts.HTTPHeaders = &blob.HTTPHeaders{BlobContentType: &contentType}
	}

	bb := s.client.ServiceClient().NewContainerClient(s.containerName).NewBlockBlobClient(key)
	if _, err := bb.Upload(ctx, streaming.NopCloser(bytes.NewReader(data)), opts); err != nil {
		return nil, fmt.Errorf("failed to upload to Azure Blob: %w", err)
	}

	return &storage.PutResult{Path: key, Size: int64(len(data)), Checksum: checksum}, nil
}

// Get retrieves a blob
func (s *AzureStorage) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	key, err := storage.CleanPath(path)
	if err != nil {
		return nil, err
	}

	resp, err := s.blobClient(key).DownloadStream(ctx, nil)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, key)
		}
		return nil, fmt.Errorf("failed to download from Azure Blob: %w", err)
	}
	return resp.Body, nil
}

// Exists checks if a blob exists at the specified path
func (s *AzureStorage) Exists(ctx context.Context, path string) (bool, error) {
	key, err := storage.CleanPath(path)
	if err != nil {
		return false, err
	}

	if _, err := s.blobClient(key).GetProperties(ctx, nil); err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check blob existence: %w", err)
	}
	return true, nil
}

// Stat returns blob metadata. Blobs without a stored checksum are
// downloaded to compute one.
func (s *AzureStorage) Stat(ctx context.Context, path string) (*storage.ObjectInfo, error) {
	key, err := storage.CleanPath(path)
	if err != nil {
		return nil, err
	}

	props, err := s.blobClient(key).GetProperties(ctx, nil)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, key)
		}
		return nil, fmt.Errorf("failed to get blob properties: %w", err)
	}

	checksum := metadataValue(props.Metadata, storage.ChecksumMetadataKey)
	if checksum == "" {
		body, err := s.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		defer body.Close()
		if checksum, err = storage.ChecksumReader(body); err != nil {
			return nil, fmt.Errorf("failed to compute checksum: %w", err)
		}
	}

	info := &storage.ObjectInfo{Path: key, Checksum: checksum}
	if props.ContentLength != nil {
		info.Size = *props.ContentLength
	}
	if props.LastModified != nil {
		info.LastModified = *props.LastModified
	}
	return info, nil
}
