package azure

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"

	"github.com/shopdesk/shopdesk/internal/config"
	"github.com/shopdesk/shopdesk/internal/storage"
)

type storedBlob struct {
	content      []byte
	metadata     map[string]string
	contentType  string
	lastModified time.Time
}

// newTestStorage points a storage at an httptest server imitating enough of
// the Blob REST API for Put/Get/Exists/Stat.
func newTestStorage(t *testing.T) (*AzureStorage, map[string]*storedBlob, *sync.Mutex) {
	t.Helper()

	var mu sync.Mutex
	store := map[string]*storedBlob{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimPrefix(r.URL.Path, "/")

		mu.Lock()
		defer mu.Unlock()

		switch r.Method {
		case http.MethodPut:
			data, _ := io.ReadAll(r.Body)
			meta := map[string]string{}
			for k, v := range r.Header {
				lk := strings.ToLower(k)
				if strings.HasPrefix(lk, "x-ms-meta-") && len(v) > 0 {
					meta[strings.TrimPrefix(lk, "x-ms-meta-")] = v[0]
				}
			}
			store[key] = &storedBlob{
				content:      data,
				metadata:     meta,
				contentType:  r.Header.Get("x-ms-blob-content-type"),
				lastModified: time.Now().UTC(),
			}
			w.WriteHeader(http.StatusCreated)

		case http.MethodGet:
			b, ok := store[key]
			if !ok {
				w.Header().Set("x-ms-error-code", "BlobNotFound")
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.Header().Set("Content-Length", fmt.Sprintf("%d", len(b.content)))
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(b.content)

		case http.MethodHead:
			b, ok := store[key]
			if !ok {
				w.Header().Set("x-ms-error-code", "BlobNotFound")
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.Header().Set("Content-Length", fmt.Sprintf("%d", len(b.content)))
			w.Header().Set("Last-Modified", b.lastModified.Format(http.TimeFormat))
			for k, v := range b.metadata {
				w.Header().Set("x-ms-meta-"+k, v)
			}
			w.WriteHeader(http.StatusOK)

		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
	t.Cleanup(srv.Close)

	client, err := azblob.NewClientWithNoCredential(srv.URL, nil)
	if err != nil {
		t.Fatalf("failed to create azblob client: %v", err)
	}

	return &AzureStorage{client: client, containerName: "audit"}, store, &mu
}

func TestPutGetExistsStat(t *testing.T) {
	s, store, mu := newTestStorage(t)
	ctx := context.Background()
	data := []byte("{\"sequence\":7}\n")

	ok, err := s.Exists(ctx, "2026/10/17.jsonl")
	if err != nil || ok {
		t.Fatalf("Exists() before put = %v, %v", ok, err)
	}

	res, err := s.Put(ctx, "2026/10/17.jsonl", data, "application/x-ndjson")
	if err != nil {
		t.Fatalf("Put() error: %v", err)
	}
	if res.Checksum != storage.Checksum(data) || res.Size != int64(len(data)) {
		t.Errorf("Put() = %+v", res)
	}

	mu.Lock()
	b := store["audit/2026/10/17.jsonl"]
	mu.Unlock()
	if b == nil {
		t.Fatalf("blob not stored; keys = %v", keys(store))
	}
	if b.metadata[storage.ChecksumMetadataKey] != res.Checksum {
		t.Errorf("metadata = %v", b.metadata)
	}
	if b.contentType != "application/x-ndjson" {
		t.Errorf("content type = %q", b.contentType)
	}

	ok, err = s.Exists(ctx, "2026/10/17.jsonl")
	if err != nil || !ok {
		t.Errorf("Exists() after put = %v, %v", ok, err)
	}

	rc, err := s.Get(ctx, "2026/10/17.jsonl")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	got, _ := io.ReadAll(rc)
	rc.Close()
	if string(got) != string(data) {
		t.Errorf("Get() = %q", got)
	}

	info, err := s.Stat(ctx, "2026/10/17.jsonl")
	if err != nil {
		t.Fatalf("Stat() error: %v", err)
	}
	if info.Checksum != res.Checksum || info.Size != int64(len(data)) {
		t.Errorf("Stat() = %+v", info)
	}
}

func TestStat_ComputesWhenMissing(t *testing.T) {
	s, store, mu := newTestStorage(t)
	mu.Lock()
	store["audit/foreign.jsonl"] = &storedBlob{content: []byte("foreign"), metadata: map[string]string{}, lastModified: time.Now()}
	mu.Unlock()

	info, err := s.Stat(context.Background(), "foreign.jsonl")
	if err != nil {
		t.Fatalf("Stat() error: %v", err)
	}
	if info.Checksum != storage.Checksum([]byte("foreign")) {
		t.Errorf("computed checksum = %s", info.Checksum)
	}
}

func TestNotFound(t *testing.T) {
	s, _, _ := newTestStorage(t)
	ctx := context.Background()
	if _, err := s.Get(ctx, "missing.jsonl"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
	if _, err := s.Stat(ctx, "missing.jsonl"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Stat() error = %v, want ErrNotFound", err)
	}
}

func TestInvalidPath(t *testing.T) {
	s, _, _ := newTestStorage(t)
	if _, err := s.Put(context.Background(), "../x", []byte("x"), ""); err == nil {
		t.Error("Put() expected error for traversal path")
	}
}

func TestMetadataValue(t *testing.T) {
	v := "abc"
	if got := metadataValue(map[string]*string{"Sha256": &v}, "sha256"); got != "abc" {
		t.Errorf("metadataValue() = %q, want abc", got)
	}
	if got := metadataValue(map[string]*string{"other": &v}, "sha256"); got != "" {
		t.Errorf("metadataValue() = %q, want empty", got)
	}
}

func TestNew_Validation(t *testing.T) {
	tests := map[string]config.AzureStorageConfig{
		"missing account name": {AccountKey: "a2V5", ContainerName: "audit"},
		"missing account key":  {AccountName: "acct", ContainerName: "audit"},
		"missing container":    {AccountName: "acct", AccountKey: "a2V5"},
	}
	for name, cfg := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := New(&cfg); err == nil {
				t.Error("New() = nil error, want error")
			}
		})
	}
}

func TestNew_ServiceURLOverride(t *testing.T) {
	s, err := New(&config.AzureStorageConfig{
		AccountName:   "devstoreaccount1",
		AccountKey:    "Eby8vdM02xNOcqFlqUwJPLlmEtlCDXJ1OUzFT50uSRZ6IFsuFq2UVErCz4I6tq/K1SZFPTOtr/KBHBeksoGMGw==",
		ContainerName: "audit",
		ServiceURL:    "http://127.0.0.1:10000/devstoreaccount1",
	})
	if err != nil || s == nil {
		t.Fatalf("New() = %v, %v", s, err)
	}
	if !strings.HasPrefix(s.client.URL(), "http://127.0.0.1:10000/devstoreaccount1") {
		t.Errorf("client URL = %q", s.client.URL())
	}
}

func keys(m map[string]*storedBlob) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
