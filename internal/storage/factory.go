// factory.go maps archive backend names (local, s3, gcs, azure) to constructor functions.
package storage

import (
	"fmt"
	"sort"
	"sync"

	"github.com/shopdesk/shopdesk/internal/config"
)

// FactoryFunc builds a backend from the archive configuration
type FactoryFunc func(*config.ArchiveConfig) (Storage, error)

var (
	factoriesMu sync.RWMutex
	factories   = make(map[string]FactoryFunc)
)

// Register registers a storage backend factory
func Register(name string, factory FactoryFunc) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[name] = factory
}

// Backends returns the registered backend names, sorted.
func Backends() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewStorage creates the archive backend named by cfg.Backend
func NewStorage(cfg *config.ArchiveConfig) (Storage, error) {
	factoriesMu.RLock()
	factory, ok := factories[cfg.Backend]
	factoriesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported archive backend: %q (registered: %v)", cfg.Backend, Backends())
	}

	return factory(cfg)
}
