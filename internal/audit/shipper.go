// Package audit produces and distributes shopdesk's tamper-evident audit trail.
//
// The durable record is the audit_events table, written by the Recorder in the
// same transaction as the change it describes. After commit, the Recorder
// forwards the same events to any configured Shipper (SIEM webhook, local
// JSON-lines file, Kafka topic) on a best-effort basis: a shipping failure is
// logged and counted but never undoes or fails the committed change.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/shopdesk/shopdesk/internal/db/models"
	"github.com/shopdesk/shopdesk/internal/telemetry"
)

// Shipper forwards committed audit events to an external destination.
type Shipper interface {
	// Name identifies the shipper in logs and metrics.
	Name() string
	// Ship sends events, in order, to the destination.
	Ship(ctx context.Context, events []*models.AuditEvent) error
	// Close flushes and releases resources.
	Close() error
}

// ShipperConfig holds configuration for one audit shipper
type ShipperConfig struct {
	// Enabled determines if this shipper is active
	Enabled bool `mapstructure:"enabled"`
	// Type is the shipper type (webhook, file, kafka)
	Type string `mapstructure:"type"`

	Webhook *WebhookConfig `mapstructure:"webhook"`
	File    *FileConfig    `mapstructure:"file"`
	Kafka   *KafkaConfig   `mapstructure:"kafka"`
}

// MultiShipper ships to every configured destination concurrently.
type MultiShipper struct {
	shippers []Shipper
	mu       sync.RWMutex
}

// NewMultiShipper builds the enabled shippers from configs.
func NewMultiShipper(configs []ShipperConfig) (*MultiShipper, error) {
	ms := &MultiShipper{shippers: make([]Shipper, 0, len(configs))}

	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}

		var (
			shipper Shipper
			err     error
		)
		switch cfg.Type {
		case "webhook":
			if cfg.Webhook == nil {
				return nil, fmt.Errorf("webhook config is required for webhook shipper")
			}
			shipper, err = NewWebhookShipper(cfg.Webhook)
		case "file":
			if cfg.File == nil {
				return nil, fmt.Errorf("file config is required for file shipper")
			}
			shipper, err = NewFileShipper(cfg.File)
		case "kafka":
			if cfg.Kafka == nil {
				return nil, fmt.Errorf("kafka config is required for kafka shipper")
			}
			shipper, err = NewKafkaShipper(cfg.Kafka)
		default:
			return nil, fmt.Errorf("unknown shipper type: %s", cfg.Type)
		}
		if err != nil {
			_ = ms.Close()
			return nil, fmt.Errorf("failed to create %s shipper: %w", cfg.Type, err)
		}

		ms.shippers = append(ms.shippers, shipper)
	}

	return ms, nil
}

// Add registers an already-constructed shipper.
func (ms *MultiShipper) Add(s Shipper) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.shippers = append(ms.shippers, s)
}

// Len returns the number of active shippers.
func (ms *MultiShipper) Len() int {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return len(ms.shippers)
}

// Name implements Shipper.
func (ms *MultiShipper) Name() string { return "multi" }

// Ship sends events to all shippers in parallel. Every shipper is attempted;
// the first error is returned.
func (ms *MultiShipper) Ship(ctx context.Context, events []*models.AuditEvent) error {
	ms.mu.RLock()
	shippers := append([]Shipper(nil), ms.shippers...)
	ms.mu.RUnlock()

	if len(events) == 0 || len(shippers) == 0 {
		return nil
	}

	var g errgroup.Group
	for _, s := range shippers {
		g.Go(func() error {
			if err := s.Ship(ctx, events); err != nil {
				telemetry.AuditShipFailuresTotal.WithLabelValues(s.Name()).Inc()
				slog.Error("audit shipper failed", "shipper", s.Name(), "events", len(events), "error", err)
				return fmt.Errorf("%s: %w", s.Name(), err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Close closes all shippers
func (ms *MultiShipper) Close() error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	var lastErr error
	for _, s := range ms.shippers {
		if err := s.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}
