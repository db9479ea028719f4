package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/shopdesk/shopdesk/internal/db/models"
)

// KafkaConfig holds kafka shipper configuration
type KafkaConfig struct {
	Brokers  []string      `mapstructure:"brokers"`
	Topic    string        `mapstructure:"topic"`
	ClientID string        `mapstructure:"client_id"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// KafkaShipper produces each audit event as one record keyed by subject
// tenant, so a tenant's events stay ordered within a partition.
type KafkaShipper struct {
	client  *kgo.Client
	topic   string
	timeout time.Duration
}

// NewKafkaShipper creates a producer for cfg.Topic. The client connects lazily.
func NewKafkaShipper(cfg *KafkaConfig) (*KafkaShipper, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka topic is required")
	}

	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.DefaultProduceTopic(cfg.Topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	}
	if cfg.ClientID != "" {
		opts = append(opts, kgo.ClientID(cfg.ClientID))
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &KafkaShipper{client: client, topic: cfg.Topic, timeout: timeout}, nil
}

// Name implements Shipper.
func (ks *KafkaShipper) Name() string { return "kafka" }

// Ship produces events synchronously and returns the first failure.
func (ks *KafkaShipper) Ship(ctx context.Context, events []*models.AuditEvent) error {
	records, err := eventRecords(events)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, ks.timeout)
	defer cancel()
	if err := ks.client.ProduceSync(ctx, records...).FirstErr(); err != nil {
		return fmt.Errorf("failed to produce audit events: %w", err)
	}
	return nil
}

func eventRecords(events []*models.AuditEvent) ([]*kgo.Record, error) {
	records := make([]*kgo.Record, 0, len(events))
	for _, e := range events {
		value, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal audit event: %w", err)
		}
		records = append(records, &kgo.Record{
			Key:   []byte(e.SubjectTenantID),
			Value: value,
			Headers: []kgo.RecordHeader{
				{Key: "event_type", Value: []byte(e.EventType)},
			},
		})
	}
	return records, nil
}

// Close flushes buffered records and closes the client.
func (ks *KafkaShipper) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), ks.timeout)
	defer cancel()
	err := ks.client.Flush(ctx)
	ks.client.Close()
	return err
}
