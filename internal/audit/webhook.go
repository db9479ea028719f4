package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/shopdesk/shopdesk/internal/db/models"
	"github.com/shopdesk/shopdesk/internal/safego"
)

// WebhookConfig holds webhook shipper configuration
type WebhookConfig struct {
	// URL receives a POST with a JSON array of events
	URL string `mapstructure:"url"`
	// Headers are added to every request (e.g. an authorization token for the SIEM)
	Headers map[string]string `mapstructure:"headers"`
	// Timeout is the HTTP request timeout (default 10s)
	Timeout time.Duration `mapstructure:"timeout"`
	// BatchSize > 0 queues events and posts them in batches of this size
	BatchSize int `mapstructure:"batch_size"`
	// FlushInterval bounds how long a partial batch waits (default 5s)
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

// WebhookShipper posts audit events to an HTTP endpoint
type WebhookShipper struct {
	cfg     WebhookConfig
	client  *http.Client
	queue   chan *models.AuditEvent
	closeCh chan struct{}
	done    chan struct{}
	once    sync.Once
}

// NewWebhookShipper creates a webhook shipper and, when batching is enabled,
// starts its flush loop.
func NewWebhookShipper(cfg *WebhookConfig) (*WebhookShipper, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("webhook url is required")
	}
	c := *cfg
	if c.Timeout == 0 {
		c.Timeout = 10 * time.Second
	}
	if c.FlushInterval == 0 {
		c.FlushInterval = 5 * time.Second
	}

	ws := &WebhookShipper{
		cfg:     c,
		client:  &http.Client{Timeout: c.Timeout},
		queue:   make(chan *models.AuditEvent, 1000),
		closeCh: make(chan struct{}),
		done:    make(chan struct{}),
	}

	if c.BatchSize > 0 {
		safego.Go("audit-webhook-batcher", ws.processBatches)
	} else {
		close(ws.done)
	}
	return ws, nil
}

// Name implements Shipper.
func (ws *WebhookShipper) Name() string { return "webhook" }

// Ship posts events immediately, or queues them when batching. If the queue
// is full the remaining events are posted directly.
func (ws *WebhookShipper) Ship(ctx context.Context, events []*models.AuditEvent) error {
	if ws.cfg.BatchSize > 0 {
		for i, e := range events {
			select {
			case ws.queue <- e:
			default:
				return ws.post(ctx, events[i:])
			}
		}
		return nil
	}
	return ws.post(ctx, events)
}

func (ws *WebhookShipper) processBatches() {
	defer close(ws.done)

	ticker := time.NewTicker(ws.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]*models.AuditEvent, 0, ws.cfg.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), ws.cfg.Timeout)
		defer cancel()
		if err := ws.post(ctx, batch); err != nil {
			slog.Error("failed to send audit batch", "shipper", ws.Name(), "events", len(batch), "error", err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case e := <-ws.queue:
			batch = append(batch, e)
			if len(batch) >= ws.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-ws.closeCh:
			for {
				select {
				case e := <-ws.queue:
					batch = append(batch, e)
				default:
					flush()
					return
				}
			}
		}
	}
}

func (ws *WebhookShipper) post(ctx context.Context, events []*models.AuditEvent) error {
	data, err := json.Marshal(events)
	if err != nil {
		return fmt.Errorf("failed to marshal audit events: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ws.cfg.URL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range ws.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := ws.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// Close flushes any queued events and stops the batcher.
func (ws *WebhookShipper) Close() error {
	ws.once.Do(func() { close(ws.closeCh) })
	<-ws.done
	return nil
}
