package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/shopdesk/shopdesk/internal/db/models"
	"github.com/shopdesk/shopdesk/internal/safego"
)

// Appender persists one audit event using q. Implemented by
// repositories.AuditRepository.
type Appender interface {
	Append(ctx context.Context, q sqlx.ExtContext, e *models.AuditEvent) error
}

// Recorder stamps, digests and persists audit events, and forwards them to
// external shippers once the surrounding transaction has committed.
type Recorder struct {
	store       Appender
	digester    *Digester
	shipper     Shipper
	shipTimeout time.Duration
	now         func() time.Time
}

// NewRecorder creates a Recorder. shipper may be nil.
func NewRecorder(store Appender, digester *Digester, shipper Shipper) *Recorder {
	return &Recorder{
		store:       store,
		digester:    digester,
		shipper:     shipper,
		shipTimeout: 15 * time.Second,
		now:         time.Now,
	}
}

// Record completes e (id, timestamp, request details, digest) and appends it using q. The
// error must fail the caller: a change without its audit row is no change.
func (r *Recorder) Record(ctx context.Context, q sqlx.ExtContext, e *models.AuditEvent) error {
	if !e.EventType.IsValid() {
		return fmt.Errorf("unknown audit event type %q", e.EventType)
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.OccurredAt.IsZero() {
		// Postgres keeps microseconds; truncate so the digest survives a round trip.
		e.OccurredAt = r.now().UTC().Truncate(time.Microsecond)
	}
	if m, ok := RequestMetaFromContext(ctx); ok && e.SourceIP == "" && e.RequestID == "" {
		m.Apply(e)
	}

	digest, err := r.digester.Sum(e)
	if err != nil {
		return err
	}
	e.Digest = digest

	return r.store.Append(ctx, q, e)
}

// Publish ships committed events in the background. It never blocks the
// request and never reports failure to the caller.
func (r *Recorder) Publish(events ...*models.AuditEvent) {
	if r.shipper == nil || len(events) == 0 {
		return
	}
	batch := append([]*models.AuditEvent(nil), events...)
	safego.Go("audit-publish", func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.shipTimeout)
		defer cancel()
		if err := r.shipper.Ship(ctx, batch); err != nil {
			slog.Warn("audit events committed but not shipped", "events", len(batch), "error", err)
		}
	})
}

// Digester returns the digester used for new events.
func (r *Recorder) Digester() *Digester {
	return r.digester
}
