package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopdesk/shopdesk/internal/db/models"
)

type memAppender struct {
	mu     sync.Mutex
	events []*models.AuditEvent
	err    error
}

func (m *memAppender) Append(_ context.Context, _ sqlx.ExtContext, e *models.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	e.Sequence = int64(len(m.events) + 1)
	m.events = append(m.events, e)
	return nil
}

type chanShipper struct {
	ch chan []*models.AuditEvent
}

func (c *chanShipper) Name() string { return "chan" }
func (c *chanShipper) Ship(_ context.Context, events []*models.AuditEvent) error {
	c.ch <- events
	return nil
}
func (c *chanShipper) Close() error { return nil }

func TestRecorder_RecordStampsAndDigests(t *testing.T) {
	store := &memAppender{}
	d, _ := NewDigester(nil)
	r := NewRecorder(store, d, nil)
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 123456789, time.UTC)
	r.now = func() time.Time { return fixed }

	e := &models.AuditEvent{EventType: models.EventGrantRequested, ActorID: "a", SubjectTenantID: "t"}
	require.NoError(t, r.Record(context.Background(), nil, e))

	assert.NotEqual(t, uuid.Nil, e.ID)
	assert.Equal(t, fixed.Truncate(time.Microsecond), e.OccurredAt)
	assert.True(t, d.Verify(e))
	assert.Len(t, store.events, 1)
}

func TestRecorder_RecordRejectsUnknownType(t *testing.T) {
	store := &memAppender{}
	d, _ := NewDigester(nil)
	err := NewRecorder(store, d, nil).Record(context.Background(), nil, &models.AuditEvent{EventType: "grant_deleted"})
	assert.Error(t, err)
	assert.Empty(t, store.events)
}

func TestRecorder_RecordPropagatesStoreError(t *testing.T) {
	store := &memAppender{err: errors.New("disk full")}
	d, _ := NewDigester(nil)
	err := NewRecorder(store, d, nil).Record(context.Background(), nil, &models.AuditEvent{EventType: models.EventGrantRevoked})
	assert.ErrorIs(t, err, store.err)
}

func TestRecorder_PublishShipsInBackground(t *testing.T) {
	ship := &chanShipper{ch: make(chan []*models.AuditEvent, 1)}
	d, _ := NewDigester(nil)
	r := NewRecorder(&memAppender{}, d, ship)

	e := &models.AuditEvent{EventType: models.EventGrantApproved}
	r.Publish(e)

	select {
	case got := <-ship.ch:
		require.Len(t, got, 1)
		assert.Same(t, e, got[0])
	case <-time.After(2 * time.Second):
		t.Fatal("events were not shipped")
	}
}

func TestRecorder_PublishWithoutShipperIsNoop(t *testing.T) {
	d, _ := NewDigester(nil)
	NewRecorder(&memAppender{}, d, nil).Publish(&models.AuditEvent{})
}

func TestRecorder_RecordAppliesRequestMeta(t *testing.T) {
	store := &memAppender{}
	d, _ := NewDigester(nil)
	ctx := WithRequestMeta(context.Background(), models.RequestMeta{
		SourceIP: "203.0.113.7", UserAgent: "shopdesk-web", RequestID: "req-42",
	})

	e := &models.AuditEvent{EventType: models.EventGrantDenied}
	require.NoError(t, NewRecorder(store, d, nil).Record(ctx, nil, e))

	assert.Equal(t, "203.0.113.7", e.SourceIP)
	assert.Equal(t, "shopdesk-web", e.UserAgent)
	assert.Equal(t, "req-42", e.RequestID)
	assert.True(t, d.Verify(e), "digest must cover the request details")
}
