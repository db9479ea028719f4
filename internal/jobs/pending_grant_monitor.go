// pending_grant_monitor.go implements the PendingGrantMonitor background job, which samples
// the backlog of access requests awaiting an owner decision into Prometheus gauges.
// Owners are not notified by shopdesk itself; alerting on these gauges is how operators
// notice requests left unanswered.
package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopdesk/shopdesk/internal/db/models"
	"github.com/shopdesk/shopdesk/internal/telemetry"
)

// GrantStats is the slice of the grant repository the monitor needs.
type GrantStats interface {
	CountByStatus(ctx context.Context) (map[models.GrantStatus]int, error)
	OldestPendingRequestedAt(ctx context.Context) (*time.Time, error)
}

// PendingGrantMonitor periodically updates the pending grant gauges.
type PendingGrantMonitor struct {
	grants   GrantStats
	interval time.Duration
	now      func() time.Time
	stopChan chan struct{}
}

// NewPendingGrantMonitor creates a new PendingGrantMonitor. interval defaults to one minute.
func NewPendingGrantMonitor(grants GrantStats, interval time.Duration) *PendingGrantMonitor {
	if interval <= 0 {
		interval = time.Minute
	}
	return &PendingGrantMonitor{
		grants:   grants,
		interval: interval,
		now:      time.Now,
		stopChan: make(chan struct{}),
	}
}

// Start samples immediately, then on every interval, until ctx is cancelled
// or Stop is called.
func (m *PendingGrantMonitor) Start(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	slog.Info("pending grant monitor started", "interval", m.interval)
	m.sample(ctx)

	for {
		select {
		case <-ticker.C:
			m.sample(ctx)
		case <-m.stopChan:
			slog.Info("pending grant monitor stopped")
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop signals the background loop to exit.
func (m *PendingGrantMonitor) Stop() {
	close(m.stopChan)
}

// sample reads the backlog and sets the gauges. On error the gauges keep
// their previous values.
func (m *PendingGrantMonitor) sample(ctx context.Context) {
	counts, err := m.grants.CountByStatus(ctx)
	if err != nil {
		slog.Error("pending grant monitor: failed to count grants", "error", err)
		return
	}
	oldest, err := m.grants.OldestPendingRequestedAt(ctx)
	if err != nil {
		slog.Error("pending grant monitor: failed to read oldest pending grant", "error", err)
		return
	}

	telemetry.PendingGrants.Set(float64(counts[models.GrantStatusPending]))

	age := 0.0
	if oldest != nil {
		age = m.now().Sub(*oldest).Seconds()
		if age < 0 {
			age = 0
		}
	}
	telemetry.OldestPendingGrantAge.Set(age)
}
