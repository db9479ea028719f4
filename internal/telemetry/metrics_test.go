package telemetry

import (
	"context"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// ---------------------------------------------------------------------------
// Registration: checked via Describe() because Gather() omits *Vec metrics
// that have no observed label combination yet.
// ---------------------------------------------------------------------------

func TestMetrics_AllRegistered(t *testing.T) {
	cases := []struct {
		name string
		c    prometheus.Collector
	}{
		{"shopdesk_http_requests_total", HTTPRequestsTotal},
		{"shopdesk_http_request_duration_seconds", HTTPRequestDuration},
		{"shopdesk_grant_transitions_total", GrantTransitionsTotal},
		{"shopdesk_tx_retries_total", TxRetriesTotal},
		{"shopdesk_tenant_sanitizations_total", TenantSanitizationsTotal},
		{"shopdesk_read_authorizations_total", ReadAuthorizationsTotal},
		{"shopdesk_pending_grants", PendingGrants},
		{"shopdesk_oldest_pending_grant_age_seconds", OldestPendingGrantAge},
		{"shopdesk_audit_ship_failures_total", AuditShipFailuresTotal},
		{"shopdesk_audit_archived_days_total", AuditArchivedDaysTotal},
		{"shopdesk_audit_digest_mismatch_total", AuditDigestMismatchTotal},
		{"shopdesk_db_open_connections", DBOpenConnections},
		{"shopdesk_db_in_use_connections", DBInUseConnections},
		{"shopdesk_db_wait_count", DBWaitCount},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ch := make(chan *prometheus.Desc, 10)
			tc.c.Describe(ch)
			close(ch)
			for desc := range ch {
				if strings.Contains(desc.String(), `"`+tc.name+`"`) {
					return
				}
			}
			t.Errorf("metric %q: Describe() returned no descriptor with this fqName", tc.name)
		})
	}
}

func TestMetrics_GrantTransitions_CanBeIncremented(t *testing.T) {
	labels := prometheus.Labels{"transition": "approved"}
	before := CounterValue(GrantTransitionsTotal, labels)
	GrantTransitionsTotal.WithLabelValues("approved").Inc()
	if after := CounterValue(GrantTransitionsTotal, labels); after-before != 1 {
		t.Errorf("counter moved by %.0f, want 1", after-before)
	}
}

func TestMetrics_TenantSanitizations_CanBeIncremented(t *testing.T) {
	before := CounterValue(TenantSanitizationsTotal, nil)
	TenantSanitizationsTotal.Inc()
	if after := CounterValue(TenantSanitizationsTotal, nil); after-before != 1 {
		t.Errorf("counter moved by %.0f, want 1", after-before)
	}
}

func TestStartDBStatsCollector_StopsOnCancel(t *testing.T) {
	raw, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer raw.Close()

	ctx, cancel := context.WithCancel(context.Background())
	StartDBStatsCollector(ctx, sqlx.NewDb(raw, "sqlmock"), 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	cancel()

	var m dto.Metric
	if err := DBOpenConnections.Write(&m); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if m.GetGauge().GetValue() < 0 {
		t.Error("open connections gauge should never be negative")
	}
}
