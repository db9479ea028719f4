// Package telemetry provides logging setup and Prometheus metrics for shopdesk.
//
// # Prometheus Metrics Endpoint
//
// All metrics are registered against the default Prometheus registry and are
// served by the side-channel HTTP server started by cmd/server:
//
//	GET http://<host>:<SHOPDESK_TELEMETRY_METRICS_PORT>/metrics
//
// Default port: 9090. The endpoint is not part of the gin router.
//
// # Metric Groups
//
//   - HTTP request counters and latency histograms (labelled by route template)
//   - Grant workflow transitions and transaction retries
//   - Tenant-id sanitizations and read authorization decisions
//   - Pending grant backlog gauges (sampled by the pending grant monitor)
//   - Audit shipping, archiving and digest verification
//   - Database connection pool gauges
//
// # Label Cardinality
//
// No metric is labelled with a tenant, admin or grant id. HTTP metrics use
// c.FullPath() (e.g. /api/v1/permission-requests/:id/approve) instead of the raw URL.
package telemetry

import (
	"context"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "shopdesk"

// HTTP metrics, labelled by method, route template, and status code.
//
// Example PromQL queries:
//   - Error rate (%):       sum(rate(shopdesk_http_requests_total{status=~"5.."}[5m])) / sum(rate(shopdesk_http_requests_total[5m])) * 100
//   - p99 latency by route: histogram_quantile(0.99, sum by (path, le) (rate(shopdesk_http_request_duration_seconds_bucket[5m])))
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests processed, by method, route template, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Histogram of HTTP request latencies, by method and route template.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_requests_in_flight",
			Help:      "Number of HTTP requests currently being served.",
		},
	)
)

// Grant workflow metrics.
//
// GrantTransitionsTotal counts committed transitions with label {transition}:
// requested, approved, denied, revoked, direct_granted.
//
// TxRetriesTotal counts serialization-conflict retries with label {outcome}:
// "recovered" when the retry committed, "exhausted" when the caller got a
// retriable error. A sustained exhausted rate means hot grant rows.
//
// Example PromQL queries:
//   - Approvals per hour:  increase(shopdesk_grant_transitions_total{transition="approved"}[1h])
//   - Retry exhaustion:    rate(shopdesk_tx_retries_total{outcome="exhausted"}[5m]) > 0
var (
	GrantTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grant_transitions_total",
			Help:      "Total number of committed access grant transitions, by transition.",
		},
		[]string{"transition"},
	)

	TxRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tx_retries_total",
			Help:      "Total number of transaction retries after serialization failures, by outcome.",
		},
		[]string{"outcome"},
	)
)

// Request-time authorization metrics.
//
// TenantSanitizationsTotal counts client-supplied tenant ids that differed from
// the session tenant. Any non-zero rate is a security signal worth reviewing
// in the audit log (event_type=tenant_id_sanitized).
//
// ReadAuthorizationsTotal counts tenant-scoped read decisions with labels
// {role, result} where result is "allowed" or "denied".
var (
	TenantSanitizationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tenant_sanitizations_total",
			Help:      "Total number of mutating requests whose client-supplied tenant id was overridden.",
		},
	)

	ReadAuthorizationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "read_authorizations_total",
			Help:      "Total number of tenant-scoped read authorization decisions, by role and result.",
		},
		[]string{"role", "result"},
	)
)

// Pending grant backlog, sampled by jobs.PendingGrantMonitor.
//
// Example PromQL queries:
//   - Owners ignoring requests: shopdesk_oldest_pending_grant_age_seconds > 7 * 86400
var (
	PendingGrants = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_grants",
			Help:      "Current number of access grants awaiting an owner decision.",
		},
	)

	OldestPendingGrantAge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "oldest_pending_grant_age_seconds",
			Help:      "Age in seconds of the oldest pending access grant, 0 when none are pending.",
		},
	)
)

// Audit trail metrics.
//
// AuditShipFailuresTotal is labelled by {shipper} (webhook, file, kafka).
// Shipping is best-effort; the database row is the record of truth.
var (
	AuditShipFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_ship_failures_total",
			Help:      "Total number of audit event batches that failed to ship, by shipper.",
		},
		[]string{"shipper"},
	)

	AuditArchivedDaysTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_archived_days_total",
			Help:      "Total number of daily audit archives written to the archive backend.",
		},
	)

	AuditDigestMismatchTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_digest_mismatch_total",
			Help:      "Total number of audit events whose stored digest did not match their content.",
		},
	)
)

// Database connection pool gauges, sampled by StartDBStatsCollector.
var (
	DBOpenConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_open_connections",
			Help:      "Current number of open database connections in the pool.",
		},
	)

	DBInUseConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_in_use_connections",
			Help:      "Current number of database connections in use.",
		},
	)

	DBWaitCount = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_wait_count",
			Help:      "Cumulative number of connections waited for because the pool was exhausted.",
		},
	)
)

// StartDBStatsCollector samples pool statistics every interval until ctx is
// cancelled.
func StartDBStatsCollector(ctx context.Context, db *sqlx.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				slog.Debug("db stats collector stopped")
				return
			case <-ticker.C:
				stats := db.Stats()
				DBOpenConnections.Set(float64(stats.OpenConnections))
				DBInUseConnections.Set(float64(stats.InUse))
				DBWaitCount.Set(float64(stats.WaitCount))
			}
		}
	}()
}
