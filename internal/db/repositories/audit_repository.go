// audit_repository.go implements AuditRepository: the append-only audit_events table.
// Events are inserted inside the transaction of the change they describe and are read back
// in commit-sequence order for compliance review. There is no update or delete path.
package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/shopdesk/shopdesk/internal/db/models"
)

// AuditRepository handles audit event database operations
type AuditRepository struct {
	db *sqlx.DB
}

// NewAuditRepository creates a new AuditRepository
func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// AuditFilters contains filters for querying audit events
type AuditFilters struct {
	TenantID  *string
	AdminID   *string // matches the actor or the admin named in the event details
	EventType *models.AuditEventType
	Since     *time.Time
	Until     *time.Time
	Limit     int
	Offset    int
}

const auditColumns = `sequence, id, occurred_at, actor_id, actor_role, event_type, subject_tenant_id,
	related_grant_id, details, source_ip, user_agent, request_id, digest`

// Append inserts e using q (normally the caller's transaction) and fills in
// the database-assigned sequence. e.ID, e.OccurredAt and e.Digest must be set.
func (r *AuditRepository) Append(ctx context.Context, q sqlx.ExtContext, e *models.AuditEvent) error {
	details := e.Details
	if details == nil {
		details = map[string]interface{}{}
	}
	detailsJSON, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("failed to marshal audit details: %w", err)
	}

	query := `
		INSERT INTO audit_events (id, occurred_at, actor_id, actor_role, event_type, subject_tenant_id,
			related_grant_id, details, source_ip, user_agent, request_id, digest)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING sequence
	`
	err = q.QueryRowxContext(ctx, query,
		e.ID, e.OccurredAt, e.ActorID, e.ActorRole, e.EventType, e.SubjectTenantID,
		e.RelatedGrantID, detailsJSON, e.SourceIP, e.UserAgent, e.RequestID, e.Digest,
	).Scan(&e.Sequence)
	if err != nil {
		return fmt.Errorf("failed to append audit event: %w", err)
	}
	return nil
}

// Query retrieves events matching filters in sequence order, plus the total
// number of matches ignoring pagination.
func (r *AuditRepository) Query(ctx context.Context, filters AuditFilters) ([]*models.AuditEvent, int, error) {
	where := ` WHERE 1=1`
	args := make([]interface{}, 0)
	paramIndex := 1

	if filters.TenantID != nil {
		where += fmt.Sprintf(` AND subject_tenant_id = $%d`, paramIndex)
		args = append(args, *filters.TenantID)
		paramIndex++
	}

	if filters.AdminID != nil {
		where += fmt.Sprintf(` AND (actor_id = $%d OR details ->> 'admin_id' = $%d)`, paramIndex, paramIndex)
		args = append(args, *filters.AdminID)
		paramIndex++
	}

	if filters.EventType != nil {
		where += fmt.Sprintf(` AND event_type = $%d`, paramIndex)
		args = append(args, string(*filters.EventType))
		paramIndex++
	}

	if filters.Since != nil {
		where += fmt.Sprintf(` AND occurred_at >= $%d`, paramIndex)
		args = append(args, *filters.Since)
		paramIndex++
	}

	if filters.Until != nil {
		where += fmt.Sprintf(` AND occurred_at < $%d`, paramIndex)
		args = append(args, *filters.Until)
		paramIndex++
	}

	var total int
	if err := r.db.QueryRowxContext(ctx, `SELECT COUNT(*) FROM audit_events`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count audit events: %w", err)
	}

	query := `SELECT ` + auditColumns + ` FROM audit_events` + where + ` ORDER BY sequence ASC`
	if filters.Limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d OFFSET $%d`, paramIndex, paramIndex+1)
		args = append(args, filters.Limit, filters.Offset)
	}

	events, err := r.list(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return events, total, nil
}

// ListBetween returns every event with from <= occurred_at < to in sequence
// order. Used by the archive job.
func (r *AuditRepository) ListBetween(ctx context.Context, from, to time.Time) ([]*models.AuditEvent, error) {
	query := `SELECT ` + auditColumns + `
		FROM audit_events
		WHERE occurred_at >= $1 AND occurred_at < $2
		ORDER BY sequence ASC`
	return r.list(ctx, query, from, to)
}

// EarliestOccurredAt returns the timestamp of the first event, or nil when
// the log is empty.
func (r *AuditRepository) EarliestOccurredAt(ctx context.Context) (*time.Time, error) {
	var earliest *time.Time
	if err := r.db.QueryRowxContext(ctx, `SELECT MIN(occurred_at) FROM audit_events`).Scan(&earliest); err != nil {
		return nil, fmt.Errorf("failed to read earliest audit event: %w", err)
	}
	return earliest, nil
}

func (r *AuditRepository) list(ctx context.Context, query string, args ...interface{}) ([]*models.AuditEvent, error) {
	rows, err := r.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	events := make([]*models.AuditEvent, 0)
	for rows.Next() {
		e := &models.AuditEvent{}
		var detailsJSON []byte

		if err := rows.Scan(
			&e.Sequence, &e.ID, &e.OccurredAt, &e.ActorID, &e.ActorRole, &e.EventType,
			&e.SubjectTenantID, &e.RelatedGrantID, &detailsJSON, &e.SourceIP, &e.UserAgent,
			&e.RequestID, &e.Digest,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}

		if len(detailsJSON) > 0 {
			if err := json.Unmarshal(detailsJSON, &e.Details); err != nil {
				return nil, fmt.Errorf("failed to decode audit details: %w", err)
			}
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
