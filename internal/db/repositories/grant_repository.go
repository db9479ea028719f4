// grant_repository.go implements GrantRepository, the persisted store of cross-tenant access
// grants. Mutating methods take the caller's transaction so a status change and its audit
// event commit together; reads used for authorization always hit the database.
package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/shopdesk/shopdesk/internal/db/models"
)

// ErrActiveGrantExists is returned when an insert would create a second
// pending or approved grant for the same admin and tenant.
var ErrActiveGrantExists = errors.New("an active grant already exists for this admin and tenant")

// ErrStaleGrant is returned when a status update finds the row no longer in
// the expected prior state.
var ErrStaleGrant = errors.New("grant status changed concurrently")

const activeGrantPairIndex = "access_grants_active_pair_idx"

const grantColumns = `id, admin_id, tenant_id, tenant_owner_id, status, request_reason,
	decision_reason, decided_by, requested_at, decided_at, revoked_at`

// GrantRepository handles access grant database operations
type GrantRepository struct {
	db *sqlx.DB
}

// NewGrantRepository creates a new GrantRepository
func NewGrantRepository(db *sqlx.DB) *GrantRepository {
	return &GrantRepository{db: db}
}

func scanGrant(row interface{ Scan(...interface{}) error }) (*models.AccessGrant, error) {
	g := &models.AccessGrant{}
	err := row.Scan(
		&g.ID, &g.AdminID, &g.TenantID, &g.TenantOwnerID, &g.Status, &g.RequestReason,
		&g.DecisionReason, &g.DecidedBy, &g.RequestedAt, &g.DecidedAt, &g.RevokedAt,
	)
	if err != nil {
		return nil, err
	}
	return g, nil
}

// ============================================================================
// Transactional writes
// ============================================================================

// Create inserts a new grant. Returns ErrActiveGrantExists when the partial
// unique index rejects the row.
func (r *GrantRepository) Create(ctx context.Context, q sqlx.ExtContext, g *models.AccessGrant) error {
	if g.ID == uuid.Nil {
		g.ID = uuid.New()
	}
	if g.RequestedAt.IsZero() {
		g.RequestedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO access_grants (id, admin_id, tenant_id, tenant_owner_id, status, request_reason,
			decision_reason, decided_by, requested_at, decided_at, revoked_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := q.ExecContext(ctx, query,
		g.ID, g.AdminID, g.TenantID, g.TenantOwnerID, g.Status, g.RequestReason,
		g.DecisionReason, g.DecidedBy, g.RequestedAt, g.DecidedAt, g.RevokedAt,
	)
	if err != nil {
		if isUniqueViolation(err, activeGrantPairIndex) {
			return ErrActiveGrantExists
		}
		return fmt.Errorf("failed to insert access grant: %w", err)
	}
	return nil
}

// FindActive returns the pending or approved grant for the pair, or nil.
func (r *GrantRepository) FindActive(ctx context.Context, q sqlx.ExtContext, adminID, tenantID uuid.UUID) (*models.AccessGrant, error) {
	query := `SELECT ` + grantColumns + `
		FROM access_grants
		WHERE admin_id = $1 AND tenant_id = $2 AND status IN ('pending', 'approved')
		LIMIT 1`

	g, err := scanGrant(q.QueryRowxContext(ctx, query, adminID, tenantID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up active grant: %w", err)
	}
	return g, nil
}

// GetForUpdate reads a grant and locks its row until the transaction ends.
// Returns nil, nil when the grant does not exist.
func (r *GrantRepository) GetForUpdate(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*models.AccessGrant, error) {
	query := `SELECT ` + grantColumns + ` FROM access_grants WHERE id = $1 FOR UPDATE`

	g, err := scanGrant(tx.QueryRowxContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock access grant: %w", err)
	}
	return g, nil
}

// UpdateStatus writes g's new status and decision fields, but only if the
// row is still in prev. Returns ErrStaleGrant otherwise.
func (r *GrantRepository) UpdateStatus(ctx context.Context, tx *sqlx.Tx, g *models.AccessGrant, prev models.GrantStatus) error {
	query := `
		UPDATE access_grants
		SET status = $1, decision_reason = $2, decided_by = $3, decided_at = $4, revoked_at = $5
		WHERE id = $6 AND status = $7
	`
	res, err := tx.ExecContext(ctx, query,
		g.Status, g.DecisionReason, g.DecidedBy, g.DecidedAt, g.RevokedAt, g.ID, prev,
	)
	if err != nil {
		return fmt.Errorf("failed to update access grant: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n != 1 {
		return ErrStaleGrant
	}
	return nil
}

// ============================================================================
// Reads
// ============================================================================

// GetByID retrieves a grant by ID. Returns nil, nil when not found.
func (r *GrantRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.AccessGrant, error) {
	query := `SELECT ` + grantColumns + ` FROM access_grants WHERE id = $1`

	g, err := scanGrant(r.db.QueryRowxContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get access grant: %w", err)
	}
	return g, nil
}

// ListPendingForOwner returns pending grants whose owner snapshot is ownerID,
// oldest request first.
func (r *GrantRepository) ListPendingForOwner(ctx context.Context, ownerID uuid.UUID) ([]*models.AccessGrant, error) {
	query := `
		SELECT g.id, g.admin_id, g.tenant_id, g.tenant_owner_id, g.status, g.request_reason,
			g.decision_reason, g.decided_by, g.requested_at, g.decided_at, g.revoked_at, t.name
		FROM access_grants g
		JOIN tenants t ON t.id = g.tenant_id
		WHERE g.tenant_owner_id = $1 AND g.status = 'pending'
		ORDER BY g.requested_at ASC, g.id ASC
	`
	rows, err := r.db.QueryxContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending grants: %w", err)
	}
	defer rows.Close()

	grants := make([]*models.AccessGrant, 0)
	for rows.Next() {
		g := &models.AccessGrant{}
		if err := rows.Scan(
			&g.ID, &g.AdminID, &g.TenantID, &g.TenantOwnerID, &g.Status, &g.RequestReason,
			&g.DecisionReason, &g.DecidedBy, &g.RequestedAt, &g.DecidedAt, &g.RevokedAt, &g.TenantName,
		); err != nil {
			return nil, fmt.Errorf("failed to scan pending grant: %w", err)
		}
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

// ListForAdmin returns every grant requested by adminID, newest first.
func (r *GrantRepository) ListForAdmin(ctx context.Context, adminID uuid.UUID) ([]*models.AccessGrant, error) {
	query := `SELECT ` + grantColumns + `
		FROM access_grants
		WHERE admin_id = $1
		ORDER BY requested_at DESC, id DESC`

	rows, err := r.db.QueryxContext(ctx, query, adminID)
	if err != nil {
		return nil, fmt.Errorf("failed to list admin grants: %w", err)
	}
	defer rows.Close()

	grants := make([]*models.AccessGrant, 0)
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan admin grant: %w", err)
		}
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

// ListApprovedTenantIDs returns the tenants adminID currently holds an
// approved grant for. Always a fresh query.
func (r *GrantRepository) ListApprovedTenantIDs(ctx context.Context, adminID uuid.UUID) ([]uuid.UUID, error) {
	query := `SELECT tenant_id FROM access_grants WHERE admin_id = $1 AND status = 'approved'`

	rows, err := r.db.QueryxContext(ctx, query, adminID)
	if err != nil {
		return nil, fmt.Errorf("failed to list approved tenants: %w", err)
	}
	defer rows.Close()

	ids := make([]uuid.UUID, 0)
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan tenant id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ============================================================================
// Statistics
// ============================================================================

// CountByStatus returns the number of grants in each status.
func (r *GrantRepository) CountByStatus(ctx context.Context) (map[models.GrantStatus]int, error) {
	rows, err := r.db.QueryxContext(ctx, `SELECT status, COUNT(*) FROM access_grants GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count grants: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.GrantStatus]int)
	for rows.Next() {
		var status models.GrantStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan grant count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// OldestPendingRequestedAt returns when the oldest pending grant was
// requested, or nil if nothing is pending.
func (r *GrantRepository) OldestPendingRequestedAt(ctx context.Context) (*time.Time, error) {
	var oldest sql.NullTime
	err := r.db.QueryRowxContext(ctx, `SELECT MIN(requested_at) FROM access_grants WHERE status = 'pending'`).Scan(&oldest)
	if err != nil {
		return nil, fmt.Errorf("failed to read oldest pending grant: %w", err)
	}
	if !oldest.Valid {
		return nil, nil
	}
	return &oldest.Time, nil
}
