// tenant_repository.go implements TenantRepository, a read-only view over the tenants
// table used to resolve tenant existence and ownership.
package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/shopdesk/shopdesk/internal/db/models"
)

// TenantRepository handles tenant lookups
type TenantRepository struct {
	db *sqlx.DB
}

// NewTenantRepository creates a new TenantRepository
func NewTenantRepository(db *sqlx.DB) *TenantRepository {
	return &TenantRepository{db: db}
}

// GetByID retrieves a tenant using q, which may be a transaction. Returns
// nil, nil when the tenant does not exist.
func (r *TenantRepository) GetByID(ctx context.Context, q sqlx.QueryerContext, id uuid.UUID) (*models.Tenant, error) {
	if q == nil {
		q = r.db
	}
	t := &models.Tenant{}
	err := q.QueryRowxContext(ctx,
		`SELECT id, owner_id, name, created_at FROM tenants WHERE id = $1`, id,
	).Scan(&t.ID, &t.OwnerID, &t.Name, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}
	return t, nil
}
