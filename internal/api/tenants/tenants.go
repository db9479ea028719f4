// Package tenants serves tenant-scoped reads. Every route here sits behind
// middleware.RequireTenantReadAccess; a missing tenant answers exactly like a
// denied one.
package tenants

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/shopdesk/shopdesk/internal/db/models"
	"github.com/shopdesk/shopdesk/internal/middleware"
)

// TenantReader loads tenants. Implemented by repositories.TenantRepository.
type TenantReader interface {
	GetByID(ctx context.Context, q sqlx.QueryerContext, id uuid.UUID) (*models.Tenant, error)
}

// Handler serves GET /api/v1/tenants/:tenantId
type Handler struct {
	tenants TenantReader
}

// NewHandler creates a new tenant handler
func NewHandler(tenants TenantReader) *Handler {
	return &Handler{tenants: tenants}
}

// GetTenant returns the tenant authorized by the read middleware.
func (h *Handler) GetTenant(c *gin.Context) {
	id, err := uuid.Parse(middleware.GetTenantID(c))
	if err != nil {
		middleware.RespondNotFound(c)
		return
	}

	t, err := h.tenants.GetByID(c.Request.Context(), nil, id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve tenant"})
		return
	}
	if t == nil {
		middleware.RespondNotFound(c)
		return
	}
	c.JSON(http.StatusOK, t)
}
