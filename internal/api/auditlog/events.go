// Package auditlog implements the read-only audit trail endpoint. What a caller may see is
// decided by role: super operators see everything, owners the events about their own
// tenant, cross-tenant admins the events about their own grants.
package auditlog

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/shopdesk/shopdesk/internal/access"
	"github.com/shopdesk/shopdesk/internal/db/models"
	"github.com/shopdesk/shopdesk/internal/db/repositories"
	"github.com/shopdesk/shopdesk/internal/middleware"
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

// EventQuerier reads audit events. Implemented by repositories.AuditRepository.
type EventQuerier interface {
	Query(ctx context.Context, filters repositories.AuditFilters) ([]*models.AuditEvent, int, error)
}

// Handler serves GET /api/v1/audit-events
type Handler struct {
	events EventQuerier
}

// NewHandler creates a new audit event handler
func NewHandler(events EventQuerier) *Handler {
	return &Handler{events: events}
}

// ListEvents returns audit events in commit order.
// GET /api/v1/audit-events?tenant_id=&admin_id=&event_type=&since=&until=&limit=&offset=
func (h *Handler) ListEvents(c *gin.Context) {
	p, ok := middleware.GetPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return
	}

	filters, err := parseFilters(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	switch p.Role {
	case access.RoleSuperOperator:
	case access.RoleOwner:
		// Grant events store the canonical form, so match on it.
		home, ok := access.CanonicalTenantID(p.HomeTenantID)
		if !ok {
			respond(c, nil, 0, filters)
			return
		}
		filters.TenantID = &home
	case access.RoleCrossTenantAdmin:
		self := p.ID
		if id, err := uuid.Parse(p.ID); err == nil {
			self = id.String()
		}
		filters.AdminID = &self
	default:
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}

	events, total, err := h.events.Query(c.Request.Context(), filters)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to query audit events"})
		return
	}
	respond(c, events, total, filters)
}

func respond(c *gin.Context, events []*models.AuditEvent, total int, f repositories.AuditFilters) {
	if events == nil {
		events = []*models.AuditEvent{}
	}
	c.JSON(http.StatusOK, gin.H{
		"events": events,
		"pagination": gin.H{
			"limit":  f.Limit,
			"offset": f.Offset,
			"total":  total,
		},
	})
}

type filterError string

func (e filterError) Error() string { return string(e) }

func parseFilters(c *gin.Context) (repositories.AuditFilters, error) {
	f := repositories.AuditFilters{Limit: defaultLimit}

	if v := c.Query("tenant_id"); v != "" {
		f.TenantID = &v
	}
	if v := c.Query("admin_id"); v != "" {
		f.AdminID = &v
	}
	if v := c.Query("event_type"); v != "" {
		t := models.AuditEventType(v)
		if !t.IsValid() {
			return f, filterError("unknown event_type " + strconv.Quote(v))
		}
		f.EventType = &t
	}

	var err error
	if f.Since, err = parseTime(c, "since"); err != nil {
		return f, err
	}
	if f.Until, err = parseTime(c, "until"); err != nil {
		return f, err
	}

	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return f, filterError("limit must be a positive integer")
		}
		f.Limit = min(n, maxLimit)
	}
	if v := c.Query("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, filterError("offset must be a non-negative integer")
		}
		f.Offset = n
	}
	return f, nil
}

func parseTime(c *gin.Context, key string) (*time.Time, error) {
	v := c.Query(key)
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, filterError(key + " must be an RFC 3339 timestamp")
	}
	return &t, nil
}
