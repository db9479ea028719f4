// Package grants implements the HTTP handlers for the cross-tenant access grant workflow:
// permission requests and their decisions, owner-initiated direct grants, and the list
// of tenants the caller can currently reach.
package grants

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/shopdesk/shopdesk/internal/access"
	"github.com/shopdesk/shopdesk/internal/api/apierrors"
	"github.com/shopdesk/shopdesk/internal/db/models"
	"github.com/shopdesk/shopdesk/internal/middleware"
)

// Workflow is the grant lifecycle. Implemented by services.PermissionWorkflow.
type Workflow interface {
	RequestAccess(ctx context.Context, actor access.Principal, tenantID, reason string) (*models.AccessGrant, error)
	DirectGrant(ctx context.Context, owner access.Principal, adminID, tenantID, reason string) (*models.AccessGrant, error)
	Approve(ctx context.Context, grantID string, actor access.Principal, comment string) (*models.AccessGrant, error)
	Deny(ctx context.Context, grantID string, actor access.Principal, reason string) (*models.AccessGrant, error)
	Revoke(ctx context.Context, grantID string, actor access.Principal, reason string) (*models.AccessGrant, error)
	ListPending(ctx context.Context, ownerID string) ([]*models.AccessGrant, error)
	ListForAdmin(ctx context.Context, adminID string) ([]*models.AccessGrant, error)
	Get(ctx context.Context, grantID string, actor access.Principal) (*models.AccessGrant, error)
}

// TenantRegistry computes the tenants an admin can reach. Implemented by access.Registry.
type TenantRegistry interface {
	ComputeAccessibleTenants(ctx context.Context, adminID string) (access.TenantSet, error)
}

// Handlers serves the /permission-requests, /direct-grants and
// /accessible-tenants endpoints.
type Handlers struct {
	workflow Workflow
	registry TenantRegistry
}

// NewHandlers creates a new Handlers instance
func NewHandlers(workflow Workflow, registry TenantRegistry) *Handlers {
	return &Handlers{workflow: workflow, registry: registry}
}

// CreateRequestBody is the body of POST /permission-requests
type CreateRequestBody struct {
	TenantID string `json:"tenantId"`
	Reason   string `json:"reason"`
}

// DecisionBody is the body of approve, deny and revoke. Reason is required
// for deny only; approve reads Comment.
type DecisionBody struct {
	Comment string `json:"comment"`
	Reason  string `json:"reason"`
}

// DirectGrantBody is the body of POST /direct-grants
type DirectGrantBody struct {
	AdminID string `json:"adminId"`
	Reason  string `json:"reason"`
}

// grantStatusResponse is returned by create and decision endpoints.
type grantStatusResponse struct {
	GrantID string             `json:"grantId"`
	Status  models.GrantStatus `json:"status"`
}

func statusOf(g *models.AccessGrant) grantStatusResponse {
	return grantStatusResponse{GrantID: g.ID.String(), Status: g.Status}
}

// @Summary      Request access to a tenant
// @Tags         Grants
// @Accept       json
// @Produce      json
// @Param        body  body  CreateRequestBody  true  "tenantId and reason"
// @Success      201  {object}  grantStatusResponse
// @Router       /api/v1/permission-requests [post]
// CreateRequest files a pending access request for the calling cross-tenant admin.
func (h *Handlers) CreateRequest(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	var body CreateRequestBody
	if !bindBody(c, &body) {
		return
	}

	g, err := h.workflow.RequestAccess(c.Request.Context(), p, body.TenantID, body.Reason)
	if err != nil {
		apierrors.Write(c, "request access", err)
		return
	}
	c.JSON(http.StatusCreated, statusOf(g))
}

// ListRequests lists grants from the caller's point of view.
// GET /api/v1/permission-requests?for=owner|admin
//
// for=owner returns pending requests on the caller's tenants, oldest first;
// for=admin returns every grant the caller requested, newest first. Without
// the parameter the caller's role decides.
func (h *Handlers) ListRequests(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}

	view := c.Query("for")
	if view == "" {
		switch p.Role {
		case access.RoleOwner:
			view = "owner"
		case access.RoleCrossTenantAdmin:
			view = "admin"
		}
	}

	var (
		list []*models.AccessGrant
		err  error
	)
	switch view {
	case "owner":
		list, err = h.workflow.ListPending(c.Request.Context(), p.ID)
	case "admin":
		list, err = h.workflow.ListForAdmin(c.Request.Context(), p.ID)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "for must be owner or admin"})
		return
	}
	if err != nil {
		apierrors.Write(c, "list access requests", err)
		return
	}
	if list == nil {
		list = []*models.AccessGrant{}
	}
	c.JSON(http.StatusOK, list)
}

// GetRequest returns one grant visible to the caller.
// GET /api/v1/permission-requests/:id
func (h *Handlers) GetRequest(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	g, err := h.workflow.Get(c.Request.Context(), c.Param("id"), p)
	if err != nil {
		apierrors.Write(c, "get access request", err)
		return
	}
	c.JSON(http.StatusOK, g)
}

// Approve approves a pending request.
// POST /api/v1/permission-requests/:id/approve  {comment?}
func (h *Handlers) Approve(c *gin.Context) {
	h.decide(c, "approve grant", func(ctx context.Context, p access.Principal, id string, b DecisionBody) (*models.AccessGrant, error) {
		return h.workflow.Approve(ctx, id, p, b.Comment)
	})
}

// Deny denies a pending request.
// POST /api/v1/permission-requests/:id/deny  {reason}
func (h *Handlers) Deny(c *gin.Context) {
	h.decide(c, "deny grant", func(ctx context.Context, p access.Principal, id string, b DecisionBody) (*models.AccessGrant, error) {
		return h.workflow.Deny(ctx, id, p, b.Reason)
	})
}

// Revoke revokes an approved grant.
// POST /api/v1/permission-requests/:id/revoke  {reason?}
func (h *Handlers) Revoke(c *gin.Context) {
	h.decide(c, "revoke grant", func(ctx context.Context, p access.Principal, id string, b DecisionBody) (*models.AccessGrant, error) {
		return h.workflow.Revoke(ctx, id, p, b.Reason)
	})
}

type decisionFunc func(ctx context.Context, p access.Principal, grantID string, body DecisionBody) (*models.AccessGrant, error)

func (h *Handlers) decide(c *gin.Context, op string, fn decisionFunc) {
	p, ok := principal(c)
	if !ok {
		return
	}
	var body DecisionBody
	if !bindBody(c, &body) {
		return
	}
	g, err := fn(c.Request.Context(), p, c.Param("id"), body)
	if err != nil {
		apierrors.Write(c, op, err)
		return
	}
	c.JSON(http.StatusOK, statusOf(g))
}

// DirectGrant approves access for an admin to the caller's home tenant
// without a prior request. Disabled unless tenancy.direct_grants_enabled.
// POST /api/v1/direct-grants  {adminId, reason}
func (h *Handlers) DirectGrant(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	var body DirectGrantBody
	if !bindBody(c, &body) {
		return
	}
	g, err := h.workflow.DirectGrant(c.Request.Context(), p, body.AdminID, p.HomeTenantID, body.Reason)
	if err != nil {
		apierrors.Write(c, "grant access", err)
		return
	}
	c.JSON(http.StatusCreated, statusOf(g))
}

// AccessibleTenants lists the tenant ids the caller can read right now. A
// cross-tenant admin gets the tenants of its approved grants, an owner its
// home tenant. Super operators are not scoped by grants and get an empty list.
// GET /api/v1/accessible-tenants
func (h *Handlers) AccessibleTenants(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	switch p.Role {
	case access.RoleCrossTenantAdmin:
		set, err := h.registry.ComputeAccessibleTenants(c.Request.Context(), p.ID)
		if err != nil {
			apierrors.Write(c, "list accessible tenants", err)
			return
		}
		c.JSON(http.StatusOK, set.Sorted())
	case access.RoleOwner:
		if p.HomeTenantID == "" {
			c.JSON(http.StatusOK, []string{})
			return
		}
		c.JSON(http.StatusOK, []string{p.HomeTenantID})
	default:
		c.JSON(http.StatusOK, []string{})
	}
}

func principal(c *gin.Context) (access.Principal, bool) {
	p, ok := middleware.GetPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
	}
	return p, ok
}

// bindBody decodes an optional JSON body into v. An empty body leaves v zero.
func bindBody(c *gin.Context, v interface{}) bool {
	if err := c.ShouldBindJSON(v); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return false
	}
	return true
}
