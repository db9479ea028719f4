// Package services implements business logic that coordinates several repositories inside
// one transaction. PermissionWorkflow owns the access grant lifecycle: every state change
// locks the grant row, checks the prior state, writes the new state and appends the audit
// event in a single serializable transaction, so the grant store and the audit trail can
// never disagree.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/shopdesk/shopdesk/internal/access"
	"github.com/shopdesk/shopdesk/internal/audit"
	"github.com/shopdesk/shopdesk/internal/db/models"
	"github.com/shopdesk/shopdesk/internal/db/repositories"
	"github.com/shopdesk/shopdesk/internal/telemetry"
	"github.com/shopdesk/shopdesk/internal/validation"
)

const (
	conflictMessage = "an access request for this tenant is already pending or approved"

	// unknownTenantMessage matches the body of a denied tenant read so a
	// request does not reveal more about tenant existence than a read would.
	unknownTenantMessage = "resource not found"
)

// PermissionWorkflow handles requesting, deciding and revoking cross-tenant access grants.
type PermissionWorkflow struct {
	tx       *repositories.TxRunner
	grants   *repositories.GrantRepository
	tenants  *repositories.TenantRepository
	recorder *audit.Recorder
	now      func() time.Time

	directGrants atomic.Bool
}

// NewPermissionWorkflow creates a new PermissionWorkflow
func NewPermissionWorkflow(tx *repositories.TxRunner, grants *repositories.GrantRepository, tenants *repositories.TenantRepository, recorder *audit.Recorder) *PermissionWorkflow {
	return &PermissionWorkflow{
		tx:       tx,
		grants:   grants,
		tenants:  tenants,
		recorder: recorder,
		now:      time.Now,
	}
}

// SetDirectGrantsEnabled toggles the owner-initiated DirectGrant shortcut.
func (w *PermissionWorkflow) SetDirectGrantsEnabled(enabled bool) {
	w.directGrants.Store(enabled)
}

// DirectGrantsEnabled reports whether DirectGrant is available.
func (w *PermissionWorkflow) DirectGrantsEnabled() bool {
	return w.directGrants.Load()
}

// ============================================================================
// Requests
// ============================================================================

// RequestAccess creates a pending grant for actor on tenantID and audits it.
func (w *PermissionWorkflow) RequestAccess(ctx context.Context, actor access.Principal, tenantID, reason string) (*models.AccessGrant, error) {
	if actor.Role != access.RoleCrossTenantAdmin {
		return nil, access.Forbiddenf("only cross-tenant admins may request tenant access")
	}
	adminID, err := uuid.Parse(actor.ID)
	if err != nil {
		return nil, access.Forbiddenf("access denied")
	}
	reason, err = validation.Reason("reason", reason, true)
	if err != nil {
		return nil, err
	}
	tid, err := validation.ID("tenantId", tenantID)
	if err != nil {
		return nil, err
	}

	var (
		grant *models.AccessGrant
		event *models.AuditEvent
	)
	err = w.tx.InTx(ctx, func(tx *sqlx.Tx) error {
		tenant, err := w.tenants.GetByID(ctx, tx, tid)
		if err != nil {
			return err
		}
		if tenant == nil {
			// Same answer as a denied tenant read.
			return access.NotFoundf(unknownTenantMessage)
		}

		existing, err := w.grants.FindActive(ctx, tx, adminID, tid)
		if err != nil {
			return err
		}
		if existing != nil {
			return access.Conflictf(conflictMessage)
		}

		grant = &models.AccessGrant{
			AdminID:       adminID,
			TenantID:      tid,
			TenantOwnerID: tenant.OwnerID,
			Status:        models.GrantStatusPending,
			RequestReason: reason,
			RequestedAt:   w.now().UTC(),
		}
		if err := w.grants.Create(ctx, tx, grant); err != nil {
			return err
		}

		event = grantEvent(models.EventGrantRequested, actor.ID, string(actor.Role), grant, map[string]interface{}{
			"reason": reason,
		})
		return w.recorder.Record(ctx, tx, event)
	})
	if err != nil {
		return nil, mapStoreError(err)
	}

	w.committed("requested", grant, event)
	return grant, nil
}

// DirectGrant lets a tenant owner grant an admin access without a prior
// request: a pending grant is created and approved by the system in the same
// transaction, with both steps audited.
func (w *PermissionWorkflow) DirectGrant(ctx context.Context, owner access.Principal, adminID, tenantID, reason string) (*models.AccessGrant, error) {
	if !w.DirectGrantsEnabled() {
		return nil, access.Forbiddenf("direct grants are disabled")
	}
	if owner.Role != access.RoleOwner {
		return nil, access.Forbiddenf("only tenant owners may grant access directly")
	}
	ownerID, err := uuid.Parse(owner.ID)
	if err != nil {
		return nil, access.Forbiddenf("access denied")
	}
	aid, err := validation.ID("adminId", adminID)
	if err != nil {
		return nil, err
	}
	tid, err := validation.ID("tenantId", tenantID)
	if err != nil {
		return nil, err
	}
	reason, err = validation.Reason("reason", reason, true)
	if err != nil {
		return nil, err
	}

	var (
		grant  *models.AccessGrant
		events []*models.AuditEvent
	)
	err = w.tx.InTx(ctx, func(tx *sqlx.Tx) error {
		events = events[:0]

		tenant, err := w.tenants.GetByID(ctx, tx, tid)
		if err != nil {
			return err
		}
		if tenant == nil {
			return access.NotFoundf("tenant not found")
		}
		if tenant.OwnerID != ownerID {
			return access.Forbiddenf("you do not own this tenant")
		}

		existing, err := w.grants.FindActive(ctx, tx, aid, tid)
		if err != nil {
			return err
		}
		if existing != nil {
			return access.Conflictf(conflictMessage)
		}

		now := w.now().UTC()
		grant = &models.AccessGrant{
			AdminID:       aid,
			TenantID:      tid,
			TenantOwnerID: ownerID,
			Status:        models.GrantStatusPending,
			RequestReason: reason,
			RequestedAt:   now,
		}
		if err := w.grants.Create(ctx, tx, grant); err != nil {
			return err
		}
		requested := grantEvent(models.EventGrantRequested, owner.ID, string(owner.Role), grant, map[string]interface{}{
			"reason": reason,
			"direct": true,
		})
		if err := w.recorder.Record(ctx, tx, requested); err != nil {
			return err
		}

		system := models.SystemActorID
		grant.Status = models.GrantStatusApproved
		grant.DecidedBy = &system
		grant.DecidedAt = &now
		if err := w.grants.UpdateStatus(ctx, tx, grant, models.GrantStatusPending); err != nil {
			return err
		}
		approved := grantEvent(models.EventGrantApproved, models.SystemActorID, models.SystemActorID, grant, map[string]interface{}{
			"direct":       true,
			"initiated_by": owner.ID,
		})
		if err := w.recorder.Record(ctx, tx, approved); err != nil {
			return err
		}

		events = append(events, requested, approved)
		return nil
	})
	if err != nil {
		return nil, mapStoreError(err)
	}

	telemetry.GrantTransitionsTotal.WithLabelValues("direct_granted").Inc()
	w.recorder.Publish(events...)
	slog.Info("access granted directly", "grant_id", grant.ID, "admin_id", grant.AdminID, "tenant_id", grant.TenantID)
	return grant, nil
}

// ============================================================================
// Decisions
// ============================================================================

// Approve moves a pending grant to approved.
func (w *PermissionWorkflow) Approve(ctx context.Context, grantID string, actor access.Principal, comment string) (*models.AccessGrant, error) {
	c, err := validation.OptionalReason("comment", comment)
	if err != nil {
		return nil, err
	}
	return w.decide(ctx, grantID, actor, transition{
		op:    "approve",
		from:  models.GrantStatusPending,
		to:    models.GrantStatusApproved,
		event: models.EventGrantApproved,
		label: "approved",
		note:  c,
		key:   "comment",
	})
}

// Deny moves a pending grant to denied. A reason is required.
func (w *PermissionWorkflow) Deny(ctx context.Context, grantID string, actor access.Principal, reason string) (*models.AccessGrant, error) {
	r, err := validation.Reason("reason", reason, true)
	if err != nil {
		return nil, err
	}
	return w.decide(ctx, grantID, actor, transition{
		op:    "deny",
		from:  models.GrantStatusPending,
		to:    models.GrantStatusDenied,
		event: models.EventGrantDenied,
		label: "denied",
		note:  &r,
		key:   "reason",
	})
}

// Revoke moves an approved grant to revoked. Access ends with the commit.
func (w *PermissionWorkflow) Revoke(ctx context.Context, grantID string, actor access.Principal, reason string) (*models.AccessGrant, error) {
	r, err := validation.OptionalReason("reason", reason)
	if err != nil {
		return nil, err
	}
	return w.decide(ctx, grantID, actor, transition{
		op:    "revoke",
		from:  models.GrantStatusApproved,
		to:    models.GrantStatusRevoked,
		event: models.EventGrantRevoked,
		label: "revoked",
		note:  r,
		key:   "reason",
	})
}

type transition struct {
	op    string
	from  models.GrantStatus
	to    models.GrantStatus
	event models.AuditEventType
	label string
	note  *string
	key   string
}

func (w *PermissionWorkflow) decide(ctx context.Context, grantID string, actor access.Principal, t transition) (*models.AccessGrant, error) {
	id, err := validation.ID("id", grantID)
	if err != nil {
		return nil, err
	}

	var (
		grant *models.AccessGrant
		event *models.AuditEvent
	)
	err = w.tx.InTx(ctx, func(tx *sqlx.Tx) error {
		g, err := w.grants.GetForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if g == nil {
			return access.NotFoundf("grant not found")
		}
		if !ownsGrant(actor, g) {
			return access.Forbiddenf("only the tenant owner may %s this grant", t.op)
		}
		if g.Status != t.from || !g.Status.CanTransitionTo(t.to) {
			return access.InvalidStatef("grant is %s; %s requires %s", g.Status, t.op, t.from)
		}

		now := w.now().UTC()
		decidedBy := actor.ID
		g.Status = t.to
		if t.to == models.GrantStatusRevoked {
			g.RevokedAt = &now
		} else {
			g.DecidedAt = &now
			g.DecidedBy = &decidedBy
			g.DecisionReason = t.note
		}
		if err := w.grants.UpdateStatus(ctx, tx, g, t.from); err != nil {
			return err
		}

		details := map[string]interface{}{}
		if t.note != nil {
			details[t.key] = *t.note
		}
		event = grantEvent(t.event, actor.ID, string(actor.Role), g, details)
		if err := w.recorder.Record(ctx, tx, event); err != nil {
			return err
		}
		grant = g
		return nil
	})
	if err != nil {
		return nil, mapStoreError(err)
	}

	w.committed(t.label, grant, event)
	return grant, nil
}

// ============================================================================
// Reads
// ============================================================================

// ListPending returns pending grants on tenants owned by ownerID, oldest
// request first.
func (w *PermissionWorkflow) ListPending(ctx context.Context, ownerID string) ([]*models.AccessGrant, error) {
	id, err := uuid.Parse(ownerID)
	if err != nil {
		return []*models.AccessGrant{}, nil
	}
	return w.grants.ListPendingForOwner(ctx, id)
}

// ListForAdmin returns every grant adminID has requested, newest first.
func (w *PermissionWorkflow) ListForAdmin(ctx context.Context, adminID string) ([]*models.AccessGrant, error) {
	id, err := uuid.Parse(adminID)
	if err != nil {
		return []*models.AccessGrant{}, nil
	}
	return w.grants.ListForAdmin(ctx, id)
}

// Get returns a grant visible to actor: the requesting admin, the tenant
// owner, or a super operator. Anyone else gets NotFound.
func (w *PermissionWorkflow) Get(ctx context.Context, grantID string, actor access.Principal) (*models.AccessGrant, error) {
	id, err := uuid.Parse(grantID)
	if err != nil {
		return nil, access.NotFoundf("grant not found")
	}
	g, err := w.grants.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if g == nil {
		return nil, access.NotFoundf("grant not found")
	}
	if actor.Role == access.RoleSuperOperator || ownsGrant(actor, g) || g.AdminID.String() == actor.ID {
		return g, nil
	}
	return nil, access.NotFoundf("grant not found")
}

// ============================================================================
// Helpers
// ============================================================================

func (w *PermissionWorkflow) committed(label string, g *models.AccessGrant, e *models.AuditEvent) {
	telemetry.GrantTransitionsTotal.WithLabelValues(label).Inc()
	w.recorder.Publish(e)
	slog.Info("access grant "+label, "grant_id", g.ID, "admin_id", g.AdminID, "tenant_id", g.TenantID, "status", g.Status)
}

func ownsGrant(actor access.Principal, g *models.AccessGrant) bool {
	return actor.Role == access.RoleOwner && actor.ID == g.TenantOwnerID.String()
}

// grantEvent builds the audit event for a grant change. admin_id is always
// present in details so the admin filter finds events authored by owners.
func grantEvent(t models.AuditEventType, actorID, actorRole string, g *models.AccessGrant, details map[string]interface{}) *models.AuditEvent {
	if details == nil {
		details = map[string]interface{}{}
	}
	details["admin_id"] = g.AdminID.String()
	grantID := g.ID
	return &models.AuditEvent{
		ActorID:         actorID,
		ActorRole:       actorRole,
		EventType:       t,
		SubjectTenantID: g.TenantID.String(),
		RelatedGrantID:  &grantID,
		Details:         details,
	}
}

// mapStoreError translates repository sentinels into workflow errors.
// Typed access errors and ErrRetriable pass through untouched.
func mapStoreError(err error) error {
	var ae *access.Error
	switch {
	case errors.As(err, &ae):
		return err
	case errors.Is(err, repositories.ErrActiveGrantExists):
		return access.Conflictf(conflictMessage)
	case errors.Is(err, repositories.ErrStaleGrant):
		return access.InvalidStatef("grant changed concurrently; reload and try again")
	case errors.Is(err, repositories.ErrRetriable):
		return err
	default:
		return fmt.Errorf("grant workflow failed: %w", err)
	}
}
