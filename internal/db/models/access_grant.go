// Package models - access_grant.go defines the AccessGrant model: one cross-tenant
// admin's consent state for one tenant, and the legal transitions between states.
package models

import (
	"time"

	"github.com/google/uuid"
)

// GrantStatus is the lifecycle state of an access grant.
type GrantStatus string

const (
	GrantStatusPending  GrantStatus = "pending"
	GrantStatusApproved GrantStatus = "approved"
	GrantStatusDenied   GrantStatus = "denied"
	GrantStatusRevoked  GrantStatus = "revoked"
)

// grantTransitions lists every legal edge. denied and revoked have none.
var grantTransitions = map[GrantStatus][]GrantStatus{
	GrantStatusPending:  {GrantStatusApproved, GrantStatusDenied},
	GrantStatusApproved: {GrantStatusRevoked},
}

// IsValid reports whether s is one of the known statuses.
func (s GrantStatus) IsValid() bool {
	switch s {
	case GrantStatusPending, GrantStatusApproved, GrantStatusDenied, GrantStatusRevoked:
		return true
	}
	return false
}

// IsActive reports whether s counts toward the one-active-grant-per-pair rule.
func (s GrantStatus) IsActive() bool {
	return s == GrantStatusPending || s == GrantStatusApproved
}

// IsTerminal reports whether no further transition is possible.
func (s GrantStatus) IsTerminal() bool {
	return s == GrantStatusDenied || s == GrantStatusRevoked
}

// CanTransitionTo reports whether s -> next is a legal transition.
func (s GrantStatus) CanTransitionTo(next GrantStatus) bool {
	for _, allowed := range grantTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// AccessGrant represents a cross-tenant admin's request for, and the owner's
// decision on, access to one tenant. Rows are never deleted.
type AccessGrant struct {
	ID             uuid.UUID   `db:"id" json:"id"`
	AdminID        uuid.UUID   `db:"admin_id" json:"admin_id"`
	TenantID       uuid.UUID   `db:"tenant_id" json:"tenant_id"`
	TenantOwnerID  uuid.UUID   `db:"tenant_owner_id" json:"tenant_owner_id"`
	Status         GrantStatus `db:"status" json:"status"`
	RequestReason  string      `db:"request_reason" json:"request_reason"`
	DecisionReason *string     `db:"decision_reason" json:"decision_reason,omitempty"`
	DecidedBy      *string     `db:"decided_by" json:"decided_by,omitempty"` // owner id, or "system" for direct grants
	RequestedAt    time.Time   `db:"requested_at" json:"requested_at"`
	DecidedAt      *time.Time  `db:"decided_at" json:"decided_at,omitempty"`
	RevokedAt      *time.Time  `db:"revoked_at" json:"revoked_at,omitempty"`

	// Joined fields (not in DB)
	TenantName string `db:"-" json:"tenant_name,omitempty"`
}
