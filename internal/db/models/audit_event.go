// Package models - audit_event.go defines the append-only AuditEvent record written for
// every grant transition and every tenant-id sanitization.
package models

import (
	"time"

	"github.com/google/uuid"
)

// AuditEventType names an authorization-relevant event.
type AuditEventType string

const (
	EventGrantRequested    AuditEventType = "grant_requested"
	EventGrantApproved     AuditEventType = "grant_approved"
	EventGrantDenied       AuditEventType = "grant_denied"
	EventGrantRevoked      AuditEventType = "grant_revoked"
	EventTenantIDSanitized AuditEventType = "tenant_id_sanitized"
)

// IsValid reports whether t is a known event type.
func (t AuditEventType) IsValid() bool {
	switch t {
	case EventGrantRequested, EventGrantApproved, EventGrantDenied, EventGrantRevoked, EventTenantIDSanitized:
		return true
	}
	return false
}

// SystemActorID is recorded as the actor of automatic decisions.
const SystemActorID = "system"

// AuditEvent is one row of the audit trail. Sequence is assigned by the
// database and defines the order returned by queries.
type AuditEvent struct {
	Sequence        int64                  `db:"sequence" json:"sequence"`
	ID              uuid.UUID              `db:"id" json:"id"`
	OccurredAt      time.Time              `db:"occurred_at" json:"timestamp"`
	ActorID         string                 `db:"actor_id" json:"actor_id"`
	ActorRole       string                 `db:"actor_role" json:"actor_role"`
	EventType       AuditEventType         `db:"event_type" json:"event_type"`
	SubjectTenantID string                 `db:"subject_tenant_id" json:"subject_tenant_id"`
	RelatedGrantID  *uuid.UUID             `db:"related_grant_id" json:"related_grant_id,omitempty"`
	Details         map[string]interface{} `db:"-" json:"details"` // JSONB
	SourceIP        string                 `db:"source_ip" json:"source_ip"`
	UserAgent       string                 `db:"user_agent" json:"user_agent"`
	RequestID       string                 `db:"request_id" json:"request_id,omitempty"`
	Digest          string                 `db:"digest" json:"digest"`
}

// RequestMeta carries the transport details stamped onto audit events.
type RequestMeta struct {
	SourceIP  string
	UserAgent string
	RequestID string
}

// Apply copies the request details onto e.
func (m RequestMeta) Apply(e *AuditEvent) {
	e.SourceIP = m.SourceIP
	e.UserAgent = m.UserAgent
	e.RequestID = m.RequestID
}
