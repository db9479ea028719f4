package audit

import (
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/shopdesk/shopdesk/internal/db/models"
)

// Digester computes BLAKE2b-256 digests over the canonical form of an audit
// event. With a key it is a MAC: a row rewritten by someone without the key
// no longer verifies.
type Digester struct {
	key []byte
}

// NewDigester creates a Digester. key may be empty (plain digest) or up to 64
// bytes.
func NewDigester(key []byte) (*Digester, error) {
	if len(key) > blake2b.Size {
		return nil, fmt.Errorf("audit digest key must be at most %d bytes, got %d", blake2b.Size, len(key))
	}
	return &Digester{key: append([]byte(nil), key...)}, nil
}

// canonicalEvent fixes field order and representation. Details keys are
// sorted by encoding/json.
type canonicalEvent struct {
	ID              string                 `json:"id"`
	OccurredAt      string                 `json:"occurred_at"`
	ActorID         string                 `json:"actor_id"`
	ActorRole       string                 `json:"actor_role"`
	EventType       string                 `json:"event_type"`
	SubjectTenantID string                 `json:"subject_tenant_id"`
	RelatedGrantID  string                 `json:"related_grant_id"`
	Details         map[string]interface{} `json:"details"`
	SourceIP        string                 `json:"source_ip"`
	UserAgent       string                 `json:"user_agent"`
	RequestID       string                 `json:"request_id"`
}

// Sum returns the hex digest of e. Sequence and Digest itself are excluded.
func (d *Digester) Sum(e *models.AuditEvent) (string, error) {
	c := canonicalEvent{
		ID:              e.ID.String(),
		OccurredAt:      e.OccurredAt.UTC().Format(time.RFC3339Nano),
		ActorID:         e.ActorID,
		ActorRole:       e.ActorRole,
		EventType:       string(e.EventType),
		SubjectTenantID: e.SubjectTenantID,
		Details:         e.Details,
		SourceIP:        e.SourceIP,
		UserAgent:       e.UserAgent,
		RequestID:       e.RequestID,
	}
	if e.RelatedGrantID != nil {
		c.RelatedGrantID = e.RelatedGrantID.String()
	}
	if c.Details == nil {
		c.Details = map[string]interface{}{}
	}

	payload, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("failed to encode audit event for digest: %w", err)
	}

	var h hash.Hash
	h, err = blake2b.New256(d.key)
	if err != nil {
		return "", fmt.Errorf("failed to create digest: %w", err)
	}
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Verify reports whether e.Digest matches its content.
func (d *Digester) Verify(e *models.AuditEvent) bool {
	want, err := d.Sum(e)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(want), []byte(e.Digest)) == 1
}
