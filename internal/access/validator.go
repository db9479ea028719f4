package access

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

// Validator authorizes reads that target an explicit tenant id.
type Validator struct {
	registry *Registry
}

// NewValidator creates a Validator backed by registry.
func NewValidator(registry *Registry) *Validator {
	return &Validator{registry: registry}
}

// Authorize returns nil when p may read requestedTenantID and an ErrForbidden
// otherwise. Any other error is an infrastructure failure.
//
// The returned error never says whether the tenant exists; callers must render
// it the same way as a missing tenant.
func (v *Validator) Authorize(ctx context.Context, p Principal, requestedTenantID string) error {
	if p.ID == "" {
		return Forbiddenf("access denied")
	}

	requested, ok := CanonicalTenantID(requestedTenantID)
	if p.Role == RoleSuperOperator {
		// No tenant at all is fine for a super operator; a malformed one is
		// still not a tenant.
		if ok || strings.TrimSpace(requestedTenantID) == "" {
			return nil
		}
		return Forbiddenf("access denied")
	}
	if !ok {
		return Forbiddenf("access denied")
	}

	switch p.Role {
	case RoleOwner:
		home, ok := CanonicalTenantID(p.HomeTenantID)
		if ok && home == requested {
			return nil
		}
		return Forbiddenf("access denied")

	case RoleCrossTenantAdmin:
		tenants, err := v.registry.ComputeAccessibleTenants(ctx, p.ID)
		if err != nil {
			return err
		}
		if tenants.Contains(requested) {
			return nil
		}
		return Forbiddenf("access denied")

	default:
		return Forbiddenf("access denied")
	}
}

// CanonicalTenantID normalises a UUID tenant id so header, path and token variants
// compare equal. Non-UUID values are rejected.
func CanonicalTenantID(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return "", false
	}
	return id.String(), true
}
