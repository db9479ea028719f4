package access

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// ApprovedTenantLister reads the tenants an admin holds approved grants for.
// Implemented by repositories.GrantRepository.
type ApprovedTenantLister interface {
	ListApprovedTenantIDs(ctx context.Context, adminID uuid.UUID) ([]uuid.UUID, error)
}

// TenantSet is a set of tenant ids in canonical string form.
type TenantSet map[string]struct{}

// Contains reports whether tenantID is in the set.
func (s TenantSet) Contains(tenantID string) bool {
	_, ok := s[tenantID]
	return ok
}

// Sorted returns the members in ascending order.
func (s TenantSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Registry computes which tenants a cross-tenant admin may access right now.
// It keeps no state: every call is a fresh read of the grant store, so a
// revocation committed before the call is always visible.
type Registry struct {
	grants ApprovedTenantLister
}

// NewRegistry creates a Registry over the grant store.
func NewRegistry(grants ApprovedTenantLister) *Registry {
	return &Registry{grants: grants}
}

// ComputeAccessibleTenants returns the tenants adminID holds an approved grant
// for. A malformed admin id has no grants.
func (r *Registry) ComputeAccessibleTenants(ctx context.Context, adminID string) (TenantSet, error) {
	id, err := uuid.Parse(adminID)
	if err != nil {
		return TenantSet{}, nil
	}

	ids, err := r.grants.ListApprovedTenantIDs(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to compute accessible tenants: %w", err)
	}

	set := make(TenantSet, len(ids))
	for _, tid := range ids {
		set[tid.String()] = struct{}{}
	}
	return set, nil
}
