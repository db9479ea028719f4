// Package access implements request-time tenant authorization for shopdesk: the
// authenticated Principal, the grant-backed registry of tenants a cross-tenant admin
// may reach, the read validator, and the tenant-id sanitization guard for writes.
package access

// Role is the caller's actor class. There is no hierarchy between roles.
type Role string

const (
	RoleOwner            Role = "owner"
	RoleCrossTenantAdmin Role = "cross_tenant_admin"
	RoleSuperOperator    Role = "super_operator"
)

// IsValid reports whether r is a known role.
func (r Role) IsValid() bool {
	switch r {
	case RoleOwner, RoleCrossTenantAdmin, RoleSuperOperator:
		return true
	}
	return false
}

// Principal is the verified identity of the caller. HomeTenantID is the only
// trusted source of the caller's own tenant.
type Principal struct {
	ID           string `json:"id"`
	Role         Role   `json:"role"`
	HomeTenantID string `json:"home_tenant_id"`
}
