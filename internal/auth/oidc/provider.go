// Package oidc verifies ID tokens from an external OpenID Connect provider and maps them
// onto shopdesk principals. Login itself happens at the identity provider; shopdesk only
// validates the bearer token it is handed.
package oidc

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"

	"github.com/shopdesk/shopdesk/internal/access"
	"github.com/shopdesk/shopdesk/internal/config"
)

const (
	defaultRoleClaim   = "shopdesk_role"
	defaultTenantClaim = "home_tenant_id"
)

// Verifier wraps the generic OIDC ID token verifier
type Verifier struct {
	verifier    *oidc.IDTokenVerifier
	roleClaim   string
	tenantClaim string
}

// NewVerifier discovers the provider at cfg.IssuerURL and returns a verifier
// for tokens issued to cfg.ClientID.
func NewVerifier(ctx context.Context, cfg *config.OIDCConfig) (*Verifier, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("OIDC is not enabled")
	}
	if cfg.IssuerURL == "" {
		return nil, fmt.Errorf("OIDC issuer URL is required")
	}
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("OIDC client ID is required")
	}

	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create OIDC provider: %w", err)
	}

	return newVerifier(provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}), cfg), nil
}

// NewVerifierWithKeySet builds a verifier without discovery, checking
// signatures against keySet.
func NewVerifierWithKeySet(keySet oidc.KeySet, cfg *config.OIDCConfig) *Verifier {
	return newVerifier(oidc.NewVerifier(cfg.IssuerURL, keySet, &oidc.Config{ClientID: cfg.ClientID}), cfg)
}

func newVerifier(v *oidc.IDTokenVerifier, cfg *config.OIDCConfig) *Verifier {
	roleClaim := cfg.RoleClaim
	if roleClaim == "" {
		roleClaim = defaultRoleClaim
	}
	tenantClaim := cfg.TenantClaim
	if tenantClaim == "" {
		tenantClaim = defaultTenantClaim
	}
	return &Verifier{verifier: v, roleClaim: roleClaim, tenantClaim: tenantClaim}
}

// Verify checks the ID token and returns the principal it describes. The
// subject becomes the principal id.
func (v *Verifier) Verify(ctx context.Context, rawIDToken string) (access.Principal, error) {
	idToken, err := v.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return access.Principal{}, fmt.Errorf("failed to verify ID token: %w", err)
	}

	var raw map[string]interface{}
	if err := idToken.Claims(&raw); err != nil {
		return access.Principal{}, fmt.Errorf("failed to parse ID token claims: %w", err)
	}

	if idToken.Subject == "" {
		return access.Principal{}, fmt.Errorf("ID token missing 'sub' claim")
	}

	role, _ := raw[v.roleClaim].(string)
	if !access.Role(role).IsValid() {
		return access.Principal{}, fmt.Errorf("ID token has no valid %q claim", v.roleClaim)
	}
	tenant, _ := raw[v.tenantClaim].(string)

	return access.Principal{ID: idToken.Subject, Role: access.Role(role), HomeTenantID: tenant}, nil
}
