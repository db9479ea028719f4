// Package main mints a session token for local development so the API can be
// exercised with curl without an identity provider. It signs with the same
// SHOPDESK_JWT_SECRET the server validates with. Never use it in production.
package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/shopdesk/shopdesk/internal/access"
	"github.com/shopdesk/shopdesk/internal/auth"
)

func main() {
	var (
		id     = pflag.String("id", "", "principal id (uuid)")
		role   = pflag.String("role", string(access.RoleOwner), "owner, cross_tenant_admin or super_operator")
		tenant = pflag.String("tenant", "", "home tenant id (required for owners)")
		ttl    = pflag.Duration("ttl", time.Hour, "token lifetime")
	)
	pflag.Parse()

	p := access.Principal{ID: *id, Role: access.Role(*role), HomeTenantID: *tenant}
	if p.ID == "" {
		log.Fatal("--id is required")
	}
	if !p.Role.IsValid() {
		log.Fatalf("unknown role %q", *role)
	}
	if p.Role == access.RoleOwner && p.HomeTenantID == "" {
		log.Fatal("--tenant is required for owners")
	}

	if os.Getenv("SHOPDESK_JWT_SECRET") == "" {
		log.Println("Warning: SHOPDESK_JWT_SECRET is not set; the server will reject this token unless it runs in dev mode with the same secret")
	}

	token, err := auth.GenerateJWT(p, *ttl)
	if err != nil {
		log.Fatalf("failed to sign token: %v", err)
	}
	fmt.Printf("Authorization: Bearer %s\n", token)
}
