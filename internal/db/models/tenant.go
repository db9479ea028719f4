// Package models - tenant.go defines the Tenant reference record (a "shop") used to
// resolve ownership when grants are requested and decided.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Tenant is an isolated unit of business data owned by exactly one owner.
type Tenant struct {
	ID        uuid.UUID `db:"id" json:"id"`
	OwnerID   uuid.UUID `db:"owner_id" json:"owner_id"`
	Name      string    `db:"name" json:"name"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
