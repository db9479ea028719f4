package access

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidator_Authorize(t *testing.T) {
	store := newFakeGrants()
	v := NewValidator(NewRegistry(store))
	ctx := context.Background()

	home := uuid.New()
	granted := uuid.New()
	other := uuid.New()
	admin := uuid.New()
	store.approve(admin, granted)

	tests := []struct {
		name      string
		principal Principal
		tenant    string
		allowed   bool
	}{
		{"owner reads home", Principal{ID: uuid.NewString(), Role: RoleOwner, HomeTenantID: home.String()}, home.String(), true},
		{"owner reads home uppercase", Principal{ID: uuid.NewString(), Role: RoleOwner, HomeTenantID: home.String()}, strings.ToUpper(home.String()), true},
		{"owner reads other", Principal{ID: uuid.NewString(), Role: RoleOwner, HomeTenantID: home.String()}, other.String(), false},
		{"admin reads granted", Principal{ID: admin.String(), Role: RoleCrossTenantAdmin}, granted.String(), true},
		{"admin reads ungranted", Principal{ID: admin.String(), Role: RoleCrossTenantAdmin}, other.String(), false},
		{"admin home tenant is not implicit", Principal{ID: admin.String(), Role: RoleCrossTenantAdmin, HomeTenantID: home.String()}, home.String(), false},
		{"super operator reads anything", Principal{ID: uuid.NewString(), Role: RoleSuperOperator}, other.String(), true},
		{"unknown role", Principal{ID: uuid.NewString(), Role: "auditor", HomeTenantID: home.String()}, home.String(), false},
		{"empty principal", Principal{Role: RoleSuperOperator}, home.String(), false},
		{"malformed tenant", Principal{ID: uuid.NewString(), Role: RoleSuperOperator}, "../etc", false},
		{"empty tenant", Principal{ID: admin.String(), Role: RoleCrossTenantAdmin}, "", false},
		{"super operator without tenant", Principal{ID: uuid.NewString(), Role: RoleSuperOperator}, "", true},
		{"super operator blank tenant", Principal{ID: uuid.NewString(), Role: RoleSuperOperator}, "  ", true},
		{"owner without tenant", Principal{ID: uuid.NewString(), Role: RoleOwner}, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Authorize(ctx, tt.principal, tt.tenant)
			if tt.allowed {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrForbidden), "want ErrForbidden, got %v", err)
		})
	}
}

func TestValidator_DenialMessageIsGeneric(t *testing.T) {
	v := NewValidator(NewRegistry(newFakeGrants()))
	p := Principal{ID: uuid.NewString(), Role: RoleOwner, HomeTenantID: uuid.NewString()}

	errExisting := v.Authorize(context.Background(), p, uuid.NewString())
	errMalformed := v.Authorize(context.Background(), p, "nope")
	assert.Equal(t, errExisting.Error(), errMalformed.Error())
}

func TestValidator_RegistryFailureIsNotForbidden(t *testing.T) {
	store := newFakeGrants()
	store.err = errors.New("db down")
	v := NewValidator(NewRegistry(store))

	err := v.Authorize(context.Background(), Principal{ID: uuid.NewString(), Role: RoleCrossTenantAdmin}, uuid.NewString())
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrForbidden))
}

func TestValidator_RevokedAdminDeniedImmediately(t *testing.T) {
	store := newFakeGrants()
	v := NewValidator(NewRegistry(store))
	admin, tenant := uuid.New(), uuid.New()
	p := Principal{ID: admin.String(), Role: RoleCrossTenantAdmin}

	store.approve(admin, tenant)
	require.NoError(t, v.Authorize(context.Background(), p, tenant.String()))

	store.revoke(admin, tenant)
	assert.ErrorIs(t, v.Authorize(context.Background(), p, tenant.String()), ErrForbidden)
}
