package access

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeGrants is an in-memory ApprovedTenantLister whose contents tests mutate
// between calls to prove nothing is cached.
type fakeGrants struct {
	mu       sync.Mutex
	approved map[uuid.UUID][]uuid.UUID
	calls    int
	err      error
}

func newFakeGrants() *fakeGrants {
	return &fakeGrants{approved: map[uuid.UUID][]uuid.UUID{}}
}

func (f *fakeGrants) ListApprovedTenantIDs(_ context.Context, adminID uuid.UUID) ([]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return append([]uuid.UUID(nil), f.approved[adminID]...), nil
}

func (f *fakeGrants) approve(admin, tenant uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.approved[admin] = append(f.approved[admin], tenant)
}

func (f *fakeGrants) revoke(admin, tenant uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.approved[admin][:0]
	for _, t := range f.approved[admin] {
		if t != tenant {
			kept = append(kept, t)
		}
	}
	f.approved[admin] = kept
}

func TestRegistry_RevocationVisibleOnNextCall(t *testing.T) {
	store := newFakeGrants()
	reg := NewRegistry(store)
	admin, tenant := uuid.New(), uuid.New()
	ctx := context.Background()

	store.approve(admin, tenant)
	set, err := reg.ComputeAccessibleTenants(ctx, admin.String())
	require.NoError(t, err)
	assert.True(t, set.Contains(tenant.String()))

	store.revoke(admin, tenant)
	set, err = reg.ComputeAccessibleTenants(ctx, admin.String())
	require.NoError(t, err)
	assert.False(t, set.Contains(tenant.String()), "revoked tenant still accessible")
	assert.Equal(t, 2, store.calls, "every call must read the store")
}

func TestRegistry_MalformedAdminIDHasNoTenants(t *testing.T) {
	store := newFakeGrants()
	set, err := NewRegistry(store).ComputeAccessibleTenants(context.Background(), "not-a-uuid")
	require.NoError(t, err)
	assert.Empty(t, set)
	assert.Zero(t, store.calls)
}

func TestRegistry_StoreErrorPropagates(t *testing.T) {
	store := newFakeGrants()
	store.err = errors.New("connection refused")

	_, err := NewRegistry(store).ComputeAccessibleTenants(context.Background(), uuid.NewString())
	require.Error(t, err)
	assert.ErrorIs(t, err, store.err)
}

func TestTenantSet_Sorted(t *testing.T) {
	set := TenantSet{"b": {}, "a": {}, "c": {}}
	assert.Equal(t, []string{"a", "b", "c"}, set.Sorted())
}
