package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/shopdesk/shopdesk/internal/db/models"
)

// ---------------------------------------------------------------------------
// Column definitions
// ---------------------------------------------------------------------------

var grantCols = []string{
	"id", "admin_id", "tenant_id", "tenant_owner_id", "status", "request_reason",
	"decision_reason", "decided_by", "requested_at", "decided_at", "revoked_at",
}

var pendingGrantCols = append(append([]string{}, grantCols...), "name")

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

var (
	testGrantID  = uuid.MustParse("11111111-1111-1111-1111-111111111111")
	testAdminID  = uuid.MustParse("22222222-2222-2222-2222-222222222222")
	testTenantID = uuid.MustParse("33333333-3333-3333-3333-333333333333")
	testOwnerID  = uuid.MustParse("44444444-4444-4444-4444-444444444444")
)

func newGrantRepo(t *testing.T) (*GrantRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock := newMockDB(t)
	return NewGrantRepository(db), mock
}

func grantRow(status models.GrantStatus) *sqlmock.Rows {
	return sqlmock.NewRows(grantCols).AddRow(
		testGrantID.String(), testAdminID.String(), testTenantID.String(), testOwnerID.String(),
		string(status), "support ticket #7", nil, nil, time.Now(), nil, nil,
	)
}

// ---------------------------------------------------------------------------
// Create
// ---------------------------------------------------------------------------

func TestGrantCreate_Success(t *testing.T) {
	repo, mock := newGrantRepo(t)
	mock.ExpectExec("INSERT INTO access_grants").
		WillReturnResult(sqlmock.NewResult(0, 1))

	g := &models.AccessGrant{
		AdminID: testAdminID, TenantID: testTenantID, TenantOwnerID: testOwnerID,
		Status: models.GrantStatusPending, RequestReason: "support ticket #7",
	}
	if err := repo.Create(context.Background(), repo.db, g); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if g.ID == uuid.Nil {
		t.Error("Create should assign an ID")
	}
	if g.RequestedAt.IsZero() {
		t.Error("Create should stamp RequestedAt")
	}
}

func TestGrantCreate_ActivePairViolation(t *testing.T) {
	repo, mock := newGrantRepo(t)
	mock.ExpectExec("INSERT INTO access_grants").
		WillReturnError(&pq.Error{Code: pqUniqueViolation, Constraint: activeGrantPairIndex})

	err := repo.Create(context.Background(), repo.db, &models.AccessGrant{Status: models.GrantStatusPending})
	if !errors.Is(err, ErrActiveGrantExists) {
		t.Fatalf("err = %v, want ErrActiveGrantExists", err)
	}
}

func TestGrantCreate_DBError(t *testing.T) {
	repo, mock := newGrantRepo(t)
	mock.ExpectExec("INSERT INTO access_grants").WillReturnError(errDB)

	err := repo.Create(context.Background(), repo.db, &models.AccessGrant{})
	if !errors.Is(err, errDB) {
		t.Fatalf("err = %v, want errDB", err)
	}
}

// ---------------------------------------------------------------------------
// FindActive
// ---------------------------------------------------------------------------

func TestGrantFindActive_Found(t *testing.T) {
	repo, mock := newGrantRepo(t)
	mock.ExpectQuery("SELECT id.*FROM access_grants.*status IN \\('pending', 'approved'\\)").
		WithArgs(testAdminID, testTenantID).
		WillReturnRows(grantRow(models.GrantStatusPending))

	g, err := repo.FindActive(context.Background(), repo.db, testAdminID, testTenantID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if g == nil || g.Status != models.GrantStatusPending {
		t.Fatalf("got %+v, want pending grant", g)
	}
}

func TestGrantFindActive_None(t *testing.T) {
	repo, mock := newGrantRepo(t)
	mock.ExpectQuery("SELECT id.*FROM access_grants").
		WillReturnRows(sqlmock.NewRows(grantCols))

	g, err := repo.FindActive(context.Background(), repo.db, testAdminID, testTenantID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if g != nil {
		t.Errorf("expected nil, got %+v", g)
	}
}

// ---------------------------------------------------------------------------
// GetForUpdate / UpdateStatus
// ---------------------------------------------------------------------------

func TestGrantGetForUpdate_LocksRow(t *testing.T) {
	repo, mock := newGrantRepo(t)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id.*FROM access_grants WHERE id = \\$1 FOR UPDATE").
		WithArgs(testGrantID).
		WillReturnRows(grantRow(models.GrantStatusApproved))
	mock.ExpectRollback()

	tx, err := repo.db.Beginx()
	if err != nil {
		t.Fatalf("Beginx: %v", err)
	}
	defer tx.Rollback()

	g, err := repo.GetForUpdate(context.Background(), tx, testGrantID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if g.Status != models.GrantStatusApproved || g.TenantOwnerID != testOwnerID {
		t.Errorf("unexpected grant: %+v", g)
	}
}

func TestGrantGetForUpdate_NotFound(t *testing.T) {
	repo, mock := newGrantRepo(t)
	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").WillReturnRows(sqlmock.NewRows(grantCols))
	mock.ExpectRollback()

	tx, _ := repo.db.Beginx()
	defer tx.Rollback()

	g, err := repo.GetForUpdate(context.Background(), tx, testGrantID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if g != nil {
		t.Errorf("expected nil, got %+v", g)
	}
}

func TestGrantUpdateStatus_GuardsPriorStatus(t *testing.T) {
	repo, mock := newGrantRepo(t)
	now := time.Now().UTC()
	owner := testOwnerID.String()
	g := &models.AccessGrant{ID: testGrantID, Status: models.GrantStatusApproved, DecidedBy: &owner, DecidedAt: &now}

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE access_grants.*WHERE id = \\$6 AND status = \\$7").
		WithArgs(models.GrantStatusApproved, nil, &owner, &now, nil, testGrantID, models.GrantStatusPending).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	tx, _ := repo.db.Beginx()
	if err := repo.UpdateStatus(context.Background(), tx, g, models.GrantStatusPending); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestGrantUpdateStatus_StaleRow(t *testing.T) {
	repo, mock := newGrantRepo(t)
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE access_grants").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	tx, _ := repo.db.Beginx()
	defer tx.Rollback()

	err := repo.UpdateStatus(context.Background(), tx,
		&models.AccessGrant{ID: testGrantID, Status: models.GrantStatusDenied}, models.GrantStatusPending)
	if !errors.Is(err, ErrStaleGrant) {
		t.Fatalf("err = %v, want ErrStaleGrant", err)
	}
}

// ---------------------------------------------------------------------------
// Reads
// ---------------------------------------------------------------------------

func TestGrantGetByID_NotFound(t *testing.T) {
	repo, mock := newGrantRepo(t)
	mock.ExpectQuery("SELECT id.*FROM access_grants WHERE id").
		WillReturnRows(sqlmock.NewRows(grantCols))

	g, err := repo.GetByID(context.Background(), testGrantID)
	if err != nil || g != nil {
		t.Fatalf("GetByID = %v, %v; want nil, nil", g, err)
	}
}

func TestGrantListPendingForOwner_OldestFirst(t *testing.T) {
	repo, mock := newGrantRepo(t)
	older := time.Now().Add(-2 * time.Hour)
	newer := time.Now().Add(-time.Hour)
	secondID := uuid.New()

	mock.ExpectQuery("SELECT g.id.*FROM access_grants g.*JOIN tenants t.*ORDER BY g.requested_at ASC").
		WithArgs(testOwnerID).
		WillReturnRows(sqlmock.NewRows(pendingGrantCols).
			AddRow(testGrantID.String(), testAdminID.String(), testTenantID.String(), testOwnerID.String(),
				"pending", "first", nil, nil, older, nil, nil, "Main Street Repairs").
			AddRow(secondID.String(), uuid.New().String(), testTenantID.String(), testOwnerID.String(),
				"pending", "second", nil, nil, newer, nil, nil, "Main Street Repairs"))

	grants, err := repo.ListPendingForOwner(context.Background(), testOwnerID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(grants) != 2 {
		t.Fatalf("len = %d, want 2", len(grants))
	}
	if grants[0].ID != testGrantID || grants[1].ID != secondID {
		t.Errorf("unexpected order: %s, %s", grants[0].ID, grants[1].ID)
	}
	if grants[0].TenantName != "Main Street Repairs" {
		t.Errorf("TenantName = %q", grants[0].TenantName)
	}
}

// Ownership follows the owner recorded on the grant, the same value the
// decision path checks, not the tenant's current owner.
func TestGrantListPendingForOwner_FiltersOnOwnerSnapshot(t *testing.T) {
	repo, mock := newGrantRepo(t)
	mock.ExpectQuery(`WHERE g\.tenant_owner_id = \$1 AND g\.status = 'pending'`).
		WithArgs(testOwnerID).
		WillReturnRows(sqlmock.NewRows(pendingGrantCols))

	grants, err := repo.ListPendingForOwner(context.Background(), testOwnerID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(grants) != 0 {
		t.Fatalf("len = %d, want 0", len(grants))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGrantListPendingForOwner_DBError(t *testing.T) {
	repo, mock := newGrantRepo(t)
	mock.ExpectQuery("SELECT g.id").WillReturnError(errDB)

	if _, err := repo.ListPendingForOwner(context.Background(), testOwnerID); !errors.Is(err, errDB) {
		t.Fatalf("err = %v, want errDB", err)
	}
}

func TestGrantListForAdmin(t *testing.T) {
	repo, mock := newGrantRepo(t)
	mock.ExpectQuery("SELECT id.*FROM access_grants.*WHERE admin_id = \\$1.*ORDER BY requested_at DESC").
		WithArgs(testAdminID).
		WillReturnRows(grantRow(models.GrantStatusRevoked))

	grants, err := repo.ListForAdmin(context.Background(), testAdminID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(grants) != 1 || grants[0].Status != models.GrantStatusRevoked {
		t.Errorf("unexpected grants: %+v", grants)
	}
}

func TestGrantListApprovedTenantIDs(t *testing.T) {
	repo, mock := newGrantRepo(t)
	other := uuid.New()
	mock.ExpectQuery("SELECT tenant_id FROM access_grants WHERE admin_id = \\$1 AND status = 'approved'").
		WithArgs(testAdminID).
		WillReturnRows(sqlmock.NewRows([]string{"tenant_id"}).
			AddRow(testTenantID.String()).
			AddRow(other.String()))

	ids, err := repo.ListApprovedTenantIDs(context.Background(), testAdminID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ids) != 2 || ids[0] != testTenantID || ids[1] != other {
		t.Errorf("ids = %v", ids)
	}
}

// ---------------------------------------------------------------------------
// Statistics
// ---------------------------------------------------------------------------

func TestGrantCountByStatus(t *testing.T) {
	repo, mock := newGrantRepo(t)
	mock.ExpectQuery("SELECT status, COUNT\\(\\*\\) FROM access_grants GROUP BY status").
		WillReturnRows(sqlmock.NewRows([]string{"status", "count"}).
			AddRow("pending", 3).
			AddRow("revoked", 1))

	counts, err := repo.CountByStatus(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if counts[models.GrantStatusPending] != 3 || counts[models.GrantStatusRevoked] != 1 {
		t.Errorf("counts = %v", counts)
	}
}

func TestGrantOldestPendingRequestedAt_Empty(t *testing.T) {
	repo, mock := newGrantRepo(t)
	mock.ExpectQuery("SELECT MIN\\(requested_at\\)").
		WillReturnRows(sqlmock.NewRows([]string{"min"}).AddRow(nil))

	oldest, err := repo.OldestPendingRequestedAt(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if oldest != nil {
		t.Errorf("expected nil, got %v", oldest)
	}
}
