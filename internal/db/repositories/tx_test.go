package repositories

import (
	"context"
	"errors"
	"fmt"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

var errDB = errors.New("db error")

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return sqlx.NewDb(db, "sqlmock"), mock
}

func serializationErr() error {
	return &pq.Error{Code: pqSerializationFailure, Message: "could not serialize access"}
}

// ---------------------------------------------------------------------------
// InTx
// ---------------------------------------------------------------------------

func TestInTx_CommitsOnSuccess(t *testing.T) {
	db, mock := newMockDB(t)
	runner := NewTxRunner(db, 0)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE access_grants").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := runner.InTx(context.Background(), func(tx *sqlx.Tx) error {
		_, err := tx.Exec("UPDATE access_grants SET status = 'approved'")
		return err
	})
	if err != nil {
		t.Fatalf("InTx: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestInTx_RollsBackOnError(t *testing.T) {
	db, mock := newMockDB(t)
	runner := NewTxRunner(db, 0)

	mock.ExpectBegin()
	mock.ExpectRollback()

	sentinel := errors.New("precondition failed")
	err := runner.InTx(context.Background(), func(tx *sqlx.Tx) error { return sentinel })
	if !errors.Is(err, sentinel) {
		t.Fatalf("err = %v, want %v", err, sentinel)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestInTx_RetriesOnceOnSerializationFailure(t *testing.T) {
	db, mock := newMockDB(t)
	runner := NewTxRunner(db, 0)

	mock.ExpectBegin()
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectCommit()

	calls := 0
	err := runner.InTx(context.Background(), func(tx *sqlx.Tx) error {
		calls++
		if calls == 1 {
			return fmt.Errorf("failed to lock access grant: %w", serializationErr())
		}
		return nil
	})
	if err != nil {
		t.Fatalf("InTx: %v", err)
	}
	if calls != 2 {
		t.Errorf("fn called %d times, want 2", calls)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestInTx_SecondConflictIsRetriable(t *testing.T) {
	db, mock := newMockDB(t)
	runner := NewTxRunner(db, 0)

	mock.ExpectBegin()
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectRollback()

	calls := 0
	err := runner.InTx(context.Background(), func(tx *sqlx.Tx) error {
		calls++
		return &pq.Error{Code: pqDeadlockDetected}
	})
	if !errors.Is(err, ErrRetriable) {
		t.Fatalf("err = %v, want ErrRetriable", err)
	}
	if calls != maxTxAttempts {
		t.Errorf("fn called %d times, want %d", calls, maxTxAttempts)
	}
}

func TestInTx_CommitSerializationFailureRetried(t *testing.T) {
	db, mock := newMockDB(t)
	runner := NewTxRunner(db, 0)

	mock.ExpectBegin()
	mock.ExpectCommit().WillReturnError(serializationErr())
	mock.ExpectBegin()
	mock.ExpectCommit()

	if err := runner.InTx(context.Background(), func(tx *sqlx.Tx) error { return nil }); err != nil {
		t.Fatalf("InTx: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestInTx_BeginError(t *testing.T) {
	db, mock := newMockDB(t)
	runner := NewTxRunner(db, 0)

	mock.ExpectBegin().WillReturnError(errDB)

	err := runner.InTx(context.Background(), func(tx *sqlx.Tx) error {
		t.Fatal("fn must not run when begin fails")
		return nil
	})
	if !errors.Is(err, errDB) {
		t.Fatalf("err = %v, want errDB", err)
	}
}

// ---------------------------------------------------------------------------
// Error classification
// ---------------------------------------------------------------------------

func TestIsSerializationFailure(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"serialization", serializationErr(), true},
		{"deadlock", &pq.Error{Code: pqDeadlockDetected}, true},
		{"wrapped", fmt.Errorf("outer: %w", serializationErr()), true},
		{"unique violation", &pq.Error{Code: pqUniqueViolation}, false},
		{"plain", errDB, false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsSerializationFailure(tt.err); got != tt.want {
				t.Errorf("IsSerializationFailure = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsUniqueViolation_Constraint(t *testing.T) {
	err := &pq.Error{Code: pqUniqueViolation, Constraint: activeGrantPairIndex}
	if !isUniqueViolation(err, activeGrantPairIndex) {
		t.Error("expected match on constraint name")
	}
	if isUniqueViolation(err, "other_idx") {
		t.Error("unexpected match on other constraint")
	}
	if !isUniqueViolation(err, "") {
		t.Error("empty constraint should match any unique violation")
	}
}
