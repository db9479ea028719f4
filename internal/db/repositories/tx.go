// tx.go implements TxRunner, which executes a unit of work in one serializable
// transaction and retries it once when Postgres reports a serialization failure or deadlock.
package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/shopdesk/shopdesk/internal/telemetry"
)

// ErrRetriable is returned when a transaction kept losing to concurrent writers.
// The caller may try the whole request again.
var ErrRetriable = errors.New("concurrent update conflict, retry the request")

// SQLSTATE codes
const (
	pqSerializationFailure = "40001"
	pqDeadlockDetected     = "40P01"
	pqUniqueViolation      = "23505"
)

// maxTxAttempts is the initial attempt plus one automatic retry.
const maxTxAttempts = 2

// TxRunner runs closures inside database transactions.
type TxRunner struct {
	db        *sqlx.DB
	timeout   time.Duration
	isolation sql.IsolationLevel
}

// NewTxRunner creates a TxRunner using serializable isolation. A zero timeout
// leaves the caller's context deadline in charge.
func NewTxRunner(db *sqlx.DB, timeout time.Duration) *TxRunner {
	return &TxRunner{db: db, timeout: timeout, isolation: sql.LevelSerializable}
}

// InTx executes fn in a transaction. fn may be invoked twice, so it must not
// have side effects outside the transaction.
func (r *TxRunner) InTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	var lastErr error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err := r.runOnce(ctx, fn)
		if err == nil {
			if attempt > 1 {
				telemetry.TxRetriesTotal.WithLabelValues("recovered").Inc()
			}
			return nil
		}
		if !IsSerializationFailure(err) {
			return err
		}
		lastErr = err
		if attempt < maxTxAttempts {
			slog.Warn("transaction conflict, retrying", "attempt", attempt, "error", err)
		}
	}

	telemetry.TxRetriesTotal.WithLabelValues("exhausted").Inc()
	return fmt.Errorf("%w: %v", ErrRetriable, lastErr)
}

func (r *TxRunner) runOnce(ctx context.Context, fn func(tx *sqlx.Tx) error) (err error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	tx, err := r.db.BeginTxx(ctx, &sql.TxOptions{Isolation: r.isolation})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				slog.Error("failed to rollback transaction", "error", rbErr)
			}
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true
	return nil
}

// IsSerializationFailure reports whether err is a Postgres serialization
// failure or deadlock, anywhere in its chain.
func IsSerializationFailure(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == pqSerializationFailure || pqErr.Code == pqDeadlockDetected
	}
	return false
}

func isUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == pqUniqueViolation && (constraint == "" || pqErr.Constraint == constraint)
	}
	return false
}
