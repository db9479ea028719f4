// audit_archiver.go implements the AuditArchiver background job, which exports each
// completed UTC day of the audit trail to the archive backend as a JSON-lines object
// (audit/yyyy/mm/dd.jsonl), optionally with a detached OpenPGP signature alongside
// (dd.jsonl.asc). Every exported event's digest is re-verified on the way out; a
// mismatch is logged and counted but the event is still archived exactly as stored,
// so the archive reflects what the database held. Days already present in the
// archive are skipped, which makes the job safe to run on every replica.
package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopdesk/shopdesk/internal/audit"
	"github.com/shopdesk/shopdesk/internal/config"
	"github.com/shopdesk/shopdesk/internal/db/models"
	"github.com/shopdesk/shopdesk/internal/storage"
	"github.com/shopdesk/shopdesk/internal/telemetry"
	"github.com/shopdesk/shopdesk/internal/validation"
)

// archiveSettleDelay keeps a day open briefly after midnight so transactions
// that stamped an event just before midnight have committed.
const archiveSettleDelay = 5 * time.Minute

const archiveContentType = "application/x-ndjson"

// AuditReader is the slice of the audit repository the archiver needs.
type AuditReader interface {
	ListBetween(ctx context.Context, from, to time.Time) ([]*models.AuditEvent, error)
}

// ArchiveRun summarizes one archiver pass.
type ArchiveRun struct {
	Written    []string
	Skipped    int
	Mismatches int
}

// AuditArchiver periodically exports completed days of the audit trail.
type AuditArchiver struct {
	events   AuditReader
	store    storage.Storage
	digester *audit.Digester
	signer   *validation.ArchiveSigner // nil: archives are not signed
	interval time.Duration
	lookback int
	now      func() time.Time
	stopChan chan struct{}
}

// NewAuditArchiver creates a new AuditArchiver. signer may be nil.
func NewAuditArchiver(
	events AuditReader,
	store storage.Storage,
	digester *audit.Digester,
	signer *validation.ArchiveSigner,
	cfg *config.ArchiveConfig,
) *AuditArchiver {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	lookback := cfg.LookbackDays
	if lookback <= 0 {
		lookback = 7
	}
	return &AuditArchiver{
		events:   events,
		store:    store,
		digester: digester,
		signer:   signer,
		interval: interval,
		lookback: lookback,
		now:      time.Now,
		stopChan: make(chan struct{}),
	}
}

// Start runs an archive pass immediately, then on every interval, until ctx
// is cancelled or Stop is called.
func (a *AuditArchiver) Start(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	signed := a.signer != nil
	slog.Info("audit archiver started", "interval", a.interval, "lookback_days", a.lookback, "signed", signed)

	a.run(ctx)

	for {
		select {
		case <-ticker.C:
			a.run(ctx)
		case <-a.stopChan:
			slog.Info("audit archiver stopped")
			return
		case <-ctx.Done():
			slog.Info("audit archiver context cancelled")
			return
		}
	}
}

// Stop signals the background loop to exit.
func (a *AuditArchiver) Stop() {
	close(a.stopChan)
}

func (a *AuditArchiver) run(ctx context.Context) {
	res, err := a.RunOnce(ctx)
	if err != nil {
		slog.Error("audit archiver pass failed", "error", err)
		return
	}
	if len(res.Written) > 0 || res.Mismatches > 0 {
		slog.Info("audit archiver pass complete",
			"written", len(res.Written), "skipped", res.Skipped, "digest_mismatches", res.Mismatches)
	}
}

// ArchivePath returns the object path for the UTC day containing t.
func ArchivePath(t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("audit/%04d/%02d/%02d.jsonl", t.Year(), t.Month(), t.Day())
}

// RunOnce archives every completed day in the lookback window that is not
// already in the archive, oldest first. It stops at the first failure so a
// later day is never archived ahead of a missing earlier one.
func (a *AuditArchiver) RunOnce(ctx context.Context) (*ArchiveRun, error) {
	res := &ArchiveRun{}
	cutoff := a.now().UTC().Add(-archiveSettleDelay)
	today := time.Date(cutoff.Year(), cutoff.Month(), cutoff.Day(), 0, 0, 0, 0, time.UTC)

	for d := a.lookback; d >= 1; d-- {
		day := today.AddDate(0, 0, -d)
		path := ArchivePath(day)

		exists, err := a.store.Exists(ctx, path)
		if err != nil {
			return res, fmt.Errorf("checking %s: %w", path, err)
		}
		if exists {
			res.Skipped++
			continue
		}

		mismatches, err := a.archiveDay(ctx, day, path)
		res.Mismatches += mismatches
		if err != nil {
			return res, fmt.Errorf("archiving %s: %w", path, err)
		}
		res.Written = append(res.Written, path)
	}
	return res, nil
}

func (a *AuditArchiver) archiveDay(ctx context.Context, day time.Time, path string) (int, error) {
	events, err := a.events.ListBetween(ctx, day, day.AddDate(0, 0, 1))
	if err != nil {
		return 0, err
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	mismatches := 0
	for _, e := range events {
		if !a.digester.Verify(e) {
			mismatches++
			telemetry.AuditDigestMismatchTotal.Inc()
			slog.Error("audit event digest mismatch",
				"event_id", e.ID, "sequence", e.Sequence, "event_type", e.EventType, "day", day.Format("2006-01-02"))
		}
		if err := enc.Encode(e); err != nil {
			return mismatches, fmt.Errorf("encoding event %s: %w", e.ID, err)
		}
	}

	data := buf.Bytes()

	// The signature goes first: the data object's presence marks the day done.
	if a.signer != nil && len(data) > 0 {
		sig, err := a.signer.Sign(data)
		if err != nil {
			return mismatches, err
		}
		if _, err := a.store.Put(ctx, path+".asc", sig, "application/pgp-signature"); err != nil {
			return mismatches, fmt.Errorf("writing signature: %w", err)
		}
	}

	put, err := a.store.Put(ctx, path, data, archiveContentType)
	if err != nil {
		return mismatches, err
	}

	telemetry.AuditArchivedDaysTotal.Inc()
	slog.Info("audit day archived", "path", put.Path, "events", len(events), "bytes", put.Size, "sha256", put.Checksum)
	return mismatches, nil
}
