package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/kirillkom/conversation-insights/internal/core/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS batch_runs (
	run_id      TEXT PRIMARY KEY,
	profile     TEXT NOT NULL,
	source_id   TEXT NOT NULL,
	start_time  TEXT NOT NULL,
	input_key   TEXT NOT NULL,
	file_id     TEXT NOT NULL DEFAULT '',
	job_id      TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL,
	note        TEXT NOT NULL DEFAULT '',
	created_at  DATETIME NOT NULL,
	updated_at  DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_batch_runs_window ON batch_runs(profile, source_id, created_at);
CREATE INDEX IF NOT EXISTS idx_batch_runs_job ON batch_runs(job_id);
`

// inactiveStatuses never own a live job at the provider.
var inactiveStatuses = []any{
	domain.LedgerUploadFailed,
	string(domain.JobStatusCompleted),
	string(domain.JobStatusFailed),
	string(domain.JobStatusExpired),
	string(domain.JobStatusCancelled),
}

// Ledger is the local record of every batch submission.
type Ledger struct {
	db  *sql.DB
	now func() time.Time
}

func Open(ctx context.Context, path string) (*Ledger, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create ledger dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure ledger schema: %w", err)
	}
	return &Ledger{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (l *Ledger) Close() error {
	return l.db.Close()
}

func (l *Ledger) Begin(ctx context.Context, entry domain.LedgerEntry) error {
	now := l.now()
	_, err := l.db.ExecContext(ctx, `
INSERT INTO batch_runs (run_id, profile, source_id, start_time, input_key, file_id, job_id, status, note, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.RunID, entry.Profile, entry.SourceID, entry.StartTime, entry.InputKey,
		entry.FileID, entry.JobID, entry.Status, entry.Note, now, now,
	)
	if err != nil {
		return fmt.Errorf("insert ledger entry %s: %w", entry.RunID, err)
	}
	return nil
}

func (l *Ledger) RecordUpload(ctx context.Context, runID, fileID string) error {
	return l.updateRun(ctx, runID, `UPDATE batch_runs SET file_id = ?, updated_at = ? WHERE run_id = ?`, fileID, l.now(), runID)
}

func (l *Ledger) RecordJob(ctx context.Context, runID string, handle domain.JobHandle) error {
	return l.updateRun(ctx, runID, `UPDATE batch_runs SET job_id = ?, status = ?, updated_at = ? WHERE run_id = ?`,
		handle.JobID, string(handle.Status), l.now(), runID)
}

func (l *Ledger) Fail(ctx context.Context, runID, status, note string) error {
	return l.updateRun(ctx, runID, `UPDATE batch_runs SET status = ?, note = ?, updated_at = ? WHERE run_id = ?`,
		status, note, l.now(), runID)
}

func (l *Ledger) UpdateStatus(ctx context.Context, jobID string, status domain.JobStatus, note string) error {
	res, err := l.db.ExecContext(ctx, `UPDATE batch_runs SET status = ?, note = ?, updated_at = ? WHERE job_id = ?`,
		string(status), note, l.now(), jobID)
	if err != nil {
		return fmt.Errorf("update ledger job %s: %w", jobID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update ledger job %s: not recorded", jobID)
	}
	return nil
}

// FindActive returns the newest entry for the window that may still own a
// live job, or nil.
func (l *Ledger) FindActive(ctx context.Context, profile, sourceID string) (*domain.LedgerEntry, error) {
	args := append([]any{profile, sourceID}, inactiveStatuses...)
	row := l.db.QueryRowContext(ctx, `
SELECT run_id, profile, source_id, start_time, input_key, file_id, job_id, status, note, created_at, updated_at
FROM batch_runs
WHERE profile = ? AND source_id = ? AND status NOT IN (?, ?, ?, ?, ?)
ORDER BY created_at DESC
LIMIT 1`, args...)
	return scanEntry(row)
}

func (l *Ledger) GetByJobID(ctx context.Context, jobID string) (*domain.LedgerEntry, error) {
	row := l.db.QueryRowContext(ctx, `
SELECT run_id, profile, source_id, start_time, input_key, file_id, job_id, status, note, created_at, updated_at
FROM batch_runs
WHERE job_id = ?
ORDER BY created_at DESC
LIMIT 1`, jobID)
	return scanEntry(row)
}

// ListRecent returns up to limit entries, newest first.
func (l *Ledger) ListRecent(ctx context.Context, limit int) ([]domain.LedgerEntry, error) {
	rows, err := l.db.QueryContext(ctx, `
SELECT run_id, profile, source_id, start_time, input_key, file_id, job_id, status, note, created_at, updated_at
FROM batch_runs
ORDER BY created_at DESC
LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ledger entries: %w", err)
	}
	return entries, nil
}

func (l *Ledger) updateRun(ctx context.Context, runID, query string, args ...any) error {
	res, err := l.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update ledger run %s: %w", runID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update ledger run %s: not recorded", runID)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*domain.LedgerEntry, error) {
	var entry domain.LedgerEntry
	err := row.Scan(
		&entry.RunID,
		&entry.Profile,
		&entry.SourceID,
		&entry.StartTime,
		&entry.InputKey,
		&entry.FileID,
		&entry.JobID,
		&entry.Status,
		&entry.Note,
		&entry.CreatedAt,
		&entry.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan ledger entry: %w", err)
	}
	return &entry, nil
}
