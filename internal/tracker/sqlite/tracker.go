// Package sqlite implements the tracker on an embedded SQLite database.
// It is the default store for single-machine runs; Postgres is available
// when multiple partitions share one tracker.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/fcdockets/imm-crawler/internal/caseid"
	"github.com/fcdockets/imm-crawler/internal/crawl"
)

// Tracker persists case records and year boundaries in SQLite.
type Tracker struct {
	db *sql.DB
}

// New opens (or creates) the database at path, configures WAL mode, and
// bootstraps the schema.
func New(ctx context.Context, path string) (*Tracker, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("exec %s: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap schema: %w", err)
	}
	return &Tracker{db: db}, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS case_records (
	case_id         TEXT PRIMARY KEY,
	year            TEXT NOT NULL,
	number          INTEGER NOT NULL,
	status          TEXT NOT NULL DEFAULT 'pending',
	retry_count     INTEGER NOT NULL DEFAULT 0,
	last_error      TEXT NOT NULL DEFAULT '',
	last_attempt_at DATETIME,
	payload_ref     TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS year_boundaries (
	year          TEXT PRIMARY KEY,
	upper_bound   INTEGER NOT NULL,
	discovered_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_case_records_year_status ON case_records(year, status);
CREATE INDEX IF NOT EXISTS idx_case_records_year_number ON case_records(year, number);
`

// Close closes the underlying database handle.
func (t *Tracker) Close() error {
	if err := t.db.Close(); err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}
	return nil
}

// Get returns the record for id if one exists.
func (t *Tracker) Get(ctx context.Context, id caseid.ID) (crawl.Record, bool, error) {
	row := t.db.QueryRowContext(ctx,
		`SELECT status, retry_count, last_error, last_attempt_at, payload_ref
		 FROM case_records WHERE case_id = ?`,
		id.String(),
	)
	rec, err := scanRecord(row, id)
	if errors.Is(err, sql.ErrNoRows) {
		return crawl.Record{}, false, nil
	}
	if err != nil {
		return crawl.Record{}, false, fmt.Errorf("query case record: %w", err)
	}
	return rec, true, nil
}

// Record upserts the outcome of one attempt. Failed outcomes increment the
// retry count; terminal outcomes reset it. The single statement keeps the
// operation safe under concurrent partitions.
func (t *Tracker) Record(
	ctx context.Context,
	id caseid.ID,
	outcome crawl.Outcome,
	errText string,
	payloadRef string,
) (crawl.Record, error) {
	status := statusFor(outcome)
	now := time.Now().UTC()
	_, err := t.db.ExecContext(ctx,
		`INSERT INTO case_records
			(case_id, year, number, status, retry_count, last_error, last_attempt_at, payload_ref)
		 VALUES (?, ?, ?, ?, CASE WHEN ? = 'failed' THEN 1 ELSE 0 END, ?, ?, ?)
		 ON CONFLICT(case_id) DO UPDATE SET
			status          = excluded.status,
			retry_count     = CASE WHEN excluded.status = 'failed'
				THEN case_records.retry_count + 1 ELSE 0 END,
			last_error      = excluded.last_error,
			last_attempt_at = excluded.last_attempt_at,
			payload_ref     = CASE WHEN excluded.payload_ref != ''
				THEN excluded.payload_ref ELSE case_records.payload_ref END`,
		id.String(), id.Year, id.Number, string(status), string(status), errText, now, payloadRef,
	)
	if err != nil {
		return crawl.Record{}, fmt.Errorf("upsert case record: %w", err)
	}
	rec, ok, err := t.Get(ctx, id)
	if err != nil {
		return crawl.Record{}, err
	}
	if !ok {
		return crawl.Record{}, fmt.Errorf("case record %s missing after upsert", id)
	}
	return rec, nil
}

// HighestResolved returns the largest terminal case number in year.
func (t *Tracker) HighestResolved(ctx context.Context, year string) (caseid.ID, bool, error) {
	row := t.db.QueryRowContext(ctx,
		`SELECT number FROM case_records
		 WHERE year = ? AND status IN ('success', 'no_data')
		 ORDER BY number DESC LIMIT 1`,
		year,
	)
	var number int
	if err := row.Scan(&number); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return caseid.ID{}, false, nil
		}
		return caseid.ID{}, false, fmt.Errorf("query highest resolved: %w", err)
	}
	return caseid.ID{Year: year, Number: number}, true, nil
}

// Boundary returns the cached upper bound for year.
func (t *Tracker) Boundary(ctx context.Context, year string) (crawl.Boundary, bool, error) {
	row := t.db.QueryRowContext(ctx,
		`SELECT upper_bound, discovered_at FROM year_boundaries WHERE year = ?`,
		year,
	)
	b := crawl.Boundary{Year: year}
	if err := row.Scan(&b.UpperBound, &b.DiscoveredAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return crawl.Boundary{}, false, nil
		}
		return crawl.Boundary{}, false, fmt.Errorf("query boundary: %w", err)
	}
	return b, true, nil
}

// SetBoundary upserts the discovered upper bound for year.
func (t *Tracker) SetBoundary(ctx context.Context, year string, upperBound int) error {
	_, err := t.db.ExecContext(ctx,
		`INSERT INTO year_boundaries (year, upper_bound, discovered_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT(year) DO UPDATE SET
			upper_bound   = excluded.upper_bound,
			discovered_at = excluded.discovered_at`,
		year, upperBound, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert boundary: %w", err)
	}
	return nil
}

// IsResolved reports whether id holds a terminal status.
func (t *Tracker) IsResolved(ctx context.Context, id caseid.ID, force bool) (bool, error) {
	if force {
		return false, nil
	}
	rec, ok, err := t.Get(ctx, id)
	if err != nil {
		return false, err
	}
	return ok && rec.Status.Terminal(), nil
}

func statusFor(outcome crawl.Outcome) crawl.Status {
	switch outcome {
	case crawl.OutcomeSuccess:
		return crawl.StatusSuccess
	case crawl.OutcomeNoRecord:
		return crawl.StatusNoData
	default:
		return crawl.StatusFailed
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner, id caseid.ID) (crawl.Record, error) {
	rec := crawl.Record{CaseID: id}
	var status string
	var attemptAt sql.NullTime
	if err := row.Scan(&status, &rec.RetryCount, &rec.LastError, &attemptAt, &rec.PayloadRef); err != nil {
		return crawl.Record{}, err
	}
	rec.Status = crawl.Status(status)
	if attemptAt.Valid {
		rec.LastAttemptAt = attemptAt.Time
	}
	return rec, nil
}
