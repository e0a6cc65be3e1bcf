// Package postgres implements the tracker on a shared Postgres database so
// that concurrent partitions (e.g. two years crawled at once) can use one
// store without conflicting.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fcdockets/imm-crawler/internal/caseid"
	"github.com/fcdockets/imm-crawler/internal/crawl"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for tracker rows.
type Config struct {
	DSN             string
	RecordsTable    string
	BoundariesTable string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Tracker persists case records and year boundaries in Postgres.
type Tracker struct {
	pool       pgxPool
	records    string
	boundaries string
}

// New creates a Postgres-backed Tracker using the provided config.
func New(ctx context.Context, cfg Config) (*Tracker, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("tracker.postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return NewWithPool(pool, cfg.RecordsTable, cfg.BoundariesTable)
}

// NewWithPool constructs a Tracker from an existing pool (primarily for
// testing with pgxmock).
func NewWithPool(pool pgxPool, recordsTable, boundariesTable string) (*Tracker, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if recordsTable == "" {
		recordsTable = "case_records"
	}
	if boundariesTable == "" {
		boundariesTable = "year_boundaries"
	}
	for _, table := range []string{recordsTable, boundariesTable} {
		if !validTableName.MatchString(table) {
			return nil, fmt.Errorf("invalid table name %q", table)
		}
	}
	return &Tracker{
		pool:       pool,
		records:    recordsTable,
		boundaries: boundariesTable,
	}, nil
}

// Close closes the underlying connection pool.
func (t *Tracker) Close() error {
	t.pool.Close()
	return nil
}

// Get returns the record for id if one exists.
func (t *Tracker) Get(ctx context.Context, id caseid.ID) (crawl.Record, bool, error) {
	query := fmt.Sprintf(
		`SELECT status, retry_count, last_error, last_attempt_at, payload_ref
		 FROM %s WHERE case_id = $1`,
		t.records,
	)
	rec, err := scanRecord(t.pool.QueryRow(ctx, query, id.String()), id)
	if errors.Is(err, pgx.ErrNoRows) {
		return crawl.Record{}, false, nil
	}
	if err != nil {
		return crawl.Record{}, false, fmt.Errorf("query case record: %w", err)
	}
	return rec, true, nil
}

// Record upserts the outcome of one attempt. The unique constraint on
// case_id plus the single ON CONFLICT statement make the upsert safe when
// several partitions share the store.
func (t *Tracker) Record(
	ctx context.Context,
	id caseid.ID,
	outcome crawl.Outcome,
	errText string,
	payloadRef string,
) (crawl.Record, error) {
	status := statusFor(outcome)
	query := fmt.Sprintf(
		`INSERT INTO %s
			(case_id, year, number, status, retry_count, last_error, last_attempt_at, payload_ref)
		 VALUES ($1, $2, $3, $4, CASE WHEN $4 = 'failed' THEN 1 ELSE 0 END, $5, $6, $7)
		 ON CONFLICT (case_id) DO UPDATE SET
			status          = EXCLUDED.status,
			retry_count     = CASE WHEN EXCLUDED.status = 'failed'
				THEN %s.retry_count + 1 ELSE 0 END,
			last_error      = EXCLUDED.last_error,
			last_attempt_at = EXCLUDED.last_attempt_at,
			payload_ref     = CASE WHEN EXCLUDED.payload_ref <> ''
				THEN EXCLUDED.payload_ref ELSE %s.payload_ref END
		 RETURNING status, retry_count, last_error, last_attempt_at, payload_ref`,
		t.records, t.records, t.records,
	)
	rec, err := scanRecord(t.pool.QueryRow(ctx, query,
		id.String(), id.Year, id.Number, string(status), errText, time.Now().UTC(), payloadRef,
	), id)
	if err != nil {
		return crawl.Record{}, fmt.Errorf("upsert case record: %w", err)
	}
	return rec, nil
}

// HighestResolved returns the largest terminal case number in year.
func (t *Tracker) HighestResolved(ctx context.Context, year string) (caseid.ID, bool, error) {
	query := fmt.Sprintf(
		`SELECT number FROM %s
		 WHERE year = $1 AND status IN ('success', 'no_data')
		 ORDER BY number DESC LIMIT 1`,
		t.records,
	)
	var number int
	if err := t.pool.QueryRow(ctx, query, year).Scan(&number); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return caseid.ID{}, false, nil
		}
		return caseid.ID{}, false, fmt.Errorf("query highest resolved: %w", err)
	}
	return caseid.ID{Year: year, Number: number}, true, nil
}

// Boundary returns the cached upper bound for year.
func (t *Tracker) Boundary(ctx context.Context, year string) (crawl.Boundary, bool, error) {
	query := fmt.Sprintf(
		`SELECT upper_bound, discovered_at FROM %s WHERE year = $1`,
		t.boundaries,
	)
	b := crawl.Boundary{Year: year}
	if err := t.pool.QueryRow(ctx, query, year).Scan(&b.UpperBound, &b.DiscoveredAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return crawl.Boundary{}, false, nil
		}
		return crawl.Boundary{}, false, fmt.Errorf("query boundary: %w", err)
	}
	return b, true, nil
}

// SetBoundary upserts the discovered upper bound for year.
func (t *Tracker) SetBoundary(ctx context.Context, year string, upperBound int) error {
	query := fmt.Sprintf(
		`INSERT INTO %s (year, upper_bound, discovered_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (year) DO UPDATE SET
			upper_bound   = EXCLUDED.upper_bound,
			discovered_at = EXCLUDED.discovered_at`,
		t.boundaries,
	)
	if _, err := t.pool.Exec(ctx, query, year, upperBound, time.Now().UTC()); err != nil {
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

func scanRecord(row pgx.Row, id caseid.ID) (crawl.Record, error) {
	rec := crawl.Record{CaseID: id}
	var status string
	var attemptAt *time.Time
	if err := row.Scan(&status, &rec.RetryCount, &rec.LastError, &attemptAt, &rec.PayloadRef); err != nil {
		return crawl.Record{}, err
	}
	rec.Status = crawl.Status(status)
	if attemptAt != nil {
		rec.LastAttemptAt = *attemptAt
	}
	return rec, nil
}
