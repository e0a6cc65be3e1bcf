package postgres

import (
	"context"
	"fmt"
)

// Migrate bootstraps the tracker tables. Safe to call on every start.
func (t *Tracker) Migrate(ctx context.Context) error {
	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			case_id         TEXT PRIMARY KEY,
			year            TEXT NOT NULL,
			number          INTEGER NOT NULL,
			status          TEXT NOT NULL DEFAULT 'pending',
			retry_count     INTEGER NOT NULL DEFAULT 0,
			last_error      TEXT NOT NULL DEFAULT '',
			last_attempt_at TIMESTAMPTZ,
			payload_ref     TEXT NOT NULL DEFAULT ''
		)`, t.records),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_year_status ON %s (year, status)`,
			t.records, t.records),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_year_number ON %s (year, number)`,
			t.records, t.records),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			year          TEXT PRIMARY KEY,
			upper_bound   INTEGER NOT NULL,
			discovered_at TIMESTAMPTZ NOT NULL
		)`, t.boundaries),
	}
	for _, stmt := range statements {
		if _, err := t.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate tracker schema: %w", err)
		}
	}
	return nil
}
