package usage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// dateLayout is the calendar-day key. Days roll over at midnight UTC.
const dateLayout = "2006-01-02"

// Store accumulates usage counters in SQLite, one row per (merchant,
// operation, calendar day). Increments are additive upserts, so counters
// are monotonically non-decreasing within a day. Concurrent increments
// rely on SQLite serializing writes.
type Store struct {
	db  *sql.DB
	now func() time.Time // injectable for tests
}

// NewStore creates a usage store using the given database connection.
// The schema is created automatically on first use.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate usage schema: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS usage_records (
		merchant_id   TEXT NOT NULL,
		operation     TEXT NOT NULL,
		date          TEXT NOT NULL,
		count         INTEGER NOT NULL DEFAULT 0,
		tokens_used   INTEGER NOT NULL DEFAULT 0,
		cost_estimate REAL NOT NULL DEFAULT 0,
		PRIMARY KEY (merchant_id, operation, date)
	);
	CREATE INDEX IF NOT EXISTS idx_usage_date ON usage_records(date);
	`
	_, err := s.db.Exec(schema)
	return err
}

// today returns the current UTC calendar day key.
func (s *Store) today() string {
	return s.now().UTC().Format(dateLayout)
}

// Add upserts today's row for (merchant, operation), incrementing each
// counter additively. Existing values are never overwritten.
func (s *Store) Add(ctx context.Context, merchantID string, op Operation, delta Delta) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO usage_records (merchant_id, operation, date, count, tokens_used, cost_estimate)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (merchant_id, operation, date) DO UPDATE SET
			count = count + excluded.count,
			tokens_used = tokens_used + excluded.tokens_used,
			cost_estimate = cost_estimate + excluded.cost_estimate`,
		merchantID, string(op), s.today(), delta.Count, delta.TokensUsed, delta.CostEstimate,
	)
	if err != nil {
		return fmt.Errorf("record usage %s/%s: %w", merchantID, op, err)
	}
	return nil
}

// Today aggregates the merchant's consumption for the current UTC day.
// Operations with no row report zero totals.
func (s *Store) Today(ctx context.Context, merchantID string) (Stats, error) {
	return s.ForDate(ctx, merchantID, s.today())
}

// ForDate aggregates a merchant's consumption for one calendar day.
func (s *Store) ForDate(ctx context.Context, merchantID, date string) (Stats, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT operation, count, tokens_used, cost_estimate
		 FROM usage_records
		 WHERE merchant_id = ? AND date = ?`,
		merchantID, date,
	)
	if err != nil {
		return nil, fmt.Errorf("query usage for %s: %w", merchantID, err)
	}
	defer rows.Close()

	stats := make(Stats)
	for rows.Next() {
		var op string
		var t Totals
		if err := rows.Scan(&op, &t.Count, &t.TokensUsed, &t.CostEstimate); err != nil {
			return nil, fmt.Errorf("scan usage: %w", err)
		}
		stats[Operation(op)] = t
	}
	return stats, rows.Err()
}

// MerchantsForDate returns the distinct merchants with any usage on a
// calendar day. Used by the nightly rollover report.
func (s *Store) MerchantsForDate(ctx context.Context, date string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT merchant_id FROM usage_records WHERE date = ? ORDER BY merchant_id`,
		date,
	)
	if err != nil {
		return nil, fmt.Errorf("query merchants for %s: %w", date, err)
	}
	defer rows.Close()

	var merchants []string
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, fmt.Errorf("scan merchant: %w", err)
		}
		merchants = append(merchants, m)
	}
	return merchants, rows.Err()
}
