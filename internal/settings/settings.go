// Package settings provides a per-merchant key-value store for
// persistent preferences and operational overrides. It is intended for
// lightweight data that needs to survive restarts — daily limit
// overrides, feature toggles, tone preferences — not for structured
// domain data that deserves its own schema (workflows, snapshots,
// usage). Those get their own stores.
package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/merchkit/lister-agent/internal/usage"
)

// Keys recognized by DailyLimits. Values are decimal integers.
const (
	KeyLimitTextTokens         = "limit.text_tokens"
	KeyLimitBulkBatches        = "limit.bulk_batches"
	KeyLimitImageGeneration    = "limit.image_generation"
	KeyLimitScreenshotAnalysis = "limit.screenshot_analysis"
)

// Store is a per-merchant key-value store backed by SQLite. All public
// methods are safe for concurrent use (SQLite serializes writes).
type Store struct {
	db *sql.DB
}

// NewStore creates a settings store on an open database handle. The
// schema is created automatically.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate settings: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS merchant_settings (
		merchant_id TEXT NOT NULL,
		key         TEXT NOT NULL,
		value       TEXT NOT NULL,
		updated_at  TEXT NOT NULL,
		PRIMARY KEY (merchant_id, key)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Get returns the stored value for a merchant/key pair. Returns empty
// string and nil error if the key does not exist.
func (s *Store) Get(ctx context.Context, merchantID, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM merchant_settings WHERE merchant_id = ? AND key = ?`,
		merchantID, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get %s/%s: %w", merchantID, key, err)
	}
	return value, nil
}

// Set upserts a merchant/key/value triple. Existing values are
// overwritten and the updated_at timestamp is refreshed.
func (s *Store) Set(ctx context.Context, merchantID, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO merchant_settings (merchant_id, key, value, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (merchant_id, key) DO UPDATE
		 SET value = excluded.value, updated_at = excluded.updated_at`,
		merchantID, key, value, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("set %s/%s: %w", merchantID, key, err)
	}
	return nil
}

// Delete removes a merchant/key entry. No error is returned if the key
// does not exist.
func (s *Store) Delete(ctx context.Context, merchantID, key string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM merchant_settings WHERE merchant_id = ? AND key = ?`,
		merchantID, key,
	)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", merchantID, key, err)
	}
	return nil
}

// ForMerchant returns all key/value pairs for a merchant. Returns an
// empty (non-nil) map if the merchant has no entries.
func (s *Store) ForMerchant(ctx context.Context, merchantID string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value FROM merchant_settings WHERE merchant_id = ?`,
		merchantID,
	)
	if err != nil {
		return nil, fmt.Errorf("list settings for %s: %w", merchantID, err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan setting: %w", err)
		}
		out[key] = value
	}
	return out, rows.Err()
}

// DailyLimits assembles a usage override from the merchant's limit
// settings. Keys that are absent leave the corresponding field nil;
// keys with non-numeric values are treated as absent. A merchant with
// no limit settings gets a zero override, which applies the system
// defaults unchanged.
func (s *Store) DailyLimits(ctx context.Context, merchantID string) (*usage.Override, error) {
	all, err := s.ForMerchant(ctx, merchantID)
	if err != nil {
		return nil, err
	}

	override := &usage.Override{}
	assign := func(key string, dst **int) {
		raw, ok := all[key]
		if !ok {
			return
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return
		}
		*dst = &n
	}
	assign(KeyLimitTextTokens, &override.TextTokens)
	assign(KeyLimitBulkBatches, &override.BulkBatches)
	assign(KeyLimitImageGeneration, &override.ImageGeneration)
	assign(KeyLimitScreenshotAnalysis, &override.ScreenshotAnalysis)
	return override, nil
}
