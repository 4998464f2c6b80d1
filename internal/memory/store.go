package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SnapshotStore is an append-only SQLite store for conversation
// snapshots. Rows are never updated or deleted.
type SnapshotStore struct {
	db *sql.DB
}

// NewSnapshotStore creates a snapshot store using the given database
// connection. The schema is created automatically on first use.
func NewSnapshotStore(db *sql.DB) (*SnapshotStore, error) {
	s := &SnapshotStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate snapshot schema: %w", err)
	}
	return s, nil
}

func (s *SnapshotStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS memory_snapshots (
		id              TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		merchant_id     TEXT NOT NULL,
		snapshot_type   TEXT NOT NULL,
		summary         TEXT NOT NULL,
		entities        TEXT NOT NULL,
		message_count   INTEGER NOT NULL,
		token_count     INTEGER NOT NULL,
		created_at      TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_snapshots_conversation ON memory_snapshots(conversation_id, created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Add persists a snapshot. If snap.ID is empty, a UUIDv7 is generated.
func (s *SnapshotStore) Add(ctx context.Context, snap *Snapshot) error {
	if snap.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generate snapshot ID: %w", err)
		}
		snap.ID = id.String()
	}
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = time.Now().UTC()
	}

	entJSON, err := json.Marshal(snap.Entities)
	if err != nil {
		return fmt.Errorf("marshal entities: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO memory_snapshots
			(id, conversation_id, merchant_id, snapshot_type, summary,
			 entities, message_count, token_count, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		snap.ID, snap.ConversationID, snap.MerchantID, string(snap.Type),
		snap.Summary, string(entJSON), snap.MessageCount, snap.TokenCount,
		snap.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

// Recent returns up to limit snapshots for a conversation, newest first.
func (s *SnapshotStore) Recent(ctx context.Context, conversationID string, limit int) ([]*Snapshot, error) {
	if limit <= 0 {
		limit = 3
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, merchant_id, snapshot_type, summary,
		        entities, message_count, token_count, created_at
		 FROM memory_snapshots
		 WHERE conversation_id = ?
		 ORDER BY created_at DESC, rowid DESC
		 LIMIT ?`,
		conversationID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []*Snapshot
	for rows.Next() {
		var snap Snapshot
		var typ, entJSON, createdStr string
		if err := rows.Scan(&snap.ID, &snap.ConversationID, &snap.MerchantID, &typ,
			&snap.Summary, &entJSON, &snap.MessageCount, &snap.TokenCount, &createdStr); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		snap.Type = SnapshotType(typ)
		if err := json.Unmarshal([]byte(entJSON), &snap.Entities); err != nil {
			return nil, fmt.Errorf("unmarshal entities: %w", err)
		}
		snap.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
		snaps = append(snaps, &snap)
	}
	return snaps, rows.Err()
}

// LastMessageCount returns the message_count of the newest snapshot for
// a conversation, or 0 when no snapshot exists.
func (s *SnapshotStore) LastMessageCount(ctx context.Context, conversationID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT message_count FROM memory_snapshots
		 WHERE conversation_id = ?
		 ORDER BY created_at DESC, rowid DESC
		 LIMIT 1`,
		conversationID,
	).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("query last snapshot: %w", err)
	}
	return count, nil
}
