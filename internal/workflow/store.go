package workflow

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Store persists workflow state in SQLite. Reads and writes rely on the
// database's row-level atomicity; concurrent advances on the same record
// are last-write-wins (one active conversation session per merchant is
// the expected access pattern).
type Store struct {
	db *sql.DB
}

// NewStore creates a workflow store using the given database connection.
// The schema is created automatically on first use.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate workflow schema: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS workflows (
		id              TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		merchant_id     TEXT NOT NULL,
		workflow_type   TEXT NOT NULL,
		current_stage   INTEGER NOT NULL,
		total_stages    INTEGER NOT NULL,
		stage_data      TEXT NOT NULL,
		status          TEXT NOT NULL,
		created_at      TEXT NOT NULL,
		updated_at      TEXT NOT NULL,
		completed_at    TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_workflows_conversation ON workflows(conversation_id, status);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_workflows_active
		ON workflows(conversation_id, workflow_type) WHERE status = 'in_progress';
	`
	_, err := s.db.Exec(schema)
	return err
}

// Create starts a new workflow. Returns ErrConflict if an in_progress
// workflow of the same type already exists for the conversation.
func (s *Store) Create(ctx context.Context, conversationID, merchantID string, typ Type, totalStages int, initialData map[string]any) (*State, error) {
	if totalStages < 1 {
		return nil, fmt.Errorf("total stages must be at least 1, got %d", totalStages)
	}
	if initialData == nil {
		initialData = map[string]any{}
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate workflow ID: %w", err)
	}

	dataJSON, err := json.Marshal(initialData)
	if err != nil {
		return nil, fmt.Errorf("marshal stage data: %w", err)
	}

	now := time.Now().UTC()
	st := &State{
		ID:             id.String(),
		ConversationID: conversationID,
		MerchantID:     merchantID,
		Type:           typ,
		CurrentStage:   1,
		TotalStages:    totalStages,
		StageData:      initialData,
		Status:         StatusInProgress,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO workflows
			(id, conversation_id, merchant_id, workflow_type, current_stage,
			 total_stages, stage_data, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		st.ID, st.ConversationID, st.MerchantID, string(st.Type), st.CurrentStage,
		st.TotalStages, string(dataJSON), string(st.Status),
		now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano),
	)
	if err != nil {
		// The partial unique index rejects a second in_progress row for
		// the same (conversation, type) pair.
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("insert workflow: %w", err)
	}

	return st, nil
}

// Active returns the most recently created in_progress workflow for a
// conversation. Returns ErrNotFound when none exists.
func (s *Store) Active(ctx context.Context, conversationID string) (*State, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, conversation_id, merchant_id, workflow_type, current_stage,
		        total_stages, stage_data, status, created_at, updated_at, completed_at
		 FROM workflows
		 WHERE conversation_id = ? AND status = 'in_progress'
		 ORDER BY created_at DESC, rowid DESC
		 LIMIT 1`,
		conversationID,
	)
	return scanState(row)
}

// ActiveByType returns the in_progress workflow of a specific type for a
// conversation. Returns ErrNotFound when none exists.
func (s *Store) ActiveByType(ctx context.Context, conversationID string, typ Type) (*State, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, conversation_id, merchant_id, workflow_type, current_stage,
		        total_stages, stage_data, status, created_at, updated_at, completed_at
		 FROM workflows
		 WHERE conversation_id = ? AND workflow_type = ? AND status = 'in_progress'
		 LIMIT 1`,
		conversationID, string(typ),
	)
	return scanState(row)
}

// Get returns a workflow by id. Returns ErrNotFound when it does not exist.
func (s *Store) Get(ctx context.Context, id string) (*State, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, conversation_id, merchant_id, workflow_type, current_stage,
		        total_stages, stage_data, status, created_at, updated_at, completed_at
		 FROM workflows WHERE id = ?`,
		id,
	)
	return scanState(row)
}

// History returns all workflow records for a conversation, newest first.
// Terminal records are included — they are the audit trail.
func (s *Store) History(ctx context.Context, conversationID string) ([]*State, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, merchant_id, workflow_type, current_stage,
		        total_stages, stage_data, status, created_at, updated_at, completed_at
		 FROM workflows
		 WHERE conversation_id = ?
		 ORDER BY created_at DESC, rowid DESC`,
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("query workflow history: %w", err)
	}
	defer rows.Close()

	var states []*State
	for rows.Next() {
		st, err := scanState(rows)
		if err != nil {
			return nil, err
		}
		states = append(states, st)
	}
	return states, rows.Err()
}

// Advance moves a workflow to its next stage, merging delta into the
// existing stage data. Advancing past the final stage clamps to it and
// marks the workflow completed. Returns false without mutation when the
// record does not exist or is in a terminal state.
func (s *Store) Advance(ctx context.Context, id string, delta map[string]any) (bool, error) {
	st, err := s.Get(ctx, id)
	if err == ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if st.Status.Terminal() {
		return false, nil
	}

	next := st.CurrentStage + 1
	status := st.Status
	var completedAt *time.Time
	if next > st.TotalStages {
		next = st.TotalStages
		status = StatusCompleted
		now := time.Now().UTC()
		completedAt = &now
	}

	merged := mergeStageData(st.StageData, delta)
	dataJSON, err := json.Marshal(merged)
	if err != nil {
		return false, fmt.Errorf("marshal stage data: %w", err)
	}

	var completedStr any
	if completedAt != nil {
		completedStr = completedAt.Format(time.RFC3339Nano)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE workflows
		 SET current_stage = ?, stage_data = ?, status = ?, updated_at = ?, completed_at = ?
		 WHERE id = ?`,
		next, string(dataJSON), string(status),
		time.Now().UTC().Format(time.RFC3339Nano), completedStr, id,
	)
	if err != nil {
		return false, fmt.Errorf("advance workflow: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// UpdateData merges delta into a workflow's stage data without changing
// the current stage. Returns false when the record does not exist or is
// in a terminal state.
func (s *Store) UpdateData(ctx context.Context, id string, delta map[string]any) (bool, error) {
	st, err := s.Get(ctx, id)
	if err == ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if st.Status.Terminal() {
		return false, nil
	}

	merged := mergeStageData(st.StageData, delta)
	dataJSON, err := json.Marshal(merged)
	if err != nil {
		return false, fmt.Errorf("marshal stage data: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE workflows SET stage_data = ?, updated_at = ? WHERE id = ?`,
		string(dataJSON), time.Now().UTC().Format(time.RFC3339Nano), id,
	)
	if err != nil {
		return false, fmt.Errorf("update workflow data: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Pause moves an in_progress workflow to paused. Returns false when the
// record does not exist or is not in_progress.
func (s *Store) Pause(ctx context.Context, id string) (bool, error) {
	return s.transition(ctx, id, StatusPaused, []Status{StatusInProgress}, false)
}

// Resume moves a paused workflow back to in_progress. Returns false when
// the record does not exist or is not paused.
func (s *Store) Resume(ctx context.Context, id string) (bool, error) {
	return s.transition(ctx, id, StatusInProgress, []Status{StatusPaused}, false)
}

// Cancel terminates a workflow. Terminal records are never cancelled
// again. Returns false when the record does not exist or is already
// terminal.
func (s *Store) Cancel(ctx context.Context, id string) (bool, error) {
	return s.transition(ctx, id, StatusCancelled, []Status{StatusInProgress, StatusPaused}, false)
}

// Complete marks a workflow completed, setting current_stage to the final
// stage to preserve the completed ⇒ final-stage invariant. Returns false
// when the record does not exist or is already terminal.
func (s *Store) Complete(ctx context.Context, id string) (bool, error) {
	return s.transition(ctx, id, StatusCompleted, []Status{StatusInProgress, StatusPaused}, true)
}

func (s *Store) transition(ctx context.Context, id string, to Status, from []Status, clampToFinal bool) (bool, error) {
	placeholders := make([]string, len(from))
	args := []any{string(to), time.Now().UTC().Format(time.RFC3339Nano)}
	set := `status = ?, updated_at = ?`
	if to == StatusCompleted {
		set += `, completed_at = ?`
		args = append(args, time.Now().UTC().Format(time.RFC3339Nano))
	}
	if clampToFinal {
		set += `, current_stage = total_stages`
	}
	args = append(args, id)
	for i, f := range from {
		placeholders[i] = "?"
		args = append(args, string(f))
	}

	query := fmt.Sprintf(
		`UPDATE workflows SET %s WHERE id = ? AND status IN (%s)`,
		set, strings.Join(placeholders, ", "),
	)
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("transition workflow to %s: %w", to, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// mergeStageData is a shallow key union: colliding keys take the delta's
// value, non-colliding keys from both sides survive. The base map is not
// mutated.
func mergeStageData(base, delta map[string]any) map[string]any {
	merged := make(map[string]any, len(base)+len(delta))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range delta {
		merged[k] = v
	}
	return merged
}

// scanner abstracts *sql.Row and *sql.Rows for scanState.
type scanner interface {
	Scan(dest ...any) error
}

func scanState(row scanner) (*State, error) {
	var st State
	var typ, status, dataJSON, createdStr, updatedStr string
	var completedStr sql.NullString

	err := row.Scan(&st.ID, &st.ConversationID, &st.MerchantID, &typ, &st.CurrentStage,
		&st.TotalStages, &dataJSON, &status, &createdStr, &updatedStr, &completedStr)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan workflow: %w", err)
	}

	st.Type = Type(typ)
	st.Status = Status(status)
	if err := json.Unmarshal([]byte(dataJSON), &st.StageData); err != nil {
		return nil, fmt.Errorf("unmarshal stage data: %w", err)
	}
	st.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
	st.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedStr)
	if completedStr.Valid {
		t, err := time.Parse(time.RFC3339Nano, completedStr.String)
		if err == nil {
			st.CompletedAt = &t
		}
	}

	return &st, nil
}
