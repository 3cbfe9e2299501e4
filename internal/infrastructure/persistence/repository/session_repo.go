package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/rcm-agent/internal/application/port"
	"github.com/garyjia/rcm-agent/internal/domain/workflow"
	"github.com/garyjia/rcm-agent/internal/infrastructure/persistence/sqlite"
)

// defaultListLimit applies when ListActive is called without a limit
const defaultListLimit = 50

// SessionRepository implements port.SessionRepository. The record is stored
// as a JSON document next to a few indexed columns.
type SessionRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSessionRepository creates a new session repository
func NewSessionRepository(db *sql.DB, logger *zap.Logger) port.SessionRepository {
	return &SessionRepository{
		db:     db,
		logger: logger,
	}
}

// Save inserts or replaces a workflow record. Saving reopens an archived session.
func (r *SessionRepository) Save(ctx context.Context, record *workflow.Record) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}

	updatedAt := record.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}
	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = updatedAt
	}

	query := `
		INSERT INTO workflow_sessions (
			session_id, step, status, done, record_json,
			archived_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, NULL, ?, ?)
		ON CONFLICT (session_id) DO UPDATE SET
			step = excluded.step,
			status = excluded.status,
			done = excluded.done,
			record_json = excluded.record_json,
			archived_at = NULL,
			updated_at = excluded.updated_at
	`

	_, err = sqlite.Executor(ctx, r.db).ExecContext(ctx, query,
		record.SessionID,
		string(record.Step),
		string(record.Status),
		record.Done,
		string(data),
		createdAt,
		updatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to save session", zap.String("session_id", record.SessionID), zap.Error(err))
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// Get retrieves a workflow record by session ID
func (r *SessionRepository) Get(ctx context.Context, sessionID string) (*workflow.Record, error) {
	query := `SELECT record_json FROM workflow_sessions WHERE session_id = ?`

	var data string
	err := sqlite.Executor(ctx, r.db).QueryRowContext(ctx, query, sessionID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", workflow.ErrSessionNotFound, sessionID)
	}
	if err != nil {
		r.logger.Error("Failed to get session", zap.String("session_id", sessionID), zap.Error(err))
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	var record workflow.Record
	if err := json.Unmarshal([]byte(data), &record); err != nil {
		return nil, fmt.Errorf("failed to decode session %s: %w", sessionID, err)
	}
	return &record, nil
}

// Archive marks a session closed
func (r *SessionRepository) Archive(ctx context.Context, sessionID string) error {
	query := `UPDATE workflow_sessions SET archived_at = ? WHERE session_id = ?`

	result, err := sqlite.Executor(ctx, r.db).ExecContext(ctx, query, time.Now(), sessionID)
	if err != nil {
		r.logger.Error("Failed to archive session", zap.String("session_id", sessionID), zap.Error(err))
		return fmt.Errorf("failed to archive session: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", workflow.ErrSessionNotFound, sessionID)
	}
	return nil
}

// ListActive returns sessions that are not archived, most recently updated first
func (r *SessionRepository) ListActive(ctx context.Context, limit int) ([]*workflow.Record, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	query := `
		SELECT record_json
		FROM workflow_sessions
		WHERE archived_at IS NULL
		ORDER BY updated_at DESC
		LIMIT ?
	`

	rows, err := sqlite.Executor(ctx, r.db).QueryContext(ctx, query, limit)
	if err != nil {
		r.logger.Error("Failed to list sessions", zap.Int("limit", limit), zap.Error(err))
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var records []*workflow.Record
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		var record workflow.Record
		if err := json.Unmarshal([]byte(data), &record); err != nil {
			return nil, fmt.Errorf("failed to decode session: %w", err)
		}
		records = append(records, &record)
	}

	return records, rows.Err()
}

// Verify interface compliance
var _ port.SessionRepository = (*SessionRepository)(nil)
