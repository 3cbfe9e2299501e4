package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/rcm-agent/internal/application/port"
	"github.com/garyjia/rcm-agent/internal/domain/workflow"
	"github.com/garyjia/rcm-agent/internal/infrastructure/persistence/sqlite"
)

// HistoryRepository implements port.HistoryRepository
type HistoryRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewHistoryRepository creates a new history repository
func NewHistoryRepository(db *sql.DB, logger *zap.Logger) port.HistoryRepository {
	return &HistoryRepository{
		db:     db,
		logger: logger,
	}
}

// Create records a step transition
func (r *HistoryRepository) Create(ctx context.Context, history *port.StepHistory) error {
	query := `
		INSERT INTO step_history (
			session_id, from_step, to_step, status, confidence, note, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	createdAt := history.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	var confidence sql.NullFloat64
	if history.Confidence != nil {
		confidence = sql.NullFloat64{Float64: *history.Confidence, Valid: true}
	}

	result, err := sqlite.Executor(ctx, r.db).ExecContext(ctx, query,
		history.SessionID,
		string(history.FromStep),
		string(history.ToStep),
		string(history.Status),
		confidence,
		history.Note,
		createdAt,
	)
	if err != nil {
		r.logger.Error("Failed to create history record", zap.String("session_id", history.SessionID), zap.Error(err))
		return fmt.Errorf("failed to create history: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	history.ID = id
	history.CreatedAt = createdAt
	return nil
}

// GetBySessionID retrieves all transitions of a session in the order they happened
func (r *HistoryRepository) GetBySessionID(ctx context.Context, sessionID string) ([]*port.StepHistory, error) {
	query := `
		SELECT id, session_id, from_step, to_step, status, confidence, note, created_at
		FROM step_history
		WHERE session_id = ?
		ORDER BY id ASC
	`

	rows, err := sqlite.Executor(ctx, r.db).QueryContext(ctx, query, sessionID)
	if err != nil {
		r.logger.Error("Failed to get history by session ID", zap.String("session_id", sessionID), zap.Error(err))
		return nil, fmt.Errorf("failed to get history: %w", err)
	}
	defer rows.Close()

	var records []*port.StepHistory
	for rows.Next() {
		var (
			record     port.StepHistory
			from, to   string
			status     string
			confidence sql.NullFloat64
		)
		err := rows.Scan(
			&record.ID,
			&record.SessionID,
			&from,
			&to,
			&status,
			&confidence,
			&record.Note,
			&record.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan history record: %w", err)
		}
		record.FromStep = workflow.Step(from)
		record.ToStep = workflow.Step(to)
		record.Status = workflow.Status(status)
		if confidence.Valid {
			v := confidence.Float64
			record.Confidence = &v
		}
		records = append(records, &record)
	}

	return records, rows.Err()
}

// Verify interface compliance
var _ port.HistoryRepository = (*HistoryRepository)(nil)
