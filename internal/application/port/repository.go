package port

import (
	"context"
	"time"

	"github.com/garyjia/rcm-agent/internal/domain/workflow"
)

// SessionRepository persists workflow records keyed by session id
type SessionRepository interface {
	// Save inserts or replaces the record
	Save(ctx context.Context, record *workflow.Record) error

	// Get returns workflow.ErrSessionNotFound when no record exists
	Get(ctx context.Context, sessionID string) (*workflow.Record, error)

	// Archive marks a finished session closed. Closed sessions stay readable.
	Archive(ctx context.Context, sessionID string) error

	// ListActive returns open sessions, most recently updated first
	ListActive(ctx context.Context, limit int) ([]*workflow.Record, error)
}

// StepHistory is one recorded step transition
type StepHistory struct {
	ID         int64
	SessionID  string
	FromStep   workflow.Step
	ToStep     workflow.Step
	Status     workflow.Status
	Confidence *float64
	Note       string
	CreatedAt  time.Time
}

// HistoryRepository persists step transitions
type HistoryRepository interface {
	Create(ctx context.Context, h *StepHistory) error
	GetBySessionID(ctx context.Context, sessionID string) ([]*StepHistory, error)
}

// TransactionManager handles database transactions
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
