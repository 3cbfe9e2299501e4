package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	domainwf "github.com/garyjia/rcm-agent/internal/domain/workflow"
)

// SessionCloser is the part of the session service the reaper needs
type SessionCloser interface {
	ListActive(ctx context.Context, limit int) ([]*domainwf.Record, error)
	Exit(ctx context.Context, sessionID string) (*domainwf.Record, error)
}

// SessionReaperConfig holds configuration for the session reaper
type SessionReaperConfig struct {
	PollInterval time.Duration
	IdleTimeout  time.Duration
	BatchSize    int
}

// DefaultSessionReaperConfig returns default configuration
func DefaultSessionReaperConfig() SessionReaperConfig {
	return SessionReaperConfig{
		PollInterval: time.Minute,
		IdleTimeout:  24 * time.Hour,
		BatchSize:    100,
	}
}

// SessionReaper closes open sessions that have been idle longer than IdleTimeout
type SessionReaper struct {
	config   SessionReaperConfig
	sessions SessionCloser
	logger   *zap.Logger
	now      func() time.Time

	// Runtime state
	mu          sync.RWMutex
	cancel      context.CancelFunc
	done        chan struct{}
	isRunning   bool
	closedCount int
	failedCount int
	lastError   error
}

// NewSessionReaper creates a new session reaper
func NewSessionReaper(config SessionReaperConfig, sessions SessionCloser, logger *zap.Logger) *SessionReaper {
	defaults := DefaultSessionReaperConfig()
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = defaults.IdleTimeout
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}

	return &SessionReaper{
		config:   config,
		sessions: sessions,
		logger:   logger,
		now:      time.Now,
	}
}

// Start begins the reaper polling loop
func (w *SessionReaper) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.isRunning {
		return fmt.Errorf("session reaper already running")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	w.isRunning = true

	w.logger.Info("SessionReaper started",
		zap.Duration("poll_interval", w.config.PollInterval),
		zap.Duration("idle_timeout", w.config.IdleTimeout))

	go w.pollLoop(loopCtx, w.done)

	return nil
}

// Stop terminates the worker and waits for an in-progress sweep
func (w *SessionReaper) Stop() error {
	w.mu.Lock()
	if !w.isRunning {
		w.mu.Unlock()
		return nil
	}
	w.isRunning = false
	cancel, done := w.cancel, w.done
	w.mu.Unlock()

	cancel()
	<-done

	w.mu.RLock()
	defer w.mu.RUnlock()
	w.logger.Info("SessionReaper stopped",
		zap.Int("closed_count", w.closedCount),
		zap.Int("failed_count", w.failedCount))

	return nil
}

// Name returns the worker name for identification
func (w *SessionReaper) Name() string {
	return "SessionReaper"
}

func (w *SessionReaper) pollLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.Sweep(ctx); err != nil && ctx.Err() == nil {
				w.logger.Error("Session sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep closes every open session idle longer than IdleTimeout and returns
// how many were closed
func (w *SessionReaper) Sweep(ctx context.Context) (int, error) {
	records, err := w.sessions.ListActive(ctx, w.config.BatchSize)
	if err != nil {
		w.recordError(err)
		return 0, fmt.Errorf("failed to list active sessions: %w", err)
	}

	cutoff := w.now().Add(-w.config.IdleTimeout)
	closed := 0
	for _, r := range records {
		if ctx.Err() != nil {
			return closed, ctx.Err()
		}
		if !r.UpdatedAt.Before(cutoff) {
			continue
		}

		if _, err := w.sessions.Exit(ctx, r.SessionID); err != nil {
			// Finished or closed by a concurrent turn
			if errors.Is(err, domainwf.ErrSessionClosed) || errors.Is(err, domainwf.ErrSessionNotFound) {
				continue
			}
			w.logger.Error("Failed to close idle session",
				zap.String("session_id", r.SessionID),
				zap.Error(err))
			w.recordError(err)
			continue
		}

		closed++
		w.logger.Info("Closed idle session",
			zap.String("session_id", r.SessionID),
			zap.String("step", string(r.Step)),
			zap.Time("last_activity", r.UpdatedAt))
	}

	w.mu.Lock()
	w.closedCount += closed
	w.mu.Unlock()

	return closed, nil
}

func (w *SessionReaper) recordError(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.failedCount++
	w.lastError = err
}

// Stats returns the number of closed sessions, failures and the last error
func (w *SessionReaper) Stats() (closed, failed int, lastErr error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.closedCount, w.failedCount, w.lastError
}
