package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"github.com/garyjia/rcm-agent/internal/application/dispatcher"
	"github.com/garyjia/rcm-agent/internal/application/port"
	"github.com/garyjia/rcm-agent/internal/application/workflow"
	"github.com/garyjia/rcm-agent/internal/domain/event"
	domainwf "github.com/garyjia/rcm-agent/internal/domain/workflow"
)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// DefaultSessionTTL is how long an idle session stays in memory
const DefaultSessionTTL = 30 * time.Minute

// SessionService is the session boundary: it locks a session, loads its
// record, drives the workflow and persists the result
type SessionService interface {
	// Create starts a session, optionally seeded with an initial message and patient id
	Create(ctx context.Context, initialInput, patientID string) (*domainwf.Record, error)

	// Turn applies one user message to a session
	Turn(ctx context.Context, sessionID, message string) (*domainwf.Record, error)

	// Get returns the current record of a session
	Get(ctx context.Context, sessionID string) (*domainwf.Record, error)

	// History returns the recorded step transitions of a session
	History(ctx context.Context, sessionID string) ([]*port.StepHistory, error)

	// Retry clears an error and runs the failed step again
	Retry(ctx context.Context, sessionID string) (*domainwf.Record, error)

	// Restart resets the workflow of a session back to INIT
	Restart(ctx context.Context, sessionID string) (*domainwf.Record, error)

	// Exit ends a session
	Exit(ctx context.Context, sessionID string) (*domainwf.Record, error)

	// ListActive returns open sessions, most recently updated first
	ListActive(ctx context.Context, limit int) ([]*domainwf.Record, error)
}

type sessionServiceImpl struct {
	driver      workflow.Driver
	sessionRepo port.SessionRepository
	historyRepo port.HistoryRepository
	txManager   port.TransactionManager
	logger      Logger
	dispatcher  dispatcher.Dispatcher

	cache *gocache.Cache
	locks *sessionLocks
	newID func() string
}

// SessionOption configures the session service
type SessionOption func(*sessionServiceImpl)

// WithSessionTTL sets how long idle records stay cached
func WithSessionTTL(ttl time.Duration) SessionOption {
	return func(s *sessionServiceImpl) {
		if ttl > 0 {
			s.cache = gocache.New(ttl, ttl*2)
		}
	}
}

// WithIDGenerator overrides session id generation
func WithIDGenerator(fn func() string) SessionOption {
	return func(s *sessionServiceImpl) {
		s.newID = fn
	}
}

// WithEventDispatcher emits session lifecycle events
func WithEventDispatcher(d dispatcher.Dispatcher) SessionOption {
	return func(s *sessionServiceImpl) {
		s.dispatcher = d
	}
}

// NewSessionService creates a new SessionService
func NewSessionService(
	driver workflow.Driver,
	sessionRepo port.SessionRepository,
	historyRepo port.HistoryRepository,
	txManager port.TransactionManager,
	logger Logger,
	opts ...SessionOption,
) SessionService {
	s := &sessionServiceImpl{
		driver:      driver,
		sessionRepo: sessionRepo,
		historyRepo: historyRepo,
		txManager:   txManager,
		logger:      logger,
		cache:       gocache.New(DefaultSessionTTL, DefaultSessionTTL*2),
		locks:       newSessionLocks(),
		newID:       uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create starts a session and runs INIT
func (s *sessionServiceImpl) Create(ctx context.Context, initialInput, patientID string) (*domainwf.Record, error) {
	r := domainwf.NewRecord(s.newID())
	if v := strings.TrimSpace(initialInput); v != "" {
		r.Context[domainwf.ContextInitialInput] = v
	}
	if v := strings.TrimSpace(patientID); v != "" {
		r.Context[domainwf.ContextPatientID] = v
	}

	unlock := s.lock(r.SessionID)
	defer unlock()

	out, err := s.drive(ctx, r, "", "session created")
	if err != nil {
		return nil, err
	}

	s.logger.Info("Session created", "session_id", r.SessionID, "step", out.Step, "has_initial_input", initialInput != "")
	s.emit(ctx, event.TypeSessionCreated, out.SessionID, map[string]interface{}{
		"step":       string(out.Step),
		"patient_id": r.Context[domainwf.ContextPatientID],
	})
	return out, nil
}

// Turn applies one user message
func (s *sessionServiceImpl) Turn(ctx context.Context, sessionID, message string) (*domainwf.Record, error) {
	unlock := s.lock(sessionID)
	defer unlock()

	r, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if closed(r) {
		return nil, fmt.Errorf("%w: %s", domainwf.ErrSessionClosed, sessionID)
	}

	return s.drive(ctx, r, message, "")
}

// Get returns a snapshot of the record
func (s *sessionServiceImpl) Get(ctx context.Context, sessionID string) (*domainwf.Record, error) {
	r, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return r.Clone(), nil
}

// History returns the step transitions of a session, oldest first
func (s *sessionServiceImpl) History(ctx context.Context, sessionID string) ([]*port.StepHistory, error) {
	if _, err := s.load(ctx, sessionID); err != nil {
		return nil, err
	}
	history, err := s.historyRepo.GetBySessionID(ctx, sessionID)
	if err != nil {
		s.logger.Error("Failed to get history", "error", err, "session_id", sessionID)
		return nil, fmt.Errorf("get history: %w", err)
	}
	return history, nil
}

// Retry clears the error, drops the failed step's partial output and runs it again
func (s *sessionServiceImpl) Retry(ctx context.Context, sessionID string) (*domainwf.Record, error) {
	unlock := s.lock(sessionID)
	defer unlock()

	r, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if closed(r) {
		return nil, fmt.Errorf("%w: %s", domainwf.ErrSessionClosed, sessionID)
	}

	work := r.Clone()
	if work.ErrorMessage != "" {
		s.logger.Info("Retrying step", "session_id", sessionID, "step", work.Step, "error", work.ErrorMessage)
		work.ErrorMessage = ""
		work.ClearOutput(work.Step)
		work.Status = domainwf.StatusProcessing
	}
	return s.drive(ctx, work, "", "retry")
}

// Restart resets the record and greets the user again
func (s *sessionServiceImpl) Restart(ctx context.Context, sessionID string) (*domainwf.Record, error) {
	unlock := s.lock(sessionID)
	defer unlock()

	r, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if r.ExitRequested {
		return nil, fmt.Errorf("%w: %s", domainwf.ErrSessionClosed, sessionID)
	}

	work := r.Clone()
	from := work.Step
	work.Reset()
	s.logger.Info("Restarting workflow", "session_id", sessionID, "from", from)

	return s.drive(ctx, work, "", fmt.Sprintf("restart from %s", from))
}

// Exit ends the session as if the user had typed an exit word
func (s *sessionServiceImpl) Exit(ctx context.Context, sessionID string) (*domainwf.Record, error) {
	unlock := s.lock(sessionID)
	defer unlock()

	r, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if r.ExitRequested {
		return r.Clone(), nil
	}
	return s.drive(ctx, r, "exit", "")
}

// ListActive returns open sessions
func (s *sessionServiceImpl) ListActive(ctx context.Context, limit int) ([]*domainwf.Record, error) {
	records, err := s.sessionRepo.ListActive(ctx, limit)
	if err != nil {
		s.logger.Error("Failed to list sessions", "error", err, "limit", limit)
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return records, nil
}

// drive runs the workflow on a copy of r and persists the outcome. The cached
// record is only replaced once the transaction commits.
func (s *sessionServiceImpl) drive(ctx context.Context, r *domainwf.Record, message, note string) (*domainwf.Record, error) {
	work := r.Clone()
	res := s.driver.Run(ctx, work, message)
	if err := work.Validate(); err != nil {
		s.logger.Error("Record invariant violated", "session_id", work.SessionID, "step", work.Step, "error", err)
	}

	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := s.sessionRepo.Save(txCtx, work); err != nil {
			return fmt.Errorf("save session: %w", err)
		}

		for i, t := range res.Transitions {
			history := &port.StepHistory{
				SessionID:  work.SessionID,
				FromStep:   t.From,
				ToStep:     t.To,
				Status:     work.Status,
				Confidence: confidenceFor(work, t.From),
				CreatedAt:  t.At,
			}
			if i == 0 {
				history.Note = note
			}
			if err := s.historyRepo.Create(txCtx, history); err != nil {
				return fmt.Errorf("create history: %w", err)
			}
		}

		if closed(work) {
			if err := s.sessionRepo.Archive(txCtx, work.SessionID); err != nil {
				return fmt.Errorf("archive session: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		s.logger.Error("Failed to persist session", "error", err, "session_id", work.SessionID)
		return nil, err
	}

	s.cache.Set(work.SessionID, work, gocache.DefaultExpiration)

	if closed(work) && !closed(r) {
		s.emit(ctx, event.TypeSessionClosed, work.SessionID, map[string]interface{}{
			"step":           string(work.Step),
			"done":           work.Done,
			"exit_requested": work.ExitRequested,
		})
	}

	s.logger.Info("Turn processed",
		"session_id", work.SessionID,
		"step", work.Step,
		"status", work.Status,
		"halt", res.Halt,
		"transitions", len(res.Transitions),
		"correlation_id", res.CorrelationID,
	)

	return work.Clone(), nil
}

func (s *sessionServiceImpl) emit(ctx context.Context, t event.Type, sessionID string, payload map[string]interface{}) {
	if s.dispatcher == nil {
		return
	}
	s.dispatcher.DispatchAsync(ctx, event.NewEvent(t, sessionID, payload))
}

// load returns the cached record, falling back to the repository
func (s *sessionServiceImpl) load(ctx context.Context, sessionID string) (*domainwf.Record, error) {
	if v, ok := s.cache.Get(sessionID); ok {
		return v.(*domainwf.Record), nil
	}

	r, err := s.sessionRepo.Get(ctx, sessionID)
	if err != nil {
		s.logger.Error("Failed to load session", "error", err, "session_id", sessionID)
		return nil, fmt.Errorf("load session: %w", err)
	}
	s.cache.Set(sessionID, r, gocache.DefaultExpiration)
	return r, nil
}

// lock serializes driver cycles of one session
func (s *sessionServiceImpl) lock(sessionID string) func() {
	return s.locks.acquire(sessionID)
}

// sessionLocks is a keyed mutex. An entry lives only while a caller holds or
// waits for it, so ids of finished sessions do not accumulate.
type sessionLocks struct {
	mu      sync.Mutex
	entries map[string]*sessionLock
}

type sessionLock struct {
	sync.Mutex
	refs int
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{entries: make(map[string]*sessionLock)}
}

func (l *sessionLocks) acquire(id string) func() {
	l.mu.Lock()
	e, ok := l.entries[id]
	if !ok {
		e = &sessionLock{}
		l.entries[id] = e
	}
	e.refs++
	l.mu.Unlock()

	e.Lock()
	return func() {
		e.Unlock()
		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.entries, id)
		}
		l.mu.Unlock()
	}
}

func (l *sessionLocks) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func closed(r *domainwf.Record) bool {
	return r.Done || r.ExitRequested
}

func confidenceFor(r *domainwf.Record, step domainwf.Step) *float64 {
	key := step.ConfidenceKey()
	if key == "" {
		return nil
	}
	if v, ok := r.ConfidenceScores[key]; ok {
		return &v
	}
	return nil
}
