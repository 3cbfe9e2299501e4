package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/rcm-agent/internal/application/dispatcher"
	"github.com/garyjia/rcm-agent/internal/application/port"
	"github.com/garyjia/rcm-agent/internal/application/workflow"
	"github.com/garyjia/rcm-agent/internal/domain/event"
	domainwf "github.com/garyjia/rcm-agent/internal/domain/workflow"
)

// mockDriver applies runFunc to the record, or echoes the message otherwise
type mockDriver struct {
	mu      sync.Mutex
	runFunc func(ctx context.Context, r *domainwf.Record, msg string) *workflow.RunResult
	seen    []*domainwf.Record
	msgs    []string
}

func (m *mockDriver) Run(ctx context.Context, r *domainwf.Record, msg string) *workflow.RunResult {
	m.mu.Lock()
	m.seen = append(m.seen, r.Clone())
	m.msgs = append(m.msgs, msg)
	m.mu.Unlock()

	if m.runFunc != nil {
		return m.runFunc(ctx, r, msg)
	}
	if msg == "exit" {
		r.ExitRequested = true
		return &workflow.RunResult{Record: r, Halt: workflow.HaltExit}
	}
	if msg != "" {
		r.AddHuman(msg)
	}
	return &workflow.RunResult{Record: r, Halt: workflow.HaltNeedInput}
}

func (m *mockDriver) last() *domainwf.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.seen[len(m.seen)-1]
}

type mockSessionRepo struct {
	mu       sync.Mutex
	records  map[string]*domainwf.Record
	archived map[string]bool
	gets     int
	saveErr  error
}

func newMockSessionRepo() *mockSessionRepo {
	return &mockSessionRepo{
		records:  make(map[string]*domainwf.Record),
		archived: make(map[string]bool),
	}
}

func (m *mockSessionRepo) Save(ctx context.Context, r *domainwf.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.records[r.SessionID] = r.Clone()
	m.archived[r.SessionID] = false
	return nil
}

func (m *mockSessionRepo) Get(ctx context.Context, sessionID string) (*domainwf.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	r, ok := m.records[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domainwf.ErrSessionNotFound, sessionID)
	}
	return r.Clone(), nil
}

func (m *mockSessionRepo) Archive(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.archived[sessionID] = true
	return nil
}

func (m *mockSessionRepo) ListActive(ctx context.Context, limit int) ([]*domainwf.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domainwf.Record
	for id, r := range m.records {
		if !m.archived[id] {
			out = append(out, r.Clone())
		}
	}
	return out, nil
}

type mockHistoryRepo struct {
	mu      sync.Mutex
	entries []*port.StepHistory
}

func (m *mockHistoryRepo) Create(ctx context.Context, h *port.StepHistory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h.ID = int64(len(m.entries) + 1)
	m.entries = append(m.entries, h)
	return nil
}

func (m *mockHistoryRepo) GetBySessionID(ctx context.Context, sessionID string) ([]*port.StepHistory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*port.StepHistory
	for _, h := range m.entries {
		if h.SessionID == sessionID {
			out = append(out, h)
		}
	}
	return out, nil
}

type mockTxManager struct {
	withTransactionFunc func(ctx context.Context, fn func(ctx context.Context) error) error
}

func (m *mockTxManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if m.withTransactionFunc != nil {
		return m.withTransactionFunc(ctx, fn)
	}
	return fn(ctx)
}

type mockLogger struct {
	mu     sync.Mutex
	errors []string
}

func (m *mockLogger) Info(msg string, keysAndValues ...interface{}) {}

func (m *mockLogger) Error(msg string, keysAndValues ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, msg)
}

type fixture struct {
	driver   *mockDriver
	sessions *mockSessionRepo
	history  *mockHistoryRepo
	logger   *mockLogger
	service  SessionService
}

func newFixture(opts ...SessionOption) *fixture {
	f := &fixture{
		driver:   &mockDriver{},
		sessions: newMockSessionRepo(),
		history:  &mockHistoryRepo{},
		logger:   &mockLogger{},
	}
	opts = append([]SessionOption{WithIDGenerator(func() string { return "session-1" })}, opts...)
	f.service = NewSessionService(f.driver, f.sessions, f.history, &mockTxManager{}, f.logger, opts...)
	return f
}

func TestSessionService_Create(t *testing.T) {
	f := newFixture()
	f.driver.runFunc = func(ctx context.Context, r *domainwf.Record, msg string) *workflow.RunResult {
		r.Step = domainwf.StepDataCollection
		return &workflow.RunResult{
			Record:      r,
			Halt:        workflow.HaltNeedInput,
			Transitions: []domainwf.Transition{{From: domainwf.StepInit, To: domainwf.StepDataCollection, At: time.Now()}},
		}
	}

	r, err := f.service.Create(context.Background(), "  Patient: Sara Ali  ", "P-9")

	require.NoError(t, err)
	assert.Equal(t, "session-1", r.SessionID)
	assert.Equal(t, "Patient: Sara Ali", r.Context[domainwf.ContextInitialInput])
	assert.Equal(t, "P-9", r.Context[domainwf.ContextPatientID])
	assert.Equal(t, domainwf.StepDataCollection, r.Step)

	require.Contains(t, f.sessions.records, "session-1")
	require.Len(t, f.history.entries, 1)
	assert.Equal(t, domainwf.StepInit, f.history.entries[0].FromStep)
	assert.Equal(t, "session created", f.history.entries[0].Note)
}

func TestSessionService_TurnUnknownSession(t *testing.T) {
	f := newFixture()

	_, err := f.service.Turn(context.Background(), "missing", "hello")

	require.Error(t, err)
	assert.ErrorIs(t, err, domainwf.ErrSessionNotFound)
}

func TestSessionService_TurnAppliesMessage(t *testing.T) {
	f := newFixture()
	_, err := f.service.Create(context.Background(), "", "")
	require.NoError(t, err)

	r, err := f.service.Turn(context.Background(), "session-1", "Patient: Sara Ali")

	require.NoError(t, err)
	assert.Equal(t, "Patient: Sara Ali", r.LastMessage().Content)
	assert.Equal(t, "Patient: Sara Ali", f.sessions.records["session-1"].LastMessage().Content)
	assert.Zero(t, f.sessions.gets, "records are served from the cache")
}

func TestSessionService_LoadsFromRepositoryOnCacheMiss(t *testing.T) {
	f := newFixture()
	stored := domainwf.NewRecord("stored-1")
	stored.Step = domainwf.StepMedicalCoding
	f.sessions.records["stored-1"] = stored

	r, err := f.service.Get(context.Background(), "stored-1")

	require.NoError(t, err)
	assert.Equal(t, domainwf.StepMedicalCoding, r.Step)
	assert.Equal(t, 1, f.sessions.gets)

	_, err = f.service.Get(context.Background(), "stored-1")
	require.NoError(t, err)
	assert.Equal(t, 1, f.sessions.gets)
}

func TestSessionService_GetReturnsSnapshot(t *testing.T) {
	f := newFixture()
	_, err := f.service.Create(context.Background(), "", "")
	require.NoError(t, err)

	r, err := f.service.Get(context.Background(), "session-1")
	require.NoError(t, err)
	r.Step = domainwf.StepCompleted

	again, err := f.service.Get(context.Background(), "session-1")
	require.NoError(t, err)
	assert.Equal(t, domainwf.StepInit, again.Step)
}

func TestSessionService_PersistFailureKeepsPreviousState(t *testing.T) {
	f := newFixture()
	_, err := f.service.Create(context.Background(), "", "")
	require.NoError(t, err)

	f.sessions.saveErr = errors.New("disk full")
	_, err = f.service.Turn(context.Background(), "session-1", "Patient: Sara Ali")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")

	r, err := f.service.Get(context.Background(), "session-1")
	require.NoError(t, err)
	assert.Empty(t, r.Messages)
}

func TestSessionService_ClosedSessions(t *testing.T) {
	f := newFixture()
	_, err := f.service.Create(context.Background(), "", "")
	require.NoError(t, err)

	r, err := f.service.Exit(context.Background(), "session-1")
	require.NoError(t, err)
	assert.True(t, r.ExitRequested)
	assert.True(t, f.sessions.archived["session-1"])

	_, err = f.service.Turn(context.Background(), "session-1", "hello")
	assert.ErrorIs(t, err, domainwf.ErrSessionClosed)

	_, err = f.service.Retry(context.Background(), "session-1")
	assert.ErrorIs(t, err, domainwf.ErrSessionClosed)

	_, err = f.service.Restart(context.Background(), "session-1")
	assert.ErrorIs(t, err, domainwf.ErrSessionClosed)

	// Exiting twice is harmless
	_, err = f.service.Exit(context.Background(), "session-1")
	assert.NoError(t, err)
	assert.Equal(t, []string{"", "exit"}, f.driver.msgs)
}

func TestSessionService_Retry(t *testing.T) {
	f := newFixture()
	failed := domainwf.NewRecord("s-err")
	failed.Step = domainwf.StepClaimProcessing
	failed.Claim = &domainwf.ClaimData{ClaimNumber: "CLM12345678", Status: domainwf.ClaimStatusRejected}
	failed.SetConfidence(domainwf.StepClaimProcessing, 0.9)
	failed.NeedUserInput = false
	failed.Fail("Claim submission failed: timeout")
	f.sessions.records["s-err"] = failed

	_, err := f.service.Retry(context.Background(), "s-err")
	require.NoError(t, err)

	seen := f.driver.last()
	assert.Empty(t, seen.ErrorMessage)
	assert.Equal(t, domainwf.StatusProcessing, seen.Status)
	assert.Equal(t, domainwf.StepClaimProcessing, seen.Step)
	assert.Nil(t, seen.Claim)
	assert.NotContains(t, seen.ConfidenceScores, "claim_processing")
	assert.Equal(t, "", f.driver.msgs[len(f.driver.msgs)-1])
}

func TestSessionService_Restart(t *testing.T) {
	f := newFixture()
	done := domainwf.NewRecord("s-done")
	done.AddHuman("Patient: Old Data")
	done.Step = domainwf.StepCompleted
	done.Done = true
	done.Claim = &domainwf.ClaimData{ClaimNumber: "CLM00000001"}
	f.sessions.records["s-done"] = done

	_, err := f.service.Restart(context.Background(), "s-done")
	require.NoError(t, err)

	seen := f.driver.last()
	assert.Equal(t, domainwf.StepInit, seen.Step)
	assert.False(t, seen.Done)
	assert.Nil(t, seen.Claim)
	assert.Len(t, seen.Messages, 1)
	assert.Empty(t, seen.HumanText())
	assert.False(t, f.sessions.archived["s-done"])
}

func TestSessionService_History(t *testing.T) {
	f := newFixture()
	f.driver.runFunc = func(ctx context.Context, r *domainwf.Record, msg string) *workflow.RunResult {
		r.Step = domainwf.StepMedicalCoding
		r.SetConfidence(domainwf.StepDataStructuring, 0.88)
		return &workflow.RunResult{
			Record: r,
			Halt:   workflow.HaltIdle,
			Transitions: []domainwf.Transition{
				{From: domainwf.StepInit, To: domainwf.StepDataCollection},
				{From: domainwf.StepDataCollection, To: domainwf.StepDataStructuring},
				{From: domainwf.StepDataStructuring, To: domainwf.StepMedicalCoding},
			},
		}
	}
	_, err := f.service.Create(context.Background(), "", "")
	require.NoError(t, err)

	history, err := f.service.History(context.Background(), "session-1")

	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Nil(t, history[0].Confidence)
	require.NotNil(t, history[2].Confidence)
	assert.InDelta(t, 0.88, *history[2].Confidence, 1e-9)

	_, err = f.service.History(context.Background(), "missing")
	assert.ErrorIs(t, err, domainwf.ErrSessionNotFound)
}

func TestSessionService_SerializesTurnsPerSession(t *testing.T) {
	f := newFixture()
	_, err := f.service.Create(context.Background(), "", "")
	require.NoError(t, err)

	var inFlight, maxInFlight atomic.Int32
	f.driver.runFunc = func(ctx context.Context, r *domainwf.Record, msg string) *workflow.RunResult {
		n := inFlight.Add(1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		r.AddHuman(msg)
		inFlight.Add(-1)
		return &workflow.RunResult{Record: r, Halt: workflow.HaltNeedInput}
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = f.service.Turn(context.Background(), "session-1", fmt.Sprintf("message %d", i))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInFlight.Load())
	r, err := f.service.Get(context.Background(), "session-1")
	require.NoError(t, err)
	assert.Len(t, r.Messages, 10, "no turn was lost")
	assert.Zero(t, f.service.(*sessionServiceImpl).locks.len(), "released locks are dropped")
}

func TestSessionLocks_DropIdleEntries(t *testing.T) {
	locks := newSessionLocks()

	release := locks.acquire("a")
	assert.Equal(t, 1, locks.len())

	acquired := make(chan func())
	go func() { acquired <- locks.acquire("a") }()

	select {
	case <-acquired:
		t.Fatal("second holder entered while the first held the lock")
	case <-time.After(20 * time.Millisecond):
	}
	assert.Equal(t, 1, locks.len(), "a waiter keeps the entry alive")

	release()
	second := <-acquired
	assert.Equal(t, 1, locks.len())

	second()
	assert.Zero(t, locks.len())
}

func TestSessionService_LogsInvariantViolations(t *testing.T) {
	f := newFixture()
	f.driver.runFunc = func(ctx context.Context, r *domainwf.Record, msg string) *workflow.RunResult {
		// Coding output past its step without a confidence score
		r.Step = domainwf.StepEligibilityChecking
		r.Codes = &domainwf.SuggestedCodes{}
		return &workflow.RunResult{Record: r, Halt: workflow.HaltIdle}
	}

	r, err := f.service.Create(context.Background(), "", "")

	require.NoError(t, err)
	assert.Equal(t, domainwf.StepEligibilityChecking, r.Step, "the record is still persisted")
	assert.Contains(t, f.logger.errors, "Record invariant violated")
}

func TestSessionService_ListActive(t *testing.T) {
	f := newFixture()
	_, err := f.service.Create(context.Background(), "", "")
	require.NoError(t, err)

	active, err := f.service.ListActive(context.Background(), 10)

	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestSessionService_LifecycleEvents(t *testing.T) {
	disp := dispatcher.NewDispatcher()

	var mu sync.Mutex
	var got []event.Type
	record := func(ctx context.Context, evt *event.Event) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, evt.Type)
		assert.Equal(t, "session-1", evt.SessionID)
		return nil
	}
	disp.Subscribe(event.TypeSessionCreated, "test", record)
	disp.Subscribe(event.TypeSessionClosed, "test", record)

	f := newFixture(WithEventDispatcher(disp))

	_, err := f.service.Create(context.Background(), "", "")
	require.NoError(t, err)
	_, err = f.service.Exit(context.Background(), "session-1")
	require.NoError(t, err)
	// Exiting twice must not emit a second close
	_, err = f.service.Exit(context.Background(), "session-1")
	require.NoError(t, err)

	require.NoError(t, disp.Close())

	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []event.Type{event.TypeSessionCreated, event.TypeSessionClosed}, got)
}
