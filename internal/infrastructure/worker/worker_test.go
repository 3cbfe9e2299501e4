package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	domainwf "github.com/garyjia/rcm-agent/internal/domain/workflow"
)

type fakeSessions struct {
	mu       sync.Mutex
	records  []*domainwf.Record
	exitErr  map[string]error
	listErr  error
	exited   []string
	lastSize int
}

func (f *fakeSessions) ListActive(ctx context.Context, limit int) ([]*domainwf.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastSize = limit
	if f.listErr != nil {
		return nil, f.listErr
	}
	var open []*domainwf.Record
	for _, r := range f.records {
		if !r.Done {
			open = append(open, r)
		}
	}
	return open, nil
}

func (f *fakeSessions) Exit(ctx context.Context, sessionID string) (*domainwf.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.exitErr[sessionID]; err != nil {
		return nil, err
	}
	for _, r := range f.records {
		if r.SessionID == sessionID {
			r.Done = true
			f.exited = append(f.exited, sessionID)
			return r, nil
		}
	}
	return nil, domainwf.ErrSessionNotFound
}

func (f *fakeSessions) exitedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.exited...)
}

func recordAt(id string, updated time.Time) *domainwf.Record {
	r := domainwf.NewRecord(id)
	r.UpdatedAt = updated
	return r
}

func TestSessionReaper_Sweep(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	sessions := &fakeSessions{
		records: []*domainwf.Record{
			recordAt("fresh", now.Add(-10*time.Minute)),
			recordAt("stale", now.Add(-2*time.Hour)),
			recordAt("raced", now.Add(-3*time.Hour)),
			recordAt("broken", now.Add(-4*time.Hour)),
		},
		exitErr: map[string]error{
			"raced":  domainwf.ErrSessionClosed,
			"broken": errors.New("database is locked"),
		},
	}

	reaper := NewSessionReaper(SessionReaperConfig{IdleTimeout: time.Hour, BatchSize: 50}, sessions, zap.NewNop())
	reaper.now = func() time.Time { return now }

	closed, err := reaper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, closed)
	assert.Equal(t, []string{"stale"}, sessions.exitedIDs())
	assert.Equal(t, 50, sessions.lastSize)

	total, failed, lastErr := reaper.Stats()
	assert.Equal(t, 1, total)
	assert.Equal(t, 1, failed)
	assert.EqualError(t, lastErr, "database is locked")

	// Nothing left to close on the second pass
	closed, err = reaper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, closed)
}

func TestSessionReaper_SweepListError(t *testing.T) {
	sessions := &fakeSessions{listErr: errors.New("no such table")}
	reaper := NewSessionReaper(SessionReaperConfig{}, sessions, zap.NewNop())

	_, err := reaper.Sweep(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no such table")
}

func TestSessionReaper_Defaults(t *testing.T) {
	reaper := NewSessionReaper(SessionReaperConfig{}, &fakeSessions{}, zap.NewNop())
	assert.Equal(t, DefaultSessionReaperConfig(), reaper.config)
	assert.Equal(t, "SessionReaper", reaper.Name())
}

func TestSessionReaper_StartStop(t *testing.T) {
	sessions := &fakeSessions{
		records: []*domainwf.Record{recordAt("old", time.Now().Add(-time.Hour))},
	}
	reaper := NewSessionReaper(SessionReaperConfig{
		PollInterval: 10 * time.Millisecond,
		IdleTimeout:  time.Minute,
	}, sessions, zap.NewNop())

	require.NoError(t, reaper.Start(context.Background()))
	require.Error(t, reaper.Start(context.Background()), "second start")

	assert.Eventually(t, func() bool {
		return len(sessions.exitedIDs()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, reaper.Stop())
	require.NoError(t, reaper.Stop(), "stop is idempotent")
}

type stubWorker struct {
	name     string
	startErr error
	log      *[]string
}

func (w *stubWorker) Start(ctx context.Context) error {
	if w.startErr != nil {
		return w.startErr
	}
	*w.log = append(*w.log, "start:"+w.name)
	return nil
}

func (w *stubWorker) Stop() error {
	*w.log = append(*w.log, "stop:"+w.name)
	return nil
}

func (w *stubWorker) Name() string { return w.name }

func TestWorkerManager(t *testing.T) {
	var log []string
	m := NewWorkerManager(zap.NewNop())
	m.Register(&stubWorker{name: "a", log: &log})
	m.Register(&stubWorker{name: "b", startErr: errors.New("boom"), log: &log})
	m.Register(&stubWorker{name: "c", log: &log})
	assert.Equal(t, 3, m.GetWorkerCount())

	err := m.StartAll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to start 1 workers")
	assert.True(t, m.IsRunning())
	require.Error(t, m.StartAll(context.Background()), "already running")

	require.NoError(t, m.StopAll())
	assert.False(t, m.IsRunning())
	assert.Equal(t, []string{"start:a", "start:c", "stop:c", "stop:a"}, log)

	require.NoError(t, m.StopAll(), "stopping twice is a no-op")
}
