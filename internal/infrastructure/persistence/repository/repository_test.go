package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/rcm-agent/internal/application/port"
	"github.com/garyjia/rcm-agent/internal/domain/workflow"
	"github.com/garyjia/rcm-agent/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/rcm-agent/pkg/database"
)

func setupDB(t *testing.T) *sqlite.DB {
	t.Helper()
	logger := zap.NewNop()

	db, err := database.New(database.Config{Path: ":memory:"}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, database.NewMigrator(db, logger).RunEmbedded(context.Background()))
	return sqlite.NewDB(db.DB, logger)
}

func sampleRecord(id string) *workflow.Record {
	r := workflow.NewRecord(id)
	r.Step = workflow.StepMedicalCoding
	r.Status = workflow.StatusReviewing
	r.Patient = &workflow.PatientData{Name: "Fatima Noor", InsuranceProvider: "THIQA"}
	r.SetConfidence(workflow.StepDataStructuring, 0.82)
	r.AddHuman("Patient: Fatima Noor")
	return r
}

func TestSessionRepository_SaveAndGet(t *testing.T) {
	db := setupDB(t)
	repo := NewSessionRepository(db.DB, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, sampleRecord("s1")))

	got, err := repo.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, workflow.StepMedicalCoding, got.Step)
	assert.Equal(t, workflow.StatusReviewing, got.Status)
	assert.Equal(t, "Fatima Noor", got.Patient.Name)
	assert.InDelta(t, 0.82, got.ConfidenceScores["data_structuring"], 1e-9)
	require.Len(t, got.Messages, 1)

	// Save replaces the stored document
	got.Step = workflow.StepEligibilityChecking
	require.NoError(t, repo.Save(ctx, got))

	again, err := repo.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, workflow.StepEligibilityChecking, again.Step)
}

func TestSessionRepository_GetMissing(t *testing.T) {
	db := setupDB(t)
	repo := NewSessionRepository(db.DB, zap.NewNop())

	_, err := repo.Get(context.Background(), "nope")

	assert.ErrorIs(t, err, workflow.ErrSessionNotFound)
}

func TestSessionRepository_ArchiveAndListActive(t *testing.T) {
	db := setupDB(t)
	repo := NewSessionRepository(db.DB, zap.NewNop())
	ctx := context.Background()

	older := sampleRecord("older")
	older.UpdatedAt = time.Now().Add(-time.Hour)
	newer := sampleRecord("newer")
	closed := sampleRecord("closed")
	for _, r := range []*workflow.Record{older, newer, closed} {
		require.NoError(t, repo.Save(ctx, r))
	}
	require.NoError(t, repo.Archive(ctx, "closed"))

	active, err := repo.ListActive(ctx, 10)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "newer", active[0].SessionID)
	assert.Equal(t, "older", active[1].SessionID)

	// Archived sessions stay readable
	_, err = repo.Get(ctx, "closed")
	assert.NoError(t, err)

	// Saving reopens
	require.NoError(t, repo.Save(ctx, closed))
	active, err = repo.ListActive(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, active, 3)

	assert.ErrorIs(t, repo.Archive(ctx, "unknown"), workflow.ErrSessionNotFound)
}

func TestHistoryRepository_CreateAndList(t *testing.T) {
	db := setupDB(t)
	sessions := NewSessionRepository(db.DB, zap.NewNop())
	history := NewHistoryRepository(db.DB, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, sessions.Save(ctx, sampleRecord("s1")))

	conf := 0.91
	entries := []*port.StepHistory{
		{SessionID: "s1", FromStep: workflow.StepInit, ToStep: workflow.StepDataCollection, Status: workflow.StatusCollecting, Note: "session created"},
		{SessionID: "s1", FromStep: workflow.StepDataStructuring, ToStep: workflow.StepMedicalCoding, Status: workflow.StatusProcessing, Confidence: &conf},
	}
	for _, h := range entries {
		require.NoError(t, history.Create(ctx, h))
		assert.NotZero(t, h.ID)
	}

	got, err := history.GetBySessionID(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, workflow.StepInit, got[0].FromStep)
	assert.Equal(t, "session created", got[0].Note)
	assert.Nil(t, got[0].Confidence)
	require.NotNil(t, got[1].Confidence)
	assert.InDelta(t, 0.91, *got[1].Confidence, 1e-9)

	none, err := history.GetBySessionID(ctx, "other")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestWithTransaction_RollsBackOnError(t *testing.T) {
	db := setupDB(t)
	sessions := NewSessionRepository(db.DB, zap.NewNop())
	history := NewHistoryRepository(db.DB, zap.NewNop())
	ctx := context.Background()
	boom := errors.New("boom")

	err := db.WithTransaction(ctx, func(txCtx context.Context) error {
		require.NoError(t, sessions.Save(txCtx, sampleRecord("tx-1")))
		require.NoError(t, history.Create(txCtx, &port.StepHistory{
			SessionID: "tx-1", FromStep: workflow.StepInit, ToStep: workflow.StepDataCollection, Status: workflow.StatusCollecting,
		}))
		return boom
	})

	assert.ErrorIs(t, err, boom)
	_, err = sessions.Get(ctx, "tx-1")
	assert.ErrorIs(t, err, workflow.ErrSessionNotFound)
}

func TestWithTransaction_Commits(t *testing.T) {
	db := setupDB(t)
	sessions := NewSessionRepository(db.DB, zap.NewNop())
	ctx := context.Background()

	err := db.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := sessions.Save(txCtx, sampleRecord("tx-2")); err != nil {
			return err
		}
		// nested calls join the outer transaction
		return db.WithTransaction(txCtx, func(inner context.Context) error {
			return sessions.Archive(inner, "tx-2")
		})
	})

	require.NoError(t, err)
	active, err := sessions.ListActive(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, active)
}
