package sinks

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/press-digest/internal/progress"
	"github.com/JakeFAU/press-digest/internal/storage/memory"
	"github.com/JakeFAU/press-digest/internal/store"
)

// TestStoreSinkPersistsRunLifecycle ensures start and completion land in the run history.
func TestStoreSinkPersistsRunLifecycle(t *testing.T) {
	t.Parallel()

	repo := memory.NewRunStore()
	sink := NewStoreSink(repo, nil)
	id := uuid.New()
	runID := progress.UUIDToBytes(id)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	ingest := json.RawMessage(`{"candidates":3}`)
	enrich := json.RawMessage(`{"status":"completed"}`)
	batch := []progress.Event{
		{RunID: runID, Stage: progress.StageRunStart, Trigger: "cli", TS: now},
		{RunID: runID, Stage: progress.StageEnrichBatch, TS: now.Add(time.Second), Percent: 100},
		{RunID: runID, Stage: progress.StageRunDone, TS: now.Add(3 * time.Second), Dur: 3 * time.Second,
			IngestReport: ingest, EnrichReport: enrich},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	run, err := repo.GetRun(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, "cli", run.Trigger)
	require.Equal(t, store.RunSuccess, run.Status)
	require.NotNil(t, run.FinishedAt)
	require.Equal(t, now.Add(3*time.Second), *run.FinishedAt)
	require.JSONEq(t, string(ingest), string(run.IngestReport))
	require.JSONEq(t, string(enrich), string(run.EnrichReport))
	require.Nil(t, run.ErrorMessage)
}

func TestStoreSinkRecordsErrorNote(t *testing.T) {
	t.Parallel()

	repo := memory.NewRunStore()
	sink := NewStoreSink(repo, nil)
	id := uuid.New()
	runID := progress.UUIDToBytes(id)
	now := time.Now().UTC()

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: runID, Stage: progress.StageRunStart, Trigger: "schedule", TS: now},
		{RunID: runID, Stage: progress.StageRunError, TS: now, Note: "storage unavailable"},
	}))

	run, err := repo.GetRun(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, store.RunError, run.Status)
	require.NotNil(t, run.ErrorMessage)
	require.Equal(t, "storage unavailable", *run.ErrorMessage)
}

// TestStoreSinkHandlesErrors surfaces repository failures back to the caller.
func TestStoreSinkHandlesErrors(t *testing.T) {
	t.Parallel()

	sink := NewStoreSink(failingRepo{}, nil)
	err := sink.Consume(context.Background(), []progress.Event{
		{RunID: progress.UUIDToBytes(uuid.New()), Stage: progress.StageRunStart, Trigger: "cli", TS: time.Now()},
	})
	require.Error(t, err)

	// Completing an unknown run surfaces ErrNotFound from the repository.
	err = NewStoreSink(memory.NewRunStore(), nil).Consume(context.Background(), []progress.Event{
		{RunID: progress.UUIDToBytes(uuid.New()), Stage: progress.StageRunDone, TS: time.Now()},
	})
	require.ErrorIs(t, err, store.ErrNotFound)

	var nilSink *StoreSink
	require.NoError(t, nilSink.Consume(context.Background(), nil))
}

func TestLogSinkWritesFields(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.InfoLevel)
	sink := NewLogSink(zap.New(core))
	runID := progress.UUIDToBytes(uuid.New())
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: runID, Stage: progress.StageRunStart, Trigger: "api", TS: time.Now()},
		{RunID: runID, Stage: progress.StageEnrichBatch, Processed: 1, Total: 4, Percent: 25, TS: time.Now()},
		{RunID: runID, Stage: progress.StageRunError, Note: "boom", TS: time.Now()},
	}))
	require.NoError(t, sink.Close(context.Background()))

	entries := logs.AllUntimed()
	require.Len(t, entries, 3)
	require.Equal(t, "api", entries[0].ContextMap()["trigger"])
	require.Equal(t, 25.0, entries[1].ContextMap()["percent"])
	require.Equal(t, zap.WarnLevel, entries[2].Level)
	require.Equal(t, "boom", entries[2].ContextMap()["note"])
}

type failingRepo struct{}

func (failingRepo) StartRun(context.Context, uuid.UUID, string, time.Time) error {
	return errors.New("start failed")
}

func (failingRepo) CompleteRun(context.Context, uuid.UUID, store.RunCompletion) error {
	return errors.New("complete failed")
}

func (failingRepo) GetRun(context.Context, uuid.UUID) (store.Run, error) {
	return store.Run{}, store.ErrNotFound
}

func (failingRepo) ListRuns(context.Context, *store.RunStatus, int, int) ([]store.Run, error) {
	return nil, nil
}
