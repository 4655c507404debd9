package progress

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// TestHubBatchBySize verifies the hub flushes immediately once the batch size limit is reached.
func TestHubBatchBySize(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{
		BufferSize:     8,
		MaxBatchEvents: 2,
		MaxBatchWait:   time.Minute,
	}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	evt := sampleEvent(StageRunStart)
	hub.Emit(evt)
	hub.Emit(evt)
	require.Eventually(t, func() bool {
		return len(sink.Batches()) == 1 && len(sink.Batches()[0]) == 2
	}, time.Second, 10*time.Millisecond)
}

// TestHubBatchByTimer verifies the timer-based flush kicks in when the batch is small.
func TestHubBatchByTimer(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{
		BufferSize:     4,
		MaxBatchEvents: 10,
		MaxBatchWait:   25 * time.Millisecond,
	}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	hub.Emit(sampleEvent(StageRunStart))
	require.Eventually(t, func() bool {
		return len(sink.Batches()) == 1
	}, time.Second, 5*time.Millisecond)
}

// TestHubDropsEnrichBatchWithoutWaiting asserts superseded progress never blocks the runner.
func TestHubDropsEnrichBatchWithoutWaiting(t *testing.T) {
	t.Parallel()

	hub := &Hub{
		cfg:     Config{MilestoneWait: time.Second},
		events:  make(chan Event),
		stopCh:  make(chan struct{}),
		logger:  zap.NewNop(),
		dropLog: &rate.Sometimes{Interval: time.Second},
	}
	start := time.Now()
	hub.Emit(sampleEvent(StageEnrichBatch))
	require.Less(t, time.Since(start), 50*time.Millisecond)
	require.Equal(t, int64(1), hub.droppedBatches.Load())
	require.Zero(t, hub.droppedMilestones.Load())
}

// TestHubMilestoneWaitIsBounded asserts a full buffer delays a milestone by at most MilestoneWait.
func TestHubMilestoneWaitIsBounded(t *testing.T) {
	t.Parallel()

	hub := &Hub{
		cfg:     Config{MilestoneWait: 30 * time.Millisecond},
		events:  make(chan Event),
		stopCh:  make(chan struct{}),
		logger:  zap.NewNop(),
		dropLog: &rate.Sometimes{Interval: time.Second},
	}
	start := time.Now()
	hub.Emit(sampleEvent(StageRunDone))
	elapsed := time.Since(start)
	require.GreaterOrEqual(t, elapsed, 30*time.Millisecond)
	require.Less(t, elapsed, time.Second)
	require.Equal(t, int64(1), hub.droppedMilestones.Load())
}

// TestHubMilestoneDeliveredWhenSpaceFrees asserts a milestone survives a briefly full buffer.
func TestHubMilestoneDeliveredWhenSpaceFrees(t *testing.T) {
	t.Parallel()

	hub := &Hub{
		cfg:     Config{MilestoneWait: time.Second},
		events:  make(chan Event, 1),
		stopCh:  make(chan struct{}),
		logger:  zap.NewNop(),
		dropLog: &rate.Sometimes{Interval: time.Second},
	}
	hub.events <- sampleEvent(StageRunStart)
	go func() {
		time.Sleep(20 * time.Millisecond)
		<-hub.events
	}()

	done := sampleEvent(StageRunDone)
	hub.Emit(done)
	require.Equal(t, done, <-hub.events)
	require.Zero(t, hub.droppedMilestones.Load())
}

// TestHubCoalescesEnrichBatches asserts a flush keeps only the latest batch event per run.
func TestHubCoalescesEnrichBatches(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{MaxBatchEvents: 100, MaxBatchWait: time.Minute}, sink)

	runA := sampleEvent(StageRunStart)
	runB := sampleEvent(StageRunStart)
	at := func(base Event, stage Stage, pct float64) Event {
		evt := base
		evt.Stage = stage
		evt.Percent = pct
		return evt
	}
	hub.Emit(runA)
	hub.Emit(at(runA, StageEnrichBatch, 10))
	hub.Emit(at(runA, StageEnrichBatch, 50))
	hub.Emit(at(runB, StageEnrichBatch, 20))
	hub.Emit(at(runA, StageEnrichBatch, 100))
	hub.Emit(at(runA, StageRunDone, 0))
	require.NoError(t, hub.Close(context.Background()))

	batches := sink.Batches()
	require.Len(t, batches, 1)
	got := batches[0]
	require.Len(t, got, 4)
	require.Equal(t, StageRunStart, got[0].Stage)
	require.Equal(t, runB.RunID, got[1].RunID)
	require.InDelta(t, 20.0, got[1].Percent, 0)
	require.Equal(t, runA.RunID, got[2].RunID)
	require.InDelta(t, 100.0, got[2].Percent, 0)
	require.Equal(t, StageRunDone, got[3].Stage)
}

// TestHubFlushOnClose ensures Close drains any buffered events before returning.
func TestHubFlushOnClose(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{
		BufferSize:     4,
		MaxBatchEvents: 100,
		MaxBatchWait:   time.Minute,
	}, sink)

	evt := sampleEvent(StageRunStart)
	hub.Emit(evt)

	require.NoError(t, hub.Close(context.Background()))
	require.Len(t, sink.Batches(), 1)
	require.Len(t, sink.Batches()[0], 1)
}

type stubSink struct {
	mu      sync.Mutex
	batches [][]Event
}

func newStubSink() *stubSink {
	return &stubSink{batches: [][]Event{}}
}

func (s *stubSink) Consume(_ context.Context, batch []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copyBatch := append([]Event(nil), batch...)
	s.batches = append(s.batches, copyBatch)
	return nil
}

func (s *stubSink) Close(context.Context) error {
	return nil
}

func (s *stubSink) Batches() [][]Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]Event, len(s.batches))
	for i, b := range s.batches {
		out[i] = append([]Event(nil), b...)
	}
	return out
}

func sampleEvent(stage Stage) Event {
	return Event{
		RunID:   UUIDToBytes(uuid.New()),
		TS:      time.Now(),
		Stage:   stage,
		Trigger: "test",
	}
}

func TestEventValidate(t *testing.T) {
	t.Parallel()

	valid := sampleEvent(StageRunStart)
	require.NoError(t, valid.Validate())

	noID := valid
	noID.RunID = [16]byte{}
	require.Error(t, noID.Validate())

	noTS := valid
	noTS.TS = time.Time{}
	require.Error(t, noTS.Validate())

	noTrigger := valid
	noTrigger.Trigger = ""
	require.Error(t, noTrigger.Validate())

	batch := sampleEvent(StageEnrichBatch)
	batch.Percent = 100.1
	require.Error(t, batch.Validate())
	batch.Percent = 42.5
	require.NoError(t, batch.Validate())

	unknown := sampleEvent(Stage("NOPE"))
	require.Error(t, unknown.Validate())

	negative := sampleEvent(StageRunDone)
	negative.Dur = -time.Second
	require.Error(t, negative.Validate())
}

func TestEventTerminalAndUUID(t *testing.T) {
	t.Parallel()

	id := uuid.New()
	evt := Event{RunID: UUIDToBytes(id), Stage: StageRunError}
	require.True(t, evt.Terminal())
	require.Equal(t, id, evt.RunUUID())
	require.False(t, Event{Stage: StageEnrichDone}.Terminal())
}

func TestHubDiscardsInvalidEvents(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{MaxBatchEvents: 1, MaxBatchWait: time.Minute}, sink)
	hub.Emit(Event{Stage: StageRunStart})
	hub.Emit(sampleEvent(StageRunDone))
	require.NoError(t, hub.Close(context.Background()))

	batches := sink.Batches()
	require.Len(t, batches, 1)
	require.Equal(t, StageRunDone, batches[0][0].Stage)
}

func TestHubEmitAfterCloseIsIgnored(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{}, sink)
	require.NoError(t, hub.Close(context.Background()))
	require.NoError(t, hub.Close(context.Background()))
	hub.Emit(sampleEvent(StageRunStart))
	require.Empty(t, sink.Batches())

	var nilHub *Hub
	nilHub.Emit(sampleEvent(StageRunStart))
	require.NoError(t, nilHub.Close(context.Background()))
}
