package progress

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Config controls buffering and delivery for the Hub.
//   - BufferSize: capacity of the event channel (default 1024).
//   - MaxBatchEvents: flush once this many events queue (default 256).
//   - MaxBatchWait: flush a partial batch after this long (default 500ms).
//   - MilestoneWait: how long Emit waits for buffer space before dropping a
//     milestone event (default 250ms). Enrichment batch events never wait.
//   - SinkTimeout: per-sink deadline for each flush (default 10s).
//   - BaseContext: parent of sink contexts (default context.Background()).
//   - Logger: receives drop and sink warnings.
type Config struct {
	BufferSize     int
	MaxBatchEvents int
	MaxBatchWait   time.Duration
	MilestoneWait  time.Duration
	SinkTimeout    time.Duration
	BaseContext    context.Context
	Logger         *zap.Logger
}

const (
	defaultBufferSize     = 1024
	defaultMaxBatchEvents = 256
	defaultMaxBatchWait   = 500 * time.Millisecond
	defaultMilestoneWait  = 250 * time.Millisecond
	defaultSinkTimeout    = 10 * time.Second
	dropLogInterval       = 5 * time.Second
)

// Hub buffers run events and fans them out to sinks in batches.
//
// Enrichment batch events are superseded by the next one for the same run, so
// under backpressure they are dropped immediately and a flush keeps only the
// latest per run. Milestones feed the run record and get a bounded wait for
// buffer space first.
type Hub struct {
	cfg     Config
	sinks   []Sink
	events  chan Event
	stopCh  chan struct{}
	doneCh  chan struct{}
	logger  *zap.Logger
	dropLog *rate.Sometimes

	droppedBatches    atomic.Int64
	droppedMilestones atomic.Int64
	closed            atomic.Bool

	closeOnce sync.Once
	closeCtx  context.Context
}

// NewHub starts the delivery goroutine and returns a Hub ready for Emit.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.MaxBatchEvents <= 0 {
		cfg.MaxBatchEvents = defaultMaxBatchEvents
	}
	if cfg.MaxBatchWait <= 0 {
		cfg.MaxBatchWait = defaultMaxBatchWait
	}
	if cfg.MilestoneWait <= 0 {
		cfg.MilestoneWait = defaultMilestoneWait
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkTimeout
	}
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		cfg:     cfg,
		sinks:   append([]Sink(nil), sinks...),
		events:  make(chan Event, cfg.BufferSize),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
		logger:  logger,
		dropLog: &rate.Sometimes{Interval: dropLogInterval},
	}
	go h.run()
	return h
}

// Emit enqueues evt. Invalid events and events emitted after Close are
// discarded.
func (h *Hub) Emit(evt Event) {
	if h == nil || h.closed.Load() {
		return
	}
	if err := evt.Validate(); err != nil {
		h.logger.Debug("discarding invalid progress event", zap.Error(err))
		return
	}
	select {
	case h.events <- evt:
		return
	default:
	}
	if evt.Stage == StageEnrichBatch {
		h.drop(evt, &h.droppedBatches)
		return
	}
	if h.cfg.MilestoneWait > 0 {
		timer := time.NewTimer(h.cfg.MilestoneWait)
		defer timer.Stop()
		select {
		case h.events <- evt:
			return
		case <-timer.C:
		case <-h.stopCh:
		}
	}
	h.drop(evt, &h.droppedMilestones)
}

func (h *Hub) drop(evt Event, counter *atomic.Int64) {
	counter.Add(1)
	h.dropLog.Do(func() {
		h.logger.Warn("progress events dropped due to backpressure",
			zap.String("last_stage", string(evt.Stage)),
			zap.Int64("enrich_batch_total", h.droppedBatches.Load()),
			zap.Int64("milestones_total", h.droppedMilestones.Load()),
		)
	})
}

// Close drains queued events, flushes and closes every sink, then waits for
// the delivery goroutine or ctx. Repeated calls only wait.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		h.closeCtx = ctx
		close(h.stopCh)
	})
	select {
	case <-h.doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("progress hub close wait: %w", ctx.Err())
	}
}

func (h *Hub) run() {
	defer close(h.doneCh)
	batch := make([]Event, 0, h.cfg.MaxBatchEvents)
	ticker := time.NewTicker(h.cfg.MaxBatchWait)
	defer ticker.Stop()
	for {
		select {
		case evt := <-h.events:
			batch = append(batch, evt)
			if len(batch) >= h.cfg.MaxBatchEvents {
				batch = h.flush(batch)
			}
		case <-ticker.C:
			batch = h.flush(batch)
		case <-h.stopCh:
			h.drain(batch)
			return
		}
	}
}

func (h *Hub) drain(batch []Event) {
	for {
		select {
		case evt := <-h.events:
			batch = append(batch, evt)
			if len(batch) >= h.cfg.MaxBatchEvents {
				batch = h.flush(batch)
			}
		default:
			h.flush(batch)
			if n := h.droppedMilestones.Load(); n > 0 {
				h.logger.Warn("progress hub closed with dropped milestones", zap.Int64("milestones", n))
			}
			h.closeSinks()
			return
		}
	}
}

// flush delivers the coalesced batch to every sink and returns batch emptied
// for reuse.
func (h *Hub) flush(batch []Event) []Event {
	if len(batch) == 0 {
		return batch
	}
	out := coalesce(batch)
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(h.cfg.BaseContext, h.cfg.SinkTimeout)
		if err := sink.Consume(ctx, out); err != nil {
			h.logger.Warn("progress sink consume failed", zap.Error(err))
		}
		cancel()
	}
	return batch[:0]
}

// coalesce copies batch keeping only the last enrichment batch event of each
// run, in its original position. Milestones are kept as is.
func coalesce(batch []Event) []Event {
	last := make(map[[16]byte]int)
	for i, evt := range batch {
		if evt.Stage == StageEnrichBatch {
			last[evt.RunID] = i
		}
	}
	out := make([]Event, 0, len(batch))
	for i, evt := range batch {
		if evt.Stage == StageEnrichBatch && last[evt.RunID] != i {
			continue
		}
		out = append(out, evt)
	}
	return out
}

func (h *Hub) closeSinks() {
	ctx := h.closeCtx
	if ctx == nil {
		ctx = context.Background()
	}
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		if err := sink.Close(ctx); err != nil {
			h.logger.Warn("progress sink close failed", zap.Error(err))
		}
	}
}
