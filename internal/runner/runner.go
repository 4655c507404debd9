// Package runner orchestrates pipeline runs: one ingestion stage followed by
// one enrichment stage, reported through the progress hub.
package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/press-digest/internal/clock/system"
	"github.com/JakeFAU/press-digest/internal/digest"
	"github.com/JakeFAU/press-digest/internal/pipeline"
	"github.com/JakeFAU/press-digest/internal/progress"
)

// Triggers recorded on run history.
const (
	TriggerSchedule = "schedule"
	TriggerAPI      = "api"
	TriggerCLI      = "cli"
)

const (
	defaultItemLimit = 10
	defaultInterval  = 15 * time.Minute
)

// ErrRunInProgress is returned when a run is requested while another one is
// still executing in this process.
var ErrRunInProgress = errors.New("a pipeline run is already in progress")

// Mode selects which stages a run executes.
type Mode string

// Supported run modes.
const (
	ModeAll    Mode = "all"
	ModeIngest Mode = "ingest"
	ModeEnrich Mode = "enrich"
)

// ParseMode validates a user supplied mode; empty means ModeAll.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeAll:
		return ModeAll, nil
	case ModeIngest, ModeEnrich:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown run mode %q (want all, ingest or enrich)", s)
}

func (m Mode) ingest() bool { return m == ModeAll || m == ModeIngest }
func (m Mode) enrich() bool { return m == ModeAll || m == ModeEnrich }

// Ingester is the ingestion stage.
type Ingester interface {
	Run(ctx context.Context, limit int) (pipeline.IngestReport, error)
}

// Enricher is the enrichment stage.
type Enricher interface {
	RunWithProgress(ctx context.Context, progress pipeline.BatchProgress) (pipeline.EnrichReport, error)
}

// Config controls scheduling.
type Config struct {
	// ItemLimit bounds the locators discovered per run.
	ItemLimit int
	// Interval between scheduled runs.
	Interval time.Duration
	// RunOnStart triggers a run as soon as Start is called.
	RunOnStart bool
	// BaseContext parents runs started through Trigger.
	BaseContext context.Context
}

// RunResult describes a finished run.
type RunResult struct {
	RunID      uuid.UUID              `json:"run_id"`
	Trigger    string                 `json:"trigger"`
	Mode       Mode                   `json:"mode"`
	StartedAt  time.Time              `json:"started_at"`
	FinishedAt time.Time              `json:"finished_at"`
	Ingest     *pipeline.IngestReport `json:"ingest,omitempty"`
	Enrich     *pipeline.EnrichReport `json:"enrich,omitempty"`
	Error      string                 `json:"error,omitempty"`
}

// Runner executes pipeline runs. At most one run executes at a time per
// process; the store constraints keep concurrent processes correct.
type Runner struct {
	ingester Ingester
	enricher Enricher
	emitter  progress.Emitter
	clock    digest.Clock
	cfg      Config
	logger   *zap.Logger

	running atomic.Bool
	wg      sync.WaitGroup
}

// New constructs a Runner. emitter may be nil.
func New(
	ingester Ingester,
	enricher Enricher,
	emitter progress.Emitter,
	clock digest.Clock,
	cfg Config,
	logger *zap.Logger,
) *Runner {
	if clock == nil {
		clock = system.New()
	}
	if cfg.ItemLimit <= 0 {
		cfg.ItemLimit = defaultItemLimit
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		ingester: ingester,
		enricher: enricher,
		emitter:  emitter,
		clock:    clock,
		cfg:      cfg,
		logger:   logger.Named("runner"),
	}
}

// RunOnce executes ingestion then enrichment synchronously.
func (r *Runner) RunOnce(ctx context.Context, trigger string) (RunResult, error) {
	return r.Run(ctx, trigger, ModeAll)
}

// Run executes the stages selected by mode synchronously.
func (r *Runner) Run(ctx context.Context, trigger string, mode Mode) (RunResult, error) {
	if !r.running.CompareAndSwap(false, true) {
		return RunResult{}, ErrRunInProgress
	}
	defer r.running.Store(false)

	id, err := uuid.NewV7()
	if err != nil {
		return RunResult{}, fmt.Errorf("allocate run id: %w", err)
	}
	return r.execute(ctx, id, trigger, mode)
}

// Trigger starts a full run in the background and returns its id.
func (r *Runner) Trigger(trigger string) (uuid.UUID, error) {
	if !r.running.CompareAndSwap(false, true) {
		return uuid.Nil, ErrRunInProgress
	}
	id, err := uuid.NewV7()
	if err != nil {
		r.running.Store(false)
		return uuid.Nil, fmt.Errorf("allocate run id: %w", err)
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.running.Store(false)
		if _, err := r.execute(r.cfg.BaseContext, id, trigger, ModeAll); err != nil {
			r.logger.Warn("triggered run failed", zap.String("run_id", id.String()), zap.Error(err))
		}
	}()
	return id, nil
}

// Running reports whether a run is executing.
func (r *Runner) Running() bool {
	return r.running.Load()
}

// Wait blocks until background runs started by Trigger have finished.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// Start runs the pipeline every Interval until ctx is done. A tick that
// finds a run still executing is skipped.
func (r *Runner) Start(ctx context.Context) {
	r.logger.Info("scheduler started",
		zap.Duration("interval", r.cfg.Interval),
		zap.Bool("run_on_start", r.cfg.RunOnStart),
	)
	if r.cfg.RunOnStart {
		r.tick(ctx)
	}
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.wg.Wait()
			r.logger.Info("scheduler stopped")
			return
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *Runner) tick(ctx context.Context) {
	if _, err := r.Run(ctx, TriggerSchedule, ModeAll); err != nil {
		if errors.Is(err, ErrRunInProgress) {
			r.logger.Info("previous run still executing, skipping tick")
			return
		}
		r.logger.Warn("scheduled run failed", zap.Error(err))
	}
}

func (r *Runner) execute(ctx context.Context, id uuid.UUID, trigger string, mode Mode) (RunResult, error) {
	runID := progress.UUIDToBytes(id)
	started := r.clock.Now()
	result := RunResult{RunID: id, Trigger: trigger, Mode: mode, StartedAt: started}
	logger := r.logger.With(zap.String("run_id", id.String()), zap.String("trigger", trigger))
	logger.Info("run started", zap.String("mode", string(mode)))
	r.emit(progress.Event{RunID: runID, TS: started, Stage: progress.StageRunStart, Trigger: trigger})

	var errs []error
	abort := false

	if mode.ingest() {
		stageStart := r.clock.Now()
		rep, err := r.ingester.Run(ctx, r.cfg.ItemLimit)
		result.Ingest = &rep
		evt := progress.Event{
			RunID:        runID,
			TS:           r.clock.Now(),
			Stage:        progress.StageIngestDone,
			Dur:          r.since(stageStart),
			IngestReport: marshalReport(rep, logger),
		}
		if err != nil {
			errs = append(errs, err)
			evt.Note = err.Error()
			logger.Error("ingestion failed", zap.Error(err))
			// Enrichment can still work through the backlog unless the store
			// itself is gone.
			abort = errors.Is(err, digest.ErrStorageUnavailable) || ctx.Err() != nil
		}
		r.emit(evt)
	}

	if mode.enrich() && !abort {
		stageStart := r.clock.Now()
		rep, err := r.enricher.RunWithProgress(ctx, func(processed, total int, percent float64) {
			r.emit(progress.Event{
				RunID:     runID,
				TS:        r.clock.Now(),
				Stage:     progress.StageEnrichBatch,
				Processed: processed,
				Total:     total,
				Percent:   percent,
				Dur:       r.since(stageStart),
			})
		})
		result.Enrich = &rep
		evt := progress.Event{
			RunID:        runID,
			TS:           r.clock.Now(),
			Stage:        progress.StageEnrichDone,
			Dur:          r.since(stageStart),
			Note:         string(rep.Status),
			EnrichReport: marshalReport(rep, logger),
		}
		if err != nil {
			errs = append(errs, err)
			evt.Note = err.Error()
			logger.Error("enrichment failed", zap.Error(err))
		}
		r.emit(evt)
	}

	result.FinishedAt = r.clock.Now()
	err := errors.Join(errs...)
	final := progress.Event{
		RunID: runID,
		TS:    result.FinishedAt,
		Stage: progress.StageRunDone,
		Dur:   r.since(started),
	}
	if result.Ingest != nil {
		final.IngestReport = marshalReport(*result.Ingest, logger)
	}
	if result.Enrich != nil {
		final.EnrichReport = marshalReport(*result.Enrich, logger)
	}
	if err != nil {
		result.Error = err.Error()
		final.Stage = progress.StageRunError
		final.Note = err.Error()
		logger.Warn("run finished with errors", zap.Duration("duration", final.Dur), zap.Error(err))
	} else {
		logger.Info("run finished", zap.Duration("duration", final.Dur))
	}
	r.emit(final)
	return result, err
}

func (r *Runner) emit(evt progress.Event) {
	if r.emitter == nil {
		return
	}
	r.emitter.Emit(evt)
}

func (r *Runner) since(t time.Time) time.Duration {
	return max(r.clock.Now().Sub(t), 0)
}

func marshalReport(v any, logger *zap.Logger) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		logger.Warn("marshal report failed", zap.Error(err))
		return nil
	}
	return b
}
