package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/press-digest/internal/clock/system"
	"github.com/JakeFAU/press-digest/internal/digest"
	"github.com/JakeFAU/press-digest/internal/metrics"
)

const (
	defaultBatchSize = 10
	defaultTopic     = "press-release-summaries"
)

// EnrichConfig controls the enrichment stage.
type EnrichConfig struct {
	BatchSize int
	// Topic receives one notification per newly stored summary.
	Topic string
}

// BatchProgress is called after every batch with the running totals.
type BatchProgress func(processed, total int, percent float64)

// SummaryNotice is the payload published for each new summary.
type SummaryNotice struct {
	ItemID       int64     `json:"press_release_id"`
	KeyPoints    []string  `json:"bullet_points"`
	BackendUsed  string    `json:"model_used"`
	SummarizedAt time.Time `json:"summarized_at"`
}

// Enricher summarizes items that do not have a summary yet.
type Enricher struct {
	store      digest.ContentStore
	summarizer digest.Summarizer
	clock      digest.Clock
	publisher  digest.Publisher
	cfg        EnrichConfig
	logger     *zap.Logger
}

// NewEnricher constructs an Enricher. clock defaults to the system clock;
// publisher may be nil.
func NewEnricher(
	store digest.ContentStore,
	summarizer digest.Summarizer,
	clock digest.Clock,
	publisher digest.Publisher,
	cfg EnrichConfig,
	logger *zap.Logger,
) *Enricher {
	if clock == nil {
		clock = system.New()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.Topic == "" {
		cfg.Topic = defaultTopic
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Enricher{
		store:      store,
		summarizer: summarizer,
		clock:      clock,
		publisher:  publisher,
		cfg:        cfg,
		logger:     logger.Named("enrich"),
	}
}

// Run enriches every unsummarized item.
func (e *Enricher) Run(ctx context.Context) (EnrichReport, error) {
	return e.RunWithProgress(ctx, nil)
}

// RunWithProgress enriches every unsummarized item, newest first, in
// sequential batches. An unhealthy backend ends the stage before any item is
// touched and is reported through the status, not as an error.
func (e *Enricher) RunWithProgress(ctx context.Context, progress BatchProgress) (EnrichReport, error) {
	var report EnrichReport
	if err := e.store.EnsureSchema(ctx); err != nil {
		return report, fmt.Errorf("enrich: ensure schema: %w", err)
	}

	items, err := e.store.ListUnsummarized(ctx)
	if err != nil {
		return report, fmt.Errorf("enrich: list unsummarized: %w", err)
	}
	total := len(items)
	report.Unsummarized = total
	if total == 0 {
		report.Status = StatusNothingToDo
		e.logger.Info("all items already summarized")
		return report, nil
	}

	if !e.summarizer.HealthCheck(ctx) {
		report.Status = StatusBackendUnavailable
		report.Remaining = int64(total)
		e.logger.Error("enrichment backend unavailable",
			zap.Int("unsummarized", total),
			zap.Error(digest.ErrBackendUnhealthy),
		)
		return report, nil
	}

	e.logger.Info("summarizing items", zap.Int("unsummarized", total), zap.Int("batch_size", e.cfg.BatchSize))
	for start := 0; start < total; start += e.cfg.BatchSize {
		end := min(start+e.cfg.BatchSize, total)
		e.logger.Debug("processing batch",
			zap.Int("batch", start/e.cfg.BatchSize+1),
			zap.Int("from", start+1),
			zap.Int("to", end),
		)
		for _, item := range items[start:end] {
			if err := e.enrichOne(ctx, item, &report); err != nil {
				report.SuccessRate = percentage(report.Summarized, total)
				return report, fmt.Errorf("enrich: %w", err)
			}
		}

		pct := digest.Round(float64(end)/float64(total)*100, 1)
		e.logger.Info("enrichment progress",
			zap.Float64("percent", pct),
			zap.Int("summarized", report.Summarized),
			zap.Int("errors", report.Errors),
		)
		if progress != nil {
			progress(end, total, pct)
		}
	}

	report.Status = StatusCompleted
	report.SuccessRate = percentage(report.Summarized, total)
	if err := e.closingStats(ctx, &report); err != nil {
		return report, fmt.Errorf("enrich: %w", err)
	}
	e.logger.Info("enrichment finished",
		zap.Int("processed", report.Processed),
		zap.Int("summarized", report.Summarized),
		zap.Int("degraded", report.Degraded),
		zap.Int("errors", report.Errors),
		zap.Int64("remaining", report.Remaining),
	)
	return report, nil
}

// enrichOne summarizes and persists one item. Only cancellation and storage
// unavailability are returned; other persistence errors are counted.
func (e *Enricher) enrichOne(ctx context.Context, item digest.UnsummarizedItem, report *EnrichReport) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	draft := e.summarizer.Summarize(ctx, item.Body, item.Title)
	// A canceled call degrades the draft; do not store that as a real outcome.
	if err := ctx.Err(); err != nil {
		return err
	}
	report.Processed++

	summary := draft.ToSummary(item.ID, e.clock.Now())
	created, err := e.store.InsertSummaryIfAbsent(ctx, item.ID, summary)
	if err != nil {
		if errors.Is(err, digest.ErrStorageUnavailable) {
			return err
		}
		report.Errors++
		e.logger.Error("persist summary failed", zap.Int64("item_id", item.ID), zap.Error(err))
		return nil
	}
	if !created {
		return nil
	}

	report.Summarized++
	if summary.Degraded() {
		report.Degraded++
	}
	metrics.ObserveSummary(summary.BackendUsed)
	e.notify(ctx, summary)
	return nil
}

// notify publishes a summary notice; failures are logged only.
func (e *Enricher) notify(ctx context.Context, summary digest.Summary) {
	if e.publisher == nil {
		return
	}
	notice := SummaryNotice{
		ItemID:       summary.ItemID,
		KeyPoints:    summary.KeyPoints,
		BackendUsed:  summary.BackendUsed,
		SummarizedAt: summary.SummarizedAt,
	}
	if _, err := e.publisher.Publish(ctx, e.cfg.Topic, notice); err != nil {
		e.logger.Warn("publish summary notice failed", zap.Int64("item_id", summary.ItemID), zap.Error(err))
	}
}

func (e *Enricher) closingStats(ctx context.Context, report *EnrichReport) error {
	summarized, err := e.store.CountSummarized(ctx)
	if err != nil {
		return fmt.Errorf("count summaries: %w", err)
	}
	all, err := e.store.CountAll(ctx)
	if err != nil {
		return fmt.Errorf("count items: %w", err)
	}
	report.TotalSummaries = summarized
	report.Remaining = max(all-summarized, 0)
	return nil
}
