package sinks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/press-digest/internal/progress"
	"github.com/JakeFAU/press-digest/internal/store"
)

// StoreSink persists run lifecycle events via a store.RunRepository.
// Intermediate stages are not stored.
type StoreSink struct {
	repo   store.RunRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.RunRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume forwards run start and completion events to the repository. It
// respects ctx deadlines and returns the first repository error.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	for _, evt := range batch {
		runID := evt.RunUUID()
		switch evt.Stage {
		case progress.StageRunStart:
			if err := s.repo.StartRun(ctx, runID, evt.Trigger, evt.TS); err != nil {
				return fmt.Errorf("start run: %w", err)
			}
		case progress.StageRunDone, progress.StageRunError:
			done := store.RunCompletion{
				FinishedAt:   evt.TS,
				Status:       store.RunSuccess,
				IngestReport: evt.IngestReport,
				EnrichReport: evt.EnrichReport,
			}
			if evt.Stage == progress.StageRunError {
				done.Status = store.RunError
				if evt.Note != "" {
					note := evt.Note
					done.ErrorMessage = &note
				}
			}
			if err := s.repo.CompleteRun(ctx, runID, done); err != nil {
				return fmt.Errorf("complete run: %w", err)
			}
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
