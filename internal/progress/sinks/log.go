package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/press-digest/internal/progress"
)

// LogSink emits structured logs for each run milestone.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("run_id", evt.RunUUID().String()),
			zap.String("stage", string(evt.Stage)),
			zap.Duration("dur", evt.Dur),
		}
		switch evt.Stage {
		case progress.StageRunStart:
			fields = append(fields, zap.String("trigger", evt.Trigger))
		case progress.StageEnrichBatch:
			fields = append(fields,
				zap.Int("processed", evt.Processed),
				zap.Int("total", evt.Total),
				zap.Float64("percent", evt.Percent),
			)
		}
		if len(evt.IngestReport) > 0 {
			fields = append(fields, zap.ByteString("ingest_report", evt.IngestReport))
		}
		if len(evt.EnrichReport) > 0 {
			fields = append(fields, zap.ByteString("enrich_report", evt.EnrichReport))
		}
		if evt.Stage == progress.StageRunError {
			s.logger.Warn("run failed", append(fields, zap.String("note", evt.Note))...)
			continue
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		s.logger.Info("progress event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
