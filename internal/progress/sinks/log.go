package sinks

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/realtime-news-crawler/internal/progress"
)

// LogSink writes one structured line per lifecycle event.
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

// Consume logs each event. Failures log at warn, everything else at debug.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		level := zapcore.DebugLevel
		switch evt.Stage {
		case progress.StageJobError, progress.StageJobRetry:
			level = zapcore.WarnLevel
		case progress.StageJobDone:
			level = zapcore.InfoLevel
		}
		ce := s.logger.Check(level, "job event")
		if ce == nil {
			continue
		}
		ce.Write(
			zap.String("job_id", evt.JobID),
			zap.String("stage", string(evt.Stage)),
			zap.String("source", evt.Source),
			zap.Int("progress", evt.Progress),
			zap.Int("attempt", evt.Attempt),
			zap.Int("scraped", evt.Scraped),
			zap.Int("saved", evt.Saved),
			zap.Int("skipped", evt.Skipped),
			zap.Duration("dur", evt.Dur),
			zap.String("note", evt.Note),
		)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
