package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/git-clone-worker/internal/progress"
)

// LogSink emits one structured log line per progress event.
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
			zap.String("job_id", evt.JobID),
			zap.String("run_id", evt.RunID),
			zap.String("repo", evt.Repo),
			zap.String("stage", string(evt.Stage)),
		}
		if evt.Terminal() {
			fields = append(fields,
				zap.Int64("bytes", evt.Bytes),
				zap.Duration("dur", evt.Dur),
			)
		}
		if evt.Stage == progress.StageJobError {
			fields = append(fields,
				zap.String("reason", evt.Reason),
				zap.Bool("fatal", evt.Fatal),
			)
		}
		s.logger.Info("progress event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
