package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/archive-crawler/internal/progress"
)

// LogSink emits structured logs for progress streams. It is useful during
// development or audits where a durable store is unavailable.
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
			zap.String("run_id", evt.RunID.String()),
			zap.String("stage", string(evt.Stage)),
			zap.Duration("dur", evt.Dur),
		}
		switch evt.Stage {
		case progress.StagePageDone:
			fields = append(fields,
				zap.String("url", evt.URL),
				zap.Int("found", evt.Found),
				zap.Int("new", evt.New),
				zap.Int("attempts", evt.Attempts),
			)
		case progress.StageUnitDone:
			fields = append(fields,
				zap.String("unit", evt.Unit),
				zap.String("result", string(evt.Result)),
				zap.Int("attempts", evt.Attempts),
			)
			if evt.Reason != "" {
				fields = append(fields, zap.String("reason", evt.Reason))
			}
		default:
			fields = append(fields, zap.String("mode", string(evt.Mode)))
			if evt.URL != "" {
				fields = append(fields, zap.String("url", evt.URL))
			}
			if evt.Reason != "" {
				fields = append(fields, zap.String("reason", evt.Reason))
			}
		}
		s.logger.Debug("progress event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
