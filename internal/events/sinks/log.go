// Package sinks contains event sink implementations for the run-event hub.
package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/fcdockets/imm-crawler/internal/events"
)

// LogSink emits structured logs for the run-event stream. Useful during
// development or audits where a durable artifact is unavailable.
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
func (s *LogSink) Consume(_ context.Context, batch []events.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("run_id", evt.RunID),
			zap.String("kind", string(evt.Kind)),
			zap.String("year", evt.Year),
		}
		if evt.Attempt != nil {
			fields = append(fields,
				zap.String("case_id", evt.Attempt.Case),
				zap.Int("attempt", evt.Attempt.Number),
				zap.String("outcome", string(evt.Attempt.Outcome)),
				zap.Int("status_code", evt.Attempt.StatusCode),
				zap.Bool("probe", evt.Attempt.Probe),
				zap.Duration("wait", evt.Attempt.Wait),
			)
			if evt.Attempt.Err != "" {
				fields = append(fields, zap.String("error", evt.Attempt.Err))
			}
		}
		if evt.Kind == events.KindRunDone {
			fields = append(fields, zap.String("result", string(evt.Result)))
			if evt.Stats != nil {
				fields = append(fields,
					zap.Int("total_attempted", evt.Stats.TotalAttempted),
					zap.Int("success_count", evt.Stats.SuccessCount),
					zap.Int("no_record_count", evt.Stats.NoRecordCount),
					zap.Int("failed_count", evt.Stats.FailedCount),
				)
			}
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		s.logger.Info("run event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
