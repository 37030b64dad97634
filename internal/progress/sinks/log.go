// Package sinks provides progress.Sink implementations.
package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/previewkit/ogpipe/internal/progress"
)

// LogSink writes one structured line per event, which is the per-capture
// progress output users see during a build.
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

// Consume logs each event in the batch using structured fields. Failed
// captures are logged at warn level so they stand out in colored output.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("batch_id", evt.BatchUUID().String()),
			zap.String("stage", string(evt.Stage)),
			zap.String("route", evt.Route),
			zap.String("result", string(evt.Result)),
			zap.Duration("dur", evt.Dur),
			zap.Int("percent", evt.Percent),
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		if evt.Result == progress.ResultFailed {
			s.logger.Warn("og image progress", fields...)
			continue
		}
		s.logger.Info("og image progress", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
