package progress

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Sink consumes batches of progress events. Implementations must be safe
// for repeated calls and honor ctx deadlines.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter publishes individual events; Reporter satisfies this interface
// so the orchestrator stays agnostic about where events land.
type Emitter interface {
	Emit(evt Event)
}

// Reporter fans events out to sinks synchronously. The capture pass is
// strictly sequential, so no buffering or batching layer is needed here.
type Reporter struct {
	sinks       []Sink
	logger      *zap.Logger
	sinkTimeout time.Duration
}

// NewReporter wires sinks into a Reporter.
func NewReporter(logger *zap.Logger, sinks ...Sink) *Reporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reporter{
		sinks:       sinks,
		logger:      logger,
		sinkTimeout: 10 * time.Second,
	}
}

// Emit validates and delivers one event to every sink. Sink failures are
// logged, never propagated; progress reporting must not fail a batch.
func (r *Reporter) Emit(evt Event) {
	if r == nil {
		return
	}
	if err := evt.Validate(); err != nil {
		r.logger.Debug("discarding invalid progress event", zap.Error(err))
		return
	}
	for _, sink := range r.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), r.sinkTimeout)
		if err := sink.Consume(ctx, []Event{evt}); err != nil {
			r.logger.Warn("progress sink failed", zap.Error(err))
		}
		cancel()
	}
}

// Close closes every sink, returning the first error encountered.
func (r *Reporter) Close(ctx context.Context) error {
	if r == nil {
		return nil
	}
	var first error
	for _, sink := range r.sinks {
		if err := sink.Close(ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}
