package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/previewkit/ogpipe/internal/progress"
)

// PrometheusSink exports batch progress metrics. It owns all collectors
// for batches and per-capture counters.
type PrometheusSink struct {
	batchesStarted   prometheus.Counter
	batchesCompleted prometheus.Counter
	batchRuntime     prometheus.Histogram
	captures         *prometheus.CounterVec
	captureDuration  *prometheus.HistogramVec
	queueSize        prometheus.Gauge
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		batchesStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ogpipe_batches_started_total",
			Help: "Total screenshot batches that have started draining.",
		}),
		batchesCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ogpipe_batches_completed_total",
			Help: "Total screenshot batches that finished draining.",
		}),
		batchRuntime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ogpipe_batch_runtime_seconds",
			Help:    "Wall time per completed batch.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
		captures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ogpipe_captures_total",
			Help: "Capture completions partitioned by result.",
		}, []string{"result"}),
		captureDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ogpipe_capture_duration_seconds",
			Help:    "Capture duration partitioned by result.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"result"}),
		queueSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ogpipe_batch_queue_size",
			Help: "Jobs queued in the batch currently draining.",
		}),
	}
	for _, collector := range []prometheus.Collector{
		s.batchesStarted,
		s.batchesCompleted,
		s.batchRuntime,
		s.captures,
		s.captureDuration,
		s.queueSize,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates collectors from the batch of events.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageBatchStart:
			s.batchesStarted.Inc()
			s.queueSize.Set(float64(evt.Total))
		case progress.StageCaptureDone:
			s.captures.WithLabelValues(string(evt.Result)).Inc()
			s.captureDuration.WithLabelValues(string(evt.Result)).Observe(evt.Dur.Seconds())
		case progress.StageBatchDone:
			s.batchesCompleted.Inc()
			s.batchRuntime.Observe(evt.Dur.Seconds())
			s.queueSize.Set(0)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
