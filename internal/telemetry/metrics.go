package telemetry

import (
	"context"

	"github.com/yoyooyooo/logix-sub006/internal/engine"
	"github.com/yoyooyooo/logix-sub006/internal/ir"
)

// MetricsSink records decisions and builds into prometheus collectors.
//
// Use it when metrics should follow the publisher wiring; engine.WithMetrics
// records the same collectors directly from the executor.
type MetricsSink struct {
	metrics *engine.Metrics
}

// NewMetricsSink wraps m.
func NewMetricsSink(m *engine.Metrics) *MetricsSink {
	return &MetricsSink{metrics: m}
}

// PublishDecision implements Sink.
func (s *MetricsSink) PublishDecision(_ context.Context, d ir.ConvergeDecision) error {
	s.metrics.ObserveDecision(d)
	return nil
}

// PublishBuild implements Sink.
func (s *MetricsSink) PublishBuild(_ context.Context, static *ir.ConvergeStaticIr) error {
	s.metrics.ObserveBuild(static)
	return nil
}
