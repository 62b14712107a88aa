package telemetry

import (
	"context"
	"log/slog"

	"github.com/yoyooyooo/logix-sub006/internal/ir"
)

// LogSink writes decisions and builds as structured log records.
// Degraded decisions log at Warn, everything else at Debug.
type LogSink struct {
	logger *slog.Logger
	module string
}

// NewLogSink creates a log sink for module.
func NewLogSink(logger *slog.Logger, module string) *LogSink {
	return &LogSink{logger: logger, module: module}
}

// PublishDecision implements Sink.
func (s *LogSink) PublishDecision(ctx context.Context, d ir.ConvergeDecision) error {
	level := slog.LevelDebug
	if d.Outcome == ir.OutcomeDegraded {
		level = slog.LevelWarn
	}
	s.logger.Log(ctx, level, "converge decision",
		"event", "decision",
		"module", s.module,
		"txn", d.TxnID,
		"instance", d.InstanceID,
		"generation", d.Generation,
		"requested_mode", d.RequestedMode,
		"executed_mode", d.ExecutedMode,
		"outcome", d.Outcome,
		"reason", d.Reason,
		"executed", d.StepStats.Executed,
		"skipped", d.StepStats.Skipped,
		"changed", d.StepStats.Changed,
		"elapsed_ms", d.Budget.ElapsedMs,
		"cache_hit", d.Cache.Hit,
	)
	return nil
}

// PublishBuild implements Sink.
func (s *LogSink) PublishBuild(ctx context.Context, static *ir.ConvergeStaticIr) error {
	attrs := []any{
		"event", "ir_build",
		"module", s.module,
		"generation", static.Generation,
		"steps", static.Summary.StepCount,
		"field_paths", static.Summary.FieldPathCount,
		"dropped_deps", static.Summary.DroppedDeps,
		"build_ms", static.Summary.BuildDurationMs,
	}
	if static.ConfigError != nil {
		attrs = append(attrs, "config_error", static.ConfigError.Code)
		s.logger.WarnContext(ctx, "converge IR built with configuration error", attrs...)
		return nil
	}
	s.logger.InfoContext(ctx, "converge IR built", attrs...)
	return nil
}
