package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/yoyooyooo/logix-sub006/internal/config"
	"github.com/yoyooyooo/logix-sub006/internal/engine"
	"github.com/yoyooyooo/logix-sub006/internal/store"
	"github.com/yoyooyooo/logix-sub006/internal/telemetry"
)

// TelemetryFlags override the telemetry section of the config.
type TelemetryFlags struct {
	Database string
	NATSURL  string
	Metrics  bool
}

func (f *TelemetryFlags) apply(cfg config.TelemetryConfig) config.TelemetryConfig {
	if f.Database != "" {
		cfg.SQLitePath = f.Database
	}
	if f.NATSURL != "" {
		cfg.NATS.URL = f.NATSURL
	}
	if f.Metrics {
		cfg.Metrics = true
	}
	return cfg
}

// sinks is the evidence fan-out of one module.
type sinks struct {
	telemetry.Sink

	// Registry is set when metrics are enabled.
	Registry *prometheus.Registry

	closers []func()
}

func (s *sinks) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// openSinks creates the log sink and whatever cfg enables on top of it.
func openSinks(cfg config.TelemetryConfig, module string, logger *slog.Logger) (*sinks, error) {
	s := &sinks{}
	list := []telemetry.Sink{telemetry.NewLogSink(logger, module)}

	if cfg.SQLitePath != "" {
		st, err := store.Open(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open decision log: %w", err)
		}
		s.closers = append(s.closers, func() {
			if err := st.Close(); err != nil {
				logger.Error("error closing database", "event", "store_close", "error", err)
			}
		})
		list = append(list, telemetry.NewStoreSink(st, module))
	}

	if cfg.NATS.URL != "" {
		conn, err := telemetry.ConnectNATS(cfg.NATS.URL, "logix-"+module)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.closers = append(s.closers, func() {
			if err := conn.Drain(); err != nil {
				logger.Warn("nats drain failed", "event", "nats_drain", "error", err)
			}
		})
		list = append(list, telemetry.NewNATSSink(conn, cfg.NATS.SubjectPrefix, module))
	}

	if cfg.Metrics {
		s.Registry = prometheus.NewRegistry()
		list = append(list, telemetry.NewMetricsSink(engine.NewMetrics(s.Registry)))
	}

	s.Sink = telemetry.Multi(list...)
	return s, nil
}

// logMetrics writes one debug line per gathered metric family.
func (s *sinks) logMetrics(ctx context.Context, logger *slog.Logger) {
	if s.Registry == nil {
		return
	}
	families, err := s.Registry.Gather()
	if err != nil {
		logger.Warn("gather metrics failed", "event", "metrics_gather", "error", err)
		return
	}
	for _, mf := range families {
		logger.DebugContext(ctx, "metric", "event", "metrics",
			"name", mf.GetName(),
			"series", len(mf.GetMetric()),
		)
	}
}
