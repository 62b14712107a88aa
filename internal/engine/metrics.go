package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/yoyooyooo/logix-sub006/internal/ir"
)

// Metrics holds the converge and build collectors. Create one per registry;
// executors of every instance share it.
type Metrics struct {
	// converges counts decisions.
	// Labels: mode (executed mode), outcome, reason
	converges *prometheus.CounterVec

	// duration measures converge wall time in seconds.
	duration prometheus.Histogram

	// steps counts steps by what happened to them.
	// Labels: state (executed, skipped, changed, deferred, errored)
	steps *prometheus.CounterVec

	// cacheLookups counts plan cache results per dirty-mode decision.
	// Labels: result (hit, miss, disabled)
	cacheLookups *prometheus.CounterVec

	// builds counts IR builds.
	// Labels: status (ok, config_error)
	builds *prometheus.CounterVec

	// fieldPaths is the registry size of the latest build.
	fieldPaths prometheus.Gauge
}

// NewMetrics registers the collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		converges: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "logix",
			Subsystem: "converge",
			Name:      "total",
			Help:      "Converge decisions by executed mode and outcome",
		}, []string{"mode", "outcome", "reason"}),
		duration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "logix",
			Subsystem: "converge",
			Name:      "duration_seconds",
			Help:      "Converge wall time in seconds",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.002, 0.004, 0.008, 0.016, 0.032, 0.064},
		}),
		steps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "logix",
			Subsystem: "converge",
			Name:      "steps_total",
			Help:      "Converge steps by state",
		}, []string{"state"}),
		cacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "logix",
			Subsystem: "plan_cache",
			Name:      "lookups_total",
			Help:      "Plan cache lookups by result",
		}, []string{"result"}),
		builds: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "logix",
			Subsystem: "ir",
			Name:      "builds_total",
			Help:      "Converge IR builds by status",
		}, []string{"status"}),
		fieldPaths: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "logix",
			Subsystem: "ir",
			Name:      "field_paths",
			Help:      "Field path registry size of the latest build",
		}),
	}
}

// ObserveDecision records one converge decision.
func (m *Metrics) ObserveDecision(d ir.ConvergeDecision) {
	m.converges.WithLabelValues(string(d.ExecutedMode), string(d.Outcome), string(d.Reason)).Inc()
	m.duration.Observe(d.Budget.ElapsedMs / 1000)

	m.steps.WithLabelValues("executed").Add(float64(d.StepStats.Executed))
	m.steps.WithLabelValues("skipped").Add(float64(d.StepStats.Skipped))
	m.steps.WithLabelValues("changed").Add(float64(d.StepStats.Changed))
	m.steps.WithLabelValues("deferred").Add(float64(d.StepStats.Deferred))
	m.steps.WithLabelValues("errored").Add(float64(d.StepStats.Errored))

	switch {
	case d.Cache.Hit:
		m.cacheLookups.WithLabelValues("hit").Inc()
	case d.Cache.Lookup:
		m.cacheLookups.WithLabelValues("miss").Inc()
	case d.Cache.Disabled:
		m.cacheLookups.WithLabelValues("disabled").Inc()
	}
}

// ObserveBuild records one IR build.
func (m *Metrics) ObserveBuild(static *ir.ConvergeStaticIr) {
	status := "ok"
	if static.ConfigError != nil {
		status = "config_error"
	}
	m.builds.WithLabelValues(status).Inc()
	m.fieldPaths.Set(float64(static.Summary.FieldPathCount))
}
