package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/yoyooyooo/logix-sub006/internal/ir"
)

// Defaults applied when no option overrides them.
const (
	DefaultBudget         = 16 * time.Millisecond
	DefaultDecisionBudget = 2 * time.Millisecond
	DefaultDebounce       = 50 * time.Millisecond
	DefaultMaxLag         = 500 * time.Millisecond
)

// Publisher receives every decision an executor produces.
// telemetry.Sink implementations satisfy it.
type Publisher interface {
	PublishDecision(ctx context.Context, d ir.ConvergeDecision) error
}

// BuildPublisher is implemented by publishers that also want each IR build.
// Module checks for it when a plan is installed.
type BuildPublisher interface {
	PublishBuild(ctx context.Context, static *ir.ConvergeStaticIr) error
}

// Option configures a Module and the executors it creates.
type Option func(*options)

type options struct {
	mode           ir.ConvergeMode
	budget         time.Duration
	decisionBudget time.Duration
	debounce       time.Duration
	maxLag         time.Duration
	cache          PlanCacheConfig
	trackBy        map[string]string

	clock     Clock
	logger    *slog.Logger
	ids       IDGenerator
	txnIDs    IDGenerator
	publisher Publisher
	metrics   *Metrics

	degradeOnConfigError bool
}

func defaultOptions() options {
	return options{
		mode:           ir.ModeAuto,
		budget:         DefaultBudget,
		decisionBudget: DefaultDecisionBudget,
		debounce:       DefaultDebounce,
		maxLag:         DefaultMaxLag,
		cache:          DefaultPlanCacheConfig(),
		clock:          SystemClock{},
		logger:         slog.Default(),
		ids:            UUIDv7Generator{},
		txnIDs:         UUIDv7Generator{},
	}
}

// WithMode sets the requested converge mode (default auto).
func WithMode(mode ir.ConvergeMode) Option {
	return func(o *options) {
		o.mode = mode
	}
}

// WithBudget sets the per-transaction execution budget. Unlimited disables it.
func WithBudget(budget time.Duration) Option {
	return func(o *options) {
		o.budget = budget
	}
}

// WithDecisionBudget bounds the time spent choosing the relevant steps.
func WithDecisionBudget(budget time.Duration) Option {
	return func(o *options) {
		o.decisionBudget = budget
	}
}

// WithDeferral sets the debounce window and max lag for deferred steps.
func WithDeferral(debounce, maxLag time.Duration) Option {
	return func(o *options) {
		o.debounce = debounce
		o.maxLag = maxLag
	}
}

// WithPlanCache sets the plan cache thresholds.
func WithPlanCache(cfg PlanCacheConfig) Option {
	return func(o *options) {
		o.cache = cfg
	}
}

// WithTrackBy supplies list identities, keyed by item scope ("items[]").
func WithTrackBy(trackBy map[string]string) Option {
	return func(o *options) {
		o.trackBy = trackBy
	}
}

// WithClock replaces the monotonic clock (default SystemClock).
func WithClock(clock Clock) Option {
	return func(o *options) {
		o.clock = clock
	}
}

// WithLogger sets the logger (default slog.Default()).
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithIDGenerator sets the generators for instance ids and transaction ids.
func WithIDGenerator(instances, txns IDGenerator) Option {
	return func(o *options) {
		o.ids = instances
		o.txnIDs = txns
	}
}

// WithPublisher sends every decision to p.
func WithPublisher(p Publisher) Option {
	return func(o *options) {
		o.publisher = p
	}
}

// WithMetrics records decisions into m.
func WithMetrics(m *Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithDegradeOnConfigError accepts an IR carrying a configuration error.
// Every converge then reports Degraded/config_error instead of failing
// module construction.
func WithDegradeOnConfigError() Option {
	return func(o *options) {
		o.degradeOnConfigError = true
	}
}

// CallOption overrides executor settings for one invocation.
type CallOption func(*callOptions)

type callOptions struct {
	mode           ir.ConvergeMode
	budget         time.Duration
	decisionBudget time.Duration
	txnID          string
}

// CallMode overrides the requested mode for one call.
func CallMode(mode ir.ConvergeMode) CallOption {
	return func(c *callOptions) {
		c.mode = mode
	}
}

// CallBudget overrides both budgets for one call.
func CallBudget(budget, decisionBudget time.Duration) CallOption {
	return func(c *callOptions) {
		c.budget = budget
		c.decisionBudget = decisionBudget
	}
}

// CallTxnID sets the transaction id instead of generating one.
func CallTxnID(id string) CallOption {
	return func(c *callOptions) {
		c.txnID = id
	}
}
