// Package config provides configuration loading for the logix CLI.
//
// A config file is YAML; absent fields keep their DefaultConfig values:
//
//	engine:
//	  mode: auto
//	  budget_ms: 16
//	plan_cache:
//	  capacity: 128
//	telemetry:
//	  sqlite_path: evidence.db
//	  nats:
//	    url: nats://127.0.0.1:4222
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/yoyooyooo/logix-sub006/internal/engine"
	"github.com/yoyooyooo/logix-sub006/internal/ir"
)

// Config represents the complete logix configuration.
type Config struct {
	Engine    EngineConfig    `yaml:"engine"`
	PlanCache PlanCacheConfig `yaml:"plan_cache"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// EngineConfig configures converge execution. Budgets of -1 are unlimited.
type EngineConfig struct {
	Mode             string  `yaml:"mode" validate:"oneof=auto full dirty"`
	BudgetMs         float64 `yaml:"budget_ms" validate:"gte=-1"`
	DecisionBudgetMs float64 `yaml:"decision_budget_ms" validate:"gte=-1"`
	DebounceMs       int     `yaml:"debounce_ms" validate:"gte=0"`
	MaxLagMs         int     `yaml:"max_lag_ms" validate:"gtefield=DebounceMs"`
}

// PlanCacheConfig configures the per-instance plan cache.
type PlanCacheConfig struct {
	Capacity       int     `yaml:"capacity" validate:"gte=1"`
	FloorRatio     float64 `yaml:"floor_ratio" validate:"gte=0,lte=1"`
	Window         int     `yaml:"window" validate:"gte=1"`
	MinSamples     int     `yaml:"min_samples" validate:"gte=1,ltefield=Window"`
	Cooldown       int     `yaml:"cooldown" validate:"gte=0"`
	ThrashMax      int     `yaml:"thrash_max" validate:"gte=1"`
	ThrashWindowMs int     `yaml:"thrash_window_ms" validate:"gte=0"`
}

// TelemetryConfig configures where converge evidence goes.
type TelemetryConfig struct {
	// SQLitePath enables the decision log when set.
	SQLitePath string     `yaml:"sqlite_path"`
	NATS       NATSConfig `yaml:"nats"`

	// Metrics records prometheus collectors on the default registry.
	Metrics bool `yaml:"metrics"`
}

// NATSConfig configures the NATS sink. Empty URL disables it.
type NATSConfig struct {
	URL           string `yaml:"url" validate:"omitempty,url"`
	SubjectPrefix string `yaml:"subject_prefix" validate:"omitempty,subject"`
}

// DefaultConfig returns a Config with the engine defaults.
func DefaultConfig() *Config {
	pc := engine.DefaultPlanCacheConfig()
	return &Config{
		Engine: EngineConfig{
			Mode:             string(ir.ModeAuto),
			BudgetMs:         millis(engine.DefaultBudget),
			DecisionBudgetMs: millis(engine.DefaultDecisionBudget),
			DebounceMs:       int(engine.DefaultDebounce / time.Millisecond),
			MaxLagMs:         int(engine.DefaultMaxLag / time.Millisecond),
		},
		PlanCache: PlanCacheConfig{
			Capacity:       pc.Capacity,
			FloorRatio:     pc.FloorRatio,
			Window:         pc.Window,
			MinSamples:     pc.MinSamples,
			Cooldown:       pc.Cooldown,
			ThrashMax:      pc.ThrashMax,
			ThrashWindowMs: int(pc.ThrashWindow / time.Millisecond),
		},
		Telemetry: TelemetryConfig{
			NATS: NATSConfig{SubjectPrefix: "logix.converge"},
		},
	}
}

// LoadFromFile loads configuration from a YAML file over DefaultConfig and
// validates it.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

var subjectPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+(\.[A-Za-z0-9_-]+)*$`)

// configValidate is the validator instance for Config.
// Initialized in init() with the yaml tag namer and the subject rule.
var configValidate *validator.Validate

func init() {
	configValidate = validator.New(validator.WithRequiredStructEnabled())
	configValidate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	if err := configValidate.RegisterValidation("subject", func(fl validator.FieldLevel) bool {
		return subjectPattern.MatchString(fl.Field().String())
	}); err != nil {
		panic(err)
	}
}

// Validate checks every field and reports all violations at once.
func (c *Config) Validate() error {
	err := configValidate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fieldMessage(fe))
	}
	return errors.New(strings.Join(msgs, "; "))
}

// siblingNames maps cross-field parameters to their yaml names.
var siblingNames = map[string]string{
	"DebounceMs": "debounce_ms",
	"Window":     "window",
}

// fieldMessage renders fe with its yaml path, e.g. "engine.budget_ms must be >= -1".
func fieldMessage(fe validator.FieldError) string {
	path := fe.Namespace()
	if i := strings.IndexByte(path, '.'); i >= 0 {
		path = path[i+1:]
	}
	switch fe.Tag() {
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", path, fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be >= %s", path, fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be <= %s", path, fe.Param())
	case "gtefield":
		return fmt.Sprintf("%s must be >= %s", path, siblingNames[fe.Param()])
	case "ltefield":
		return fmt.Sprintf("%s must be <= %s", path, siblingNames[fe.Param()])
	case "url":
		return fmt.Sprintf("%s must be a URL", path)
	case "subject":
		return fmt.Sprintf("%s must be dot-separated subject tokens", path)
	default:
		return fmt.Sprintf("%s failed %s", path, fe.Tag())
	}
}

// EngineOptions converts the engine and plan cache sections to module options.
func (c *Config) EngineOptions() []engine.Option {
	return []engine.Option{
		engine.WithMode(ir.ConvergeMode(c.Engine.Mode)),
		engine.WithBudget(budget(c.Engine.BudgetMs)),
		engine.WithDecisionBudget(budget(c.Engine.DecisionBudgetMs)),
		engine.WithDeferral(
			time.Duration(c.Engine.DebounceMs)*time.Millisecond,
			time.Duration(c.Engine.MaxLagMs)*time.Millisecond,
		),
		engine.WithPlanCache(engine.PlanCacheConfig{
			Capacity:     c.PlanCache.Capacity,
			FloorRatio:   c.PlanCache.FloorRatio,
			Window:       c.PlanCache.Window,
			MinSamples:   c.PlanCache.MinSamples,
			Cooldown:     c.PlanCache.Cooldown,
			ThrashMax:    c.PlanCache.ThrashMax,
			ThrashWindow: time.Duration(c.PlanCache.ThrashWindowMs) * time.Millisecond,
		}),
	}
}

func budget(ms float64) time.Duration {
	if ms < 0 {
		return engine.Unlimited
	}
	return time.Duration(ms * float64(time.Millisecond))
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
