package telemetry

import (
	"context"
	"errors"

	"github.com/yoyooyooo/logix-sub006/internal/engine"
	"github.com/yoyooyooo/logix-sub006/internal/ir"
)

// Sink receives converge decisions and IR builds.
type Sink interface {
	engine.Publisher
	engine.BuildPublisher
}

// BuildEvent is the one-shot build report: summary plus digests.
type BuildEvent struct {
	Module        string          `json:"module"`
	Generation    int64           `json:"generation"`
	WritersKey    string          `json:"writers_key"`
	DepsKey       string          `json:"deps_key"`
	FieldPathsKey string          `json:"field_paths_key"`
	Summary       ir.BuildSummary `json:"summary"`
	ConfigError   *ir.ConfigError `json:"config_error,omitempty"`
}

// NewBuildEvent extracts the build report of static.
func NewBuildEvent(module string, static *ir.ConvergeStaticIr) BuildEvent {
	return BuildEvent{
		Module:        module,
		Generation:    static.Generation,
		WritersKey:    static.WritersKey,
		DepsKey:       static.DepsKey,
		FieldPathsKey: static.FieldPathsKey,
		Summary:       static.Summary,
		ConfigError:   static.ConfigError,
	}
}

// DecisionEvent is a decision tagged with its module.
type DecisionEvent struct {
	Module   string              `json:"module"`
	Decision ir.ConvergeDecision `json:"decision"`
}

type multi []Sink

// Multi returns a sink that publishes to every sink in order. Every sink is
// tried; the errors are joined.
func Multi(sinks ...Sink) Sink {
	return multi(sinks)
}

func (m multi) PublishDecision(ctx context.Context, d ir.ConvergeDecision) error {
	var errs []error
	for _, s := range m {
		if err := s.PublishDecision(ctx, d); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m multi) PublishBuild(ctx context.Context, static *ir.ConvergeStaticIr) error {
	var errs []error
	for _, s := range m {
		if err := s.PublishBuild(ctx, static); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
