package compiler

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/yoyooyooo/logix-sub006/internal/ir"
)

var tracer = otel.Tracer("github.com/yoyooyooo/logix-sub006/internal/compiler")

// Option configures CompileConvergeIR.
type Option func(*compileOptions)

type compileOptions struct {
	generation int64
	logger     *slog.Logger
	now        func() time.Time
}

// WithGeneration stamps the IR with a generation number.
func WithGeneration(gen int64) Option {
	return func(o *compileOptions) {
		o.generation = gen
	}
}

// WithLogger sets the logger for build diagnostics (default slog.Default()).
func WithLogger(logger *slog.Logger) Option {
	return func(o *compileOptions) {
		o.logger = logger
	}
}

// WithNow replaces the time source used for BuildDurationMs.
func WithNow(now func() time.Time) Option {
	return func(o *compileOptions) {
		o.now = now
	}
}

// CompileConvergeIR compiles the writer subset of entries into the static
// converge plan.
//
// Configuration errors (MULTIPLE_WRITERS, CYCLE_DETECTED) are attached to the
// returned IR with Steps and TopoOrder left empty; check ir.Err(). The error
// return is reserved for digest failures.
func CompileConvergeIR(ctx context.Context, entries []ir.TraitEntry, schema SchemaWalker, opts ...Option) (*ir.ConvergeStaticIr, error) {
	o := compileOptions{logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	start := o.now()

	_, span := tracer.Start(ctx, "compiler.CompileConvergeIR")
	defer span.End()

	var writers []ir.TraitEntry
	for _, e := range entries {
		if e.Kind().IsWriter() {
			writers = append(writers, e)
		}
	}

	out := &ir.ConvergeStaticIr{
		Generation: o.generation,
		Steps:      []ir.ConvergeStep{},
		TopoOrder:  []ir.FieldPathID{},
	}

	out.ConfigError = checkSingleWriter(writers, ir.TraitKind.IsWriter)
	var order []ir.TraitEntry
	if out.ConfigError == nil {
		order, out.ConfigError = topoSortWriters(writers)
	}

	out.Registry = ir.NewFieldPathRegistry(addressablePaths(entries, schema))
	out.FieldPaths = out.Registry.Strings()

	if out.ConfigError == nil {
		out.Writers = order
		for i, w := range order {
			outID, _ := out.Registry.Lookup(w.FieldPath)
			step := ir.ConvergeStep{
				StepID:          i,
				OutFieldPathID:  outID,
				DepFieldPathIDs: []ir.FieldPathID{},
				Scheduling:      w.Scheduling(),
			}
			for _, dep := range w.Deps() {
				id, ok := out.Registry.Lookup(dep)
				if !ok {
					out.Summary.DroppedDeps++
					o.logger.Debug("dropped unresolved dependency",
						"event", "dep_dropped",
						"writer", w.ID(),
						"dep", dep.String())
					continue
				}
				if !slices.Contains(step.DepFieldPathIDs, id) {
					step.DepFieldPathIDs = append(step.DepFieldPathIDs, id)
				}
			}
			out.Steps = append(out.Steps, step)
			out.TopoOrder = append(out.TopoOrder, outID)
		}
	}

	var err error
	if out.WritersKey, err = ir.WritersKey(writers); err != nil {
		return nil, fmt.Errorf("compile converge IR: %w", err)
	}
	if out.DepsKey, err = ir.DepsKey(writers); err != nil {
		return nil, fmt.Errorf("compile converge IR: %w", err)
	}
	if out.FieldPathsKey, err = ir.FieldPathsKey(out.FieldPaths); err != nil {
		return nil, fmt.Errorf("compile converge IR: %w", err)
	}

	out.Summary.FieldPathCount = out.Registry.Len()
	out.Summary.StepCount = len(out.Steps)
	out.Summary.BuildDurationMs = float64(o.now().Sub(start).Microseconds()) / 1000

	span.SetAttributes(
		attribute.Int64("logix.generation", out.Generation),
		attribute.Int("logix.field_paths", out.Summary.FieldPathCount),
		attribute.Int("logix.steps", out.Summary.StepCount),
	)
	if out.ConfigError != nil {
		span.SetStatus(codes.Error, string(out.ConfigError.Code))
		o.logger.Warn("converge IR has a configuration error",
			"event", "config_error",
			"code", out.ConfigError.Code,
			"paths", out.ConfigError.Paths)
	} else {
		o.logger.Debug("converge IR compiled",
			"event", "ir_compiled",
			"generation", out.Generation,
			"steps", out.Summary.StepCount,
			"field_paths", out.Summary.FieldPathCount)
	}
	return out, nil
}

// topoSortWriters orders writers with Kahn's algorithm. A writer depends on
// another when one of its deps is the other's output, an ancestor of it, or
// a descendant of it. Ready nodes are taken in path order, so equal inputs
// always give equal orders.
func topoSortWriters(writers []ir.TraitEntry) ([]ir.TraitEntry, *ir.ConfigError) {
	byPath := make(map[string]ir.TraitEntry, len(writers))
	for _, w := range writers {
		byPath[w.FieldPath.String()] = w
	}

	prereqs := make(dependencyGraph, len(writers))
	dependents := make(map[string][]string)
	indegree := make(map[string]int, len(writers))
	for path, w := range byPath {
		prereqs[path] = []string{}
		seen := make(map[string]bool)
		for _, dep := range w.Deps() {
			for other, ow := range byPath {
				if seen[other] || !dep.Related(ow.FieldPath) {
					continue
				}
				// Reading an ancestor of the own output is not a self-dependency.
				if other == path && !dep.HasPrefix(w.FieldPath) {
					continue
				}
				seen[other] = true
				prereqs[path] = append(prereqs[path], other)
				dependents[other] = append(dependents[other], path)
				indegree[path]++
			}
		}
	}

	var ready []string
	for _, path := range sortedNames(byPath) {
		if indegree[path] == 0 {
			ready = append(ready, path)
		}
	}

	order := make([]ir.TraitEntry, 0, len(writers))
	for len(ready) > 0 {
		path := ready[0]
		ready = ready[1:]
		order = append(order, byPath[path])
		for _, next := range dependents[path] {
			indegree[next]--
			if indegree[next] == 0 {
				i, _ := slices.BinarySearch(ready, next)
				ready = slices.Insert(ready, i, next)
			}
		}
	}

	if len(order) == len(byPath) {
		return order, nil
	}

	// Leftover nodes never reached in-degree zero.
	stuck := make(dependencyGraph)
	for path, deps := range prereqs {
		if indegree[path] > 0 {
			stuck[path] = nil
			for _, d := range deps {
				if indegree[d] > 0 {
					stuck[path] = append(stuck[path], d)
				}
			}
		}
	}
	paths := sortedNames(stuck)
	cycles := cyclicComponents(stuck)
	descr := make([]string, len(cycles))
	for i, c := range cycles {
		descr[i] = strings.Join(c, " <-> ")
	}
	return nil, &ir.ConfigError{
		Code:    ir.ErrCodeCycleDetected,
		Message: fmt.Sprintf("writers cannot be ordered: %s", strings.Join(descr, "; ")),
		Paths:   paths,
		Cycles:  cycles,
	}
}

// addressablePaths is the registry input: every schema path plus every
// entry's own path and dependency paths.
func addressablePaths(entries []ir.TraitEntry, schema SchemaWalker) []ir.FieldPath {
	var paths []ir.FieldPath
	if schema != nil {
		schema.Walk(func(p ir.FieldPath) {
			paths = append(paths, p)
		})
	}
	for _, e := range entries {
		paths = append(paths, e.FieldPath)
		paths = append(paths, e.Deps()...)
	}
	return paths
}
