package compiler

import (
	"context"
	"fmt"

	"github.com/yoyooyooo/logix-sub006/internal/ir"
)

// Build is a spec taken through normalization, the graph builder and the IR
// compiler.
type Build struct {
	Spec    *Spec
	Entries []ir.TraitEntry
	Graph   *Graph
	IR      *ir.ConvergeStaticIr

	// TrackBy maps list item scopes to their identity field.
	TrackBy map[string]string
}

// ConfigError returns the configuration error of the build, graph first.
func (b *Build) ConfigError() *ir.ConfigError {
	if b.Graph != nil && b.Graph.ConfigError != nil {
		return b.Graph.ConfigError
	}
	return b.IR.ConfigError
}

// Build runs the full compile pipeline over s.
//
// Declaration errors and link cycles are returned. Configuration errors stay
// attached to the IR; callers decide whether to fail or degrade.
func (s *Spec) Build(ctx context.Context, opts ...Option) (*Build, error) {
	entries, err := Normalize(s.Declarations)
	if err != nil {
		return nil, fmt.Errorf("normalize: %w", err)
	}
	graph, err := BuildGraph(entries)
	if err != nil {
		return nil, fmt.Errorf("build graph: %w", err)
	}
	static, err := CompileConvergeIR(ctx, entries, s.Schema, opts...)
	if err != nil {
		return nil, fmt.Errorf("compile: %w", err)
	}
	return &Build{
		Spec:    s,
		Entries: entries,
		Graph:   graph,
		IR:      static,
		TrackBy: ListIdentities(s.Declarations),
	}, nil
}
