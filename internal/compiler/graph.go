package compiler

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/yoyooyooo/logix-sub006/internal/ir"
)

// EdgeKind labels a graph edge by the trait relation behind it.
type EdgeKind string

const (
	EdgeComputed  EdgeKind = "computed"
	EdgeLink      EdgeKind = "link"
	EdgeSourceDep EdgeKind = "source-dep"
	EdgeCheckDep  EdgeKind = "check-dep"
)

// GraphNode is one field path referenced by any entry.
type GraphNode struct {
	Path string `json:"path"`

	// Kinds lists the traits declared on this path, sorted.
	Kinds []ir.TraitKind `json:"kinds,omitempty"`
}

// GraphEdge points from a dependency to the path that reads it.
type GraphEdge struct {
	From string   `json:"from"`
	To   string   `json:"to"`
	Kind EdgeKind `json:"kind"`
}

// GraphResource lists the fields backed by one resource id.
type GraphResource struct {
	Resource string   `json:"resource"`
	Paths    []string `json:"paths"`
}

// PlanStep describes one entry for inspection tooling. It does not imply
// execution order.
type PlanStep struct {
	ID         string        `json:"id"`
	Kind       ir.TraitKind  `json:"kind"`
	Path       string        `json:"path"`
	Deps       []string      `json:"deps"`
	Scheduling ir.Scheduling `json:"scheduling,omitempty"`
}

// Graph is the inspection view of a normalized entry set.
type Graph struct {
	Nodes     []GraphNode     `json:"nodes"`
	Edges     []GraphEdge     `json:"edges"`
	Resources []GraphResource `json:"resources"`
	Plan      []PlanStep      `json:"plan"`

	// ConfigError is MULTIPLE_WRITERS when set; callers must surface it.
	ConfigError *ir.ConfigError `json:"config_error,omitempty"`
}

// LinkCycleError is raised when link edges form a cycle. Unlike ConfigError
// it is returned, not attached: a link cycle never yields a usable graph.
type LinkCycleError struct {
	Path string

	// Cycle is the traversal that closed the loop, starting and ending at Path.
	Cycle []string
}

// Error implements the error interface.
func (e *LinkCycleError) Error() string {
	return fmt.Sprintf("link cycle detected at field %q", e.Path)
}

// IsLinkCycle reports whether err is a LinkCycleError.
func IsLinkCycle(err error) bool {
	var lc *LinkCycleError
	return errors.As(err, &lc)
}

// BuildGraph builds nodes, edges, resources and the descriptive plan.
// The single-writer check always runs and attaches MULTIPLE_WRITERS. The
// link-cycle guard runs over link edges only and returns *LinkCycleError.
func BuildGraph(entries []ir.TraitEntry) (*Graph, error) {
	g := &Graph{
		Nodes:     []GraphNode{},
		Edges:     []GraphEdge{},
		Resources: []GraphResource{},
		Plan:      make([]PlanStep, 0, len(entries)),
	}

	kinds := make(map[string][]ir.TraitKind)
	touch := func(path string) {
		if _, ok := kinds[path]; !ok {
			kinds[path] = nil
		}
	}
	resources := make(map[string][]string)
	links := make(dependencyGraph)

	for _, e := range entries {
		target := e.FieldPath.String()
		touch(target)
		kinds[target] = append(kinds[target], e.Kind())

		deps := pathStrings(e.Deps())
		for _, dep := range deps {
			touch(dep)
			g.Edges = append(g.Edges, GraphEdge{From: dep, To: target, Kind: edgeKind(e.Kind())})
		}

		step := PlanStep{ID: e.ID(), Kind: e.Kind(), Path: target, Deps: deps}
		switch m := e.Meta.(type) {
		case ir.ComputedMeta, ir.LinkMeta:
			step.Scheduling = e.Scheduling()
			if lm, ok := m.(ir.LinkMeta); ok {
				links[target] = append(links[target], lm.From.String())
			}
		case ir.SourceMeta:
			resources[m.Resource] = append(resources[m.Resource], target)
		case ir.CheckMeta:
		}
		g.Plan = append(g.Plan, step)
	}

	for _, path := range sortedNames(kinds) {
		ks := slices.Clone(kinds[path])
		slices.Sort(ks)
		g.Nodes = append(g.Nodes, GraphNode{Path: path, Kinds: slices.Compact(ks)})
	}
	for _, res := range sortedNames(resources) {
		paths := resources[res]
		slices.Sort(paths)
		g.Resources = append(g.Resources, GraphResource{Resource: res, Paths: paths})
	}
	slices.SortStableFunc(g.Edges, func(a, b GraphEdge) int {
		if c := strings.Compare(a.To, b.To); c != 0 {
			return c
		}
		return strings.Compare(a.From, b.From)
	})

	g.ConfigError = checkSingleWriter(entries, ir.TraitKind.WritesValue)

	if err := checkLinkCycles(links); err != nil {
		return g, err
	}
	return g, nil
}

// checkSingleWriter groups entries accepted by isWriter by path and reports
// every path with more than one of them.
func checkSingleWriter(entries []ir.TraitEntry, isWriter func(ir.TraitKind) bool) *ir.ConfigError {
	byPath := make(map[string][]ir.TraitKind)
	for _, e := range entries {
		if isWriter(e.Kind()) {
			p := e.FieldPath.String()
			byPath[p] = append(byPath[p], e.Kind())
		}
	}

	var paths []string
	conflicts := make(map[string][]ir.TraitKind)
	for _, p := range sortedNames(byPath) {
		if ks := byPath[p]; len(ks) > 1 {
			slices.Sort(ks)
			paths = append(paths, p)
			conflicts[p] = ks
		}
	}
	if len(paths) == 0 {
		return nil
	}
	return &ir.ConfigError{
		Code:    ir.ErrCodeMultipleWriters,
		Message: "a field path may have only one computed, link or source writer",
		Paths:   paths,
		Kinds:   conflicts,
	}
}

// checkLinkCycles runs a depth-first traversal over target -> from edges
// with an on-stack marker.
func checkLinkCycles(links dependencyGraph) *LinkCycleError {
	const (
		unvisited = iota
		onStack
		done
	)
	state := make(map[string]int)
	var stack []string

	var visit func(string) *LinkCycleError
	visit = func(node string) *LinkCycleError {
		state[node] = onStack
		stack = append(stack, node)
		for _, next := range links[node] {
			switch state[next] {
			case onStack:
				start := slices.Index(stack, next)
				cycle := append(slices.Clone(stack[start:]), next)
				return &LinkCycleError{Path: next, Cycle: cycle}
			case unvisited:
				if err := visit(next); err != nil {
					return err
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[node] = done
		return nil
	}

	for _, node := range sortedNames(links) {
		if state[node] == unvisited {
			if err := visit(node); err != nil {
				return err
			}
		}
	}
	return nil
}

func edgeKind(k ir.TraitKind) EdgeKind {
	switch k {
	case ir.KindComputed:
		return EdgeComputed
	case ir.KindLink:
		return EdgeLink
	case ir.KindSource:
		return EdgeSourceDep
	case ir.KindCheck:
		return EdgeCheckDep
	}
	panic(fmt.Sprintf("unknown trait kind %q", k))
}

func pathStrings(paths []ir.FieldPath) []string {
	out := make([]string, len(paths))
	for i, p := range paths {
		out[i] = p.String()
	}
	return out
}
