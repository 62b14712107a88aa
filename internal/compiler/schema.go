package compiler

import (
	"cuelang.org/go/cue"
	"cuelang.org/go/cue/ast"

	"github.com/yoyooyooo/logix-sub006/internal/ir"
)

// SchemaWalker enumerates every addressable field path of the state.
// Paths may repeat; the registry de-duplicates them.
type SchemaWalker interface {
	Walk(yield func(ir.FieldPath))
}

// Paths is a fixed list of dotted paths.
type Paths []string

// Walk yields every path that parses; invalid entries are skipped.
func (ps Paths) Walk(yield func(ir.FieldPath)) {
	for _, s := range ps {
		if p, err := ir.ParseFieldPath(s); err == nil {
			yield(p)
		}
	}
}

// CUESchema walks a CUE value describing the state.
//
// Structs are walked recursively (optional fields included), list element
// types collapse onto one "[]" path, every branch of a disjunction is
// visited, and a recursive definition is expanded once per branch. Values
// sharing a source node share their shape, so a definition referenced from
// many places is expanded once.
type CUESchema struct {
	Value cue.Value
}

// Walk implements SchemaWalker.
func (s CUESchema) Walk(yield func(ir.FieldPath)) {
	w := newCUEWalker()
	paths, _ := w.shape(s.Value, 0)
	for _, p := range paths {
		yield(p)
	}
}

// maxSchemaDepth bounds descent for recursive values without source nodes.
const maxSchemaDepth = 32

type cueWalker struct {
	// active holds the source nodes on the current descent; meeting one again
	// means the schema refers to itself.
	active map[ast.Node]bool

	// memo maps a source node to the paths below it, relative to the node.
	// Only shapes that were not cut short are stored.
	memo map[ast.Node][]ir.FieldPath
}

func newCUEWalker() *cueWalker {
	return &cueWalker{
		active: make(map[ast.Node]bool),
		memo:   make(map[ast.Node][]ir.FieldPath),
	}
}

// shape returns the paths below v relative to v. complete is false when a
// self reference or the depth bound cut the descent.
func (w *cueWalker) shape(v cue.Value, depth int) (paths []ir.FieldPath, complete bool) {
	if !v.Exists() {
		return nil, true
	}
	if depth >= maxSchemaDepth {
		return nil, false
	}
	src := v.Source()
	if src != nil {
		if cached, ok := w.memo[src]; ok {
			return cached, true
		}
		if w.active[src] {
			return nil, false
		}
		w.active[src] = true
		defer delete(w.active, src)
	}

	complete = true
	add := func(prefix ir.FieldPath, child cue.Value) {
		if !child.Exists() {
			return
		}
		sub, ok := w.shape(child, depth+len(prefix))
		complete = complete && ok
		if len(prefix) > 0 {
			paths = append(paths, prefix)
		}
		for _, p := range sub {
			paths = append(paths, joinPath(prefix, p))
		}
	}

	if op, branches := v.Expr(); op == cue.OrOp {
		for _, b := range branches {
			add(nil, b)
		}
	} else {
		switch kind := v.IncompleteKind(); {
		case kind&cue.StructKind != 0:
			iter, err := v.Fields(cue.Optional(true))
			if err != nil {
				break
			}
			for iter.Next() {
				add(ir.FieldPath{iter.Label()}, iter.Value())
			}
		case kind&cue.ListKind != 0:
			elem := ir.FieldPath{ir.ListSentinel}
			add(elem, v.LookupPath(cue.MakePath(cue.AnyIndex)))
			// Tuple elements (and concrete list values) share the element path.
			iter, err := v.List()
			if err != nil {
				break
			}
			for iter.Next() {
				add(elem, iter.Value())
			}
		}
	}

	if src != nil && complete {
		w.memo[src] = paths
	}
	return paths, complete
}

func joinPath(prefix, rest ir.FieldPath) ir.FieldPath {
	out := make(ir.FieldPath, 0, len(prefix)+len(rest))
	return append(append(out, prefix...), rest...)
}

// StateShape walks a sample state tree decoded from JSON or YAML. The
// element shape of a list is the union of all its elements.
type StateShape struct {
	State map[string]any
}

// Walk implements SchemaWalker.
func (s StateShape) Walk(yield func(ir.FieldPath)) {
	walkShape(s.State, nil, yield)
}

func walkShape(v any, path ir.FieldPath, yield func(ir.FieldPath)) {
	if len(path) > 0 {
		yield(path)
	}
	switch x := v.(type) {
	case map[string]any:
		for _, k := range sortedNames(x) {
			walkShape(x[k], path.Append(k), yield)
		}
	case []any:
		elemPath := path.Append(ir.ListSentinel)
		if len(x) == 0 {
			yield(elemPath)
		}
		for _, elem := range x {
			walkShape(elem, elemPath, yield)
		}
	}
}
