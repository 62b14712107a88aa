package engine

import (
	"fmt"
	"slices"

	"github.com/yoyooyooo/logix-sub006/internal/ir"
)

// expandIndexes enumerates the index tuples addressing every concrete
// instance of p in d. The first len(fixed) sentinels take their index from
// fixed; the rest range over the current list lengths. A path without
// sentinels yields one empty tuple.
func expandIndexes(d Draft, p ir.FieldPath, fixed []int) [][]int {
	var out [][]int
	var walk func(pos int, idx []int)
	walk = func(pos int, idx []int) {
		for i := pos; i < len(p); i++ {
			if p[i] != ir.ListSentinel {
				continue
			}
			if len(idx) < len(fixed) {
				idx = append(idx, fixed[len(idx)])
				continue
			}
			n := d.Len(concretize(p[:i], idx))
			for j := 0; j < n; j++ {
				walk(i+1, append(slices.Clip(idx), j))
			}
			return
		}
		out = append(out, idx)
	}
	walk(0, nil)
	return out
}

// sharedSentinels counts the list sentinels in the common prefix of a and b.
func sharedSentinels(a, b ir.FieldPath) int {
	n := 0
	for i := 0; i < len(a) && i < len(b) && a[i] == b[i]; i++ {
		if a[i] == ir.ListSentinel {
			n++
		}
	}
	return n
}

// inputValue reads dep for the row of out addressed by idx. Sentinels dep
// shares with out use the row's index; deeper lists aggregate into []any.
func inputValue(d Draft, dep, out ir.FieldPath, idx []int) any {
	shared := min(sharedSentinels(dep, out), len(idx))
	fixed := idx[:shared]
	if dep.ListDepth() > shared {
		tuples := expandIndexes(d, dep, fixed)
		vals := make([]any, 0, len(tuples))
		for _, t := range tuples {
			v, _ := d.Get(concretize(dep, t))
			vals = append(vals, v)
		}
		return vals
	}
	v, _ := d.Get(concretize(dep, fixed))
	return v
}

func inputValues(d Draft, deps []ir.FieldPath, out ir.FieldPath, idx []int) []any {
	vals := make([]any, len(deps))
	for i, dep := range deps {
		vals[i] = inputValue(d, dep, out, idx)
	}
	return vals
}

// rowKeyAt reads the trackBy identity of row idx[0] of scope. Missing
// identities render as "".
func rowKeyAt(d Draft, scope ir.FieldPath, keyField string, idx []int) string {
	if len(idx) == 0 {
		return ""
	}
	p := append(concretize(scope, idx[:1]), keyField)
	v, ok := d.Get(p)
	if !ok || v == nil {
		return ""
	}
	return fmt.Sprint(v)
}
