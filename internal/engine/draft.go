package engine

import (
	"fmt"
	"maps"
	"strconv"
	"strings"

	"github.com/ohler55/ojg/jp"

	"github.com/yoyooyooo/logix-sub006/internal/ir"
)

// ErrorsRoot is the top-level key of the errors sub-tree written by checks.
const ErrorsRoot = "errors"

// ConcretePath addresses one location in a state tree. Elements are either
// string (object key) or int (list index).
type ConcretePath []any

// ParseConcretePath parses "items[2].total" into ["items", 2, "total"].
// "$root" and "" are the empty path.
func ParseConcretePath(s string) (ConcretePath, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == ir.RootScope {
		return ConcretePath{}, nil
	}
	var out ConcretePath
	for _, part := range strings.Split(s, ".") {
		name, rest, hasIndex := strings.Cut(part, "[")
		if name == "" && !hasIndex {
			return nil, fmt.Errorf("empty segment in path %q", s)
		}
		if name != "" {
			out = append(out, name)
		}
		if !hasIndex {
			continue
		}
		for _, group := range strings.Split("["+rest, "[")[1:] {
			inner, ok := strings.CutSuffix(group, "]")
			if !ok {
				return nil, fmt.Errorf("malformed index in path %q", s)
			}
			idx, err := strconv.Atoi(inner)
			if err != nil || idx < 0 {
				return nil, fmt.Errorf("path %q: index %q is not a non-negative integer", s, inner)
			}
			out = append(out, idx)
		}
	}
	return out, nil
}

// String renders the path: "items[2].total".
func (p ConcretePath) String() string {
	if len(p) == 0 {
		return ir.RootScope
	}
	var b strings.Builder
	for i, seg := range p {
		switch v := seg.(type) {
		case int:
			b.WriteByte('[')
			b.WriteString(strconv.Itoa(v))
			b.WriteByte(']')
		default:
			if i > 0 {
				b.WriteByte('.')
			}
			fmt.Fprint(&b, v)
		}
	}
	return b.String()
}

// Pattern collapses indices to the list sentinel, giving the registry path.
func (p ConcretePath) Pattern() ir.FieldPath {
	out := make(ir.FieldPath, 0, len(p))
	for _, seg := range p {
		if _, ok := seg.(int); ok {
			out = append(out, ir.ListSentinel)
			continue
		}
		out = append(out, fmt.Sprint(seg))
	}
	return out
}

func (p ConcretePath) expr() jp.Expr {
	x := jp.Expr{}
	for _, seg := range p {
		switch v := seg.(type) {
		case int:
			x = x.N(v)
		default:
			x = x.C(fmt.Sprint(v))
		}
	}
	return x
}

// concretize substitutes idx into the sentinels of p, in order. Sentinels
// beyond len(idx) are left in place.
func concretize(p ir.FieldPath, idx []int) ConcretePath {
	out := make(ConcretePath, 0, len(p))
	n := 0
	for _, seg := range p {
		if seg == ir.ListSentinel && n < len(idx) {
			out = append(out, idx[n])
			n++
			continue
		}
		out = append(out, seg)
	}
	return out
}

// Draft is the mutable view of instance state the executor converges into.
//
// The transaction layer owns the draft; the executor only reads dependency
// values and writes back outputs that changed.
type Draft interface {
	// Get returns the value at p and whether it exists.
	Get(p ConcretePath) (any, bool)

	// Set writes v at p, creating missing objects on the way.
	Set(p ConcretePath, v any) error

	// Len returns the length of the list at p, 0 when p is not a list.
	Len(p ConcretePath) int

	// GetError returns the check message recorded for path.
	GetError(path string) (string, bool)

	// SetError records a check message for path.
	SetError(path, message string) error

	// ClearError removes the check message for path.
	ClearError(path string) error
}

// MapDraft implements Draft over a decoded JSON/YAML tree.
//
// The tree is mutated in place. Check errors live in a flat map under
// state["errors"], keyed by concrete path string.
type MapDraft struct {
	root map[string]any
}

// NewMapDraft wraps state. A nil state starts empty.
func NewMapDraft(state map[string]any) *MapDraft {
	if state == nil {
		state = make(map[string]any)
	}
	return &MapDraft{root: state}
}

// State returns the underlying tree.
func (d *MapDraft) State() map[string]any {
	return d.root
}

// Get implements Draft.
func (d *MapDraft) Get(p ConcretePath) (any, bool) {
	if len(p) == 0 {
		return d.root, true
	}
	found := p.expr().Get(d.root)
	if len(found) == 0 {
		return nil, false
	}
	return found[0], true
}

// Set implements Draft.
func (d *MapDraft) Set(p ConcretePath, v any) error {
	if len(p) == 0 {
		return fmt.Errorf("set %s: cannot replace the root", p)
	}
	if err := d.ensureParents(p); err != nil {
		return err
	}
	if err := p.expr().Set(d.root, v); err != nil {
		return fmt.Errorf("set %s: %w", p, err)
	}
	return nil
}

// ensureParents creates missing objects along p, stopping before its last
// element. Missing list elements are an error.
func (d *MapDraft) ensureParents(p ConcretePath) error {
	var cur any = d.root
	for i, seg := range p[:len(p)-1] {
		var next any
		switch c := cur.(type) {
		case map[string]any:
			key := fmt.Sprint(seg)
			child, ok := c[key]
			if !ok || child == nil {
				if _, isIdx := p[i+1].(int); isIdx {
					return fmt.Errorf("set %s: no list at %s", p, p[:i+1])
				}
				child = make(map[string]any)
				c[key] = child
			}
			next = child
		case []any:
			idx, ok := seg.(int)
			if !ok || idx >= len(c) {
				return fmt.Errorf("set %s: no element at %s", p, p[:i+1])
			}
			next = c[idx]
		default:
			return fmt.Errorf("set %s: %s is not a container", p, p[:i+1])
		}
		cur = next
	}
	return nil
}

// Len implements Draft.
func (d *MapDraft) Len(p ConcretePath) int {
	v, ok := d.Get(p)
	if !ok {
		return 0
	}
	list, ok := v.([]any)
	if !ok {
		return 0
	}
	return len(list)
}

func (d *MapDraft) errorsTree(create bool) map[string]any {
	tree, ok := d.root[ErrorsRoot].(map[string]any)
	if !ok && create {
		tree = make(map[string]any)
		d.root[ErrorsRoot] = tree
	}
	return tree
}

// GetError implements Draft.
func (d *MapDraft) GetError(path string) (string, bool) {
	found := jp.C(ErrorsRoot).C(path).Get(d.root)
	if len(found) == 0 {
		return "", false
	}
	msg, ok := found[0].(string)
	return msg, ok
}

// SetError implements Draft.
func (d *MapDraft) SetError(path, message string) error {
	d.errorsTree(true)[path] = message
	return nil
}

// ClearError implements Draft. The errors tree is dropped once empty.
func (d *MapDraft) ClearError(path string) error {
	tree := d.errorsTree(false)
	if tree == nil {
		return nil
	}
	delete(tree, path)
	if len(tree) == 0 {
		delete(d.root, ErrorsRoot)
	}
	return nil
}

// Errors returns a copy of the errors tree.
func (d *MapDraft) Errors() map[string]string {
	out := make(map[string]string)
	for k, v := range d.errorsTree(false) {
		if msg, ok := v.(string); ok {
			out[k] = msg
		}
	}
	return out
}

// CloneState deep-copies a decoded JSON/YAML tree.
func CloneState(state map[string]any) map[string]any {
	if state == nil {
		return nil
	}
	return cloneValue(state).(map[string]any)
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := maps.Clone(t)
		for k, child := range out {
			out[k] = cloneValue(child)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, child := range t {
			out[i] = cloneValue(child)
		}
		return out
	default:
		return v
	}
}
