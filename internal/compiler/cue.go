package compiler

import (
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"

	"github.com/yoyooyooo/logix-sub006/internal/ir"
)

// Spec is a module definition loaded from CUE.
//
//	name: "cart"
//	state: {a: int, items: [...{id: string, price: number, qty: int}]}
//	traits: {
//		b: computed: {deps: ["a"], derive: "scale", args: factor: 2}
//		items: list: {trackBy: "id", item: computed: total: {deps: ["price", "qty"], derive: "product"}}
//		"$root": check: positive: {deps: ["a"], validate: "min", args: min: 0}
//	}
type Spec struct {
	Name         string
	Declarations Declarations

	// Schema walks the `state` struct; nil when the spec declares none.
	Schema SchemaWalker
}

// CompileError is a declaration error with its CUE position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// LoadDir loads the CUE package in dir and decodes it with LoadSpec.
func LoadDir(dir string, fns *Functions) (*Spec, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("load %s: not a directory", dir)
	}

	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, fmt.Errorf("load %s: no CUE instances", dir)
	}
	if err := instances[0].Err; err != nil {
		return nil, formatCUEError(err)
	}
	v := cuecontext.New().BuildInstance(instances[0])
	return LoadSpec(v, fns)
}

// CompileSource compiles a single CUE document and decodes it with LoadSpec.
func CompileSource(filename string, src []byte, fns *Functions) (*Spec, error) {
	v := cuecontext.New().CompileBytes(src, cue.Filename(filename))
	return LoadSpec(v, fns)
}

// LoadSpec decodes name, state and traits from a CUE value. Function names
// are resolved through fns.
func LoadSpec(v cue.Value, fns *Functions) (*Spec, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	spec := &Spec{Declarations: make(Declarations)}
	if name, ok, err := optString(v, "name"); err != nil {
		return nil, err
	} else if ok {
		spec.Name = name
	}

	if state := v.LookupPath(cue.ParsePath("state")); state.Exists() {
		spec.Schema = CUESchema{Value: state}
	}

	traits := v.LookupPath(cue.ParsePath("traits"))
	if !traits.Exists() {
		return nil, &CompileError{Field: "traits", Message: "traits is required", Pos: v.Pos()}
	}
	iter, err := traits.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	d := &cueDecoder{fns: fns}
	for iter.Next() {
		key := iter.Label()
		decl, err := d.trait("traits."+key, iter.Value())
		if err != nil {
			return nil, err
		}
		spec.Declarations[key] = decl
	}
	return spec, nil
}

type cueDecoder struct {
	fns *Functions
}

var traitKinds = []string{"computed", "link", "source", "check", "node", "list"}

func (d *cueDecoder) trait(field string, v cue.Value) (Decl, error) {
	var found []string
	for _, k := range traitKinds {
		if v.LookupPath(cue.ParsePath(k)).Exists() {
			found = append(found, k)
		}
	}
	if len(found) != 1 {
		return nil, &CompileError{
			Field:   field,
			Message: fmt.Sprintf("expected exactly one of %v, found %v", traitKinds, found),
			Pos:     v.Pos(),
		}
	}

	kind := found[0]
	body := v.LookupPath(cue.ParsePath(kind))
	field += "." + kind
	switch kind {
	case "computed":
		return d.computed(field, body)
	case "link":
		return d.link(field, body)
	case "source":
		return d.source(field, body)
	case "check":
		rules, err := d.rules(field, body)
		if err != nil {
			return nil, err
		}
		return Check(rules), nil
	case "node":
		node, err := d.node(field, body)
		if err != nil {
			return nil, err
		}
		return *node, nil
	default:
		return d.list(field, body)
	}
}

func (d *cueDecoder) computed(field string, v cue.Value) (Computed, error) {
	var c Computed
	var err error
	if c.Deps, err = optStrings(v, "deps"); err != nil {
		return c, err
	}
	if c.DeriveName, err = reqString(field, v, "derive"); err != nil {
		return c, err
	}
	args, err := optArgs(v)
	if err != nil {
		return c, err
	}
	if c.Derive, err = d.fns.Derive(c.DeriveName, args); err != nil {
		return c, &CompileError{Field: field + ".derive", Message: err.Error(), Pos: v.Pos()}
	}
	c.DeriveArgs = args
	sched, _, err := optString(v, "scheduling")
	c.Scheduling = ir.Scheduling(sched)
	return c, err
}

func (d *cueDecoder) link(field string, v cue.Value) (Link, error) {
	from, err := reqString(field, v, "from")
	if err != nil {
		return Link{}, err
	}
	sched, _, err := optString(v, "scheduling")
	return Link{From: from, Scheduling: ir.Scheduling(sched)}, err
}

func (d *cueDecoder) source(field string, v cue.Value) (Source, error) {
	var s Source
	var err error
	if s.Deps, err = optStrings(v, "deps"); err != nil {
		return s, err
	}
	if s.Resource, err = reqString(field, v, "resource"); err != nil {
		return s, err
	}
	keyName, ok, err := optString(v, "key")
	if err != nil {
		return s, err
	}
	if ok {
		args, err := optArgs(v)
		if err != nil {
			return s, err
		}
		if s.Key, err = d.fns.Key(keyName, args); err != nil {
			return s, &CompileError{Field: field + ".key", Message: err.Error(), Pos: v.Pos()}
		}
		s.KeyName = keyName
	}
	trigger, _, err := optString(v, "trigger")
	if err != nil {
		return s, err
	}
	s.Trigger = ir.SourceTrigger(trigger)
	concurrency, _, err := optString(v, "concurrency")
	s.Concurrency = ir.SourceConcurrency(concurrency)
	return s, err
}

func (d *cueDecoder) rules(field string, v cue.Value) (map[string]CheckRule, error) {
	iter, err := v.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	rules := make(map[string]CheckRule)
	for iter.Next() {
		name := iter.Label()
		rv := iter.Value()
		ruleField := field + "." + name

		var rule CheckRule
		if rule.Deps, err = optStrings(rv, "deps"); err != nil {
			return nil, err
		}
		if rule.ValidateName, err = reqString(ruleField, rv, "validate"); err != nil {
			return nil, err
		}
		args, err := optArgs(rv)
		if err != nil {
			return nil, err
		}
		if rule.Validate, err = d.fns.Validate(rule.ValidateName, args); err != nil {
			return nil, &CompileError{Field: ruleField + ".validate", Message: err.Error(), Pos: rv.Pos()}
		}
		if rule.Writeback, _, err = optString(rv, "writeback"); err != nil {
			return nil, err
		}
		rules[name] = rule
	}
	return rules, nil
}

func (d *cueDecoder) node(field string, v cue.Value) (*Node, error) {
	node := &Node{}
	err := eachField(v, "computed", func(name string, fv cue.Value) error {
		c, err := d.computed(field+".computed."+name, fv)
		if err == nil {
			node.Computed = setEntry(node.Computed, name, c)
		}
		return err
	})
	if err == nil {
		err = eachField(v, "link", func(name string, fv cue.Value) error {
			l, err := d.link(field+".link."+name, fv)
			if err == nil {
				node.Link = setEntry(node.Link, name, l)
			}
			return err
		})
	}
	if err == nil {
		err = eachField(v, "source", func(name string, fv cue.Value) error {
			s, err := d.source(field+".source."+name, fv)
			if err == nil {
				node.Source = setEntry(node.Source, name, s)
			}
			return err
		})
	}
	if err != nil {
		return nil, err
	}
	if cv := v.LookupPath(cue.ParsePath("check")); cv.Exists() {
		if node.Check, err = d.rules(field+".check", cv); err != nil {
			return nil, err
		}
	}
	return node, nil
}

func (d *cueDecoder) list(field string, v cue.Value) (List, error) {
	var l List
	var err error
	if l.TrackBy, _, err = optString(v, "trackBy"); err != nil {
		return l, err
	}
	if iv := v.LookupPath(cue.ParsePath("item")); iv.Exists() {
		if l.Item, err = d.node(field+".item", iv); err != nil {
			return l, err
		}
	}
	if lv := v.LookupPath(cue.ParsePath("list")); lv.Exists() {
		if l.List, err = d.node(field+".list", lv); err != nil {
			return l, err
		}
	}
	return l, nil
}

func eachField(v cue.Value, name string, fn func(string, cue.Value) error) error {
	fv := v.LookupPath(cue.ParsePath(name))
	if !fv.Exists() {
		return nil
	}
	iter, err := fv.Fields()
	if err != nil {
		return formatCUEError(err)
	}
	for iter.Next() {
		if err := fn(iter.Label(), iter.Value()); err != nil {
			return err
		}
	}
	return nil
}

func setEntry[V any](m map[string]V, k string, v V) map[string]V {
	if m == nil {
		m = make(map[string]V)
	}
	m[k] = v
	return m
}

func reqString(field string, v cue.Value, name string) (string, error) {
	s, ok, err := optString(v, name)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", &CompileError{Field: field + "." + name, Message: name + " is required", Pos: v.Pos()}
	}
	return s, nil
}

func optString(v cue.Value, name string) (string, bool, error) {
	fv := v.LookupPath(cue.ParsePath(name))
	if !fv.Exists() {
		return "", false, nil
	}
	s, err := fv.String()
	if err != nil {
		return "", false, formatCUEError(err)
	}
	return s, true, nil
}

// optStrings returns nil when the field is absent and a non-nil slice
// (possibly empty) when present, so omitted deps stay distinguishable.
func optStrings(v cue.Value, name string) ([]string, error) {
	fv := v.LookupPath(cue.ParsePath(name))
	if !fv.Exists() {
		return nil, nil
	}
	iter, err := fv.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	out := []string{}
	for iter.Next() {
		s, err := iter.Value().String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		out = append(out, s)
	}
	return out, nil
}

func optArgs(v cue.Value) (Args, error) {
	av := v.LookupPath(cue.ParsePath("args"))
	if !av.Exists() {
		return Args{}, nil
	}
	var m map[string]any
	if err := av.Decode(&m); err != nil {
		return nil, formatCUEError(err)
	}
	return Args(m), nil
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	// CUE errors may contain multiple errors
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	// Return first error with position info
	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
