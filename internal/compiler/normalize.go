package compiler

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/yoyooyooo/logix-sub006/internal/ir"
)

// Normalize flattens a declaration tree into trait entries sorted by
// (field path, kind).
//
// Scoping rules:
//   - A direct Computed, Link or Source targets its key; bare deps resolve
//     from the root.
//   - A Check or Node key opens a scope: bare deps and node field names
//     resolve inside it.
//   - A List key opens "<list>[]" for Item and "<list>" for List.
//   - A dep containing '.' or '[' is absolute and passes through unchanged.
//
// Check rules of one scope merge into a single entry keyed by the scope id.
//
// The error joins an *ir.ConfigError (MISSING_DEPS) and/or ValidationErrors;
// both are fatal. Duplicate writers on one path are kept for BuildGraph and
// CompileConvergeIR to report.
func Normalize(decls Declarations) ([]ir.TraitEntry, error) {
	n := &normalizer{checks: make(map[string]*ir.TraitEntry)}
	for _, key := range sortedNames(decls) {
		n.decl(key, decls[key])
	}

	var errs []error
	if len(n.missing) > 0 {
		slices.Sort(n.missing)
		errs = append(errs, &ir.ConfigError{
			Code:    ir.ErrCodeMissingDeps,
			Message: "computed, source and check entries must declare deps explicitly",
			Paths:   slices.Compact(n.missing),
		})
	}
	if len(n.errs) > 0 {
		errs = append(errs, n.errs)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	entries := n.entries
	for _, scope := range sortedNames(n.checks) {
		entries = append(entries, *n.checks[scope])
	}
	slices.SortStableFunc(entries, compareEntries)
	return entries, nil
}

// ListIdentities returns the trackBy field of every list declaration, keyed
// by the list's item scope ("items[]").
func ListIdentities(decls Declarations) map[string]string {
	ids := make(map[string]string)
	for key, d := range decls {
		list, ok := d.(List)
		if !ok || list.TrackBy == "" {
			continue
		}
		p, err := ir.ParseFieldPath(key)
		if err != nil {
			continue
		}
		ids[p.Append(ir.ListSentinel).String()] = list.TrackBy
	}
	return ids
}

func compareEntries(a, b ir.TraitEntry) int {
	if c := a.FieldPath.Compare(b.FieldPath); c != 0 {
		return c
	}
	return strings.Compare(string(a.Kind()), string(b.Kind()))
}

type normalizer struct {
	entries []ir.TraitEntry
	checks  map[string]*ir.TraitEntry
	missing []string
	errs    ValidationErrors
}

func (n *normalizer) fail(field, code, format string, args ...any) {
	n.errs = append(n.errs, ValidationError{
		Field:   field,
		Message: fmt.Sprintf(format, args...),
		Code:    code,
	})
}

func (n *normalizer) decl(key string, d Decl) {
	scope, err := ir.ParseFieldPath(key)
	if err != nil {
		n.fail(key, ErrInvalidFieldPath, "%v", err)
		return
	}

	switch d := d.(type) {
	case Computed:
		if n.rejectRoot(key, scope, ir.KindComputed) {
			return
		}
		n.computed(key+".computed", scope, nil, d)
	case Link:
		if n.rejectRoot(key, scope, ir.KindLink) {
			return
		}
		n.link(key+".link", scope, nil, d)
	case Source:
		if n.rejectRoot(key, scope, ir.KindSource) {
			return
		}
		n.source(key+".source", scope, nil, d)
	case Check:
		if len(d) == 0 {
			n.fail(key+".check", ErrEmptyDecl, "check declares no rules")
			return
		}
		n.rules(key+".check", scope, d)
	case Node:
		n.node(key+".node", scope, d)
	case List:
		if scope.IsRoot() {
			n.fail(key, ErrRootNotAllowed, "list cannot be declared on %s", ir.RootScope)
			return
		}
		n.errs = append(n.errs, validateTrackBy(key+".list", d.TrackBy)...)
		if d.Item == nil && d.List == nil {
			n.fail(key+".list", ErrEmptyDecl, "list declares neither item nor list traits")
			return
		}
		if d.Item != nil {
			n.node(key+".list.item", scope.Append(ir.ListSentinel), *d.Item)
		}
		if d.List != nil {
			n.node(key+".list.list", scope, *d.List)
		}
	default:
		panic(fmt.Sprintf("unknown declaration %T", d))
	}
}

func (n *normalizer) rejectRoot(key string, p ir.FieldPath, kind ir.TraitKind) bool {
	if p.IsRoot() {
		n.fail(key, ErrRootNotAllowed, "%s cannot target %s", kind, ir.RootScope)
		return true
	}
	return false
}

func (n *normalizer) node(field string, scope ir.FieldPath, node Node) {
	if len(node.Computed)+len(node.Link)+len(node.Source)+len(node.Check) == 0 {
		n.fail(field, ErrEmptyDecl, "node declares no traits")
		return
	}
	for _, name := range sortedNames(node.Computed) {
		if target, ok := n.child(field+".computed."+name, scope, name); ok {
			n.computed(field+".computed."+name, target, scope, node.Computed[name])
		}
	}
	for _, name := range sortedNames(node.Link) {
		if target, ok := n.child(field+".link."+name, scope, name); ok {
			n.link(field+".link."+name, target, scope, node.Link[name])
		}
	}
	for _, name := range sortedNames(node.Source) {
		if target, ok := n.child(field+".source."+name, scope, name); ok {
			n.source(field+".source."+name, target, scope, node.Source[name])
		}
	}
	if len(node.Check) > 0 {
		n.rules(field+".check", scope, node.Check)
	}
}

// child resolves a node field name; names are always relative to the scope.
func (n *normalizer) child(field string, scope ir.FieldPath, name string) (ir.FieldPath, bool) {
	rel, err := ir.ParseFieldPath(name)
	if err != nil || rel.IsRoot() {
		n.fail(field, ErrInvalidFieldPath, "invalid field name %q", name)
		return nil, false
	}
	return scope.Append(rel...), true
}

// resolve applies the bare-name rule to one dependency.
func (n *normalizer) resolve(field string, scope ir.FieldPath, dep string) (ir.FieldPath, bool) {
	p, err := ir.ParseFieldPath(dep)
	if err != nil {
		n.fail(field, ErrInvalidFieldPath, "%v", err)
		return nil, false
	}
	if strings.ContainsAny(dep, ".[") || p.IsRoot() {
		return p, true
	}
	return scope.Append(p...), true
}

func (n *normalizer) resolveAll(field string, scope ir.FieldPath, deps []string) []ir.FieldPath {
	out := make([]ir.FieldPath, 0, len(deps))
	for i, dep := range deps {
		if p, ok := n.resolve(fmt.Sprintf("%s[%d]", field, i), scope, dep); ok {
			out = append(out, p)
		}
	}
	return out
}

func (n *normalizer) computed(field string, target, scope ir.FieldPath, c Computed) {
	if c.Derive == nil {
		if c.DeriveName != "" {
			n.fail(field+".derive", ErrMissingDerive, "derive function %q is not bound", c.DeriveName)
		} else {
			n.fail(field+".derive", ErrMissingDerive, "computed requires a derive function")
		}
	}
	n.errs = append(n.errs, validateScheduling(field, c.Scheduling)...)
	if c.Deps == nil {
		n.missing = append(n.missing, target.String())
	}

	equals := c.Equals
	if equals == nil {
		equals = ir.ValuesEqual
	}
	n.entries = append(n.entries, ir.TraitEntry{
		FieldPath: target,
		Meta: ir.ComputedMeta{
			Deps:       n.resolveAll(field+".deps", scope, c.Deps),
			Derive:     c.Derive,
			DeriveName: c.DeriveName,
			DeriveArgs: c.DeriveArgs,
			Equals:     equals,
			Scheduling: c.Scheduling.Normalize(),
		},
	})
}

func (n *normalizer) link(field string, target, scope ir.FieldPath, l Link) {
	n.errs = append(n.errs, validateScheduling(field, l.Scheduling)...)
	if strings.TrimSpace(l.From) == "" {
		n.fail(field+".from", ErrMissingLinkFrom, "link requires a from path")
		return
	}
	from, ok := n.resolve(field+".from", scope, l.From)
	if !ok {
		return
	}
	n.entries = append(n.entries, ir.TraitEntry{
		FieldPath: target,
		Meta:      ir.LinkMeta{From: from, Scheduling: l.Scheduling.Normalize()},
	})
}

func (n *normalizer) source(field string, target, scope ir.FieldPath, s Source) {
	n.errs = append(n.errs, validateSource(field, s)...)
	if s.Deps == nil {
		n.missing = append(n.missing, target.String())
	}

	meta := ir.SourceMeta{
		Deps:        n.resolveAll(field+".deps", scope, s.Deps),
		Resource:    s.Resource,
		Key:         s.Key,
		KeyName:     s.KeyName,
		Trigger:     s.Trigger,
		Concurrency: s.Concurrency,
	}
	if meta.Key == nil {
		meta.Key = depsKey
	}
	if meta.Trigger == "" {
		meta.Trigger = ir.TriggerOnKeyChange
	}
	if meta.Concurrency == "" {
		meta.Concurrency = ir.ConcurrencySwitch
	}
	n.entries = append(n.entries, ir.TraitEntry{FieldPath: target, Meta: meta})
}

// rules merges named check rules into the entry of their scope.
func (n *normalizer) rules(field string, scope ir.FieldPath, rules map[string]CheckRule) {
	id := scope.String()
	entry, ok := n.checks[id]
	if !ok {
		entry = &ir.TraitEntry{
			FieldPath: scope,
			Meta:      ir.CheckMeta{Scope: id, Rules: make(map[string]ir.CheckRule)},
		}
		n.checks[id] = entry
	}
	meta := entry.Meta.(ir.CheckMeta)

	for _, name := range sortedNames(rules) {
		rule := rules[name]
		ruleField := field + "." + name
		if _, dup := meta.Rules[name]; dup {
			n.fail(ruleField, ErrDuplicateRule, "rule %q already declared in scope %s", name, id)
			continue
		}
		if rule.Validate == nil {
			n.fail(ruleField+".validate", ErrMissingValidate, "check rule requires a validate function")
		}
		if rule.Deps == nil {
			n.missing = append(n.missing, scope.Append(name).String())
		}

		writeback := scope.Append(name)
		if rule.Writeback != "" {
			if p, ok := n.resolve(ruleField+".writeback", scope, rule.Writeback); ok {
				writeback = p
			}
		}
		meta.Rules[name] = ir.CheckRule{
			Deps:         n.resolveAll(ruleField+".deps", scope, rule.Deps),
			Validate:     rule.Validate,
			ValidateName: rule.ValidateName,
			Writeback:    writeback,
		}
	}
}

// depsKey is the default source key: the single dep value, or the tuple.
func depsKey(deps []any) (any, error) {
	if len(deps) == 1 {
		return deps[0], nil
	}
	return slices.Clone(deps), nil
}
