package ir

import (
	"fmt"
	"slices"
)

// TraitKind identifies the kind of a trait entry. The set is closed.
type TraitKind string

const (
	KindComputed TraitKind = "computed"
	KindLink     TraitKind = "link"
	KindSource   TraitKind = "source"
	KindCheck    TraitKind = "check"
)

// IsWriter reports whether entries of this kind assign a field from other
// fields and therefore take part in topological ordering.
func (k TraitKind) IsWriter() bool {
	return k == KindComputed || k == KindLink
}

// WritesValue reports whether entries of this kind own the value of their
// field path. Used by the single-writer check.
func (k TraitKind) WritesValue() bool {
	return k == KindComputed || k == KindLink || k == KindSource
}

// Scheduling is the scheduling class of a writer step.
type Scheduling string

const (
	// SchedulingImmediate steps run inside the transaction's budget.
	SchedulingImmediate Scheduling = "immediate"

	// SchedulingDeferred steps are batched onto a later idle tick.
	SchedulingDeferred Scheduling = "deferred"
)

// Normalize returns the scheduling with the default applied.
func (s Scheduling) Normalize() Scheduling {
	if s == "" {
		return SchedulingImmediate
	}
	return s
}

// Validate checks that s is a known scheduling class (empty means immediate).
func (s Scheduling) Validate() error {
	switch s {
	case "", SchedulingImmediate, SchedulingDeferred:
		return nil
	}
	return fmt.Errorf("invalid scheduling %q: must be %q or %q", s, SchedulingImmediate, SchedulingDeferred)
}

// DeriveFunc computes a field from its dependency values, in declared deps order.
// It must return a new value and never mutate its inputs.
type DeriveFunc func(deps []any) (any, error)

// EqualFunc reports whether two values are equal for writeback purposes.
type EqualFunc func(a, b any) bool

// ValidateFunc returns an error message, or "" when the values are valid.
type ValidateFunc func(deps []any) string

// KeyFunc derives a resource key from dependency values. A nil key means
// "no key yet"; the resource layer stays idle.
type KeyFunc func(deps []any) (any, error)

// SourceTrigger controls when the resource layer is told about key changes.
type SourceTrigger string

const (
	TriggerOnMount     SourceTrigger = "mount"
	TriggerOnKeyChange SourceTrigger = "key-change"
	TriggerManual      SourceTrigger = "manual"
)

// SourceConcurrency is passed through to the resource layer untouched.
type SourceConcurrency string

const (
	ConcurrencySwitch  SourceConcurrency = "switch"
	ConcurrencyExhaust SourceConcurrency = "exhaust"
	ConcurrencyQueue   SourceConcurrency = "queue"
)

// TraitMeta is the kind-specific payload of a TraitEntry.
// Sealed: only ComputedMeta, LinkMeta, SourceMeta and CheckMeta implement it.
type TraitMeta interface {
	Kind() TraitKind
	traitMeta()
}

// ComputedMeta derives a field from explicit dependencies.
type ComputedMeta struct {
	Deps       []FieldPath
	Derive     DeriveFunc
	DeriveName string
	Equals     EqualFunc
	Scheduling Scheduling

	// DeriveArgs are the arguments Derive was bound with. Together with
	// DeriveName they identify the function across rebuilds.
	DeriveArgs map[string]any
}

func (ComputedMeta) Kind() TraitKind { return KindComputed }
func (ComputedMeta) traitMeta()      {}

// LinkMeta copies the value of From forward.
type LinkMeta struct {
	From       FieldPath
	Scheduling Scheduling
}

func (LinkMeta) Kind() TraitKind { return KindLink }
func (LinkMeta) traitMeta()      {}

// SourceMeta backs a field with an external resource. Convergence only
// tracks its dependencies and key.
type SourceMeta struct {
	Deps        []FieldPath
	Resource    string
	Key         KeyFunc
	KeyName     string
	Trigger     SourceTrigger
	Concurrency SourceConcurrency
}

func (SourceMeta) Kind() TraitKind { return KindSource }
func (SourceMeta) traitMeta()      {}

// CheckRule is one named validation rule.
type CheckRule struct {
	Deps         []FieldPath
	Validate     ValidateFunc
	ValidateName string

	// Writeback is the path in the errors tree; defaults to scope + rule name.
	Writeback FieldPath
}

// CheckMeta carries every rule declared in one scope.
type CheckMeta struct {
	Scope string
	Rules map[string]CheckRule
}

func (CheckMeta) Kind() TraitKind { return KindCheck }
func (CheckMeta) traitMeta()      {}

// TraitEntry is one normalized (path, kind, meta) triple.
type TraitEntry struct {
	FieldPath FieldPath
	Meta      TraitMeta
}

// Kind returns the entry's trait kind.
func (e TraitEntry) Kind() TraitKind {
	return e.Meta.Kind()
}

// Deps returns every dependency path of the entry, in declaration order.
// For checks the rule deps are concatenated in rule-name order.
func (e TraitEntry) Deps() []FieldPath {
	switch m := e.Meta.(type) {
	case ComputedMeta:
		return m.Deps
	case LinkMeta:
		return []FieldPath{m.From}
	case SourceMeta:
		return m.Deps
	case CheckMeta:
		var deps []FieldPath
		for _, name := range SortedRuleNames(m.Rules) {
			deps = append(deps, m.Rules[name].Deps...)
		}
		return deps
	default:
		panic(fmt.Sprintf("unknown trait meta %T", e.Meta))
	}
}

// Scheduling returns the writer's scheduling class, immediate for non-writers.
func (e TraitEntry) Scheduling() Scheduling {
	switch m := e.Meta.(type) {
	case ComputedMeta:
		return m.Scheduling.Normalize()
	case LinkMeta:
		return m.Scheduling.Normalize()
	}
	return SchedulingImmediate
}

// ID is the stable identifier of the entry within a generation: path plus kind.
func (e TraitEntry) ID() string {
	return e.FieldPath.String() + "#" + string(e.Kind())
}

// SortedRuleNames returns the rule names of a check in ascending order.
func SortedRuleNames(rules map[string]CheckRule) []string {
	names := make([]string, 0, len(rules))
	for name := range rules {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
