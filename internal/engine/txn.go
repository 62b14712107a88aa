package engine

import (
	"context"
	"fmt"
)

// Txn collects the writes of one transaction and the dirty set they imply.
//
// Writes go straight into the draft; Commit converges it.
type Txn struct {
	inst  *Instance
	draft Draft
	dirty DirtySet
}

// Begin starts a transaction against draft.
func (in *Instance) Begin(draft Draft) *Txn {
	return &Txn{inst: in, draft: draft}
}

// Set writes value at a concrete path ("items[2].qty") and marks it dirty.
// Writes inside a list with a trackBy identity record the row as a hint.
func (t *Txn) Set(path string, value any) error {
	p, err := ParseConcretePath(path)
	if err != nil {
		return fmt.Errorf("txn set: %w", err)
	}
	if err := t.draft.Set(p, value); err != nil {
		return fmt.Errorf("txn set: %w", err)
	}
	plan := t.inst.module.Plan()
	if plan.IR.Registry == nil {
		t.dirty.MarkAll(DirtyAllUnresolvedPath)
		return nil
	}
	t.dirty.MarkPath(plan.IR.Registry, p, rowHint(t.draft, plan, p))
	return nil
}

// MarkAll forces the transaction to a full pass.
func (t *Txn) MarkAll(reason string) {
	t.dirty.MarkAll(reason)
}

// Dirty returns the dirty set collected so far.
func (t *Txn) Dirty() DirtySet {
	return t.dirty
}

// Commit converges the transaction's writes.
func (t *Txn) Commit(ctx context.Context, opts ...CallOption) Result {
	return t.inst.Converge(ctx, t.dirty, t.draft, opts...)
}

// rowHint returns the trackBy key of the first-level row p writes into, or
// "" when p is not inside a keyed row.
func rowHint(d Draft, plan *Plan, p ConcretePath) string {
	pattern := p.Pattern()
	scope := firstListScope(pattern)
	if scope == nil || len(p) <= len(scope) {
		return ""
	}
	keyField, ok := plan.trackBy[scope.String()]
	if !ok {
		return ""
	}
	idx, ok := p[len(scope)-1].(int)
	if !ok {
		return ""
	}
	return rowKeyAt(d, scope, keyField, []int{idx})
}
