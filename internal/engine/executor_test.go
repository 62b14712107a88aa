package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yoyooyooo/logix-sub006/internal/compiler"
	"github.com/yoyooyooo/logix-sub006/internal/ir"
	"github.com/yoyooyooo/logix-sub006/internal/testutil"
)

// TestConverge_Doubling tests the canonical b = a * 2 example.
func TestConverge_Doubling(t *testing.T) {
	m := newTestModule(t, doublingDecls())
	inst := newTestInstance(t, m)
	draft := NewMapDraft(map[string]any{"a": 1, "b": 2})

	res := commit(t, inst, draft, "a", 2)

	d := res.Decision
	assert.Equal(t, ir.ModeAuto, d.RequestedMode)
	assert.Equal(t, ir.ModeDirty, d.ExecutedMode)
	assert.Equal(t, ir.OutcomeConverged, d.Outcome)
	assert.Equal(t, ir.StepStats{Total: 1, Executed: 1, Changed: 1}, d.StepStats)
	assert.Equal(t, []FieldUpdate{{Path: "b", Value: int64(4), StepID: 0}}, res.Updates)
	assert.Equal(t, int64(4), get(t, draft, "b"))
	assert.NoError(t, res.Err())
}

// TestConverge_IdempotentNoop tests that converging settled state twice is a Noop.
func TestConverge_IdempotentNoop(t *testing.T) {
	m := newTestModule(t, doublingDecls())
	inst := newTestInstance(t, m)
	draft := NewMapDraft(map[string]any{"a": 3, "b": 6})
	ctx := context.Background()

	mount := inst.Mount(ctx, draft)
	assert.Equal(t, ir.ModeFull, mount.Decision.ExecutedMode)
	assert.Equal(t, DirtyAllMount, mount.Decision.DirtyAllReason)
	assert.Equal(t, ir.OutcomeNoop, mount.Decision.Outcome)

	for i := 0; i < 2; i++ {
		res := inst.Converge(ctx, NewDirtySet(), draft)
		assert.Equal(t, ir.OutcomeNoop, res.Decision.Outcome)
		assert.Equal(t, ir.ModeDirty, res.Decision.ExecutedMode)
		assert.Equal(t, 0, res.Decision.StepStats.Executed)
		assert.Equal(t, 1, res.Decision.StepStats.Skipped)
		assert.Empty(t, res.Updates)
	}
}

// TestConverge_SecondPassAfterWriteIsNoop tests re-running the same dirty set
// once values have settled.
func TestConverge_SecondPassAfterWriteIsNoop(t *testing.T) {
	m := newTestModule(t, doublingDecls())
	inst := newTestInstance(t, m)
	draft := NewMapDraft(map[string]any{"a": 1, "b": 2})

	first := commit(t, inst, draft, "a", 5)
	require.Equal(t, ir.OutcomeConverged, first.Decision.Outcome)

	again := commit(t, inst, draft, "a", 5)
	assert.Equal(t, ir.OutcomeNoop, again.Decision.Outcome)
	assert.Equal(t, 1, again.Decision.StepStats.Executed)
	assert.Equal(t, 0, again.Decision.StepStats.Changed)
}

// TestConverge_DirtySkipsUnrelated tests that only the reverse closure runs.
func TestConverge_DirtySkipsUnrelated(t *testing.T) {
	m := newTestModule(t, compiler.Declarations{
		"b": compiler.Computed{Deps: []string{"a"}, Derive: incr},
		"c": compiler.Computed{Deps: []string{"b"}, Derive: incr},
		"y": compiler.Computed{Deps: []string{"x"}, Derive: incr},
	})
	inst := newTestInstance(t, m)
	draft := NewMapDraft(map[string]any{"a": 0, "b": 1, "c": 2, "x": 0, "y": 1})

	res := commit(t, inst, draft, "a", 10)

	assert.Equal(t, ir.StepStats{Total: 3, Executed: 2, Skipped: 1, Changed: 2}, res.Decision.StepStats)
	assert.Equal(t, int64(11), get(t, draft, "b"))
	assert.Equal(t, int64(12), get(t, draft, "c"))
	assert.Equal(t, 1, get(t, draft, "y"), "unrelated step untouched")
}

// TestConverge_AncestorWriteTriggersDescendantDeps tests that replacing an
// object marks steps reading its fields.
func TestConverge_AncestorWriteTriggersDescendantDeps(t *testing.T) {
	m := newTestModule(t, compiler.Declarations{
		"greeting": compiler.Computed{Deps: []string{"profile.name"}, Derive: func(deps []any) (any, error) {
			return "hello " + deps[0].(string), nil
		}},
		"profile": compiler.Source{Deps: []string{"userId"}, Resource: "user"},
	})
	inst := newTestInstance(t, m)
	draft := NewMapDraft(map[string]any{"userId": "u1", "profile": map[string]any{"name": "ann"}, "greeting": "hello ann"})

	res := commit(t, inst, draft, "profile", map[string]any{"name": "bob"})

	assert.Equal(t, ir.ModeDirty, res.Decision.ExecutedMode)
	assert.Equal(t, "hello bob", get(t, draft, "greeting"))
}

// TestConverge_Determinism tests that identical inputs yield identical decisions.
func TestConverge_Determinism(t *testing.T) {
	m := newTestModule(t, cartDecls())

	run := func() Result {
		inst := newTestInstance(t, m)
		draft := NewMapDraft(cartState())
		res := commit(t, inst, draft, "items[1].qty", 4, "items[0].price", 7)
		res.Decision.TxnID = ""
		res.Decision.InstanceID = ""
		return res
	}

	a, b := run(), run()
	assert.Equal(t, a.Decision, b.Decision)
	assert.Equal(t, a.Updates, b.Updates)
}

// TestConverge_BudgetCarryOver tests the cutoff and the next call resuming it.
func TestConverge_BudgetCarryOver(t *testing.T) {
	clock := testutil.NewFakeClock()
	slow := func(deps []any) (any, error) {
		clock.Advance(10 * time.Millisecond)
		return deps[0], nil
	}
	m := newTestModule(t, compiler.Declarations{
		"s1": compiler.Computed{Deps: []string{"a"}, Derive: slow},
		"s2": compiler.Computed{Deps: []string{"s1"}, Derive: slow},
		"s3": compiler.Computed{Deps: []string{"s2"}, Derive: slow},
		"s4": compiler.Computed{Deps: []string{"s3"}, Derive: slow},
	}, WithClock(clock), WithBudget(25*time.Millisecond))
	inst := newTestInstance(t, m)
	draft := NewMapDraft(map[string]any{"a": 0, "s1": 0, "s2": 0, "s3": 0, "s4": 0})

	res := commit(t, inst, draft, "a", 1)

	d := res.Decision
	assert.Equal(t, ir.OutcomeDegraded, d.Outcome)
	assert.Equal(t, ir.ReasonBudgetExceeded, d.Reason)
	assert.Equal(t, 3, d.StepStats.Executed)
	assert.Less(t, d.StepStats.Executed, d.StepStats.Total)
	assert.Equal(t, []ir.FieldPathID{idOf(t, m, "s4")}, d.CarryOver)
	assert.Equal(t, 0, get(t, draft, "s4"))
	assert.True(t, IsBudgetError(res.Err()))

	next := inst.Converge(context.Background(), NewDirtySet(), draft, CallBudget(Unlimited, Unlimited))
	assert.Equal(t, ir.OutcomeConverged, next.Decision.Outcome)
	assert.Equal(t, 1, next.Decision.StepStats.Executed)
	assert.Empty(t, next.Decision.CarryOver)
	assert.Equal(t, 1, get(t, draft, "s4"))
}

// TestConverge_ZeroBudgetDegrades tests that a zero budget does no work.
func TestConverge_ZeroBudgetDegrades(t *testing.T) {
	m := newTestModule(t, doublingDecls(), WithBudget(0))
	inst := newTestInstance(t, m)
	draft := NewMapDraft(map[string]any{"a": 1, "b": 2})

	res := commit(t, inst, draft, "a", 2)

	assert.Equal(t, ir.OutcomeDegraded, res.Decision.Outcome)
	assert.Equal(t, ir.ReasonBudgetExceeded, res.Decision.Reason)
	assert.Equal(t, 0, res.Decision.StepStats.Executed)
	assert.Equal(t, []ir.FieldPathID{idOf(t, m, "b")}, res.Decision.CarryOver)
	assert.Equal(t, 2, get(t, draft, "b"))
}

// TestConverge_ZeroBudgetWithoutWorkIsNoop tests the empty-dirty short circuit.
func TestConverge_ZeroBudgetWithoutWorkIsNoop(t *testing.T) {
	m := newTestModule(t, doublingDecls(), WithBudget(0))
	inst := newTestInstance(t, m)

	res := inst.Converge(context.Background(), NewDirtySet(), NewMapDraft(nil))
	assert.Equal(t, ir.OutcomeNoop, res.Decision.Outcome)
}

// TestConverge_RuntimeError tests that a failing derive keeps the old value
// and carries its output over.
func TestConverge_RuntimeError(t *testing.T) {
	m := newTestModule(t, compiler.Declarations{
		"b": compiler.Computed{Deps: []string{"a"}, Derive: func(deps []any) (any, error) {
			if num(deps[0]) < 0 {
				return nil, errors.New("negative input")
			}
			return deps[0], nil
		}},
		"c": compiler.Computed{Deps: []string{"a"}, Derive: func([]any) (any, error) {
			panic("boom")
		}},
	})
	inst := newTestInstance(t, m)
	draft := NewMapDraft(map[string]any{"a": 1, "b": 1, "c": 0})

	res := commit(t, inst, draft, "a", -1)

	d := res.Decision
	assert.Equal(t, ir.OutcomeDegraded, d.Outcome)
	assert.Equal(t, ir.ReasonRuntimeError, d.Reason)
	assert.Equal(t, 2, d.StepStats.Errored)
	require.Len(t, d.Errors, 2)
	assert.Equal(t, "b", d.Errors[0].FieldPath)
	assert.Equal(t, "negative input", d.Errors[0].Message)
	assert.Contains(t, d.Errors[1].Message, "boom")
	assert.ElementsMatch(t, []ir.FieldPathID{idOf(t, m, "b"), idOf(t, m, "c")}, d.CarryOver)
	assert.Equal(t, 1, get(t, draft, "b"), "value kept")
	assert.True(t, IsStepError(res.Err()))
}

// TestConverge_TrackByRows tests that only the hinted row's step runs.
func TestConverge_TrackByRows(t *testing.T) {
	m := newTestModule(t, cartDecls())
	inst := newTestInstance(t, m)
	draft := NewMapDraft(cartState())

	res := commit(t, inst, draft, "items[0].qty", 5)

	d := res.Decision
	assert.Equal(t, ir.OutcomeConverged, d.Outcome)
	assert.Equal(t, ir.RowStats{Executed: 1, Skipped: 1}, d.RowStats)
	assert.Equal(t, []FieldUpdate{
		{Path: "items[0].total", Value: int64(10), StepID: 0},
		{Path: "cartTotal", Value: int64(13), StepID: 1},
	}, res.Updates)
	assert.Equal(t, 3, get(t, draft, "items[1].total"))
}

// TestConverge_RowsWidenOnOutsideDep tests that a dirty dep outside the list
// runs every row.
func TestConverge_RowsWidenOnOutsideDep(t *testing.T) {
	m := newTestModule(t, compiler.Declarations{
		"items": compiler.List{
			TrackBy: "id",
			Item: &compiler.Node{Computed: map[string]compiler.Computed{
				"total": {Deps: []string{"price", "settings.factor"}, Derive: product},
			}},
		},
	})
	inst := newTestInstance(t, m)
	draft := NewMapDraft(map[string]any{
		"settings": map[string]any{"factor": 1},
		"items": []any{
			map[string]any{"id": "x", "price": 2, "total": 2},
			map[string]any{"id": "y", "price": 3, "total": 3},
		},
	})

	res := commit(t, inst, draft, "items[0].price", 4, "settings.factor", 2)

	assert.Equal(t, ir.RowStats{Executed: 2}, res.Decision.RowStats)
	assert.Equal(t, int64(8), get(t, draft, "items[0].total"))
	assert.Equal(t, int64(6), get(t, draft, "items[1].total"))
}

// TestConverge_RowsWithoutTrackBy tests that unkeyed lists always run every row.
func TestConverge_RowsWithoutTrackBy(t *testing.T) {
	m := newTestModule(t, compiler.Declarations{
		"items": compiler.List{Item: &compiler.Node{Computed: map[string]compiler.Computed{
			"double": {Deps: []string{"v"}, Derive: double},
		}}},
	})
	inst := newTestInstance(t, m)
	draft := NewMapDraft(map[string]any{"items": []any{
		map[string]any{"v": 1, "double": 2},
		map[string]any{"v": 2, "double": 4},
	}})

	res := commit(t, inst, draft, "items[1].v", 5)

	assert.Equal(t, ir.RowStats{Executed: 2}, res.Decision.RowStats)
	assert.Equal(t, 1, res.Decision.StepStats.Changed)
	assert.Equal(t, int64(10), get(t, draft, "items[1].double"))
}

// TestConverge_NestedLists tests expansion over every index combination.
func TestConverge_NestedLists(t *testing.T) {
	m := newTestModule(t, compiler.Declarations{
		"groups[].items[].double": compiler.Computed{Deps: []string{"groups[].items[].v"}, Derive: double},
	})
	inst := newTestInstance(t, m)
	draft := NewMapDraft(map[string]any{"groups": []any{
		map[string]any{"items": []any{map[string]any{"v": 1}, map[string]any{"v": 2}}},
		map[string]any{"items": []any{map[string]any{"v": 3}}},
	}})

	res := inst.Mount(context.Background(), draft)

	assert.Equal(t, 3, res.Decision.RowStats.Executed)
	assert.Equal(t, int64(2), get(t, draft, "groups[0].items[0].double"))
	assert.Equal(t, int64(4), get(t, draft, "groups[0].items[1].double"))
	assert.Equal(t, int64(6), get(t, draft, "groups[1].items[0].double"))
}

// TestConverge_Checks tests writeback into the errors tree and clearing.
func TestConverge_Checks(t *testing.T) {
	decls := doublingDecls()
	decls[ir.RootScope] = compiler.Check{"positive": {Deps: []string{"a"}, Validate: nonNegative}}
	m := newTestModule(t, decls)
	inst := newTestInstance(t, m)
	draft := NewMapDraft(map[string]any{"a": 1, "b": 2})

	res := commit(t, inst, draft, "a", -1)
	assert.Equal(t, []ir.CheckWrite{{Path: "positive", Rule: "positive", Message: "must be >= 0"}}, res.Decision.CheckWrites)
	assert.Equal(t, map[string]string{"positive": "must be >= 0"}, draft.Errors())

	res = commit(t, inst, draft, "a", 3)
	assert.Equal(t, []ir.CheckWrite{{Path: "positive", Rule: "positive"}}, res.Decision.CheckWrites)
	assert.Empty(t, draft.Errors())
	_, present := draft.State()[ErrorsRoot]
	assert.False(t, present, "empty errors tree removed")
}

// TestConverge_ItemChecks tests per-row check paths.
func TestConverge_ItemChecks(t *testing.T) {
	m := newTestModule(t, cartDecls())
	inst := newTestInstance(t, m)
	draft := NewMapDraft(cartState())

	res := commit(t, inst, draft, "items[1].qty", -2)

	assert.Equal(t, []ir.CheckWrite{{Path: "items[1].qtyPositive", Rule: "qtyPositive", Message: "must be >= 0"}}, res.Decision.CheckWrites)
	msg, ok := draft.GetError("items[1].qtyPositive")
	assert.True(t, ok)
	assert.Equal(t, "must be >= 0", msg)
}

// TestConverge_SourceKeyChanges tests key tracking per trigger policy.
func TestConverge_SourceKeyChanges(t *testing.T) {
	m := newTestModule(t, compiler.Declarations{
		"profile":  compiler.Source{Deps: []string{"userId"}, Resource: "user"},
		"settings": compiler.Source{Deps: []string{"userId"}, Resource: "prefs", Trigger: ir.TriggerOnMount},
		"audit":    compiler.Source{Deps: []string{"userId"}, Resource: "audit", Trigger: ir.TriggerManual},
	})
	inst := newTestInstance(t, m)
	draft := NewMapDraft(map[string]any{"userId": "u1"})

	mount := inst.Mount(context.Background(), draft)
	assert.Equal(t, []ir.SourceKeyChange{
		{FieldPath: "profile", Resource: "user", Key: "u1"},
		{FieldPath: "settings", Resource: "prefs", Key: "u1"},
	}, mount.Decision.SourceKeyChanges)

	res := commit(t, inst, draft, "userId", "u2")
	assert.Equal(t, []ir.SourceKeyChange{
		{FieldPath: "profile", Resource: "user", PrevKey: "u1", Key: "u2"},
	}, res.Decision.SourceKeyChanges)

	res = commit(t, inst, draft, "userId", "u2")
	assert.Empty(t, res.Decision.SourceKeyChanges)
}

// TestConverge_DirtyAllRunsFull tests the sentinel forcing a full pass.
func TestConverge_DirtyAllRunsFull(t *testing.T) {
	m := newTestModule(t, doublingDecls())
	inst := newTestInstance(t, m)
	draft := NewMapDraft(map[string]any{"a": 4, "b": 0})

	res := inst.Converge(context.Background(), DirtyAll(DirtyAllManual), draft)

	assert.Equal(t, ir.ModeFull, res.Decision.ExecutedMode)
	assert.Equal(t, DirtyAllManual, res.Decision.DirtyAllReason)
	assert.Equal(t, int64(8), get(t, draft, "b"))
}

// TestConverge_UnresolvedPathFallsBackToFull tests writes the registry
// cannot resolve.
func TestConverge_UnresolvedPathFallsBackToFull(t *testing.T) {
	m := newTestModule(t, doublingDecls())
	inst := newTestInstance(t, m)
	draft := NewMapDraft(map[string]any{"a": 1, "b": 2})

	res := commit(t, inst, draft, "notes.text", "hi")

	assert.Equal(t, ir.ModeFull, res.Decision.ExecutedMode)
	assert.Equal(t, DirtyAllUnresolvedPath, res.Decision.DirtyAllReason)
	assert.Equal(t, ir.OutcomeNoop, res.Decision.Outcome)
}

// TestConverge_RequestedFullMode tests the full override.
func TestConverge_RequestedFullMode(t *testing.T) {
	m := newTestModule(t, doublingDecls(), WithMode(ir.ModeFull))
	inst := newTestInstance(t, m)
	draft := NewMapDraft(map[string]any{"a": 1, "b": 2})

	res := inst.Converge(context.Background(), NewDirtySet(), draft)
	assert.Equal(t, ir.ModeFull, res.Decision.ExecutedMode)
	assert.Equal(t, 1, res.Decision.StepStats.Executed)

	res = inst.Converge(context.Background(), NewDirtySet(), draft, CallMode(ir.ModeDirty))
	assert.Equal(t, ir.ModeDirty, res.Decision.ExecutedMode)
	assert.Equal(t, 0, res.Decision.StepStats.Executed)
}

// TestConverge_DecisionBudgetForcesFull tests falling back when mode
// selection runs out of time.
func TestConverge_DecisionBudgetForcesFull(t *testing.T) {
	m := newTestModule(t, doublingDecls())
	inst := newTestInstance(t, m)
	draft := NewMapDraft(map[string]any{"a": 1, "b": 2})

	txn := inst.Begin(draft)
	require.NoError(t, txn.Set("a", 2))
	res := txn.Commit(context.Background(), CallBudget(Unlimited, 0))

	assert.True(t, res.Decision.Budget.DecisionBudgetExceeded)
	assert.Equal(t, ir.ModeFull, res.Decision.ExecutedMode)
	assert.Equal(t, ir.OutcomeConverged, res.Decision.Outcome)
	assert.True(t, IsBudgetError(res.Err()))
}

// TestConverge_ConfigErrorDegrades tests the degrade-forever policy.
func TestConverge_ConfigErrorDegrades(t *testing.T) {
	decls := compiler.Declarations{
		"a": compiler.Computed{Deps: []string{"b"}, Derive: incr},
		"b": compiler.Computed{Deps: []string{"a"}, Derive: incr},
	}
	static, entries := compileDecls(t, decls)
	_, err := NewModule("cyclic", static, entries, WithLogger(discard))
	require.Error(t, err)
	assert.True(t, ir.IsConfigError(err, ir.ErrCodeCycleDetected))

	m := newTestModule(t, decls, WithDegradeOnConfigError())
	inst := newTestInstance(t, m)
	res := commit(t, inst, NewMapDraft(map[string]any{"a": 1, "b": 1}), "a", 2)

	assert.Equal(t, ir.OutcomeDegraded, res.Decision.Outcome)
	assert.Equal(t, ir.ReasonConfigError, res.Decision.Reason)
	assert.Equal(t, ir.ModeFull, res.Decision.ExecutedMode)
	assert.Equal(t, 0, res.Decision.StepStats.Executed)
}

// TestConverge_MultipleWritersRejected tests module construction on a
// MULTIPLE_WRITERS IR.
func TestConverge_MultipleWritersRejected(t *testing.T) {
	static, entries := compileDecls(t, compiler.Declarations{
		"x":   compiler.Node{Computed: map[string]compiler.Computed{"b": {Deps: []string{"a"}, Derive: incr}}},
		"x.b": compiler.Link{From: "a"},
	})
	_, err := NewModule("dup", static, entries, WithLogger(discard))
	assert.True(t, ir.IsConfigError(err, ir.ErrCodeMultipleWriters))
}

// TestConverge_PlanCacheHit tests that a repeated dirty set reuses its plan.
func TestConverge_PlanCacheHit(t *testing.T) {
	m := newTestModule(t, doublingDecls())
	inst := newTestInstance(t, m)
	draft := NewMapDraft(map[string]any{"a": 1, "b": 2})

	first := commit(t, inst, draft, "a", 2)
	assert.True(t, first.Decision.Cache.Lookup)
	assert.False(t, first.Decision.Cache.Hit)

	second := commit(t, inst, draft, "a", 3)
	assert.True(t, second.Decision.Cache.Hit)
	assert.Equal(t, int64(1), second.Decision.Cache.Hits)
	assert.Equal(t, int64(1), second.Decision.Cache.Misses)
	assert.Equal(t, 1, second.Decision.Cache.Size)
	assert.Equal(t, int64(6), get(t, draft, "b"))
}

// TestConverge_AutoDowngradesOnLowHitRate tests the protective downgrade and
// the cooldown re-enabling the cache.
func TestConverge_AutoDowngradesOnLowHitRate(t *testing.T) {
	cfg := DefaultPlanCacheConfig()
	cfg.Window = 4
	cfg.MinSamples = 4
	cfg.FloorRatio = 0.5
	cfg.Cooldown = 2
	m := newTestModule(t, compiler.Declarations{
		"b": compiler.Computed{Deps: []string{"a"}, Derive: incr},
		"d": compiler.Computed{Deps: []string{"c"}, Derive: incr},
		"f": compiler.Computed{Deps: []string{"e"}, Derive: incr},
		"h": compiler.Computed{Deps: []string{"g"}, Derive: incr},
	}, WithPlanCache(cfg))
	inst := newTestInstance(t, m)
	draft := NewMapDraft(map[string]any{"a": 0, "c": 0, "e": 0, "g": 0})

	var last Result
	for i, path := range []string{"a", "c", "e", "g"} {
		last = commit(t, inst, draft, path, i+1)
		assert.Equal(t, ir.ModeDirty, last.Decision.ExecutedMode)
	}
	assert.True(t, last.Decision.Cache.Disabled)
	assert.Equal(t, DisableLowHitRate, last.Decision.Cache.DisableReason)

	res := commit(t, inst, draft, "a", 10)
	assert.Equal(t, ir.ModeFull, res.Decision.ExecutedMode)
	assert.True(t, res.Decision.Cache.Disabled)

	res = commit(t, inst, draft, "a", 11)
	assert.Equal(t, ir.ModeFull, res.Decision.ExecutedMode)
	assert.False(t, res.Decision.Cache.Disabled, "cooldown elapsed")

	res = commit(t, inst, draft, "a", 12)
	assert.Equal(t, ir.ModeDirty, res.Decision.ExecutedMode)
}

// TestConverge_TopSteps tests the slowest-steps list ordering.
func TestConverge_TopSteps(t *testing.T) {
	clock := testutil.NewFakeClock()
	sleepy := func(d time.Duration) ir.DeriveFunc {
		return func(deps []any) (any, error) {
			clock.Advance(d)
			return deps[0], nil
		}
	}
	m := newTestModule(t, compiler.Declarations{
		"p": compiler.Computed{Deps: []string{"a"}, Derive: sleepy(1 * time.Millisecond)},
		"q": compiler.Computed{Deps: []string{"a"}, Derive: sleepy(4 * time.Millisecond)},
		"r": compiler.Computed{Deps: []string{"a"}, Derive: sleepy(2 * time.Millisecond)},
		"s": compiler.Computed{Deps: []string{"a"}, Derive: sleepy(4 * time.Millisecond)},
	}, WithClock(clock))
	inst := newTestInstance(t, m)

	res := commit(t, inst, NewMapDraft(map[string]any{"a": 0}), "a", 1)

	top := res.Decision.TopSteps
	require.Len(t, top, 3)
	assert.Equal(t, []string{"q", "s", "r"}, []string{top[0].FieldPath, top[1].FieldPath, top[2].FieldPath})
	assert.InDelta(t, 4.0, top[0].DurationMs, 1e-9)
}

// TestConverge_Deferred tests deferral, debounce and the tick.
func TestConverge_Deferred(t *testing.T) {
	clock := testutil.NewFakeClock()
	m := newTestModule(t, compiler.Declarations{
		"b": compiler.Computed{Deps: []string{"a"}, Derive: double, Scheduling: ir.SchedulingDeferred},
		"c": compiler.Computed{Deps: []string{"b"}, Derive: incr},
	}, WithClock(clock), WithDeferral(10*time.Millisecond, 50*time.Millisecond))
	inst := newTestInstance(t, m)
	draft := NewMapDraft(map[string]any{"a": 1, "b": 2, "c": 3})
	ctx := context.Background()

	res := commit(t, inst, draft, "a", 5)
	assert.Equal(t, 1, res.Decision.StepStats.Deferred)
	assert.Equal(t, 2, get(t, draft, "b"), "deferred step not run inline")
	assert.Equal(t, []int{0}, inst.Executor().Scheduler().Pending())

	early := inst.Tick(ctx, draft)
	assert.Equal(t, ir.OutcomeNoop, early.Decision.Outcome)
	assert.Equal(t, ir.ModeDeferred, early.Decision.RequestedMode)

	clock.Advance(10 * time.Millisecond)
	tick := inst.Tick(ctx, draft)
	assert.Equal(t, ir.OutcomeConverged, tick.Decision.Outcome)
	assert.Equal(t, ir.ModeDeferred, tick.Decision.ExecutedMode)
	assert.Equal(t, 2, tick.Decision.StepStats.Executed)
	assert.Equal(t, int64(10), get(t, draft, "b"))
	assert.Equal(t, int64(11), get(t, draft, "c"))
	assert.Empty(t, inst.Executor().Scheduler().Pending())
}

// TestConverge_DeferredSupersede tests that rescheduling replaces the stale
// request.
func TestConverge_DeferredSupersede(t *testing.T) {
	clock := testutil.NewFakeClock()
	m := newTestModule(t, compiler.Declarations{
		"b": compiler.Computed{Deps: []string{"a"}, Derive: double, Scheduling: ir.SchedulingDeferred},
	}, WithClock(clock), WithDeferral(10*time.Millisecond, 0))
	inst := newTestInstance(t, m)
	draft := NewMapDraft(map[string]any{"a": 1, "b": 2})

	commit(t, inst, draft, "a", 2)
	clock.Advance(5 * time.Millisecond)
	commit(t, inst, draft, "a", 3)

	stats := inst.Executor().Scheduler().Stats()
	assert.Equal(t, DeferredStats{Pending: 1, Superseded: 1}, stats)

	clock.Advance(10 * time.Millisecond)
	inst.Tick(context.Background(), draft)
	assert.Equal(t, int64(6), get(t, draft, "b"), "latest value applied once")

	commit(t, inst, draft, "a", 4)
	assert.Equal(t, 1, inst.Executor().Cancel())
	assert.Equal(t, int64(1), inst.Executor().Scheduler().Stats().Dropped)
}

// TestConverge_ListRowFailureKeepsOtherRows tests that one failing row keeps
// its value while the other rows still write and propagate.
func TestConverge_ListRowFailureKeepsOtherRows(t *testing.T) {
	strict := func(deps []any) (any, error) {
		if num(deps[1]) < 0 {
			return nil, errors.New("negative qty")
		}
		return product(deps)
	}
	m := newTestModule(t, compiler.Declarations{
		"items": compiler.List{
			TrackBy: "id",
			Item: &compiler.Node{
				Computed: map[string]compiler.Computed{
					"total": {Deps: []string{"price", "qty"}, Derive: strict},
				},
			},
		},
		"cartTotal": compiler.Computed{Deps: []string{"items[].total"}, Derive: sum},
	})
	inst := newTestInstance(t, m)
	draft := NewMapDraft(cartState())

	res := commit(t, inst, draft, "items[0].qty", 5, "items[1].qty", -1)

	d := res.Decision
	assert.Equal(t, ir.OutcomeDegraded, d.Outcome)
	assert.Equal(t, ir.ReasonRuntimeError, d.Reason)
	assert.Equal(t, 1, d.StepStats.Errored)
	assert.Equal(t, 2, d.RowStats.Executed)
	require.Len(t, d.Errors, 1)
	assert.Equal(t, "items[1].total", d.Errors[0].FieldPath)
	assert.Equal(t, []FieldUpdate{
		{Path: "items[0].total", Value: int64(10), StepID: 0},
		{Path: "cartTotal", Value: int64(13), StepID: 1},
	}, res.Updates)
	assert.Equal(t, 3, get(t, draft, "items[1].total"), "failed row kept")
	assert.Equal(t, []ir.FieldPathID{idOf(t, m, "items[].total")}, d.CarryOver)

	fixed := commit(t, inst, draft, "items[1].qty", 2)
	assert.Equal(t, ir.OutcomeConverged, fixed.Decision.Outcome)
	assert.Equal(t, int64(6), get(t, draft, "items[1].total"))
	assert.Equal(t, int64(16), get(t, draft, "cartTotal"))
	assert.Empty(t, fixed.Decision.CarryOver)
}

// TestConverge_TickKeepsUnrelatedCarryOver tests that a deferred tick does
// not clear carry-over outside the steps it ran.
func TestConverge_TickKeepsUnrelatedCarryOver(t *testing.T) {
	clock := testutil.NewFakeClock()
	failing := true
	m := newTestModule(t, compiler.Declarations{
		"b": compiler.Computed{Deps: []string{"a"}, Derive: double, Scheduling: ir.SchedulingDeferred},
		"x": compiler.Computed{Deps: []string{"y"}, Derive: func(deps []any) (any, error) {
			if failing {
				return nil, errors.New("not ready")
			}
			return int64(num(deps[0])), nil
		}},
	}, WithClock(clock), WithDeferral(10*time.Millisecond, 0))
	inst := newTestInstance(t, m)
	draft := NewMapDraft(map[string]any{"a": 1, "b": 2, "y": 1, "x": 1})
	ctx := context.Background()

	res := commit(t, inst, draft, "a", 7, "y", 4)
	assert.Equal(t, ir.OutcomeDegraded, res.Decision.Outcome)
	assert.Equal(t, []ir.FieldPathID{idOf(t, m, "x")}, res.Decision.CarryOver)

	clock.Advance(10 * time.Millisecond)
	tick := inst.Tick(ctx, draft)
	assert.Equal(t, int64(14), get(t, draft, "b"))
	assert.Equal(t, []ir.FieldPathID{idOf(t, m, "x")}, tick.Decision.CarryOver, "x still owed")

	failing = false
	next := inst.Converge(ctx, NewDirtySet(), draft)
	assert.Equal(t, ir.OutcomeConverged, next.Decision.Outcome)
	assert.Equal(t, int64(4), get(t, draft, "x"))
	assert.Empty(t, next.Decision.CarryOver)
}

// TestConverge_CancelCarriesDroppedSteps tests that a cancelled deferred step
// is rescheduled by the next converge.
func TestConverge_CancelCarriesDroppedSteps(t *testing.T) {
	clock := testutil.NewFakeClock()
	m := newTestModule(t, compiler.Declarations{
		"b": compiler.Computed{Deps: []string{"a"}, Derive: double, Scheduling: ir.SchedulingDeferred},
	}, WithClock(clock), WithDeferral(10*time.Millisecond, 0))
	inst := newTestInstance(t, m)
	draft := NewMapDraft(map[string]any{"a": 1, "b": 2})
	ctx := context.Background()

	commit(t, inst, draft, "a", 4)
	require.Equal(t, 1, inst.Executor().Cancel())
	assert.Empty(t, inst.Executor().Scheduler().Pending())

	res := inst.Converge(ctx, NewDirtySet(), draft)
	assert.Equal(t, 1, res.Decision.StepStats.Deferred)
	assert.Equal(t, []int{0}, inst.Executor().Scheduler().Pending())

	clock.Advance(10 * time.Millisecond)
	inst.Tick(ctx, draft)
	assert.Equal(t, int64(8), get(t, draft, "b"))
	assert.Empty(t, inst.Executor().Scheduler().Pending())
}
