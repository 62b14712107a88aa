package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/yoyooyooo/logix-sub006/internal/compiler"
	"github.com/yoyooyooo/logix-sub006/internal/engine"
	"github.com/yoyooyooo/logix-sub006/internal/ir"
	"github.com/yoyooyooo/logix-sub006/internal/store"
	"github.com/yoyooyooo/logix-sub006/internal/telemetry"
	"github.com/yoyooyooo/logix-sub006/internal/testutil"
)

// moduleName is the module name decisions are stored under.
const moduleName = "scenario"

// Harness runs one scenario against a fresh module, instance and store.
type Harness struct {
	store  *store.Store
	clock  *testutil.FakeClock
	module *engine.Module
	inst   *engine.Instance
	draft  *engine.MapDraft
	logger *slog.Logger
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation. The clock
// is a FakeClock standing still, instance and transaction ids count from 1,
// so decisions are identical across runs.
//
// Execution flow:
//  1. Compile the declarations (spec dir or inline CUE)
//  2. Build the module with the store as decision sink
//  3. Run every transaction, checking its expectations
//  4. Read the decisions back from the store
//
// The error is reserved for scenarios that cannot run at all; failed
// expectations are reported in the result.
func Run(ctx context.Context, s *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	clock := testutil.NewFakeClock()
	build, err := compile(ctx, s, clock)
	if err != nil {
		return nil, err
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // Suppress logs in tests
	opts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithClock(clock),
		engine.WithIDGenerator(engine.NewCountingGenerator("inst"), engine.NewCountingGenerator("txn")),
		engine.WithTrackBy(build.TrackBy),
		engine.WithPublisher(telemetry.NewStoreSink(st, moduleName)),
	}
	opts = append(opts, s.Options.engineOptions()...)

	m, err := engine.NewModule(moduleName, build.IR, build.Entries, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build module: %w", err)
	}
	inst, err := m.NewInstance()
	if err != nil {
		return nil, fmt.Errorf("failed to create instance: %w", err)
	}

	h := &Harness{
		store:  st,
		clock:  clock,
		module: m,
		inst:   inst,
		draft:  engine.NewMapDraft(engine.CloneState(s.State)),
		logger: logger,
	}

	result := NewResult()
	result.Build = build.IR.Summary
	states := make([]map[string]any, 0, len(s.Transactions))
	for i, txn := range s.Transactions {
		res, err := h.execute(ctx, txn)
		if err != nil {
			return nil, fmt.Errorf("transaction %d (%s): %w", i, txn.Name, err)
		}
		if txn.Expect != nil {
			for _, msg := range checkExpect(txn.Name, *txn.Expect, res.Decision, h.draft) {
				result.AddError(msg)
			}
		}
		states = append(states, engine.CloneState(h.draft.State()))
	}
	for _, msg := range checkValues("final", s.Final, h.draft) {
		result.AddError(msg)
	}

	records, err := st.ReadDecisions(ctx, store.DecisionFilter{Module: moduleName})
	if err != nil {
		return nil, fmt.Errorf("failed to read decisions: %w", err)
	}
	if len(records) != len(s.Transactions) {
		return nil, fmt.Errorf("stored %d decisions for %d transactions", len(records), len(s.Transactions))
	}
	for i, rec := range records {
		result.Steps = append(result.Steps, Step{
			Name:     s.Transactions[i].Name,
			Decision: rec.Decision,
			State:    states[i],
		})
	}
	return result, nil
}

// compile loads the scenario's declarations with the harness functions
// registered and runs the compile pipeline.
func compile(ctx context.Context, s *Scenario, clock *testutil.FakeClock) (*compiler.Build, error) {
	fns := compiler.NewFunctions()
	registerHarnessFunctions(fns, clock)

	var spec *compiler.Spec
	var err error
	if s.Spec != "" {
		spec, err = compiler.LoadDir(s.Spec, fns)
	} else {
		spec, err = compiler.CompileSource(s.Name+".cue", []byte(s.CUE), fns)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load declarations: %w", err)
	}

	build, err := spec.Build(ctx, compiler.WithNow(clock.Now))
	if err != nil {
		return nil, fmt.Errorf("failed to compile declarations: %w", err)
	}
	return build, nil
}

// registerHarnessFunctions adds functions that only make sense against the
// fake clock. "delay" copies its first dep after moving the clock forward by
// args.ms, which makes budget cutoffs reproducible.
func registerHarnessFunctions(fns *compiler.Functions, clock *testutil.FakeClock) {
	fns.RegisterDerive("delay", func(args compiler.Args) (ir.DeriveFunc, error) {
		ms, ok := ir.AsNumber(args["ms"])
		if !ok || ms < 0 {
			return nil, fmt.Errorf("delay: ms must be a non-negative number")
		}
		d := time.Duration(ms * float64(time.Millisecond))
		return func(deps []any) (any, error) {
			clock.Advance(d)
			if len(deps) == 0 {
				return nil, nil
			}
			return deps[0], nil
		}, nil
	})
}

// execute runs one transaction.
func (h *Harness) execute(ctx context.Context, txn Transaction) (engine.Result, error) {
	h.clock.Advance(time.Duration(txn.AdvanceMs) * time.Millisecond)

	var opts []engine.CallOption
	if txn.Mode != "" {
		opts = append(opts, engine.CallMode(txn.Mode))
	}
	if txn.BudgetMs != nil {
		opts = append(opts, engine.CallBudget(budget(*txn.BudgetMs), engine.Unlimited))
	}

	if txn.Tick {
		res := h.inst.Tick(ctx, h.draft, opts...)
		h.log(txn, res)
		return res, nil
	}

	t := h.inst.Begin(h.draft)
	for _, w := range txn.Writes {
		if err := t.Set(w.Path, w.Value); err != nil {
			return engine.Result{}, err
		}
	}
	if txn.MarkAll != "" {
		t.MarkAll(txn.MarkAll)
	}
	res := t.Commit(ctx, opts...)
	h.log(txn, res)
	return res, nil
}

func (h *Harness) log(txn Transaction, res engine.Result) {
	h.logger.Info("transaction completed",
		"event", "scenario_txn",
		"txn", txn.Name,
		"txn_id", res.Decision.TxnID,
		"outcome", res.Decision.Outcome,
		"executed", res.Decision.StepStats.Executed,
	)
}

func (o Options) engineOptions() []engine.Option {
	opts := []engine.Option{
		engine.WithBudget(engine.Unlimited),
		engine.WithDecisionBudget(engine.Unlimited),
	}
	if o.Mode != "" {
		opts = append(opts, engine.WithMode(o.Mode))
	}
	if o.BudgetMs != nil {
		opts = append(opts, engine.WithBudget(budget(*o.BudgetMs)))
	}
	if o.DecisionBudgetMs != nil {
		opts = append(opts, engine.WithDecisionBudget(budget(*o.DecisionBudgetMs)))
	}
	if o.DebounceMs != nil || o.MaxLagMs != nil {
		debounce, maxLag := engine.DefaultDebounce, engine.DefaultMaxLag
		if o.DebounceMs != nil {
			debounce = time.Duration(*o.DebounceMs) * time.Millisecond
		}
		if o.MaxLagMs != nil {
			maxLag = time.Duration(*o.MaxLagMs) * time.Millisecond
		}
		opts = append(opts, engine.WithDeferral(debounce, maxLag))
	}
	if o.DegradeOnConfigError {
		opts = append(opts, engine.WithDegradeOnConfigError())
	}
	return opts
}

func budget(ms float64) time.Duration {
	if ms < 0 {
		return engine.Unlimited
	}
	return time.Duration(ms * float64(time.Millisecond))
}
