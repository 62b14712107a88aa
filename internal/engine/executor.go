package engine

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/yoyooyooo/logix-sub006/internal/ir"
)

var tracer = otel.Tracer("github.com/yoyooyooo/logix-sub006/internal/engine")

// topStepCount is the number of slowest steps kept in a decision.
const topStepCount = 3

// FieldUpdate is one value the executor wrote into the draft.
type FieldUpdate struct {
	Path   string `json:"path"`
	Value  any    `json:"value"`
	StepID int    `json:"step_id"`
}

// Result is what one converge invocation produced.
type Result struct {
	Updates  []FieldUpdate
	Decision ir.ConvergeDecision

	// Errors holds the RuntimeErrors recorded in the decision.
	Errors []error
}

// Err joins the recorded runtime errors, nil when there were none.
func (r Result) Err() error {
	return errors.Join(r.Errors...)
}

// Executor converges one instance's state after each transaction.
//
// Thread-safety: an Executor is NOT safe for concurrent use. Transactions of
// one instance are serialized by the caller; independent instances use
// independent executors (see ConvergeAll).
type Executor struct {
	plans      *atomic.Pointer[Plan]
	generation int64
	instanceID string
	opts       options

	cache *PlanCache
	sched *DeferredScheduler

	// carry holds output ids left dirty by the previous invocation.
	carry *roaring.Bitmap

	sourceKeys map[string]any
	sourceSeen map[string]bool
}

// NewExecutor creates a standalone executor for plan.
func NewExecutor(plan *Plan, opts ...Option) (*Executor, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	ptr := &atomic.Pointer[Plan]{}
	ptr.Store(plan)
	return newExecutor(ptr, "", o)
}

func newExecutor(plans *atomic.Pointer[Plan], instanceID string, o options) (*Executor, error) {
	cache, err := NewPlanCache(o.cache, o.clock)
	if err != nil {
		return nil, err
	}
	return &Executor{
		plans:      plans,
		generation: plans.Load().IR.Generation,
		instanceID: instanceID,
		opts:       o,
		cache:      cache,
		sched:      NewDeferredScheduler(o.debounce, o.maxLag),
		carry:      roaring.New(),
		sourceKeys: make(map[string]any),
		sourceSeen: make(map[string]bool),
	}, nil
}

// Cache exposes the executor's plan cache.
func (e *Executor) Cache() *PlanCache {
	return e.cache
}

// Scheduler exposes the executor's deferred scheduler.
func (e *Executor) Scheduler() *DeferredScheduler {
	return e.sched
}

// CarryOver returns the ids that will be dirty on the next invocation.
func (e *Executor) CarryOver() []ir.FieldPathID {
	return bitmapIDs(e.carry)
}

// Converge brings draft back in line with every trait after a transaction
// that touched dirty.
//
// Converge never returns an error: budget cutoffs, failed derivations and
// configuration errors are reported through the decision.
func (e *Executor) Converge(ctx context.Context, dirty DirtySet, draft Draft, opts ...CallOption) Result {
	c := e.callOptions(opts)
	ctx, span := tracer.Start(ctx, "engine.Converge", trace.WithAttributes(
		attribute.String("logix.txn_id", c.txnID),
		attribute.String("logix.requested_mode", string(c.mode)),
	))
	defer span.End()

	r := e.begin(draft, c)
	e.syncGeneration(r.plan, &dirty)
	r.converge(dirty)
	return e.finish(ctx, span, r)
}

// Tick runs the deferred steps that are due, plus everything downstream of
// them. It reports Noop when nothing is due.
func (e *Executor) Tick(ctx context.Context, draft Draft, opts ...CallOption) Result {
	c := e.callOptions(opts)
	c.mode = ir.ModeDeferred
	ctx, span := tracer.Start(ctx, "engine.Tick", trace.WithAttributes(
		attribute.String("logix.txn_id", c.txnID),
	))
	defer span.End()

	r := e.begin(draft, c)
	var dirty DirtySet
	e.syncGeneration(r.plan, &dirty)
	if dirty.IsAll() {
		// The deferred set belonged to the previous generation.
		r.converge(dirty)
		return e.finish(ctx, span, r)
	}
	r.tick()
	return e.finish(ctx, span, r)
}

// Cancel drops every pending deferred step. Their outputs were never
// converged, so they join the carry-over and the next converge reschedules
// them.
func (e *Executor) Cancel() int {
	if plan := e.plans.Load(); plan.IR.Generation == e.generation {
		for _, id := range e.sched.Pending() {
			if id < len(plan.steps) {
				e.carry.Add(uint32(plan.steps[id].outID))
			}
		}
	}
	return e.sched.Cancel()
}

func (e *Executor) callOptions(opts []CallOption) callOptions {
	c := callOptions{
		mode:           e.opts.mode,
		budget:         e.opts.budget,
		decisionBudget: e.opts.decisionBudget,
	}
	for _, opt := range opts {
		opt(&c)
	}
	if c.txnID == "" {
		c.txnID = e.opts.txnIDs.Generate()
	}
	return c
}

// syncGeneration resets per-generation state when the module was rebuilt
// since the last invocation, and forces a full pass.
func (e *Executor) syncGeneration(plan *Plan, dirty *DirtySet) {
	gen := plan.IR.Generation
	if gen == e.generation {
		return
	}
	e.opts.logger.Debug("generation changed",
		"event", "generation_changed",
		"instance", e.instanceID,
		"from", e.generation,
		"to", gen,
	)
	e.generation = gen
	e.cache.InvalidateGeneration()
	e.sched.Cancel()
	e.carry = roaring.New()
	dirty.MarkAll(DirtyAllGeneration)
}

func (e *Executor) begin(draft Draft, c callOptions) *run {
	plan := e.plans.Load()
	r := &run{
		e:        e,
		plan:     plan,
		draft:    draft,
		call:     c,
		budget:   NewBudgetTracker(e.opts.clock, c.budget),
		changed:  roaring.New(),
		narrow:   roaring.New(),
		carryOut: roaring.New(),
	}
	r.decision = ir.ConvergeDecision{
		TxnID:         c.txnID,
		InstanceID:    e.instanceID,
		Generation:    plan.IR.Generation,
		RequestedMode: c.mode,
		StepStats:     ir.StepStats{Total: len(plan.steps)},
		Budget: ir.BudgetStats{
			BudgetMs:         limitMs(c.budget),
			DecisionBudgetMs: limitMs(c.decisionBudget),
		},
		TopSteps: []ir.StepTiming{},
	}
	return r
}

func (e *Executor) finish(ctx context.Context, span trace.Span, r *run) Result {
	d := &r.decision
	d.Budget.ElapsedMs = durationMs(r.budget.Elapsed())
	d.Cache = e.cache.Stats()
	d.Cache.Lookup = r.cacheLookup
	d.Cache.Hit = r.cacheHit
	d.TopSteps = topSteps(r.timings)

	e.carry = r.carryOut
	d.CarryOver = bitmapIDs(r.carryOut)

	switch {
	case d.Outcome != "":
		// set early (config error, empty dirty set)
	case r.cut:
		d.Outcome = ir.OutcomeDegraded
		d.Reason = ir.ReasonBudgetExceeded
	case d.StepStats.Errored > 0:
		d.Outcome = ir.OutcomeDegraded
		d.Reason = ir.ReasonRuntimeError
	case d.StepStats.Changed > 0 || len(d.CheckWrites) > 0:
		d.Outcome = ir.OutcomeConverged
	default:
		d.Outcome = ir.OutcomeNoop
	}

	span.SetAttributes(
		attribute.String("logix.executed_mode", string(d.ExecutedMode)),
		attribute.String("logix.outcome", string(d.Outcome)),
		attribute.Int("logix.steps_executed", d.StepStats.Executed),
		attribute.Int("logix.steps_changed", d.StepStats.Changed),
	)

	logger := e.opts.logger
	if d.Outcome == ir.OutcomeDegraded {
		logger.Warn("converge degraded",
			"event", "converge_degraded",
			"instance", e.instanceID,
			"txn", d.TxnID,
			"reason", d.Reason,
			"executed", d.StepStats.Executed,
			"carry_over", len(d.CarryOver),
		)
	} else {
		logger.Debug("converged",
			"event", "converge",
			"instance", e.instanceID,
			"txn", d.TxnID,
			"mode", d.ExecutedMode,
			"outcome", d.Outcome,
			"executed", d.StepStats.Executed,
			"changed", d.StepStats.Changed,
		)
	}

	if e.opts.metrics != nil {
		e.opts.metrics.ObserveDecision(*d)
	}
	if e.opts.publisher != nil {
		if err := e.opts.publisher.PublishDecision(ctx, *d); err != nil {
			logger.Warn("publish decision failed",
				"event", "publish_failed",
				"txn", d.TxnID,
				"error", err,
			)
		}
	}
	return Result{Updates: r.updates, Decision: *d, Errors: r.errs}
}

// run is the state of one invocation.
type run struct {
	e     *Executor
	plan  *Plan
	draft Draft
	call  callOptions

	budget   *BudgetTracker
	decision ir.ConvergeDecision
	updates  []FieldUpdate
	timings  []ir.StepTiming
	errs     []error

	cacheLookup bool
	cacheHit    bool
	cut         bool

	mode  ir.ConvergeMode
	dirty DirtySet

	// seeds are the ids dirty at the start: the transaction's plus carry-over.
	seeds   *roaring.Bitmap
	carryIn *roaring.Bitmap

	// changed holds outputs written by steps that ran every row; narrow holds
	// outputs written by steps restricted to hinted rows.
	changed *roaring.Bitmap
	narrow  *roaring.Bitmap

	carryOut *roaring.Bitmap
}

func (r *run) converge(dirty DirtySet) {
	d := &r.decision
	r.dirty = dirty
	d.DirtyAllReason = dirty.AllReason()

	if r.plan.IR.ConfigError != nil {
		d.ExecutedMode = ir.ModeFull
		d.Outcome = ir.OutcomeDegraded
		d.Reason = ir.ReasonConfigError
		r.errs = append(r.errs, &RuntimeError{
			Code:    ErrCodeConfigError,
			Message: r.plan.IR.ConfigError.Error(),
			StepID:  -1,
		})
		return
	}

	r.carryIn = r.e.carry
	r.seeds = dirty.bitmap()
	r.seeds.Or(r.carryIn)

	r.mode = r.selectMode()
	d.ExecutedMode = r.mode

	var relevant []int
	if r.mode == ir.ModeDirty {
		if r.seeds.IsEmpty() {
			d.Outcome = ir.OutcomeNoop
			d.StepStats.Skipped = len(r.plan.steps)
			return
		}
		relevant = r.decide()
	}
	if r.mode == ir.ModeFull {
		relevant = r.plan.allSteps()
	}
	d.StepStats.Skipped = len(r.plan.steps) - len(relevant)

	r.execute(relevant, true)
	r.runChecks()
	r.runSources()
}

func (r *run) tick() {
	d := &r.decision
	d.ExecutedMode = ir.ModeDeferred
	r.mode = ir.ModeDeferred
	r.carryIn = r.e.carry
	r.seeds = r.carryIn.Clone()

	if r.plan.IR.ConfigError != nil {
		d.Outcome = ir.OutcomeNoop
		return
	}
	due := r.e.sched.Due(r.e.opts.clock.Now())
	if len(due) == 0 {
		// Carry-over survives an empty tick.
		r.carryOut = r.carryIn
		d.Outcome = ir.OutcomeNoop
		d.StepStats.Skipped = len(r.plan.steps)
		return
	}
	// Carry-over outside the due closure stays dirty; execute clears the
	// outputs it converges.
	r.carryOut = r.carryIn.Clone()
	relevant := r.plan.downstream(due)
	d.StepStats.Skipped = len(r.plan.steps) - len(relevant)
	r.execute(relevant, false)
	r.runChecks()
	r.runSources()
}

// selectMode resolves the requested mode into full or dirty.
func (r *run) selectMode() ir.ConvergeMode {
	switch r.call.mode {
	case ir.ModeFull:
		return ir.ModeFull
	case ir.ModeDirty:
		if r.dirty.IsAll() {
			return ir.ModeFull
		}
		return ir.ModeDirty
	default:
		if r.dirty.IsAll() {
			return ir.ModeFull
		}
		if off, reason := r.e.cache.Disabled(); off && reason == DisableLowHitRate {
			r.e.cache.NoteBypass()
			return ir.ModeFull
		}
		return ir.ModeDirty
	}
}

// decide computes the relevant steps for the seed set, through the plan
// cache when it is enabled. Running past the decision budget switches this
// call to full.
func (r *run) decide() []int {
	clock := r.e.opts.clock
	start := clock.Now()
	cache := r.e.cache

	var relevant []int
	if off, _ := cache.Disabled(); off {
		cache.NoteBypass()
		relevant = r.plan.closure(r.seeds)
	} else {
		sig := cache.Signature(DirtySet{ids: r.seeds})
		steps, ok := cache.Lookup(sig)
		r.cacheLookup = true
		if ok {
			r.cacheHit = true
			relevant = steps
		} else {
			relevant = r.plan.closure(r.seeds)
			cache.Insert(sig, relevant)
		}
	}

	spent := clock.Now().Sub(start)
	r.decision.Budget.DecisionMs = durationMs(spent)
	if r.call.decisionBudget >= 0 && spent >= r.call.decisionBudget {
		r.decision.Budget.DecisionBudgetExceeded = true
		r.decision.ExecutedMode = ir.ModeFull
		r.mode = ir.ModeFull
		r.errs = append(r.errs, &RuntimeError{
			Code:    ErrCodeDecisionBudgetExceeded,
			Message: fmt.Sprintf("mode selection took %s", spent),
			StepID:  -1,
		})
		return r.plan.allSteps()
	}
	return relevant
}

// execute runs the given steps in order. Deferred steps are handed to the
// scheduler when deferrable is set.
func (r *run) execute(relevant []int, deferrable bool) {
	d := &r.decision
	clock := r.e.opts.clock
	for i, id := range relevant {
		s := &r.plan.steps[id]
		if deferrable && s.deferred {
			d.StepStats.Deferred++
			r.e.sched.Schedule(s.id, clock.Now())
			continue
		}
		if r.budget.Exhausted() {
			r.cutAt(relevant[i:], deferrable)
			return
		}

		start := clock.Now()
		changed, failures := r.runStep(s)
		r.timings = append(r.timings, ir.StepTiming{
			StepID:     s.id,
			FieldPath:  s.out.String(),
			DurationMs: durationMs(clock.Now().Sub(start)),
		})
		d.StepStats.Executed++
		if len(failures) == 0 {
			r.carryOut.Remove(uint32(s.outID))
		} else {
			d.StepStats.Errored++
			r.carryOut.Add(uint32(s.outID))
		}
		for _, err := range failures {
			var re *RuntimeError
			if errors.As(err, &re) {
				d.Errors = append(d.Errors, ir.StepFailure{StepID: re.StepID, FieldPath: re.FieldPath, Message: re.Message})
			}
			r.errs = append(r.errs, err)
			r.e.opts.logger.Warn("step failed",
				"event", "step_failed",
				"instance", r.e.instanceID,
				"step", s.id,
				"path", s.out.String(),
				"error", err,
			)
		}
		if changed {
			d.StepStats.Changed++
		}
	}
}

func (r *run) cutAt(rest []int, deferrable bool) {
	r.cut = true
	for _, id := range rest {
		s := &r.plan.steps[id]
		if deferrable && s.deferred {
			r.decision.StepStats.Deferred++
			r.e.sched.Schedule(s.id, r.e.opts.clock.Now())
			continue
		}
		r.carryOut.Add(uint32(s.outID))
	}
	r.errs = append(r.errs, newBudgetError(r.decision.StepStats.Executed, len(rest)))
}

// runStep evaluates one step over its rows and writes changed values back.
// A failing row keeps its value and is reported; the other rows still run.
func (r *run) runStep(s *stepInfo) (bool, []error) {
	keys, restricted := r.hintedRows(s)
	listScoped := s.out.ListDepth() > 0

	anyChanged := false
	var failures []error
	for _, idx := range expandIndexes(r.draft, s.out.ListScope(), nil) {
		if restricted {
			if _, ok := keys[rowKeyAt(r.draft, s.rowScope, s.rowKey, idx)]; !ok {
				r.decision.RowStats.Skipped++
				continue
			}
		}
		if listScoped {
			r.decision.RowStats.Executed++
		}

		out := concretize(s.out, idx)
		v, err := callDerive(s.derive, inputValues(r.draft, s.inputs, s.out, idx))
		if err != nil {
			failures = append(failures, newStepError(s.id, out.String(), err))
			continue
		}
		cur, _ := r.draft.Get(out)
		if s.equals(cur, v) {
			continue
		}
		if err := r.draft.Set(out, v); err != nil {
			failures = append(failures, newStepError(s.id, out.String(), err))
			continue
		}
		r.updates = append(r.updates, FieldUpdate{Path: out.String(), Value: v, StepID: s.id})
		anyChanged = true
	}

	if anyChanged {
		if restricted {
			r.narrow.Add(uint32(s.outID))
		} else {
			r.changed.Add(uint32(s.outID))
		}
	}
	return anyChanged, failures
}

// hintedRows decides whether s may run on the hinted rows only. That holds
// in dirty mode when every cause of its relevance is a write (or a narrowed
// upstream change) strictly inside its own list.
func (r *run) hintedRows(s *stepInfo) (map[string]struct{}, bool) {
	if r.mode != ir.ModeDirty || s.rowScope == nil {
		return nil, false
	}
	keys, ok := r.dirty.RowHints(s.rowScope)
	if !ok {
		return nil, false
	}
	if r.carryIn.Intersects(s.triggers) || r.changed.Intersects(s.triggers) {
		return nil, false
	}

	causes := r.dirty.bitmap()
	causes.Or(r.narrow)
	causes.And(s.triggers)
	reg := r.plan.IR.Registry
	it := causes.Iterator()
	for it.HasNext() {
		p := reg.Path(ir.FieldPathID(it.Next()))
		if len(p) <= len(s.rowScope) || !p.HasPrefix(s.rowScope) {
			return nil, false
		}
	}
	return keys, true
}

// reach returns every id dirty at the start or written during this run.
func (r *run) reach() *roaring.Bitmap {
	reach := r.seeds.Clone()
	reach.Or(r.changed)
	reach.Or(r.narrow)
	return reach
}

// runChecks evaluates check rules after the writers and records their
// verdicts in the errors tree.
func (r *run) runChecks() {
	full := r.mode == ir.ModeFull
	reach := r.reach()
	for i := range r.plan.checks {
		c := &r.plan.checks[i]
		if !full && !c.triggers.Intersects(reach) {
			continue
		}
		for _, idx := range expandIndexes(r.draft, c.scope, nil) {
			path := concretize(c.writeback, idx).String()
			msg := callValidate(c.rule.Validate, inputValues(r.draft, c.rule.Deps, c.writeback, idx))
			prev, had := r.draft.GetError(path)
			switch {
			case msg != "" && (!had || prev != msg):
				if err := r.draft.SetError(path, msg); err != nil {
					r.e.opts.logger.Warn("check writeback failed", "event", "check_failed", "path", path, "error", err)
					continue
				}
				r.decision.CheckWrites = append(r.decision.CheckWrites, ir.CheckWrite{Path: path, Rule: c.name, Message: msg})
			case msg == "" && had:
				if err := r.draft.ClearError(path); err != nil {
					r.e.opts.logger.Warn("check writeback failed", "event", "check_failed", "path", path, "error", err)
					continue
				}
				r.decision.CheckWrites = append(r.decision.CheckWrites, ir.CheckWrite{Path: path, Rule: c.name})
			}
		}
	}
}

// runSources re-evaluates source keys whose dependencies moved and reports
// changes to the resource layer.
func (r *run) runSources() {
	full := r.mode == ir.ModeFull
	reach := r.reach()
	for i := range r.plan.sources {
		src := &r.plan.sources[i]
		if !full && !src.triggers.Intersects(reach) {
			continue
		}
		for _, idx := range expandIndexes(r.draft, src.path.ListScope(), nil) {
			path := concretize(src.path, idx).String()
			key, err := callKey(src.meta.Key, inputValues(r.draft, src.meta.Deps, src.path, idx))
			if err != nil {
				r.e.opts.logger.Warn("source key failed",
					"event", "source_key_failed",
					"path", path,
					"error", err,
				)
				continue
			}
			prev, seen := r.e.sourceKeys[path], r.e.sourceSeen[path]
			r.e.sourceKeys[path] = key
			r.e.sourceSeen[path] = true

			report := false
			switch src.meta.Trigger {
			case ir.TriggerOnMount:
				report = !seen
			case ir.TriggerOnKeyChange:
				if seen {
					report = !ir.ValuesEqual(prev, key)
				} else {
					report = key != nil
				}
			}
			if report {
				r.decision.SourceKeyChanges = append(r.decision.SourceKeyChanges, ir.SourceKeyChange{
					FieldPath: path,
					Resource:  src.meta.Resource,
					PrevKey:   prev,
					Key:       key,
				})
			}
		}
	}
}

func callDerive(fn ir.DeriveFunc, vals []any) (v any, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("derive panicked: %v", p)
		}
	}()
	return fn(vals)
}

func callValidate(fn ir.ValidateFunc, vals []any) (msg string) {
	defer func() {
		if p := recover(); p != nil {
			msg = fmt.Sprintf("validate panicked: %v", p)
		}
	}()
	return fn(vals)
}

func callKey(fn ir.KeyFunc, vals []any) (key any, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("key panicked: %v", p)
		}
	}()
	return fn(vals)
}

func topSteps(timings []ir.StepTiming) []ir.StepTiming {
	sorted := slices.Clone(timings)
	slices.SortStableFunc(sorted, func(a, b ir.StepTiming) int {
		if c := cmp.Compare(b.DurationMs, a.DurationMs); c != 0 {
			return c
		}
		return cmp.Compare(a.StepID, b.StepID)
	})
	if len(sorted) > topStepCount {
		sorted = sorted[:topStepCount]
	}
	if sorted == nil {
		sorted = []ir.StepTiming{}
	}
	return sorted
}

func bitmapIDs(bm *roaring.Bitmap) []ir.FieldPathID {
	if bm == nil || bm.IsEmpty() {
		return nil
	}
	out := make([]ir.FieldPathID, 0, bm.GetCardinality())
	it := bm.Iterator()
	for it.HasNext() {
		out = append(out, ir.FieldPathID(it.Next()))
	}
	return out
}
