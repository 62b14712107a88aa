// Package engine implements the runtime converge executor.
//
// After every transaction the executor brings derived state back in line
// with the declared traits, within a wall-clock budget.
//
// ARCHITECTURE:
//
// Module and instances:
// A Module holds the current Plan: the compiled IR plus a read-only index of
// step triggers, checks and sources. Each Instance owns one Executor, which
// owns its plan cache, deferred scheduler and carry-over set. Executors never
// share mutable state, so independent instances converge in parallel
// (ConvergeAll) without locks on the hot path.
//
// Converge flow:
//  1. The transaction layer reports a DirtySet (ids, or dirtyAll with a reason).
//  2. Carry-over from the previous invocation is merged in.
//  3. Mode selection picks full or dirty; dirty computes the reverse closure,
//     through the plan cache when it is enabled.
//  4. Relevant steps run in topological order until the budget runs out.
//     List-scoped steps run per row, restricted to trackBy-hinted rows when
//     only those rows were written.
//  5. Checks write the errors tree, sources report key changes.
//  6. A ConvergeDecision records what happened and why.
//
// Deferred steps are excluded from transactions and run from Tick once their
// debounce window closes.
//
// Determinism: steps run in StepID order, rows in index order, and every
// derived list in a decision is sorted. Only timings depend on the clock.
package engine
