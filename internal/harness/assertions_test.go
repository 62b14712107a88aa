package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/yoyooyooo/logix-sub006/internal/engine"
	"github.com/yoyooyooo/logix-sub006/internal/ir"
)

// TestCheckExpect_AllMatch tests that a matching decision yields no messages.
func TestCheckExpect_AllMatch(t *testing.T) {
	one, zero := 1, 0
	d := ir.ConvergeDecision{
		Outcome:      ir.OutcomeConverged,
		ExecutedMode: ir.ModeDirty,
		StepStats:    ir.StepStats{Executed: 1, Changed: 1},
		RowStats:     ir.RowStats{Executed: 1},
	}
	draft := engine.NewMapDraft(map[string]any{"b": int64(4)})

	msgs := checkExpect("t", Expect{
		Outcome:      ir.OutcomeConverged,
		ExecutedMode: ir.ModeDirty,
		Executed:     &one,
		Skipped:      &zero,
		RowsExecuted: &one,
		Values:       map[string]any{"b": 4.0},
		Errors:       map[string]string{"b": ""},
	}, d, draft)
	assert.Empty(t, msgs)
}

// TestCheckExpect_Reason tests the degraded reason comparison.
func TestCheckExpect_Reason(t *testing.T) {
	d := ir.ConvergeDecision{Outcome: ir.OutcomeDegraded, Reason: ir.ReasonRuntimeError}
	msgs := checkExpect("t", Expect{Reason: ir.ReasonBudgetExceeded}, d, engine.NewMapDraft(nil))
	assert.Equal(t, []string{"t: reason: expected budget_exceeded, got runtime_error"}, msgs)

	d.Reason = ""
	msgs = checkExpect("t", Expect{Reason: ir.ReasonBudgetExceeded}, d, engine.NewMapDraft(nil))
	assert.Equal(t, []string{"t: reason: expected budget_exceeded, got none"}, msgs)
}

// TestCheckErrors_Unexpected tests that an error present where none is expected fails.
func TestCheckErrors_Unexpected(t *testing.T) {
	draft := engine.NewMapDraft(map[string]any{})
	assert.NoError(t, draft.SetError("qty", "too low"))

	msgs := checkErrors("t", map[string]string{"qty": ""}, draft)
	assert.Equal(t, []string{`t: error qty: expected none, got "too low"`}, msgs)
}

// TestCheckValues_BadPath tests that an unparsable path is reported.
func TestCheckValues_BadPath(t *testing.T) {
	msgs := checkValues("final", map[string]any{"items[x": 1}, engine.NewMapDraft(nil))
	assert.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "final: value items[x")
}
