package harness

import (
	"fmt"
	"sort"
	"strings"

	"github.com/yoyooyooo/logix-sub006/internal/engine"
	"github.com/yoyooyooo/logix-sub006/internal/ir"
)

// AssertionError is one failed expectation.
type AssertionError struct {
	Txn      string // Transaction name, or "final"
	Field    string // What was checked, e.g. "outcome" or "value items[0].total"
	Expected string
	Actual   string
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	return fmt.Sprintf("%s: %s: expected %s, got %s", e.Txn, e.Field, e.Expected, e.Actual)
}

// checkExpect compares a decision and the draft against e and returns one
// message per mismatch.
func checkExpect(txn string, e Expect, d ir.ConvergeDecision, draft *engine.MapDraft) []string {
	var errs []string
	fail := func(field string, expected, actual any) {
		errs = append(errs, (&AssertionError{
			Txn:      txn,
			Field:    field,
			Expected: fmt.Sprint(expected),
			Actual:   fmt.Sprint(actual),
		}).Error())
	}

	if e.Outcome != "" && e.Outcome != d.Outcome {
		fail("outcome", e.Outcome, d.Outcome)
	}
	if e.Reason != "" && e.Reason != d.Reason {
		fail("reason", e.Reason, orNone(string(d.Reason)))
	}
	if e.ExecutedMode != "" && e.ExecutedMode != d.ExecutedMode {
		fail("executed_mode", e.ExecutedMode, d.ExecutedMode)
	}

	counts := []struct {
		field    string
		expected *int
		actual   int
	}{
		{"executed", e.Executed, d.StepStats.Executed},
		{"skipped", e.Skipped, d.StepStats.Skipped},
		{"changed", e.Changed, d.StepStats.Changed},
		{"deferred", e.Deferred, d.StepStats.Deferred},
		{"rows_executed", e.RowsExecuted, d.RowStats.Executed},
		{"rows_skipped", e.RowsSkipped, d.RowStats.Skipped},
	}
	for _, c := range counts {
		if c.expected != nil && *c.expected != c.actual {
			fail(c.field, *c.expected, c.actual)
		}
	}

	errs = append(errs, checkValues(txn, e.Values, draft)...)
	errs = append(errs, checkErrors(txn, e.Errors, draft)...)
	return errs
}

// checkValues compares expected values at concrete paths, numbers compared
// across Go numeric types.
func checkValues(txn string, expected map[string]any, draft *engine.MapDraft) []string {
	var errs []string
	for _, path := range sortedKeys(expected) {
		want := expected[path]
		p, err := engine.ParseConcretePath(path)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: value %s: %v", txn, path, err))
			continue
		}
		got, ok := draft.Get(p)
		if !ok {
			errs = append(errs, (&AssertionError{
				Txn: txn, Field: "value " + path,
				Expected: fmt.Sprint(want), Actual: "missing",
			}).Error())
			continue
		}
		if !ir.ValuesEqual(got, want) {
			errs = append(errs, (&AssertionError{
				Txn: txn, Field: "value " + path,
				Expected: fmt.Sprint(want), Actual: fmt.Sprint(got),
			}).Error())
		}
	}
	return errs
}

// checkErrors compares the errors tree. An empty expected message means the
// path must carry no error.
func checkErrors(txn string, expected map[string]string, draft *engine.MapDraft) []string {
	if len(expected) == 0 {
		return nil
	}
	actual := draft.Errors()
	var errs []string
	for _, path := range sortedKeys(expected) {
		want := expected[path]
		got, ok := actual[path]
		switch {
		case want == "" && ok:
			errs = append(errs, (&AssertionError{
				Txn: txn, Field: "error " + path, Expected: "none", Actual: fmt.Sprintf("%q", got),
			}).Error())
		case want != "" && got != want:
			errs = append(errs, (&AssertionError{
				Txn: txn, Field: "error " + path, Expected: fmt.Sprintf("%q", want), Actual: orNone(got),
			}).Error())
		}
	}
	return errs
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// FormatErrors renders the failed expectations of r, one per line.
func FormatErrors(r *Result) string {
	return strings.Join(r.Errors, "\n")
}
