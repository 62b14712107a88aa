package harness

import "github.com/yoyooyooo/logix-sub006/internal/ir"

// Step is the record of one scenario transaction.
type Step struct {
	Name     string              `json:"name"`
	Decision ir.ConvergeDecision `json:"decision"`

	// State is the state right after the transaction, errors tree included.
	State map[string]any `json:"state"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if all expectations match.
	Pass bool `json:"pass"`

	// Steps holds one entry per transaction, in order.
	Steps []Step `json:"steps"`

	// Errors contains failed expectations.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Build is the summary of the compiled IR.
	Build ir.BuildSummary `json:"build"`
}

// NewResult creates a new passing result.
// Used as the starting point for test execution.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Steps:  []Step{},
		Errors: []string{},
	}
}

// AddError adds a failed expectation and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
