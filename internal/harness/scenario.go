package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/yoyooyooo/logix-sub006/internal/ir"
)

// Scenario defines a converge scenario: a declaration set, an initial state
// and a sequence of transactions with expectations on each decision.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Spec is a directory holding a CUE package with the declarations.
	// Relative paths resolve against the scenario file location.
	Spec string `yaml:"spec,omitempty"`

	// CUE is an inline declaration document, used when Spec is empty.
	CUE string `yaml:"cue,omitempty"`

	// State is the initial state of the instance.
	State map[string]any `yaml:"state"`

	// Options configure the module.
	Options Options `yaml:"options,omitempty"`

	// Transactions run in order against one instance.
	Transactions []Transaction `yaml:"transactions"`

	// Final lists expected values of the state after the last transaction.
	Final map[string]any `yaml:"final,omitempty"`
}

// Options configure the module a scenario runs against. Budgets default to
// unlimited so scenarios only cut off when they ask for it.
type Options struct {
	Mode             ir.ConvergeMode `yaml:"mode,omitempty"`
	BudgetMs         *float64        `yaml:"budget_ms,omitempty"`
	DecisionBudgetMs *float64        `yaml:"decision_budget_ms,omitempty"`
	DebounceMs       *int            `yaml:"debounce_ms,omitempty"`
	MaxLagMs         *int            `yaml:"max_lag_ms,omitempty"`

	// DegradeOnConfigError runs an errored IR instead of failing the scenario.
	DegradeOnConfigError bool `yaml:"degrade_on_config_error,omitempty"`
}

// Transaction is one committed batch of writes, or a deferred tick.
type Transaction struct {
	Name string `yaml:"name"`

	// Writes are applied in order before the commit.
	Writes []Write `yaml:"writes,omitempty"`

	// MarkAll forces a full pass with the given dirty-all reason.
	MarkAll string `yaml:"mark_all,omitempty"`

	// Tick runs due deferred steps instead of committing writes.
	Tick bool `yaml:"tick,omitempty"`

	// AdvanceMs moves the clock forward before the transaction runs.
	AdvanceMs int `yaml:"advance_ms,omitempty"`

	Mode     ir.ConvergeMode `yaml:"mode,omitempty"`
	BudgetMs *float64        `yaml:"budget_ms,omitempty"`

	Expect *Expect `yaml:"expect,omitempty"`
}

// Write sets Value at a concrete path such as "items[0].qty".
type Write struct {
	Path  string `yaml:"path"`
	Value any    `yaml:"value"`
}

// Expect lists expectations on one decision. Unset fields are not checked.
type Expect struct {
	Outcome      ir.Outcome        `yaml:"outcome,omitempty"`
	Reason       ir.DegradedReason `yaml:"reason,omitempty"`
	ExecutedMode ir.ConvergeMode   `yaml:"executed_mode,omitempty"`

	Executed *int `yaml:"executed,omitempty"`
	Skipped  *int `yaml:"skipped,omitempty"`
	Changed  *int `yaml:"changed,omitempty"`
	Deferred *int `yaml:"deferred,omitempty"`

	RowsExecuted *int `yaml:"rows_executed,omitempty"`
	RowsSkipped  *int `yaml:"rows_skipped,omitempty"`

	// Values are expected state values after the transaction.
	Values map[string]any `yaml:"values,omitempty"`

	// Errors are expected check messages; an empty message expects none.
	Errors map[string]string `yaml:"errors,omitempty"`
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
// A relative Spec resolves against the directory of path.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	s, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}

	if s.Spec != "" && !filepath.IsAbs(s.Spec) {
		s.Spec = filepath.Join(filepath.Dir(path), s.Spec)
	}
	if s.Spec != "" {
		if _, err := os.Stat(s.Spec); os.IsNotExist(err) {
			return nil, fmt.Errorf("invalid scenario: spec directory not found: %s", s.Spec)
		}
	}
	return s, nil
}

// ParseScenario parses scenario YAML with strict field checking and
// validates it. Spec paths are left as written.
func ParseScenario(data []byte) (*Scenario, error) {
	var s Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&s); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &s, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if (s.Spec == "") == (s.CUE == "") {
		return fmt.Errorf("exactly one of spec and cue is required")
	}
	if len(s.Transactions) == 0 {
		return fmt.Errorf("transactions list is required and must be non-empty")
	}
	if err := validateMode(s.Options.Mode, false); err != nil {
		return fmt.Errorf("options: %w", err)
	}

	for i, txn := range s.Transactions {
		if txn.Name == "" {
			return fmt.Errorf("transactions[%d]: name is required", i)
		}
		if txn.Tick && (len(txn.Writes) > 0 || txn.MarkAll != "") {
			return fmt.Errorf("transactions[%d]: tick cannot carry writes", i)
		}
		if !txn.Tick && len(txn.Writes) == 0 && txn.MarkAll == "" {
			return fmt.Errorf("transactions[%d]: writes, mark_all or tick is required", i)
		}
		for j, w := range txn.Writes {
			if w.Path == "" {
				return fmt.Errorf("transactions[%d].writes[%d]: path is required", i, j)
			}
		}
		if txn.AdvanceMs < 0 {
			return fmt.Errorf("transactions[%d]: advance_ms must be non-negative", i)
		}
		if err := validateMode(txn.Mode, false); err != nil {
			return fmt.Errorf("transactions[%d]: %w", i, err)
		}
		if txn.Expect != nil {
			if err := validateExpect(txn.Expect); err != nil {
				return fmt.Errorf("transactions[%d].expect: %w", i, err)
			}
		}
	}
	return nil
}

func validateMode(mode ir.ConvergeMode, allowDeferred bool) error {
	switch mode {
	case "", ir.ModeAuto, ir.ModeFull, ir.ModeDirty:
		return nil
	case ir.ModeDeferred:
		if allowDeferred {
			return nil
		}
	}
	return fmt.Errorf("unknown mode %q", mode)
}

func validateExpect(e *Expect) error {
	switch e.Outcome {
	case "", ir.OutcomeConverged, ir.OutcomeNoop, ir.OutcomeDegraded:
	default:
		return fmt.Errorf("unknown outcome %q", e.Outcome)
	}
	switch e.Reason {
	case "", ir.ReasonBudgetExceeded, ir.ReasonRuntimeError, ir.ReasonConfigError:
	default:
		return fmt.Errorf("unknown reason %q", e.Reason)
	}
	if e.Reason != "" && e.Outcome != "" && e.Outcome != ir.OutcomeDegraded {
		return fmt.Errorf("reason %q requires outcome %s", e.Reason, ir.OutcomeDegraded)
	}
	return validateMode(e.ExecutedMode, true)
}
