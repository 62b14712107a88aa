package ir

// ConvergeMode selects how a transaction is converged.
type ConvergeMode string

const (
	ModeAuto     ConvergeMode = "auto"
	ModeFull     ConvergeMode = "full"
	ModeDirty    ConvergeMode = "dirty"
	ModeDeferred ConvergeMode = "deferred"
)

// Outcome classifies a converge invocation.
type Outcome string

const (
	OutcomeConverged Outcome = "Converged"
	OutcomeNoop      Outcome = "Noop"
	OutcomeDegraded  Outcome = "Degraded"
)

// DegradedReason explains a Degraded outcome.
type DegradedReason string

const (
	ReasonBudgetExceeded DegradedReason = "budget_exceeded"
	ReasonRuntimeError   DegradedReason = "runtime_error"
	ReasonConfigError    DegradedReason = "config_error"
)

// StepStats counts steps for one invocation. Total is the number of steps
// in the IR; Executed + Skipped + Deferred never exceeds it.
type StepStats struct {
	Total    int `json:"total"`
	Executed int `json:"executed"`
	Skipped  int `json:"skipped"`
	Changed  int `json:"changed"`
	Deferred int `json:"deferred"`
	Errored  int `json:"errored"`
}

// RowStats counts per-row evaluations of list-scoped steps.
type RowStats struct {
	Executed int `json:"executed"`
	Skipped  int `json:"skipped"`
}

// BudgetStats reports wall-clock budgets and usage in milliseconds.
type BudgetStats struct {
	BudgetMs               float64 `json:"budget_ms"`
	DecisionBudgetMs       float64 `json:"decision_budget_ms"`
	ElapsedMs              float64 `json:"elapsed_ms"`
	DecisionMs             float64 `json:"decision_ms"`
	DecisionBudgetExceeded bool    `json:"decision_budget_exceeded,omitempty"`
}

// CacheStats is the plan cache's state as seen by one invocation.
type CacheStats struct {
	Capacity      int    `json:"capacity"`
	Size          int    `json:"size"`
	Hits          int64  `json:"hits"`
	Misses        int64  `json:"misses"`
	Evictions     int64  `json:"evictions"`
	Lookup        bool   `json:"lookup"`
	Hit           bool   `json:"hit"`
	Disabled      bool   `json:"disabled"`
	DisableReason string `json:"disable_reason,omitempty"`
}

// StepTiming is one entry of the slowest-steps list.
type StepTiming struct {
	StepID     int     `json:"step_id"`
	FieldPath  string  `json:"field_path"`
	DurationMs float64 `json:"duration_ms"`
}

// StepFailure records a derivation that raised an error.
type StepFailure struct {
	StepID    int    `json:"step_id"`
	FieldPath string `json:"field_path"`
	Message   string `json:"message"`
}

// SourceKeyChange tells the resource layer that a source field's key moved.
type SourceKeyChange struct {
	FieldPath string `json:"field_path"`
	Resource  string `json:"resource"`
	PrevKey   any    `json:"prev_key,omitempty"`
	Key       any    `json:"key"`
}

// CheckWrite records one write into the errors tree.
type CheckWrite struct {
	Path    string `json:"path"`
	Rule    string `json:"rule"`
	Message string `json:"message,omitempty"`
}

// ConvergeDecision is the per-invocation evidence record. Telemetry never
// needs to re-walk steps to reconstruct these numbers.
type ConvergeDecision struct {
	TxnID          string         `json:"txn_id"`
	InstanceID     string         `json:"instance_id,omitempty"`
	Generation     int64          `json:"generation"`
	RequestedMode  ConvergeMode   `json:"requested_mode"`
	ExecutedMode   ConvergeMode   `json:"executed_mode"`
	Outcome        Outcome        `json:"outcome"`
	Reason         DegradedReason `json:"reason,omitempty"`
	DirtyAllReason string         `json:"dirty_all_reason,omitempty"`

	StepStats StepStats   `json:"step_stats"`
	RowStats  RowStats    `json:"row_stats"`
	Budget    BudgetStats `json:"budget"`
	Cache     CacheStats  `json:"cache"`

	TopSteps []StepTiming  `json:"top_steps"`
	Errors   []StepFailure `json:"errors,omitempty"`

	// CarryOver lists ids that stay dirty into the next invocation.
	CarryOver        []FieldPathID     `json:"carry_over,omitempty"`
	SourceKeyChanges []SourceKeyChange `json:"source_key_changes,omitempty"`
	CheckWrites      []CheckWrite      `json:"check_writes,omitempty"`
}
