package engine

import (
	"errors"
	"fmt"
)

// RuntimeError represents a problem detected while converging a transaction.
//
// Runtime errors are never returned to the dispatcher. They are recorded in
// the decision (Errors, Reason) and logged; the caller can still inspect them
// through Result.Err.
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// StepID is the failing step, or -1 when no single step is at fault.
	StepID int

	// FieldPath is the concrete output path of the failing step, if any.
	FieldPath string
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeBudgetExceeded indicates the wall-clock budget cut the run short.
	ErrCodeBudgetExceeded RuntimeErrorCode = "budget_exceeded"

	// ErrCodeRuntimeError indicates a derivation returned an error or panicked.
	ErrCodeRuntimeError RuntimeErrorCode = "runtime_error"

	// ErrCodeDecisionBudgetExceeded indicates mode selection ran out of time
	// and the call fell back to full.
	ErrCodeDecisionBudgetExceeded RuntimeErrorCode = "decision_budget_exceeded"

	// ErrCodeConfigError indicates the IR carries a configuration error.
	ErrCodeConfigError RuntimeErrorCode = "config_error"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	if e.FieldPath != "" {
		return fmt.Sprintf("%s: %s (step=%d, path=%s)", e.Code, e.Message, e.StepID, e.FieldPath)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsBudgetError returns true if the error is a budget or decision budget error.
// Uses errors.As to handle wrapped errors.
func IsBudgetError(err error) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == ErrCodeBudgetExceeded || re.Code == ErrCodeDecisionBudgetExceeded
	}
	return false
}

// IsStepError returns true if the error is a failed derivation.
func IsStepError(err error) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == ErrCodeRuntimeError
	}
	return false
}

func newStepError(stepID int, path string, cause any) *RuntimeError {
	return &RuntimeError{
		Code:      ErrCodeRuntimeError,
		Message:   fmt.Sprint(cause),
		StepID:    stepID,
		FieldPath: path,
	}
}

func newBudgetError(executed, remaining int) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeBudgetExceeded,
		Message: fmt.Sprintf("budget exhausted after %d steps, %d left", executed, remaining),
		StepID:  -1,
	}
}
