package compiler

import (
	"fmt"
	"slices"
	"strings"

	"github.com/yoyooyooo/logix-sub006/internal/ir"
)

// Declaration validation error codes (E200-E299)
const (
	// Paths and scopes (E200-E209)
	ErrInvalidFieldPath = "E201" // key, dep, from or writeback does not parse
	ErrRootNotAllowed   = "E202" // trait kind cannot target $root
	ErrEmptyDecl        = "E203" // declaration carries nothing

	// Writers and sources (E210-E219)
	ErrMissingDerive      = "E210" // computed without a derive function
	ErrMissingLinkFrom    = "E211" // link without from
	ErrInvalidScheduling  = "E212" // unknown scheduling class
	ErrMissingResource    = "E213" // source without resource id
	ErrInvalidTrigger     = "E214" // unknown source trigger
	ErrInvalidConcurrency = "E215" // unknown source concurrency

	// Checks and lists (E220-E229)
	ErrMissingValidate = "E220" // check rule without validate function
	ErrDuplicateRule   = "E221" // same rule name twice in one scope
	ErrInvalidTrackBy  = "E222" // trackBy is not a plain field name

	// Function resolution (E230)
	ErrUnknownFunction = "E230" // derive/validate/key name not registered
)

// ValidationError describes one problem in a declaration tree.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("[%s] line %d: %s: %s", e.Code, e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// ValidationErrors collects every problem found; validation never fails fast.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (errs ValidationErrors) Error() string {
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Error()
	}
	return strings.Join(msgs, "; ")
}

// Codes returns the distinct error codes, sorted.
func (errs ValidationErrors) Codes() []string {
	codes := make([]string, 0, len(errs))
	for _, e := range errs {
		codes = append(codes, e.Code)
	}
	slices.Sort(codes)
	return slices.Compact(codes)
}

func validateScheduling(field string, s ir.Scheduling) []ValidationError {
	if err := s.Validate(); err != nil {
		return []ValidationError{{Field: field + ".scheduling", Message: err.Error(), Code: ErrInvalidScheduling}}
	}
	return nil
}

func validateSource(field string, s Source) []ValidationError {
	var errs []ValidationError
	if strings.TrimSpace(s.Resource) == "" {
		errs = append(errs, ValidationError{
			Field:   field + ".resource",
			Message: "source requires a resource id",
			Code:    ErrMissingResource,
		})
	}
	switch s.Trigger {
	case "", ir.TriggerOnMount, ir.TriggerOnKeyChange, ir.TriggerManual:
	default:
		errs = append(errs, ValidationError{
			Field:   field + ".trigger",
			Message: fmt.Sprintf("invalid trigger %q, must be \"mount\", \"key-change\", or \"manual\"", s.Trigger),
			Code:    ErrInvalidTrigger,
		})
	}
	switch s.Concurrency {
	case "", ir.ConcurrencySwitch, ir.ConcurrencyExhaust, ir.ConcurrencyQueue:
	default:
		errs = append(errs, ValidationError{
			Field:   field + ".concurrency",
			Message: fmt.Sprintf("invalid concurrency %q, must be \"switch\", \"exhaust\", or \"queue\"", s.Concurrency),
			Code:    ErrInvalidConcurrency,
		})
	}
	return errs
}

func validateTrackBy(field, trackBy string) []ValidationError {
	if trackBy == "" {
		return nil
	}
	if strings.ContainsAny(trackBy, ".[] ") {
		return []ValidationError{{
			Field:   field + ".trackBy",
			Message: fmt.Sprintf("trackBy %q must be a plain element field name", trackBy),
			Code:    ErrInvalidTrackBy,
		}}
	}
	return nil
}
