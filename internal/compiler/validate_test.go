package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestValidationError_Format tests the message with and without a line.
func TestValidationError_Format(t *testing.T) {
	e := ValidationError{Field: "b.computed.derive", Message: "computed requires a derive function", Code: ErrMissingDerive}
	assert.Equal(t, "[E210] b.computed.derive: computed requires a derive function", e.Error())

	e.Line = 4
	assert.Equal(t, "[E210] line 4: b.computed.derive: computed requires a derive function", e.Error())
}

// TestValidationErrors_JoinAndCodes tests the collected form.
func TestValidationErrors_JoinAndCodes(t *testing.T) {
	errs := ValidationErrors{
		{Field: "b", Message: "x", Code: ErrMissingLinkFrom},
		{Field: "a", Message: "y", Code: ErrInvalidFieldPath},
		{Field: "c", Message: "z", Code: ErrMissingLinkFrom},
	}
	assert.Equal(t, "[E211] b: x; [E201] a: y; [E211] c: z", errs.Error())
	assert.Equal(t, []string{ErrInvalidFieldPath, ErrMissingLinkFrom}, errs.Codes())
}

// TestValidateSource tests resource, trigger and concurrency checks.
func TestValidateSource(t *testing.T) {
	assert.Empty(t, validateSource("s", Source{Resource: "users"}))
	assert.Empty(t, validateSource("s", Source{Resource: "users", Trigger: "manual", Concurrency: "queue"}))

	errs := validateSource("s", Source{Trigger: "often", Concurrency: "parallel"})
	codes := ValidationErrors(errs).Codes()
	assert.Equal(t, []string{ErrMissingResource, ErrInvalidTrigger, ErrInvalidConcurrency}, codes)
}

// TestValidateTrackBy tests plain element field names.
func TestValidateTrackBy(t *testing.T) {
	assert.Empty(t, validateTrackBy("items", ""))
	assert.Empty(t, validateTrackBy("items", "id"))
	assert.Len(t, validateTrackBy("items", "meta.id"), 1)
	assert.Len(t, validateTrackBy("items", "rows[]"), 1)
}
