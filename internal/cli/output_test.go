package cli

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestGetExitCode verifies exit codes survive wrapping.
func TestGetExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"plain", errors.New("boom"), ExitFailure},
		{"exit error", NewExitError(ExitCommandError, "bad"), ExitCommandError},
		{"wrapped", fmt.Errorf("run: %w", NewExitError(ExitFailure, "failed")), ExitFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GetExitCode(tt.err))
		})
	}
}

// TestExitError_Message verifies the message and the wrapped cause.
func TestExitError_Message(t *testing.T) {
	cause := errors.New("disk full")
	err := WrapExitError(ExitCommandError, "failed to write", cause)
	assert.Equal(t, "failed to write: disk full", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "bad", NewExitError(ExitCommandError, "bad").Error())
}

// TestOutputFormatter_JSON verifies the response envelopes.
func TestOutputFormatter_JSON(t *testing.T) {
	var buf bytes.Buffer
	f := &OutputFormatter{Format: "json", Writer: &buf}

	require.NoError(t, f.Success(map[string]int{"n": 1}, nil))
	ok := decodeResponse[map[string]int](t, buf.String())
	assert.Equal(t, "ok", ok.Status)
	assert.Equal(t, 1, ok.Data["n"])
	assert.Nil(t, ok.Error)

	buf.Reset()
	require.NoError(t, f.Error(ErrCodeNotFound, "missing <dir>", nil))
	assert.Contains(t, buf.String(), "missing <dir>")
	failed := decodeResponse[any](t, buf.String())
	assert.Equal(t, "error", failed.Status)
	require.NotNil(t, failed.Error)
	assert.Equal(t, ErrCodeNotFound, failed.Error.Code)

	buf.Reset()
	require.NoError(t, f.Failure([]string{"x"}, ErrCodeGeneric, "not acceptable"))
	partial := decodeResponse[[]string](t, buf.String())
	assert.Equal(t, "error", partial.Status)
	assert.Equal(t, []string{"x"}, partial.Data)
	assert.Equal(t, "not acceptable", partial.Error.Message)
}

// TestOutputFormatter_Text verifies text output and verbose logging.
func TestOutputFormatter_Text(t *testing.T) {
	var out, errOut bytes.Buffer
	f := &OutputFormatter{Format: "text", Writer: &out, ErrWriter: &errOut}

	require.NoError(t, f.Success("ignored", func(w io.Writer) { fmt.Fprint(w, "custom\n") }))
	require.NoError(t, f.Success("plain", nil))
	require.NoError(t, f.Error(ErrCodeStore, "locked", "detail"))
	assert.Equal(t, "custom\nplain\nError [E008]: locked\n", out.String())

	f.VerboseLog("hidden %d", 1)
	assert.Empty(t, errOut.String())

	f.Verbose = true
	f.VerboseLog("shown %d", 2)
	assert.Equal(t, "shown 2\n", errOut.String())
}
