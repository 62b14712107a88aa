package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRootCommand_Use verifies the root command identity.
func TestRootCommand_Use(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "logix", cmd.Use)
}

// TestRootCommand_Subcommands verifies every subcommand is registered.
func TestRootCommand_Subcommands(t *testing.T) {
	cmd := NewRootCommand()
	for _, name := range []string{"compile", "validate", "converge", "test", "trace", "watch", "inspect"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}
}

// TestRootCommand_GlobalFlags verifies the persistent flags and defaults.
func TestRootCommand_GlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verbose := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verbose)
	assert.Equal(t, "v", verbose.Shorthand)
	assert.Equal(t, "false", verbose.DefValue)

	format := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, format)
	assert.Equal(t, "text", format.DefValue)

	require.NotNil(t, cmd.PersistentFlags().Lookup("config"))
}

// TestRootCommand_InvalidFormat verifies an unknown format is a command error.
func TestRootCommand_InvalidFormat(t *testing.T) {
	_, err := execute(t, "validate", module("doubling"), "--format", "xml")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "invalid format")
}

// TestRootCommand_ConfigFile verifies --config is loaded and validated.
func TestRootCommand_ConfigFile(t *testing.T) {
	dir := t.TempDir()

	good := filepath.Join(dir, "good.yaml")
	require.NoError(t, os.WriteFile(good, []byte("engine:\n  mode: full\n"), 0644))
	_, err := execute(t, "validate", module("doubling"), "--config", good)
	require.NoError(t, err)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("engine:\n  mode: sideways\n"), 0644))
	_, err = execute(t, "validate", module("doubling"), "--config", bad)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "engine.mode")
}

// TestRootOptions_ConfigDefaults verifies defaults without --config.
func TestRootOptions_ConfigDefaults(t *testing.T) {
	opts := &RootOptions{}
	cfg, err := opts.Config()
	require.NoError(t, err)
	assert.Equal(t, "auto", cfg.Engine.Mode)

	again, err := opts.Config()
	require.NoError(t, err)
	assert.Same(t, cfg, again)
}
