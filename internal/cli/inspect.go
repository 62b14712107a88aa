package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/yoyooyooo/logix-sub006/internal/devtools"
	"github.com/yoyooyooo/logix-sub006/internal/store"
)

// NewInspectCommand creates the inspect command.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	var database string

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Serve the decision log to MCP clients over stdio",
		Long: `Start a read-only MCP server over stdin/stdout exposing recorded IR
builds and converge decisions.

Tools: builds, decisions, decision, decision_stats.

Example MCP client configuration:
  {"command": "logix", "args": ["inspect", "--db", "./logix.db"]}`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(database); err != nil {
				return WrapExitError(ExitCommandError, fmt.Sprintf("database not found: %s", database), err)
			}
			st, err := store.Open(database)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to open database", err)
			}
			defer st.Close()

			if err := devtools.Serve(st, Version); err != nil {
				return WrapExitError(ExitFailure, "mcp server stopped", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}
