package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid    bool         `json:"valid"`
	Module   string       `json:"module,omitempty"`
	Errors   []Diagnostic `json:"errors,omitempty"`
	Warnings []string     `json:"warnings,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <module-dir>",
		Short: "Check trait declarations without writing IR",
		Long: `Validate the CUE module in a directory.

Reports malformed declarations, unknown functions, missing deps, link
cycles, multiple writers and writer cycles. Exits 2 when anything is wrong.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd.Context(), rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(ctx context.Context, opts *RootOptions, dir string, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	formatter := opts.formatter(cmd)

	build, err := LoadBuild(ctx, dir, opts.Logger(cmd.ErrOrStderr()))
	if diags := Diagnose(build, err); len(diags) > 0 {
		return outputDiagnostics(formatter, "validation failed", diags)
	}

	result := ValidationResult{Valid: true, Module: build.Spec.Name}
	if n := build.IR.Summary.DroppedDeps; n > 0 {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("%d dep(s) name paths outside the state schema and were dropped", n))
	}

	return formatter.Success(result, func(w io.Writer) {
		fmt.Fprintf(w, "✓ %s is valid\n", result.Module)
		for _, warn := range result.Warnings {
			fmt.Fprintf(w, "  warning: %s\n", warn)
		}
	})
}
