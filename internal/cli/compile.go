package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/yoyooyooo/logix-sub006/internal/compiler"
	"github.com/yoyooyooo/logix-sub006/internal/ir"
	"github.com/yoyooyooo/logix-sub006/internal/store"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	Output string // IR output file path
}

// CompileResult is the summary of a successful compile.
type CompileResult struct {
	Module     string              `json:"module"`
	Generation int64               `json:"generation"`
	Digests    store.Digests       `json:"digests"`
	Summary    ir.BuildSummary     `json:"summary"`
	FieldPaths []string            `json:"field_paths"`
	Plan       []compiler.PlanStep `json:"plan"`
	Output     string              `json:"output,omitempty"`
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile <module-dir>",
		Short: "Compile trait declarations to the converge IR",
		Long: `Compile the CUE module in a directory to the converge IR.

The module is normalized, its dependency graph checked for link cycles and
multiple writers, and its steps ordered topologically. Configuration errors
fail the command with exit code 2.

Examples:
  logix compile ./modules/cart
  logix compile ./modules/cart -o cart.ir.json
  logix compile ./modules/cart --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(cmd.Context(), opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "write the IR as JSON to this file")

	return cmd
}

func runCompile(ctx context.Context, opts *CompileOptions, dir string, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	formatter := opts.formatter(cmd)
	logger := opts.Logger(cmd.ErrOrStderr())

	build, err := LoadBuild(ctx, dir, logger)
	if diags := Diagnose(build, err); len(diags) > 0 {
		return outputDiagnostics(formatter, "compilation failed", diags)
	}

	formatter.VerboseLog("Compiled %d step(s) over %d field path(s)",
		build.IR.Summary.StepCount, build.IR.Summary.FieldPathCount)

	if opts.Output != "" {
		if err := writeIRToFile(build.IR, opts.Output); err != nil {
			_ = formatter.Error(ErrCodeWriteFailed, err.Error(), nil)
			return WrapExitError(ExitCommandError, "failed to write IR", err)
		}
	}

	result := CompileResult{
		Module:     build.Spec.Name,
		Generation: build.IR.Generation,
		Digests: store.Digests{
			WritersKey:    build.IR.WritersKey,
			DepsKey:       build.IR.DepsKey,
			FieldPathsKey: build.IR.FieldPathsKey,
		},
		Summary:    build.IR.Summary,
		FieldPaths: build.IR.FieldPaths,
		Plan:       build.Graph.Plan,
		Output:     opts.Output,
	}
	return formatter.Success(result, func(w io.Writer) { writeCompileText(w, result) })
}

func writeCompileText(w io.Writer, r CompileResult) {
	fmt.Fprintf(w, "✓ Compiled %s: %d step(s), %d field path(s)\n\n",
		r.Module, r.Summary.StepCount, r.Summary.FieldPathCount)

	if len(r.Plan) > 0 {
		fmt.Fprintln(w, "Steps:")
		for _, s := range r.Plan {
			sched := ""
			if s.Scheduling != "" && s.Scheduling != ir.SchedulingImmediate {
				sched = " (" + string(s.Scheduling) + ")"
			}
			fmt.Fprintf(w, "  %-8s %s ← %v%s\n", s.Kind, s.Path, s.Deps, sched)
		}
		fmt.Fprintln(w)
	}
	if r.Summary.DroppedDeps > 0 {
		fmt.Fprintf(w, "Dropped %d unresolved dep(s)\n", r.Summary.DroppedDeps)
	}
	fmt.Fprintf(w, "writers %s\n", short(r.Digests.WritersKey))
	fmt.Fprintf(w, "deps    %s\n", short(r.Digests.DepsKey))
	if r.Output != "" {
		fmt.Fprintf(w, "Wrote IR to %s\n", r.Output)
	}
}

func short(key string) string {
	if len(key) > 12 {
		return key[:12]
	}
	return key
}

// outputDiagnostics reports build problems. They are always command errors.
func outputDiagnostics(f *OutputFormatter, summary string, diags []Diagnostic) error {
	if f.JSON() {
		if err := f.Failure(diags, diags[0].Code, diags[0].Message); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(f.Writer, "✗ %s\n\n", summary)
		for _, d := range diags {
			fmt.Fprintf(f.Writer, "  %s\n", d)
			if len(d.Paths) > 0 {
				fmt.Fprintf(f.Writer, "    paths: %v\n", d.Paths)
			}
		}
	}
	return NewExitError(ExitCommandError, fmt.Sprintf("%s with %d error(s)", summary, len(diags)))
}

// writeIRToFile writes the IR as indented JSON.
func writeIRToFile(static *ir.ConvergeStaticIr, filename string) error {
	data, err := json.MarshalIndent(static, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling IR: %w", err)
	}
	if err := os.WriteFile(filename, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("writing file: %w", err)
	}
	return nil
}
