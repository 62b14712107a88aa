package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/yoyooyooo/logix-sub006/internal/engine"
	"github.com/yoyooyooo/logix-sub006/internal/ir"
)

// ConvergeOptions holds flags for the converge command.
type ConvergeOptions struct {
	*RootOptions
	TelemetryFlags

	StatePath            string
	Writes               []string // path=value
	MarkAll              string
	Mode                 string
	BudgetMs             float64
	DegradeOnConfigError bool

	// InstanceIDs and TxnIDs override id generation (for testing).
	InstanceIDs engine.IDGenerator
	TxnIDs      engine.IDGenerator
}

// ConvergeResult is the output of one converge run: the mount decision,
// then the transaction decision when writes were given.
type ConvergeResult struct {
	Module    string                `json:"module"`
	Decisions []ir.ConvergeDecision `json:"decisions"`
	Updates   []engine.FieldUpdate  `json:"updates,omitempty"`
	State     map[string]any        `json:"state"`
}

// NewConvergeCommand creates the converge command.
func NewConvergeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ConvergeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "converge <module-dir>",
		Short: "Mount state and run one transaction",
		Long: `Compile a module, mount an instance over the given state and commit
one transaction of writes. Prints every converge decision and the final state.

Write values are parsed as YAML, so numbers, booleans, lists and maps are
typed; anything else is a string.

Examples:
  logix converge ./modules/cart --state cart.json --write items[0].qty=3
  logix converge ./modules/cart --state cart.yaml --write a=2 --db ./logix.db
  logix converge ./modules/cart --mark-all manual --mode full --budget-ms -1`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConverge(cmd.Context(), opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.StatePath, "state", "", "initial state file (JSON or YAML)")
	cmd.Flags().StringArrayVarP(&opts.Writes, "write", "w", nil, "write path=value (repeatable)")
	cmd.Flags().StringVar(&opts.MarkAll, "mark-all", "", "force a full pass with this reason")
	cmd.Flags().StringVar(&opts.Mode, "mode", "", "requested mode (auto|full|dirty), overrides config")
	cmd.Flags().Float64Var(&opts.BudgetMs, "budget-ms", 0, "step budget in ms, -1 for unlimited, overrides config")
	cmd.Flags().BoolVar(&opts.DegradeOnConfigError, "degrade-on-config-error", false, "run a degraded module instead of failing on configuration errors")
	cmd.Flags().StringVar(&opts.Database, "db", "", "record builds and decisions in this SQLite database")
	cmd.Flags().StringVar(&opts.NATSURL, "nats", "", "publish builds and decisions to this NATS server")
	cmd.Flags().BoolVar(&opts.Metrics, "metrics", false, "record prometheus metrics (logged with --verbose)")

	return cmd
}

func runConverge(ctx context.Context, opts *ConvergeOptions, dir string, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	formatter := opts.formatter(cmd)
	logger := opts.Logger(cmd.ErrOrStderr())

	cfg, err := opts.Config()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}

	writes, err := parseWrites(opts.Writes)
	if err != nil {
		_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
		return WrapExitError(ExitCommandError, "invalid write", err)
	}
	state, err := readState(opts.StatePath)
	if err != nil {
		_ = formatter.Error(ErrCodeNotFound, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to read state", err)
	}

	build, err := LoadBuild(ctx, dir, logger)
	diags := Diagnose(build, err)
	if err != nil || (len(diags) > 0 && !opts.DegradeOnConfigError) {
		return outputDiagnostics(formatter, "build failed", diags)
	}

	sinks, err := openSinks(opts.TelemetryFlags.apply(cfg.Telemetry), build.Spec.Name, logger)
	if err != nil {
		_ = formatter.Error(ErrCodeStore, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to open telemetry", err)
	}
	defer sinks.Close()

	moduleOpts := append(cfg.EngineOptions(),
		engine.WithLogger(logger),
		engine.WithTrackBy(build.TrackBy),
		engine.WithPublisher(sinks),
	)
	if opts.InstanceIDs != nil && opts.TxnIDs != nil {
		moduleOpts = append(moduleOpts, engine.WithIDGenerator(opts.InstanceIDs, opts.TxnIDs))
	}
	if opts.DegradeOnConfigError {
		moduleOpts = append(moduleOpts, engine.WithDegradeOnConfigError())
	}
	callOpts, err := opts.callOptions(cmd, cfg.Engine.DecisionBudgetMs)
	if err != nil {
		_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
		return WrapExitError(ExitCommandError, "invalid flags", err)
	}

	m, err := engine.NewModule(build.Spec.Name, build.IR, build.Entries, moduleOpts...)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create module", err)
	}
	inst, err := m.NewInstance()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create instance", err)
	}

	draft := engine.NewMapDraft(state)
	result := ConvergeResult{Module: m.Name()}

	mounted := inst.Mount(ctx, draft, callOpts...)
	result.Decisions = append(result.Decisions, mounted.Decision)
	result.Updates = append(result.Updates, mounted.Updates...)

	if len(writes) > 0 || opts.MarkAll != "" {
		txn := inst.Begin(draft)
		for _, w := range writes {
			if err := txn.Set(w.path, w.value); err != nil {
				_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
				return WrapExitError(ExitCommandError, "write failed", err)
			}
		}
		if opts.MarkAll != "" {
			txn.MarkAll(opts.MarkAll)
		}
		res := txn.Commit(ctx, callOpts...)
		result.Decisions = append(result.Decisions, res.Decision)
		result.Updates = append(result.Updates, res.Updates...)
	}
	result.State = draft.State()
	sinks.logMetrics(ctx, logger)

	return formatter.Success(result, func(w io.Writer) { writeConvergeText(w, result) })
}

// callOptions turns --mode and --budget-ms into per-call overrides. Only
// flags given on the command line override the module options.
func (o *ConvergeOptions) callOptions(cmd *cobra.Command, decisionBudgetMs float64) ([]engine.CallOption, error) {
	var out []engine.CallOption
	if o.Mode != "" {
		mode := ir.ConvergeMode(o.Mode)
		switch mode {
		case ir.ModeAuto, ir.ModeFull, ir.ModeDirty:
		default:
			return nil, fmt.Errorf("invalid mode %q: must be auto, full or dirty", o.Mode)
		}
		out = append(out, engine.CallMode(mode))
	}
	if cmd.Flags().Changed("budget-ms") {
		if o.BudgetMs < -1 {
			return nil, fmt.Errorf("invalid budget %v: must be >= -1", o.BudgetMs)
		}
		out = append(out, engine.CallBudget(msDuration(o.BudgetMs), msDuration(decisionBudgetMs)))
	}
	return out, nil
}

func msDuration(ms float64) time.Duration {
	if ms < 0 {
		return engine.Unlimited
	}
	return time.Duration(ms * float64(time.Millisecond))
}

type write struct {
	path  string
	value any
}

// parseWrites parses path=value pairs. Values are YAML scalars or flow
// collections.
func parseWrites(raw []string) ([]write, error) {
	out := make([]write, 0, len(raw))
	for _, r := range raw {
		path, val, ok := strings.Cut(r, "=")
		if !ok || path == "" {
			return nil, fmt.Errorf("write %q: expected path=value", r)
		}
		var v any
		if err := yaml.Unmarshal([]byte(val), &v); err != nil {
			v = val
		}
		out = append(out, write{path: path, value: v})
	}
	return out, nil
}

// readState reads a JSON or YAML state document. No path means empty state.
func readState(path string) (map[string]any, error) {
	if path == "" {
		return map[string]any{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	state := map[string]any{}
	if err := yaml.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parse state %s: %w", path, err)
	}
	return state, nil
}

func writeConvergeText(w io.Writer, r ConvergeResult) {
	for _, d := range r.Decisions {
		mark := "✓"
		if d.Outcome == ir.OutcomeDegraded {
			mark = "!"
		}
		fmt.Fprintf(w, "%s %s %s (%s", mark, d.TxnID, d.Outcome, d.ExecutedMode)
		if d.Reason != "" {
			fmt.Fprintf(w, ", %s", d.Reason)
		}
		if d.DirtyAllReason != "" {
			fmt.Fprintf(w, ", dirty-all %s", d.DirtyAllReason)
		}
		fmt.Fprintf(w, ") executed %d/%d changed %d",
			d.StepStats.Executed, d.StepStats.Total, d.StepStats.Changed)
		if d.StepStats.Deferred > 0 {
			fmt.Fprintf(w, " deferred %d", d.StepStats.Deferred)
		}
		fmt.Fprintln(w)
	}

	out, err := yaml.Marshal(r.State)
	if err != nil {
		fmt.Fprintf(w, "state: %v\n", err)
		return
	}
	fmt.Fprintln(w)
	fmt.Fprint(w, string(out))
}
