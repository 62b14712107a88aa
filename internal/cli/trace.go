package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/yoyooyooo/logix-sub006/internal/ir"
	"github.com/yoyooyooo/logix-sub006/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	Module   string
	Instance string
	Outcome  string
	TxnID    string
	Limit    int
	Stats    bool
}

// TraceResult holds the trace output.
type TraceResult struct {
	Decisions []store.DecisionRecord `json:"decisions,omitempty"`
	Stats     []store.OutcomeCount   `json:"stats,omitempty"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Query recorded converge decisions",
		Long: `Query the decision log written by converge --db or watch --db.

Lists decisions oldest first, optionally filtered by module, instance and
outcome. --txn prints one decision in full; --stats counts decisions by
outcome and degraded reason.

Examples:
  logix trace --db ./logix.db
  logix trace --db ./logix.db --instance 0190... --outcome Degraded
  logix trace --db ./logix.db --txn 0190... --format json
  logix trace --db ./logix.db --stats`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(cmd.Context(), opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Module, "module", "", "filter by module")
	cmd.Flags().StringVar(&opts.Instance, "instance", "", "filter by instance id")
	cmd.Flags().StringVar(&opts.Outcome, "outcome", "", "filter by outcome (Converged|Noop|Degraded)")
	cmd.Flags().StringVar(&opts.TxnID, "txn", "", "show one transaction's decision")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "show only the most recent N decisions")
	cmd.Flags().BoolVar(&opts.Stats, "stats", false, "count decisions by outcome and reason")

	return cmd
}

func runTrace(ctx context.Context, opts *TraceOptions, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	formatter := opts.formatter(cmd)

	// store.Open creates missing files; trace only reads existing logs.
	if _, err := os.Stat(opts.Database); err != nil {
		_ = formatter.Error(ErrCodeNotFound, fmt.Sprintf("database not found: %s", opts.Database), nil)
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	st, err := store.Open(opts.Database)
	if err != nil {
		_ = formatter.Error(ErrCodeStore, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	if opts.TxnID != "" {
		rec, err := st.ReadDecision(ctx, opts.TxnID)
		if errors.Is(err, store.ErrNotFound) {
			_ = formatter.Error(ErrCodeNotFound, fmt.Sprintf("no decision for transaction %s", opts.TxnID), nil)
			return WrapExitError(ExitCommandError, "transaction not found", err)
		}
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read decision", err)
		}
		return formatter.Success(TraceResult{Decisions: []store.DecisionRecord{rec}},
			func(w io.Writer) { writeDecisionDetail(w, rec) })
	}

	filter := store.DecisionFilter{
		Module:     opts.Module,
		InstanceID: opts.Instance,
		Outcome:    ir.Outcome(opts.Outcome),
		Limit:      opts.Limit,
	}
	switch filter.Outcome {
	case "", ir.OutcomeConverged, ir.OutcomeNoop, ir.OutcomeDegraded:
	default:
		_ = formatter.Error(ErrCodeGeneric, fmt.Sprintf("unknown outcome %q", opts.Outcome), nil)
		return NewExitError(ExitCommandError, "invalid outcome")
	}

	if opts.Stats {
		counts, err := st.DecisionStats(ctx, filter)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read stats", err)
		}
		return formatter.Success(TraceResult{Stats: counts}, func(w io.Writer) { writeStatsText(w, counts) })
	}

	records, err := st.ReadDecisions(ctx, filter)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read decisions", err)
	}
	return formatter.Success(TraceResult{Decisions: records}, func(w io.Writer) { writeTraceText(w, records) })
}

func writeTraceText(w io.Writer, records []store.DecisionRecord) {
	if len(records) == 0 {
		fmt.Fprintln(w, "No decisions found.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tTXN\tMODULE\tGEN\tMODE\tOUTCOME\tSTEPS\tELAPSED")
	for _, r := range records {
		d := r.Decision
		outcome := string(d.Outcome)
		if d.Reason != "" {
			outcome += "/" + string(d.Reason)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\t%s\t%d/%d\t%.2fms\n",
			r.Seq, d.TxnID, r.Module, d.Generation, d.ExecutedMode, outcome,
			d.StepStats.Executed, d.StepStats.Total, d.Budget.ElapsedMs)
	}
	tw.Flush()
}

func writeDecisionDetail(w io.Writer, r store.DecisionRecord) {
	d := r.Decision
	fmt.Fprintf(w, "Transaction %s (seq %d, module %s)\n", d.TxnID, r.Seq, r.Module)
	fmt.Fprintf(w, "  instance   %s, generation %d\n", d.InstanceID, d.Generation)
	fmt.Fprintf(w, "  mode       requested %s, executed %s\n", d.RequestedMode, d.ExecutedMode)
	fmt.Fprintf(w, "  outcome    %s", d.Outcome)
	if d.Reason != "" {
		fmt.Fprintf(w, " (%s)", d.Reason)
	}
	fmt.Fprintln(w)
	if d.DirtyAllReason != "" {
		fmt.Fprintf(w, "  dirty-all  %s\n", d.DirtyAllReason)
	}
	s := d.StepStats
	fmt.Fprintf(w, "  steps      total %d, executed %d, skipped %d, changed %d, deferred %d, errored %d\n",
		s.Total, s.Executed, s.Skipped, s.Changed, s.Deferred, s.Errored)
	fmt.Fprintf(w, "  budget     %.2fms of %.2fms\n", d.Budget.ElapsedMs, d.Budget.BudgetMs)
	if len(d.TopSteps) > 0 {
		fmt.Fprintln(w, "  top steps:")
		for _, t := range d.TopSteps {
			fmt.Fprintf(w, "    #%d %s %.3fms\n", t.StepID, t.FieldPath, t.DurationMs)
		}
	}
	for _, e := range d.Errors {
		fmt.Fprintf(w, "  error: #%d %s: %s\n", e.StepID, e.FieldPath, e.Message)
	}
}

func writeStatsText(w io.Writer, counts []store.OutcomeCount) {
	if len(counts) == 0 {
		fmt.Fprintln(w, "No decisions found.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "OUTCOME\tREASON\tCOUNT")
	for _, c := range counts {
		reason := string(c.Reason)
		if reason == "" {
			reason = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\n", c.Outcome, reason, c.Count)
	}
	tw.Flush()
}
