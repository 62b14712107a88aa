package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/yoyooyooo/logix-sub006/internal/engine"
	"github.com/yoyooyooo/logix-sub006/internal/ir"
)

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	*RootOptions
	TelemetryFlags

	StatePath            string
	Debounce             time.Duration
	DegradeOnConfigError bool
}

// ReloadEvent reports one recompile.
type ReloadEvent struct {
	Module     string               `json:"module"`
	Bumped     bool                 `json:"bumped"`
	Generation int64                `json:"generation"`
	Steps      int                  `json:"steps"`
	Errors     []Diagnostic         `json:"errors,omitempty"`
	Decision   *ir.ConvergeDecision `json:"decision,omitempty"`
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch <module-dir>",
		Short: "Recompile a module whenever its CUE files change",
		Long: `Compile a module, mount one instance, then recompile on every change to
the module's .cue files.

A rebuild with identical digests keeps the generation. Any other rebuild bumps
it, and the instance re-converges in full. Failed builds are reported and the
previous IR stays installed.

Examples:
  logix watch ./modules/cart
  logix watch ./modules/cart --state cart.yaml --db ./logix.db -v`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd.Context(), opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.StatePath, "state", "", "initial state file (JSON or YAML)")
	cmd.Flags().DurationVar(&opts.Debounce, "debounce", 200*time.Millisecond, "quiet period before recompiling")
	cmd.Flags().BoolVar(&opts.DegradeOnConfigError, "degrade-on-config-error", false, "install IRs with configuration errors in degraded mode")
	cmd.Flags().StringVar(&opts.Database, "db", "", "record builds and decisions in this SQLite database")
	cmd.Flags().StringVar(&opts.NATSURL, "nats", "", "publish builds and decisions to this NATS server")
	cmd.Flags().BoolVar(&opts.Metrics, "metrics", false, "record prometheus metrics")

	return cmd
}

func runWatch(ctx context.Context, opts *WatchOptions, dir string, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	formatter := opts.formatter(cmd)
	logger := opts.Logger(cmd.ErrOrStderr())

	cfg, err := opts.Config()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
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
	if opts.DegradeOnConfigError {
		moduleOpts = append(moduleOpts, engine.WithDegradeOnConfigError())
	}
	m, err := engine.NewModule(build.Spec.Name, build.IR, build.Entries, moduleOpts...)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create module", err)
	}

	r, err := newReloader(ctx, dir, m, state, logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to mount instance", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to start watcher", err)
	}
	defer fsw.Close()
	if err := fsw.Add(dir); err != nil {
		return WrapExitError(ExitCommandError, "failed to watch directory", err)
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "Watching %s (generation %d). Press Ctrl-C to stop.\n", dir, m.Generation())
	watchLoop(ctx, fsw.Events, fsw.Errors, opts.Debounce, logger, func() {
		writeReloadEvent(formatter, r.reload(ctx))
		sinks.logMetrics(ctx, logger)
	})
	return nil
}

// reloader recompiles a module directory into a live module.
type reloader struct {
	dir    string
	module *engine.Module
	inst   *engine.Instance
	draft  *engine.MapDraft
	logger *slog.Logger
}

func newReloader(ctx context.Context, dir string, m *engine.Module, state map[string]any, logger *slog.Logger) (*reloader, error) {
	inst, err := m.NewInstance()
	if err != nil {
		return nil, err
	}
	r := &reloader{dir: dir, module: m, inst: inst, draft: engine.NewMapDraft(state), logger: logger}
	inst.Mount(ctx, r.draft)
	return r, nil
}

// reload rebuilds the module. A bumped generation re-converges the instance.
func (r *reloader) reload(ctx context.Context) ReloadEvent {
	ev := ReloadEvent{Module: r.module.Name()}

	build, err := LoadBuild(ctx, r.dir, r.logger)
	if diags := Diagnose(build, err); err != nil {
		ev.Errors = diags
		ev.Generation = r.module.Generation()
		return ev
	}

	bumped, err := r.module.Rebuild(build.IR, build.Entries, build.TrackBy)
	if err != nil {
		ev.Errors = Diagnose(build, nil)
		if len(ev.Errors) == 0 {
			ev.Errors = []Diagnostic{{Code: ErrCodeGeneric, Message: err.Error()}}
		}
		ev.Generation = r.module.Generation()
		return ev
	}

	ev.Bumped = bumped
	ev.Generation = r.module.Generation()
	ev.Steps = len(build.IR.Steps)
	if bumped {
		// The executor notices the new generation and runs a full pass.
		res := r.inst.Converge(ctx, engine.DirtySet{}, r.draft)
		ev.Decision = &res.Decision
	}
	return ev
}

// watchLoop calls reload once per burst of .cue changes, after debounce of
// quiet. It returns when ctx is done or the watcher closes.
func watchLoop(ctx context.Context, events <-chan fsnotify.Event, errs <-chan error, debounce time.Duration, logger *slog.Logger, reload func()) {
	// Stopped until the first change. Reset never delivers a stale tick.
	timer := time.NewTimer(debounce)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-events:
			if !ok {
				return
			}
			if filepath.Ext(event.Name) != ".cue" {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			logger.Debug("file change detected", "event", "fs_change", "path", event.Name, "op", event.Op.String())
			timer.Reset(debounce)

		case err, ok := <-errs:
			if !ok {
				return
			}
			logger.Error("watcher error", "event", "watch_error", "error", err)

		case <-timer.C:
			reload()
		}
	}
}

func writeReloadEvent(f *OutputFormatter, ev ReloadEvent) {
	if f.JSON() {
		if len(ev.Errors) > 0 {
			_ = f.Failure(ev, ev.Errors[0].Code, ev.Errors[0].Message)
			return
		}
		_ = f.Success(ev, nil)
		return
	}
	writeReloadText(f.Writer, ev)
}

func writeReloadText(w io.Writer, ev ReloadEvent) {
	switch {
	case len(ev.Errors) > 0:
		fmt.Fprintf(w, "✗ %s: rebuild failed, keeping generation %d\n", ev.Module, ev.Generation)
		for _, d := range ev.Errors {
			fmt.Fprintf(w, "  %s\n", d)
		}
	case ev.Bumped:
		fmt.Fprintf(w, "↻ %s: generation %d, %d step(s)", ev.Module, ev.Generation, ev.Steps)
		if ev.Decision != nil {
			fmt.Fprintf(w, ", %s", ev.Decision.Outcome)
		}
		fmt.Fprintln(w)
	default:
		fmt.Fprintf(w, "= %s: unchanged, generation %d\n", ev.Module, ev.Generation)
	}
}
