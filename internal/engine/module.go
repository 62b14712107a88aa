package engine

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/yoyooyooo/logix-sub006/internal/ir"
)

// Module owns one compiled trait set: the current plan and the instances
// converging against it.
//
// Thread-safety: Module methods are safe for concurrent use. The plan is
// swapped atomically by Rebuild; each instance picks up the new generation
// on its next invocation.
type Module struct {
	name  string
	opts  options
	plans atomic.Pointer[Plan]
	gen   *Sequence

	mu        sync.Mutex
	instances []*Instance
}

// NewModule builds the shared plan for static.
//
// An IR carrying a configuration error is rejected unless
// WithDegradeOnConfigError is given. A zero static.Generation is stamped 1.
func NewModule(name string, static *ir.ConvergeStaticIr, entries []ir.TraitEntry, opts ...Option) (*Module, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if err := static.Err(); err != nil && !o.degradeOnConfigError {
		return nil, fmt.Errorf("module %s: %w", name, err)
	}

	m := &Module{name: name, opts: o}
	if static.Generation <= 0 {
		m.gen = NewSequenceAt(0)
		static.Generation = m.gen.Next()
	} else {
		m.gen = NewSequenceAt(static.Generation)
	}

	plan, err := NewPlan(static, entries, o.trackBy)
	if err != nil {
		return nil, fmt.Errorf("module %s: %w", name, err)
	}
	m.plans.Store(plan)
	m.observeBuild(static)

	o.logger.Info("module ready",
		"event", "module_ready",
		"module", name,
		"generation", static.Generation,
		"steps", len(static.Steps),
		"field_paths", static.Summary.FieldPathCount,
		"config_error", static.ConfigError != nil,
	)
	return m, nil
}

// observeBuild reports an installed IR to metrics and to a publisher that
// accepts builds. Publish failures are logged, never returned.
func (m *Module) observeBuild(static *ir.ConvergeStaticIr) {
	if m.opts.metrics != nil {
		m.opts.metrics.ObserveBuild(static)
	}
	bp, ok := m.opts.publisher.(BuildPublisher)
	if !ok {
		return
	}
	if err := bp.PublishBuild(context.Background(), static); err != nil {
		m.opts.logger.Warn("publish build failed",
			"event", "publish_failed",
			"module", m.name,
			"generation", static.Generation,
			"error", err,
		)
	}
}

// Name returns the module name.
func (m *Module) Name() string {
	return m.name
}

// Plan returns the current plan.
func (m *Module) Plan() *Plan {
	return m.plans.Load()
}

// IR returns the current static IR.
func (m *Module) IR() *ir.ConvergeStaticIr {
	return m.plans.Load().IR
}

// Generation returns the current generation.
func (m *Module) Generation() int64 {
	return m.plans.Load().IR.Generation
}

// NewInstance creates an instance with its own executor and plan cache.
func (m *Module) NewInstance() (*Instance, error) {
	id := m.opts.ids.Generate()
	exec, err := newExecutor(&m.plans, id, m.opts)
	if err != nil {
		return nil, fmt.Errorf("module %s: new instance: %w", m.name, err)
	}
	inst := &Instance{id: id, module: m, exec: exec}

	m.mu.Lock()
	m.instances = append(m.instances, inst)
	m.mu.Unlock()
	return inst, nil
}

// Instances returns the instances created so far.
func (m *Module) Instances() []*Instance {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Instance, len(m.instances))
	copy(out, m.instances)
	return out
}

// Rebuild installs a recompiled IR.
//
// When static has the same digests as the current IR, the generation is
// kept and only the entries' functions are refreshed; it returns false.
// Otherwise the generation is bumped, which invalidates every instance's
// plan cache on its next invocation, and it returns true.
func (m *Module) Rebuild(static *ir.ConvergeStaticIr, entries []ir.TraitEntry, trackBy map[string]string) (bool, error) {
	if err := static.Err(); err != nil && !m.opts.degradeOnConfigError {
		return false, fmt.Errorf("module %s: rebuild: %w", m.name, err)
	}
	cur := m.plans.Load()

	same := static.SameShape(cur.IR) && static.ConfigError == nil && cur.IR.ConfigError == nil
	if same {
		static.Generation = cur.IR.Generation
	} else {
		static.Generation = m.gen.Next()
	}
	plan, err := NewPlan(static, entries, trackBy)
	if err != nil {
		return false, fmt.Errorf("module %s: rebuild: %w", m.name, err)
	}
	m.plans.Store(plan)
	m.observeBuild(static)

	if same {
		m.opts.logger.Debug("rebuild kept generation",
			"event", "rebuild_noop",
			"module", m.name,
			"generation", static.Generation,
		)
		return false, nil
	}
	m.opts.logger.Info("generation bumped",
		"event", "generation_bumped",
		"module", m.name,
		"from", cur.IR.Generation,
		"to", static.Generation,
		"steps", len(static.Steps),
	)
	return true, nil
}

// Instance is one live copy of a module's state machine.
//
// Thread-safety: an Instance is NOT safe for concurrent use; its
// transactions must be serialized.
type Instance struct {
	id     string
	module *Module
	exec   *Executor
}

// ID returns the instance id.
func (in *Instance) ID() string {
	return in.id
}

// Module returns the owning module.
func (in *Instance) Module() *Module {
	return in.module
}

// Executor returns the instance's executor.
func (in *Instance) Executor() *Executor {
	return in.exec
}

// Converge runs one converge invocation.
func (in *Instance) Converge(ctx context.Context, dirty DirtySet, draft Draft, opts ...CallOption) Result {
	return in.exec.Converge(ctx, dirty, draft, opts...)
}

// Mount converges freshly created state: a full pass that also reports
// mount-triggered sources.
func (in *Instance) Mount(ctx context.Context, draft Draft, opts ...CallOption) Result {
	return in.exec.Converge(ctx, DirtyAll(DirtyAllMount), draft, opts...)
}

// Tick runs due deferred steps.
func (in *Instance) Tick(ctx context.Context, draft Draft, opts ...CallOption) Result {
	return in.exec.Tick(ctx, draft, opts...)
}

// Job is one instance's transaction for ConvergeAll.
type Job struct {
	Instance *Instance
	Dirty    DirtySet
	Draft    Draft
	Options  []CallOption
}

// ConvergeAll converges independent instances concurrently. Results are in
// job order. Jobs must target distinct instances.
//
// The error is non-nil only when ctx is cancelled before every job started.
func ConvergeAll(ctx context.Context, jobs []Job) ([]Result, error) {
	seen := make(map[*Instance]bool, len(jobs))
	for i, job := range jobs {
		if seen[job.Instance] {
			return nil, fmt.Errorf("converge all: job %d reuses instance %s", i, job.Instance.ID())
		}
		seen[job.Instance] = true
	}

	results := make([]Result, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, job := range jobs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = job.Instance.Converge(gctx, job.Dirty, job.Draft, job.Options...)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, fmt.Errorf("converge all: %w", err)
	}
	return results, nil
}
