package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/yoyooyooo/logix-sub006/internal/compiler"
	"github.com/yoyooyooo/logix-sub006/internal/ir"
	"github.com/yoyooyooo/logix-sub006/internal/testutil"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func num(v any) float64 {
	n, ok := ir.AsNumber(v)
	if !ok {
		return 0
	}
	return n
}

func double(deps []any) (any, error) {
	n, ok := ir.AsNumber(deps[0])
	if !ok {
		return nil, fmt.Errorf("not a number: %v", deps[0])
	}
	return int64(n * 2), nil
}

func incr(deps []any) (any, error) {
	return int64(num(deps[0]) + 1), nil
}

func product(deps []any) (any, error) {
	p := 1.0
	for _, d := range deps {
		p *= num(d)
	}
	return int64(p), nil
}

func sum(deps []any) (any, error) {
	total := 0.0
	for _, d := range deps {
		if list, ok := d.([]any); ok {
			for _, v := range list {
				total += num(v)
			}
			continue
		}
		total += num(d)
	}
	return int64(total), nil
}

func nonNegative(deps []any) string {
	if num(deps[0]) < 0 {
		return "must be >= 0"
	}
	return ""
}

// compileDecls normalizes and compiles decls.
func compileDecls(t *testing.T, decls compiler.Declarations) (*ir.ConvergeStaticIr, []ir.TraitEntry) {
	t.Helper()
	entries, err := compiler.Normalize(decls)
	require.NoError(t, err)
	static, err := compiler.CompileConvergeIR(context.Background(), entries, nil, compiler.WithLogger(discard))
	require.NoError(t, err)
	return static, entries
}

// newTestModule builds a module with deterministic ids and a fake clock.
// Later options override the defaults.
func newTestModule(t *testing.T, decls compiler.Declarations, opts ...Option) *Module {
	t.Helper()
	static, entries := compileDecls(t, decls)
	base := []Option{
		WithLogger(discard),
		WithClock(testutil.NewFakeClock()),
		WithIDGenerator(NewCountingGenerator("inst"), NewCountingGenerator("txn")),
		WithTrackBy(compiler.ListIdentities(decls)),
		WithBudget(Unlimited),
	}
	m, err := NewModule("test", static, entries, append(base, opts...)...)
	require.NoError(t, err)
	return m
}

func newTestInstance(t *testing.T, m *Module) *Instance {
	t.Helper()
	inst, err := m.NewInstance()
	require.NoError(t, err)
	return inst
}

// commit applies writes (path, value pairs) in one transaction.
func commit(t *testing.T, inst *Instance, draft Draft, kv ...any) Result {
	t.Helper()
	txn := inst.Begin(draft)
	for i := 0; i+1 < len(kv); i += 2 {
		require.NoError(t, txn.Set(kv[i].(string), kv[i+1]))
	}
	return txn.Commit(context.Background())
}

func idOf(t *testing.T, m *Module, path string) ir.FieldPathID {
	t.Helper()
	id, ok := m.IR().Registry.LookupString(path)
	require.True(t, ok, "path %s not registered", path)
	return id
}

func doublingDecls() compiler.Declarations {
	return compiler.Declarations{
		"b": compiler.Computed{Deps: []string{"a"}, Derive: double},
	}
}

func cartDecls() compiler.Declarations {
	return compiler.Declarations{
		"items": compiler.List{
			TrackBy: "id",
			Item: &compiler.Node{
				Computed: map[string]compiler.Computed{
					"total": {Deps: []string{"price", "qty"}, Derive: product},
				},
				Check: map[string]compiler.CheckRule{
					"qtyPositive": {Deps: []string{"qty"}, Validate: nonNegative},
				},
			},
		},
		"cartTotal": compiler.Computed{Deps: []string{"items[].total"}, Derive: sum},
	}
}

func cartState() map[string]any {
	return map[string]any{
		"items": []any{
			map[string]any{"id": "x", "price": 2, "qty": 1, "total": 2},
			map[string]any{"id": "y", "price": 3, "qty": 1, "total": 3},
		},
		"cartTotal": 5,
	}
}

func get(t *testing.T, d *MapDraft, path string) any {
	t.Helper()
	p, err := ParseConcretePath(path)
	require.NoError(t, err)
	v, _ := d.Get(p)
	return v
}
